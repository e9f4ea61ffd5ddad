// Package dispatcher accepts TCP connections and hands each one to a
// connection handler using one of two concurrency strategies.
//
// Pooled mode submits every connection as a Job to a fixed-size worker pool.
// Cooperative mode starts one goroutine per connection with no upper bound.
// Either mode can run behind a TLS handshake.
package dispatcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/internal/ratelimiter"
	"github.com/marmos91/boowebserver/pkg/metrics"
	"github.com/marmos91/boowebserver/pkg/pool"
	"github.com/marmos91/boowebserver/pkg/transport"
)

// Mode is the concurrency strategy, chosen once at startup.
type Mode string

const (
	// ModePooled runs connections on a bounded worker pool.
	ModePooled Mode = "pooled"

	// ModeCooperative runs one goroutine per connection.
	ModeCooperative Mode = "cooperative"
)

// Accept error backoff bounds. A run of failed accepts (e.g. EMFILE) waits
// between retries, doubling from minAcceptBackoff up to maxAcceptBackoff.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ErrShutdownTimeout is returned by Serve when connections had to be
// force-closed.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// ConnectionHandler runs the full exchange on one transport and closes it.
type ConnectionHandler interface {
	Serve(ctx context.Context, t transport.Transport)
}

// Config holds dispatcher settings.
//
// Default values (applied by New if zero):
//   - Mode: cooperative
//   - QueueDepth: PoolSize*64 (pooled mode)
//   - ShutdownTimeout: 30s
//
// PoolSize has no default: pooled mode with PoolSize 0 fails.
type Config struct {
	// Address is the IP address to bind. Empty binds all interfaces.
	Address string

	// Port is the TCP port to bind. 0 picks an ephemeral port.
	Port int

	// Mode selects pooled or cooperative handling.
	Mode Mode

	// PoolSize is the number of workers in pooled mode.
	PoolSize int

	// QueueDepth bounds the pooled-mode job queue. When the queue is full the
	// accept loop blocks until a worker frees a slot.
	QueueDepth int

	// MaxConnections caps concurrent connections in cooperative mode.
	// 0 means unlimited.
	MaxConnections int

	// TLSConfig enables TLS when non-nil. The handshake runs inside the
	// connection's job or goroutine, never on the accept loop.
	TLSConfig *tls.Config

	// MaxAcceptRate limits new connections per second. 0 disables.
	MaxAcceptRate float64

	// AcceptBurst is the burst allowed above MaxAcceptRate.
	AcceptBurst int

	// ShutdownTimeout bounds how long Serve waits for in-flight connections
	// after shutdown begins before force-closing them.
	ShutdownTimeout time.Duration

	// MetricsLogInterval is how often to log the active connection count.
	// 0 disables.
	MetricsLogInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeCooperative
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Mode != ModePooled && c.Mode != ModeCooperative {
		return fmt.Errorf("invalid mode %q: must be %q or %q", c.Mode, ModePooled, ModeCooperative)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// Dispatcher owns the listener and the chosen concurrency strategy.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Listener closed (no new connections)
//  3. Wait for in-flight connections to finish (up to ShutdownTimeout)
//  4. On timeout, cancel the request context and force-close what remains
//  5. In pooled mode, drain and join the worker pool
//
// Thread safety:
// All methods are safe for concurrent use. Serve must be called once.
type Dispatcher struct {
	config  Config
	handler ConnectionHandler
	metrics metrics.DispatcherMetrics

	// pool is nil in cooperative mode
	pool *pool.Pool

	// throttle is nil when accept rate limiting is disabled
	throttle *ratelimiter.AcceptThrottle

	// connSemaphore limits concurrent connections in cooperative mode;
	// nil when MaxConnections is 0
	connSemaphore chan struct{}

	// listen binds the listener; net.Listen outside tests
	listen func(network, address string) (net.Listener, error)

	mu       sync.Mutex
	listener net.Listener

	// acceptCtx is cancelled when shutdown begins; it gates the accept loop
	// and pool submission only
	shutdownOnce sync.Once
	acceptCtx    context.Context
	stopAccept   context.CancelFunc

	// requestCtx is handed to every connection and cancelled only when
	// shutdown gives up waiting
	requestCtx     context.Context
	cancelRequests context.CancelFunc

	activeConns       sync.WaitGroup
	connCount         atomic.Int32
	nextConnID        atomic.Uint64
	activeConnections sync.Map
}

// New creates a stopped dispatcher. In pooled mode the worker pool is created
// here, so a zero pool size fails with pool.ErrInvalidPoolSize.
//
// Parameters:
//   - config: listener, strategy and shutdown settings
//   - handler: runs each connection's exchange
//   - m: optional metrics (nil for no-op). If m also implements pool.Observer
//     it receives pool events in pooled mode.
func New(config Config, handler ConnectionHandler, m metrics.DispatcherMetrics) (*Dispatcher, error) {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid dispatcher config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("dispatcher requires a connection handler")
	}
	if m == nil {
		m = metrics.NewNoopDispatcherMetrics()
	}

	d := &Dispatcher{
		config:   config,
		handler:  handler,
		metrics:  m,
		throttle: ratelimiter.New(config.MaxAcceptRate, config.AcceptBurst),
		listen:   net.Listen,
	}
	d.acceptCtx, d.stopAccept = context.WithCancel(context.Background())
	d.requestCtx, d.cancelRequests = context.WithCancel(context.Background())

	switch config.Mode {
	case ModePooled:
		opts := []pool.Option{pool.WithQueueDepth(config.QueueDepth)}
		if obs, ok := m.(pool.Observer); ok {
			opts = append(opts, pool.WithObserver(obs))
		}
		p, err := pool.New(config.PoolSize, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		d.pool = p

	case ModeCooperative:
		if config.MaxConnections > 0 {
			d.connSemaphore = make(chan struct{}, config.MaxConnections)
		}
	}

	return d, nil
}

// Serve binds the listener and accepts connections until ctx is cancelled or
// Stop is called.
//
// A failed accept is logged and the loop continues. Errors inside a
// connection stay inside that connection's job or goroutine.
//
// Returns:
//   - nil after a graceful shutdown
//   - ErrShutdownTimeout (wrapped) if connections had to be force-closed
//   - error if the listener cannot be bound
func (d *Dispatcher) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(d.config.Address, strconv.Itoa(d.config.Port))
	listener, err := d.listen("tcp", addr)
	if err != nil {
		if d.pool != nil {
			d.pool.Shutdown()
		}
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	select {
	case <-d.acceptCtx.Done():
		// Stop raced ahead of Serve
		_ = listener.Close()
		return d.gracefulShutdown()
	default:
	}

	logger.Info("Listening on %s (mode=%s, tls=%v)", listener.Addr(), d.config.Mode, d.config.TLSConfig != nil)
	if d.pool != nil {
		logger.Debug("Worker pool: size=%d", d.pool.Size())
	}

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received: %v", ctx.Err())
			d.initiateShutdown()
		case <-d.acceptCtx.Done():
		}
	}()

	if d.config.MetricsLogInterval > 0 {
		go d.logMetrics()
	}

	var backoff time.Duration
	for {
		if err := d.throttle.Wait(d.acceptCtx); err != nil {
			return d.gracefulShutdown()
		}

		if d.connSemaphore != nil {
			select {
			case d.connSemaphore <- struct{}{}:
			case <-d.acceptCtx.Done():
				return d.gracefulShutdown()
			}
		}

		conn, err := listener.Accept()
		if err != nil {
			if d.connSemaphore != nil {
				<-d.connSemaphore
			}

			select {
			case <-d.acceptCtx.Done():
				return d.gracefulShutdown()
			default:
			}

			d.metrics.RecordAcceptError()
			if backoff == 0 {
				backoff = minAcceptBackoff
				logger.Warn("Error accepting connection: %v", err)
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
				logger.Debug("Error accepting connection (retrying in %v): %v", backoff, err)
			}

			select {
			case <-time.After(backoff):
			case <-d.acceptCtx.Done():
				return d.gracefulShutdown()
			}
			continue
		}

		backoff = 0
		d.dispatch(conn)
	}
}

// dispatch registers conn and hands it to the pool or a new goroutine.
func (d *Dispatcher) dispatch(conn net.Conn) {
	id := d.nextConnID.Add(1)
	d.activeConnections.Store(id, conn)
	d.activeConns.Add(1)
	current := d.connCount.Add(1)

	d.metrics.RecordConnectionAccepted(d.transportKind().String())
	d.metrics.SetActiveConnections(current)
	logger.Debug("Connection accepted from %s (active: %d)", conn.RemoteAddr(), current)

	task := func() {
		defer d.release(id, conn)
		d.serveConn(conn)
	}

	if d.pool == nil {
		go task()
		return
	}

	// Blocks while the queue is full; that is the accept loop's backpressure.
	if err := d.pool.SubmitContext(d.acceptCtx, task); err != nil {
		logger.Warn("Dropping connection from %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		d.release(id, conn)
	}
}

func (d *Dispatcher) release(id uint64, conn net.Conn) {
	d.activeConnections.Delete(id)
	if d.connSemaphore != nil {
		<-d.connSemaphore
	}

	current := d.connCount.Add(-1)
	d.metrics.RecordConnectionClosed()
	d.metrics.SetActiveConnections(current)
	logger.Debug("Connection closed from %s (active: %d)", conn.RemoteAddr(), current)

	d.activeConns.Done()
}

// serveConn performs the optional handshake and runs the handler.
func (d *Dispatcher) serveConn(conn net.Conn) {
	var t transport.Transport

	if d.config.TLSConfig != nil {
		tlsTransport, err := transport.Handshake(d.requestCtx, conn, d.config.TLSConfig)
		if err != nil {
			logger.Warn("Dropping connection: %v", err)
			d.metrics.RecordHandshakeFailure()
			return
		}
		t = tlsTransport
	} else {
		t = transport.NewPlain(conn)
	}

	d.handler.Serve(d.requestCtx, t)
}

func (d *Dispatcher) transportKind() transport.Kind {
	if d.config.TLSConfig != nil {
		return transport.KindTLS
	}
	return transport.KindPlain
}

// initiateShutdown stops the accept loop and closes the listener. Safe to
// call multiple times.
func (d *Dispatcher) initiateShutdown() {
	d.shutdownOnce.Do(func() {
		logger.Debug("Dispatcher shutdown initiated")
		d.stopAccept()

		d.mu.Lock()
		defer d.mu.Unlock()
		if d.listener != nil {
			if err := d.listener.Close(); err != nil {
				logger.Debug("Error closing listener: %v", err)
			}
		}
	})
}

// gracefulShutdown waits for in-flight connections up to ShutdownTimeout,
// force-closes the rest, then joins the worker pool.
func (d *Dispatcher) gracefulShutdown() error {
	d.initiateShutdown()

	logger.Info("Graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		d.connCount.Load(), d.config.ShutdownTimeout)

	var result error
	select {
	case <-d.drained():
		logger.Info("Graceful shutdown complete: all connections closed")

	case <-time.After(d.config.ShutdownTimeout):
		remaining := d.connCount.Load()
		logger.Warn("Shutdown timeout exceeded: %d connection(s) still active after %v - forcing closure",
			remaining, d.config.ShutdownTimeout)
		d.forceCloseConnections()
		result = fmt.Errorf("%w: %d connection(s) force-closed", ErrShutdownTimeout, remaining)
	}

	if d.pool != nil {
		d.pool.Shutdown()
		logger.Debug("Worker pool stopped")
	}
	d.cancelRequests()

	return result
}

// drained closes once every tracked connection has been released.
func (d *Dispatcher) drained() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		d.activeConns.Wait()
		close(done)
	}()
	return done
}

// forceCloseConnections cancels in-flight requests and closes every tracked
// socket so blocked reads and writes fail.
func (d *Dispatcher) forceCloseConnections() {
	d.cancelRequests()

	closed := 0
	d.activeConnections.Range(func(_, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", conn.RemoteAddr(), err)
		} else {
			closed++
			d.metrics.RecordConnectionForceClosed()
		}
		return true
	})

	if closed > 0 {
		logger.Info("Force-closed %d connection(s)", closed)
	}
}

// Stop initiates shutdown and waits for in-flight connections until ctx is
// done, after which the remaining connections are force-closed.
//
// Returns nil if every connection finished, or ctx.Err() otherwise.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.initiateShutdown()

	var result error
	select {
	case <-d.drained():
	case <-ctx.Done():
		logger.Warn("Stop: %d connection(s) still active: %v", d.connCount.Load(), ctx.Err())
		d.forceCloseConnections()
		result = ctx.Err()
	}

	if d.pool != nil {
		d.pool.Shutdown()
	}
	return result
}

func (d *Dispatcher) logMetrics() {
	ticker := time.NewTicker(d.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.acceptCtx.Done():
			return
		case <-ticker.C:
			if d.pool != nil {
				logger.Info("Dispatcher metrics: active_connections=%d busy_workers=%d queued_jobs=%d",
					d.connCount.Load(), d.pool.Active(), d.pool.Pending())
			} else {
				logger.Info("Dispatcher metrics: active_connections=%d", d.connCount.Load())
			}
		}
	}
}

// Addr returns the bound listener address, or nil before Serve has bound it.
func (d *Dispatcher) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// ActiveConnections returns the number of connections currently tracked.
func (d *Dispatcher) ActiveConnections() int32 {
	return d.connCount.Load()
}

// Mode returns the concurrency strategy in use.
func (d *Dispatcher) Mode() Mode {
	return d.config.Mode
}
