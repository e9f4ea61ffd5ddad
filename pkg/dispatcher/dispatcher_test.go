package dispatcher

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/boowebserver/internal/testutil"
	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/marmos91/boowebserver/pkg/handler"
	"github.com/marmos91/boowebserver/pkg/metrics"
	"github.com/marmos91/boowebserver/pkg/pool"
	"github.com/marmos91/boowebserver/pkg/router"
	"github.com/marmos91/boowebserver/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handlerFunc adapts a function to ConnectionHandler.
type handlerFunc func(ctx context.Context, t transport.Transport)

func (f handlerFunc) Serve(ctx context.Context, t transport.Transport) { f(ctx, t) }

func siteHandler() *handler.Handler {
	src := assets.NewMemory(map[string][]byte{
		"home.html": []byte("<h1>home</h1>"),
		"404.html":  []byte("<h1>404</h1>"),
	})
	return handler.New(handler.Config{}, router.New(router.Config{}), src, nil)
}

type running struct {
	d      *Dispatcher
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, cfg Config, h ConnectionHandler) *running {
	t.Helper()

	cfg.Address = "127.0.0.1"
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}

	d, err := New(cfg, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{d: d, cancel: cancel, errCh: make(chan error, 1)}
	go func() { r.errCh <- d.Serve(ctx) }()

	require.Eventually(t, func() bool { return d.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-r.errCh:
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return r
}

func (r *running) stop(t *testing.T) error {
	t.Helper()
	r.cancel()
	select {
	case err := <-r.errCh:
		r.errCh <- err
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
		return nil
	}
}

func dial(t *testing.T, addr net.Addr, tlsConfig *tls.Config) net.Conn {
	t.Helper()

	if tlsConfig != nil {
		conn, err := tls.Dial("tcp", addr.String(), tlsConfig)
		require.NoError(t, err)
		return conn
	}
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	return conn
}

func roundTrip(t *testing.T, addr net.Addr, tlsConfig *tls.Config, request string) string {
	t.Helper()

	conn := dial(t, addr, tlsConfig)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err := conn.Write([]byte(request))
	require.NoError(t, err)

	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func TestDispatcher_ModesAndTransports(t *testing.T) {
	serverTLS := testutil.ServerTLSConfig(t)

	tests := []struct {
		name string
		mode Mode
		tls  bool
	}{
		{"PooledPlain", ModePooled, false},
		{"PooledTLS", ModePooled, true},
		{"CooperativePlain", ModeCooperative, false},
		{"CooperativeTLS", ModeCooperative, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Mode: tt.mode, PoolSize: 2}
			var clientTLS *tls.Config
			if tt.tls {
				cfg.TLSConfig = serverTLS
				clientTLS = testutil.ClientTLSConfig()
			}
			r := start(t, cfg, siteHandler())

			out := roundTrip(t, r.d.Addr(), clientTLS, "GET / HTTP/1.1\r\n\r\n")
			assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
			assert.True(t, strings.HasSuffix(out, "<h1>home</h1>"), out)

			out = roundTrip(t, r.d.Addr(), clientTLS, "GET /missing HTTP/1.1\r\n\r\n")
			assert.True(t, strings.HasPrefix(out, "HTTP/1.1 404 NOT FOUND\r\n"), out)

			assert.NoError(t, r.stop(t))
		})
	}
}

func TestNew_InvalidPoolSize(t *testing.T) {
	_, err := New(Config{Mode: ModePooled, PoolSize: 0}, siteHandler(), nil)
	assert.ErrorIs(t, err, pool.ErrInvalidPoolSize)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Mode: "threads"}, siteHandler(), nil)
	assert.Error(t, err)

	_, err = New(Config{Port: 70000}, siteHandler(), nil)
	assert.Error(t, err)

	_, err = New(Config{}, nil, nil)
	assert.Error(t, err)
}

// concurrencyProbe records the peak number of simultaneous Serve calls.
type concurrencyProbe struct {
	current atomic.Int32
	peak    atomic.Int32
	hold    time.Duration
}

func (p *concurrencyProbe) Serve(_ context.Context, t transport.Transport) {
	defer t.Close()

	n := p.current.Add(1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(p.hold)
	p.current.Add(-1)

	_, _ = t.Write([]byte("done"))
	_ = t.Flush()
}

func fanOut(t *testing.T, addr net.Addr, clients int) {
	t.Helper()

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr.String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			out, err := io.ReadAll(conn)
			assert.NoError(t, err)
			assert.Equal(t, "done", string(out))
		}()
	}
	wg.Wait()
}

func TestDispatcher_PooledBoundsConcurrency(t *testing.T) {
	probe := &concurrencyProbe{hold: 50 * time.Millisecond}
	r := start(t, Config{Mode: ModePooled, PoolSize: 2}, probe)

	fanOut(t, r.d.Addr(), 8)

	assert.LessOrEqual(t, probe.peak.Load(), int32(2))
	assert.Equal(t, int32(2), probe.peak.Load())
}

func TestDispatcher_CooperativeIsUnbounded(t *testing.T) {
	probe := &concurrencyProbe{hold: 200 * time.Millisecond}
	r := start(t, Config{Mode: ModeCooperative}, probe)

	fanOut(t, r.d.Addr(), 8)

	assert.Equal(t, int32(8), probe.peak.Load())
}

func TestDispatcher_CooperativeMaxConnections(t *testing.T) {
	probe := &concurrencyProbe{hold: 50 * time.Millisecond}
	r := start(t, Config{Mode: ModeCooperative, MaxConnections: 3}, probe)

	fanOut(t, r.d.Addr(), 9)

	assert.LessOrEqual(t, probe.peak.Load(), int32(3))
}

func TestDispatcher_HandshakeFailureDropsOneConnection(t *testing.T) {
	r := start(t, Config{
		Mode:      ModeCooperative,
		TLSConfig: testutil.ServerTLSConfig(t),
	}, siteHandler())

	// A plaintext request against the TLS listener is dropped with no response.
	conn := dial(t, r.d.Addr(), nil)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, _ = conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	out, _ := io.ReadAll(conn)
	_ = conn.Close()
	assert.NotContains(t, string(out), "HTTP/1.1")

	// The server keeps serving TLS clients.
	resp := roundTrip(t, r.d.Addr(), testutil.ClientTLSConfig(), "GET / HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), resp)
}

func TestDispatcher_GracefulShutdownFinishesInFlight(t *testing.T) {
	for _, mode := range []Mode{ModePooled, ModeCooperative} {
		t.Run(string(mode), func(t *testing.T) {
			started := make(chan struct{})
			h := handlerFunc(func(ctx context.Context, tr transport.Transport) {
				defer tr.Close()
				close(started)
				time.Sleep(100 * time.Millisecond)
				_, _ = tr.Write([]byte("finished"))
				_ = tr.Flush()
			})
			r := start(t, Config{Mode: mode, PoolSize: 1}, h)

			conn := dial(t, r.d.Addr(), nil)
			defer conn.Close()
			<-started

			require.NoError(t, r.stop(t))

			require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
			out, err := io.ReadAll(conn)
			require.NoError(t, err)
			assert.Equal(t, "finished", string(out))
			assert.Equal(t, int32(0), r.d.ActiveConnections())

			_, err = net.DialTimeout("tcp", r.d.Addr().String(), 200*time.Millisecond)
			assert.Error(t, err, "listener should be closed")
		})
	}
}

func TestDispatcher_ShutdownTimeoutForceCloses(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	h := handlerFunc(func(ctx context.Context, tr transport.Transport) {
		defer tr.Close()
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	r := start(t, Config{Mode: ModeCooperative, ShutdownTimeout: 50 * time.Millisecond}, h)

	conn := dial(t, r.d.Addr(), nil)
	defer conn.Close()
	<-started

	err := r.stop(t)
	assert.ErrorIs(t, err, ErrShutdownTimeout)

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("handler context was not cancelled")
	}
}

func TestDispatcher_Stop(t *testing.T) {
	r := start(t, Config{Mode: ModePooled, PoolSize: 2}, siteHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.d.Stop(ctx))

	select {
	case err := <-r.errCh:
		assert.NoError(t, err)
		r.errCh <- err
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestDispatcher_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	d, err := New(Config{
		Address:  "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Mode:     ModePooled,
		PoolSize: 1,
	}, siteHandler(), nil)
	require.NoError(t, err)

	assert.Error(t, d.Serve(context.Background()))
}

// flakyListener fails the first failures calls to Accept, then delegates.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Err: syscall.EMFILE}
	}
	return l.Listener.Accept()
}

// acceptErrorCounter counts RecordAcceptError calls and ignores the rest.
type acceptErrorCounter struct {
	metrics.DispatcherMetrics
	acceptErrors atomic.Int32
}

func (c *acceptErrorCounter) RecordAcceptError() { c.acceptErrors.Add(1) }

func TestDispatcher_AcceptErrorDoesNotStopServer(t *testing.T) {
	for _, tc := range []struct {
		name     string
		failures int32
	}{
		{"Single", 1},
		{"Repeated", 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := &acceptErrorCounter{DispatcherMetrics: metrics.NewNoopDispatcherMetrics()}
			d, err := New(Config{Address: "127.0.0.1", ShutdownTimeout: 2 * time.Second}, siteHandler(), m)
			require.NoError(t, err)

			d.listen = func(network, address string) (net.Listener, error) {
				ln, err := net.Listen(network, address)
				if err != nil {
					return nil, err
				}
				fl := &flakyListener{Listener: ln}
				fl.failures.Store(tc.failures)
				return fl, nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() { errCh <- d.Serve(ctx) }()
			require.Eventually(t, func() bool { return d.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

			out := roundTrip(t, d.Addr(), nil, "GET / HTTP/1.1\r\n\r\n")
			assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"), out)
			assert.Equal(t, tc.failures, m.acceptErrors.Load())

			cancel()
			select {
			case err := <-errCh:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("dispatcher did not stop")
			}
		})
	}
}

func TestDispatcher_AcceptBackoffStopsOnShutdown(t *testing.T) {
	d, err := New(Config{Address: "127.0.0.1", ShutdownTimeout: time.Second}, siteHandler(), nil)
	require.NoError(t, err)

	// Accept never succeeds, so the loop sits in its backoff wait.
	d.listen = func(network, address string) (net.Listener, error) {
		ln, err := net.Listen(network, address)
		if err != nil {
			return nil, err
		}
		fl := &flakyListener{Listener: ln}
		fl.failures.Store(1 << 30)
		return fl, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Serve(ctx) }()
	require.Eventually(t, func() bool { return d.Addr() != nil }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not stop while backing off")
	}
}
