package framework

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/internal/testutil"
	"github.com/marmos91/boowebserver/pkg/config"
	"github.com/marmos91/boowebserver/pkg/credentials"
	"github.com/marmos91/boowebserver/pkg/dispatcher"
	"github.com/marmos91/boowebserver/pkg/metrics"
)

// Pages are the asset contents every test server serves, keyed by file name.
var Pages = map[string][]byte{
	"home.html":   []byte("<h1>home</h1>"),
	"404.html":    []byte("<h1>not found</h1>"),
	"401.html":    []byte("<h1>unauthorized</h1>"),
	"login.html":  []byte("<form id=\"login\"></form>"),
	"favicon.ico": {0x00, 0x00, 0x01, 0x00, 0x01, 0x00},
}

// TestServerConfig holds configuration for the test server.
// This is distinct from pkg/config.ServerConfig: it only exposes the knobs the
// end-to-end tests vary and fills in the rest.
type TestServerConfig struct {
	Mode     dispatcher.Mode
	PoolSize int
	TLS      bool

	// Credentials is passed through to config.CreateCredentialStore. Empty
	// Type means "memory" seeded with Users.
	Credentials config.CredentialsConfig
	Users       map[string]string

	SlowDelay       time.Duration
	ShutdownTimeout time.Duration
	SecurityHeaders bool

	// Metrics receives dispatcher metrics. Nil uses the no-op implementation.
	Metrics metrics.DispatcherMetrics

	LogLevel       string
	StartupTimeout time.Duration
}

// TestServer wraps a fully wired boowebserver for testing.
type TestServer struct {
	t          testing.TB
	config     TestServerConfig
	cfg        *config.Config
	dispatcher *dispatcher.Dispatcher
	store      credentials.Store
	clientTLS  *tls.Config
	ctx        context.Context
	cancel     context.CancelFunc
	serveErr   chan error
	started    bool
	mu         sync.Mutex
}

// NewTestServer creates a new test server instance. The asset directory and,
// for TLS, the certificate files live in a per-test temporary directory.
func NewTestServer(t testing.TB, ts TestServerConfig) *TestServer {
	t.Helper()

	if ts.Mode == "" {
		ts.Mode = dispatcher.ModeCooperative
	}
	if ts.Mode == dispatcher.ModePooled && ts.PoolSize == 0 {
		ts.PoolSize = 4
	}
	if ts.LogLevel == "" {
		ts.LogLevel = "ERROR" // Keep tests quiet by default
	}
	if ts.StartupTimeout == 0 {
		ts.StartupTimeout = 10 * time.Second
	}
	if ts.ShutdownTimeout == 0 {
		ts.ShutdownTimeout = 5 * time.Second
	}

	tempDir := t.TempDir()
	assetDir := filepath.Join(tempDir, "html")
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		t.Fatalf("Failed to create asset directory: %v", err)
	}
	for name, data := range Pages {
		if err := os.WriteFile(filepath.Join(assetDir, name), data, 0644); err != nil {
			t.Fatalf("Failed to write asset %s: %v", name, err)
		}
	}

	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = ts.LogLevel
	cfg.Server.Port = 0
	cfg.Server.Mode = string(ts.Mode)
	cfg.Server.PoolSize = ts.PoolSize
	cfg.Server.ShutdownTimeout = ts.ShutdownTimeout
	cfg.Server.SecurityHeaders = ts.SecurityHeaders
	if ts.SlowDelay > 0 {
		cfg.Server.SlowDelay = ts.SlowDelay
	}
	cfg.Assets.Filesystem["root"] = assetDir

	cfg.TLS.Enabled = ts.TLS
	var clientTLS *tls.Config
	if ts.TLS {
		cfg.TLS.CertFile, cfg.TLS.KeyFile = testutil.WriteCertFiles(t, tempDir)
		clientTLS = testutil.ClientTLSConfig()
	}

	if ts.Credentials.Type != "" {
		cfg.Credentials = ts.Credentials
	} else {
		users := make(map[string]any, len(ts.Users))
		for name, pwd := range ts.Users {
			users[name] = pwd
		}
		cfg.Credentials.Type = "memory"
		cfg.Credentials.Memory = map[string]any{"users": users, "cost": 4}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &TestServer{
		t:         t,
		config:    ts,
		cfg:       cfg,
		clientTLS: clientTLS,
		ctx:       ctx,
		cancel:    cancel,
		serveErr:  make(chan error, 1),
	}
}

// Start wires the server from its configuration and starts accepting.
func (ts *TestServer) Start() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.started {
		return fmt.Errorf("server already started")
	}

	ts.t.Helper()

	logger.SetLevel(ts.config.LogLevel)

	tlsConfig, err := config.CreateTLSConfig(&ts.cfg.TLS)
	if err != nil {
		return err
	}

	src, err := config.CreateAssetSource(ts.ctx, &ts.cfg.Assets)
	if err != nil {
		return fmt.Errorf("failed to create asset source: %w", err)
	}

	ts.store, err = config.CreateCredentialStore(ts.ctx, &ts.cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}

	m := ts.config.Metrics
	if m == nil {
		m = metrics.NewNoopDispatcherMetrics()
	}

	var validator credentials.Validator
	if ts.store != nil {
		validator = ts.store
	}
	h := config.CreateHandler(ts.cfg, src, validator, m)

	ts.dispatcher, err = dispatcher.New(config.DispatcherConfig(&ts.cfg.Server, tlsConfig), h, m)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	go func() {
		ts.serveErr <- ts.dispatcher.Serve(ts.ctx)
	}()

	if err := ts.waitForServer(); err != nil {
		ts.cancel()
		return fmt.Errorf("server failed to start: %w", err)
	}

	ts.started = true
	ts.t.Logf("Server started successfully on %s (%s, tls=%v)", ts.dispatcher.Addr(), ts.config.Mode, ts.config.TLS)
	return nil
}

// Stop cancels the server context and waits for Serve to return. The error
// is whatever Serve returned, e.g. dispatcher.ErrShutdownTimeout.
func (ts *TestServer) Stop() error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if !ts.started {
		return nil
	}
	ts.started = false

	ts.cancel()

	var serveErr error
	select {
	case serveErr = <-ts.serveErr:
	case <-time.After(ts.config.ShutdownTimeout + 5*time.Second):
		serveErr = errors.New("server stop timeout")
	}

	if ts.store != nil {
		if err := ts.store.Close(); err != nil {
			ts.t.Logf("Warning: failed to close credential store: %v", err)
		}
	}
	return serveErr
}

// Addr returns the address the server is listening on.
func (ts *TestServer) Addr() string {
	return ts.dispatcher.Addr().String()
}

// Dispatcher returns the running dispatcher.
func (ts *TestServer) Dispatcher() *dispatcher.Dispatcher {
	return ts.dispatcher
}

// Store returns the credential store, or nil for credentials type "none".
func (ts *TestServer) Store() credentials.Store {
	return ts.store
}

// Client returns a client for this server, speaking TLS when the server does.
func (ts *TestServer) Client() *Client {
	return &Client{Addr: ts.Addr(), TLS: ts.clientTLS, Timeout: 10 * time.Second}
}

// waitForServer waits for the listener to be bound. It does not dial: a probe
// connection would show up in the dispatcher's metrics as a dropped request.
func (ts *TestServer) waitForServer() error {
	deadline := time.Now().Add(ts.config.StartupTimeout)
	for time.Now().Before(deadline) {
		if ts.dispatcher.Addr() != nil {
			return nil
		}
		select {
		case err := <-ts.serveErr:
			return err
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for server to start")
}
