package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/boowebserver/internal/cli"
	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/pkg/config"
	"github.com/marmos91/boowebserver/pkg/dispatcher"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	opts, err := cli.Parse(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch opts.Command {
	case cli.CommandHelp:
		cli.PrintHelp(os.Stdout)
	case cli.CommandVersion:
		fmt.Printf("boowebserver %s\n", version)
	case cli.CommandInit:
		err = runInit(opts)
	case cli.CommandUserAdd:
		err = runUserAdd(opts)
	case cli.CommandStart:
		err = runStart(opts)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit(opts *cli.Options) error {
	path := opts.ConfigPath
	if path == "" {
		written, err := config.InitConfig(opts.Force)
		if err != nil {
			return err
		}
		path = written
	} else if err := config.InitConfigToPath(path, opts.Force); err != nil {
		return err
	}

	fmt.Printf("Configuration written to %s\n", path)
	return nil
}

func runUserAdd(opts *cli.Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	configureLogger(cfg, false)

	ctx := context.Background()
	store, err := config.CreateCredentialStore(ctx, &cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	if store == nil {
		return fmt.Errorf("credentials.type is %q: there is no store to add users to", cfg.Credentials.Type)
	}
	defer func() { _ = store.Close() }()

	if cfg.Credentials.Type == "memory" {
		logger.Warn("The memory credential store is not persistent; the user is lost on exit")
	}

	if err := store.AddUser(ctx, opts.Username, opts.Password); err != nil {
		return fmt.Errorf("failed to add user %q: %w", opts.Username, err)
	}

	fmt.Printf("User '%s' created\n", opts.Username)
	return nil
}

// applyFlags layers command-line options over the loaded configuration.
func applyFlags(cfg *config.Config, opts *cli.Options) error {
	cfg.Server.Address = opts.Address
	cfg.Server.Port = opts.Port
	if opts.Pooled {
		cfg.Server.Mode = string(dispatcher.ModePooled)
		cfg.Server.PoolSize = opts.PoolSize
	}
	if opts.NoTLS {
		cfg.TLS.Enabled = false
	}
	if opts.Verbose {
		cfg.Logging.Level = "DEBUG"
	}
	return config.Validate(cfg)
}

func configureLogger(cfg *config.Config, announce bool) {
	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		logger.Warn("Falling back to stdout: %v", err)
	}
	if announce {
		logger.Info("Log level set to: %s", cfg.Logging.Level)
	}
}

func runStart(opts *cli.Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := applyFlags(cfg, opts); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	configureLogger(cfg, true)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("boowebserver - multithreaded web server")

	metricsResult := config.InitializeMetrics(cfg)
	metricsResult.Start(ctx)
	defer metricsResult.Stop()

	tlsConfig, err := config.CreateTLSConfig(&cfg.TLS)
	if err != nil {
		return err
	}

	src, err := config.CreateAssetSource(ctx, &cfg.Assets)
	if err != nil {
		return fmt.Errorf("failed to create asset source: %w", err)
	}
	defer func() { _ = src.Close() }()

	store, err := config.CreateCredentialStore(ctx, &cfg.Credentials)
	if err != nil {
		return fmt.Errorf("failed to create credential store: %w", err)
	}
	if store != nil {
		defer func() { _ = store.Close() }()
	} else {
		logger.Info("No credential store configured; POST /login serves the login page")
	}

	h := config.CreateHandler(cfg, src, store, metricsResult.Dispatcher)

	d, err := dispatcher.New(config.DispatcherConfig(&cfg.Server, tlsConfig), h, metricsResult.Dispatcher)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	logger.Info("Server configuration:")
	logger.Info("  Address: %s:%d", cfg.Server.Address, cfg.Server.Port)
	logger.Info("  Mode: %s", cfg.Server.Mode)
	if cfg.Server.Mode == string(dispatcher.ModePooled) {
		logger.Info("  Pool size: %d", cfg.Server.PoolSize)
	}
	logger.Info("  TLS: %v", cfg.TLS.Enabled)
	logger.Info("  Assets: %s", cfg.Assets.Type)
	logger.Info("  Credentials: %s", cfg.Credentials.Type)
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- d.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil {
			if errors.Is(err, dispatcher.ErrShutdownTimeout) {
				logger.Warn("Server stopped after force-closing connections")
				return nil
			}
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("Server stopped")
	}

	fmt.Println("Shutting down.")
	return nil
}
