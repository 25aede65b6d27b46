package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"dbmcp/internal/config"
	"dbmcp/pkg/logging"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests and
// open push streams to drain.
const shutdownTimeout = 5 * time.Second

// Application bootstraps and runs a dbmcp instance.
//
// Initialization follows a two-phase pattern:
//  1. Bootstrap phase: initialize logging, load and validate
//     configuration, build services (database, protocol handler,
//     transport).
//  2. Execution phase: serve until the context is canceled, then shut
//     down gracefully.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication performs the bootstrap phase. Logging comes up first so
// configuration problems are reported through it; the configured log level
// applies afterwards unless --debug pinned the level.
//
// The context bounds blocking setup work such as authorization-server
// discovery; it is not retained.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	logLevel := logging.LevelInfo
	if cfg.Debug {
		logLevel = logging.LevelDebug
	}
	var logOutput io.Writer = os.Stdout
	if cfg.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(logLevel, logOutput)

	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load configuration")
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	cfg.Overrides.Apply(&fileCfg)
	if err := fileCfg.Validate(); err != nil {
		logging.Error("Bootstrap", err, "Invalid configuration")
		return nil, err
	}
	cfg.File = &fileCfg

	if !cfg.Debug {
		if level, err := logging.ParseLevel(fileCfg.Logging.Level); err == nil && level != logLevel {
			logging.InitForCLI(level, logOutput)
		}
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("initializing services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
	}, nil
}

// Run executes the application: it starts the transport, blocks until the
// context is canceled, then stops the transport (closing live sessions
// and streams) and closes the database.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		if err := a.services.DB.Close(); err != nil {
			logging.Error("Bootstrap", err, "Failed to close database")
		}
	}()

	if err := a.services.Transport.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	logging.Info("Bootstrap", "dbmcp ready on %s (%s mode)",
		a.services.Transport.Addr(), a.config.File.Transport.Mode)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Serve errors short of a failed bind are logged by the transport;
		// this task exists to block until shutdown is requested.
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	logging.Info("Bootstrap", "Shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if stopErr := a.services.Transport.Stop(stopCtx); stopErr != nil {
		logging.Error("Bootstrap", stopErr, "Transport did not stop cleanly")
		if err == nil {
			err = stopErr
		}
	}
	return err
}
