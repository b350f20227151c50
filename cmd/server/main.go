// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/bridge"
	"github.com/albireox/lvm-spec-pressure/internal/config"
	"github.com/albireox/lvm-spec-pressure/internal/handler"
	"github.com/albireox/lvm-spec-pressure/internal/routes"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Application represents the main application
type Application struct {
	spec   string
	config *config.Config
	logger *zap.Logger

	eventBus *handler.EventBus
	manager  *bridge.Manager
	router   *routes.Router
	server   *http.Server
}

func main() {
	flags := pflag.NewFlagSet("lvm-spec-pressure", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to the configuration file")
	flags.BoolP("debug", "d", false, "log at debug level and to the rotating log file")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lvm-spec-pressure [--config FILE] [--debug] SPEC\n\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	app, err := NewApplication(flags.Arg(0), *configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Error("Failed to start application", zap.Error(err))
		app.shutdown("startup failed")
		os.Exit(1)
	}

	app.waitForShutdown()
}

// NewApplication creates a new application instance for one spectrograph
func NewApplication(spec, configFile string, flags *pflag.FlagSet) (*Application, error) {
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &Application{
		spec:   spec,
		config: cfg,
		logger: logger,
	}

	app.initializeEventBus()

	if err := app.initializeBridges(); err != nil {
		return nil, fmt.Errorf("failed to initialize bridges: %w", err)
	}

	if cfg.Status.Enabled {
		app.initializeServer()
	}

	return app, nil
}

// initializeEventBus starts distributing bridge events
func (app *Application) initializeEventBus() {
	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()
}

// initializeBridges creates one bridge per camera of the spectrograph
func (app *Application) initializeBridges() error {
	manager, err := bridge.NewManager(app.spec, app.config, bridge.SerialLinkFactory, app.logger, app.eventBus)
	if err != nil {
		return err
	}
	app.manager = manager

	app.logger.Info("Bridges initialized",
		zap.String("spec", app.spec),
		zap.Int("bridges", len(manager.Servers())),
	)
	return nil
}

// initializeServer sets up the HTTP status server
func (app *Application) initializeServer() {
	app.router = routes.NewRouter(app.config, app.logger, app.manager, app.eventBus)

	app.server = &http.Server{
		Addr:         app.config.GetStatusAddr(),
		Handler:      app.router.SetupRouter(),
		ReadTimeout:  app.config.Status.ReadTimeout,
		WriteTimeout: app.config.Status.WriteTimeout,
	}

	app.logger.Info("Status server initialized",
		zap.String("address", app.config.GetStatusAddr()),
	)
}

// Start starts every bridge and, when enabled, the status server
func (app *Application) Start() error {
	cameras, _ := app.config.Cameras(app.spec)
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStart(app.config.App.Version, app.spec, cameras)

	if err := app.manager.Start(context.Background()); err != nil {
		return err
	}

	if app.server != nil {
		go func() {
			app.logger.Info("Starting status server", zap.String("address", app.server.Addr))

			if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	return nil
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown("shutdown signal received")
}

// shutdown stops the bridges and the status server
func (app *Application) shutdown(reason string) {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop(reason)

	if err := app.manager.Stop(); err != nil {
		app.logger.Error("Bridge shutdown error", zap.Error(err))
	} else {
		app.logger.Info("Bridges stopped")
	}

	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("Status server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("Status server stopped")
		}
		app.router.Close()
	}

	app.eventBus.Close()

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		fmt.Fprintf(os.Stderr, "Logger close error: %v\n", err)
	}
}
