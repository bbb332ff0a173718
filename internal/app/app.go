package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"licensetrust/internal/config"
	apierrors "licensetrust/internal/errors"
	"licensetrust/internal/infrastructure"
	"licensetrust/internal/ledger"
	"licensetrust/internal/license"
	mw "licensetrust/internal/middleware"
	"licensetrust/internal/security"
	handlers "licensetrust/internal/transport/http"
	ws "licensetrust/internal/websocket"
)

// AppName is logged at startup.
const AppName = "License Trust Engine"

// Options controls where configuration is loaded from.
type Options struct {
	ConfigFile string
	DotEnv     string
}

// Dependencies replaces built-in components. Nil fields use the defaults
// derived from configuration.
type Dependencies struct {
	Collector security.Collector
	Ledger    ledger.Client
	Clock     license.Clock
}

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Paths         *config.Paths
	Router        chi.Router
	Server        *http.Server
	Engine        *license.Engine
	Scheduler     *license.Scheduler
	WebSocketHub  *ws.Hub
	Audit         license.AuditLog
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders

	db   *sql.DB
	deps Dependencies
}

// NewApplication loads configuration, initializes logging and builds the
// application.
func NewApplication(opts Options) (*Application, error) {
	cfg, err := config.Load(config.LoadOptions{File: opts.ConfigFile, DotEnv: opts.DotEnv})
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.FilePath = paths.LogFile
	logger, err := infrastructure.InitializeLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", config.AppVersion))
	paths.LogPathResolution(logger)

	return New(cfg, paths, logger, Dependencies{})
}

// New wires every component from an already loaded configuration.
func New(cfg *config.Config, paths *config.Paths, logger *slog.Logger, deps Dependencies) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Paths:         paths,
		Logger:        logger,
		OTelProviders: otelProviders,
		deps:          deps,
	}

	if err := a.initializeServices(context.Background()); err != nil {
		_ = a.closeResources(context.Background())
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	if err := a.setupRouter(); err != nil {
		_ = a.closeResources(context.Background())
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}
	a.createServer()
	return a, nil
}

func (a *Application) initializeServices(ctx context.Context) error {
	db, err := license.OpenDatabase(a.Paths.DatabaseFile)
	if err != nil {
		return err
	}
	a.db = db

	secret, err := license.LoadOrCreateSecret(a.Paths.SecretFile)
	if err != nil {
		return err
	}
	sealer, err := license.NewSealer(secret)
	if err != nil {
		return err
	}

	audit := license.MultiAuditLog{license.NewSQLiteAuditLog(db)}
	if a.Paths.AuditFile != "" {
		audit = append(audit, license.NewFileAuditLog(a.Paths.AuditFile))
	}
	a.Audit = audit

	client := a.deps.Ledger
	if client == nil {
		if client, err = a.newLedger(ctx); err != nil {
			return err
		}
	}
	breaker := ledger.NewBreaker(client, ledger.BreakerConfig{
		ConsecutiveFailures: a.Config.Ledger.BreakerFailures,
		OpenTimeout:         a.Config.Ledger.BreakerOpenTimeout,
		CallTimeout:         a.Config.Ledger.Timeout,
	}, a.Logger)

	var codec *license.Codec
	if a.Config.License.PublicKeysFile != "" {
		keys, err := license.EdKeySetFromFile(a.Paths.PublicKeysFile)
		if err != nil {
			return fmt.Errorf("failed to load public keys: %w", err)
		}
		if codec, err = license.NewCodecFromKeySets(keys, nil); err != nil {
			return err
		}
	}

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	collector := a.deps.Collector
	if collector == nil {
		collector = security.NewFingerprintManager()
	}

	a.Engine, err = license.NewEngine(license.Options{
		Store:     license.NewSQLiteStore(db, sealer),
		Ledger:    breaker,
		Collector: collector,
		Audit:     audit,
		Clock:     a.deps.Clock,
		Codec:     codec,
		Policy: license.Policy{
			GracePeriod:      a.Config.License.GracePeriod,
			TamperTolerance:  a.Config.License.TamperTolerance,
			ManualDailyLimit: a.Config.License.ManualDailyLimit,
			ResetLocation:    a.Config.License.ResetLocation(),
			MatchThreshold:   a.Config.License.MatchThreshold,
		},
		Metrics: metrics,
		Logger:  a.Logger,
	})
	if err != nil {
		return err
	}

	a.Scheduler, err = license.NewScheduler(a.Engine, a.Config.License.BackgroundSchedule,
		a.Config.License.ResetTimezone, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to schedule background validation: %w", err)
	}

	hubMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, hubMetrics)
	a.Engine.Subscribe(a.WebSocketHub.PublishStatus)
	return nil
}

// newLedger builds the configured ledger backend.
func (a *Application) newLedger(ctx context.Context) (ledger.Client, error) {
	cfg := a.Config.Ledger
	switch cfg.Kind {
	case config.LedgerSheets:
		creds, err := a.readCredentials()
		if err != nil {
			return nil, err
		}
		return ledger.NewSheetsClient(ctx, ledger.SheetsConfig{
			SpreadsheetID:   cfg.SpreadsheetID,
			SheetName:       cfg.SheetName,
			CredentialsJSON: creds,
		}, a.Logger)
	case config.LedgerHTTP:
		return ledger.NewHTTPClient(ledger.HTTPConfig{
			URL:           cfg.URL,
			APIKey:        cfg.APIKey,
			Retries:       cfg.Retries,
			UserAgent:     config.UserAgent,
			AllowInsecure: cfg.AllowInsecure,
		}, a.Logger)
	case config.LedgerMemory:
		a.Logger.Warn("using in-memory ledger; activations will not persist remotely")
		return ledger.NewMemoryClient(), nil
	default:
		return nil, apierrors.Configuration("unknown ledger kind %q", cfg.Kind)
	}
}

// readCredentials loads the service account JSON, decrypting it when a
// passphrase is configured.
func (a *Application) readCredentials() ([]byte, error) {
	path := a.Paths.CredentialsFile
	if pass := a.Config.Ledger.CredentialsPassphrase; pass != "" {
		data, err := security.ReadEncryptedFile(path, []byte(pass))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt ledger credentials: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger credentials: %w", err)
	}
	return data, nil
}

func (a *Application) setupRouter() error {
	eh := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	otelMW, err := mw.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}

	var limiter *mw.RateLimiter
	if rl := a.Config.Server.RateLimit; rl.Enabled {
		limiter = mw.NewRateLimiter(rl.RPS, rl.Burst, eh, a.Logger)
	}

	var metricsHandler http.Handler
	if a.OTelProviders.PrometheusHTTP != nil {
		metricsHandler = a.OTelProviders.PrometheusHTTP
	}

	a.Router = handlers.NewRouter(handlers.RouterConfig{
		License: handlers.NewLicenseHandler(a.Engine, a.Audit, eh, a.Logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"store": a.db.PingContext,
		}, a.Logger),
		Gate:           mw.NewLicenseGate(a.Engine, eh, a.Logger),
		WebSocket:      ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger),
		Metrics:        metricsHandler,
		OTel:           otelMW,
		RateLimiter:    limiter,
		ErrorHandler:   eh,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		RequestTimeout: a.Config.Server.WriteTimeout,
		Logger:         a.Logger,
	})
	return nil
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Address(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start binds the listener, runs the startup validation, then serves until
// ctx is cancelled or a component fails.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		_ = a.closeResources(ctx)
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}

	res := a.Engine.ValidateStartup(ctx)
	a.Logger.InfoContext(ctx, "startup validation finished",
		slog.String("state", string(res.State)),
		slog.Bool("valid", res.Valid),
		slog.String("message", res.Message))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.WebSocketHub.Run(gctx) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	g.Go(func() error {
		a.Logger.InfoContext(gctx, "server listening", slog.String("address", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Stop(context.WithoutCancel(gctx))
	})
	return g.Wait()
}

// Stop shuts the server down within the configured timeout and releases
// resources.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}
	if err := a.closeResources(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

func (a *Application) closeResources(ctx context.Context) error {
	var errs []error
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := a.Start(ctx)
	_ = infrastructure.CloseLogFile()
	return err
}
