package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/interlock-labs/conduit/pkg/allowlist"
	"github.com/interlock-labs/conduit/pkg/api"
	"github.com/interlock-labs/conduit/pkg/audit"
	"github.com/interlock-labs/conduit/pkg/authz"
	"github.com/interlock-labs/conduit/pkg/config"
	"github.com/interlock-labs/conduit/pkg/connectors"
	"github.com/interlock-labs/conduit/pkg/executions"
	"github.com/interlock-labs/conduit/pkg/facade"
	"github.com/interlock-labs/conduit/pkg/metadata"
	"github.com/interlock-labs/conduit/pkg/oauth"
	"github.com/interlock-labs/conduit/pkg/observability"
	"github.com/interlock-labs/conduit/pkg/options"
	"github.com/interlock-labs/conduit/pkg/ratelimit"
	"github.com/interlock-labs/conduit/pkg/workflows"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    "conduit",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       cfg.Environment != "production",
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	registry, err := connectors.NewRegistry(Version)
	if err != nil {
		registry, _ = connectors.NewRegistry("1.0.0")
	}
	if entries, err := connectors.LoadCatalogDir(cfg.CatalogDir); err != nil {
		logger.Warn("connector catalog not loaded", "dir", cfg.CatalogDir, "error", err)
	} else if err := registry.RegisterAll(entries); err != nil {
		return err
	}
	logger.Info("connector registry ready", "connectors", len(registry.IDs()))

	governorOpts := []ratelimit.Option{}
	if sink, err := observability.NewGovernorSink(telemetry); err == nil {
		governorOpts = append(governorOpts, ratelimit.WithMetrics(sink))
	}
	governor := ratelimit.NewGovernor(governorOpts...)

	gate := allowlist.NewGate(audit.NewSlogSink(logger))
	refresher := oauth.NewManager()

	connStore := facade.NewMemoryConnections()
	factory := facade.NewFactory(facade.FactoryConfig{
		Registry:  registry,
		Lookup:    connStore.Lookup,
		Gate:      gate,
		Governor:  governor,
		Refresher: refresher,
		Logger:    logger,
	})

	var optionsCache options.Cache = options.NewMemoryCache()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to memory cache", "error", err)
		} else {
			optionsCache = options.NewRedisCache(client, logger)
			logger.Info("options cache: redis", "addr", cfg.RedisAddr)
		}
	}
	optionsService := options.NewService(
		registry.OptionConfig, factory.ProviderResolver(), optionsCache, logger)

	metadataService := metadata.NewService(factory.MetadataClientFactory(), logger)

	var db *sql.DB
	var execStore executions.Store = executions.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		driver := "postgres"
		if strings.HasPrefix(cfg.DatabaseURL, "file:") || strings.HasSuffix(cfg.DatabaseURL, ".db") {
			driver = "sqlite"
		}
		db, err = sql.Open(driver, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		sqlStore := executions.NewSQLStore(db)
		if err := sqlStore.Migrate(ctx); err != nil {
			return err
		}
		execStore = sqlStore
		logger.Info("execution store: sql", "driver", driver)
	}

	// Public surface: health, OAuth redirect targets, connector catalog.
	public := http.NewServeMux()
	oauth.NewHandler(oauthProviders(), cfg.PublicURL).RegisterRoutes(public)
	connectors.NewHandler(registry).RegisterRoutes(public)
	registerHealthRoutes(public, db)

	// Everything else requires a bearer token.
	protected := http.NewServeMux()
	metadata.NewHandler(metadataService, connStore.CredentialsLookup).RegisterRoutes(protected)
	options.NewHandler(optionsService).RegisterRoutes(protected)
	executions.NewHandler(execStore).RegisterRoutes(protected)
	workflows.NewHandler(workflows.NewVersionStore()).RegisterRoutes(protected)
	facade.NewHandler(factory, execStore, telemetry).RegisterRoutes(protected)

	var idemStore api.IdempotencyStorer
	if db != nil {
		idemStore = api.NewPostgresIdempotencyStore(db, 24*time.Hour)
	} else {
		idemStore = api.NewIdempotencyStore(24 * time.Hour)
	}

	if pg, ok := idemStore.(*api.PostgresIdempotencyStore); ok && cfg.InlineWorker {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pg.Cleanup()
				}
			}
		}()
	}

	authed := authz.Middleware(authz.NewVerifier([]byte(cfg.JWTSecret)))(
		api.IdempotencyMiddleware(idemStore)(protected))

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := public.Handler(r); pattern != "" {
			public.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})

	var handler http.Handler = root
	handler = api.NewGlobalRateLimiter(100, 200).Middleware(handler)
	handler = api.RequestID(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Port, "environment", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// oauthProviders builds the provider table from conventional env vars.
// Providers without a client id are left unregistered.
func oauthProviders() map[string]oauth.ProviderConfig {
	providers := map[string]oauth.ProviderConfig{}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		providers["google"] = oauth.ProviderConfig{
			AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
			ClientID:     id,
			Scopes: []string{
				"https://www.googleapis.com/auth/spreadsheets",
				"https://www.googleapis.com/auth/gmail.modify",
			},
			ExtraParams: map[string]string{"access_type": "offline", "prompt": "consent"},
		}
	}
	if id := os.Getenv("SLACK_CLIENT_ID"); id != "" {
		providers["slack"] = oauth.ProviderConfig{
			AuthorizeURL: "https://slack.com/oauth/v2/authorize",
			ClientID:     id,
			Scopes:       []string{"chat:write", "channels:read"},
		}
	}
	if id := os.Getenv("HUBSPOT_CLIENT_ID"); id != "" {
		providers["hubspot"] = oauth.ProviderConfig{
			AuthorizeURL: "https://app.hubspot.com/oauth/authorize",
			ClientID:     id,
			Scopes:       []string{"crm.objects.contacts.read", "crm.objects.contacts.write"},
		}
	}
	return providers
}
