package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/orderledger/internal/di"
	"github.com/hanko-field/orderledger/internal/handlers"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/idempotency"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	"github.com/hanko-field/orderledger/internal/platform/secrets"
	"github.com/hanko-field/orderledger/internal/services"
)

const metricsNamespace = "orderledger"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg,
		di.WithLogger(baseLogger.Named("ledger")),
		di.WithBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
	)
	if err != nil {
		logger.Fatal("failed to initialise ledger", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("ledger close error", zap.Error(err))
		}
	}()

	idempotencyLogger := logger.Named("idempotency")
	var idempotencyStore idempotency.Store
	if container.DB != nil {
		store, err := idempotency.NewPostgresStore(container.DB)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = store
	} else {
		idempotencyStore = idempotency.NewMemoryStore()
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotencyLogger),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.NewSweeper(idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, idempotencyLogger).Run(cleanupCtx)
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	metrics := observability.NewHTTPMetrics(metricsNamespace)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLogger(baseLogger),
		observability.Trace(traceProjectID(cfg)),
		observability.RequestLogger(),
		observability.Recoverer(baseLogger),
		metrics.Middleware,
	}

	healthHandlers := handlers.NewHealthHandlers(handlers.WithHealthSystemService(container.Services.System))
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders,
		handlers.WithActivityLog(container.Services.Activity),
		handlers.WithCreateMiddleware(idempotencyMiddleware),
	)
	internalHandlers := handlers.NewInternalHandlers(container.Services.Orders)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(authenticator.RequireRoles(auth.RoleStaff, auth.RoleAdmin)),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts,
			handlers.WithInternalRoutes(internalHandlers.Routes),
			handlers.WithInternalMiddlewares(oidc),
		)
	} else {
		logger.Warn("oidc audience not configured; internal routes are disabled")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderledger api listening",
			zap.String("ledgerStore", cfg.Ledger.Store),
			zap.String("invoiceStore", cfg.Invoices.Store),
			zap.String("events", cfg.Events.Driver),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	cleanupCancel()
	cleanupWG.Wait()
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		return nil
	}
	keys := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL)
	validator := auth.NewOIDCValidator(keys, auth.WithOIDCLogger(logger))
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger),
		secrets.WithFallbackFile(fallbackPath),
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value for the selected stores.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	store := strings.ToLower(strings.TrimSpace(env["API_LEDGER_STORE"]))
	if store == "" || store == config.StorePostgres {
		required = append(required, "Database.URL")
	}
	if strings.HasPrefix(strings.TrimSpace(env["API_STORAGE_SIGNING_CREDENTIALS"]), "secret://") {
		required = append(required, "Storage.SigningCredentials")
	}
	return required
}
