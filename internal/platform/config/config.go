package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultDatabaseMaxConns     = 10
	defaultDatabaseConnTimeout  = 5 * time.Second
	defaultTxAttempts           = 3
	defaultLedgerStore          = StorePostgres
	defaultCurrency             = "USD"
	defaultOrderNumberPrefix    = "ORD"
	defaultLanguage             = "en"
	defaultInvoiceStore         = StoreGCS
	defaultInvoiceURLTTL        = 10 * time.Minute
	defaultEventsDriver         = EventsDriverNone
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Backend identifiers accepted by the store selectors.
const (
	StorePostgres  = "postgres"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
	StoreGCS       = "gcs"
)

// Event drivers accepted by Events.Driver.
const (
	EventsDriverNone   = "none"
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	Invoices    InvoiceConfig
	Events      EventsConfig
	Ledger      LedgerConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig configures the Postgres ledger connection.
type DatabaseConfig struct {
	URL            string
	MaxConns       int
	ConnectTimeout time.Duration
	MigrateOnStart bool
	TxAttempts     int
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores Firestore parameters for the optional counter and activity backends.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists the bucket and signing material for invoice documents.
type StorageConfig struct {
	InvoicesBucket     string
	SigningCredentials string
}

// InvoiceConfig controls invoice rendering and delivery.
type InvoiceConfig struct {
	Store         string
	PublicBaseURL string
	IssuerName    string
	SignedURLTTL  time.Duration
}

// EventsConfig selects where activity events are fanned out.
type EventsConfig struct {
	Driver          string
	PubSubProjectID string
	PubSubTopic     string
	KafkaBrokers    []string
	KafkaTopic      string
}

// LedgerConfig carries order engine settings.
type LedgerConfig struct {
	Store             string
	CounterStore      string
	ActivityStore     string
	Currency          string
	OrderNumberPrefix string
	DefaultLanguage   string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	names := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		names = append(names, secret.redacted)
	}
	sort.Strings(names)
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(names, ", "))
}

// RedactedNames returns a copy of the redacted secret identifiers.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// Snapshot captures the resolved environment values used during loading so callers can construct
// dependent components (e.g., secret fetcher) with the same inputs.
type Snapshot struct {
	EnvFile         string
	Values          map[string]string
	ResolvedSecrets map[string]string
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers can use the result to initialise
// dependencies before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	merge := func(source map[string]string) {
		if source == nil {
			return
		}
		for key, value := range source {
			values[key] = value
		}
	}

	merge(dotEnvValues)

	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			if entry == "" {
				continue
			}
			parts := strings.SplitN(entry, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			if key == "" {
				continue
			}
			system[key] = parts[1]
		}
		merge(system)
	}

	merge(options.envMap)

	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers should match the config field names recorded by the loader
// (e.g. "Database.URL" or "Storage.SigningCredentials").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}

	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Database: DatabaseConfig{
			URL:            stringWithDefault(lookup, "API_DATABASE_URL", ""),
			MaxConns:       intWithDefault(lookup, "API_DATABASE_MAX_CONNS", defaultDatabaseMaxConns),
			ConnectTimeout: durationWithDefault(lookup, "API_DATABASE_CONNECT_TIMEOUT", defaultDatabaseConnTimeout),
			MigrateOnStart: boolWithDefault(lookup, "API_DATABASE_MIGRATE_ON_START", false),
			TxAttempts:     intWithDefault(lookup, "API_DATABASE_TX_ATTEMPTS", defaultTxAttempts),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			InvoicesBucket:     stringWithDefault(lookup, "API_STORAGE_INVOICES_BUCKET", ""),
			SigningCredentials: stringWithDefault(lookup, "API_STORAGE_SIGNING_CREDENTIALS", ""),
		},
		Invoices: InvoiceConfig{
			Store:         strings.ToLower(stringWithDefault(lookup, "API_INVOICES_STORE", defaultInvoiceStore)),
			PublicBaseURL: stringWithDefault(lookup, "API_INVOICES_PUBLIC_BASE_URL", ""),
			IssuerName:    stringWithDefault(lookup, "API_INVOICES_ISSUER_NAME", ""),
			SignedURLTTL:  durationWithDefault(lookup, "API_INVOICES_SIGNED_URL_TTL", defaultInvoiceURLTTL),
		},
		Events: EventsConfig{
			Driver:          strings.ToLower(stringWithDefault(lookup, "API_EVENTS_DRIVER", defaultEventsDriver)),
			PubSubProjectID: stringWithDefault(lookup, "API_EVENTS_PUBSUB_PROJECT_ID", ""),
			PubSubTopic:     stringWithDefault(lookup, "API_EVENTS_PUBSUB_TOPIC", ""),
			KafkaBrokers:    csvWithDefault(lookup, "API_EVENTS_KAFKA_BROKERS"),
			KafkaTopic:      stringWithDefault(lookup, "API_EVENTS_KAFKA_TOPIC", ""),
		},
		Ledger: LedgerConfig{
			Store:             strings.ToLower(stringWithDefault(lookup, "API_LEDGER_STORE", defaultLedgerStore)),
			CounterStore:      strings.ToLower(stringWithDefault(lookup, "API_LEDGER_COUNTER_STORE", "")),
			ActivityStore:     strings.ToLower(stringWithDefault(lookup, "API_LEDGER_ACTIVITY_STORE", "")),
			Currency:          strings.ToUpper(stringWithDefault(lookup, "API_LEDGER_CURRENCY", defaultCurrency)),
			OrderNumberPrefix: stringWithDefault(lookup, "API_LEDGER_ORDER_NUMBER_PREFIX", defaultOrderNumberPrefix),
			DefaultLanguage:   stringWithDefault(lookup, "API_LEDGER_DEFAULT_LANGUAGE", defaultLanguage),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: mapWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	resolvedSecrets := make(map[string]string)
	recordSecret := func(name, value string) {
		resolvedSecrets[name] = strings.TrimSpace(value)
	}
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		recordSecret(name, resolved)
		return nil
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Events.PubSubProjectID == "" {
		cfg.Events.PubSubProjectID = cfg.Firebase.ProjectID
	}
	// Counters and activity follow the ledger store unless overridden.
	if cfg.Ledger.CounterStore == "" {
		cfg.Ledger.CounterStore = cfg.Ledger.Store
	}
	if cfg.Ledger.ActivityStore == "" {
		cfg.Ledger.ActivityStore = cfg.Ledger.Store
	}

	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}

	envKey := strings.ToLower(cfg.Security.Environment)
	if cfg.Security.OIDC.Audience == "" && cfg.Security.OIDC.Audiences != nil {
		if audience, ok := cfg.Security.OIDC.Audiences[envKey]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	// Resolve secrets when values reference Secret Manager.
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Storage.SigningCredentials", &cfg.Storage.SigningCredentials},
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" {
		return value, nil
	}
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	seen := make(map[string]struct{})
	add := func(field string) {
		if _, ok := seen[field]; ok {
			return
		}
		seen[field] = struct{}{}
		missing = append(missing, field)
	}

	if cfg.Server.Port == "" {
		add("Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		add("Firebase.ProjectID")
	}

	switch cfg.Ledger.Store {
	case StorePostgres:
		if strings.TrimSpace(cfg.Database.URL) == "" {
			add("Database.URL")
		}
		if cfg.Database.TxAttempts <= 0 {
			add("Database.TxAttempts")
		}
	case StoreMemory:
	default:
		add("Ledger.Store")
	}
	for name, store := range map[string]string{
		"Ledger.CounterStore":  cfg.Ledger.CounterStore,
		"Ledger.ActivityStore": cfg.Ledger.ActivityStore,
	} {
		switch store {
		case StorePostgres, StoreMemory:
			if store != cfg.Ledger.Store {
				add(name)
			}
		case StoreFirestore:
			if cfg.Firestore.ProjectID == "" {
				add("Firestore.ProjectID")
			}
		default:
			add(name)
		}
	}
	if len(cfg.Ledger.Currency) != 3 {
		add("Ledger.Currency")
	}
	if strings.TrimSpace(cfg.Ledger.OrderNumberPrefix) == "" {
		add("Ledger.OrderNumberPrefix")
	}

	switch cfg.Invoices.Store {
	case StoreGCS:
		if cfg.Storage.InvoicesBucket == "" {
			add("Storage.InvoicesBucket")
		}
	case StoreMemory:
	default:
		add("Invoices.Store")
	}

	switch cfg.Events.Driver {
	case EventsDriverNone:
	case EventsDriverPubSub:
		if cfg.Events.PubSubProjectID == "" {
			add("Events.PubSubProjectID")
		}
		if cfg.Events.PubSubTopic == "" {
			add("Events.PubSubTopic")
		}
	case EventsDriverKafka:
		if len(cfg.Events.KafkaBrokers) == 0 {
			add("Events.KafkaBrokers")
		}
		if cfg.Events.KafkaTopic == "" {
			add("Events.KafkaTopic")
		}
	default:
		add("Events.Driver")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		add("Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		add("Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		add("Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		add("Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if value := strings.TrimSpace(resolved[trimmed]); value != "" {
			continue
		}
		missing = append(missing, missingSecret{
			name:     trimmed,
			redacted: redactSecretName(trimmed),
		})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mapWithDefault(lookup func(string) (string, bool), key string) map[string]string {
	values := make(map[string]string)
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return values
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		secret := strings.TrimSpace(parts[1])
		if name == "" || secret == "" {
			continue
		}
		values[name] = secret
	}
	return values
}
