// Package secrets resolves secret://name references from configuration through Google Secret
// Manager, with a local dotenv-style fallback file for development.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCacheTTL     = 10 * time.Minute
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/hanko-field/orderledger/internal/platform/secrets"
)

// ErrNotFound is returned when neither Secret Manager nor the fallback file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves and caches secret values.
type Fetcher struct {
	client     accessor
	ownsClient bool
	projectID  string
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string

	mu    sync.Mutex
	cache map[string]cached

	lookups metric.Int64Counter
	latency metric.Float64Histogram
}

type cached struct {
	value   string
	expires time.Time
}

type settings struct {
	projectID    string
	ttl          time.Duration
	fallbackPath string
	logger       *zap.Logger
	client       accessor
	clientOpts   []option.ClientOption
	meter        metric.Meter
}

// Option customises a Fetcher.
type Option func(*settings)

// WithProject sets the project used when a reference carries no ?project= override.
func WithProject(projectID string) Option {
	return func(s *settings) { s.projectID = strings.TrimSpace(projectID) }
}

// WithCacheTTL sets how long resolved values are reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithFallbackFile points at a KEY=VALUE file consulted when Secret Manager is unreachable or
// denies access. Keys are the secret names.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallbackPath = strings.TrimSpace(path) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClientOptions forwards options to the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

func WithMeter(meter metric.Meter) Option {
	return func(s *settings) { s.meter = meter }
}

func withAccessor(client accessor) Option {
	return func(s *settings) { s.client = client }
}

// NewFetcher creates the Secret Manager client. When the client cannot be created the fetcher
// still works from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{ttl: defaultCacheTTL, fallbackPath: defaultFallbackPath, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.meter == nil {
		s.meter = otel.Meter(meterName)
	}

	f := &Fetcher{
		client:       s.client,
		projectID:    s.projectID,
		ttl:          s.ttl,
		now:          time.Now,
		logger:       s.logger.Named("secrets"),
		fallbackPath: s.fallbackPath,
		cache:        make(map[string]cached),
	}
	var err error
	if f.lookups, err = s.meter.Int64Counter("secrets.lookups", metric.WithDescription("Secret lookups by source")); err != nil {
		return nil, fmt.Errorf("secrets: register counter: %w", err)
	}
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency", metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("secrets: register histogram: %w", err)
	}

	if f.client == nil {
		client, err := secretmanager.NewClient(ctx, s.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref, which has the form
// secret://NAME[?version=N&project=P].
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	r, err := parseRef(ref)
	if err != nil {
		return "", err
	}
	key := r.name + "@" + r.version + "@" + r.project

	f.mu.Lock()
	if entry, ok := f.cache[key]; ok && f.now().Before(entry.expires) {
		f.mu.Unlock()
		f.count(ctx, "cache")
		return entry.value, nil
	}
	f.mu.Unlock()

	value, source, err := f.load(ctx, r)
	if err != nil {
		f.count(ctx, "error")
		return "", err
	}
	f.count(ctx, source)

	f.mu.Lock()
	f.cache[key] = cached{value: value, expires: f.now().Add(f.ttl)}
	f.mu.Unlock()
	return value, nil
}

func (f *Fetcher) load(ctx context.Context, r ref) (string, string, error) {
	project := r.project
	if project == "" {
		project = f.projectID
	}
	if f.client != nil && project != "" {
		start := time.Now()
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, r.version),
		}, gax.WithRetry(func() gax.Retryer {
			return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
				Initial:    100 * time.Millisecond,
				Max:        2 * time.Second,
				Multiplier: 2,
			})
		}))
		f.latency.Record(ctx, float64(time.Since(start).Microseconds())/1000)
		switch {
		case err == nil:
			return string(resp.GetPayload().GetData()), "secret_manager", nil
		case status.Code(err) == codes.NotFound:
			return "", "", fmt.Errorf("%w: %s", ErrNotFound, r.name)
		case !fallbackEligible(err):
			return "", "", fmt.Errorf("secrets: access %s: %w", r.name, err)
		}
		f.logger.Debug("secret manager lookup failed, trying fallback file", zap.String("secret", r.name), zap.Error(err))
	}

	if value, ok := f.fromFallback(r.name); ok {
		return value, "fallback", nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrNotFound, r.name)
}

func (f *Fetcher) fromFallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		if f.fallbackPath == "" {
			return
		}
		values, err := godotenv.Read(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.logger.Warn("fallback file unreadable", zap.String("path", f.fallbackPath), zap.Error(err))
			}
			return
		}
		f.fallback = values
	})
	value, ok := f.fallback[name]
	return value, ok
}

func (f *Fetcher) count(ctx context.Context, source string) {
	f.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

type ref struct {
	name    string
	version string
	project string
}

func parseRef(raw string) (ref, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "sm://") {
		raw = "secret://" + strings.TrimPrefix(raw, "sm://")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "secret" {
		return ref{}, fmt.Errorf("secrets: invalid reference %q", raw)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return ref{}, fmt.Errorf("secrets: reference %q has no secret name", raw)
	}
	version := strings.TrimSpace(u.Query().Get("version"))
	if version == "" {
		version = "latest"
	}
	return ref{name: name, version: version, project: strings.TrimSpace(u.Query().Get("project"))}, nil
}

func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
