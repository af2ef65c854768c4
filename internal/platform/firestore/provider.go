// Package firestore hosts the shared Firestore client used by the optional counter and activity
// backends.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/orderledger/internal/platform/config"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultTxAttempts  = 5
	envEmulatorHost    = "FIRESTORE_EMULATOR_HOST"
	envGoogleProjectID = "GOOGLE_CLOUD_PROJECT"
)

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("firestore: provider is closed")

// Provider creates the Firestore client on first use and shares it afterwards. Failed
// initialisations are retried on the next call.
type Provider struct {
	cfg         config.FirestoreConfig
	dialTimeout time.Duration
	txAttempts  int
	clientOpts  []option.ClientOption

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithDialTimeout overrides the timeout used when creating the client.
func WithDialTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.dialTimeout = timeout
		}
	}
}

// WithTxAttempts bounds how often Firestore retries a contended transaction.
func WithTxAttempts(attempts int) ProviderOption {
	return func(p *Provider) {
		if attempts > 0 {
			p.txAttempts = attempts
		}
	}
}

// WithClientOptions appends client options applied during initialisation.
func WithClientOptions(opts ...option.ClientOption) ProviderOption {
	return func(p *Provider) {
		p.clientOpts = append(p.clientOpts, opts...)
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.FirestoreConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:         cfg,
		dialTimeout: defaultDialTimeout,
		txAttempts:  defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// Client returns the shared Firestore client, dialling it when needed. Concurrent first calls
// serialise on the provider lock so only one client is ever created.
func (p *Provider) Client(ctx context.Context) (*firestore.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.client != nil {
		return p.client, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	projectID := strings.TrimSpace(p.cfg.ProjectID)
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv(envGoogleProjectID))
	}
	if projectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	opts := append([]option.ClientOption(nil), p.clientOpts...)
	if host := p.emulatorHost(); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := firestore.NewClient(dialCtx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: create client: %w", err)
	}
	p.client = client
	return client, nil
}

// Collection resolves a top-level collection reference.
func (p *Provider) Collection(ctx context.Context, name string) (*firestore.CollectionRef, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(name), nil
}

// RunTransaction executes fn in a read-write transaction. Errors are annotated with op.
func (p *Provider) RunTransaction(ctx context.Context, op string, fn func(context.Context, *firestore.Transaction) error) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	err = client.RunTransaction(ctx, fn, firestore.MaxAttempts(p.txAttempts))
	return WrapError(op, err)
}

// Ping issues a cheap read so readiness probes can tell whether Firestore answers.
func (p *Provider) Ping(ctx context.Context) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	iter := client.Collections(ctx)
	_, err = iter.Next()
	if err != nil && !isIteratorDone(err) {
		return WrapError("ping", err)
	}
	return nil
}

// Close releases the client. The Provider cannot be reused afterwards.
func (p *Provider) Close(context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	return err
}

func (p *Provider) emulatorHost() string {
	if host := strings.TrimSpace(p.cfg.EmulatorHost); host != "" {
		return host
	}
	return strings.TrimSpace(os.Getenv(envEmulatorHost))
}
