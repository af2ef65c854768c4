package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hanko-field/orderledger/internal/invoices"
	"github.com/hanko-field/orderledger/internal/payments"
	"github.com/hanko-field/orderledger/internal/platform/config"
	"github.com/hanko-field/orderledger/internal/platform/events"
	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/platform/observability"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/platform/storage"
	"github.com/hanko-field/orderledger/internal/repositories"
	firestorerepo "github.com/hanko-field/orderledger/internal/repositories/firestore"
	"github.com/hanko-field/orderledger/internal/repositories/memory"
	pgrepo "github.com/hanko-field/orderledger/internal/repositories/postgres"
	"github.com/hanko-field/orderledger/internal/services"
)

const (
	defaultProbeTimeout = 2 * time.Second
	memoryInvoiceBucket = "orderledger-invoices"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Orders    services.OrderService
	Inventory services.InventoryService
	Counters  services.CounterService
	Activity  services.ActivityLogService
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services

	// DB is set when the ledger lives in Postgres.
	DB *ppostgres.DB

	closers []func(context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	build    services.BuildInfo
	registry repositories.Registry
	clock    func() time.Time
}

// WithLogger sets the base logger handed to services.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBuildInfo sets the build metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) { o.build = build }
}

// WithRegistry skips store construction and uses reg instead. The container takes ownership of reg.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithClock overrides the clock passed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies described by cfg. On failure everything opened so
// far is closed again.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (container *Container, err error) {
	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var checks []repositories.DependencyCheck

	var provider *pfirestore.Provider
	if cfg.Ledger.CounterStore == config.StoreFirestore || cfg.Ledger.ActivityStore == config.StoreFirestore {
		provider = pfirestore.NewProvider(cfg.Firestore)
		c.closers = append(c.closers, provider.Close)
		checks = append(checks, repositories.DependencyCheck{Name: "firestore", Check: provider.Ping})
	}

	reg, err := c.buildRegistry(ctx, cfg, o, provider)
	if err != nil {
		return nil, err
	}
	c.Repositories = reg
	if c.DB != nil {
		pool := c.DB.Pool()
		checks = append(checks, repositories.DependencyCheck{Name: "postgres", Check: pool.Ping})
	}
	if cfg.Ledger.Store == config.StoreMemory {
		checks = append(checks, repositories.DependencyCheck{Name: "memory", Check: func(context.Context) error { return nil }})
	}

	eventLogger := observability.EventLogger(o.logger)

	inventory, err := services.NewInventoryService(services.InventoryServiceDeps{
		SKUs:   reg.SKUs(),
		Clock:  o.clock,
		Logger: eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build inventory service: %w", err)
	}

	counters, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Prefix:     cfg.Ledger.OrderNumberPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("build counter service: %w", err)
	}

	publisher, err := c.buildPublisher(ctx, cfg.Events)
	if err != nil {
		return nil, fmt.Errorf("build activity publisher: %w", err)
	}
	activity, err := services.NewActivityLogService(services.ActivityLogServiceDeps{
		Repository: reg.Activity(),
		Publisher:  publisher,
		Clock:      o.clock,
		Logger:     eventLogger,
		Async:      cfg.Events.Driver != config.EventsDriverNone,
	})
	if err != nil {
		return nil, fmt.Errorf("build activity log service: %w", err)
	}
	c.closers = append(c.closers, activity.Flush)

	invoiceSvc, invoiceCheck, err := c.buildInvoices(ctx, cfg, o)
	if err != nil {
		return nil, fmt.Errorf("build invoice service: %w", err)
	}
	if invoiceCheck != nil {
		checks = append(checks, *invoiceCheck)
	}

	defaultLanguage := cfg.Ledger.DefaultLanguage
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Payments:   reg.Payments(),
		Inventory:  inventory,
		Counters:   counters,
		Settlement: payments.NewManager(payments.WithStrategy(payments.NewCashStrategy(nil))),
		Invoices:   invoiceSvc,
		Activity:   activity,
		UnitOfWork: reg,
		Languages: func(candidates ...string) string {
			return invoices.ResolveLanguage(append(candidates, defaultLanguage)...)
		},
		Currency: cfg.Ledger.Currency,
		Clock:    o.clock,
		Logger:   eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	health, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithProbeTimeout(defaultProbeTimeout),
		repositories.WithProbeClock(o.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("build health probes: %w", err)
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	system, err := services.NewSystemService(services.SystemServiceDeps{
		Health: health,
		Clock:  o.clock,
		Build:  build,
	})
	if err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Orders:    orders,
		Inventory: inventory,
		Counters:  counters,
		Activity:  activity,
		System:    system,
	}
	return c, nil
}

func (c *Container) buildRegistry(ctx context.Context, cfg config.Config, o options, provider *pfirestore.Provider) (repositories.Registry, error) {
	if o.registry != nil {
		return o.registry, nil
	}

	var (
		activity repositories.ActivityRepository
		counters repositories.CounterRepository
	)
	if cfg.Ledger.ActivityStore == config.StoreFirestore {
		repo, err := firestorerepo.NewActivityRepository(provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore activity repository: %w", err)
		}
		activity = repo
	}
	if cfg.Ledger.CounterStore == config.StoreFirestore {
		repo, err := firestorerepo.NewCounterRepository(provider)
		if err != nil {
			return nil, fmt.Errorf("build firestore counter repository: %w", err)
		}
		counters = repo
	}

	switch cfg.Ledger.Store {
	case config.StorePostgres:
		pool, err := ppostgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if cfg.Database.MigrateOnStart {
			if err := ppostgres.MigrateUp(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			o.logger.Info("database migrations applied")
		}
		reg, err := pgrepo.NewRegistry(pool,
			[]ppostgres.TxOption{ppostgres.WithTxAttempts(cfg.Database.TxAttempts)},
			pgrepo.WithActivityRepository(activity),
			pgrepo.WithCounterRepository(counters),
		)
		if err != nil {
			pool.Close()
			return nil, err
		}
		c.DB = reg.DB()
		return reg, nil
	case config.StoreMemory:
		o.logger.Warn("ledger is kept in memory; state is lost on restart")
		return overlay{Registry: memory.NewStore(), activity: activity, counters: counters}, nil
	default:
		return nil, fmt.Errorf("unsupported ledger store %q", cfg.Ledger.Store)
	}
}

func (c *Container) buildPublisher(ctx context.Context, cfg config.EventsConfig) (services.ActivityPublisher, error) {
	switch cfg.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, err
		}
		publisher, err := events.NewPubSubPublisher(client.Topic(cfg.PubSubTopic), client)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		c.closers = append(c.closers, closeFunc(publisher.Close))
		return publisher, nil
	case config.EventsDriverKafka:
		writer, err := events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		publisher, err := events.NewKafkaPublisher(writer)
		if err != nil {
			_ = writer.Close()
			return nil, err
		}
		c.closers = append(c.closers, closeFunc(publisher.Close))
		return publisher, nil
	default:
		return events.Nop{}, nil
	}
}

func (c *Container) buildInvoices(ctx context.Context, cfg config.Config, o options) (*invoices.Service, *repositories.DependencyCheck, error) {
	invoiceCfg := invoices.Config{
		IssuerName:    cfg.Invoices.IssuerName,
		PublicBaseURL: cfg.Invoices.PublicBaseURL,
		SignedURLTTL:  cfg.Invoices.SignedURLTTL,
		Clock:         o.clock,
	}

	if cfg.Invoices.Store != config.StoreGCS {
		invoiceCfg.Store = invoices.NewMemoryStore(memoryInvoiceBucket)
		svc, err := invoices.NewService(invoiceCfg)
		return svc, nil, err
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	objects, err := storage.NewObjectStore(client, cfg.Storage.InvoicesBucket)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	c.closers = append(c.closers, closeFunc(objects.Close))
	invoiceCfg.Store = objects

	if cfg.Storage.SigningCredentials != "" {
		signer, err := storage.NewServiceAccountSigner(cfg.Storage.SigningCredentials)
		if err != nil {
			return nil, nil, err
		}
		urls, err := storage.NewClient(signer)
		if err != nil {
			return nil, nil, err
		}
		invoiceCfg.Signer = urls
	} else {
		o.logger.Warn("invoice signing credentials missing; links fall back to public URLs")
	}

	svc, err := invoices.NewService(invoiceCfg)
	if err != nil {
		return nil, nil, err
	}
	bucket := client.Bucket(objects.Bucket())
	check := &repositories.DependencyCheck{
		Name: "storage",
		Check: func(ctx context.Context) error {
			_, err := bucket.Attrs(ctx)
			return err
		},
	}
	return svc, check, nil
}

// Close releases resources in reverse order of acquisition: pending activity is flushed before
// publishers and stores go away.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// overlay swaps the counter and activity repositories of an in-memory registry for other backends.
type overlay struct {
	repositories.Registry
	activity repositories.ActivityRepository
	counters repositories.CounterRepository
}

func (o overlay) Activity() repositories.ActivityRepository {
	if o.activity != nil {
		return o.activity
	}
	return o.Registry.Activity()
}

func (o overlay) Counters() repositories.CounterRepository {
	if o.counters != nil {
		return o.counters
	}
	return o.Registry.Counters()
}

func closeFunc(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}
