// Package session ties the requestor stack together: configuration, API
// client, resource registry, event bus, journal and telemetry, plus the
// factories user code starts from.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gridnode/gridnode/pkg/activity"
	"github.com/gridnode/gridnode/pkg/events"
	"github.com/gridnode/gridnode/pkg/market"
	"github.com/gridnode/gridnode/pkg/payment"
	"github.com/gridnode/gridnode/pkg/resource"
	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/storage"
	"github.com/gridnode/gridnode/pkg/stores"
	"github.com/gridnode/gridnode/pkg/telemetry"
)

// Session is a requestor session against one remote node. It owns the
// process-wide registry and bus; resources created through it with
// autoclose are shut down by Stop.
type Session struct {
	cfg    Config
	log    zerolog.Logger
	client *rest.Client

	registry *resource.Registry
	bus      *events.Bus
	journal  *stores.Journal
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	store    storage.Provider

	cancel context.CancelFunc

	mu        sync.Mutex
	autoclose []market.AutoCloser
}

// New assembles a session from configuration. Nothing touches the network
// until Start.
func New(cfg Config) (*Session, error) {
	log, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(
		cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName,
		cfg.Telemetry.ServiceVersion,
		cfg.Telemetry.Environment,
	)
	if err != nil {
		return nil, err
	}
	metrics := telemetry.NewMetrics(cfg.Telemetry.Metrics)

	bus := events.NewBus(
		telemetry.ComponentLogger(log, "bus"),
		events.WithDroppedFunc(func(string, events.Event) {
			metrics.RecordEventDropped("bus")
		}),
	)

	s := &Session{
		cfg:      cfg,
		log:      log,
		client:   rest.NewClient(cfg.API),
		bus:      bus,
		metrics:  metrics,
		tracer:   tracer,
		registry: resource.NewRegistry(events.NewGraphSink(bus)),
	}

	if cfg.Storage != nil {
		store, err := storage.NewSFTPProvider(*cfg.Storage, log)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	if cfg.JournalPath != "" {
		journal, err := stores.NewJournal(stores.Config{Path: cfg.JournalPath}, log)
		if err != nil {
			return nil, err
		}
		s.journal = journal
	}

	market.RegisterKinds(s)
	activity.RegisterKind(s)
	payment.RegisterKind(s)
	return s, nil
}

// Start brings the session's background pieces up: the journal, the metric
// observer and the metrics endpoint.
func (s *Session) Start(ctx context.Context) error {
	observeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	if s.journal != nil {
		if err := s.journal.Init(ctx); err != nil {
			cancel()
			return err
		}
		s.journal.Attach(observeCtx, s.bus)
	}
	telemetry.Observe(observeCtx, s.bus, s.metrics)
	s.metrics.Serve()

	s.log.Info().Str("subnet", s.cfg.API.Subnet).Msg("session started")
	return nil
}

// Stop closes every autoclose resource in reverse creation order, then
// shuts the observers, bus, journal and tracer down. Close failures are
// logged and do not stop the teardown.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	closers := make([]market.AutoCloser, len(s.autoclose))
	copy(closers, s.autoclose)
	s.autoclose = nil
	s.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].CloseResource(ctx); err != nil {
			s.log.Warn().Err(err).Msg("autoclose failed")
		}
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.bus.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.log.Warn().Err(err).Msg("journal close failed")
		}
	}
	if err := s.tracer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("tracer shutdown failed")
	}
	s.log.Info().Msg("session stopped")
	return nil
}

// Registry returns the process-wide identity registry.
func (s *Session) Registry() *resource.Registry { return s.registry }

// Bus returns the process-wide event bus.
func (s *Session) Bus() *events.Bus { return s.bus }

// Market returns the remote market API.
func (s *Session) Market() rest.MarketAPI { return s.client }

// Activity returns the remote execution API.
func (s *Session) Activity() rest.ActivityAPI { return s.client }

// Payment returns the remote payment API.
func (s *Session) Payment() rest.PaymentAPI { return s.client }

// Logger returns the session's base logger.
func (s *Session) Logger() zerolog.Logger { return s.log }

// Storage returns the transfer storage provider, or nil when none is
// configured.
func (s *Session) Storage() storage.Provider { return s.store }

// Tracer returns the session tracer.
func (s *Session) Tracer() *telemetry.Tracer { return s.tracer }

// Metrics returns the session metrics collector.
func (s *Session) Metrics() *telemetry.Metrics { return s.metrics }

// Journal returns the negotiation journal, or nil when none is configured.
func (s *Session) Journal() *stores.Journal { return s.journal }

// Config returns the session configuration.
func (s *Session) Config() Config { return s.cfg }

// AddAutoclose registers a resource for closing at Stop.
func (s *Session) AddAutoclose(c market.AutoCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoclose = append(s.autoclose, c)
}

// CreateAllocation reserves amount using the configured payment driver and
// network. The allocation is released at Stop.
func (s *Session) CreateAllocation(ctx context.Context, amount string) (*payment.Allocation, error) {
	alloc, err := payment.CreateAllocation(ctx, s, amount, s.cfg.API.PaymentDriver, s.cfg.API.PaymentNetwork)
	if err != nil {
		return nil, err
	}
	s.AddAutoclose(alloc)
	return alloc, nil
}

// CreateDemand publishes a demand built from the builder, merged with the
// session defaults (expiration, subnet) and the given allocations. The
// demand is unsubscribed at Stop.
func (s *Session) CreateDemand(ctx context.Context, builder *DemandBuilder, allocations ...*payment.Allocation) (*market.Demand, error) {
	if builder == nil {
		builder = NewDemandBuilder()
	}
	builder.Defaults(s.cfg.API.Subnet)
	for _, alloc := range allocations {
		if err := builder.Allocation(ctx, alloc); err != nil {
			return nil, err
		}
	}
	props, constraints := builder.Build()

	demand, err := market.CreateDemand(ctx, s, props, constraints)
	if err != nil {
		return nil, err
	}
	s.AddAutoclose(demand)
	return demand, nil
}

// Demand returns the live object for a demand id.
func (s *Session) Demand(id string) (*market.Demand, error) {
	obj, err := s.registry.GetOrCreate(resource.KindDemand, id, nil)
	if err != nil {
		return nil, err
	}
	return obj.(*market.Demand), nil
}

// Allocation returns the live object for an allocation id.
func (s *Session) Allocation(id string) (*payment.Allocation, error) {
	obj, err := s.registry.GetOrCreate(resource.KindAllocation, id, nil)
	if err != nil {
		return nil, err
	}
	return obj.(*payment.Allocation), nil
}

// Agreement returns the live object for an agreement id.
func (s *Session) Agreement(id string) (*market.Agreement, error) {
	obj, err := s.registry.GetOrCreate(resource.KindAgreement, id, nil)
	if err != nil {
		return nil, err
	}
	return obj.(*market.Agreement), nil
}

// Demands lists all demands published by this requestor on the remote
// node.
func (s *Session) Demands(ctx context.Context) ([]*market.Demand, error) {
	objs, err := s.registry.ListAll(ctx, resource.KindDemand)
	if err != nil {
		return nil, err
	}
	out := make([]*market.Demand, len(objs))
	for i, obj := range objs {
		out[i] = obj.(*market.Demand)
	}
	return out, nil
}

// Allocations lists all live allocations on the remote node.
func (s *Session) Allocations(ctx context.Context) ([]*payment.Allocation, error) {
	objs, err := s.registry.ListAll(ctx, resource.KindAllocation)
	if err != nil {
		return nil, err
	}
	out := make([]*payment.Allocation, len(objs))
	for i, obj := range objs {
		out[i] = obj.(*payment.Allocation)
	}
	return out, nil
}
