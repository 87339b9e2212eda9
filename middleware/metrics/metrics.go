// Package metrics provides Prometheus metrics for occurrent.
//
// A single Metrics value serves as the command metrics sink, the subscription
// metrics sink and as an event store adapter wrapper:
//
//	m := metrics.New(metrics.WithMetricsServiceName("guessgame"))
//	_ = m.Register(prometheus.DefaultRegisterer)
//
//	adapter := m.WrapEventStore(postgresAdapter)
//	store := occurrent.New(adapter)
//	commands := occurrent.NewCommandService(store, occurrent.WithCommandMetrics(m))
//	model := occurrent.NewSubscriptionModel(store, occurrent.WithSubscriptionMetrics(m))
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	occurrent "github.com/simara-svatopluk/event-sourcing-occurrent"
	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// Metric labels.
const (
	LabelService      = "service"
	LabelOperation    = "operation"
	LabelStatus       = "status"
	LabelErrorType    = "error_type"
	LabelEventType    = "event_type"
	LabelSubscription = "subscription"
	LabelResult       = "result"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend           = "append"
	OperationLoad             = "load"
	OperationLoadFromPosition = "load_from_position"
	OperationStreamInfo       = "get_stream_info"
	OperationLastPosition     = "get_last_position"
)

var (
	_ occurrent.CommandMetrics      = (*Metrics)(nil)
	_ occurrent.SubscriptionMetrics = (*Metrics)(nil)
)

// Metrics holds the Prometheus collectors of occurrent.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	commandsTotal   *prometheus.CounterVec
	commandAttempts *prometheus.HistogramVec
	conflictsTotal  *prometheus.CounterVec

	eventStoreOperationsTotal   *prometheus.CounterVec
	eventStoreOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal         *prometheus.CounterVec
	eventsLoadedTotal           *prometheus.CounterVec

	deliveriesTotal      *prometheus.CounterVec
	deliveryDuration     *prometheus.HistogramVec
	subscriptionPosition *prometheus.GaugeVec
	subscriptionLag      *prometheus.GaugeVec

	errorsTotal *prometheus.CounterVec
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a Metrics instance.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "occurrent",
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total",
		"Total number of executed commands.", LabelStatus, LabelErrorType)
	m.commandAttempts = m.histogram("command_attempts",
		"Number of decide-and-append attempts per command.", []float64{1, 2, 3, 5, 8})
	m.conflictsTotal = m.counter("command_conflicts_total",
		"Total number of lost concurrency races.")

	m.eventStoreOperationsTotal = m.counter("eventstore_operations_total",
		"Total number of event store operations.", LabelOperation, LabelStatus)
	m.eventStoreOperationDuration = m.histogram("eventstore_operation_duration_seconds",
		"Duration of event store operations in seconds.", prometheus.DefBuckets, LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended to streams.", LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events loaded from the store.")

	m.deliveriesTotal = m.counter("subscription_deliveries_total",
		"Total number of events delivered to subscription handlers.", LabelSubscription, LabelResult)
	m.deliveryDuration = m.histogram("subscription_delivery_duration_seconds",
		"Duration of handler deliveries in seconds, including retries.", prometheus.DefBuckets, LabelSubscription)
	m.subscriptionPosition = m.gauge("subscription_position",
		"Global position each subscription has moved past.", LabelSubscription)
	m.subscriptionLag = m.gauge("subscription_lag_events",
		"Number of read events each subscription has not processed yet.", LabelSubscription)

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by kind.", LabelErrorType)
}

// Collectors lists every collector, ready for a prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal, m.commandAttempts, m.conflictsTotal,
		m.eventStoreOperationsTotal, m.eventStoreOperationDuration, m.eventsAppendedTotal, m.eventsLoadedTotal,
		m.deliveriesTotal, m.deliveryDuration, m.subscriptionPosition, m.subscriptionLag,
		m.errorsTotal,
	}
}

// Register adds the collectors to registry and stops at the first failure.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) RecordConflict() {
	m.conflictsTotal.WithLabelValues(m.serviceName).Inc()
}

// RecordCommand counts a finished command under its error kind and observes its attempts.
func (m *Metrics) RecordCommand(attempts int, err error) {
	kind := occurrent.ErrorKind(err)
	m.commandsTotal.WithLabelValues(m.serviceName, statusOf(err), kind).Inc()
	m.commandAttempts.WithLabelValues(m.serviceName).Observe(float64(attempts))
	if err != nil {
		m.RecordError(kind)
	}
}

func (m *Metrics) RecordDelivery(subscriptionID, result string, duration time.Duration) {
	m.deliveriesTotal.WithLabelValues(m.serviceName, subscriptionID, result).Inc()
	m.deliveryDuration.WithLabelValues(m.serviceName, subscriptionID).Observe(duration.Seconds())
}

func (m *Metrics) RecordPosition(subscriptionID string, position, lag uint64) {
	m.subscriptionPosition.WithLabelValues(m.serviceName, subscriptionID).Set(float64(position))
	m.subscriptionLag.WithLabelValues(m.serviceName, subscriptionID).Set(float64(lag))
}

// RecordError counts an error under kind, one of the occurrent.ErrorKind values.
func (m *Metrics) RecordError(kind string) {
	m.errorsTotal.WithLabelValues(m.serviceName, kind).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// timed runs one adapter call and records its duration and outcome under op.
func timed[T any](m *Metrics, op string, call func() (T, error)) (T, error) {
	start := time.Now()
	v, err := call()
	m.eventStoreOperationDuration.WithLabelValues(m.serviceName, op).Observe(time.Since(start).Seconds())
	m.eventStoreOperationsTotal.WithLabelValues(m.serviceName, op, statusOf(err)).Inc()
	if err != nil {
		m.RecordError(occurrent.ErrorKind(err))
	}
	return v, err
}

// EventStoreMiddleware is an adapters.EventStoreAdapter that reports every call
// of the adapter it wraps.
type EventStoreMiddleware struct {
	next    adapters.EventStoreAdapter
	metrics *Metrics
}

var (
	_ adapters.EventStoreAdapter = (*EventStoreMiddleware)(nil)
	_ adapters.HealthChecker     = (*EventStoreMiddleware)(nil)
)

// WrapEventStore returns next instrumented with m.
func (m *Metrics) WrapEventStore(next adapters.EventStoreAdapter) *EventStoreMiddleware {
	return &EventStoreMiddleware{next: next, metrics: m}
}

// Unwrap returns the wrapped adapter.
func (em *EventStoreMiddleware) Unwrap() adapters.EventStoreAdapter { return em.next }

// Append also counts the appended events by type.
func (em *EventStoreMiddleware) Append(ctx context.Context, streamID string, records []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	stored, err := timed(em.metrics, OperationAppend, func() ([]adapters.StoredEvent, error) {
		return em.next.Append(ctx, streamID, records, expectedVersion)
	})
	if err == nil {
		for _, r := range records {
			em.metrics.eventsAppendedTotal.WithLabelValues(em.metrics.serviceName, r.Type).Inc()
		}
	}
	return stored, err
}

func (em *EventStoreMiddleware) Load(ctx context.Context, streamID string, fromVersion int64) ([]adapters.StoredEvent, error) {
	return em.loaded(timed(em.metrics, OperationLoad, func() ([]adapters.StoredEvent, error) {
		return em.next.Load(ctx, streamID, fromVersion)
	}))
}

func (em *EventStoreMiddleware) LoadFromPosition(ctx context.Context, fromPosition uint64, limit int) ([]adapters.StoredEvent, error) {
	return em.loaded(timed(em.metrics, OperationLoadFromPosition, func() ([]adapters.StoredEvent, error) {
		return em.next.LoadFromPosition(ctx, fromPosition, limit)
	}))
}

func (em *EventStoreMiddleware) loaded(events []adapters.StoredEvent, err error) ([]adapters.StoredEvent, error) {
	if err == nil {
		em.metrics.eventsLoadedTotal.WithLabelValues(em.metrics.serviceName).Add(float64(len(events)))
	}
	return events, err
}

func (em *EventStoreMiddleware) GetStreamInfo(ctx context.Context, streamID string) (*adapters.StreamInfo, error) {
	return timed(em.metrics, OperationStreamInfo, func() (*adapters.StreamInfo, error) {
		return em.next.GetStreamInfo(ctx, streamID)
	})
}

func (em *EventStoreMiddleware) GetLastPosition(ctx context.Context) (uint64, error) {
	return timed(em.metrics, OperationLastPosition, func() (uint64, error) {
		return em.next.GetLastPosition(ctx)
	})
}

func (em *EventStoreMiddleware) Initialize(ctx context.Context) error { return em.next.Initialize(ctx) }

// Ping delegates to the wrapped adapter when it is an adapters.HealthChecker.
func (em *EventStoreMiddleware) Ping(ctx context.Context) error {
	if hc, ok := em.next.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

func (em *EventStoreMiddleware) Close() error { return em.next.Close() }
