package occurrent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/simara-svatopluk/event-sourcing-occurrent/adapters"
)

// PositionStorage persists the global position of durable subscriptions.
type PositionStorage = adapters.PositionStore

// Mode selects where a subscription starts and whether it remembers its position.
type Mode int

const (
	// ModeLive delivers only events appended after the subscription started.
	ModeLive Mode = iota

	// ModeCatchUp replays history from the start point and then, by default, keeps
	// delivering new events. The position is never persisted.
	ModeCatchUp

	// ModeDurable resumes after the persisted position and persists it after every
	// handled event and at the end of every batch.
	ModeDurable
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeCatchUp:
		return "catchup"
	case ModeDurable:
		return "durable"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name as returned by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "live":
		return ModeLive, nil
	case "catchup", "catch-up":
		return ModeCatchUp, nil
	case "durable":
		return ModeDurable, nil
	default:
		return 0, fmt.Errorf("occurrent: unknown subscription mode %q", s)
	}
}

// State is the lifecycle state of a subscription.
type State string

// Subscription states.
const (
	StateStarting   State = "starting"
	StateCatchingUp State = "catching-up"
	StateLive       State = "live"
	StateCompleted  State = "completed"
	StateHalted     State = "halted"
	StateCancelled  State = "cancelled"
)

// ErrorPolicy decides what happens after a handler failed for good.
type ErrorPolicy int

const (
	// HaltOnError stops the subscription without moving past the event.
	HaltOnError ErrorPolicy = iota

	// SkipOnError logs the failure and continues with the next event.
	SkipOnError
)

// StartAt is the point a subscription without a persisted position starts from.
type StartAt struct {
	now      bool
	position uint64
}

// StartAtBeginning starts before the first event ever stored.
func StartAtBeginning() StartAt {
	return StartAt{}
}

// StartAtNow starts after the last event stored when the subscription starts.
func StartAtNow() StartAt {
	return StartAt{now: true}
}

// StartAtPosition starts after the given global position.
func StartAtPosition(position uint64) StartAt {
	return StartAt{position: position}
}

// Handler processes events delivered by a subscription.
// A handler sees the events of one subscription one at a time in global order.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Delivery results reported to SubscriptionMetrics.
const (
	DeliveryHandled = "handled"
	DeliverySkipped = "skipped"
	DeliveryFailed  = "failed"
)

// SubscriptionMetrics receives subscription measurements.
type SubscriptionMetrics interface {
	// RecordDelivery is called once per event that reached the handler.
	RecordDelivery(subscriptionID, result string, duration time.Duration)

	// RecordPosition is called after the subscription moved past an event.
	// Lag is the number of positions between it and the last event read so far.
	RecordPosition(subscriptionID string, position, lag uint64)
}

type noopSubscriptionMetrics struct{}

func (noopSubscriptionMetrics) RecordDelivery(string, string, time.Duration) {}
func (noopSubscriptionMetrics) RecordPosition(string, uint64, uint64)        {}

// Defaults of the subscription model.
const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultBatchSize      = 100
	defaultBackoffBase    = 50 * time.Millisecond
	defaultBackoffMax     = 5 * time.Second
	defaultHandlerRetries = 2
)

// SubscriptionModel runs subscriptions against an event store.
// Every subscription has its own goroutine. A shared semaphore bounds how many
// handlers run at the same time across all subscriptions.
type SubscriptionModel struct {
	store        *EventStore
	positions    PositionStorage
	logger       Logger
	metrics      SubscriptionMetrics
	pollInterval time.Duration
	batchSize    int
	workers      int
	backoffBase  time.Duration
	backoffMax   time.Duration
	sem          *semaphore.Weighted

	mu     sync.Mutex
	subs   map[string]*SubscriptionHandle
	closed bool
}

// SubscriptionModelOption configures a SubscriptionModel.
type SubscriptionModelOption func(*SubscriptionModel)

// WithPositionStorage sets where durable subscriptions keep their positions.
func WithPositionStorage(p PositionStorage) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		m.positions = p
	}
}

// WithSubscriptionLogger sets the logger.
func WithSubscriptionLogger(l Logger) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		m.logger = l
	}
}

// WithSubscriptionMetrics sets the metrics sink.
func WithSubscriptionMetrics(metrics SubscriptionMetrics) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		m.metrics = metrics
	}
}

// WithPollInterval sets how often an idle subscription polls the store.
// Default: 100ms.
func WithPollInterval(d time.Duration) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithBatchSize sets how many events a subscription reads at once.
// Default: 100.
func WithBatchSize(n int) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithMaxConcurrentHandlers bounds the number of handler invocations running at once.
// Default: runtime.NumCPU().
func WithMaxConcurrentHandlers(n int) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		if n > 0 {
			m.workers = n
		}
	}
}

// WithStorageBackoff sets the backoff for retrying unavailable storage.
// Storage failures are retried until the subscription is cancelled.
// Default: 50ms doubling up to 5s.
func WithStorageBackoff(base, maxDelay time.Duration) SubscriptionModelOption {
	return func(m *SubscriptionModel) {
		if base > 0 {
			m.backoffBase = base
		}
		if maxDelay > 0 && maxDelay >= base {
			m.backoffMax = maxDelay
		}
	}
}

// NewSubscriptionModel creates a SubscriptionModel reading from store.
func NewSubscriptionModel(store *EventStore, opts ...SubscriptionModelOption) *SubscriptionModel {
	m := &SubscriptionModel{
		store:        store,
		logger:       &noopLogger{},
		metrics:      noopSubscriptionMetrics{},
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
		workers:      runtime.NumCPU(),
		backoffBase:  defaultBackoffBase,
		backoffMax:   defaultBackoffMax,
		subs:         make(map[string]*SubscriptionHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.sem = semaphore.NewWeighted(int64(m.workers))
	return m
}

type subscribeConfig struct {
	mode             Mode
	startAt          StartAt
	liveAfterCatchUp bool
	errorPolicy      ErrorPolicy
	handlerRetry     RetryPolicy
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeConfig)

// WithMode sets the subscription mode. Default: ModeLive.
func WithMode(mode Mode) SubscribeOption {
	return func(c *subscribeConfig) {
		c.mode = mode
	}
}

// WithStartAt sets the start point of catch-up subscriptions and of durable
// subscriptions without a persisted position. Live subscriptions ignore it.
func WithStartAt(s StartAt) SubscribeOption {
	return func(c *subscribeConfig) {
		c.startAt = s
	}
}

// WithLiveAfterCatchUp decides whether a catch-up subscription keeps delivering
// new events after replaying history or completes. Default: true.
func WithLiveAfterCatchUp(live bool) SubscribeOption {
	return func(c *subscribeConfig) {
		c.liveAfterCatchUp = live
	}
}

// WithErrorPolicy sets what happens when a handler keeps failing. Default: HaltOnError.
func WithErrorPolicy(p ErrorPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.errorPolicy = p
	}
}

// WithHandlerRetry sets how handler failures are retried before the error policy applies.
// Default: two retries with exponential backoff.
func WithHandlerRetry(p RetryPolicy) SubscribeOption {
	return func(c *subscribeConfig) {
		c.handlerRetry = p
	}
}

// Subscribe starts delivering events matching filter to handler.
// The returned handle is not necessarily running yet, see WaitUntilRunning.
func (m *SubscriptionModel) Subscribe(ctx context.Context, id string, filter Filter, handler Handler, opts ...SubscribeOption) (*SubscriptionHandle, error) {
	if id == "" {
		return nil, ErrEmptySubscriptionID
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if filter == nil {
		filter = FilterAll()
	}

	cfg := subscribeConfig{
		mode:             ModeLive,
		liveAfterCatchUp: true,
		errorPolicy:      HaltOnError,
		handlerRetry:     ExponentialBackoffRetry(defaultHandlerRetries, m.backoffBase, m.backoffMax),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.handlerRetry == nil {
		cfg.handlerRetry = NoRetry()
	}
	if cfg.mode == ModeDurable && m.positions == nil {
		return nil, ErrPositionStorageRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrSubscriptionClosed
	}
	if _, exists := m.subs[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionExists, id)
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &SubscriptionHandle{
		id:      id,
		model:   m,
		cfg:     cfg,
		filter:  filter,
		handler: handler,
		cancel:  cancel,
		running: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateStarting,
	}
	m.subs[id] = h

	go h.run(runCtx)

	return h, nil
}

// Subscription returns the active subscription with the given ID.
func (m *SubscriptionModel) Subscription(id string) (*SubscriptionHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.subs[id]
	return h, ok
}

// ResetPosition forgets the persisted position of a durable subscription so that
// its next start replays from the start point. The subscription must not be running.
func (m *SubscriptionModel) ResetPosition(ctx context.Context, id string) error {
	if m.positions == nil {
		return ErrPositionStorageRequired
	}
	if _, running := m.Subscription(id); running {
		return fmt.Errorf("%w: %s", ErrSubscriptionExists, id)
	}
	return m.positions.DeletePosition(ctx, id)
}

// Shutdown cancels every subscription and waits until all of them stopped or ctx is done.
// No subscriptions can be started afterwards.
func (m *SubscriptionModel) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	handles := make([]*SubscriptionHandle, 0, len(m.subs))
	for _, h := range m.subs {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *SubscriptionModel) remove(h *SubscriptionHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[h.id] == h {
		delete(m.subs, h.id)
	}
}

func (m *SubscriptionModel) storageRetry() RetryPolicy {
	return ExponentialBackoffRetry(-1, m.backoffBase, m.backoffMax)
}

// SubscriptionHandle controls a running subscription.
type SubscriptionHandle struct {
	id      string
	model   *SubscriptionModel
	cfg     subscribeConfig
	filter  Filter
	handler Handler
	cancel  context.CancelFunc

	running     chan struct{}
	runningOnce sync.Once
	done        chan struct{}

	// checkpointed is the last persisted position. Only the run loop touches it.
	checkpointed uint64

	mu       sync.RWMutex
	state    State
	err      error
	position uint64
	started  bool
}

// ID returns the subscription ID.
func (h *SubscriptionHandle) ID() string {
	return h.id
}

// Mode returns the subscription mode.
func (h *SubscriptionHandle) Mode() Mode {
	return h.cfg.mode
}

// State returns the current lifecycle state.
func (h *SubscriptionHandle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Position returns the global position of the last event the subscription moved past.
func (h *SubscriptionHandle) Position() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.position
}

// Err returns the error that halted the subscription, or nil.
func (h *SubscriptionHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done returns a channel closed once the subscription stopped.
func (h *SubscriptionHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops the subscription. A handler in flight is allowed to finish and
// its position is still recorded. Cancel does not wait, see Done.
func (h *SubscriptionHandle) Cancel() {
	h.cancel()
}

// WaitUntilRunning blocks until the subscription resolved its start position and
// issued its first read. It returns the error that prevented the start, if any.
func (h *SubscriptionHandle) WaitUntilRunning(ctx context.Context) error {
	select {
	case <-h.running:
	case <-ctx.Done():
		return ctx.Err()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.started {
		return nil
	}
	if h.err != nil {
		return h.err
	}
	return ErrSubscriptionClosed
}

func (h *SubscriptionHandle) markRunning() {
	h.runningOnce.Do(func() { close(h.running) })
}

func (h *SubscriptionHandle) markStarted() {
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	h.markRunning()
}

func (h *SubscriptionHandle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *SubscriptionHandle) setPosition(p uint64) {
	h.mu.Lock()
	h.position = p
	h.mu.Unlock()
}

func (h *SubscriptionHandle) stop(state State, err error) {
	h.mu.Lock()
	h.state = state
	h.err = err
	h.mu.Unlock()
}

func (h *SubscriptionHandle) run(ctx context.Context) {
	logger := h.model.logger
	defer func() {
		h.model.remove(h)
		h.markRunning()
		close(h.done)
		logger.Info("Subscription stopped",
			"subscription_id", h.id,
			"state", string(h.State()),
			"position", h.Position(),
		)
	}()

	start, err := h.resolveStart(ctx)
	if err != nil {
		h.terminate(ctx, err)
		return
	}
	h.setPosition(start)
	h.checkpointed = start

	if h.cfg.mode == ModeLive {
		h.setState(StateLive)
	} else {
		h.setState(StateCatchingUp)
	}
	logger.Info("Subscription started",
		"subscription_id", h.id,
		"mode", h.cfg.mode.String(),
		"position", start,
	)

	cursor := start
	timer := time.NewTimer(h.model.pollInterval)
	defer timer.Stop()

	for {
		// Taken before reading, so an append racing with the read still wakes us.
		wake := h.model.store.AppendSignal()

		batch, err := h.read(ctx, cursor)
		if err != nil {
			h.terminate(ctx, err)
			return
		}

		for _, stored := range batch {
			if ctx.Err() != nil {
				h.terminate(ctx, ctx.Err())
				return
			}
			if err := h.process(ctx, stored, batch[len(batch)-1].GlobalPosition); err != nil {
				h.terminate(ctx, err)
				return
			}
			cursor = stored.GlobalPosition
		}

		// A batch ending in filtered-out events still moves the checkpoint.
		if err := h.checkpoint(ctx, cursor); err != nil {
			h.terminate(ctx, err)
			return
		}

		if len(batch) == h.model.batchSize {
			continue
		}
		if h.State() == StateCatchingUp {
			if h.cfg.mode == ModeCatchUp && !h.cfg.liveAfterCatchUp {
				h.stop(StateCompleted, nil)
				return
			}
			h.setState(StateLive)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(h.model.pollInterval)
		select {
		case <-ctx.Done():
			h.terminate(ctx, ctx.Err())
			return
		case <-wake:
		case <-timer.C:
		}
	}
}

// terminate records why the loop ended. Cancellation is not an error.
func (h *SubscriptionHandle) terminate(ctx context.Context, err error) {
	if ctx.Err() != nil {
		h.stop(StateCancelled, nil)
		return
	}
	h.stop(StateHalted, err)
}

func (h *SubscriptionHandle) resolveStart(ctx context.Context) (uint64, error) {
	var start uint64
	err := h.retryStorage(ctx, "resolve_start", func() error {
		if h.cfg.mode == ModeDurable {
			pos, found, err := h.model.positions.GetPosition(ctx, h.id)
			if err != nil {
				return err
			}
			if found {
				start = pos
				return nil
			}
		}

		if h.cfg.mode == ModeLive || h.cfg.startAt.now {
			pos, err := h.model.store.LastPosition(ctx)
			if err != nil {
				return err
			}
			start = pos
			return nil
		}

		start = h.cfg.startAt.position
		return nil
	})
	return start, err
}

func (h *SubscriptionHandle) read(ctx context.Context, cursor uint64) ([]StoredEvent, error) {
	var batch []StoredEvent
	err := h.retryStorage(ctx, "read", func() error {
		var err error
		batch, err = h.model.store.ReadAll(ctx, cursor, h.model.batchSize)
		h.markStarted()
		return err
	})
	return batch, err
}

// process delivers one event and moves the subscription past it.
func (h *SubscriptionHandle) process(ctx context.Context, stored StoredEvent, lastRead uint64) error {
	if !h.filter.Matches(stored) {
		h.advance(stored.GlobalPosition, lastRead)
		return nil
	}

	if err := h.deliver(ctx, stored); err != nil {
		return err
	}

	if err := h.checkpoint(ctx, stored.GlobalPosition); err != nil {
		return err
	}

	h.advance(stored.GlobalPosition, lastRead)
	return nil
}

// checkpoint persists position for durable subscriptions that have not stored it yet.
func (h *SubscriptionHandle) checkpoint(ctx context.Context, position uint64) error {
	if h.cfg.mode != ModeDurable || position <= h.checkpointed {
		return nil
	}

	// The handler already ran, so the first write must not observe cancellation.
	writeCtx := context.WithoutCancel(ctx)
	err := h.model.positions.SetPosition(writeCtx, h.id, position)
	if err != nil {
		err = h.retryStorage(ctx, "set_position", func() error {
			return h.model.positions.SetPosition(writeCtx, h.id, position)
		})
	}
	if err != nil {
		return err
	}
	h.checkpointed = position
	return nil
}

func (h *SubscriptionHandle) advance(position, lastRead uint64) {
	h.setPosition(position)
	h.model.metrics.RecordPosition(h.id, position, lastRead-position)
}

// deliver hands the event to the handler, retrying as configured.
// It returns nil once the event is handled or skipped.
func (h *SubscriptionHandle) deliver(ctx context.Context, stored StoredEvent) error {
	event, err := h.model.store.Decode(stored)
	if err == nil {
		err = h.handleWithRetry(ctx, event)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	failure := &HandlerError{SubscriptionID: h.id, Event: stored, Cause: err}
	h.model.logger.Error("Subscription handler failed",
		"subscription_id", h.id,
		"stream_id", stored.StreamID,
		"version", stored.Version,
		"global_position", stored.GlobalPosition,
		"error_kind", ErrorKind(err),
		"error", err,
	)

	if h.cfg.errorPolicy == SkipOnError {
		h.model.metrics.RecordDelivery(h.id, DeliverySkipped, 0)
		return nil
	}
	return failure
}

func (h *SubscriptionHandle) handleWithRetry(ctx context.Context, event Event) error {
	storageFailures := 0
	for attempt := 0; ; {
		err := h.invoke(ctx, event)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}

		var delay time.Duration
		if errors.Is(err, ErrStorageUnavailable) {
			// A projection whose storage is down pauses instead of failing.
			storageFailures++
			if isPowerOfTwo(storageFailures) {
				h.model.logger.Warn("Handler storage unavailable, retrying",
					"subscription_id", h.id,
					"stream_id", event.StreamID,
					"attempt", storageFailures,
					"error", err,
				)
			}
			delay = h.model.storageRetry().Delay(storageFailures - 1)
		} else {
			if !h.cfg.handlerRetry.ShouldRetry(attempt, err) {
				return err
			}
			delay = h.cfg.handlerRetry.Delay(attempt)
			attempt++
		}

		if werr := sleep(ctx, delay); werr != nil {
			return err
		}
	}
}

// invoke runs the handler once inside the shared worker pool.
func (h *SubscriptionHandle) invoke(ctx context.Context, event Event) (err error) {
	if err := h.model.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.model.sem.Release(1)

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
		result := DeliveryHandled
		if err != nil {
			result = DeliveryFailed
		}
		h.model.metrics.RecordDelivery(h.id, result, time.Since(start))
	}()

	// The handler is never interrupted by Cancel.
	return h.handler.Handle(context.WithoutCancel(ctx), event)
}

// retryStorage retries fn while it fails with ErrStorageUnavailable.
// Warnings are logged at attempt counts that are powers of two.
func (h *SubscriptionHandle) retryStorage(ctx context.Context, op string, fn func() error) error {
	policy := h.model.storageRetry()
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, ErrStorageUnavailable) {
			return err
		}
		if isPowerOfTwo(attempt + 1) {
			h.model.logger.Warn("Subscription storage unavailable, retrying",
				"subscription_id", h.id,
				"operation", op,
				"attempt", attempt+1,
				"error", err,
			)
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
}
