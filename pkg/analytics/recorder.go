// Package analytics records workflow events, derives summaries from them
// and ships them to durable sinks.
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/glass-erp/deleteflow/pkg/contracts"
)

// Defaults for the recorder lifecycle and anomaly detection.
const (
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxQueue      = 1000
	// DefaultAnomalyBurst attempt or failure events are tolerated before the
	// refill rate applies.
	DefaultAnomalyBurst = 5
)

// DefaultAnomalyRate refills one attempt token every ten seconds.
var DefaultAnomalyRate = rate.Every(10 * time.Second)

// anomalyTypes are the event types counted by the anomaly limiter.
var anomalyTypes = map[contracts.EventType]bool{
	contracts.EventDeletionAttempt:   true,
	contracts.EventDeletionFailed:    true,
	contracts.EventValidationFailure: true,
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(r *Recorder) { r.sessionID = id }
}

// WithClock overrides the event clock.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithSink ships recorded events to s from the background loop.
func WithSink(s Sink) Option {
	return func(r *Recorder) { r.sink = s }
}

// WithFlushInterval sets how often queued events are shipped.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithMaxQueue bounds the number of events waiting for the sink.
func WithMaxQueue(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.maxQueue = n
		}
	}
}

// WithAnomalyLimit sets the token bucket used to flag bursts of attempts.
func WithAnomalyLimit(limit rate.Limit, burst int) Option {
	return func(r *Recorder) { r.limiter = rate.NewLimiter(limit, burst) }
}

// WithMeter overrides the OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(r *Recorder) { r.meter = m }
}

// Recorder is the append-only analytics log of one workflow session.
// Recording never fails the caller: internal errors are logged.
type Recorder struct {
	sessionID     string
	now           func() time.Time
	sink          Sink
	flushInterval time.Duration
	maxQueue      int
	limiter       *rate.Limiter
	meter         metric.Meter
	counter       metric.Int64Counter
	logger        *slog.Logger

	mu         sync.Mutex
	events     []contracts.Event
	queue      []contracts.Event
	dropped    int
	marks      map[string]time.Time
	suspicious bool

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New creates a Recorder with a fresh session id.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		sessionID:     uuid.NewString(),
		now:           time.Now,
		flushInterval: DefaultFlushInterval,
		maxQueue:      DefaultMaxQueue,
		limiter:       rate.NewLimiter(DefaultAnomalyRate, DefaultAnomalyBurst),
		meter:         otel.Meter("github.com/glass-erp/deleteflow/pkg/analytics"),
		marks:         make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = slog.Default().With("component", "analytics", "session", r.sessionID)
	counter, err := r.meter.Int64Counter("deleteflow.analytics.events",
		metric.WithDescription("Workflow analytics events recorded, by type"),
	)
	if err != nil {
		r.logger.Warn("analytics counter unavailable", "error", err)
	}
	r.counter = counter
	return r
}

// SessionID identifies this workflow instance in every event.
func (r *Recorder) SessionID() string { return r.sessionID }

// RecordEvent appends an event and returns it. Data is copied.
func (r *Recorder) RecordEvent(eventType contracts.EventType, data map[string]any) (ev contracts.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("analytics record panicked", "panic", p, "type", eventType)
		}
	}()

	now := r.now()
	ev = r.newEvent(eventType, now, maps.Clone(data))

	r.mu.Lock()
	r.appendLocked(ev)
	var flagged *contracts.Event
	if anomalyTypes[eventType] && !r.limiter.AllowN(now, 1) && !r.suspicious {
		r.suspicious = true
		sev := r.newEvent(contracts.EventSuspiciousActivity, now, map[string]any{"trigger": string(eventType)})
		r.appendLocked(sev)
		flagged = &sev
	}
	r.mu.Unlock()

	r.count(ev.Type)
	if flagged != nil {
		r.count(flagged.Type)
		r.logger.Warn("suspicious activity detected", "trigger", eventType)
	}
	return ev
}

func (r *Recorder) newEvent(t contracts.EventType, at time.Time, data map[string]any) contracts.Event {
	return contracts.Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: at,
		SessionID: r.sessionID,
		Data:      data,
	}
}

func (r *Recorder) appendLocked(ev contracts.Event) {
	r.events = append(r.events, ev)
	if r.sink == nil {
		return
	}
	if len(r.queue) >= r.maxQueue {
		r.queue = r.queue[1:]
		r.dropped++
	}
	r.queue = append(r.queue, ev)
}

func (r *Recorder) count(t contracts.EventType) {
	if r.counter == nil {
		return
	}
	r.counter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", string(t))))
}

// Events returns a copy of the log in recording order.
func (r *Recorder) Events() []contracts.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]contracts.Event(nil), r.events...)
}

// Suspicious reports whether the anomaly limiter flagged this session.
func (r *Recorder) Suspicious() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.suspicious
}

// Summary aggregates this session's events.
func (r *Recorder) Summary() Summary {
	return Summarize(r.Events())
}

// StartMark begins timing name. Starting it again restarts the timer.
func (r *Recorder) StartMark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks[name] = r.now()
}

// EndMark records a performance event for a started mark. Ending a mark
// that was never started does nothing.
func (r *Recorder) EndMark(name string) (time.Duration, bool) {
	r.mu.Lock()
	start, ok := r.marks[name]
	delete(r.marks, name)
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	d := r.now().Sub(start)
	r.RecordEvent(contracts.EventPerformance, map[string]any{
		"name":       name,
		"durationMs": d.Milliseconds(),
	})
	return d, true
}

// Dropped reports how many queued events were discarded because the sink
// fell behind.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Start launches the background flush loop. It is a no-op without a sink
// or when already running.
func (r *Recorder) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.sink == nil || r.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(ctx, r.done)
}

func (r *Recorder) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("analytics flush failed", "error", err)
			}
		}
	}
}

// Dispose stops the flush loop and ships whatever is still queued.
func (r *Recorder) Dispose(ctx context.Context) error {
	r.runMu.Lock()
	if r.running {
		r.cancel()
		<-r.done
		r.running = false
	}
	r.runMu.Unlock()
	return r.Flush(ctx)
}

// Flush ships queued events to the sink. On failure the batch is put back
// at the head of the queue, within the queue bound.
func (r *Recorder) Flush(ctx context.Context) error {
	if r.sink == nil {
		return nil
	}
	r.mu.Lock()
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if err := r.sink.Write(ctx, batch); err != nil {
		r.mu.Lock()
		merged := append(batch, r.queue...)
		if over := len(merged) - r.maxQueue; over > 0 {
			merged = merged[over:]
			r.dropped += over
		}
		r.queue = merged
		r.mu.Unlock()
		return fmt.Errorf("write %d events: %w", len(batch), err)
	}
	return nil
}
