package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/debounce"
)

// Default auto-save timings.
const (
	DefaultDelay     = time.Second
	DefaultFreshness = time.Hour
	writeTimeout     = 5 * time.Second
)

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithDelay sets the auto-save debounce delay.
func WithDelay(d time.Duration) SaverOption {
	return func(s *Saver) { s.delay = d }
}

// WithFreshness sets how old a snapshot may be and still be restored.
func WithFreshness(d time.Duration) SaverOption {
	return func(s *Saver) {
		if d > 0 {
			s.freshness = d
		}
	}
}

// WithClock overrides the clock used for timestamps and freshness.
func WithClock(now func() time.Time) SaverOption {
	return func(s *Saver) { s.now = now }
}

// WithAfterFunc injects the timer factory used for debouncing.
func WithAfterFunc(f debounce.AfterFunc) SaverOption {
	return func(s *Saver) { s.afterFunc = f }
}

// WithOnSaved registers a callback run after each successful write.
func WithOnSaved(fn func(time.Time)) SaverOption {
	return func(s *Saver) { s.onSaved = fn }
}

// WithOnFailure registers a callback run when a write fails and auto-save
// is disabled.
func WithOnFailure(fn func(error)) SaverOption {
	return func(s *Saver) { s.onFailure = fn }
}

// Saver auto-saves one entity's workflow state. Storage failures are logged
// and never returned to the caller; the first failed write disables
// auto-save for the rest of the session.
type Saver struct {
	store     Store
	entityID  string
	delay     time.Duration
	freshness time.Duration
	now       func() time.Time
	afterFunc debounce.AfterFunc
	onSaved   func(time.Time)
	onFailure func(error)
	debouncer *debounce.Debouncer
	logger    *slog.Logger

	mu       sync.Mutex
	disabled bool
	gen      uint64 // bumped by Clear; older scheduled writes are dropped

	// writeMu serializes store writes with Clear so a write already in
	// flight cannot land after the snapshot was removed.
	writeMu sync.Mutex
}

func NewSaver(store Store, entityID string, opts ...SaverOption) *Saver {
	s := &Saver{
		store:     store,
		entityID:  entityID,
		delay:     DefaultDelay,
		freshness: DefaultFreshness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	var dopts []debounce.Option
	if s.afterFunc != nil {
		dopts = append(dopts, debounce.WithAfterFunc(s.afterFunc))
	}
	s.debouncer = debounce.New(s.delay, dopts...)
	s.logger = slog.Default().With("component", "snapshot", "entity", entityID)
	return s
}

// Key is the store key this saver writes.
func (s *Saver) Key() string { return Key(s.entityID) }

// Disabled reports whether auto-save was turned off by a failed write.
func (s *Saver) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Schedule queues a save of the given state, replacing any pending save.
func (s *Saver) Schedule(fields contracts.FormData, step contracts.Step) {
	s.mu.Lock()
	disabled, gen := s.disabled, s.gen
	s.mu.Unlock()
	if disabled {
		return
	}
	fields = fields.Clone()
	s.debouncer.Schedule(func() {
		s.write(fields, step, gen)
	})
}

// Flush runs a pending save immediately.
func (s *Saver) Flush() bool {
	return s.debouncer.Flush()
}

// Stop drops a pending save.
func (s *Saver) Stop() {
	s.debouncer.Cancel()
}

func (s *Saver) write(fields contracts.FormData, step contracts.Step, gen uint64) {
	at, ok, err := s.persist(fields, step, gen)
	if !ok {
		return
	}
	if err != nil {
		s.mu.Lock()
		s.disabled = true
		s.mu.Unlock()
		s.logger.Warn("auto-save failed, disabling for this session", "error", err)
		if s.onFailure != nil {
			s.onFailure(err)
		}
		return
	}
	if s.onSaved != nil {
		s.onSaved(at)
	}
}

// persist writes the snapshot unless auto-save is disabled or a Clear
// happened since the write was scheduled. ok is false when nothing ran.
func (s *Saver) persist(fields contracts.FormData, step contracts.Step, gen uint64) (at time.Time, ok bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	skip := s.disabled || gen != s.gen
	s.mu.Unlock()
	if skip {
		return time.Time{}, false, nil
	}
	at = s.now()
	snap := &Snapshot{
		FormData:      fields,
		CurrentStep:   step,
		Timestamp:     at,
		EntityID:      s.entityID,
		FormatVersion: FormatVersion,
	}
	data, err := snap.Encode()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err = s.store.Set(ctx, s.Key(), data)
		cancel()
	}
	return at, true, err
}

// Load returns the stored snapshot when it belongs to this entity, is
// younger than the freshness window and has a compatible format. Anything
// else reads as absent.
func (s *Saver) Load(ctx context.Context) (*Snapshot, bool) {
	data, err := s.store.Get(ctx, s.Key())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("snapshot read failed", "error", err)
		}
		return nil, false
	}
	snap, err := Decode(data)
	if err != nil {
		s.logger.Warn("discarding unreadable snapshot", "error", err)
		return nil, false
	}
	if snap.EntityID != s.entityID {
		s.logger.Debug("discarding snapshot of another entity", "snapshot_entity", snap.EntityID)
		return nil, false
	}
	if age := snap.Age(s.now()); age >= s.freshness {
		s.logger.Debug("discarding stale snapshot", "age", age)
		return nil, false
	}
	return snap, true
}

// Clear drops any pending save and removes the stored snapshot. A write
// already in progress finishes first and is then removed with the rest.
func (s *Saver) Clear(ctx context.Context) {
	s.mu.Lock()
	s.gen++
	s.mu.Unlock()
	s.debouncer.Cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.store.Remove(ctx, s.Key()); err != nil {
		s.logger.Warn("snapshot clear failed", "error", err)
	}
}
