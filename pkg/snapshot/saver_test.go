package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/debounce"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type failingStore struct {
	*MemoryStore
	sets int
}

func (f *failingStore) Set(context.Context, string, []byte) error {
	f.sets++
	return errors.New("quota exceeded")
}

type manualTimer struct {
	fn      func()
	stopped bool
}

func (m *manualTimer) Stop() bool {
	was := !m.stopped
	m.stopped = true
	return was
}

func sampleFields() contracts.FormData {
	f := contracts.DefaultFormData()
	f.Set(contracts.FieldReason, "wrong_project")
	f.Set("impactAssessment.project", true)
	return f
}

func TestSaver_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	c := &clock{now: epoch}
	var saved []time.Time
	s := NewSaver(store, "42", WithDelay(0), WithClock(c.Now), WithOnSaved(func(at time.Time) { saved = append(saved, at) }))

	s.Schedule(sampleFields(), contracts.StepImpact)

	snap, ok := s.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, "42", snap.EntityID)
	assert.Equal(t, contracts.StepImpact, snap.CurrentStep)
	assert.Equal(t, "wrong_project", snap.FormData.Reason())
	assert.True(t, snap.FormData.ImpactAssessment()[contracts.ImpactProject])
	assert.Equal(t, FormatVersion, snap.FormatVersion)
	assert.Equal(t, []time.Time{epoch}, saved)

	raw, err := store.Get(context.Background(), "workflow-state-42")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"formData"`)
	assert.Contains(t, string(raw), `"entityId":"42"`)
}

func TestSaver_Freshness(t *testing.T) {
	tests := []struct {
		age  time.Duration
		want bool
	}{
		{0, true},
		{59 * time.Minute, true},
		{time.Hour - time.Nanosecond, true},
		{time.Hour, false},
		{3 * time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.age.String(), func(t *testing.T) {
			c := &clock{now: epoch}
			s := NewSaver(NewMemoryStore(), "42", WithDelay(0), WithClock(c.Now))
			s.Schedule(sampleFields(), contracts.StepConfirmation)

			c.Advance(tt.age)
			_, ok := s.Load(context.Background())
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestSaver_IgnoresOtherEntity(t *testing.T) {
	store := NewMemoryStore()
	snap := &Snapshot{FormData: sampleFields(), Timestamp: epoch, EntityID: "7", FormatVersion: FormatVersion}
	data, err := snap.Encode()
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), Key("42"), data))

	s := NewSaver(store, "42", WithClock(func() time.Time { return epoch }))
	_, ok := s.Load(context.Background())
	assert.False(t, ok)
}

func TestSaver_RejectsIncompatibleFormat(t *testing.T) {
	for _, version := range []string{"2.0.0", "0.9.0", "not-a-version"} {
		store := NewMemoryStore()
		snap := &Snapshot{FormData: sampleFields(), Timestamp: epoch, EntityID: "42", FormatVersion: version}
		data, err := snap.Encode()
		require.NoError(t, err)
		require.NoError(t, store.Set(context.Background(), Key("42"), data))

		s := NewSaver(store, "42", WithClock(func() time.Time { return epoch }))
		_, ok := s.Load(context.Background())
		assert.False(t, ok, version)
	}

	_, err := Decode([]byte(`{"formatVersion":"1.4.2","currentStep":1}`))
	assert.NoError(t, err, "minor versions of 1 are compatible")
}

func TestSaver_GarbageReadsAsAbsent(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), Key("42"), []byte("{not json")))

	_, ok := NewSaver(store, "42").Load(context.Background())
	assert.False(t, ok)
}

func TestSaver_WriteFailureDisablesAutoSave(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	var failures int
	s := NewSaver(store, "42", WithDelay(0), WithOnFailure(func(error) { failures++ }))

	s.Schedule(sampleFields(), contracts.StepReason)
	s.Schedule(sampleFields(), contracts.StepImpact)

	assert.True(t, s.Disabled())
	assert.Equal(t, 1, store.sets)
	assert.Equal(t, 1, failures)
}

func TestSaver_DebouncesWrites(t *testing.T) {
	var timers []*manualTimer
	af := func(_ time.Duration, fn func()) debounce.Timer {
		tm := &manualTimer{fn: fn}
		timers = append(timers, tm)
		return tm
	}
	store := NewMemoryStore()
	c := &clock{now: epoch}
	s := NewSaver(store, "42", WithAfterFunc(af), WithClock(c.Now))

	s.Schedule(sampleFields(), contracts.StepReason)
	s.Schedule(sampleFields(), contracts.StepImpact)
	assert.Equal(t, 0, store.Len(), "nothing written before the delay")

	for _, tm := range timers {
		tm.fn()
	}
	snap, ok := s.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, contracts.StepImpact, snap.CurrentStep, "only the latest state is written")
}

func TestSaver_ClearRemovesAndCancels(t *testing.T) {
	var timers []*manualTimer
	af := func(_ time.Duration, fn func()) debounce.Timer {
		tm := &manualTimer{fn: fn}
		timers = append(timers, tm)
		return tm
	}
	store := NewMemoryStore()
	s := NewSaver(store, "42", WithAfterFunc(af))
	require.NoError(t, store.Set(context.Background(), Key("42"), []byte("{}")))

	s.Schedule(sampleFields(), contracts.StepImpact)
	s.Clear(context.Background())
	for _, tm := range timers {
		tm.fn()
	}

	assert.Equal(t, 0, store.Len())
}

// blockingStore holds every Set until release is closed.
type blockingStore struct {
	*MemoryStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingStore() *blockingStore {
	return &blockingStore{
		MemoryStore: NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (b *blockingStore) Set(ctx context.Context, key string, value []byte) error {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryStore.Set(ctx, key, value)
}

func TestSaver_ClearWaitsForInFlightWrite(t *testing.T) {
	store := newBlockingStore()
	s := NewSaver(store, "42", WithDelay(0))

	written := make(chan struct{})
	go func() {
		defer close(written)
		s.Schedule(sampleFields(), contracts.StepImpact)
	}()
	<-store.entered

	cleared := make(chan struct{})
	go func() {
		defer close(cleared)
		s.Clear(context.Background())
	}()

	close(store.release)
	<-written
	<-cleared

	_, err := store.Get(context.Background(), Key("42"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, ok := s.Load(context.Background())
	assert.False(t, ok)
}

func TestSaver_SchedulesAgainAfterClear(t *testing.T) {
	store := NewMemoryStore()
	s := NewSaver(store, "42", WithDelay(0))

	s.Schedule(sampleFields(), contracts.StepReason)
	s.Clear(context.Background())
	require.Equal(t, 0, store.Len())

	s.Schedule(sampleFields(), contracts.StepImpact)
	snap, ok := s.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, contracts.StepImpact, snap.CurrentStep)
}

func TestSaver_ScheduleCopiesFields(t *testing.T) {
	store := NewMemoryStore()
	var timers []*manualTimer
	af := func(_ time.Duration, fn func()) debounce.Timer {
		tm := &manualTimer{fn: fn}
		timers = append(timers, tm)
		return tm
	}
	s := NewSaver(store, "42", WithAfterFunc(af), WithClock(func() time.Time { return epoch }))

	fields := sampleFields()
	s.Schedule(fields, contracts.StepReason)
	fields.Set(contracts.FieldReason, "mutated")
	timers[0].fn()

	snap, ok := s.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, "wrong_project", snap.FormData.Reason())
}
