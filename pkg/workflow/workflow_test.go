package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glass-erp/deleteflow/pkg/analytics"
	"github.com/glass-erp/deleteflow/pkg/api"
	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/debounce"
	"github.com/glass-erp/deleteflow/pkg/deleter"
	"github.com/glass-erp/deleteflow/pkg/snapshot"
	"github.com/glass-erp/deleteflow/pkg/validation"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testEntry() contracts.WorkEntry {
	return contracts.WorkEntry{
		ID:           "42",
		Version:      3,
		Status:       contracts.WorkStatusSubmitted,
		OwnerID:      "u-1",
		ProjectPhase: contracts.PhaseActive,
		CreatedAt:    testNow.Add(-2 * time.Hour),
	}
}

// manualTimers fires scheduled callbacks only when the test says so.
type manualTimers struct {
	mu      sync.Mutex
	pending []*manualTimer
}

type manualTimer struct {
	mu      sync.Mutex
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (m *manualTimers) AfterFunc(_ time.Duration, fn func()) debounce.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{fn: fn}
	m.pending = append(m.pending, t)
	return t
}

func (m *manualTimers) FireAll() int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	fired := 0
	for _, t := range pending {
		if t.Stop() {
			t.fn()
			fired++
		}
	}
	return fired
}

type fakeDeleter struct {
	mu    sync.Mutex
	calls []contracts.DeletionPayload
	fn    func(ctx context.Context, p contracts.DeletionPayload) (*deleter.Response, error)
}

func (f *fakeDeleter) Delete(ctx context.Context, p contracts.DeletionPayload) (*deleter.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, p)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &deleter.Response{StatusCode: http.StatusOK, Message: "Daily work entry deleted.", ID: p.EntityID}, nil
	}
	return fn(ctx, p)
}

func (f *fakeDeleter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	wf       *Workflow
	deleter  *fakeDeleter
	store    *snapshot.MemoryStore
	timers   *manualTimers
	recorder *analytics.Recorder

	mu          sync.Mutex
	validations []*contracts.ValidationResult
	errs        []error
	cancelled   []contracts.Step
	successes   int
	steps       [][2]contracts.Step
	data        []contracts.FormData
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	engine, err := validation.New(func() validation.Options {
		o := validation.OptionsFromPolicy(config.DefaultPolicy())
		o.Clock = testClock
		return o
	}())
	require.NoError(t, err)

	f := &fixture{
		deleter:  &fakeDeleter{},
		store:    snapshot.NewMemoryStore(),
		timers:   &manualTimers{},
		recorder: analytics.New(analytics.WithClock(testClock), analytics.WithSessionID("sess-1")),
	}
	opts := Options{
		Entry:     testEntry(),
		User:      contracts.UserContext{ID: "u-1"},
		Engine:    engine,
		Deleter:   f.deleter,
		Snapshots: f.store,
		Recorder:  f.recorder,
		Clock:     testClock,
		AfterFunc: f.timers.AfterFunc,
		Callbacks: Callbacks{
			OnStepChange: func(from, to contracts.Step) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.steps = append(f.steps, [2]contracts.Step{from, to})
			},
			OnDataChange: func(fields contracts.FormData) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.data = append(f.data, fields)
			},
			OnValidation: func(res *contracts.ValidationResult) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.validations = append(f.validations, res)
			},
			OnError: func(err error) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.errs = append(f.errs, err)
			},
			OnCancel: func(step contracts.Step) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.cancelled = append(f.cancelled, step)
			},
			OnSuccess: func(*deleter.Response) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.successes++
			},
		},
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.wf, err = New(opts)
	require.NoError(t, err)
	f.wf.Open(context.Background())
	t.Cleanup(func() { _ = f.wf.Close(context.Background()) })
	return f
}

func (f *fixture) fill(t *testing.T, phrase string) {
	t.Helper()
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "duplicate_entry"))
	require.NoError(t, f.wf.ChangeField("impactAssessment.project", true))
	require.NoError(t, f.wf.ChangeField("impactAssessment.reporting", true))
	require.NoError(t, f.wf.ChangeField(contracts.FieldConfirmation, phrase))
	require.NoError(t, f.wf.ChangeField(contracts.FieldAcknowledgeConsequences, true))
	require.NoError(t, f.wf.GoToStep(contracts.StepConfirmation))
}

func (f *fixture) errorCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func eventsOf(r *analytics.Recorder, typ contracts.EventType) []contracts.Event {
	var out []contracts.Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	engine, err := validation.New(validation.OptionsFromPolicy(config.DefaultPolicy()))
	require.NoError(t, err)

	_, err = New(Options{Engine: engine, Deleter: &fakeDeleter{}})
	assert.Error(t, err)
	_, err = New(Options{Entry: testEntry(), Deleter: &fakeDeleter{}})
	assert.Error(t, err)
	_, err = New(Options{Entry: testEntry(), Engine: engine})
	assert.Error(t, err)
}

func TestSubmit_DeletesThroughServer(t *testing.T) {
	entries := api.NewMemoryEntries(testEntry())
	srv, err := api.NewServer(api.ServerOptions{CSRFToken: "tok", Entries: entries})
	require.NoError(t, err)

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			hits.Add(1)
		}
		srv.Handler().ServeHTTP(w, r)
	}))
	defer ts.Close()

	client, err := deleter.New(deleter.Options{
		BaseURL:    ts.URL,
		CSRF:       deleter.StaticToken("tok"),
		HTTPClient: ts.Client(),
	})
	require.NoError(t, err)

	f := newFixture(t, func(o *Options) { o.Deleter = client })
	f.fill(t, "delete work")
	require.True(t, f.wf.FlushAutoSave())
	require.Equal(t, 1, f.store.Len())

	resp, err := f.wf.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "42", resp.ID)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 0, entries.Len())
	assert.Equal(t, StateSucceeded, f.wf.State())
	assert.Equal(t, OutcomeSucceeded, f.wf.Outcome())
	assert.Equal(t, 1, f.wf.Security().RecentAttempts)
	assert.Equal(t, 0, f.store.Len(), "snapshot is cleared after success")
	assert.Equal(t, 1, f.successes)

	attempts := eventsOf(f.recorder, contracts.EventDeletionAttempt)
	require.Len(t, attempts, 1)
	assert.Equal(t, true, attempts[0].Data["success"])
	assert.Equal(t, "duplicate_entry", attempts[0].Data["reason"])
}

func TestSubmit_WrongPhraseSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "delete")

	_, err := f.wf.Submit(context.Background())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields(), contracts.FieldConfirmation)
	assert.Equal(t, 0, f.deleter.Calls())
	assert.Equal(t, StateIdle, f.wf.State())
	assert.Equal(t, 0, f.wf.Security().RecentAttempts, "local validation failures do not count")
	assert.NotEmpty(t, eventsOf(f.recorder, contracts.EventValidationFailure))
	assert.Equal(t, "Please correct the highlighted fields.", ErrorMessage(err))
}

func TestSubmit_RateLimitAfterMaxFailures(t *testing.T) {
	f := newFixture(t)
	f.deleter.fn = func(context.Context, contracts.DeletionPayload) (*deleter.Response, error) {
		return nil, &deleter.RequestError{StatusCode: http.StatusInternalServerError, Message: "Server exploded."}
	}
	f.fill(t, "DELETE WORK")

	for i := 1; i <= 3; i++ {
		_, err := f.wf.Submit(context.Background())
		var rerr *deleter.RequestError
		require.ErrorAs(t, err, &rerr, "attempt %d", i)
		assert.Equal(t, "Server exploded.", ErrorMessage(err))
		assert.Equal(t, i, f.wf.Security().RecentAttempts)
		assert.Equal(t, StateIdle, f.wf.State())
		assert.Equal(t, OutcomeFailed, f.wf.Outcome())
	}
	assert.True(t, f.wf.Security().RateLimitWarning)

	_, err := f.wf.Submit(context.Background())

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3, rl.Attempts)
	assert.Equal(t, 0, rl.Remaining())
	assert.Equal(t, 3, f.deleter.Calls(), "a rate-limited submit sends nothing")
	assert.Equal(t, 3, f.errorCount())
	assert.Len(t, eventsOf(f.recorder, contracts.EventRateLimited), 1)
	assert.Len(t, eventsOf(f.recorder, contracts.EventRepeatedFailures), 2)

	failed := eventsOf(f.recorder, contracts.EventDeletionFailed)
	require.Len(t, failed, 3)
	assert.Equal(t, http.StatusInternalServerError, failed[0].Data["status"])
}

func TestCancel_AbortsInFlightRequest(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	f.deleter.fn = func(ctx context.Context, _ contracts.DeletionPayload) (*deleter.Response, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.fill(t, "DELETE WORK")

	errc := make(chan error, 1)
	go func() {
		_, err := f.wf.Submit(context.Background())
		errc <- err
	}()
	<-started
	f.wf.Cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after cancel")
	}
	assert.Equal(t, StateIdle, f.wf.State())
	assert.Equal(t, OutcomeCancelled, f.wf.Outcome())
	assert.Equal(t, 0, f.errorCount(), "cancellation is not an error")
	assert.Equal(t, []contracts.Step{contracts.StepConfirmation}, f.cancelled)

	abandoned := eventsOf(f.recorder, contracts.EventAbandoned)
	require.Len(t, abandoned, 1)
	assert.Equal(t, int(contracts.StepConfirmation), abandoned[0].Data["step"])
	assert.Empty(t, eventsOf(f.recorder, contracts.EventDeletionFailed))
}

func TestSubmit_RejectsReentry(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	f.deleter.fn = func(_ context.Context, p contracts.DeletionPayload) (*deleter.Response, error) {
		close(started)
		<-release
		return &deleter.Response{StatusCode: http.StatusOK, ID: p.EntityID}, nil
	}
	f.fill(t, "DELETE WORK")

	errc := make(chan error, 1)
	go func() {
		_, err := f.wf.Submit(context.Background())
		errc <- err
	}()
	<-started

	_, err := f.wf.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)
	assert.ErrorIs(t, f.wf.ChangeField(contracts.FieldDetails, "late"), ErrSubmitInProgress)
	assert.Equal(t, StateSubmitting, f.wf.State())

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, f.deleter.Calls())
}

func TestSubmit_SucceededIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.fill(t, "DELETE WORK")
	_, err := f.wf.Submit(context.Background())
	require.NoError(t, err)

	_, err = f.wf.Submit(context.Background())
	assert.ErrorIs(t, err, ErrAlreadySucceeded)
	assert.ErrorIs(t, f.wf.ChangeField(contracts.FieldReason, "other"), ErrAlreadySucceeded)
	assert.ErrorIs(t, f.wf.Reset(), ErrAlreadySucceeded)

	f.wf.Cancel()
	assert.Empty(t, eventsOf(f.recorder, contracts.EventAbandoned))
	assert.Empty(t, f.cancelled)
	assert.Equal(t, 1, f.deleter.Calls())
}

func TestSubmit_BusinessRuleBlocks(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Entry.Status = contracts.WorkStatusBilled
	})
	f.fill(t, "DELETE WORK")

	_, err := f.wf.Submit(context.Background())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields(), contracts.ErrorKeyBusiness)
	assert.Equal(t, 0, f.deleter.Calls())
}

func TestNext_GatesOnStepValidity(t *testing.T) {
	f := newFixture(t)

	_, err := f.wf.Next(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields(), contracts.FieldReason)
	assert.Equal(t, contracts.StepReason, f.wf.FormState().CurrentStep)

	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "duplicate_entry"))
	res, err := f.wf.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, res.StepValid(contracts.StepReason))
	assert.Equal(t, contracts.StepImpact, f.wf.FormState().CurrentStep)

	require.NoError(t, f.wf.Back())
	assert.Equal(t, contracts.StepReason, f.wf.FormState().CurrentStep)
	assert.Error(t, f.wf.Back(), "cannot go before the first step")
}

func TestValidation_DebouncedToLatestChange(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ValidationDelay = 300 * time.Millisecond })

	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "bored"))
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "duplicate_entry"))
	assert.Empty(t, f.validations, "nothing runs before the delay")

	f.timers.FireAll()

	require.Len(t, f.validations, 1)
	assert.NotContains(t, f.validations[0].Errors, contracts.FieldReason)
	assert.True(t, f.wf.LastValidation().StepValid(contracts.StepReason))
}

type gatedVerifier struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedVerifier) Verify(context.Context, string) error {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return nil
}

func TestValidation_StaleResultDiscarded(t *testing.T) {
	gate := &gatedVerifier{entered: make(chan struct{}), release: make(chan struct{})}
	engine, err := validation.New(func() validation.Options {
		o := validation.OptionsFromPolicy(config.DefaultPolicy())
		o.Clock = testClock
		o.Session = gate
		return o
	}())
	require.NoError(t, err)
	f := newFixture(t, func(o *Options) { o.Engine = engine })

	slow := make(chan *contracts.ValidationResult, 1)
	go func() { slow <- f.wf.Validate(context.Background()) }()
	<-gate.entered

	fresh := f.wf.Validate(context.Background())
	close(gate.release)
	stale := <-slow

	require.NotNil(t, stale)
	require.Len(t, f.validations, 1, "only the newest result is published")
	assert.Equal(t, fresh.Errors, f.validations[0].Errors)
}

func TestOpen_RestoresFreshSnapshot(t *testing.T) {
	first := newFixture(t)
	require.NoError(t, first.wf.ChangeField(contracts.FieldReason, "wrong_date"))
	require.NoError(t, first.wf.GoToStep(contracts.StepImpact))
	require.True(t, first.wf.FlushAutoSave())

	second := newFixture(t, func(o *Options) { o.Snapshots = first.store })

	st := second.wf.FormState()
	assert.Equal(t, "wrong_date", st.Fields.Reason())
	assert.Equal(t, contracts.StepImpact, st.CurrentStep)
	assert.True(t, st.IsDirty)

	starts := eventsOf(second.recorder, contracts.EventWorkflowStart)
	require.Len(t, starts, 1)
	assert.Equal(t, true, starts[0].Data["restored"])

	assert.Equal(t, [][2]contracts.Step{{contracts.StepReason, contracts.StepImpact}}, second.steps)
	require.Len(t, second.data, 1)
	assert.Equal(t, "wrong_date", second.data[0].Reason())
}

func TestOpen_WithoutSnapshotFiresNothing(t *testing.T) {
	f := newFixture(t)

	assert.Empty(t, f.steps)
	assert.Empty(t, f.data)
}

func TestCallbacks_StepAndDataChanges(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.wf.ChangeField("impactAssessment.financial", true))
	require.NoError(t, f.wf.GoToStep(contracts.StepImpact))
	require.Error(t, f.wf.GoToStep(contracts.Step(7)))
	require.NoError(t, f.wf.Back())

	require.Len(t, f.data, 1)
	assert.True(t, f.data[0].ImpactAssessment()[contracts.ImpactFinancial])
	assert.Equal(t, [][2]contracts.Step{
		{contracts.StepReason, contracts.StepImpact},
		{contracts.StepImpact, contracts.StepReason},
	}, f.steps)

	require.NoError(t, f.wf.Reset())
	require.Len(t, f.data, 2, "reset publishes the cleared form")
	assert.False(t, f.data[1].ImpactAssessment()[contracts.ImpactFinancial])
}

func TestCancel_IdleAbandonsAndClearsSnapshot(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "wrong_date"))
	require.NoError(t, f.wf.GoToStep(contracts.StepImpact))
	require.True(t, f.wf.FlushAutoSave())
	require.Equal(t, 1, f.store.Len())

	f.wf.Cancel()

	assert.Equal(t, 0, f.store.Len(), "snapshot for entry 42 is removed")
	assert.Equal(t, []contracts.Step{contracts.StepImpact}, f.cancelled)
	assert.Equal(t, 0, f.errorCount())
	assert.Equal(t, 0, f.deleter.Calls())
	assert.Equal(t, StateIdle, f.wf.State())

	abandoned := eventsOf(f.recorder, contracts.EventAbandoned)
	require.Len(t, abandoned, 1)
	assert.Equal(t, int(contracts.StepImpact), abandoned[0].Data["step"])
	assert.Equal(t, "42", abandoned[0].Data["entityId"])
}

// blockingStore holds the first Set until release is closed.
type blockingStore struct {
	*snapshot.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Set(ctx context.Context, key string, value []byte) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.MemoryStore.Set(ctx, key, value)
}

func TestCancel_RemovesSnapshotWrittenConcurrently(t *testing.T) {
	store := &blockingStore{
		MemoryStore: snapshot.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	f := newFixture(t, func(o *Options) { o.Snapshots = store })
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "wrong_date"))

	saved := make(chan struct{})
	go func() {
		defer close(saved)
		f.timers.FireAll()
	}()
	<-store.entered

	cancelled := make(chan struct{})
	go func() {
		defer close(cancelled)
		f.wf.Cancel()
	}()
	close(store.release)
	<-saved
	<-cancelled

	_, err := store.Get(context.Background(), snapshot.Key("42"))
	assert.ErrorIs(t, err, snapshot.ErrNotFound)

	reopened := newFixture(t, func(o *Options) { o.Snapshots = store })
	assert.Empty(t, reopened.wf.FormState().Fields.Reason())
}

func TestCancel_LateDuringCommittedSubmitHasOneOutcome(t *testing.T) {
	f := newFixture(t)
	f.deleter.fn = func(_ context.Context, p contracts.DeletionPayload) (*deleter.Response, error) {
		f.wf.Cancel()
		return &deleter.Response{StatusCode: http.StatusOK, ID: p.EntityID}, nil
	}
	f.fill(t, "DELETE WORK")

	resp, err := f.wf.Submit(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "42", resp.ID)
	assert.Equal(t, OutcomeSucceeded, f.wf.Outcome())
	assert.Equal(t, 1, f.successes)
	assert.Empty(t, f.cancelled)
	assert.Empty(t, eventsOf(f.recorder, contracts.EventAbandoned))

	attempts := eventsOf(f.recorder, contracts.EventDeletionAttempt)
	require.Len(t, attempts, 1)
	assert.Equal(t, true, attempts[0].Data["success"])
	assert.Equal(t, 1, analytics.Summarize(f.recorder.Events()).EventsByType[contracts.EventDeletionAttempt])
}

func TestReset_KeepsAttemptCount(t *testing.T) {
	f := newFixture(t)
	f.deleter.fn = func(context.Context, contracts.DeletionPayload) (*deleter.Response, error) {
		return nil, &deleter.NetworkError{Err: errors.New("connection refused")}
	}
	f.fill(t, "DELETE WORK")
	_, err := f.wf.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, deleter.FallbackMessage, ErrorMessage(err))

	require.NoError(t, f.wf.Reset())

	assert.Equal(t, contracts.StepReason, f.wf.FormState().CurrentStep)
	assert.Empty(t, f.wf.FormState().Fields.Reason())
	assert.Equal(t, 1, f.wf.Security().RecentAttempts)
}

func TestClose_FlushesPendingAutoSave(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "test_entry"))
	assert.Equal(t, 0, f.store.Len())

	require.NoError(t, f.wf.Close(context.Background()))

	assert.Equal(t, 1, f.store.Len())
	assert.False(t, f.wf.AutoSaveDisabled())
}

func TestAutoSaveFailureDisablesSaving(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Snapshots = failingStore{} })
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "test_entry"))

	f.wf.FlushAutoSave()

	assert.True(t, f.wf.AutoSaveDisabled())
	assert.Len(t, eventsOf(f.recorder, contracts.EventAutoSaveFailure), 1)
	require.NoError(t, f.wf.ChangeField(contracts.FieldReason, "other"), "editing continues without auto-save")
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, snapshot.ErrNotFound }
func (failingStore) Set(context.Context, string, []byte) error  { return errors.New("quota exceeded") }
func (failingStore) Remove(context.Context, string) error       { return nil }
