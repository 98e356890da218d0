// Package workflow orchestrates the guarded deletion of a daily-work entry:
// form state, debounced validation, auto-save, analytics and the single
// cancellable destructive request.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glass-erp/deleteflow/pkg/analytics"
	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/debounce"
	"github.com/glass-erp/deleteflow/pkg/deleter"
	"github.com/glass-erp/deleteflow/pkg/formstate"
	"github.com/glass-erp/deleteflow/pkg/observability"
	"github.com/glass-erp/deleteflow/pkg/snapshot"
	"github.com/glass-erp/deleteflow/pkg/validation"
)

// State is the submission state of a workflow.
type State int

// Submission states. Failed and cancelled submissions return to StateIdle.
const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Outcome is the result of the last finished submission.
type Outcome int

// Submission outcomes.
const (
	OutcomeNone Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Deleter sends the destructive request. *deleter.Client implements it.
type Deleter interface {
	Delete(ctx context.Context, p contracts.DeletionPayload) (*deleter.Response, error)
}

// Callbacks notify the host of workflow changes. Any of them may be nil.
// They run on the goroutine that caused the change, without internal locks
// held, so they may call back into the Workflow.
type Callbacks struct {
	OnStepChange func(from, to contracts.Step)
	OnDataChange func(fields contracts.FormData)
	OnValidation func(res *contracts.ValidationResult)
	OnSuccess    func(resp *deleter.Response)
	OnError      func(err error)
	OnCancel     func(step contracts.Step)
}

// Options configures a Workflow.
type Options struct {
	Entry   contracts.WorkEntry
	User    contracts.UserContext
	Engine  *validation.Engine
	Deleter Deleter

	// Snapshots enables auto-save when non-nil.
	Snapshots     snapshot.Store
	AutoSaveDelay time.Duration
	Freshness     time.Duration

	Recorder        *analytics.Recorder
	Observability   *observability.Provider
	ValidationDelay time.Duration
	Callbacks       Callbacks

	Clock     func() time.Time
	AfterFunc debounce.AfterFunc
}

// Workflow is one deletion workflow instance for one entry. It is safe for
// concurrent use; Cancel may race Submit.
type Workflow struct {
	entry    contracts.WorkEntry
	user     contracts.UserContext
	engine   *validation.Engine
	deleter  Deleter
	form     *formstate.Store
	saver    *snapshot.Saver
	recorder *analytics.Recorder
	obs      *observability.Provider
	cb       Callbacks
	validate *debounce.Debouncer
	logger   *slog.Logger

	mu            sync.Mutex
	opened        bool
	state         State
	outcome       Outcome
	security      contracts.SecurityContext
	validationSeq uint64
	lastResult    *contracts.ValidationResult
	abort         context.CancelFunc
	cancelled     bool
}

// New creates a workflow for opts.Entry. Call Open before use.
func New(opts Options) (*Workflow, error) {
	if opts.Entry.ID == "" {
		return nil, errors.New("workflow: entry id is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("workflow: validation engine is required")
	}
	if opts.Deleter == nil {
		return nil, errors.New("workflow: deleter is required")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Recorder == nil {
		opts.Recorder = analytics.New(analytics.WithClock(opts.Clock))
	}
	if opts.Observability == nil {
		p, err := observability.New(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("workflow: %w", err)
		}
		opts.Observability = p
	}

	w := &Workflow{
		entry:    opts.Entry,
		user:     opts.User,
		engine:   opts.Engine,
		deleter:  opts.Deleter,
		form:     formstate.New(formstate.WithClock(opts.Clock)),
		recorder: opts.Recorder,
		obs:      opts.Observability,
		cb:       opts.Callbacks,
		logger: slog.Default().With(
			"component", "workflow",
			"entry", opts.Entry.ID,
			"session", opts.Recorder.SessionID(),
		),
	}

	var dopts []debounce.Option
	if opts.AfterFunc != nil {
		dopts = append(dopts, debounce.WithAfterFunc(opts.AfterFunc))
	}
	w.validate = debounce.New(opts.ValidationDelay, dopts...)

	if opts.Snapshots != nil {
		sopts := []snapshot.SaverOption{
			snapshot.WithClock(opts.Clock),
			snapshot.WithOnSaved(w.form.MarkSaved),
			snapshot.WithOnFailure(func(err error) {
				w.recorder.RecordEvent(contracts.EventAutoSaveFailure, map[string]any{"error": err.Error()})
			}),
		}
		if opts.AutoSaveDelay > 0 {
			sopts = append(sopts, snapshot.WithDelay(opts.AutoSaveDelay))
		}
		if opts.Freshness > 0 {
			sopts = append(sopts, snapshot.WithFreshness(opts.Freshness))
		}
		if opts.AfterFunc != nil {
			sopts = append(sopts, snapshot.WithAfterFunc(opts.AfterFunc))
		}
		w.saver = snapshot.NewSaver(opts.Snapshots, opts.Entry.ID, sopts...)
	}
	return w, nil
}

// Open restores a fresh auto-save snapshot, records workflow_start and
// starts the analytics flush loop. It reports whether state was restored;
// a restore fires OnDataChange, and OnStepChange when it lands past the
// first step.
// Opening twice is a no-op.
func (w *Workflow) Open(ctx context.Context) bool {
	w.mu.Lock()
	if w.opened {
		w.mu.Unlock()
		return false
	}
	w.opened = true
	w.mu.Unlock()

	restored := false
	if w.saver != nil {
		if snap, ok := w.saver.Load(ctx); ok {
			if err := w.form.Restore(snap.FormData, snap.CurrentStep); err != nil {
				w.logger.Warn("snapshot restore failed", "error", err)
			} else {
				restored = true
			}
		}
	}

	w.recorder.RecordEvent(contracts.EventWorkflowStart, map[string]any{
		"entityId": w.entry.ID,
		"restored": restored,
	})
	w.recorder.StartMark(markWorkflow)
	w.recorder.Start(ctx)

	if restored {
		if w.cb.OnDataChange != nil {
			w.cb.OnDataChange(w.form.Fields())
		}
		if step := w.form.CurrentStep(); step != contracts.StepReason && w.cb.OnStepChange != nil {
			w.cb.OnStepChange(contracts.StepReason, step)
		}
		w.scheduleValidation()
	}
	w.logger.Debug("workflow opened", "restored", restored)
	return restored
}

const (
	markWorkflow = "workflow"
	markSubmit   = "submit"
)

// Close flushes pending auto-save, stops timers and drains analytics.
func (w *Workflow) Close(ctx context.Context) error {
	w.validate.Cancel()
	if w.saver != nil {
		if w.State() == StateSucceeded {
			w.saver.Stop()
		} else {
			w.saver.Flush()
		}
	}
	return w.recorder.Dispose(ctx)
}

// ChangeField sets a form field. Dotted paths address nested fields.
func (w *Workflow) ChangeField(path string, value any) error {
	if err := w.checkEditable(); err != nil {
		return err
	}
	w.form.ChangeField(path, value)
	fields := w.form.Fields()

	w.recorder.RecordEvent(contracts.EventFieldChange, map[string]any{
		"field": path,
		"step":  int(w.form.CurrentStep()),
	})
	if w.cb.OnDataChange != nil {
		w.cb.OnDataChange(fields)
	}
	w.autoSave()
	w.scheduleValidation()
	return nil
}

// GoToStep moves to step. Out-of-range steps fail and leave the current
// step unchanged.
func (w *Workflow) GoToStep(step contracts.Step) error {
	if err := w.checkEditable(); err != nil {
		return err
	}
	from := w.form.CurrentStep()
	if err := w.form.GoToStep(step); err != nil {
		return err
	}
	w.recorder.RecordEvent(contracts.EventStepChange, map[string]any{
		"from": int(from),
		"to":   int(step),
	})
	if w.cb.OnStepChange != nil {
		w.cb.OnStepChange(from, step)
	}
	w.autoSave()
	w.scheduleValidation()
	return nil
}

// Next validates every step up to the current one and advances. Security
// and business findings do not block navigation; they are reported as
// part of the result and block Submit.
func (w *Workflow) Next(ctx context.Context) (*contracts.ValidationResult, error) {
	if err := w.checkEditable(); err != nil {
		return nil, err
	}
	current := w.form.CurrentStep()
	res := w.Validate(ctx)
	for s := contracts.StepReason; s <= current; s++ {
		if !res.StepValid(s) {
			w.recordValidationFailure(current, res)
			return res, &ValidationError{Result: res}
		}
	}
	return res, w.GoToStep(current + 1)
}

// Back moves to the previous step.
func (w *Workflow) Back() error {
	return w.GoToStep(w.form.CurrentStep() - 1)
}

// Validate runs validation now, superseding any pending debounced run.
func (w *Workflow) Validate(ctx context.Context) *contracts.ValidationResult {
	w.validate.Cancel()
	return w.runValidation(ctx, w.nextValidationID())
}

// Submit sends the deletion. Preconditions are checked in order: the
// workflow must not have succeeded or be submitting, the attempt limit
// must not be reached, and the full form must validate. Each attempt that
// passes those checks counts toward the limit before the request is sent.
// A Cancel during the submission ends it with ErrCancelled, unless the
// request had already succeeded.
func (w *Workflow) Submit(ctx context.Context) (*deleter.Response, error) {
	w.mu.Lock()
	switch w.state {
	case StateSucceeded:
		w.mu.Unlock()
		return nil, ErrAlreadySucceeded
	case StateSubmitting:
		w.mu.Unlock()
		return nil, ErrSubmitInProgress
	}
	maxAttempts := w.engine.MaxAttempts()
	if w.security.RecentAttempts >= maxAttempts {
		attempts := w.security.RecentAttempts
		w.mu.Unlock()
		w.recorder.RecordEvent(contracts.EventRateLimited, map[string]any{
			"attempts": attempts,
			"max":      maxAttempts,
		})
		return nil, &RateLimitedError{Attempts: attempts, Max: maxAttempts}
	}
	w.state = StateSubmitting
	w.cancelled = false
	w.mu.Unlock()

	w.validate.Cancel()
	res := w.validateSubmission(ctx)
	if w.cancelRequested() {
		w.finish(StateIdle, OutcomeCancelled)
		w.abandon()
		return nil, ErrCancelled
	}
	if !res.IsValid() {
		w.finish(StateIdle, OutcomeNone)
		w.recordValidationFailure(contracts.StepConfirmation, res)
		return nil, &ValidationError{Result: res}
	}

	w.mu.Lock()
	if w.cancelled {
		w.mu.Unlock()
		w.finish(StateIdle, OutcomeCancelled)
		w.abandon()
		return nil, ErrCancelled
	}
	w.security.RecentAttempts++
	if w.security.RecentAttempts >= maxAttempts {
		w.security.RateLimitWarning = true
	}
	attempt := w.security.RecentAttempts
	sec := w.security
	reqCtx, abort := context.WithCancel(ctx)
	w.abort = abort
	w.mu.Unlock()
	defer abort()

	fields := w.form.Fields()
	payload := contracts.NewDeletionPayload(w.entry.ID, w.recorder.SessionID(), fields, sec)

	w.recorder.StartMark(markSubmit)
	reqCtx, done := w.obs.TrackOperation(reqCtx, observability.OperationSubmit,
		observability.SubmitOperation(w.entry.ID, int(w.form.CurrentStep()), attempt)...)
	resp, err := w.deleter.Delete(reqCtx, payload)
	w.recorder.EndMark(markSubmit)

	if err == nil {
		done(nil)
		w.finish(StateSucceeded, OutcomeSucceeded)
		w.succeeded(ctx, resp, attempt, fields.Reason())
		return resp, nil
	}

	if w.isCancellation(reqCtx, err) {
		done(nil)
		w.finish(StateIdle, OutcomeCancelled)
		w.logger.Info("deletion cancelled", "attempt", attempt)
		if w.cancelRequested() {
			w.abandon()
		}
		return nil, ErrCancelled
	}

	done(err)
	w.finish(StateIdle, OutcomeFailed)
	w.failed(err, attempt, fields.Reason())
	return nil, err
}

func (w *Workflow) succeeded(ctx context.Context, resp *deleter.Response, attempt int, reason string) {
	w.validate.Cancel()
	if w.saver != nil {
		w.saver.Clear(context.WithoutCancel(ctx))
	}
	w.recorder.RecordEvent(contracts.EventDeletionAttempt, map[string]any{
		"success":  true,
		"attempt":  attempt,
		"entityId": w.entry.ID,
		"reason":   reason,
	})
	w.recorder.EndMark(markWorkflow)
	w.logger.Info("work entry deleted", "attempt", attempt)
	if w.cb.OnSuccess != nil {
		w.cb.OnSuccess(resp)
	}
}

func (w *Workflow) failed(err error, attempt int, reason string) {
	msg := ErrorMessage(err)
	data := map[string]any{
		"error":    msg,
		"entityId": w.entry.ID,
	}
	var rerr *deleter.RequestError
	if errors.As(err, &rerr) {
		data["status"] = rerr.StatusCode
	}
	w.recorder.RecordEvent(contracts.EventDeletionAttempt, map[string]any{
		"success":  false,
		"attempt":  attempt,
		"entityId": w.entry.ID,
		"reason":   reason,
	})
	w.recorder.RecordEvent(contracts.EventDeletionFailed, data)
	if attempt > 1 {
		w.recorder.RecordEvent(contracts.EventRepeatedFailures, map[string]any{
			"attempts": attempt,
			"entityId": w.entry.ID,
		})
	}
	w.syncSuspicious()
	w.logger.Warn("deletion failed", "attempt", attempt, "error", err)
	if w.cb.OnError != nil {
		w.cb.OnError(err)
	}
}

func (w *Workflow) isCancellation(reqCtx context.Context, err error) bool {
	if errors.Is(err, deleter.ErrCancelled) {
		return true
	}
	return w.cancelRequested() || (errors.Is(err, context.Canceled) && reqCtx.Err() != nil)
}

func (w *Workflow) cancelRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancelled
}

func (w *Workflow) finish(state State, outcome Outcome) {
	w.mu.Lock()
	w.state = state
	if outcome != OutcomeNone {
		w.outcome = outcome
	}
	w.abort = nil
	w.mu.Unlock()
}

// Cancel abandons the workflow: it stops pending timers, records
// abandoned, clears the auto-save snapshot and fires OnCancel. It never
// fails. A succeeded workflow ignores Cancel.
//
// During a submission Cancel only aborts the request. Submit then reports
// exactly one outcome: cancelled, or succeeded when the server completed
// the deletion before the abort took effect.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	switch w.state {
	case StateSucceeded:
		w.mu.Unlock()
		return
	case StateSubmitting:
		w.cancelled = true
		abort := w.abort
		w.mu.Unlock()
		if abort != nil {
			abort()
		}
		return
	}
	w.mu.Unlock()
	w.abandon()
}

func (w *Workflow) abandon() {
	w.validate.Cancel()
	step := w.form.CurrentStep()
	if w.saver != nil {
		w.saver.Clear(context.Background())
	}
	w.recorder.RecordEvent(contracts.EventAbandoned, map[string]any{
		"step":     int(step),
		"entityId": w.entry.ID,
	})
	w.logger.Info("workflow abandoned", "step", step)
	if w.cb.OnCancel != nil {
		w.cb.OnCancel(step)
	}
}

// Reset clears the form back to its defaults. The attempt counter is kept;
// only a new workflow session resets it.
func (w *Workflow) Reset() error {
	if err := w.checkEditable(); err != nil {
		return err
	}
	w.form.Reset()
	if w.saver != nil {
		w.saver.Clear(context.Background())
	}
	if w.cb.OnDataChange != nil {
		w.cb.OnDataChange(w.form.Fields())
	}
	w.scheduleValidation()
	return nil
}

func (w *Workflow) checkEditable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case StateSucceeded:
		return ErrAlreadySucceeded
	case StateSubmitting:
		return ErrSubmitInProgress
	}
	return nil
}

func (w *Workflow) autoSave() {
	if w.saver == nil {
		return
	}
	w.saver.Schedule(w.form.Fields(), w.form.CurrentStep())
}

func (w *Workflow) nextValidationID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.validationSeq++
	return w.validationSeq
}

func (w *Workflow) scheduleValidation() {
	id := w.nextValidationID()
	w.validate.Schedule(func() {
		w.runValidation(context.Background(), id)
	})
}

func (w *Workflow) runValidation(ctx context.Context, id uint64) *contracts.ValidationResult {
	return w.publish(ctx, id, w.engine.Validate, w.input(w.form.CurrentStep()))
}

// validateSubmission validates the whole form ahead of the destructive
// request, superseding any validation still in flight.
func (w *Workflow) validateSubmission(ctx context.Context) *contracts.ValidationResult {
	return w.publish(ctx, w.nextValidationID(), w.engine.ValidateSubmission, w.input(contracts.StepConfirmation))
}

// publish runs validate and publishes the result unless a newer validation
// was requested meanwhile. The result is returned either way.
func (w *Workflow) publish(
	ctx context.Context,
	id uint64,
	validate func(context.Context, validation.Input) *contracts.ValidationResult,
	in validation.Input,
) *contracts.ValidationResult {
	ctx, done := w.obs.TrackOperation(ctx, observability.OperationValidate)
	res := validate(ctx, in)
	if msg, ok := res.Errors[contracts.ErrorKeyValidation]; ok {
		done(errors.New(msg))
	} else {
		done(nil)
	}

	w.mu.Lock()
	if id != w.validationSeq {
		w.mu.Unlock()
		w.logger.Debug("discarding stale validation", "id", id)
		return res
	}
	w.lastResult = res
	w.mu.Unlock()

	if w.cb.OnValidation != nil {
		w.cb.OnValidation(res.Clone())
	}
	return res
}

func (w *Workflow) input(step contracts.Step) validation.Input {
	w.syncSuspicious()
	w.mu.Lock()
	sec := w.security
	w.mu.Unlock()
	return validation.Input{
		Form:     w.form.Fields(),
		Step:     step,
		Entry:    w.entry,
		User:     w.user,
		Security: sec,
	}
}

func (w *Workflow) syncSuspicious() {
	if !w.recorder.Suspicious() {
		return
	}
	w.mu.Lock()
	w.security.SuspiciousActivity = true
	w.mu.Unlock()
}

func (w *Workflow) recordValidationFailure(step contracts.Step, res *contracts.ValidationResult) {
	fields := make([]string, 0, len(res.Errors))
	for k := range res.Errors {
		fields = append(fields, k)
	}
	w.recorder.RecordEvent(contracts.EventValidationFailure, map[string]any{
		"step":   int(step),
		"fields": fields,
	})
	w.syncSuspicious()
}

// State is the current submission state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Outcome is the result of the last finished submission.
func (w *Workflow) Outcome() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

// Security returns the session's security context.
func (w *Workflow) Security() contracts.SecurityContext {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.security
}

// LastValidation returns the most recent published validation result.
func (w *Workflow) LastValidation() *contracts.ValidationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult.Clone()
}

// FormState returns a copy of the form state.
func (w *Workflow) FormState() formstate.State {
	return w.form.State()
}

// CompletionStatus reports per-step completeness.
func (w *Workflow) CompletionStatus() formstate.Completion {
	return w.form.CompletionStatus()
}

// SessionID identifies this workflow instance.
func (w *Workflow) SessionID() string {
	return w.recorder.SessionID()
}

// Recorder exposes the analytics log.
func (w *Workflow) Recorder() *analytics.Recorder {
	return w.recorder
}

// FlushAutoSave writes a pending auto-save now. It reports whether a save ran.
func (w *Workflow) FlushAutoSave() bool {
	if w.saver == nil {
		return false
	}
	return w.saver.Flush()
}

// AutoSaveDisabled reports whether auto-save is off, either because it was
// never configured or because a write failed.
func (w *Workflow) AutoSaveDisabled() bool {
	return w.saver == nil || w.saver.Disabled()
}
