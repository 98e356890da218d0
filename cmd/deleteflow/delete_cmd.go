package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/glass-erp/deleteflow/pkg/analytics"
	"github.com/glass-erp/deleteflow/pkg/config"
	"github.com/glass-erp/deleteflow/pkg/contracts"
	"github.com/glass-erp/deleteflow/pkg/deleter"
	"github.com/glass-erp/deleteflow/pkg/session"
	"github.com/glass-erp/deleteflow/pkg/snapshot"
	"github.com/glass-erp/deleteflow/pkg/validation"
	"github.com/glass-erp/deleteflow/pkg/workflow"
)

// Exit codes of the delete command.
const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInvalid     = 3
	exitRateLimited = 4
	exitCancelled   = 130
)

type deleteResult struct {
	OK       bool              `json:"ok"`
	ID       string            `json:"id,omitempty"`
	Message  string            `json:"message"`
	Errors   map[string]string `json:"errors,omitempty"`
	Attempts int               `json:"attempts"`
	Restored bool              `json:"restored,omitempty"`
}

func runDeleteCmd(args []string, cfg *config.Config, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("delete", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		entryID    string
		status     string
		owner      string
		phase      string
		createdAgo time.Duration
		override   bool
		userID     string
		perms      string
		reason     string
		details    string
		impact     string
		confirm    string
		ack        bool
		password   string
		endpoint   string
		jsonOutput bool
	)
	cmd.StringVar(&entryID, "entry", "", "ID of the daily-work entry (REQUIRED)")
	cmd.StringVar(&status, "status", string(contracts.WorkStatusSubmitted), "Entry status: draft, submitted, approved, billed")
	cmd.StringVar(&owner, "owner", "", "Owner of the entry (defaults to --user)")
	cmd.StringVar(&phase, "phase", string(contracts.PhaseActive), "Project phase: planning, active, completed")
	cmd.DurationVar(&createdAgo, "created-ago", time.Hour, "Age of the entry")
	cmd.BoolVar(&override, "override", false, "Entry carries an approval override")
	cmd.StringVar(&userID, "user", os.Getenv("USER"), "Requesting user")
	cmd.StringVar(&perms, "permissions", "", "Comma-separated permissions of the user")
	cmd.StringVar(&reason, "reason", "", "Deletion reason code")
	cmd.StringVar(&details, "details", "", "Free-text justification")
	cmd.StringVar(&impact, "impact", "", "Comma-separated acknowledged impact categories")
	cmd.StringVar(&confirm, "confirm", "", "Typed confirmation phrase")
	cmd.BoolVar(&ack, "ack", false, "Acknowledge the consequences")
	cmd.StringVar(&password, "password", "", "Re-authentication password")
	cmd.StringVar(&endpoint, "endpoint", cfg.Endpoint, "Base URL of the deletion endpoint")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return exitUsage
	}
	if entryID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --entry is required")
		return exitUsage
	}
	if owner == "" {
		owner = userID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	obs, err := newObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: observability: %v\n", err)
		return exitFailed
	}
	defer func() { _ = obs.Shutdown(context.WithoutCancel(ctx)) }()

	user := contracts.UserContext{ID: userID, Permissions: splitList(perms)}
	engineOpts := validation.OptionsFromPolicy(policy)
	if cfg.SessionSecret != "" {
		tm, err := session.NewTokenManager([]byte(cfg.SessionSecret))
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitFailed
		}
		token, err := tm.GenerateToken(user.ID, user.Roles, user.Permissions, time.Hour)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: session: %v\n", err)
			return exitFailed
		}
		user.SessionToken = token
		engineOpts.Session = tm
	}
	engine, err := validation.New(engineOpts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	client, err := deleter.New(deleter.Options{
		BaseURL:     endpoint,
		Timeout:     cfg.RequestTimeout,
		CSRF:        csrfSource(cfg, endpoint, entryID),
		BearerToken: user.SessionToken,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	var snapshots snapshot.Store
	if policy.AutoSave.Enabled {
		store, closeStore, err := openSnapshots(cfg, policy)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: snapshot store: %v\n", err)
			return exitFailed
		}
		defer func() { _ = closeStore() }()
		snapshots = store
	}

	sink, closeSink, err := newAnalyticsSink(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: analytics: %v\n", err)
		return exitFailed
	}
	defer func() { _ = closeSink() }()
	recorder := analytics.New(analytics.WithSink(sink), analytics.WithMeter(obs.Meter()))

	wf, err := workflow.New(workflow.Options{
		Entry: contracts.WorkEntry{
			ID:           entryID,
			Status:       contracts.WorkStatus(status),
			HasOverride:  override,
			OwnerID:      owner,
			ProjectPhase: contracts.ProjectPhase(phase),
			CreatedAt:    time.Now().Add(-createdAgo),
		},
		User:          user,
		Engine:        engine,
		Deleter:       client,
		Snapshots:     snapshots,
		AutoSaveDelay: policy.AutoSave.Delay,
		Freshness:     policy.AutoSave.Freshness,
		Recorder:      recorder,
		Observability: obs,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = wf.Close(closeCtx)
	}()

	res := deleteResult{Restored: wf.Open(ctx)}

	set := map[string]bool{}
	cmd.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := applyFields(wf, set, reason, details, impact, confirm, ack, password); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailed
	}

	code := submit(ctx, wf, &res)
	res.Attempts = wf.Security().RecentAttempts
	printDeleteResult(stdout, res, jsonOutput)
	return code
}

func csrfSource(cfg *config.Config, endpoint, entryID string) deleter.CSRFSource {
	if cfg.CSRFToken != "" {
		return deleter.StaticToken(cfg.CSRFToken)
	}
	page := cfg.CSRFPageURL
	if page == "" {
		page = strings.TrimRight(endpoint, "/") + fmt.Sprintf(deleter.DefaultPathTemplate, entryID)
	}
	return deleter.NewMetaTagSource(page, nil)
}

// applyFields writes the flags the user passed into the form. Fields that
// were not passed keep their restored or default values.
func applyFields(wf *workflow.Workflow, set map[string]bool, reason, details, impact, confirm string, ack bool, password string) error {
	type change struct {
		path  string
		value any
	}
	var changes []change
	add := func(flagName, path string, value any) {
		if set[flagName] {
			changes = append(changes, change{path, value})
		}
	}
	add("reason", contracts.FieldReason, reason)
	add("details", contracts.FieldDetails, details)
	if set["impact"] {
		chosen := splitList(impact)
		for _, c := range contracts.ImpactCategories() {
			add("impact", contracts.FieldImpactAssessment+contracts.PathSeparator+string(c), slices.Contains(chosen, string(c)))
		}
	}
	add("confirm", contracts.FieldConfirmation, confirm)
	add("ack", contracts.FieldAcknowledgeConsequences, ack)
	add("password", contracts.FieldPassword, password)

	for _, c := range changes {
		if err := wf.ChangeField(c.path, c.value); err != nil {
			return err
		}
	}
	return nil
}

// submit walks the remaining steps and sends the deletion.
func submit(ctx context.Context, wf *workflow.Workflow, res *deleteResult) int {
	for wf.FormState().CurrentStep < contracts.StepConfirmation {
		if _, err := wf.Next(ctx); err != nil {
			return failure(err, res)
		}
	}
	resp, err := wf.Submit(ctx)
	if err != nil {
		return failure(err, res)
	}
	res.OK = true
	res.ID = resp.ID
	res.Message = resp.Message
	return exitOK
}

func failure(err error, res *deleteResult) int {
	res.Message = workflow.ErrorMessage(err)

	var verr *workflow.ValidationError
	var rl *workflow.RateLimitedError
	var rerr *deleter.RequestError
	switch {
	case errors.As(err, &verr):
		res.Errors = verr.Result.Errors
		return exitInvalid
	case errors.As(err, &rl):
		return exitRateLimited
	case errors.Is(err, workflow.ErrCancelled):
		res.Message = "Deletion cancelled."
		return exitCancelled
	case errors.As(err, &rerr):
		res.Errors = rerr.FieldErrors()
	}
	return exitFailed
}

func printDeleteResult(w io.Writer, res deleteResult, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return
	}
	if res.OK {
		_, _ = fmt.Fprintf(w, "Deleted %s: %s\n", res.ID, res.Message)
		return
	}
	_, _ = fmt.Fprintf(w, "Not deleted: %s\n", res.Message)
	keys := make([]string, 0, len(res.Errors))
	for k := range res.Errors {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "  %s: %s\n", k, res.Errors[k])
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
