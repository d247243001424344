// Package tools executes the job-tracker tools the conversational service may
// call: save, list, status update and delete.
//
// A [Dispatcher] is a stateless bridge to a [job.Store]. [Dispatcher.Call]
// returns typed errors for programmatic callers; [Dispatcher.Dispatch] never
// fails and turns every problem into a short apologetic sentence the
// assistant can speak, so a bad tool call never ends a session.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/jobvoice/internal/job"
	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/pkg/types"
)

// Result is the text handed back to the caller of a tool.
type Result struct {
	Output  string
	IsError bool

	// Changed is set when the call modified the tracker.
	Changed bool
}

// Dispatcher runs tool calls against a job store. It is safe for concurrent
// use.
type Dispatcher struct {
	store   job.Store
	metrics *observe.Metrics
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records tool calls on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New returns a Dispatcher backed by store.
func New(store job.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Definitions returns the declared tool schemas.
func (d *Dispatcher) Definitions() []types.ToolDefinition { return Definitions() }

// Store returns the backing store.
func (d *Dispatcher) Store() job.Store { return d.store }

// Dispatch executes the named tool and always yields a speakable result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) Result {
	out, changed, err := d.call(ctx, name, args)
	if err == nil {
		return Result{Output: out, Changed: changed}
	}
	return Result{Output: apologise(err), IsError: true}
}

// Call executes the named tool. Errors are [*UnknownToolError],
// [*ArgumentError], errors wrapping [job.ErrInvalid], or store failures.
// "Not found" outcomes are ordinary results, not errors.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	out, _, err := d.call(ctx, name, args)
	return out, err
}

// call is [Dispatcher.Call] that also reports whether the tracker changed.
func (d *Dispatcher) call(ctx context.Context, name string, args json.RawMessage) (out string, changed bool, err error) {
	ctx, span := observe.StartToolSpan(ctx, name)
	start := time.Now()
	defer func() {
		status := "ok"
		var unknown *UnknownToolError
		switch {
		case errors.As(err, &unknown):
			status = "unknown"
		case err != nil:
			status = "error"
		}
		span.SetAttributes(attribute.Bool("tool.changed", changed))
		observe.EndSpan(span, err)

		elapsed := time.Since(start)
		d.metrics.RecordToolCall(ctx, name, status)
		d.metrics.ToolExecutionDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(attribute.String("tool", name)))
		observe.Logger(ctx).Info("tool dispatched",
			"tool", name, "status", status, "duration", elapsed, "err", err)
	}()

	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	switch name {
	case ToolSave:
		return d.save(ctx, args)
	case ToolList:
		out, err = d.list(ctx)
		return out, false, err
	case ToolUpdateStatus:
		return d.updateStatus(ctx, args)
	case ToolDelete:
		return d.delete(ctx, args)
	default:
		return "", false, &UnknownToolError{Name: name}
	}
}

// ── Handlers ──────────────────────────────────────────────────────────────────

type saveArgs struct {
	ID          string `json:"id"`
	Company     string `json:"company"`
	Role        string `json:"role"`
	Source      string `json:"source"`
	DateApplied string `json:"dateApplied"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
}

func (d *Dispatcher) save(ctx context.Context, raw json.RawMessage) (string, bool, error) {
	var a saveArgs
	if err := decode(ToolSave, raw, &a); err != nil {
		return "", false, err
	}

	app := job.Application{
		ID:          strings.TrimSpace(a.ID),
		Company:     a.Company,
		Role:        a.Role,
		Source:      a.Source,
		DateApplied: a.DateApplied,
		Notes:       a.Notes,
	}
	if a.Status != "" {
		st, err := job.ParseStatus(a.Status)
		if err != nil {
			return "", false, err
		}
		app.Status = st
	}

	// Saving with an id patches the stored record, so fields the caller left
	// out keep their current values. An unknown id creates the record.
	if app.ID != "" {
		updated, err := d.store.Update(ctx, app.ID, patchOf(app))
		switch {
		case err == nil:
			return fmt.Sprintf("Successfully updated %s at %s in your tracker.", updated.Role, updated.Company), true, nil
		case !errors.Is(err, job.ErrNotFound):
			return "", false, err
		}
	}

	saved, created, err := d.store.Save(ctx, app)
	if err != nil {
		return "", false, err
	}
	if created {
		return fmt.Sprintf("Successfully added %s at %s to your tracker.", saved.Role, saved.Company), true, nil
	}
	return fmt.Sprintf("Successfully updated %s at %s in your tracker.", saved.Role, saved.Company), true, nil
}

func (d *Dispatcher) list(ctx context.Context) (string, error) {
	apps, err := d.store.List(ctx)
	if err != nil {
		return "", err
	}
	return describeList(apps), nil
}

type updateStatusArgs struct {
	Company string `json:"company"`
	Status  string `json:"status"`
}

func (d *Dispatcher) updateStatus(ctx context.Context, raw json.RawMessage) (string, bool, error) {
	var a updateStatusArgs
	if err := decode(ToolUpdateStatus, raw, &a); err != nil {
		return "", false, err
	}
	if strings.TrimSpace(a.Company) == "" {
		return "", false, &ArgumentError{Tool: ToolUpdateStatus, Reason: "company is required"}
	}
	st, err := job.ParseStatus(a.Status)
	if err != nil {
		return "", false, err
	}

	found, ok, err := d.store.FindByCompanyFuzzy(ctx, a.Company)
	if err != nil {
		return "", false, err
	}
	if !ok {
		msg := fmt.Sprintf("I couldn't find an application for a company matching %q.", a.Company)
		if apps, err := d.store.List(ctx); err == nil {
			if hint, ok := job.Suggest(apps, a.Company); ok {
				msg += fmt.Sprintf(" Did you mean %s?", hint)
			}
		}
		return msg, false, nil
	}

	updated, err := d.store.Update(ctx, found.ID, job.Patch{Status: &st})
	if errors.Is(err, job.ErrNotFound) {
		// Deleted between lookup and update.
		return fmt.Sprintf("I couldn't find an application for a company matching %q.", a.Company), false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("Successfully updated %s at %s to %s.", updated.Role, updated.Company, updated.Status), true, nil
}

type deleteArgs struct {
	ID string `json:"id"`
}

func (d *Dispatcher) delete(ctx context.Context, raw json.RawMessage) (string, bool, error) {
	var a deleteArgs
	if err := decode(ToolDelete, raw, &a); err != nil {
		return "", false, err
	}
	id := strings.TrimSpace(a.ID)
	if id == "" {
		return "", false, &ArgumentError{Tool: ToolDelete, Reason: "id is required"}
	}

	apps, err := d.store.List(ctx)
	if err != nil {
		return "", false, err
	}
	prev, known := findByID(apps, id)

	removed, err := d.store.Delete(ctx, id)
	if err != nil {
		return "", false, err
	}
	if !removed {
		return fmt.Sprintf("I couldn't find an application with ID %s.", id), false, nil
	}
	if !known {
		return "Successfully deleted the application from your tracker.", true, nil
	}
	return fmt.Sprintf("Successfully deleted %s at %s from your tracker.", prev.Role, prev.Company), true, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// describeList renders apps as one spoken line.
func describeList(apps []job.Application) string {
	if len(apps) == 0 {
		return "You don't have any job applications in your tracker yet."
	}
	parts := make([]string, len(apps))
	for i, a := range apps {
		parts[i] = fmt.Sprintf("%s at %s (%s)", a.Role, a.Company, a.Status)
	}
	noun := "applications"
	if len(apps) == 1 {
		noun = "application"
	}
	return fmt.Sprintf("You have %d %s: %s.", len(apps), noun, strings.Join(parts, "; "))
}

func decode(tool string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return &ArgumentError{Tool: tool, Reason: "malformed arguments", Err: err}
	}
	return nil
}

func findByID(apps []job.Application, id string) (job.Application, bool) {
	for _, a := range apps {
		if a.ID == id {
			return a, true
		}
	}
	return job.Application{}, false
}

// patchOf sets the non-empty fields of app.
func patchOf(app job.Application) job.Patch {
	var p job.Patch
	if strings.TrimSpace(app.Company) != "" {
		p.Company = &app.Company
	}
	if strings.TrimSpace(app.Role) != "" {
		p.Role = &app.Role
	}
	if app.Source != "" {
		p.Source = &app.Source
	}
	if app.DateApplied != "" {
		p.DateApplied = &app.DateApplied
	}
	if app.Status != "" {
		p.Status = &app.Status
	}
	if app.Notes != "" {
		p.Notes = &app.Notes
	}
	return p
}

// apologise turns a dispatch error into a sentence for the user.
func apologise(err error) string {
	var (
		unknown *UnknownToolError
		argErr  *ArgumentError
	)
	switch {
	case errors.As(err, &unknown):
		return fmt.Sprintf("Sorry, I can't do that: %q isn't something I know how to do.", unknown.Name)
	case errors.As(err, &argErr):
		return fmt.Sprintf("Sorry, I couldn't understand that request: %s.", argErr.Reason)
	case errors.Is(err, job.ErrInvalid):
		return "Sorry, I couldn't use those details: " + invalidReason(err) + "."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Sorry, that took too long and was cancelled."
	default:
		return "Sorry, something went wrong with your tracker. Please try again."
	}
}

// invalidReason strips the sentinel prefix from a validation error.
func invalidReason(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, job.ErrInvalid.Error()+": "); i >= 0 {
		msg = msg[i+len(job.ErrInvalid.Error())+2:]
	}
	return strings.ReplaceAll(msg, "\n", "; ")
}
