package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jobvoice/internal/observe"
)

// Instruction is the default system prompt for reconciliation.
const Instruction = `You keep the user's job application tracker up to date from their email.
You are given one email. If it is about a job application the user made
(a confirmation, an interview invitation, an offer or a rejection), use the
tools to record it: list the tracker first, then add the application or
update its status. Use the status that best matches the email. If the email
is not about a job application, do not call any tool.
Finish with one short sentence describing what you did.`

// Outcome labels, also used as metric attribute values.
const (
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Conversation is the tool loop the reconciler drives for each email.
type Conversation interface {
	Converse(ctx context.Context, system, userText string) (Turn, error)
}

// Outcome describes what happened to one email.
type Outcome struct {
	Email  Email
	Status string
	Reply  string
	Tools  []string
	Err    error
}

// Config configures a [Reconciler].
type Config struct {
	Source  Source
	Agent   Conversation
	Metrics *observe.Metrics

	// Instruction overrides [Instruction].
	Instruction string

	// FetchConcurrency bounds parallel downloads. Defaults to 4.
	FetchConcurrency int

	// MaxBody caps the body bytes shown to the model. Defaults to
	// [BodyBudget] of an unknown window.
	MaxBody int
}

const (
	defaultBody = 8_000
	maxBody     = 32_000
	minBody     = 2_000
)

// BodyBudget sizes the email body for a model with a context window of
// window tokens: a quarter of the window at about four bytes per token,
// clamped to [2000, 32000] bytes. The rest of the window holds the
// instruction, tool schemas and the tool loop. Unknown windows get 8000.
func BodyBudget(window int) int {
	if window <= 0 {
		return defaultBody
	}
	return min(max(window, minBody), maxBody)
}

// Reconciler applies a batch of emails to the tracker.
type Reconciler struct {
	cfg Config
}

// New validates cfg and returns a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if cfg.Source == nil {
		return nil, errors.New("reconcile: Source is required")
	}
	if cfg.Agent == nil {
		return nil, errors.New("reconcile: Agent is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Instruction == "" {
		cfg.Instruction = Instruction
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = BodyBudget(0)
	}
	return &Reconciler{cfg: cfg}, nil
}

// Reconcile fetches every id concurrently, then processes the emails one at
// a time in the given order so tracker edits never interleave. A failure on
// one email is recorded in its Outcome and does not stop the batch. The
// returned error is non-nil only when ctx ends early.
func (r *Reconciler) Reconcile(ctx context.Context, ids []string) ([]Outcome, error) {
	ctx, span := observe.StartReconcileSpan(ctx, len(ids))
	defer span.End()
	log := observe.Logger(ctx)

	out := make([]Outcome, len(ids))
	var g errgroup.Group
	g.SetLimit(r.cfg.FetchConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			email, err := r.cfg.Source.Fetch(ctx, id)
			if err != nil {
				email.ID = id
				out[i] = Outcome{Email: email, Status: OutcomeFailed, Err: err}
				return nil
			}
			out[i] = Outcome{Email: email}
			return nil
		})
	}
	_ = g.Wait()

	for i := range out {
		if err := ctx.Err(); err != nil {
			return out[:i], err
		}
		o := &out[i]
		if o.Err == nil {
			r.process(ctx, o)
		}
		r.cfg.Metrics.RecordReconciledEmail(ctx, o.Status)
		if o.Err != nil {
			log.Warn("reconcile: email failed", "id", o.Email.ID, "err", o.Err)
			continue
		}
		log.Info("reconcile: email processed", "id", o.Email.ID, "subject", o.Email.Subject, "outcome", o.Status)
	}
	return out, nil
}

func (r *Reconciler) process(ctx context.Context, o *Outcome) {
	turn, err := r.cfg.Agent.Converse(ctx, r.cfg.Instruction, o.Email.Prompt(r.cfg.MaxBody))
	o.Reply = turn.Reply
	o.Tools = turn.Tools
	switch {
	case err != nil:
		o.Status = OutcomeFailed
		o.Err = fmt.Errorf("reconcile: email %s: %w", o.Email.ID, err)
	case turn.Changed():
		o.Status = OutcomeChanged
	default:
		o.Status = OutcomeUnchanged
	}
}
