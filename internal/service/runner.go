package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/render"
	"github.com/unclebandit/drip-service/internal/rules"
	"github.com/unclebandit/drip-service/internal/sender"
	"github.com/unclebandit/drip-service/internal/store"
)

// Runner evaluates and sends one drip at a fixed instant. Runners returned by
// Walk share the drip and rules but nothing mutable.
type Runner struct {
	svc       *DripService
	drip      *model.Drip
	ruleSet   model.RuleSet
	evaluator *rules.Evaluator
	now       time.Time
	shift     int

	qs store.Population
}

func (r *Runner) Drip() *model.Drip { return r.drip }
func (r *Runner) Now() time.Time    { return r.now }
func (r *Runner) ShiftDays() int    { return r.shift }

// Walk returns one runner per day offset in [-intoPast, intoFuture). An empty
// range yields no runners.
func (r *Runner) Walk(intoPast, intoFuture int) []*Runner {
	n := intoPast + intoFuture
	if n <= 0 {
		return []*Runner{}
	}
	out := make([]*Runner, 0, n)
	for shift := -intoPast; shift < intoFuture; shift++ {
		out = append(out, &Runner{
			svc:       r.svc,
			drip:      r.drip,
			ruleSet:   r.ruleSet,
			evaluator: r.evaluator,
			now:       r.now.AddDate(0, 0, shift),
			shift:     r.shift + shift,
		})
	}
	return out
}

// BaseQuerySet is every active user.
func (r *Runner) BaseQuerySet() (store.Population, error) {
	return r.svc.Source.Users().Filter(store.Lookup{Field: "is_active", Operator: store.OpExact, Value: true})
}

// QuerySet is the base population with the drip's rules applied. The result is
// computed once per runner.
func (r *Runner) QuerySet(ctx context.Context) (store.Population, error) {
	if r.qs != nil {
		return r.qs, nil
	}
	base, err := r.BaseQuerySet()
	if err != nil {
		return nil, err
	}
	qs, err := r.evaluator.Evaluate(ctx, r.drip, base, r.ruleSet, r.now)
	if err != nil {
		return nil, err
	}
	r.qs = qs
	return qs, nil
}

// Prune removes users that already received this drip at or before now. Sends
// are recorded at the run's now, so the inclusive bound keeps a repeated run
// at the same instant from sending twice.
func (r *Runner) Prune(ctx context.Context) (store.Population, error) {
	qs, err := r.QuerySet(ctx)
	if err != nil {
		return nil, err
	}
	sent, err := r.svc.Sent.SentUserIDs(ctx, r.drip.ID, r.now)
	if err != nil {
		return nil, fmt.Errorf("load sent users of drip %q: %w", r.drip.Name, err)
	}
	if len(sent) == 0 {
		return qs, nil
	}
	return qs.Exclude(store.In("id", sent))
}

// Timeline returns the ids of users eligible at now, ignoring the ledger.
func (r *Runner) Timeline(ctx context.Context) ([]int64, error) {
	qs, err := r.QuerySet(ctx)
	if err != nil {
		return nil, err
	}
	return qs.IDs(ctx)
}

// SendFailure is one recipient the direct path could not reach or record.
type SendFailure struct {
	UserID int64  `json:"user_id"`
	Error  string `json:"error"`
}

// RunResult summarizes one run.
type RunResult struct {
	RunID     uuid.UUID     `json:"run_id"`
	DripID    int64         `json:"drip_id"`
	DripName  string        `json:"drip_name"`
	Now       time.Time     `json:"now"`
	Path      string        `json:"path"`
	Processed int           `json:"processed"`
	Sent      int           `json:"sent"`
	Failures  []SendFailure `json:"failures,omitempty"`
}

const (
	PathDirect    = "direct"
	PathMarketing = "marketing"
)

// Run sends the drip to every eligible user that has not received it yet.
// Disabled drips return (nil, nil).
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if !r.drip.Enabled {
		return nil, nil
	}
	log := r.svc.log().With("drip", r.drip.Name)

	pruned, err := r.Prune(ctx)
	if err != nil {
		log.Error("evaluate drip failed", "error", err)
		return nil, err
	}
	ids, err := pruned.IDs(ctx)
	if err != nil {
		log.Error("evaluate drip failed", "error", err)
		return nil, err
	}
	users, err := r.svc.Users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load users of drip %q: %w", r.drip.Name, err)
	}

	res := &RunResult{
		RunID:     uuid.New(),
		DripID:    r.drip.ID,
		DripName:  r.drip.Name,
		Now:       r.now,
		Processed: len(users),
	}
	log = log.With("run_id", res.RunID.String())

	if r.svc.Options.UseMarketing {
		res.Path = PathMarketing
		err = r.sendMarketing(ctx, users, res)
	} else {
		res.Path = PathDirect
		err = r.sendDirect(ctx, users, res)
	}
	if err != nil {
		log.Error("drip run failed", "path", res.Path, "error", err)
		return nil, err
	}
	log.Info("drip run finished", "path", res.Path, "processed", res.Processed, "sent", res.Sent, "failed", len(res.Failures))
	return res, nil
}

// Email is a rendered drip for one user.
type Email struct {
	User    *model.User
	Message sender.Message
}

// BuildEmail renders subject and body for user. The plain part is the body
// with tags stripped; HTML is only set when the body contained markup.
func (r *Runner) BuildEmail(user *model.User) (*Email, error) {
	ctx := map[string]any{
		"user":     user.TemplateContext(),
		"settings": r.svc.Options.Settings,
	}
	subject, err := r.svc.Renderer.Render(r.drip.SubjectTemplate, ctx)
	if err != nil {
		return nil, fmt.Errorf("render subject of drip %q: %w", r.drip.Name, err)
	}
	body, err := r.svc.Renderer.Render(r.drip.BodyTemplate, ctx)
	if err != nil {
		return nil, fmt.Errorf("render body of drip %q: %w", r.drip.Name, err)
	}
	plain, htmlPart := render.Alternatives(body)
	return &Email{
		User: user,
		Message: sender.Message{
			From:    r.svc.Options.FromEmail,
			To:      user.Email,
			Subject: subject,
			Text:    plain,
			HTML:    htmlPart,
			Tags:    map[string]string{"drip": r.drip.Name},
		},
	}, nil
}
