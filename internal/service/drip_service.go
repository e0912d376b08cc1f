// internal/service/drip_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
	"github.com/unclebandit/drip-service/internal/repository"
	"github.com/unclebandit/drip-service/internal/rules"
	"github.com/unclebandit/drip-service/internal/sender"
	"github.com/unclebandit/drip-service/internal/store"
)

// ErrUserNotFound is returned by previews for an unknown user.
var ErrUserNotFound = errors.New("user not found")

// Renderer renders one template source against a context.
type Renderer interface {
	Render(src string, ctx map[string]any) (string, error)
}

// Options are the delivery settings shared by every runner.
type Options struct {
	UseMarketing      bool
	FromEmail         string
	ConfirmationEmail string
	Settings          map[string]any
}

// DripService wires persistence, population evaluation, rendering and
// delivery together. Marketing is only consulted when Options.UseMarketing is set.
type DripService struct {
	Drips     repository.DripRepositoryInterface
	Rules     repository.RuleRepositoryInterface
	Sent      repository.SentDripRepositoryInterface
	Users     repository.UserRepositoryInterface
	Source    store.Source
	Renderer  Renderer
	Direct    sender.DirectSender
	Marketing sender.MarketingClient
	Queue     queue.Queue
	Options   Options
	Log       *logger.Logger
	Clock     func() time.Time
}

func (s *DripService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *DripService) log() *logger.Logger {
	if s.Log != nil {
		return s.Log
	}
	return logger.Default()
}

// NewRunner loads the drip's rules and returns a runner evaluating them at now.
func (s *DripService) NewRunner(ctx context.Context, drip *model.Drip, now time.Time) (*Runner, error) {
	list, err := s.Rules.ListByDrip(ctx, drip.ID)
	if err != nil {
		return nil, fmt.Errorf("load rules of drip %q: %w", drip.Name, err)
	}
	return &Runner{
		svc:       s,
		drip:      drip,
		ruleSet:   model.NewRuleSet(list),
		evaluator: rules.NewEvaluator(s.Source),
		now:       now,
	}, nil
}

// RunDrip runs one drip with now shifted by shiftDays.
func (s *DripService) RunDrip(ctx context.Context, dripID int64, shiftDays int) (*RunResult, error) {
	drip, err := s.Drips.GetByID(ctx, dripID)
	if err != nil {
		return nil, err
	}
	r, err := s.NewRunner(ctx, drip, s.now().AddDate(0, 0, shiftDays))
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// EnqueueRun publishes a run request for the workers.
func (s *DripService) EnqueueRun(ctx context.Context, dripID int64, shiftDays int) (*queue.RunJob, error) {
	if _, err := s.Drips.GetByID(ctx, dripID); err != nil {
		return nil, err
	}
	job := queue.RunJob{DripID: dripID, ShiftDays: shiftDays, RequestedAt: s.now()}
	if err := s.Queue.Publish(queue.TopicDripRuns, job); err != nil {
		return nil, fmt.Errorf("enqueue drip %d: %w", dripID, err)
	}
	return &job, nil
}

type DripSummary struct {
	*model.Drip
	Stats *model.DripStats `json:"stats"`
}

type DripDetails struct {
	*model.Drip
	Rules []model.Rule     `json:"rules"`
	Stats *model.DripStats `json:"stats"`
}

// ListDrips pages through drips with their ledger statistics.
func (s *DripService) ListDrips(ctx context.Context, page, pageSize int, enabled *bool) ([]DripSummary, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	drips, total, err := s.Drips.List(ctx, offset, pageSize, enabled)
	if err != nil {
		return nil, nil, err
	}
	out := make([]DripSummary, 0, len(drips))
	for _, d := range drips {
		stats, err := s.Sent.Stats(ctx, d.ID)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, DripSummary{Drip: d, Stats: stats})
	}

	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": (total + pageSize - 1) / pageSize,
	}
	return out, pagination, nil
}

func (s *DripService) GetDripDetails(ctx context.Context, id int64) (*DripDetails, error) {
	drip, err := s.Drips.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := s.Rules.ListByDrip(ctx, id)
	if err != nil {
		return nil, err
	}
	stats, err := s.Sent.Stats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DripDetails{Drip: drip, Rules: list, Stats: stats}, nil
}

// TimelineDay is the eligibility of a drip on one walked day.
type TimelineDay struct {
	ShiftDays int       `json:"shift_days"`
	Now       time.Time `json:"now"`
	Eligible  []int64   `json:"eligible"`
	Pending   []int64   `json:"pending"`
}

// Timeline walks the drip across days without sending. Eligible ignores the
// ledger; Pending is what a run on that day would send to.
func (s *DripService) Timeline(ctx context.Context, dripID int64, intoPast, intoFuture int) ([]TimelineDay, error) {
	drip, err := s.Drips.GetByID(ctx, dripID)
	if err != nil {
		return nil, err
	}
	base, err := s.NewRunner(ctx, drip, s.now())
	if err != nil {
		return nil, err
	}

	days := []TimelineDay{}
	for _, r := range base.Walk(intoPast, intoFuture) {
		eligible, err := r.Timeline(ctx)
		if err != nil {
			return nil, err
		}
		pruned, err := r.Prune(ctx)
		if err != nil {
			return nil, err
		}
		pending, err := pruned.IDs(ctx)
		if err != nil {
			return nil, err
		}
		days = append(days, TimelineDay{ShiftDays: r.ShiftDays(), Now: r.Now(), Eligible: eligible, Pending: pending})
	}
	return days, nil
}

// Preview is a drip rendered for one user.
type Preview struct {
	UserID   int64  `json:"user_id"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
	Eligible bool   `json:"eligible"`
}

// PreviewOverrides replace the stored templates when non-empty.
type PreviewOverrides struct {
	Subject string
	Body    string
}

// PersonalizedPreview renders the drip for userID as the direct path would and
// reports whether the user currently qualifies.
func (s *DripService) PersonalizedPreview(ctx context.Context, dripID, userID int64, o PreviewOverrides) (*Preview, error) {
	drip, err := s.Drips.GetByID(ctx, dripID)
	if err != nil {
		return nil, err
	}
	user, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("preview user %d: %w", userID, ErrUserNotFound)
	}

	preview := *drip
	if strings.TrimSpace(o.Subject) != "" {
		preview.SubjectTemplate = o.Subject
	}
	if strings.TrimSpace(o.Body) != "" {
		preview.BodyTemplate = o.Body
	}
	r, err := s.NewRunner(ctx, &preview, s.now())
	if err != nil {
		return nil, err
	}

	email, err := r.BuildEmail(user)
	if err != nil {
		return nil, err
	}
	qs, err := r.QuerySet(ctx)
	if err != nil {
		return nil, err
	}
	match, err := qs.Filter(store.In("id", []int64{userID}))
	if err != nil {
		return nil, err
	}
	n, err := match.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Preview{
		UserID:   userID,
		Subject:  email.Message.Subject,
		Text:     email.Message.Text,
		HTML:     email.Message.HTML,
		Eligible: n > 0,
	}, nil
}
