package service

import (
	"context"
	"errors"
	"fmt"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/render"
	"github.com/unclebandit/drip-service/internal/sender"
)

const (
	marketingTemplateName = "Drip Template"
	segmentTitlePrefix    = "Drip Segment "
	campaignNamePrefix    = "Drip Campaign "
)

// sendDirect mails each user on its own. A failed send or ledger write is
// collected and the run carries on.
func (r *Runner) sendDirect(ctx context.Context, users []*model.User, res *RunResult) error {
	log := r.svc.log().With("drip", r.drip.Name)
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		email, err := r.BuildEmail(u)
		if err != nil {
			// every user shares the templates, nobody else will render either
			return err
		}
		if err := r.svc.Direct.SendEmail(ctx, email.Message); err != nil {
			serr := appErrors.NewSendError(r.drip.Name, u.ID, err)
			log.Warn("send failed", "user", u.ID, "error", err)
			res.Failures = append(res.Failures, SendFailure{UserID: u.ID, Error: serr.Error()})
			continue
		}
		sd := &model.SentDrip{
			DripID:  r.drip.ID,
			UserID:  u.ID,
			Subject: email.Message.Subject,
			Body:    email.Message.Text,
			SentAt:  r.now,
		}
		if err := r.svc.Sent.Create(ctx, sd); err != nil {
			log.Error("record sent drip failed", "user", u.ID, "error", err)
			res.Failures = append(res.Failures, SendFailure{UserID: u.ID, Error: err.Error()})
			continue
		}
		res.Sent++
	}
	return nil
}

// sendMarketing sends one campaign to a segment of all users. Nothing is
// recorded unless the campaign was accepted.
func (r *Runner) sendMarketing(ctx context.Context, users []*model.User, res *RunResult) error {
	if len(users) == 0 {
		return nil
	}
	mc := r.svc.Marketing
	if mc == nil {
		return appErrors.NewConfigurationError("drip "+r.drip.Name, "marketing path enabled without a client")
	}

	tpl, err := mc.FindTemplate(ctx, marketingTemplateName)
	if err != nil {
		return fmt.Errorf("find template: %w", err)
	}

	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	seg, err := mc.UpsertSegment(ctx, segmentTitlePrefix+r.drip.Name, emails)
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}

	tctx := map[string]any{"settings": r.svc.Options.Settings}
	subject, err := r.svc.Renderer.Render(r.drip.SubjectTemplate, tctx)
	if err != nil {
		return fmt.Errorf("render subject of drip %q: %w", r.drip.Name, err)
	}
	body, err := r.svc.Renderer.Render(r.drip.BodyTemplate, tctx)
	if err != nil {
		return fmt.Errorf("render body of drip %q: %w", r.drip.Name, err)
	}

	campaignID, err := mc.CreateCampaignFromTemplate(ctx, sender.CampaignDraft{
		Name:       campaignNamePrefix + r.drip.Name + " " + r.now.Format("2006-01-02T15:04:05Z07:00"),
		Subject:    subject,
		FromName:   siteName(r.svc.Options.Settings),
		FromEmail:  r.svc.Options.FromEmail,
		ReplyTo:    r.svc.Options.FromEmail,
		SegmentIDs: []string{seg.SegmentID},
		TemplateID: tpl.TemplateID,
		Body:       body,
	})
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	if err := mc.SendCampaign(ctx, campaignID, r.svc.Options.ConfirmationEmail); err != nil {
		return fmt.Errorf("send campaign %s: %w", campaignID, err)
	}

	plain, _ := render.Alternatives(body)
	batch := make([]*model.SentDrip, 0, len(users))
	for _, u := range users {
		batch = append(batch, &model.SentDrip{
			DripID:  r.drip.ID,
			UserID:  u.ID,
			Subject: subject,
			Body:    plain,
			SentAt:  r.now,
		})
	}
	if err := r.svc.Sent.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("record campaign %s: %w", campaignID, err)
	}
	res.Sent = len(batch)
	return nil
}

// IsBadRequest reports whether err is a rejection from the marketing API.
func IsBadRequest(err error) bool {
	var br *appErrors.BadRequest
	return errors.As(err, &br)
}

func siteName(settings map[string]any) string {
	if s, ok := settings["site_name"].(string); ok {
		return s
	}
	return ""
}
