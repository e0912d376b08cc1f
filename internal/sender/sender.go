// Package sender delivers rendered drips, either one email per user or as a
// single campaign through the marketing API.
package sender

import (
	"context"

	"github.com/unclebandit/drip-service/internal/pkg/logger"
)

// Message is one outbound email. HTML is empty for plain-text bodies.
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
	Tags    map[string]string
}

// DirectSender delivers a single message.
type DirectSender interface {
	SendEmail(ctx context.Context, msg Message) error
}

// Template is a stored marketing template.
type Template struct {
	TemplateID string
	Name       string
}

// Segment is a saved audience of a subscriber list.
type Segment struct {
	ListID    string
	SegmentID string
	Title     string
}

// CampaignDraft describes a campaign created from a stored template.
type CampaignDraft struct {
	Name       string
	Subject    string
	FromName   string
	FromEmail  string
	ReplyTo    string
	SegmentIDs []string
	TemplateID string
	Body       string
}

// MarketingClient is the subset of the marketing API a drip run needs.
type MarketingClient interface {
	FindTemplate(ctx context.Context, name string) (*Template, error)
	UpsertSegment(ctx context.Context, title string, emails []string) (*Segment, error)
	CreateCampaignFromTemplate(ctx context.Context, draft CampaignDraft) (string, error)
	SendCampaign(ctx context.Context, campaignID, confirmationEmail string) error
}

// LogSender only logs what it would send. It stands in for SES in local
// setups without AWS credentials.
type LogSender struct {
	Log *logger.Logger
}

var _ DirectSender = (*LogSender)(nil)

func (s *LogSender) SendEmail(_ context.Context, msg Message) error {
	l := s.Log
	if l == nil {
		l = logger.Default()
	}
	l.Info("email not sent, log sender in use", "to_email", msg.To, "subject", msg.Subject, "html", msg.HTML != "")
	return nil
}
