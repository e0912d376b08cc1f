package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/pkg/httpretry"
)

const DefaultCreateSendURL = "https://api.createsend.com/api/v3.3"

// CreateSendClient talks to the Campaign Monitor REST API.
type CreateSendClient struct {
	BaseURL  string
	APIKey   string
	ClientID string
	ListID   string
	HTTP     httpretry.HTTPDoer
}

var _ MarketingClient = (*CreateSendClient)(nil)

func NewCreateSendClient(baseURL, apiKey, clientID, listID string, doer httpretry.HTTPDoer) *CreateSendClient {
	if baseURL == "" {
		baseURL = DefaultCreateSendURL
	}
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, 3)
	}
	return &CreateSendClient{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		ClientID: clientID,
		ListID:   listID,
		HTTP:     doer,
	}
}

type apiError struct {
	Code    int    `json:"Code"`
	Message string `json:"Message"`
}

// do sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (c *CreateSendClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.APIKey, "x")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("createsend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		if resp.StatusCode == http.StatusBadRequest {
			return &appErrors.BadRequest{Status: resp.StatusCode, Code: ae.Code, Message: ae.Message}
		}
		return fmt.Errorf("createsend %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

// FindTemplate looks a template up by exact name.
func (c *CreateSendClient) FindTemplate(ctx context.Context, name string) (*Template, error) {
	var templates []Template
	if err := c.do(ctx, http.MethodGet, "/clients/"+url.PathEscape(c.ClientID)+"/templates.json", nil, &templates); err != nil {
		return nil, err
	}
	for _, t := range templates {
		if t.Name == name {
			return &t, nil
		}
	}
	return nil, &appErrors.ErrNotFound{Kind: "template", Name: name}
}

type segmentRule struct {
	RuleType string `json:"RuleType"`
	Clause   string `json:"Clause"`
}

type segmentRuleGroup struct {
	Rules []segmentRule `json:"Rules"`
}

type segmentBody struct {
	Title      string             `json:"Title"`
	RuleGroups []segmentRuleGroup `json:"RuleGroups"`
}

// UpsertSegment creates the segment titled title on the configured list, or
// replaces the rules of the existing one. Rules within a group are OR-ed, so
// one group with a rule per address matches exactly those subscribers.
func (c *CreateSendClient) UpsertSegment(ctx context.Context, title string, emails []string) (*Segment, error) {
	var segments []Segment
	if err := c.do(ctx, http.MethodGet, "/clients/"+url.PathEscape(c.ClientID)+"/segments.json", nil, &segments); err != nil {
		return nil, err
	}

	group := segmentRuleGroup{Rules: make([]segmentRule, 0, len(emails))}
	for _, e := range emails {
		group.Rules = append(group.Rules, segmentRule{RuleType: "EmailAddress", Clause: "EQUALS " + e})
	}
	body := segmentBody{Title: title, RuleGroups: []segmentRuleGroup{group}}

	for _, s := range segments {
		if s.Title == title {
			if err := c.do(ctx, http.MethodPut, "/segments/"+url.PathEscape(s.SegmentID)+".json", body, nil); err != nil {
				return nil, err
			}
			return &s, nil
		}
	}

	var id string
	if err := c.do(ctx, http.MethodPost, "/segments/"+url.PathEscape(c.ListID)+".json", body, &id); err != nil {
		return nil, err
	}
	return &Segment{ListID: c.ListID, SegmentID: id, Title: title}, nil
}

type multiline struct {
	Content string `json:"Content"`
}

type campaignBody struct {
	Name            string   `json:"Name"`
	Subject         string   `json:"Subject"`
	FromName        string   `json:"FromName"`
	FromEmail       string   `json:"FromEmail"`
	ReplyTo         string   `json:"ReplyTo"`
	ListIDs         []string `json:"ListIDs"`
	SegmentIDs      []string `json:"SegmentIDs"`
	TemplateID      string   `json:"TemplateID"`
	TemplateContent struct {
		Multilines []multiline `json:"Multilines"`
	} `json:"TemplateContent"`
}

// CreateCampaignFromTemplate returns the new campaign id. The body fills the
// template's first multiline region.
func (c *CreateSendClient) CreateCampaignFromTemplate(ctx context.Context, d CampaignDraft) (string, error) {
	body := campaignBody{
		Name:       d.Name,
		Subject:    d.Subject,
		FromName:   d.FromName,
		FromEmail:  d.FromEmail,
		ReplyTo:    d.ReplyTo,
		ListIDs:    []string{},
		SegmentIDs: d.SegmentIDs,
		TemplateID: d.TemplateID,
	}
	body.TemplateContent.Multilines = []multiline{{Content: d.Body}}

	var id string
	if err := c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(c.ClientID)+"/fromtemplate.json", body, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SendCampaign schedules the campaign for immediate delivery.
func (c *CreateSendClient) SendCampaign(ctx context.Context, campaignID, confirmationEmail string) error {
	body := map[string]string{"ConfirmationEmail": confirmationEmail, "SendDate": "Immediately"}
	return c.do(ctx, http.MethodPost, "/campaigns/"+url.PathEscape(campaignID)+"/send.json", body, nil)
}
