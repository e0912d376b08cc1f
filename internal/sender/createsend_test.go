package sender

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/pkg/httpretry"
)

type fakeCreateSend struct {
	segments    []Segment
	putSegment  *segmentBody
	postSegment *segmentBody
	campaign    *campaignBody
	sendBody    map[string]string
	rejectSend  bool
}

func (f *fakeCreateSend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "key" || pass != "x" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /clients/client-1/templates.json", auth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Template{{TemplateID: "t-0", Name: "Other"}, {TemplateID: "t-1", Name: "Drip Template"}})
	}))
	mux.HandleFunc("GET /clients/client-1/segments.json", auth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.segments)
	}))
	mux.HandleFunc("PUT /segments/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "seg-9.json", r.PathValue("id"))
		f.putSegment = &segmentBody{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(f.putSegment))
	}))
	mux.HandleFunc("POST /segments/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "list-1.json", r.PathValue("id"))
		f.postSegment = &segmentBody{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(f.postSegment))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode("seg-new")
	}))
	mux.HandleFunc("POST /campaigns/client-1/fromtemplate.json", auth(func(w http.ResponseWriter, r *http.Request) {
		f.campaign = &campaignBody{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(f.campaign))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode("camp-1")
	}))
	mux.HandleFunc("POST /campaigns/camp-1/send.json", auth(func(w http.ResponseWriter, r *http.Request) {
		if f.rejectSend {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"Code":302,"Message":"You do not have enough credits"}`))
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.sendBody))
	}))
	return mux
}

func newTestClient(t *testing.T, f *fakeCreateSend) *CreateSendClient {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	doer := httpretry.NewRetryClient(srv.Client(), 1, httpretry.WithBackoff(time.Millisecond, time.Millisecond))
	return NewCreateSendClient(srv.URL+"/", "key", "client-1", "list-1", doer)
}

func TestCreateSend_FindTemplate(t *testing.T) {
	c := newTestClient(t, &fakeCreateSend{})
	ctx := context.Background()

	tpl, err := c.FindTemplate(ctx, "Drip Template")
	require.NoError(t, err)
	assert.Equal(t, "t-1", tpl.TemplateID)

	_, err = c.FindTemplate(ctx, "Missing")
	var nf *appErrors.ErrNotFound
	require.True(t, errors.As(err, &nf))
	assert.EqualError(t, err, `template with the name "Missing" does not exist`)
}

func TestCreateSend_UpsertSegmentCreates(t *testing.T) {
	f := &fakeCreateSend{}
	c := newTestClient(t, f)

	seg, err := c.UpsertSegment(context.Background(), "Drip Segment welcome", []string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "seg-new", seg.SegmentID)
	assert.Equal(t, "list-1", seg.ListID)

	require.NotNil(t, f.postSegment)
	assert.Equal(t, "Drip Segment welcome", f.postSegment.Title)
	require.Len(t, f.postSegment.RuleGroups, 1)
	assert.Equal(t, []segmentRule{
		{RuleType: "EmailAddress", Clause: "EQUALS a@example.com"},
		{RuleType: "EmailAddress", Clause: "EQUALS b@example.com"},
	}, f.postSegment.RuleGroups[0].Rules)
	assert.Nil(t, f.putSegment)
}

func TestCreateSend_UpsertSegmentUpdates(t *testing.T) {
	f := &fakeCreateSend{segments: []Segment{{ListID: "list-1", SegmentID: "seg-9", Title: "Drip Segment welcome"}}}
	c := newTestClient(t, f)

	seg, err := c.UpsertSegment(context.Background(), "Drip Segment welcome", []string{"a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "seg-9", seg.SegmentID)
	require.NotNil(t, f.putSegment)
	assert.Nil(t, f.postSegment)
}

func TestCreateSend_CampaignLifecycle(t *testing.T) {
	f := &fakeCreateSend{}
	c := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.CreateCampaignFromTemplate(ctx, CampaignDraft{
		Name: "Drip Campaign welcome", Subject: "Hello", FromName: "drips@example.com",
		FromEmail: "drips@example.com", ReplyTo: "drips@example.com",
		SegmentIDs: []string{"seg-9"}, TemplateID: "t-1", Body: "<p>Hi</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "camp-1", id)
	assert.Equal(t, []string{"seg-9"}, f.campaign.SegmentIDs)
	assert.Equal(t, []string{}, f.campaign.ListIDs)
	assert.Equal(t, []multiline{{Content: "<p>Hi</p>"}}, f.campaign.TemplateContent.Multilines)

	require.NoError(t, c.SendCampaign(ctx, id, "ops@example.com"))
	assert.Equal(t, map[string]string{"ConfirmationEmail": "ops@example.com", "SendDate": "Immediately"}, f.sendBody)
}

func TestCreateSend_BadRequest(t *testing.T) {
	c := newTestClient(t, &fakeCreateSend{rejectSend: true})

	err := c.SendCampaign(context.Background(), "camp-1", "ops@example.com")
	var br *appErrors.BadRequest
	require.True(t, errors.As(err, &br))
	assert.Equal(t, 302, br.Code)
	assert.Equal(t, "You do not have enough credits", br.Message)
}

func TestCreateSend_Unauthorized(t *testing.T) {
	c := newTestClient(t, &fakeCreateSend{})
	c.APIKey = "wrong"

	_, err := c.FindTemplate(context.Background(), "Drip Template")
	require.Error(t, err)
	var br *appErrors.BadRequest
	assert.False(t, errors.As(err, &br))
	assert.Contains(t, err.Error(), "status 401")
}

func TestCreateSend_SendCampaignIsNotRepeatedOnServerError(t *testing.T) {
	var sends int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sends++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	doer := httpretry.NewRetryClient(srv.Client(), 3, httpretry.WithBackoff(time.Millisecond, time.Millisecond))
	c := NewCreateSendClient(srv.URL, "key", "client-1", "list-1", doer)

	err := c.SendCampaign(context.Background(), "camp-1", "ops@example.com")
	assert.ErrorContains(t, err, "status 502")
	assert.Equal(t, 1, sends)
}
