package service

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/model"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
	"github.com/unclebandit/drip-service/internal/render"
	"github.com/unclebandit/drip-service/internal/sender"
	"github.com/unclebandit/drip-service/internal/store/memstore"
)

type fakeDrips struct {
	drips map[int64]*model.Drip
}

func (f *fakeDrips) Create(_ context.Context, d *model.Drip) error {
	d.ID = int64(len(f.drips) + 1)
	f.drips[d.ID] = d
	return nil
}
func (f *fakeDrips) Update(_ context.Context, d *model.Drip) error {
	if _, ok := f.drips[d.ID]; !ok {
		return appErrors.NewDripNotFound(d.ID)
	}
	f.drips[d.ID] = d
	return nil
}
func (f *fakeDrips) UpsertByName(ctx context.Context, d *model.Drip) error {
	return f.Create(ctx, d)
}
func (f *fakeDrips) GetByID(_ context.Context, id int64) (*model.Drip, error) {
	d, ok := f.drips[id]
	if !ok {
		return nil, appErrors.NewDripNotFound(id)
	}
	return d, nil
}
func (f *fakeDrips) GetByName(_ context.Context, name string) (*model.Drip, error) {
	for _, d := range f.drips {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, appErrors.NewDripNameNotFound(name)
}
func (f *fakeDrips) sorted(enabled *bool) []*model.Drip {
	var out []*model.Drip
	for _, d := range f.drips {
		if enabled == nil || d.Enabled == *enabled {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
func (f *fakeDrips) List(_ context.Context, offset, limit int, enabled *bool) ([]*model.Drip, int, error) {
	all := f.sorted(enabled)
	if offset > len(all) {
		offset = len(all)
	}
	end := min(offset+limit, len(all))
	return all[offset:end], len(all), nil
}
func (f *fakeDrips) ListEnabled(_ context.Context) ([]*model.Drip, error) {
	enabled := true
	return f.sorted(&enabled), nil
}

type fakeRules struct {
	rules map[int64][]model.Rule
}

func (f *fakeRules) ListByDrip(_ context.Context, dripID int64) ([]model.Rule, error) {
	return f.rules[dripID], nil
}
func (f *fakeRules) ReplaceForDrip(_ context.Context, dripID int64, rules []model.Rule) error {
	f.rules[dripID] = rules
	return nil
}

type fakeSent struct {
	mu       sync.Mutex
	rows     []*model.SentDrip
	failUser int64
	batchErr error
}

func (f *fakeSent) Create(_ context.Context, sd *model.SentDrip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUser != 0 && sd.UserID == f.failUser {
		return errors.New("ledger unavailable")
	}
	sd.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, sd)
	return nil
}
func (f *fakeSent) CreateBatch(ctx context.Context, sds []*model.SentDrip) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	for _, sd := range sds {
		if err := f.Create(ctx, sd); err != nil {
			return err
		}
	}
	return nil
}
func (f *fakeSent) SentUserIDs(_ context.Context, dripID int64, cutoff time.Time) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, sd := range f.rows {
		if sd.DripID == dripID && !sd.SentAt.After(cutoff) {
			ids = append(ids, sd.UserID)
		}
	}
	return ids, nil
}
func (f *fakeSent) ListByDrip(_ context.Context, dripID int64, offset, limit int) ([]*model.SentDrip, int, error) {
	var out []*model.SentDrip
	for _, sd := range f.rows {
		if sd.DripID == dripID {
			out = append(out, sd)
		}
	}
	return out, len(out), nil
}
func (f *fakeSent) Stats(_ context.Context, dripID int64) (*model.DripStats, error) {
	st := &model.DripStats{DripID: dripID}
	seen := map[int64]bool{}
	for _, sd := range f.rows {
		if sd.DripID != dripID {
			continue
		}
		st.Sent++
		seen[sd.UserID] = true
		if st.LastSentAt == nil || sd.SentAt.After(*st.LastSentAt) {
			t := sd.SentAt
			st.LastSentAt = &t
		}
	}
	st.Recipients = len(seen)
	return st, nil
}
func (f *fakeSent) users() []int64 {
	var ids []int64
	for _, sd := range f.rows {
		ids = append(ids, sd.UserID)
	}
	return ids
}

type fakeUsers struct {
	users map[int64]*model.User
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	return f.users[id], nil
}
func (f *fakeUsers) GetByIDs(_ context.Context, ids []int64) ([]*model.User, error) {
	out := []*model.User{}
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeDirect struct {
	sent []sender.Message
	fail map[string]bool
}

func (f *fakeDirect) SendEmail(_ context.Context, msg sender.Message) error {
	if f.fail[msg.To] {
		return errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeMarketing struct {
	calls       []string
	segment     []string
	draft       sender.CampaignDraft
	confirmedTo string
	findErr     error
	sendErr     error
}

func (f *fakeMarketing) FindTemplate(_ context.Context, name string) (*sender.Template, error) {
	f.calls = append(f.calls, "find:"+name)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return &sender.Template{TemplateID: "tpl-1", Name: name}, nil
}
func (f *fakeMarketing) UpsertSegment(_ context.Context, title string, emails []string) (*sender.Segment, error) {
	f.calls = append(f.calls, "segment:"+title)
	f.segment = emails
	return &sender.Segment{ListID: "list-1", SegmentID: "seg-1", Title: title}, nil
}
func (f *fakeMarketing) CreateCampaignFromTemplate(_ context.Context, d sender.CampaignDraft) (string, error) {
	f.calls = append(f.calls, "campaign:"+d.Name)
	f.draft = d
	return "cmp-1", nil
}
func (f *fakeMarketing) SendCampaign(_ context.Context, id, confirmation string) error {
	f.calls = append(f.calls, "send:"+id)
	f.confirmedTo = confirmation
	return f.sendErr
}

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *DripService
	store     *memstore.Store
	drips     *fakeDrips
	rules     *fakeRules
	sent      *fakeSent
	users     *fakeUsers
	direct    *fakeDirect
	marketing *fakeMarketing
	queue     *queue.InMemoryQueue
}

func (f *fixture) addUser(id int64, name string, joined time.Time, extra memstore.Record) *model.User {
	email := strings.ToLower(name) + "@example.com"
	rec := memstore.Record{"id": id, "email": email, "is_active": true, "date_joined": joined}
	for k, v := range extra {
		rec[k] = v
	}
	f.store.PutUsers(rec)
	f.users.users[id] = &model.User{ID: id, Email: email, FirstName: name, IsActive: true, DateJoined: joined}
	return f.users.users[id]
}

func newFixture() *fixture {
	f := &fixture{
		store:     memstore.New(),
		drips:     &fakeDrips{drips: map[int64]*model.Drip{}},
		rules:     &fakeRules{rules: map[int64][]model.Rule{}},
		sent:      &fakeSent{},
		users:     &fakeUsers{users: map[int64]*model.User{}},
		direct:    &fakeDirect{fail: map[string]bool{}},
		marketing: &fakeMarketing{},
		queue:     queue.NewInMemoryQueue(),
	}
	f.svc = &DripService{
		Drips:     f.drips,
		Rules:     f.rules,
		Sent:      f.sent,
		Users:     f.users,
		Source:    f.store,
		Renderer:  render.New(),
		Direct:    f.direct,
		Marketing: f.marketing,
		Queue:     f.queue,
		Options: Options{
			FromEmail:         "drips@example.com",
			ConfirmationEmail: "ops@example.com",
			Settings:          map[string]any{"site_name": "Example"},
		},
		Log:   logger.New(io.Discard, logger.DEBUG),
		Clock: func() time.Time { return testNow },
	}
	return f
}

// welcome seeds the drip used by most tests: users who joined more than a day ago.
func (f *fixture) welcome() *model.Drip {
	d := &model.Drip{
		ID:              1,
		Name:            "welcome",
		Enabled:         true,
		SubjectTemplate: "Welcome {{ user.first_name }}",
		BodyTemplate:    "<p>Hi {{ user.first_name }}, thanks for joining {{ settings.site_name }}.</p>",
	}
	f.drips.drips[d.ID] = d
	f.rules.rules[d.ID] = []model.Rule{
		{ID: 1, DripID: d.ID, Kind: model.KindQuerySet, MethodType: model.MethodFilter,
			FieldName: "date_joined", LookupType: "lt", FieldValue: "now-1 days"},
	}
	return d
}
