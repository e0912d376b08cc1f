// internal/controller/drip_controller.go
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/drip-service/internal/errors"
	"github.com/unclebandit/drip-service/internal/pkg/logger"
	"github.com/unclebandit/drip-service/internal/queue"
	"github.com/unclebandit/drip-service/internal/service"
)

// DripService is the part of service.DripService the HTTP API uses.
type DripService interface {
	ListDrips(ctx context.Context, page, pageSize int, enabled *bool) ([]service.DripSummary, map[string]int, error)
	GetDripDetails(ctx context.Context, id int64) (*service.DripDetails, error)
	EnqueueRun(ctx context.Context, dripID int64, shiftDays int) (*queue.RunJob, error)
	Timeline(ctx context.Context, dripID int64, intoPast, intoFuture int) ([]service.TimelineDay, error)
	PersonalizedPreview(ctx context.Context, dripID, userID int64, o service.PreviewOverrides) (*service.Preview, error)
}

var _ DripService = (*service.DripService)(nil)

type DripController struct {
	DripService DripService
}

// Routes mounts the drip API on r.
func (c *DripController) Routes(r chi.Router) {
	r.Get("/drips", c.ListDrips)
	r.Get("/drips/{id}", c.GetDripDetails)
	r.Post("/drips/{id}/run", c.RunDrip)
	r.Get("/drips/{id}/timeline", c.Timeline)
	r.Post("/drips/{id}/preview", c.PersonalizedPreview)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response failed", "error", err)
	}
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var nf *appErrors.ErrDripNotFound
	var cfg *appErrors.ConfigurationError
	var rule *appErrors.RuleError
	switch {
	case errors.As(err, &nf), errors.Is(err, service.ErrUserNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &rule), errors.As(err, &cfg):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		logger.Error("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func dripID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// queryInt reads an integer query parameter, falling back to def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func (c *DripController) ListDrips(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	var enabled *bool
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "invalid enabled filter", http.StatusBadRequest)
			return
		}
		enabled = &b
	}

	drips, pagination, err := c.DripService.ListDrips(r.Context(), page, pageSize, enabled)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       drips,
		"pagination": pagination,
	})
}

func (c *DripController) GetDripDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := dripID(r)
	if !ok {
		http.Error(w, "invalid drip id", http.StatusBadRequest)
		return
	}

	details, err := c.DripService.GetDripDetails(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// RunDrip queues a run. The body is optional; shift_days moves the run's
// clock by whole days.
func (c *DripController) RunDrip(w http.ResponseWriter, r *http.Request) {
	id, ok := dripID(r)
	if !ok {
		http.Error(w, "invalid drip id", http.StatusBadRequest)
		return
	}

	var body struct {
		ShiftDays int `json:"shift_days"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
	}

	job, err := c.DripService.EnqueueRun(r.Context(), id, body.ShiftDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"drip_id":      job.DripID,
		"shift_days":   job.ShiftDays,
		"requested_at": job.RequestedAt,
		"status":       "queued",
	})
}

const maxTimelineDays = 90

func (c *DripController) Timeline(w http.ResponseWriter, r *http.Request) {
	id, ok := dripID(r)
	if !ok {
		http.Error(w, "invalid drip id", http.StatusBadRequest)
		return
	}
	past, err := queryInt(r, "past", 7)
	if err != nil || past < 0 || past > maxTimelineDays {
		http.Error(w, "invalid past", http.StatusBadRequest)
		return
	}
	future, err := queryInt(r, "future", 7)
	if err != nil || future < 0 || future > maxTimelineDays {
		http.Error(w, "invalid future", http.StatusBadRequest)
		return
	}
	if past+future > maxTimelineDays {
		http.Error(w, "timeline is limited to 90 days", http.StatusBadRequest)
		return
	}

	days, err := c.DripService.Timeline(r.Context(), id, past, future)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drip_id": id, "days": days})
}

func (c *DripController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := dripID(r)
	if !ok {
		http.Error(w, "invalid drip id", http.StatusBadRequest)
		return
	}

	var body struct {
		UserID          int64  `json:"user_id"`
		OverrideSubject string `json:"override_subject"`
		OverrideBody    string `json:"override_body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID <= 0 {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	preview, err := c.DripService.PersonalizedPreview(r.Context(), id, body.UserID, service.PreviewOverrides{
		Subject: body.OverrideSubject,
		Body:    body.OverrideBody,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}
