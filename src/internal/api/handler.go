package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/api/apiErrors"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/model"
	"github.com/ce-fello/slack-reviewer-bot/src/internal/service"

	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
)

// Outbound Slack and GitHub calls happen inside a request.
const requestTimeout = 15 * time.Second

type Handler struct {
	svc *service.Service
	log *zap.Logger
}

func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, log: logger}
}

// RegisterRoutes mounts the REST API. Everything but /health needs a bearer
// token signed with apiSecret.
func RegisterRoutes(r chi.Router, h *Handler, apiSecret string) {
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Group(func(r chi.Router) {
		r.Use(RequireToken(apiSecret))
		r.Post("/reviews", withTimeout(h.performAssignment))
		r.Post("/reviews/{id}/acknowledge", withTimeout(h.acknowledge))
		r.Post("/reviews/{id}/reroll", withTimeout(h.reroll))
		r.Post("/reviews/{id}/complete", withTimeout(h.complete))
		r.Get("/channels/{id}/reviewers", withTimeout(h.eligibleReviewers))
		r.Get("/people/{id}/reviews", withTimeout(h.activeAssignments))
		r.Put("/people/{id}/code-host-username", withTimeout(h.setCodeHostUsername))
		r.Put("/people/{id}/channels/{channelID}", withTimeout(h.setChannelPreferences))
		r.Delete("/people/{id}", withTimeout(h.deletePerson))
		r.Get("/stats", withTimeout(h.getStats))
	})
}

func withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next(w, r.WithContext(ctx))
	}
}

func (h *Handler) performAssignment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RequestorID string `json:"requestor_id"`
		ChannelID   string `json:"channel_id"`
		PRURL       string `json:"pr_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RequestorID == "" || req.ChannelID == "" || req.PRURL == "" {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "requestor_id, channel_id and pr_url required")
		return
	}
	res, err := h.svc.PerformAssignment(r.Context(), req.RequestorID, req.ChannelID, req.PRURL)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	status := http.StatusOK
	if res.Successful {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// lifecycleRequest reads the assignment id from the path. The actor is the
// token subject, never the request body.
func lifecycleRequest(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "numeric review id required")
		return 0, "", false
	}
	actor := Caller(r.Context())
	if actor == "" {
		writeError(w, http.StatusForbidden, apiErrors.Forbidden, "token has no subject to act as")
		return 0, "", false
	}
	return id, actor, true
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := lifecycleRequest(w, r)
	if !ok {
		return
	}
	if err := h.svc.Acknowledge(r.Context(), id, actor); err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := lifecycleRequest(w, r)
	if !ok {
		return
	}
	if err := h.svc.Complete(r.Context(), id, actor); err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) reroll(w http.ResponseWriter, r *http.Request) {
	id, actor, ok := lifecycleRequest(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Reroll(r.Context(), id, actor)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) eligibleReviewers(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "id")
	people, err := h.svc.EligibleReviewers(r.Context(), channelID)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel_id": channelID, "reviewers": people})
}

func (h *Handler) activeAssignments(w http.ResponseWriter, r *http.Request) {
	personID := chi.URLParam(r, "id")
	reviews, err := h.svc.ActiveAssignmentsFor(r.Context(), personID)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"person_id": personID, "reviews": reviews})
}

func (h *Handler) setCodeHostUsername(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "invalid body")
		return
	}
	person, err := h.svc.SetCodeHostUsername(r.Context(), chi.URLParam(r, "id"), req.Username)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"person": person})
}

func (h *Handler) setChannelPreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reviewer           *bool `json:"reviewer"`
		NotifyOnAssignment *bool `json:"notify_on_assignment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reviewer == nil || req.NotifyOnAssignment == nil {
		writeError(w, http.StatusBadRequest, apiErrors.BadRequest, "reviewer and notify_on_assignment required")
		return
	}
	cfg, err := h.svc.SetChannelPreferences(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "channelID"), *req.Reviewer, *req.NotifyOnAssignment)
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
}

func (h *Handler) deletePerson(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePerson(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.handleSvcError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, errCode apiErrors.ErrorCode, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": errCode, "message": message},
	})
}

func (h *Handler) handleSvcError(w http.ResponseWriter, err error) {
	var e apiErrors.APIError
	switch {
	case errors.As(err, &e):
		writeError(w, http.StatusBadRequest, e.Code, e.Message)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, apiErrors.NotFound, "not found")
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, apiErrors.Forbidden, "only the assigned reviewer can do that")
	case errors.Is(err, model.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, apiErrors.InvalidReference, "not a pull request url")
	case errors.Is(err, model.ErrInvalidUsername):
		writeError(w, http.StatusBadRequest, apiErrors.InvalidUsername, "not a valid github username")
	case errors.Is(err, model.ErrAlreadyRerolled):
		writeError(w, http.StatusConflict, apiErrors.AlreadyRerolled, "review was already rerolled")
	case errors.Is(err, model.ErrPersonHasReviews):
		writeError(w, http.StatusConflict, apiErrors.PersonHasReviews, "person has review history")
	case errors.Is(err, context.DeadlineExceeded):
		h.log.Warn("request timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, apiErrors.InternalError, "timed out")
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apiErrors.InternalError, "internal error")
	}
}
