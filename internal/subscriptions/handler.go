package subscriptions

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/graphwatch/graphwatch/internal/graph"
	"github.com/graphwatch/graphwatch/internal/pkg/ctxlog"
	"github.com/graphwatch/graphwatch/internal/pkg/httputil"
)

// Handler handles HTTP requests for the subscriptions module.
type Handler struct {
	provisioner *Provisioner
	scheduler   *Scheduler
	repo        Repository
	validator   *validator.Validate
	cronSecret  string
}

// NewHandler creates a new subscriptions handler. cronSecret guards the
// on-demand renewal endpoint; empty means unguarded.
func NewHandler(provisioner *Provisioner, scheduler *Scheduler, repo Repository, cronSecret string) *Handler {
	return &Handler{
		provisioner: provisioner,
		scheduler:   scheduler,
		repo:        repo,
		validator:   validator.New(),
		cronSecret:  cronSecret,
	}
}

// RegisterRoutes registers subscription routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/subscriptions/provision", h.Provision)
	r.Get("/users/{userID}/subscriptions", h.ListUserSubscriptions)
	r.Post("/renew", h.Renew)
}

// ProvisionRequest represents request body for provisioning subscriptions.
type ProvisionRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// Provision handles POST /subscriptions/provision. The delegated token
// comes from the Authorization header; the user identifier from the body.
func (h *Handler) Provision(w http.ResponseWriter, r *http.Request) {
	token := httputil.BearerToken(r)
	if token == "" {
		httputil.Error(w, http.StatusUnauthorized, "missing delegated token")
		return
	}

	var req ProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.provisioner.Provision(r.Context(), req.UserID, token)
	if err != nil {
		var authErr *graph.AuthError
		switch {
		case errors.As(err, &authErr):
			ctxlog.FromContext(r.Context()).Error("application credential unavailable", "error", err)
			httputil.Error(w, http.StatusBadGateway, "could not acquire application credential")
		case graph.IsAuthz(err):
			httputil.Error(w, http.StatusUnauthorized, "delegated token rejected by provider")
		default:
			ctxlog.FromContext(r.Context()).Error("provisioning failed", "error", err)
			httputil.Error(w, http.StatusBadGateway, "could not resolve user identity")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Renew handles POST /renew: runs one renewal pass on demand. The timer and
// this endpoint converge on the same Scheduler.RunPass.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret != "" {
		token := httputil.BearerToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) != 1 {
			httputil.Error(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	report, err := h.scheduler.RunPass(r.Context())
	if err != nil && report == nil {
		ctxlog.FromContext(r.Context()).Error("renewal pass failed", "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "renewal pass failed")
		return
	}

	// A cancelled pass still produced a partial report; return what we have.
	httputil.JSON(w, http.StatusOK, report)
}

// SubscriptionResponse represents a subscription in API responses.
type SubscriptionResponse struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	TeamID         *string   `json:"team_id,omitempty"`
	TeamName       *string   `json:"team_name,omitempty"`
	Resource       string    `json:"resource"`
	ChangeType     string    `json:"change_type"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListUserSubscriptions handles GET /users/{userID}/subscriptions.
func (h *Handler) ListUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	subs, err := h.repo.ListByUser(r.Context(), userID)
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("list subscriptions failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]SubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, SubscriptionResponse{
			SubscriptionID: s.SubscriptionID,
			UserID:         s.UserID,
			TeamID:         s.TeamID,
			TeamName:       s.TeamName,
			Resource:       s.Resource,
			ChangeType:     s.ChangeType,
			ExpiresAt:      s.ExpirationDateTime,
			CreatedAt:      s.CreatedAt,
		})
	}

	httputil.Success(w, http.StatusOK, resp)
}
