// Package webhook receives Microsoft Graph change notifications and relays
// them downstream. Thin plumbing: correlation and acknowledgment only, no
// subscription lifecycle logic.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/pkg/ctxlog"
	"github.com/graphwatch/graphwatch/internal/pkg/httputil"
	"github.com/graphwatch/graphwatch/internal/subscriptions"
)

// Correlator resolves a notification's clientState to the owning
// subscription. Satisfied by the subscriptions repository.
type Correlator interface {
	GetByClientState(ctx context.Context, clientState string) (*domain.Subscription, error)
}

// Handler handles inbound Graph webhook requests.
type Handler struct {
	correlator Correlator
	relay      *Relay
}

// NewHandler creates a webhook handler.
func NewHandler(correlator Correlator, relay *Relay) *Handler {
	return &Handler{
		correlator: correlator,
		relay:      relay,
	}
}

// RegisterRoutes registers the per-channel webhook endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/teams", h.channelHandler("teams"))
	r.Post("/webhook/outlook", h.channelHandler("outlook"))
	r.Post("/webhook/teams-channels", h.channelHandler("teams-channels"))
}

// notification is the Graph change-notification wire shape.
type notification struct {
	SubscriptionID string          `json:"subscriptionId"`
	ChangeType     string          `json:"changeType"`
	ClientState    string          `json:"clientState"`
	Resource       string          `json:"resource"`
	ResourceData   json.RawMessage `json:"resourceData,omitempty"`
}

func (h *Handler) channelHandler(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Graph validates new subscription endpoints by posting
		// ?validationToken=... and expects the token echoed as plain text
		// before anything else happens.
		if token := r.URL.Query().Get("validationToken"); token != "" {
			ctxlog.FromContext(r.Context()).Info("answering subscription validation",
				"channel", channel,
				"token_length", len(token),
			)
			httputil.Text(w, http.StatusOK, token)
			return
		}

		var batch struct {
			Value []notification `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid notification payload")
			return
		}

		for _, n := range batch.Value {
			h.relayNotification(r.Context(), channel, n)
		}

		// Ack fast; Graph retries on anything but 2xx and we never want the
		// provider to back off because a downstream sink is slow.
		w.WriteHeader(http.StatusAccepted)
	}
}

// relayNotification authenticates a single notification by its clientState
// and forwards it. Unknown or malformed tags are dropped and logged.
func (h *Handler) relayNotification(ctx context.Context, channel string, n notification) {
	logger := ctxlog.FromContext(ctx)

	info, err := subscriptions.ParseClientState(n.ClientState)
	if err != nil {
		logger.Warn("dropping notification with malformed client state",
			"channel", channel,
			"subscription_id", n.SubscriptionID,
		)
		return
	}

	// The tag must match a live record; this is what authenticates the
	// notification's origin.
	sub, err := h.correlator.GetByClientState(ctx, n.ClientState)
	if err != nil {
		if errors.Is(err, subscriptions.ErrSubscriptionNotFound) {
			logger.Warn("dropping notification with unknown client state",
				"channel", channel,
				"subscription_id", n.SubscriptionID,
			)
			return
		}
		logger.Error("client state lookup failed",
			"channel", channel,
			"subscription_id", n.SubscriptionID,
			"error", err,
		)
		return
	}

	relayed := RelayedNotification{
		Channel:        channel,
		UserID:         sub.UserID,
		TeamID:         info.TeamID,
		SubscriptionID: n.SubscriptionID,
		ChangeType:     n.ChangeType,
		Resource:       n.Resource,
		ResourceData:   n.ResourceData,
	}

	if err := h.relay.Forward(ctx, relayed); err != nil {
		logger.Error("failed to relay notification",
			"channel", channel,
			"subscription_id", n.SubscriptionID,
			"user_id", sub.UserID,
			"error", err,
		)
		return
	}

	logger.Debug("notification relayed",
		"channel", channel,
		"subscription_id", n.SubscriptionID,
		"user_id", sub.UserID,
		"change_type", n.ChangeType,
	)
}
