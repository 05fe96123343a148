package subscriptions

import (
	"context"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/graph"
)

// ProviderClient is the slice of the Graph API the core depends on.
// Errors carry the classification contract from the graph package:
// NotFoundError, RejectedError, TransientError.
type ProviderClient interface {
	CreateSubscription(ctx context.Context, token string, req graph.CreateSubscriptionRequest) (*graph.RemoteSubscription, error)
	RenewSubscription(ctx context.Context, token, subscriptionID string, expiresAt time.Time) (*graph.RemoteSubscription, error)
	GetMe(ctx context.Context, token string) (*graph.UserProfile, error)
	ListJoinedTeams(ctx context.Context, token string) ([]domain.Team, error)
}

// TokenProvider acquires application credentials for Graph calls that do not
// act on behalf of a signed-in user.
type TokenProvider interface {
	AppToken(ctx context.Context) (string, error)
}
