// Package subscriptions maintains Microsoft Graph change-notification
// subscriptions: provisioning per resource class, expiration tracking and
// scheduled renewal.
package subscriptions

import (
	"context"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
)

// Repository defines the interface for subscription data access.
// Implementations perform single-row writes only; no multi-record
// transactions are required by the core.
type Repository interface {
	Insert(ctx context.Context, sub *domain.Subscription) error
	UpdateExpiration(ctx context.Context, subscriptionID string, expiresAt time.Time) error
	DeleteByID(ctx context.Context, subscriptionID string) error

	// FindExpiringBefore returns all subscriptions whose expiration is at or
	// before t. An empty result is a normal outcome.
	FindExpiringBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error)

	ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error)

	// GetByClientState resolves an inbound notification's correlation tag
	// back to the owning subscription.
	GetByClientState(ctx context.Context, clientState string) (*domain.Subscription, error)
}
