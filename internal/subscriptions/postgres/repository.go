// Package postgres provides the PostgreSQL implementation of the
// subscriptions repository.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/subscriptions"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements subscriptions.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert stores a newly created subscription.
func (r *Repository) Insert(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (subscription_id, user_id, team_id, team_name, resource, change_type, client_state, expiration_date_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		sub.SubscriptionID,
		sub.UserID,
		sub.TeamID,
		sub.TeamName,
		sub.Resource,
		sub.ChangeType,
		sub.ClientState,
		sub.ExpirationDateTime,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

// UpdateExpiration sets the expiration of an existing subscription.
func (r *Repository) UpdateExpiration(ctx context.Context, subscriptionID string, expiresAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET expiration_date_time = $2, updated_at = NOW()
		WHERE subscription_id = $1
	`
	tag, err := r.db.Exec(ctx, query, subscriptionID, expiresAt)
	if err != nil {
		return fmt.Errorf("update expiration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscriptions.ErrSubscriptionNotFound
	}
	return nil
}

// DeleteByID removes a subscription record.
func (r *Repository) DeleteByID(ctx context.Context, subscriptionID string) error {
	query := `DELETE FROM subscriptions WHERE subscription_id = $1`
	tag, err := r.db.Exec(ctx, query, subscriptionID)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subscriptions.ErrSubscriptionNotFound
	}
	return nil
}

// FindExpiringBefore returns subscriptions expiring at or before t.
func (r *Repository) FindExpiringBefore(ctx context.Context, t time.Time) ([]domain.Subscription, error) {
	query := `
		SELECT subscription_id, user_id, team_id, team_name, resource, change_type, client_state, expiration_date_time, created_at, updated_at
		FROM subscriptions
		WHERE expiration_date_time <= $1
		ORDER BY expiration_date_time
	`
	rows, err := r.db.Query(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("find expiring subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// ListByUser returns all subscriptions owned by a user.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Subscription, error) {
	query := `
		SELECT subscription_id, user_id, team_id, team_name, resource, change_type, client_state, expiration_date_time, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list user subscriptions: %w", err)
	}
	defer rows.Close()

	return scanSubscriptions(rows)
}

// GetByClientState retrieves a subscription by its correlation tag.
func (r *Repository) GetByClientState(ctx context.Context, clientState string) (*domain.Subscription, error) {
	query := `
		SELECT subscription_id, user_id, team_id, team_name, resource, change_type, client_state, expiration_date_time, created_at, updated_at
		FROM subscriptions
		WHERE client_state = $1
	`
	var sub domain.Subscription
	err := r.db.QueryRow(ctx, query, clientState).Scan(
		&sub.SubscriptionID,
		&sub.UserID,
		&sub.TeamID,
		&sub.TeamName,
		&sub.Resource,
		&sub.ChangeType,
		&sub.ClientState,
		&sub.ExpirationDateTime,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscriptions.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("get subscription by client state: %w", err)
	}
	return &sub, nil
}

func scanSubscriptions(rows pgx.Rows) ([]domain.Subscription, error) {
	subs := make([]domain.Subscription, 0)
	for rows.Next() {
		var sub domain.Subscription
		err := rows.Scan(
			&sub.SubscriptionID,
			&sub.UserID,
			&sub.TeamID,
			&sub.TeamName,
			&sub.Resource,
			&sub.ChangeType,
			&sub.ClientState,
			&sub.ExpirationDateTime,
			&sub.CreatedAt,
			&sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}
