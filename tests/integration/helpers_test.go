//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/graphwatch/graphwatch/internal/testutil"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	testutil.DecodeJSON(t, resp, v)
}

// setExpiration rewrites a subscription's expiration directly in the
// database, to move it in or out of the renewal window.
func setExpiration(t *testing.T, subscriptionID string, expiresAt time.Time) {
	t.Helper()
	tag, err := testDB.Exec(context.Background(),
		"UPDATE subscriptions SET expiration_date_time = $1 WHERE subscription_id = $2",
		expiresAt, subscriptionID,
	)
	require.NoError(t, err)
	require.EqualValues(t, 1, tag.RowsAffected())
}

// storedExpiration reads a subscription's expiration from the database.
func storedExpiration(t *testing.T, subscriptionID string) time.Time {
	t.Helper()
	var expiresAt time.Time
	err := testDB.QueryRow(context.Background(),
		"SELECT expiration_date_time FROM subscriptions WHERE subscription_id = $1",
		subscriptionID,
	).Scan(&expiresAt)
	require.NoError(t, err)
	return expiresAt
}

// storedClientState reads a subscription's correlation tag from the database.
func storedClientState(t *testing.T, subscriptionID string) string {
	t.Helper()
	var clientState string
	err := testDB.QueryRow(context.Background(),
		"SELECT client_state FROM subscriptions WHERE subscription_id = $1",
		subscriptionID,
	).Scan(&clientState)
	require.NoError(t, err)
	return clientState
}

// subscriptionExists reports whether a local record is present.
func subscriptionExists(t *testing.T, subscriptionID string) bool {
	t.Helper()
	var count int
	err := testDB.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM subscriptions WHERE subscription_id = $1",
		subscriptionID,
	).Scan(&count)
	require.NoError(t, err)
	return count > 0
}
