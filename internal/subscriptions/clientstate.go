package subscriptions

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Client-state kinds, one per resource class.
const (
	KindChat        = "chats"
	KindMail        = "mail"
	KindTeamChannel = "channel"
)

// ClientStateInfo is the result of parsing a correlation tag.
type ClientStateInfo struct {
	Kind   string
	UserID string
	TeamID string
	Nonce  string
}

// newClientState builds the opaque correlation tag the provider echoes back
// on every notification. The uuid nonce makes the value unguessable; the
// embedded identifiers let the webhook layer route a notification to the
// owning user (and team) without a lookup. User and team IDs must not
// contain ':'.
func newClientState(kind, userID, teamID string) string {
	nonce := uuid.NewString()
	if kind == KindTeamChannel {
		return fmt.Sprintf("%s:%s:%s:%s", kind, userID, teamID, nonce)
	}
	return fmt.Sprintf("%s:%s:%s", kind, userID, nonce)
}

// ParseClientState recovers the kind, user and team from a correlation tag.
func ParseClientState(s string) (*ClientStateInfo, error) {
	parts := strings.Split(s, ":")
	switch {
	case len(parts) == 3 && (parts[0] == KindChat || parts[0] == KindMail):
		return &ClientStateInfo{Kind: parts[0], UserID: parts[1], Nonce: parts[2]}, nil
	case len(parts) == 4 && parts[0] == KindTeamChannel:
		return &ClientStateInfo{Kind: parts[0], UserID: parts[1], TeamID: parts[2], Nonce: parts[3]}, nil
	default:
		return nil, fmt.Errorf("malformed client state")
	}
}
