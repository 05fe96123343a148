package domain

import "time"

// Subscription tracks a Microsoft Graph change-notification registration.
// A record exists locally only while the remote subscription is believed
// to still exist; the renewal scheduler deletes records the provider
// reports as gone.
type Subscription struct {
	SubscriptionID     string
	UserID             string
	TeamID             *string
	TeamName           *string
	Resource           string
	ChangeType         string
	ClientState        string
	ExpirationDateTime time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Team is a Microsoft Teams team the user is a member of.
type Team struct {
	ID          string
	DisplayName string
}
