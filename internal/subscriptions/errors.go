package subscriptions

import "errors"

// Repository errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
