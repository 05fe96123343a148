package subscriptions

import (
	"strings"
	"time"
)

// Default renewal policy values. Graph enforces an upper bound near one hour
// for chat and channel resources; 55 minutes leaves room for clock skew and
// network latency before the provider's own cutoff. Mail resources tolerate
// multi-day validity.
const (
	DefaultChatTTL   = 55 * time.Minute
	DefaultMailTTL   = 4230 * time.Minute
	DefaultLookahead = 45 * time.Minute
	DefaultInterval  = 30 * time.Minute
)

// Policy determines subscription validity per resource class.
type Policy struct {
	ChatTTL time.Duration
	MailTTL time.Duration
}

// DefaultPolicy returns the default renewal-duration policy.
func DefaultPolicy() Policy {
	return Policy{
		ChatTTL: DefaultChatTTL,
		MailTTL: DefaultMailTTL,
	}
}

// Duration returns the validity window for a resource. Mail resources get
// the long window; chat and channel resources the short one.
func (p Policy) Duration(resource string) time.Duration {
	if isMailResource(resource) {
		return p.MailTTL
	}
	return p.ChatTTL
}

// isMailResource reports whether a resource path denotes a mailbox. A mail
// resource names "messages" without the "chats" segment; everything else
// (chat messages, channel messages) follows the short-window policy.
func isMailResource(resource string) bool {
	return strings.Contains(resource, "messages") && !strings.Contains(resource, "chats")
}
