package subscriptions

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/graph"
	"github.com/graphwatch/graphwatch/internal/pkg/ctxlog"
)

const changeTypeCreatedUpdated = "created,updated"

// Provision entry kinds.
const (
	EntryChat        = "teams-chat"
	EntryMail        = "outlook"
	EntryTeamChannel = "teams-channel"
	EntryTeamsLookup = "teams-lookup"
)

// Provision entry statuses.
const (
	StatusCreated = "created"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ProvisionEntry is the outcome of one subscription-creation attempt.
type ProvisionEntry struct {
	Kind           string    `json:"kind"`
	TeamID         string    `json:"team_id,omitempty"`
	TeamName       string    `json:"team_name,omitempty"`
	Status         string    `json:"status"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ExpiresAt      time.Time `json:"expires_at,omitzero"`
	Reason         string    `json:"reason,omitempty"`
}

// ProvisionResult aggregates per-resource-class outcomes. Partial failure is
// the normal case; Provision only errors when the user's identity cannot be
// resolved at all.
type ProvisionResult struct {
	Principal string           `json:"principal"`
	Entries   []ProvisionEntry `json:"entries"`
}

// Created returns the number of successfully created subscriptions.
func (r *ProvisionResult) Created() int {
	n := 0
	for _, e := range r.Entries {
		if e.Status == StatusCreated {
			n++
		}
	}
	return n
}

// ProvisionerConfig contains provisioner configuration.
type ProvisionerConfig struct {
	// WebhookBaseURL is the public base URL Graph delivers notifications to.
	// A trailing slash is trimmed to avoid 308 redirects, which fail the
	// provider's endpoint validation.
	WebhookBaseURL  string
	Policy          Policy
	TeamConcurrency int
}

// Provisioner creates one subscription per eligible resource class for a
// user and persists every successful creation.
type Provisioner struct {
	config ProvisionerConfig
	graph  ProviderClient
	tokens TokenProvider
	repo   Repository
}

// NewProvisioner creates a provisioner.
func NewProvisioner(config ProvisionerConfig, client ProviderClient, tokens TokenProvider, repo Repository) *Provisioner {
	config.WebhookBaseURL = strings.TrimSuffix(config.WebhookBaseURL, "/")
	if config.TeamConcurrency <= 0 {
		config.TeamConcurrency = 3
	}
	if config.Policy == (Policy{}) {
		config.Policy = DefaultPolicy()
	}

	return &Provisioner{
		config: config,
		graph:  client,
		tokens: tokens,
		repo:   repo,
	}
}

// Provision creates chat, mail and team-channel subscriptions for userID
// using the given delegated token. Each attempt is fault-isolated: one
// resource class or team failing does not abort the others. Only failure to
// resolve the user's principal identity (or to acquire the application
// credential) is fatal to the whole call.
func (p *Provisioner) Provision(ctx context.Context, userID, delegatedToken string) (*ProvisionResult, error) {
	logger := ctxlog.FromContext(ctx)

	profile, err := p.graph.GetMe(ctx, delegatedToken)
	if err != nil {
		return nil, fmt.Errorf("resolve user principal: %w", err)
	}

	appToken, err := p.tokens.AppToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire application token: %w", err)
	}

	// Advisory only: log the delegated token's granted scopes.
	graph.LogTokenScopes(ctx, delegatedToken)

	upn := profile.UserPrincipalName
	logger.Info("provisioning subscriptions", "user_id", userID, "principal", upn)

	result := &ProvisionResult{Principal: upn}

	result.Entries = append(result.Entries, p.createOne(ctx, appToken, createSpec{
		kind:        EntryChat,
		userID:      userID,
		resource:    fmt.Sprintf("users/%s/chats/getAllMessages", upn),
		callbackURL: p.config.WebhookBaseURL + "/webhook/teams",
		ttl:         p.config.Policy.ChatTTL,
		clientState: newClientState(KindChat, userID, ""),
	}))

	result.Entries = append(result.Entries, p.createOne(ctx, appToken, createSpec{
		kind:        EntryMail,
		userID:      userID,
		resource:    fmt.Sprintf("users/%s/messages", upn),
		callbackURL: p.config.WebhookBaseURL + "/webhook/outlook",
		ttl:         p.config.Policy.MailTTL,
		clientState: newClientState(KindMail, userID, ""),
	}))

	result.Entries = append(result.Entries, p.provisionTeamChannels(ctx, appToken, userID, delegatedToken)...)

	logger.Info("provisioning finished",
		"user_id", userID,
		"created", result.Created(),
		"attempted", len(result.Entries),
	)

	return result, nil
}

// provisionTeamChannels enumerates the user's teams and creates one
// channel-messages subscription per team with bounded concurrency.
func (p *Provisioner) provisionTeamChannels(ctx context.Context, appToken, userID, delegatedToken string) []ProvisionEntry {
	logger := ctxlog.FromContext(ctx)

	teams, err := p.graph.ListJoinedTeams(ctx, delegatedToken)
	if err != nil {
		// Guests and users without admin consent cannot enumerate teams.
		// That is an expected outcome, not a failure.
		if graph.IsAuthz(err) {
			logger.Warn("user cannot list joined teams, skipping channel subscriptions", "user_id", userID)
			return []ProvisionEntry{{
				Kind:   EntryTeamsLookup,
				Status: StatusSkipped,
				Reason: "user cannot list joined teams",
			}}
		}
		logger.Error("failed to list joined teams", "user_id", userID, "error", err)
		return []ProvisionEntry{{
			Kind:   EntryTeamsLookup,
			Status: StatusFailed,
			Reason: err.Error(),
		}}
	}

	logger.Info("found joined teams", "user_id", userID, "count", len(teams))
	if len(teams) == 0 {
		return nil
	}

	entries := make([]ProvisionEntry, 0, len(teams))
	sem := make(chan struct{}, p.config.TeamConcurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, team := range teams {
		wg.Add(1)
		go func(team domain.Team) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			entry := p.createOne(ctx, appToken, createSpec{
				kind:        EntryTeamChannel,
				userID:      userID,
				team:        &team,
				resource:    fmt.Sprintf("teams/%s/channels/getAllMessages", team.ID),
				callbackURL: p.config.WebhookBaseURL + "/webhook/teams-channels",
				ttl:         p.config.Policy.ChatTTL,
				clientState: newClientState(KindTeamChannel, userID, team.ID),
			})

			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
		}(team)
	}
	wg.Wait()

	return entries
}

type createSpec struct {
	kind        string
	userID      string
	team        *domain.Team
	resource    string
	callbackURL string
	ttl         time.Duration
	clientState string
}

// createOne attempts a single remote creation and persists the result.
// Failures are converted into a Failed entry, never propagated.
func (p *Provisioner) createOne(ctx context.Context, appToken string, spec createSpec) ProvisionEntry {
	logger := ctxlog.FromContext(ctx)

	entry := ProvisionEntry{Kind: spec.kind}
	if spec.team != nil {
		entry.TeamID = spec.team.ID
		entry.TeamName = spec.team.DisplayName
	}

	remote, err := p.graph.CreateSubscription(ctx, appToken, graph.CreateSubscriptionRequest{
		ChangeType:          changeTypeCreatedUpdated,
		NotificationURL:     spec.callbackURL,
		Resource:            spec.resource,
		ExpirationDateTime:  time.Now().Add(spec.ttl),
		ClientState:         spec.clientState,
		IncludeResourceData: false,
	})
	if err != nil {
		logger.Error("subscription creation failed",
			"kind", spec.kind,
			"resource", spec.resource,
			"error", err,
		)
		entry.Status = StatusFailed
		entry.Reason = err.Error()
		recordProvisionAttempt(spec.kind, StatusFailed)
		return entry
	}

	sub := &domain.Subscription{
		SubscriptionID:     remote.ID,
		UserID:             spec.userID,
		Resource:           spec.resource,
		ChangeType:         changeTypeCreatedUpdated,
		ClientState:        spec.clientState,
		ExpirationDateTime: remote.ExpirationDateTime,
	}
	if spec.team != nil {
		sub.TeamID = &spec.team.ID
		sub.TeamName = &spec.team.DisplayName
	}

	if err := p.repo.Insert(ctx, sub); err != nil {
		// The remote subscription exists but we failed to record it. Surface
		// this distinctly from a remote failure so the divergence is visible.
		logger.Error("failed to persist subscription",
			"kind", spec.kind,
			"subscription_id", remote.ID,
			"error", err,
		)
		entry.Status = StatusFailed
		entry.SubscriptionID = remote.ID
		entry.Reason = fmt.Sprintf("registry: %v", err)
		recordProvisionAttempt(spec.kind, StatusFailed)
		return entry
	}

	logger.Info("subscription created",
		"kind", spec.kind,
		"subscription_id", remote.ID,
		"expires_at", remote.ExpirationDateTime,
	)

	entry.Status = StatusCreated
	entry.SubscriptionID = remote.ID
	entry.ExpiresAt = remote.ExpirationDateTime
	recordProvisionAttempt(spec.kind, StatusCreated)
	return entry
}
