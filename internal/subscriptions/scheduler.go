package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/graph"
)

// Renewal outcomes.
const (
	OutcomeRenewed = "renewed"
	OutcomeDeleted = "deleted"
	OutcomeFailed  = "failed"
)

// RenewalEntry is the outcome of one renewal attempt.
type RenewalEntry struct {
	SubscriptionID string    `json:"subscription_id"`
	Resource       string    `json:"resource"`
	Outcome        string    `json:"outcome"`
	NewExpiration  time.Time `json:"new_expiration,omitzero"`
	Reason         string    `json:"reason,omitempty"`
}

// RenewalReport summarizes a renewal pass.
type RenewalReport struct {
	Candidates int            `json:"candidates"`
	Entries    []RenewalEntry `json:"entries"`
}

// SchedulerConfig contains renewal scheduler configuration.
type SchedulerConfig struct {
	Interval  time.Duration // time between timer-driven passes
	Lookahead time.Duration // renew anything expiring within this window
	Policy    Policy
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:  DefaultInterval,
		Lookahead: DefaultLookahead,
		Policy:    DefaultPolicy(),
	}
}

// Scheduler renews subscriptions nearing expiration. One instance per
// deployment: there is no cross-instance coordination, and concurrent
// schedulers would issue duplicate (idempotent but wasteful) renewals.
type Scheduler struct {
	config SchedulerConfig
	repo   Repository
	graph  ProviderClient
	tokens TokenProvider

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a renewal scheduler.
func NewScheduler(config SchedulerConfig, repo Repository, client ProviderClient, tokens TokenProvider) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Lookahead <= 0 {
		config.Lookahead = DefaultLookahead
	}
	if config.Policy == (Policy{}) {
		config.Policy = DefaultPolicy()
	}

	return &Scheduler{
		config: config,
		repo:   repo,
		graph:  client,
		tokens: tokens,
		stopCh: make(chan struct{}),
	}
}

// Start launches the timer loop. Each tick runs the same RunPass the
// on-demand endpoint calls.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting renewal scheduler",
		"interval", s.config.Interval,
		"lookahead", s.config.Lookahead,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("renewal scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			report, err := s.RunPass(ctx)
			if err != nil {
				slog.Error("renewal pass failed", "error", err)
				continue
			}
			if report.Candidates > 0 {
				slog.Info("renewal pass finished",
					"candidates", report.Candidates,
					"renewed", report.count(OutcomeRenewed),
					"deleted", report.count(OutcomeDeleted),
					"failed", report.count(OutcomeFailed),
				)
			}
		}
	}
}

// RunPass renews every subscription expiring within the lookahead window.
// Candidates are processed sequentially to bound the outbound request rate
// and keep per-subscription failures independent; a cancelled context stops
// the loop early and the partial report is returned alongside ctx.Err().
// Only registry read failure or application-credential acquisition failure
// abort the pass as a whole.
func (s *Scheduler) RunPass(ctx context.Context) (*RenewalReport, error) {
	start := time.Now()
	slog.Debug("checking subscriptions for renewal")

	lookahead := time.Now().Add(s.config.Lookahead)
	candidates, err := s.repo.FindExpiringBefore(ctx, lookahead)
	if err != nil {
		return nil, fmt.Errorf("find expiring subscriptions: %w", err)
	}

	report := &RenewalReport{Candidates: len(candidates)}
	recordRenewalCandidates(len(candidates))
	if len(candidates) == 0 {
		return report, nil
	}

	slog.Info("found subscriptions to renew", "count", len(candidates))

	// One application credential for the whole pass; renewal does not need
	// the original user's delegated consent.
	appToken, err := s.tokens.AppToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire application token: %w", err)
	}

	for _, sub := range candidates {
		select {
		case <-ctx.Done():
			recordRenewalPassDuration(time.Since(start))
			return report, ctx.Err()
		default:
		}

		entry := s.renewOne(ctx, appToken, sub)
		report.Entries = append(report.Entries, entry)
		recordRenewalOutcome(entry.Outcome)
	}

	recordRenewalPassDuration(time.Since(start))
	return report, nil
}

// renewOne attempts a single renewal and reconciles local state. All
// failures are converted into a per-subscription outcome.
func (s *Scheduler) renewOne(ctx context.Context, appToken string, sub domain.Subscription) RenewalEntry {
	entry := RenewalEntry{
		SubscriptionID: sub.SubscriptionID,
		Resource:       sub.Resource,
	}

	newExpiration := time.Now().Add(s.config.Policy.Duration(sub.Resource))
	slog.Debug("renewing subscription",
		"subscription_id", sub.SubscriptionID,
		"resource", sub.Resource,
		"requested_expiration", newExpiration,
	)

	remote, err := s.graph.RenewSubscription(ctx, appToken, sub.SubscriptionID, newExpiration)
	if err != nil {
		if graph.IsNotFound(err) {
			// The remote subscription is gone; drop the local record.
			if delErr := s.repo.DeleteByID(ctx, sub.SubscriptionID); delErr != nil {
				slog.Error("failed to delete lapsed subscription",
					"subscription_id", sub.SubscriptionID,
					"error", delErr,
				)
				entry.Outcome = OutcomeFailed
				entry.Reason = fmt.Sprintf("registry: %v", delErr)
				return entry
			}
			slog.Info("deleted lapsed subscription", "subscription_id", sub.SubscriptionID)
			entry.Outcome = OutcomeDeleted
			return entry
		}

		// Transient or rejected: leave the record untouched. It stays a
		// candidate and is retried on the next pass.
		slog.Warn("failed to renew subscription",
			"subscription_id", sub.SubscriptionID,
			"resource", sub.Resource,
			"retryable", graph.IsTransient(err),
			"error", err,
		)
		entry.Outcome = OutcomeFailed
		entry.Reason = err.Error()
		return entry
	}

	// Persist the expiration the provider actually granted, not the one we
	// asked for.
	if err := s.repo.UpdateExpiration(ctx, sub.SubscriptionID, remote.ExpirationDateTime); err != nil {
		slog.Error("failed to persist renewed expiration",
			"subscription_id", sub.SubscriptionID,
			"error", err,
		)
		entry.Outcome = OutcomeFailed
		entry.Reason = fmt.Sprintf("registry: %v", err)
		return entry
	}

	slog.Info("renewed subscription",
		"subscription_id", sub.SubscriptionID,
		"expires_at", remote.ExpirationDateTime,
	)
	entry.Outcome = OutcomeRenewed
	entry.NewExpiration = remote.ExpirationDateTime
	return entry
}

func (r *RenewalReport) count(outcome string) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
