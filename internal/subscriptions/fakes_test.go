package subscriptions

import (
	"context"
	"sync"
	"time"

	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/graph"
)

// fakeProvider implements ProviderClient with overridable behavior and
// records calls for assertions.
type fakeProvider struct {
	mu sync.Mutex

	createFn func(req graph.CreateSubscriptionRequest) (*graph.RemoteSubscription, error)
	renewFn  func(subscriptionID string, expiresAt time.Time) (*graph.RemoteSubscription, error)
	getMeFn  func() (*graph.UserProfile, error)
	teamsFn  func() ([]domain.Team, error)

	createCalls []graph.CreateSubscriptionRequest
	renewCalls  []renewCall
}

type renewCall struct {
	subscriptionID string
	expiresAt      time.Time
}

func (f *fakeProvider) CreateSubscription(_ context.Context, _ string, req graph.CreateSubscriptionRequest) (*graph.RemoteSubscription, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, req)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(req)
	}
	return &graph.RemoteSubscription{
		ID:                 "sub-" + req.Resource,
		Resource:           req.Resource,
		ExpirationDateTime: req.ExpirationDateTime,
	}, nil
}

func (f *fakeProvider) RenewSubscription(_ context.Context, _ string, subscriptionID string, expiresAt time.Time) (*graph.RemoteSubscription, error) {
	f.mu.Lock()
	f.renewCalls = append(f.renewCalls, renewCall{subscriptionID: subscriptionID, expiresAt: expiresAt})
	f.mu.Unlock()

	if f.renewFn != nil {
		return f.renewFn(subscriptionID, expiresAt)
	}
	return &graph.RemoteSubscription{
		ID:                 subscriptionID,
		ExpirationDateTime: expiresAt,
	}, nil
}

func (f *fakeProvider) GetMe(_ context.Context, _ string) (*graph.UserProfile, error) {
	if f.getMeFn != nil {
		return f.getMeFn()
	}
	return &graph.UserProfile{UserPrincipalName: "alice@x.com"}, nil
}

func (f *fakeProvider) ListJoinedTeams(_ context.Context, _ string) ([]domain.Team, error) {
	if f.teamsFn != nil {
		return f.teamsFn()
	}
	return nil, nil
}

func (f *fakeProvider) createdRequests() []graph.CreateSubscriptionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]graph.CreateSubscriptionRequest(nil), f.createCalls...)
}

// fakeTokens implements TokenProvider.
type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) AppToken(context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if f.token == "" {
		return "app-token", nil
	}
	return f.token, nil
}

// fakeRepo implements Repository in memory with overridable failure modes.
type fakeRepo struct {
	mu sync.Mutex

	subs map[string]*domain.Subscription

	insertErr error
	updateErr error
	deleteErr error
	findErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]*domain.Subscription)}
}

func (f *fakeRepo) Insert(_ context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	cp := *sub
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	f.subs[sub.SubscriptionID] = &cp
	return nil
}

func (f *fakeRepo) UpdateExpiration(_ context.Context, subscriptionID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.ExpirationDateTime = expiresAt
	sub.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) DeleteByID(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.subs[subscriptionID]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(f.subs, subscriptionID)
	return nil
}

func (f *fakeRepo) FindExpiringBefore(_ context.Context, t time.Time) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []domain.Subscription
	for _, sub := range f.subs {
		if !sub.ExpirationDateTime.After(t) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByUser(_ context.Context, userID string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetByClientState(_ context.Context, clientState string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.ClientState == clientState {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (f *fakeRepo) get(subscriptionID string) *domain.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.subs[subscriptionID]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

func (f *fakeRepo) put(sub domain.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.SubscriptionID] = &sub
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
