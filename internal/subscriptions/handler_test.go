package subscriptions

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/graphwatch/graphwatch/internal/domain"
	"github.com/graphwatch/graphwatch/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	provider *fakeProvider
	tokens   *fakeTokens
	repo     *fakeRepo
	router   chi.Router
}

func newHandlerFixture(cronSecret string) *handlerFixture {
	f := &handlerFixture{
		provider: &fakeProvider{},
		tokens:   &fakeTokens{},
		repo:     newFakeRepo(),
	}

	provisioner := newTestProvisioner(f.provider, f.tokens, f.repo)
	scheduler := newTestScheduler(f.provider, f.tokens, f.repo)

	f.router = chi.NewRouter()
	NewHandler(provisioner, scheduler, f.repo, cronSecret).RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestProvisionEndpoint(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.do(http.MethodPost, "/subscriptions/provision", "delegated-token", `{"user_id":"user-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), `"principal":"alice@x.com"`)
	assert.Contains(t, rec.Body.String(), `"status":"created"`)
	assert.Equal(t, 2, f.repo.count())
}

func TestProvisionEndpoint_MissingToken(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.do(http.MethodPost, "/subscriptions/provision", "", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProvisionEndpoint_MissingUserID(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.do(http.MethodPost, "/subscriptions/provision", "delegated-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation")
}

func TestProvisionEndpoint_InvalidBody(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.do(http.MethodPost, "/subscriptions/provision", "delegated-token", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProvisionEndpoint_RejectedDelegatedToken(t *testing.T) {
	f := newHandlerFixture("")
	f.provider.getMeFn = func() (*graph.UserProfile, error) {
		return nil, &graph.RejectedError{Code: http.StatusUnauthorized, Message: "expired"}
	}

	rec := f.do(http.MethodPost, "/subscriptions/provision", "stale-token", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProvisionEndpoint_AppCredentialUnavailable(t *testing.T) {
	f := newHandlerFixture("")
	f.tokens.err = &graph.AuthError{Message: "token endpoint down"}

	rec := f.do(http.MethodPost, "/subscriptions/provision", "delegated-token", `{"user_id":"user-1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRenewEndpoint(t *testing.T) {
	f := newHandlerFixture("")
	f.repo.put(domain.Subscription{
		SubscriptionID:     "sub-1",
		UserID:             "user-1",
		Resource:           "users/alice@x.com/messages",
		ClientState:        newClientState(KindMail, "user-1", ""),
		ExpirationDateTime: time.Now().Add(10 * time.Minute),
	})

	rec := f.do(http.MethodPost, "/renew", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"candidates":1`)
	assert.Contains(t, rec.Body.String(), `"outcome":"renewed"`)
}

func TestRenewEndpoint_SecretRequired(t *testing.T) {
	f := newHandlerFixture("cron-secret")

	rec := f.do(http.MethodPost, "/renew", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/renew", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/renew", "cron-secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRenewEndpoint_PassFailure(t *testing.T) {
	f := newHandlerFixture("")
	f.repo.findErr = errors.New("registry down")

	rec := f.do(http.MethodPost, "/renew", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListUserSubscriptions(t *testing.T) {
	f := newHandlerFixture("")
	teamID := "team-1"
	teamName := "Engineering"
	f.repo.put(domain.Subscription{
		SubscriptionID:     "sub-1",
		UserID:             "user-1",
		TeamID:             &teamID,
		TeamName:           &teamName,
		Resource:           "teams/team-1/channels/getAllMessages",
		ChangeType:         "created,updated",
		ClientState:        newClientState(KindTeamChannel, "user-1", teamID),
		ExpirationDateTime: time.Now().Add(time.Hour),
	})
	f.repo.put(domain.Subscription{
		SubscriptionID:     "sub-2",
		UserID:             "user-2",
		Resource:           "users/bob@x.com/messages",
		ClientState:        newClientState(KindMail, "user-2", ""),
		ExpirationDateTime: time.Now().Add(time.Hour),
	})

	rec := f.do(http.MethodGet, "/users/user-1/subscriptions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `"subscription_id":"sub-1"`)
	assert.Contains(t, body, `"team_name":"Engineering"`)
	assert.NotContains(t, body, "sub-2")
	// The correlation tag never leaves the service.
	assert.NotContains(t, body, "client_state")
}

func TestListUserSubscriptions_Empty(t *testing.T) {
	f := newHandlerFixture("")

	rec := f.do(http.MethodGet, "/users/nobody/subscriptions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}
