package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/store"
)

// memCredentials is an in-memory CredentialSource.
type memCredentials struct {
	mu    sync.Mutex
	cred  *models.Credential
	saves int
}

func (m *memCredentials) Get(_ context.Context) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return nil, store.ErrNoCredential
	}
	c := *m.cred
	return &c, nil
}

func (m *memCredentials) Save(_ context.Context, cred *models.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cred
	m.cred = &c
	m.saves++
	return nil
}

func freshCred(expiresIn time.Duration) *models.Credential {
	return &models.Credential{
		AccessToken:  "live-token",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(expiresIn),
	}
}

func TestAccessTokenReturnsStoredWhenFresh(t *testing.T) {
	creds := &memCredentials{cred: freshCred(time.Hour)}
	b := NewBroker(creds, "client-1", "secret-1")

	token, err := b.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-token", token)
	assert.Equal(t, 0, creds.saves, "no refresh for a fresh token")
}

func TestAccessTokenMissingCredential(t *testing.T) {
	b := NewBroker(&memCredentials{}, "client-1", "secret-1")

	_, err := b.AccessToken(context.Background())
	assert.True(t, IsAuthError(err))
}

func TestAccessTokenRefreshesWithinSkewWindow(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"refresh_token": r.PostFormValue("refresh_token"),
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
		}
		fmt.Fprint(w, `{"access_token":"new-token","expires_in":3600,"scope":"analytics webmasters"}`)
	}))
	defer srv.Close()

	// Expires in 30s: inside the 60s skew window, so a refresh is due.
	creds := &memCredentials{cred: freshCred(30 * time.Second)}
	b := NewBroker(creds, "client-1", "secret-1")
	b.SetEndpoint(srv.URL)

	token, err := b.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-token", token)
	assert.Equal(t, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "refresh-1",
		"client_id":     "client-1",
		"client_secret": "secret-1",
	}, form)

	assert.Equal(t, 1, creds.saves)
	assert.Equal(t, "refresh-1", creds.cred.RefreshToken,
		"prior refresh token survives when the endpoint omits one")
	assert.Equal(t, []string{"analytics", "webmasters"}, creds.cred.Scopes)
	assert.True(t, creds.cred.ExpiresAt.After(time.Now().Add(50*time.Minute)))
}

func TestAccessTokenAdoptsRotatedRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"new-token","refresh_token":"refresh-2","expires_in":3600}`)
	}))
	defer srv.Close()

	creds := &memCredentials{cred: freshCred(-time.Minute)}
	b := NewBroker(creds, "client-1", "secret-1")
	b.SetEndpoint(srv.URL)

	_, err := b.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", creds.cred.RefreshToken)
}

func TestAccessTokenRejectedRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	creds := &memCredentials{cred: freshCred(-time.Minute)}
	b := NewBroker(creds, "client-1", "secret-1")
	b.SetEndpoint(srv.URL)

	_, err := b.AccessToken(context.Background())
	require.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}

func TestAccessTokenMalformedRefreshResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"expires_in":3600}`)
	}))
	defer srv.Close()

	creds := &memCredentials{cred: freshCred(-time.Minute)}
	b := NewBroker(creds, "client-1", "secret-1")
	b.SetEndpoint(srv.URL)

	_, err := b.AccessToken(context.Background())
	require.True(t, IsAuthError(err))
	assert.Contains(t, err.Error(), "missing access_token")
}

func TestAccessTokenConcurrentCallersRefreshOnce(t *testing.T) {
	var refreshes int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		refreshes++
		mu.Unlock()
		fmt.Fprint(w, `{"access_token":"new-token","expires_in":3600}`)
	}))
	defer srv.Close()

	creds := &memCredentials{cred: freshCred(-time.Minute)}
	b := NewBroker(creds, "client-1", "secret-1")
	b.SetEndpoint(srv.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := b.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "new-token", token)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, refreshes, "double-check under the lock collapses the stampede")
}
