// Package auth maintains the OAuth credential pair shared by the Google
// data-source adapters. At most one refresh is in flight per process;
// readers race freely on the stored token.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thymehq/thyme/pkg/models"
	"github.com/thymehq/thyme/pkg/store"
)

// CredentialSource reads and writes the single credential row. Implemented
// by store.CredentialStore.
type CredentialSource interface {
	Get(ctx context.Context) (*models.Credential, error)
	Save(ctx context.Context, cred *models.Credential) error
}

// DefaultTokenEndpoint is Google's OAuth2 token endpoint.
const DefaultTokenEndpoint = "https://oauth2.googleapis.com/token"

// refreshSkew refreshes tokens this long before their recorded expiry.
const refreshSkew = 60 * time.Second

// AuthError wraps credential failures: missing row or a rejected refresh.
// Fatal only to the stage that needed the token.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is a credential failure.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Broker serializes token refreshes over the single credential row.
type Broker struct {
	creds        CredentialSource
	client       *http.Client
	endpoint     string
	clientID     string
	clientSecret string

	mu sync.Mutex // guards the refresh critical section
}

// NewBroker creates a token broker against the given credential store.
func NewBroker(creds CredentialSource, clientID, clientSecret string) *Broker {
	return &Broker{
		creds:        creds,
		client:       &http.Client{Timeout: 15 * time.Second},
		endpoint:     DefaultTokenEndpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// SetEndpoint overrides the token endpoint (tests).
func (b *Broker) SetEndpoint(endpoint string) { b.endpoint = endpoint }

// AccessToken returns a non-expired access token, refreshing when the
// stored one is within the skew window of its expiry.
func (b *Broker) AccessToken(ctx context.Context) (string, error) {
	cred, err := b.creds.Get(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNoCredential) {
			return "", &AuthError{Op: "load credential", Err: err}
		}
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if time.Now().Before(cred.ExpiresAt.Add(-refreshSkew)) {
		return cred.AccessToken, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	cred, err = b.creds.Get(ctx)
	if err != nil {
		return "", &AuthError{Op: "reload credential", Err: err}
	}
	if time.Now().Before(cred.ExpiresAt.Add(-refreshSkew)) {
		return cred.AccessToken, nil
	}

	refreshed, err := b.refresh(ctx, cred)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
}

// refresh submits the refresh grant and persists the new pair. The prior
// refresh token is preserved when the endpoint omits one.
func (b *Broker) refresh(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
		"client_id":     {b.clientID},
		"client_secret": {b.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, &AuthError{Op: "token refresh", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &AuthError{
			Op:  "token refresh",
			Err: fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &AuthError{Op: "token refresh", Err: fmt.Errorf("malformed response: %w", err)}
	}
	if tok.AccessToken == "" {
		return nil, &AuthError{Op: "token refresh", Err: errors.New("response missing access_token")}
	}

	cred.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.Scope != "" {
		cred.Scopes = strings.Fields(tok.Scope)
	}

	if err := b.creds.Save(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	return cred, nil
}
