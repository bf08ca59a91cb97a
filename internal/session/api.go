package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrUnauthorized is returned by UserInfo when the remote service
// rejects the supplied token. The session manager treats it as lazy
// invalidation: the session is dropped, not surfaced as an error.
var ErrUnauthorized = errors.New("unauthorized")

// UserInfo is the identity returned by the remote user-info endpoint.
type UserInfo struct {
	ID          string `json:"id"`
	AccountName string `json:"accountName"`
}

// RemoteAPI is the narrow interface over the remote service's
// valid-scopes and user-info endpoints.
type RemoteAPI interface {
	// ValidScopes returns the scopes the remote service recognizes.
	ValidScopes(ctx context.Context) ([]string, error)

	// UserInfo resolves the identity behind a session token. Returns
	// ErrUnauthorized when the token is invalid or expired; any other
	// error is transient and must not invalidate the session.
	UserInfo(ctx context.Context, token string) (*UserInfo, error)
}

// APIClient implements RemoteAPI over HTTP. Requests are retried on
// transient failures (network errors, 5xx) so the fail-open handling in
// the manager only engages after retries are exhausted; a 401 is never
// retried.
type APIClient struct {
	host     string
	clientID string
	client   *retryablehttp.Client
}

// NewAPIClient creates a client for the remote service's API endpoints.
func NewAPIClient(host, clientID string) *APIClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil

	return &APIClient{
		host:     strings.TrimRight(host, "/"),
		clientID: clientID,
		client:   client,
	}
}

// ValidScopes queries the scopes the remote service recognizes for this
// client.
func (c *APIClient) ValidScopes(ctx context.Context) ([]string, error) {
	endpoint := c.host + "/api/oauth/inspect?client=" + url.QueryEscape(c.clientID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("valid-scopes request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("valid-scopes request failed: %s: %s", resp.Status, string(body))
	}

	var scopes []string
	if err := json.NewDecoder(resp.Body).Decode(&scopes); err != nil {
		return nil, fmt.Errorf("malformed valid-scopes response: %w", err)
	}
	return scopes, nil
}

// UserInfo resolves the identity behind a session token.
func (c *APIClient) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/oauth/userinfo", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user-info request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("user-info request failed: %s: %s", resp.Status, string(body))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("malformed user-info response: %w", err)
	}
	if info.ID == "" {
		return nil, errors.New("user-info response has no id")
	}
	return &info, nil
}
