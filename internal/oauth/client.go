// Package oauth implements the browser-delegated OAuth2 login round trip
// with PKCE: building the authorize URL, correlating redirect callbacks
// with pending attempts via the state nonce, exchanging the code for a
// token, and enforcing the login deadline.
package oauth

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

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"authkeeper/pkg/logging"
	"authkeeper/pkg/scope"
)

const logSubsystem = "OAuthClient"

// DefaultLoginTimeout is how long a login attempt waits for the browser
// redirect before it is canceled.
const DefaultLoginTimeout = 60 * time.Second

// DefaultHTTPTimeout is the default timeout for HTTP requests.
const DefaultHTTPTimeout = 30 * time.Second

// URLOpener hands an authorize URL to the external browser collaborator.
type URLOpener func(url string) error

// Config configures a Client. Host and ClientID are required.
type Config struct {
	// Host is the base URL of the remote service, e.g. "https://example.com".
	Host string

	// ClientID is the OAuth client identifier registered with the service.
	ClientID string

	// RedirectURI is the redirect target sent in the authorize request and
	// repeated during the code exchange.
	RedirectURI string

	// OpenURL opens the authorize URL in the user's browser. Defaults to
	// OpenBrowser.
	OpenURL URLOpener

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client

	// LoginTimeout overrides DefaultLoginTimeout; useful in tests.
	LoginTimeout time.Duration
}

// Client drives login round trips against one fixed remote host.
//
// Concurrent Login calls for the same normalized scope set collapse onto
// a single in-flight attempt: one browser launch, one exchange, and one
// shared outcome for every caller.
type Client struct {
	host         string
	clientID     string
	redirectURI  string
	openURL      URLOpener
	httpClient   *http.Client
	loginTimeout time.Duration

	group singleflight.Group

	mu      sync.Mutex
	pending map[string]*pendingLogin // keyed by normalized scope key
}

// pendingLogin tracks one in-flight login attempt. At most one exists per
// normalized scope key at any time.
type pendingLogin struct {
	states    []string
	verifiers map[string]string

	resultCh   chan loginResult
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

type loginResult struct {
	token string
	err   error
}

// deliver hands the settled outcome to the waiting login. If the login
// already settled (timeout, cancellation), the outcome is discarded.
func (p *pendingLogin) deliver(res loginResult) {
	select {
	case p.resultCh <- res:
	default:
	}
}

// cancel fires the cancel signal. Safe to call more than once.
func (p *pendingLogin) cancel() {
	p.cancelOnce.Do(func() { close(p.cancelCh) })
}

// NewClient creates an OAuth client bound to the configured host.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	openURL := cfg.OpenURL
	if openURL == nil {
		openURL = OpenBrowser
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	loginTimeout := cfg.LoginTimeout
	if loginTimeout == 0 {
		loginTimeout = DefaultLoginTimeout
	}

	return &Client{
		host:         strings.TrimRight(cfg.Host, "/"),
		clientID:     cfg.ClientID,
		redirectURI:  cfg.RedirectURI,
		openURL:      openURL,
		httpClient:   httpClient,
		loginTimeout: loginTimeout,
		pending:      make(map[string]*pendingLogin),
	}, nil
}

// Login performs one login round trip for the given scopes and returns
// the opaque session token. If a login for the same normalized scope set
// is already in flight, the call joins it instead of opening a second
// browser window, and every joined caller observes the same outcome.
//
// The attempt is canceled when ctx is done or when no matching redirect
// arrives within the login timeout; both reject with ErrLoginCanceled.
func (c *Client) Login(ctx context.Context, scopes []string) (string, error) {
	key := scope.Key(scopes)

	token, err, shared := c.group.Do(key, func() (interface{}, error) {
		return c.runLogin(ctx, key, scopes)
	})
	if shared {
		logging.Debug(logSubsystem, "login joined an in-flight attempt for scopes %q", key)
	}
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// runLogin executes a single non-deduplicated login attempt.
func (c *Client) runLogin(ctx context.Context, key string, scopes []string) (string, error) {
	pkce, err := GeneratePKCE()
	if err != nil {
		return "", err
	}
	state, err := GenerateState()
	if err != nil {
		return "", err
	}

	p := &pendingLogin{
		states:    []string{state},
		verifiers: map[string]string{state: pkce.CodeVerifier},
		resultCh:  make(chan loginResult, 1),
		cancelCh:  make(chan struct{}),
	}

	c.mu.Lock()
	c.pending[key] = p
	c.mu.Unlock()

	// The pending entry, its states and its verifiers are released on
	// every exit path: success, failure, cancellation and timeout.
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	authorizeURL := c.authorizeURL(scopes, state, pkce)
	logging.Debug(logSubsystem, "opening browser for scopes %q", key)
	if err := c.openURL(authorizeURL); err != nil {
		return "", &LoginFailedError{Status: "failed to open browser", Err: err}
	}

	timer := time.NewTimer(c.loginTimeout)
	defer timer.Stop()

	select {
	case res := <-p.resultCh:
		if res.err != nil {
			return "", res.err
		}
		return res.token, nil
	case <-p.cancelCh:
		return "", ErrLoginCanceled
	case <-timer.C:
		p.cancel()
		logging.Info(logSubsystem, "no redirect received within %s for scopes %q", c.loginTimeout, key)
		return "", fmt.Errorf("no redirect received within %s: %w", c.loginTimeout, ErrLoginCanceled)
	case <-ctx.Done():
		p.cancel()
		return "", fmt.Errorf("%v: %w", ctx.Err(), ErrLoginCanceled)
	}
}

// HandleRedirect is the single injection point for redirect URIs captured
// by the external browser collaborator. It matches the state parameter
// against pending logins and, on a match, exchanges the code for a token
// and settles that login.
//
// A redirect whose state was never issued is ignored: it may belong to a
// stale attempt of this process, a replay, or another consumer entirely,
// and must not settle anything.
func (c *Client) HandleRedirect(ctx context.Context, rawURI string) error {
	u, err := url.Parse(rawURI)
	if err != nil {
		logging.Warn(logSubsystem, "ignoring unparsable redirect URI")
		return fmt.Errorf("invalid redirect URI: %w", err)
	}

	query := u.Query()
	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		logging.Warn(logSubsystem, "ignoring redirect without code or state")
		return errors.New("redirect is missing code or state")
	}

	c.mu.Lock()
	p := c.findPendingByStateLocked(state)
	var verifier string
	var verifierKnown bool
	if p != nil {
		verifier, verifierKnown = p.verifiers[state]
	}
	c.mu.Unlock()

	if p == nil {
		logging.Debug(logSubsystem, "redirect state matches no pending login; ignoring")
		return nil
	}
	if !verifierKnown {
		err := errors.New("no code verifier registered for redirect state")
		p.deliver(loginResult{err: err})
		return err
	}

	token, err := c.exchangeCode(ctx, code, verifier)
	if err != nil {
		p.deliver(loginResult{err: err})
		return err
	}

	sessionToken, err := sessionTokenFromAccessToken(token.AccessToken)
	if err != nil {
		wrapped := &LoginFailedError{Status: "malformed access token", Err: err}
		p.deliver(loginResult{err: wrapped})
		return wrapped
	}

	p.deliver(loginResult{token: sessionToken})
	return nil
}

// Dispose cancels every still-pending login. Used at shutdown and when
// the host configuration changes.
func (c *Client) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		p.cancel()
	}
}

// PendingLogins returns the number of in-flight login attempts.
func (c *Client) PendingLogins() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// findPendingByStateLocked returns the pending login that issued the
// given state nonce. Must be called with c.mu held.
func (c *Client) findPendingByStateLocked(state string) *pendingLogin {
	for _, p := range c.pending {
		for _, s := range p.states {
			if s == state {
				return p
			}
		}
	}
	return nil
}

// authorizeURL constructs the browser navigation target.
func (c *Client) authorizeURL(scopes []string, state string, pkce *PKCEChallenge) string {
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {c.clientID},
		"redirect_uri":          {c.redirectURI},
		"scope":                 {strings.Join(scopes, " ")},
		"state":                 {state},
		"code_challenge":        {pkce.CodeChallenge},
		"code_challenge_method": {pkce.CodeChallengeMethod},
	}
	return c.host + "/api/oauth/authorize?" + params.Encode()
}

// exchangeCode redeems an authorization code at the token endpoint.
func (c *Client) exchangeCode(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	data := url.Values{
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"client_id":     {c.clientID},
		"redirect_uri":  {c.redirectURI},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/oauth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &LoginFailedError{Status: "failed to build token request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &LoginFailedError{Status: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &LoginFailedError{Status: resp.Status, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &LoginFailedError{Status: resp.Status, Body: string(body)}
	}

	var tokenResp struct {
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, &LoginFailedError{Status: "malformed token response", Err: err}
	}

	token := &oauth2.Token{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		token.Expiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	return token, nil
}

// sessionTokenFromAccessToken extracts the jti claim from the bearer
// token's payload segment. The signature is deliberately not verified:
// transport security plus the subsequent user-info call form the trust
// boundary for this token.
func sessionTokenFromAccessToken(accessToken string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return "", fmt.Errorf("failed to decode access token: %w", err)
	}
	if claims.ID == "" {
		return "", errors.New("access token has no jti claim")
	}
	return claims.ID, nil
}
