package oauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeAccessToken builds an unsigned three-segment bearer token whose
// payload carries the given jti claim.
func makeAccessToken(t *testing.T, jti string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]string{"jti": jti})
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".sig"
}

// tokenEndpointResponse is what the fake token endpoint returns.
func tokenEndpointJSON(accessToken string) string {
	resp := map[string]interface{}{
		"token_type":    "Bearer",
		"expires_in":    3600,
		"access_token":  accessToken,
		"refresh_token": "",
		"scope":         "",
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

type testHarness struct {
	client *Client
	opened chan string // authorize URLs handed to the browser opener
	server *httptest.Server
}

// newTestHarness builds a Client against a fake token endpoint. The
// tokenHandler serves POST /api/oauth/token.
func newTestHarness(t *testing.T, tokenHandler http.HandlerFunc, loginTimeout time.Duration) *testHarness {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/oauth/token", tokenHandler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	opened := make(chan string, 8)
	client, err := NewClient(Config{
		Host:        server.URL,
		ClientID:    "test-client",
		RedirectURI: "http://127.0.0.1:9/callback",
		OpenURL: func(u string) error {
			opened <- u
			return nil
		},
		LoginTimeout: loginTimeout,
	})
	require.NoError(t, err)

	return &testHarness{client: client, opened: opened, server: server}
}

// stateFromAuthorizeURL extracts the state parameter from a captured
// authorize URL.
func stateFromAuthorizeURL(t *testing.T, authorizeURL string) string {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{ClientID: "id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host")

	_, err = NewClient(Config{Host: "https://example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client ID")
}

func TestLogin_Success(t *testing.T) {
	accessToken := makeAccessToken(t, "tok1")

	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "test-client", r.PostForm.Get("client_id"))
		assert.Equal(t, "http://127.0.0.1:9/callback", r.PostForm.Get("redirect_uri"))
		assert.Equal(t, "code-1", r.PostForm.Get("code"))
		assert.NotEmpty(t, r.PostForm.Get("code_verifier"))
		fmt.Fprint(w, tokenEndpointJSON(accessToken))
	}, 5*time.Second)

	resultCh := make(chan loginResult, 1)
	go func() {
		token, err := h.client.Login(context.Background(), []string{"b", "a"})
		resultCh <- loginResult{token: token, err: err}
	}()

	authorizeURL := <-h.opened
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "a b", q.Get("scope"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))

	redirect := "http://127.0.0.1:9/callback?code=code-1&state=" + url.QueryEscape(q.Get("state"))
	require.NoError(t, h.client.HandleRedirect(context.Background(), redirect))

	res := <-resultCh
	require.NoError(t, res.err)
	assert.Equal(t, "tok1", res.token)
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestLogin_ConcurrentCallsShareOneFlow(t *testing.T) {
	accessToken := makeAccessToken(t, "shared-tok")

	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tokenEndpointJSON(accessToken))
	}, 5*time.Second)

	type outcome struct {
		token string
		err   error
	}
	results := make(chan outcome, 2)
	started := make(chan struct{})

	go func() {
		close(started)
		token, err := h.client.Login(context.Background(), []string{"a", "b"})
		results <- outcome{token, err}
	}()

	// Wait until the first attempt has opened the browser, then issue a
	// second login with the same scopes in a different order.
	<-started
	authorizeURL := <-h.opened
	go func() {
		token, err := h.client.Login(context.Background(), []string{"b", "a"})
		results <- outcome{token, err}
	}()

	// Give the second caller a moment to join the in-flight attempt.
	require.Eventually(t, func() bool {
		return h.client.PendingLogins() == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	state := stateFromAuthorizeURL(t, authorizeURL)
	redirect := "http://127.0.0.1:9/callback?code=c&state=" + url.QueryEscape(state)
	require.NoError(t, h.client.HandleRedirect(context.Background(), redirect))

	for i := 0; i < 2; i++ {
		res := <-results
		require.NoError(t, res.err)
		assert.Equal(t, "shared-tok", res.token)
	}

	// Exactly one browser launch for both callers.
	select {
	case extra := <-h.opened:
		t.Fatalf("unexpected second browser launch: %s", extra)
	default:
	}
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestLogin_TimeoutRejectsAndReleasesState(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint should not be called")
	}, 50*time.Millisecond)

	_, err := h.client.Login(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, IsCanceled(err), "timeout must surface as a canceled login, got %v", err)
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestLogin_ContextCancellation(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {}, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Login(ctx, []string{"a"})
		errCh <- err
	}()

	<-h.opened
	cancel()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestLogin_BrowserOpenFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client, err := NewClient(Config{
		Host:     server.URL,
		ClientID: "test-client",
		OpenURL: func(string) error {
			return fmt.Errorf("no browser available")
		},
	})
	require.NoError(t, err)

	_, err = client.Login(context.Background(), []string{"a"})
	require.Error(t, err)

	var failed *LoginFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Error(), "no browser available")
	assert.Equal(t, 0, client.PendingLogins())
}

func TestHandleRedirect_MissingCodeOrState(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint should not be called")
	}, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Login(context.Background(), []string{"a"})
		errCh <- err
	}()
	<-h.opened

	// Neither settles nor rejects the pending login.
	require.Error(t, h.client.HandleRedirect(context.Background(), "http://127.0.0.1:9/callback?code=only-code"))
	require.Error(t, h.client.HandleRedirect(context.Background(), "http://127.0.0.1:9/callback?state=only-state"))

	select {
	case err := <-errCh:
		t.Fatalf("pending login settled unexpectedly: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	assert.Equal(t, 1, h.client.PendingLogins())
	h.client.Dispose()
	<-errCh
}

func TestHandleRedirect_UnknownStateIsNoOp(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint should not be called")
	}, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Login(context.Background(), []string{"a"})
		errCh <- err
	}()
	<-h.opened

	// A state that was never issued: replayed, foreign, or stale.
	err := h.client.HandleRedirect(context.Background(), "http://127.0.0.1:9/callback?code=c&state=never-issued")
	require.NoError(t, err)

	select {
	case err := <-errCh:
		t.Fatalf("pending login settled unexpectedly: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	h.client.Dispose()
	err = <-errCh
	assert.True(t, IsCanceled(err))
}

func TestHandleRedirect_ExchangeRejected(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad verifier", http.StatusUnauthorized)
	}, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Login(context.Background(), []string{"a"})
		errCh <- err
	}()

	state := stateFromAuthorizeURL(t, <-h.opened)
	redirectErr := h.client.HandleRedirect(context.Background(), "http://127.0.0.1:9/callback?code=c&state="+url.QueryEscape(state))
	require.Error(t, redirectErr)

	err := <-errCh
	var failed *LoginFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Status, "401")
	assert.Contains(t, failed.Body, "bad verifier")
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestHandleRedirect_TokenWithoutJTI(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"u1"}`))
	tokenWithoutJTI := header + "." + payload + ".sig"

	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tokenEndpointJSON(tokenWithoutJTI))
	}, 5*time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Login(context.Background(), []string{"a"})
		errCh <- err
	}()

	state := stateFromAuthorizeURL(t, <-h.opened)
	require.Error(t, h.client.HandleRedirect(context.Background(), "http://127.0.0.1:9/callback?code=c&state="+url.QueryEscape(state)))

	err := <-errCh
	var failed *LoginFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Error(), "jti")
}

func TestDispose_CancelsAllPendingLogins(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {}, 5*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, scopes := range [][]string{{"a"}, {"b"}} {
		wg.Add(1)
		go func(scopes []string) {
			defer wg.Done()
			_, err := h.client.Login(context.Background(), scopes)
			errs <- err
		}(scopes)
	}

	// Two distinct scope sets mean two independent browser launches.
	<-h.opened
	<-h.opened

	h.client.Dispose()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.True(t, IsCanceled(err), "expected canceled login, got %v", err)
	}
	assert.Equal(t, 0, h.client.PendingLogins())
}

func TestSessionTokenFromAccessToken(t *testing.T) {
	t.Run("extracts jti", func(t *testing.T) {
		token, err := sessionTokenFromAccessToken(makeAccessToken(t, "opaque-1"))
		require.NoError(t, err)
		assert.Equal(t, "opaque-1", token)
	})

	t.Run("rejects malformed token", func(t *testing.T) {
		_, err := sessionTokenFromAccessToken("not-a-jwt")
		require.Error(t, err)
	})
}
