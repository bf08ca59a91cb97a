package oauth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	uris []string
	err  error
}

func (h *recordingHandler) HandleRedirect(ctx context.Context, rawURI string) error {
	h.uris = append(h.uris, rawURI)
	return h.err
}

func TestCallbackServer_DeliversRedirect(t *testing.T) {
	handler := &recordingHandler{}
	server := NewCallbackServer(0, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redirectURI, err := server.Start(ctx)
	require.NoError(t, err)
	defer server.Stop()

	assert.True(t, strings.HasSuffix(redirectURI, callbackPath))

	resp, err := http.Get(redirectURI + "?code=c1&state=s1")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Authentication complete")

	require.Len(t, handler.uris, 1)
	assert.Contains(t, handler.uris[0], "code=c1")
	assert.Contains(t, handler.uris[0], "state=s1")
}

func TestCallbackServer_HandlerErrorRendersFailurePage(t *testing.T) {
	handler := &recordingHandler{err: errors.New("redirect is missing code or state")}
	server := NewCallbackServer(0, handler)

	redirectURI, err := server.Start(context.Background())
	require.NoError(t, err)
	defer server.Stop()

	resp, err := http.Get(redirectURI)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Authentication failed")
}

func TestCallbackServer_DoubleStart(t *testing.T) {
	server := NewCallbackServer(0, &recordingHandler{})

	_, err := server.Start(context.Background())
	require.NoError(t, err)
	defer server.Stop()

	_, err = server.Start(context.Background())
	require.Error(t, err)
}

func TestCallbackServer_StopIsIdempotent(t *testing.T) {
	server := NewCallbackServer(0, &recordingHandler{})

	_, err := server.Start(context.Background())
	require.NoError(t, err)

	server.Stop()
	server.Stop()
}
