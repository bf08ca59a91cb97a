package oauth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// callbackPath is where the remote service redirects the browser after
// the user approves or denies the authorization request.
const callbackPath = "/callback"

const callbackSuccessHTML = `<!DOCTYPE html>
<html>
<head><title>Authentication complete</title></head>
<body>
<h1>Authentication complete</h1>
<p>You can close this window and return to the application.</p>
</body>
</html>`

const callbackErrorHTML = `<!DOCTYPE html>
<html>
<head><title>Authentication failed</title></head>
<body>
<h1>Authentication failed</h1>
<p>The sign-in could not be completed. Close this window and try again.</p>
</body>
</html>`

// RedirectHandler receives captured redirect URIs. *Client satisfies it.
type RedirectHandler interface {
	HandleRedirect(ctx context.Context, rawURI string) error
}

// CallbackServer is a loopback HTTP server that captures the OAuth
// redirect and forwards it to a RedirectHandler. It exists for hosts
// without their own URI-capture mechanism, like the CLI; editor hosts
// deliver redirect URIs to Client.HandleRedirect directly.
type CallbackServer struct {
	port    int
	handler RedirectHandler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewCallbackServer creates a callback server. A port of 0 picks a free
// port at Start time.
func NewCallbackServer(port int, handler RedirectHandler) *CallbackServer {
	return &CallbackServer{port: port, handler: handler}
}

// Start begins listening and returns the redirect URI to register in the
// authorize request. The server stops when ctx is canceled or Stop is
// called.
func (s *CallbackServer) Start(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return "", fmt.Errorf("callback server already started")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to start callback server on %s: %w", addr, err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := s.server
	go func() {
		// http.ErrServerClosed is the normal shutdown path.
		_ = server.Serve(listener)
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return s.RedirectURI(), nil
}

// RedirectURI returns the redirect target served by this server.
func (s *CallbackServer) RedirectURI() string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", s.port, callbackPath)
}

// Stop shuts the server down. Safe to call more than once.
func (s *CallbackServer) Stop() {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	err := s.handler.HandleRedirect(r.Context(), r.URL.String())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, callbackErrorHTML)
		return
	}
	fmt.Fprint(w, callbackSuccessHTML)
}
