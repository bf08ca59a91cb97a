package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/text"

	"authkeeper/internal/config"
	"authkeeper/internal/oauth"
	"authkeeper/internal/secrets"
	"authkeeper/internal/session"
	"authkeeper/pkg/logging"
)

// runtime holds the fully wired component stack behind a CLI invocation.
// Commands build one with newRuntime and release it with close.
type runtime struct {
	cfg      config.Config
	store    *secrets.FileStore
	oauth    *oauth.Client
	callback *oauth.CallbackServer
	manager  *session.Manager
}

// stderrNotifier prints session manager error notifications to stderr.
type stderrNotifier struct{}

func (stderrNotifier) NotifyError(message string) {
	fmt.Fprintf(os.Stderr, "%s\n", text.FgRed.Sprintf("Error: %s", message))
}

// logReporter records telemetry events in the debug log. The CLI has no
// telemetry backend; editor hosts embed the manager with their own.
type logReporter struct{}

func (logReporter) ReportEvent(name string) {
	logging.Debug("Telemetry", "event: %s", name)
}

// newRuntime loads the configuration, applies flag overrides and wires
// the secret store, the OAuth client and the session manager together.
func newRuntime(ctx context.Context) (*runtime, error) {
	configPath := flagConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if flagHost != "" {
		cfg.Host = flagHost
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Setup(logging.ParseLevel(cfg.LogLevel), os.Stderr)

	store, err := secrets.NewFileStore(cfg.SecretsDir(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", cfg.CallbackPort)
	oauthClient, err := oauth.NewClient(oauth.Config{
		Host:        cfg.Host,
		ClientID:    cfg.ClientID,
		RedirectURI: redirectURI,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	manager, err := session.NewManager(session.ManagerConfig{
		Secrets:  store,
		OAuth:    oauthClient,
		API:      session.NewAPIClient(cfg.Host, cfg.ClientID),
		Notifier: stderrNotifier{},
		Reporter: logReporter{},
	})
	if err != nil {
		oauthClient.Dispose()
		store.Close()
		return nil, err
	}
	manager.Initialize(ctx)

	return &runtime{
		cfg:      cfg,
		store:    store,
		oauth:    oauthClient,
		callback: oauth.NewCallbackServer(cfg.CallbackPort, oauthClient),
		manager:  manager,
	}, nil
}

func (r *runtime) close() {
	r.callback.Stop()
	r.manager.Close()
	r.oauth.Dispose()
	r.store.Close()
}
