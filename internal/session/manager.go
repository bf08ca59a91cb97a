package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"authkeeper/internal/events"
	"authkeeper/internal/oauth"
	"authkeeper/internal/secrets"
	"authkeeper/pkg/logging"
	"authkeeper/pkg/scope"
)

const logSubsystem = "SessionManager"

// verifyConcurrency bounds the number of user-info calls in flight while
// verifying loaded sessions.
const verifyConcurrency = 4

// reconcileTimeout bounds a reconciliation run triggered by the secret
// store's changed signal.
const reconcileTimeout = 30 * time.Second

// Telemetry event names reported to the Reporter collaborator.
const (
	EventLogin         = "login"
	EventLoginFailed   = "login_failed"
	EventLoginCanceled = "login_canceled"
	EventLogout        = "logout"
)

// ChangeEvent is published to subscribers whenever the session list
// changes. Changed is always empty in the current protocol: sessions are
// replaced whole, never mutated in place.
type ChangeEvent struct {
	Added   []Session
	Removed []Session
	Changed []Session
}

// LoginClient is the OAuth collaborator interface. *oauth.Client
// satisfies it.
type LoginClient interface {
	Login(ctx context.Context, scopes []string) (string, error)
}

// Notifier receives user-visible error notifications. Canceled logins
// are never reported through it.
type Notifier interface {
	NotifyError(message string)
}

// Reporter receives structured telemetry events.
type Reporter interface {
	ReportEvent(name string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyError(string) {}

type nopReporter struct{}

func (nopReporter) ReportEvent(string) {}

// ManagerConfig configures a Manager. Secrets, OAuth and API are
// required; Notifier and Reporter default to no-ops.
type ManagerConfig struct {
	Secrets    secrets.Store
	StorageKey string
	OAuth      LoginClient
	API        RemoteAPI
	Notifier   Notifier
	Reporter   Reporter
}

// Manager is the authentication provider: it orchestrates login and
// logout, caches the remote valid-scope set, verifies sessions read from
// storage, and reconciles external storage changes into add/remove
// events.
//
// The manager exclusively owns its in-memory session list; the secret
// store is the durable source of truth shared across processes, and the
// in-memory list is a cached view refreshed on reads and on the store's
// changed signal. One long-lived Manager exists per target service; it
// is created with NewManager and released with Close.
type Manager struct {
	store    *Store
	oauth    LoginClient
	api      RemoteAPI
	notifier Notifier
	reporter Reporter

	broadcaster *events.Broadcaster[ChangeEvent]

	// Valid scopes are fetched at most once per manager lifetime; a
	// fetch failure is cached as "no restriction".
	scopesOnce  sync.Once
	validScopes []string

	// createGroup collapses concurrent CreateSession calls for the same
	// normalized scope set onto one login and one resulting session.
	createGroup singleflight.Group

	mu       sync.Mutex
	sessions []Session

	unsubscribe func()
}

// NewManager creates a manager. Call Initialize before use.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Secrets == nil {
		return nil, errors.New("secret store is required")
	}
	if cfg.OAuth == nil {
		return nil, errors.New("oauth client is required")
	}
	if cfg.API == nil {
		return nil, errors.New("remote API client is required")
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}

	m := &Manager{
		store:       NewStore(cfg.Secrets, cfg.StorageKey),
		oauth:       cfg.OAuth,
		api:         cfg.API,
		notifier:    notifier,
		reporter:    reporter,
		broadcaster: events.NewBroadcaster[ChangeEvent](),
	}
	m.unsubscribe = cfg.Secrets.Subscribe(m.onStorageChanged)
	return m, nil
}

// Initialize primes the in-memory session list from storage, verifying
// loaded sessions along the way.
func (m *Manager) Initialize(ctx context.Context) {
	sessions := m.ReadSessions(ctx)
	m.mu.Lock()
	m.sessions = sessions
	m.mu.Unlock()
	logging.Debug(logSubsystem, "initialized with %d session(s)", len(sessions))
}

// Close detaches the manager from the secret store's changed signal.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

// Subscribe registers fn for session change events. The returned
// function cancels the subscription.
func (m *Manager) Subscribe(fn func(ChangeEvent)) func() {
	return m.broadcaster.Subscribe(fn)
}

// GetSessions returns the current sessions. An empty scopes argument
// means no restriction and returns the full list. Otherwise the query is
// normalized, filtered to the remote service's valid-scope set, and only
// sessions whose scope set equals the filtered query exactly are
// returned.
func (m *Manager) GetSessions(ctx context.Context, scopes []string) []Session {
	all := m.ReadSessions(ctx)
	m.mu.Lock()
	m.sessions = all
	m.mu.Unlock()

	if len(scopes) == 0 {
		return all
	}

	query := m.filterToValidScopes(ctx, scopes)
	var matched []Session
	for _, s := range all {
		if s.MatchesScopes(query) {
			matched = append(matched, s)
		}
	}
	return matched
}

// CreateSession performs a full login for the given scopes and persists
// the resulting session. Concurrent calls for the same normalized scope
// set share one login round trip and resolve to the same session.
// Canceled logins propagate silently; any other failure is reported to
// the notifier once and returned.
func (m *Manager) CreateSession(ctx context.Context, scopes []string) (*Session, error) {
	query := m.filterToValidScopes(ctx, scopes)

	v, err, _ := m.createGroup.Do(scope.Key(query), func() (interface{}, error) {
		return m.createSession(ctx, query)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// createSession runs one non-deduplicated create operation for an
// already filtered, normalized scope query.
func (m *Manager) createSession(ctx context.Context, query []string) (*Session, error) {
	token, err := m.oauth.Login(ctx, query)
	if err != nil {
		return nil, m.reportLoginFailure(err)
	}

	info, err := m.api.UserInfo(ctx, token)
	if err != nil {
		return nil, m.reportLoginFailure(fmt.Errorf("failed to fetch user identity: %w", err))
	}

	session := Session{
		ID:          uuid.NewString(),
		AccessToken: token,
		Scopes:      query,
		Account:     Account{ID: info.ID, Label: info.AccountName},
	}

	m.mu.Lock()
	list := upsert(m.sessions, session)
	if err := m.store.Save(ctx, list); err != nil {
		m.mu.Unlock()
		return nil, m.reportLoginFailure(err)
	}
	m.sessions = list
	m.mu.Unlock()

	logging.Info(logSubsystem, "created session %s for account %s", session.ID, session.Account.Label)
	m.reporter.ReportEvent(EventLogin)
	m.broadcaster.Emit(ChangeEvent{Added: []Session{session}})
	return &session, nil
}

// RemoveSession removes the session with the given ID. A missing ID is
// logged and ignored; a persistence failure is surfaced as a logout
// failure.
func (m *Manager) RemoveSession(ctx context.Context, id string) error {
	m.mu.Lock()
	idx := -1
	for i, s := range m.sessions {
		if s.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		logging.Info(logSubsystem, "session %s not found; nothing to remove", id)
		return nil
	}

	removed := m.sessions[idx]
	list := make([]Session, 0, len(m.sessions)-1)
	list = append(list, m.sessions[:idx]...)
	list = append(list, m.sessions[idx+1:]...)

	if err := m.store.Save(ctx, list); err != nil {
		m.mu.Unlock()
		err = fmt.Errorf("logout failed: %w", err)
		m.notifier.NotifyError(err.Error())
		return err
	}
	m.sessions = list
	m.mu.Unlock()

	logging.Info(logSubsystem, "removed session %s", id)
	m.reporter.ReportEvent(EventLogout)
	m.broadcaster.Emit(ChangeEvent{Removed: []Session{removed}})
	return nil
}

// ReadSessions loads sessions from storage and verifies the ones whose
// account is not already known: a verification rejected with
// ErrUnauthorized drops the session (lazy invalidation), while transient
// failures keep it unchanged (fail open). If verification shrank the
// set, the reduced list is persisted immediately.
//
// ReadSessions does not replace the manager's cached list; reconciliation
// and explicit reads do that themselves so the diff in CheckForUpdates
// always runs against the snapshot its caller captured.
func (m *Manager) ReadSessions(ctx context.Context) []Session {
	raw, err := m.store.Load(ctx)
	if err != nil {
		var corrupt *CorruptionError
		if errors.As(err, &corrupt) {
			logging.Error(logSubsystem, corrupt, "session storage was corrupt and has been cleared")
		} else {
			logging.Error(logSubsystem, err, "failed to load sessions")
		}
		raw = nil
	}
	if len(raw) == 0 {
		return nil
	}

	knownAccounts := m.knownAccounts()

	keep := make([]bool, len(raw))
	verified := make([]Session, len(raw))
	copy(verified, raw)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(verifyConcurrency)
	for i := range verified {
		if verified[i].HasAccount() {
			keep[i] = true
			continue
		}
		if account, ok := knownAccounts[verified[i].ID]; ok {
			verified[i].Account = account
			keep[i] = true
			continue
		}

		g.Go(func() error {
			info, err := m.api.UserInfo(gctx, verified[i].AccessToken)
			switch {
			case err == nil:
				verified[i].Account = Account{ID: info.ID, Label: info.AccountName}
				keep[i] = true
			case errors.Is(err, ErrUnauthorized):
				logging.Info(logSubsystem, "dropping session %s: token no longer accepted", verified[i].ID)
			default:
				// Network errors and server faults must not evict
				// sessions; keep it and try again next time.
				logging.Warn(logSubsystem, "could not verify session %s, keeping it: %v", verified[i].ID, err)
				keep[i] = true
			}
			return nil
		})
	}
	// Verification failures are handled per session; the group never
	// returns an error.
	_ = g.Wait()

	result := make([]Session, 0, len(verified))
	for i, s := range verified {
		if keep[i] {
			result = append(result, s)
		}
	}

	if len(result) != len(raw) {
		if err := m.store.Save(ctx, result); err != nil {
			logging.Error(logSubsystem, err, "failed to persist verified session list")
		}
	}
	return result
}

// CheckForUpdates re-reads the persisted sessions and emits a single
// combined event describing sessions added or removed since the previous
// snapshot. The diff is by ID only: a session whose ID survives is never
// reported, even if other fields changed.
func (m *Manager) CheckForUpdates(ctx context.Context) {
	m.mu.Lock()
	prev := make([]Session, len(m.sessions))
	copy(prev, m.sessions)
	m.mu.Unlock()

	cur := m.ReadSessions(ctx)

	m.mu.Lock()
	m.sessions = cur
	m.mu.Unlock()

	added, removed := diffByID(prev, cur)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	logging.Debug(logSubsystem, "reconciled external change: %d added, %d removed", len(added), len(removed))
	m.broadcaster.Emit(ChangeEvent{Added: added, Removed: removed})
}

// onStorageChanged runs on the secret store's changed signal. Runs are
// deliberately not coalesced; overlapping reconciliations are safe
// because each captures its own snapshot.
func (m *Manager) onStorageChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()
	m.CheckForUpdates(ctx)
}

// filterToValidScopes normalizes a scope query and drops scopes the
// remote service does not recognize, warning about each dropped one.
func (m *Manager) filterToValidScopes(ctx context.Context, scopes []string) []string {
	valid := m.ensureValidScopes(ctx)
	kept, dropped := scope.Filter(scopes, valid)
	if len(dropped) > 0 {
		logging.Warn(logSubsystem, "ignoring scopes not recognized by the server: %s", strings.Join(dropped, ", "))
	}
	return kept
}

// ensureValidScopes fetches the remote valid-scope set at most once per
// manager lifetime. A fetch failure is cached as nil: no filtering.
func (m *Manager) ensureValidScopes(ctx context.Context) []string {
	m.scopesOnce.Do(func() {
		scopes, err := m.api.ValidScopes(ctx)
		if err != nil {
			logging.Warn(logSubsystem, "could not fetch valid scopes, applying no filtering: %v", err)
			return
		}
		m.validScopes = scopes
		logging.Debug(logSubsystem, "server reports %d valid scope(s)", len(scopes))
	})
	return m.validScopes
}

// knownAccounts returns the accounts the manager already holds, by
// session ID, so verification can skip sessions it has seen before.
func (m *Manager) knownAccounts() map[string]Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	known := make(map[string]Account, len(m.sessions))
	for _, s := range m.sessions {
		if s.HasAccount() {
			known[s.ID] = s.Account
		}
	}
	return known
}

// reportLoginFailure routes a CreateSession failure: canceled logins
// propagate silently, anything else is notified to the user once.
func (m *Manager) reportLoginFailure(err error) error {
	if oauth.IsCanceled(err) {
		logging.Debug(logSubsystem, "login canceled")
		m.reporter.ReportEvent(EventLoginCanceled)
		return err
	}
	logging.Error(logSubsystem, err, "login failed")
	m.reporter.ReportEvent(EventLoginFailed)
	m.notifier.NotifyError(err.Error())
	return err
}

// upsert inserts session into list, replacing an existing entry that has
// the same ID or the same normalized scope set; otherwise it appends.
// The input list is not modified.
func upsert(list []Session, session Session) []Session {
	out := make([]Session, len(list))
	copy(out, list)
	for i, s := range out {
		if s.ID == session.ID || s.MatchesScopes(session.Scopes) {
			out[i] = session
			return out
		}
	}
	return append(out, session)
}
