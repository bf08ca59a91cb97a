package session

import (
	"context"
	"encoding/json"
	"fmt"

	"authkeeper/internal/secrets"
	"authkeeper/pkg/logging"
)

// DefaultStorageKey is the secret-store key holding the session blob.
const DefaultStorageKey = "authkeeper.sessions"

// CorruptionError reports that the persisted session blob could not be
// decoded. The store clears the blob before returning it, so a corrupt
// value is encountered at most once.
type CorruptionError struct {
	Err error
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("persisted session data is corrupt: %v", e.Err)
}

// Unwrap returns the underlying decode error.
func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// Store serializes the session list to and from the secret store.
//
// Save is last-writer-wins: there is no optimistic concurrency check
// against the store's current value, so two processes saving at nearly
// the same time can lose one write. The reconciliation path absorbs this
// as add/remove events instead.
type Store struct {
	secrets secrets.Store
	key     string
}

// NewStore creates a session store over the given secret store. An empty
// key selects DefaultStorageKey.
func NewStore(store secrets.Store, key string) *Store {
	if key == "" {
		key = DefaultStorageKey
	}
	return &Store{secrets: store, key: key}
}

// Load reads and decodes the persisted session list. A missing or empty
// blob is an empty list, not an error. A blob that fails to decode is
// deleted and reported as a *CorruptionError.
func (s *Store) Load(ctx context.Context) ([]Session, error) {
	blob, err := s.secrets.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read session storage: %w", err)
	}
	if blob == "" {
		return nil, nil
	}

	sessions, err := decodeSessions([]byte(blob))
	if err != nil {
		logging.Warn("SessionStore", "clearing undecodable session storage")
		if deleteErr := s.secrets.Delete(ctx, s.key); deleteErr != nil {
			logging.Error("SessionStore", deleteErr, "failed to clear corrupt session storage")
		}
		return nil, &CorruptionError{Err: err}
	}
	return sessions, nil
}

// Save serializes the full session list and overwrites the blob.
func (s *Store) Save(ctx context.Context, sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}
	if err := s.secrets.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("failed to write session storage: %w", err)
	}
	return nil
}

// decodeSessions decodes and schema-validates the blob. Entries are
// required to carry an id, an access token and a scope list; anything
// else means the blob cannot be trusted.
func decodeSessions(data []byte) ([]Session, error) {
	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, err
	}
	for i, s := range sessions {
		if s.ID == "" {
			return nil, fmt.Errorf("session %d has no id", i)
		}
		if s.AccessToken == "" {
			return nil, fmt.Errorf("session %d has no access token", i)
		}
		if s.Scopes == nil {
			return nil, fmt.Errorf("session %d has no scope list", i)
		}
	}
	return sessions, nil
}
