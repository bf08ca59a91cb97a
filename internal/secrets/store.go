// Package secrets defines the secret persistence collaborator used by the
// session store: an opaque get/set/delete of string blobs by key, plus a
// subscribable "changed" signal so consumers can reconcile external
// mutations (another process sharing the same store).
//
// Implementations make no atomicity or locking guarantees across
// processes. The blob is assumed crash-safe but not transactional; a
// writer can silently overwrite a concurrent writer's value.
package secrets

import "context"

// Store is the secret persistence interface.
type Store interface {
	// Get returns the blob stored under key, or "" with a nil error if
	// the key has never been set.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn to be called whenever the stored content
	// changes, including changes made by other processes. The returned
	// function cancels the subscription.
	Subscribe(fn func()) func()
}
