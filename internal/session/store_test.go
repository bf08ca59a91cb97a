package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"authkeeper/internal/secrets"
)

func TestStore_LoadEmpty(t *testing.T) {
	store := NewStore(secrets.NewMemStore(), "")

	sessions, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(secrets.NewMemStore(), "")

	want := []Session{
		{
			ID:          "s1",
			Account:     Account{ID: "u1", Label: "Alice"},
			Scopes:      []string{"a", "b"},
			AccessToken: "tok1",
		},
		{
			ID:          "s2",
			Account:     Account{ID: "u2", Label: "Bob"},
			Scopes:      []string{},
			AccessToken: "tok2",
		},
	}

	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_LoadWithoutAccount(t *testing.T) {
	ctx := context.Background()
	mem := secrets.NewMemStore()
	store := NewStore(mem, "")

	// Blob written by an older client: no account field.
	require.NoError(t, mem.Set(ctx, DefaultStorageKey,
		`[{"id":"s1","scopes":["a"],"accessToken":"tok1"}]`))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].HasAccount())
	assert.Equal(t, "tok1", got[0].AccessToken)
}

func TestStore_CorruptBlob(t *testing.T) {
	tests := []struct {
		name string
		blob string
	}{
		{"not json", `{not json`},
		{"wrong shape", `{"id":"s1"}`},
		{"entry without id", `[{"scopes":["a"],"accessToken":"tok"}]`},
		{"entry without token", `[{"id":"s1","scopes":["a"]}]`},
		{"entry without scopes", `[{"id":"s1","accessToken":"tok"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := secrets.NewMemStore()
			store := NewStore(mem, "")
			require.NoError(t, mem.Set(ctx, DefaultStorageKey, tt.blob))

			sessions, err := store.Load(ctx)
			assert.Empty(t, sessions)

			var corrupt *CorruptionError
			require.ErrorAs(t, err, &corrupt)

			// The corrupt blob is cleared so it is hit at most once.
			blob, err := mem.Get(ctx, DefaultStorageKey)
			require.NoError(t, err)
			assert.Equal(t, "", blob)
		})
	}
}

func TestStore_SaveNilIsEmptyList(t *testing.T) {
	ctx := context.Background()
	mem := secrets.NewMemStore()
	store := NewStore(mem, "")

	require.NoError(t, store.Save(ctx, nil))

	blob, err := mem.Get(ctx, DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", blob)
}

func TestStore_CustomKey(t *testing.T) {
	ctx := context.Background()
	mem := secrets.NewMemStore()
	store := NewStore(mem, "other.key")

	require.NoError(t, store.Save(ctx, []Session{{ID: "s1", Scopes: []string{}, AccessToken: "t"}}))

	blob, err := mem.Get(ctx, "other.key")
	require.NoError(t, err)
	assert.NotEmpty(t, blob)
}
