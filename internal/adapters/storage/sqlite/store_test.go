package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/insurance-agent/internal/adapters/storage/sqlite"
	"github.com/PabloGalante/insurance-agent/internal/adapters/storage/storetest"
	"github.com/PabloGalante/insurance-agent/internal/domain"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.RunSessionStoreContract(t, func(t *testing.T) domain.SessionStore {
		return openStore(t, filepath.Join(t.TempDir(), "sessions.db"))
	})
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	ctx := context.Background()

	first, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	want := storetest.SampleState("s-restart", "u-1")
	require.NoError(t, first.Save(ctx, want))
	require.NoError(t, first.Close())

	// reopening runs the migrations again, which must be a no-op
	second := openStore(t, path)
	got, err := second.Load(ctx, "s-restart", "u-1")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("state after reopen (-want +got):\n%s", diff)
	}
}
