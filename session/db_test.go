package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tbxark/slotflow/types"
)

func TestDBStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}

	if got, err := store.Load(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("load of unknown session = (%v, %v), want (nil, nil)", got, err)
	}

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != types.PhaseCollecting || got.Slots["start_date"].Normalized != "2026-08-31" {
		t.Errorf("round trip lost data: %+v", got)
	}

	// Save again to exercise the upsert path.
	want.Phase = types.PhaseCompleted
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase != types.PhaseCompleted {
		t.Errorf("upsert did not replace state, phase = %s", got.Phase)
	}

	ids, err := store.IDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "sess-1" {
		t.Errorf("IDs() = %v", ids)
	}
}
