package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shakenfist/ostrich/pkg/engine"
)

func sampleState() *engine.State {
	state := engine.NewState()
	state.Complete["fetch"] = engine.Success()
	state.Complete["mirror"] = engine.Answer("http://mirror")
	state.Counter = 4
	state.Kwargs = map[string]any{"cwd": "/srv", "env": map[string]any{"A": "1"}}
	state.KwargsVersion = 2
	state.Tested["kernel"] = "6.1"
	return state
}

func checkState(t *testing.T, got *engine.State) {
	t.Helper()

	if got.Counter != 4 || got.KwargsVersion != 2 {
		t.Errorf("unexpected counters: counter=%d version=%d", got.Counter, got.KwargsVersion)
	}
	if !got.Complete["fetch"].Truthy() {
		t.Error("expected fetch to be complete")
	}
	if got.Complete["mirror"].Text() != "http://mirror" {
		t.Errorf("expected mirror answer, got %s", got.Complete["mirror"])
	}
	env, ok := got.Kwargs["env"].(map[string]any)
	if !ok || env["A"] != "1" {
		t.Errorf("unexpected kwargs: %v", got.Kwargs)
	}
	if got.Tested["kernel"] != "6.1" {
		t.Errorf("unexpected tested: %v", got.Tested)
	}
}

func TestFileStoreMissingIsNoState(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	_, err := store.Load(context.Background())
	if !errors.Is(err, engine.ErrNoState) {
		t.Fatalf("expected ErrNoState, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	checkState(t, got)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the state file, found %d entries", len(entries))
	}
}

func TestFileStoreReadsPlainDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	doc := `{"complete": {"a": true, "q": "yes"}, "counter": 7, "kwargs": {}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := NewFileStore(path).Load(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got.Counter != 7 || len(got.Complete) != 2 {
		t.Errorf("unexpected state: %+v", got)
	}
	if got.Tested == nil {
		t.Error("expected tested to be initialised")
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path).Load(context.Background())
	if err == nil || errors.Is(err, engine.ErrNoState) {
		t.Fatalf("expected a parse error, got %v", err)
	}
}

func TestFileStoreRemove(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if err := store.Remove(); err != nil {
		t.Fatalf("removing a missing file failed: %v", err)
	}
	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Remove(); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, engine.ErrNoState) {
		t.Errorf("expected ErrNoState after remove, got %v", err)
	}
}

func TestFileStoreResumesRunner(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	r, err := engine.New(ctx, store)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	if r.Counter() != 4 || !r.IsComplete("fetch") || r.Answer("mirror") != "http://mirror" {
		t.Errorf("runner did not resume from saved state")
	}
}
