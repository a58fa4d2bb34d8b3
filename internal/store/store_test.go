package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nanoclaw/host/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "nanoclaw.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesSchemaIdempotently(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nanoclaw.db")

	s1, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := store.Open(path, nil)
	if err != nil {
		t.Fatalf("reopen existing db: %v", err)
	}
	defer s2.Close()
}

func TestOpen_RejectsEmptyPath(t *testing.T) {
	if _, err := store.Open("", nil); err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestRegisterGroupAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.RegisterGroup(ctx, store.GroupRecord{
		GroupFolder: "main", LaneClass: "main", Image: "nanoclaw/main:latest",
		Mounts: []string{"/repo:/workspace"}, SecretScope: "main",
	}); err != nil {
		t.Fatalf("register group: %v", err)
	}
	if err := s.RegisterGroup(ctx, store.GroupRecord{
		GroupFolder: "worker-acme", LaneClass: "worker", Image: "nanoclaw/worker:latest",
	}); err != nil {
		t.Fatalf("register second group: %v", err)
	}

	groups, err := s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}

	// Re-registering updates in place rather than erroring or duplicating.
	if err := s.RegisterGroup(ctx, store.GroupRecord{
		GroupFolder: "main", LaneClass: "main", Image: "nanoclaw/main:v2",
	}); err != nil {
		t.Fatalf("re-register group: %v", err)
	}
	groups, err = s.ListGroups(ctx)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected re-register to update not duplicate, got %d groups", len(groups))
	}
}
