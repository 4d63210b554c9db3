package records_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/docstore/memstore"
	"f0oster/locmaster/records"
)

type widget struct {
	records.Meta
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCreateNewStampsIdentityAndAudit(t *testing.T) {
	ctx := context.Background()
	store := records.NewStore(memstore.NewStore())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	w := &widget{Name: "first"}
	if err := store.CreateNew(ctx, "widgets", w, "alice", now); err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	if w.DocID == "" || w.ETag == "" {
		t.Fatal("identity or concurrency token missing after create")
	}
	if w.Status != records.StatusActive {
		t.Fatalf("status %q, want Active", w.Status)
	}
	if !w.EffectiveFrom.Equal(now) || w.EffectiveTo != nil {
		t.Fatal("effective range not stamped")
	}
	if w.Source != "alice" {
		t.Fatalf("source %q, want alice", w.Source)
	}
}

func TestCreateNewDefaultsActorToSystem(t *testing.T) {
	ctx := context.Background()
	store := records.NewStore(memstore.NewStore())

	w := &widget{Name: "unattended"}
	if err := store.CreateNew(ctx, "widgets", w, "", time.Now()); err != nil {
		t.Fatalf("CreateNew: %v", err)
	}
	if w.Source != records.SourceSystem {
		t.Fatalf("source %q, want %q", w.Source, records.SourceSystem)
	}
}

func TestCloneForUpdateRetiresTheOldVersion(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := &widget{
		Meta: records.Meta{
			DocID:         "old-id",
			ETag:          "old-etag",
			Status:        records.StatusActive,
			EffectiveFrom: now.Add(-24 * time.Hour),
			Source:        "alice",
		},
		Name:  "thing",
		Count: 3,
	}

	next, err := records.CloneForUpdate(existing, now, "bob")
	if err != nil {
		t.Fatalf("CloneForUpdate: %v", err)
	}

	if next.DocID == "" || next.DocID == existing.DocID {
		t.Fatal("clone did not get a fresh identity")
	}
	if next.ETag != "" {
		t.Fatal("clone must not inherit the concurrency token")
	}
	if next.Status != records.StatusActive || next.Source != "bob" {
		t.Fatalf("clone meta %+v not stamped for the new actor", next.Meta)
	}
	if next.Name != "thing" || next.Count != 3 {
		t.Fatal("payload fields were not copied")
	}
	if existing.Status != records.StatusInactive {
		t.Fatalf("old status %q, want Inactive", existing.Status)
	}
	if existing.EffectiveTo == nil || !existing.EffectiveTo.Equal(now) {
		t.Fatal("old version was not closed at the clone instant")
	}
}

func TestCloneForDeleteMarksTheNewVersionDeleted(t *testing.T) {
	existing := &widget{Meta: records.Meta{DocID: "old", Status: records.StatusActive}}
	next, err := records.CloneForDelete(existing, time.Now(), "bob")
	if err != nil {
		t.Fatalf("CloneForDelete: %v", err)
	}
	if next.Status != records.StatusDeleted {
		t.Fatalf("status %q, want Deleted", next.Status)
	}
	if existing.Status != records.StatusInactive {
		t.Fatalf("old status %q, want Inactive", existing.Status)
	}
}

func TestCommitWritesBothVersionsAtomically(t *testing.T) {
	ctx := context.Background()
	docs := memstore.NewStore()
	store := records.NewStore(docs)
	now := time.Now()

	w := &widget{Name: "v1"}
	if err := store.CreateNew(ctx, "widgets", w, "alice", now); err != nil {
		t.Fatalf("CreateNew: %v", err)
	}

	next, err := records.CloneForUpdate(w, now.Add(time.Minute), "bob")
	if err != nil {
		t.Fatalf("CloneForUpdate: %v", err)
	}
	next.Name = "v2"
	if err := store.Commit(ctx, "widgets", w, next); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	all, err := docs.Container("widgets").Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d documents, want old + new", len(all))
	}
	active, err := docs.Container("widgets").Query(ctx, docstore.Filter{"status": records.StatusActive})
	if err != nil {
		t.Fatalf("Query active: %v", err)
	}
	if len(active) != 1 || active[0].ID != next.DocID {
		t.Fatalf("active set %v, want exactly the new version", active)
	}
}

func TestCommitSurfacesConcurrentWriterAsConflict(t *testing.T) {
	ctx := context.Background()
	docs := memstore.NewStore()
	store := records.NewStore(docs)
	now := time.Now()

	w := &widget{Name: "v1"}
	if err := store.CreateNew(ctx, "widgets", w, "alice", now); err != nil {
		t.Fatalf("CreateNew: %v", err)
	}

	// Two readers load the same version.
	stale := *w

	first, err := records.CloneForUpdate(w, now, "bob")
	if err != nil {
		t.Fatalf("CloneForUpdate: %v", err)
	}
	if err := store.Commit(ctx, "widgets", w, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second, err := records.CloneForUpdate(&stale, now, "carol")
	if err != nil {
		t.Fatalf("CloneForUpdate: %v", err)
	}
	err = store.Commit(ctx, "widgets", &stale, second)
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}

	// The losing commit must not have written its new version.
	all, err := docs.Container("widgets").Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d documents, want only the winner's two", len(all))
	}
}
