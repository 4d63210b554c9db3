package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/docstore/memstore"
	"f0oster/locmaster/events"
	"f0oster/locmaster/records"
)

func newRepo(t *testing.T, now time.Time) (*events.Repository, *memstore.Store) {
	t.Helper()
	docs := memstore.NewStore()
	repo := events.NewRepository(records.NewStore(docs)).WithClock(func() time.Time { return now })
	return repo, docs
}

func day(t time.Time) string { return t.Format(events.DayLayout) }

func TestCreateAllocatesSequentialBusinessIDs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	first, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Inventory", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if first.BusinessEventID != "EVU00000001" {
		t.Fatalf("got %q, want EVU00000001", first.BusinessEventID)
	}

	second, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Recount", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.BusinessEventID != "EVU00000002" {
		t.Fatalf("got %q, want EVU00000002", second.BusinessEventID)
	}
	if second.InstanceID == first.InstanceID {
		t.Fatal("instance ids must be unique per physical copy")
	}
}

func TestCreateKeepsSuppliedBusinessID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypePlanned, BusinessEventID: "EVP00000042",
		Name: "Holiday", StartDay: day(now), LocationNode: "R1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.BusinessEventID != "EVP00000042" {
		t.Fatalf("got %q, want the supplied id kept", ev.BusinessEventID)
	}
}

func TestCreateDefaultsFlagsAndTimestamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Stocktake",
		StartDay: "2026-06-10", StartTime: "09:00", EndTime: "17:00",
		LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ev.FullDay != events.FlagNo || ev.Closure != events.FlagNo {
		t.Fatalf("flags %q/%q, want N/N defaults", ev.FullDay, ev.Closure)
	}
	wantStart := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 6, 10, 17, 0, 0, 0, time.UTC)
	if !ev.StartAt.Equal(wantStart) || !ev.EndAt.Equal(wantEnd) {
		t.Fatalf("timestamps %v/%v, want %v/%v", ev.StartAt, ev.EndAt, wantStart, wantEnd)
	}
}

func TestCreateFullDaySpansWholeDays(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Closure",
		StartDay: "2026-06-10", StartTime: "09:00",
		EndDay: "2026-06-11", EndTime: "10:00",
		FullDay: events.FlagYes, LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	wantStart := time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 6, 11, 23, 59, 0, 0, time.UTC)
	if !ev.StartAt.Equal(wantStart) || !ev.EndAt.Equal(wantEnd) {
		t.Fatalf("timestamps %v/%v, want whole-day span", ev.StartAt, ev.EndAt)
	}
}

func TestCreateRejectsMissingDay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, docs := newRepo(t, now)

	_, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "No day", LocationNode: "L1",
	})
	if !errors.Is(err, records.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	all, qerr := docs.Container(events.Partition).Query(ctx, nil)
	if qerr != nil {
		t.Fatalf("Query: %v", qerr)
	}
	if len(all) != 0 {
		t.Fatal("validation failure must not write")
	}
}

func TestUnplannedAllocationIgnoresBulkIDs(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	// EVU is a prefix of EVUB; a bulk id must never feed the Unplanned
	// sequence even if its numeric tail is higher.
	_, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplannedBulk, BusinessEventID: "EVUB00000099",
		Name: "Bulk", StartDay: day(now),
	})
	if err != nil {
		t.Fatalf("create bulk: %v", err)
	}

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Single", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create unplanned: %v", err)
	}
	if ev.BusinessEventID != "EVU00000001" {
		t.Fatalf("got %q, want EVU00000001", ev.BusinessEventID)
	}
}

func TestUpdateWithoutChangeWritesNothing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, docs := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Stocktake", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	same := ev.Name
	_, _, changed, err := repo.Update(ctx, "bob", ev.InstanceID, events.Patch{Name: &same})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if changed {
		t.Fatal("identical patch reported as a change")
	}
	all, err := docs.Container(events.Partition).Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d documents, want the single original version", len(all))
	}
}

func TestUpdateCommitsANewVersion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, docs := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Stocktake", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newName := "Full stocktake"
	old, cur, changed, err := repo.Update(ctx, "bob", ev.InstanceID, events.Patch{Name: &newName})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("real change reported as no-op")
	}
	if old.Name != "Stocktake" || cur.Name != "Full stocktake" {
		t.Fatalf("old/new %q/%q not returned for diffing", old.Name, cur.Name)
	}
	if cur.InstanceID != ev.InstanceID {
		t.Fatal("updating in place must keep the instance id")
	}

	active, err := docs.Container(events.Partition).Query(ctx, docstore.Filter{
		"instanceId": ev.InstanceID, "status": records.StatusActive,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("got %d active versions, want exactly one", len(active))
	}
	all, err := docs.Container(events.Partition).Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d documents, want retired + current", len(all))
	}
}

func TestDeleteRetiresTheActiveVersion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	ev, err := repo.Create(ctx, "alice", &events.CalendarEvent{
		Type: events.TypeUnplanned, Name: "Stocktake", StartDay: day(now), LocationNode: "L1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := repo.Delete(ctx, "bob", ev.InstanceID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted.Status != records.StatusDeleted {
		t.Fatalf("status %q, want Deleted", deleted.Status)
	}

	if _, err := repo.GetActive(ctx, ev.InstanceID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound after delete", err)
	}
	if _, err := repo.Delete(ctx, "bob", ev.InstanceID); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestPlannedEventTemplates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)

	seed := []*events.CalendarEvent{
		{Type: events.TypePlanned, Name: "Christmas", StartDay: "2026-12-25", DisplaySequence: 6},
		{Type: events.TypePlanned, Name: "New Year", StartDay: "2026-01-01", DisplaySequence: 1},
		{Type: events.TypePlanned, Name: "Last Year", StartDay: "2025-07-04", DisplaySequence: 3},
		{Type: events.TypePlanned, Name: "Bound", StartDay: "2026-07-04", DisplaySequence: 3, LocationNode: "L1"},
	}
	for _, ev := range seed {
		if _, err := repo.Create(ctx, "alice", ev); err != nil {
			t.Fatalf("create %s: %v", ev.Name, err)
		}
	}

	all, err := repo.PlannedEventTemplates(ctx, false)
	if err != nil {
		t.Fatalf("PlannedEventTemplates: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d templates, want the current year's unbound pair", len(all))
	}
	if all[0].Name != "New Year" || all[1].Name != "Christmas" {
		t.Fatalf("order %q, %q, want display-sequence order", all[0].Name, all[1].Name)
	}

	future, err := repo.PlannedEventTemplates(ctx, true)
	if err != nil {
		t.Fatalf("PlannedEventTemplates excludePast: %v", err)
	}
	if len(future) != 1 || future[0].Name != "Christmas" {
		t.Fatalf("got %v, want only the upcoming template", future)
	}
}

type staticEnricher struct{}

func (staticEnricher) LocationName(context.Context, string) (string, error) {
	return "Downtown Store", nil
}
func (staticEnricher) MassUpdateTitle(context.Context, string) (string, error) {
	return "Summer refit", nil
}

func TestNextEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC)
	repo, _ := newRepo(t, now)
	repo.SetEnricher(staticEnricher{})

	seed := []*events.CalendarEvent{
		{Type: events.TypeUnplanned, Name: "Past", StartDay: "2026-06-01", LocationNode: "L1"},
		{Type: events.TypeUnplanned, Name: "Today", StartDay: "2026-06-15", LocationNode: "L1"},
		{Type: events.TypeUnplanned, Name: "Later", StartDay: "2026-07-01", LocationNode: "L1", MassUpdateID: "MU1"},
	}
	for _, ev := range seed {
		if _, err := repo.Create(ctx, "alice", ev); err != nil {
			t.Fatalf("create %s: %v", ev.Name, err)
		}
	}

	out, err := repo.NextEvents(ctx, events.TypeUnplanned, 10)
	if err != nil {
		t.Fatalf("NextEvents: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d events, want the two starting today or later", len(out))
	}
	for _, row := range out {
		if row.Name == "Past" {
			t.Fatal("past event leaked into upcoming list")
		}
		if row.LocationName != "Downtown Store" {
			t.Fatalf("location name %q not enriched", row.LocationName)
		}
		if row.Name == "Later" && row.MassUpdateTitle != "Summer refit" {
			t.Fatalf("mass update title %q not enriched", row.MassUpdateTitle)
		}
	}

	one, err := repo.NextEvents(ctx, events.TypeUnplanned, 1)
	if err != nil {
		t.Fatalf("NextEvents count=1: %v", err)
	}
	if len(one) != 1 {
		t.Fatalf("got %d events, want count cap respected", len(one))
	}
}
