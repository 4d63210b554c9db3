// Package massupdate coordinates filter-selected bulk calendar operations:
// one mass update owns a set of UnplannedBulk events and keeps the
// reference sets of every matched child location in step with them.
package massupdate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/events"
	"f0oster/locmaster/history"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/records"
)

type Coordinator struct {
	store     *records.Store
	locations *locations.Repository
	events    *events.Repository
	recorder  *history.Recorder
	now       func() time.Time
}

func NewCoordinator(store *records.Store, locs *locations.Repository, evs *events.Repository, rec *history.Recorder) *Coordinator {
	return &Coordinator{store: store, locations: locs, events: evs, recorder: rec, now: time.Now}
}

// WithClock overrides the coordinator clock. Tests only.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) container() docstore.Container {
	return c.store.Docs().Container(Partition)
}

// GetActive returns the active version of a mass update.
func (c *Coordinator) GetActive(ctx context.Context, massUpdateID string) (*MassUpdate, error) {
	docs, err := c.container().Query(ctx, docstore.Filter{
		"massUpdateId": massUpdateID,
		"status":       records.StatusActive,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("mass update %q: %w", massUpdateID, docstore.ErrNotFound)
	}
	mu := &MassUpdate{}
	if err := records.Unmarshal(docs[0], mu); err != nil {
		return nil, err
	}
	return mu, nil
}

// ListActive returns every active mass update.
func (c *Coordinator) ListActive(ctx context.Context) ([]*MassUpdate, error) {
	docs, err := c.container().Query(ctx, docstore.Filter{"status": records.StatusActive})
	if err != nil {
		return nil, err
	}
	out := make([]*MassUpdate, 0, len(docs))
	for _, doc := range docs {
		mu := &MassUpdate{}
		if err := records.Unmarshal(doc, mu); err != nil {
			return nil, err
		}
		out = append(out, mu)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MassUpdateID < out[j].MassUpdateID })
	return out, nil
}

// MassUpdateTitle resolves a mass-update id to its title for display.
func (c *Coordinator) MassUpdateTitle(ctx context.Context, massUpdateID string) (string, error) {
	mu, err := c.GetActive(ctx, massUpdateID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return mu.Title, nil
}

// Create validates the filter against the current hierarchy, creates the
// carried events, stamps the reference set of every matched child location,
// and persists the mass-update record. An empty filter or a filter that
// matches no location is rejected before any write.
func (c *Coordinator) Create(ctx context.Context, actor, title, description string, filter locations.Selection, specs []EventSpec) (*MassUpdate, error) {
	if title == "" {
		return nil, fmt.Errorf("mass update requires a title: %w", records.ErrValidation)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("mass update requires at least one event: %w", records.ErrValidation)
	}
	matched, err := c.matchFilter(ctx, filter)
	if err != nil {
		return nil, err
	}

	mu := &MassUpdate{
		MassUpdateID: uuid.NewString(),
		Title:        title,
		Description:  description,
		Selection:    filter,
	}

	created, err := c.createEvents(ctx, actor, mu.MassUpdateID, specs)
	if err != nil {
		return nil, err
	}
	for _, ev := range created {
		mu.OwnedEvents = append(mu.OwnedEvents, ev.InstanceID)
	}
	sort.Strings(mu.OwnedEvents)

	// A Planned event a location owns under the same business id is
	// overwritten by the bulk copy, not kept alongside it.
	overwritten := map[string]bool{}
	for _, ev := range created {
		overwritten[ev.BusinessEventID] = true
	}

	var updates []locations.RefUpdate
	var touched []*locations.LocationNode
	snapshots := map[string]locations.LocationNode{}
	for _, node := range matched {
		refs, err := c.stripOverwritten(ctx, actor, node, overwritten)
		if err != nil {
			return nil, err
		}
		for _, ev := range created {
			refs[ev.InstanceID] = true
		}
		next, err := records.CloneForUpdate(node, c.now(), actor)
		if err != nil {
			return nil, err
		}
		snapshots[node.NodeID] = *node
		next.EventRefs = sortedSet(refs)
		updates = append(updates, locations.RefUpdate{Existing: node, Next: next})
		touched = append(touched, next)
	}
	if err := c.commitRefs(ctx, updates); err != nil {
		return nil, err
	}
	for _, node := range touched {
		snap := snapshots[node.NodeID]
		if err := c.recordLocation(ctx, actor, &snap, node); err != nil {
			return nil, err
		}
	}

	if err := c.store.CreateNew(ctx, Partition, mu, actor, c.now()); err != nil {
		return nil, err
	}
	if err := c.recordMassUpdate(ctx, actor, nil, mu); err != nil {
		return nil, err
	}
	return mu, nil
}

// Update re-evaluates the filter, reconciles the carried event set, and
// rewrites references on both the locations the filter no longer matches
// and the ones it newly matches.
func (c *Coordinator) Update(ctx context.Context, actor, massUpdateID, title, description string, filter locations.Selection, specs []EventSpec) (*MassUpdate, error) {
	mu, err := c.GetActive(ctx, massUpdateID)
	if err != nil {
		return nil, err
	}
	if title == "" {
		return nil, fmt.Errorf("mass update requires a title: %w", records.ErrValidation)
	}
	newMatched, err := c.matchFilter(ctx, filter)
	if err != nil {
		return nil, err
	}
	oldMatched, err := c.locations.Referencing(ctx, mu.OwnedEvents)
	if err != nil {
		return nil, err
	}

	kept := map[string]bool{}
	var createSpecs []EventSpec
	for _, spec := range specs {
		if spec.InstanceID == "" {
			createSpecs = append(createSpecs, spec)
			continue
		}
		if !contains(mu.OwnedEvents, spec.InstanceID) {
			return nil, fmt.Errorf("event %q is not owned by mass update %q: %w", spec.InstanceID, massUpdateID, records.ErrValidation)
		}
		kept[spec.InstanceID] = true
		oldEv, curEv, changed, err := c.events.Update(ctx, actor, spec.InstanceID, patchOf(spec))
		if err != nil {
			return nil, err
		}
		if changed {
			changes, err := events.DiffSchema.Diff(oldEv, curEv, "")
			if err != nil {
				return nil, err
			}
			if err := c.recorder.RecordAndSummarize(ctx, actor, events.ObjectType, curEv.InstanceID, curEv, changes); err != nil {
				return nil, err
			}
		}
	}

	dropped := map[string]bool{}
	for _, id := range mu.OwnedEvents {
		if kept[id] {
			continue
		}
		dropped[id] = true
		deleted, err := c.events.Delete(ctx, actor, id)
		if errors.Is(err, docstore.ErrNotFound) {
			log.Printf("mass update %s owns missing event %s; skipping delete", massUpdateID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := c.recordEventRemoval(ctx, actor, deleted); err != nil {
			return nil, err
		}
	}

	created, err := c.createEvents(ctx, actor, massUpdateID, createSpecs)
	if err != nil {
		return nil, err
	}

	newOwned := map[string]bool{}
	for id := range kept {
		newOwned[id] = true
	}
	for _, ev := range created {
		newOwned[ev.InstanceID] = true
	}

	inNew := map[string]bool{}
	for _, node := range newMatched {
		inNew[node.NodeID] = true
	}

	var updates []locations.RefUpdate
	var touched []*locations.LocationNode
	snapshots := map[string]locations.LocationNode{}
	commitNode := func(node *locations.LocationNode, refs map[string]bool) error {
		next, err := records.CloneForUpdate(node, c.now(), actor)
		if err != nil {
			return err
		}
		snapshots[node.NodeID] = *node
		next.EventRefs = sortedSet(refs)
		updates = append(updates, locations.RefUpdate{Existing: node, Next: next})
		touched = append(touched, next)
		return nil
	}

	// Excluded locations lose every reference this mass update placed.
	for _, node := range oldMatched {
		if inNew[node.NodeID] {
			continue
		}
		refs := refSet(node.EventRefs)
		for _, id := range mu.OwnedEvents {
			delete(refs, id)
		}
		if err := commitNode(node, refs); err != nil {
			return nil, err
		}
	}
	// Matched locations carry exactly the surviving owned set.
	for _, node := range newMatched {
		refs := refSet(node.EventRefs)
		for id := range dropped {
			delete(refs, id)
		}
		for id := range newOwned {
			refs[id] = true
		}
		if sameRefs(node.EventRefs, refs) {
			continue
		}
		if err := commitNode(node, refs); err != nil {
			return nil, err
		}
	}
	if err := c.commitRefs(ctx, updates); err != nil {
		return nil, err
	}
	for _, node := range touched {
		snap := snapshots[node.NodeID]
		if err := c.recordLocation(ctx, actor, &snap, node); err != nil {
			return nil, err
		}
	}

	snapshot := *mu
	next, err := records.CloneForUpdate(mu, c.now(), actor)
	if err != nil {
		return nil, err
	}
	next.Title = title
	next.Description = description
	next.Selection = filter
	next.OwnedEvents = sortedSet(newOwned)
	if err := c.store.Commit(ctx, Partition, mu, next); err != nil {
		return nil, err
	}
	if err := c.recordMassUpdate(ctx, actor, &snapshot, next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes the mass update, deletes every event it owns, and strips
// the references from every location still carrying them.
func (c *Coordinator) Delete(ctx context.Context, actor, massUpdateID string) error {
	mu, err := c.GetActive(ctx, massUpdateID)
	if err != nil {
		return err
	}

	matched, err := c.locations.Referencing(ctx, mu.OwnedEvents)
	if err != nil {
		return err
	}
	for _, id := range mu.OwnedEvents {
		deleted, err := c.events.Delete(ctx, actor, id)
		if errors.Is(err, docstore.ErrNotFound) {
			log.Printf("mass update %s owns missing event %s; skipping delete", massUpdateID, id)
			continue
		}
		if err != nil {
			return err
		}
		if err := c.recordEventRemoval(ctx, actor, deleted); err != nil {
			return err
		}
	}

	var updates []locations.RefUpdate
	var touched []*locations.LocationNode
	snapshots := map[string]locations.LocationNode{}
	for _, node := range matched {
		refs := refSet(node.EventRefs)
		for _, id := range mu.OwnedEvents {
			delete(refs, id)
		}
		next, err := records.CloneForUpdate(node, c.now(), actor)
		if err != nil {
			return err
		}
		snapshots[node.NodeID] = *node
		next.EventRefs = sortedSet(refs)
		updates = append(updates, locations.RefUpdate{Existing: node, Next: next})
		touched = append(touched, next)
	}
	if err := c.commitRefs(ctx, updates); err != nil {
		return err
	}
	for _, node := range touched {
		snap := snapshots[node.NodeID]
		if err := c.recordLocation(ctx, actor, &snap, node); err != nil {
			return err
		}
	}

	next, err := records.CloneForDelete(mu, c.now(), actor)
	if err != nil {
		return err
	}
	if err := c.store.Commit(ctx, Partition, mu, next); err != nil {
		return err
	}
	changes := []history.Change{{Attribute: "status", Old: string(records.StatusActive), New: string(records.StatusDeleted)}}
	return c.recorder.RecordAndSummarize(ctx, actor, ObjectType, mu.MassUpdateID, next, changes)
}

// matchFilter rejects empty filters and filters that select nothing.
func (c *Coordinator) matchFilter(ctx context.Context, filter locations.Selection) ([]*locations.LocationNode, error) {
	if filter.Empty() {
		return nil, fmt.Errorf("mass update requires a non-empty location filter: %w", records.ErrValidation)
	}
	matched, err := c.locations.Select(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("location filter matches no child location: %w", records.ErrValidation)
	}
	return matched, nil
}

func (c *Coordinator) createEvents(ctx context.Context, actor, massUpdateID string, specs []EventSpec) ([]*events.CalendarEvent, error) {
	var out []*events.CalendarEvent
	for _, spec := range specs {
		ev := &events.CalendarEvent{
			Type:            events.TypeUnplannedBulk,
			BusinessEventID: spec.BusinessEventID,
			Name:            spec.Name,
			Description:     spec.Description,
			StartDay:        spec.StartDay,
			StartTime:       spec.StartTime,
			EndDay:          spec.EndDay,
			EndTime:         spec.EndTime,
			Duration:        spec.Duration,
			FullDay:         spec.FullDay,
			Closure:         spec.Closure,
			MassUpdateID:    massUpdateID,
		}
		created, err := c.events.Create(ctx, actor, ev)
		if err != nil {
			return nil, err
		}
		changes, err := events.DiffSchema.Diff(nil, created, "")
		if err != nil {
			return nil, err
		}
		if err := c.recorder.RecordAndSummarize(ctx, actor, events.ObjectType, created.InstanceID, created, changes); err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

// stripOverwritten deletes the node's own Planned events whose business ids
// collide with the bulk copies and returns the node's reference set with
// those entries removed.
func (c *Coordinator) stripOverwritten(ctx context.Context, actor string, node *locations.LocationNode, overwritten map[string]bool) (map[string]bool, error) {
	refs := refSet(node.EventRefs)
	owned, err := c.events.ActiveOwnedBy(ctx, node.NodeID)
	if err != nil {
		return nil, err
	}
	for _, ev := range owned {
		if ev.Type != events.TypePlanned || !overwritten[ev.BusinessEventID] {
			continue
		}
		deleted, err := c.events.Delete(ctx, actor, ev.InstanceID)
		if err != nil {
			return nil, err
		}
		if err := c.recordEventRemoval(ctx, actor, deleted); err != nil {
			return nil, err
		}
		delete(refs, ev.InstanceID)
	}
	return refs, nil
}

func (c *Coordinator) commitRefs(ctx context.Context, updates []locations.RefUpdate) error {
	err := c.locations.CommitMany(ctx, updates)
	var batchErr *docstore.BatchError
	if errors.As(err, &batchErr) {
		log.Printf("mass update reference rewrite applied partially: %d/%d chunks committed", batchErr.Result.Committed, batchErr.Result.Chunks)
	}
	return err
}

func (c *Coordinator) recordLocation(ctx context.Context, actor string, old, cur *locations.LocationNode) error {
	changes, err := locations.DiffSchema.Diff(old, cur, "")
	if err != nil {
		return err
	}
	return c.recorder.RecordAndSummarize(ctx, actor, locations.ObjectType, cur.NodeID, cur, changes)
}

func (c *Coordinator) recordMassUpdate(ctx context.Context, actor string, old, cur *MassUpdate) error {
	var oldRec any
	if old != nil {
		oldRec = old
	}
	changes, err := DiffSchema.Diff(oldRec, cur, "")
	if err != nil {
		return err
	}
	return c.recorder.RecordAndSummarize(ctx, actor, ObjectType, cur.MassUpdateID, cur, changes)
}

func (c *Coordinator) recordEventRemoval(ctx context.Context, actor string, deleted *events.CalendarEvent) error {
	changes := []history.Change{{Attribute: "status", Old: string(records.StatusActive), New: string(records.StatusDeleted)}}
	return c.recorder.RecordAndSummarize(ctx, actor, events.ObjectType, deleted.InstanceID, deleted, changes)
}

func patchOf(spec EventSpec) events.Patch {
	return events.Patch{
		Name:        &spec.Name,
		Description: &spec.Description,
		StartDay:    &spec.StartDay,
		StartTime:   &spec.StartTime,
		EndDay:      &spec.EndDay,
		EndTime:     &spec.EndTime,
		Duration:    &spec.Duration,
		FullDay:     &spec.FullDay,
		Closure:     &spec.Closure,
	}
}

func refSet(refs []string) map[string]bool {
	out := map[string]bool{}
	for _, id := range refs {
		out[id] = true
	}
	return out
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameRefs(current []string, want map[string]bool) bool {
	if len(current) != len(want) {
		return false
	}
	for _, id := range current {
		if !want[id] {
			return false
		}
	}
	return true
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
