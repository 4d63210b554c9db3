package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/events"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/records"
)

// propagate reflects a Campus or Region event change in every descendant's
// reference set. Descendant location updates go out as one logical chunked
// batch; a failing later chunk leaves earlier chunks committed.
func (e *Engine) propagate(ctx context.Context, actor string, node *locations.LocationNode, created []*events.CalendarEvent, replaced []replacedPair, removed []*events.CalendarEvent) error {
	descendants, err := e.locations.Descendants(ctx, node)
	if err != nil {
		return err
	}
	if len(descendants) == 0 {
		return nil
	}
	descendantIDs := map[string]bool{}
	for _, d := range descendants {
		descendantIDs[d.NodeID] = true
	}

	// Descendant-owned instances that must go: overrides and duplicates of
	// every business event id touched by a creation, replacement, or
	// removal. Deleting them forces re-inheritance of the parent copy.
	drop := map[string]bool{} // instance ids to strip from every reference set
	add := map[string]bool{}

	deleteDescendantCopies := func(businessID string, keep map[string]bool) error {
		if businessID == "" {
			return nil
		}
		copies, err := e.events.ActiveByBusinessID(ctx, businessID)
		if err != nil {
			return err
		}
		for _, inst := range copies {
			if keep[inst.InstanceID] || !descendantIDs[inst.LocationNode] {
				continue
			}
			if _, err := e.events.Delete(ctx, actor, inst.InstanceID); err != nil {
				if errors.Is(err, docstore.ErrNotFound) {
					continue // already gone, tolerated for bulk deletes
				}
				return err
			}
			drop[inst.InstanceID] = true
		}
		return nil
	}

	for _, ev := range created {
		add[ev.InstanceID] = true
		if ev.Type == events.TypePlanned {
			// Duplicate prevention: a descendant already owning this
			// business event would display twice once inheritance kicks in.
			if err := deleteDescendantCopies(ev.BusinessEventID, map[string]bool{ev.InstanceID: true}); err != nil {
				return err
			}
		}
	}

	for _, pair := range replaced {
		add[pair.new.InstanceID] = true
		drop[pair.old.InstanceID] = true
		if pair.old.ParentInstanceID != "" && pair.old.ParentInstanceID != pair.old.InstanceID {
			drop[pair.old.ParentInstanceID] = true
		}
		if err := deleteDescendantCopies(pair.new.BusinessEventID, map[string]bool{pair.new.InstanceID: true}); err != nil {
			return err
		}
	}

	for _, ev := range removed {
		drop[ev.InstanceID] = true
		if err := deleteDescendantCopies(ev.BusinessEventID, nil); err != nil {
			return err
		}
	}

	var updates []locations.RefUpdate
	type recorded struct {
		nodeID   string
		snapshot locations.LocationNode
		next     *locations.LocationNode
	}
	var touched []recorded

	now := e.now()
	for _, desc := range descendants {
		newRefs := map[string]bool{}
		for _, ref := range desc.EventRefs {
			if !drop[ref] {
				newRefs[ref] = true
			}
		}
		for id := range add {
			newRefs[id] = true
		}

		snapshot := *desc
		if sameRefs(desc.EventRefs, newRefs) {
			// Unchanged reference set: no commit, but history still runs
			// (an empty diff is a no-op all the way down).
			touched = append(touched, recorded{nodeID: desc.NodeID, snapshot: snapshot, next: desc})
			continue
		}

		next, err := records.CloneForUpdate(desc, now, actor)
		if err != nil {
			return err
		}
		next.EventRefs = sortedSet(newRefs)
		updates = append(updates, locations.RefUpdate{Existing: desc, Next: next})
		touched = append(touched, recorded{nodeID: desc.NodeID, snapshot: snapshot, next: next})
	}

	if err := e.locations.CommitMany(ctx, updates); err != nil {
		var batchErr *docstore.BatchError
		if errors.As(err, &batchErr) {
			log.Printf("propagation from %s partially applied: %d/%d chunks committed", node.NodeID, batchErr.Result.Committed, batchErr.Result.Chunks)
		}
		return fmt.Errorf("propagate from %s: %w", node.NodeID, err)
	}

	for _, t := range touched {
		changes, err := locations.DiffSchema.Diff(&t.snapshot, t.next, "")
		if err != nil {
			return err
		}
		if err := e.recorder.RecordAndSummarize(ctx, actor, locations.ObjectType, t.nodeID, t.next, changes); err != nil {
			return err
		}
	}
	return nil
}

func sameRefs(refs []string, set map[string]bool) bool {
	if len(refs) != len(set) {
		return false
	}
	for _, ref := range refs {
		if !set[ref] {
			return false
		}
	}
	return true
}
