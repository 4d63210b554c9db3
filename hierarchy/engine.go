// Package hierarchy implements the calendar-event inheritance engine: it
// reconciles a node's desired event set against its current one and
// propagates the outcome to every descendant's reference set.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/events"
	"f0oster/locmaster/history"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/records"
)

type Engine struct {
	locations *locations.Repository
	events    *events.Repository
	recorder  *history.Recorder
	now       func() time.Time
}

func NewEngine(locs *locations.Repository, evs *events.Repository, rec *history.Recorder) *Engine {
	return &Engine{locations: locs, events: evs, recorder: rec, now: time.Now}
}

// WithClock overrides the engine clock. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// GetEvents returns the events visible at a node with inherited flags,
// plus the Planned-event name catalog of its descendants. Dangling
// references are skipped.
func (e *Engine) GetEvents(ctx context.Context, typ locations.NodeType, nodeID string) (*NodeEvents, error) {
	node, err := e.locations.GetActive(ctx, typ, nodeID)
	if err != nil {
		return nil, err
	}

	out := &NodeEvents{}
	for _, ref := range node.EventRefs {
		ev, err := e.events.GetActive(ctx, ref)
		if errors.Is(err, docstore.ErrNotFound) {
			log.Printf("node %s references missing event %s; skipping", nodeID, ref)
			continue
		}
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, NodeEvent{CalendarEvent: ev, Inherited: !ev.OwnedBy(nodeID)})
	}

	descendants, err := e.locations.Descendants(ctx, node)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, desc := range descendants {
		owned, err := e.events.ActiveOwnedBy(ctx, desc.NodeID)
		if err != nil {
			return nil, err
		}
		for _, ev := range owned {
			if ev.Type == events.TypePlanned && !seen[ev.Name] {
				seen[ev.Name] = true
				out.DescendantPlannedNames = append(out.DescendantPlannedNames, ev.Name)
			}
		}
	}
	sort.Strings(out.DescendantPlannedNames)
	return out, nil
}

// UpdateEvents reconciles the node's full desired Planned + Unplanned event
// set and propagates the outcome to every descendant. Validation failures
// abort before any write.
func (e *Engine) UpdateEvents(ctx context.Context, actor string, typ locations.NodeType, nodeID string, planned, unplanned []EventInput) error {
	node, err := e.locations.GetActive(ctx, typ, nodeID)
	if err != nil {
		return err
	}

	desired, err := e.classify(ctx, node, planned, unplanned)
	if err != nil {
		return err
	}

	created, replaced, err := e.applyEventWrites(ctx, actor, node, desired)
	if err != nil {
		return err
	}

	newRefs := map[string]bool{}
	superseded := map[string]bool{}
	for _, c := range desired {
		switch c.action {
		case actUpdate:
			newRefs[c.current.InstanceID] = true
		case actReplace:
			superseded[c.current.InstanceID] = true
		}
	}
	for _, ev := range created {
		newRefs[ev.InstanceID] = true
	}
	for _, pair := range replaced {
		newRefs[pair.new.InstanceID] = true
	}

	removedOwned, parentRemoved, err := e.reconcileRemoved(ctx, actor, node, newRefs, superseded)
	if err != nil {
		return err
	}

	if err := e.commitNode(ctx, actor, node, newRefs, parentRemoved); err != nil {
		return err
	}

	if node.Type == locations.TypeChildLocation {
		return nil
	}
	// In-place updates keep their instance ids, so only creations,
	// replacements, and removals reach the descendants.
	return e.propagate(ctx, actor, node, created, replaced, removedOwned)
}

// classify validates and classifies every desired event before any write
// happens.
func (e *Engine) classify(ctx context.Context, node *locations.LocationNode, planned, unplanned []EventInput) ([]classified, error) {
	var desired []classified

	appendInputs := func(inputs []EventInput, typ events.EventType) error {
		for _, in := range inputs {
			c := classified{input: in, typ: typ}
			if in.InstanceID == "" {
				if typ == events.TypePlanned && in.BusinessEventID == "" {
					return fmt.Errorf("%w: planned event %q requires a business event id", records.ErrValidation, in.Name)
				}
				if typ != events.TypePlanned && in.BusinessEventID != "" {
					return fmt.Errorf("%w: unplanned event %q must not supply a business event id", records.ErrValidation, in.Name)
				}
				c.action = actCreate
				desired = append(desired, c)
				continue
			}

			current, err := e.events.GetActive(ctx, in.InstanceID)
			if err != nil {
				return err
			}
			c.current = current
			if current.OwnedBy(node.NodeID) {
				c.action = actUpdate
			} else {
				if node.Type == locations.TypeCampus {
					return fmt.Errorf("%w: campus %s cannot override inherited event %s", records.ErrValidation, node.NodeID, in.InstanceID)
				}
				c.action = actReplace
			}
			desired = append(desired, c)
		}
		return nil
	}

	if err := appendInputs(planned, events.TypePlanned); err != nil {
		return nil, err
	}
	if err := appendInputs(unplanned, events.TypeUnplanned); err != nil {
		return nil, err
	}
	return desired, nil
}

// applyEventWrites performs the per-event document writes and records event
// history for everything that actually changed.
func (e *Engine) applyEventWrites(ctx context.Context, actor string, node *locations.LocationNode, desired []classified) (created []*events.CalendarEvent, replaced []replacedPair, err error) {
	for _, c := range desired {
		switch c.action {
		case actCreate:
			ev := &events.CalendarEvent{
				Type:            c.typ,
				BusinessEventID: c.input.BusinessEventID,
				Name:            c.input.Name,
				Description:     c.input.Description,
				StartDay:        c.input.StartDay,
				StartTime:       c.input.StartTime,
				EndDay:          c.input.EndDay,
				EndTime:         c.input.EndTime,
				Duration:        c.input.Duration,
				FullDay:         c.input.FullDay,
				Closure:         c.input.Closure,
				LocationNode:    node.NodeID,
			}
			if _, err = e.events.Create(ctx, actor, ev); err != nil {
				return nil, nil, err
			}
			if err = e.recordEvent(ctx, actor, nil, ev); err != nil {
				return nil, nil, err
			}
			created = append(created, ev)

		case actUpdate:
			old, cur, changed, uerr := e.events.Update(ctx, actor, c.current.InstanceID, c.input.patch())
			if uerr != nil {
				return nil, nil, uerr
			}
			if !changed {
				continue
			}
			if err = e.recordEvent(ctx, actor, old, cur); err != nil {
				return nil, nil, err
			}

		case actReplace:
			// Overriding an inherited copy: fresh instance owned by this
			// node, name and description copied verbatim from the original,
			// only the schedule/closure fields taken from the input.
			override := &events.CalendarEvent{
				Type:             c.current.Type,
				BusinessEventID:  c.current.BusinessEventID,
				Name:             c.current.Name,
				Description:      c.current.Description,
				StartDay:         c.current.StartDay,
				StartTime:        c.current.StartTime,
				EndDay:           c.current.EndDay,
				EndTime:          c.current.EndTime,
				Duration:         c.current.Duration,
				FullDay:          c.current.FullDay,
				Closure:          c.current.Closure,
				LocationNode:     node.NodeID,
				ParentInstanceID: c.current.InstanceID,
			}
			c.input.schedulePatch().Apply(override)
			if _, err = e.events.Create(ctx, actor, override); err != nil {
				return nil, nil, err
			}
			if err = e.recordEvent(ctx, actor, nil, override); err != nil {
				return nil, nil, err
			}
			replaced = append(replaced, replacedPair{old: c.current, new: override})
		}
	}
	return created, replaced, nil
}

// reconcileRemoved handles oldRefs − newRefs: instances owned by the node
// are soft-deleted, ancestor-owned references are reported for history
// unless a replace in this cycle superseded them.
func (e *Engine) reconcileRemoved(ctx context.Context, actor string, node *locations.LocationNode, newRefs, superseded map[string]bool) (removedOwned []*events.CalendarEvent, parentRemoved []history.Change, err error) {
	for _, ref := range node.EventRefs {
		if newRefs[ref] {
			continue
		}
		ev, err := e.events.GetActive(ctx, ref)
		if errors.Is(err, docstore.ErrNotFound) {
			continue // dangling reference, nothing left to delete
		}
		if err != nil {
			return nil, nil, err
		}
		if ev.OwnedBy(node.NodeID) {
			deleted, err := e.events.Delete(ctx, actor, ref)
			if err != nil {
				return nil, nil, err
			}
			removedOwned = append(removedOwned, deleted)
			continue
		}
		if !superseded[ref] {
			parentRemoved = append(parentRemoved, history.Change{Attribute: "parentEventRemoved", Old: ref, New: ""})
		}
	}
	return removedOwned, parentRemoved, nil
}

// commitNode installs the node's new reference set and records its history.
func (e *Engine) commitNode(ctx context.Context, actor string, node *locations.LocationNode, newRefs map[string]bool, extra []history.Change) error {
	snapshot := *node
	next, err := records.CloneForUpdate(node, e.now(), actor)
	if err != nil {
		return err
	}
	next.EventRefs = sortedSet(newRefs)
	if err := e.locations.CommitUpdate(ctx, node, next); err != nil {
		return err
	}

	changes, err := locations.DiffSchema.Diff(&snapshot, next, "")
	if err != nil {
		return err
	}
	changes = append(changes, extra...)
	return e.recorder.RecordAndSummarize(ctx, actor, locations.ObjectType, node.NodeID, next, changes)
}

func (e *Engine) recordEvent(ctx context.Context, actor string, old, cur *events.CalendarEvent) error {
	var oldRec any
	if old != nil {
		oldRec = old
	}
	changes, err := events.DiffSchema.Diff(oldRec, cur, "")
	if err != nil {
		return err
	}
	return e.recorder.RecordAndSummarize(ctx, actor, events.ObjectType, cur.InstanceID, cur, changes)
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
