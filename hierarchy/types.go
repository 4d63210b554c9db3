package hierarchy

import (
	"f0oster/locmaster/events"
)

// EventInput is one desired event in an UpdateEvents call. An empty
// InstanceID requests a creation; a populated one refers to an existing
// instance, owned or inherited.
type EventInput struct {
	InstanceID      string `json:"instanceId,omitempty"`
	BusinessEventID string `json:"businessEventId,omitempty"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	StartDay        string `json:"startDay"`
	StartTime       string `json:"startTime"`
	EndDay          string `json:"endDay"`
	EndTime         string `json:"endTime"`
	Duration        string `json:"duration"`
	FullDay         string `json:"fullDay"`
	Closure         string `json:"closure"`
}

func (in EventInput) patch() events.Patch {
	return events.Patch{
		Name:        &in.Name,
		Description: &in.Description,
		StartDay:    &in.StartDay,
		StartTime:   &in.StartTime,
		EndDay:      &in.EndDay,
		EndTime:     &in.EndTime,
		Duration:    &in.Duration,
		FullDay:     &in.FullDay,
		Closure:     &in.Closure,
	}
}

// schedulePatch is the mutable subset taken from the input when an
// inherited event is overridden: name and description stay with the
// original.
func (in EventInput) schedulePatch() events.Patch {
	p := in.patch()
	p.Name = nil
	p.Description = nil
	return p
}

// NodeEvent is one event visible at a node, flagged when it is owned by an
// ancestor rather than the node itself.
type NodeEvent struct {
	*events.CalendarEvent
	Inherited bool `json:"inherited"`
}

// NodeEvents is the GetEvents result: the node's visible events plus the
// catalog of Planned event names owned by its descendants.
type NodeEvents struct {
	Events                 []NodeEvent `json:"events"`
	DescendantPlannedNames []string    `json:"descendantPlannedNames"`
}

type action int

const (
	actCreate action = iota
	actUpdate
	actReplace
)

// classified is one desired event after per-event classification.
type classified struct {
	input   EventInput
	typ     events.EventType
	action  action
	current *events.CalendarEvent // loaded Active instance for update/replace
}

// replacedPair tracks an override of an inherited instance.
type replacedPair struct {
	old *events.CalendarEvent
	new *events.CalendarEvent
}
