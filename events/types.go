package events

import (
	"time"

	"f0oster/locmaster/history"
	"f0oster/locmaster/records"
)

// Partition holds every calendar-event document.
const Partition = "events"

// ObjectType recorded in change history for these records.
const ObjectType = "CalendarEvent"

// EventType classifies a calendar event. The type determines the prefix of
// the business event id shared by all inherited copies of the same event.
type EventType string

const (
	TypePlanned       EventType = "Planned"
	TypeUnplanned     EventType = "Unplanned"
	TypeUnplannedBulk EventType = "UnplannedBulk"
)

// BusinessIDPrefix returns the type-specific business event id prefix.
func (t EventType) BusinessIDPrefix() string {
	switch t {
	case TypePlanned:
		return "EVP"
	case TypeUnplanned:
		return "EVU"
	case TypeUnplannedBulk:
		return "EVUB"
	}
	return ""
}

// Two-valued flag encodings used by full-day and closure flags.
const (
	FlagYes = "Y"
	FlagNo  = "N"
)

// Day and time encodings on event documents.
const (
	DayLayout  = "2006-01-02"
	TimeLayout = "15:04"
)

// CalendarEvent is one physical copy of an operating-calendar exception.
// InstanceID is stable across versions of the same copy; BusinessEventID is
// shared by all inherited and overriding copies of the same logical event.
type CalendarEvent struct {
	records.Meta
	InstanceID       string    `json:"instanceId"`
	BusinessEventID  string    `json:"businessEventId"`
	Type             EventType `json:"eventType"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	StartDay         string    `json:"startDay"`
	StartTime        string    `json:"startTime"`
	EndDay           string    `json:"endDay"`
	EndTime          string    `json:"endTime"`
	StartAt          time.Time `json:"startAt"`
	EndAt            time.Time `json:"endAt"`
	Duration         string    `json:"duration"`
	FullDay          string    `json:"fullDay"`
	Closure          string    `json:"closure"`
	LocationNode     string    `json:"locationNode"`
	ParentInstanceID string    `json:"parentInstanceId"`
	MassUpdateID     string    `json:"massUpdateId"`
	DisplaySequence  int       `json:"displaySequence"`
}

// OwnedBy reports whether the event document is owned by the given node.
// Other nodes merely hold the instance id in their reference set.
func (e *CalendarEvent) OwnedBy(nodeID string) bool {
	return e.LocationNode == nodeID
}

func (e *CalendarEvent) SummaryName() string    { return e.Name }
func (e *CalendarEvent) SummaryAddress() string { return "" }
func (e *CalendarEvent) SummaryRegion() string  { return "" }

// DiffSchema drives structural diffing of calendar-event records.
var DiffSchema = history.NewSchema(
	history.Field{Name: "startAt", DateOnly: true},
	history.Field{Name: "endAt", DateOnly: true},
	history.Field{Name: "fullDay", Flag: true},
	history.Field{Name: "closure", Flag: true},
)

// Patch carries the updatable fields of an event; nil fields are left
// untouched.
type Patch struct {
	Name        *string
	Description *string
	StartDay    *string
	StartTime   *string
	EndDay      *string
	EndTime     *string
	Duration    *string
	FullDay     *string
	Closure     *string
}

// Apply copies the populated fields of the patch onto the event.
func (p Patch) Apply(e *CalendarEvent) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&e.Name, p.Name)
	set(&e.Description, p.Description)
	set(&e.StartDay, p.StartDay)
	set(&e.StartTime, p.StartTime)
	set(&e.EndDay, p.EndDay)
	set(&e.EndTime, p.EndTime)
	set(&e.Duration, p.Duration)
	set(&e.FullDay, p.FullDay)
	set(&e.Closure, p.Closure)
}

// mutable is the field set the has-changed predicate inspects.
type mutable struct {
	Name, Description                    string
	StartDay, StartTime, EndDay, EndTime string
	Duration, FullDay, Closure           string
}

func mutableOf(e *CalendarEvent) mutable {
	return mutable{
		Name: e.Name, Description: e.Description,
		StartDay: e.StartDay, StartTime: e.StartTime,
		EndDay: e.EndDay, EndTime: e.EndTime,
		Duration: e.Duration, FullDay: e.FullDay, Closure: e.Closure,
	}
}

// UpcomingEvent is a NextEvents row enriched with display context.
type UpcomingEvent struct {
	*CalendarEvent
	LocationName    string `json:"locationName,omitempty"`
	MassUpdateTitle string `json:"massUpdateTitle,omitempty"`
}
