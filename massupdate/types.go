package massupdate

import (
	"f0oster/locmaster/history"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/records"
)

// Partition holds every mass-update document.
const Partition = "massupdates"

// ObjectType recorded in change history for mass-update records.
const ObjectType = "MassUpdate"

// MassUpdate is one filter-selected bulk calendar operation. The embedded
// Selection is the location filter; OwnedEvents lists the instance ids of
// the UnplannedBulk events the operation owns.
type MassUpdate struct {
	records.Meta
	locations.Selection
	MassUpdateID string   `json:"massUpdateId"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	OwnedEvents  []string `json:"ownedEvents"`
}

func (m *MassUpdate) SummaryName() string    { return m.Title }
func (m *MassUpdate) SummaryAddress() string { return "" }
func (m *MassUpdate) SummaryRegion() string  { return "" }

// DiffSchema drives structural diffing of mass-update records. Every
// selection criterion is a plain value list.
var DiffSchema = history.NewSchema(
	history.Field{Name: "ownedEvents", Kind: history.KindValueList},
	history.Field{Name: "cities", Kind: history.KindValueList},
	history.Field{Name: "states", Kind: history.KindValueList},
	history.Field{Name: "countries", Kind: history.KindValueList},
	history.Field{Name: "kobs", Kind: history.KindValueList},
	history.Field{Name: "locationTypes", Kind: history.KindValueList},
	history.Field{Name: "nodeIds", Kind: history.KindValueList},
	history.Field{Name: "costCenterIds", Kind: history.KindValueList},
	history.Field{Name: "eventRefs", Kind: history.KindValueList},
	history.Field{Name: "excludeNodeIds", Kind: history.KindValueList},
)

// EventSpec describes one event a mass update carries. A populated
// InstanceID patches an existing owned event; an empty one creates a new
// UnplannedBulk event.
type EventSpec struct {
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
