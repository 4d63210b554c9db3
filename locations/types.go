package locations

import (
	"strings"

	"f0oster/locmaster/history"
	"f0oster/locmaster/records"
)

// Partition holds every location-node document.
const Partition = "locations"

// ObjectType recorded in change history for these records.
const ObjectType = "Location"

// NodeType is the level of a node in the Campus → Region → Child Location
// hierarchy.
type NodeType string

const (
	TypeCampus        NodeType = "Campus"
	TypeRegion        NodeType = "Region"
	TypeChildLocation NodeType = "ChildLocation"
)

// ParseNodeType maps an external identifier onto a NodeType.
func ParseNodeType(s string) (NodeType, bool) {
	switch NodeType(s) {
	case TypeCampus:
		return TypeCampus, true
	case TypeRegion:
		return TypeRegion, true
	case TypeChildLocation:
		return TypeChildLocation, true
	}
	return "", false
}

// LocationNode is one node of the retail-location hierarchy. Regions point
// at their Campus, Child Locations at their Region (and, denormalized, at
// their Campus so campus-wide descendant queries stay single-filter).
// EventRefs is the unordered set of calendar-event instance ids visible at
// this node, owned or inherited.
type LocationNode struct {
	records.Meta
	NodeID       string   `json:"nodeId"`
	Type         NodeType `json:"nodeType"`
	Name         string   `json:"name"`
	CampusID     string   `json:"campusId"`
	RegionID     string   `json:"regionId"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	Country      string   `json:"country"`
	KOB          string   `json:"kob"`
	LocationType string   `json:"locationType"`
	CostCenterID string   `json:"costCenterId"`
	EventRefs    []string `json:"eventRefs"`
}

func (n *LocationNode) SummaryName() string { return n.Name }

func (n *LocationNode) SummaryAddress() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{n.City, n.State, n.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func (n *LocationNode) SummaryRegion() string { return n.RegionID }

// HasRef reports reference-set membership.
func (n *LocationNode) HasRef(instanceID string) bool {
	for _, ref := range n.EventRefs {
		if ref == instanceID {
			return true
		}
	}
	return false
}

// DiffSchema drives structural diffing of location-node records. The
// reference set is a plain value list: history shows one entry per added
// and removed instance id.
var DiffSchema = history.NewSchema(
	history.Field{Name: "eventRefs", Kind: history.KindValueList},
)

// Selection is the mass-update filter over Child Locations. All populated
// criteria must match; ExcludeNodeIDs wins over everything else.
type Selection struct {
	Cities         []string `json:"cities,omitempty"`
	States         []string `json:"states,omitempty"`
	Countries      []string `json:"countries,omitempty"`
	KOBs           []string `json:"kobs,omitempty"`
	LocationTypes  []string `json:"locationTypes,omitempty"`
	NodeIDs        []string `json:"nodeIds,omitempty"`
	CostCenterIDs  []string `json:"costCenterIds,omitempty"`
	EventRefs      []string `json:"eventRefs,omitempty"`
	ExcludeNodeIDs []string `json:"excludeNodeIds,omitempty"`
}

// Empty reports whether no inclusion criterion is populated.
func (s Selection) Empty() bool {
	return len(s.Cities) == 0 && len(s.States) == 0 && len(s.Countries) == 0 &&
		len(s.KOBs) == 0 && len(s.LocationTypes) == 0 && len(s.NodeIDs) == 0 &&
		len(s.CostCenterIDs) == 0 && len(s.EventRefs) == 0
}

// Matches applies the selection to one Child Location.
func (s Selection) Matches(n *LocationNode) bool {
	if contains(s.ExcludeNodeIDs, n.NodeID) {
		return false
	}
	if !matchCriterion(s.Cities, n.City) ||
		!matchCriterion(s.States, n.State) ||
		!matchCriterion(s.Countries, n.Country) ||
		!matchCriterion(s.KOBs, n.KOB) ||
		!matchCriterion(s.LocationTypes, n.LocationType) ||
		!matchCriterion(s.NodeIDs, n.NodeID) ||
		!matchCriterion(s.CostCenterIDs, n.CostCenterID) {
		return false
	}
	if len(s.EventRefs) > 0 {
		any := false
		for _, ref := range s.EventRefs {
			if n.HasRef(ref) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	return true
}

func matchCriterion(allowed []string, value string) bool {
	return len(allowed) == 0 || contains(allowed, value)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
