package history

import (
	"time"

	"f0oster/locmaster/records"
)

// Partitions used by the recorder.
const (
	ChangesPartition   = "changes"
	SummariesPartition = "changesummaries"
)

// Change is one atomic attribute change produced by the differ.
type Change struct {
	Attribute string
	Old       string
	New       string
}

// ChangeRecord is the immutable, append-only persisted form of a Change.
type ChangeRecord struct {
	records.Meta
	ObjectType string    `json:"objectType"`
	ObjectID   string    `json:"objectId"`
	Attribute  string    `json:"attribute"`
	OldValue   string    `json:"oldValue"`
	NewValue   string    `json:"newValue"`
	ChangedAt  time.Time `json:"changedAt"`
	ChangedBy  string    `json:"changedBy"`
}

// ChangeSummary is the rolling one-row-per-object summary. It is upserted,
// never versioned.
type ChangeSummary struct {
	records.Meta
	ObjectType string    `json:"objectType"`
	ObjectID   string    `json:"objectId"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Region     string    `json:"region"`
	EditedBy   string    `json:"editedBy"`
	EditedAt   time.Time `json:"editedAt"`
}

// Summarized is implemented by records that feed the change summary row.
type Summarized interface {
	SummaryName() string
	SummaryAddress() string
	SummaryRegion() string
}
