package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/records"

	"github.com/google/uuid"
)

// Recorder persists attribute changes and maintains the rolling per-object
// change summary.
type Recorder struct {
	docs docstore.Store
	now  func() time.Time
}

func NewRecorder(docs docstore.Store) *Recorder {
	return &Recorder{docs: docs, now: time.Now}
}

// WithClock overrides the recorder's clock. Tests only.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// RecordAndSummarize appends one immutable change record per attribute
// change and upserts the summary row for (objectType, objectID). An empty
// change set is a strict no-op: no write of any kind happens.
func (r *Recorder) RecordAndSummarize(ctx context.Context, actor, objectType, objectID string, rec Summarized, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	if actor == "" {
		actor = records.SourceSystem
	}
	now := r.now()

	ops := make([]docstore.Operation, 0, len(changes))
	for _, ch := range changes {
		entry := ChangeRecord{
			Meta: records.Meta{
				DocID:         uuid.NewString(),
				Status:        records.StatusActive,
				EffectiveFrom: now,
				Source:        actor,
			},
			ObjectType: objectType,
			ObjectID:   objectID,
			Attribute:  ch.Attribute,
			OldValue:   ch.Old,
			NewValue:   ch.New,
			ChangedAt:  now,
			ChangedBy:  actor,
		}
		op, err := records.InsertOp(&entry)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	if _, err := docstore.RunBatch(ctx, r.docs.Container(ChangesPartition), ops); err != nil {
		return fmt.Errorf("record changes for %s %s: %w", objectType, objectID, err)
	}

	summary := ChangeSummary{
		Meta: records.Meta{
			DocID:         objectType + "/" + objectID,
			Status:        records.StatusActive,
			EffectiveFrom: now,
			Source:        actor,
		},
		ObjectType: objectType,
		ObjectID:   objectID,
		EditedBy:   actor,
		EditedAt:   now,
	}
	if rec != nil {
		summary.Name = rec.SummaryName()
		summary.Address = rec.SummaryAddress()
		summary.Region = rec.SummaryRegion()
	}
	doc, err := records.Marshal(&summary)
	if err != nil {
		return err
	}
	if _, err := r.docs.Container(SummariesPartition).Upsert(ctx, doc); err != nil {
		return fmt.Errorf("upsert change summary for %s %s: %w", objectType, objectID, err)
	}
	return nil
}

// SearchChanges returns the change records for an object, newest first,
// paged by limit/offset.
func (r *Recorder) SearchChanges(ctx context.Context, objectType, objectID string, limit, offset int) ([]ChangeRecord, error) {
	filter := docstore.Filter{}
	if objectType != "" {
		filter["objectType"] = objectType
	}
	if objectID != "" {
		filter["objectId"] = objectID
	}
	docs, err := r.docs.Container(ChangesPartition).Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search changes: %w", err)
	}

	entries := make([]ChangeRecord, 0, len(docs))
	for _, doc := range docs {
		var entry ChangeRecord
		if err := records.Unmarshal(doc, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChangedAt.After(entries[j].ChangedAt) })
	return page(entries, limit, offset), nil
}

// SearchSummaries returns change summaries, most recently edited first.
func (r *Recorder) SearchSummaries(ctx context.Context, objectType string, limit, offset int) ([]ChangeSummary, error) {
	filter := docstore.Filter{}
	if objectType != "" {
		filter["objectType"] = objectType
	}
	docs, err := r.docs.Container(SummariesPartition).Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("search summaries: %w", err)
	}

	entries := make([]ChangeSummary, 0, len(docs))
	for _, doc := range docs {
		var entry ChangeSummary
		if err := records.Unmarshal(doc, &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EditedAt.After(entries[j].EditedAt) })
	return page(entries, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
