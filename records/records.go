// Package records is the clone-on-write versioned record primitive that
// underlies every mutation in the system. A record is never updated in
// place: the current version is cloned, the clone becomes the Active
// version, and the old version is retired to Inactive, all committed as one
// etag-guarded transactional batch.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"f0oster/locmaster/docstore"

	"github.com/google/uuid"
)

// SourceSystem attributes records mutated without an authenticated actor.
const SourceSystem = "system"

// ErrValidation marks malformed input caught before any write. Operations
// failing validation perform no writes at all.
var ErrValidation = errors.New("validation failed")

// Status is the lifecycle state of one record version.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
	StatusDeleted  Status = "Deleted"
)

// Meta carries the versioning and audit fields shared by every record.
// Exactly one Active version of a logical identity exists at any time;
// prior versions stay Inactive and are never physically removed.
type Meta struct {
	DocID         string     `json:"docId"`
	ETag          string     `json:"-"`
	Status        Status     `json:"status"`
	EffectiveFrom time.Time  `json:"effectiveFrom"`
	EffectiveTo   *time.Time `json:"effectiveTo,omitempty"`
	Source        string     `json:"source"`
}

// RecordMeta lets generic store operations reach the audit fields of any
// concrete record type.
func (m *Meta) RecordMeta() *Meta { return m }

// Record is any pointer-to-struct embedding Meta.
type Record interface {
	RecordMeta() *Meta
}

// clone deep-copies a record through its JSON encoding. Records are plain
// data documents, so the round-trip is lossless.
func clone[T Record](src T) (T, error) {
	var zero T
	raw, err := json.Marshal(src)
	if err != nil {
		return zero, fmt.Errorf("clone record: %w", err)
	}
	out, ok := reflect.New(reflect.TypeOf(src).Elem()).Interface().(T)
	if !ok {
		return zero, fmt.Errorf("clone record: %T is not a pointer record", src)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return zero, fmt.Errorf("clone record: %w", err)
	}
	return out, nil
}

// CloneForUpdate copies existing into a new Active version effective now and
// retires existing to Inactive. Pure in-memory transform; nothing is
// written until Commit.
func CloneForUpdate[T Record](existing T, now time.Time, actor string) (T, error) {
	return cloneWithStatus(existing, StatusActive, now, actor)
}

// CloneForDelete is CloneForUpdate except the new version is Deleted.
func CloneForDelete[T Record](existing T, now time.Time, actor string) (T, error) {
	return cloneWithStatus(existing, StatusDeleted, now, actor)
}

func cloneWithStatus[T Record](existing T, status Status, now time.Time, actor string) (T, error) {
	next, err := clone(existing)
	if err != nil {
		return next, err
	}
	meta := next.RecordMeta()
	meta.DocID = uuid.NewString()
	meta.ETag = ""
	meta.Status = status
	meta.EffectiveFrom = now
	meta.EffectiveTo = nil
	meta.Source = normalizeActor(actor)

	old := existing.RecordMeta()
	old.Status = StatusInactive
	old.EffectiveTo = &now
	return next, nil
}

func normalizeActor(actor string) string {
	if actor == "" {
		return SourceSystem
	}
	return actor
}

// Store commits versioned records into the document store.
type Store struct {
	docs docstore.Store
}

func NewStore(docs docstore.Store) *Store {
	return &Store{docs: docs}
}

// Docs exposes the underlying document store for repository queries.
func (s *Store) Docs() docstore.Store { return s.docs }

// Marshal renders a record into a document for the given partition.
func Marshal(rec Record) (docstore.Doc, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return docstore.Doc{}, fmt.Errorf("encode record: %w", err)
	}
	meta := rec.RecordMeta()
	return docstore.Doc{ID: meta.DocID, ETag: meta.ETag, Body: body}, nil
}

// Unmarshal decodes a document into the given record and restores the
// store-issued identity and concurrency token.
func Unmarshal(doc docstore.Doc, rec Record) error {
	if err := json.Unmarshal(doc.Body, rec); err != nil {
		return fmt.Errorf("decode record %q: %w", doc.ID, err)
	}
	meta := rec.RecordMeta()
	meta.DocID = doc.ID
	meta.ETag = doc.ETag
	return nil
}

// ReplaceOp builds the etag-guarded replace operation for a record.
func ReplaceOp(rec Record) (docstore.Operation, error) {
	doc, err := Marshal(rec)
	if err != nil {
		return docstore.Operation{}, err
	}
	return docstore.Operation{Kind: docstore.OpReplace, Doc: doc}, nil
}

// InsertOp builds the insert operation for a record.
func InsertOp(rec Record) (docstore.Operation, error) {
	doc, err := Marshal(rec)
	if err != nil {
		return docstore.Operation{}, err
	}
	return docstore.Operation{Kind: docstore.OpInsert, Doc: doc}, nil
}

// Commit atomically retires existing and inserts next in one transactional
// batch scoped to the partition. A concurrent writer having replaced
// existing surfaces as docstore.ErrConflict; the caller must re-read and
// redo the whole cycle.
func (s *Store) Commit(ctx context.Context, partition string, existing, next Record) error {
	replace, err := ReplaceOp(existing)
	if err != nil {
		return err
	}
	insert, err := InsertOp(next)
	if err != nil {
		return err
	}
	if err := s.docs.Container(partition).Execute(ctx, []docstore.Operation{replace, insert}); err != nil {
		return fmt.Errorf("commit %s record %q: %w", partition, next.RecordMeta().DocID, err)
	}
	return nil
}

// CreateNew inserts a brand-new Active record with generated identity and
// audit fields.
func (s *Store) CreateNew(ctx context.Context, partition string, item Record, actor string, now time.Time) error {
	meta := item.RecordMeta()
	meta.DocID = uuid.NewString()
	meta.ETag = ""
	meta.Status = StatusActive
	meta.EffectiveFrom = now
	meta.EffectiveTo = nil
	meta.Source = normalizeActor(actor)

	doc, err := Marshal(item)
	if err != nil {
		return err
	}
	stored, err := s.docs.Container(partition).Insert(ctx, doc)
	if err != nil {
		return fmt.Errorf("create %s record %q: %w", partition, meta.DocID, err)
	}
	meta.ETag = stored.ETag
	return nil
}
