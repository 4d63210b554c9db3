// Package docstore abstracts the backing document database: partitioned
// containers of JSON documents with optimistic-concurrency tokens and
// bounded all-or-nothing batches.
package docstore

import (
	"context"
	"errors"
)

// Sentinel errors shared by every container implementation.
var (
	// ErrNotFound indicates the referenced document does not exist.
	ErrNotFound = errors.New("docstore: document not found")

	// ErrConflict indicates an optimistic-concurrency violation: the
	// document was replaced by a concurrent writer since it was read, or an
	// insert collided with an existing id. Callers must re-read and redo the
	// cycle; there is no automatic retry.
	ErrConflict = errors.New("docstore: concurrency conflict")
)

// Doc is one stored document. Body is the JSON encoding of the record;
// ETag is the concurrency token issued by the store on every write.
type Doc struct {
	ID   string
	ETag string
	Body []byte
}

// Filter is an equality filter over top-level JSON fields of the document
// body. Richer predicates (ordering, prefixes, limits) are refined by the
// repositories after the query returns.
type Filter map[string]any

// OpKind enumerates the operations a transactional batch supports.
type OpKind int

const (
	OpInsert OpKind = iota
	OpReplace
	OpUpsert
)

// Operation is one entry of a transactional batch. Replace operations are
// guarded by Doc.ETag.
type Operation struct {
	Kind OpKind
	Doc  Doc
}

// Container is one partition of the document store (one object type).
type Container interface {
	// Get returns the document with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Doc, error)

	// Query returns every document matching the equality filter. A nil
	// filter returns the whole partition.
	Query(ctx context.Context, filter Filter) ([]Doc, error)

	// Insert stores a new document and returns it with its issued etag.
	// Inserting an existing id fails with ErrConflict.
	Insert(ctx context.Context, doc Doc) (Doc, error)

	// Replace swaps the stored document guarded by doc.ETag. A stale etag
	// fails with ErrConflict, an unknown id with ErrNotFound.
	Replace(ctx context.Context, doc Doc) (Doc, error)

	// Upsert inserts or unconditionally replaces the document.
	Upsert(ctx context.Context, doc Doc) (Doc, error)

	// Execute runs up to MaxBatchItems operations as a single all-or-nothing
	// transaction scoped to this partition.
	Execute(ctx context.Context, ops []Operation) error
}

// Store hands out one Container per partition.
type Store interface {
	Container(partition string) Container
}
