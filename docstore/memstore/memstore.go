// Package memstore is an in-process docstore implementation. It backs the
// test suites and local development; the production path is
// docstore/postgres.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"f0oster/locmaster/docstore"

	"github.com/google/uuid"
)

type document struct {
	etag string
	body []byte
}

// Store keeps every partition in a map guarded by one mutex. Execute is
// genuinely all-or-nothing: operations are validated and staged before any
// of them becomes visible.
type Store struct {
	mu         sync.Mutex
	partitions map[string]map[string]document
}

func NewStore() *Store {
	return &Store{partitions: map[string]map[string]document{}}
}

func (s *Store) Container(partition string) docstore.Container {
	return &container{store: s, partition: partition}
}

func (s *Store) data(partition string) map[string]document {
	p, ok := s.partitions[partition]
	if !ok {
		p = map[string]document{}
		s.partitions[partition] = p
	}
	return p
}

type container struct {
	store     *Store
	partition string
}

func (c *container) Get(_ context.Context, id string) (docstore.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	d, ok := c.store.data(c.partition)[id]
	if !ok {
		return docstore.Doc{}, docstore.ErrNotFound
	}
	return docstore.Doc{ID: id, ETag: d.etag, Body: append([]byte(nil), d.body...)}, nil
}

func (c *container) Query(_ context.Context, filter docstore.Filter) ([]docstore.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	var out []docstore.Doc
	for id, d := range c.store.data(c.partition) {
		ok, err := matches(d.body, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, docstore.Doc{ID: id, ETag: d.etag, Body: append([]byte(nil), d.body...)})
		}
	}
	// Map iteration order is random; keep results stable for callers.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *container) Insert(_ context.Context, doc docstore.Doc) (docstore.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.insertLocked(doc)
}

func (c *container) Replace(_ context.Context, doc docstore.Doc) (docstore.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.replaceLocked(doc)
}

func (c *container) Upsert(_ context.Context, doc docstore.Doc) (docstore.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.upsertLocked(doc)
}

func (c *container) insertLocked(doc docstore.Doc) (docstore.Doc, error) {
	data := c.store.data(c.partition)
	if _, exists := data[doc.ID]; exists {
		return docstore.Doc{}, fmt.Errorf("insert %q: %w", doc.ID, docstore.ErrConflict)
	}
	doc.ETag = uuid.NewString()
	data[doc.ID] = document{etag: doc.ETag, body: append([]byte(nil), doc.Body...)}
	return doc, nil
}

func (c *container) replaceLocked(doc docstore.Doc) (docstore.Doc, error) {
	data := c.store.data(c.partition)
	cur, exists := data[doc.ID]
	if !exists {
		return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, docstore.ErrNotFound)
	}
	if cur.etag != doc.ETag {
		return docstore.Doc{}, fmt.Errorf("replace %q: %w", doc.ID, docstore.ErrConflict)
	}
	doc.ETag = uuid.NewString()
	data[doc.ID] = document{etag: doc.ETag, body: append([]byte(nil), doc.Body...)}
	return doc, nil
}

func (c *container) upsertLocked(doc docstore.Doc) (docstore.Doc, error) {
	data := c.store.data(c.partition)
	doc.ETag = uuid.NewString()
	data[doc.ID] = document{etag: doc.ETag, body: append([]byte(nil), doc.Body...)}
	return doc, nil
}

func (c *container) Execute(_ context.Context, ops []docstore.Operation) error {
	if len(ops) > docstore.MaxBatchItems {
		return fmt.Errorf("batch of %d exceeds the %d item cap", len(ops), docstore.MaxBatchItems)
	}

	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	// Stage against a copy so a failing operation leaves nothing behind.
	data := c.store.data(c.partition)
	staged := make(map[string]document, len(data))
	for id, d := range data {
		staged[id] = d
	}
	stagedContainer := &container{store: &Store{partitions: map[string]map[string]document{c.partition: staged}}, partition: c.partition}

	for i, op := range ops {
		var err error
		switch op.Kind {
		case docstore.OpInsert:
			_, err = stagedContainer.insertLocked(op.Doc)
		case docstore.OpReplace:
			_, err = stagedContainer.replaceLocked(op.Doc)
		case docstore.OpUpsert:
			_, err = stagedContainer.upsertLocked(op.Doc)
		default:
			err = fmt.Errorf("unknown operation kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch operation %d: %w", i, err)
		}
	}

	c.store.partitions[c.partition] = staged
	return nil
}

// matches reports whether the document body satisfies the equality filter.
// Filter values are normalized through a JSON round-trip so callers can pass
// plain Go values.
func matches(body []byte, filter docstore.Filter) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return false, fmt.Errorf("decode document for query: %w", err)
	}
	for name, want := range filter {
		raw, err := json.Marshal(want)
		if err != nil {
			return false, fmt.Errorf("encode filter value %q: %w", name, err)
		}
		var normalized any
		if err := json.Unmarshal(raw, &normalized); err != nil {
			return false, err
		}
		if !reflect.DeepEqual(fields[name], normalized) {
			return false, nil
		}
	}
	return true, nil
}
