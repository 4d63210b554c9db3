// Package locations stores the Campus / Region / Child Location hierarchy
// and answers the descendant and selection queries the inheritance engine
// and mass-update coordinator drive.
package locations

import (
	"context"
	"fmt"
	"time"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/records"
)

type Repository struct {
	store *records.Store
	now   func() time.Time
}

func NewRepository(store *records.Store) *Repository {
	return &Repository{store: store, now: time.Now}
}

// WithClock overrides the repository clock. Tests only.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func (r *Repository) container() docstore.Container {
	return r.store.Docs().Container(Partition)
}

// GetActive returns the Active version of a node.
func (r *Repository) GetActive(ctx context.Context, typ NodeType, nodeID string) (*LocationNode, error) {
	nodes, err := r.queryActive(ctx, docstore.Filter{"nodeType": typ, "nodeId": nodeID})
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%s %q: %w", typ, nodeID, docstore.ErrNotFound)
	}
	return nodes[0], nil
}

// Descendants returns every node below the given one: all Regions of a
// Campus plus the Child Locations under them, or the Child Locations of a
// Region. Child Locations have no descendants.
func (r *Repository) Descendants(ctx context.Context, node *LocationNode) ([]*LocationNode, error) {
	switch node.Type {
	case TypeCampus:
		regions, err := r.queryActive(ctx, docstore.Filter{"nodeType": TypeRegion, "campusId": node.NodeID})
		if err != nil {
			return nil, err
		}
		children, err := r.queryActive(ctx, docstore.Filter{"nodeType": TypeChildLocation, "campusId": node.NodeID})
		if err != nil {
			return nil, err
		}
		return append(regions, children...), nil
	case TypeRegion:
		return r.queryActive(ctx, docstore.Filter{"nodeType": TypeChildLocation, "regionId": node.NodeID})
	default:
		return nil, nil
	}
}

// Select returns the Active Child Locations matching a mass-update
// selection. The store answers the coarse query; the selection refines it
// in memory.
func (r *Repository) Select(ctx context.Context, sel Selection) ([]*LocationNode, error) {
	children, err := r.queryActive(ctx, docstore.Filter{"nodeType": TypeChildLocation})
	if err != nil {
		return nil, err
	}
	matched := children[:0]
	for _, child := range children {
		if sel.Matches(child) {
			matched = append(matched, child)
		}
	}
	return matched, nil
}

// Referencing returns the Active Child Locations whose reference set
// contains any of the given instance ids.
func (r *Repository) Referencing(ctx context.Context, instanceIDs []string) ([]*LocationNode, error) {
	children, err := r.queryActive(ctx, docstore.Filter{"nodeType": TypeChildLocation})
	if err != nil {
		return nil, err
	}
	matched := children[:0]
	for _, child := range children {
		for _, id := range instanceIDs {
			if child.HasRef(id) {
				matched = append(matched, child)
				break
			}
		}
	}
	return matched, nil
}

// NodeName resolves a node id to its display name regardless of node type.
func (r *Repository) NodeName(ctx context.Context, nodeID string) (string, error) {
	nodes, err := r.queryActive(ctx, docstore.Filter{"nodeId": nodeID})
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("location %q: %w", nodeID, docstore.ErrNotFound)
	}
	return nodes[0].Name, nil
}

func (r *Repository) queryActive(ctx context.Context, filter docstore.Filter) ([]*LocationNode, error) {
	filter["status"] = records.StatusActive
	docs, err := r.container().Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query locations: %w", err)
	}
	out := make([]*LocationNode, 0, len(docs))
	for _, doc := range docs {
		var node LocationNode
		if err := records.Unmarshal(doc, &node); err != nil {
			return nil, err
		}
		out = append(out, &node)
	}
	return out, nil
}

// Create inserts a brand-new node.
func (r *Repository) Create(ctx context.Context, actor string, node *LocationNode) error {
	return r.store.CreateNew(ctx, Partition, node, actor, r.now())
}

// CommitUpdate retires the current version of a node and installs next as
// the Active one.
func (r *Repository) CommitUpdate(ctx context.Context, existing, next *LocationNode) error {
	return r.store.Commit(ctx, Partition, existing, next)
}

// RefUpdate pairs a node's retired version with its replacement for batch
// commits.
type RefUpdate struct {
	Existing *LocationNode
	Next     *LocationNode
}

// CommitMany persists a set of node updates as one logical transactional
// batch, chunked to the physical cap. A later chunk failing leaves earlier
// chunks committed; the returned error reports how far the batch got.
func (r *Repository) CommitMany(ctx context.Context, updates []RefUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ops := make([]docstore.Operation, 0, 2*len(updates))
	for _, u := range updates {
		replace, err := records.ReplaceOp(u.Existing)
		if err != nil {
			return err
		}
		insert, err := records.InsertOp(u.Next)
		if err != nil {
			return err
		}
		ops = append(ops, replace, insert)
	}
	if _, err := docstore.RunBatch(ctx, r.container(), ops); err != nil {
		return fmt.Errorf("commit %d location updates: %w", len(updates), err)
	}
	return nil
}
