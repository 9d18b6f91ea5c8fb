package merge

import (
	"context"

	"github.com/okian/veracity/internal/domain/model"
)

// Store is the graph the merger writes to. Implementations serialize
// per identity key; there is no lock over the whole graph.
type Store interface {
	// Begin opens a unit of work whose upserts apply all together or not at all.
	Begin(ctx context.Context) (Tx, error)
	// HasNode reports whether ref already exists in the committed graph.
	HasNode(ctx context.Context, ref model.NodeRef) (bool, error)
}

// Tx is one atomic unit of upserts. Both upserts are idempotent and safe to retry.
type Tx interface {
	// UpsertNode merges attrs into the node by last-writer-wins per attribute,
	// creating it when absent.
	UpsertNode(ctx context.Context, ref model.NodeRef, attrs model.Attributes) ([]model.Conflict, error)
	// UpsertEdge merges attrs into the edge identified by key. Both endpoints
	// must exist in the graph or in this Tx, otherwise ErrDanglingEdge.
	UpsertEdge(ctx context.Context, key model.EdgeKey, attrs model.Attributes) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
