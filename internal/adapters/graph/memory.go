// Package graph holds the entity graph stores the merger writes to.
package graph

import (
	"context"
	"sort"

	"github.com/okian/veracity/internal/domain/merge"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/keylock"
)

const defaultShards = 256

// Stats counts stored entities.
type Stats struct {
	Nodes int64 `json:"nodes"`
	Edges int64 `json:"edges"`
}

type shard struct {
	nodes map[model.NodeRef]model.Attributes
	edges map[model.EdgeKey]model.Attributes
}

// Memory is an in-process graph sharded by identity-key hash. A Tx stages its
// upserts and applies them at Commit while holding only the shards it touches.
type Memory struct {
	locks  *keylock.Striped
	shards []shard
}

var _ merge.Store = (*Memory)(nil)

// NewMemory returns an empty graph with n shards (a default when n < 1).
func NewMemory(n int) *Memory {
	if n < 1 {
		n = defaultShards
	}
	m := &Memory{locks: keylock.New(n), shards: make([]shard, n)}
	for i := range m.shards {
		m.shards[i] = shard{
			nodes: make(map[model.NodeRef]model.Attributes),
			edges: make(map[model.EdgeKey]model.Attributes),
		}
	}
	return m
}

func (m *Memory) nodeShard(ref model.NodeRef) *shard { return &m.shards[m.locks.Stripe(ref.String())] }

func (m *Memory) edgeShard(key model.EdgeKey) *shard { return &m.shards[m.locks.Stripe(key.String())] }

// Begin opens a staged transaction.
func (m *Memory) Begin(context.Context) (merge.Tx, error) {
	return &memTx{
		m:     m,
		nodes: make(map[model.NodeRef]model.Attributes),
		edges: make(map[model.EdgeKey]model.Attributes),
	}, nil
}

// HasNode reports whether ref is committed.
func (m *Memory) HasNode(_ context.Context, ref model.NodeRef) (bool, error) {
	_, ok := m.Node(ref)
	return ok, nil
}

// Node returns a copy of the committed node.
func (m *Memory) Node(ref model.NodeRef) (model.Node, bool) {
	unlock := m.locks.Lock(ref.String())
	defer unlock()
	attrs, ok := m.nodeShard(ref).nodes[ref]
	if !ok {
		return model.Node{}, false
	}
	return model.Node{Ref: ref, Attrs: attrs.Clone()}, true
}

// Edge returns a copy of the committed edge.
func (m *Memory) Edge(key model.EdgeKey) (model.GraphEdge, bool) {
	unlock := m.locks.Lock(key.String())
	defer unlock()
	attrs, ok := m.edgeShard(key).edges[key]
	if !ok {
		return model.GraphEdge{}, false
	}
	return model.GraphEdge{Key: key, Attrs: attrs.Clone()}, true
}

// Snapshot copies the graph shard by shard, sorted by identity. It is
// consistent per shard only.
func (m *Memory) Snapshot() ([]model.Node, []model.GraphEdge) {
	var nodes []model.Node
	var edges []model.GraphEdge
	for i := range m.shards {
		unlock := m.locks.LockStripes([]int{i})
		for ref, attrs := range m.shards[i].nodes {
			nodes = append(nodes, model.Node{Ref: ref, Attrs: attrs.Clone()})
		}
		for key, attrs := range m.shards[i].edges {
			edges = append(edges, model.GraphEdge{Key: key, Attrs: attrs.Clone()})
		}
		unlock()
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Ref.Less(nodes[j].Ref) })
	sort.Slice(edges, func(i, j int) bool { return edges[i].Key.String() < edges[j].Key.String() })
	return nodes, edges
}

// Stats counts committed nodes and edges.
func (m *Memory) Stats(context.Context) (Stats, error) {
	var s Stats
	for i := range m.shards {
		unlock := m.locks.LockStripes([]int{i})
		s.Nodes += int64(len(m.shards[i].nodes))
		s.Edges += int64(len(m.shards[i].edges))
		unlock()
	}
	return s, nil
}

type memTx struct {
	m     *Memory
	nodes map[model.NodeRef]model.Attributes
	edges map[model.EdgeKey]model.Attributes
	done  bool
}

func (tx *memTx) UpsertNode(_ context.Context, ref model.NodeRef, attrs model.Attributes) ([]model.Conflict, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if cur, ok := tx.nodes[ref]; ok {
		cur.Merge(ref, attrs)
	} else {
		tx.nodes[ref] = attrs.Clone()
	}

	existing, ok := tx.m.Node(ref)
	if !ok {
		return nil, nil
	}
	_, conflicts := existing.Attrs.Merge(ref, attrs)
	return conflicts, nil
}

func (tx *memTx) UpsertEdge(_ context.Context, key model.EdgeKey, attrs model.Attributes) error {
	if tx.done {
		return ErrTxDone
	}
	for _, ref := range []model.NodeRef{key.From, key.To} {
		if _, staged := tx.nodes[ref]; staged {
			continue
		}
		if _, ok := tx.m.Node(ref); !ok {
			return merge.ErrDanglingEdge
		}
	}
	if cur, ok := tx.edges[key]; ok {
		cur.Merge(key.Ref(), attrs)
	} else {
		tx.edges[key] = attrs.Clone()
	}
	return nil
}

// Commit locks every touched shard in ascending order and applies the staged
// upserts. Nodes are never removed, so endpoints checked at UpsertEdge still exist.
func (tx *memTx) Commit(context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true

	keys := make([]string, 0, len(tx.nodes)+len(tx.edges))
	for ref := range tx.nodes {
		keys = append(keys, ref.String())
	}
	for key := range tx.edges {
		keys = append(keys, key.String())
	}
	unlock := tx.m.locks.LockMany(keys...)
	defer unlock()

	for ref, attrs := range tx.nodes {
		s := tx.m.nodeShard(ref)
		if cur, ok := s.nodes[ref]; ok {
			cur.Merge(ref, attrs)
			continue
		}
		s.nodes[ref] = attrs
	}
	for key, attrs := range tx.edges {
		s := tx.m.edgeShard(key)
		if cur, ok := s.edges[key]; ok {
			cur.Merge(key.Ref(), attrs)
			continue
		}
		s.edges[key] = attrs
	}
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.done = true
	return nil
}
