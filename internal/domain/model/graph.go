package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// NodeKind is the label of a graph node.
type NodeKind string

// Node kinds held by the merged graph.
const (
	KindToken       NodeKind = "Token"
	KindTweet       NodeKind = "Tweet"
	KindUserAccount NodeKind = "UserAccount"
	KindRegion      NodeKind = "Region"
)

// ResolutionOrder is the order an untyped edge endpoint is matched against kinds.
var ResolutionOrder = []NodeKind{KindTweet, KindUserAccount, KindRegion, KindToken}

// immutable lists attributes that identify an entity beyond its key; a
// disagreement on them is a merge conflict.
var immutable = map[NodeKind]map[string]bool{
	KindTweet:       {"url": true, "timestamp": true},
	KindUserAccount: {"account_age": true},
}

// IsImmutable reports whether attribute of kind is expected never to change.
func IsImmutable(kind NodeKind, attribute string) bool {
	return immutable[kind][attribute]
}

// NodeRef identifies a node by kind and identity key.
type NodeRef struct {
	Kind NodeKind `json:"kind"`
	Key  string   `json:"key"`
}

func (r NodeRef) String() string { return string(r.Kind) + ":" + r.Key }

// Less orders refs by kind then key.
func (r NodeRef) Less(o NodeRef) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.Key < o.Key
}

// EdgeKey is the composite identity of an edge.
type EdgeKey struct {
	Type string  `json:"type"`
	From NodeRef `json:"from"`
	To   NodeRef `json:"to"`
}

func (k EdgeKey) String() string { return k.From.String() + "-[" + k.Type + "]->" + k.To.String() }

// Ref names the edge for attribute merges. Edge attributes are never immutable.
func (k EdgeKey) Ref() NodeRef { return NodeRef{Key: k.String()} }

// Versioned is one attribute value with the observation time that produced it.
// Value is canonical JSON.
type Versioned struct {
	Value      json.RawMessage `json:"v"`
	ObservedAt time.Time       `json:"at"`
}

// newer reports whether v beats o under last-writer-wins by observation time.
// Equal times fall back to the canonical value bytes so every replica picks the
// same winner regardless of arrival order.
func (v Versioned) newer(o Versioned) bool {
	if !v.ObservedAt.Equal(o.ObservedAt) {
		return v.ObservedAt.After(o.ObservedAt)
	}
	return bytes.Compare(v.Value, o.Value) > 0
}

// Attributes holds the per-attribute latest observations of an entity.
type Attributes map[string]Versioned

// Node is a merged graph node.
type Node struct {
	Ref   NodeRef    `json:"ref"`
	Attrs Attributes `json:"attributes"`
}

// GraphEdge is a merged graph edge.
type GraphEdge struct {
	Key   EdgeKey    `json:"key"`
	Attrs Attributes `json:"attributes"`
}

// Conflict reports an immutable attribute observed with two different values.
type Conflict struct {
	Ref       NodeRef         `json:"ref"`
	Attribute string          `json:"attribute"`
	Existing  json.RawMessage `json:"existing"`
	Incoming  json.RawMessage `json:"incoming"`
}

// Canonical re-encodes a JSON value compactly with sorted object keys, so equal
// values compare equal byte for byte whatever store they came back from.
func Canonical(raw json.RawMessage) (json.RawMessage, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}

// Observe turns plain attribute values into versioned, canonical observations.
// Times are normalized to UTC before encoding.
func Observe(values map[string]any, at time.Time) (Attributes, error) {
	out := make(Attributes, len(values))
	for name, val := range values {
		if t, ok := val.(time.Time); ok {
			val = t.UTC()
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		if raw, err = Canonical(raw); err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		out[name] = Versioned{Value: raw, ObservedAt: at.UTC()}
	}
	return out, nil
}

// Merge folds incoming observations into a per attribute by last-writer-wins.
// The merge is commutative, associative and idempotent. It reports whether a
// changed and any immutable-attribute conflicts for ref.
func (a Attributes) Merge(ref NodeRef, incoming Attributes) (changed bool, conflicts []Conflict) {
	names := make([]string, 0, len(incoming))
	for name := range incoming {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		in := incoming[name]
		cur, ok := a[name]
		if !ok {
			a[name] = in
			changed = true
			continue
		}
		if IsImmutable(ref.Kind, name) && !bytes.Equal(cur.Value, in.Value) {
			conflicts = append(conflicts, Conflict{Ref: ref, Attribute: name, Existing: cur.Value, Incoming: in.Value})
		}
		if in.newer(cur) {
			a[name] = in
			changed = true
		}
	}
	return changed, conflicts
}

// Clone returns a deep copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = Versioned{Value: append(json.RawMessage(nil), v.Value...), ObservedAt: v.ObservedAt}
	}
	return out
}
