// Package merge folds validated datasets into the shared entity graph.
//
// Entities are keyed by identity (tweet id, user id, region name, token) and
// edges by (type, from, to). Attribute values carry their observation time and
// merge by last-writer-wins, so applying datasets in any order, or the same
// dataset twice, converges to the same graph. Each TokenRecord commits in its
// own transaction. A dataset with an unresolvable edge endpoint is rejected
// before anything is written.
package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/okian/veracity/internal/domain/dedupe"
	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

// Dispute marks the challenged record of a dataset whose verification failed
// some components. Disputes apply to identities, not records: a failed
// identity component drops every record of the challenged tweet, and any other
// failed component withholds the attributes it covers from every record of the
// dataset describing the same tweet or user.
type Dispute struct {
	Token   string
	TweetID string
	Failed  []model.Component
}

// Skipped is a record that was not merged.
type Skipped struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Report summarizes one Merge call.
type Report struct {
	Records    int              `json:"records"`
	Applied    int              `json:"applied"`
	Duplicates int              `json:"duplicates"`
	Nodes      int              `json:"nodes"`
	Edges      int              `json:"edges"`
	Skipped    []Skipped        `json:"skipped,omitempty"`
	Conflicts  []model.Conflict `json:"conflicts,omitempty"`
}

// disputedAttributes lists the node attributes a failed component covers.
var disputedAttributes = map[model.Component]struct {
	kind  model.NodeKind
	attrs []string
}{
	model.ComponentFollowerCount: {model.KindUserAccount, []string{"follower_count"}},
	model.ComponentVerified:      {model.KindUserAccount, []string{"is_verified", "is_blue_verified"}},
	model.ComponentTweetDate:     {model.KindTweet, []string{"timestamp"}},
}

// Merger applies datasets to a Store.
type Merger struct {
	store  Store
	logger logger.Logger
}

// New creates a Merger writing to store.
func New(store Store, opts ...Option) *Merger {
	m := &Merger{
		store:  store,
		logger: logger.Get().Named("merge"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// plan is the staged writes of one record.
type plan struct {
	index int
	nodes map[model.NodeRef]model.Attributes
	edges map[model.EdgeKey]model.Attributes
}

func (p *plan) addNode(ref model.NodeRef, attrs model.Attributes) {
	if cur, ok := p.nodes[ref]; ok {
		cur.Merge(ref, attrs)
		return
	}
	p.nodes[ref] = attrs.Clone()
}

func (p *plan) addEdge(key model.EdgeKey, attrs model.Attributes) {
	if cur, ok := p.edges[key]; ok {
		cur.Merge(key.Ref(), attrs)
		return
	}
	p.edges[key] = attrs.Clone()
}

// Merge applies ds to the graph. disputes name challenged records whose
// failed components must not reach the graph.
//
// A dangling edge rejects the whole dataset with a *DanglingEdgeError and no
// writes. Otherwise records commit one by one; on a store error the report
// covers the records committed so far and retrying the dataset is safe.
func (m *Merger) Merge(ctx context.Context, ds model.Dataset, disputes ...Dispute) (Report, error) {
	start := time.Now()
	defer func() { metrics.RecordMergeLatency(float64(time.Since(start).Milliseconds())) }()

	report := Report{Records: len(ds.Records)}
	if ds.ObservedAt.IsZero() {
		metrics.RecordMergeRejected("no_observation_time")
		return report, ErrNoObservationTime
	}

	disp := m.disputed(ds, disputes)
	seen := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

	// Entities of every record that will be applied, so an edge may point at an
	// entity introduced by a sibling record.
	kept := make([]int, 0, len(ds.Records))
	for i, rec := range ds.Records {
		if reason, ok := disp.drop[model.NodeRef{Kind: model.KindTweet, Key: rec.Tweet.ID}]; ok {
			report.Skipped = append(report.Skipped, Skipped{Index: i, Reason: reason})
			continue
		}
		fp, err := fingerprint(rec)
		if err != nil {
			return report, fmt.Errorf("record %d: %w", i, err)
		}
		if seen.SeenAndRecord(ctx, fp) {
			report.Duplicates++
			continue
		}
		kept = append(kept, i)
	}

	local := make(map[int]map[model.NodeRef]model.Attributes, len(kept))
	dataset := make(map[model.NodeRef]model.Attributes)
	for _, i := range kept {
		nodes, err := recordNodes(ds.Records[i], ds.ObservedAt, disp.strip)
		if err != nil {
			return report, fmt.Errorf("record %d: %w", i, err)
		}
		local[i] = nodes
		for ref, attrs := range nodes {
			if cur, ok := dataset[ref]; ok {
				cur.Merge(ref, attrs)
				continue
			}
			dataset[ref] = attrs.Clone()
		}
	}

	plans := make([]*plan, 0, len(kept))
	var dangling []Dangling
	for _, i := range kept {
		p := &plan{
			index: i,
			nodes: make(map[model.NodeRef]model.Attributes, len(local[i])),
			edges: make(map[model.EdgeKey]model.Attributes),
		}
		for ref, attrs := range local[i] {
			p.addNode(ref, attrs)
		}
		for _, e := range ds.Records[i].Edges {
			from, ok, err := m.resolve(ctx, e.From, local[i], dataset, p)
			if err != nil {
				return report, fmt.Errorf("record %d: resolve %q: %w", i, e.From, err)
			}
			if !ok {
				dangling = append(dangling, Dangling{Record: i, Type: e.Type, Endpoint: e.From})
				continue
			}
			to := from
			if e.To != "" {
				if to, ok, err = m.resolve(ctx, e.To, local[i], dataset, p); err != nil {
					return report, fmt.Errorf("record %d: resolve %q: %w", i, e.To, err)
				}
				if !ok {
					dangling = append(dangling, Dangling{Record: i, Type: e.Type, Endpoint: e.To})
					continue
				}
			}
			attrs, err := model.Observe(e.Attributes, edgeTime(e, ds.ObservedAt))
			if err != nil {
				return report, fmt.Errorf("record %d: edge %s: %w", i, e.Type, err)
			}
			p.addEdge(model.EdgeKey{Type: e.Type, From: from, To: to}, attrs)
		}
		plans = append(plans, p)
	}

	if len(dangling) > 0 {
		metrics.RecordMergeRejected("dangling_edge")
		m.logger.Warn(ctx, "dataset rejected",
			logger.String("submission_id", ds.SubmissionID),
			logger.String("miner_id", ds.MinerID),
			logger.Int("dangling", len(dangling)))
		return report, &DanglingEdgeError{Edges: dangling}
	}

	for _, p := range plans {
		nodes, edges, conflicts, err := m.apply(ctx, p)
		if err != nil {
			return report, fmt.Errorf("%w: record %d: %w", ErrApplyRecord, p.index, err)
		}
		report.Applied++
		report.Nodes += nodes
		report.Edges += edges
		report.Conflicts = append(report.Conflicts, conflicts...)
	}

	for _, c := range report.Conflicts {
		metrics.RecordMergeConflict(c.Attribute)
		m.logger.Warn(ctx, "immutable attribute conflict",
			logger.String("submission_id", ds.SubmissionID),
			logger.String("node", c.Ref.String()),
			logger.String("attribute", c.Attribute),
			logger.String("existing", string(c.Existing)),
			logger.String("incoming", string(c.Incoming)))
	}
	return report, nil
}

// apply commits one record. Nodes go first so edge endpoints exist in the Tx.
func (m *Merger) apply(ctx context.Context, p *plan) (nodes, edges int, conflicts []model.Conflict, err error) {
	tx, err := m.store.Begin(ctx)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	refs := make([]model.NodeRef, 0, len(p.nodes))
	for ref := range p.nodes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
	for _, ref := range refs {
		c, err := tx.UpsertNode(ctx, ref, p.nodes[ref])
		if err != nil {
			return 0, 0, nil, fmt.Errorf("upsert node %s: %w", ref, err)
		}
		conflicts = append(conflicts, c...)
	}

	keys := make([]model.EdgeKey, 0, len(p.edges))
	for key := range p.edges {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		if err := tx.UpsertEdge(ctx, key, p.edges[key]); err != nil {
			return 0, 0, nil, fmt.Errorf("upsert edge %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, nil, fmt.Errorf("commit: %w", err)
	}
	committed = true

	for _, ref := range refs {
		metrics.RecordMergeNode(string(ref.Kind))
	}
	for range keys {
		metrics.RecordMergeEdge()
	}
	return len(refs), len(keys), conflicts, nil
}

// resolve maps an edge endpoint identifier to a node: first the record's own
// entities, then the rest of the dataset, then the graph, each tried in
// model.ResolutionOrder. A dataset entity is staged into p so the record's
// transaction is self-contained.
func (m *Merger) resolve(
	ctx context.Context,
	id string,
	local, dataset map[model.NodeRef]model.Attributes,
	p *plan,
) (model.NodeRef, bool, error) {
	if id == "" {
		return model.NodeRef{}, false, nil
	}
	for _, kind := range model.ResolutionOrder {
		ref := model.NodeRef{Kind: kind, Key: id}
		if _, ok := local[ref]; ok {
			return ref, true, nil
		}
	}
	for _, kind := range model.ResolutionOrder {
		ref := model.NodeRef{Kind: kind, Key: id}
		if attrs, ok := dataset[ref]; ok {
			p.addNode(ref, attrs)
			return ref, true, nil
		}
	}
	for _, kind := range model.ResolutionOrder {
		ref := model.NodeRef{Kind: kind, Key: id}
		ok, err := m.store.HasNode(ctx, ref)
		if err != nil {
			return model.NodeRef{}, false, err
		}
		if ok {
			return ref, true, nil
		}
	}
	return model.NodeRef{}, false, nil
}

// withheld is what failed components keep out of a dataset, by identity.
type withheld struct {
	drop  map[model.NodeRef]string
	strip map[model.NodeRef][]string
}

// disputed resolves each dispute to its challenged record and keys what it
// removes by the identities of that record.
func (m *Merger) disputed(ds model.Dataset, list []Dispute) withheld {
	out := withheld{
		drop:  make(map[model.NodeRef]string),
		strip: make(map[model.NodeRef][]string),
	}
	for _, d := range list {
		if len(d.Failed) == 0 {
			continue
		}
		idx := -1
		for i, r := range ds.Records {
			if r.Token == d.Token && (d.TweetID == "" || r.Tweet.ID == d.TweetID) {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		rec := ds.Records[idx]
		for _, c := range d.Failed {
			if c == model.ComponentTweetID || c == model.ComponentUserID {
				ref := model.NodeRef{Kind: model.KindTweet, Key: rec.Tweet.ID}
				if _, ok := out.drop[ref]; !ok {
					out.drop[ref] = "disputed " + string(c)
				}
				continue
			}
			cover, ok := disputedAttributes[c]
			if !ok {
				continue
			}
			key := rec.Tweet.ID
			if cover.kind == model.KindUserAccount {
				key = rec.UserAccount.UserID
			}
			ref := model.NodeRef{Kind: cover.kind, Key: key}
			out.strip[ref] = append(out.strip[ref], cover.attrs...)
		}
	}
	return out
}

// recordNodes builds the versioned nodes a record contributes.
func recordNodes(rec model.TokenRecord, at time.Time, strip map[model.NodeRef][]string) (map[model.NodeRef]model.Attributes, error) {
	values := map[model.NodeRef]map[string]any{
		{Kind: model.KindTweet, Key: rec.Tweet.ID}: {
			"url":       rec.Tweet.URL,
			"text":      rec.Tweet.Text,
			"likes":     rec.Tweet.Likes,
			"images":    rec.Tweet.Images,
			"timestamp": rec.Tweet.Timestamp,
		},
		{Kind: model.KindUserAccount, Key: rec.UserAccount.UserID}: {
			"username":         rec.UserAccount.Username,
			"is_verified":      rec.UserAccount.IsVerified,
			"is_blue_verified": rec.UserAccount.IsBlueVerified,
			"follower_count":   rec.UserAccount.FollowerCount,
			"account_age":      rec.UserAccount.AccountAge,
			"engagement_level": rec.UserAccount.EngagementLevel,
			"total_tweets":     rec.UserAccount.TotalTweets,
		},
		{Kind: model.KindRegion, Key: rec.Region.Name}: {},
		{Kind: model.KindToken, Key: rec.Token}:        {},
	}
	if rec.Hashtags != nil {
		values[model.NodeRef{Kind: model.KindTweet, Key: rec.Tweet.ID}]["hashtags"] = rec.Hashtags
	}

	out := make(map[model.NodeRef]model.Attributes, len(values))
	for ref, vals := range values {
		if ref.Key == "" {
			continue
		}
		for _, name := range strip[ref] {
			delete(vals, name)
		}
		attrs, err := model.Observe(vals, at)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ref, err)
		}
		out[ref] = attrs
	}
	return out, nil
}

// edgeTime is the edge's own timestamp attribute when it parses, otherwise
// the dataset observation time.
func edgeTime(e model.Edge, fallback time.Time) time.Time {
	if s, ok := e.Attributes["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return fallback
}

func fingerprint(rec model.TokenRecord) (string, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16), nil
}
