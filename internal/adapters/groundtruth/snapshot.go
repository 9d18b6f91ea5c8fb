package groundtruth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/okian/veracity/internal/domain/model"
	"github.com/okian/veracity/internal/domain/verify"
	"github.com/okian/veracity/pkg/logger"
	"github.com/okian/veracity/pkg/metrics"
)

// Snapshot keeps ground-truth observations in SQLite and answers lookups with
// the newest observation at or before asOf. A miss falls through to the live
// fetcher, whose answer is stored.
type Snapshot struct {
	db     *sql.DB
	live   verify.Fetcher
	now    func() time.Time
	logger logger.Logger
}

var _ verify.Fetcher = (*Snapshot)(nil)

type observation struct {
	Text         string    `json:"text,omitempty"`
	Count        int64     `json:"count,omitempty"`
	Time         time.Time `json:"time,omitzero"`
	Verified     bool      `json:"verified,omitempty"`
	BlueVerified bool      `json:"blue_verified,omitempty"`
}

// OpenSnapshot opens (creating if needed) the store at path.
func OpenSnapshot(path string, opts ...SnapshotOption) (*Snapshot, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure snapshot db: %w", err)
	}
	s := &Snapshot{
		db:     db,
		now:    time.Now,
		logger: logger.Get().Named("snapshot"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS observations (
	  component TEXT NOT NULL,
	  entity TEXT NOT NULL,
	  observed_at INTEGER NOT NULL,
	  found INTEGER NOT NULL,
	  value TEXT NOT NULL,
	  PRIMARY KEY (component, entity, observed_at)
	);`)
	if err != nil {
		return fmt.Errorf("migrate snapshot db: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Snapshot) Close() error { return s.db.Close() }

// Fetch returns the newest stored observation at or before asOf (now when
// zero). On a miss it asks the live fetcher and records the answer.
func (s *Snapshot) Fetch(ctx context.Context, component model.Component, entityID string, asOf time.Time) (verify.Value, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	v, ok, err := s.lookup(ctx, component, entityID, asOf)
	if err != nil {
		metrics.RecordSnapshotLookup("error")
		return verify.Value{}, err
	}
	if ok {
		metrics.RecordSnapshotLookup("hit")
		return v, nil
	}
	metrics.RecordSnapshotLookup("miss")
	if s.live == nil {
		return verify.Value{}, ErrNoSnapshot
	}

	v, err = s.live.Fetch(ctx, component, entityID, asOf)
	if err != nil {
		return verify.Value{}, err
	}
	if v.ObservedAt.IsZero() {
		v.ObservedAt = s.now()
	}
	if err := s.Record(ctx, component, entityID, v); err != nil {
		s.logger.Warn(ctx, "snapshot record failed",
			logger.String("component", string(component)),
			logger.String("entity_id", entityID),
			logger.Error(err))
	}
	return v, nil
}

// Record stores v as the observation of component for entityID at v.ObservedAt.
// Recording the same instant twice keeps the later write.
func (s *Snapshot) Record(ctx context.Context, component model.Component, entityID string, v verify.Value) error {
	if v.ObservedAt.IsZero() {
		return fmt.Errorf("record %s %s: observation time required", component, entityID)
	}
	raw, err := json.Marshal(observation{
		Text:         v.Text,
		Count:        v.Count,
		Time:         v.Time.UTC(),
		Verified:     v.Verified,
		BlueVerified: v.BlueVerified,
	})
	if err != nil {
		return fmt.Errorf("encode observation: %w", err)
	}
	found := 0
	if v.Found {
		found = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO observations(component, entity, observed_at, found, value) VALUES(?,?,?,?,?)`,
		string(component), entityID, v.ObservedAt.UnixNano(), found, string(raw))
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	return nil
}

func (s *Snapshot) lookup(ctx context.Context, component model.Component, entityID string, asOf time.Time) (verify.Value, bool, error) {
	var (
		at    int64
		found int
		raw   string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT observed_at, found, value FROM observations
		 WHERE component = ? AND entity = ? AND observed_at <= ?
		 ORDER BY observed_at DESC LIMIT 1`,
		string(component), entityID, asOf.UnixNano()).Scan(&at, &found, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return verify.Value{}, false, nil
	}
	if err != nil {
		return verify.Value{}, false, fmt.Errorf("lookup observation: %w", err)
	}
	var o observation
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return verify.Value{}, false, fmt.Errorf("decode observation: %w", err)
	}
	return verify.Value{
		Found:        found == 1,
		Text:         o.Text,
		Count:        o.Count,
		Time:         o.Time,
		Verified:     o.Verified,
		BlueVerified: o.BlueVerified,
		ObservedAt:   time.Unix(0, at).UTC(),
	}, true, nil
}
