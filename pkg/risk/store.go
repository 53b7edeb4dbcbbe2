package risk

import (
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mev-engine/mev-opportunity-engine/pkg/types"
)

// DefaultStorePath is the on-disk location for persisted risk state
const DefaultStorePath = "risk_state.db"

// Store persists per-strategy risk state to sqlite so breaker trips and
// cumulative exposure survive restarts. Callers serialize access; the
// gate already holds its own mutex across Save and LoadAll.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the risk state database at path; empty
// path uses the default
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = DefaultStorePath
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") {
		// busy_timeout and WAL keep concurrent writes from failing
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open risk state database: %w", err)
	}

	// single connection avoids driver-internal lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	const createTable = `
CREATE TABLE IF NOT EXISTS risk_state (
	strategy TEXT PRIMARY KEY,
	consecutive_failures INTEGER NOT NULL,
	cumulative_exposure TEXT NOT NULL,
	tripped_by TEXT NOT NULL,
	tripped_at INTEGER NOT NULL,
	last_reset INTEGER NOT NULL
);`

	_, err := s.db.Exec(createTable)
	return err
}

// Save upserts one strategy's risk state
func (s *Store) Save(strategy types.StrategyKind, state *strategyState) error {
	const upsert = `
INSERT INTO risk_state (strategy, consecutive_failures, cumulative_exposure, tripped_by, tripped_at, last_reset)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(strategy) DO UPDATE SET
	consecutive_failures = excluded.consecutive_failures,
	cumulative_exposure = excluded.cumulative_exposure,
	tripped_by = excluded.tripped_by,
	tripped_at = excluded.tripped_at,
	last_reset = excluded.last_reset;
`

	var kinds []string
	for kind := range state.trippedBy {
		kinds = append(kinds, string(kind))
	}

	var trippedAt int64
	if !state.trippedAt.IsZero() {
		trippedAt = state.trippedAt.Unix()
	}

	_, err := s.db.Exec(upsert,
		string(strategy),
		state.consecutiveFailures,
		state.cumulativeExposure.String(),
		strings.Join(kinds, ","),
		trippedAt,
		state.lastReset.Unix(),
	)
	return err
}

// LoadAll reads the persisted state for every strategy in the table
func (s *Store) LoadAll() (map[types.StrategyKind]*strategyState, error) {
	const query = `
SELECT strategy, consecutive_failures, cumulative_exposure, tripped_by, tripped_at, last_reset
FROM risk_state;
`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[types.StrategyKind]*strategyState)
	for rows.Next() {
		var (
			strategy  string
			failures  uint32
			exposure  string
			kindsCSV  string
			trippedAt int64
			lastReset int64
		)
		if err := rows.Scan(&strategy, &failures, &exposure, &kindsCSV, &trippedAt, &lastReset); err != nil {
			return nil, err
		}

		exp, ok := new(big.Int).SetString(exposure, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt cumulative_exposure for %s: %q", strategy, exposure)
		}

		state := &strategyState{
			consecutiveFailures: failures,
			cumulativeExposure:  exp,
			lastReset:           time.Unix(lastReset, 0),
			trippedBy:           make(map[types.BreakerKind]bool),
		}
		if trippedAt > 0 {
			state.trippedAt = time.Unix(trippedAt, 0)
		}
		for _, kind := range strings.Split(kindsCSV, ",") {
			if kind != "" {
				state.trippedBy[types.BreakerKind(kind)] = true
			}
		}
		states[types.StrategyKind(strategy)] = state
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return states, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
