// Package store persists synthesized drivers and unsatisfiable-resolution
// counters in a SQLite corpus.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"driversynth/internal/driver"
	"driversynth/internal/logging"
)

// FileName is the database file inside the corpus directory.
const FileName = "corpus.db"

// Store is the driver corpus.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Record is a stored driver.
type Record struct {
	ID           string
	Sequence     []string
	Seed         int64
	InputSize    int
	CounterSizes []int
	Summary      json.RawMessage
	CreatedAt    time.Time
}

// UnsatCount counts skipped resolutions of one slot.
type UnsatCount struct {
	API      string
	Position int
	Count    int
}

// NewStore creates or opens the corpus in dir.
func NewStore(dir string) (*Store, error) {
	dbPath := filepath.Join(dir, FileName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logging.Store("corpus opened at %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		api_seq TEXT NOT NULL UNIQUE,
		seed INTEGER NOT NULL,
		n_calls INTEGER NOT NULL,
		input_size INTEGER NOT NULL,
		counter_sizes_json TEXT,
		statements_json TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drivers_created ON drivers(created_at);

	CREATE TABLE IF NOT EXISTS unsat_events (
		api TEXT NOT NULL,
		position INTEGER NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (api, position)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DRIVER OPERATIONS
// =============================================================================

// SaveDriver stores d unless a driver with the same API sequence exists.
// It reports whether d was new. A driver without an ID is given one.
func (s *Store) SaveDriver(d *driver.Driver) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	summary, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("failed to encode driver: %w", err)
	}
	counters, _ := json.Marshal(d.CounterSizes)

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO drivers (id, api_seq, seed, n_calls, input_size,
			counter_sizes_json, statements_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.SequenceKey(), d.Seed, len(d.Calls()), d.InputSize, string(counters), string(summary), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to save driver: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	logging.StoreDebug("save %s: new=%v", d.ID, n > 0)
	return n > 0, nil
}

// HasSequence reports whether a driver with sequence key exists.
func (s *Store) HasSequence(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM drivers WHERE api_seq = ?`, key).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to look up sequence: %w", err)
	}
	return count > 0, nil
}

// ListDrivers returns the newest drivers first. limit <= 0 returns all.
func (s *Store) ListDrivers(limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := `SELECT id, api_seq, seed, input_size, counter_sizes_json, statements_json, created_at
		FROM drivers ORDER BY created_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list drivers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r        Record
			seq      string
			counters sql.NullString
			summary  string
		)
		if err := rows.Scan(&r.ID, &seq, &r.Seed, &r.InputSize, &counters, &summary, &r.CreatedAt); err != nil {
			return nil, err
		}
		if seq != "" {
			r.Sequence = strings.Split(seq, ",")
		}
		if counters.Valid {
			_ = json.Unmarshal([]byte(counters.String), &r.CounterSizes)
		}
		r.Summary = json.RawMessage(summary)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Count returns the number of stored drivers.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM drivers`).Scan(&n)
	return n, err
}

// =============================================================================
// UNSAT OPERATIONS
// =============================================================================

// RecordUnsat bumps the counter of one slot.
func (s *Store) RecordUnsat(api string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO unsat_events (api, position, count) VALUES (?, ?, 1)
		ON CONFLICT(api, position) DO UPDATE SET count = count + 1
	`, api, position)
	if err != nil {
		return fmt.Errorf("failed to record unsat: %w", err)
	}
	return nil
}

// UnsatCounts returns the counters, highest first.
func (s *Store) UnsatCounts() ([]UnsatCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT api, position, count FROM unsat_events ORDER BY count DESC, api, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read unsat counts: %w", err)
	}
	defer rows.Close()

	var out []UnsatCount
	for rows.Next() {
		var u UnsatCount
		if err := rows.Scan(&u.API, &u.Position, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
