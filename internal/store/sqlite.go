package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
	_ "modernc.org/sqlite"
)

// SQLiteStore provides a SQLite-based cycle history with WAL mode.
// It is thread-safe and supports concurrent access.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	logger *logging.Logger

	// Retention cleanup
	cleanupTicker *time.Ticker
	cleanupDone   chan struct{}
	closeOnce     sync.Once
	retentionDays int
}

// NewSQLiteStore creates a new SQLite store with WAL mode enabled
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithRetention(dbPath, 30, nil) // Default 30 days retention
}

// NewSQLiteStoreWithRetention creates a new SQLite store with custom retention
func NewSQLiteStoreWithRetention(dbPath string, retentionDays int, logger *logging.Logger) (*SQLiteStore, error) {
	// Create directory if it doesn't exist
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	if logger == nil {
		logger = logging.Nop()
	}

	store := &SQLiteStore{
		db:            db,
		logger:        logger,
		cleanupDone:   make(chan struct{}),
		retentionDays: retentionDays,
	}

	if retentionDays > 0 {
		store.cleanupOldData()
		store.startCleanup()
	}

	return store, nil
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	// Timestamps are unix milliseconds.
	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS cycles (
					id TEXT PRIMARY KEY,
					started_at INTEGER NOT NULL,
					finished_at INTEGER NOT NULL,
					accounts INTEGER NOT NULL DEFAULT 0,
					counts TEXT NOT NULL DEFAULT '{}',
					error TEXT NOT NULL DEFAULT ''
				);

				CREATE TABLE IF NOT EXISTS account_results (
					cycle_id TEXT NOT NULL,
					account_index INTEGER NOT NULL,
					stage TEXT NOT NULL,
					category TEXT NOT NULL,
					outcome TEXT,
					reason TEXT NOT NULL DEFAULT '',
					started_at INTEGER NOT NULL,
					finished_at INTEGER NOT NULL,
					PRIMARY KEY (cycle_id, account_index),
					FOREIGN KEY (cycle_id) REFERENCES cycles(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);
			`,
		},
		{
			version: 2,
			up: `
				CREATE INDEX IF NOT EXISTS idx_account_results_category ON account_results(category);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}

	return nil
}

// startCleanup starts the retention cleanup goroutine
func (s *SQLiteStore) startCleanup() {
	s.cleanupTicker = time.NewTicker(time.Hour)
	go func() {
		for {
			select {
			case <-s.cleanupTicker.C:
				s.cleanupOldData()
			case <-s.cleanupDone:
				return
			}
		}
	}()
}

// cleanupOldData removes cycles older than the retention window; results cascade.
func (s *SQLiteStore) cleanupOldData() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	if _, err := s.pruneBefore(context.Background(), cutoff); err != nil {
		s.logger.Error("cleanup failed", "table", "cycles", "error", err.Error())
	}
}

func (s *SQLiteStore) pruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM cycles WHERE started_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, &errors.ErrDatabaseQuery{Operation: "prune cycles", Err: err}
	}
	return res.RowsAffected()
}

// Close gracefully shuts down the store
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cleanupTicker != nil {
			s.cleanupTicker.Stop()
			close(s.cleanupDone)
		}
		if s.db != nil {
			err = s.db.Close()
		}
	})
	return err
}

// SaveCycle inserts or replaces a cycle and its account results in one transaction
func (s *SQLiteStore) SaveCycle(ctx context.Context, summary *models.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	countsJSON, err := json.Marshal(summary.Counts)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "encode counts", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (id, started_at, finished_at, accounts, counts, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			accounts = excluded.accounts,
			counts = excluded.counts,
			error = excluded.error
	`, summary.ID, summary.StartedAt.UnixMilli(), summary.FinishedAt.UnixMilli(), summary.Accounts, string(countsJSON), summary.Error)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "save cycle", Err: err}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM account_results WHERE cycle_id = ?", summary.ID); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "replace account results", Err: err}
	}

	for _, r := range summary.Results {
		var outcomeJSON sql.NullString
		if r.Stage == models.StageDone {
			data, err := json.Marshal(r.Outcome)
			if err != nil {
				return &errors.ErrDatabaseQuery{Operation: "encode outcome", Err: err}
			}
			outcomeJSON = sql.NullString{String: string(data), Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO account_results (cycle_id, account_index, stage, category, outcome, reason, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, summary.ID, r.Index, string(r.Stage), r.Category(), outcomeJSON, string(r.Reason), r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "save account result", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit cycle", Err: err}
	}
	return nil
}

// ListCycles returns up to limit cycles, newest first, with their results
func (s *SQLiteStore) ListCycles(ctx context.Context, limit int) ([]*models.CycleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, accounts, counts, error
		FROM cycles ORDER BY started_at DESC, id DESC LIMIT ?
	`, normalizeLimit(limit))
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list cycles", Err: err}
	}

	var cycles []*models.CycleSummary
	for rows.Next() {
		var c models.CycleSummary
		var startedAt, finishedAt int64
		var countsJSON string
		if err := rows.Scan(&c.ID, &startedAt, &finishedAt, &c.Accounts, &countsJSON, &c.Error); err != nil {
			rows.Close()
			return nil, &errors.ErrDatabaseQuery{Operation: "scan cycle", Err: err}
		}
		c.StartedAt = fromMillis(startedAt)
		c.FinishedAt = fromMillis(finishedAt)
		c.Counts = make(map[string]int)
		if err := json.Unmarshal([]byte(countsJSON), &c.Counts); err != nil {
			s.logger.Warn("failed to parse cycle counts", "error", err.Error(), "cycle_id", c.ID)
		}
		cycles = append(cycles, &c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &errors.ErrDatabaseQuery{Operation: "list cycles", Err: err}
	}
	rows.Close()

	for _, c := range cycles {
		results, err := s.loadResults(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.Results = results
	}
	return cycles, nil
}

func (s *SQLiteStore) loadResults(ctx context.Context, cycleID string) ([]models.AccountResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_index, stage, outcome, reason, started_at, finished_at
		FROM account_results WHERE cycle_id = ? ORDER BY account_index
	`, cycleID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list account results", Err: err}
	}
	defer rows.Close()

	var results []models.AccountResult
	for rows.Next() {
		var r models.AccountResult
		var stage, reason string
		var outcomeJSON sql.NullString
		var startedAt, finishedAt int64
		if err := rows.Scan(&r.Index, &stage, &outcomeJSON, &reason, &startedAt, &finishedAt); err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "scan account result", Err: err}
		}
		r.Stage = models.Stage(stage)
		r.Reason = models.FailureReason(reason)
		r.StartedAt = fromMillis(startedAt)
		r.FinishedAt = fromMillis(finishedAt)
		if outcomeJSON.Valid {
			if err := json.Unmarshal([]byte(outcomeJSON.String), &r.Outcome); err != nil {
				s.logger.Warn("failed to parse outcome", "error", err.Error(), "cycle_id", cycleID)
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list account results", Err: err}
	}
	return results, nil
}

// LatestCycle returns the most recent cycle
func (s *SQLiteStore) LatestCycle(ctx context.Context) (*models.CycleSummary, bool, error) {
	cycles, err := s.ListCycles(ctx, 1)
	if err != nil || len(cycles) == 0 {
		return nil, false, err
	}
	return cycles[0], true, nil
}

// Stats returns store statistics
func (s *SQLiteStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats StoreStats
	_ = s.db.QueryRow("SELECT COUNT(*) FROM cycles").Scan(&stats.CycleCount)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM account_results").Scan(&stats.ResultCount)
	return stats
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
