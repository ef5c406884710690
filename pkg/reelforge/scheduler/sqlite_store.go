package scheduler

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists jobs and rules in a SQLite database. It is a drop-in
// replacement for FileStore behind the Store interface, for deployments past
// the point where one-file-per-entity is comfortable. The full entity is
// kept as a JSON document; a few columns are broken out for inspection with
// plain SQL.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and ensures the
// schema exists.
func OpenSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		state        TEXT NOT NULL,
		scheduled_at TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		doc          TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rules (
		id           TEXT PRIMARY KEY,
		enabled      INTEGER NOT NULL,
		next_fire_at TEXT,
		doc          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) PutJob(job *Job) error {
	job.SchemaVersion = SchemaVersion
	doc, err := marshalWithExtra(job, job.extra)
	if err != nil {
		return fmt.Errorf("marshaling job %q: %w", job.ID, err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO jobs (id, kind, state, scheduled_at, created_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		string(job.State),
		job.ScheduledAt.UTC().Format(time.RFC3339Nano),
		job.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save job %q: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) PutRule(rule *Rule) error {
	rule.SchemaVersion = SchemaVersion
	doc, err := marshalWithExtra(rule, rule.extra)
	if err != nil {
		return fmt.Errorf("marshaling rule %q: %w", rule.ID, err)
	}

	var nextFire sql.NullString
	if rule.NextFireAt != nil {
		nextFire = sql.NullString{String: rule.NextFireAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO rules (id, enabled, next_fire_at, doc)
		VALUES (?, ?, ?, ?)`,
		rule.ID,
		boolToInt(rule.Enabled),
		nextFire,
		string(doc),
	)
	if err != nil {
		return fmt.Errorf("save rule %q: %w", rule.ID, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveJob(id string) error {
	if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveRule(id string) error {
	if _, err := s.db.Exec("DELETE FROM rules WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete rule %q: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll() ([]*Job, []*Rule, error) {
	jobs, err := s.loadJobs()
	if err != nil {
		return nil, nil, err
	}
	rules, err := s.loadRules()
	if err != nil {
		return nil, nil, err
	}
	return jobs, rules, nil
}

func (s *SQLiteStore) loadJobs() ([]*Job, error) {
	rows, err := s.db.Query("SELECT id, doc FROM jobs")
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job Job
		extra, err := unmarshalWithExtra([]byte(doc), &job)
		if err != nil || job.ID == "" {
			s.logger.Warn("skipping corrupt job record", "id", id, "error", err)
			continue
		}
		job.extra = extra
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) loadRules() ([]*Rule, error) {
	rows, err := s.db.Query("SELECT id, doc FROM rules")
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var rule Rule
		extra, err := unmarshalWithExtra([]byte(doc), &rule)
		if err != nil || rule.ID == "" {
			s.logger.Warn("skipping corrupt rule record", "id", id, "error", err)
			continue
		}
		rule.extra = extra
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
