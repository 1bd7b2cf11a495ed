// Package evidence archives quotes fetched from the daemon together with the
// event log and report data they were requested with.
package evidence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("evidence record not found")

// Record is one archived quote.
type Record struct {
	ID            string     `json:"id"`
	AppID         string     `json:"app_id"`
	InstanceID    string     `json:"instance_id"`
	ReportData    []byte     `json:"report_data"`
	Quote         []byte     `json:"quote"`
	EventLog      string     `json:"event_log"`
	HashAlgorithm string     `json:"hash_algorithm,omitempty"`
	Verified      bool       `json:"verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Store wraps a SQLite database connection.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS evidence (
			id TEXT PRIMARY KEY,
			app_id TEXT NOT NULL DEFAULT '',
			instance_id TEXT NOT NULL DEFAULT '',
			report_data BLOB NOT NULL,
			quote BLOB NOT NULL,
			event_log TEXT NOT NULL DEFAULT '[]',
			hash_algorithm TEXT NOT NULL DEFAULT '',
			verified INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS evidence_app_created ON evidence (app_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return s.upgradeEvidenceSchema()
}

// upgradeEvidenceSchema adds columns introduced after the first release.
func (s *Store) upgradeEvidenceSchema() error {
	has, err := s.hasColumn("evidence", "verified_at")
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := s.db.Exec(`ALTER TABLE evidence ADD COLUMN verified_at DATETIME`); err != nil {
		return fmt.Errorf("add evidence.verified_at: %w", err)
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("read %s schema: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, fmt.Errorf("scan %s schema: %w", table, err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Save inserts rec, assigning ID and CreatedAt when they are unset.
func (s *Store) Save(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.EventLog == "" {
		rec.EventLog = "[]"
	}
	if rec.ReportData == nil {
		rec.ReportData = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO evidence (id, app_id, instance_id, report_data, quote, event_log, hash_algorithm, verified, verified_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AppID, rec.InstanceID, rec.ReportData, rec.Quote, rec.EventLog, rec.HashAlgorithm, rec.Verified, rec.VerifiedAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save evidence: %w", err)
	}
	return nil
}

const selectColumns = `id, app_id, instance_id, report_data, quote, event_log, hash_algorithm, verified, verified_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.ID, &rec.AppID, &rec.InstanceID, &rec.ReportData, &rec.Quote, &rec.EventLog, &rec.HashAlgorithm, &rec.Verified, &rec.VerifiedAt, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Get returns the record with id, or nil if there is none.
func (s *Store) Get(id string) (*Record, error) {
	rec, err := scanRecord(s.db.QueryRow(`SELECT `+selectColumns+` FROM evidence WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get evidence: %w", err)
	}
	return rec, nil
}

// ListOptions narrows List. Zero values mean no filter.
type ListOptions struct {
	AppID string
	Limit int
}

// List returns records newest first.
func (s *Store) List(opts ListOptions) ([]Record, error) {
	query := `SELECT ` + selectColumns + ` FROM evidence`
	var args []any
	if opts.AppID != "" {
		query += ` WHERE app_id = ?`
		args = append(args, opts.AppID)
	}
	query += ` ORDER BY created_at DESC, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// MarkVerified records the outcome of a replay check against the quote.
func (s *Store) MarkVerified(id string, verified bool) error {
	var at any
	if verified {
		at = time.Now().UTC()
	}
	res, err := s.db.Exec(`UPDATE evidence SET verified = ?, verified_at = ? WHERE id = ?`, verified, at, id)
	if err != nil {
		return fmt.Errorf("mark evidence verified: %w", err)
	}
	return expectOneRow(res, id)
}

func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM evidence WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete evidence: %w", err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
