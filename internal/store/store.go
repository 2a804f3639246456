// Package store archives completed monitoring sessions in SQLite.
//
// The live monitoring path never touches the store; a session is
// written once, at close, together with its violations and report.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/ledger"
	"proctord/internal/report"
)

// Schema for the session archive.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at_ns   INTEGER NOT NULL,
    ended_at_ns     INTEGER NOT NULL,
    strict_mode     INTEGER NOT NULL,
    risk_score      INTEGER NOT NULL,
    tab_switches    INTEGER NOT NULL,
    suspicious      INTEGER NOT NULL,
    report_json     TEXT NOT NULL,
    signature       BLOB
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_ns);

CREATE TABLE IF NOT EXISTS violations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      INTEGER NOT NULL REFERENCES sessions(id),
    ordinal         INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    description     TEXT NOT NULL,
    timestamp_ns    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, ordinal);
`

// Store is the SQLite session archive.
type Store struct {
	db *sql.DB
}

// ArchivedSession is one stored session row.
type ArchivedSession struct {
	ID          int64
	StartedAt   time.Time
	EndedAt     time.Time
	StrictMode  bool
	RiskScore   int
	TabSwitches int
	Suspicious  bool
	ReportJSON  []byte
	Signature   []byte
}

// Open opens or creates the archive database at the given path and
// applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ArchiveSession stores a closed session, its report, and all
// violations in one transaction. Returns the new session ID.
func (s *Store) ArchiveSession(led *ledger.Ledger, rep *report.Report, strictMode bool, signature []byte) (int64, error) {
	if !led.Ended() {
		return 0, errors.New("store: session still active")
	}

	reportJSON, err := rep.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO sessions (started_at_ns, ended_at_ns, strict_mode, risk_score, tab_switches, suspicious, report_json, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		led.StartedAt().UnixNano(), led.EndedAt().UnixNano(), boolInt(strictMode),
		rep.RiskScore, rep.TabSwitches, boolInt(rep.SuspiciousActivity),
		string(reportJSON), signature,
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}

	sessionID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO violations (session_id, ordinal, kind, severity, description, timestamp_ns)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, v := range led.Violations() {
		if _, err := stmt.Exec(sessionID, i, string(v.Kind), v.Severity.String(), v.Description, v.Timestamp.UnixNano()); err != nil {
			return 0, fmt.Errorf("insert violation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return sessionID, nil
}

// GetSession retrieves an archived session by ID. Returns nil when it
// does not exist.
func (s *Store) GetSession(id int64) (*ArchivedSession, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at_ns, ended_at_ns, strict_mode, risk_score, tab_switches, suspicious, report_json, signature
		FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns archived sessions, newest first, up to limit
// (0 = no limit).
func (s *Store) ListSessions(limit int) ([]*ArchivedSession, error) {
	query := `
		SELECT id, started_at_ns, ended_at_ns, strict_mode, risk_score, tab_switches, suspicious, report_json, signature
		FROM sessions ORDER BY started_at_ns DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*ArchivedSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetViolations retrieves the violations of an archived session in
// detection order.
func (s *Store) GetViolations(sessionID int64) ([]ledger.Violation, error) {
	rows, err := s.db.Query(`
		SELECT kind, severity, description, timestamp_ns
		FROM violations WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get violations: %w", err)
	}
	defer rows.Close()

	var violations []ledger.Violation
	for rows.Next() {
		var kind, severity, description string
		var tsNs int64
		if err := rows.Scan(&kind, &severity, &description, &tsNs); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		sev, err := ledger.ParseSeverity(severity)
		if err != nil {
			return nil, err
		}
		violations = append(violations, ledger.Violation{
			Kind:        ledger.Kind(kind),
			Severity:    sev,
			Description: description,
			Timestamp:   time.Unix(0, tsNs),
		})
	}
	return violations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*ArchivedSession, error) {
	var sess ArchivedSession
	var startedNs, endedNs int64
	var strict, suspicious int
	var reportJSON string

	err := row.Scan(&sess.ID, &startedNs, &endedNs, &strict, &sess.RiskScore,
		&sess.TabSwitches, &suspicious, &reportJSON, &sess.Signature)
	if err != nil {
		return nil, err
	}

	sess.StartedAt = time.Unix(0, startedNs)
	sess.EndedAt = time.Unix(0, endedNs)
	sess.StrictMode = strict != 0
	sess.Suspicious = suspicious != 0
	sess.ReportJSON = []byte(reportJSON)
	return &sess, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
