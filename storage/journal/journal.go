// Package journal persists closed capture sessions to a local SQLite
// database: one row per session plus its recognized students. The journal
// is the durable form of the session's final tally and the operator's
// audit trail; the live Store stays in memory.
package journal

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id          TEXT PRIMARY KEY,
    class_id    INTEGER NOT NULL,
    date        TEXT NOT NULL,
    public      INTEGER NOT NULL DEFAULT 0,
    started_at  INTEGER NOT NULL,
    ended_at    INTEGER NOT NULL,
    recognized  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS recognitions (
    session_id  TEXT NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    student_id  INTEGER NOT NULL,
    full_name   TEXT NOT NULL,
    at          INTEGER NOT NULL,
    PRIMARY KEY (session_id, student_id)
);
`

type (
	SessionRecord struct {
		ID         string    `db:"id" json:"id"`
		ClassID    int       `db:"class_id" json:"class_id"`
		Date       string    `db:"date" json:"date"`
		Public     bool      `db:"public" json:"public"`
		StartedAt  time.Time `db:"started_at" json:"started_at"`
		EndedAt    time.Time `db:"ended_at" json:"ended_at"`
		Recognized int       `db:"recognized" json:"recognized"`
	}

	RecognitionRecord struct {
		SessionID string    `db:"session_id" json:"session_id"`
		StudentID int       `db:"student_id" json:"student_id"`
		FullName  string    `db:"full_name" json:"full_name"`
		At        time.Time `db:"at" json:"at"`
	}

	Journal struct {
		db *sqlx.DB
	}
)

// Open connects to (or creates) the journal database and applies the
// schema.
func Open(conf *core.Config) (*Journal, error) {
	path := conf.JournalPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data dir")
	}

	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal db")
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "applying %q", pragma)
		}
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "applying journal schema")
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordSession writes a closed session and its recognized entries in one
// transaction.
func (j *Journal) RecordSession(ctx context.Context, sess *attendance.Session, entries []attendance.Entry) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, class_id, date, public, started_at, ended_at, recognized)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ClassID, sess.Date, sess.Public,
		sess.StartedAt.UnixNano(),
		time.Now().UnixNano(),
		len(entries),
	)
	if err != nil {
		return errors.Wrap(err, "inserting session")
	}

	for _, entry := range entries {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recognitions (session_id, student_id, full_name, at) VALUES (?, ?, ?, ?)`,
			sess.ID, entry.StudentID, entry.FullName, entry.At.UnixNano(),
		)
		if err != nil {
			return errors.Wrapf(err, "inserting recognition %d", entry.StudentID)
		}
	}

	return errors.Wrap(tx.Commit(), "committing session")
}

// Sessions lists journaled sessions, most recent first.
func (j *Journal) Sessions(ctx context.Context) ([]SessionRecord, error) {
	var rows []sessionRow
	err := j.db.SelectContext(ctx, &rows,
		`SELECT id, class_id, date, public, started_at, ended_at, recognized
		 FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}

	records := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// Recognitions lists the recognized students of a journaled session in
// recognition order.
func (j *Journal) Recognitions(ctx context.Context, sessionID string) ([]RecognitionRecord, error) {
	var rows []recognitionRow
	err := j.db.SelectContext(ctx, &rows,
		`SELECT session_id, student_id, full_name, at FROM recognitions
		 WHERE session_id = ? ORDER BY at ASC`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying recognitions")
	}

	records := make([]RecognitionRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toRecord())
	}
	return records, nil
}

// sqlite stores timestamps as epoch nanoseconds so ORDER BY is
// chronological; scan rows convert them back.

type sessionRow struct {
	ID         string `db:"id"`
	ClassID    int    `db:"class_id"`
	Date       string `db:"date"`
	Public     bool   `db:"public"`
	StartedAt  int64  `db:"started_at"`
	EndedAt    int64  `db:"ended_at"`
	Recognized int    `db:"recognized"`
}

func (r sessionRow) toRecord() SessionRecord {
	return SessionRecord{
		ID:         r.ID,
		ClassID:    r.ClassID,
		Date:       r.Date,
		Public:     r.Public,
		StartedAt:  time.Unix(0, r.StartedAt).UTC(),
		EndedAt:    time.Unix(0, r.EndedAt).UTC(),
		Recognized: r.Recognized,
	}
}

type recognitionRow struct {
	SessionID string `db:"session_id"`
	StudentID int    `db:"student_id"`
	FullName  string `db:"full_name"`
	At        int64  `db:"at"`
}

func (r recognitionRow) toRecord() RecognitionRecord {
	return RecognitionRecord{
		SessionID: r.SessionID,
		StudentID: r.StudentID,
		FullName:  r.FullName,
		At:        time.Unix(0, r.At).UTC(),
	}
}
