package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create db directory")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// migrate applies the embedded scripts newer than the database's
// user_version, each in its own transaction.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return errors.Wrap(err, "read schema version")
	}

	names, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return errors.Wrap(err, "list migrations")
	}
	for _, name := range names {
		version, ok := migrationVersion(path.Base(name))
		if !ok || version <= current {
			continue
		}
		script, err := migrationFiles.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if err := s.apply(ctx, version, string(script)); err != nil {
			return errors.Wrapf(err, "apply %s", name)
		}
		current = version
	}
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, version int, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	// PRAGMA takes no bound parameters
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return err
	}
	return tx.Commit()
}

// migrationVersion reads the numeric prefix of names like 001_init.sql.
func migrationVersion(name string) (int, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(prefix)
	return n, err == nil && n > 0
}

// Insert writes records in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tool_calls
		(tool, invocation_id, ok, reason, status, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			r.Tool,
			r.InvocationID,
			boolToInt(r.OK),
			r.Reason,
			r.Status,
			r.DurationMS,
			createdAt.UTC(),
		); err != nil {
			return errors.Wrapf(err, "insert tool call %s", r.InvocationID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit insert")
}

// Latest returns up to limit records, newest first.
func (s *SQLiteStore) Latest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, invocation_id, ok, reason, status, duration_ms, created_at
		 FROM tool_calls
		 ORDER BY id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query tool calls")
	}
	defer rows.Close()

	ret := make([]Record, 0)
	for rows.Next() {
		var r Record
		var ok int
		if err := rows.Scan(&r.ID, &r.Tool, &r.InvocationID, &ok, &r.Reason, &r.Status, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan tool call")
		}
		r.OK = ok != 0
		ret = append(ret, r)
	}
	return ret, errors.Wrap(rows.Err(), "iterate tool calls")
}

// Prune deletes everything but the newest keep records.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tool_calls WHERE id NOT IN (SELECT id FROM tool_calls ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, errors.Wrap(err, "prune tool calls")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
