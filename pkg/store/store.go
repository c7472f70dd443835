// Package store is the primary document store: a flat key/value table for
// generic payloads (it satisfies pkg/cache's Store interface as the L3
// durable tier) plus a dedicated code_units table for the Ingestion
// Pipeline's transactional Live/Replaced bookkeeping. Grounded on the
// teacher's pkg/swarm/memory.SQLiteStore (database/sql over
// modernc.org/sqlite, explicit CREATE TABLE IF NOT EXISTS bootstrap,
// context-scoped Exec/Query calls) generalized from swarm-specific tables
// (swarms/nodes/facts) to the spec's generic per-record upsert/get/delete/
// prefix-scan contract plus the code-unit lifecycle the teacher has no
// equivalent for.
package store

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cortexd/cortexd/pkg/errs"
	"github.com/cortexd/cortexd/pkg/ids"
	"github.com/cortexd/cortexd/pkg/model"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Transient("store.open", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS code_units (
			id TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			path TEXT NOT NULL,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			byte_start INTEGER NOT NULL,
			byte_end INTEGER NOT NULL,
			status TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			parsed_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_code_units_workspace_path ON code_units(workspace_id, path)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return errs.Permanent("store.init", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get satisfies pkg/cache's Store interface.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM documents WHERE key = ?`, key)
	var value []byte
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, errs.Transient("store.get", err)
	}
	return value, true, nil
}

// Put satisfies pkg/cache's Store interface.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return errs.Transient("store.put", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
	if err != nil {
		return errs.Transient("store.delete", err)
	}
	return nil
}

// ScanPrefix returns every key with the given prefix, ordered lexically.
func (s *Store) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM documents WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, errs.Transient("store.scan_prefix", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errs.Transient("store.scan_prefix", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ReplaceUnits implements the Ingestion Pipeline's per-file transaction:
// every existing Live unit for (workspaceID, path) is marked Replaced,
// then newUnits are inserted as Live, all within one transaction.
func (s *Store) ReplaceUnits(ctx context.Context, workspaceID ids.WorkspaceID, path string, newUnits []model.CodeUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("store.replace_units", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE code_units SET status = ? WHERE workspace_id = ? AND path = ? AND status = ?`,
		model.CodeUnitReplaced, string(workspaceID), path, model.CodeUnitLive)
	if err != nil {
		return errs.Transient("store.replace_units", err)
	}

	for _, u := range newUnits {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO code_units (id, workspace_id, path, kind, name, byte_start, byte_end, status, content_hash, parsed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, string(u.WorkspaceID), u.Path, u.Kind, u.Name, u.ByteStart, u.ByteEnd, model.CodeUnitLive, u.ContentHash, u.ParsedAt)
		if err != nil {
			return errs.Transient("store.replace_units", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Transient("store.replace_units", err)
	}
	return nil
}

// LiveUnits returns every Live code unit for (workspaceID, path).
func (s *Store) LiveUnits(ctx context.Context, workspaceID ids.WorkspaceID, path string) ([]model.CodeUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, path, kind, name, byte_start, byte_end, status, content_hash, parsed_at
		FROM code_units WHERE workspace_id = ? AND path = ? AND status = ?`,
		string(workspaceID), path, model.CodeUnitLive)
	if err != nil {
		return nil, errs.Transient("store.live_units", err)
	}
	defer rows.Close()

	var out []model.CodeUnit
	for rows.Next() {
		var u model.CodeUnit
		var wid string
		if err := rows.Scan(&u.ID, &wid, &u.Path, &u.Kind, &u.Name, &u.ByteStart, &u.ByteEnd, &u.Status, &u.ContentHash, &u.ParsedAt); err != nil {
			return nil, errs.Transient("store.live_units", err)
		}
		u.WorkspaceID = ids.WorkspaceID(wid)
		out = append(out, u)
	}
	return out, nil
}

// ReplacedCount returns the number of Replaced units for (workspaceID,
// path), used to assert the idempotence monotonicity property in tests.
func (s *Store) ReplacedCount(ctx context.Context, workspaceID ids.WorkspaceID, path string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_units WHERE workspace_id = ? AND path = ? AND status = ?`,
		string(workspaceID), path, model.CodeUnitReplaced)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, errs.Transient("store.replaced_count", err)
	}
	return n, nil
}
