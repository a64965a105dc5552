package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/value"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added ordering indexes on datums and tombstones
const currentSchemaVersion = 1

// ErrNotFound is returned by Load for a replica with no saved snapshot.
var ErrNotFound = errors.New("store: snapshot not found")

// Snapshots persists replica snapshots.
type Snapshots interface {
	Save(ctx context.Context, snap crdt.Snapshot) error
	Load(ctx context.Context, replica value.Value) (crdt.Snapshot, error)
	Replicas(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, replica value.Value) error
	Close() error
}

// Summary describes a saved snapshot without loading it.
type Summary struct {
	Replica    value.Value
	NextSeq    int64
	Datums     int
	Tombstones int
	Digest     string
}

var (
	_ Snapshots = (*Store)(nil)
	_ Snapshots = (*PostgresStore)(nil)
)

// Store keeps snapshots in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save replaces the stored snapshot of snap.Replica.
func (s *Store) Save(ctx context.Context, snap crdt.Snapshot) error {
	rows, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Deleting the replica row cascades to its datums and tombstones.
	if _, err := tx.ExecContext(ctx, `DELETE FROM replicas WHERE replica = ?`, rows.replica); err != nil {
		return fmt.Errorf("save snapshot: clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO replicas (replica, next_seq, datums, tombstones, digest)
		VALUES (?, ?, ?, ?, ?)
	`, rows.replica, rows.nextSeq, len(rows.datums), len(rows.tombstones), rows.digest); err != nil {
		return fmt.Errorf("save snapshot: replica: %w", err)
	}

	datumStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO datums (replica, ord, id_replica, id_seq, body)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save snapshot: prepare datums: %w", err)
	}
	defer datumStmt.Close()
	for i, d := range rows.datums {
		if _, err := datumStmt.ExecContext(ctx, rows.replica, i, d.idReplica, d.idSeq, d.body); err != nil {
			return fmt.Errorf("save snapshot: datum %d: %w", i, err)
		}
	}

	tombStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tombstones (replica, ord, id_replica, id_seq)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save snapshot: prepare tombstones: %w", err)
	}
	defer tombStmt.Close()
	for i, t := range rows.tombstones {
		if _, err := tombStmt.ExecContext(ctx, rows.replica, i, t.idReplica, t.idSeq); err != nil {
			return fmt.Errorf("save snapshot: tombstone %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// Load returns the stored snapshot of replica, or ErrNotFound.
func (s *Store) Load(ctx context.Context, replica value.Value) (crdt.Snapshot, error) {
	key, err := replicaKey(replica)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snap := crdt.Snapshot{Replica: replica}
	err = s.db.QueryRowContext(ctx, `SELECT next_seq FROM replicas WHERE replica = ?`, key).Scan(&snap.NextSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return crdt.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM datums WHERE replica = ? ORDER BY ord ASC`, key)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: datums: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: datums: %w", err)
		}
		d, err := decodeDatum(body)
		if err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Model = append(snap.Model, d)
	}
	if err := rows.Err(); err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: datums: %w", err)
	}

	trows, err := s.db.QueryContext(ctx, `SELECT id_replica, id_seq FROM tombstones WHERE replica = ? ORDER BY ord ASC`, key)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: tombstones: %w", err)
	}
	defer trows.Close()
	for trows.Next() {
		var idReplica string
		var seq int64
		if err := trows.Scan(&idReplica, &seq); err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: tombstones: %w", err)
		}
		id, err := decodeIdentifier(idReplica, seq)
		if err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Tombstones = append(snap.Tombstones, id)
	}
	if err := trows.Err(); err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: tombstones: %w", err)
	}

	return snap, nil
}

// Replicas lists saved snapshots ordered by replica key.
func (s *Store) Replicas(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT replica, next_seq, datums, tombstones, digest
		FROM replicas
		ORDER BY replica ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list replicas: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.NextSeq, &sum.Datums, &sum.Tombstones, &sum.Digest); err != nil {
			return nil, fmt.Errorf("list replicas: %w", err)
		}
		if sum.Replica, err = value.Parse([]byte(key)); err != nil {
			return nil, fmt.Errorf("list replicas: replica %s: %w", key, err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list replicas: %w", err)
	}
	return out, nil
}

// Delete removes the snapshot of replica. Deleting a missing snapshot is
// not an error.
func (s *Store) Delete(ctx context.Context, replica value.Value) error {
	key, err := replicaKey(replica)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM replicas WHERE replica = ?`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the indexes Load orders by.
func migrateToV1(db *sql.DB) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_datums_order ON datums(replica, ord)`,
		`CREATE INDEX IF NOT EXISTS idx_tombstones_order ON tombstones(replica, ord)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var got string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&got); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("%s = %q, expected %q", name, got, expected)
	}
	return nil
}
