package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/value"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// PostgresStore keeps snapshots in a Postgres database shared by many
// replicas.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at dsn and creates the tables if
// needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// OpenURL opens a Postgres store for postgres:// and postgresql:// URLs
// and a SQLite store for anything else, which is taken as a file path.
func OpenURL(ctx context.Context, url string) (Snapshots, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return OpenPostgres(ctx, url)
	}
	return Open(url)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Save replaces the stored snapshot of snap.Replica.
func (s *PostgresStore) Save(ctx context.Context, snap crdt.Snapshot) error {
	rows, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if _, err := tx.Exec(ctx, `DELETE FROM jsoncrdt_replicas WHERE replica = $1`, rows.replica); err != nil {
		return fmt.Errorf("save snapshot: clear: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO jsoncrdt_replicas (replica, next_seq, datums, tombstones, digest)
		VALUES ($1, $2, $3, $4, $5)
	`, rows.replica, rows.nextSeq, len(rows.datums), len(rows.tombstones), rows.digest); err != nil {
		return fmt.Errorf("save snapshot: replica: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"jsoncrdt_datums"},
		[]string{"replica", "ord", "id_replica", "id_seq", "body"},
		pgx.CopyFromSlice(len(rows.datums), func(i int) ([]any, error) {
			d := rows.datums[i]
			return []any{rows.replica, i, d.idReplica, d.idSeq, json.RawMessage(d.body)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: datums: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"jsoncrdt_tombstones"},
		[]string{"replica", "ord", "id_replica", "id_seq"},
		pgx.CopyFromSlice(len(rows.tombstones), func(i int) ([]any, error) {
			t := rows.tombstones[i]
			return []any{rows.replica, i, t.idReplica, t.idSeq}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: tombstones: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

// Load returns the stored snapshot of replica, or ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, replica value.Value) (crdt.Snapshot, error) {
	key, err := replicaKey(replica)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	snap := crdt.Snapshot{Replica: replica}
	err = s.pool.QueryRow(ctx, `SELECT next_seq FROM jsoncrdt_replicas WHERE replica = $1`, key).Scan(&snap.NextSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return crdt.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT body::text FROM jsoncrdt_datums WHERE replica = $1 ORDER BY ord ASC`, key)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: datums: %w", err)
	}
	bodies, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: datums: %w", err)
	}
	for _, body := range bodies {
		d, err := decodeDatum(body)
		if err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Model = append(snap.Model, d)
	}

	rows, err = s.pool.Query(ctx, `SELECT id_replica, id_seq FROM jsoncrdt_tombstones WHERE replica = $1 ORDER BY ord ASC`, key)
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: tombstones: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowToStructByPos[struct {
		Replica string
		Seq     int64
	}])
	if err != nil {
		return crdt.Snapshot{}, fmt.Errorf("load snapshot: tombstones: %w", err)
	}
	for _, row := range ids {
		id, err := decodeIdentifier(row.Replica, row.Seq)
		if err != nil {
			return crdt.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
		}
		snap.Tombstones = append(snap.Tombstones, id)
	}

	return snap, nil
}

// Replicas lists saved snapshots ordered by replica key.
func (s *PostgresStore) Replicas(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT replica, next_seq, datums, tombstones, digest
		FROM jsoncrdt_replicas
		ORDER BY replica COLLATE "C" ASC
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

// Delete removes the snapshot of replica.
func (s *PostgresStore) Delete(ctx context.Context, replica value.Value) error {
	key, err := replicaKey(replica)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM jsoncrdt_replicas WHERE replica = $1`, key); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
