package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/value"
)

// snapshotRows is a snapshot flattened into column values, shared by both
// backends.
type snapshotRows struct {
	replica    string
	nextSeq    int64
	digest     string
	datums     []datumRow
	tombstones []idRow
}

type datumRow struct {
	idRow
	body string
}

type idRow struct {
	idReplica string
	idSeq     int64
}

func encodeSnapshot(snap crdt.Snapshot) (snapshotRows, error) {
	key, err := replicaKey(snap.Replica)
	if err != nil {
		return snapshotRows{}, err
	}
	if snap.NextSeq < 0 {
		return snapshotRows{}, fmt.Errorf("negative next sequence %d", snap.NextSeq)
	}
	digest, err := snap.Digest()
	if err != nil {
		return snapshotRows{}, err
	}

	rows := snapshotRows{
		replica:    key,
		nextSeq:    snap.NextSeq,
		digest:     digest,
		datums:     make([]datumRow, len(snap.Model)),
		tombstones: make([]idRow, len(snap.Tombstones)),
	}
	for i, d := range snap.Model {
		id, err := encodeIdentifier(d.ID)
		if err != nil {
			return snapshotRows{}, fmt.Errorf("datum %s: %w", d.ID, err)
		}
		body, err := json.Marshal(d)
		if err != nil {
			return snapshotRows{}, fmt.Errorf("datum %s: %w", d.ID, err)
		}
		rows.datums[i] = datumRow{idRow: id, body: string(body)}
	}
	for i, t := range snap.Tombstones {
		id, err := encodeIdentifier(t)
		if err != nil {
			return snapshotRows{}, fmt.Errorf("tombstone %s: %w", t, err)
		}
		rows.tombstones[i] = id
	}
	return rows, nil
}

// replicaKey is the stored form of a replica id: its JSON encoding.
func replicaKey(replica value.Value) (string, error) {
	if err := crdt.ValidateReplicaID(replica); err != nil {
		return "", err
	}
	data, err := value.Marshal(replica)
	if err != nil {
		return "", fmt.Errorf("encode replica id: %w", err)
	}
	return string(data), nil
}

func encodeIdentifier(id crdt.Identifier) (idRow, error) {
	replica := id.Replica
	if replica == nil {
		replica = value.Null{}
	}
	key, err := replicaKey(replica)
	if err != nil {
		return idRow{}, err
	}
	return idRow{idReplica: key, idSeq: id.Seq}, nil
}

func decodeIdentifier(replica string, seq int64) (crdt.Identifier, error) {
	v, err := value.Parse([]byte(replica))
	if err != nil {
		return crdt.Identifier{}, fmt.Errorf("identifier replica %s: %w", replica, err)
	}
	if err := crdt.ValidateReplicaID(v); err != nil {
		return crdt.Identifier{}, fmt.Errorf("identifier replica %s: %w", replica, err)
	}
	return crdt.Identifier{Replica: v, Seq: seq}, nil
}

func decodeDatum(body string) (crdt.Datum, error) {
	var d crdt.Datum
	if err := json.Unmarshal([]byte(body), &d); err != nil {
		return crdt.Datum{}, fmt.Errorf("decode datum: %w", err)
	}
	return d, nil
}
