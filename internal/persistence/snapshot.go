package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager stores and loads point-in-time copies of the in-memory
// state so a restart can skip replaying the whole event log.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the full serialized core state at a sequence boundary.
type SnapshotData struct {
	Sequence        int64                        `json:"sequence"`
	StateHash       []byte                       `json:"state_hash"`
	PrevHash        []byte                       `json:"prev_hash"`
	Balances        []BalanceSnapshot            `json:"balances"`
	Listings        map[string][]ListingSnapshot `json:"listings"`         // seller UUID -> slots in index order
	IdempotencyKeys []string                     `json:"idempotency_keys"` // recent keys for LRU warming
	CreatedAt       time.Time                    `json:"created_at"`
}

// BalanceSnapshot is one (owner, asset) collateral entry.
type BalanceSnapshot struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Open   uint64 `json:"open"`
	Locked uint64 `json:"locked"`
}

// ListingSnapshot is a serializable listing slot.
type ListingSnapshot struct {
	Seller  string  `json:"seller"`
	Index   uint64  `json:"index"`
	ItemRef []byte  `json:"item_ref"`
	Price   uint64  `json:"price"`
	Asset   string  `json:"asset"`
	Buyer   *string `json:"buyer,omitempty"`
	State   int32   `json:"state"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. Snapshots are verified by replaying
// the log from the snapshot sequence before being trusted on restart.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO escrow_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, len(data), snap.CreatedAt)

	return err
}

// LoadLatestSnapshot returns the newest verified snapshot, or nil when
// none exists and the caller must replay from the start of the log.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM escrow_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// MarkVerified flags a snapshot as safe to restore from.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE escrow_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom reads events at or after fromSequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, seller, payload,
		       state_hash, prev_hash, timestamp
		FROM escrow_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.Seller,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
