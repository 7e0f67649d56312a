package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes operation envelopes and journal movements to
// Postgres using multi-row INSERT batches. Writes are idempotent
// (ON CONFLICT DO NOTHING) so a retried batch never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in escrow_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Seller         *string
	Payload        []byte // JSON-encoded event payload
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// MovementRow represents a row in escrow_log.journal
type MovementRow struct {
	MovementID   string
	BatchID      string
	OpRef        string
	Sequence     int64
	FromAccount  string
	ToAccount    string
	Asset        string
	Amount       int64
	MovementType int32
	Timestamp    int64
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of envelopes to escrow_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO escrow_log.events
		(sequence, event_type, idempotency_key, seller, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*8)

	for i, e := range events {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Seller,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// WriteMovementBatch writes a batch of journal movements to escrow_log.journal.
func (w *EventLogWriter) WriteMovementBatch(ctx context.Context, tx *sql.Tx, movements []MovementRow) error {
	if len(movements) == 0 {
		return nil
	}

	query := `INSERT INTO escrow_log.journal
		(movement_id, batch_id, op_ref, sequence, from_account, to_account, asset, amount, movement_type, timestamp)
		VALUES `

	values := make([]string, 0, len(movements))
	args := make([]interface{}, 0, len(movements)*10)

	for i, m := range movements {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			m.MovementID, m.BatchID, m.OpRef, m.Sequence,
			m.FromAccount, m.ToAccount, m.Asset, m.Amount, m.MovementType, m.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (movement_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// DB exposes the underlying handle for transaction management.
func (w *EventLogWriter) DB() *sql.DB {
	return w.db
}

// LastSequence returns the highest persisted sequence, or -1 for an empty log.
func (w *EventLogWriter) LastSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM escrow_log.events`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last sequence: %w", err)
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
