package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// MovementType records why a movement happened
type MovementType int32

const (
	MovementDeposit MovementType = iota
	MovementWithdraw
	MovementLock
	MovementLockShortfall
	MovementUnlock
	MovementSettle
)

func (mt MovementType) String() string {
	switch mt {
	case MovementDeposit:
		return "deposit"
	case MovementWithdraw:
		return "withdraw"
	case MovementLock:
		return "lock"
	case MovementLockShortfall:
		return "lock_shortfall"
	case MovementUnlock:
		return "unlock"
	case MovementSettle:
		return "settle"
	default:
		return "unknown"
	}
}

// Movement is a single audit-trail transfer between two accounts. The
// amount always moves From → To and is always positive.
type Movement struct {
	MovementID uuid.UUID
	BatchID    uuid.UUID
	OpRef      string // idempotency key of the source operation
	Sequence   int64  // global operation sequence
	From       AccountKey
	To         AccountKey
	Asset      Asset
	Amount     uint64
	Type       MovementType
	Timestamp  int64 // epoch microseconds
}

// Batch groups the movements produced by one caller-visible operation.
// A batch is applied all-or-nothing: the ledger only emits it after every
// precondition and external transfer has succeeded.
type Batch struct {
	BatchID   uuid.UUID
	OpRef     string
	Sequence  int64
	Timestamp int64
	Movements []Movement
}

// Validate ensures the batch is well-formed. Each movement is a balanced
// transfer by construction (a single positive amount leaves From and
// arrives at To), so conservation holds per-movement; value only enters
// or leaves through the external boundary accounts.
func (b *Batch) Validate() error {
	if len(b.Movements) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, m := range b.Movements {
		if m.Amount == 0 {
			return fmt.Errorf("movement %s has zero amount", m.MovementID)
		}

		if m.BatchID != b.BatchID {
			return fmt.Errorf("movement %s has mismatched batch_id", m.MovementID)
		}

		if m.From == m.To {
			return fmt.Errorf("movement %s has same source and destination account", m.MovementID)
		}

		if m.From.Asset != m.Asset || m.To.Asset != m.Asset {
			return fmt.Errorf("movement %s crosses asset partitions", m.MovementID)
		}
	}

	return nil
}

// NewBatch assembles a batch from loose movements, stamping them with the
// batch identity and operation context.
func NewBatch(opRef string, sequence int64, timestamp int64, movements []Movement) *Batch {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:   batchID,
		OpRef:     opRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Movements: make([]Movement, 0, len(movements)),
	}

	for _, m := range movements {
		m.MovementID = uuid.New()
		m.BatchID = batchID
		m.OpRef = opRef
		m.Sequence = sequence
		m.Timestamp = timestamp
		batch.Movements = append(batch.Movements, m)
	}

	return batch
}
