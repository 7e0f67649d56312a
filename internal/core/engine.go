package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"EscrowLedger/internal/event"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"
	"EscrowLedger/internal/observability"

	"github.com/google/uuid"
)

// ErrDuplicateOperation is returned when an operation ID was already
// processed. The first invocation's effects stand; the caller should not
// retry with the same ID.
var ErrDuplicateOperation = errors.New("duplicate operation")

// Output is one processed operation, ready for the persistence worker,
// the projection worker, and the outbound publisher.
type Output struct {
	Envelope *event.Envelope
	Batch    *ledger.Batch    // nil when the operation moved no balances
	Listing  *listing.Listing // post-operation slot, nil for collateral ops
	Payload  event.Event
}

// Engine serializes all ledger and registry operations. Every public
// method is atomic relative to all others: a single lock spans the
// precondition checks, the balance mutations, and the audit emit, so no
// concurrent caller can observe a partially-updated balance or listing.
// The transfer adapter is the only external call and it happens inside
// the locked section, before listing state advances.
type Engine struct {
	mu       sync.Mutex
	sequence int64
	replay   bool

	hasher      *StateHasher
	ledger      *ledger.CollateralLedger
	registry    *listing.Registry
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	clock       func() time.Time

	persistChan    chan<- Output
	projectionChan chan<- Output
	publishChan    chan<- Output
}

// EngineConfig wires the engine's collaborators. Channels may be nil for
// embedded/library use — outputs are then dropped after application.
type EngineConfig struct {
	StartSequence  int64
	LRUCapacity    int
	DBChecker      DBIdempotencyChecker
	Metrics        *observability.Metrics
	Clock          func() time.Time
	PersistChan    chan<- Output
	ProjectionChan chan<- Output
	PublishChan    chan<- Output
}

func NewEngine(cl *ledger.CollateralLedger, reg *listing.Registry, cfg EngineConfig) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 100_000
	}

	return &Engine{
		sequence:       cfg.StartSequence,
		hasher:         NewStateHasher(),
		ledger:         cl,
		registry:       reg,
		idempotency:    NewIdempotencyChecker(capacity, cfg.DBChecker),
		metrics:        cfg.Metrics,
		clock:          clock,
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
		publishChan:    cfg.PublishChan,
	}
}

// === Balance operations ===

// Deposit credits the owner's open collateral after the transfer adapter
// confirms receipt.
func (e *Engine) Deposit(ctx context.Context, opID, owner uuid.UUID, asset ledger.Asset, amount, attachedValue uint64) error {
	const op = "deposit"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return ErrDuplicateOperation
	}

	movements, err := e.ledger.Deposit(ctx, owner, asset, amount, attachedValue)
	if err != nil {
		e.reject(op, err)
		return err
	}

	e.commit(op, &event.CollateralDeposited{
		OpID:      opID,
		Owner:     owner,
		Asset:     asset.String(),
		Amount:    amount,
		Timestamp: e.clock(),
	}, movements, nil, start)
	return nil
}

// Withdraw debits the owner's open collateral and pushes the amount out.
func (e *Engine) Withdraw(ctx context.Context, opID, owner uuid.UUID, asset ledger.Asset, amount uint64) error {
	const op = "withdraw"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return ErrDuplicateOperation
	}

	movements, err := e.ledger.Withdraw(ctx, owner, asset, amount)
	if err != nil {
		e.reject(op, err)
		return err
	}

	e.commit(op, &event.CollateralWithdrawn{
		OpID:      opID,
		Owner:     owner,
		Asset:     asset.String(),
		Amount:    amount,
		Timestamp: e.clock(),
	}, movements, nil, start)
	return nil
}

// === Listing operations ===

// List creates a listing and locks the asking price as seller collateral.
func (e *Engine) List(ctx context.Context, opID, seller uuid.UUID, itemRef listing.ItemRef, price uint64, asset ledger.Asset, attachedValue uint64) (listing.Listing, error) {
	const op = "list"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, movements, err := e.registry.List(ctx, seller, itemRef, price, asset, attachedValue)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.ItemListed{
		OpID:      opID,
		Seller:    seller,
		Index:     l.Index,
		ItemRef:   hex.EncodeToString(itemRef[:]),
		Price:     price,
		Asset:     asset.String(),
		Attached:  attachedValue,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// UpdatePrice changes the asking price of a Listed listing.
func (e *Engine) UpdatePrice(ctx context.Context, opID, seller uuid.UUID, index uint64, newPrice, attachedValue uint64) (listing.Listing, error) {
	const op = "update_price"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	before, err := e.registry.GetItem(seller, index)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	l, movements, err := e.registry.UpdatePrice(ctx, seller, index, newPrice, attachedValue)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.PriceUpdated{
		OpID:      opID,
		Seller:    seller,
		Index:     index,
		OldPrice:  before.Price,
		NewPrice:  newPrice,
		Attached:  attachedValue,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// Cancel withdraws a Listed listing and releases the seller's collateral.
func (e *Engine) Cancel(opID, seller uuid.UUID, index uint64) (listing.Listing, error) {
	const op = "cancel"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, movements, err := e.registry.Cancel(seller, index)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.ListingCanceled{
		OpID:      opID,
		Seller:    seller,
		Index:     index,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// Buy commits the buyer, locking payment plus matching collateral.
func (e *Engine) Buy(ctx context.Context, opID, buyer, seller uuid.UUID, index uint64, attachedValue uint64) (listing.Listing, error) {
	const op = "buy"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, movements, err := e.registry.Buy(ctx, buyer, seller, index, attachedValue)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.BuyCommitted{
		OpID:      opID,
		Buyer:     buyer,
		Seller:    seller,
		Index:     index,
		Locked:    l.Price * 2,
		Attached:  attachedValue,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// CancelBuy releases the buyer's commitment.
func (e *Engine) CancelBuy(opID, buyer, seller uuid.UUID, index uint64) (listing.Listing, error) {
	const op = "cancel_buy"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, movements, err := e.registry.CancelBuy(buyer, seller, index)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.BuyCanceled{
		OpID:      opID,
		Buyer:     buyer,
		Seller:    seller,
		Index:     index,
		Released:  l.Price * 2,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// MarkSent records the seller's handoff. Moves no balances.
func (e *Engine) MarkSent(opID, seller uuid.UUID, index uint64) (listing.Listing, error) {
	const op = "mark_sent"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, err := e.registry.MarkSent(seller, index)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.ItemSent{
		OpID:      opID,
		Seller:    seller,
		Index:     index,
		Timestamp: e.clock(),
	}, nil, &l, start)
	return l, nil
}

// MarkReceived confirms receipt and settles all locked collateral.
func (e *Engine) MarkReceived(opID, buyer, seller uuid.UUID, index uint64) (listing.Listing, error) {
	const op = "mark_received"
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if e.checkDuplicate(op, opID) {
		return listing.Listing{}, ErrDuplicateOperation
	}

	l, movements, err := e.registry.MarkReceived(buyer, seller, index)
	if err != nil {
		e.reject(op, err)
		return listing.Listing{}, err
	}

	e.commit(op, &event.ItemReceived{
		OpID:      opID,
		Buyer:     buyer,
		Seller:    seller,
		Index:     index,
		Price:     l.Price,
		Timestamp: e.clock(),
	}, movements, &l, start)
	return l, nil
}

// === Read surface ===

func (e *Engine) GetItem(seller uuid.UUID, index uint64) (listing.Listing, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.GetItem(seller, index)
}

func (e *Engine) GetItems(seller uuid.UUID) []listing.Listing {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.GetItems(seller)
}

func (e *Engine) OpenCollateral(owner uuid.UUID, asset ledger.Asset) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.OpenCollateral(owner, asset)
}

func (e *Engine) LockedCollateral(owner uuid.UUID, asset ledger.Asset) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.LockedCollateral(owner, asset)
}

// CheckCollateral reports whether open collateral covers required, and
// the shortfall if not.
func (e *Engine) CheckCollateral(owner uuid.UUID, asset ledger.Asset, required uint64) (bool, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Check(owner, asset, required)
}

// Sequence returns the next sequence number to be assigned.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// === Internals ===

func (e *Engine) checkDuplicate(op string, opID uuid.UUID) bool {
	// During log replay the event log is the authority — every logged
	// operation happened exactly once and must be re-applied even though
	// the DB dedup tier already knows its key.
	if e.replay {
		return false
	}
	if !e.idempotency.IsDuplicate(op, opID.String()) {
		return false
	}
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, "duplicate").Inc()
	}
	return true
}

func (e *Engine) reject(op string, err error) {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, rejectReason(err)).Inc()
	}
}

// commit finalizes a successfully applied operation: assembles the audit
// batch, extends the hash chain, and emits outputs. The operation already
// mutated ledger/registry state; a malformed batch at this point means the
// movement bookkeeping itself is broken, which is fatal.
func (e *Engine) commit(op string, evt event.Event, movements []ledger.Movement, l *listing.Listing, start time.Time) {
	now := e.clock()

	var batch *ledger.Batch
	if len(movements) > 0 {
		batch = ledger.NewBatch(evt.IdempotencyKey(), e.sequence, now.UnixMicro(), movements)
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed movement batch: %v", err))
		}
	}

	digest := e.computeStateDigest(batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, digest)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal event payload: %v", err))
	}

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Seller:         evt.SellerID(),
		Timestamp:      now,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := Output{Envelope: envelope, Batch: batch, Listing: l, Payload: evt}

	// Persistence: blocking send — the core stalls until the persistence
	// worker drains. This guarantees no operation is lost from the log.
	if e.persistChan != nil {
		e.persistChan <- output
	}

	// Projections and outbound publishing: non-blocking, drop on full.
	// Both can rebuild or re-read from the event log.
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	e.sequence++
	e.idempotency.MarkProcessed(op, evt.IdempotencyKey())

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		if batch != nil {
			for _, m := range batch.Movements {
				e.metrics.Movements.WithLabelValues(m.Type.String()).Inc()
			}
		}
	}
}

// computeStateDigest creates canonical bytes over the balances the batch
// touched. External boundary accounts carry no stored balance and are
// excluded.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, m := range batch.Movements {
			if m.From.Scope == ledger.AccountScopeOwner {
				affected[m.From] = true
			}
			if m.To.Scope == ledger.AccountScopeOwner {
				affected[m.To] = true
			}
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		bal := e.ledger.BalanceOf(key.OwnerID, key.Asset)
		var value uint64
		if key.SubType == ledger.SubTypeOpen {
			value = bal.Open
		} else {
			value = bal.Locked
		}

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendUint64LE(digest, value)
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// rejectReason buckets an error for the rejection metric.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientOpen):
		return "insufficient_open"
	case errors.Is(err, ledger.ErrInsufficientLocked):
		return "insufficient_locked"
	case errors.Is(err, ledger.ErrValueMismatch):
		return "value_mismatch"
	case errors.Is(err, ledger.ErrInsufficientValueSent):
		return "insufficient_value"
	case errors.Is(err, ledger.ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ledger.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ledger.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ledger.ErrInvalidListing):
		return "invalid_listing"
	default:
		return "other"
	}
}
