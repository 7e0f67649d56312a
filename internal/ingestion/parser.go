package ingestion

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"

	"github.com/google/uuid"
)

// Command is a validated operation ready for the core.
type Command interface {
	// OpID returns the caller-chosen idempotency key.
	OpID() uuid.UUID

	// Meta returns source-ordering context.
	Meta() CommandMeta
}

// CommandMeta carries the producer's ordering context. Source identifies
// the producing partition; SourceSequence is its per-partition counter.
// Both are optional — commands without a source skip ordering checks.
type CommandMeta struct {
	Source         string
	SourceSequence int64
}

type DepositCommand struct {
	ID       uuid.UUID
	Owner    uuid.UUID
	Asset    ledger.Asset
	Amount   uint64
	Attached uint64
	meta     CommandMeta
}

type WithdrawCommand struct {
	ID     uuid.UUID
	Owner  uuid.UUID
	Asset  ledger.Asset
	Amount uint64
	meta   CommandMeta
}

type ListCommand struct {
	ID       uuid.UUID
	Seller   uuid.UUID
	ItemRef  listing.ItemRef
	Price    uint64
	Asset    ledger.Asset
	Attached uint64
	meta     CommandMeta
}

type UpdatePriceCommand struct {
	ID       uuid.UUID
	Seller   uuid.UUID
	Index    uint64
	NewPrice uint64
	Attached uint64
	meta     CommandMeta
}

type CancelCommand struct {
	ID     uuid.UUID
	Seller uuid.UUID
	Index  uint64
	meta   CommandMeta
}

type BuyCommand struct {
	ID       uuid.UUID
	Buyer    uuid.UUID
	Seller   uuid.UUID
	Index    uint64
	Attached uint64
	meta     CommandMeta
}

type CancelBuyCommand struct {
	ID     uuid.UUID
	Buyer  uuid.UUID
	Seller uuid.UUID
	Index  uint64
	meta   CommandMeta
}

type MarkSentCommand struct {
	ID     uuid.UUID
	Seller uuid.UUID
	Index  uint64
	meta   CommandMeta
}

type MarkReceivedCommand struct {
	ID     uuid.UUID
	Buyer  uuid.UUID
	Seller uuid.UUID
	Index  uint64
	meta   CommandMeta
}

func (c *DepositCommand) OpID() uuid.UUID        { return c.ID }
func (c *DepositCommand) Meta() CommandMeta      { return c.meta }
func (c *WithdrawCommand) OpID() uuid.UUID       { return c.ID }
func (c *WithdrawCommand) Meta() CommandMeta     { return c.meta }
func (c *ListCommand) OpID() uuid.UUID           { return c.ID }
func (c *ListCommand) Meta() CommandMeta         { return c.meta }
func (c *UpdatePriceCommand) OpID() uuid.UUID    { return c.ID }
func (c *UpdatePriceCommand) Meta() CommandMeta  { return c.meta }
func (c *CancelCommand) OpID() uuid.UUID         { return c.ID }
func (c *CancelCommand) Meta() CommandMeta       { return c.meta }
func (c *BuyCommand) OpID() uuid.UUID            { return c.ID }
func (c *BuyCommand) Meta() CommandMeta          { return c.meta }
func (c *CancelBuyCommand) OpID() uuid.UUID      { return c.ID }
func (c *CancelBuyCommand) Meta() CommandMeta    { return c.meta }
func (c *MarkSentCommand) OpID() uuid.UUID       { return c.ID }
func (c *MarkSentCommand) Meta() CommandMeta     { return c.meta }
func (c *MarkReceivedCommand) OpID() uuid.UUID   { return c.ID }
func (c *MarkReceivedCommand) Meta() CommandMeta { return c.meta }

// ParseRawCommand converts a RawCommand (JSON bytes + operation type) into
// a typed Command. The shell validates and converts before anything reaches
// the core; a parse failure is terminal for the message.
func ParseRawCommand(raw RawCommand, opType string) (Command, error) {
	switch opType {
	case "Deposit":
		return parseDeposit(raw.Data)
	case "Withdraw":
		return parseWithdraw(raw.Data)
	case "List":
		return parseList(raw.Data)
	case "UpdatePrice":
		return parseUpdatePrice(raw.Data)
	case "Cancel":
		return parseCancel(raw.Data)
	case "Buy":
		return parseBuy(raw.Data)
	case "CancelBuy":
		return parseCancelBuy(raw.Data)
	case "MarkSent":
		return parseMarkSent(raw.Data)
	case "MarkReceived":
		return parseMarkReceived(raw.Data)
	default:
		return nil, fmt.Errorf("unknown operation type: %s", opType)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type commandEnvelopeJSON struct {
	OpID           string `json:"op_id"`
	Source         string `json:"source"`
	SourceSequence int64  `json:"source_sequence"`
}

func (j commandEnvelopeJSON) parse() (uuid.UUID, CommandMeta, error) {
	opID, err := uuid.Parse(j.OpID)
	if err != nil {
		return uuid.Nil, CommandMeta{}, fmt.Errorf("parse op_id: %w", err)
	}
	return opID, CommandMeta{Source: j.Source, SourceSequence: j.SourceSequence}, nil
}

type depositJSON struct {
	commandEnvelopeJSON
	Owner    string `json:"owner"`
	Asset    string `json:"asset"`
	Amount   uint64 `json:"amount"`
	Attached uint64 `json:"attached_value"`
}

func parseDeposit(data []byte) (*DepositCommand, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Deposit: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	asset, err := ledger.ParseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	return &DepositCommand{ID: opID, Owner: owner, Asset: asset, Amount: j.Amount, Attached: j.Attached, meta: meta}, nil
}

type withdrawJSON struct {
	commandEnvelopeJSON
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func parseWithdraw(data []byte) (*WithdrawCommand, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Withdraw: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	asset, err := ledger.ParseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	return &WithdrawCommand{ID: opID, Owner: owner, Asset: asset, Amount: j.Amount, meta: meta}, nil
}

type listJSON struct {
	commandEnvelopeJSON
	Seller   string `json:"seller"`
	ItemRef  string `json:"item_ref"` // hex, 32 bytes
	Price    uint64 `json:"price"`
	Asset    string `json:"asset"`
	Attached uint64 `json:"attached_value"`
}

func parseList(data []byte) (*ListCommand, error) {
	var j listJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse List: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	asset, err := ledger.ParseAsset(j.Asset)
	if err != nil {
		return nil, err
	}
	ref, err := parseItemRef(j.ItemRef)
	if err != nil {
		return nil, err
	}
	return &ListCommand{ID: opID, Seller: seller, ItemRef: ref, Price: j.Price, Asset: asset, Attached: j.Attached, meta: meta}, nil
}

type updatePriceJSON struct {
	commandEnvelopeJSON
	Seller   string `json:"seller"`
	Index    uint64 `json:"index"`
	NewPrice uint64 `json:"new_price"`
	Attached uint64 `json:"attached_value"`
}

func parseUpdatePrice(data []byte) (*UpdatePriceCommand, error) {
	var j updatePriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse UpdatePrice: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &UpdatePriceCommand{ID: opID, Seller: seller, Index: j.Index, NewPrice: j.NewPrice, Attached: j.Attached, meta: meta}, nil
}

type sellerIndexJSON struct {
	commandEnvelopeJSON
	Seller string `json:"seller"`
	Index  uint64 `json:"index"`
}

func parseCancel(data []byte) (*CancelCommand, error) {
	var j sellerIndexJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Cancel: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &CancelCommand{ID: opID, Seller: seller, Index: j.Index, meta: meta}, nil
}

func parseMarkSent(data []byte) (*MarkSentCommand, error) {
	var j sellerIndexJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkSent: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &MarkSentCommand{ID: opID, Seller: seller, Index: j.Index, meta: meta}, nil
}

type buyJSON struct {
	commandEnvelopeJSON
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Index    uint64 `json:"index"`
	Attached uint64 `json:"attached_value"`
}

func parseBuy(data []byte) (*BuyCommand, error) {
	var j buyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse Buy: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	buyer, err := uuid.Parse(j.Buyer)
	if err != nil {
		return nil, fmt.Errorf("parse buyer: %w", err)
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &BuyCommand{ID: opID, Buyer: buyer, Seller: seller, Index: j.Index, Attached: j.Attached, meta: meta}, nil
}

type buyerSellerIndexJSON struct {
	commandEnvelopeJSON
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
	Index  uint64 `json:"index"`
}

func parseCancelBuy(data []byte) (*CancelBuyCommand, error) {
	var j buyerSellerIndexJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse CancelBuy: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	buyer, err := uuid.Parse(j.Buyer)
	if err != nil {
		return nil, fmt.Errorf("parse buyer: %w", err)
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &CancelBuyCommand{ID: opID, Buyer: buyer, Seller: seller, Index: j.Index, meta: meta}, nil
}

func parseMarkReceived(data []byte) (*MarkReceivedCommand, error) {
	var j buyerSellerIndexJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse MarkReceived: %w", err)
	}
	opID, meta, err := j.parse()
	if err != nil {
		return nil, err
	}
	buyer, err := uuid.Parse(j.Buyer)
	if err != nil {
		return nil, fmt.Errorf("parse buyer: %w", err)
	}
	seller, err := uuid.Parse(j.Seller)
	if err != nil {
		return nil, fmt.Errorf("parse seller: %w", err)
	}
	return &MarkReceivedCommand{ID: opID, Buyer: buyer, Seller: seller, Index: j.Index, meta: meta}, nil
}

func parseItemRef(s string) (listing.ItemRef, error) {
	var ref listing.ItemRef
	b, err := hex.DecodeString(s)
	if err != nil {
		return ref, fmt.Errorf("parse item_ref: %w", err)
	}
	if len(b) != len(ref) {
		return ref, fmt.Errorf("item_ref must be %d bytes, got %d", len(ref), len(b))
	}
	copy(ref[:], b)
	return ref, nil
}
