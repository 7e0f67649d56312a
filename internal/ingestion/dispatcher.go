package ingestion

import (
	"context"
	"errors"
	"log"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ledger"
)

// Dispatcher drains the command channel, converts raw commands into typed
// ones, enforces per-source ordering, and applies them to the core. ACK /
// NAK policy: a command that reached a terminal outcome — applied, rejected
// by a domain rule, duplicate, or unparseable — is ACK'd; only transient
// failures (transfer rail down, unexpected errors) are NAK'd for
// redelivery.
type Dispatcher struct {
	engine    *core.Engine
	sequences *SequenceValidator
	subjects  []SubjectConfig
}

func NewDispatcher(engine *core.Engine, subjects []SubjectConfig) *Dispatcher {
	return &Dispatcher{
		engine:    engine,
		sequences: NewSequenceValidator(),
		subjects:  subjects,
	}
}

// Run processes commands until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context, commandChan <-chan RawCommand) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-commandChan:
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) {
	opType, ok := OpTypeForSubject(raw.Subject, d.subjects)
	if !ok {
		log.Printf("WARN: command on unmapped subject %s, dropping", raw.Subject)
		raw.AckFunc()
		return
	}

	cmd, err := ParseRawCommand(raw, opType)
	if err != nil {
		// Redelivery cannot fix a malformed payload.
		log.Printf("WARN: unparseable %s command: %v", opType, err)
		raw.AckFunc()
		return
	}

	if meta := cmd.Meta(); meta.Source != "" {
		if err := d.sequences.ValidateSequence(meta.Source, meta.SourceSequence, false); err != nil {
			switch {
			case errors.Is(err, ErrStaleCommand):
				// Redelivery of something already consumed, or a
				// producer reusing counters. Either way, drop.
				log.Printf("WARN: dropping %s command: %v", opType, err)
				raw.AckFunc()
			default:
				log.Printf("WARN: deferring %s command: %v", opType, err)
				raw.NakFunc()
			}
			return
		}
	}

	err = d.apply(ctx, cmd)
	switch {
	case err == nil, errors.Is(err, core.ErrDuplicateOperation):
		raw.AckFunc()
	case terminalRejection(err):
		log.Printf("WARN: %s rejected: %v", opType, err)
		raw.AckFunc()
	default:
		log.Printf("ERROR: %s failed, will redeliver: %v", opType, err)
		raw.NakFunc()
	}
}

func (d *Dispatcher) apply(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case *DepositCommand:
		return d.engine.Deposit(ctx, c.ID, c.Owner, c.Asset, c.Amount, c.Attached)
	case *WithdrawCommand:
		return d.engine.Withdraw(ctx, c.ID, c.Owner, c.Asset, c.Amount)
	case *ListCommand:
		_, err := d.engine.List(ctx, c.ID, c.Seller, c.ItemRef, c.Price, c.Asset, c.Attached)
		return err
	case *UpdatePriceCommand:
		_, err := d.engine.UpdatePrice(ctx, c.ID, c.Seller, c.Index, c.NewPrice, c.Attached)
		return err
	case *CancelCommand:
		_, err := d.engine.Cancel(c.ID, c.Seller, c.Index)
		return err
	case *BuyCommand:
		_, err := d.engine.Buy(ctx, c.ID, c.Buyer, c.Seller, c.Index, c.Attached)
		return err
	case *CancelBuyCommand:
		_, err := d.engine.CancelBuy(c.ID, c.Buyer, c.Seller, c.Index)
		return err
	case *MarkSentCommand:
		_, err := d.engine.MarkSent(c.ID, c.Seller, c.Index)
		return err
	case *MarkReceivedCommand:
		_, err := d.engine.MarkReceived(c.ID, c.Buyer, c.Seller, c.Index)
		return err
	default:
		return errors.New("unhandled command type")
	}
}

// terminalRejection reports whether the error is a domain rule the command
// will hit again on every redelivery.
func terminalRejection(err error) bool {
	return errors.Is(err, ledger.ErrInsufficientOpen) ||
		errors.Is(err, ledger.ErrInsufficientLocked) ||
		errors.Is(err, ledger.ErrValueMismatch) ||
		errors.Is(err, ledger.ErrInsufficientValueSent) ||
		errors.Is(err, ledger.ErrInvalidState) ||
		errors.Is(err, ledger.ErrNotAuthorized) ||
		errors.Is(err, ledger.ErrInvalidListing)
}
