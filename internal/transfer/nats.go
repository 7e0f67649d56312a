package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	subjectNativePush = "escrow.transfer.native.push"
	subjectTokenPull  = "escrow.transfer.token.pull"
	subjectTokenPush  = "escrow.transfer.token.push"
)

// NATSBridge talks to the external settlement service over NATS
// request-reply. It implements both ValueSink and TokenBackend, so one
// connection serves the native and token adapters.
type NATSBridge struct {
	nc      *nats.Conn
	timeout time.Duration
}

func NewNATSBridge(nc *nats.Conn, timeout time.Duration) *NATSBridge {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSBridge{nc: nc, timeout: timeout}
}

type transferInstruction struct {
	Contract string `json:"contract,omitempty"`
	Owner    string `json:"owner"`
	Amount   uint64 `json:"amount"`
}

type transferReply struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Send pushes native value to an owner-controlled destination.
func (b *NATSBridge) Send(ctx context.Context, to uuid.UUID, amount uint64) error {
	return b.request(ctx, subjectNativePush, transferInstruction{
		Owner:  to.String(),
		Amount: amount,
	})
}

// TransferFrom pulls token value from the owner using a pre-existing
// allowance on the settlement side.
func (b *NATSBridge) TransferFrom(ctx context.Context, contract string, from uuid.UUID, amount uint64) error {
	return b.request(ctx, subjectTokenPull, transferInstruction{
		Contract: contract,
		Owner:    from.String(),
		Amount:   amount,
	})
}

// Transfer pushes token value out of custody to the recipient.
func (b *NATSBridge) Transfer(ctx context.Context, contract string, to uuid.UUID, amount uint64) error {
	return b.request(ctx, subjectTokenPush, transferInstruction{
		Contract: contract,
		Owner:    to.String(),
		Amount:   amount,
	})
}

func (b *NATSBridge) request(ctx context.Context, subject string, instr transferInstruction) error {
	data, err := json.Marshal(instr)
	if err != nil {
		return fmt.Errorf("marshal instruction: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	msg, err := b.nc.RequestWithContext(reqCtx, subject, data)
	if err != nil {
		return fmt.Errorf("settlement request %s: %w", subject, err)
	}

	var reply transferReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("settlement reply %s: %w", subject, err)
	}
	if !reply.OK {
		return fmt.Errorf("settlement rejected %s: %s", subject, reply.Reason)
	}
	return nil
}
