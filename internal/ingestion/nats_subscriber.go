package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber consumes operation commands from NATS JetStream and feeds
// them into the dispatcher via commandChan. NATS is the machine-to-machine
// intake; interactive callers use the HTTP API. Each operation type has its
// own subject so consumers can scale and be paused independently.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the parsed-but-untyped command from NATS, ready for the
// dispatcher to validate and convert into a typed Command before applying
// it to the core.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the command reached a terminal outcome
	NakFunc   func() // NAK on transient failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to operation types.
type SubjectConfig struct {
	Subject      string
	OpType       string
	ConsumerName string
}

const commandStream = "ESCROW_OPS"

// DefaultSubjects returns the standard subject configuration. One subject
// per operation, all on the ESCROW_OPS stream.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "escrow.ops.deposit", OpType: "Deposit", ConsumerName: "escrow-deposit"},
		{Subject: "escrow.ops.withdraw", OpType: "Withdraw", ConsumerName: "escrow-withdraw"},
		{Subject: "escrow.ops.list", OpType: "List", ConsumerName: "escrow-list"},
		{Subject: "escrow.ops.update_price", OpType: "UpdatePrice", ConsumerName: "escrow-update-price"},
		{Subject: "escrow.ops.cancel", OpType: "Cancel", ConsumerName: "escrow-cancel"},
		{Subject: "escrow.ops.buy", OpType: "Buy", ConsumerName: "escrow-buy"},
		{Subject: "escrow.ops.cancel_buy", OpType: "CancelBuy", ConsumerName: "escrow-cancel-buy"},
		{Subject: "escrow.ops.sent", OpType: "MarkSent", ConsumerName: "escrow-sent"},
		{Subject: "escrow.ops.received", OpType: "MarkReceived", ConsumerName: "escrow-received"},
	}
}

// OpTypeForSubject resolves the operation type a subject carries.
func OpTypeForSubject(subject string, subjects []SubjectConfig) (string, bool) {
	for _, cfg := range subjects {
		if cfg.Subject == subject {
			return cfg.OpType, true
		}
	}
	return "", false
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, commandStream, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureCommandStream creates the ESCROW_OPS stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureCommandStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      commandStream,
		Subjects:  []string{"escrow.ops.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", commandStream, err)
	}
	log.Printf("INFO: ensured command stream %s", commandStream)
	return nil
}

// Drain stops all consumers. In-flight messages are NAK'd by ack_wait.
func (ns *NATSSubscriber) Drain() {
	for _, c := range ns.consumers {
		c.Stop()
	}
}
