package ingestion_test

import (
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawCommand {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawCommand{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseDeposit(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":           "550e8400-e29b-41d4-a716-446655440000",
		"owner":           "660e8400-e29b-41d4-a716-446655440001",
		"asset":           "native",
		"amount":          uint64(1_000),
		"attached_value":  uint64(1_000),
		"source":          "gateway-1",
		"source_sequence": int64(42),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Deposit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	dep, ok := cmd.(*ingestion.DepositCommand)
	if !ok {
		t.Fatalf("expected *ingestion.DepositCommand, got %T", cmd)
	}

	if dep.Asset != ledger.Native() {
		t.Errorf("asset: got %v, want native", dep.Asset)
	}
	if dep.Amount != 1_000 || dep.Attached != 1_000 {
		t.Errorf("amounts: got %d/%d, want 1000/1000", dep.Amount, dep.Attached)
	}
	if dep.OpID().String() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("op_id: got %s", dep.OpID())
	}
	meta := dep.Meta()
	if meta.Source != "gateway-1" || meta.SourceSequence != 42 {
		t.Errorf("meta: got %+v, want gateway-1/42", meta)
	}
}

func TestParseList(t *testing.T) {
	ref := listing.ItemRefOf([]byte("rare vinyl"))
	payload := map[string]interface{}{
		"op_id":          "550e8400-e29b-41d4-a716-446655440000",
		"seller":         "660e8400-e29b-41d4-a716-446655440001",
		"item_ref":       hex.EncodeToString(ref[:]),
		"price":          uint64(500),
		"asset":          "token:gold",
		"attached_value": uint64(0),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "List")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	lst, ok := cmd.(*ingestion.ListCommand)
	if !ok {
		t.Fatalf("expected *ingestion.ListCommand, got %T", cmd)
	}
	if lst.ItemRef != ref {
		t.Error("item_ref did not round-trip")
	}
	if lst.Asset != ledger.Token("gold") {
		t.Errorf("asset: got %v, want token:gold", lst.Asset)
	}
	if lst.Price != 500 {
		t.Errorf("price: got %d, want 500", lst.Price)
	}
}

func TestParseBuy(t *testing.T) {
	payload := map[string]interface{}{
		"op_id":          "550e8400-e29b-41d4-a716-446655440000",
		"buyer":          "660e8400-e29b-41d4-a716-446655440001",
		"seller":         "770e8400-e29b-41d4-a716-446655440002",
		"index":          uint64(3),
		"attached_value": uint64(200),
	}

	raw := rawFromJSON(t, payload)
	cmd, err := ingestion.ParseRawCommand(raw, "Buy")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	buy, ok := cmd.(*ingestion.BuyCommand)
	if !ok {
		t.Fatalf("expected *ingestion.BuyCommand, got %T", cmd)
	}
	if buy.Index != 3 || buy.Attached != 200 {
		t.Errorf("got index=%d attached=%d, want 3/200", buy.Index, buy.Attached)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		opType  string
		payload map[string]interface{}
	}{
		{
			name:   "bad op_id",
			opType: "Deposit",
			payload: map[string]interface{}{
				"op_id": "not-a-uuid",
				"owner": "660e8400-e29b-41d4-a716-446655440001",
				"asset": "native",
			},
		},
		{
			name:   "bad asset",
			opType: "Deposit",
			payload: map[string]interface{}{
				"op_id": "550e8400-e29b-41d4-a716-446655440000",
				"owner": "660e8400-e29b-41d4-a716-446655440001",
				"asset": "doge",
			},
		},
		{
			name:   "short item_ref",
			opType: "List",
			payload: map[string]interface{}{
				"op_id":    "550e8400-e29b-41d4-a716-446655440000",
				"seller":   "660e8400-e29b-41d4-a716-446655440001",
				"item_ref": "abcd",
				"price":    uint64(100),
				"asset":    "native",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, tc.payload)
			if _, err := ingestion.ParseRawCommand(raw, tc.opType); err == nil {
				t.Errorf("%s should fail to parse", tc.name)
			}
		})
	}
}

func TestParse_UnknownOpType(t *testing.T) {
	raw := rawFromJSON(t, map[string]interface{}{})
	if _, err := ingestion.ParseRawCommand(raw, "MarginCall"); err == nil {
		t.Error("unknown op type should fail")
	}
}

func TestOpTypeForSubject(t *testing.T) {
	subjects := ingestion.DefaultSubjects()

	opType, ok := ingestion.OpTypeForSubject("escrow.ops.buy", subjects)
	if !ok || opType != "Buy" {
		t.Errorf("got (%q, %v), want (Buy, true)", opType, ok)
	}
	if _, ok := ingestion.OpTypeForSubject("escrow.ops.nope", subjects); ok {
		t.Error("unmapped subject should not resolve")
	}
}

// ============================================================================
// Test: SequenceValidator
// ============================================================================

func TestSequenceValidator_InOrder(t *testing.T) {
	sv := ingestion.NewSequenceValidator()

	for seq := int64(0); seq < 3; seq++ {
		if err := sv.ValidateSequence("gateway-1", seq, false); err != nil {
			t.Fatalf("sequence %d: %v", seq, err)
		}
	}
	if got := sv.GetExpectedSequence("gateway-1"); got != 3 {
		t.Errorf("expected next = %d, want 3", got)
	}
}

func TestSequenceValidator_StaleAndGap(t *testing.T) {
	sv := ingestion.NewSequenceValidator()
	sv.ValidateSequence("gateway-1", 0, false)
	sv.ValidateSequence("gateway-1", 1, false)

	if err := sv.ValidateSequence("gateway-1", 0, false); err == nil {
		t.Error("replayed old sequence should fail")
	}
	if err := sv.ValidateSequence("gateway-1", 0, true); err != nil {
		t.Errorf("known duplicate should pass: %v", err)
	}
	if err := sv.ValidateSequence("gateway-1", 5, false); err == nil {
		t.Error("gapped sequence should fail")
	}
	// The gap did not consume sequence 2.
	if err := sv.ValidateSequence("gateway-1", 2, false); err != nil {
		t.Errorf("sequence 2 after gap: %v", err)
	}
}

func TestSequenceValidator_PartitionsIndependent(t *testing.T) {
	sv := ingestion.NewSequenceValidator()
	sv.ValidateSequence("gateway-1", 0, false)

	if err := sv.ValidateSequence("gateway-2", 0, false); err != nil {
		t.Errorf("fresh partition should start at 0: %v", err)
	}
}
