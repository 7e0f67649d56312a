package main

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/event"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"
)

// ============================================================================
// Test: snapshot conversion round trip
// ============================================================================

func TestSnapshotConversionRoundTrip(t *testing.T) {
	seller := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	buyer := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	itemRef := listing.ItemRefOf([]byte("brass telescope"))

	var stateHash [32]byte
	stateHash[0] = 0xab

	src := &core.SnapshotState{
		Sequence:  7,
		StateHash: stateHash,
		Balances: map[ledger.BalanceKey]ledger.Balance{
			{Owner: seller, Asset: ledger.Native()}: {Open: 40, Locked: 100},
			{Owner: buyer, Asset: ledger.Native()}:  {Open: 0, Locked: 200},
		},
		Listings: []listing.Listing{
			{
				Seller:  seller,
				Index:   0,
				ItemRef: itemRef,
				Price:   100,
				Asset:   ledger.Native(),
				Buyer:   &buyer,
				State:   listing.StateBuyCommitted,
			},
			{
				Seller: seller,
				Index:  1,
				// Price beyond int32 range must survive untouched.
				ItemRef: itemRef,
				Price:   1 << 40,
				Asset:   ledger.Token("gold"),
				State:   listing.StateListed,
			},
		},
		IdempotencyKeys: []string{uuid.New().String()},
	}

	got := toEngineSnapshot(fromEngineSnapshot(src))

	if got.Sequence != src.Sequence {
		t.Errorf("sequence = %d, want %d", got.Sequence, src.Sequence)
	}
	if got.StateHash != src.StateHash {
		t.Errorf("state hash = %x, want %x", got.StateHash, src.StateHash)
	}
	if len(got.Balances) != 2 {
		t.Fatalf("got %d balances, want 2", len(got.Balances))
	}
	for key, want := range src.Balances {
		if bal, ok := got.Balances[key]; !ok || bal != want {
			t.Errorf("balance[%s %s] = %+v, want %+v", key.Owner, key.Asset, bal, want)
		}
	}

	if len(got.Listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(got.Listings))
	}
	byIndex := make(map[uint64]listing.Listing, len(got.Listings))
	for _, l := range got.Listings {
		byIndex[l.Index] = l
	}

	committed := byIndex[0]
	if committed.Seller != seller || committed.Price != 100 || committed.ItemRef != itemRef {
		t.Errorf("slot 0 = %+v, want seller %s price 100", committed, seller)
	}
	if committed.State != listing.StateBuyCommitted {
		t.Errorf("slot 0 state = %s, want %s", committed.State, listing.StateBuyCommitted)
	}
	if committed.Buyer == nil || *committed.Buyer != buyer {
		t.Errorf("slot 0 buyer = %v, want %s", committed.Buyer, buyer)
	}

	open := byIndex[1]
	if open.Price != 1<<40 {
		t.Errorf("slot 1 price = %d, want %d", open.Price, uint64(1)<<40)
	}
	if open.Asset.String() != "token:gold" {
		t.Errorf("slot 1 asset = %s, want token:gold", open.Asset)
	}
	if open.Buyer != nil {
		t.Errorf("slot 1 buyer = %v, want nil", open.Buyer)
	}
}

// ============================================================================
// Test: projection bridging
// ============================================================================

func TestToProjectionOutputCarriesListing(t *testing.T) {
	seller := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	buyer := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	itemRef := listing.ItemRefOf([]byte("brass telescope"))
	sellerStr := seller.String()

	slot := listing.Listing{
		Seller:  seller,
		Index:   3,
		ItemRef: itemRef,
		Price:   150,
		Asset:   ledger.Native(),
		Buyer:   &buyer,
		State:   listing.StateBuyCommitted,
	}
	output := core.Output{
		Envelope: &event.Envelope{
			Sequence:  9,
			EventType: event.EventTypeBuyCommitted,
			Seller:    &sellerStr,
			Timestamp: time.Unix(1700000000, 0).UTC(),
		},
		Listing: &slot,
	}

	p := toProjectionOutput(output)

	if p.Sequence != 9 || p.EventType != "BuyCommitted" {
		t.Errorf("projection output = seq %d type %q, want seq 9 type BuyCommitted", p.Sequence, p.EventType)
	}
	if p.Listing == nil {
		t.Fatal("projection output carries no listing update")
	}
	if p.Listing.Seller != sellerStr || p.Listing.Index != 3 || p.Listing.Price != 150 {
		t.Errorf("listing update = %+v, want seller %s index 3 price 150", p.Listing, sellerStr)
	}
	if p.Listing.Buyer == nil || *p.Listing.Buyer != buyer.String() {
		t.Errorf("listing update buyer = %v, want %s", p.Listing.Buyer, buyer)
	}
	if p.Listing.State != int32(listing.StateBuyCommitted) {
		t.Errorf("listing update state = %d, want %d", p.Listing.State, int32(listing.StateBuyCommitted))
	}
}

func TestToProjectionOutputCollateralOpHasNoListing(t *testing.T) {
	output := core.Output{
		Envelope: &event.Envelope{
			Sequence:  0,
			EventType: event.EventTypeCollateralDeposited,
			Timestamp: time.Unix(1700000000, 0).UTC(),
		},
	}

	p := toProjectionOutput(output)
	if p.Listing != nil {
		t.Errorf("listing update = %+v, want nil", p.Listing)
	}
}
