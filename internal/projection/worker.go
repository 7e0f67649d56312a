package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"EscrowLedger/internal/listing"
)

// ProjectionOutput mirrors the data projection workers need.
// The orchestrator bridges between core.Output and this.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Seller    *string
	Movements []MovementEntry
	Listing   *ListingUpdate
	Timestamp int64
}

// MovementEntry is a simplified journal movement for projection consumption.
type MovementEntry struct {
	FromAccount  string
	ToAccount    string
	Asset        string
	Amount       int64
	MovementType int32
}

// ListingUpdate carries the post-operation listing row for upsert.
type ListingUpdate struct {
	Seller  string
	Index   int64
	ItemRef []byte
	Price   int64
	Asset   string
	Buyer   *string
	State   int32
}

// ListingUpdateFrom converts a registry slot into its projection row.
func ListingUpdateFrom(l listing.Listing) *ListingUpdate {
	u := &ListingUpdate{
		Seller:  l.Seller.String(),
		Index:   int64(l.Index),
		ItemRef: append([]byte(nil), l.ItemRef[:]...),
		Price:   int64(l.Price),
		Asset:   l.Asset.String(),
		State:   int32(l.State),
	}
	if l.Buyer != nil {
		b := l.Buyer.String()
		u.Buyer = &b
	}
	return u
}

// ProjectionWorker updates read-side tables from committed operations.
// The projection channel is non-blocking with drop: if projections fall
// behind they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range output.Movements {
		if err := pw.updateBalanceProjection(ctx, tx, m, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Listing != nil {
		if err := pw.upsertListing(ctx, tx, output.Listing, output.Sequence); err != nil {
			return fmt.Errorf("listing projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, m MovementEntry, seq int64) error {
	// From account: decrease balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, m.FromAccount, m.Asset, m.Amount, seq); err != nil {
		return err
	}

	// To account: increase balance
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, m.ToAccount, m.Asset, m.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) upsertListing(ctx context.Context, tx *sql.Tx, l *ListingUpdate, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.listings
			(seller, item_index, item_ref, price, asset, buyer, state, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (seller, item_index)
		DO UPDATE SET item_ref = $3, price = $4, asset = $5, buyer = $6,
		              state = $7, last_sequence = $8, updated_at = NOW()
	`, l.Seller, l.Index, l.ItemRef, l.Price, l.Asset, l.Buyer, l.State, seq)
	return err
}

// RebuildProjections rebuilds the balance projection from the journal and
// the listings projection from the engine's current slots, which are the
// authoritative state after replay.
func RebuildProjections(ctx context.Context, db *sql.DB, listings []listing.Listing) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.listings`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			to_account AS account_path,
			asset,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM escrow_log.journal
		GROUP BY to_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			from_account AS account_path,
			asset,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM escrow_log.journal
		GROUP BY from_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	var seq int64
	if err := db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM escrow_log.journal
	`).Scan(&seq); err != nil {
		return fmt.Errorf("journal watermark: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rebuild listings: %w", err)
	}
	defer tx.Rollback()

	pw := &ProjectionWorker{db: db}
	for _, l := range listings {
		if err := pw.upsertListing(ctx, tx, ListingUpdateFrom(l), seq); err != nil {
			return fmt.Errorf("rebuild listings: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rebuild listings: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
