package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables.
// Queries are served over gRPC-Gateway HTTP/JSON, reading from
// PostgreSQL projections. All responses carry as_of_sequence so callers
// can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an owner's open and locked collateral for an asset.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	owner uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	openPath := fmt.Sprintf("owner:%s:open:%s", owner, asset)
	open, err := qs.getProjectedBalance(ctx, openPath, asset)
	if err != nil {
		return nil, err
	}

	lockedPath := fmt.Sprintf("owner:%s:locked:%s", owner, asset)
	locked, err := qs.getProjectedBalance(ctx, lockedPath, asset)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Owner:         owner,
		Asset:         asset,
		OpenBalance:   open,
		LockedBalance: locked,
		TotalBalance:  open + locked,
		AsOfSequence:  asOfSeq,
	}, nil
}

// GetListing returns one listing slot by seller and index.
func (qs *QueryService) GetListing(
	ctx context.Context,
	seller uuid.UUID,
	index int64,
) (*ListingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var l ListingResponse
	l.Seller = seller
	l.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT item_index, item_ref, price, asset, buyer, state
		FROM projections.listings
		WHERE seller = $1 AND item_index = $2
	`, seller, index).Scan(&l.Index, &l.ItemRef, &l.Price, &l.Asset, &l.Buyer, &l.State)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetListings returns all listing slots for a seller in index order.
func (qs *QueryService) GetListings(
	ctx context.Context,
	seller uuid.UUID,
) ([]ListingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT item_index, item_ref, price, asset, buyer, state
		FROM projections.listings
		WHERE seller = $1
		ORDER BY item_index
	`, seller)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []ListingResponse
	for rows.Next() {
		var l ListingResponse
		l.Seller = seller
		l.AsOfSequence = asOfSeq
		if err := rows.Scan(&l.Index, &l.ItemRef, &l.Price, &l.Asset, &l.Buyer, &l.State); err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// GetJournalHistory returns journal movements touching an owner's
// accounts, newest first, with cursor-based pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("owner:%s:%%", owner)

	query := `
		SELECT movement_id, batch_id, op_ref, sequence,
		       from_account, to_account, asset, amount, movement_type, timestamp
		FROM escrow_log.journal
		WHERE from_account LIKE $1 OR to_account LIKE $1
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.MovementID, &e.BatchID, &e.OpRef, &e.Sequence,
			&e.FromAccount, &e.ToAccount, &e.Asset, &e.Amount,
			&e.MovementType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the zero-sum balance
// invariant across all accounts per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e1.prev_hash, e2.state_hash
		FROM escrow_log.events e1
		LEFT JOIN escrow_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND e1.prev_hash != COALESCE(e2.state_hash, e1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var prevHash, expectedHash []byte
		if err := rows.Scan(&seq, &prevHash, &expectedHash); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) as total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset string
		var total int64
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: total,
		})
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string, asset string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1 AND asset = $2
	`, accountPath, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}
