package server

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"EscrowLedger/internal/core"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/projection"
	"EscrowLedger/internal/query"
)

// apiHandler serves the HTTP/JSON API for ledger operations, queries,
// and admin endpoints.
type apiHandler struct {
	engine  *core.Engine
	queries *query.QueryService
	db      *sql.DB
	snapMgr *persistence.SnapshotManager
}

func (h *apiHandler) routes() (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	type route struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}

	routes := []route{
		// Collateral operations
		{"POST", "/v1/collateral/deposit", h.handleDeposit},
		{"POST", "/v1/collateral/withdraw", h.handleWithdraw},

		// Listing operations
		{"POST", "/v1/listings", h.handleList},
		{"POST", "/v1/listings/{seller}/{index}/price", h.handleUpdatePrice},
		{"POST", "/v1/listings/{seller}/{index}/cancel", h.handleCancel},
		{"POST", "/v1/listings/{seller}/{index}/buy", h.handleBuy},
		{"POST", "/v1/listings/{seller}/{index}/cancel-buy", h.handleCancelBuy},
		{"POST", "/v1/listings/{seller}/{index}/sent", h.handleMarkSent},
		{"POST", "/v1/listings/{seller}/{index}/received", h.handleMarkReceived},

		// Queries (served from the in-memory core for strong reads)
		{"GET", "/v1/listings/{seller}", h.handleGetListings},
		{"GET", "/v1/listings/{seller}/{index}", h.handleGetListing},
		{"GET", "/v1/collateral/{owner}/{asset}", h.handleGetCollateral},

		// Queries (served from projections)
		{"GET", "/v1/balances/{owner}/{asset}", h.handleGetBalance},
		{"GET", "/v1/journal/{owner}", h.handleGetJournal},

		// Admin
		{"GET", "/v1/admin/integrity", h.handleVerifyIntegrity},
		{"GET", "/v1/admin/snapshot", h.handleSnapshotStatus},
		{"POST", "/v1/admin/projections/rebuild", h.handleRebuildProjections},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.path, err)
		}
	}
	return mux, nil
}

// ============================================================================
// Collateral operations
// ============================================================================

type depositRequest struct {
	OpID          string `json:"op_id"`
	Owner         string `json:"owner"`
	Asset         string `json:"asset"`
	Amount        uint64 `json:"amount"`
	AttachedValue uint64 `json:"attached_value"`
}

func (h *apiHandler) handleDeposit(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	opID, owner, err := parseOpOwner(req.OpID, req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.engine.Deposit(r.Context(), opID, owner, asset, req.Amount, req.AttachedValue); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"sequence": h.engine.Sequence(),
	})
}

type withdrawRequest struct {
	OpID   string `json:"op_id"`
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (h *apiHandler) handleWithdraw(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	opID, owner, err := parseOpOwner(req.OpID, req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.engine.Withdraw(r.Context(), opID, owner, asset, req.Amount); err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted": true,
		"sequence": h.engine.Sequence(),
	})
}

// ============================================================================
// Listing operations
// ============================================================================

type listRequest struct {
	OpID          string `json:"op_id"`
	Seller        string `json:"seller"`
	ItemRef       string `json:"item_ref"` // hex-encoded 32 bytes
	Price         uint64 `json:"price"`
	Asset         string `json:"asset"`
	AttachedValue uint64 `json:"attached_value"`
}

func (h *apiHandler) handleList(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req listRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	opID, seller, err := parseOpOwner(req.OpID, req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	asset, err := ledger.ParseAsset(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	itemRef, err := parseItemRef(req.ItemRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.engine.List(r.Context(), opID, seller, itemRef, req.Price, asset, req.AttachedValue)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

type updatePriceRequest struct {
	OpID          string `json:"op_id"`
	NewPrice      uint64 `json:"new_price"`
	AttachedValue uint64 `json:"attached_value"`
}

func (h *apiHandler) handleUpdatePrice(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req updatePriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	opID, err := uuid.Parse(req.OpID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid op_id: %w", err))
		return
	}

	item, err := h.engine.UpdatePrice(r.Context(), opID, seller, index, req.NewPrice, req.AttachedValue)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

type opOnlyRequest struct {
	OpID string `json:"op_id"`
}

func (h *apiHandler) handleCancel(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, opID, ok := h.sellerIndexOp(w, r, pathParams)
	if !ok {
		return
	}

	item, err := h.engine.Cancel(opID, seller, index)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

type buyRequest struct {
	OpID          string `json:"op_id"`
	Buyer         string `json:"buyer"`
	AttachedValue uint64 `json:"attached_value"`
}

func (h *apiHandler) handleBuy(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	opID, buyer, err := parseOpOwner(req.OpID, req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.engine.Buy(r.Context(), opID, buyer, seller, index, req.AttachedValue)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

type buyerOpRequest struct {
	OpID  string `json:"op_id"`
	Buyer string `json:"buyer"`
}

func (h *apiHandler) handleCancelBuy(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req buyerOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	opID, buyer, err := parseOpOwner(req.OpID, req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.engine.CancelBuy(opID, buyer, seller, index)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

func (h *apiHandler) handleMarkSent(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, opID, ok := h.sellerIndexOp(w, r, pathParams)
	if !ok {
		return
	}

	item, err := h.engine.MarkSent(opID, seller, index)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

func (h *apiHandler) handleMarkReceived(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var req buyerOpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	opID, buyer, err := parseOpOwner(req.OpID, req.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.engine.MarkReceived(opID, buyer, seller, index)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

// ============================================================================
// Queries
// ============================================================================

func (h *apiHandler) handleGetListings(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, err := uuid.Parse(pathParams["seller"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid seller: %w", err))
		return
	}

	items := h.engine.GetItems(seller)
	seq := h.engine.Sequence()
	views := make([]map[string]any, 0, len(items))
	for _, item := range items {
		views = append(views, listingView(item, seq))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings":       views,
		"as_of_sequence": seq,
	})
}

func (h *apiHandler) handleGetListing(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	item, err := h.engine.GetItem(seller, index)
	if err != nil {
		writeOpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(item, h.engine.Sequence()))
}

func (h *apiHandler) handleGetCollateral(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}
	asset, err := ledger.ParseAsset(pathParams["asset"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":          owner.String(),
		"asset":          asset.String(),
		"open":           h.engine.OpenCollateral(owner, asset),
		"locked":         h.engine.LockedCollateral(owner, asset),
		"as_of_sequence": h.engine.Sequence(),
	})
}

func (h *apiHandler) handleGetBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	bal, err := h.queries.GetBalance(r.Context(), owner, pathParams["asset"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (h *apiHandler) handleGetJournal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	owner, err := uuid.Parse(pathParams["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid owner: %w", err))
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var afterSeq *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = &n
		}
	}

	entries, err := h.queries.GetJournalHistory(r.Context(), owner, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": entries})
}

// ============================================================================
// Admin
// ============================================================================

func (h *apiHandler) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := h.queries.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *apiHandler) handleSnapshotStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	snap, err := h.snapMgr.LoadLatestSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"snapshot":         nil,
			"current_sequence": h.engine.Sequence(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": map[string]any{
			"sequence":   snap.Sequence,
			"state_hash": hex.EncodeToString(snap.StateHash),
			"created_at": snap.CreatedAt,
			"balances":   len(snap.Balances),
			"sellers":    len(snap.Listings),
		},
		"current_sequence": h.engine.Sequence(),
	})
}

func (h *apiHandler) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if err := projection.RebuildProjections(r.Context(), h.db, h.engine.CreateSnapshotState().Listings); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": true})
}

// ============================================================================
// Helpers
// ============================================================================

func (h *apiHandler) sellerIndexOp(w http.ResponseWriter, r *http.Request, pathParams map[string]string) (uuid.UUID, uint64, uuid.UUID, bool) {
	seller, index, err := parseSellerIndex(pathParams)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return uuid.Nil, 0, uuid.Nil, false
	}

	var req opOnlyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return uuid.Nil, 0, uuid.Nil, false
	}
	opID, err := uuid.Parse(req.OpID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid op_id: %w", err))
		return uuid.Nil, 0, uuid.Nil, false
	}
	return seller, index, opID, true
}

func parseOpOwner(opIDStr, ownerStr string) (uuid.UUID, uuid.UUID, error) {
	opID, err := uuid.Parse(opIDStr)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid op_id: %w", err)
	}
	owner, err := uuid.Parse(ownerStr)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("invalid owner id: %w", err)
	}
	return opID, owner, nil
}

func parseSellerIndex(pathParams map[string]string) (uuid.UUID, uint64, error) {
	seller, err := uuid.Parse(pathParams["seller"])
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid seller: %w", err)
	}
	index, err := strconv.ParseUint(pathParams["index"], 10, 64)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("invalid index: %w", err)
	}
	return seller, index, nil
}

func parseItemRef(s string) (listing.ItemRef, error) {
	var ref listing.ItemRef
	b, err := hex.DecodeString(s)
	if err != nil {
		return ref, fmt.Errorf("invalid item_ref: %w", err)
	}
	if len(b) != len(ref) {
		return ref, fmt.Errorf("invalid item_ref: want %d bytes, got %d", len(ref), len(b))
	}
	copy(ref[:], b)
	return ref, nil
}

func listingView(item listing.Listing, seq int64) map[string]any {
	view := map[string]any{
		"seller":         item.Seller.String(),
		"index":          item.Index,
		"item_ref":       hex.EncodeToString(item.ItemRef[:]),
		"price":          item.Price,
		"asset":          item.Asset.String(),
		"state":          item.State.String(),
		"as_of_sequence": seq,
	}
	if item.Buyer != nil {
		view["buyer"] = item.Buyer.String()
	}
	return view
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// writeOpError maps domain errors to HTTP status codes.
func writeOpError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case errors.Is(err, core.ErrDuplicateOperation):
		code = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidListing):
		code = http.StatusNotFound
	case errors.Is(err, ledger.ErrNotAuthorized):
		code = http.StatusForbidden
	case errors.Is(err, ledger.ErrInvalidState):
		code = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientOpen),
		errors.Is(err, ledger.ErrInsufficientLocked),
		errors.Is(err, ledger.ErrInsufficientValueSent),
		errors.Is(err, ledger.ErrValueMismatch):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrTransferFailed):
		code = http.StatusBadGateway
	default:
		code = http.StatusInternalServerError
	}
	writeError(w, code, err)
}
