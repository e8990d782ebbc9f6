package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/plm/splitpay/api/middleware"
	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/orchestrator"
	"github.com/plm/splitpay/receipts"
	"github.com/plm/splitpay/storage/postgres"
)

// AdminHandlers implements the session-token-gated `/api/admin/*` surface
// merchants use for dashboard/operator tooling (§6).
type AdminHandlers struct {
	db       *postgres.Client
	orch     *orchestrator.Orchestrator
	receipts *receipts.Generator
}

// NewAdminHandlers builds the admin-facing handler set.
func NewAdminHandlers(db *postgres.Client, orch *orchestrator.Orchestrator, receiptGen *receipts.Generator) *AdminHandlers {
	return &AdminHandlers{db: db, orch: orch, receipts: receiptGen}
}

func storeIDFromRequest(r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok || claims.StoreID == "" {
		return "", false
	}
	return claims.StoreID, true
}

// Stats handles GET /api/admin/stats.
func (h *AdminHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	stats, err := h.db.Transactions().Stats(r.Context(), storeID)
	if err != nil {
		writeError(w, CodeInternalError, "failed to compute stats")
		return
	}
	writeJSON(w, stats)
}

// ListTransactions handles GET /api/admin/transactions.
func (h *AdminHandlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	q := r.URL.Query()
	pageNum, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	startDate, _ := time.Parse(time.RFC3339, q.Get("startDate"))
	endDate, _ := time.Parse(time.RFC3339, q.Get("endDate"))

	result, err := h.db.Transactions().List(r.Context(), postgres.TransactionFilter{
		StoreID:   storeID,
		Status:    domain.TransactionStatus(q.Get("status")),
		StartDate: startDate,
		EndDate:   endDate,
		Page:      pageNum,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, CodeInternalError, "failed to list transactions")
		return
	}
	writeJSON(w, result)
}

// GetTransaction handles GET /api/admin/transactions/:id.
func (h *AdminHandlers) GetTransaction(w http.ResponseWriter, r *http.Request, transactionID string) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	txn, err := h.db.Transactions().GetByID(r.Context(), transactionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if txn.StoreID != storeID {
		writeError(w, CodeForbidden, "transaction does not belong to this store")
		return
	}

	payments, err := h.db.Payments().ListByTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, CodeInternalError, "failed to load payments")
		return
	}
	refunds, err := h.db.Refunds().ListByTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, CodeInternalError, "failed to load refunds")
		return
	}

	writeJSON(w, struct {
		Transaction *domain.Transaction `json:"transaction"`
		Payments    []*domain.Payment   `json:"payments"`
		Refunds     []*domain.Refund    `json:"refunds"`
	}{Transaction: txn, Payments: payments, Refunds: refunds})
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason"`
}

// Refund handles POST /api/admin/refund.
func (h *AdminHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	var req refundRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}
	if req.TransactionID == "" || req.Amount <= 0 {
		writeError(w, CodeMissingParams, "transaction_id and a positive amount are required")
		return
	}

	txn, err := h.db.Transactions().GetByID(r.Context(), req.TransactionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if txn.StoreID != storeID {
		writeError(w, CodeForbidden, "transaction does not belong to this store")
		return
	}

	result, err := h.orch.Refund(r.Context(), req.TransactionID, req.Amount, domain.RefundReason(req.Reason), domain.InitiatedByAdmin)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, result)
}

// ListStores handles GET /api/admin/stores.
func (h *AdminHandlers) ListStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.db.Stores().List(r.Context())
	if err != nil {
		writeError(w, CodeInternalError, "failed to list stores")
		return
	}
	writeJSON(w, struct {
		Stores []*domain.Store `json:"stores"`
	}{Stores: stores})
}

type settingsRequest struct {
	MaxCards       int   `json:"max_cards"`
	MinAmountCents int64 `json:"min_amount_cents"`
}

// UpdateSettings handles PUT /api/admin/settings.
func (h *AdminHandlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	var req settingsRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}

	settings := domain.NewStoreSettings(req.MaxCards, req.MinAmountCents)
	if err := h.db.Stores().UpdateSettings(r.Context(), storeID, settings); err != nil {
		if errors.Is(err, domain.ErrStoreNotFound) {
			writeError(w, CodeStoreNotFound, err.Error())
			return
		}
		writeError(w, CodeInternalError, "failed to update settings")
		return
	}
	writeJSON(w, struct {
		MaxCards       int   `json:"max_cards"`
		MinAmountCents int64 `json:"min_amount_cents"`
	}{MaxCards: settings.MaxCards, MinAmountCents: settings.MinAmountCents})
}

// CaptureReceipt handles GET /api/admin/transactions/:id/receipt, returning
// the signed capture receipt PDF (supplements §4.7).
func (h *AdminHandlers) CaptureReceipt(w http.ResponseWriter, r *http.Request, transactionID string) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	txn, err := h.db.Transactions().GetByID(r.Context(), transactionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if txn.StoreID != storeID {
		writeError(w, CodeForbidden, "transaction does not belong to this store")
		return
	}

	payments, err := h.db.Payments().ListByTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, CodeInternalError, "failed to load payments")
		return
	}

	cards := make([]receipts.CardLine, 0, len(payments))
	for _, p := range payments {
		if p.Status != domain.PaymentCaptured && p.Status != domain.PaymentRefunded {
			continue
		}
		cards = append(cards, receipts.CardLine{CardBrand: p.CardBrand, CardLastFour: p.CardLastFour, AmountCents: p.AmountCents})
	}

	pdfBytes, signature, err := h.receipts.CaptureReceipt(txn, cards)
	if err != nil {
		writeError(w, CodeInternalError, "failed to render receipt")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Receipt-Signature", signature)
	w.Write(pdfBytes)
}

// RefundReceipt handles GET /api/admin/transactions/:id/refund-receipt.
func (h *AdminHandlers) RefundReceipt(w http.ResponseWriter, r *http.Request, transactionID string) {
	storeID, ok := storeIDFromRequest(r)
	if !ok {
		writeError(w, CodeUnauthorized, "missing store scope")
		return
	}

	txn, err := h.db.Transactions().GetByID(r.Context(), transactionID)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}
	if txn.StoreID != storeID {
		writeError(w, CodeForbidden, "transaction does not belong to this store")
		return
	}

	refunds, err := h.db.Refunds().ListByTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, CodeInternalError, "failed to load refunds")
		return
	}

	pdfBytes, signature, err := h.receipts.RefundReceipt(txn, refunds)
	if err != nil {
		writeError(w, CodeInternalError, "failed to render refund receipt")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("X-Receipt-Signature", signature)
	w.Write(pdfBytes)
}
