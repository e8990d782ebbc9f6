package api

import (
	"errors"
	"net/http"

	"github.com/plm/splitpay/api/middleware"
	"github.com/plm/splitpay/domain"
	"github.com/plm/splitpay/orchestrator"
	"github.com/plm/splitpay/provider"
	"github.com/plm/splitpay/validate"
)

// WidgetHandlers implements the public, rate-limited `/api/widget/*`
// surface the storefront checkout extension calls directly (§6).
type WidgetHandlers struct {
	orch *orchestrator.Orchestrator
}

// NewWidgetHandlers builds the widget-facing handler set.
func NewWidgetHandlers(orch *orchestrator.Orchestrator) *WidgetHandlers {
	return &WidgetHandlers{orch: orch}
}

type initRequest struct {
	ShopDomain    string `json:"shop_domain"`
	CheckoutToken string `json:"checkout_token"`
}

type initResponse struct {
	SessionID       string `json:"session_id"`
	TransactionID   string `json:"transaction_id"`
	TotalAmount     int64  `json:"total_amount"`
	Currency        string `json:"currency"`
	MaxCards        int    `json:"max_cards"`
	MinAmount       int64  `json:"min_amount"`
}

// Init handles POST /api/widget/init.
func (h *WidgetHandlers) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}
	if req.ShopDomain == "" || req.CheckoutToken == "" {
		writeError(w, CodeMissingParams, "shop_domain and checkout_token are required")
		return
	}

	result, err := h.orch.Init(r.Context(), req.ShopDomain, req.CheckoutToken, domain.CustomerMeta{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, initResponse{
		SessionID:     result.SessionID,
		TransactionID: result.TransactionID,
		TotalAmount:   result.TotalAmountCents,
		Currency:      result.Currency,
		MaxCards:      result.MaxCards,
		MinAmount:     result.MinAmountCents,
	})
}

type createPaymentIntentRequest struct {
	SessionID string `json:"session_id"`
	Amount    int64  `json:"amount"`
}

type createPaymentIntentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret"`
	PaymentID       string `json:"payment_id"`
}

// CreatePaymentIntent handles POST /api/widget/create-payment-intent.
func (h *WidgetHandlers) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var req createPaymentIntentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, CodeMissingParams, "session_id is required")
		return
	}
	if err := validate.Amount(req.Amount, 1, 0); err != nil {
		writeError(w, CodeInvalidAmount, err.Error())
		return
	}

	result, err := h.orch.AddCard(r.Context(), req.SessionID, req.Amount)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, createPaymentIntentResponse{
		PaymentIntentID: result.ProviderIntentID,
		ClientSecret:    result.ClientSecret,
		PaymentID:       result.PaymentID,
	})
}

type removePaymentRequest struct {
	SessionID        string `json:"session_id"`
	PaymentIntentID  string `json:"payment_intent_id"`
}

// RemovePayment handles POST /api/widget/remove-payment.
func (h *WidgetHandlers) RemovePayment(w http.ResponseWriter, r *http.Request) {
	var req removePaymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}
	if req.SessionID == "" || req.PaymentIntentID == "" {
		writeError(w, CodeMissingParams, "session_id and payment_intent_id are required")
		return
	}

	if err := h.orch.RemoveCard(r.Context(), req.SessionID, req.PaymentIntentID); err != nil {
		writeOrchestratorError(w, err)
		return
	}
	writeJSON(w, struct{}{})
}

type completeCheckoutRequest struct {
	SessionID string `json:"session_id"`
	Payments  []struct {
		PaymentIntentID string `json:"payment_intent_id"`
		PaymentMethodID string `json:"payment_method_id"`
	} `json:"payments"`
	CustomerEmail  string `json:"customer_email"`
	IdempotencyKey string `json:"idempotency_key"`
}

type completeCheckoutResponse struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

type failedCardBody struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// CompleteCheckout handles POST /api/widget/complete-checkout.
func (h *WidgetHandlers) CompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var req completeCheckoutRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, CodeMissingParams, "malformed request body")
		return
	}
	if req.SessionID == "" || len(req.Payments) == 0 {
		writeError(w, CodeMissingParams, "session_id and payments are required")
		return
	}

	confirmations := make([]orchestrator.CardConfirmation, len(req.Payments))
	for i, p := range req.Payments {
		confirmations[i] = orchestrator.CardConfirmation{ProviderIntentID: p.PaymentIntentID, ProviderMethodID: p.PaymentMethodID}
	}

	result, err := h.orch.Complete(r.Context(), req.SessionID, confirmations, req.CustomerEmail, req.IdempotencyKey)
	if err != nil {
		var failedCard *orchestrator.FailedCardError
		if errors.As(err, &failedCard) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			writeFailedCard(w, failedCard)
			return
		}
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, completeCheckoutResponse{OrderID: result.OrderID, OrderNumber: result.OrderNumber})
}

func writeFailedCard(w http.ResponseWriter, failure *orchestrator.FailedCardError) {
	body := struct {
		Success    bool           `json:"success"`
		Error      errorBody      `json:"error"`
		FailedCard failedCardBody `json:"failedCard"`
	}{
		Success:    false,
		Error:      errorBody{Code: CodeCardDeclined, Message: failure.Message},
		FailedCard: failedCardBody{PaymentIntentID: failure.ProviderIntentID},
	}
	jsonEncode(w, body)
}

// writeOrchestratorError maps a domain/provider sentinel error to the
// closest API error code (§7).
func writeOrchestratorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrStoreNotFound):
		writeError(w, CodeStoreNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreInactive):
		writeError(w, CodeForbidden, err.Error())
	case errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, CodeTransactionNotFound, err.Error())
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionExpired):
		writeError(w, CodeSessionNotFound, err.Error())
	case errors.Is(err, domain.ErrTooManyCards):
		writeError(w, CodeTooManyCards, err.Error())
	case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrAmountOutOfRange), errors.Is(err, validate.ErrInvalidAmount):
		writeError(w, CodeInvalidAmount, err.Error())
	case errors.Is(err, validate.ErrInvalidShopDomain):
		writeError(w, CodeInvalidShop, err.Error())
	case errors.Is(err, domain.ErrAlreadyCompleted):
		writeError(w, CodeCheckoutFailed, err.Error())
	case errors.Is(err, provider.ErrDeclined):
		writeError(w, CodeCardDeclined, err.Error())
	case errors.Is(err, provider.ErrTransient):
		writeError(w, CodeStripeError, err.Error())
	default:
		writeError(w, CodeInternalError, "an internal error occurred")
	}
}
