package payment

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/acmepay/payflow/internal/common"
	"github.com/acmepay/payflow/internal/gateway"
)

// Handler exposes the orchestration core over HTTP for the checkout front
// door. Credentials never travel through these endpoints.
type Handler struct {
	Orc          *Orchestrator
	Validate     *validator.Validate
	AwaitTimeout time.Duration
}

type createIntentReq struct {
	Amount   float64 `json:"amount" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required,len=3"`
	OrderID  string  `json:"orderId" validate:"required"`
}

type createIntentResp struct {
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Status       string `json:"status"`
	DemoMode     bool   `json:"demoMode,omitempty"`
}

type cardReq struct {
	Number     string `json:"number" validate:"required"`
	ExpMonth   int    `json:"expMonth" validate:"required,min=1,max=12"`
	ExpYear    int    `json:"expYear" validate:"required"`
	CVC        string `json:"cvc" validate:"required"`
	HolderName string `json:"holderName"`
}

type confirmReq struct {
	Method    string   `json:"method" validate:"required,oneof=card alipay paypal union_pay wechatpay wechat"`
	Card      *cardReq `json:"card,omitempty"`
	ReturnURL string   `json:"returnUrl,omitempty"`
}

type confirmResp struct {
	Status     string      `json:"status"`
	NextAction *NextAction `json:"nextAction,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// CreateIntent handles POST /payments/intent.
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	var req createIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	intent, err := h.Orc.CreateIntent(r.Context(), req.Amount, req.Currency, req.OrderID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, createIntentResp{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
		DemoMode:     intent.DemoMode,
	})
}

// Confirm handles POST /payments/{intentId}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if intentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "intentId is required", nil)
		return
	}
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if err := h.validate(req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	var card *CardMethod
	if req.Card != nil {
		card = &CardMethod{
			Number:     req.Card.Number,
			ExpMonth:   req.Card.ExpMonth,
			ExpYear:    req.Card.ExpYear,
			CVC:        req.Card.CVC,
			HolderName: req.Card.HolderName,
		}
	}
	method, err := ParseMethod(req.Method, card, req.ReturnURL)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	outcome, err := h.Orc.Confirm(r.Context(), intentID, method)
	if err != nil && outcome.Status != gateway.StatusFailed {
		writeTaxonomyError(w, err)
		return
	}
	resp := confirmResp{Status: string(outcome.Status), Reason: outcome.Reason}
	if outcome.NextAction.Type != "" && outcome.NextAction.Type != NextActionNone {
		na := outcome.NextAction
		resp.NextAction = &na
	}
	common.JSON(w, http.StatusOK, resp)
}

// Status handles GET /payments/{intentId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if intentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "intentId is required", nil)
		return
	}
	status, err := h.Orc.GetStatus(r.Context(), intentID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// Await handles GET /payments/{intentId}/await, blocking until the intent
// settles or the configured wait budget runs out.
func (h *Handler) Await(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Orc == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	intentID := strings.TrimSpace(chi.URLParam(r, "intentId"))
	if intentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "intentId is required", nil)
		return
	}
	timeout := h.AwaitTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	status, err := h.Orc.AwaitTerminal(r.Context(), intentID, timeout)
	if err != nil {
		if errors.Is(err, ErrAwaitTimeout) {
			common.JSONError(w, http.StatusRequestTimeout, "AWAIT_TIMEOUT", "intent did not settle in time", nil)
			return
		}
		writeTaxonomyError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

func (h *Handler) validate(v any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(v)
}

// writeTaxonomyError maps the error taxonomy onto HTTP responses.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var valErr *gateway.ValidationError
	var credErr *gateway.CredentialError
	var unavailErr *gateway.UnavailableError
	var protoErr *gateway.ProtocolError
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "intent not found", nil)
	case errors.As(err, &valErr):
		common.JSONError(w, http.StatusBadRequest, "VALIDATION", valErr.Error(), nil)
	case errors.As(err, &credErr):
		common.JSONError(w, http.StatusServiceUnavailable, "CREDENTIALS", "payment gateway credentials rejected", nil)
	case errors.As(err, &unavailErr):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", nil)
	case errors.As(err, &protoErr):
		common.JSONError(w, http.StatusBadGateway, "GATEWAY_PROTOCOL", protoErr.Message, nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
