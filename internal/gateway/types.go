package gateway

import "time"

// IntentStatus is the lifecycle status of a payment intent as reported by the
// gateway, plus the locally assigned TIMED_OUT terminal state.
type IntentStatus string

const (
	StatusRequiresPaymentMethod  IntentStatus = "REQUIRES_PAYMENT_METHOD"
	StatusRequiresAction         IntentStatus = "REQUIRES_ACTION"
	StatusRequiresCustomerAction IntentStatus = "REQUIRES_CUSTOMER_ACTION"
	StatusProcessing             IntentStatus = "PROCESSING"
	StatusSucceeded              IntentStatus = "SUCCEEDED"
	StatusFailed                 IntentStatus = "FAILED"
	StatusCancelled              IntentStatus = "CANCELLED"

	// StatusTimedOut is never produced by the gateway. It marks intents whose
	// polling budget was exhausted before a gateway-reported terminal status
	// arrived; the true outcome is unknown, which is distinct from FAILED.
	StatusTimedOut IntentStatus = "TIMED_OUT"
)

// Terminal reports whether the status will not change again.
func (s IntentStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Pollable reports whether the status can still advance on the gateway side
// without further caller input, so re-reading it can make progress. An intent
// sitting in REQUIRES_PAYMENT_METHOD is waiting on a confirmation call, not on
// the gateway; polling it would only burn the budget.
func (s IntentStatus) Pollable() bool {
	switch s {
	case StatusProcessing, StatusRequiresAction, StatusRequiresCustomerAction:
		return true
	default:
		return false
	}
}

// Intent mirrors the gateway's payment intent record.
type Intent struct {
	ID              string         `json:"id"`
	ClientSecret    string         `json:"client_secret"`
	Amount          float64        `json:"amount"`
	Currency        string         `json:"currency"`
	MerchantOrderID string         `json:"merchant_order_id"`
	Status          IntentStatus   `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
	NextAction      *RawNextAction `json:"next_action,omitempty"`
	DemoMode        bool           `json:"demo_mode,omitempty"`
}

// RawNextAction is the gateway's untyped next-action hint attached to a
// confirmed intent. Interpretation is method-specific and happens in the
// confirmation dispatcher.
type RawNextAction struct {
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	QRCodeData string `json:"qrcode_data,omitempty"`
}

// CreateIntentSpec carries the caller-supplied fields for intent creation.
// MerchantOrderID doubles as the idempotency key the merchant controls.
type CreateIntentSpec struct {
	Amount          float64
	Currency        string
	MerchantOrderID string
	ReturnURL       string
}

// ConfirmPayload is the wire shape of a confirmation request. PaymentMethod is
// built by the dispatcher; this package only transports it.
type ConfirmPayload struct {
	RequestID     string         `json:"request_id"`
	PaymentMethod map[string]any `json:"payment_method"`
	ReturnURL     string         `json:"return_url,omitempty"`
}

// ConfirmResult pairs the parsed confirmation response with the raw body so
// protocol violations can be reported with full context.
type ConfirmResult struct {
	Intent Intent
	Raw    []byte
}
