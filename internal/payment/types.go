package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/acmepay/payflow/internal/gateway"
)

// Gateway abstracts the calls the orchestration core needs from the upstream
// payment gateway. Both the real client and the demo gateway satisfy it.
type Gateway interface {
	CreateIntent(ctx context.Context, spec gateway.CreateIntentSpec) (gateway.Intent, error)
	Confirm(ctx context.Context, intentID string, payload gateway.ConfirmPayload) (gateway.ConfirmResult, error)
	GetIntent(ctx context.Context, intentID string) (gateway.Intent, error)
}

// Method is the closed set of supported payment methods. Each variant dictates
// both the outbound confirmation payload and the next-action shape the gateway
// is expected to return.
type Method interface {
	// Kind returns the gateway's wire name for the method.
	Kind() string
}

// CardMethod carries inline card details for a direct card charge.
type CardMethod struct {
	Number     string
	ExpMonth   int
	ExpYear    int
	CVC        string
	HolderName string
}

func (CardMethod) Kind() string { return "card" }

// RedirectScheme enumerates the hosted-page methods that resolve through a
// payer redirect.
type RedirectScheme string

const (
	SchemeAlipay   RedirectScheme = "alipay"
	SchemePayPal   RedirectScheme = "paypal"
	SchemeUnionPay RedirectScheme = "union_pay"
)

// RedirectMethod confirms through a payer redirect to the scheme's own page.
type RedirectMethod struct {
	Scheme    RedirectScheme
	ReturnURL string
}

func (m RedirectMethod) Kind() string { return string(m.Scheme) }

// QRCodeMethod confirms through a scan-to-pay QR code (WeChat Pay web flow).
type QRCodeMethod struct{}

func (QRCodeMethod) Kind() string { return "wechatpay" }

// ParseMethod maps a wire method name plus optional details onto a variant.
func ParseMethod(name string, card *CardMethod, returnURL string) (Method, error) {
	switch name {
	case "card":
		if card == nil {
			return nil, &gateway.ValidationError{Field: "card", Message: "card details are required"}
		}
		return *card, nil
	case "alipay", "paypal", "union_pay":
		return RedirectMethod{Scheme: RedirectScheme(name), ReturnURL: returnURL}, nil
	case "wechatpay", "wechat":
		return QRCodeMethod{}, nil
	default:
		return nil, &gateway.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported payment method %q", name)}
	}
}

// NextActionType tags the normalized next-action variant.
type NextActionType string

const (
	NextActionNone     NextActionType = "none"
	NextActionRedirect NextActionType = "redirect"
	NextActionQRCode   NextActionType = "qrcode"
	NextActionThreeDS  NextActionType = "3ds"
)

// NextAction is the payer-facing follow-up step required before an intent can
// reach a terminal status. It is produced only by the dispatcher.
type NextAction struct {
	Type   NextActionType `json:"type"`
	URL    string         `json:"url,omitempty"`
	QRCode string         `json:"qrcode,omitempty"`
}

// ConfirmationRequest binds a method choice to an intent.
type ConfirmationRequest struct {
	IntentID     string
	ClientSecret string
	Method       Method
}

// Outcome is the normalized result of a confirmation attempt. Reason carries a
// human-readable explanation when Status is FAILED.
type Outcome struct {
	Status     gateway.IntentStatus
	NextAction NextAction
	Reason     string
}

// Record is the locally cached view of an intent created by this process. It
// is a cache over the gateway's authoritative record, not a durable store.
type Record struct {
	Intent    gateway.Intent       `json:"intent"`
	Method    string               `json:"method,omitempty"`
	Status    gateway.IntentStatus `json:"status"`
	Reason    string               `json:"reason,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}
