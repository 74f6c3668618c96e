package payment

import (
	"fmt"
	"time"

	"github.com/acmepay/payflow/internal/gateway"
)

// Dispatcher translates a ConfirmationRequest into the gateway's wire shape
// and normalizes the raw confirmation response into a status and next action.
// The per-method behavior lives in one table instead of being spread across
// method-specific handlers.
type Dispatcher struct {
	// Now is overridable for card expiry checks in tests.
	Now func() time.Time
}

// actionRule describes what a method expects back from the gateway when the
// payer has a follow-up step to complete.
type actionRule struct {
	actionType NextActionType
	// status reported to callers while the action is pending.
	status  gateway.IntentStatus
	extract func(*gateway.RawNextAction) string
	missing string
}

var confirmRules = map[string]actionRule{
	"card": {
		actionType: NextActionThreeDS,
		status:     gateway.StatusRequiresAction,
		extract:    func(na *gateway.RawNextAction) string { return na.URL },
		missing:    "3-D Secure challenge without a url",
	},
	"alipay": {
		actionType: NextActionRedirect,
		status:     gateway.StatusRequiresCustomerAction,
		extract:    func(na *gateway.RawNextAction) string { return na.URL },
		missing:    "redirect confirmation without a url",
	},
	"paypal": {
		actionType: NextActionRedirect,
		status:     gateway.StatusRequiresCustomerAction,
		extract:    func(na *gateway.RawNextAction) string { return na.URL },
		missing:    "redirect confirmation without a url",
	},
	"union_pay": {
		actionType: NextActionRedirect,
		status:     gateway.StatusRequiresCustomerAction,
		extract:    func(na *gateway.RawNextAction) string { return na.URL },
		missing:    "redirect confirmation without a url",
	},
	"wechatpay": {
		actionType: NextActionQRCode,
		status:     gateway.StatusRequiresCustomerAction,
		extract: func(na *gateway.RawNextAction) string {
			if na.QRCodeData != "" {
				return na.QRCodeData
			}
			return na.URL
		},
		missing: "qr confirmation without a code payload",
	},
}

// Prepare validates the request locally and builds the outbound confirmation
// payload. Card validation failures short-circuit here with zero side effects.
func (d Dispatcher) Prepare(req ConfirmationRequest) (gateway.ConfirmPayload, error) {
	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	switch m := req.Method.(type) {
	case CardMethod:
		if err := m.Validate(now); err != nil {
			return gateway.ConfirmPayload{}, err
		}
		return gateway.ConfirmPayload{
			PaymentMethod: map[string]any{
				"type": "card",
				"card": map[string]any{
					"number":       m.Number,
					"expiry_month": fmt.Sprintf("%02d", m.ExpMonth),
					"expiry_year":  fmt.Sprintf("%d", m.ExpYear),
					"cvc":          m.CVC,
					"name":         m.HolderName,
				},
			},
		}, nil
	case RedirectMethod:
		kind := string(m.Scheme)
		if _, ok := confirmRules[kind]; !ok {
			return gateway.ConfirmPayload{}, &gateway.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported redirect scheme %q", kind)}
		}
		if m.ReturnURL == "" {
			return gateway.ConfirmPayload{}, &gateway.ValidationError{Field: "returnUrl", Message: "return url is required for redirect methods"}
		}
		return gateway.ConfirmPayload{
			PaymentMethod: map[string]any{
				"type": kind,
				kind:   map[string]any{"flow": "webqr"},
			},
			ReturnURL: m.ReturnURL,
		}, nil
	case QRCodeMethod:
		return gateway.ConfirmPayload{
			PaymentMethod: map[string]any{
				"type": "wechatpay",
				"wechatpay": map[string]any{
					"flow":        "webqr",
					"client_type": "WEB",
				},
			},
		}, nil
	default:
		return gateway.ConfirmPayload{}, &gateway.ValidationError{Field: "method", Message: "unknown payment method variant"}
	}
}

// Normalize interprets the gateway's raw confirmation response for the method
// that produced it. A pending response missing the next action the method
// requires is a protocol violation, fatal for this attempt.
func (d Dispatcher) Normalize(method Method, res gateway.ConfirmResult) (gateway.IntentStatus, NextAction, error) {
	status := res.Intent.Status
	if status.Terminal() {
		return status, NextAction{Type: NextActionNone}, nil
	}
	if status == gateway.StatusProcessing {
		return status, NextAction{Type: NextActionNone}, nil
	}
	if status != gateway.StatusRequiresAction && status != gateway.StatusRequiresCustomerAction {
		return "", NextAction{}, &gateway.ProtocolError{
			Op:      "confirm",
			Message: fmt.Sprintf("unexpected post-confirmation status %q", status),
			Raw:     res.Raw,
		}
	}
	rule, ok := confirmRules[method.Kind()]
	if !ok {
		return "", NextAction{}, &gateway.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported payment method %q", method.Kind())}
	}
	if res.Intent.NextAction == nil {
		return "", NextAction{}, &gateway.ProtocolError{Op: "confirm", Message: rule.missing, Raw: res.Raw}
	}
	payload := rule.extract(res.Intent.NextAction)
	if payload == "" {
		return "", NextAction{}, &gateway.ProtocolError{Op: "confirm", Message: rule.missing, Raw: res.Raw}
	}
	action := NextAction{Type: rule.actionType}
	if rule.actionType == NextActionQRCode {
		action.QRCode = payload
	} else {
		action.URL = payload
	}
	return rule.status, action, nil
}
