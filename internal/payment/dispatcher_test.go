package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acmepay/payflow/internal/gateway"
)

func fixedNow() time.Time {
	return time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
}

func TestPrepareCardPayload(t *testing.T) {
	d := Dispatcher{Now: fixedNow}
	payload, err := d.Prepare(ConfirmationRequest{
		IntentID: "int_1",
		Method:   CardMethod{Number: "4242424242424242", ExpMonth: 3, ExpYear: 2030, CVC: "123", HolderName: "A Payer"},
	})
	require.NoError(t, err)
	require.Equal(t, "card", payload.PaymentMethod["type"])

	card, ok := payload.PaymentMethod["card"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "4242424242424242", card["number"])
	require.Equal(t, "03", card["expiry_month"], "single-digit months are zero padded")
	require.Equal(t, "2030", card["expiry_year"])
}

func TestPrepareCardRejectsExpired(t *testing.T) {
	d := Dispatcher{Now: fixedNow}
	_, err := d.Prepare(ConfirmationRequest{
		IntentID: "int_1",
		Method:   CardMethod{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2025, CVC: "123"},
	})
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "card.expiry", valErr.Field)
}

func TestPrepareRedirectPayload(t *testing.T) {
	d := Dispatcher{}
	for _, scheme := range []RedirectScheme{SchemeAlipay, SchemePayPal, SchemeUnionPay} {
		payload, err := d.Prepare(ConfirmationRequest{
			IntentID: "int_1",
			Method:   RedirectMethod{Scheme: scheme, ReturnURL: "https://shop.example/return"},
		})
		require.NoError(t, err)
		require.Equal(t, string(scheme), payload.PaymentMethod["type"])
		flow, ok := payload.PaymentMethod[string(scheme)].(map[string]any)
		require.True(t, ok)
		require.Equal(t, "webqr", flow["flow"])
		require.Equal(t, "https://shop.example/return", payload.ReturnURL)
	}
}

func TestPrepareRedirectRequiresReturnURL(t *testing.T) {
	d := Dispatcher{}
	_, err := d.Prepare(ConfirmationRequest{
		IntentID: "int_1",
		Method:   RedirectMethod{Scheme: SchemeAlipay},
	})
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, "returnUrl", valErr.Field)
}

func TestPrepareQRCodePayload(t *testing.T) {
	d := Dispatcher{}
	payload, err := d.Prepare(ConfirmationRequest{IntentID: "int_1", Method: QRCodeMethod{}})
	require.NoError(t, err)
	require.Equal(t, "wechatpay", payload.PaymentMethod["type"])
	flow, ok := payload.PaymentMethod["wechatpay"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "webqr", flow["flow"])
	require.Equal(t, "WEB", flow["client_type"])
}

func TestNormalizeTerminalPassThrough(t *testing.T) {
	d := Dispatcher{}
	status, action, err := d.Normalize(CardMethod{}, gateway.ConfirmResult{
		Intent: gateway.Intent{Status: gateway.StatusSucceeded},
	})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, status)
	require.Equal(t, NextActionNone, action.Type)
}

func TestNormalizeProcessingHasNoAction(t *testing.T) {
	d := Dispatcher{}
	status, action, err := d.Normalize(CardMethod{}, gateway.ConfirmResult{
		Intent: gateway.Intent{Status: gateway.StatusProcessing},
	})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusProcessing, status)
	require.Equal(t, NextActionNone, action.Type)
}

func TestNormalizeCardChallenge(t *testing.T) {
	d := Dispatcher{}
	status, action, err := d.Normalize(CardMethod{}, gateway.ConfirmResult{
		Intent: gateway.Intent{
			Status:     gateway.StatusRequiresAction,
			NextAction: &gateway.RawNextAction{Type: "redirect", URL: "https://gw.example/3ds"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusRequiresAction, status)
	require.Equal(t, NextActionThreeDS, action.Type)
	require.Equal(t, "https://gw.example/3ds", action.URL)
}

func TestNormalizeRedirect(t *testing.T) {
	d := Dispatcher{}
	status, action, err := d.Normalize(RedirectMethod{Scheme: SchemeAlipay}, gateway.ConfirmResult{
		Intent: gateway.Intent{
			Status:     gateway.StatusRequiresCustomerAction,
			NextAction: &gateway.RawNextAction{Type: "redirect", URL: "https://alipay.example/pay"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusRequiresCustomerAction, status)
	require.Equal(t, NextActionRedirect, action.Type)
	require.Equal(t, "https://alipay.example/pay", action.URL)
}

func TestNormalizeQRCodePrefersCodePayload(t *testing.T) {
	d := Dispatcher{}
	_, action, err := d.Normalize(QRCodeMethod{}, gateway.ConfirmResult{
		Intent: gateway.Intent{
			Status:     gateway.StatusRequiresCustomerAction,
			NextAction: &gateway.RawNextAction{Type: "qrcode", QRCodeData: "weixin://wxpay/abc", URL: "https://gw.example/qr"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, NextActionQRCode, action.Type)
	require.Equal(t, "weixin://wxpay/abc", action.QRCode)
}

func TestNormalizeMissingActionIsProtocolViolation(t *testing.T) {
	d := Dispatcher{}
	raw := []byte(`{"status":"REQUIRES_CUSTOMER_ACTION"}`)
	_, _, err := d.Normalize(RedirectMethod{Scheme: SchemePayPal}, gateway.ConfirmResult{
		Intent: gateway.Intent{Status: gateway.StatusRequiresCustomerAction},
		Raw:    raw,
	})
	var protoErr *gateway.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Equal(t, raw, protoErr.Raw)
}

func TestNormalizeEmptyActionURL(t *testing.T) {
	d := Dispatcher{}
	_, _, err := d.Normalize(RedirectMethod{Scheme: SchemePayPal}, gateway.ConfirmResult{
		Intent: gateway.Intent{
			Status:     gateway.StatusRequiresCustomerAction,
			NextAction: &gateway.RawNextAction{Type: "redirect"},
		},
	})
	var protoErr *gateway.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestNormalizeUnexpectedStatus(t *testing.T) {
	d := Dispatcher{}
	_, _, err := d.Normalize(CardMethod{}, gateway.ConfirmResult{
		Intent: gateway.Intent{Status: gateway.StatusRequiresPaymentMethod},
	})
	var protoErr *gateway.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}
