package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/acmepay/payflow/internal/resilience"
)

const (
	loginPath   = "/api/v1/authentication/login"
	intentsPath = "/api/v1/pa/payment_intents"
)

// Config carries the gateway connection settings. Credentials come from
// process configuration only; they are never accepted from request payloads.
type Config struct {
	BaseURL   string
	APIKey    string
	ClientID  string
	Timeout   time.Duration
	TokenSkew time.Duration
	Logger    zerolog.Logger
}

// Client performs the low-level HTTP calls against the payment gateway. All
// authorized calls go through the token cache; a single 401 triggers one token
// refresh and one replay, never more.
type Client struct {
	baseURL  string
	apiKey   string
	clientID string
	http     *http.Client
	reader   resilience.HTTPClient
	tokens   *TokenCache
	logger   zerolog.Logger
}

// NewClient validates the credentials and builds a client whose transport is
// instrumented for tracing. Reads go through a retrying circuit-broken
// wrapper; writes are sent exactly once.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.ClientID) == "" {
		return nil, &CredentialError{Message: "api key and client id are required"}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	c := &Client{
		baseURL:  base,
		apiKey:   cfg.APIKey,
		clientID: cfg.ClientID,
		http:     httpClient,
		logger:   cfg.Logger,
	}
	c.tokens = NewTokenCache(c.doLogin, cfg.TokenSkew, 500*time.Millisecond)
	c.reader = resilience.HTTPClient{
		Client:      httpClient,
		Breaker:     resilience.NewBreaker(5, 0.6, 15*time.Second).WithTarget("gateway"),
		BaseBackoff: 200 * time.Millisecond,
		MaxAttempts: 3,
		Jitter:      0.2,
	}
	return c, nil
}

// Tokens exposes the token cache, mainly for readiness probes and tests.
func (c *Client) Tokens() *TokenCache { return c.tokens }

// CreateIntent opens a payment intent carrying the merchant order id and a
// fresh request id as the gateway-side idempotency key. It is not retried
// here: an automatic retry without the same request id could double-create.
func (c *Client) CreateIntent(ctx context.Context, spec CreateIntentSpec) (Intent, error) {
	payload := map[string]any{
		"amount":            spec.Amount,
		"currency":          spec.Currency,
		"merchant_order_id": spec.MerchantOrderID,
		"request_id":        newRequestID(),
	}
	if strings.TrimSpace(spec.ReturnURL) != "" {
		payload["return_url"] = spec.ReturnURL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Intent{}, err
	}

	status, data, err := c.doAuthorized(ctx, "create_intent", http.MethodPost, c.baseURL+intentsPath+"/create", body)
	if err != nil {
		return Intent{}, err
	}
	if err := classifyStatus("create_intent", status, data); err != nil {
		return Intent{}, err
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, &ProtocolError{Op: "create_intent", Message: "undecodable response body", Raw: data}
	}
	if intent.ID == "" || intent.ClientSecret == "" {
		return Intent{}, &ProtocolError{Op: "create_intent", Message: "response missing id or client_secret", Raw: data}
	}
	if intent.Status != StatusRequiresPaymentMethod {
		return Intent{}, &ProtocolError{Op: "create_intent", Message: fmt.Sprintf("unexpected initial status %q", intent.Status), Raw: data}
	}
	c.logger.Debug().Str("intent_id", intent.ID).Str("order_id", spec.MerchantOrderID).Msg("intent created")
	return intent, nil
}

// Confirm submits the method payload for an intent. Exactly one HTTP call is
// made; confirmation is not idempotent on the gateway side, so transport
// failures surface to the caller instead of being retried.
func (c *Client) Confirm(ctx context.Context, intentID string, payload ConfirmPayload) (ConfirmResult, error) {
	if payload.RequestID == "" {
		payload.RequestID = newRequestID()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ConfirmResult{}, err
	}
	url := fmt.Sprintf("%s%s/%s/confirm", c.baseURL, intentsPath, intentID)
	status, data, err := c.doAuthorized(ctx, "confirm", http.MethodPost, url, body)
	if err != nil {
		return ConfirmResult{}, err
	}
	if err := classifyStatus("confirm", status, data); err != nil {
		return ConfirmResult{}, err
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return ConfirmResult{}, &ProtocolError{Op: "confirm", Message: "undecodable response body", Raw: data}
	}
	return ConfirmResult{Intent: intent, Raw: data}, nil
}

// GetIntent reads the current intent state. Reads are safe to retry and run
// through the resilient client with exponential backoff.
func (c *Client) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	url := fmt.Sprintf("%s%s/%s", c.baseURL, intentsPath, intentID)
	status, data, err := c.doAuthorizedRead(ctx, url)
	if err != nil {
		return Intent{}, err
	}
	if err := classifyStatus("get_intent", status, data); err != nil {
		return Intent{}, err
	}
	var intent Intent
	if err := json.Unmarshal(data, &intent); err != nil {
		return Intent{}, &ProtocolError{Op: "get_intent", Message: "undecodable response body", Raw: data}
	}
	return intent, nil
}

// doLogin exchanges the API key and client id for a bearer token.
func (c *Client) doLogin(ctx context.Context) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, http.NoBody)
	if err != nil {
		return Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-client-id", c.clientID)

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, &UnavailableError{Op: "login", Err: err}
	}
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return Token{}, &UnavailableError{Op: "login", Err: err}
	}
	switch {
	case resp.StatusCode >= 500:
		return Token{}, &UnavailableError{Op: "login", Err: errors.New(resp.Status)}
	case resp.StatusCode >= 400:
		return Token{}, &CredentialError{Message: gatewayMessage(data, resp.Status)}
	}
	var parsed struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil || parsed.Token == "" {
		return Token{}, &ProtocolError{Op: "login", Message: "response missing token", Raw: data}
	}
	expiresIn := parsed.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 1800
	}
	c.logger.Debug().Int64("expires_in", expiresIn).Msg("gateway token refreshed")
	return Token{Value: parsed.Token, ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second)}, nil
}

// doAuthorized performs one bearer-authenticated call, replaying at most once
// after invalidating a token the gateway rejected with 401.
func (c *Client) doAuthorized(ctx context.Context, op, method, url string, body []byte) (int, []byte, error) {
	var status int
	var data []byte
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok.Value)

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, &UnavailableError{Op: op, Err: err}
		}
		data, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return 0, nil, &UnavailableError{Op: op, Err: err}
		}
		status = resp.StatusCode
		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(tok.Value)
			continue
		}
		break
	}
	return status, data, nil
}

func (c *Client) doAuthorizedRead(ctx context.Context, url string) (int, []byte, error) {
	var status int
	var data []byte
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := c.tokens.GetToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Authorization", "Bearer "+tok.Value)

		resp, err := c.reader.Do(ctx, req)
		if err != nil {
			return 0, nil, &UnavailableError{Op: "get_intent", Err: err}
		}
		data, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return 0, nil, &UnavailableError{Op: "get_intent", Err: err}
		}
		status = resp.StatusCode
		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(tok.Value)
			continue
		}
		break
	}
	return status, data, nil
}

// classifyStatus maps non-success HTTP statuses onto the error taxonomy.
func classifyStatus(op string, status int, data []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &CredentialError{Message: gatewayMessage(data, http.StatusText(status))}
	case status == http.StatusNotFound && (op == "confirm" || op == "get_intent"):
		// Only intent-scoped calls can mean "no such intent". A 404 on create
		// is a routing or base URL problem and keeps the gateway's own message.
		return &ValidationError{Message: "intent not found on gateway"}
	case status >= 400 && status < 500:
		return &ValidationError{Message: gatewayMessage(data, http.StatusText(status))}
	default:
		return &UnavailableError{Op: op, Err: fmt.Errorf("gateway returned %d", status)}
	}
}

// gatewayMessage extracts the human-readable message from a gateway error
// body, falling back to the HTTP status line.
func gatewayMessage(data []byte, fallback string) string {
	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && strings.TrimSpace(parsed.Message) != "" {
		return parsed.Message
	}
	return fallback
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}
