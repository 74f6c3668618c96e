package payment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/acmepay/payflow/internal/gateway"
	"github.com/acmepay/payflow/internal/obs"
)

// ErrAwaitTimeout is returned when AwaitTerminal's own timeout elapses. The
// waiter detaches; the underlying poller keeps running to its own budget.
var ErrAwaitTimeout = errors.New("payment: timed out waiting for terminal status")

// Orchestrator is the façade external callers use. It composes the gateway
// client, intent store, confirmation dispatcher and status pollers.
type Orchestrator struct {
	Gateway    Gateway
	Store      Store
	Dispatcher Dispatcher
	Poller     *Poller
	Logger     zerolog.Logger
	ReturnURL  string

	createGroup singleflight.Group

	mu      sync.Mutex
	watches map[string]*Watch
}

// CreateIntent opens (or reuses) a payment intent for a merchant order.
// Concurrent and repeated calls for the same order id collapse onto one
// gateway call; a later call with a different amount is rejected rather than
// silently creating a second charge.
func (o *Orchestrator) CreateIntent(ctx context.Context, amount float64, currency, merchantOrderID string) (gateway.Intent, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.CreateIntent")
	defer span.End()

	result := "error"
	defer func() {
		if obs.IntentCreateTotal != nil {
			obs.IntentCreateTotal.WithLabelValues(result).Inc()
		}
	}()

	currency = strings.ToUpper(strings.TrimSpace(currency))
	merchantOrderID = strings.TrimSpace(merchantOrderID)
	switch {
	case amount <= 0:
		return gateway.Intent{}, &gateway.ValidationError{Field: "amount", Message: "amount must be positive"}
	case len(currency) != 3:
		return gateway.Intent{}, &gateway.ValidationError{Field: "currency", Message: "currency must be a 3-letter code"}
	case merchantOrderID == "":
		return gateway.Intent{}, &gateway.ValidationError{Field: "merchantOrderId", Message: "merchant order id is required"}
	}
	span.SetAttributes(attribute.String("order.id", merchantOrderID))

	v, err, _ := o.createGroup.Do(merchantOrderID, func() (any, error) {
		existing, err := o.Store.GetByOrder(ctx, merchantOrderID)
		if err == nil {
			if existing.Intent.Amount != amount || existing.Intent.Currency != currency {
				return nil, &gateway.ValidationError{
					Field:   "merchantOrderId",
					Message: "order id already used with a different amount or currency",
				}
			}
			return existing.Intent, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		intent, err := o.Gateway.CreateIntent(ctx, gateway.CreateIntentSpec{
			Amount:          amount,
			Currency:        currency,
			MerchantOrderID: merchantOrderID,
			ReturnURL:       o.ReturnURL,
		})
		if err != nil {
			return nil, err
		}
		now := time.Now()
		rec := Record{Intent: intent, Status: intent.Status, CreatedAt: now, UpdatedAt: now}
		if err := o.Store.Put(ctx, rec); err != nil {
			return nil, err
		}
		o.Logger.Info().Str("intent_id", intent.ID).Str("order_id", merchantOrderID).Msg("payment intent recorded")
		return intent, nil
	})
	if err != nil {
		span.RecordError(err)
		return gateway.Intent{}, err
	}
	result = "success"
	return v.(gateway.Intent), nil
}

// Confirm attaches the chosen payment method to a known intent. Unknown ids
// fail fast with ErrNotFound and never reach the network. A non-terminal
// outcome starts the status poller for the intent.
func (o *Orchestrator) Confirm(ctx context.Context, intentID string, method Method) (Outcome, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator.Confirm")
	defer span.End()

	methodLabel := "unknown"
	if method != nil {
		methodLabel = method.Kind()
	}
	start := time.Now()
	result := "error"
	defer func() {
		if obs.ConfirmTotal != nil {
			obs.ConfirmTotal.WithLabelValues(methodLabel, result).Inc()
		}
		if obs.ConfirmLatency != nil {
			obs.ConfirmLatency.WithLabelValues(methodLabel).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	rec, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Status.Terminal() {
		return Outcome{}, &gateway.ValidationError{
			Field:   "intentId",
			Message: "intent is already in terminal status " + string(rec.Status),
		}
	}
	if method == nil {
		return Outcome{}, &gateway.ValidationError{Field: "method", Message: "payment method is required"}
	}
	span.SetAttributes(attribute.String("intent.id", intentID), attribute.String("payment.method", methodLabel))

	payload, err := o.Dispatcher.Prepare(ConfirmationRequest{
		IntentID:     intentID,
		ClientSecret: rec.Intent.ClientSecret,
		Method:       method,
	})
	if err != nil {
		// Local validation failure: nothing was sent, the intent is untouched.
		result = "rejected"
		return Outcome{}, err
	}

	res, err := o.Gateway.Confirm(ctx, intentID, payload)
	if err != nil {
		span.RecordError(err)
		return o.confirmFailure(ctx, intentID, methodLabel, err)
	}
	status, action, err := o.Dispatcher.Normalize(method, res)
	if err != nil {
		span.RecordError(err)
		return o.confirmFailure(ctx, intentID, methodLabel, err)
	}

	if err := o.Store.Update(ctx, intentID, status, methodLabel, ""); err != nil {
		o.Logger.Error().Err(err).Str("intent_id", intentID).Msg("record confirmation status")
	}
	result = string(status)
	outcome := Outcome{Status: status, NextAction: action}
	if !status.Terminal() {
		o.startWatch(intentID)
	}
	return outcome, nil
}

// confirmFailure records a terminal FAILED outcome for caller-visible gateway
// rejections and protocol violations, and propagates the error verbatim.
// Transport-level failures are propagated without marking the intent failed,
// since the gateway may still settle the charge.
func (o *Orchestrator) confirmFailure(ctx context.Context, intentID, methodLabel string, err error) (Outcome, error) {
	var valErr *gateway.ValidationError
	var protoErr *gateway.ProtocolError
	if errors.As(err, &valErr) || errors.As(err, &protoErr) {
		reason := err.Error()
		if protoErr != nil {
			o.Logger.Error().Str("intent_id", intentID).Str("raw", string(protoErr.Raw)).Msg(protoErr.Message)
		}
		if uerr := o.Store.Update(ctx, intentID, gateway.StatusFailed, methodLabel, reason); uerr != nil {
			o.Logger.Error().Err(uerr).Str("intent_id", intentID).Msg("record failed confirmation")
		}
		return Outcome{Status: gateway.StatusFailed, Reason: reason}, err
	}
	return Outcome{}, err
}

// AwaitTerminal blocks until the intent's poller publishes a terminal status,
// the context is cancelled, or the timeout elapses. Timing out detaches this
// waiter only; polling continues for any later caller.
func (o *Orchestrator) AwaitTerminal(ctx context.Context, intentID string, timeout time.Duration) (gateway.IntentStatus, error) {
	rec, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if rec.Status.Terminal() {
		return rec.Status, nil
	}
	if !rec.Status.Pollable() {
		return "", &gateway.ValidationError{
			Field:   "intentId",
			Message: "intent has not been confirmed; there is no resolution to wait for",
		}
	}
	w := o.startWatch(intentID)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-w.Done():
		status, _ := w.Terminal()
		return status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer:
		return "", ErrAwaitTimeout
	}
}

// GetStatus reports the best known status for an intent, refreshing
// non-terminal records from the gateway when no poller owns them.
func (o *Orchestrator) GetStatus(ctx context.Context, intentID string) (gateway.IntentStatus, error) {
	rec, err := o.Store.Get(ctx, intentID)
	if err != nil {
		return "", err
	}
	if rec.Status.Terminal() || o.hasActiveWatch(intentID) {
		return rec.Status, nil
	}
	intent, err := o.Gateway.GetIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	if intent.Status != rec.Status {
		if err := o.Store.Update(ctx, intentID, intent.Status, "", ""); err != nil {
			o.Logger.Error().Err(err).Str("intent_id", intentID).Msg("refresh cached status")
		}
	}
	return intent.Status, nil
}

// startWatch returns the live watch for an intent, starting the poller when
// none exists. At most one poller owns an intent at a time.
func (o *Orchestrator) startWatch(intentID string) *Watch {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watches == nil {
		o.watches = make(map[string]*Watch)
	}
	if w, ok := o.watches[intentID]; ok {
		return w
	}
	w := o.Poller.Start(intentID)
	o.watches[intentID] = w
	return w
}

func (o *Orchestrator) hasActiveWatch(intentID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.watches[intentID]
	if !ok {
		return false
	}
	_, resolved := w.Terminal()
	return !resolved
}
