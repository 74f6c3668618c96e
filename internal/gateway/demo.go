package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Demo is an in-memory stand-in for the gateway used when the process is
// explicitly configured without credentials. Every intent it produces carries
// a demo_ prefix and demo_mode=true so a synthesized outcome can never be
// mistaken for a real charge. It must never be wired together with a real
// client in the same process.
type Demo struct {
	mu      sync.Mutex
	intents map[string]Intent
}

// NewDemo builds an empty demo gateway.
func NewDemo() *Demo {
	return &Demo{intents: make(map[string]Intent)}
}

// CreateIntent synthesizes a local intent record.
func (d *Demo) CreateIntent(_ context.Context, spec CreateIntentSpec) (Intent, error) {
	if strings.TrimSpace(spec.Currency) == "" || spec.Amount <= 0 {
		return Intent{}, &ValidationError{Message: "amount and currency are required"}
	}
	intent := Intent{
		ID:              "demo_" + uuid.NewString(),
		ClientSecret:    "demo_secret_" + uuid.NewString()[:8],
		Amount:          spec.Amount,
		Currency:        spec.Currency,
		MerchantOrderID: spec.MerchantOrderID,
		Status:          StatusRequiresPaymentMethod,
		CreatedAt:       time.Now(),
		DemoMode:        true,
	}
	d.mu.Lock()
	d.intents[intent.ID] = intent
	d.mu.Unlock()
	return intent, nil
}

// Confirm marks the intent succeeded immediately. Demo mode never exercises
// redirects or QR flows; there is no payer to act on them.
func (d *Demo) Confirm(_ context.Context, intentID string, _ ConfirmPayload) (ConfirmResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	intent, ok := d.intents[intentID]
	if !ok {
		return ConfirmResult{}, &ValidationError{Message: fmt.Sprintf("unknown demo intent %s", intentID)}
	}
	intent.Status = StatusSucceeded
	d.intents[intentID] = intent
	return ConfirmResult{Intent: intent}, nil
}

// GetIntent returns the stored demo intent.
func (d *Demo) GetIntent(_ context.Context, intentID string) (Intent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	intent, ok := d.intents[intentID]
	if !ok {
		return Intent{}, &ValidationError{Message: fmt.Sprintf("unknown demo intent %s", intentID)}
	}
	return intent, nil
}
