package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/acmepay/payflow/internal/gateway"
)

// mockGateway records every call so tests can assert on network traffic.
type mockGateway struct {
	mu           sync.Mutex
	createCalls  int
	confirmCalls int
	getCalls     int

	createDelay   time.Duration
	confirmResult gateway.ConfirmResult
	confirmErr    error
	getStatuses   []gateway.IntentStatus
}

func (g *mockGateway) CreateIntent(_ context.Context, spec gateway.CreateIntentSpec) (gateway.Intent, error) {
	g.mu.Lock()
	g.createCalls++
	g.mu.Unlock()
	if g.createDelay > 0 {
		time.Sleep(g.createDelay)
	}
	return gateway.Intent{
		ID:              "int_" + spec.MerchantOrderID,
		ClientSecret:    "cs_" + spec.MerchantOrderID,
		Amount:          spec.Amount,
		Currency:        spec.Currency,
		MerchantOrderID: spec.MerchantOrderID,
		Status:          gateway.StatusRequiresPaymentMethod,
	}, nil
}

func (g *mockGateway) Confirm(_ context.Context, intentID string, _ gateway.ConfirmPayload) (gateway.ConfirmResult, error) {
	g.mu.Lock()
	g.confirmCalls++
	g.mu.Unlock()
	if g.confirmErr != nil {
		return gateway.ConfirmResult{}, g.confirmErr
	}
	res := g.confirmResult
	res.Intent.ID = intentID
	return res, nil
}

func (g *mockGateway) GetIntent(_ context.Context, intentID string) (gateway.Intent, error) {
	g.mu.Lock()
	g.getCalls++
	idx := g.getCalls - 1
	g.mu.Unlock()
	if len(g.getStatuses) == 0 {
		return gateway.Intent{ID: intentID, Status: gateway.StatusProcessing}, nil
	}
	if idx >= len(g.getStatuses) {
		idx = len(g.getStatuses) - 1
	}
	return gateway.Intent{ID: intentID, Status: g.getStatuses[idx]}, nil
}

func (g *mockGateway) counts() (create, confirm, get int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls, g.confirmCalls, g.getCalls
}

func newTestOrchestrator(gw *mockGateway) *Orchestrator {
	store := NewMemoryStore()
	return &Orchestrator{
		Gateway:    gw,
		Store:      store,
		Dispatcher: Dispatcher{},
		Poller: &Poller{
			Gateway: gw,
			Store:   store,
			Config:  PollerConfig{Interval: 5 * time.Millisecond, MaxAttempts: 20},
			Logger:  zerolog.Nop(),
		},
		Logger:    zerolog.Nop(),
		ReturnURL: "https://shop.example/return",
	}
}

func validCard() CardMethod {
	return CardMethod{Number: "4242424242424242", ExpMonth: 12, ExpYear: 2030, CVC: "123"}
}

func TestCreateIntentValidatesInput(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)

	var valErr *gateway.ValidationError
	_, err := orc.CreateIntent(context.Background(), 0, "USD", "order-1")
	require.ErrorAs(t, err, &valErr)
	_, err = orc.CreateIntent(context.Background(), 10, "DOLLARS", "order-1")
	require.ErrorAs(t, err, &valErr)
	_, err = orc.CreateIntent(context.Background(), 10, "USD", "  ")
	require.ErrorAs(t, err, &valErr)

	create, _, _ := gw.counts()
	require.Zero(t, create, "invalid input never reaches the gateway")
}

func TestCreateIntentDeduplicatesOrderID(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)

	first, err := orc.CreateIntent(context.Background(), 10, "usd", "order-1")
	require.NoError(t, err)
	second, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	create, _, _ := gw.counts()
	require.Equal(t, 1, create, "repeat calls for the same order reuse the intent")
}

func TestCreateIntentRejectsAmountMismatch(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)

	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)
	_, err = orc.CreateIntent(context.Background(), 20, "USD", "order-1")
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestCreateIntentCollapsesConcurrentCalls(t *testing.T) {
	gw := &mockGateway{createDelay: 20 * time.Millisecond}
	orc := newTestOrchestrator(gw)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			intent, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
			require.NoError(t, err)
			ids[i] = intent.ID
		}(i)
	}
	wg.Wait()

	create, _, _ := gw.counts()
	require.Equal(t, 1, create, "concurrent creates for one order share a single gateway call")
	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
}

func TestConfirmUnknownIntentFailsFast(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)

	_, err := orc.Confirm(context.Background(), "int_missing", validCard())
	require.ErrorIs(t, err, ErrNotFound)

	_, confirm, _ := gw.counts()
	require.Zero(t, confirm, "unknown ids never reach the network")
}

func TestConfirmRejectsTerminalIntent(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)
	require.NoError(t, orc.Store.Put(context.Background(), Record{
		Intent: gateway.Intent{ID: "int_done", Status: gateway.StatusSucceeded},
		Status: gateway.StatusSucceeded,
	}))

	_, err := orc.Confirm(context.Background(), "int_done", validCard())
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestConfirmCardLocalRejectionSkipsNetwork(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	bad := validCard()
	bad.Number = "4242"
	_, err = orc.Confirm(context.Background(), "int_order-1", bad)
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)

	_, confirm, _ := gw.counts()
	require.Zero(t, confirm, "a locally invalid card makes no gateway call")
}

func TestConfirmCardImmediateSuccess(t *testing.T) {
	gw := &mockGateway{
		confirmResult: gateway.ConfirmResult{Intent: gateway.Intent{Status: gateway.StatusSucceeded}},
	}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	outcome, err := orc.Confirm(context.Background(), "int_order-1", validCard())
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, outcome.Status)
	require.Equal(t, NextActionNone, outcome.NextAction.Type)

	// A terminal confirmation needs no poller.
	time.Sleep(30 * time.Millisecond)
	_, _, get := gw.counts()
	require.Zero(t, get)
}

func TestConfirmQRCodeStartsPollerToResolution(t *testing.T) {
	gw := &mockGateway{
		confirmResult: gateway.ConfirmResult{Intent: gateway.Intent{
			Status:     gateway.StatusRequiresCustomerAction,
			NextAction: &gateway.RawNextAction{Type: "qrcode", QRCodeData: "weixin://wxpay/abc"},
		}},
		getStatuses: []gateway.IntentStatus{
			gateway.StatusProcessing,
			gateway.StatusProcessing,
			gateway.StatusSucceeded,
		},
	}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	outcome, err := orc.Confirm(context.Background(), "int_order-1", QRCodeMethod{})
	require.NoError(t, err)
	require.Equal(t, gateway.StatusRequiresCustomerAction, outcome.Status)
	require.Equal(t, NextActionQRCode, outcome.NextAction.Type)
	require.Equal(t, "weixin://wxpay/abc", outcome.NextAction.QRCode)

	status, err := orc.AwaitTerminal(context.Background(), "int_order-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, status)
}

func TestConfirmGatewayRejectionMarksFailed(t *testing.T) {
	gw := &mockGateway{
		confirmErr: &gateway.ValidationError{Message: "card declined"},
	}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	outcome, err := orc.Confirm(context.Background(), "int_order-1", validCard())
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)
	require.Equal(t, gateway.StatusFailed, outcome.Status)
	require.Contains(t, outcome.Reason, "card declined")

	rec, err := orc.Store.Get(context.Background(), "int_order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusFailed, rec.Status)
	require.NotEmpty(t, rec.Reason)
}

func TestConfirmTransportFailureLeavesIntentOpen(t *testing.T) {
	gw := &mockGateway{
		confirmErr: &gateway.UnavailableError{Op: "confirm", Err: errors.New("connection reset")},
	}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	_, err = orc.Confirm(context.Background(), "int_order-1", validCard())
	var unavailErr *gateway.UnavailableError
	require.ErrorAs(t, err, &unavailErr)

	// The charge may still settle; FAILED must not be recorded locally.
	rec, err := orc.Store.Get(context.Background(), "int_order-1")
	require.NoError(t, err)
	require.NotEqual(t, gateway.StatusFailed, rec.Status)
}

func TestAwaitTerminalReturnsCachedTerminalStatus(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)
	require.NoError(t, orc.Store.Put(context.Background(), Record{
		Intent: gateway.Intent{ID: "int_done", Status: gateway.StatusCancelled},
		Status: gateway.StatusCancelled,
	}))

	status, err := orc.AwaitTerminal(context.Background(), "int_done", time.Second)
	require.NoError(t, err)
	require.Equal(t, gateway.StatusCancelled, status)
}

func TestAwaitTerminalTimesOut(t *testing.T) {
	gw := &mockGateway{} // GetIntent reports PROCESSING forever
	orc := newTestOrchestrator(gw)
	require.NoError(t, orc.Store.Put(context.Background(), Record{
		Intent: gateway.Intent{ID: "int_1", Status: gateway.StatusProcessing},
		Status: gateway.StatusProcessing,
	}))

	_, err := orc.AwaitTerminal(context.Background(), "int_1", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrAwaitTimeout)
}

func TestAwaitTerminalHonorsContext(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)
	require.NoError(t, orc.Store.Put(context.Background(), Record{
		Intent: gateway.Intent{ID: "int_1", Status: gateway.StatusProcessing},
		Status: gateway.StatusProcessing,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := orc.AwaitTerminal(ctx, "int_1", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitTerminalRejectsUnconfirmedIntent(t *testing.T) {
	gw := &mockGateway{
		confirmResult: gateway.ConfirmResult{Intent: gateway.Intent{Status: gateway.StatusSucceeded}},
	}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	// No confirmation has been submitted yet, so there is nothing to wait
	// for and no poller must be started.
	_, err = orc.AwaitTerminal(context.Background(), "int_order-1", 100*time.Millisecond)
	var valErr *gateway.ValidationError
	require.ErrorAs(t, err, &valErr)

	// The premature wait must not have burned the intent: it is still
	// confirmable, not TIMED_OUT.
	time.Sleep(30 * time.Millisecond)
	rec, err := orc.Store.Get(context.Background(), "int_order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusRequiresPaymentMethod, rec.Status)

	outcome, err := orc.Confirm(context.Background(), "int_order-1", validCard())
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, outcome.Status)
}

func TestGetStatusUsesCacheForTerminalIntents(t *testing.T) {
	gw := &mockGateway{}
	orc := newTestOrchestrator(gw)
	require.NoError(t, orc.Store.Put(context.Background(), Record{
		Intent: gateway.Intent{ID: "int_done", Status: gateway.StatusSucceeded},
		Status: gateway.StatusSucceeded,
	}))

	status, err := orc.GetStatus(context.Background(), "int_done")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, status)

	_, _, get := gw.counts()
	require.Zero(t, get)
}

func TestGetStatusRefreshesUnwatchedIntent(t *testing.T) {
	gw := &mockGateway{getStatuses: []gateway.IntentStatus{gateway.StatusSucceeded}}
	orc := newTestOrchestrator(gw)
	_, err := orc.CreateIntent(context.Background(), 10, "USD", "order-1")
	require.NoError(t, err)

	status, err := orc.GetStatus(context.Background(), "int_order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, status)

	rec, err := orc.Store.Get(context.Background(), "int_order-1")
	require.NoError(t, err)
	require.Equal(t, gateway.StatusSucceeded, rec.Status)
}

func TestGetStatusUnknownIntent(t *testing.T) {
	orc := newTestOrchestrator(&mockGateway{})
	_, err := orc.GetStatus(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}
