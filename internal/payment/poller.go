package payment

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/acmepay/payflow/internal/gateway"
	"github.com/acmepay/payflow/internal/obs"
)

// PollerConfig bounds the polling loop for one intent.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
	MaxWait     time.Duration
	ErrorBudget int
}

func (c PollerConfig) interval() time.Duration {
	if c.Interval <= 0 {
		return 3 * time.Second
	}
	return c.Interval
}

func (c PollerConfig) maxAttempts() int {
	if c.MaxAttempts <= 0 {
		return 20
	}
	return c.MaxAttempts
}

func (c PollerConfig) maxWait() time.Duration {
	if c.MaxWait <= 0 {
		return c.interval() * time.Duration(c.maxAttempts()+2)
	}
	return c.MaxWait
}

func (c PollerConfig) errorBudget() int {
	if c.ErrorBudget <= 0 {
		return 3
	}
	return c.ErrorBudget
}

// Poller drives intents to a terminal status by re-reading the gateway on a
// fixed interval. Each Start call owns one intent; the loop runs detached from
// the confirming caller so a departed waiter never aborts status resolution.
type Poller struct {
	Gateway Gateway
	Store   Store
	Config  PollerConfig
	Logger  zerolog.Logger
}

// Watch is the completion handle for one polled intent. The terminal status is
// published exactly once; waiters that arrive after resolution read the cached
// value immediately.
type Watch struct {
	IntentID string
	done     chan struct{}
	once     sync.Once
	status   atomic.Value
}

func newWatch(intentID string) *Watch {
	return &Watch{IntentID: intentID, done: make(chan struct{})}
}

// Done is closed when the watch resolves.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Terminal returns the resolved status, if any.
func (w *Watch) Terminal() (gateway.IntentStatus, bool) {
	v := w.status.Load()
	if v == nil {
		return "", false
	}
	return v.(gateway.IntentStatus), true
}

func (w *Watch) resolve(status gateway.IntentStatus) {
	w.once.Do(func() {
		w.status.Store(status)
		close(w.done)
	})
}

// Start launches the polling loop for an intent and returns its watch.
func (p *Poller) Start(intentID string) *Watch {
	w := newWatch(intentID)
	go p.run(w)
	return w
}

func (p *Poller) run(w *Watch) {
	ctx := context.Background()
	deadline := time.Now().Add(p.Config.maxWait())
	ticker := time.NewTicker(p.Config.interval())
	defer ticker.Stop()

	attempts := 0
	readErrs := 0
	for range ticker.C {
		if time.Now().After(deadline) {
			p.finish(ctx, w, gateway.StatusTimedOut, "status polling deadline passed before resolution")
			return
		}
		intent, err := p.Gateway.GetIntent(ctx, w.IntentID)
		if err != nil {
			readErrs++
			p.Logger.Warn().Err(err).Str("intent_id", w.IntentID).Int("read_errors", readErrs).Msg("intent status read failed")
			if readErrs > p.Config.errorBudget() {
				p.finish(ctx, w, gateway.StatusTimedOut, "status reads kept failing before resolution")
				return
			}
			continue
		}
		if intent.Status.Terminal() {
			p.finish(ctx, w, intent.Status, "")
			return
		}
		attempts++
		if attempts >= p.Config.maxAttempts() {
			p.finish(ctx, w, gateway.StatusTimedOut, "status polling attempts exhausted before resolution")
			return
		}
	}
}

func (p *Poller) finish(ctx context.Context, w *Watch, status gateway.IntentStatus, reason string) {
	if err := p.Store.Update(ctx, w.IntentID, status, "", reason); err != nil {
		p.Logger.Error().Err(err).Str("intent_id", w.IntentID).Msg("record terminal status")
	}
	if obs.PollResolutionTotal != nil {
		obs.PollResolutionTotal.WithLabelValues(string(status)).Inc()
	}
	p.Logger.Info().Str("intent_id", w.IntentID).Str("status", string(status)).Msg("poll resolved")
	w.resolve(status)
}
