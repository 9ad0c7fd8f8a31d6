package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/metrics"
)

// Loop states.
const (
	StateIdle           = "idle"
	StateFetchingAlerts = "fetching_alerts"
	StateFetchingPrices = "fetching_prices"
	StateEvaluating     = "evaluating"
	StateSleeping       = "sleeping"
	StateStopped        = "stopped"
)

// CycleResult summarises one polling cycle.
type CycleResult struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Alerts      int       `json:"alerts"`
	Priced      int       `json:"priced"`
	Misses      int       `json:"misses"`
	Triggered   int       `json:"triggered"`
	Notified    int       `json:"notified"`
	Deactivated int       `json:"deactivated"`
	Error       string    `json:"error,omitempty"`
}

// LoopStatus is a point-in-time view of a loop for the stats API.
type LoopStatus struct {
	Source    alert.Source `json:"source"`
	State     string       `json:"state"`
	Interval  string       `json:"interval"`
	Cycles    int          `json:"cycles"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

// Loop polls one source: load its active alerts, price them, fire and
// deactivate the ones whose condition holds, then sleep. Loops of different
// sources share nothing but the store and the notifier.
type Loop struct {
	source   alert.Source
	store    AlertStore
	fetcher  PriceFetcher
	notifier Notifier
	dedup    Deduper
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  string
	cycles int
	last   *CycleResult
}

func NewLoop(fetcher PriceFetcher, store AlertStore, notifier Notifier, interval time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		source:   fetcher.Source(),
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		interval: interval,
		logger:   logger.With("component", "loop", "source", fetcher.Source()),
		state:    StateIdle,
	}
}

// WithDedup enables delivery dedup. A nil Deduper disables it.
func (l *Loop) WithDedup(d Deduper) *Loop {
	l.dedup = d
	return l
}

func (l *Loop) Source() alert.Source { return l.source }

// Run executes cycles until ctx is cancelled. Cancellation is only observed
// between cycles; a cycle in progress always runs to completion.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("loop started", "interval", l.interval.String())
	defer func() {
		l.setState(StateStopped)
		l.logger.Info("loop stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		l.RunCycle(context.WithoutCancel(ctx))

		l.setState(StateSleeping)
		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		l.setState(StateIdle)
	}
}

// RunCycle performs one full cycle. Errors and panics are contained here so
// the loop always reaches its next sleep.
func (l *Loop) RunCycle(ctx context.Context) (res CycleResult) {
	res.StartedAt = time.Now()
	src := string(l.source)

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
			l.logger.Error("cycle panicked", "panic", r, "stack", string(debug.Stack()))
		}
		res.FinishedAt = time.Now()
		status := "ok"
		if res.Error != "" {
			status = "error"
		} else {
			metrics.CycleLastSuccess.WithLabelValues(src).SetToCurrentTime()
		}
		metrics.CyclesTotal.WithLabelValues(src, status).Inc()
		metrics.CycleDuration.WithLabelValues(src).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
		l.finishCycle(res)
		l.setState(StateIdle)
	}()

	l.setState(StateFetchingAlerts)
	alerts, err := l.store.ActiveAlerts(ctx, l.source)
	if err != nil {
		res.Error = err.Error()
		l.logger.Error("load active alerts failed", "error", err)
		return res
	}
	res.Alerts = len(alerts)
	metrics.ActiveAlerts.WithLabelValues(src).Set(float64(len(alerts)))
	if len(alerts) == 0 {
		l.logger.Debug("no active alerts")
		return res
	}

	l.setState(StateFetchingPrices)
	cache := l.fetcher.FetchPrices(ctx, alerts)
	res.Priced = cache.Len()

	l.setState(StateEvaluating)
	for _, a := range alerts {
		if a.Source() != l.source {
			continue
		}
		price, ok := cache.Get(a.Target.Key())
		if !ok {
			res.Misses++
			metrics.CacheMisses.WithLabelValues(src).Inc()
			l.logger.Warn("no price this cycle, skipping", "alert_id", a.ID, "target", a.Target.String())
			continue
		}
		if !a.Triggered(price) {
			continue
		}

		res.Triggered++
		metrics.TriggersTotal.WithLabelValues(src, string(a.Condition)).Inc()
		l.logger.Info("alert triggered", "alert_id", a.ID, "owner_id", a.OwnerID,
			"condition", a.Condition, "target_price", a.TargetPrice.String(), "price", price.String())

		if l.deliver(ctx, a, price) {
			res.Notified++
		}
		if l.deactivate(ctx, a, price) {
			res.Deactivated++
		}
	}

	l.logger.Info("cycle complete", "alerts", res.Alerts, "priced", res.Priced, "misses", res.Misses,
		"triggered", res.Triggered, "notified", res.Notified, "deactivated", res.Deactivated,
		"duration", time.Since(res.StartedAt).String())
	return res
}

// deliver sends the rich message and falls back to plain text once. It
// reports whether the owner received either.
func (l *Loop) deliver(ctx context.Context, a alert.Alert, price decimal.Decimal) bool {
	src := string(l.source)
	key := dedupKey(a)
	if l.dedup != nil && l.dedup.AlreadySent(ctx, key) {
		metrics.NotificationsTotal.WithLabelValues(src, "deduplicated").Inc()
		l.logger.Info("notification already delivered, skipping send", "alert_id", a.ID, "key", key)
		return false
	}

	rich := Message{ChatID: a.OwnerID, AlertID: a.ID, Text: alert.RichMessage(a, price), Rich: true}
	err := l.notifier.Send(ctx, rich)
	if err == nil {
		metrics.NotificationsTotal.WithLabelValues(src, "rich").Inc()
		l.recordDelivery(ctx, key)
		return true
	}
	l.logger.Warn("rich notification failed, retrying as plain text", "alert_id", a.ID, "error", err)

	plain := Message{ChatID: a.OwnerID, AlertID: a.ID, Text: alert.PlainMessage(a, price)}
	if err := l.notifier.Send(ctx, plain); err != nil {
		metrics.NotificationsTotal.WithLabelValues(src, "failed").Inc()
		l.logger.Error("notification failed", "alert_id", a.ID, "owner_id", a.OwnerID, "error", err)
		return false
	}
	metrics.NotificationsTotal.WithLabelValues(src, "plain").Inc()
	l.recordDelivery(ctx, key)
	return true
}

func (l *Loop) recordDelivery(ctx context.Context, key string) {
	if l.dedup != nil {
		l.dedup.Record(ctx, key)
	}
}

// deactivate runs whether or not delivery succeeded. A failure leaves the
// alert active and it is evaluated again next cycle.
func (l *Loop) deactivate(ctx context.Context, a alert.Alert, price decimal.Decimal) bool {
	changed, err := l.store.DeactivateAndLog(ctx, a.ID, price)
	if err != nil {
		metrics.DeactivationFailures.WithLabelValues(string(l.source)).Inc()
		l.logger.Error("deactivate alert failed", "alert_id", a.ID, "error", err)
		return false
	}
	if !changed {
		l.logger.Info("alert already inactive", "alert_id", a.ID)
		return false
	}
	return true
}

func (l *Loop) setState(s string) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Loop) finishCycle(res CycleResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycles++
	l.last = &res
}

// Status returns the loop's current state and its last cycle result.
func (l *Loop) Status() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := LoopStatus{
		Source:   l.source,
		State:    l.state,
		Interval: l.interval.String(),
		Cycles:   l.cycles,
	}
	if l.last != nil {
		last := *l.last
		st.LastCycle = &last
	}
	return st
}
