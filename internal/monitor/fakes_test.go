package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
)

var errNotFound = errors.New("not found")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memStore is an in-memory AlertStore.
type memStore struct {
	mu              sync.Mutex
	alerts          map[int64]*alert.Alert
	listErr         error
	deactivateErr   error
	deactivateCalls int
}

func newMemStore(alerts ...alert.Alert) *memStore {
	s := &memStore{alerts: make(map[int64]*alert.Alert)}
	for i := range alerts {
		a := alerts[i]
		s.alerts[a.ID] = &a
	}
	return s
}

func (s *memStore) ActiveAlerts(_ context.Context, source alert.Source) ([]alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []alert.Alert
	for _, a := range s.alerts {
		if a.Active && a.Source() == source {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) DeactivateAndLog(_ context.Context, id int64, price decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateCalls++
	if s.deactivateErr != nil {
		return false, s.deactivateErr
	}
	a, ok := s.alerts[id]
	if !ok {
		return false, errNotFound
	}
	if !a.Active {
		return false, nil
	}
	now := time.Now()
	a.Active = false
	a.TriggerCount++
	a.LastTriggeredAt = &now
	a.LastTriggeredPrice = &price
	return true, nil
}

func (s *memStore) get(id int64) alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.alerts[id]
}

func (s *memStore) setDeactivateErr(err error) {
	s.mu.Lock()
	s.deactivateErr = err
	s.mu.Unlock()
}

func (s *memStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateCalls
}

// fakeNotifier records every attempt and can be told to reject either
// message variant.
type fakeNotifier struct {
	mu        sync.Mutex
	failRich  bool
	failPlain bool
	attempts  []Message
	sent      []Message
}

func (n *fakeNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts = append(n.attempts, msg)
	if msg.Rich && n.failRich {
		return errors.New("can't parse entities")
	}
	if !msg.Rich && n.failPlain {
		return errors.New("chat not found")
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) sentMessages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}

func (n *fakeNotifier) attemptCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.attempts)
}

// staticFetcher serves prices from a map that tests can swap between
// cycles. hook, when set, runs inside FetchPrices.
type staticFetcher struct {
	source alert.Source

	mu     sync.Mutex
	prices map[string]decimal.Decimal
	seen   [][]alert.Alert
	hook   func(ctx context.Context)
}

func (f *staticFetcher) Source() alert.Source { return f.source }

func (f *staticFetcher) FetchPrices(ctx context.Context, alerts []alert.Alert) PriceCache {
	f.mu.Lock()
	hook := f.hook
	f.seen = append(f.seen, alerts)
	prices := f.prices
	f.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}
	cache := NewPriceCache()
	for k, p := range prices {
		cache.Set(k, p)
	}
	return cache
}

func (f *staticFetcher) setPrices(p map[string]decimal.Decimal) {
	f.mu.Lock()
	f.prices = p
	f.mu.Unlock()
}

// memDedup is an in-memory Deduper.
type memDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newMemDedup() *memDedup { return &memDedup{keys: make(map[string]bool)} }

func (d *memDedup) AlreadySent(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key]
}

func (d *memDedup) Record(_ context.Context, key string) {
	d.mu.Lock()
	d.keys[key] = true
	d.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func cmcAlert(id int64, cmcID int, cond alert.Condition, price string) alert.Alert {
	return alert.Alert{
		ID:          id,
		OwnerID:     1000 + id,
		Target:      alert.CMCTarget{ID: cmcID},
		DisplayName: "Bitcoin (BTC)",
		Condition:   cond,
		TargetPrice: dec(price),
		Label:       "test alert",
		Active:      true,
	}
}

func geckoAlert(id int64, network, address string, cond alert.Condition, price string) alert.Alert {
	return alert.Alert{
		ID:          id,
		OwnerID:     1000 + id,
		Target:      alert.CoinGeckoTarget{Network: network, Address: address},
		DisplayName: "Foo (FOO)",
		Condition:   cond,
		TargetPrice: dec(price),
		Label:       "gecko alert",
		Active:      true,
	}
}
