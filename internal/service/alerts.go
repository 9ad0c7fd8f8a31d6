// Package service holds the alert management use-cases shared by the
// Telegram commands and the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
	"github.com/web3-frozen/price-alerts/internal/store"
)

// defaultCoinGeckoPollingSeconds is stored on new coingecko alerts when the
// caller does not pick an interval. It is informational only.
const defaultCoinGeckoPollingSeconds = 210

// Store is the persistence Alerts needs.
type Store interface {
	Create(ctx context.Context, a alert.Alert) (alert.Alert, error)
	Reactivate(ctx context.Context, id, ownerID int64, cond alert.Condition, price decimal.Decimal) (alert.Alert, error)
	Delete(ctx context.Context, id, ownerID int64) error
	Get(ctx context.Context, id int64) (alert.Alert, error)
	ListByOwner(ctx context.Context, ownerID int64, onlyActive bool) ([]alert.Alert, error)
}

// CMCLookup resolves CoinMarketCap ids.
type CMCLookup interface {
	Lookup(ctx context.Context, id int) (sources.Token, error)
}

// TokenLookup resolves on-chain tokens.
type TokenLookup interface {
	FetchOne(ctx context.Context, network, address string) (sources.Token, error)
}

// DeliveryLog forgets delivery records of deleted alerts.
type DeliveryLog interface {
	ForgetAlert(ctx context.Context, alertID int64)
}

type Alerts struct {
	store  Store
	cmc    CMCLookup
	gecko  TokenLookup
	log    DeliveryLog
	logger *slog.Logger
}

func NewAlerts(store Store, cmc CMCLookup, gecko TokenLookup, logger *slog.Logger) *Alerts {
	return &Alerts{store: store, cmc: cmc, gecko: gecko, logger: logger.With("component", "alerts")}
}

// WithDeliveryLog makes Delete also drop the alert's dedup records.
func (s *Alerts) WithDeliveryLog(l DeliveryLog) *Alerts {
	s.log = l
	return s
}

// CreateRequest describes a new alert. CMCID is used for cmc alerts,
// Network and Address for coingecko ones.
type CreateRequest struct {
	OwnerID         int64  `json:"owner_id"`
	Source          string `json:"source"`
	CMCID           int    `json:"cmc_id,omitempty"`
	Network         string `json:"network_id,omitempty"`
	Address         string `json:"token_address,omitempty"`
	Condition       string `json:"condition"`
	TargetPrice     string `json:"target_price"`
	Label           string `json:"label,omitempty"`
	PollingInterval *int   `json:"polling_interval,omitempty"`
}

// ParsePrice accepts "70000", "$70,000" or "0.00001234".
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", alert.ErrInvalidPrice, s)
	}
	if !p.IsPositive() {
		return decimal.Zero, alert.ErrInvalidPrice
	}
	return p, nil
}

func parseCondition(s string) (alert.Condition, error) {
	c, err := alert.ParseCondition(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", alert.ErrInvalidCondition, s)
	}
	return c, nil
}

// Create resolves the token's display name from its provider, fills in a
// default label and stores the alert as active.
func (s *Alerts) Create(ctx context.Context, req CreateRequest) (alert.Alert, error) {
	source, err := alert.ParseSource(req.Source)
	if err != nil {
		return alert.Alert{}, fmt.Errorf("%w: %v", alert.ErrInvalidTarget, err)
	}
	cond, err := parseCondition(req.Condition)
	if err != nil {
		return alert.Alert{}, err
	}
	price, err := ParsePrice(req.TargetPrice)
	if err != nil {
		return alert.Alert{}, err
	}

	a := alert.Alert{
		OwnerID:     req.OwnerID,
		Condition:   cond,
		TargetPrice: price,
		Label:       strings.TrimSpace(req.Label),
	}

	var tok sources.Token
	switch source {
	case alert.SourceCMC:
		if req.CMCID <= 0 {
			return alert.Alert{}, fmt.Errorf("%w: cmc id required", alert.ErrInvalidTarget)
		}
		a.Target = alert.CMCTarget{ID: req.CMCID}
		tok, err = s.cmc.Lookup(ctx, req.CMCID)
	case alert.SourceCoinGecko:
		network, address := strings.TrimSpace(req.Network), strings.TrimSpace(req.Address)
		if network == "" || address == "" {
			return alert.Alert{}, fmt.Errorf("%w: network and address required", alert.ErrInvalidTarget)
		}
		a.Target = alert.CoinGeckoTarget{Network: strings.ToLower(network), Address: address}
		interval := defaultCoinGeckoPollingSeconds
		if req.PollingInterval != nil && *req.PollingInterval > 0 {
			interval = *req.PollingInterval
		}
		a.PollingIntervalOverride = &interval
		tok, err = s.gecko.FetchOne(ctx, network, address)
		if errors.Is(err, sources.ErrNoPrice) {
			// Known token without a price yet; its cycles will skip it until
			// one appears.
			s.logger.Warn("creating alert for unpriced token", "network", network, "address", address)
			err = nil
		}
	}
	if err != nil {
		return alert.Alert{}, fmt.Errorf("resolve token %s: %w", a.Target, err)
	}

	a.DisplayName = tok.DisplayName()
	if a.Label == "" {
		name := tok.Name
		if name == "" {
			name = a.DisplayName
		}
		a.Label = alert.DefaultLabel(name, cond, price)
	}

	created, err := s.store.Create(ctx, a)
	if err != nil {
		return alert.Alert{}, err
	}
	s.logger.Info("alert created", "alert_id", created.ID, "owner_id", created.OwnerID,
		"target", created.Target.String(), "condition", created.Condition, "target_price", created.TargetPrice.String())
	return created, nil
}

// Reactivate re-arms an owner's alert with a new condition and price.
func (s *Alerts) Reactivate(ctx context.Context, id, ownerID int64, condition, targetPrice string) (alert.Alert, error) {
	cond, err := parseCondition(condition)
	if err != nil {
		return alert.Alert{}, err
	}
	price, err := ParsePrice(targetPrice)
	if err != nil {
		return alert.Alert{}, err
	}
	a, err := s.store.Reactivate(ctx, id, ownerID, cond, price)
	if err != nil {
		return alert.Alert{}, err
	}
	s.logger.Info("alert reactivated", "alert_id", id, "owner_id", ownerID,
		"condition", cond, "target_price", price.String())
	return a, nil
}

func (s *Alerts) Delete(ctx context.Context, id, ownerID int64) error {
	if err := s.store.Delete(ctx, id, ownerID); err != nil {
		return err
	}
	if s.log != nil {
		s.log.ForgetAlert(ctx, id)
	}
	s.logger.Info("alert deleted", "alert_id", id, "owner_id", ownerID)
	return nil
}

// Get returns one of the owner's alerts. Alerts of other owners are reported
// as not found.
func (s *Alerts) Get(ctx context.Context, id, ownerID int64) (alert.Alert, error) {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return alert.Alert{}, err
	}
	if a.OwnerID != ownerID {
		return alert.Alert{}, fmt.Errorf("alert %d: %w", id, store.ErrNotFound)
	}
	return a, nil
}

func (s *Alerts) List(ctx context.Context, ownerID int64, onlyActive bool) ([]alert.Alert, error) {
	return s.store.ListByOwner(ctx, ownerID, onlyActive)
}
