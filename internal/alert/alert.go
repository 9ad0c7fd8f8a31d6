// Package alert holds the price alert domain model: which upstream source
// prices an alert, what it watches, and when it fires.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the upstream price provider that services an alert.
type Source string

const (
	SourceCMC       Source = "cmc"
	SourceCoinGecko Source = "coingecko"
)

// ParseSource accepts the canonical names plus the "gecko" shorthand.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cmc", "coinmarketcap":
		return SourceCMC, nil
	case "coingecko", "gecko":
		return SourceCoinGecko, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Condition is the comparison applied between the live and target price.
type Condition string

const (
	Above Condition = "above"
	Below Condition = "below"
)

func ParseCondition(s string) (Condition, error) {
	switch Condition(strings.ToLower(strings.TrimSpace(s))) {
	case Above:
		return Above, nil
	case Below:
		return Below, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Title returns the condition with a leading capital, for messages.
func (c Condition) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// Target is the provider-specific key an alert is priced by. It is either a
// CMCTarget or a CoinGeckoTarget.
type Target interface {
	fmt.Stringer
	Source() Source
	// Key is the price cache key for this target.
	Key() string
	isTarget()
}

// CMCTarget watches a CoinMarketCap asset by its integer id.
type CMCTarget struct {
	ID int
}

func (CMCTarget) Source() Source { return SourceCMC }
func (t CMCTarget) Key() string  { return CMCKey(t.ID) }
func (CMCTarget) isTarget()      {}

func (t CMCTarget) String() string {
	return "cmc:" + strconv.Itoa(t.ID)
}

// CoinGeckoTarget watches an on-chain token by network and contract address.
// The address keeps the case it was created with; some chains (Solana) are
// case-sensitive on the wire.
type CoinGeckoTarget struct {
	Network string
	Address string
}

func (CoinGeckoTarget) Source() Source { return SourceCoinGecko }
func (t CoinGeckoTarget) Key() string  { return CoinGeckoKey(t.Network, t.Address) }
func (CoinGeckoTarget) isTarget()      {}

func (t CoinGeckoTarget) String() string {
	return "coingecko:" + t.Network + ":" + t.Address
}

// CMCKey is the cache key for a CoinMarketCap id.
func CMCKey(id int) string { return strconv.Itoa(id) }

// CoinGeckoKey is the cache key for an on-chain token. Addresses compare
// case-insensitively.
func CoinGeckoKey(network, address string) string {
	return strings.ToLower(strings.TrimSpace(network)) + ":" + strings.ToLower(strings.TrimSpace(address))
}

// Alert is one user-configured price alert.
type Alert struct {
	ID          int64
	OwnerID     int64
	Target      Target
	DisplayName string
	Condition   Condition
	TargetPrice decimal.Decimal
	Label       string
	Active      bool

	TriggerCount       int
	LastTriggeredAt    *time.Time
	LastTriggeredPrice *decimal.Decimal

	// PollingIntervalOverride is informational; loops run on a fixed
	// per-source interval.
	PollingIntervalOverride *int
	CreatedAt               time.Time
}

// Source returns the source of the alert's target.
func (a Alert) Source() Source {
	if a.Target == nil {
		return ""
	}
	return a.Target.Source()
}

var (
	ErrInvalidTarget    = errors.New("invalid target")
	ErrInvalidCondition = errors.New("invalid condition")
	ErrInvalidPrice     = errors.New("target price must be positive")
	ErrInvalidState     = errors.New("active alert cannot carry trigger metadata")
)

// Validate checks the record invariants.
func (a Alert) Validate() error {
	switch t := a.Target.(type) {
	case CMCTarget:
		if t.ID <= 0 {
			return fmt.Errorf("%w: cmc id %d", ErrInvalidTarget, t.ID)
		}
	case CoinGeckoTarget:
		if strings.TrimSpace(t.Network) == "" || strings.TrimSpace(t.Address) == "" {
			return fmt.Errorf("%w: network and address required", ErrInvalidTarget)
		}
	default:
		return ErrInvalidTarget
	}
	if a.Condition != Above && a.Condition != Below {
		return fmt.Errorf("%w: %q", ErrInvalidCondition, a.Condition)
	}
	if !a.TargetPrice.IsPositive() {
		return ErrInvalidPrice
	}
	if a.Active && a.LastTriggeredAt != nil {
		return ErrInvalidState
	}
	return nil
}

// DefaultLabel builds the label used when the user does not supply one,
// e.g. "Bitcoin above $70000".
func DefaultLabel(displayName string, cond Condition, price decimal.Decimal) string {
	return fmt.Sprintf("%s %s $%s", displayName, cond, price.String())
}

// MarshalJSON flattens the target into source-specific columns.
func (a Alert) MarshalJSON() ([]byte, error) {
	type view struct {
		ID                      int64            `json:"id"`
		OwnerID                 int64            `json:"owner_id"`
		Source                  Source           `json:"source"`
		CMCID                   *int             `json:"cmc_id,omitempty"`
		NetworkID               string           `json:"network_id,omitempty"`
		TokenAddress            string           `json:"token_address,omitempty"`
		DisplayName             string           `json:"display_name"`
		Condition               Condition        `json:"condition"`
		TargetPrice             decimal.Decimal  `json:"target_price"`
		Label                   string           `json:"label"`
		Active                  bool             `json:"is_active"`
		TriggerCount            int              `json:"trigger_count"`
		LastTriggeredAt         *time.Time       `json:"last_triggered_at"`
		LastTriggeredPrice      *decimal.Decimal `json:"last_triggered_price"`
		PollingIntervalOverride *int             `json:"polling_interval_override,omitempty"`
		CreatedAt               time.Time        `json:"created_at"`
	}
	v := view{
		ID:                      a.ID,
		OwnerID:                 a.OwnerID,
		Source:                  a.Source(),
		DisplayName:             a.DisplayName,
		Condition:               a.Condition,
		TargetPrice:             a.TargetPrice,
		Label:                   a.Label,
		Active:                  a.Active,
		TriggerCount:            a.TriggerCount,
		LastTriggeredAt:         a.LastTriggeredAt,
		LastTriggeredPrice:      a.LastTriggeredPrice,
		PollingIntervalOverride: a.PollingIntervalOverride,
		CreatedAt:               a.CreatedAt,
	}
	switch t := a.Target.(type) {
	case CMCTarget:
		id := t.ID
		v.CMCID = &id
	case CoinGeckoTarget:
		v.NetworkID = t.Network
		v.TokenAddress = t.Address
	}
	return json.Marshal(v)
}
