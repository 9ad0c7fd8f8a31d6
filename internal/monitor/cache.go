package monitor

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceCache maps a target cache key to the price fetched for it in one
// cycle. A fresh cache is built for every cycle and is never shared between
// loops. A key that is absent means the price is unknown this cycle.
type PriceCache struct {
	prices map[string]decimal.Decimal
}

func NewPriceCache() PriceCache {
	return PriceCache{prices: make(map[string]decimal.Decimal)}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (c PriceCache) Set(key string, price decimal.Decimal) {
	c.prices[normalizeKey(key)] = price
}

func (c PriceCache) Get(key string) (decimal.Decimal, bool) {
	p, ok := c.prices[normalizeKey(key)]
	return p, ok
}

func (c PriceCache) Len() int { return len(c.prices) }
