// Package sources contains the upstream price provider adapters.
package sources

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoPrice means the provider knows the token but no usable USD price
	// could be resolved for it.
	ErrNoPrice = errors.New("no price available")
	// ErrTokenNotFound means the provider does not know the requested token.
	ErrTokenNotFound = errors.New("token not found")
)

// Token is what a provider reports about one asset.
type Token struct {
	Name   string
	Symbol string
	Price  decimal.Decimal
	// HasPrice is false when the provider returned metadata only.
	HasPrice bool
}

// DisplayName renders "Name (SYMBOL)", falling back to whichever is set.
func (t Token) DisplayName() string {
	switch {
	case t.Name != "" && t.Symbol != "":
		return fmt.Sprintf("%s (%s)", t.Name, t.Symbol)
	case t.Name != "":
		return t.Name
	default:
		return t.Symbol
	}
}
