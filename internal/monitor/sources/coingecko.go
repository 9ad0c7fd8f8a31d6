package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

const coinGeckoAPI = "https://api.coingecko.com/api/v3"

// CoinGecko is the on-chain token adapter. Tokens are priced one request at
// a time, with at most a fixed number of requests in flight and a pause held
// after each one before its slot is released.
type CoinGecko struct {
	client *resty.Client
	sem    *semaphore.Weighted
	delay  time.Duration
}

// CoinGeckoOptions tunes request pacing.
type CoinGeckoOptions struct {
	Concurrency  int
	RequestDelay time.Duration
	Timeout      time.Duration
}

func NewCoinGecko(apiKey string, opts CoinGeckoOptions) *CoinGecko {
	return newCoinGecko(coinGeckoAPI, apiKey, opts)
}

func newCoinGecko(baseURL, apiKey string, opts CoinGeckoOptions) *CoinGecko {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("x-cg-demo-api-key", apiKey)
	}
	return &CoinGecko{
		client: client,
		sem:    semaphore.NewWeighted(int64(opts.Concurrency)),
		delay:  opts.RequestDelay,
	}
}

// get runs one request while holding a concurrency slot. The slot is kept
// for the configured delay after the response arrives.
func (g *CoinGecko) get(ctx context.Context, path string, query map[string]string, result any) (*resty.Response, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer func() {
		if g.delay > 0 {
			t := time.NewTimer(g.delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
			}
		}
		g.sem.Release(1)
	}()

	return g.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetQueryParams(query).
		SetResult(result).
		Get(path)
}

type onchainTokenResponse struct {
	Data struct {
		Attributes struct {
			Name            string  `json:"name"`
			Symbol          string  `json:"symbol"`
			PriceUSD        *string `json:"price_usd"`
			CoinGeckoCoinID *string `json:"coingecko_coin_id"`
		} `json:"attributes"`
	} `json:"data"`
}

// FetchOne returns name, symbol and USD price of a token on a network. When
// the token has no on-chain price but maps to a CoinGecko coin, that coin's
// price is used instead (one extra request, never more). If neither yields
// a price the returned Token carries the metadata and the error wraps
// ErrNoPrice.
func (g *CoinGecko) FetchOne(ctx context.Context, network, address string) (Token, error) {
	var body onchainTokenResponse
	path := "/onchain/networks/" + url.PathEscape(network) + "/tokens/" + url.PathEscape(address)
	resp, err := g.get(ctx, path, nil, &body)
	if err != nil {
		return Token{}, fmt.Errorf("coingecko token %s/%s: %w", network, address, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return Token{}, fmt.Errorf("coingecko token %s/%s: %w", network, address, ErrTokenNotFound)
	default:
		return Token{}, fmt.Errorf("coingecko token %s/%s: status %d", network, address, resp.StatusCode())
	}

	attrs := body.Data.Attributes
	if attrs.Name == "" || attrs.Symbol == "" {
		return Token{}, fmt.Errorf("coingecko token %s/%s: missing name or symbol", network, address)
	}
	tok := Token{Name: attrs.Name, Symbol: attrs.Symbol}

	if attrs.PriceUSD != nil {
		if p, err := decimal.NewFromString(*attrs.PriceUSD); err == nil {
			tok.Price, tok.HasPrice = p, true
			return tok, nil
		}
	}

	if attrs.CoinGeckoCoinID == nil || strings.TrimSpace(*attrs.CoinGeckoCoinID) == "" {
		return tok, fmt.Errorf("coingecko token %s/%s: %w", network, address, ErrNoPrice)
	}
	p, err := g.FetchPriceByCoinID(ctx, *attrs.CoinGeckoCoinID)
	if err != nil {
		return tok, fmt.Errorf("coingecko token %s/%s via %s: %w", network, address, *attrs.CoinGeckoCoinID, err)
	}
	tok.Price, tok.HasPrice = p, true
	return tok, nil
}

// FetchPriceByCoinID returns the USD price of a CoinGecko coin id.
func (g *CoinGecko) FetchPriceByCoinID(ctx context.Context, coinID string) (decimal.Decimal, error) {
	var body map[string]map[string]*decimal.Decimal
	resp, err := g.get(ctx, "/simple/price", map[string]string{
		"ids":           coinID,
		"vs_currencies": "usd",
	}, &body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko simple price %s: %w", coinID, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko simple price %s: status %d", coinID, resp.StatusCode())
	}
	p := body[coinID]["usd"]
	if p == nil {
		return decimal.Zero, ErrNoPrice
	}
	return *p, nil
}
