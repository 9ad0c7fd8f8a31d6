package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

const cmcAPI = "https://pro-api.coinmarketcap.com"

// CMC is the CoinMarketCap quotes adapter. Every id of a cycle is priced by
// a single batch request.
type CMC struct {
	client *resty.Client
}

func NewCMC(apiKey string, timeout time.Duration) *CMC {
	return newCMC(cmcAPI, apiKey, timeout)
}

func newCMC(baseURL, apiKey string, timeout time.Duration) *CMC {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("X-CMC_PRO_API_KEY", apiKey)
	return &CMC{client: client}
}

type cmcEnvelope struct {
	Status struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Data map[string]json.RawMessage `json:"data"`
}

type cmcQuote struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	Quote  struct {
		USD struct {
			Price *decimal.Decimal `json:"price"`
		} `json:"USD"`
	} `json:"quote"`
}

func (c *CMC) quotes(ctx context.Context, ids []int) ([]cmcQuote, error) {
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.Itoa(id)
	}

	var env cmcEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetQueryParams(map[string]string{
			"id":           strings.Join(strIDs, ","),
			"convert":      "USD",
			"skip_invalid": "true",
		}).
		SetResult(&env).
		SetError(&env).
		Get("/v2/cryptocurrency/quotes/latest")
	if err != nil {
		return nil, fmt.Errorf("cmc quotes: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cmc quotes: status %d (%d: %s)",
			resp.StatusCode(), env.Status.ErrorCode, env.Status.ErrorMessage)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("cmc quotes: response has no data")
	}

	var out []cmcQuote
	for _, raw := range env.Data {
		out = append(out, decodeCMCEntry(raw)...)
	}
	return out, nil
}

// decodeCMCEntry accepts either a single quote object or a list of them.
// Entries that do not decode or carry no id of their own are dropped.
func decodeCMCEntry(raw json.RawMessage) []cmcQuote {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
		var out []cmcQuote
		for _, item := range list {
			var q cmcQuote
			if err := json.Unmarshal(item, &q); err == nil && q.ID != 0 {
				out = append(out, q)
			}
		}
		return out
	}

	var q cmcQuote
	if err := json.Unmarshal(raw, &q); err != nil || q.ID == 0 {
		return nil
	}
	return []cmcQuote{q}
}

// FetchBatch prices ids with one request. The result is keyed by the id
// each returned entry reports, not by the id that was asked for; entries
// without a USD price are absent from the result.
func (c *CMC) FetchBatch(ctx context.Context, ids []int) (map[int]decimal.Decimal, error) {
	prices := make(map[int]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return prices, nil
	}
	quotes, err := c.quotes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, q := range quotes {
		if q.Quote.USD.Price == nil {
			continue
		}
		prices[q.ID] = *q.Quote.USD.Price
	}
	return prices, nil
}

// Lookup resolves name, symbol and current price for a single id.
func (c *CMC) Lookup(ctx context.Context, id int) (Token, error) {
	quotes, err := c.quotes(ctx, []int{id})
	if err != nil {
		return Token{}, err
	}
	for _, q := range quotes {
		if q.ID != id {
			continue
		}
		tok := Token{Name: q.Name, Symbol: q.Symbol}
		if q.Quote.USD.Price != nil {
			tok.Price = *q.Quote.USD.Price
			tok.HasPrice = true
		}
		return tok, nil
	}
	return Token{}, fmt.Errorf("cmc id %d: %w", id, ErrTokenNotFound)
}
