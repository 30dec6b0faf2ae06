package polygon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/equityrun/equityrun/internal/models"
	"github.com/equityrun/equityrun/internal/provider"
)

// Wire shapes for the grouped/aggregate endpoints.
type aggsResponse struct {
	Status       string    `json:"status"`
	ResultsCount int       `json:"resultsCount"`
	Results      []aggsBar `json:"results"`
}

type aggsBar struct {
	Ticker    string  `json:"T"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
	VWAP      float64 `json:"vw"`
	Timestamp int64   `json:"t"`
}

type snapshotResponse struct {
	Status  string           `json:"status"`
	Tickers []snapshotTicker `json:"tickers"`
}

type snapshotTicker struct {
	Ticker    string `json:"ticker"`
	UpdatedNs int64  `json:"updated"`
	Day       struct {
		Volume float64 `json:"v"`
		Close  float64 `json:"c"`
	} `json:"day"`
	LastTrade struct {
		Price float64 `json:"p"`
	} `json:"lastTrade"`
	PrevDay struct {
		Close float64 `json:"c"`
	} `json:"prevDay"`
}

type referenceResponse struct {
	Status  string            `json:"status"`
	Results []referenceTicker `json:"results"`
	NextURL string            `json:"next_url"`
}

type referenceTicker struct {
	Ticker          string `json:"ticker"`
	Name            string `json:"name"`
	Type            string `json:"type"`
	PrimaryExchange string `json:"primary_exchange"`
}

// GroupedDaily returns one bar per symbol for the given session date.
func (c *Client) GroupedDaily(ctx context.Context, date time.Time) ([]models.RawBar, error) {
	endpoint := fmt.Sprintf("/v2/aggs/grouped/locale/us/market/stocks/%s", date.Format("2006-01-02"))
	params := url.Values{"adjusted": {"true"}}

	body, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapErr(KindMalformed, endpoint, 0, err)
	}

	bars := make([]models.RawBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, models.RawBar{
			Symbol: r.Ticker,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
			VWAP:   r.VWAP,
		})
	}
	return bars, nil
}

// SnapshotAll returns the current-session snapshot for every symbol.
func (c *Client) SnapshotAll(ctx context.Context) (map[string]models.Snapshot, error) {
	endpoint := "/v2/snapshot/locale/us/markets/stocks/tickers"

	body, err := c.fetch(ctx, endpoint, url.Values{})
	if err != nil {
		return nil, err
	}

	var resp snapshotResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapErr(KindMalformed, endpoint, 0, err)
	}

	snaps := make(map[string]models.Snapshot, len(resp.Tickers))
	for _, t := range resp.Tickers {
		price := t.LastTrade.Price
		if price == 0 {
			price = t.Day.Close
		}
		snaps[t.Ticker] = models.Snapshot{
			Symbol:    t.Ticker,
			LastPrice: price,
			DayVolume: t.Day.Volume,
			PrevClose: t.PrevDay.Close,
			Timestamp: time.Unix(0, t.UpdatedNs),
		}
	}
	return snaps, nil
}

// PrevDay returns the previous session's bar for one symbol.
func (c *Client) PrevDay(ctx context.Context, symbol string) (models.RawBar, error) {
	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/prev", symbol)

	body, err := c.fetch(ctx, endpoint, url.Values{"adjusted": {"true"}})
	if err != nil {
		return models.RawBar{}, err
	}

	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.RawBar{}, wrapErr(KindMalformed, endpoint, 0, err)
	}
	if len(resp.Results) == 0 {
		return models.RawBar{}, wrapErr(KindMalformed, endpoint, 0, fmt.Errorf("no results for %s", symbol))
	}

	r := resp.Results[0]
	return models.RawBar{
		Symbol: symbol,
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		VWAP:   r.VWAP,
	}, nil
}

// Aggregates returns span bars for a symbol over [from, to].
func (c *Client) Aggregates(ctx context.Context, symbol string, span string, from, to time.Time) ([]models.RawBar, error) {
	if span == "" {
		span = "day"
	}
	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/%s/%s/%s",
		symbol, span, from.Format("2006-01-02"), to.Format("2006-01-02"))
	params := url.Values{"adjusted": {"true"}, "sort": {"asc"}, "limit": {"120"}}

	body, err := c.fetch(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}

	var resp aggsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, wrapErr(KindMalformed, endpoint, 0, err)
	}

	bars := make([]models.RawBar, 0, len(resp.Results))
	var prevClose float64
	for _, r := range resp.Results {
		bars = append(bars, models.RawBar{
			Symbol:    symbol,
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
			VWAP:      r.VWAP,
			PrevClose: prevClose,
		})
		prevClose = r.Close
	}
	return bars, nil
}

// TickerDetailsBatch returns reference details for a set of symbols. The
// provider has no bulk endpoint, so this fans out per-symbol behind the
// shared bucket and semaphore.
func (c *Client) TickerDetailsBatch(ctx context.Context, symbols []string) ([]provider.TickerDetails, error) {
	details := make([]provider.TickerDetails, 0, len(symbols))
	for _, sym := range symbols {
		endpoint := fmt.Sprintf("/v3/reference/tickers/%s", sym)
		body, err := c.fetch(ctx, endpoint, url.Values{})
		if err != nil {
			// Missing reference data is per-symbol, not fatal for the batch.
			continue
		}

		var resp struct {
			Results struct {
				Ticker          string  `json:"ticker"`
				Name            string  `json:"name"`
				Type            string  `json:"type"`
				PrimaryExchange string  `json:"primary_exchange"`
				WeightedShares  float64 `json:"weighted_shares_outstanding"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			continue
		}

		d := provider.TickerDetails{
			Symbol:       resp.Results.Ticker,
			Name:         resp.Results.Name,
			SecurityType: resp.Results.Type,
			Exchange:     resp.Results.PrimaryExchange,
		}
		if resp.Results.WeightedShares > 0 {
			shares := resp.Results.WeightedShares
			d.FloatShares = &shares
		}
		details = append(details, d)
	}
	return details, nil
}

// ReferenceTickers pages through the common-stock reference list.
func (c *Client) ReferenceTickers(ctx context.Context, maxPages int) ([]provider.TickerDetails, error) {
	endpoint := "/v3/reference/tickers"
	params := url.Values{
		"type":   {"CS"},
		"market": {"stocks"},
		"active": {"true"},
		"limit":  {"1000"},
	}

	var all []provider.TickerDetails
	for page := 0; page < maxPages; page++ {
		body, err := c.fetch(ctx, endpoint, params)
		if err != nil {
			if len(all) > 0 {
				// Partial coverage beats none; the loader enforces the floor.
				return all, nil
			}
			return nil, err
		}

		var resp referenceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, wrapErr(KindMalformed, endpoint, 0, err)
		}

		for _, t := range resp.Results {
			all = append(all, provider.TickerDetails{
				Symbol:       t.Ticker,
				Name:         t.Name,
				SecurityType: t.Type,
				Exchange:     t.PrimaryExchange,
			})
		}

		if resp.NextURL == "" {
			break
		}
		cursor, err := cursorFrom(resp.NextURL)
		if err != nil || cursor == "" {
			break
		}
		params = url.Values{"cursor": {cursor}, "limit": {strconv.Itoa(1000)}}
	}
	return all, nil
}

func cursorFrom(nextURL string) (string, error) {
	u, err := url.Parse(nextURL)
	if err != nil {
		return "", err
	}
	return u.Query().Get("cursor"), nil
}
