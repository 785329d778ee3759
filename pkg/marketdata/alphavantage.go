package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultAlphaVantageBaseURL = "https://www.alphavantage.co"

// AlphaVantageProvider is the secondary quote/history source. It requires an
// API key; the aggregator only includes it in the chain when one is
// configured.
type AlphaVantageProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewAlphaVantageProvider creates the provider. An empty baseURL uses the
// public endpoint.
func NewAlphaVantageProvider(baseURL, apiKey string) *AlphaVantageProvider {
	if baseURL == "" {
		baseURL = defaultAlphaVantageBaseURL
	}
	return &AlphaVantageProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name implements Provider.
func (p *AlphaVantageProvider) Name() string {
	return "alphavantage"
}

// Quote implements Provider.
func (p *AlphaVantageProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	body, err := p.fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("alphavantage: decoding quote: %w", err)
	}
	if len(payload.GlobalQuote) == 0 {
		return nil, fmt.Errorf("alphavantage: no quote for %s", symbol)
	}

	price, err := strconv.ParseFloat(payload.GlobalQuote["05. price"], 64)
	if err != nil {
		return nil, fmt.Errorf("alphavantage: bad price for %s: %w", symbol, err)
	}
	change, _ := strconv.ParseFloat(payload.GlobalQuote["09. change"], 64)
	changePct, _ := strconv.ParseFloat(
		strings.TrimSuffix(payload.GlobalQuote["10. change percent"], "%"), 64)
	volume, _ := strconv.ParseInt(payload.GlobalQuote["06. volume"], 10, 64)

	timestamp := time.Now().UTC()
	if day, err := time.Parse("2006-01-02", payload.GlobalQuote["07. latest trading day"]); err == nil {
		timestamp = day
	}

	return &Quote{
		Symbol:        symbol,
		Price:         price,
		Currency:      "USD",
		Change:        change,
		ChangePercent: changePct,
		Volume:        volume,
		Timestamp:     timestamp,
	}, nil
}

// History implements Provider. Alpha Vantage has no range parameter, so the
// full daily series is fetched and trimmed client-side.
func (p *AlphaVantageProvider) History(ctx context.Context, symbol, rng string) ([]Bar, error) {
	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", symbol)

	body, err := p.fetch(ctx, params)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("alphavantage: decoding series: %w", err)
	}
	if len(payload.Series) == 0 {
		return nil, fmt.Errorf("alphavantage: no series for %s", symbol)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -rangeDays(rng))
	bars := make([]Bar, 0, len(payload.Series))
	for day, fields := range payload.Series {
		date, err := time.Parse("2006-01-02", day)
		if err != nil || date.Before(cutoff) {
			continue
		}
		open, _ := strconv.ParseFloat(fields["1. open"], 64)
		high, _ := strconv.ParseFloat(fields["2. high"], 64)
		low, _ := strconv.ParseFloat(fields["3. low"], 64)
		closePrice, _ := strconv.ParseFloat(fields["4. close"], 64)
		volume, _ := strconv.ParseInt(fields["5. volume"], 10, 64)
		bars = append(bars, Bar{
			Date:   date,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  closePrice,
			Volume: volume,
		})
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (p *AlphaVantageProvider) fetch(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", p.apiKey)
	endpoint := p.baseURL + "/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("alphavantage: building request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("alphavantage: reading response: %w", err)
	}

	// The API reports throttling and bad keys inside a 200 body.
	var note struct {
		Note         string `json:"Note"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &note); err == nil {
		if note.ErrorMessage != "" {
			return nil, fmt.Errorf("alphavantage: %s", note.ErrorMessage)
		}
		if note.Note != "" {
			return nil, fmt.Errorf("alphavantage: throttled: %s", note.Note)
		}
	}
	return body, nil
}

// rangeDays maps a chart range to a day count for client-side trimming.
func rangeDays(rng string) int {
	switch rng {
	case "5d":
		return 5
	case "1mo":
		return 31
	case "3mo":
		return 93
	case "6mo":
		return 186
	case "1y":
		return 366
	case "2y":
		return 732
	case "5y":
		return 1830
	default:
		return 31
	}
}
