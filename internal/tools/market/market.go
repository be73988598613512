package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/into-the-night/fin-breaker/config"
)

// SupportedTopics is the closed list of Alpha Vantage news topics.
var SupportedTopics = []string{
	"blockchain",
	"earnings",
	"ipo",
	"mergers_and_acquisitions",
	"financial_markets",
	"economy_fiscal",
	"economy_monetary",
	"economy_macro",
	"energy_transportation",
	"finance",
	"life_sciences",
	"manufacturing",
	"real_estate",
	"retail_wholesale",
	"technology",
}

const (
	maxBars         = 5
	maxNewsItems    = 10
	maxEarningsRows = 4
)

var (
	ErrMissingAPIKey = errors.New("market: api key not configured")
	ErrNoMatch       = errors.New("market: no matching symbol")
)

// Client talks to Alpha Vantage, Yahoo Finance and Finnhub.
type Client struct {
	http    *http.Client
	av      config.AlphaVantageConfig
	finnhub config.FinnhubConfig
	yahoo   config.YahooConfig
	logger  *log.Logger
}

func NewClient(cfg config.ToolsConfig, httpClient *http.Client, logger *log.Logger) *Client {
	cfg = cfg.Normalize()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[MARKET] ", log.LstdFlags)
	}
	return &Client{http: httpClient, av: cfg.AlphaVantage, finnhub: cfg.Finnhub, yahoo: cfg.Yahoo, logger: logger}
}

type TickerMatch struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Region string `json:"region"`
}

// SearchTicker returns the best symbol match for a company name.
func (c *Client) SearchTicker(ctx context.Context, keywords string) (*TickerMatch, error) {
	var resp struct {
		BestMatches []map[string]string `json:"bestMatches"`
	}
	if err := c.alphaVantage(ctx, url.Values{"function": {"SYMBOL_SEARCH"}, "keywords": {keywords}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.BestMatches) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoMatch, keywords)
	}
	best := resp.BestMatches[0]
	return &TickerMatch{Symbol: best["1. symbol"], Name: best["2. name"], Region: best["4. region"]}, nil
}

type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// DailySeries holds the most recent daily bars, newest first.
type DailySeries struct {
	Symbol        string `json:"symbol"`
	Source        string `json:"source"`
	LastRefreshed string `json:"last_refreshed,omitempty"`
	Bars          []Bar  `json:"bars"`
}

// TimeSeriesDaily fetches daily bars from Alpha Vantage and falls back to
// the Yahoo chart endpoint when Alpha Vantage fails or is throttled.
func (c *Client) TimeSeriesDaily(ctx context.Context, symbol string) (*DailySeries, error) {
	series, err := c.alphaVantageDaily(ctx, symbol)
	if err == nil {
		return series, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.logger.Printf("alphavantage daily series for %s failed (%v), trying yahoo", symbol, err)
	series, yerr := c.yahooDaily(ctx, symbol)
	if yerr != nil {
		return nil, fmt.Errorf("no market data for %s: alphavantage: %v; yahoo: %w", symbol, err, yerr)
	}
	return series, nil
}

func (c *Client) alphaVantageDaily(ctx context.Context, symbol string) (*DailySeries, error) {
	var resp struct {
		Meta   map[string]string            `json:"Meta Data"`
		Series map[string]map[string]string `json:"Time Series (Daily)"`
	}
	if err := c.alphaVantage(ctx, url.Values{"function": {"TIME_SERIES_DAILY"}, "symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("empty time series")
	}
	dates := make([]string, 0, len(resp.Series))
	for d := range resp.Series {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if len(dates) > maxBars {
		dates = dates[:maxBars]
	}
	out := &DailySeries{Symbol: symbol, Source: "alphavantage", LastRefreshed: resp.Meta["3. Last Refreshed"]}
	for _, d := range dates {
		row := resp.Series[d]
		vol, _ := strconv.ParseInt(row["5. volume"], 10, 64)
		out.Bars = append(out.Bars, Bar{
			Date:   d,
			Open:   parseFloat(row["1. open"]),
			High:   parseFloat(row["2. high"]),
			Low:    parseFloat(row["3. low"]),
			Close:  parseFloat(row["4. close"]),
			Volume: vol,
		})
	}
	return out, nil
}

func (c *Client) yahooDaily(ctx context.Context, symbol string) (*DailySeries, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", strings.TrimRight(c.yahoo.BaseURL, "/"), url.PathEscape(symbol),
		url.Values{"range": {"5d"}, "interval": {"1d"}}.Encode())
	var resp struct {
		Chart struct {
			Result []struct {
				Timestamp  []int64 `json:"timestamp"`
				Indicators struct {
					Quote []struct {
						Open   []*float64 `json:"open"`
						High   []*float64 `json:"high"`
						Low    []*float64 `json:"low"`
						Close  []*float64 `json:"close"`
						Volume []*int64   `json:"volume"`
					} `json:"quote"`
				} `json:"indicators"`
			} `json:"result"`
			Error *struct {
				Code        string `json:"code"`
				Description string `json:"description"`
			} `json:"error"`
		} `json:"chart"`
	}
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	if resp.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo: %s", resp.Chart.Error.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo: no data for %s", symbol)
	}
	r := resp.Chart.Result[0]
	q := r.Indicators.Quote[0]
	out := &DailySeries{Symbol: symbol, Source: "yahoo"}
	for i := len(r.Timestamp) - 1; i >= 0 && len(out.Bars) < maxBars; i-- {
		if i >= len(q.Close) || q.Close[i] == nil {
			continue
		}
		out.Bars = append(out.Bars, Bar{
			Date:   unixDate(r.Timestamp[i]),
			Open:   deref(q.Open, i),
			High:   deref(q.High, i),
			Low:    deref(q.Low, i),
			Close:  *q.Close[i],
			Volume: derefInt(q.Volume, i),
		})
	}
	if len(out.Bars) == 0 {
		return nil, fmt.Errorf("yahoo: no data for %s", symbol)
	}
	out.LastRefreshed = out.Bars[0].Date
	return out, nil
}

type NewsItem struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Source         string  `json:"source"`
	Published      string  `json:"time_published"`
	Summary        string  `json:"summary"`
	SentimentScore float64 `json:"overall_sentiment_score"`
	SentimentLabel string  `json:"overall_sentiment_label"`
}

type NewsFeed struct {
	Query []string   `json:"query"`
	Items []NewsItem `json:"items"`
}

// CompanyNews returns news and sentiment for the given tickers.
func (c *Client) CompanyNews(ctx context.Context, tickers []string) (*NewsFeed, error) {
	if len(tickers) == 0 {
		return nil, fmt.Errorf("at least one ticker is required")
	}
	return c.news(ctx, url.Values{"tickers": {strings.Join(tickers, ",")}}, tickers)
}

// TopicNews returns news for supported topics. Unknown topics are dropped.
func (c *Client) TopicNews(ctx context.Context, topics []string) (*NewsFeed, error) {
	valid := FilterTopics(topics)
	if len(valid) == 0 {
		return nil, fmt.Errorf("no supported topic in %v", topics)
	}
	return c.news(ctx, url.Values{"topics": {strings.Join(valid, ",")}}, valid)
}

func FilterTopics(topics []string) []string {
	var out []string
	for _, t := range topics {
		t = strings.ToLower(strings.TrimSpace(t))
		for _, s := range SupportedTopics {
			if t == s {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func (c *Client) news(ctx context.Context, params url.Values, query []string) (*NewsFeed, error) {
	params.Set("function", "NEWS_SENTIMENT")
	var resp struct {
		Feed []NewsItem `json:"feed"`
	}
	if err := c.alphaVantage(ctx, params, &resp); err != nil {
		return nil, err
	}
	items := resp.Feed
	if len(items) > maxNewsItems {
		items = items[:maxNewsItems]
	}
	return &NewsFeed{Query: query, Items: items}, nil
}

type QuarterlyEarnings struct {
	FiscalDateEnding   string `json:"fiscalDateEnding"`
	ReportedDate       string `json:"reportedDate"`
	ReportedEPS        string `json:"reportedEPS"`
	EstimatedEPS       string `json:"estimatedEPS"`
	Surprise           string `json:"surprise"`
	SurprisePercentage string `json:"surprisePercentage"`
}

type Earnings struct {
	Symbol    string              `json:"symbol"`
	Quarterly []QuarterlyEarnings `json:"quarterly"`
}

// Earnings returns the most recent quarterly EPS reports, newest first.
func (c *Client) Earnings(ctx context.Context, symbol string) (*Earnings, error) {
	var resp struct {
		Symbol    string              `json:"symbol"`
		Quarterly []QuarterlyEarnings `json:"quarterlyEarnings"`
	}
	if err := c.alphaVantage(ctx, url.Values{"function": {"EARNINGS"}, "symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Quarterly) == 0 {
		return nil, fmt.Errorf("no earnings data for %s", symbol)
	}
	rows := resp.Quarterly
	if len(rows) > maxEarningsRows {
		rows = rows[:maxEarningsRows]
	}
	return &Earnings{Symbol: symbol, Quarterly: rows}, nil
}

type Recommendation struct {
	Period     string `json:"period"`
	StrongBuy  int    `json:"strongBuy"`
	Buy        int    `json:"buy"`
	Hold       int    `json:"hold"`
	Sell       int    `json:"sell"`
	StrongSell int    `json:"strongSell"`
}

// RecommendationTrends returns Finnhub analyst recommendation counts.
func (c *Client) RecommendationTrends(ctx context.Context, symbol string) ([]Recommendation, error) {
	if c.finnhub.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	endpoint := fmt.Sprintf("%s/stock/recommendation?%s", strings.TrimRight(c.finnhub.BaseURL, "/"),
		url.Values{"symbol": {symbol}, "token": {c.finnhub.APIKey}}.Encode())
	var out []Recommendation
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no recommendation trends for %s", symbol)
	}
	return out, nil
}

// alphaVantage issues a query and decodes it into out. Throttling notes and
// error messages, which Alpha Vantage reports with status 200, become errors.
func (c *Client) alphaVantage(ctx context.Context, params url.Values, out interface{}) error {
	if c.av.APIKey == "" {
		return ErrMissingAPIKey
	}
	params.Set("apikey", c.av.APIKey)
	body, err := c.get(ctx, c.av.BaseURL+"?"+params.Encode())
	if err != nil {
		return err
	}
	var status struct {
		Note         string `json:"Note"`
		Information  string `json:"Information"`
		ErrorMessage string `json:"Error Message"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	switch {
	case status.ErrorMessage != "":
		return fmt.Errorf("alphavantage error: %s", status.ErrorMessage)
	case status.Note != "":
		return fmt.Errorf("alphavantage throttled: %s", status.Note)
	case status.Information != "":
		return fmt.Errorf("alphavantage: %s", status.Information)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upstream error: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
