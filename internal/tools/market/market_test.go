package market

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, av, yahoo, finnhub http.Handler) *Client {
	t.Helper()
	cfg := config.ToolsConfig{
		AlphaVantage: config.AlphaVantageConfig{APIKey: "demo"},
		Finnhub:      config.FinnhubConfig{APIKey: "fh"},
	}
	for _, h := range []struct {
		handler http.Handler
		set     func(string)
	}{
		{av, func(u string) { cfg.AlphaVantage.BaseURL = u + "/query" }},
		{yahoo, func(u string) { cfg.Yahoo.BaseURL = u }},
		{finnhub, func(u string) { cfg.Finnhub.BaseURL = u + "/api/v1" }},
	} {
		if h.handler == nil {
			continue
		}
		srv := httptest.NewServer(h.handler)
		t.Cleanup(srv.Close)
		h.set(srv.URL)
	}
	return NewClient(cfg, nil, log.New(io.Discard, "", 0))
}

func TestSearchTicker(t *testing.T) {
	av := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SYMBOL_SEARCH", r.URL.Query().Get("function"))
		assert.Equal(t, "taiwan semiconductor", r.URL.Query().Get("keywords"))
		assert.Equal(t, "demo", r.URL.Query().Get("apikey"))
		_, _ = io.WriteString(w, `{"bestMatches":[{"1. symbol":"TSM","2. name":"Taiwan Semiconductor Manufacturing","4. region":"United States"},{"1. symbol":"2330.TW"}]}`)
	})
	c := newTestClient(t, av, nil, nil)

	m, err := c.SearchTicker(context.Background(), "taiwan semiconductor")
	require.NoError(t, err)
	assert.Equal(t, &TickerMatch{Symbol: "TSM", Name: "Taiwan Semiconductor Manufacturing", Region: "United States"}, m)
}

func TestSearchTickerNoMatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"bestMatches":[]}`)
	}), nil, nil)
	_, err := c.SearchTicker(context.Background(), "zzzz")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestTimeSeriesDailyAlphaVantage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TIME_SERIES_DAILY", r.URL.Query().Get("function"))
		_, _ = io.WriteString(w, `{
			"Meta Data": {"2. Symbol": "NVDA", "3. Last Refreshed": "2024-05-03"},
			"Time Series (Daily)": {
				"2024-05-02": {"1. open": "850.0", "2. high": "860.5", "3. low": "840.1", "4. close": "858.2", "5. volume": "100"},
				"2024-05-03": {"1. open": "860.0", "2. high": "890.0", "3. low": "855.0", "4. close": "887.9", "5. volume": "200"}
			}}`)
	}), nil, nil)

	s, err := c.TimeSeriesDaily(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "alphavantage", s.Source)
	require.Len(t, s.Bars, 2)
	assert.Equal(t, "2024-05-03", s.Bars[0].Date, "newest bar first")
	assert.InDelta(t, 887.9, s.Bars[0].Close, 1e-9)
	assert.Equal(t, int64(200), s.Bars[0].Volume)
}

func TestTimeSeriesDailyFallsBackToYahoo(t *testing.T) {
	av := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`)
	})
	yahoo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/TSM", r.URL.Path)
		_, _ = io.WriteString(w, `{"chart":{"result":[{"timestamp":[1714608000,1714694400],
			"indicators":{"quote":[{"open":[140.1,141.0],"high":[142.0,145.2],"low":[139.5,140.8],"close":[141.7,null],"volume":[1000,null]}]}}],"error":null}}`)
	})
	c := newTestClient(t, av, yahoo, nil)

	s, err := c.TimeSeriesDaily(context.Background(), "TSM")
	require.NoError(t, err)
	assert.Equal(t, "yahoo", s.Source)
	require.Len(t, s.Bars, 1, "bars without a close are skipped")
	assert.Equal(t, "2024-05-02", s.Bars[0].Date)
	assert.InDelta(t, 141.7, s.Bars[0].Close, 1e-9)
	assert.Equal(t, s.Bars[0].Date, s.LastRefreshed)
}

func TestTimeSeriesDailyBothFail(t *testing.T) {
	fail := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, fail, fail, nil)
	_, err := c.TimeSeriesDaily(context.Background(), "TSM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCompanyNewsCapsItems(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NEWS_SENTIMENT", r.URL.Query().Get("function"))
		assert.Equal(t, "AAPL,MSFT", r.URL.Query().Get("tickers"))
		_, _ = io.WriteString(w, `{"feed":[`+
			`{"title":"a","overall_sentiment_score":0.21,"overall_sentiment_label":"Somewhat-Bullish"},`+
			`{"title":"b"},{"title":"c"},{"title":"d"},{"title":"e"},{"title":"f"},`+
			`{"title":"g"},{"title":"h"},{"title":"i"},{"title":"j"},{"title":"k"}]}`)
	}), nil, nil)

	feed, err := c.CompanyNews(context.Background(), []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, feed.Items, maxNewsItems)
	assert.Equal(t, "Somewhat-Bullish", feed.Items[0].SentimentLabel)
}

func TestTopicNewsFiltersUnsupportedTopics(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "technology,ipo", r.URL.Query().Get("topics"))
		_, _ = io.WriteString(w, `{"feed":[]}`)
	}), nil, nil)

	feed, err := c.TopicNews(context.Background(), []string{"Technology", "gossip", "ipo"})
	require.NoError(t, err)
	assert.Equal(t, []string{"technology", "ipo"}, feed.Query)

	_, err = c.TopicNews(context.Background(), []string{"gossip"})
	assert.Error(t, err)
}

func TestEarnings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EARNINGS", r.URL.Query().Get("function"))
		_, _ = io.WriteString(w, `{"symbol":"NVDA","quarterlyEarnings":[
			{"fiscalDateEnding":"2024-04-30","reportedEPS":"6.12","estimatedEPS":"5.59","surprise":"0.53","surprisePercentage":"9.48"},
			{"fiscalDateEnding":"2024-01-31"},{"fiscalDateEnding":"2023-10-31"},{"fiscalDateEnding":"2023-07-31"},{"fiscalDateEnding":"2023-04-30"}]}`)
	}), nil, nil)

	e, err := c.Earnings(context.Background(), "NVDA")
	require.NoError(t, err)
	require.Len(t, e.Quarterly, maxEarningsRows)
	assert.Equal(t, "6.12", e.Quarterly[0].ReportedEPS)
	assert.Equal(t, "9.48", e.Quarterly[0].SurprisePercentage)
}

func TestAlphaVantageErrorMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Error Message": "Invalid API call."}`)
	}), nil, nil)
	_, err := c.Earnings(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API call.")
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient(config.ToolsConfig{}, nil, log.New(io.Discard, "", 0))
	_, err := c.Earnings(context.Background(), "NVDA")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = c.RecommendationTrends(context.Background(), "NVDA")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestRecommendationTrends(t *testing.T) {
	fh := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/stock/recommendation", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		assert.Equal(t, "fh", r.URL.Query().Get("token"))
		_, _ = io.WriteString(w, `[{"period":"2024-05-01","strongBuy":12,"buy":24,"hold":8,"sell":1,"strongSell":0,"symbol":"AAPL"}]`)
	})
	c := newTestClient(t, nil, nil, fh)

	recs, err := c.RecommendationTrends(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 24, recs[0].Buy)
}
