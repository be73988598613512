package tools

import (
	"context"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/core"
	"github.com/into-the-night/fin-breaker/internal/capability"
	"github.com/into-the-night/fin-breaker/internal/retrieval"
	"github.com/into-the-night/fin-breaker/internal/tools/market"
	"github.com/into-the-night/fin-breaker/internal/tools/scraping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullDeps(t *testing.T, cfg config.ToolsConfig) Deps {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	store, err := retrieval.NewStore(nil, "", quiet)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return Deps{
		Market:    market.NewClient(cfg, nil, quiet),
		Scraper:   scraping.NewScraper(cfg, nil, quiet),
		Retrieval: store,
	}
}

func TestRegistryCoversRulePlannerTools(t *testing.T) {
	reg, err := NewRegistry(fullDeps(t, config.ToolsConfig{}))
	require.NoError(t, err)
	for _, name := range core.RulePlannerTools() {
		_, err := reg.Resolve(name)
		assert.NoError(t, err, name)
	}
	assert.Len(t, reg.Names(), 11)
}

func TestRegistryWithoutOptionalDeps(t *testing.T) {
	reg, err := NewRegistry(Deps{})
	require.NoError(t, err)
	assert.Equal(t, []string{AnalyzeRiskExposure}, reg.Names())
}

func TestArgumentValidation(t *testing.T) {
	reg, err := NewRegistry(fullDeps(t, config.ToolsConfig{}))
	require.NoError(t, err)

	assert.NoError(t, reg.Validate(FetchTopicNews, map[string]interface{}{"topics": []string{"technology"}}))
	assert.ErrorIs(t, reg.Validate(FetchTopicNews, map[string]interface{}{"topics": []string{"gossip"}}), capability.ErrInvalidArguments)
	assert.ErrorIs(t, reg.Validate(FetchEarnings, map[string]interface{}{}), capability.ErrInvalidArguments)
	assert.ErrorIs(t, reg.Validate(AnalyzeRiskExposure, map[string]interface{}{
		"allocations": []interface{}{"ten"}, "regions": []string{"Asia"}, "sectors": []string{"Tech"},
	}), capability.ErrInvalidArguments)
}

func TestRiskExposureThroughToolbox(t *testing.T) {
	reg, err := NewRegistry(Deps{})
	require.NoError(t, err)
	tb := core.NewToolbox(reg, 0, nil, log.New(io.Discard, "", 0))

	rec := tb.Call(context.Background(), core.ToolCall{Name: AnalyzeRiskExposure, Arguments: map[string]interface{}{
		"allocations": []interface{}{0.1, 0.2},
		"regions":     []interface{}{"Asia", "Europe"},
		"sectors":     []interface{}{"Tech", "Tech"},
	}})
	require.False(t, rec.Failed, rec.Result)
	assert.JSONEq(t, `{"target_region":"Asia","target_sector":"Tech","exposure":0.1,"total_allocation":0.30000000000000004,"matched_positions":1}`, rec.Result)
}

func TestRetrievalRoundTripThroughToolbox(t *testing.T) {
	reg, err := NewRegistry(fullDeps(t, config.ToolsConfig{}))
	require.NoError(t, err)
	tb := core.NewToolbox(reg, 0, nil, log.New(io.Discard, "", 0))
	ctx := context.Background()

	rec := tb.Call(ctx, core.ToolCall{Name: IndexDocuments, Arguments: map[string]interface{}{
		"documents": []string{"TSMC 20-F notes: capex guidance raised", "Unrelated memo about office parking"},
	}})
	require.False(t, rec.Failed, rec.Result)
	assert.JSONEq(t, `{"indexed":2}`, rec.Result)

	rec = tb.Call(ctx, core.ToolCall{Name: RetrieveFromStore, Arguments: map[string]interface{}{"query": "TSMC capex", "k": 1}})
	require.False(t, rec.Failed, rec.Result)
	assert.JSONEq(t, `{"results":["TSMC 20-F notes: capex guidance raised"]}`, rec.Result)
}

func TestEarningsHandlerUsesMarketClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NVDA", r.URL.Query().Get("symbol"))
		_, _ = io.WriteString(w, `{"symbol":"NVDA","quarterlyEarnings":[{"fiscalDateEnding":"2024-04-30","reportedEPS":"6.12","estimatedEPS":"5.59"}]}`)
	}))
	defer srv.Close()
	cfg := config.ToolsConfig{AlphaVantage: config.AlphaVantageConfig{APIKey: "demo", BaseURL: srv.URL}}
	reg, err := NewRegistry(fullDeps(t, cfg))
	require.NoError(t, err)

	tool, err := reg.Resolve(FetchEarnings)
	require.NoError(t, err)
	out, err := tool.Handler(context.Background(), map[string]interface{}{"ticker": "NVDA"})
	require.NoError(t, err)
	e, ok := out.(*market.Earnings)
	require.True(t, ok)
	assert.Equal(t, "6.12", e.Quarterly[0].ReportedEPS)
}

func TestArgHelpers(t *testing.T) {
	args := map[string]interface{}{"a": []interface{}{"x", 1, "y"}, "n": float64(4), "f": []interface{}{1, 2.5}}
	assert.Equal(t, []string{"x", "y"}, stringsArg(args, "a"))
	assert.Equal(t, 4, intArg(args, "n", 3, 10))
	assert.Equal(t, 3, intArg(args, "missing", 3, 10))
	assert.Equal(t, []float64{1, 2.5}, floatsArg(args, "f"))
}

func TestIntArgClamps(t *testing.T) {
	args := map[string]interface{}{"huge": float64(1e18), "inf": math.Inf(1), "nan": math.NaN(), "neg": float64(-7)}
	assert.Equal(t, 50, intArg(args, "huge", 3, 50))
	assert.Equal(t, 50, intArg(args, "inf", 3, 50))
	assert.Equal(t, 3, intArg(args, "nan", 3, 50))
	assert.Equal(t, 0, intArg(args, "neg", 3, 50))
}

func TestEarningsThroughToolboxWithPlannerArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "NVDA", r.URL.Query().Get("symbol"))
		_, _ = io.WriteString(w, `{"symbol":"NVDA","quarterlyEarnings":[{"fiscalDateEnding":"2024-04-30","reportedEPS":"6.12","estimatedEPS":"5.59"}]}`)
	}))
	defer srv.Close()
	cfg := config.ToolsConfig{AlphaVantage: config.AlphaVantageConfig{APIKey: "demo", BaseURL: srv.URL}}
	reg, err := NewRegistry(fullDeps(t, cfg))
	require.NoError(t, err)
	tb := core.NewToolbox(reg, time.Second, nil, log.New(io.Discard, "", 0))

	rec := tb.Call(context.Background(), core.ToolCall{Name: FetchEarnings, Arguments: map[string]interface{}{"ticker": "NVDA"}})
	require.False(t, rec.Failed, rec.Result)
	assert.Contains(t, rec.Result, "6.12")
}

func TestRulePlannerCallsPassRegistryValidation(t *testing.T) {
	reg, err := NewRegistry(fullDeps(t, config.ToolsConfig{}))
	require.NoError(t, err)
	planner := core.NewRulePlanner()
	questions := []string{
		"What were NVDA earnings last quarter?",
		"How is the AAPL stock price trading?",
		"What do analysts recommend for MSFT?",
		"Show me the latest TSM 10-K filing",
		"Any news on AMZN?",
		"What is the ticker symbol for Taiwan Semiconductor?",
		"Latest technology news",
		"Summarise the notes in my documents",
	}
	for _, q := range questions {
		d, err := planner.GeneratePlan(context.Background(), core.PlanRequest{Question: q, Catalog: reg.Catalog()})
		require.NoError(t, err, q)
		require.Equal(t, core.PlanToolCalls, d.Kind, q)
		for _, call := range d.ToolCalls {
			assert.NoError(t, reg.Validate(call.Name, call.Arguments), "%s: %s", q, call.Name)
		}
	}
}

func TestRetrieveClampsHugeK(t *testing.T) {
	reg, err := NewRegistry(fullDeps(t, config.ToolsConfig{}))
	require.NoError(t, err)
	tb := core.NewToolbox(reg, time.Second, nil, log.New(io.Discard, "", 0))
	ctx := context.Background()

	rec := tb.Call(ctx, core.ToolCall{Name: IndexDocuments, Arguments: map[string]interface{}{"documents": []string{"capex memo", "capex outlook"}}})
	require.False(t, rec.Failed, rec.Result)
	rec = tb.Call(ctx, core.ToolCall{Name: RetrieveFromStore, Arguments: map[string]interface{}{"query": "capex", "k": float64(1e18)}})
	require.False(t, rec.Failed, rec.Result)
	assert.Contains(t, rec.Result, "capex memo")
}
