package tools

import (
	"context"
	"fmt"

	"github.com/into-the-night/fin-breaker/internal/capability"
	"github.com/into-the-night/fin-breaker/internal/retrieval"
	"github.com/into-the-night/fin-breaker/internal/tools/analysis"
	"github.com/into-the-night/fin-breaker/internal/tools/market"
	"github.com/into-the-night/fin-breaker/internal/tools/scraping"
)

const (
	SearchTicker        = "search_ticker"
	FetchCompanyNews    = "fetch_company_news"
	FetchEarnings       = "fetch_earnings"
	FetchTopicNews      = "fetch_topic_news"
	FetchTimeSeries     = "fetch_time_series_market_data"
	FetchStockTrends    = "fetch_stock_trends"
	RetrieveFromStore   = "retrieve_from_vector_store"
	IndexDocuments      = "index_documents"
	FetchFiling         = "fetch_filing"
	ReadArticle         = "read_article"
	AnalyzeRiskExposure = "analyze_risk_exposure"
)

// Deps are the collaborators behind the tool handlers. Nil members leave
// their tools out of the registry.
type Deps struct {
	Market    *market.Client
	Scraper   *scraping.Scraper
	Retrieval *retrieval.Store
}

// NewRegistry builds the tool registry the planner chooses from.
func NewRegistry(deps Deps) (*capability.Registry, error) {
	var all []capability.Tool
	if deps.Market != nil {
		all = append(all, marketTools(deps.Market)...)
	}
	if deps.Scraper != nil {
		all = append(all, scrapingTools(deps.Scraper)...)
	}
	if deps.Retrieval != nil {
		all = append(all, retrievalTools(deps.Retrieval)...)
	}
	all = append(all, analysisTools()...)
	reg, err := capability.NewRegistry(all...)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}
	return reg, nil
}

var tickerParam = capability.Param{Name: "ticker", Type: capability.TypeString, Required: true, Description: "ticker symbol, e.g. NVDA"}

func marketTools(c *market.Client) []capability.Tool {
	return []capability.Tool{
		{
			Card: capability.ToolCard{
				Name:        SearchTicker,
				Description: "Find the ticker symbol for a company name.",
				Params:      []capability.Param{{Name: "keywords", Type: capability.TypeString, Required: true, Description: "company name"}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.SearchTicker(ctx, stringArg(args, "keywords"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        FetchCompanyNews,
				Description: "Latest news with sentiment for one or more tickers.",
				Params:      []capability.Param{{Name: "tickers", Type: capability.TypeStringArray, Required: true}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.CompanyNews(ctx, stringsArg(args, "tickers"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        FetchEarnings,
				Description: "Recent quarterly EPS: reported, estimated and surprise.",
				Params:      []capability.Param{tickerParam},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.Earnings(ctx, stringArg(args, "ticker"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        FetchTopicNews,
				Description: "Market news for broad topics.",
				Params:      []capability.Param{{Name: "topics", Type: capability.TypeStringArray, Required: true, Enum: market.SupportedTopics}},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.TopicNews(ctx, stringsArg(args, "topics"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        FetchTimeSeries,
				Description: "Most recent daily open/high/low/close/volume bars.",
				Params:      []capability.Param{tickerParam},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.TimeSeriesDaily(ctx, stringArg(args, "ticker"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        FetchStockTrends,
				Description: "Analyst recommendation trends (strong buy to strong sell) by month.",
				Params:      []capability.Param{tickerParam},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return c.RecommendationTrends(ctx, stringArg(args, "ticker"))
			},
		},
	}
}

func scrapingTools(s *scraping.Scraper) []capability.Tool {
	return []capability.Tool{
		{
			Card: capability.ToolCard{
				Name:        FetchFiling,
				Description: "Link to the latest SEC filing of a type for a ticker.",
				Params: []capability.Param{
					{Name: "ticker", Type: capability.TypeString, Required: true},
					{Name: "doc_type", Type: capability.TypeString, Description: "10-K (default), 10-Q, 20-F, 6-K, 8-K"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return s.FetchFiling(ctx, stringArg(args, "ticker"), stringArg(args, "doc_type"))
			},
		},
		{
			Card: capability.ToolCard{
				Name:        ReadArticle,
				Description: "Download a web article and return its main text.",
				Params: []capability.Param{
					{Name: "url", Type: capability.TypeString, Required: true},
					{Name: "max_chars", Type: capability.TypeInteger},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				return s.ReadArticle(ctx, stringArg(args, "url"), intArg(args, "max_chars", 0, scraping.MaxChars))
			},
		},
	}
}

func retrievalTools(st *retrieval.Store) []capability.Tool {
	return []capability.Tool{
		{
			Card: capability.ToolCard{
				Name:        RetrieveFromStore,
				Description: "Search indexed documents (filings, notes, briefs) for passages relevant to a query.",
				Params: []capability.Param{
					{Name: "query", Type: capability.TypeString, Required: true},
					{Name: "k", Type: capability.TypeInteger, Description: "number of results, default 3"},
				},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				hits, err := st.Retrieve(ctx, stringArg(args, "query"), intArg(args, "k", retrieval.DefaultK, retrieval.MaxK))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"results": retrieval.Texts(hits)}, nil
			},
		},
		{
			Card: capability.ToolCard{
				Name:        IndexDocuments,
				Description: "Add documents to the searchable store.",
				Params:      []capability.Param{{Name: "documents", Type: capability.TypeStringArray, Required: true}},
				SideEffects: []string{"writes document index"},
			},
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				n, err := st.IndexDocuments(ctx, stringsArg(args, "documents"))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"indexed": n}, nil
			},
		},
	}
}

func analysisTools() []capability.Tool {
	return []capability.Tool{
		{
			Card: capability.ToolCard{
				Name:        AnalyzeRiskExposure,
				Description: "Portfolio allocation held in a region and sector (defaults Asia, Tech).",
				Params: []capability.Param{
					{Name: "allocations", Type: capability.TypeNumberArray, Required: true},
					{Name: "regions", Type: capability.TypeStringArray, Required: true},
					{Name: "sectors", Type: capability.TypeStringArray, Required: true},
					{Name: "target_region", Type: capability.TypeString},
					{Name: "target_sector", Type: capability.TypeString},
				},
			},
			Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
				return analysis.RiskExposure(
					floatsArg(args, "allocations"),
					stringsArg(args, "regions"),
					stringsArg(args, "sectors"),
					stringArg(args, "target_region"),
					stringArg(args, "target_sector"),
				)
			},
		},
	}
}
