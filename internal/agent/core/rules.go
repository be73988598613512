package core

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Tool names the rule planner knows how to target.
const (
	ruleToolEarnings   = "fetch_earnings"
	ruleToolTimeSeries = "fetch_time_series_market_data"
	ruleToolNews       = "fetch_company_news"
	ruleToolTopicNews  = "fetch_topic_news"
	ruleToolTrends     = "fetch_stock_trends"
	ruleToolFiling     = "fetch_filing"
	ruleToolSearch     = "search_ticker"
	ruleToolRetrieve   = "retrieve_from_vector_store"
)

// RulePlannerTools lists every tool name RulePlanner may emit.
func RulePlannerTools() []string {
	return []string{ruleToolEarnings, ruleToolTimeSeries, ruleToolNews, ruleToolTopicNews, ruleToolTrends, ruleToolFiling, ruleToolSearch, ruleToolRetrieve}
}

const clarifyTickerMessage = "Which company or ticker symbol are you asking about?"

const greetingAnswer = "I'm a financial research assistant. Ask me about a company's earnings, stock performance, news, filings or your portfolio's risk exposure."

var (
	tickerPattern = regexp.MustCompile(`\$?\b[A-Z]{1,5}\b`)
	// upper-case words that are not tickers
	tickerStopwords = map[string]struct{}{
		"A": {}, "I": {}, "AI": {}, "AM": {}, "PM": {}, "CEO": {}, "CFO": {}, "USA": {}, "US": {}, "EU": {}, "UK": {},
		"ETF": {}, "IPO": {}, "SEC": {}, "EPS": {}, "GDP": {}, "YOY": {}, "QOQ": {}, "Q": {}, "FY": {}, "OK": {},
		"WHAT": {}, "HOW": {}, "IS": {}, "THE": {}, "AND": {}, "OR": {}, "OF": {}, "IN": {}, "ON": {}, "MY": {},
	}
	greetingWords = []string{"hello", "hi", "hey", "thanks", "thank you", "who are you", "what can you do"}
	topicKeywords = map[string]string{
		"blockchain": "blockchain", "crypto": "blockchain", "ipo": "ipo", "merger": "mergers_and_acquisitions",
		"acquisition": "mergers_and_acquisitions", "economy": "economy_macro", "inflation": "economy_monetary",
		"interest rate": "economy_monetary", "fiscal": "economy_fiscal", "energy": "energy_transportation",
		"real estate": "real_estate", "retail": "retail_wholesale", "manufacturing": "manufacturing",
		"technology": "technology", "tech": "technology", "biotech": "life_sciences", "pharma": "life_sciences",
		"earnings season": "earnings", "markets": "financial_markets",
	}
)

// RulePlanner is a deterministic keyword planner. It needs no model and is
// used offline and as a baseline.
type RulePlanner struct{}

func NewRulePlanner() *RulePlanner { return &RulePlanner{} }

func (p *RulePlanner) GeneratePlan(_ context.Context, req PlanRequest) (PlanDecision, error) {
	q := strings.ToLower(req.Question)
	available := make(map[string]bool, len(req.Catalog))
	for _, tc := range req.Catalog {
		available[tc.Name] = true
	}
	tickers := extractTickers(req.Question)

	if len(tickers) == 0 && isGreeting(q) {
		return PlanDecision{Kind: PlanDirectAnswer, Rationale: "greeting", Answer: greetingAnswer}, nil
	}

	var calls []ToolCall
	add := func(name string, args map[string]interface{}) bool {
		if !available[name] {
			return false
		}
		calls = append(calls, ToolCall{Name: name, Arguments: args})
		return true
	}

	if len(tickers) == 0 {
		if topics := matchTopics(q); len(topics) > 0 && strings.Contains(q, "news") {
			add(ruleToolTopicNews, map[string]interface{}{"topics": topics})
		} else if containsAny(q, "ticker", "symbol") {
			add(ruleToolSearch, map[string]interface{}{"keywords": req.Question})
		} else if containsAny(q, "document", "report", "notes", "brief") {
			add(ruleToolRetrieve, map[string]interface{}{"query": req.Question})
		}
	}
	for _, t := range tickers {
		matched := false
		if strings.Contains(q, "earning") {
			matched = add(ruleToolEarnings, map[string]interface{}{"ticker": t}) || matched
		}
		if containsAny(q, "risk", "exposure", "price", "stock", "trading", "performance", "volatil") {
			matched = add(ruleToolTimeSeries, map[string]interface{}{"ticker": t}) || matched
		}
		if containsAny(q, "recommend", "analyst", "trend", "rating") {
			matched = add(ruleToolTrends, map[string]interface{}{"ticker": t}) || matched
		}
		if containsAny(q, "filing", "10-k", "10-q", "8-k", "sec ") {
			matched = add(ruleToolFiling, map[string]interface{}{"ticker": t}) || matched
		}
		if strings.Contains(q, "news") || !matched {
			add(ruleToolNews, map[string]interface{}{"tickers": []string{t}})
		}
	}

	if req.ReplanCount > 0 {
		calls = p.widen(calls, req, tickers, available)
	}
	if len(calls) == 0 {
		return PlanDecision{Kind: PlanClarification, Rationale: "no ticker or topic recognised", Answer: clarifyTickerMessage}, nil
	}
	return PlanDecision{Kind: PlanToolCalls, Rationale: "keyword match", ToolCalls: calls}, nil
}

// widen drops calls that already succeeded and, if nothing remains, adds
// broader sources that have not been tried yet.
func (p *RulePlanner) widen(calls []ToolCall, req PlanRequest, tickers []string, available map[string]bool) []ToolCall {
	done := make(map[string]bool, len(req.Evidence))
	for _, e := range req.Evidence {
		if !e.Failed {
			done[callKey(e.Tool, e.Arguments)] = true
		}
	}
	var fresh []ToolCall
	for _, c := range calls {
		if !done[callKey(c.Name, c.Arguments)] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) > 0 {
		return fresh
	}
	for _, t := range tickers {
		for _, extra := range []ToolCall{
			{Name: ruleToolNews, Arguments: map[string]interface{}{"tickers": []string{t}}},
			{Name: ruleToolTimeSeries, Arguments: map[string]interface{}{"ticker": t}},
			{Name: ruleToolTrends, Arguments: map[string]interface{}{"ticker": t}},
		} {
			if available[extra.Name] && !done[callKey(extra.Name, extra.Arguments)] {
				fresh = append(fresh, extra)
			}
		}
	}
	return fresh
}

func callKey(name string, args map[string]interface{}) string {
	b, _ := json.Marshal(args)
	return name + string(b)
}

func extractTickers(question string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range tickerPattern.FindAllString(question, -1) {
		t := strings.TrimPrefix(m, "$")
		if _, stop := tickerStopwords[t]; stop && !strings.HasPrefix(m, "$") {
			continue
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func matchTopics(q string) []string {
	set := map[string]bool{}
	for kw, topic := range topicKeywords {
		if strings.Contains(q, kw) {
			set[topic] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func isGreeting(q string) bool {
	q = strings.TrimSpace(strings.Trim(q, "!?. "))
	for _, g := range greetingWords {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") {
			return true
		}
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
