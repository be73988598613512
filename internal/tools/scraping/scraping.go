package scraping

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/into-the-night/fin-breaker/config"
)

const (
	defaultMaxChars = 4000
	MaxChars        = 20000
)

var (
	documentsButton = cascadia.MustCompile("a#documentsbutton")
	reSpaces        = regexp.MustCompile(`\s+`)
)

// Scraper fetches SEC filings and news articles over plain HTTP.
type Scraper struct {
	http   *http.Client
	edgar  config.EDGARConfig
	logger *log.Logger
}

func NewScraper(cfg config.ToolsConfig, httpClient *http.Client, logger *log.Logger) *Scraper {
	cfg = cfg.Normalize()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[SCRAPER] ", log.LstdFlags)
	}
	return &Scraper{http: httpClient, edgar: cfg.EDGAR, logger: logger}
}

// Filing points at the EDGAR documents page of the latest matching filing.
// URL is empty when EDGAR lists nothing for the ticker and type.
type Filing struct {
	Ticker  string `json:"ticker"`
	Type    string `json:"type"`
	URL     string `json:"filing_url,omitempty"`
	Message string `json:"message,omitempty"`
}

// FetchFiling looks up the most recent filing of docType (10-K, 20-F, 6-K...)
// on EDGAR's company browse page.
func (s *Scraper) FetchFiling(ctx context.Context, ticker, docType string) (*Filing, error) {
	if docType == "" {
		docType = "10-K"
	}
	base := strings.TrimRight(s.edgar.BaseURL, "/")
	params := url.Values{
		"action": {"getcompany"},
		"CIK":    {ticker},
		"type":   {docType},
		"dateb":  {""},
		"owner":  {"exclude"},
		"count":  {"1"},
	}
	body, err := s.fetch(ctx, base+"/cgi-bin/browse-edgar?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch filing: %w", err)
	}
	defer body.Close()

	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse edgar page: %w", err)
	}
	out := &Filing{Ticker: ticker, Type: docType}
	link := cascadia.Query(doc, documentsButton)
	if link == nil {
		s.logger.Printf("no %s filing listed for %s", docType, ticker)
		out.Message = "No filing found"
		return out, nil
	}
	for _, a := range link.Attr {
		if a.Key == "href" {
			out.URL = resolve(base, a.Val)
		}
	}
	if out.URL == "" {
		out.Message = "No filing found"
	}
	return out, nil
}

type Article struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline,omitempty"`
	SiteName string `json:"site_name,omitempty"`
	Excerpt  string `json:"excerpt,omitempty"`
	Text     string `json:"text"`
}

// ReadArticle downloads a page and extracts its main text.
func (s *Scraper) ReadArticle(ctx context.Context, rawURL string, maxChars int) (*Article, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid article url %q", rawURL)
	}
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	if maxChars > MaxChars {
		maxChars = MaxChars
	}
	body, err := s.fetch(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article: %w", err)
	}
	defer body.Close()

	article, err := readability.FromReader(body, u)
	if err != nil {
		return nil, fmt.Errorf("failed to extract article: %w", err)
	}
	text := strings.TrimSpace(reSpaces.ReplaceAllString(article.TextContent, " "))
	if utf8.RuneCountInString(text) > maxChars {
		text = string([]rune(text)[:maxChars])
	}
	return &Article{
		URL:      u.String(),
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: article.SiteName,
		Excerpt:  strings.TrimSpace(article.Excerpt),
		Text:     text,
	}, nil
}

func (s *Scraper) fetch(ctx context.Context, endpoint string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.edgar.UserAgent)
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream error: %s", resp.Status)
	}
	return limitedBody{Reader: io.LimitReader(resp.Body, 4<<20), Closer: resp.Body}, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func resolve(base, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return ""
	}
	return b.ResolveReference(ref).String()
}
