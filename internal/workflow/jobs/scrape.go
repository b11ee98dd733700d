package jobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

const (
	scrapeMaxBodyBytes = 2 << 20
	scrapeMaxContent   = 100_000
)

// ScrapedPage is the usable text pulled from a fact-check article URL.
type ScrapedPage struct {
	Title       string
	Content     string
	PublishedAt time.Time
}

// Scraper fetches article pages and extracts readable text.
type Scraper struct {
	client *http.Client
}

// NewScraper creates a scraper with a bounded request timeout.
func NewScraper(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	return &Scraper{client: &http.Client{Timeout: timeout}}
}

// Fetch downloads and extracts one article. Extraction failures fall back
// to the page title so the import can still record the item.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (*ScrapedPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", "opennotes-importer/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, scrapeMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	return extractPage(body, rawURL), nil
}

// extractPage runs the Reader Mode extraction with a meta-tag fallback.
func extractPage(htmlBytes []byte, rawURL string) *ScrapedPage {
	u, _ := url.Parse(rawURL)

	page := &ScrapedPage{}

	article, err := readability.FromReader(bytes.NewReader(htmlBytes), u)
	if err == nil {
		page.Title = article.Title
		page.Content = truncateContent(article.TextContent)
	}

	title, published := extractMeta(htmlBytes)

	if page.Title == "" {
		page.Title = title
	}

	if published != "" {
		if ts, err := dateparse.ParseAny(published); err == nil {
			page.PublishedAt = ts
		}
	}

	return page
}

// extractMeta pulls the <title> and article:published_time meta tag.
func extractMeta(htmlBytes []byte) (title, published string) {
	doc, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return "", ""
	}

	var traverse func(*html.Node)

	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
			case "meta":
				var property, content string

				for _, attr := range n.Attr {
					switch attr.Key {
					case "property", "name":
						property = attr.Val
					case "content":
						content = attr.Val
					}
				}

				if property == "article:published_time" && published == "" {
					published = content
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}

	traverse(doc)

	return title, published
}

func truncateContent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= scrapeMaxContent {
		return s
	}

	return s[:scrapeMaxContent]
}
