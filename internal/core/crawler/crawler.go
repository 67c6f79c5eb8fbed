package crawler

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
)

// maxPages caps how many URLs a full crawl visits so a large site cannot run
// away with the worker.
const maxPages = 200

const (
	CrawlTypeSitemap = "sitemap"
	CrawlTypeFull    = "full"
)

// Page is one successfully fetched and cleaned page.
type Page struct {
	URL   string
	Title string
	Text  string
}

type Crawler struct {
	client        *http.Client
	userAgent     string
	maxConcurrent int64
	logger        *slog.Logger
}

func New(timeout time.Duration, maxConcurrent int, userAgent string, logger *slog.Logger) *Crawler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Crawler{
		client:        &http.Client{Timeout: timeout},
		userAgent:     userAgent,
		maxConcurrent: int64(maxConcurrent),
		logger:        logger,
	}
}

// Crawl fetches a site starting from seedURL. Sitemap mode reads
// {seed}/sitemap.xml and fetches every listed URL; full mode walks links
// breadth-first, staying on the seed's host. Pages that fail to fetch are
// logged and skipped, they never fail the crawl.
func (c *Crawler) Crawl(ctx context.Context, seedURL, crawlType string) ([]Page, error) {
	seed, err := url.Parse(seedURL)
	if err != nil || seed.Host == "" {
		return nil, fmt.Errorf("invalid seed url %q", seedURL)
	}
	switch crawlType {
	case CrawlTypeSitemap:
		urls, err := c.sitemapURLs(ctx, seed)
		if err != nil {
			return nil, err
		}
		return c.fetchAll(ctx, urls), nil
	case CrawlTypeFull:
		return c.crawlFull(ctx, seed)
	default:
		return nil, fmt.Errorf("unknown crawl type %q", crawlType)
	}
}

// sitemapURLs collects every <loc> in the document, wherever it nests, so
// both <urlset> and <sitemapindex> shapes yield their URLs.
func (c *Crawler) sitemapURLs(ctx context.Context, seed *url.URL) ([]string, error) {
	smURL := strings.TrimRight(seed.String(), "/") + "/sitemap.xml"
	body, err := c.get(ctx, smURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	dec := xml.NewDecoder(bytes.NewReader(body))
	var urls []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sitemap: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "loc" {
			continue
		}
		var loc string
		if err := dec.DecodeElement(&loc, &se); err != nil {
			return nil, fmt.Errorf("parse sitemap: %w", err)
		}
		if u := strings.TrimSpace(loc); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

// fetchAll fetches pages concurrently, bounded by the semaphore.
func (c *Crawler) fetchAll(ctx context.Context, urls []string) []Page {
	sem := semaphore.NewWeighted(c.maxConcurrent)
	results := make([]*Page, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, u string) {
			defer wg.Done()
			defer sem.Release(1)
			page, _, err := c.fetchPage(ctx, u)
			if err != nil {
				c.logger.Warn("skipping page", "url", u, "error", err)
				return
			}
			results[i] = page
		}(i, u)
	}
	wg.Wait()

	pages := make([]Page, 0, len(urls))
	for _, p := range results {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	return pages
}

func (c *Crawler) crawlFull(ctx context.Context, seed *url.URL) ([]Page, error) {
	visited := map[string]bool{}
	queue := []string{seed.String()}
	var pages []Page
	// The cap bounds visited URLs, not successes; a site full of dead links
	// must still terminate.
	for len(queue) > 0 && len(visited) < maxPages {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		page, links, err := c.fetchPage(ctx, current)
		if err != nil {
			c.logger.Warn("skipping page", "url", current, "error", err)
			continue
		}
		pages = append(pages, *page)
		for _, link := range links {
			if !visited[link] && sameHost(link, seed) {
				queue = append(queue, link)
			}
		}
	}
	return pages, nil
}

func sameHost(rawURL string, seed *url.URL) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == seed.Host
}

func (c *Crawler) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// fetchPage downloads one page and returns its cleaned text plus the absolute
// links it references.
func (c *Crawler) fetchPage(ctx context.Context, rawURL string) (*Page, []string, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, err
	}
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, fmt.Errorf("parse html: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	content := doc.Find("body")
	content.Find("script,style,nav,footer,header,aside,iframe,noscript").Remove()
	text := strings.Join(strings.Fields(content.Text()), " ")

	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" || strings.Contains(href, "#") {
			return
		}
		abs, err := base.Parse(href)
		if err != nil {
			return
		}
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		links = append(links, abs.String())
	})

	return &Page{URL: rawURL, Title: title, Text: text}, links, nil
}
