// Package tabelog scrapes restaurant listings from tabelog.com.
package tabelog

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/umaten/autopress/internal/pipeline"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond caps outbound request rate across all jobs.
	// Defaults to 0.5 (one request every two seconds).
	RequestsPerSecond float64
	// MaxReviews bounds how many review snippets Fetch collects.
	MaxReviews int
}

// detailURL matches a listing detail page and captures its canonical prefix,
// e.g. https://tabelog.com/tokyo/A1301/A130101/13000001.
var detailURL = regexp.MustCompile(`^(https?://[^/]+/[^/]+/A\d+/A\d+/\d+)(?:/.*)?$`)

// Scraper fetches and parses Tabelog pages with a shared politeness limiter.
type Scraper struct {
	cfg     Config
	limiter *rate.Limiter
	base    *colly.Collector
	logger  *zap.Logger
}

var _ pipeline.Scraper = (*Scraper)(nil)

// New builds a Scraper.
func New(cfg Config, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 0.5
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = 10
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	})

	return &Scraper{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		base:    c,
		logger:  logger,
	}
}

// Fetch loads a listing detail page and, when available, its photo page.
func (s *Scraper) Fetch(ctx context.Context, url string) (pipeline.Listing, error) {
	listing := pipeline.Listing{URL: url}
	var photoPageURL string

	collector := s.base.Clone()
	s.registerDetailHooks(collector, &listing, &photoPageURL)

	if err := s.visit(ctx, collector, url); err != nil {
		return pipeline.Listing{}, fmt.Errorf("fetch listing %s: %w", url, err)
	}

	if photoPageURL != "" {
		images, err := s.fetchPhotos(ctx, photoPageURL)
		if err != nil {
			s.logger.Warn("photo page fetch failed", zap.String("url", photoPageURL), zap.Error(err))
		} else {
			listing.Images = images
		}
	}
	s.logger.Debug("fetched listing",
		zap.String("url", url),
		zap.String("name", listing.Name),
		zap.Int("photo_count", listing.PhotoCount),
	)
	return listing, nil
}

func (s *Scraper) registerDetailHooks(c *colly.Collector, listing *pipeline.Listing, photoPageURL *string) {
	c.OnHTML("h1", func(e *colly.HTMLElement) {
		if listing.Name == "" {
			listing.Name = strings.TrimSpace(e.Text)
		}
	})

	c.OnHTML(`a[href*="/lst/cat"]`, func(e *colly.HTMLElement) {
		cat := strings.TrimSpace(e.Text)
		if cat == "" {
			return
		}
		for _, existing := range listing.Categories {
			if existing == cat {
				return
			}
		}
		listing.Categories = append(listing.Categories, cat)
	})

	c.OnHTML(`span[class*="rdheader-rating__score"]`, func(e *colly.HTMLElement) {
		if listing.Rating != 0 {
			return
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(e.Text), 64); err == nil {
			listing.Rating = v
		}
	})

	c.OnHTML(`em[class*="count"], span[class*="count"]`, func(e *colly.HTMLElement) {
		if listing.ReviewCount != 0 {
			return
		}
		if n, ok := firstInt(e.Text); ok {
			listing.ReviewCount = n
		}
	})

	c.OnHTML(`li#rdnavi-photo span.rstdtl-navi__total-count strong`, func(e *colly.HTMLElement) {
		if n, ok := firstInt(e.Text); ok {
			listing.PhotoCount = n
		}
	})
	c.OnHTML(`span.rstdtl-navi__total-count strong`, func(e *colly.HTMLElement) {
		if listing.PhotoCount == 0 {
			if n, ok := firstInt(e.Text); ok {
				listing.PhotoCount = n
			}
		}
	})

	c.OnHTML(`div[class*="description"]`, func(e *colly.HTMLElement) {
		if listing.Description == "" {
			listing.Description = strings.TrimSpace(e.Text)
		}
	})

	c.OnHTML(`a.mainnavi[href*="dtlphotolst"]`, func(e *colly.HTMLElement) {
		if *photoPageURL == "" {
			*photoPageURL = e.Request.AbsoluteURL(e.Attr("href"))
		}
	})

	c.OnHTML("th", func(e *colly.HTMLElement) {
		label := strings.TrimSpace(e.Text)
		value := strings.TrimSpace(e.DOM.Next().Text())
		if value == "" {
			return
		}
		switch {
		case strings.Contains(label, "住所"):
			if listing.Address == "" {
				listing.Address = value
			}
		case strings.Contains(label, "交通手段"), strings.Contains(label, "最寄り駅"):
			listing.Station = value
		case strings.Contains(label, "電話番号"):
			listing.Phone = value
		case strings.Contains(label, "営業時間"):
			listing.BusinessHours = value
		case strings.Contains(label, "定休日"):
			listing.Holiday = value
		case strings.Contains(label, "座席"):
			listing.Seats = value
		case strings.Contains(label, "ランチ"):
			listing.Budget.Lunch = value
		case strings.Contains(label, "ディナー"):
			listing.Budget.Dinner = value
		case strings.Contains(label, "予算"):
			if listing.Budget.Dinner == "" {
				listing.Budget.Dinner = value
			}
		case strings.Contains(label, "ホームページ"), strings.Contains(label, "公式"):
			href := e.DOM.Next().Find("a[href]").AttrOr("href", "")
			if href != "" && !strings.Contains(href, "tabelog.com") {
				listing.Website = href
			}
		}
	})

	c.OnHTML(`div[class*="review"]`, func(e *colly.HTMLElement) {
		if len(listing.Reviews) >= s.cfg.MaxReviews {
			return
		}
		excerpt := strings.TrimSpace(e.DOM.Find(`div[class*="comment"]`).First().Text())
		if excerpt == "" {
			return
		}
		listing.Reviews = append(listing.Reviews, pipeline.Review{
			Title:   strings.TrimSpace(e.DOM.Find(`a[class*="title"]`).First().Text()),
			Excerpt: excerpt,
		})
	})
}

// fetchPhotos pulls full-size image URLs from the photo gallery page.
func (s *Scraper) fetchPhotos(ctx context.Context, photoURL string) ([]string, error) {
	var images []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		if raw == "" || !strings.Contains(raw, "tblg.k-img.com") {
			return
		}
		full := fullImageURL(raw)
		if _, dup := seen[full]; dup {
			return
		}
		seen[full] = struct{}{}
		images = append(images, full)
	}

	collector := s.base.Clone()
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if hasImageExt(href) {
			add(href)
		}
	})
	collector.OnHTML("img[src]", func(e *colly.HTMLElement) {
		add(e.Attr("src"))
	})

	if err := s.visit(ctx, collector, photoURL); err != nil {
		return nil, err
	}
	return images, nil
}

// ExtractListingURLs pulls detail-page URLs from a list page, walking
// pagination up to the highest page number advertised when allPages is set.
func (s *Scraper) ExtractListingURLs(ctx context.Context, listURL string, allPages bool) ([]string, error) {
	urls, maxPage, err := s.collectListPage(ctx, listURL)
	if err != nil {
		return nil, fmt.Errorf("list page %s: %w", listURL, err)
	}
	if allPages && maxPage > 1 {
		base := strings.TrimRight(listURL, "/")
		for page := 2; page <= maxPage; page++ {
			pageURL := fmt.Sprintf("%s/%d/", base, page)
			pageURLs, _, err := s.collectListPage(ctx, pageURL)
			if err != nil {
				s.logger.Warn("list page walk stopped",
					zap.String("url", pageURL),
					zap.Error(err),
				)
				break
			}
			urls = append(urls, pageURLs...)
		}
	}
	return dedupe(urls), nil
}

func (s *Scraper) collectListPage(ctx context.Context, pageURL string) ([]string, int, error) {
	var urls []string
	maxPage := 1

	collector := s.base.Clone()
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		full := e.Request.AbsoluteURL(e.Attr("href"))
		if !strings.Contains(full, "tabelog.com") && !sameHost(full, pageURL) {
			return
		}
		if strings.Contains(full, "/rstLst/") || strings.Contains(full, "/lst/") {
			return
		}
		if i := strings.IndexAny(full, "?#"); i >= 0 {
			full = full[:i]
		}
		if m := detailURL.FindStringSubmatch(full); m != nil {
			urls = append(urls, m[1]+"/")
		}
	})
	pager := func(e *colly.HTMLElement) {
		if n, err := strconv.Atoi(strings.TrimSpace(e.Text)); err == nil && n > maxPage {
			maxPage = n
		}
	}
	collector.OnHTML("nav.c-pagination a.c-pagination__target", pager)
	collector.OnHTML("div.rstlst-pager a", pager)

	if err := s.visit(ctx, collector, pageURL); err != nil {
		return nil, 0, err
	}
	return urls, maxPage, nil
}

// visit waits on the politeness limiter, then runs the collector in a
// goroutine so cancellation is honored mid-request.
func (s *Scraper) visit(ctx context.Context, collector *colly.Collector, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	var respErr error
	collector.OnError(func(_ *colly.Response, err error) {
		respErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("visit canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		if respErr != nil {
			return fmt.Errorf("response failed: %w", respErr)
		}
		return nil
	}
}

func firstInt(text string) (int, bool) {
	digits := regexp.MustCompile(`\d+`).FindString(text)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasImageExt(url string) bool {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp"} {
		if strings.Contains(url, ext) {
			return true
		}
	}
	return false
}

// fullImageURL rewrites thumbnail URLs to the 640x640 rendition.
func fullImageURL(url string) string {
	replacer := strings.NewReplacer(
		"150x150_square", "640x640_rect",
		"320x320_rect", "640x640_rect",
		"240x240_square", "640x640_rect",
		"120x120_square", "640x640_rect",
		"/s/", "/m/",
	)
	return replacer.Replace(url)
}

func sameHost(a, b string) bool {
	return hostOf(a) != "" && hostOf(a) == hostOf(b)
}

func hostOf(url string) string {
	rest := url
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	} else {
		return ""
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
