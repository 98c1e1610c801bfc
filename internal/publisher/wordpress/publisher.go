// Package wordpress publishes articles through the WordPress REST API.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

// Config controls the REST client.
type Config struct {
	// BaseURL is the site root, e.g. https://blog.example.com.
	BaseURL  string
	Username string
	// AppPassword is a WordPress application password; embedded spaces are
	// stripped before use.
	AppPassword string
	Timeout     time.Duration
	// CategoryCacheTTL bounds how long the category tree is reused.
	CategoryCacheTTL time.Duration
}

// Publisher implements pipeline.Publisher against /wp-json/wp/v2.
type Publisher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	mu          sync.Mutex
	cached      []pipeline.Category
	cachedUntil time.Time
}

var _ pipeline.Publisher = (*Publisher)(nil)

// New builds a Publisher.
func New(cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AppPassword = strings.ReplaceAll(cfg.AppPassword, " ", "")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CategoryCacheTTL <= 0 {
		cfg.CategoryCacheTTL = 5 * time.Minute
	}
	return &Publisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type postRequest struct {
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Slug       string            `json:"slug,omitempty"`
	Status     string            `json:"status"`
	Format     string            `json:"format"`
	Categories []int             `json:"categories,omitempty"`
	Tags       []int             `json:"tags,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}

type postResponse struct {
	ID   int    `json:"id"`
	Link string `json:"link"`
}

// CreatePost wraps the article body in a Gutenberg custom HTML block and
// creates the post with categories, tags, and SEO meta attached.
func (p *Publisher) CreatePost(ctx context.Context, article pipeline.Article, categoryIDs []int, status pipeline.PostStatus) (pipeline.Post, error) {
	req := postRequest{
		Title:      article.Title,
		Content:    fmt.Sprintf("<!-- wp:html -->\n%s\n<!-- /wp:html -->", article.HTML),
		Slug:       article.Slug,
		Status:     string(status),
		Format:     "standard",
		Categories: categoryIDs,
		Meta:       seoMeta(article),
	}
	if len(article.Tags) > 0 {
		req.Tags = p.getOrCreateTags(ctx, article.Tags)
	}

	var resp postResponse
	if err := p.do(ctx, http.MethodPost, "/wp-json/wp/v2/posts", req, http.StatusCreated, &resp); err != nil {
		return pipeline.Post{}, fmt.Errorf("create post: %w", err)
	}
	p.logger.Info("post created",
		zap.Int("post_id", resp.ID),
		zap.String("link", resp.Link),
		zap.String("status", string(status)),
		zap.Ints("categories", categoryIDs),
	)
	return pipeline.Post{ID: resp.ID, URL: resp.Link}, nil
}

// seoMeta fills the meta fields of the common SEO plugins so whichever is
// installed picks up title and description.
func seoMeta(article pipeline.Article) map[string]string {
	meta := make(map[string]string)
	if article.MetaDescription != "" {
		meta["_yoast_wpseo_metadesc"] = article.MetaDescription
		meta["ssp_meta_description"] = article.MetaDescription
		meta["_aioseop_description"] = article.MetaDescription
	}
	if article.Title != "" {
		meta["_yoast_wpseo_title"] = article.Title
		meta["ssp_meta_title"] = article.Title
		meta["_aioseop_title"] = article.Title
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

type tagObject struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// getOrCreateTags resolves tag names to IDs, creating missing tags. A tag
// that cannot be resolved is dropped rather than failing the post.
func (p *Publisher) getOrCreateTags(ctx context.Context, names []string) []int {
	var ids []int
	for _, name := range names {
		id, err := p.tagID(ctx, name)
		if err != nil {
			p.logger.Warn("tag lookup failed", zap.String("tag", name), zap.Error(err))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (p *Publisher) tagID(ctx context.Context, name string) (int, error) {
	var found []tagObject
	path := "/wp-json/wp/v2/tags?search=" + url.QueryEscape(name)
	if err := p.do(ctx, http.MethodGet, path, nil, http.StatusOK, &found); err != nil {
		return 0, err
	}
	for _, tag := range found {
		if tag.Name == name {
			return tag.ID, nil
		}
	}
	var created tagObject
	if err := p.do(ctx, http.MethodPost, "/wp-json/wp/v2/tags", map[string]string{"name": name}, http.StatusCreated, &created); err != nil {
		return 0, err
	}
	return created.ID, nil
}

// do performs one authenticated JSON request and decodes the response into
// out when it is non-nil.
func (p *Publisher) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.SetBasicAuth(p.cfg.Username, p.cfg.AppPassword)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
