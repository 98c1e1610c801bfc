// Package claude generates article content through an Anthropic-style
// messages endpoint.
package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
)

// Config controls the API client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// MaxRetries bounds attempts when the API answers 429.
	MaxRetries int
	// RetryBaseDelay is doubled on each consecutive 429.
	RetryBaseDelay time.Duration
}

// Generator implements pipeline.Generator against the messages API.
type Generator struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

var _ pipeline.Generator = (*Generator)(nil)

// New builds a Generator.
func New(cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 10 * time.Second
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate produces an Article for the listing. The model returns a JSON
// payload which is rendered into the final HTML body here; token usage comes
// from the API response.
func (g *Generator) Generate(ctx context.Context, listing pipeline.Listing) (pipeline.Article, error) {
	prompt := buildPrompt(listing)

	resp, err := g.complete(ctx, prompt)
	if err != nil {
		return pipeline.Article{}, err
	}
	if len(resp.Content) == 0 {
		return pipeline.Article{}, fmt.Errorf("empty model response (stop_reason %q)", resp.StopReason)
	}

	payload, err := parsePayload(resp.Content[0].Text)
	if err != nil {
		return pipeline.Article{}, fmt.Errorf("parse article payload: %w", err)
	}

	title := payload.SEOTitle
	if title == "" {
		title = listing.Name + " | ウマ店"
	}
	g.logger.Info("article generated",
		zap.String("restaurant", listing.Name),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
	)
	return pipeline.Article{
		Title:           title,
		HTML:            renderHTML(payload, listing),
		Slug:            payload.Slug,
		Category:        payload.Category,
		Tags:            payload.Tags,
		MetaDescription: payload.MetaDescription,
		InputTokens:     resp.Usage.InputTokens,
		OutputTokens:    resp.Usage.OutputTokens,
	}, nil
}

// complete performs the API call, retrying on 429 with exponential backoff.
func (g *Generator) complete(ctx context.Context, prompt string) (messagesResponse, error) {
	body, err := json.Marshal(messagesRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages:    []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return messagesResponse{}, fmt.Errorf("encode request: %w", err)
	}

	delay := g.cfg.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		resp, retryable, err := g.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !retryable || attempt >= g.cfg.MaxRetries {
			return messagesResponse{}, err
		}
		g.logger.Warn("model rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return messagesResponse{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (g *Generator) doRequest(ctx context.Context, body []byte) (messagesResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return messagesResponse{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", g.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	httpResp, err := g.client.Do(req)
	if err != nil {
		return messagesResponse{}, false, fmt.Errorf("call model: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		err := fmt.Errorf("model api status %d: %s", httpResp.StatusCode, strings.TrimSpace(string(msg)))
		return messagesResponse{}, httpResp.StatusCode == http.StatusTooManyRequests, err
	}

	var resp messagesResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return messagesResponse{}, false, fmt.Errorf("decode response: %w", err)
	}
	return resp, false, nil
}

// fencedJSON extracts a JSON object from a ```json fenced block.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

func parsePayload(text string) (articlePayload, error) {
	text = strings.TrimSpace(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var payload articlePayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return articlePayload{}, err
	}
	return payload, nil
}
