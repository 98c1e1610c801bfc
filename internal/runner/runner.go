// Package runner executes the fetch, generate, publish pipeline for one job.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"github.com/umaten/autopress/internal/pipeline"
	"github.com/umaten/autopress/internal/progress"
	"github.com/umaten/autopress/internal/usage"
)

// Config controls Runner behavior.
type Config struct {
	// MinPhotos is the minimum photo count a listing must carry before an
	// article is generated for it. Defaults to 4.
	MinPhotos int
	// InputRate and OutputRate are USD per million tokens used for cost
	// accounting. Defaults are 3 and 15.
	InputRate  float64
	OutputRate float64
}

// Runner processes jobs one at a time. It owns every status transition for
// the jobs it runs and emits a progress event after each one. A generation
// failure downgrades the article to basic listing info instead of failing
// the job; fetch and publish failures are terminal.
type Runner struct {
	status    pipeline.StatusStore
	emitter   progress.Emitter
	scraper   pipeline.Scraper
	generator pipeline.Generator
	publisher pipeline.Publisher
	usage     pipeline.UsageRecorder
	settings  pipeline.SettingsSource
	clock     pipeline.Clock
	logger    *zap.Logger
	cfg       Config
}

// New constructs a Runner.
func New(
	status pipeline.StatusStore,
	emitter progress.Emitter,
	scraper pipeline.Scraper,
	generator pipeline.Generator,
	publisher pipeline.Publisher,
	usageRec pipeline.UsageRecorder,
	settings pipeline.SettingsSource,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPhotos <= 0 {
		cfg.MinPhotos = 4
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = 3
	}
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = 15
	}
	return &Runner{
		status:    status,
		emitter:   emitter,
		scraper:   scraper,
		generator: generator,
		publisher: publisher,
		usage:     usageRec,
		settings:  settings,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Process runs the job to a terminal state. It never returns an error; all
// outcomes land in the status store.
func (r *Runner) Process(ctx context.Context, job pipeline.Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("job panicked",
				zap.String("job_id", job.ID),
				zap.Any("panic", rec),
			)
			r.fail(job.ID, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	r.transition(job.ID, pipeline.StateFetching, 10, "fetching listing")
	listing, err := r.scraper.Fetch(ctx, job.URL)
	if err != nil {
		r.fail(job.ID, fmt.Sprintf("fetch listing: %v", err))
		return
	}
	if listing.Name == "" {
		r.fail(job.ID, "listing page had no restaurant name")
		return
	}
	if listing.PhotoCount < r.cfg.MinPhotos {
		r.fail(job.ID, fmt.Sprintf("listing has %d photos, need at least %d", listing.PhotoCount, r.cfg.MinPhotos))
		return
	}
	r.transition(job.ID, pipeline.StateFetching, 40, "listing fetched")

	r.transition(job.ID, pipeline.StateGenerating, 50, "generating article")
	article, err := r.generator.Generate(ctx, listing)
	usedFallback := false
	if err != nil {
		usedFallback = true
		r.logger.Warn("article generation failed, falling back to basic info",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		article = fallbackArticle(listing)
		r.warn(job.ID, fmt.Sprintf("article generation failed, publishing basic info only: %v", err))
	}
	r.recordUsage(listing, article)
	r.transition(job.ID, pipeline.StateGenerating, 70, "article ready")

	r.transition(job.ID, pipeline.StatePublishing, 80, "publishing post")
	categoryIDs := job.CategoryIDs
	if len(categoryIDs) == 0 {
		resolved, rerr := r.publisher.ResolveCategories(ctx, listing)
		if rerr != nil {
			r.logger.Warn("category resolution failed, publishing uncategorized",
				zap.String("job_id", job.ID),
				zap.Error(rerr),
			)
		} else {
			categoryIDs = resolved
		}
	}
	postStatus := pipeline.PostDraft
	if r.settings.Current().AutoPublish {
		postStatus = pipeline.PostPublish
	}
	post, err := r.publisher.CreatePost(ctx, article, categoryIDs, postStatus)
	if err != nil {
		r.fail(job.ID, fmt.Sprintf("create post: %v", err))
		return
	}

	r.complete(job.ID, pipeline.Result{
		PostID:         post.ID,
		PostURL:        post.URL,
		RestaurantName: listing.Name,
		UsedFallback:   usedFallback,
	})
	r.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("post_id", post.ID),
		zap.Bool("used_fallback", usedFallback),
	)
}

func (r *Runner) transition(jobID string, state pipeline.State, pct int, step string) {
	status, ok := r.status.Update(jobID, func(st *pipeline.JobStatus) {
		st.State = state
		st.Progress = pct
		st.Step = step
	})
	if ok {
		r.emit(status)
	}
}

func (r *Runner) warn(jobID, msg string) {
	status, ok := r.status.Update(jobID, func(st *pipeline.JobStatus) {
		st.Warning = msg
	})
	if ok {
		r.emit(status)
	}
}

func (r *Runner) fail(jobID, msg string) {
	status, ok := r.status.Update(jobID, func(st *pipeline.JobStatus) {
		st.State = pipeline.StateError
		st.Step = "failed"
		st.Error = msg
	})
	if ok {
		r.emit(status)
	}
	r.logger.Warn("job failed", zap.String("job_id", jobID), zap.String("error", msg))
}

func (r *Runner) complete(jobID string, result pipeline.Result) {
	status, ok := r.status.Update(jobID, func(st *pipeline.JobStatus) {
		st.State = pipeline.StateCompleted
		st.Progress = 100
		st.Step = "done"
		st.Result = &result
	})
	if ok {
		r.emit(status)
	}
}

func (r *Runner) emit(status pipeline.JobStatus) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(progress.FromStatus(status, r.clock.Now()))
}

// recordUsage books token consumption for the generate stage. Token counts
// reported by the model win; otherwise both sides are estimated from the
// payload sizes.
func (r *Runner) recordUsage(listing pipeline.Listing, article pipeline.Article) {
	in := int64(article.InputTokens)
	out := int64(article.OutputTokens)
	if in == 0 {
		raw, err := json.Marshal(listing)
		if err == nil {
			in = usage.EstimateTokens(len(raw))
		}
	}
	if out == 0 {
		out = usage.EstimateTokens(len(article.HTML))
	}
	r.usage.Record(in, out, usage.Cost(in, out, r.cfg.InputRate, r.cfg.OutputRate))
}

// fallbackArticle renders a minimal basic-info article for listings whose
// generated article never arrived.
func fallbackArticle(listing pipeline.Listing) pipeline.Article {
	var b strings.Builder
	fmt.Fprintf(&b, "<h2>%s</h2>\n", html.EscapeString(listing.Name))
	b.WriteString("<p>記事の自動生成に失敗したため、基本情報のみ掲載しています。</p>\n")
	b.WriteString("<ul>\n")
	if listing.Address != "" {
		fmt.Fprintf(&b, "<li>住所: %s</li>\n", html.EscapeString(listing.Address))
	}
	if listing.Rating > 0 {
		fmt.Fprintf(&b, "<li>評価: %.2f</li>\n", listing.Rating)
	}
	if len(listing.Categories) > 0 {
		fmt.Fprintf(&b, "<li>ジャンル: %s</li>\n", html.EscapeString(strings.Join(listing.Categories, "、")))
	}
	b.WriteString("</ul>\n")

	meta := listing.Name
	if listing.Address != "" {
		meta += " - " + listing.Address
	}
	category := ""
	if len(listing.Categories) > 0 {
		category = listing.Categories[0]
	}
	return pipeline.Article{
		Title:           listing.Name,
		HTML:            b.String(),
		Category:        category,
		MetaDescription: meta,
	}
}
