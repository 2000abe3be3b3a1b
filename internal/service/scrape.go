package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"page_scraper/internal/config"
	"page_scraper/internal/domain"
	"page_scraper/internal/matcher"
	"page_scraper/internal/relevance"
)

// ScrapeOptions narrows a single run. Zero values fall back to the
// configured defaults; an empty PageIDs scrapes every stored page.
type ScrapeOptions struct {
	PageIDs   []string
	DaysBack  int
	PostLimit int
}

type ScrapeService struct {
	source    Source
	pages     PageStore
	ledger    *Ledger
	filter    *relevance.Filter
	keywords  KeywordRebuilder
	publisher Publisher
	logger    *slog.Logger
	config    config.ScrapeConfig
	now       func() time.Time
}

// NewScrapeService wires a ScrapeService. keywords and publisher may be nil.
// When keywords is set, every run first recompiles filter from the store so
// that keyword changes made by other processes are picked up.
func NewScrapeService(
	source Source,
	pages PageStore,
	ledger *Ledger,
	filter *relevance.Filter,
	keywords KeywordRebuilder,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.ScrapeConfig,
) *ScrapeService {
	return &ScrapeService{
		source:    source,
		pages:     pages,
		ledger:    ledger,
		filter:    filter,
		keywords:  keywords,
		publisher: publisher,
		logger:    logger.With("component", "scrape"),
		config:    cfg,
		now:       time.Now,
	}
}

// Run scrapes every stored page with the configured defaults.
func (s *ScrapeService) Run(ctx context.Context) (*domain.ScrapeReport, error) {
	return s.Scrape(ctx, ScrapeOptions{})
}

// Scrape processes the selected pages and reports per-page counts. A page
// that fails is recorded in the report and the run moves on. The returned
// error is only set when the page list cannot be read or ctx is done; the
// report then holds the pages finished so far.
func (s *ScrapeService) Scrape(ctx context.Context, opts ScrapeOptions) (*domain.ScrapeReport, error) {
	report := &domain.ScrapeReport{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	logger := s.logger.With("run_id", report.RunID)

	if s.keywords != nil {
		if err := s.keywords.Rebuild(ctx); err != nil {
			return nil, fmt.Errorf("refresh keywords: %w", err)
		}
	}

	pageIDs := opts.PageIDs
	if len(pageIDs) == 0 {
		pages, err := s.pages.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list pages: %w", err)
		}
		for _, p := range pages {
			pageIDs = append(pageIDs, p.ID)
		}
	}

	if len(pageIDs) == 0 {
		logger.Warn("no pages to scrape")
		report.Duration = time.Since(report.StartedAt)
		return report, nil
	}

	if opts.DaysBack <= 0 {
		opts.DaysBack = s.config.DaysBack
	}
	if opts.PostLimit <= 0 {
		opts.PostLimit = s.config.PostLimit
	}

	logger.Info("starting scrape",
		"pages", len(pageIDs),
		"days_back", opts.DaysBack,
		"post_limit", opts.PostLimit,
		"workers", s.config.Workers,
	)

	results := make([]domain.PageResult, len(pageIDs))
	done := make([]bool, len(pageIDs))

	if s.config.Workers <= 1 {
		for i, id := range pageIDs {
			if ctx.Err() != nil {
				break
			}
			results[i] = s.scrapePage(ctx, logger, id, opts)
			done[i] = true
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.config.Workers)
		for i, id := range pageIDs {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				results[i] = s.scrapePage(gctx, logger, id, opts)
				done[i] = true
				return nil
			})
		}
		_ = g.Wait()
	}

	for i := range results {
		if done[i] {
			report.Pages = append(report.Pages, results[i])
		}
	}
	report.Duration = time.Since(report.StartedAt)

	totals := report.Totals()
	logger.Info("scrape completed",
		"pages", totals.Pages,
		"failed_pages", totals.FailedPages,
		"posts_fetched", totals.PostsFetched,
		"posts_new", totals.PostsNew,
		"comments_fetched", totals.CommentsFetched,
		"comments_new", totals.CommentsNew,
		"comments_saved", totals.CommentsSaved,
		"errors", totals.Errors,
		"duration", report.Duration,
	)

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("scrape interrupted: %w", err)
	}
	return report, nil
}

func (s *ScrapeService) scrapePage(ctx context.Context, logger *slog.Logger, pageID string, opts ScrapeOptions) domain.PageResult {
	res := domain.PageResult{PageID: pageID}
	logger = logger.With("page_id", pageID)

	since := s.now().AddDate(0, 0, -opts.DaysBack)
	posts, err := s.source.FetchPosts(ctx, pageID, since, opts.PostLimit)
	if err != nil {
		res.Err = fmt.Errorf("fetch posts: %w", err)
		logger.Error("fetch posts failed", "error", err)
		return res
	}

	posts = filterSince(posts, since)
	res.PostsFetched = len(posts)

	fresh, err := s.ledger.ClaimNewPosts(ctx, pageID, posts)
	if err != nil {
		s.release(logger, fresh)
		res.Err = fmt.Errorf("claim posts: %w", err)
		logger.Error("claim posts failed", "error", err)
		return res
	}
	res.PostsNew = len(fresh)

	logger.Debug("fetched posts", "fetched", res.PostsFetched, "new", res.PostsNew)

	// One matcher for the whole page, even if keywords change meanwhile.
	m := s.filter.Snapshot()

	for i := range fresh {
		if err := ctx.Err(); err != nil {
			s.release(logger, fresh[i:])
			res.Err = err
			return res
		}

		s.processPost(ctx, logger, m, pageID, &fresh[i], &res)

		if i < len(fresh)-1 {
			if err := s.throttle(ctx); err != nil {
				s.release(logger, fresh[i+1:])
				res.Err = err
				return res
			}
		}
	}

	// An interrupted page is not stamped.
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if err := s.pages.MarkScraped(ctx, pageID, s.now()); err != nil {
		res.Errors++
		logger.Error("mark page scraped failed", "error", err)
	}

	logger.Info("page scraped",
		"posts_new", res.PostsNew,
		"comments_fetched", res.CommentsFetched,
		"comments_new", res.CommentsNew,
		"comments_saved", res.CommentsSaved,
		"errors", res.Errors,
	)
	return res
}

func (s *ScrapeService) processPost(
	ctx context.Context,
	logger *slog.Logger,
	m *matcher.Matcher,
	pageID string,
	post *domain.Post,
	res *domain.PageResult,
) {
	logger = logger.With("post_id", post.ID)

	comments, fetchErr := s.source.FetchComments(ctx, post.ID)
	if fetchErr != nil {
		res.Errors++
		logger.Warn("fetch comments failed", "error", fetchErr, "partial", len(comments))
		// Keep what came back, but let the next run retry the post.
		defer s.release(logger, []domain.Post{*post})
	}
	res.CommentsFetched += len(comments)

	fresh, err := s.ledger.NewComments(ctx, post.ID, comments)
	if err != nil {
		res.Errors++
		logger.Error("lookup comments failed", "error", err)
		if fetchErr == nil {
			s.release(logger, []domain.Post{*post})
		}
		return
	}
	res.CommentsNew += len(fresh)

	saveFailed := false
	for _, c := range fresh {
		if !relevance.IsRelevant(m, c.Message) {
			continue
		}

		comment := &domain.Comment{
			ID:              c.ID,
			PostID:          post.ID,
			PageID:          pageID,
			Message:         c.Message,
			CreatedTime:     c.CreatedTime,
			AuthorID:        c.AuthorID,
			AuthorName:      c.AuthorName,
			MatchedKeywords: relevance.MatchedKeywords(m, c.Message),
			ScrapedAt:       s.now(),
		}

		saved, err := s.ledger.SaveComment(ctx, comment)
		if err != nil {
			res.Errors++
			saveFailed = true
			logger.Error("save comment failed", "comment_id", c.ID, "error", err)
			continue
		}
		if !saved {
			logger.Debug("comment already stored", "comment_id", c.ID)
			continue
		}
		res.CommentsSaved++

		if s.publisher != nil {
			if err := s.publisher.PublishComment(ctx, comment); err != nil {
				res.Errors++
				logger.Warn("publish comment failed", "comment_id", c.ID, "error", err)
			}
		}
	}

	// Stored comments are skipped on the retry, so only the unsaved ones
	// are written again.
	if saveFailed && fetchErr == nil {
		s.release(logger, []domain.Post{*post})
	}
}

// release drops the claims of posts that were not processed. It runs even
// when ctx is already cancelled.
func (s *ScrapeService) release(logger *slog.Logger, posts []domain.Post) {
	ctx := context.Background()
	for _, p := range posts {
		if err := s.ledger.ReleasePost(ctx, p.ID); err != nil {
			logger.Error("release post failed", "post_id", p.ID, "error", err)
		}
	}
}

func (s *ScrapeService) throttle(ctx context.Context) error {
	if s.config.PostDelay <= 0 {
		return nil
	}

	timer := time.NewTimer(s.config.PostDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func filterSince(posts []domain.Post, since time.Time) []domain.Post {
	var filtered []domain.Post
	for _, p := range posts {
		if !p.CreatedTime.Before(since) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}
