package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"page_scraper/internal/config"
	"page_scraper/internal/domain"
	"page_scraper/internal/matcher"
	"page_scraper/internal/relevance"
	"page_scraper/internal/service/mocks"
)

type ScrapeServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context
	now  time.Time

	source    *mocks.MockSource
	pages     *mocks.MockPageStore
	posts     *mocks.MockPostLedgerStore
	comments  *mocks.MockCommentStore
	publisher *mocks.MockPublisher

	cfg     config.ScrapeConfig
	filter  *relevance.Filter
	service *ScrapeService
}

func (s *ScrapeServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.source = mocks.NewMockSource(s.ctrl)
	s.pages = mocks.NewMockPageStore(s.ctrl)
	s.posts = mocks.NewMockPostLedgerStore(s.ctrl)
	s.comments = mocks.NewMockCommentStore(s.ctrl)
	s.publisher = mocks.NewMockPublisher(s.ctrl)

	s.cfg = config.ScrapeConfig{
		DaysBack:  30,
		PostLimit: 100,
		Workers:   1,
	}
	s.filter = relevance.NewFilter(matcher.MustCompile([]string{"avon"}, matcher.DefaultFallback))

	s.service = s.newService(s.cfg)
}

func (s *ScrapeServiceTestSuite) newService(cfg config.ScrapeConfig) *ScrapeService {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	ledger := NewLedger(s.posts, s.comments)
	ledger.now = func() time.Time { return s.now }

	svc := NewScrapeService(s.source, s.pages, ledger, s.filter, nil, s.publisher, logger, cfg)
	svc.now = func() time.Time { return s.now }
	return svc
}

func (s *ScrapeServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestScrapeServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ScrapeServiceTestSuite))
}

func (s *ScrapeServiceTestSuite) post(id string, age time.Duration) domain.Post {
	return domain.Post{ID: id, PageID: "avon", CreatedTime: s.now.Add(-age)}
}

func (s *ScrapeServiceTestSuite) TestScrape_RelevantCommentSavedOnce() {
	since := s.now.AddDate(0, 0, -30)
	post := s.post("post-1", time.Hour)

	s.pages.EXPECT().List(gomock.Any()).Return([]domain.Page{{ID: "avon"}}, nil)
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", since, 100).Return([]domain.Post{
		post,
		s.post("post-old", 45*24*time.Hour),
	}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), []string{"post-1"}).Return(map[string]struct{}{}, nil)
	s.posts.EXPECT().Claim(gomock.Any(), &domain.PostRecord{
		PostID:      "post-1",
		PageID:      "avon",
		CreatedTime: post.CreatedTime,
		LastScraped: s.now,
	}).Return(true, nil)
	s.source.EXPECT().FetchComments(gomock.Any(), "post-1").Return([]domain.SourceComment{
		{ID: "c-1", Message: "I love Avon!", AuthorID: "u-1", AuthorName: "Jane"},
		{ID: "c-2", Message: "Nice weather today"},
	}, nil)
	s.comments.EXPECT().ExistingIDs(gomock.Any(), "post-1", []string{"c-1", "c-2"}).Return(map[string]struct{}{}, nil)
	s.comments.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c *domain.Comment) (bool, error) {
			s.Equal("c-1", c.ID)
			s.Equal("post-1", c.PostID)
			s.Equal("avon", c.PageID)
			s.Equal("Jane", c.AuthorName)
			s.Equal([]string{"avon"}, c.MatchedKeywords)
			s.Equal(s.now, c.ScrapedAt)
			return true, nil
		},
	)
	s.publisher.EXPECT().PublishComment(gomock.Any(), gomock.Any()).Return(nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Run(s.ctx)

	s.Require().NoError(err)
	s.NotEmpty(report.RunID)
	s.Require().Len(report.Pages, 1)
	s.Equal(domain.PageResult{
		PageID:          "avon",
		PostsFetched:    1,
		PostsNew:        1,
		CommentsFetched: 2,
		CommentsNew:     2,
		CommentsSaved:   1,
	}, report.Pages[0])
}

func (s *ScrapeServiceTestSuite) TestScrape_SeenPostIsSkipped() {
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).
		Return([]domain.Post{s.post("post-1", time.Hour)}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), []string{"post-1"}).
		Return(map[string]struct{}{"post-1": {}}, nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Scrape(s.ctx, ScrapeOptions{PageIDs: []string{"avon"}})

	s.Require().NoError(err)
	s.Equal(1, report.Pages[0].PostsFetched)
	s.Equal(0, report.Pages[0].PostsNew)
	s.Equal(0, report.Pages[0].CommentsFetched)
}

func (s *ScrapeServiceTestSuite) TestScrape_OptionsOverrideDefaults() {
	since := s.now.AddDate(0, 0, -7)
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", since, 5).Return(nil, nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Scrape(s.ctx, ScrapeOptions{
		PageIDs:   []string{"avon"},
		DaysBack:  7,
		PostLimit: 5,
	})

	s.Require().NoError(err)
	s.Len(report.Pages, 1)
}

func (s *ScrapeServiceTestSuite) TestScrape_FetchFailureDoesNotAbortRun() {
	sourceErr := &domain.SourceError{Op: "fetch posts", PageID: "broken", Err: errors.New("HTTP 500")}
	s.source.EXPECT().FetchPosts(gomock.Any(), "broken", gomock.Any(), 100).Return(nil, sourceErr)
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).Return(nil, nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Scrape(s.ctx, ScrapeOptions{PageIDs: []string{"broken", "avon"}})

	s.Require().NoError(err)
	s.Require().Len(report.Pages, 2)

	var target *domain.SourceError
	s.ErrorAs(report.Pages[0].Err, &target)
	s.Equal("broken", target.PageID)
	s.NoError(report.Pages[1].Err)

	totals := report.Totals()
	s.Equal(2, totals.Pages)
	s.Equal(1, totals.FailedPages)
}

func (s *ScrapeServiceTestSuite) TestScrape_CommentFetchFailureReleasesPost() {
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).
		Return([]domain.Post{s.post("post-1", time.Hour)}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), []string{"post-1"}).Return(map[string]struct{}{}, nil)
	s.posts.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	s.source.EXPECT().FetchComments(gomock.Any(), "post-1").Return(
		[]domain.SourceComment{{ID: "c-1", Message: "avon again"}},
		&domain.SourceError{Op: "fetch comments", Err: errors.New("connection reset")},
	)
	s.comments.EXPECT().ExistingIDs(gomock.Any(), "post-1", []string{"c-1"}).Return(map[string]struct{}{}, nil)
	s.comments.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(true, nil)
	s.publisher.EXPECT().PublishComment(gomock.Any(), gomock.Any()).Return(nil)
	s.posts.EXPECT().Release(gomock.Any(), "post-1").Return(nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Scrape(s.ctx, ScrapeOptions{PageIDs: []string{"avon"}})

	s.Require().NoError(err)
	page := report.Pages[0]
	s.Equal(1, page.Errors)
	s.Equal(1, page.CommentsSaved)
	s.NoError(page.Err)
}

func (s *ScrapeServiceTestSuite) TestScrape_StoreAndPublishFailuresAreCounted() {
	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).
		Return([]domain.Post{s.post("post-1", time.Hour)}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), gomock.Any()).Return(map[string]struct{}{}, nil)
	s.posts.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	s.source.EXPECT().FetchComments(gomock.Any(), "post-1").Return([]domain.SourceComment{
		{ID: "c-1", Message: "avon one"},
		{ID: "c-2", Message: "avon two"},
		{ID: "c-3", Message: "avon three"},
		{ID: "c-4", Message: "avon four"},
	}, nil)
	s.comments.EXPECT().ExistingIDs(gomock.Any(), "post-1", gomock.Any()).
		Return(map[string]struct{}{"c-4": {}}, nil)
	s.comments.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, c *domain.Comment) (bool, error) {
			switch c.ID {
			case "c-1":
				return true, nil
			case "c-2":
				return false, nil
			default:
				return false, errors.New("write failed")
			}
		},
	).Times(3)
	s.publisher.EXPECT().PublishComment(gomock.Any(), gomock.Any()).Return(errors.New("channel closed"))
	s.posts.EXPECT().Release(gomock.Any(), "post-1").Return(nil)
	s.pages.EXPECT().MarkScraped(gomock.Any(), "avon", s.now).Return(nil)

	report, err := s.service.Scrape(s.ctx, ScrapeOptions{PageIDs: []string{"avon"}})

	s.Require().NoError(err)
	page := report.Pages[0]
	s.Equal(4, page.CommentsFetched)
	s.Equal(3, page.CommentsNew)
	s.Equal(1, page.CommentsSaved)
	s.Equal(2, page.Errors)
	s.LessOrEqual(page.CommentsSaved, page.CommentsNew)
	s.LessOrEqual(page.CommentsNew, page.CommentsFetched)
}

func (s *ScrapeServiceTestSuite) TestScrape_CancelDuringThrottleReleasesRemainingPosts() {
	cfg := s.cfg
	cfg.PostDelay = time.Hour
	svc := s.newService(cfg)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).Return([]domain.Post{
		s.post("post-1", time.Hour),
		s.post("post-2", 2*time.Hour),
	}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), gomock.Any()).Return(map[string]struct{}{}, nil)
	s.posts.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil).Times(2)
	s.source.EXPECT().FetchComments(gomock.Any(), "post-1").DoAndReturn(
		func(context.Context, string) ([]domain.SourceComment, error) {
			cancel()
			return nil, nil
		},
	)
	s.posts.EXPECT().Release(gomock.Any(), "post-2").Return(nil)

	done := make(chan struct{})
	var (
		report *domain.ScrapeReport
		err    error
	)
	go func() {
		defer close(done)
		report, err = svc.Scrape(ctx, ScrapeOptions{PageIDs: []string{"avon", "later"}})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.FailNow("scrape did not stop after cancel")
	}

	s.ErrorIs(err, context.Canceled)
	s.Require().Len(report.Pages, 1)
	s.ErrorIs(report.Pages[0].Err, context.Canceled)
	s.Equal(2, report.Pages[0].PostsNew)
}

func (s *ScrapeServiceTestSuite) TestScrape_CancelDuringSaveReleasesPost() {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	s.source.EXPECT().FetchPosts(gomock.Any(), "avon", gomock.Any(), 100).
		Return([]domain.Post{s.post("post-1", time.Hour)}, nil)
	s.posts.EXPECT().ExistingIDs(gomock.Any(), gomock.Any()).Return(map[string]struct{}{}, nil)
	s.posts.EXPECT().Claim(gomock.Any(), gomock.Any()).Return(true, nil)
	s.source.EXPECT().FetchComments(gomock.Any(), "post-1").
		Return([]domain.SourceComment{{ID: "c-1", Message: "I love Avon"}}, nil)
	s.comments.EXPECT().ExistingIDs(gomock.Any(), "post-1", gomock.Any()).Return(map[string]struct{}{}, nil)
	s.comments.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, *domain.Comment) (bool, error) {
			cancel()
			return false, context.Canceled
		},
	)
	s.posts.EXPECT().Release(gomock.Any(), "post-1").Return(nil)

	report, err := s.service.Scrape(ctx, ScrapeOptions{PageIDs: []string{"avon"}})

	s.ErrorIs(err, context.Canceled)
	s.Require().Len(report.Pages, 1)
	page := report.Pages[0]
	s.ErrorIs(page.Err, context.Canceled)
	s.Equal(1, page.CommentsNew)
	s.Equal(0, page.CommentsSaved)
	s.Equal(1, page.Errors)
}

func (s *ScrapeServiceTestSuite) TestScrape_RebuildsKeywordsFirst() {
	rebuilder := mocks.NewMockKeywordRebuilder(s.ctrl)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewScrapeService(s.source, s.pages, NewLedger(s.posts, s.comments), s.filter, rebuilder, nil, logger, s.cfg)

	gomock.InOrder(
		rebuilder.EXPECT().Rebuild(gomock.Any()).Return(nil),
		s.pages.EXPECT().List(gomock.Any()).Return(nil, nil),
	)

	report, err := svc.Run(s.ctx)

	s.Require().NoError(err)
	s.Empty(report.Pages)
}

func (s *ScrapeServiceTestSuite) TestScrape_RebuildErrorStopsRun() {
	rebuilder := mocks.NewMockKeywordRebuilder(s.ctrl)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewScrapeService(s.source, s.pages, NewLedger(s.posts, s.comments), s.filter, rebuilder, nil, logger, s.cfg)

	rebuilder.EXPECT().Rebuild(gomock.Any()).Return(errors.New("db down"))

	report, err := svc.Run(s.ctx)

	s.Require().Error(err)
	s.Contains(err.Error(), "refresh keywords")
	s.Nil(report)
}

func (s *ScrapeServiceTestSuite) TestScrape_NoPages() {
	s.pages.EXPECT().List(gomock.Any()).Return(nil, nil)

	report, err := s.service.Run(s.ctx)

	s.Require().NoError(err)
	s.Empty(report.Pages)
}

func (s *ScrapeServiceTestSuite) TestScrape_ListPagesError() {
	s.pages.EXPECT().List(gomock.Any()).Return(nil, errors.New("db down"))

	_, err := s.service.Run(s.ctx)

	s.ErrorContains(err, "list pages")
}

func (s *ScrapeServiceTestSuite) TestScrape_WorkersKeepInputOrder() {
	cfg := s.cfg
	cfg.Workers = 3
	svc := s.newService(cfg)

	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		s.source.EXPECT().FetchPosts(gomock.Any(), id, gomock.Any(), 100).Return(nil, nil)
		s.pages.EXPECT().MarkScraped(gomock.Any(), id, s.now).Return(nil)
	}

	report, err := svc.Scrape(s.ctx, ScrapeOptions{PageIDs: ids})

	s.Require().NoError(err)
	s.Require().Len(report.Pages, 4)
	for i, id := range ids {
		s.Equal(id, report.Pages[i].PageID)
	}
}
