package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"page_scraper/internal/domain"
	"page_scraper/internal/service/mocks"
)

type PageServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller
	ctx  context.Context
	now  time.Time

	store  *mocks.MockPageStore
	source *mocks.MockSource

	service *PageService
}

func (s *PageServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.ctx = context.Background()
	s.now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	s.store = mocks.NewMockPageStore(s.ctrl)
	s.source = mocks.NewMockSource(s.ctrl)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.service = NewPageService(s.store, s.source, logger)
	s.service.now = func() time.Time { return s.now }
}

func (s *PageServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestPageServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PageServiceTestSuite))
}

func (s *PageServiceTestSuite) TestAdd_LooksUpMissingMetadata() {
	s.source.EXPECT().LookupPage(s.ctx, "avon").Return(&domain.PageInfo{
		ID:          "avon",
		Name:        "Avon",
		Description: "Beauty for a purpose",
	}, nil)
	s.store.EXPECT().Upsert(s.ctx, &domain.Page{
		ID:          "avon",
		Name:        "Avon",
		Description: "Beauty for a purpose",
		AddedAt:     s.now,
		LastUpdated: s.now,
	}).Return(domain.Created, nil)

	result, err := s.service.Add(s.ctx, domain.PageInput{ID: " avon "})

	s.Require().NoError(err)
	s.Equal(domain.Created, result)
}

func (s *PageServiceTestSuite) TestAdd_KeepsGivenMetadata() {
	s.store.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, page *domain.Page) (domain.UpsertResult, error) {
			s.Equal("Custom", page.Name)
			s.Equal("Mine", page.Description)
			return domain.Updated, nil
		},
	)

	result, err := s.service.Add(s.ctx, domain.PageInput{ID: "avon", Name: "Custom", Description: "Mine"})

	s.Require().NoError(err)
	s.Equal(domain.Updated, result)
}

func (s *PageServiceTestSuite) TestAdd_LookupFailureIsTolerated() {
	s.source.EXPECT().LookupPage(s.ctx, "avon").
		Return(nil, &domain.SourceError{Op: "lookup page", PageID: "avon", Err: errors.New("timeout")})
	s.store.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, page *domain.Page) (domain.UpsertResult, error) {
			s.Equal("Given", page.Name)
			s.Empty(page.Description)
			return domain.Created, nil
		},
	)

	_, err := s.service.Add(s.ctx, domain.PageInput{ID: "avon", Name: "Given"})

	s.NoError(err)
}

func (s *PageServiceTestSuite) TestAdd_EmptyID() {
	_, err := s.service.Add(s.ctx, domain.PageInput{ID: "  "})
	s.ErrorIs(err, domain.ErrValidation)
}

func (s *PageServiceTestSuite) TestRemove_NotFound() {
	s.store.EXPECT().Delete(s.ctx, "ghost").Return(fmt.Errorf("page %q: %w", "ghost", domain.ErrNotFound))

	s.ErrorIs(s.service.Remove(s.ctx, "ghost"), domain.ErrNotFound)
}

func (s *PageServiceTestSuite) TestIDs() {
	s.store.EXPECT().List(s.ctx).Return([]domain.Page{{ID: "b"}, {ID: "a"}}, nil)

	ids, err := s.service.IDs(s.ctx)

	s.Require().NoError(err)
	s.Equal([]string{"b", "a"}, ids)
}

func (s *PageServiceTestSuite) TestImport_ContinuesAfterFailure() {
	gomock.InOrder(
		s.store.EXPECT().Upsert(s.ctx, gomock.Any()).Return(domain.Created, nil),
		s.store.EXPECT().Upsert(s.ctx, gomock.Any()).Return(domain.UpsertResult(0), errors.New("locked")),
		s.store.EXPECT().Upsert(s.ctx, gomock.Any()).Return(domain.Updated, nil),
	)

	res, err := s.service.Import(s.ctx, []domain.PageInput{
		{ID: "one", Name: "One", Description: "1"},
		{ID: "two", Name: "Two", Description: "2"},
		{ID: "", Name: "Nameless"},
		{ID: "three", Name: "Three", Description: "3"},
	})

	s.Require().NoError(err)
	s.Equal(domain.ImportResult{Created: 1, Updated: 1, Failed: 2}, res)
}

func TestDecodePageList(t *testing.T) {
	items, invalid, err := DecodePageList([]byte(`["123", {"page_id": "avon", "name": "Avon"}, {"name": "x"}, 7]`))
	require.NoError(t, err)

	assert.Equal(t, 2, invalid)
	assert.Equal(t, []domain.PageInput{{ID: "123"}, {ID: "avon", Name: "Avon"}}, items)

	_, _, err = DecodePageList([]byte(`{"page_id": "avon"}`))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
