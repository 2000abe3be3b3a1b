package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"page_scraper/internal/domain"
)

type KeywordStore interface {
	Upsert(ctx context.Context, kw *domain.Keyword) (domain.UpsertResult, error)
	InsertIfAbsent(ctx context.Context, kw *domain.Keyword) (bool, error)
	Delete(ctx context.Context, text string) error
	SetEnabled(ctx context.Context, text string, enabled bool, at time.Time) error
	List(ctx context.Context) ([]domain.Keyword, error)
	EnabledTexts(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int, error)
}

type PageStore interface {
	Upsert(ctx context.Context, page *domain.Page) (domain.UpsertResult, error)
	Delete(ctx context.Context, pageID string) error
	List(ctx context.Context) ([]domain.Page, error)
	MarkScraped(ctx context.Context, pageID string, at time.Time) error
}

type PostLedgerStore interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	Claim(ctx context.Context, rec *domain.PostRecord) (bool, error)
	Touch(ctx context.Context, postID string, at time.Time) error
	Release(ctx context.Context, postID string) error
}

type CommentStore interface {
	ExistingIDs(ctx context.Context, postID string, ids []string) (map[string]struct{}, error)
	Insert(ctx context.Context, c *domain.Comment) (bool, error)
}

type Source interface {
	FetchPosts(ctx context.Context, pageID string, since time.Time, limit int) ([]domain.Post, error)
	FetchComments(ctx context.Context, postID string) ([]domain.SourceComment, error)
	LookupPage(ctx context.Context, pageID string) (*domain.PageInfo, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Publisher interface {
	PublishComment(ctx context.Context, comment *domain.Comment) error
	Close() error
}

type KeywordRebuilder interface {
	Rebuild(ctx context.Context) error
}
