package service

import (
	"context"
	"fmt"
	"time"

	"page_scraper/internal/domain"
)

// Ledger decides which fetched posts and comments have not been processed yet.
// Posts are claimed with an atomic insert so two concurrent runs never both
// process the same post.
type Ledger struct {
	posts    PostLedgerStore
	comments CommentStore
	now      func() time.Time
}

func NewLedger(posts PostLedgerStore, comments CommentStore) *Ledger {
	return &Ledger{
		posts:    posts,
		comments: comments,
		now:      time.Now,
	}
}

func (l *Ledger) IsNewPost(ctx context.Context, postID string) (bool, error) {
	existing, err := l.posts.ExistingIDs(ctx, []string{postID})
	if err != nil {
		return false, fmt.Errorf("lookup post: %w", err)
	}
	_, seen := existing[postID]
	return !seen, nil
}

// RecordPost marks a post as scraped, refreshing last_scraped when it is
// already recorded.
func (l *Ledger) RecordPost(ctx context.Context, rec *domain.PostRecord) error {
	claimed, err := l.posts.Claim(ctx, rec)
	if err != nil {
		return fmt.Errorf("record post: %w", err)
	}
	if claimed {
		return nil
	}
	if err := l.posts.Touch(ctx, rec.PostID, rec.LastScraped); err != nil {
		return fmt.Errorf("touch post: %w", err)
	}
	return nil
}

// ClaimNewPosts returns the posts not seen before, in input order. Each
// returned post has been recorded by this call.
func (l *Ledger) ClaimNewPosts(ctx context.Context, pageID string, posts []domain.Post) ([]domain.Post, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	existing, err := l.posts.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup posts: %w", err)
	}

	now := l.now()
	var claimed []domain.Post
	for _, p := range posts {
		if _, seen := existing[p.ID]; seen {
			continue
		}

		ok, err := l.posts.Claim(ctx, &domain.PostRecord{
			PostID:      p.ID,
			PageID:      pageID,
			CreatedTime: p.CreatedTime,
			LastScraped: now,
		})
		if err != nil {
			return claimed, fmt.Errorf("claim post %s: %w", p.ID, err)
		}
		if ok {
			claimed = append(claimed, p)
			// A post repeated within one response is claimed once.
			existing[p.ID] = struct{}{}
		}
	}
	return claimed, nil
}

// ReleasePost drops a claim so the post is retried on the next run.
func (l *Ledger) ReleasePost(ctx context.Context, postID string) error {
	if err := l.posts.Release(ctx, postID); err != nil {
		return fmt.Errorf("release post: %w", err)
	}
	return nil
}

// NewComments returns the comments of postID that are not stored yet.
func (l *Ledger) NewComments(ctx context.Context, postID string, comments []domain.SourceComment) ([]domain.SourceComment, error) {
	if len(comments) == 0 {
		return nil, nil
	}

	ids := make([]string, len(comments))
	for i, c := range comments {
		ids[i] = c.ID
	}

	existing, err := l.comments.ExistingIDs(ctx, postID, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup comments: %w", err)
	}

	var fresh []domain.SourceComment
	for _, c := range comments {
		if _, seen := existing[c.ID]; seen {
			continue
		}
		existing[c.ID] = struct{}{}
		fresh = append(fresh, c)
	}
	return fresh, nil
}

// SaveComment stores c unless it already exists. It returns false when
// another writer stored it first.
func (l *Ledger) SaveComment(ctx context.Context, c *domain.Comment) (bool, error) {
	inserted, err := l.comments.Insert(ctx, c)
	if err != nil {
		return false, fmt.Errorf("save comment: %w", err)
	}
	return inserted, nil
}
