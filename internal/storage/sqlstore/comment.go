package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"page_scraper/internal/domain"
)

type CommentStore struct {
	db *sqlx.DB
}

func NewCommentStore(db *sqlx.DB) *CommentStore {
	return &CommentStore{db: db}
}

type commentRow struct {
	ID              string    `db:"comment_id"`
	PostID          string    `db:"post_id"`
	PageID          string    `db:"page_id"`
	Message         string    `db:"message"`
	CreatedTime     time.Time `db:"created_time"`
	AuthorID        string    `db:"author_id"`
	AuthorName      string    `db:"author_name"`
	MatchedKeywords string    `db:"matched_keywords"`
	ScrapedAt       time.Time `db:"scraped_at"`
}

func (r commentRow) toDomain() (domain.Comment, error) {
	c := domain.Comment{
		ID:          r.ID,
		PostID:      r.PostID,
		PageID:      r.PageID,
		Message:     r.Message,
		CreatedTime: r.CreatedTime,
		AuthorID:    r.AuthorID,
		AuthorName:  r.AuthorName,
		ScrapedAt:   r.ScrapedAt,
	}
	if r.MatchedKeywords != "" {
		if err := json.Unmarshal([]byte(r.MatchedKeywords), &c.MatchedKeywords); err != nil {
			return c, fmt.Errorf("decode matched keywords of %s: %w", r.ID, err)
		}
	}
	return c, nil
}

// ExistingIDs returns the subset of ids already stored for postID.
func (s *CommentStore) ExistingIDs(ctx context.Context, postID string, ids []string) (map[string]struct{}, error) {
	result := make(map[string]struct{}, len(ids))
	exec := GetExecutor(ctx, s.db)

	for _, chunk := range chunks(ids) {
		query, args, err := sqlx.In(`SELECT comment_id FROM comments WHERE post_id = ? AND comment_id IN (?)`, postID, chunk)
		if err != nil {
			return nil, fmt.Errorf("build comment query: %w", err)
		}

		var found []string
		if err := sqlx.SelectContext(ctx, exec, &found, exec.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("select comments: %w", err)
		}
		for _, id := range found {
			result[id] = struct{}{}
		}
	}

	return result, nil
}

// Insert stores c unless a comment with the same ID exists. It reports
// whether this call created the row.
func (s *CommentStore) Insert(ctx context.Context, c *domain.Comment) (bool, error) {
	matched := c.MatchedKeywords
	if matched == nil {
		matched = []string{}
	}
	keywords, err := json.Marshal(matched)
	if err != nil {
		return false, fmt.Errorf("encode matched keywords: %w", err)
	}

	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO comments (
			comment_id, post_id, page_id, message, created_time,
			author_id, author_name, matched_keywords, scraped_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (comment_id) DO NOTHING`)

	res, err := exec.ExecContext(ctx, query,
		c.ID,
		c.PostID,
		c.PageID,
		c.Message,
		ts(c.CreatedTime),
		c.AuthorID,
		c.AuthorName,
		string(keywords),
		ts(c.ScrapedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert comment: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *CommentStore) ListByPost(ctx context.Context, postID string) ([]domain.Comment, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		SELECT comment_id, post_id, page_id, message, created_time,
			author_id, author_name, matched_keywords, scraped_at
		FROM comments
		WHERE post_id = ?
		ORDER BY created_time, comment_id`)

	var rows []commentRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, postID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}

	comments := make([]domain.Comment, 0, len(rows))
	for _, r := range rows {
		c, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, nil
}
