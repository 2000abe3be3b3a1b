package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"page_scraper/internal/domain"
)

// PostLedger records which posts have already been scraped.
type PostLedger struct {
	db *sqlx.DB
}

func NewPostLedger(db *sqlx.DB) *PostLedger {
	return &PostLedger{db: db}
}

// ExistingIDs returns the subset of ids that already have a ledger entry.
func (s *PostLedger) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	result := make(map[string]struct{}, len(ids))
	exec := GetExecutor(ctx, s.db)

	for _, chunk := range chunks(ids) {
		query, args, err := sqlx.In(`SELECT post_id FROM scraped_posts WHERE post_id IN (?)`, chunk)
		if err != nil {
			return nil, fmt.Errorf("build post query: %w", err)
		}

		var found []string
		if err := sqlx.SelectContext(ctx, exec, &found, exec.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("select scraped posts: %w", err)
		}
		for _, id := range found {
			result[id] = struct{}{}
		}
	}

	return result, nil
}

// Claim inserts rec if no entry exists for its post ID. It returns true only
// for the caller whose insert created the entry.
func (s *PostLedger) Claim(ctx context.Context, rec *domain.PostRecord) (bool, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO scraped_posts (post_id, page_id, created_time, last_scraped)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (post_id) DO NOTHING`)

	res, err := exec.ExecContext(ctx, query,
		rec.PostID,
		rec.PageID,
		ts(rec.CreatedTime),
		ts(rec.LastScraped),
	)
	if err != nil {
		return false, fmt.Errorf("insert scraped post: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Touch refreshes last_scraped for an existing entry.
func (s *PostLedger) Touch(ctx context.Context, postID string, at time.Time) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`UPDATE scraped_posts SET last_scraped = ? WHERE post_id = ?`)

	if _, err := exec.ExecContext(ctx, query, ts(at), postID); err != nil {
		return fmt.Errorf("touch scraped post: %w", err)
	}
	return nil
}

// Release removes the entry for postID so a later run sees the post as new.
func (s *PostLedger) Release(ctx context.Context, postID string) error {
	exec := GetExecutor(ctx, s.db)
	if _, err := exec.ExecContext(ctx, exec.Rebind(`DELETE FROM scraped_posts WHERE post_id = ?`), postID); err != nil {
		return fmt.Errorf("delete scraped post: %w", err)
	}
	return nil
}

func (s *PostLedger) Get(ctx context.Context, postID string) (*domain.PostRecord, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		SELECT post_id, page_id, created_time, last_scraped
		FROM scraped_posts
		WHERE post_id = ?`)

	var rec domain.PostRecord
	err := sqlx.GetContext(ctx, exec, &rec, query, postID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scraped post %q: %w", postID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get scraped post: %w", err)
	}
	return &rec, nil
}
