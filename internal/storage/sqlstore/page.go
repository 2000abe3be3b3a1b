package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"page_scraper/internal/domain"
)

type PageStore struct {
	db *sqlx.DB
}

func NewPageStore(db *sqlx.DB) *PageStore {
	return &PageStore{db: db}
}

// Upsert inserts page or updates its name and description. Empty values keep
// what is stored, and last_scraped is never reset by a re-add.
func (s *PageStore) Upsert(ctx context.Context, page *domain.Page) (domain.UpsertResult, error) {
	exec := GetExecutor(ctx, s.db)
	insert := exec.Rebind(`
		INSERT INTO pages (page_id, name, description, added_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (page_id) DO NOTHING`)

	res, err := exec.ExecContext(ctx, insert,
		page.ID,
		page.Name,
		page.Description,
		ts(page.AddedAt),
		ts(page.LastUpdated),
	)
	if err != nil {
		return 0, fmt.Errorf("insert page: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return 0, err
	}
	if n == 1 {
		return domain.Created, nil
	}

	update := exec.Rebind(`
		UPDATE pages
		SET name = COALESCE(NULLIF(?, ''), name),
		    description = COALESCE(NULLIF(?, ''), description),
		    last_updated = ?
		WHERE page_id = ?`)
	if _, err := exec.ExecContext(ctx, update, page.Name, page.Description, ts(page.LastUpdated), page.ID); err != nil {
		return 0, fmt.Errorf("update page: %w", err)
	}
	return domain.Updated, nil
}

func (s *PageStore) Delete(ctx context.Context, pageID string) error {
	exec := GetExecutor(ctx, s.db)
	res, err := exec.ExecContext(ctx, exec.Rebind(`DELETE FROM pages WHERE page_id = ?`), pageID)
	if err != nil {
		return fmt.Errorf("delete page: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %q: %w", pageID, domain.ErrNotFound)
	}
	return nil
}

func (s *PageStore) List(ctx context.Context) ([]domain.Page, error) {
	query := `
		SELECT page_id, name, description, added_at, last_updated, last_scraped
		FROM pages
		ORDER BY added_at, page_id`

	var pages []domain.Page
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &pages, query); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// MarkScraped advances last_scraped to at. It never moves the timestamp
// backwards and is a no-op for unknown pages.
func (s *PageStore) MarkScraped(ctx context.Context, pageID string, at time.Time) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE pages SET last_scraped = ?, last_updated = ?
		WHERE page_id = ? AND (last_scraped IS NULL OR last_scraped < ?)`)

	at = ts(at)
	if _, err := exec.ExecContext(ctx, query, at, at, pageID, at); err != nil {
		return fmt.Errorf("mark page scraped: %w", err)
	}
	return nil
}
