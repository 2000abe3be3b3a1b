package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"page_scraper/internal/domain"
)

type KeywordStore struct {
	db *sqlx.DB
}

func NewKeywordStore(db *sqlx.DB) *KeywordStore {
	return &KeywordStore{db: db}
}

// Upsert inserts kw or, when the keyword exists, refreshes its metadata.
// added_at and is_default are only written on insert.
func (s *KeywordStore) Upsert(ctx context.Context, kw *domain.Keyword) (domain.UpsertResult, error) {
	inserted, err := s.InsertIfAbsent(ctx, kw)
	if err != nil {
		return 0, err
	}
	if inserted {
		return domain.Created, nil
	}

	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		UPDATE keywords SET
			category = ?,
			description = ?,
			enabled = ?,
			last_updated = ?
		WHERE keyword = ?`)

	if _, err := exec.ExecContext(ctx, query,
		kw.Category,
		kw.Description,
		kw.Enabled,
		ts(kw.LastUpdated),
		kw.Text,
	); err != nil {
		return 0, fmt.Errorf("update keyword: %w", err)
	}
	return domain.Updated, nil
}

// InsertIfAbsent inserts kw unless the keyword already exists.
func (s *KeywordStore) InsertIfAbsent(ctx context.Context, kw *domain.Keyword) (bool, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`
		INSERT INTO keywords (keyword, category, description, is_default, enabled, added_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (keyword) DO NOTHING`)

	res, err := exec.ExecContext(ctx, query,
		kw.Text,
		kw.Category,
		kw.Description,
		kw.IsDefault,
		kw.Enabled,
		ts(kw.AddedAt),
		ts(kw.LastUpdated),
	)
	if err != nil {
		return false, fmt.Errorf("insert keyword: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *KeywordStore) Delete(ctx context.Context, text string) error {
	exec := GetExecutor(ctx, s.db)
	res, err := exec.ExecContext(ctx, exec.Rebind(`DELETE FROM keywords WHERE keyword = ?`), text)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("keyword %q: %w", text, domain.ErrNotFound)
	}
	return nil
}

func (s *KeywordStore) SetEnabled(ctx context.Context, text string, enabled bool, at time.Time) error {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`UPDATE keywords SET enabled = ?, last_updated = ? WHERE keyword = ?`)

	res, err := exec.ExecContext(ctx, query, enabled, ts(at), text)
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}

	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("keyword %q: %w", text, domain.ErrNotFound)
	}
	return nil
}

func (s *KeywordStore) List(ctx context.Context) ([]domain.Keyword, error) {
	query := `
		SELECT keyword, category, description, is_default, enabled, added_at, last_updated
		FROM keywords
		ORDER BY keyword`

	var keywords []domain.Keyword
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &keywords, query); err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return keywords, nil
}

// EnabledTexts returns the texts of all enabled keywords.
func (s *KeywordStore) EnabledTexts(ctx context.Context) ([]string, error) {
	exec := GetExecutor(ctx, s.db)
	query := exec.Rebind(`SELECT keyword FROM keywords WHERE enabled = ? ORDER BY keyword`)

	var texts []string
	if err := sqlx.SelectContext(ctx, exec, &texts, query, true); err != nil {
		return nil, fmt.Errorf("list enabled keywords: %w", err)
	}
	return texts, nil
}

func (s *KeywordStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &n, `SELECT COUNT(*) FROM keywords`); err != nil {
		return 0, fmt.Errorf("count keywords: %w", err)
	}
	return n, nil
}
