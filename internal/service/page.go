package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"page_scraper/internal/domain"
)

// PageService manages the list of pages to scrape.
type PageService struct {
	store  PageStore
	source Source
	logger *slog.Logger
	now    func() time.Time
}

// NewPageService returns a PageService. source may be nil, in which case
// page metadata is never looked up.
func NewPageService(store PageStore, source Source, logger *slog.Logger) *PageService {
	return &PageService{
		store:  store,
		source: source,
		logger: logger.With("component", "pages"),
		now:    time.Now,
	}
}

// Add stores a page. Missing name or description are filled in from the
// source; a failed lookup is logged and the page is stored anyway.
func (s *PageService) Add(ctx context.Context, in domain.PageInput) (domain.UpsertResult, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return 0, fmt.Errorf("%w: empty page id", domain.ErrValidation)
	}

	name, description := in.Name, in.Description
	if (name == "" || description == "") && s.source != nil {
		info, err := s.source.LookupPage(ctx, id)
		if err != nil {
			s.logger.Warn("page lookup failed", "page_id", id, "error", err)
		} else if info != nil {
			if name == "" {
				name = info.Name
			}
			if description == "" {
				description = info.Description
			}
		}
	}

	now := s.now()
	result, err := s.store.Upsert(ctx, &domain.Page{
		ID:          id,
		Name:        name,
		Description: description,
		AddedAt:     now,
		LastUpdated: now,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert page: %w", err)
	}

	s.logger.Info("page stored", "page_id", id, "name", name, "result", result.String())
	return result, nil
}

// Remove deletes a page. It returns domain.ErrNotFound when the page is unknown.
func (s *PageService) Remove(ctx context.Context, pageID string) error {
	pageID = strings.TrimSpace(pageID)
	if err := s.store.Delete(ctx, pageID); err != nil {
		return err
	}
	s.logger.Info("page removed", "page_id", pageID)
	return nil
}

func (s *PageService) List(ctx context.Context) ([]domain.Page, error) {
	pages, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pages, nil
}

// IDs returns the IDs of all stored pages in listing order.
func (s *PageService) IDs(ctx context.Context) ([]string, error) {
	pages, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids, nil
}

// Import adds every page independently; failures are logged and counted.
func (s *PageService) Import(ctx context.Context, items []domain.PageInput) (domain.ImportResult, error) {
	var res domain.ImportResult
	for _, in := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		result, err := s.Add(ctx, in)
		if err != nil {
			s.logger.Warn("import page failed", "page_id", in.ID, "error", err)
			res.Failed++
			continue
		}

		switch result {
		case domain.Created:
			res.Created++
		case domain.Updated:
			res.Updated++
		}
	}

	s.logger.Info("imported pages",
		"created", res.Created,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return res, nil
}

// DecodePageList parses a JSON array of page IDs or page objects.
// Malformed items are skipped and counted.
func DecodePageList(data []byte) ([]domain.PageInput, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, 0, fmt.Errorf("%w: page file must contain a JSON array", domain.ErrValidation)
	}

	items := make([]domain.PageInput, 0, len(raw))
	var invalid int
	for _, r := range raw {
		var in domain.PageInput
		if err := json.Unmarshal(r, &in); err != nil || strings.TrimSpace(in.ID) == "" {
			invalid++
			continue
		}
		items = append(items, in)
	}
	return items, invalid, nil
}
