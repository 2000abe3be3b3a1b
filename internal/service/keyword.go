package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"page_scraper/internal/config"
	"page_scraper/internal/domain"
	"page_scraper/internal/matcher"
	"page_scraper/internal/relevance"
)

// KeywordService owns the keyword set and keeps the relevance filter in
// sync with it. Every mutation recompiles the matcher from the enabled
// keywords read inside the mutating transaction.
type KeywordService struct {
	store    KeywordStore
	tx       TransactionManager
	filter   *relevance.Filter
	defaults []string
	fallback string
	logger   *slog.Logger
	now      func() time.Time

	// mu orders mutations so matchers are installed in commit order.
	mu sync.Mutex
}

func NewKeywordService(
	store KeywordStore,
	tx TransactionManager,
	filter *relevance.Filter,
	cfg config.KeywordsConfig,
	logger *slog.Logger,
) *KeywordService {
	return &KeywordService{
		store:    store,
		tx:       tx,
		filter:   filter,
		defaults: cfg.Defaults,
		fallback: cfg.Fallback,
		logger:   logger.With("component", "keywords"),
		now:      time.Now,
	}
}

// Bootstrap seeds the default keywords into an empty store and installs
// the first matcher. It returns how many defaults were inserted.
func (s *KeywordService) Bootstrap(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seeded int
	texts, err := s.mutate(ctx, func(txCtx context.Context) error {
		count, err := s.store.Count(txCtx)
		if err != nil {
			return fmt.Errorf("count keywords: %w", err)
		}
		if count > 0 {
			return nil
		}

		now := s.now()
		for _, text := range s.defaults {
			text = domain.NormalizeKeyword(text)
			if text == "" {
				continue
			}
			inserted, err := s.store.InsertIfAbsent(txCtx, &domain.Keyword{
				Text:        text,
				IsDefault:   true,
				Enabled:     true,
				AddedAt:     now,
				LastUpdated: now,
			})
			if err != nil {
				return fmt.Errorf("seed keyword %q: %w", text, err)
			}
			if inserted {
				seeded++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if seeded > 0 {
		s.logger.Info("seeded default keywords", "count", seeded)
	}
	return seeded, s.install(texts)
}

// Add stores a keyword, or refreshes its metadata when it already exists.
func (s *KeywordService) Add(ctx context.Context, in domain.KeywordInput, isDefault bool) (domain.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result domain.UpsertResult
	texts, err := s.mutate(ctx, func(txCtx context.Context) error {
		var err error
		result, err = s.upsert(txCtx, in, isDefault)
		return err
	})
	if err != nil {
		return 0, err
	}

	if err := s.install(texts); err != nil {
		return result, err
	}
	return result, nil
}

// Remove deletes a keyword. It returns domain.ErrNotFound when the keyword
// does not exist, in which case the matcher is left untouched.
func (s *KeywordService) Remove(ctx context.Context, text string) error {
	text = domain.NormalizeKeyword(text)
	if text == "" {
		return fmt.Errorf("%w: empty keyword", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	texts, err := s.mutate(ctx, func(txCtx context.Context) error {
		return s.store.Delete(txCtx, text)
	})
	if err != nil {
		return err
	}

	s.logger.Info("removed keyword", "keyword", text)
	return s.install(texts)
}

// SetEnabled switches a keyword on or off without deleting it.
func (s *KeywordService) SetEnabled(ctx context.Context, text string, enabled bool) error {
	text = domain.NormalizeKeyword(text)
	if text == "" {
		return fmt.Errorf("%w: empty keyword", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	texts, err := s.mutate(ctx, func(txCtx context.Context) error {
		return s.store.SetEnabled(txCtx, text, enabled, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("keyword toggled", "keyword", text, "enabled", enabled)
	return s.install(texts)
}

func (s *KeywordService) List(ctx context.Context) ([]domain.Keyword, error) {
	keywords, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return keywords, nil
}

// Import adds every item independently. Failed items are logged and counted;
// the matcher is rebuilt once after the whole batch.
func (s *KeywordService) Import(ctx context.Context, items []domain.KeywordInput) (domain.ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res domain.ImportResult
	for _, in := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		var result domain.UpsertResult
		err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			var err error
			result, err = s.upsert(txCtx, in, false)
			return err
		})
		if err != nil {
			s.logger.Warn("import keyword failed", "keyword", in.Text, "error", err)
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

	if err := s.rebuild(ctx); err != nil {
		return res, err
	}

	s.logger.Info("imported keywords",
		"created", res.Created,
		"updated", res.Updated,
		"failed", res.Failed,
	)
	return res, nil
}

// Rebuild recompiles the matcher from the stored enabled keywords.
func (s *KeywordService) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuild(ctx)
}

func (s *KeywordService) rebuild(ctx context.Context) error {
	texts, err := s.store.EnabledTexts(ctx)
	if err != nil {
		return fmt.Errorf("list enabled keywords: %w", err)
	}
	return s.install(texts)
}

func (s *KeywordService) upsert(ctx context.Context, in domain.KeywordInput, isDefault bool) (domain.UpsertResult, error) {
	text := domain.NormalizeKeyword(in.Text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty keyword", domain.ErrValidation)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	now := s.now()
	result, err := s.store.Upsert(ctx, &domain.Keyword{
		Text:        text,
		Category:    in.Category,
		Description: in.Description,
		IsDefault:   isDefault,
		Enabled:     enabled,
		AddedAt:     now,
		LastUpdated: now,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert keyword: %w", err)
	}

	s.logger.Debug("keyword stored", "keyword", text, "result", result.String())
	return result, nil
}

// mutate runs fn and reads the enabled keyword texts in one transaction.
func (s *KeywordService) mutate(ctx context.Context, fn func(ctx context.Context) error) ([]string, error) {
	var texts []string
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}

		var err error
		texts, err = s.store.EnabledTexts(txCtx)
		if err != nil {
			return fmt.Errorf("list enabled keywords: %w", err)
		}
		return nil
	})
	return texts, err
}

func (s *KeywordService) install(texts []string) error {
	m, err := matcher.Compile(texts, s.fallback)
	if err != nil {
		return fmt.Errorf("compile keywords: %w", err)
	}
	s.filter.Swap(m)

	if m.UsingFallback() {
		s.logger.Warn("no enabled keywords, using fallback", "fallback", s.fallback)
	} else {
		s.logger.Debug("matcher rebuilt", "keywords", len(m.Keywords()))
	}
	return nil
}

// DecodeKeywordList parses a JSON array of keywords. Items may be plain
// strings or objects; malformed or empty items are skipped and counted.
func DecodeKeywordList(data []byte) ([]domain.KeywordInput, int, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, 0, fmt.Errorf("%w: keyword file must contain a JSON array", domain.ErrValidation)
	}

	items := make([]domain.KeywordInput, 0, len(raw))
	var invalid int
	for _, r := range raw {
		var in domain.KeywordInput
		if err := json.Unmarshal(r, &in); err != nil {
			invalid++
			continue
		}
		if domain.NormalizeKeyword(in.Text) == "" {
			invalid++
			continue
		}
		items = append(items, in)
	}
	return items, invalid, nil
}
