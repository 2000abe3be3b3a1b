// Package relevance answers whether free text matches the current keyword set.
package relevance

import (
	"strings"
	"sync/atomic"

	"golang.org/x/text/unicode/norm"

	"page_scraper/internal/matcher"
)

// Filter holds the current compiled matcher. Readers always observe either
// the old or the new matcher in full.
type Filter struct {
	current atomic.Pointer[matcher.Matcher]
}

// NewFilter returns a Filter that starts with m. A nil m starts with the
// fallback-only matcher.
func NewFilter(m *matcher.Matcher) *Filter {
	if m == nil {
		m = matcher.MustCompile(nil, matcher.DefaultFallback)
	}
	f := &Filter{}
	f.current.Store(m)
	return f
}

// Swap installs m and returns the previous matcher.
func (f *Filter) Swap(m *matcher.Matcher) *matcher.Matcher {
	return f.current.Swap(m)
}

// Snapshot returns the matcher in effect right now.
func (f *Filter) Snapshot() *matcher.Matcher {
	return f.current.Load()
}

// IsRelevant reports whether text matches any keyword.
func (f *Filter) IsRelevant(text string) bool {
	return IsRelevant(f.Snapshot(), text)
}

// MatchedKeywords returns the keywords found in text.
func (f *Filter) MatchedKeywords(text string) []string {
	return MatchedKeywords(f.Snapshot(), text)
}

// IsRelevant evaluates text against a fixed snapshot.
func IsRelevant(m *matcher.Matcher, text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	return m.Match(norm.NFC.String(text))
}

// MatchedKeywords lists the keywords of a fixed snapshot found in text.
func MatchedKeywords(m *matcher.Matcher, text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return m.Matches(norm.NFC.String(text))
}
