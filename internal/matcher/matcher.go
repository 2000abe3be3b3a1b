// Package matcher compiles a keyword list into a single case-insensitive
// whole-word matcher. Keywords are literal phrases, never regex syntax.
package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultFallback is matched when no keywords are configured.
const DefaultFallback = "avon"

const (
	wordClass = `\p{L}\p{N}_`
	leading   = `(?:^|[^` + wordClass + `])`
	trailing  = `(?:[^` + wordClass + `]|$)`
)

// Matcher is an immutable compiled keyword set. It is safe for concurrent use.
type Matcher struct {
	keywords []string
	pattern  *regexp.Regexp
	each     []*regexp.Regexp
	fallback bool
}

// Compile builds a Matcher from keywords. Empty and duplicate entries are
// dropped. When nothing is left the fallback term is used instead, so the
// result never matches everything.
func Compile(keywords []string, fallback string) (*Matcher, error) {
	terms := dedupe(keywords)
	usingFallback := false
	if len(terms) == 0 {
		if fallback = strings.TrimSpace(fallback); fallback == "" {
			fallback = DefaultFallback
		}
		terms = []string{strings.ToLower(fallback)}
		usingFallback = true
	}

	// Longest first so a phrase wins over its own prefix in the alternation.
	sort.SliceStable(terms, func(i, j int) bool {
		return len(terms[i]) > len(terms[j])
	})

	alternatives := make([]string, len(terms))
	each := make([]*regexp.Regexp, len(terms))
	for i, term := range terms {
		alternatives[i] = wholeWord(term)
		re, err := regexp.Compile(`(?i)` + alternatives[i])
		if err != nil {
			return nil, fmt.Errorf("compile keyword %q: %w", term, err)
		}
		each[i] = re
	}

	pattern, err := regexp.Compile(`(?i)(?:` + strings.Join(alternatives, "|") + `)`)
	if err != nil {
		return nil, fmt.Errorf("compile keyword pattern: %w", err)
	}

	return &Matcher{
		keywords: terms,
		pattern:  pattern,
		each:     each,
		fallback: usingFallback,
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(keywords []string, fallback string) *Matcher {
	m, err := Compile(keywords, fallback)
	if err != nil {
		panic(err)
	}
	return m
}

// Match reports whether text contains any keyword as a whole word.
func (m *Matcher) Match(text string) bool {
	if text == "" {
		return false
	}
	return m.pattern.MatchString(text)
}

// Matches returns every keyword found in text, longest first.
func (m *Matcher) Matches(text string) []string {
	if text == "" {
		return nil
	}
	var found []string
	for i, re := range m.each {
		if re.MatchString(text) {
			found = append(found, m.keywords[i])
		}
	}
	return found
}

// Keywords returns the compiled terms.
func (m *Matcher) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}

// UsingFallback reports whether the matcher was built from the fallback term.
func (m *Matcher) UsingFallback() bool {
	return m.fallback
}

// wholeWord quotes term and anchors it to word boundaries on the sides where
// it starts or ends with a word character. "avon (official)" therefore only
// needs a boundary before the "a".
func wholeWord(term string) string {
	var b strings.Builder
	first, _ := utf8.DecodeRuneInString(term)
	last, _ := utf8.DecodeLastRuneInString(term)

	if isWordRune(first) {
		b.WriteString(leading)
	}
	b.WriteString(regexp.QuoteMeta(term))
	if isWordRune(last) {
		b.WriteString(trailing)
	}
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func dedupe(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}
