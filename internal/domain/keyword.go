package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Keyword is a relevance term. Text is the normalized unique key.
type Keyword struct {
	Text        string    `db:"keyword"`
	Category    *string   `db:"category"`
	Description *string   `db:"description"`
	IsDefault   bool      `db:"is_default"`
	Enabled     bool      `db:"enabled"`
	AddedAt     time.Time `db:"added_at"`
	LastUpdated time.Time `db:"last_updated"`
}

// KeywordInput is a keyword as supplied by a user or an import file.
type KeywordInput struct {
	Text        string
	Category    *string
	Description *string
	Enabled     *bool
}

// UnmarshalJSON accepts either a plain string or an object with a
// "keyword" (or "text") field.
func (k *KeywordInput) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*k = KeywordInput{Text: text}
		return nil
	}

	var obj struct {
		Keyword     *string `json:"keyword"`
		Text        *string `json:"text"`
		Category    *string `json:"category"`
		Description *string `json:"description"`
		Enabled     *bool   `json:"enabled"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: keyword must be a string or an object", ErrValidation)
	}

	switch {
	case obj.Keyword != nil:
		k.Text = *obj.Keyword
	case obj.Text != nil:
		k.Text = *obj.Text
	default:
		return fmt.Errorf("%w: keyword object without a keyword field", ErrValidation)
	}
	k.Category = obj.Category
	k.Description = obj.Description
	k.Enabled = obj.Enabled
	return nil
}

var lower = cases.Lower(language.Und)

// NormalizeKeyword returns the canonical storage form of a keyword:
// NFC, lowercase, trimmed, with inner whitespace runs collapsed.
func NormalizeKeyword(text string) string {
	text = norm.NFC.String(text)
	text = lower.String(text)
	return strings.Join(strings.Fields(text), " ")
}

// UpsertResult tells whether an upsert inserted a new row or updated one.
type UpsertResult int

const (
	Created UpsertResult = iota + 1
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// ImportResult summarizes a batch import.
type ImportResult struct {
	Created int
	Updated int
	Failed  int
}

// Added returns how many items were stored, new or updated.
func (r ImportResult) Added() int {
	return r.Created + r.Updated
}
