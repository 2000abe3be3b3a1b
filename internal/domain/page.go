package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Page struct {
	ID          string     `db:"page_id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	AddedAt     time.Time  `db:"added_at"`
	LastUpdated time.Time  `db:"last_updated"`
	LastScraped *time.Time `db:"last_scraped"`
}

// PageInfo is page metadata returned by the source.
type PageInfo struct {
	ID          string
	Name        string
	Description string
}

// PageInput is a page as supplied on the command line or in an import file.
type PageInput struct {
	ID          string
	Name        string
	Description string
}

// UnmarshalJSON accepts either a bare page ID or an object with a page_id field.
func (p *PageInput) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*p = PageInput{ID: id}
		return nil
	}

	var obj struct {
		ID          string `json:"page_id"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &obj); err != nil || obj.ID == "" {
		return fmt.Errorf("%w: page must be an id string or an object with page_id", ErrValidation)
	}
	*p = PageInput(obj)
	return nil
}
