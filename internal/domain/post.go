package domain

import "time"

// Post is a post as returned by the source.
type Post struct {
	ID          string
	PageID      string
	Message     string
	CreatedTime time.Time
}

// PostRecord is the ledger entry marking a post as already scraped.
type PostRecord struct {
	PostID      string    `db:"post_id"`
	PageID      string    `db:"page_id"`
	CreatedTime time.Time `db:"created_time"`
	LastScraped time.Time `db:"last_scraped"`
}

// SourceComment is a comment as returned by the source.
type SourceComment struct {
	ID          string
	Message     string
	CreatedTime time.Time
	AuthorID    string
	AuthorName  string
}

// Comment is a stored relevant comment.
type Comment struct {
	ID              string    `json:"comment_id"`
	PostID          string    `json:"post_id"`
	PageID          string    `json:"page_id"`
	Message         string    `json:"message"`
	CreatedTime     time.Time `json:"created_time"`
	AuthorID        string    `json:"author_id,omitempty"`
	AuthorName      string    `json:"author_name,omitempty"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	ScrapedAt       time.Time `json:"scraped_at"`
}
