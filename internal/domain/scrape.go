package domain

import "time"

// PageResult holds the counts for one page of a scrape run.
// CommentsSaved <= CommentsNew <= CommentsFetched always holds.
type PageResult struct {
	PageID          string
	PostsFetched    int
	PostsNew        int
	CommentsFetched int
	CommentsNew     int
	CommentsSaved   int
	Errors          int
	Err             error
}

// ScrapeReport aggregates a whole scrape run.
type ScrapeReport struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Pages     []PageResult
}

// ScrapeTotals are the run-wide sums of the per-page counts.
type ScrapeTotals struct {
	Pages           int
	FailedPages     int
	PostsFetched    int
	PostsNew        int
	CommentsFetched int
	CommentsNew     int
	CommentsSaved   int
	Errors          int
}

func (r *ScrapeReport) Totals() ScrapeTotals {
	var t ScrapeTotals
	for _, p := range r.Pages {
		t.Pages++
		if p.Err != nil {
			t.FailedPages++
		}
		t.PostsFetched += p.PostsFetched
		t.PostsNew += p.PostsNew
		t.CommentsFetched += p.CommentsFetched
		t.CommentsNew += p.CommentsNew
		t.CommentsSaved += p.CommentsSaved
		t.Errors += p.Errors
	}
	return t
}
