package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"page_scraper/internal/domain"
)

// Config holds Graph API client configuration.
type Config struct {
	BaseURL        string
	AccessToken    string
	PageSize       int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client reads pages, posts and comments from the Graph API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	accessToken    string
	pageSize       int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.PageSize < 1 {
		cfg.PageSize = 100
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		accessToken:    cfg.AccessToken,
		pageSize:       cfg.PageSize,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger.With("component", "graph"),
	}
}

// FetchPosts returns up to limit posts of pageID created after since,
// following pagination.
func (c *Client) FetchPosts(ctx context.Context, pageID string, since time.Time, limit int) ([]domain.Post, error) {
	query := url.Values{}
	query.Set("fields", "id,message,created_time")
	query.Set("since", strconv.FormatInt(since.Unix(), 10))
	query.Set("limit", strconv.Itoa(c.batchSize(limit)))

	var posts []domain.Post
	err := fetchAll(ctx, c, c.endpoint(url.PathEscape(pageID)+"/posts", query), func(p apiPost) bool {
		created, err := time.Parse(timeLayout, p.CreatedTime)
		if err != nil {
			c.logger.Warn("failed to parse post time", "post_id", p.ID, "created_time", p.CreatedTime)
			return true
		}
		posts = append(posts, domain.Post{
			ID:          p.ID,
			PageID:      pageID,
			Message:     p.Message,
			CreatedTime: created,
		})
		return limit <= 0 || len(posts) < limit
	})
	if err != nil {
		return nil, &domain.SourceError{Op: "fetch posts", PageID: pageID, Err: err}
	}

	c.logger.Debug("fetched posts", "page_id", pageID, "count", len(posts))
	return posts, nil
}

// FetchComments returns every comment of postID. On failure the comments
// read so far are returned together with the error.
func (c *Client) FetchComments(ctx context.Context, postID string) ([]domain.SourceComment, error) {
	query := url.Values{}
	query.Set("fields", "id,message,created_time,from")
	query.Set("limit", strconv.Itoa(c.pageSize))

	var comments []domain.SourceComment
	err := fetchAll(ctx, c, c.endpoint(url.PathEscape(postID)+"/comments", query), func(a apiComment) bool {
		comment := domain.SourceComment{
			ID:      a.ID,
			Message: a.Message,
		}
		if created, err := time.Parse(timeLayout, a.CreatedTime); err == nil {
			comment.CreatedTime = created
		} else {
			c.logger.Warn("failed to parse comment time", "comment_id", a.ID, "created_time", a.CreatedTime)
		}
		if a.From != nil {
			comment.AuthorID = a.From.ID
			comment.AuthorName = a.From.Name
		}
		comments = append(comments, comment)
		return true
	})
	if err != nil {
		return comments, &domain.SourceError{Op: "fetch comments", Err: fmt.Errorf("post %s: %w", postID, err)}
	}
	return comments, nil
}

// LookupPage returns the name and description of pageID.
func (c *Client) LookupPage(ctx context.Context, pageID string) (*domain.PageInfo, error) {
	query := url.Values{}
	query.Set("fields", "name,about")

	var page apiPage
	if err := c.get(ctx, c.endpoint(url.PathEscape(pageID), query), &page); err != nil {
		return nil, &domain.SourceError{Op: "lookup page", PageID: pageID, Err: err}
	}

	return &domain.PageInfo{
		ID:          pageID,
		Name:        page.Name,
		Description: page.About,
	}, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	if c.accessToken != "" {
		query.Set("access_token", c.accessToken)
	}
	return c.baseURL + "/" + path + "?" + query.Encode()
}

func (c *Client) batchSize(limit int) int {
	if limit > 0 && limit < c.pageSize {
		return limit
	}
	return c.pageSize
}

// fetchAll walks a paged collection starting at first. visit returns false
// to stop early.
func fetchAll[T any](ctx context.Context, c *Client, first string, visit func(T) bool) error {
	next := first
	for page := 0; next != ""; page++ {
		var resp listResponse[T]
		if err := c.get(ctx, next, &resp); err != nil {
			return fmt.Errorf("page %d: %w", page, err)
		}

		for _, item := range resp.Data {
			if !visit(item) {
				return nil
			}
		}

		next = ""
		if resp.Paging != nil {
			next = resp.Paging.Next
		}
	}
	return nil
}

// get performs a GET with bounded exponential retry on transport errors,
// 429 and 5xx responses.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err = c.doRequest(ctx, rawURL, out)
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Temporary() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("request failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) doRequest(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "PageScraper/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var body errorResponse
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil {
			if json.Unmarshal(data, &body) == nil {
				statusErr.Message = body.Error.Message
			}
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if c.maxBackoff > 0 && backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
