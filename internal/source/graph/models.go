package graph

import "fmt"

// timeLayout is the timestamp format used by the Graph API,
// e.g. 2024-03-01T12:00:00+0000.
const timeLayout = "2006-01-02T15:04:05-0700"

// listResponse is a paged Graph API collection.
type listResponse[T any] struct {
	Data   []T     `json:"data"`
	Paging *Paging `json:"paging"`
}

type Paging struct {
	Next string `json:"next"`
}

type apiPost struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
}

type apiComment struct {
	ID          string   `json:"id"`
	Message     string   `json:"message"`
	CreatedTime string   `json:"created_time"`
	From        *apiUser `json:"from"`
}

type apiUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiPage struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	About string `json:"about"`
}

// errorResponse is the body the Graph API returns on failure.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// StatusError is a non-200 response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
