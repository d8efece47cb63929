// Package content is the read-only client for the catalog and playback
// collaborators. The queue service uses it to decorate entries with content
// metadata and the active playback session; it never writes through it.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Content is the catalog metadata for one piece of content.
type Content struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Session is an active playback session attached to a queue entry.
type Session struct {
	ID        string    `json:"id"`
	EntryID   string    `json:"entry_id"`
	StartedAt time.Time `json:"started_at"`
}

// Client resolves content and sessions over HTTP. A nil *Client is a no-op
// stub that resolves everything to nothing, so callers never branch on
// whether the collaborator is configured.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the given base URL, or nil when the URL is
// empty (collaborator not configured).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		base: baseURL,
		http: &http.Client{Timeout: timeout},
	}
}

// Content looks up catalog metadata by content id. Unknown ids resolve to
// (nil, nil); only transport and decode failures are errors.
func (c *Client) Content(ctx context.Context, contentID string) (*Content, error) {
	var out Content
	found, err := c.getJSON(ctx, "/v1/content/"+url.PathEscape(contentID), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

// Session looks up the active playback session for a queue entry, if any.
func (c *Client) Session(ctx context.Context, entryID string) (*Session, error) {
	var out Session
	found, err := c.getJSON(ctx, "/v1/sessions/by-entry/"+url.PathEscape(entryID), &out)
	if err != nil || !found {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) (bool, error) {
	if c == nil {
		return false, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusNoContent:
		return false, nil
	default:
		return false, fmt.Errorf("content service: unexpected status %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return false, fmt.Errorf("content service: decode %s: %w", path, err)
	}
	return true, nil
}
