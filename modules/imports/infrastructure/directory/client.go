// Package directory talks to the external member directory service. Lookups
// resolve a member identifier to contact attributes; tag write-backs annotate
// the member with the period it was issued a receipt for.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
)

// ErrMemberNotFound is terminal for a row: retrying the same key cannot help.
var ErrMemberNotFound = fmt.Errorf("member not found in directory")

// TransientError marks a failure worth retrying: the row stays PENDING and a
// later invocation attempts it again.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient directory error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Profile is the directory's view of a member.
type Profile struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Tags        []string `json:"tags"`
}

type Client interface {
	Resolve(ctx context.Context, memberID string) (*Profile, error)
	WriteTags(ctx context.Context, memberID string, tags []string) error
}

type Config struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryInterval time.Duration
}

type HTTPClient struct {
	cfg  Config
	http *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) Resolve(ctx context.Context, memberID string) (*Profile, error) {
	url := fmt.Sprintf("%s/members/%s", c.cfg.BaseURL, memberID)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &TransientError{Err: ctx.Err()}
			case <-time.After(c.cfg.RetryInterval):
			}
		}

		profile, retryable, err := c.resolveOnce(ctx, url)
		if err == nil {
			return profile, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *HTTPClient) resolveOnce(ctx context.Context, url string) (*Profile, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to build directory request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, &TransientError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, ErrMemberNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &TransientError{Err: fmt.Errorf("directory returned %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("directory returned unexpected status %d", resp.StatusCode)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, false, errors.Wrap(err, "failed to decode directory response")
	}
	return &profile, false, nil
}

func (c *HTTPClient) WriteTags(ctx context.Context, memberID string, tags []string) error {
	url := fmt.Sprintf("%s/members/%s/tags", c.cfg.BaseURL, memberID)

	body, err := json.Marshal(map[string][]string{"tags": tags})
	if err != nil {
		return errors.Wrap(err, "failed to marshal tags")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to build tag request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to write tags")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("tag write returned %d", resp.StatusCode)
	}
	return nil
}
