package platforms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doorstep-ai/platform/pkg/common/logger"
	"github.com/doorstep-ai/platform/pkg/common/models"
)

const (
	maxUpstreamRetries = 2
	retryBackoff       = 250 * time.Millisecond
)

// upstreamClient wraps the HTTP plumbing shared by the adapter variants:
// per-call timeout, bounded retry on network errors and 5xx, no retry on
// 4xx.
type upstreamClient struct {
	platform models.Platform
	client   *http.Client
}

func newUpstreamClient(platform models.Platform, timeout time.Duration) *upstreamClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &upstreamClient{
		platform: platform,
		client:   &http.Client{Timeout: timeout},
	}
}

type authStyle int

const (
	authBearer authStyle = iota
	authSessionCookie
)

// getJSON fetches url and decodes the response body into out. A 401/403
// maps to UpstreamAuthError, other 4xx and undecodable bodies to
// PlatformDataError.
func (c *upstreamClient) getJSON(ctx context.Context, url string, creds Credentials, style authStyle, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxUpstreamRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		switch style {
		case authBearer:
			req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
		case authSessionCookie:
			req.Header.Set("Cookie", creds.SessionBlob)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return &UpstreamAuthError{Platform: c.platform, Op: "fetch", Err: fmt.Errorf("upstream returned %d", resp.StatusCode)}
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("upstream returned %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			return &PlatformDataError{Platform: c.platform, Reason: fmt.Sprintf("upstream returned %d", resp.StatusCode)}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return &PlatformDataError{Platform: c.platform, Reason: "undecodable response body", Err: err}
		}
		return nil
	}

	logger.WithPlatform(string(c.platform)).WithError(lastErr).Warn("upstream call exhausted retries")
	return fmt.Errorf("%s: upstream call failed: %w", c.platform, lastErr)
}

// postForm sends a form-encoded request, used for token revocation.
func (c *upstreamClient) postForm(ctx context.Context, url, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("upstream returned %d", resp.StatusCode)
	}
	return nil
}
