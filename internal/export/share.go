package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrShareUnavailable means no share target could take the file.
	ErrShareUnavailable = errors.New("share unavailable")
	// ErrShareCancelled means the share was abandoned. It is not reported
	// to the operator.
	ErrShareCancelled = errors.New("share cancelled")
)

// Sharer hands a finished batch file to some other system.
type Sharer interface {
	Share(ctx context.Context, name string, data []byte) error
}

// WebhookSharer posts the CSV to a configured URL.
type WebhookSharer struct {
	url    string
	client *retryablehttp.Client
}

func NewWebhookSharer(url string, timeout time.Duration, retryMax int) *WebhookSharer {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if timeout > 0 {
		client.HTTPClient.Timeout = timeout
	}
	return &WebhookSharer{url: url, client: client}
}

func (s *WebhookSharer) Share(ctx context.Context, name string, data []byte) error {
	if s == nil || s.url == "" {
		return ErrShareUnavailable
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShareUnavailable, err)
	}
	req.Header.Set("Content-Type", "text/csv; charset=utf-8")
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrShareCancelled
		}
		return fmt.Errorf("%w: %v", ErrShareUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: share endpoint returned %d", ErrShareUnavailable, resp.StatusCode)
	}
	return nil
}
