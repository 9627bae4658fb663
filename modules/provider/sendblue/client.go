// Package sendblue is the Sendblue iMessage/SMS API collaborator: it lists
// messages for the poller and sends outbound messages for the command surface.
package sendblue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/sbridge/pkg/message"
)

const (
	maxRetries       = 3
	initialBackoff   = time.Second
	maxResponseBytes = 10 << 20 // 10 MiB
)

var (
	// ErrFailed is returned when the API accepts the call but reports a failed send.
	ErrFailed = errors.New("sendblue: send failed")

	// ErrPagingStalled is returned when a full page repeats messages already
	// seen in the same listing, which means the API ignored the offset.
	ErrPagingStalled = errors.New("sendblue: list paging made no progress")
)

// Client is a thin HTTP wrapper around the Sendblue API.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient creates a client. cfg is defaulted; callers validate it.
func NewClient(cfg Config) *Client {
	cfg = cfg.WithDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// FromNumber is the account number used for outbound sends.
func (c *Client) FromNumber() string { return c.cfg.FromNumber }

// do sends one request and decodes a 2xx JSON body into T. It retries 429
// responses honoring Retry-After (max 3 attempts, exponential backoff).
func do[T any](ctx context.Context, c *Client, method, path string, query url.Values, payload any) (*T, error) {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("sendblue: marshal %s request: %w", path, err)
		}
	}

	backoff := initialBackoff

	for attempt := range maxRetries {
		var body io.Reader
		if data != nil {
			body = bytes.NewReader(data)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, body)
		if err != nil {
			return nil, fmt.Errorf("sendblue: create %s request: %w", path, err)
		}
		req.Header.Set("sb-api-key-id", c.cfg.APIKey)
		req.Header.Set("sb-api-secret-key", c.cfg.APISecret)
		req.Header.Set("Accept", "application/json")
		if data != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sendblue: %s request failed: %w", path, err)
		}

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("sendblue: read %s response: %w", path, err)
		}

		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries-1 {
			if retryAfter > 0 {
				backoff = retryAfter
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode, RetryAfter: retryAfter}
			var er errorResponse
			if json.Unmarshal(respBody, &er) == nil {
				apiErr.Message = er.text()
			}
			if apiErr.Message == "" {
				apiErr.Message = http.StatusText(resp.StatusCode)
			}
			return nil, apiErr
		}

		var out T
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, fmt.Errorf("sendblue: decode %s response: %w", path, err)
		}
		return &out, nil
	}

	return nil, fmt.Errorf("sendblue: %s: max retries exceeded", path)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// FetchInbound lists every message updated at or after since, in the order
// the provider returns them. It pages until a short page arrives; the
// caller's context bounds the walk. Outbound messages are included and
// flagged.
func (c *Client) FetchInbound(ctx context.Context, since time.Time) ([]message.InboundMessage, error) {
	now := c.now()
	var out []message.InboundMessage
	seen := make(map[string]struct{})

	for page := 0; ; page++ {
		q := url.Values{}
		q.Set("updated_after", since.UTC().Format(time.RFC3339Nano))
		q.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		if page > 0 {
			q.Set("offset", strconv.Itoa(page*c.cfg.PageLimit))
		}

		list, err := do[listResponse](ctx, c, http.MethodGet, "/api/v2/messages", q, nil)
		if err != nil {
			return nil, err
		}
		fresh := 0
		for _, m := range *list {
			if m.MessageHandle == "" {
				continue
			}
			if _, dup := seen[m.MessageHandle]; dup {
				continue
			}
			seen[m.MessageHandle] = struct{}{}
			fresh++
			out = append(out, m.ToInbound(now))
		}
		if len(*list) < c.cfg.PageLimit {
			return out, nil
		}
		if fresh == 0 {
			return nil, fmt.Errorf("%w at offset %d", ErrPagingStalled, page*c.cfg.PageLimit)
		}
	}
}

// SendOutbound sends msg from the configured account number.
func (c *Client) SendOutbound(ctx context.Context, msg message.OutboundMessage) (message.SendResult, error) {
	if msg.To == "" {
		return message.SendResult{}, errors.New("sendblue: recipient is required")
	}

	resp, err := do[sendResponse](ctx, c, http.MethodPost, "/api/send-message", nil, sendRequest{
		Number:     msg.To,
		Content:    msg.Content,
		MediaURL:   msg.MediaURL,
		FromNumber: c.cfg.FromNumber,
	})
	if err != nil {
		return message.SendResult{}, err
	}
	if strings.EqualFold(resp.Status, "ERROR") || strings.EqualFold(resp.Status, "FAILED") {
		return message.SendResult{}, fmt.Errorf("%w: %s", ErrFailed, resp.ErrorMessage)
	}
	return message.SendResult{MessageID: resp.MessageHandle}, nil
}
