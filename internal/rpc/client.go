package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client calls a running daemon's /rpc endpoint.
type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient creates a client for the daemon at baseURL. token is sent as a
// bearer credential when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		url:   strings.TrimRight(baseURL, "/") + "/rpc",
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Call invokes method and decodes the result into out when out is non-nil.
// A command failure is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params, out any) error {
	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return err
	}
	req := Request{JSONRPC: Version, Method: method, ID: id}
	if params != nil {
		if req.Params, err = json.Marshal(params); err != nil {
			return fmt.Errorf("rpc: encode params: %w", err)
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("rpc: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxRequestBytes*8))
	if err != nil {
		return fmt.Errorf("rpc: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc: %s: HTTP %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("rpc: decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("rpc: decode result: %w", err)
		}
	}
	return nil
}
