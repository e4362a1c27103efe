package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const maxJSONResponseBytes = 4 * 1024 * 1024

// GetJSON fetches path and decodes the 2xx body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.SendJSON(ctx, http.MethodGet, path, nil, out)
}

// SendJSON encodes in (when non-nil) as the request body, sends it through
// the pipeline and decodes a 2xx body into out (when non-nil). Other
// statuses become *Error with KindStatus.
func (c *Client) SendJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := c.NewRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONResponseBytes))
	if err != nil {
		return &Error{Kind: KindTransport, Method: method, Path: req.URL.Path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{
			Kind:       KindStatus,
			Method:     method,
			Path:       req.URL.Path,
			StatusCode: resp.StatusCode,
			Err:        errors.New(string(bytes.TrimSpace(truncate(raw, 256)))),
		}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", req.URL.Path, err)
	}
	return nil
}

// Raw fetches path and returns the 2xx body bytes.
func (c *Client) Raw(ctx context.Context, method, path string) ([]byte, error) {
	var raw json.RawMessage
	if err := c.SendJSON(ctx, method, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
