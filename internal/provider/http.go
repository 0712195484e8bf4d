package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one JSON-ish HTTP call.
type Request struct {
	Op          string
	Method      string
	URL         string
	Body        []byte
	ContentType string
	// Header is called per attempt so refreshed credentials are picked up.
	Header func(ctx context.Context, h http.Header) error
}

// Invoke performs req under the policy and returns the response body of the first 2xx attempt.
func Invoke(ctx context.Context, client HTTPDoer, p Policy, req Request) ([]byte, error) {
	var out []byte
	err := Retry(ctx, p, req.Op, func(ctx context.Context) error {
		var body io.Reader
		if req.Body != nil {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
		if err != nil {
			return fmt.Errorf("%s: build request: %w", req.Op, err)
		}
		if req.Body != nil {
			ct := req.ContentType
			if ct == "" {
				ct = "application/json"
			}
			httpReq.Header.Set("Content-Type", ct)
		}
		httpReq.Header.Set("Accept", "application/json")
		if req.Header != nil {
			if err := req.Header(ctx, httpReq.Header); err != nil {
				return err
			}
		}
		resp, err := client.Do(httpReq)
		if err != nil {
			return Classify(req.Op, 0, nil, err)
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return Classify(req.Op, 0, nil, readErr)
		}
		if err := Classify(req.Op, resp.StatusCode, data, nil); err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}
