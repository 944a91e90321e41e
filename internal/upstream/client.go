// Package upstream provides the outbound call primitive used by the
// gateway once a request has been validated and admitted.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Request describes one outbound call.
type Request struct {
	URL     string
	Method  string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response carries the upstream result together with the measured
// response time.
type Response struct {
	StatusCode   int
	Header       http.Header
	Body         []byte
	ResponseTime time.Duration
}

// NetworkError wraps a transport-level failure talking to an upstream.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("upstream call to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Call performs one HTTP request over the supplied pooled client.
// Transport failures come back as *NetworkError; per-call timeouts are
// the caller's responsibility via ctx or req.Timeout.
func Call(ctx context.Context, client *http.Client, req Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	res, err := client.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &NetworkError{URL: req.URL, Err: err}
	}

	return &Response{
		StatusCode:   res.StatusCode,
		Header:       res.Header.Clone(),
		Body:         payload,
		ResponseTime: time.Since(start),
	}, nil
}
