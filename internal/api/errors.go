package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v57/github"
)

// maxErrorBody caps how much of a failed response body is kept for diagnosis
const maxErrorBody = 64 << 10

// RequestFailedError is returned for every request that did not produce a
// usable response: non-2xx status, transport failure, undecodable body.
type RequestFailedError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       string
	Err        error
}

func (e *RequestFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request failed: %s %s: status %d: %v", e.Method, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the Retry-After header of the failed response, if any
func (e *RequestFailedError) RetryAfter() string {
	if e.Header == nil {
		return ""
	}
	return e.Header.Get("Retry-After")
}

// LogValue groups everything needed to diagnose the failure
func (e *RequestFailedError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("message", e.Error()),
		slog.String("method", e.Method),
		slog.String("url", e.URL),
	}
	if e.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status", e.StatusCode))
	}
	if len(e.Header) > 0 {
		attrs = append(attrs, slog.Any("headers", e.Header))
	}
	if retryAfter := e.RetryAfter(); retryAfter != "" {
		attrs = append(attrs, slog.String("retry_after", retryAfter))
	}
	if e.Body != "" {
		attrs = append(attrs, slog.String("body", e.Body))
	}
	return slog.GroupValue(attrs...)
}

// IsNotFound reports whether err is a failed request answered with 404
func IsNotFound(err error) bool {
	var reqErr *RequestFailedError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}

// IsRateLimited reports whether err is a failed request rejected by GitHub's
// primary or secondary rate limit
func IsRateLimited(err error) bool {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	var reqErr *RequestFailedError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusTooManyRequests
}

// newRequestFailedError builds a RequestFailedError from a go-github result
func newRequestFailedError(req *http.Request, resp *github.Response, err error) *RequestFailedError {
	reqErr := &RequestFailedError{Err: err}
	if req != nil {
		reqErr.Method = req.Method
		reqErr.URL = req.URL.String()
	}

	var httpResp *http.Response
	if resp != nil {
		httpResp = resp.Response
	}
	if httpResp == nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) {
			httpResp = ghErr.Response
		}
	}
	if httpResp == nil {
		return reqErr
	}

	reqErr.StatusCode = httpResp.StatusCode
	reqErr.Header = httpResp.Header.Clone()
	// go-github puts the error body back after decoding it
	if httpResp.Body != nil {
		if data, readErr := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody)); readErr == nil {
			reqErr.Body = string(data)
		}
	}
	return reqErr
}
