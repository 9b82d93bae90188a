package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// linkRegex matches Link header entries: <url>; rel="type".
var linkRegex = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

// ParseNextLink extracts the "next" URL from a Link header.
// Returns empty string if no next link is found.
func ParseNextLink(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, part := range strings.Split(linkHeader, ",") {
		matches := linkRegex.FindStringSubmatch(strings.TrimSpace(part))
		if len(matches) == 3 && matches[2] == "next" {
			return matches[1]
		}
	}

	return ""
}

// getAllPages requests urlStr and keeps following the "next" link until the
// server stops sending one. Every page after the first waits the client's
// page delay. When a later page fails the records gathered so far are
// returned together with the error.
func getAllPages[T any](ctx context.Context, c *GitHubClient, urlStr string) ([]T, error) {
	var all []T

	next := urlStr
	for page := 1; next != ""; page++ {
		if page > 1 {
			c.log.Info("Requesting next page", "url", next, "page", page)
			if err := sleep(ctx, c.pageDelay); err != nil {
				return all, &RequestFailedError{Method: http.MethodGet, URL: next, Err: err}
			}
		}

		req, err := c.client.NewRequest(http.MethodGet, next, nil)
		if err != nil {
			return all, fmt.Errorf("failed to build request for %s: %w", next, err)
		}

		var items []T
		resp, err := c.do(ctx, req, &items)
		if err != nil {
			return all, err
		}

		all = append(all, items...)
		next = ParseNextLink(resp.Header.Get("Link"))
	}

	return all, nil
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Sleep is the context-aware pause used for politeness delays
func Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}
