// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github-top-repos/internal/activity"
	apperrors "github-top-repos/internal/errors"
	"github-top-repos/internal/model"
)

const defaultBaseURL = "https://api.github.com"

// perPage is the maximum GitHub allows on both endpoints we walk.
const perPage = "100"

// RawPage is one raw JSON response body from a paginated endpoint.
type RawPage []byte

// StopFunc inspects a fetched page and reports whether the walk should stop
// without requesting further pages. The page it sees has already been
// collected.
type StopFunc func(page RawPage) bool

// Client talks to the GitHub REST API. It owns the cursor-following page
// walk used by both the search and activity endpoints.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
}

// NewClient creates a Client. A non-empty token is sent as a bearer token via
// an oauth2 transport; an empty token yields unauthenticated requests with
// GitHub's much lower quota.
func NewClient(token string, logger *slog.Logger) *Client {
	hc := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(context.Background(), ts)
		hc.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: hc,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// WithBaseURL returns a copy of the client pointed at a different API root,
// leaving the receiver untouched. Used by tests.
func (c *Client) WithBaseURL(u string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(u, "/")
	return &cp
}

// SearchTopRepositories fetches one page of the star-ranked repository
// listing (the top 100 by stars).
func (c *Client) SearchTopRepositories(ctx context.Context) ([]model.RankedRepo, error) {
	params := url.Values{}
	params.Set("q", "stars:>0")
	params.Set("sort", "stars")
	params.Set("per_page", perPage)

	// Top-N membership only needs the first page; the stop predicate halts
	// the walk after it.
	pages, err := c.fetchPages(ctx, c.baseURL+"/search/repositories", params, func(RawPage) bool {
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, nil
	}

	var result searchResponse
	if err := json.Unmarshal(pages[0], &result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	repos := make([]model.RankedRepo, 0, len(result.Items))
	for _, item := range result.Items {
		repos = append(repos, model.RankedRepo{
			Owner:      item.Owner.Login,
			Name:       item.FullName,
			Stars:      item.StargazersCount,
			Watchers:   item.Watchers,
			Forks:      item.Forks,
			OpenIssues: item.OpenIssues,
			Language:   item.Language,
		})
	}
	return repos, nil
}

// ListActivity fetches raw push events for a repository, newest first. When
// latest is non-nil, the walk stops once the oldest event on a page falls on
// or before that date; otherwise it runs until pagination is exhausted.
func (c *Client) ListActivity(ctx context.Context, owner, repo string, latest *time.Time) ([]activity.Event, error) {
	params := url.Values{}
	params.Set("time_period", "year")
	params.Set("per_page", perPage)

	endpoint := fmt.Sprintf("%s/repos/%s/%s/activity", c.baseURL, owner, repo)

	stop := func(page RawPage) bool {
		if latest == nil {
			return false
		}
		var items []activityItem
		if err := json.Unmarshal(page, &items); err != nil || len(items) == 0 {
			return true
		}
		oldest := items[len(items)-1].Timestamp
		return !activity.Day(oldest).After(activity.Day(*latest))
	}

	pages, err := c.fetchPages(ctx, endpoint, params, stop)
	if err != nil {
		return nil, err
	}

	var events []activity.Event
	for _, page := range pages {
		var items []activityItem
		if err := json.Unmarshal(page, &items); err != nil {
			c.logger.Warn("Skipping undecodable activity page", "owner", owner, "repo", repo, "error", err)
			continue
		}
		for _, item := range items {
			events = append(events, activity.Event{Date: item.Timestamp, Author: item.Actor.Login})
		}
	}
	return events, nil
}

// fetchPages walks a paginated endpoint, following the Link header's
// rel="next" cursor. Each invocation starts a fresh cursor. A rate-limit
// signal aborts with ErrRateLimited and discards everything gathered; any
// other transport or status failure ends the walk with the pages collected
// so far, letting callers tolerate a short result.
func (c *Client) fetchPages(ctx context.Context, endpoint string, params url.Values, stop StopFunc) ([]RawPage, error) {
	next := endpoint
	if len(params) > 0 {
		next += "?" + params.Encode()
	}

	var pages []RawPage
	for next != "" {
		body, link, err := c.get(ctx, next)
		if err != nil {
			if errors.Is(err, apperrors.ErrRateLimited) {
				return nil, err
			}
			c.logger.Warn("Page fetch failed, keeping pages gathered so far",
				"url", next, "pages", len(pages), "error", err)
			return pages, nil
		}

		pages = append(pages, body)
		if stop != nil && stop(body) {
			break
		}
		next = nextPageURL(link)
	}

	return pages, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (body []byte, link string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}

	if rateLimited(resp.StatusCode, body) {
		return nil, "", apperrors.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return body, resp.Header.Get("Link"), nil
}

// rateLimited recognizes GitHub's quota responses: a 403 or 429 whose JSON
// body carries the rate-limit message, which distinguishes it from ordinary
// forbidden responses.
func rateLimited(status int, body []byte) bool {
	if status != http.StatusForbidden && status != http.StatusTooManyRequests {
		return false
	}
	var probe struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return strings.Contains(probe.Message, "rate limit exceeded")
}

var nextLinkRe = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// nextPageURL extracts the rel="next" URL from a Link header, or returns ""
// when pagination is exhausted.
func nextPageURL(link string) string {
	m := nextLinkRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	return m[1]
}
