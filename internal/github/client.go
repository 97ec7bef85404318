package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const commentsPerPage = 100

// Issue is the subset of the issue resource the service needs.
type Issue struct {
	Number  int64   `json:"number"`
	Title   string  `json:"title"`
	HTMLURL string  `json:"html_url"`
	State   string  `json:"state"`
	Body    string  `json:"body"`
	Labels  []Label `json:"labels"`
}

type Label struct {
	Name string `json:"name"`
}

// Comment is the subset of the issue-comment resource the service needs.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
}

type apiError struct {
	Message string `json:"message"`
}

// Client talks to the GitHub REST API for a single owner/repo.
type Client struct {
	owner string
	repo  string
	base  string
	http  *http.Client
}

func NewClient(owner, repo, baseURL string) *Client {
	return &Client{
		owner: owner,
		repo:  repo,
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, token, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		var ae apiError
		if json.Unmarshal(bodyBytes, &ae) == nil && ae.Message != "" {
			return fmt.Errorf("github api %s %s: %d %s", method, path, resp.StatusCode, ae.Message)
		}
		return fmt.Errorf("github api %s %s: %d %s", method, path, resp.StatusCode, string(bodyBytes))
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) repoPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s%s", c.owner, c.repo, suffix)
}

// FindDailyIssue looks up the open issue whose title exactly equals dateKey.
// The listing is narrowed by a primary label when one is available:
// "thoughtlog" if present in labels, else the first label. Titles are
// compared for equality, never by substring, so "2024-01-5" can not match
// "2024-01-15". Returns nil when no issue matches.
func (c *Client) FindDailyIssue(ctx context.Context, token, dateKey string, labels []string) (*Issue, error) {
	q := url.Values{}
	q.Set("state", "open")
	q.Set("per_page", "100")
	if primary := primaryLabel(labels); primary != "" {
		q.Set("labels", primary)
	}

	var issues []Issue
	if err := c.do(ctx, token, http.MethodGet, c.repoPath("/issues?"+q.Encode()), nil, &issues); err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].Title == dateKey {
			return &issues[i], nil
		}
	}
	return nil, nil
}

func primaryLabel(labels []string) string {
	for _, l := range labels {
		if l == "thoughtlog" {
			return l
		}
	}
	if len(labels) > 0 {
		return labels[0]
	}
	return ""
}

// CreateDailyIssue opens the container issue for a date.
func (c *Client) CreateDailyIssue(ctx context.Context, token, dateKey string, labels []string) (*Issue, error) {
	payload := map[string]interface{}{
		"title":  dateKey,
		"body":   fmt.Sprintf("Thought log for %s", dateKey),
		"labels": labels,
	}
	var issue Issue
	if err := c.do(ctx, token, http.MethodPost, c.repoPath("/issues"), payload, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) GetIssue(ctx context.Context, token string, number int64) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, token, http.MethodGet, c.repoPath(fmt.Sprintf("/issues/%d", number)), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) AddComment(ctx context.Context, token string, issueNumber int64, body string) (*Comment, error) {
	var comment Comment
	path := c.repoPath(fmt.Sprintf("/issues/%d/comments", issueNumber))
	if err := c.do(ctx, token, http.MethodPost, path, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// GetIssueComments fetches every comment on an issue, paging until a page
// comes back short or empty.
func (c *Client) GetIssueComments(ctx context.Context, token string, issueNumber int64) ([]Comment, error) {
	var all []Comment
	for page := 1; ; page++ {
		path := c.repoPath(fmt.Sprintf("/issues/%d/comments?per_page=%d&page=%d", issueNumber, commentsPerPage, page))
		var comments []Comment
		if err := c.do(ctx, token, http.MethodGet, path, nil, &comments); err != nil {
			return nil, err
		}
		all = append(all, comments...)
		if len(comments) < commentsPerPage {
			return all, nil
		}
	}
}

func (c *Client) UpdateIssue(ctx context.Context, token string, number int64, body string) (*Issue, error) {
	var issue Issue
	path := c.repoPath(fmt.Sprintf("/issues/%d", number))
	if err := c.do(ctx, token, http.MethodPatch, path, map[string]string{"body": body}, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) CloseIssue(ctx context.Context, token string, number int64) (*Issue, error) {
	var issue Issue
	path := c.repoPath(fmt.Sprintf("/issues/%d", number))
	if err := c.do(ctx, token, http.MethodPatch, path, map[string]string{"state": "closed"}, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (c *Client) GetComment(ctx context.Context, token string, commentID int64) (*Comment, error) {
	var comment Comment
	path := c.repoPath(fmt.Sprintf("/issues/comments/%d", commentID))
	if err := c.do(ctx, token, http.MethodGet, path, nil, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

func (c *Client) UpdateComment(ctx context.Context, token string, commentID int64, body string) (*Comment, error) {
	var comment Comment
	path := c.repoPath(fmt.Sprintf("/issues/comments/%d", commentID))
	if err := c.do(ctx, token, http.MethodPatch, path, map[string]string{"body": body}, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}
