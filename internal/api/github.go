package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/github-issue-graph/internal/models"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public GitHub REST endpoint
	DefaultBaseURL = "https://api.github.com/"
	// DefaultPageDelay is the pause between two pages of one listing
	DefaultPageDelay = time.Second
	// DefaultTimeout bounds a single HTTP request
	DefaultTimeout = 30 * time.Second

	perPage = 100
)

// Credentials authenticate requests for one repository. A token takes
// precedence over user and password.
type Credentials struct {
	User     string
	Password string
	Token    string
}

// Options configures a GitHubClient
type Options struct {
	BaseURL     string
	Credentials Credentials
	// PageDelay is the pause between pages; zero disables it
	PageDelay time.Duration
	Logger    *slog.Logger
}

// GitHubClient represents a client for the GitHub REST API bound to the
// credentials of one repository
type GitHubClient struct {
	client    *github.Client
	pageDelay time.Duration
	log       *slog.Logger
}

// NewGitHubClient creates a new GitHub API client
func NewGitHubClient(opts Options) (*GitHubClient, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := github.NewClient(newHTTPClient(opts.Credentials))

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL %q: %w", opts.BaseURL, err)
	}
	client.BaseURL = u

	return &GitHubClient{
		client:    client,
		pageDelay: opts.PageDelay,
		log:       logger,
	}, nil
}

func newHTTPClient(creds Credentials) *http.Client {
	switch {
	case creds.Token != "":
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: creds.Token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		tc.Timeout = DefaultTimeout
		return tc
	case creds.User != "":
		tp := &github.BasicAuthTransport{
			Username: creds.User,
			Password: creds.Password,
		}
		tc := tp.Client()
		tc.Timeout = DefaultTimeout
		return tc
	default:
		return &http.Client{Timeout: DefaultTimeout}
	}
}

// BaseURL returns the API root requests are resolved against
func (c *GitHubClient) BaseURL() string {
	return c.client.BaseURL.String()
}

// GetMilestones lists every milestone of a repository, open and closed
func (c *GitHubClient) GetMilestones(ctx context.Context, owner, name string) ([]*github.Milestone, error) {
	u := fmt.Sprintf("repos/%s/%s/milestones?state=all&per_page=%d", owner, name, perPage)
	milestones, err := getAllPages[*github.Milestone](ctx, c, u)
	if err != nil {
		return milestones, fmt.Errorf("failed to list milestones: %w", err)
	}
	return milestones, nil
}

// GetIssues lists every issue and pull request of a repository
func (c *GitHubClient) GetIssues(ctx context.Context, owner, name string) ([]*github.Issue, error) {
	u := fmt.Sprintf("repos/%s/%s/issues?state=all&per_page=%d", owner, name, perPage)
	issues, err := getAllPages[*github.Issue](ctx, c, u)
	if err != nil {
		return issues, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// GetIssueComments gets comments for an issue in server order
func (c *GitHubClient) GetIssueComments(ctx context.Context, owner, name string, issueNumber int) ([]*github.IssueComment, error) {
	u := fmt.Sprintf("repos/%s/%s/issues/%d/comments?per_page=%d", owner, name, issueNumber, perPage)
	comments, err := getAllPages[*github.IssueComment](ctx, c, u)
	if err != nil {
		return comments, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// GetIssue gets a single issue by number
func (c *GitHubClient) GetIssue(ctx context.Context, owner, name string, number int) (*github.Issue, error) {
	u := fmt.Sprintf("repos/%s/%s/issues/%d", owner, name, number)
	issue := new(github.Issue)
	if err := c.get(ctx, u, issue); err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

// GetPullRequest gets pull request details from the absolute URL carried by
// an issue's pull_request links
func (c *GitHubClient) GetPullRequest(ctx context.Context, prURL string) (*github.PullRequest, error) {
	pr := new(github.PullRequest)
	if err := c.get(ctx, prURL, pr); err != nil {
		return nil, fmt.Errorf("failed to get pull request: %w", err)
	}
	return pr, nil
}

// markdownRequest is the payload of the markdown rendering endpoint
type markdownRequest struct {
	Text    string `json:"text"`
	Mode    string `json:"mode"`
	Context string `json:"context"`
}

// RenderMarkdown converts GitHub flavoured markdown to HTML. repoContext is
// "owner/name"; short references like #12 resolve against it.
func (c *GitHubClient) RenderMarkdown(ctx context.Context, text, repoContext string) (string, error) {
	req, err := c.client.NewRequest(http.MethodPost, "markdown", &markdownRequest{
		Text:    text,
		Mode:    "gfm",
		Context: repoContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build markdown request: %w", err)
	}

	var buf bytes.Buffer
	if _, err := c.do(ctx, req, &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// get decodes the JSON resource at u, relative to the base URL or absolute
func (c *GitHubClient) get(ctx context.Context, u string, v any) error {
	req, err := c.client.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", u, err)
	}
	_, err = c.do(ctx, req, v)
	return err
}

// do runs req and turns every failure into a RequestFailedError. The failure
// is logged here with status, headers and body; callers only add context.
func (c *GitHubClient) do(ctx context.Context, req *http.Request, v any) (*github.Response, error) {
	resp, err := c.client.Do(ctx, req, v)
	if err != nil {
		reqErr := newRequestFailedError(req, resp, err)
		c.log.Warn("GitHub request failed",
			"rate_limited", IsRateLimited(reqErr),
			"request", reqErr,
		)
		return resp, reqErr
	}
	return resp, nil
}

// ConvertGitHubUser converts a GitHub user to our model
func ConvertGitHubUser(user *github.User) *models.User {
	if user == nil || user.GetLogin() == "" {
		return nil
	}

	return &models.User{
		Login: user.GetLogin(),
	}
}

// ConvertGitHubMilestone converts a GitHub milestone to our model
func ConvertGitHubMilestone(owner, name string, milestone *github.Milestone) *models.Milestone {
	var dueOn *time.Time
	if milestone.DueOn != nil {
		t := milestone.DueOn.Time
		dueOn = &t
	}

	return &models.Milestone{
		RepoUser:    owner,
		RepoName:    name,
		Number:      milestone.GetNumber(),
		Title:       milestone.GetTitle(),
		Description: milestone.GetDescription(),
		State:       milestone.GetState(),
		CreatedAt:   milestone.GetCreatedAt().Time,
		UpdatedAt:   milestone.GetUpdatedAt().Time,
		DueOn:       dueOn,
		CreatedBy:   ConvertGitHubUser(milestone.Creator),
	}
}

// ConvertGitHubIssue converts a GitHub issue to our model. Relations
// (creator, milestone, labels, assignees) are left to the caller.
func ConvertGitHubIssue(owner, name string, issue *github.Issue) *models.Issue {
	i := &models.Issue{
		RepoUser:     owner,
		RepoName:     name,
		Number:       issue.GetNumber(),
		Title:        issue.GetTitle(),
		Body:         issue.GetBody(),
		State:        issue.GetState(),
		CommentCount: issue.GetComments(),
		CreatedAt:    issue.GetCreatedAt().Time,
		UpdatedAt:    issue.GetUpdatedAt().Time,
		Locked:       issue.GetLocked(),
	}

	if issue.IsPullRequest() {
		i.PullRequest = &models.PullRequestDetails{
			URL: issue.GetPullRequestLinks().GetURL(),
		}
	}

	return i
}

// ConvertGitHubComment converts a GitHub comment to our model
func ConvertGitHubComment(owner, name string, comment *github.IssueComment) *models.Comment {
	return &models.Comment{
		RepoUser:  owner,
		RepoName:  name,
		ID:        comment.GetID(),
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
		Author:    ConvertGitHubUser(comment.User),
	}
}

// ConvertGitHubLabel converts a GitHub label to our model
func ConvertGitHubLabel(label *github.Label) *models.Label {
	return &models.Label{
		Name:        label.GetName(),
		Description: label.GetDescription(),
	}
}
