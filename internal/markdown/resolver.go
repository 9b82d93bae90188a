package markdown

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/github-issue-graph/internal/api"
	"github.com/wesm/github-issue-graph/internal/cache"
	"github.com/wesm/github-issue-graph/internal/graph"
	"github.com/wesm/github-issue-graph/internal/models"
)

// DefaultDelay is the pause before each markdown conversion request
const DefaultDelay = time.Second

// Client is the part of the GitHub API the resolver needs
type Client interface {
	RenderMarkdown(ctx context.Context, text, repoContext string) (string, error)
	GetIssue(ctx context.Context, owner, name string, number int) (*github.Issue, error)
}

// Resolver attaches markdown references to issues and comments of one
// repository
type Resolver struct {
	cache  *cache.Cache
	client Client
	delay  time.Duration
	log    *slog.Logger
}

// NewResolver creates a resolver using client for conversion and lookups.
// delay is slept before every conversion request.
func NewResolver(c *cache.Cache, client Client, delay time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{cache: c, client: client, delay: delay, log: logger}
}

// Resolve renders the referrer's body in the context of repoUser/repoName and
// records every issue, commit and user it links to, one hop deep. Failures
// are logged; references resolved before a failure are kept.
func (r *Resolver) Resolve(ctx context.Context, repoUser, repoName string, referrer models.Referrer) {
	err := r.resolve(ctx, repoUser, repoName, referrer)
	switch {
	case err == nil:
	case api.IsNotFound(err):
		// deleted or private issues are common in old bodies
		r.log.Info("Markdown reference points at a missing issue",
			"referrer", describe(referrer),
			"resolved", referrer.Refs().Len(),
			"error", err,
		)
	default:
		r.log.Warn("Failed to resolve markdown references",
			"referrer", describe(referrer),
			"resolved", referrer.Refs().Len(),
			"error", err,
		)
	}
}

func (r *Resolver) resolve(ctx context.Context, repoUser, repoName string, referrer models.Referrer) error {
	body := referrer.MarkdownBody()
	if strings.TrimSpace(body) == "" {
		return nil
	}

	if err := api.Sleep(ctx, r.delay); err != nil {
		return fmt.Errorf("interrupted before markdown conversion: %w", err)
	}

	rendered, err := r.client.RenderMarkdown(ctx, body, repoUser+"/"+repoName)
	if err != nil {
		return err
	}
	r.log.Debug("Rendered markdown", "referrer", describe(referrer), "html", rendered)

	links, err := ExtractLinks(strings.NewReader(rendered))
	if err != nil {
		return err
	}

	for _, link := range links {
		target, err := ParseTarget(link.URL)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", link.Kind, err)
		}

		var entity models.Entity
		switch link.Kind {
		case IssueLink:
			entity, err = r.issue(ctx, target)
		case CommitLink:
			entity, err = r.commit(ctx, target)
		case UserMention:
			entity, err = r.user(ctx, target)
		}
		if err != nil {
			return fmt.Errorf("failed to resolve %s %s: %w", link.Kind, link.URL, err)
		}

		if err := r.addReference(ctx, referrer, entity); err != nil {
			return err
		}
	}

	return nil
}

// issue returns the referenced issue, fetching it when this run has not
// seen it yet. A fetched issue gets its own properties only.
func (r *Resolver) issue(ctx context.Context, t Target) (*models.Issue, error) {
	if t.IsUser() {
		return nil, fmt.Errorf("issue link names a user")
	}
	number, err := strconv.Atoi(t.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid issue number %q: %w", t.ID, err)
	}

	key := cache.IssueKey{RepoUser: t.User, RepoName: t.Repo, Number: number}
	if issue, ok := r.cache.Issue(key); ok {
		return issue, nil
	}

	r.log.Debug("Fetching referenced issue", "repository", t.User+"/"+t.Repo, "number", number)
	ghIssue, err := r.client.GetIssue(ctx, t.User, t.Repo, number)
	if err != nil {
		return nil, err
	}

	issue := api.ConvertGitHubIssue(t.User, t.Repo, ghIssue)
	// The anchor decides identity, whatever number the response carries
	issue.Number = number
	return r.cache.FindOrCreateIssue(ctx, issue)
}

func (r *Resolver) commit(ctx context.Context, t Target) (*models.Commit, error) {
	if t.IsUser() {
		return nil, fmt.Errorf("commit link names a user")
	}
	return r.cache.FindOrCreateCommit(ctx, t.User, t.Repo, t.ID)
}

func (r *Resolver) user(ctx context.Context, t Target) (*models.User, error) {
	if !t.IsUser() {
		return nil, fmt.Errorf("user mention names a repository item")
	}
	return r.cache.FindOrCreateUser(ctx, t.User)
}

// addReference records entity on the referrer once and writes the edge
func (r *Resolver) addReference(ctx context.Context, referrer models.Referrer, entity models.Entity) error {
	refs := referrer.Refs()
	if refs.Contains(entity) {
		return nil
	}

	if err := r.cache.Relate(ctx, referrer, graph.RelReferences, entity); err != nil {
		return err
	}

	switch e := entity.(type) {
	case *models.Issue:
		refs.Issues = append(refs.Issues, e)
	case *models.Commit:
		refs.Commits = append(refs.Commits, e)
	case *models.User:
		refs.Users = append(refs.Users, e)
	}
	return nil
}

func describe(referrer models.Referrer) string {
	switch v := referrer.(type) {
	case *models.Issue:
		return "issue " + v.ID()
	case *models.Comment:
		return fmt.Sprintf("comment %s/%s#%d", v.RepoUser, v.RepoName, v.ID)
	default:
		return fmt.Sprintf("%T", referrer)
	}
}
