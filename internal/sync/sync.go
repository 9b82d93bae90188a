package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/github-issue-graph/internal/api"
	"github.com/wesm/github-issue-graph/internal/cache"
	"github.com/wesm/github-issue-graph/internal/graph"
	"github.com/wesm/github-issue-graph/internal/markdown"
	"github.com/wesm/github-issue-graph/internal/models"
)

// Client is the part of the GitHub API a scan needs
type Client interface {
	markdown.Client
	GetMilestones(ctx context.Context, owner, name string) ([]*github.Milestone, error)
	GetIssues(ctx context.Context, owner, name string) ([]*github.Issue, error)
	GetIssueComments(ctx context.Context, owner, name string, issueNumber int) ([]*github.IssueComment, error)
	GetPullRequest(ctx context.Context, prURL string) (*github.PullRequest, error)
}

// RepositorySpec names a repository to scan and the credentials to use for it
type RepositorySpec struct {
	User        string
	Name        string
	Credentials api.Credentials
}

// FullName returns "user/name"
func (r RepositorySpec) FullName() string {
	return r.User + "/" + r.Name
}

// ClientFactory creates the API client for one repository
type ClientFactory func(repo RepositorySpec) (Client, error)

// Syncer walks GitHub repositories into the graph store
type Syncer struct {
	store            graph.Store
	newClient        ClientFactory
	markdownDelay    time.Duration
	progressInterval time.Duration
	log              *slog.Logger
}

// New creates a new syncer
func New(store graph.Store, newClient ClientFactory, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		store:            store,
		newClient:        newClient,
		markdownDelay:    markdown.DefaultDelay,
		progressInterval: 5 * time.Second,
		log:              logger,
	}
}

// SetMarkdownDelay sets the pause before each markdown conversion
func (s *Syncer) SetMarkdownDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.markdownDelay = d
}

// run holds the state of one scan
type run struct {
	cache *cache.Cache
	// walked holds issues whose relations and comments were already built
	walked map[cache.IssueKey]bool
}

// Run scans every repository in order and returns the root of the graph. A
// repository that fails is logged and left out of the result; the scan goes
// on with the next one. A repository already scanned in this run is skipped. Only a cancelled context or a failure to create the
// root node end the scan early.
func (s *Syncer) Run(ctx context.Context, repos []RepositorySpec) (*models.Scan, error) {
	start := time.Now()
	r := &run{
		cache:  cache.New(s.store, s.log),
		walked: make(map[cache.IssueKey]bool),
	}

	scan, err := r.cache.CreateScan(ctx)
	if err != nil {
		return nil, err
	}

	scanned := make(map[cache.RepositoryKey]bool, len(repos))
	for _, spec := range repos {
		key := cache.RepositoryKey{User: spec.User, Name: spec.Name}
		if scanned[key] {
			s.log.Info("Skipping repository listed twice", "repository", spec.FullName())
			continue
		}
		s.log.Info("Scanning repository", "repository", spec.FullName())

		repo, err := s.syncRepository(ctx, r, spec)
		if err == nil {
			err = r.cache.Relate(ctx, scan, graph.RelSpecifiesRepository, repo)
		}
		if err != nil {
			s.log.Error("Failed to scan repository", "repository", spec.FullName(), "error", err)
			if ctx.Err() != nil {
				s.logSummary(r.cache, start)
				return scan, fmt.Errorf("scan interrupted: %w", ctx.Err())
			}
			continue
		}

		scanned[key] = true
		scan.Repositories = append(scan.Repositories, repo)
		s.log.Info("Successfully scanned repository",
			"repository", spec.FullName(),
			"milestones", len(repo.Milestones),
			"issues", len(repo.Issues),
		)
	}

	s.logSummary(r.cache, start)
	return scan, nil
}

// syncRepository builds one repository. Remote failures are logged and
// skipped; only store failures are returned.
func (s *Syncer) syncRepository(ctx context.Context, r *run, spec RepositorySpec) (*models.Repository, error) {
	client, err := s.newClient(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", spec.FullName(), err)
	}
	resolver := markdown.NewResolver(r.cache, client, s.markdownDelay, s.log)

	repo, err := r.cache.FindOrCreateRepository(ctx, spec.User, spec.Name)
	if err != nil {
		return nil, err
	}

	if err := s.syncMilestones(ctx, r, client, repo); err != nil {
		return nil, err
	}

	s.log.Info("Fetching issues from GitHub", "repository", repo.FullName())
	issues, err := client.GetIssues(ctx, repo.User, repo.Name)
	if err != nil {
		s.log.Warn("Continuing with partial issue list", "repository", repo.FullName(), "fetched", len(issues), "error", err)
	}

	total := len(issues)
	s.log.Info("Found issues", "repository", repo.FullName(), "count", total)

	lastProgressUpdate := time.Now()
	for i, ghIssue := range issues {
		if err := s.walkIssue(ctx, r, client, resolver, repo, ghIssue); err != nil {
			return nil, fmt.Errorf("issue #%d: %w", ghIssue.GetNumber(), err)
		}

		current := i + 1
		if current == 1 || current == total || time.Since(lastProgressUpdate) >= s.progressInterval {
			s.log.Info(fmt.Sprintf("Progress: %d/%d issues (%.1f%%)",
				current, total, float64(current)/float64(total)*100.0))
			lastProgressUpdate = time.Now()
		}
	}

	return repo, nil
}

func (s *Syncer) syncMilestones(ctx context.Context, r *run, client Client, repo *models.Repository) error {
	milestones, err := client.GetMilestones(ctx, repo.User, repo.Name)
	if err != nil {
		s.log.Warn("Continuing with partial milestone list", "repository", repo.FullName(), "fetched", len(milestones), "error", err)
	}

	for _, ghMilestone := range milestones {
		if _, err := s.milestone(ctx, r, repo, ghMilestone); err != nil {
			return err
		}
	}
	return nil
}

// milestone materializes a milestone and hangs it under repo once
func (s *Syncer) milestone(ctx context.Context, r *run, repo *models.Repository, ghMilestone *github.Milestone) (*models.Milestone, error) {
	key := cache.MilestoneKey{RepoUser: repo.User, RepoName: repo.Name, Number: ghMilestone.GetNumber()}
	if m, ok := r.cache.Milestone(key); ok {
		return m, nil
	}

	m, err := r.cache.FindOrCreateMilestone(ctx, api.ConvertGitHubMilestone(repo.User, repo.Name, ghMilestone))
	if err != nil {
		return nil, err
	}
	if err := r.cache.Relate(ctx, repo, graph.RelHasMilestone, m); err != nil {
		return nil, err
	}
	repo.Milestones = append(repo.Milestones, m)
	return m, nil
}

// walkIssue builds an issue with everything hanging off it
func (s *Syncer) walkIssue(ctx context.Context, r *run, client Client, resolver *markdown.Resolver, repo *models.Repository, ghIssue *github.Issue) error {
	issue, err := r.cache.FindOrCreateIssue(ctx, api.ConvertGitHubIssue(repo.User, repo.Name, ghIssue))
	if err != nil {
		return err
	}

	key := cache.KeyOfIssue(issue)
	if r.walked[key] {
		s.log.Debug("Skipping issue listed twice", "issue", issue.ID())
		return nil
	}
	r.walked[key] = true

	if err := r.cache.Relate(ctx, repo, graph.RelHasIssue, issue); err != nil {
		return err
	}
	repo.Issues = append(repo.Issues, issue)

	if creator := api.ConvertGitHubUser(ghIssue.User); creator != nil {
		user, err := r.cache.FindOrCreateUser(ctx, creator.Login)
		if err != nil {
			return err
		}
		issue.CreatedBy = user
		if err := r.cache.Relate(ctx, issue, graph.RelCreatedBy, user); err != nil {
			return err
		}
	}

	if ghIssue.Milestone != nil {
		m, err := s.milestone(ctx, r, repo, ghIssue.Milestone)
		if err != nil {
			return err
		}
		issue.Milestone = m
		if err := r.cache.Relate(ctx, issue, graph.RelIsPartOf, m); err != nil {
			return err
		}
	}

	if issue.IsPullRequest() {
		if err := s.enrichPullRequest(ctx, r, client, issue); err != nil {
			return err
		}
	}

	for _, ghAssignee := range ghIssue.Assignees {
		assignee := api.ConvertGitHubUser(ghAssignee)
		if assignee == nil {
			continue
		}
		user, err := r.cache.FindOrCreateUser(ctx, assignee.Login)
		if err != nil {
			return err
		}
		issue.Assignees = append(issue.Assignees, user)
		if err := r.cache.Relate(ctx, issue, graph.RelHasAssignee, user); err != nil {
			return err
		}
	}

	for _, ghLabel := range ghIssue.Labels {
		label, err := r.cache.FindOrCreateLabel(ctx, api.ConvertGitHubLabel(ghLabel))
		if err != nil {
			return err
		}
		issue.Labels = append(issue.Labels, label)
		if err := r.cache.Relate(ctx, issue, graph.RelHasLabel, label); err != nil {
			return err
		}
	}

	resolver.Resolve(ctx, repo.User, repo.Name, issue)

	return s.walkComments(ctx, r, client, resolver, repo, issue)
}

// enrichPullRequest adds merge information from the pull request resource.
// A failed fetch leaves the pull request without it.
func (s *Syncer) enrichPullRequest(ctx context.Context, r *run, client Client, issue *models.Issue) error {
	if issue.PullRequest.URL == "" {
		return nil
	}

	pr, err := client.GetPullRequest(ctx, issue.PullRequest.URL)
	if err != nil {
		s.log.Warn("Skipping pull request details", "issue", issue.ID(), "error", err)
		return nil
	}

	if pr.MergedAt != nil {
		mergedAt := pr.MergedAt.Time
		issue.PullRequest.MergedAt = &mergedAt
		if err := r.cache.SetProperty(ctx, issue, "mergedAt", mergedAt); err != nil {
			return err
		}
	}

	if sha := pr.GetMergeCommitSHA(); sha != "" {
		commit, err := r.cache.FindOrCreateCommit(ctx, issue.RepoUser, issue.RepoName, sha)
		if err != nil {
			return err
		}
		issue.PullRequest.LastCommit = commit
		if err := r.cache.Relate(ctx, issue, graph.RelHasLastCommit, commit); err != nil {
			return err
		}
	}
	return nil
}

// walkComments chains the issue's comments in server order. The issue points
// at the first comment and each comment at the one that followed it.
func (s *Syncer) walkComments(ctx context.Context, r *run, client Client, resolver *markdown.Resolver, repo *models.Repository, issue *models.Issue) error {
	if issue.CommentCount == 0 {
		return nil
	}

	ghComments, err := client.GetIssueComments(ctx, repo.User, repo.Name, issue.Number)
	if err != nil {
		s.log.Warn("Continuing with partial comment list", "issue", issue.ID(), "fetched", len(ghComments), "error", err)
	}

	seen := make(map[*models.Comment]bool, len(ghComments))
	var prev *models.Comment
	for _, ghComment := range ghComments {
		comment, err := r.cache.FindOrCreateComment(ctx, api.ConvertGitHubComment(repo.User, repo.Name, ghComment))
		if err != nil {
			return err
		}
		if seen[comment] {
			continue
		}
		seen[comment] = true

		if prev == nil {
			issue.Comments = comment
			err = r.cache.Relate(ctx, issue, graph.RelHasComment, comment)
		} else {
			prev.Next = comment
			err = r.cache.Relate(ctx, prev, graph.RelFollowedBy, comment)
		}
		if err != nil {
			return err
		}

		resolver.Resolve(ctx, repo.User, repo.Name, comment)
		prev = comment
	}
	return nil
}

func (s *Syncer) logSummary(c *cache.Cache, start time.Time) {
	stats := c.Stats()
	s.log.Info("Scan complete",
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
		"repositories", stats[graph.KindRepository],
		"milestones", stats[graph.KindMilestone],
		"issues", stats[graph.KindIssue],
		"comments", stats[graph.KindComment],
		"commits", stats[graph.KindCommit],
		"users", stats[graph.KindUser],
		"labels", stats[graph.KindLabel],
	)
}

// ParseRepositoryString parses a repository string in the format "owner/name"
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}
