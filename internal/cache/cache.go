// Package cache guarantees that every GitHub entity met during a run becomes
// exactly one graph node, however many paths lead to it. It is the only
// writer of nodes and relations to the graph store.
//
// A Cache lives for one run and is not safe for concurrent use.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/wesm/github-issue-graph/internal/graph"
	"github.com/wesm/github-issue-graph/internal/models"
)

// Cache is the per-run identity cache
type Cache struct {
	store graph.Store
	log   *slog.Logger

	repositories registry[RepositoryKey, *models.Repository]
	milestones   registry[MilestoneKey, *models.Milestone]
	issues       registry[IssueKey, *models.Issue]
	comments     registry[CommentKey, *models.Comment]
	users        registry[string, *models.User]
	labels       registry[string, *models.Label]
	commits      commitIndex
}

// New creates an empty cache writing through to store
func New(store graph.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:        store,
		log:          logger,
		repositories: newRegistry[RepositoryKey, *models.Repository](),
		milestones:   newRegistry[MilestoneKey, *models.Milestone](),
		issues:       newRegistry[IssueKey, *models.Issue](),
		comments:     newRegistry[CommentKey, *models.Comment](),
		users:        newRegistry[string, *models.User](),
		labels:       newRegistry[string, *models.Label](),
		commits:      newCommitIndex(),
	}
}

// CreateScan creates the root node of a run
func (c *Cache) CreateScan(ctx context.Context) (*models.Scan, error) {
	id, err := c.createNode(ctx, nil, graph.KindScan)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan node: %w", err)
	}
	return &models.Scan{Node: id}, nil
}

// Repository returns the cached repository, if any
func (c *Cache) Repository(user, name string) (*models.Repository, bool) {
	return c.repositories.Get(RepositoryKey{User: user, Name: name})
}

// FindOrCreateRepository returns the repository node for user/name
func (c *Cache) FindOrCreateRepository(ctx context.Context, user, name string) (*models.Repository, error) {
	key := RepositoryKey{User: user, Name: name}
	if repo, ok := c.repositories.Get(key); ok {
		return repo, nil
	}

	repo := &models.Repository{User: user, Name: name}
	c.log.Debug("Creating new repository", "repository", repo.FullName())

	id, err := c.createNode(ctx, map[string]any{
		"repositoryId": repo.FullName(),
		"user":         user,
		"name":         name,
	}, graph.KindRepository)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s: %w", repo.FullName(), err)
	}
	repo.Node = id

	return c.repositories.Put(key, repo), nil
}

// User returns the cached user, if any
func (c *Cache) User(login string) (*models.User, bool) {
	return c.users.Get(login)
}

// FindOrCreateUser returns the user node for login
func (c *Cache) FindOrCreateUser(ctx context.Context, login string) (*models.User, error) {
	if login == "" {
		return nil, fmt.Errorf("user login is empty")
	}
	if user, ok := c.users.Get(login); ok {
		return user, nil
	}

	c.log.Debug("Creating new user", "login", login)
	id, err := c.createNode(ctx, map[string]any{"login": login}, graph.KindUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", login, err)
	}

	return c.users.Put(login, &models.User{Node: id, Login: login}), nil
}

// FindOrCreateLabel returns the label node for label.Name
func (c *Cache) FindOrCreateLabel(ctx context.Context, label *models.Label) (*models.Label, error) {
	if existing, ok := c.labels.Get(label.Name); ok {
		return existing, nil
	}

	c.log.Debug("Creating new label", "name", label.Name)
	id, err := c.createNode(ctx, map[string]any{
		"name":        label.Name,
		"description": label.Description,
	}, graph.KindLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to create label %s: %w", label.Name, err)
	}
	label.Node = id

	return c.labels.Put(label.Name, label), nil
}

// Milestone returns the cached milestone, if any
func (c *Cache) Milestone(key MilestoneKey) (*models.Milestone, bool) {
	return c.milestones.Get(key)
}

// FindOrCreateMilestone returns the milestone node. A new milestone also gets
// its creator attached; m.CreatedBy only needs to carry the login.
func (c *Cache) FindOrCreateMilestone(ctx context.Context, m *models.Milestone) (*models.Milestone, error) {
	key := MilestoneKey{RepoUser: m.RepoUser, RepoName: m.RepoName, Number: m.Number}
	if existing, ok := c.milestones.Get(key); ok {
		return existing, nil
	}

	creator, err := c.creator(ctx, m.CreatedBy)
	if err != nil {
		return nil, err
	}

	c.log.Debug("Creating new milestone", "milestone", m.ID(), "title", m.Title)
	props := map[string]any{
		"milestoneId": m.ID(),
		"title":       m.Title,
		"description": m.Description,
		"state":       m.State,
		"number":      m.Number,
		"createdAt":   m.CreatedAt,
		"updatedAt":   m.UpdatedAt,
	}
	if m.DueOn != nil {
		props["dueOn"] = *m.DueOn
	}
	id, err := c.createNode(ctx, props, graph.KindMilestone)
	if err != nil {
		return nil, fmt.Errorf("failed to create milestone %s: %w", m.ID(), err)
	}
	m.Node = id
	m.CreatedBy = creator
	m = c.milestones.Put(key, m)

	if creator != nil {
		if err := c.Relate(ctx, m, graph.RelCreatedBy, creator); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Issue returns the cached issue, if any
func (c *Cache) Issue(key IssueKey) (*models.Issue, bool) {
	return c.issues.Get(key)
}

// FindOrCreateIssue returns the issue node for the issue's key. Only the
// issue's own properties are written; relations are attached by the caller.
// The node kind is fixed here: issues carrying PullRequest details become
// pull request nodes.
func (c *Cache) FindOrCreateIssue(ctx context.Context, issue *models.Issue) (*models.Issue, error) {
	key := KeyOfIssue(issue)
	if existing, ok := c.issues.Get(key); ok {
		return existing, nil
	}

	c.log.Debug("Creating new issue", "issue", issue.ID(), "pull_request", issue.IsPullRequest())
	kinds := []graph.Kind{graph.KindIssue}
	if issue.IsPullRequest() {
		kinds = append(kinds, graph.KindPullRequest)
	}
	id, err := c.createNode(ctx, map[string]any{
		"issueId":   issue.ID(),
		"title":     issue.Title,
		"body":      issue.Body,
		"state":     issue.State,
		"number":    issue.Number,
		"comments":  issue.CommentCount,
		"createdAt": issue.CreatedAt,
		"updatedAt": issue.UpdatedAt,
		"locked":    issue.Locked,
	}, kinds...)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue %s: %w", issue.ID(), err)
	}
	issue.Node = id

	return c.issues.Put(key, issue), nil
}

// FindOrCreateComment returns the comment node. A new comment also gets its
// author attached; comment.Author only needs to carry the login.
func (c *Cache) FindOrCreateComment(ctx context.Context, comment *models.Comment) (*models.Comment, error) {
	key := CommentKey{RepoUser: comment.RepoUser, RepoName: comment.RepoName, ID: comment.ID}
	if existing, ok := c.comments.Get(key); ok {
		return existing, nil
	}

	author, err := c.creator(ctx, comment.Author)
	if err != nil {
		return nil, err
	}

	c.log.Debug("Creating new comment", "repository", comment.RepoUser+"/"+comment.RepoName, "comment_id", comment.ID)
	id, err := c.createNode(ctx, map[string]any{
		"commentId": comment.ID,
		"body":      comment.Body,
		"createdAt": comment.CreatedAt,
		"updatedAt": comment.UpdatedAt,
	}, graph.KindComment)
	if err != nil {
		return nil, fmt.Errorf("failed to create comment %d: %w", comment.ID, err)
	}
	comment.Node = id
	comment.Author = author
	comment = c.comments.Put(key, comment)

	if author != nil {
		if err := c.Relate(ctx, comment, graph.RelCreatedBy, author); err != nil {
			return nil, err
		}
	}
	return comment, nil
}

// creator materializes the user behind a login-only reference. The user
// exists before the node that points at it, so a failure leaves no orphan.
func (c *Cache) creator(ctx context.Context, u *models.User) (*models.User, error) {
	if u == nil || u.Login == "" {
		return nil, nil
	}
	return c.FindOrCreateUser(ctx, u.Login)
}

// Commit returns a cached commit whose sha is prefix-equivalent to sha
func (c *Cache) Commit(repoUser, repoName, sha string) (*models.Commit, bool) {
	return c.commits.Get(repoUser, repoName, sha)
}

// FindOrCreateCommit returns the commit node for sha, matching existing
// commits of the same repository by sha prefix.
func (c *Cache) FindOrCreateCommit(ctx context.Context, repoUser, repoName, sha string) (*models.Commit, error) {
	if sha == "" {
		return nil, fmt.Errorf("commit sha is empty")
	}
	if existing, ok := c.commits.Get(repoUser, repoName, sha); ok {
		return existing, nil
	}

	commit := &models.Commit{RepoUser: repoUser, RepoName: repoName, SHA: sha}
	c.log.Debug("Creating new commit", "commit", commit.ID())
	id, err := c.createNode(ctx, map[string]any{
		"id":  commit.ID(),
		"sha": sha,
	}, graph.KindCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit %s: %w", commit.ID(), err)
	}
	commit.Node = id

	return c.commits.Put(commit), nil
}

// Relate writes a directed edge between two materialized entities
func (c *Cache) Relate(ctx context.Context, from models.Entity, rel graph.Relation, to models.Entity) error {
	if err := c.store.AddRelation(ctx, from.NodeID(), rel, to.NodeID()); err != nil {
		return fmt.Errorf("failed to add %s relation: %w", rel, err)
	}
	return nil
}

// SetProperty writes a property on an already materialized entity
func (c *Cache) SetProperty(ctx context.Context, e models.Entity, name string, value any) error {
	if err := c.store.SetProperty(ctx, e.NodeID(), name, value); err != nil {
		return fmt.Errorf("failed to set property %s: %w", name, err)
	}
	return nil
}

// Stats returns the number of materialized entities per kind
func (c *Cache) Stats() map[graph.Kind]int {
	return map[graph.Kind]int{
		graph.KindRepository: c.repositories.Len(),
		graph.KindMilestone:  c.milestones.Len(),
		graph.KindIssue:      c.issues.Len(),
		graph.KindComment:    c.comments.Len(),
		graph.KindCommit:     c.commits.Len(),
		graph.KindUser:       c.users.Len(),
		graph.KindLabel:      c.labels.Len(),
	}
}

// createNode creates a node and writes props in a stable order
func (c *Cache) createNode(ctx context.Context, props map[string]any, kinds ...graph.Kind) (uuid.UUID, error) {
	id, err := c.store.CreateNode(ctx, kinds...)
	if err != nil {
		return uuid.Nil, err
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := props[name]
		if t, ok := value.(time.Time); ok && t.IsZero() {
			continue
		}
		if err := c.store.SetProperty(ctx, id, name, value); err != nil {
			return uuid.Nil, fmt.Errorf("failed to set property %s: %w", name, err)
		}
	}
	return id, nil
}
