package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity is anything materialized as a node in the graph store
type Entity interface {
	NodeID() uuid.UUID
}

// Referrer is an entity whose markdown body may point at other entities
type Referrer interface {
	Entity
	MarkdownBody() string
	Refs() *References
}

// Scan is the root of one run and lists every repository that was ingested
type Scan struct {
	Node         uuid.UUID
	Repositories []*Repository
}

// Repository represents a GitHub repository
type Repository struct {
	Node       uuid.UUID
	User       string
	Name       string
	Milestones []*Milestone
	Issues     []*Issue
}

// FullName returns "user/name"
func (r *Repository) FullName() string {
	return r.User + "/" + r.Name
}

// User represents a GitHub user
type User struct {
	Node  uuid.UUID
	Login string
}

// Label represents a GitHub label
type Label struct {
	Node        uuid.UUID
	Name        string
	Description string
}

// Milestone represents a GitHub milestone
type Milestone struct {
	Node        uuid.UUID
	RepoUser    string
	RepoName    string
	Number      int
	Title       string
	Description string
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DueOn       *time.Time
	CreatedBy   *User
}

// ID returns the composite "user/repo#number" identifier
func (m *Milestone) ID() string {
	return fmt.Sprintf("%s/%s#%d", m.RepoUser, m.RepoName, m.Number)
}

// Commit represents a commit referenced from an issue, comment or pull request.
// Only its sha is known; the sha may be abbreviated.
type Commit struct {
	Node     uuid.UUID
	RepoUser string
	RepoName string
	SHA      string
}

// ID returns the composite "user/repo#sha" identifier
func (c *Commit) ID() string {
	return fmt.Sprintf("%s/%s#%s", c.RepoUser, c.RepoName, c.SHA)
}

// References holds the one-hop links discovered in a markdown body
type References struct {
	Issues  []*Issue
	Commits []*Commit
	Users   []*User
}

// Contains reports whether e is already referenced
func (r *References) Contains(e Entity) bool {
	id := e.NodeID()
	for _, i := range r.Issues {
		if i.Node == id {
			return true
		}
	}
	for _, c := range r.Commits {
		if c.Node == id {
			return true
		}
	}
	for _, u := range r.Users {
		if u.Node == id {
			return true
		}
	}
	return false
}

// Len returns the total number of references
func (r *References) Len() int {
	return len(r.Issues) + len(r.Commits) + len(r.Users)
}

// PullRequestDetails is the payload carried by issues that are pull requests
type PullRequestDetails struct {
	// URL points at the pull request resource holding the merge information
	URL        string
	MergedAt   *time.Time
	LastCommit *Commit
}

// Issue represents a GitHub issue. A non-nil PullRequest marks the pull request variant.
type Issue struct {
	Node         uuid.UUID
	RepoUser     string
	RepoName     string
	Number       int
	Title        string
	Body         string
	State        string
	CommentCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Locked       bool

	CreatedBy *User
	Milestone *Milestone
	Labels    []*Label
	Assignees []*User
	// Comments is the head of the comment chain
	Comments *Comment

	PullRequest *PullRequestDetails

	References References
}

// ID returns the composite "user/repo#number" identifier
func (i *Issue) ID() string {
	return fmt.Sprintf("%s/%s#%d", i.RepoUser, i.RepoName, i.Number)
}

// IsPullRequest reports whether the issue is the pull request variant
func (i *Issue) IsPullRequest() bool {
	return i.PullRequest != nil
}

// CommentList walks the comment chain starting at the head
func (i *Issue) CommentList() []*Comment {
	var comments []*Comment
	for c := i.Comments; c != nil; c = c.Next {
		comments = append(comments, c)
	}
	return comments
}

// Comment represents a GitHub issue comment
type Comment struct {
	Node      uuid.UUID
	RepoUser  string
	RepoName  string
	ID        int64
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Author    *User
	// Next is the comment that followed this one on the same issue
	Next *Comment

	References References
}

func (s *Scan) NodeID() uuid.UUID       { return s.Node }
func (r *Repository) NodeID() uuid.UUID { return r.Node }
func (u *User) NodeID() uuid.UUID       { return u.Node }
func (l *Label) NodeID() uuid.UUID      { return l.Node }
func (m *Milestone) NodeID() uuid.UUID  { return m.Node }
func (c *Commit) NodeID() uuid.UUID     { return c.Node }
func (i *Issue) NodeID() uuid.UUID      { return i.Node }
func (c *Comment) NodeID() uuid.UUID    { return c.Node }

func (i *Issue) MarkdownBody() string   { return i.Body }
func (c *Comment) MarkdownBody() string { return c.Body }

func (i *Issue) Refs() *References   { return &i.References }
func (c *Comment) Refs() *References { return &c.References }
