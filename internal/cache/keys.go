package cache

import (
	"strings"

	"github.com/wesm/github-issue-graph/internal/models"
)

// RepositoryKey identifies a repository
type RepositoryKey struct {
	User string
	Name string
}

// MilestoneKey identifies a milestone within a repository
type MilestoneKey struct {
	RepoUser string
	RepoName string
	Number   int
}

// IssueKey identifies an issue or pull request within a repository
type IssueKey struct {
	RepoUser string
	RepoName string
	Number   int
}

// CommentKey identifies an issue comment within a repository
type CommentKey struct {
	RepoUser string
	RepoName string
	ID       int64
}

// KeyOfIssue returns the identity key of an issue
func KeyOfIssue(i *models.Issue) IssueKey {
	return IssueKey{RepoUser: i.RepoUser, RepoName: i.RepoName, Number: i.Number}
}

// SameCommit reports whether two shas of the same repository name the same
// commit. GitHub renders full and abbreviated hashes inconsistently, so one
// being a prefix of the other is enough.
//
// The rule falsely merges two distinct commits when one sha happens to be a
// literal prefix of the other. It is kept for compatibility.
func SameCommit(a, b string) bool {
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// registry maps identity keys to materialized values. The first value put for
// a key wins.
type registry[K comparable, V any] struct {
	m map[K]V
}

func newRegistry[K comparable, V any]() registry[K, V] {
	return registry[K, V]{m: make(map[K]V)}
}

func (r registry[K, V]) Get(k K) (V, bool) {
	v, ok := r.m[k]
	return v, ok
}

// Put stores v unless k is already present and returns the stored value
func (r registry[K, V]) Put(k K, v V) V {
	if existing, ok := r.m[k]; ok {
		return existing
	}
	r.m[k] = v
	return v
}

func (r registry[K, V]) Len() int {
	return len(r.m)
}

// commitIndex holds commits per repository and matches shas by prefix
type commitIndex struct {
	byRepo map[RepositoryKey][]*models.Commit
}

func newCommitIndex() commitIndex {
	return commitIndex{byRepo: make(map[RepositoryKey][]*models.Commit)}
}

// Get scans the repository's commits for one whose sha is prefix-equivalent
func (ci commitIndex) Get(repoUser, repoName, sha string) (*models.Commit, bool) {
	for _, c := range ci.byRepo[RepositoryKey{User: repoUser, Name: repoName}] {
		if SameCommit(c.SHA, sha) {
			return c, true
		}
	}
	return nil, false
}

// Put stores c unless an equivalent commit exists and returns the stored commit
func (ci commitIndex) Put(c *models.Commit) *models.Commit {
	if existing, ok := ci.Get(c.RepoUser, c.RepoName, c.SHA); ok {
		return existing
	}
	key := RepositoryKey{User: c.RepoUser, Name: c.RepoName}
	ci.byRepo[key] = append(ci.byRepo[key], c)
	return c
}

func (ci commitIndex) Len() int {
	n := 0
	for _, commits := range ci.byRepo {
		n += len(commits)
	}
	return n
}
