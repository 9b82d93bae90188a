// Package graph defines the port through which the ingester writes nodes and
// relations, plus an in-memory implementation of it.
package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Kind is a node label
type Kind string

const (
	KindScan        Kind = "GitHubIssues"
	KindRepository  Kind = "Repository"
	KindMilestone   Kind = "Milestone"
	KindIssue       Kind = "Issue"
	KindPullRequest Kind = "PullRequest"
	KindComment     Kind = "Comment"
	KindCommit      Kind = "Commit"
	KindUser        Kind = "User"
	KindLabel       Kind = "Label"
)

// Relation is a directed edge type
type Relation string

const (
	RelSpecifiesRepository Relation = "SPECIFIES_REPOSITORY"
	RelHasMilestone        Relation = "HAS_MILESTONE"
	RelHasIssue            Relation = "HAS_ISSUE"
	RelCreatedBy           Relation = "CREATED_BY"
	RelIsPartOf            Relation = "IS_PART_OF"
	RelHasLabel            Relation = "HAS_LABEL"
	RelHasAssignee         Relation = "HAS_ASSIGNEE"
	RelHasComment          Relation = "HAS_COMMENT"
	RelFollowedBy          Relation = "FOLLOWED_BY"
	RelHasLastCommit       Relation = "HAS_LAST_COMMIT"
	RelReferences          Relation = "REFERENCES"
)

var knownKinds = map[Kind]bool{
	KindScan: true, KindRepository: true, KindMilestone: true, KindIssue: true,
	KindPullRequest: true, KindComment: true, KindCommit: true, KindUser: true, KindLabel: true,
}

var knownRelations = map[Relation]bool{
	RelSpecifiesRepository: true, RelHasMilestone: true, RelHasIssue: true, RelCreatedBy: true,
	RelIsPartOf: true, RelHasLabel: true, RelHasAssignee: true, RelHasComment: true,
	RelFollowedBy: true, RelHasLastCommit: true, RelReferences: true,
}

// ValidKind reports whether k is one of the kinds the ingester produces.
// Adapters that interpolate kinds into query text must check it.
func ValidKind(k Kind) bool {
	return knownKinds[k]
}

// ValidRelation reports whether r is one of the relations the ingester produces
func ValidRelation(r Relation) bool {
	return knownRelations[r]
}

// CheckKinds returns an error for an empty or unknown kind list
func CheckKinds(kinds []Kind) error {
	if len(kinds) == 0 {
		return fmt.Errorf("node needs at least one kind")
	}
	for _, k := range kinds {
		if !ValidKind(k) {
			return fmt.Errorf("unknown node kind %q", k)
		}
	}
	return nil
}

// Store is the outbound port to the persistent graph
type Store interface {
	// CreateNode creates a node carrying all given kinds and returns its handle
	CreateNode(ctx context.Context, kinds ...Kind) (uuid.UUID, error)
	// SetProperty sets a single property on a node
	SetProperty(ctx context.Context, node uuid.UUID, name string, value any) error
	// AddRelation adds a directed edge. Edges from one node keep insertion order.
	AddRelation(ctx context.Context, from uuid.UUID, rel Relation, to uuid.UUID) error
}
