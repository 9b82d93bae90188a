// Package neo4jstore writes the issue graph into Neo4j. Each entity becomes
// one node labelled GitHubNode plus its kinds and identified by a "uid"
// property.
package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/wesm/github-issue-graph/internal/graph"
)

// nodeLabel is carried by every node so that lookups by uid hit one index
const nodeLabel = "GitHubNode"

// setPropertyQuery merges properties into the node with the given uid
const setPropertyQuery = "MATCH (n:" + nodeLabel + " {uid: $uid}) SET n += $props"

// Config holds the Neo4j connection settings
type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

// Store is a graph.Store backed by Neo4j
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

var _ graph.Store = (*Store)(nil)

// New connects to Neo4j and verifies the connection
func New(ctx context.Context, cfg Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	return &Store{driver: driver, database: cfg.Database}, nil
}

// Initialize creates the uid index shared by all nodes
func (s *Store) Initialize(ctx context.Context) error {
	query := fmt.Sprintf("CREATE INDEX github_node_uid IF NOT EXISTS FOR (n:%s) ON (n.uid)", nodeLabel)
	if _, err := s.run(ctx, query, nil); err != nil {
		return fmt.Errorf("failed to create uid index: %w", err)
	}
	return nil
}

// Close closes the driver
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func (s *Store) CreateNode(ctx context.Context, kinds ...graph.Kind) (uuid.UUID, error) {
	query, err := createNodeQuery(kinds)
	if err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	if _, err := s.run(ctx, query, map[string]interface{}{"uid": id.String()}); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create node: %w", err)
	}
	return id, nil
}

func (s *Store) SetProperty(ctx context.Context, node uuid.UUID, name string, value any) error {
	summary, err := s.run(ctx, setPropertyQuery, map[string]interface{}{
		"uid":   node.String(),
		"props": map[string]interface{}{name: value},
	})
	if err != nil {
		return fmt.Errorf("failed to set property %s: %w", name, err)
	}
	if summary.Counters().PropertiesSet() == 0 && value != nil {
		return fmt.Errorf("node %s not found", node)
	}
	return nil
}

func (s *Store) AddRelation(ctx context.Context, from uuid.UUID, rel graph.Relation, to uuid.UUID) error {
	query, err := addRelationQuery(rel)
	if err != nil {
		return err
	}

	summary, err := s.run(ctx, query, map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s relation: %w", rel, err)
	}
	if summary.Counters().RelationshipsCreated() == 0 {
		return fmt.Errorf("failed to add %s relation: node %s or %s not found", rel, from, to)
	}
	return nil
}

// run executes one write statement in its own session and returns the
// consumed summary
func (s *Store) run(ctx context.Context, query string, params map[string]interface{}) (neo4j.ResultSummary, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Consume(ctx)
}

// createNodeQuery builds the CREATE statement for a node with the given
// labels. Labels cannot be parameters, so only known kinds are accepted.
func createNodeQuery(kinds []graph.Kind) (string, error) {
	if err := graph.CheckKinds(kinds); err != nil {
		return "", err
	}

	var labels strings.Builder
	labels.WriteString(":" + nodeLabel)
	for _, kind := range kinds {
		labels.WriteString(":")
		labels.WriteString(string(kind))
	}
	return fmt.Sprintf("CREATE (n%s {uid: $uid})", labels.String()), nil
}

// addRelationQuery builds the statement linking two nodes by uid
func addRelationQuery(rel graph.Relation) (string, error) {
	if !graph.ValidRelation(rel) {
		return "", fmt.Errorf("unknown relation %q", rel)
	}
	return fmt.Sprintf("MATCH (a:%[1]s {uid: $from}), (b:%[1]s {uid: $to}) CREATE (a)-[:%[2]s]->(b)", nodeLabel, rel), nil
}
