package neo4jstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/github-issue-graph/internal/graph"
)

func TestCreateNodeQuery(t *testing.T) {
	t.Run("Single kind", func(t *testing.T) {
		query, err := createNodeQuery([]graph.Kind{graph.KindUser})
		require.NoError(t, err)
		assert.Equal(t, "CREATE (n:GitHubNode:User {uid: $uid})", query)
	})

	t.Run("Pull request carries both labels", func(t *testing.T) {
		query, err := createNodeQuery([]graph.Kind{graph.KindIssue, graph.KindPullRequest})
		require.NoError(t, err)
		assert.Equal(t, "CREATE (n:GitHubNode:Issue:PullRequest {uid: $uid})", query)
	})

	t.Run("Unknown kind cannot reach the query", func(t *testing.T) {
		_, err := createNodeQuery([]graph.Kind{"User {uid: 1}) DETACH DELETE (n"})
		assert.Error(t, err)
	})

	t.Run("No kind", func(t *testing.T) {
		_, err := createNodeQuery(nil)
		assert.Error(t, err)
	})
}

func TestAddRelationQuery(t *testing.T) {
	query, err := addRelationQuery(graph.RelFollowedBy)
	require.NoError(t, err)
	assert.Equal(t, "MATCH (a:GitHubNode {uid: $from}), (b:GitHubNode {uid: $to}) CREATE (a)-[:FOLLOWED_BY]->(b)", query)

	_, err = addRelationQuery(graph.Relation("X]->(b) DELETE (a"))
	assert.Error(t, err)
}

func TestLookupsUseIndexedLabel(t *testing.T) {
	assert.Equal(t, "MATCH (n:GitHubNode {uid: $uid}) SET n += $props", setPropertyQuery)

	query, err := addRelationQuery(graph.RelReferences)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(query, ":GitHubNode {uid:"))

	query, err = createNodeQuery([]graph.Kind{graph.KindComment})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, "CREATE (n:GitHubNode:"))
}
