package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Nodes and properties", func(t *testing.T) {
		s := NewMemoryStore()

		id, err := s.CreateNode(ctx, KindIssue, KindPullRequest)
		require.NoError(t, err)
		require.NoError(t, s.SetProperty(ctx, id, "issueId", "u/r#7"))

		node, ok := s.Node(id)
		require.True(t, ok)
		assert.Equal(t, []Kind{KindIssue, KindPullRequest}, node.Kinds)
		assert.Equal(t, "u/r#7", node.Properties["issueId"])

		node.Properties["issueId"] = "changed"
		again, _ := s.Node(id)
		assert.Equal(t, "u/r#7", again.Properties["issueId"], "Expected Node to return a copy")

		assert.Equal(t, []uuid.UUID{id}, s.NodesOfKind(KindPullRequest))
		assert.Empty(t, s.NodesOfKind(KindComment))
	})

	t.Run("Invalid input", func(t *testing.T) {
		s := NewMemoryStore()

		_, err := s.CreateNode(ctx)
		assert.Error(t, err)
		_, err = s.CreateNode(ctx, Kind("Robot"))
		assert.Error(t, err)

		assert.Error(t, s.SetProperty(ctx, uuid.New(), "x", 1))

		a, err := s.CreateNode(ctx, KindUser)
		require.NoError(t, err)
		assert.Error(t, s.AddRelation(ctx, a, RelReferences, uuid.New()))
		assert.Error(t, s.AddRelation(ctx, a, Relation("LIKES"), a))
	})

	t.Run("Relations keep insertion order", func(t *testing.T) {
		s := NewMemoryStore()

		from, err := s.CreateNode(ctx, KindComment)
		require.NoError(t, err)
		var targets []uuid.UUID
		for i := 0; i < 3; i++ {
			to, err := s.CreateNode(ctx, KindUser)
			require.NoError(t, err)
			require.NoError(t, s.AddRelation(ctx, from, RelReferences, to))
			targets = append(targets, to)
		}

		assert.Equal(t, targets, s.Outgoing(from, RelReferences))
		assert.Empty(t, s.Outgoing(from, RelCreatedBy))
		assert.Equal(t, 3, s.EdgeCount(RelReferences))
	})

	t.Run("Dump", func(t *testing.T) {
		s := NewMemoryStore()

		a, err := s.CreateNode(ctx, KindRepository)
		require.NoError(t, err)
		require.NoError(t, s.SetProperty(ctx, a, "repositoryId", "u/r"))
		b, err := s.CreateNode(ctx, KindIssue)
		require.NoError(t, err)
		require.NoError(t, s.AddRelation(ctx, a, RelHasIssue, b))

		var buf bytes.Buffer
		require.NoError(t, s.Dump(&buf))

		var out struct {
			Nodes []Node `json:"nodes"`
			Edges []Edge `json:"edges"`
		}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		require.Len(t, out.Nodes, 2)
		assert.Equal(t, a, out.Nodes[0].ID)
		assert.Equal(t, "u/r", out.Nodes[0].Properties["repositoryId"])
		assert.Equal(t, []Edge{{From: a, Relation: RelHasIssue, To: b}}, out.Edges)
	})
}

func TestCheckKinds(t *testing.T) {
	assert.NoError(t, CheckKinds([]Kind{KindScan}))
	assert.Error(t, CheckKinds(nil))
	assert.Error(t, CheckKinds([]Kind{KindUser, "Bot"}))
	assert.True(t, ValidRelation(RelSpecifiesRepository))
	assert.False(t, ValidRelation("POINTS_AT"))
}
