package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wesm/github-issue-graph/config"
	"github.com/wesm/github-issue-graph/internal/graph"
)

func TestSelectRepository(t *testing.T) {
	repos := []config.Repository{
		{User: "u", Name: "one"},
		{User: "u", Name: "two", Credentials: config.Credentials{Token: "tkn"}},
	}

	got := selectRepository(repos, "u", "two")
	require.Len(t, got, 1)
	assert.Equal(t, "tkn", got[0].Credentials.Token)

	got = selectRepository(repos, "other", "repo")
	assert.Equal(t, []config.Repository{{User: "other", Name: "repo"}}, got)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = config.DriverMemory

		store, closeStore, err := openStore(ctx, cfg)
		require.NoError(t, err)
		defer closeStore()
		assert.IsType(t, &graph.MemoryStore{}, store)
	})

	t.Run("SQLite", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.DSN = filepath.Join(t.TempDir(), "graph.db")

		store, closeStore, err := openStore(ctx, cfg)
		require.NoError(t, err)
		defer closeStore()
		assert.NotNil(t, store)
	})

	t.Run("Unknown driver", func(t *testing.T) {
		cfg := config.Default()
		cfg.Store.Driver = "mysql"

		_, _, err := openStore(ctx, cfg)
		assert.Error(t, err)
	})
}

func TestRunScanDump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/u/r/milestones":
			fmt.Fprint(w, `[]`)
		case "/repos/u/r/issues":
			fmt.Fprint(w, `[{"number":1,"title":"Crash","user":{"login":"alice"}}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.APIURL = srv.URL
	cfg.Store.Driver = config.DriverMemory
	cfg.PageDelay = "0s"
	cfg.MarkdownDelay = "0s"
	cfg.Repositories = []config.Repository{{User: "u", Name: "r"}}

	dumpPath = filepath.Join(t.TempDir(), "graph.json")
	defer func() { dumpPath = "" }()

	require.NoError(t, runScan(context.Background(), cfg))

	data, err := os.ReadFile(dumpPath)
	require.NoError(t, err)

	var dump struct {
		Nodes []graph.Node `json:"nodes"`
		Edges []graph.Edge `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(data, &dump))

	// scan, repository, issue, alice
	assert.Len(t, dump.Nodes, 4)
	relations := make(map[graph.Relation]int)
	for _, e := range dump.Edges {
		relations[e.Relation]++
	}
	assert.Equal(t, map[graph.Relation]int{
		graph.RelHasIssue:            1,
		graph.RelCreatedBy:           1,
		graph.RelSpecifiesRepository: 1,
	}, relations)
}
