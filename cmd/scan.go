package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wesm/github-issue-graph/config"
	"github.com/wesm/github-issue-graph/internal/api"
	"github.com/wesm/github-issue-graph/internal/db"
	"github.com/wesm/github-issue-graph/internal/graph"
	"github.com/wesm/github-issue-graph/internal/graph/neo4jstore"
	"github.com/wesm/github-issue-graph/internal/logging"
	"github.com/wesm/github-issue-graph/internal/sync"
)

var (
	scanRepo string
	dumpPath string
)

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Scan the configured repositories into the graph store",
	Long: `Scan reads the repositories from file, or from --config when no file is
given, and writes their issue graph to the configured store. Files ending in
.xml use the legacy githubissues.xml format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if len(args) == 1 && !cfg.Accepts(path) {
			return fmt.Errorf("%s is not a scannable file, expected a name ending in %q", path, cfg.AcceptSuffix)
		}

		if !verbose {
			slog.SetDefault(logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel)))
		}

		if scanRepo != "" {
			owner, name, err := sync.ParseRepositoryString(scanRepo)
			if err != nil {
				return err
			}
			cfg.Repositories = selectRepository(cfg.Repositories, owner, name)
		}

		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runScan(ctx, cfg)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanRepo, "repo", "", "Scan only this repository (format: owner/name)")
	scanCmd.Flags().StringVar(&dumpPath, "dump", "", "Write the graph as JSON to this file (memory store only)")
}

// selectRepository keeps the configured entry for owner/name, or a new entry
// without credentials when it is not configured
func selectRepository(repos []config.Repository, owner, name string) []config.Repository {
	for _, repo := range repos {
		if repo.User == owner && repo.Name == name {
			return []config.Repository{repo}
		}
	}
	return []config.Repository{{User: owner, Name: name}}
}

func runScan(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	pageDelay, err := cfg.PageDelayDuration()
	if err != nil {
		return err
	}
	markdownDelay, err := cfg.MarkdownDelayDuration()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	newClient := func(repo sync.RepositorySpec) (sync.Client, error) {
		client, err := api.NewGitHubClient(api.Options{
			BaseURL:     cfg.APIURL,
			Credentials: repo.Credentials,
			PageDelay:   pageDelay,
			Logger:      logger.With("repository", repo.FullName()),
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Created GitHub client", "repository", repo.FullName(), "api", client.BaseURL())
		return client, nil
	}

	syncer := sync.New(store, newClient, logger)
	syncer.SetMarkdownDelay(markdownDelay)

	specs := make([]sync.RepositorySpec, 0, len(cfg.Repositories))
	for _, repo := range cfg.Repositories {
		specs = append(specs, sync.RepositorySpec{
			User: repo.User,
			Name: repo.Name,
			Credentials: api.Credentials{
				User:     repo.Credentials.User,
				Password: repo.Credentials.Password,
				Token:    repo.Credentials.Token,
			},
		})
	}

	logger.Info("Scanning repositories", "count", len(specs), "api", cfg.APIURL, "store", cfg.Store.Driver)
	scan, err := syncer.Run(ctx, specs)
	if err != nil {
		return err
	}
	if len(scan.Repositories) < len(specs) {
		logger.Warn("Some repositories could not be scanned", "scanned", len(scan.Repositories), "configured", len(specs))
	}

	if mem, ok := store.(*graph.MemoryStore); ok && dumpPath != "" {
		return dumpGraph(mem, dumpPath)
	}
	return nil
}

// openStore connects the configured graph store
func openStore(ctx context.Context, cfg *config.Config) (graph.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return graph.NewMemoryStore(), func() {}, nil

	case config.DriverSQLite, config.DriverPostgres:
		database, err := db.New(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := database.Initialize(); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return database, func() { database.Close() }, nil

	case config.DriverNeo4j:
		store, err := neo4jstore.New(ctx, neo4jstore.Config{
			URI:      cfg.Store.Neo4j.URI,
			Username: cfg.Store.Neo4j.Username,
			Password: cfg.Store.Neo4j.Password,
			Database: cfg.Store.Neo4j.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.Initialize(ctx); err != nil {
			store.Close(context.Background())
			return nil, nil, err
		}
		return store, func() { store.Close(context.Background()) }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func dumpGraph(store *graph.MemoryStore, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer f.Close()

	if err := store.Dump(f); err != nil {
		return err
	}
	slog.Info("Wrote graph dump", "path", path)
	return nil
}
