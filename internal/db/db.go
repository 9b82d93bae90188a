package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/wesm/github-issue-graph/internal/graph"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB represents the database connection. It stores the graph as a generic
// property graph: nodes, their kinds, their properties and the relations
// between them.
type DB struct {
	*sql.DB
	driver string
}

var _ graph.Store = (*DB)(nil)

// New creates a new database connection
func New(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, driver: driver}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	seqColumn := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		seqColumn = "seq BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			id TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS node_kinds (
			node_id TEXT NOT NULL REFERENCES nodes(id),
			kind TEXT NOT NULL,
			PRIMARY KEY (node_id, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS properties (
			node_id TEXT NOT NULL REFERENCES nodes(id),
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (node_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			` + seqColumn + `,
			from_id TEXT NOT NULL REFERENCES nodes(id),
			relation TEXT NOT NULL,
			to_id TEXT NOT NULL REFERENCES nodes(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_kinds_kind ON node_kinds(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_id, relation)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

// CreateNode inserts a node with its kinds in one transaction
func (db *DB) CreateNode(ctx context.Context, kinds ...graph.Kind) (uuid.UUID, error) {
	if err := graph.CheckKinds(kinds); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, db.rebind(`INSERT INTO nodes (id) VALUES (?)`), id.String()); err != nil {
		return uuid.Nil, fmt.Errorf("failed to save node: %w", err)
	}
	for _, kind := range kinds {
		_, err := tx.ExecContext(ctx,
			db.rebind(`INSERT INTO node_kinds (node_id, kind) VALUES (?, ?) ON CONFLICT(node_id, kind) DO NOTHING`),
			id.String(), string(kind),
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to save node kind %s: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit node: %w", err)
	}
	return id, nil
}

// SetProperty saves a property as JSON, replacing an earlier value
func (db *DB) SetProperty(ctx context.Context, node uuid.UUID, name string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode property %s: %w", name, err)
	}

	query := `
	INSERT INTO properties (node_id, name, value)
	VALUES (?, ?, ?)
	ON CONFLICT(node_id, name) DO UPDATE SET
		value = excluded.value
	`

	if _, err := db.ExecContext(ctx, db.rebind(query), node.String(), name, string(encoded)); err != nil {
		return fmt.Errorf("failed to save property %s: %w", name, err)
	}
	return nil
}

// AddRelation saves a directed relation; insertion order is kept
func (db *DB) AddRelation(ctx context.Context, from uuid.UUID, rel graph.Relation, to uuid.UUID) error {
	if !graph.ValidRelation(rel) {
		return fmt.Errorf("unknown relation %q", rel)
	}

	query := `INSERT INTO relations (from_id, relation, to_id) VALUES (?, ?, ?)`
	if _, err := db.ExecContext(ctx, db.rebind(query), from.String(), string(rel), to.String()); err != nil {
		return fmt.Errorf("failed to save %s relation: %w", rel, err)
	}
	return nil
}

// GetKinds gets the kinds of a node, sorted by name
func (db *DB) GetKinds(ctx context.Context, node uuid.UUID) ([]graph.Kind, error) {
	rows, err := db.QueryContext(ctx,
		db.rebind(`SELECT kind FROM node_kinds WHERE node_id = ? ORDER BY kind`), node.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get node kinds: %w", err)
	}
	defer rows.Close()

	var kinds []graph.Kind
	for rows.Next() {
		var kind string
		if err := rows.Scan(&kind); err != nil {
			return nil, fmt.Errorf("failed to scan node kind: %w", err)
		}
		kinds = append(kinds, graph.Kind(kind))
	}
	return kinds, rows.Err()
}

// GetProperty decodes a property into v. It returns false when the node has
// no such property.
func (db *DB) GetProperty(ctx context.Context, node uuid.UUID, name string, v any) (bool, error) {
	var raw string
	err := db.QueryRowContext(ctx,
		db.rebind(`SELECT value FROM properties WHERE node_id = ? AND name = ?`),
		node.String(), name,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get property %s: %w", name, err)
	}

	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("failed to decode property %s: %w", name, err)
	}
	return true, nil
}

// GetOutgoing gets the targets of rel relations leaving from, in insertion order
func (db *DB) GetOutgoing(ctx context.Context, from uuid.UUID, rel graph.Relation) ([]uuid.UUID, error) {
	rows, err := db.QueryContext(ctx,
		db.rebind(`SELECT to_id FROM relations WHERE from_id = ? AND relation = ? ORDER BY seq`),
		from.String(), string(rel),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get relations: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse node id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountNodes counts the nodes carrying kind
func (db *DB) CountNodes(ctx context.Context, kind graph.Kind) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		db.rebind(`SELECT COUNT(*) FROM node_kinds WHERE kind = ?`), string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// rebind rewrites ? placeholders for drivers that number them
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
