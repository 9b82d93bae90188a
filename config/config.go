package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. GHGRAPH_API_URL
	EnvPrefix = "GHGRAPH"
	// EnvGithubToken is the environment variable name for the GitHub API token
	// used by repositories configured without credentials
	EnvGithubToken = "GHGRAPH_GITHUB_TOKEN"

	// DefaultAPIURL is the public GitHub REST endpoint
	DefaultAPIURL = "https://api.github.com/"
	// DefaultFileName is the name of the legacy XML configuration file
	DefaultFileName = "githubissues.xml"
	// DefaultDatabasePath is the sqlite database used when no DSN is set
	DefaultDatabasePath = "github_issues.db"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverNeo4j    = "neo4j"
)

var (
	// ErrNoRepositories is returned when a configuration lists no repository
	ErrNoRepositories = errors.New("no repositories configured")
	// ErrInvalidRepository is returned for a repository entry without user or name
	ErrInvalidRepository = errors.New("invalid repository")
)

// Credentials authenticate requests for one repository. Token takes
// precedence over user and password.
type Credentials struct {
	User     string `json:"user,omitempty" mapstructure:"user"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	Token    string `json:"token,omitempty" mapstructure:"token"`
}

// Empty reports whether no credential is set
func (c Credentials) Empty() bool {
	return c.User == "" && c.Password == "" && c.Token == ""
}

// Repository is one repository to scan
type Repository struct {
	User        string      `json:"user" mapstructure:"user"`
	Name        string      `json:"name" mapstructure:"name"`
	Credentials Credentials `json:"credentials" mapstructure:"credentials"`
}

// FullName returns "user/name"
func (r Repository) FullName() string {
	return r.User + "/" + r.Name
}

// Neo4jConfig holds the Neo4j connection settings
type Neo4jConfig struct {
	URI      string `json:"uri" mapstructure:"uri"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// StoreConfig selects the graph store
type StoreConfig struct {
	// Driver is one of memory, sqlite3, postgres or neo4j
	Driver string      `json:"driver" mapstructure:"driver"`
	DSN    string      `json:"dsn" mapstructure:"dsn"`
	Neo4j  Neo4jConfig `json:"neo4j" mapstructure:"neo4j"`
}

// Config represents the application configuration
type Config struct {
	// Base URL of the GitHub REST API
	APIURL string `json:"api_url" mapstructure:"api_url"`

	// Repositories to scan, in order
	Repositories []Repository `json:"repositories" mapstructure:"repositories"`

	Store StoreConfig `json:"store" mapstructure:"store"`

	// One of debug, info, warn, error
	LogLevel string `json:"log_level" mapstructure:"log_level"`

	// Pauses before each further page and before each markdown conversion,
	// as Go durations ("1s", "250ms")
	PageDelay     string `json:"page_delay" mapstructure:"page_delay"`
	MarkdownDelay string `json:"markdown_delay" mapstructure:"markdown_delay"`

	// Only files whose name ends with this suffix are scanned
	AcceptSuffix string `json:"accept_suffix" mapstructure:"accept_suffix"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		APIURL: DefaultAPIURL,
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    DefaultDatabasePath,
			Neo4j: Neo4jConfig{
				URI:      "neo4j://localhost:7687",
				Username: "neo4j",
				Database: "neo4j",
			},
		},
		LogLevel:      "info",
		PageDelay:     "1s",
		MarkdownDelay: "1s",
		AcceptSuffix:  DefaultFileName,
	}
}

// newViper returns a viper instance seeded with defaults and environment overrides
func newViper() *viper.Viper {
	v := viper.New()

	d := Default()
	v.SetDefault("api_url", d.APIURL)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.neo4j.uri", d.Store.Neo4j.URI)
	v.SetDefault("store.neo4j.username", d.Store.Neo4j.Username)
	v.SetDefault("store.neo4j.password", d.Store.Neo4j.Password)
	v.SetDefault("store.neo4j.database", d.Store.Neo4j.Database)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("page_delay", d.PageDelay)
	v.SetDefault("markdown_delay", d.MarkdownDelay)
	v.SetDefault("accept_suffix", d.AcceptSuffix)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads the configuration from a JSON, YAML or TOML file.
// Environment variables prefixed GHGRAPH_ override file values.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.finish(path)
	return &config, nil
}

// finish applies the environment token and resolves relative paths
func (c *Config) finish(path string) {
	// Check for GitHub token in environment variable
	if envToken := os.Getenv(EnvGithubToken); envToken != "" {
		for i := range c.Repositories {
			if c.Repositories[i].Credentials.Empty() {
				c.Repositories[i].Credentials.Token = envToken
			}
		}
	}

	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}

	// Make database path absolute if it's relative
	if c.Store.Driver == DriverSQLite && c.Store.DSN != "" && c.Store.DSN != ":memory:" &&
		!strings.HasPrefix(c.Store.DSN, "file:") && !filepath.IsAbs(c.Store.DSN) {
		configDir := filepath.Dir(path)
		c.Store.DSN = filepath.Join(configDir, c.Store.DSN)
	}
}

// Validate checks the configuration before a scan
func (c *Config) Validate() error {
	if len(c.Repositories) == 0 {
		return ErrNoRepositories
	}
	for i, repo := range c.Repositories {
		if repo.User == "" || repo.Name == "" {
			return fmt.Errorf("%w: entry %d needs user and name", ErrInvalidRepository, i+1)
		}
	}

	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverNeo4j:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}

	if _, err := c.PageDelayDuration(); err != nil {
		return err
	}
	if _, err := c.MarkdownDelayDuration(); err != nil {
		return err
	}
	return nil
}

// PageDelayDuration returns the pause between pages
func (c *Config) PageDelayDuration() (time.Duration, error) {
	return parseDelay("page_delay", c.PageDelay)
}

// MarkdownDelayDuration returns the pause before each markdown conversion
func (c *Config) MarkdownDelayDuration() (time.Duration, error) {
	return parseDelay("markdown_delay", c.MarkdownDelay)
}

func parseDelay(name, value string) (time.Duration, error) {
	if value == "" {
		return time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", name, value)
	}
	return d, nil
}

// Accepts reports whether path names a file this tool scans
func (c *Config) Accepts(path string) bool {
	suffix := c.AcceptSuffix
	if suffix == "" {
		suffix = DefaultFileName
	}
	return strings.HasSuffix(strings.ToLower(filepath.ToSlash(path)), strings.ToLower(suffix))
}

// AddRepository appends owner/name unless already present and reports
// whether it was added
func (c *Config) AddRepository(owner, name string) bool {
	for _, repo := range c.Repositories {
		if repo.User == owner && repo.Name == name {
			return false
		}
	}
	c.Repositories = append(c.Repositories, Repository{User: owner, Name: name})
	return true
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := Default()
	config.Repositories = []Repository{{User: "example", Name: "repo"}}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
