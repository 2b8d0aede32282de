package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Server holds HTTP server configuration
type Server struct {
	Host             string    `yaml:"host"`
	Port             int       `yaml:"port"`
	CORSAllowOrigins []string  `yaml:"cors_allow_origins"`
	APIKey           string    `yaml:"api_key"`
	APIKeyEnv        string    `yaml:"api_key_env"`
	RateLimit        HTTPLimit `yaml:"rate_limit"`
}

// HTTPLimit is the per-client request limit on the HTTP surface.
// RequestsPerSecond <= 0 disables limiting.
type HTTPLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Neo4j holds graph database connection settings
type Neo4j struct {
	URI         string `yaml:"uri"`
	URIEnv      string `yaml:"uri_env"`
	Username    string `yaml:"username"`
	UsernameEnv string `yaml:"username_env"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	DatabaseEnv string `yaml:"database_env"`
}

// Hooks selects and configures the document source provider
type Hooks struct {
	Provider            string   `yaml:"provider"` // "static" or "postgres"
	Documents           []string `yaml:"documents"`
	ConnectionString    string   `yaml:"connection_string"`
	ConnectionStringEnv string   `yaml:"connection_string_env"`
	TableName           string   `yaml:"table_name"`
}

// Retention controls pruning of old graph versions
type Retention struct {
	MaxVersions   int  `yaml:"max_versions"`
	EnableCleanup bool `yaml:"enable_cleanup"`
}

// Query holds subgraph query defaults and bounds
type Query struct {
	DefaultLimitNodes int `yaml:"default_limit_nodes"`
	DefaultLimitEdges int `yaml:"default_limit_edges"`
	DefaultDepth      int `yaml:"default_depth"`
	MaxDepth          int `yaml:"max_depth"`
	MaxSeedNodes      int `yaml:"max_seed_nodes"`
}

// Task holds advisory task settings
type Task struct {
	TimeoutSeconds int `yaml:"timeout_s"`
}

// RateLimit is a dual requests/tokens per-minute budget; zero disables a bucket
type RateLimit struct {
	RPM int `yaml:"rpm"`
	TPM int `yaml:"tpm"`
}

// Concurrency caps in-flight provider calls; zero disables the cap
type Concurrency struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// Retry configures bounded exponential backoff
type Retry struct {
	MaxRetries        int     `yaml:"max_retries"`
	InitialBackoffSec float64 `yaml:"initial_backoff_s"`
	MaxBackoffSec     float64 `yaml:"max_backoff_s"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// LLM configures the chat-completion provider
type LLM struct {
	APIKey               string      `yaml:"api_key"`
	APIKeyEnv            string      `yaml:"api_key_env"`
	APIBaseURL           string      `yaml:"api_base_url"`
	APIBaseURLEnv        string      `yaml:"api_base_url_env"`
	Model                string      `yaml:"model"`
	ModelEnv             string      `yaml:"model_env"`
	MaxTokens            int         `yaml:"max_tokens"`
	Temperature          float32     `yaml:"temperature"`
	RateLimit            RateLimit   `yaml:"rate_limit"`
	Concurrency          Concurrency `yaml:"concurrency"`
	Retry                Retry       `yaml:"retry"`
	SleepBetweenBatchSec float64     `yaml:"sleep_between_batches_s"`
	MaxElementsPerBatch  int         `yaml:"max_elements_per_batch"`
	MaxTokensPerBatch    int         `yaml:"max_tokens_per_batch"`
	MaxPendingRequests   int         `yaml:"max_pending_requests"`
}

// Embeddings configures the embedding provider
type Embeddings struct {
	APIKey        string      `yaml:"api_key"`
	APIKeyEnv     string      `yaml:"api_key_env"`
	APIBaseURL    string      `yaml:"api_base_url"`
	APIBaseURLEnv string      `yaml:"api_base_url_env"`
	Model         string      `yaml:"model"`
	ModelEnv      string      `yaml:"model_env"`
	RateLimit     RateLimit   `yaml:"rate_limit"`
	Concurrency   Concurrency `yaml:"concurrency"`
	Retry         Retry       `yaml:"retry"`
}

// Atom holds graph construction parameters
type Atom struct {
	EntThreshold      float64  `yaml:"ent_threshold"`
	RelThreshold      float64  `yaml:"rel_threshold"`
	EntityNameWeight  float64  `yaml:"entity_name_weight"`
	EntityLabelWeight float64  `yaml:"entity_label_weight"`
	MaxWorkers        int      `yaml:"max_workers"`
	Matching          Matching `yaml:"matching"`
}

// Matching controls merge behavior during graph construction.
// Unset booleans are derived from the output name modes.
type Matching struct {
	RequireSameEntityLabel        *bool `yaml:"require_same_entity_label"`
	RenameRelationshipByEmbedding *bool `yaml:"rename_relationship_by_embedding"`
}

// Output controls extraction output language and naming modes
type Output struct {
	Language             string `yaml:"language"`
	EntityNameMode       string `yaml:"entity_name_mode"`
	RelationNameMode     string `yaml:"relation_name_mode"`
	RelationFallbackName string `yaml:"relation_fallback_name"`
}

// Ontology restricts and canonicalizes entity labels
type Ontology struct {
	EntityLabel EntityLabel `yaml:"entity_label"`
}

// EntityLabel holds label allowlist/alias/unknown handling
type EntityLabel struct {
	Allowlist    []string          `yaml:"allowlist"`
	Aliases      map[string]string `yaml:"aliases"`
	UnknownLabel string            `yaml:"unknown_label"`
	DropUnknown  bool              `yaml:"drop_unknown"`
}

// Logging holds log output settings
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full application configuration
type Config struct {
	Server     Server     `yaml:"server"`
	Neo4j      Neo4j      `yaml:"neo4j"`
	Hooks      Hooks      `yaml:"hooks"`
	Retention  Retention  `yaml:"retention"`
	Query      Query      `yaml:"query"`
	Task       Task       `yaml:"task"`
	LLM        LLM        `yaml:"llm"`
	Embeddings Embeddings `yaml:"embeddings"`
	Atom       Atom       `yaml:"atom"`
	Output     Output     `yaml:"output"`
	Ontology   Ontology   `yaml:"ontology"`
	Logging    Logging    `yaml:"logging"`
}

// Load reads, parses, resolves, and validates a YAML config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML into a validated Config
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.resolveEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: Server{
			Host:             "0.0.0.0",
			Port:             8021,
			CORSAllowOrigins: []string{"*"},
		},
		Hooks: Hooks{Provider: "static"},
		Retention: Retention{
			MaxVersions:   10,
			EnableCleanup: true,
		},
		Query: Query{
			DefaultLimitNodes: 500,
			DefaultLimitEdges: 1000,
			DefaultDepth:      2,
			MaxDepth:          5,
			MaxSeedNodes:      30,
		},
		LLM: LLM{
			Retry: defaultRetry(),
		},
		Embeddings: Embeddings{
			Retry: defaultRetry(),
		},
		Atom: Atom{
			EntThreshold:      0.8,
			RelThreshold:      0.7,
			EntityNameWeight:  0.8,
			EntityLabelWeight: 0.2,
			MaxWorkers:        8,
		},
		Output: Output{
			Language:             "zh",
			EntityNameMode:       "source",
			RelationNameMode:     "source",
			RelationFallbackName: "related_to",
		},
		Ontology: Ontology{
			EntityLabel: EntityLabel{UnknownLabel: "unknown"},
		},
		Logging: Logging{Level: "info"},
	}
}

func defaultRetry() Retry {
	return Retry{
		MaxRetries:        0,
		InitialBackoffSec: 1.0,
		MaxBackoffSec:     30.0,
		BackoffMultiplier: 2.0,
	}
}

// resolveEnv fills each string field from its companion *_env variable when
// the field itself is empty.
func (c *Config) resolveEnv() {
	resolve(&c.Server.APIKey, c.Server.APIKeyEnv)
	resolve(&c.Neo4j.URI, c.Neo4j.URIEnv)
	resolve(&c.Neo4j.Username, c.Neo4j.UsernameEnv)
	resolve(&c.Neo4j.Password, c.Neo4j.PasswordEnv)
	resolve(&c.Neo4j.Database, c.Neo4j.DatabaseEnv)
	resolve(&c.Hooks.ConnectionString, c.Hooks.ConnectionStringEnv)
	resolve(&c.LLM.APIKey, c.LLM.APIKeyEnv)
	resolve(&c.LLM.APIBaseURL, c.LLM.APIBaseURLEnv)
	resolve(&c.LLM.Model, c.LLM.ModelEnv)
	resolve(&c.Embeddings.APIKey, c.Embeddings.APIKeyEnv)
	resolve(&c.Embeddings.APIBaseURL, c.Embeddings.APIBaseURLEnv)
	resolve(&c.Embeddings.Model, c.Embeddings.ModelEnv)
}

func resolve(field *string, envKey string) {
	if strings.TrimSpace(*field) != "" || envKey == "" {
		return
	}
	if v := os.Getenv(envKey); strings.TrimSpace(v) != "" {
		*field = v
	}
}

func (c *Config) validate() error {
	required := []struct {
		value string
		name  string
	}{
		{c.Server.APIKey, "server.api_key"},
		{c.Neo4j.URI, "neo4j.uri"},
		{c.Neo4j.Username, "neo4j.username"},
		{c.Neo4j.Password, "neo4j.password"},
		{c.LLM.APIKey, "llm.api_key"},
		{c.LLM.Model, "llm.model"},
		{c.Embeddings.APIKey, "embeddings.api_key"},
		{c.Embeddings.Model, "embeddings.model"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("missing required config field: %s (or %s_env)", r.name, r.name)
		}
	}
	if c.Hooks.Provider != "static" && c.Hooks.Provider != "postgres" {
		return fmt.Errorf("unknown hooks.provider: %q", c.Hooks.Provider)
	}
	return nil
}

// RequireSameEntityLabel resolves the matching flag, deriving the default
// from entity_name_mode == "source".
func (c *Config) RequireSameEntityLabel() bool {
	if c.Atom.Matching.RequireSameEntityLabel != nil {
		return *c.Atom.Matching.RequireSameEntityLabel
	}
	return c.Output.EntityNameMode == "source"
}

// RenameRelationshipByEmbedding resolves the matching flag, deriving the
// default from relation_name_mode != "source".
func (c *Config) RenameRelationshipByEmbedding() bool {
	if c.Atom.Matching.RenameRelationshipByEmbedding != nil {
		return *c.Atom.Matching.RenameRelationshipByEmbedding
	}
	return c.Output.RelationNameMode != "source"
}
