// Package config loads, validates, and persists osprey's configuration.
//
// Settings resolve in priority order: environment variables override the
// config file (~/.osprey/config.yaml), which overrides built-in defaults.
// A fresh install therefore works with no file at all.
//
// The configuration splits into:
//   - Model: Gemini model selection, temperature, max tokens, embeddings
//   - Storage: vector store backend, chromem path or PostgreSQL connection (see storage.go)
//   - Documents: indexable roots and chunking parameters
//   - Plugins: plugin directory, rate limits, sandbox execution limits (see plugins.go)
//   - Telemetry: OTLP trace export (see observability.go)
//
// Every validation failure wraps one of the package sentinel errors, so
// callers branch with errors.Is rather than string matching. Secrets
// (API keys, passwords) are masked by MarshalJSON and String; nothing in
// this package writes one to a log.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbeddingModel indicates the embedding model is invalid.
	ErrInvalidEmbeddingModel = errors.New("invalid embedding model")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidChunking indicates the document chunking parameters are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking parameters")

	// ErrInvalidDocumentRoot indicates a configured document root is unusable.
	ErrInvalidDocumentRoot = errors.New("invalid document root")

	// ErrUnknownVectorStore indicates the vector store backend is not supported.
	ErrUnknownVectorStore = errors.New("unknown vector store")

	// ErrInvalidChromemPath indicates the chromem persistence path is invalid.
	ErrInvalidChromemPath = errors.New("invalid chromem path")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidPluginDir indicates the plugin directory is invalid.
	ErrInvalidPluginDir = errors.New("invalid plugin directory")

	// ErrInvalidPluginLimit indicates a plugin execution limit is out of range.
	ErrInvalidPluginLimit = errors.New("invalid plugin limit")

	// ErrInvalidTelemetryEndpoint indicates the telemetry exporter endpoint is invalid.
	ErrInvalidTelemetryEndpoint = errors.New("invalid telemetry endpoint")

	// ErrUnknownConfigKey indicates a Set target that no known setting uses.
	ErrUnknownConfigKey = errors.New("unknown configuration key")
)

const (
	// DefaultModel is the default Gemini generation model.
	DefaultModel = "gemini-2.5-flash"

	// DefaultEmbeddingModel is the default Gemini embedding model.
	// gemini-embedding-001 outputs 3072 dimensions by default, but supports
	// truncation to 768 via OutputDimensionality (Matryoshka Representation Learning).
	// Our pgvector schema uses 768 dimensions; see vectorstore.Dimension.
	DefaultEmbeddingModel = "gemini-embedding-001"

	// DefaultTopK is the default number of passages retrieved per query.
	DefaultTopK = 5

	// MaxTopK is the largest retrieval size accepted from configuration.
	MaxTopK = 20
)

// Vector store backend identifiers used in Config.VectorStore.
const (
	VectorStoreChromem  = "chromem"
	VectorStorePgvector = "pgvector"
)

// Config is the fully resolved application configuration. Fields tagged
// sensitive are masked by MarshalJSON; a new secret field needs that
// mask, an entry in sensitiveKeys, and nothing else.
type Config struct {
	// Model configuration
	Model          string  `mapstructure:"model" json:"model"`                     // Generation model (e.g., "gemini-2.5-flash")
	EmbeddingModel string  `mapstructure:"embedding_model" json:"embedding_model"` // Embedding model (e.g., "gemini-embedding-001")
	Temperature    float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" json:"max_tokens"`
	APIKey         string  `mapstructure:"api_key" json:"api_key" sensitive:"true"` // SENSITIVE: masked in MarshalJSON

	// Retrieval configuration
	TopK int  `mapstructure:"top_k" json:"top_k"` // Passages retrieved per query
	HyDE bool `mapstructure:"hyde" json:"hyde"`   // Hypothetical document rewriting before retrieval

	// Storage configuration; connection-string assembly lives in storage.go
	VectorStore      string `mapstructure:"vector_store" json:"vector_store"` // "chromem" (default) or "pgvector"
	ChromemPath      string `mapstructure:"chromem_path" json:"chromem_path"`
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password" sensitive:"true"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Document configuration (see plugins.go for type definitions)
	Documents DocumentsConfig `mapstructure:"documents" json:"documents"`

	// Plugin configuration (see plugins.go for type definitions)
	Plugins PluginsConfig `mapstructure:"plugins" json:"plugins"`

	// Telemetry configuration (see observability.go for type definition)
	Telemetry TelemetryConfig `mapstructure:"telemetry" json:"telemetry"`
}

// Dir returns the osprey configuration directory (~/.osprey), creating it
// with 0750 permissions if it does not exist. All persistent state lives
// here: config.yaml, permissions.json, consent.json, plugins.json, audit.log.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}

	dir := filepath.Join(home, ".osprey")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Path returns the configuration file path (~/.osprey/config.yaml).
// The file may not exist yet; Load treats a missing file as pure defaults.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load resolves the effective configuration: defaults first, then the
// config file, then environment variables, each layer overriding the
// previous one.
//
// When the only problem is a missing API key, Load returns the loaded
// configuration together with an error wrapping ErrMissingAPIKey.
// Callers must treat that error as fatal before any generation or
// embedding call; everything else may proceed.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // fallback for running outside an installed home

	setDefaults(configDir)
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// No config file yet is the normal first-run state.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL outranks every individual postgres_* setting.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Expand ~ in filesystem paths before validation sees them
	if err := cfg.expandPaths(); err != nil {
		return nil, fmt.Errorf("expanding paths: %w", err)
	}

	// CRITICAL: Validate immediately (fail-fast). A missing API key is
	// the one tolerated failure: the configuration is returned alongside
	// the error so commands that never call the model can still run.
	// Validate checks the key last, so ErrMissingAPIKey implies every
	// other check passed.
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validating configuration: %w", err)
		if errors.Is(err, ErrMissingAPIKey) {
			return &cfg, err
		}
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every default value with viper. configDir
// anchors the defaults that are paths under ~/.osprey.
func setDefaults(configDir string) {
	// Model defaults
	viper.SetDefault("model", DefaultModel)
	viper.SetDefault("embedding_model", DefaultEmbeddingModel)
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Retrieval defaults
	viper.SetDefault("top_k", DefaultTopK)
	viper.SetDefault("hyde", true)

	// Storage defaults: chromem needs no external services, so a fresh
	// install can index and query without standing up PostgreSQL.
	viper.SetDefault("vector_store", VectorStoreChromem)
	viper.SetDefault("chromem_path", filepath.Join(configDir, "chromem"))

	// PostgreSQL defaults line up with the bundled docker-compose.yml
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "osprey")
	viper.SetDefault("postgres_db_name", "osprey")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Document defaults
	viper.SetDefault("documents.roots", []string{})
	viper.SetDefault("documents.chunk_size", 1000)
	viper.SetDefault("documents.chunk_overlap", 200)

	// Plugin defaults
	viper.SetDefault("plugins.dir", filepath.Join(configDir, "plugins"))
	viper.SetDefault("plugins.executions_per_minute", 60)
	viper.SetDefault("plugins.rate_burst", 5)
	viper.SetDefault("plugins.timeout_seconds", 30)
	viper.SetDefault("plugins.cpu_seconds", 10)
	viper.SetDefault("plugins.max_output_bytes", 1<<20)
	viper.SetDefault("plugins.block_network", false)

	// Telemetry defaults
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
	viper.SetDefault("telemetry.service_name", "osprey")
	viper.SetDefault("telemetry.environment", "dev")
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is the one secret; the OSPREY_* variables are
// operational overrides for containerized or CI runs.
func bindEnvVariables() {
	// BindEnv only fails on an empty key, and every key below is a
	// literal, so a failure here is a programming error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("config: bind %q to %q: %v", key, envVar, err))
		}
	}

	// Gemini API key, validated in cfg.Validate()
	mustBind("api_key", "GEMINI_API_KEY")

	// Model overrides
	mustBind("model", "OSPREY_MODEL")
	mustBind("embedding_model", "OSPREY_EMBEDDING_MODEL")

	// Storage overrides
	mustBind("vector_store", "OSPREY_VECTOR_STORE")

	// Plugin overrides
	mustBind("plugins.dir", "OSPREY_PLUGINS_DIR")

	// Telemetry overrides; the endpoint honors the standard OTel variable
	mustBind("telemetry.enabled", "OSPREY_TELEMETRY_ENABLED")
	mustBind("telemetry.endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL (not via Viper)
	// because it expands into five postgres_* fields rather than binding to one key.
}

// Set writes a single configuration key back to the config file and
// returns the previous effective value. Callers audit the change; use
// MaskForDisplay on both values before recording them anywhere.
//
// Only keys that exist in the configuration schema (defaults included)
// are accepted, so a typo cannot plant an inert setting in the file.
//
// The write goes through a scratch Viper bound only to the file.
// Writing the primed global instance would serialize every default and
// every environment-sourced secret (GEMINI_API_KEY) into config.yaml.
func Set(key, value string) (previous string, err error) {
	if !slices.Contains(viper.AllKeys(), key) {
		return "", fmt.Errorf("%w: %q", ErrUnknownConfigKey, key)
	}

	previous = viper.GetString(key)

	path, err := Path()
	if err != nil {
		return "", err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigPermissions(0o600)
	if err := v.ReadInConfig(); err != nil {
		// A file that does not exist yet is fine; Set creates it
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("reading config file: %w", err)
		}
	}
	v.Set(key, value)
	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}

	// Keep the live view in sync for the rest of this process
	viper.Set(key, value)
	return previous, nil
}

// sensitiveKeys lists the configuration keys whose values must never be
// displayed or recorded in clear text.
var sensitiveKeys = []string{"api_key", "postgres_password"}

// IsSensitiveKey reports whether the configuration key holds a secret.
func IsSensitiveKey(key string) bool {
	return slices.Contains(sensitiveKeys, key)
}

// MaskForDisplay returns the value safe for logs and audit records:
// secrets are masked, everything else passes through unchanged.
func MaskForDisplay(key, value string) string {
	if IsSensitiveKey(key) {
		return maskSecret(value)
	}
	return value
}

// maskedValue replaces secret material in logs and audit records.
// The block characters (U+2588) cannot appear in a real key, so a
// masked value can never be a substring of the secret it hides. Plain
// "****" or "[REDACTED]" fail that property for passwords that happen
// to contain those characters.
const maskedValue = "████████"

// maskSecret renders a secret safe for logs. Secrets of eight bytes or
// fewer disappear entirely; longer ones keep their first and last two
// bytes so an operator can tell two keys apart without seeing either.
//
// This guards against accidental disclosure, nothing stronger. If a log
// containing masked values leaks, rotate the secrets anyway.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	// Short secrets keep nothing: with only a few bytes, two visible
	// characters are a meaningful fraction of the search space.
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON masks APIKey and PostgresPassword before serializing, so
// a Config dumped into a log or an audit record never carries a usable
// secret. A field added to sensitiveKeys must be masked here too; the
// round-trip test in config_test.go catches the omission.
func (c Config) MarshalJSON() ([]byte, error) {
	// The alias strips the method set so json.Marshal does not recurse
	// back into this function.
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String routes fmt verbs through the masking MarshalJSON, so %v and %s
// on a Config are as safe as an explicit marshal.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
