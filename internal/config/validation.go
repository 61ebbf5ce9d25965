package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Validate checks every configuration value and returns the first
// violation, wrapped around the matching sentinel so callers can
// branch with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Model checks
	if c.Model == "" {
		return fmt.Errorf("%w: model cannot be empty", ErrInvalidModelName)
	}

	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: embedding_model cannot be empty", ErrInvalidEmbeddingModel)
	}

	// The Gemini API accepts temperatures up to 2.0
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	// Upper bound is the Gemini 2.5 context window
	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// Retrieval checks
	if c.TopK < 1 || c.TopK > MaxTopK {
		return fmt.Errorf("%w: must be between 1 and %d, got %d", ErrInvalidTopK, MaxTopK, c.TopK)
	}

	// Document checks
	if c.Documents.ChunkSize < 100 {
		return fmt.Errorf("%w: chunk_size must be at least 100, got %d", ErrInvalidChunking, c.Documents.ChunkSize)
	}

	if c.Documents.ChunkOverlap < 0 || c.Documents.ChunkOverlap >= c.Documents.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d",
			ErrInvalidChunking, c.Documents.ChunkOverlap)
	}

	// Document roots must be absolute: they become sandbox path boundaries,
	// and a relative boundary would move with the working directory.
	for _, root := range c.Documents.Roots {
		if root == "" {
			return fmt.Errorf("%w: empty path in documents.roots", ErrInvalidDocumentRoot)
		}
		if !filepath.IsAbs(root) {
			return fmt.Errorf("%w: %q is not absolute", ErrInvalidDocumentRoot, root)
		}
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validatePlugins(); err != nil {
		return err
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("%w: endpoint cannot be empty when telemetry is enabled", ErrInvalidTelemetryEndpoint)
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("%w: service_name cannot be empty when telemetry is enabled", ErrInvalidTelemetryEndpoint)
		}
	}

	// The API key check runs last on purpose: when Validate returns
	// ErrMissingAPIKey every other check has passed, which lets Load
	// hand back an otherwise usable configuration for commands that
	// never call the model.
	if c.APIKey == "" {
		return fmt.Errorf("%w: set the GEMINI_API_KEY environment variable\n"+
			"Create a key at https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	return nil
}

// validateStorage checks the selected vector store backend.
// Only the selected backend's settings are validated, so a chromem
// install never needs PostgreSQL credentials.
func (c *Config) validateStorage() error {
	switch c.VectorStore {
	case VectorStoreChromem:
		if c.ChromemPath == "" {
			return fmt.Errorf("%w: chromem_path cannot be empty", ErrInvalidChromemPath)
		}
		return nil

	case VectorStorePgvector:
		return c.validatePostgres()

	default:
		return fmt.Errorf("%w: %q is not valid, must be one of: [%s %s]",
			ErrUnknownVectorStore, c.VectorStore, VectorStoreChromem, VectorStorePgvector)
	}
}

// validatePostgres checks the PostgreSQL connection settings.
func (c *Config) validatePostgres() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml when vector_store is pgvector",
			ErrInvalidPostgresPassword)
	}

	// Minimum 8 characters; a credential this short is a typo, not a password
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// The deprecated allow and prefer modes downgrade silently under a
	// MITM, so they are not accepted even though libpq knows them.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (setDefaults should have filled it)",
			ErrInvalidPostgresSSLMode)
	}

	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// validatePlugins checks the plugin manager and sandbox limits.
func (c *Config) validatePlugins() error {
	if c.Plugins.Dir == "" {
		return fmt.Errorf("%w: plugins.dir cannot be empty", ErrInvalidPluginDir)
	}

	if c.Plugins.ExecutionsPerMinute < 1 {
		return fmt.Errorf("%w: executions_per_minute must be at least 1, got %d",
			ErrInvalidPluginLimit, c.Plugins.ExecutionsPerMinute)
	}

	if c.Plugins.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1, got %d",
			ErrInvalidPluginLimit, c.Plugins.RateBurst)
	}

	if c.Plugins.TimeoutSeconds < 1 {
		return fmt.Errorf("%w: timeout_seconds must be at least 1, got %d",
			ErrInvalidPluginLimit, c.Plugins.TimeoutSeconds)
	}

	// 0 disables the CPU rlimit; negative values are nonsense
	if c.Plugins.CPUSeconds < 0 {
		return fmt.Errorf("%w: cpu_seconds cannot be negative, got %d",
			ErrInvalidPluginLimit, c.Plugins.CPUSeconds)
	}

	if c.Plugins.MaxOutputBytes < 1 {
		return fmt.Errorf("%w: max_output_bytes must be at least 1, got %d",
			ErrInvalidPluginLimit, c.Plugins.MaxOutputBytes)
	}

	return nil
}

// expandPaths expands ~ in every filesystem path the configuration holds.
// Runs after Unmarshal and before Validate, so validation always sees the
// final absolute paths.
func (c *Config) expandPaths() error {
	var err error
	if c.ChromemPath, err = expandHome(c.ChromemPath); err != nil {
		return err
	}
	if c.Plugins.Dir, err = expandHome(c.Plugins.Dir); err != nil {
		return err
	}
	for i, root := range c.Documents.Roots {
		if c.Documents.Roots[i], err = expandHome(root); err != nil {
			return err
		}
	}
	return nil
}

// expandHome replaces a leading ~ with the user's home directory.
// Only "~" and "~/..." are expanded; "~user/..." is passed through
// because resolving other users' homes is not worth the portability cost.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
