package config

// DocumentsConfig holds the document indexing configuration.
type DocumentsConfig struct {
	// Roots are the directories plugins and the indexer may read documents from.
	// Paths support ~ expansion and must be absolute after expansion.
	Roots []string `mapstructure:"roots" json:"roots"`
	// ChunkSize is the target chunk length in characters (default: 1000)
	ChunkSize int `mapstructure:"chunk_size" json:"chunk_size"`
	// ChunkOverlap is how many characters consecutive chunks share (default: 200)
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`
}

// PluginsConfig holds the plugin manager and sandbox execution limits.
//
// The limits here are global knobs; which paths a plugin may touch and
// whether it gets network access are decided per plugin from its granted
// permissions, not from configuration.
type PluginsConfig struct {
	// Dir is where plugin directories live (default: ~/.osprey/plugins)
	Dir string `mapstructure:"dir" json:"dir"`
	// ExecutionsPerMinute is the sustained per-plugin execution rate (default: 60)
	ExecutionsPerMinute int `mapstructure:"executions_per_minute" json:"executions_per_minute"`
	// RateBurst is the per-plugin burst allowance (default: 5)
	RateBurst int `mapstructure:"rate_burst" json:"rate_burst"`
	// TimeoutSeconds is the wall-clock limit per execution (default: 30)
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	// CPUSeconds is the CPU time limit per execution, 0 disables (default: 10)
	CPUSeconds int `mapstructure:"cpu_seconds" json:"cpu_seconds"`
	// MaxOutputBytes caps captured stdout/stderr per stream (default: 1 MiB)
	MaxOutputBytes int64 `mapstructure:"max_output_bytes" json:"max_output_bytes"`
	// BlockNetwork forces network blocking for every plugin, overriding
	// granted network permissions (default: false = derive from grants)
	BlockNetwork bool `mapstructure:"block_network" json:"block_network"`
}
