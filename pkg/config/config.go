// Package config loads the process configuration from a JSON file overlaid
// with environment variables, following the teacher's caarlos0/env pattern:
// JSON gives structure and defaults, env vars give per-deployment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/cortexd/cortexd/pkg/fsutil"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers, so a
// list like allowed_tools can be written as either strings or bare tokens.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration object. Every nested struct can be
// overridden in isolation via its own env: tags.
type Config struct {
	DataDir      string             `json:"data_dir" env:"CORTEXD_DATA_DIR"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Process      ProcessConfig      `json:"process"`
	Registry     RegistryConfig     `json:"registry"`
	ToolExec     ToolExecConfig     `json:"tool_exec"`
	Cache        CacheConfig        `json:"cache"`
	Ingest       IngestConfig       `json:"ingest"`
	Debounce     DebounceConfig     `json:"debounce"`
	Sync         SyncConfig         `json:"sync"`
	Consistency  ConsistencyConfig  `json:"consistency"`
	Completion   CompletionConfig   `json:"completion"`
	Embedding    EmbeddingConfig    `json:"embedding"`
	MCP          MCPConfig          `json:"mcp"`
	EventBus     EventBusConfig     `json:"event_bus"`

	mu sync.RWMutex
}

// OrchestratorConfig governs Lead Agent classification and delegation (§4.1).
type OrchestratorConfig struct {
	SimpleMaxWorkers    int     `json:"simple_max_workers" env:"CORTEXD_ORCH_SIMPLE_MAX_WORKERS"`
	MediumMinWorkers    int     `json:"medium_min_workers" env:"CORTEXD_ORCH_MEDIUM_MIN_WORKERS"`
	MediumMaxWorkers    int     `json:"medium_max_workers" env:"CORTEXD_ORCH_MEDIUM_MAX_WORKERS"`
	ComplexMinWorkers   int     `json:"complex_min_workers" env:"CORTEXD_ORCH_COMPLEX_MIN_WORKERS"`
	ComplexMaxWorkers   int     `json:"complex_max_workers" env:"CORTEXD_ORCH_COMPLEX_MAX_WORKERS"`
	MaxConcurrentExec   int     `json:"max_concurrent_exec" env:"CORTEXD_ORCH_MAX_CONCURRENT_EXEC"`
	SufficiencyConfidence float64 `json:"sufficiency_confidence" env:"CORTEXD_ORCH_SUFFICIENCY_CONFIDENCE"`
	RequireAllCapabilities bool  `json:"require_all_capabilities" env:"CORTEXD_ORCH_REQUIRE_ALL_CAPABILITIES"`
	MaxRetryPerTask     int     `json:"max_retry_per_task" env:"CORTEXD_ORCH_MAX_RETRY_PER_TASK"`
}

// ProcessConfig governs the Process Manager (§4.3).
type ProcessConfig struct {
	MaxConcurrentProcesses int           `json:"max_concurrent_processes" env:"CORTEXD_PROCESS_MAX_CONCURRENT"`
	SpawnTimeout           time.Duration `json:"spawn_timeout" env:"CORTEXD_PROCESS_SPAWN_TIMEOUT"`
	TerminateGracePeriod   time.Duration `json:"terminate_grace_period" env:"CORTEXD_PROCESS_TERMINATE_GRACE"`
	MaxMemoryBytes         int64         `json:"max_memory_bytes" env:"CORTEXD_PROCESS_MAX_MEMORY_BYTES"`
	MaxTaskDuration        time.Duration `json:"max_task_duration" env:"CORTEXD_PROCESS_MAX_TASK_DURATION"`
	HeartbeatInterval      time.Duration `json:"heartbeat_interval" env:"CORTEXD_PROCESS_HEARTBEAT_INTERVAL"`
	Backend                string        `json:"backend" env:"CORTEXD_PROCESS_BACKEND"` // "host" | "docker"
}

// RegistryConfig governs the Worker Registry (§4.2).
type RegistryConfig struct {
	DefaultCapabilityTimeout time.Duration `json:"default_capability_timeout" env:"CORTEXD_REGISTRY_CAPABILITY_TIMEOUT"`
}

// ToolExecConfig governs the Parallel Tool Executor (§4.5).
type ToolExecConfig struct {
	MaxConcurrent int           `json:"max_concurrent" env:"CORTEXD_TOOLEXEC_MAX_CONCURRENT"`
	DefaultTimeout time.Duration `json:"default_timeout" env:"CORTEXD_TOOLEXEC_DEFAULT_TIMEOUT"`
}

// CacheConfig governs the Multi-Level Cache (§4.8).
type CacheConfig struct {
	L1Capacity  int    `json:"l1_capacity" env:"CORTEXD_CACHE_L1_CAPACITY"`
	L2Capacity  int    `json:"l2_capacity" env:"CORTEXD_CACHE_L2_CAPACITY"`
	L3Prefix    string `json:"l3_prefix" env:"CORTEXD_CACHE_L3_PREFIX"`
	AutoPromote bool   `json:"auto_promote" env:"CORTEXD_CACHE_AUTO_PROMOTE"`
}

// IngestConfig governs the Ingestion Pipeline (§4.9).
type IngestConfig struct {
	MaxFileBytes int64 `json:"max_file_bytes" env:"CORTEXD_INGEST_MAX_FILE_BYTES"`
}

// DebounceConfig governs the Auto-Reparse Debouncer (§4.10).
type DebounceConfig struct {
	DebounceMS        int64 `json:"debounce_ms" env:"CORTEXD_DEBOUNCE_MS"`
	MaxPendingChanges int   `json:"max_pending_changes" env:"CORTEXD_DEBOUNCE_MAX_PENDING"`
	PollInterval      time.Duration `json:"poll_interval" env:"CORTEXD_DEBOUNCE_POLL_INTERVAL"`
}

// SyncConfig governs the Data Sync Manager (§4.11).
type SyncConfig struct {
	MaxBatchSize      int           `json:"max_batch_size" env:"CORTEXD_SYNC_MAX_BATCH_SIZE"`
	MaxConcurrentOps  int           `json:"max_concurrent_ops" env:"CORTEXD_SYNC_MAX_CONCURRENT_OPS"`
	MaxRetries        int           `json:"max_retries" env:"CORTEXD_SYNC_MAX_RETRIES"`
	RetryBackoffMS    int64         `json:"retry_backoff_ms" env:"CORTEXD_SYNC_RETRY_BACKOFF_MS"`
	SyncTimeout       time.Duration `json:"sync_timeout_secs" env:"CORTEXD_SYNC_TIMEOUT"`
}

// ConsistencyConfig governs the Consistency Checker (§4.12).
type ConsistencyConfig struct {
	Schedule        string  `json:"schedule" env:"CORTEXD_CONSISTENCY_SCHEDULE"` // gronx cron expression
	SampleRate      float64 `json:"sample_rate" env:"CORTEXD_CONSISTENCY_SAMPLE_RATE"`
	AutoRepair      bool    `json:"auto_repair" env:"CORTEXD_CONSISTENCY_AUTO_REPAIR"`
	MaxRepairBatch  int     `json:"max_repair_batch" env:"CORTEXD_CONSISTENCY_MAX_REPAIR_BATCH"`
	UseBloomFilter  bool    `json:"use_bloom_filter" env:"CORTEXD_CONSISTENCY_USE_BLOOM_FILTER"`
}

// CompletionConfig selects and configures the pluggable completion endpoint.
type CompletionConfig struct {
	Backend string `json:"backend" env:"CORTEXD_COMPLETION_BACKEND"` // "anthropic" | "openai"
	Model   string `json:"model" env:"CORTEXD_COMPLETION_MODEL"`
	APIKey  string `json:"api_key" env:"CORTEXD_COMPLETION_API_KEY"`
	BaseURL string `json:"base_url" env:"CORTEXD_COMPLETION_BASE_URL"`

	// Fallback, if set, is tried after Backend fails, the way the
	// teacher's provider fallback chain tries a secondary model after
	// the primary's cooldown or error. Recursive Fallback chains beyond
	// one level are ignored.
	Fallback *CompletionConfig `json:"fallback,omitempty"`
}

// EmbeddingConfig points the Ingestion Pipeline (C10) at an
// OpenAI-compatible /v1/embeddings endpoint. APIBase is left empty to
// disable embedding generation: code units still ingest, they just
// forward to the vector index with a nil Vector.
type EmbeddingConfig struct {
	APIBase string `json:"api_base" env:"CORTEXD_EMBEDDING_API_BASE"`
	APIKey  string `json:"api_key" env:"CORTEXD_EMBEDDING_API_KEY"`
	Model   string `json:"model" env:"CORTEXD_EMBEDDING_MODEL"`
}

// MCPConfig lists named tool-execution endpoints (§6).
type MCPConfig struct {
	Servers map[string]MCPServerConfig `json:"servers,omitempty"`
}

type MCPServerConfig struct {
	Transport string            `json:"transport"` // "stdio" | "http"
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// EventBusConfig configures the internal NATS-backed event bus (§5).
type EventBusConfig struct {
	URL          string `json:"url" env:"CORTEXD_EVENTBUS_URL"`
	Embedded     bool   `json:"embedded" env:"CORTEXD_EVENTBUS_EMBEDDED"`
	SubjectPrefix string `json:"subject_prefix" env:"CORTEXD_EVENTBUS_SUBJECT_PREFIX"`
}

// DefaultConfig returns the configuration a fresh install starts from.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "~/.cortexd/data",
		Orchestrator: OrchestratorConfig{
			SimpleMaxWorkers:       1,
			MediumMinWorkers:       2,
			MediumMaxWorkers:       4,
			ComplexMinWorkers:      10,
			ComplexMaxWorkers:      20,
			MaxConcurrentExec:      20,
			SufficiencyConfidence:  0.75,
			RequireAllCapabilities: true,
			MaxRetryPerTask:        1,
		},
		Process: ProcessConfig{
			MaxConcurrentProcesses: 32,
			SpawnTimeout:           10 * time.Second,
			TerminateGracePeriod:   5 * time.Second,
			MaxMemoryBytes:         512 * 1024 * 1024,
			MaxTaskDuration:        10 * time.Minute,
			HeartbeatInterval:      2 * time.Second,
			Backend:                "host",
		},
		Registry: RegistryConfig{
			DefaultCapabilityTimeout: 5 * time.Minute,
		},
		ToolExec: ToolExecConfig{
			MaxConcurrent:  8,
			DefaultTimeout: 2 * time.Minute,
		},
		Cache: CacheConfig{
			L1Capacity:  1_000,
			L2Capacity:  10_000,
			L3Prefix:    "cache:",
			AutoPromote: true,
		},
		Ingest: IngestConfig{
			MaxFileBytes: 10 * 1024 * 1024,
		},
		Debounce: DebounceConfig{
			DebounceMS:        50,
			MaxPendingChanges: 10_000,
			PollInterval:      100 * time.Millisecond,
		},
		Sync: SyncConfig{
			MaxBatchSize:     100,
			MaxConcurrentOps: 8,
			MaxRetries:       3,
			RetryBackoffMS:   500,
			SyncTimeout:      30 * time.Second,
		},
		Consistency: ConsistencyConfig{
			Schedule:       "*/15 * * * *",
			SampleRate:     1.0,
			AutoRepair:     true,
			MaxRepairBatch: 500,
			UseBloomFilter: true,
		},
		Completion: CompletionConfig{
			Backend: "anthropic",
		},
		MCP: MCPConfig{
			Servers: map[string]MCPServerConfig{},
		},
		EventBus: EventBusConfig{
			Embedded:      true,
			SubjectPrefix: "cortexd",
		},
	}
}

// LoadConfig reads path (if present) over the defaults, then overlays
// environment variables — the same two-stage load the teacher uses.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return applyEnv(cfg)
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return applyEnv(cfg)
}

func applyEnv(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env overrides: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists cfg to path as indented JSON, via a temp-file +
// fsync + rename so a crash mid-write never leaves a torn config file.
func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600, 0o755); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func (c *Config) Lock()    { c.mu.Lock() }
func (c *Config) Unlock()  { c.mu.Unlock() }
func (c *Config) RLock()   { c.mu.RLock() }
func (c *Config) RUnlock() { c.mu.RUnlock() }

// ResolvedDataDir expands a leading "~" in DataDir to the user's home.
func (c *Config) ResolvedDataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.DataDir)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return filepath.Join(home, path[2:])
		}
		return home
	}
	return path
}
