// Package config loads and layers AgentSmithy's YAML configuration: a global
// file under AGENTSMITHY_CONFIG_DIR, overlaid with a per-project file under
// <workdir>/.agentsmithy/config.yaml, with environment variables applied on
// top of both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP+SSE listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig selects and configures the active provider.
type LLMConfig struct {
	DefaultProvider string `yaml:"default_provider"`
	Model           string `yaml:"model"`
	EmbeddingModel  string `yaml:"embedding_model"`

	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Gemini    ProviderConfig `yaml:"gemini"`
}

// ProviderConfig holds the credentials/endpoint for a single LLM provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	RunCommandTimeoutSeconds int  `yaml:"run_command_timeout_seconds"`
	WebFetchHeadless         bool `yaml:"web_fetch_headless"`
	MaxParallelTools         int  `yaml:"max_parallel_tools"`
}

// RAGConfig controls indexing and the vector store.
type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	StoreDir     string `yaml:"store_dir"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // pretty|json
}

// TracingConfig controls OpenTelemetry span export. Tracing is disabled by
// default: Endpoint empty or Enabled false both yield a no-op tracer.
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Endpoint       string  `yaml:"endpoint"`
	ServiceVersion string  `yaml:"service_version"`
	Environment    string  `yaml:"environment"`
	SamplingRate   float64 `yaml:"sampling_rate"`
	Insecure       bool    `yaml:"insecure"`
}

// ObservabilityConfig groups everything that exports telemetry off-process.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// Config is the fully-resolved, validated configuration for one server run.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	RAG           RAGConfig           `yaml:"rag"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	ConfigValid  bool     `yaml:"-"`
	ConfigErrors []string `yaml:"-"`
}

// ValidationError aggregates every config problem found, so callers can
// report them all at once (a missing API key does not block
// startup, but is recorded in ConfigErrors).
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Issues, "; "))
}

// GlobalConfigDir resolves AGENTSMITHY_CONFIG_DIR, defaulting to
// ~/.agentsmithy.
func GlobalConfigDir() string {
	if dir := strings.TrimSpace(os.Getenv("AGENTSMITHY_CONFIG_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentsmithy"
	}
	return filepath.Join(home, ".agentsmithy")
}

// GlobalConfigPath is the global config.yaml path.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.yaml")
}

// ProjectConfigPath is the per-project overlay config.yaml path for workdir.
func ProjectConfigPath(workdir string) string {
	return filepath.Join(workdir, ".agentsmithy", "config.yaml")
}

// Load reads the global config, layers the per-project overlay for workdir
// on top field-by-field (non-zero-wins), applies environment overrides, fills
// defaults for anything still unset, and validates the result.
//
// Load never fails on a missing API key or a missing overlay file. A missing
// API key is recorded in the returned Config's ConfigErrors, matching the
// "missing API key does not block startup."; a missing overlay file simply
// contributes nothing.
func Load(workdir string) (*Config, error) {
	cfg := &Config{}

	if err := mergeYAMLFile(cfg, GlobalConfigPath()); err != nil {
		return nil, fmt.Errorf("load global config: %w", err)
	}
	if err := mergeYAMLFile(cfg, ProjectConfigPath(workdir)); err != nil {
		return nil, fmt.Errorf("load project config overlay: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	issues := validate(cfg)
	cfg.ConfigErrors = issues
	cfg.ConfigValid = len(issues) == 0

	return cfg, nil
}

// mergeYAMLFile decodes path into a fresh Config and merges its non-zero
// fields onto dst. A missing file is not an error: it simply contributes
// nothing, matching the optional per-project overlay.
func mergeYAMLFile(dst *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	mergeNonZero(dst, &overlay)
	return nil
}

// mergeNonZero overlays every non-zero-valued field of src onto dst.
func mergeNonZero(dst, src *Config) {
	if src.Server.Host != "" {
		dst.Server.Host = src.Server.Host
	}
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
	if src.LLM.DefaultProvider != "" {
		dst.LLM.DefaultProvider = src.LLM.DefaultProvider
	}
	if src.LLM.Model != "" {
		dst.LLM.Model = src.LLM.Model
	}
	if src.LLM.EmbeddingModel != "" {
		dst.LLM.EmbeddingModel = src.LLM.EmbeddingModel
	}
	mergeProvider(&dst.LLM.Anthropic, src.LLM.Anthropic)
	mergeProvider(&dst.LLM.OpenAI, src.LLM.OpenAI)
	mergeProvider(&dst.LLM.Gemini, src.LLM.Gemini)

	if src.Tools.RunCommandTimeoutSeconds != 0 {
		dst.Tools.RunCommandTimeoutSeconds = src.Tools.RunCommandTimeoutSeconds
	}
	if src.Tools.MaxParallelTools != 0 {
		dst.Tools.MaxParallelTools = src.Tools.MaxParallelTools
	}
	if src.Tools.WebFetchHeadless {
		dst.Tools.WebFetchHeadless = true
	}

	if src.RAG.ChunkSize != 0 {
		dst.RAG.ChunkSize = src.RAG.ChunkSize
	}
	if src.RAG.ChunkOverlap != 0 {
		dst.RAG.ChunkOverlap = src.RAG.ChunkOverlap
	}
	if src.RAG.StoreDir != "" {
		dst.RAG.StoreDir = src.RAG.StoreDir
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.Format != "" {
		dst.Logging.Format = src.Logging.Format
	}

	if src.Observability.Tracing.Enabled {
		dst.Observability.Tracing.Enabled = true
	}
	if src.Observability.Tracing.Endpoint != "" {
		dst.Observability.Tracing.Endpoint = src.Observability.Tracing.Endpoint
	}
	if src.Observability.Tracing.ServiceVersion != "" {
		dst.Observability.Tracing.ServiceVersion = src.Observability.Tracing.ServiceVersion
	}
	if src.Observability.Tracing.Environment != "" {
		dst.Observability.Tracing.Environment = src.Observability.Tracing.Environment
	}
	if src.Observability.Tracing.SamplingRate != 0 {
		dst.Observability.Tracing.SamplingRate = src.Observability.Tracing.SamplingRate
	}
	if src.Observability.Tracing.Insecure {
		dst.Observability.Tracing.Insecure = true
	}
}

func mergeProvider(dst *ProviderConfig, src ProviderConfig) {
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
}

// applyEnvOverrides applies the documented environment variables. These win
// over both the global and project YAML. They are applied before defaults,
// which only fill fields still unset, so an env var always has the final say.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.OpenAI.BaseURL = v
	}
	if v := os.Getenv("MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
		cfg.Observability.Tracing.Enabled = true
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7471
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.EmbeddingModel == "" {
		cfg.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Tools.RunCommandTimeoutSeconds == 0 {
		cfg.Tools.RunCommandTimeoutSeconds = 120
	}
	if cfg.Tools.MaxParallelTools == 0 {
		cfg.Tools.MaxParallelTools = 4
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1200
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 200
	}
	if cfg.RAG.StoreDir == "" {
		cfg.RAG.StoreDir = "rag/chroma_db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Observability.Tracing.SamplingRate == 0 {
		cfg.Observability.Tracing.SamplingRate = 1.0
	}
	if cfg.Observability.Tracing.ServiceVersion == "" {
		cfg.Observability.Tracing.ServiceVersion = "dev"
	}
}

// validate returns every problem found but never errors on a missing API
// key: startup proceeds regardless, recording
// the issue in config_errors instead.
func validate(cfg *Config) []string {
	var issues []string

	switch cfg.LLM.DefaultProvider {
	case "anthropic", "openai", "gemini":
	default:
		issues = append(issues, fmt.Sprintf("llm.default_provider: unknown provider %q", cfg.LLM.DefaultProvider))
	}

	switch cfg.LLM.DefaultProvider {
	case "anthropic":
		if cfg.LLM.Anthropic.APIKey == "" {
			issues = append(issues, "llm.anthropic.api_key: missing")
		}
	case "openai":
		if cfg.LLM.OpenAI.APIKey == "" {
			issues = append(issues, "llm.openai.api_key: missing")
		}
	case "gemini":
		if cfg.LLM.Gemini.APIKey == "" {
			issues = append(issues, "llm.gemini.api_key: missing")
		}
	}

	if cfg.Logging.Format != "pretty" && cfg.Logging.Format != "json" {
		issues = append(issues, fmt.Sprintf("logging.format: must be pretty or json, got %q", cfg.Logging.Format))
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("logging.level: invalid %q", cfg.Logging.Level))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		issues = append(issues, fmt.Sprintf("server.port: out of range %d", cfg.Server.Port))
	}

	return issues
}

// SaveGlobal writes cfg back to the global config.yaml, used by
// PUT /api/config (global is the only writable layer).
func SaveGlobal(cfg *Config) error {
	dir := GlobalConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := GlobalConfigPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	return os.Rename(tmp, GlobalConfigPath())
}
