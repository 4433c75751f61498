package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for awardbot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Store     StoreConfig     `json:"store"`
	Detector  DetectorConfig  `json:"detector"`
	Source    SourceConfig    `json:"source"`
	Content   ContentConfig   `json:"content"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Metrics   MetricsConfig   `json:"metrics"`
	Platforms PlatformsConfig `json:"platforms"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`          // debug | info | warn | error
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	EnvFile  string `json:"envFile,omitempty"` // optional .env loaded before ${VAR} expansion
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type DetectorConfig struct {
	IntervalMinutes int `json:"intervalMinutes"`
}

type SourceConfig struct {
	URL              string   `json:"url"`
	BaseURL          string   `json:"baseUrl"` // prefix for relative links and images
	UserAgent        string   `json:"userAgent"`
	TimeoutSeconds   int      `json:"timeoutSeconds"`
	MaxArticles      int      `json:"maxArticles"`
	Keywords         []string `json:"keywords"`
	MinSummaryLength int      `json:"minSummaryLength"` // shorter summaries trigger a full-page fetch
	MaxContentLength int      `json:"maxContentLength"`
	Browser          bool     `json:"browser"` // render pages with headless Chrome
}

type ContentConfig struct {
	Provider       string       `json:"provider"` // "ollama" | "openai"
	Languages      []string     `json:"languages"`
	TimeoutSeconds int          `json:"timeoutSeconds"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"maxTokens"`
	Fallback       bool         `json:"fallback"` // fall back to the built-in template when the model fails
	Ollama         OllamaConfig `json:"ollama"`
	OpenAI         OpenAIConfig `json:"openai"`
}

type OllamaConfig struct {
	APIBase string `json:"apiBase"`
	Model   string `json:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
	Model   string `json:"model"`
}

// DispatchConfig bounds dispatch runs.
type DispatchConfig struct {
	MaxConcurrentRuns     int `json:"maxConcurrentRuns"`
	ContentTimeoutSeconds int `json:"contentTimeoutSeconds"`
	PublishTimeoutSeconds int `json:"publishTimeoutSeconds"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Path    string `json:"path"`
}

// DefaultConfigDir returns the default config directory (~/.awardbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".awardbot"
	}
	return filepath.Join(home, ".awardbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := loadEnvFile(path, data); err != nil {
		return nil, err
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadEnvFile loads the .env named by general.envFile, or a .env next to the
// config file when none is named. Variables already set are left alone.
func loadEnvFile(configPath string, raw []byte) error {
	var probe struct {
		General struct {
			EnvFile string `json:"envFile" yaml:"envFile"`
		} `json:"general" yaml:"general"`
	}
	if isYAML(configPath) {
		_ = yaml.Unmarshal(raw, &probe)
	} else {
		_ = json.Unmarshal(raw, &probe)
	}

	envPath := ExpandPath(probe.General.EnvFile)
	if envPath == "" {
		envPath = filepath.Join(filepath.Dir(configPath), ".env")
		if _, err := os.Stat(envPath); err != nil {
			return nil
		}
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("cannot load env file %s: %w", envPath, err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document so the json field tags apply to both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as indented JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. Platform credentials are
// not checked here: an incomplete platform is excluded, not an error.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	if cfg.Detector.IntervalMinutes < 1 {
		errs = append(errs, "detector.intervalMinutes must be >= 1")
	}
	if cfg.Source.URL == "" {
		errs = append(errs, "source.url is required")
	}
	if cfg.Source.MaxArticles < 1 {
		errs = append(errs, "source.maxArticles must be >= 1")
	}
	if cfg.Source.TimeoutSeconds < 1 {
		errs = append(errs, "source.timeoutSeconds must be >= 1")
	}

	switch cfg.Content.Provider {
	case "ollama":
		if cfg.Content.Ollama.APIBase == "" || cfg.Content.Ollama.Model == "" {
			errs = append(errs, "content.ollama: apiBase and model are required")
		}
	case "openai":
		if cfg.Content.OpenAI.APIKey == "" {
			errs = append(errs, "content.openai.apiKey is required")
		}
		if cfg.Content.OpenAI.Model == "" {
			errs = append(errs, "content.openai.model is required")
		}
	default:
		errs = append(errs, "content.provider must be one of: ollama, openai")
	}
	if len(cfg.Content.Languages) == 0 {
		errs = append(errs, "content.languages must not be empty")
	}
	if cfg.Content.TimeoutSeconds < 1 {
		errs = append(errs, "content.timeoutSeconds must be >= 1")
	}

	if cfg.Dispatch.MaxConcurrentRuns < 1 || cfg.Dispatch.MaxConcurrentRuns > 100 {
		errs = append(errs, "dispatch.maxConcurrentRuns must be between 1 and 100")
	}
	if cfg.Dispatch.ContentTimeoutSeconds < 1 {
		errs = append(errs, "dispatch.contentTimeoutSeconds must be >= 1")
	}
	if cfg.Dispatch.PublishTimeoutSeconds < 1 {
		errs = append(errs, "dispatch.publishTimeoutSeconds must be >= 1")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	for _, p := range cfg.Platforms.All() {
		if p.Common.TimeoutSeconds < 0 || p.Common.MaxAttempts < 0 || p.Common.RatePerMinute < 0 {
			errs = append(errs, fmt.Sprintf("platforms.%s: timeoutSeconds, maxAttempts and ratePerMinute must not be negative", p.Name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
