package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the spendgate configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Budget    BudgetConfig    `yaml:"budget"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Pricing   PricingConfig   `yaml:"pricing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File       string `yaml:"file"`  // optional rotated JSON log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig holds the single shared bearer secret and the caller it resolves to.
type AuthConfig struct {
	APIKey string `yaml:"api_key"`
	User   string `yaml:"user"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"` // 0 = none, so streams are never cut
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
}

// DatabaseConfig holds spend ledger connection settings.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey (default: redis)
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// UpstreamConfig holds the completion API settings.
type UpstreamConfig struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	CompletionsPath   string `yaml:"completions_path"`
	ModelsBaseURL     string `yaml:"models_base_url"` // OpenAI-style root for health probes (default: base_url + "/v1")
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec   int    `yaml:"write_timeout_sec"`
	PoolTimeoutSec    int    `yaml:"pool_timeout_sec"`
	HealthCheck       bool   `yaml:"health_check"`
}

// BudgetConfig holds the daily spend ceiling and ledger key settings.
type BudgetConfig struct {
	DailyLimitUSD  float64 `yaml:"daily_limit_usd"`
	RecordTTLHours int     `yaml:"record_ttl_hours"`
	KeyPrefix      string  `yaml:"key_prefix"`
}

// TokenizerConfig holds the token counting settings.
type TokenizerConfig struct {
	Encoding        string `yaml:"encoding"`
	MessageOverhead *int   `yaml:"message_overhead"`
	PrimingOverhead *int   `yaml:"priming_overhead"`
}

// PricingConfig extends or overrides the built-in price table.
type PricingConfig struct {
	Models  map[string]PriceConfig `yaml:"models"`
	Default *PriceConfig           `yaml:"default"`
}

// minRecordTTLHours keeps a spend record alive past its billing day.
const minRecordTTLHours = 48

// PriceConfig is a USD price per 1000 tokens.
type PriceConfig struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv exports variables from a .env file into the process environment.
// A missing file is not an error. Variables already set are kept.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec < 0 {
		c.HTTP.WriteTimeoutSec = 0
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 30
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 10 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "redis"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Auth.User == "" {
		c.Auth.User = "default"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://openrouter.ai/api"
	}
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Upstream.CompletionsPath == "" {
		c.Upstream.CompletionsPath = "/v1/chat/completions"
	}
	if c.Upstream.ModelsBaseURL == "" {
		c.Upstream.ModelsBaseURL = c.Upstream.BaseURL + "/v1"
	}
	if c.Upstream.ConnectTimeoutSec <= 0 {
		c.Upstream.ConnectTimeoutSec = 10
	}
	if c.Upstream.ReadTimeoutSec <= 0 {
		c.Upstream.ReadTimeoutSec = 300
	}
	if c.Upstream.WriteTimeoutSec <= 0 {
		c.Upstream.WriteTimeoutSec = 30
	}
	if c.Upstream.PoolTimeoutSec <= 0 {
		c.Upstream.PoolTimeoutSec = 10
	}
	if c.Budget.DailyLimitUSD == 0 {
		c.Budget.DailyLimitUSD = 5.0
	}
	if c.Budget.RecordTTLHours <= 0 {
		c.Budget.RecordTTLHours = 48
	}
	if c.Tokenizer.Encoding == "" {
		c.Tokenizer.Encoding = "cl100k_base"
	}
	if c.Tokenizer.MessageOverhead == nil {
		v := 4
		c.Tokenizer.MessageOverhead = &v
	}
	if c.Tokenizer.PrimingOverhead == nil {
		v := 2
		c.Tokenizer.PrimingOverhead = &v
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Database.Driver {
	case "redis", "valkey":
	default:
		return fmt.Errorf("database.driver must be \"redis\" or \"valkey\", got %q", c.Database.Driver)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("upstream.base_url must be an absolute http(s) URL, got %q", c.Upstream.BaseURL)
	}
	if !strings.HasPrefix(c.Upstream.CompletionsPath, "/") {
		return fmt.Errorf("upstream.completions_path must start with /, got %q", c.Upstream.CompletionsPath)
	}
	if c.Budget.DailyLimitUSD <= 0 {
		return fmt.Errorf("budget.daily_limit_usd must be positive, got %v", c.Budget.DailyLimitUSD)
	}
	if c.Budget.RecordTTLHours < minRecordTTLHours {
		return fmt.Errorf("budget.record_ttl_hours must be at least %d, got %d", minRecordTTLHours, c.Budget.RecordTTLHours)
	}
	for _, o := range []*int{c.Tokenizer.MessageOverhead, c.Tokenizer.PrimingOverhead} {
		if o != nil && *o < 0 {
			return fmt.Errorf("tokenizer overheads must not be negative")
		}
	}
	for model, p := range c.Pricing.Models {
		if p.Input < 0 || p.Output < 0 {
			return fmt.Errorf("pricing.models.%s must not be negative", model)
		}
	}
	if d := c.Pricing.Default; d != nil && (d.Input < 0 || d.Output < 0) {
		return fmt.Errorf("pricing.default must not be negative")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
