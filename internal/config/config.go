// Package config provides YAML-based configuration with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default prompts.
const (
	DefaultAnalysisPrompt = "Analyze a hypothetical lawn and provide information about: 1. Grass type, 2. Overall health, 3. Potential issues, 4. Recommendations for improvement"
	DefaultSelfTestPrompt = "Hello, how are you?"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	AI       AIConfig       `yaml:"ai"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
	// RateLimit is the allowed AI requests per second per client IP. Zero disables it.
	RateLimit float64 `yaml:"rateLimit"`
}

// AIConfig selects and authenticates the generative-content service.
type AIConfig struct {
	Provider       string `yaml:"provider"` // "gemini" or "openai"
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"baseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// AnalysisConfig holds the prompts sent to the model.
type AnalysisConfig struct {
	Prompt         string `yaml:"prompt"`
	SelfTestPrompt string `yaml:"selfTestPrompt"`
	// AttachPhoto sends the selected photo along with the prompt.
	AttachPhoto    bool `yaml:"attachPhoto"`
	SelfTestOnOpen bool `yaml:"selfTestOnOpen"`
}

// StorageConfig contains photo storage settings
type StorageConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "disk"
	ScratchDir string `yaml:"scratchDir"`
}

// SessionConfig bounds the page sessions kept in memory.
type SessionConfig struct {
	IdleTimeoutMinutes     int `yaml:"idleTimeoutMinutes"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
	MaxSessions            int `yaml:"maxSessions"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"` // "pretty" or "json"
	RequestLogging bool   `yaml:"requestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8080,
			BindAddress:  "0.0.0.0",
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 120,
			IdleTimeout:  120,
			BodyLimit:    "20M",
			RateLimit:    2,
		},
		AI: AIConfig{
			Provider:       "gemini",
			TimeoutSeconds: 0,
		},
		Analysis: AnalysisConfig{
			Prompt:         DefaultAnalysisPrompt,
			SelfTestPrompt: DefaultSelfTestPrompt,
			AttachPhoto:    false,
			SelfTestOnOpen: true,
		},
		Storage: StorageConfig{
			Backend:    "memory",
			ScratchDir: "./data/scratch",
		},
		Session: SessionConfig{
			IdleTimeoutMinutes:     30,
			CleanupIntervalMinutes: 5,
			MaxSessions:            100,
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "pretty",
			RequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is created
// with the defaults. Variables from a .env file next to the config (or in the
// working directory) are loaded before environment overrides are applied.
func LoadConfig(configPath string) (*AppConfig, error) {
	loadDotEnv(filepath.Dir(configPath))

	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.AI.Provider = strings.ToLower(strings.TrimSpace(config.AI.Provider))
	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to a YAML file. The API key is never written.
func (c *AppConfig) Save(configPath string) error {
	out := *c
	out.AI.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Lawn Analyzer configuration\n# Generated on first run. Put the API key in .env (GEMINI_API_KEY).\n\n")
	if err := os.WriteFile(configPath, append(header, data...), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks settings the server cannot start without.
func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.AI.APIKey) == "" {
		errs = append(errs, errors.New("ai.apiKey is required (set GEMINI_API_KEY or OPENAI_API_KEY)"))
	}
	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("ai.provider %q is not supported", c.AI.Provider))
	}
	switch c.Storage.Backend {
	case "memory", "disk":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	return errors.Join(errs...)
}

func loadDotEnv(configDir string) {
	// godotenv.Load never overrides variables that are already set.
	for _, p := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if addr := os.Getenv("LAWN_BIND_ADDRESS"); addr != "" {
		c.Server.BindAddress = addr
	}

	if provider := os.Getenv("LAWN_AI_PROVIDER"); provider != "" {
		c.AI.Provider = strings.ToLower(provider)
	}
	if model := os.Getenv("LAWN_AI_MODEL"); model != "" {
		c.AI.Model = model
	}

	switch c.AI.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
	default:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			c.AI.APIKey = key
		} else if key := os.Getenv("NEXT_PUBLIC_GEMINI_API_KEY"); key != "" {
			c.AI.APIKey = key
		}
	}

	if level := os.Getenv("LAWN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LAWN_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if dir := os.Getenv("LAWN_DATA_DIR"); dir != "" {
		c.Storage.ScratchDir = dir
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.ScratchDir) {
		c.Storage.ScratchDir = filepath.Join(configDir, c.Storage.ScratchDir)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates the scratch directory when photos go to disk.
func (c *AppConfig) EnsureDirectories() error {
	if c.Storage.Backend != "disk" {
		return nil
	}
	if err := os.MkdirAll(c.Storage.ScratchDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.ScratchDir, err)
	}
	return nil
}
