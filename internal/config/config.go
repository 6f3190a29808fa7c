package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

// EnvPrefix is prepended to every environment variable, e.g. ASSIST_SERVER_PORT.
const EnvPrefix = "ASSIST"

type Config struct {
	Mode Mode `mapstructure:"mode"`

	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
	Router    RouterConfig    `mapstructure:"router"`
	Timeouts  TimeoutConfig   `mapstructure:"timeouts"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"` // "mock", "vertex" or "anthropic"
	Model       string  `mapstructure:"model"`
	GCPProject  string  `mapstructure:"gcp_project"`
	GCPLocation string  `mapstructure:"gcp_location"`
	APIKey      string  `mapstructure:"api_key"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // "memory", "sqlite" or "firestore"
	SQLitePath string `mapstructure:"sqlite_path"`
	GCPProject string `mapstructure:"gcp_project"`
}

type RetrievalConfig struct {
	Backend    string `mapstructure:"backend"` // "static" or "sqlite"
	SQLitePath string `mapstructure:"sqlite_path"`
	TopK       int    `mapstructure:"top_k"`
}

type ClaimsConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type RouterConfig struct {
	Mode string `mapstructure:"mode"` // "keyword", "delegate" or "hybrid"
}

// TimeoutConfig bounds every external call of a turn.
type TimeoutConfig struct {
	Classifier time.Duration `mapstructure:"classifier"`
	Generation time.Duration `mapstructure:"generation"`
	Retrieval  time.Duration `mapstructure:"retrieval"`
	Claims     time.Duration `mapstructure:"claims"`
	Store      time.Duration `mapstructure:"store"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", string(ModeLocal))

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("llm.provider", "")
	// empty lets each client use its own default model
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.gcp_project", "")
	v.SetDefault("llm.gcp_location", "us-central1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.sqlite_path", "data/sessions.db")
	v.SetDefault("storage.gcp_project", "")

	v.SetDefault("retrieval.backend", "static")
	v.SetDefault("retrieval.sqlite_path", "data/knowledge.db")
	v.SetDefault("retrieval.top_k", 3)

	v.SetDefault("claims.base_url", "http://localhost:3000")

	v.SetDefault("router.mode", "hybrid")

	v.SetDefault("timeouts.classifier", "10s")
	v.SetDefault("timeouts.generation", "30s")
	v.SetDefault("timeouts.retrieval", "10s")
	v.SetDefault("timeouts.claims", "10s")
	v.SetDefault("timeouts.store", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
}

// Load reads defaults, an optional YAML file and ASSIST_* environment variables.
// An empty path searches ./config.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.LLM.Provider == "" {
		// local development runs against the mock unless told otherwise
		if cfg.Mode == ModeGCP {
			cfg.LLM.Provider = "vertex"
		} else {
			cfg.LLM.Provider = "mock"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeLocal, ModeGCP:
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", c.Mode))
	}

	switch c.LLM.Provider {
	case "mock":
	case "vertex":
		if c.LLM.GCPProject == "" {
			errs = append(errs, errors.New("llm.gcp_project is required for the vertex provider"))
		}
	case "anthropic":
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for the anthropic provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}

	switch c.Storage.Backend {
	case "memory", "sqlite":
	case "firestore":
		if c.Storage.GCPProject == "" {
			errs = append(errs, errors.New("storage.gcp_project is required for the firestore backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Retrieval.Backend {
	case "static", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, errors.New("retrieval.top_k must be positive"))
	}

	switch c.Router.Mode {
	case "keyword", "delegate", "hybrid":
	default:
		errs = append(errs, fmt.Errorf("unknown router mode %q", c.Router.Mode))
	}

	return errors.Join(errs...)
}
