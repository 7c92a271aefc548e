// Package config loads daemon settings from config/config.yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the full daemon configuration (matches config/config.yaml).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Odds     OddsConfig     `mapstructure:"odds"`
	Search   SearchConfig   `mapstructure:"search"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Stream   StreamConfig   `mapstructure:"stream"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"` // gin mode: debug/release/test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Pprof        bool          `mapstructure:"pprof"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// OddsConfig configures the odds provider and acquisition.
type OddsConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	APIKey             string        `mapstructure:"api_key"`
	Region             string        `mapstructure:"region"`
	Timeout            time.Duration `mapstructure:"timeout"`
	RateLimit          float64       `mapstructure:"rate_limit"`
	Burst              int           `mapstructure:"burst"`
	MaxRetries         int           `mapstructure:"max_retries"`
	Backoff            time.Duration `mapstructure:"backoff"`
	DefaultBookmaker   string        `mapstructure:"default_bookmaker"`
	FallbackBookmakers []string      `mapstructure:"fallback_bookmakers"`
	FreshFor           time.Duration `mapstructure:"fresh_for"`
	Retention          time.Duration `mapstructure:"retention"`
	SingleDayWindow    time.Duration `mapstructure:"single_day_window"`
	PropWorkers        int           `mapstructure:"prop_workers"`
}

// SearchConfig configures the research provider.
type SearchConfig struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	NumResults int           `mapstructure:"num_results"`
	TopK       int           `mapstructure:"top_k"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	StoreTTL   time.Duration `mapstructure:"store_ttl"`
}

// LLMConfig configures the model router.
type LLMConfig struct {
	OpenAIKey     string        `mapstructure:"openai_api_key"`
	AnthropicKey  string        `mapstructure:"anthropic_api_key"`
	OpenRouterKey string        `mapstructure:"openrouter_api_key"`
	OllamaURL     string        `mapstructure:"ollama_url"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Retries       int           `mapstructure:"retries"`

	// Model and FastModel pin a router preset by name or model id.
	Model     string `mapstructure:"model"`
	FastModel string `mapstructure:"fast_model"`
}

// RedisConfig configures the shared odds cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig configures Postgres. An empty DSN disables persistence.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// PipelineConfig bounds requests.
type PipelineConfig struct {
	DefaultLegs  int  `mapstructure:"default_legs"`
	MaxLegs      int  `mapstructure:"max_legs"`
	DefaultDays  int  `mapstructure:"default_days"`
	MaxDays      int  `mapstructure:"max_days"`
	DefaultPicks int  `mapstructure:"default_picks"`
	AllowLive    bool `mapstructure:"allow_live"`
}

// StreamConfig configures the progress hub.
type StreamConfig struct {
	Heartbeat time.Duration `mapstructure:"heartbeat"`
}

// EnvPrefix namespaces every override: PARLAY_SERVER_ADDR overrides server.addr.
const EnvPrefix = "PARLAY"

// providerEnv maps provider secrets to the variable names the providers document.
var providerEnv = map[string]string{
	"odds.api_key":           "ODDS_API_KEY",
	"search.api_key":         "SERPER_API_KEY",
	"llm.openai_api_key":     "OPENAI_API_KEY",
	"llm.anthropic_api_key":  "ANTHROPIC_API_KEY",
	"llm.openrouter_api_key": "OPENROUTER_API_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.pprof", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("odds.base_url", "https://api.the-odds-api.com/v4")
	v.SetDefault("odds.api_key", "")
	v.SetDefault("odds.region", "us")
	v.SetDefault("odds.timeout", 20*time.Second)
	v.SetDefault("odds.rate_limit", 5.0)
	v.SetDefault("odds.burst", 5)
	v.SetDefault("odds.max_retries", 2)
	v.SetDefault("odds.backoff", 500*time.Millisecond)
	v.SetDefault("odds.default_bookmaker", "draftkings")
	v.SetDefault("odds.fallback_bookmakers", []string{"fanduel", "draftkings", "betmgm", "williamhill_us"})
	v.SetDefault("odds.fresh_for", 24*time.Hour)
	v.SetDefault("odds.retention", 72*time.Hour)
	v.SetDefault("odds.single_day_window", 30*time.Hour)
	v.SetDefault("odds.prop_workers", 4)

	v.SetDefault("search.url", "https://google.serper.dev")
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.rate_limit", 10.0)
	v.SetDefault("search.burst", 10)
	v.SetDefault("search.num_results", 5)
	v.SetDefault("search.top_k", 25)
	v.SetDefault("search.cache_ttl", 30*time.Minute)
	v.SetDefault("search.store_ttl", 6*time.Hour)

	v.SetDefault("llm.openai_api_key", "")
	v.SetDefault("llm.anthropic_api_key", "")
	v.SetDefault("llm.openrouter_api_key", "")
	v.SetDefault("llm.ollama_url", "http://localhost:11434")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 90*time.Second)
	v.SetDefault("llm.retries", 2)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.fast_model", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "parlay")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("pipeline.default_legs", 3)
	v.SetDefault("pipeline.max_legs", 10)
	v.SetDefault("pipeline.default_days", 3)
	v.SetDefault("pipeline.max_days", 14)
	v.SetDefault("pipeline.default_picks", 5)
	v.SetDefault("pipeline.allow_live", true)

	v.SetDefault("stream.heartbeat", 30*time.Second)
}

// Load reads the config file at path (or config/config.yaml when empty),
// then applies .env and environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range providerEnv {
		// Prefixed form wins over the provider's own variable.
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.MaxLegs < 1 {
		return fmt.Errorf("pipeline.max_legs must be positive")
	}
	if c.Pipeline.DefaultLegs < 1 || c.Pipeline.DefaultLegs > c.Pipeline.MaxLegs {
		return fmt.Errorf("pipeline.default_legs must be between 1 and %d", c.Pipeline.MaxLegs)
	}
	if c.Pipeline.MaxDays < 1 {
		return fmt.Errorf("pipeline.max_days must be positive")
	}
	if c.Odds.FreshFor <= 0 {
		return fmt.Errorf("odds.fresh_for must be positive")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Logger builds the root logger from the log section.
func (c *Config) Logger() *logrus.Logger {
	l := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		l.SetLevel(level)
	}
	if strings.EqualFold(c.Log.Format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
