package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the assistant
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	JWTSecret      string `mapstructure:"jwt_secret"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// LLMConfig configures the OpenAI-compatible backend used by the planner,
// evaluator, synthesizer and embedding lookups.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	PlanningModel   string        `mapstructure:"planning_model"`
	EvaluationModel string        `mapstructure:"evaluation_model"`
	SynthesisModel  string        `mapstructure:"synthesis_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float32       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Normalize() LLMConfig {
	if strings.TrimSpace(l.PlanningModel) == "" {
		l.PlanningModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(l.EvaluationModel) == "" {
		l.EvaluationModel = l.PlanningModel
	}
	if strings.TrimSpace(l.SynthesisModel) == "" {
		l.SynthesisModel = l.PlanningModel
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 1024
	}
	if l.Timeout <= 0 {
		l.Timeout = 60 * time.Second
	}
	return l
}

// ToolsConfig holds credentials and endpoints for the finance data tools.
type ToolsConfig struct {
	HTTPTimeout  time.Duration      `mapstructure:"http_timeout"`
	AlphaVantage AlphaVantageConfig `mapstructure:"alphavantage"`
	Finnhub      FinnhubConfig      `mapstructure:"finnhub"`
	Yahoo        YahooConfig        `mapstructure:"yahoo"`
	EDGAR        EDGARConfig        `mapstructure:"edgar"`
}

type AlphaVantageConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type FinnhubConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type YahooConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type EDGARConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

func (t ToolsConfig) Normalize() ToolsConfig {
	if t.HTTPTimeout <= 0 {
		t.HTTPTimeout = 15 * time.Second
	}
	if t.AlphaVantage.BaseURL == "" {
		t.AlphaVantage.BaseURL = "https://www.alphavantage.co/query"
	}
	if t.Finnhub.BaseURL == "" {
		t.Finnhub.BaseURL = "https://finnhub.io/api/v1"
	}
	if t.Yahoo.BaseURL == "" {
		t.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if t.EDGAR.BaseURL == "" {
		t.EDGAR.BaseURL = "https://www.sec.gov"
	}
	if t.EDGAR.UserAgent == "" {
		t.EDGAR.UserAgent = "Mozilla/5.0"
	}
	return t
}

// StorageConfig selects where conversation state is persisted.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // memory, redis, postgres
	StateTTL time.Duration  `mapstructure:"state_ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

func (s StorageConfig) Validate() error {
	switch s.Backend {
	case "", "memory":
		return nil
	case "redis":
		return s.Redis.Validate()
	case "postgres":
		return s.Postgres.Validate()
	default:
		return fmt.Errorf("storage.backend must be memory, redis or postgres (got %q)", s.Backend)
	}
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port, or "" when redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" || r.Port == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.OTLPEndpoint) == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	return nil
}

// VoiceConfig controls speech-to-text and text-to-speech for morning briefs.
type VoiceConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	TranscriptionModel string `mapstructure:"transcription_model"`
	SpeechModel        string `mapstructure:"speech_model"`
	Voice              string `mapstructure:"voice"`
}

func (v VoiceConfig) Normalize() VoiceConfig {
	if v.TranscriptionModel == "" {
		v.TranscriptionModel = "whisper-1"
	}
	if v.SpeechModel == "" {
		v.SpeechModel = "tts-1"
	}
	if v.Voice == "" {
		v.Voice = "alloy"
	}
	return v
}

// SchedulerConfig lists recurring morning briefs.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Briefs   []BriefConfig `mapstructure:"briefs"`
}

// BriefConfig is a question asked on a cron schedule.
type BriefConfig struct {
	Name     string `mapstructure:"name"`
	Question string `mapstructure:"question"`
	Schedule string `mapstructure:"schedule"`
}

func (s SchedulerConfig) Validate() error {
	seen := make(map[string]struct{}, len(s.Briefs))
	for i, b := range s.Briefs {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("scheduler.briefs[%d].name is required", i)
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("scheduler.briefs: duplicate brief %q", b.Name)
		}
		seen[b.Name] = struct{}{}
		if strings.TrimSpace(b.Question) == "" {
			return fmt.Errorf("scheduler.briefs[%s].question is required", b.Name)
		}
		if strings.TrimSpace(b.Schedule) == "" {
			return fmt.Errorf("scheduler.briefs[%s].schedule is required", b.Name)
		}
	}
	return nil
}

// Validate checks cross-section requirements after normalization.
func (c *Config) Validate() error {
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	if c.Agent.NeedsLLM() && strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required when an agent mode uses the llm backend")
	}
	if c.Voice.Enabled && strings.TrimSpace(c.LLM.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required when voice is enabled")
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	return c.Scheduler.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.migrations_path", "file://migrations")
	v.SetDefault("agent.replan_ceiling", DefaultReplanCeiling)
	v.SetDefault("agent.planner_mode", ModeLLM)
	v.SetDefault("agent.evaluator_mode", ModeLLM)
	v.SetDefault("agent.synthesizer_mode", ModeLLM)
	v.SetDefault("agent.min_evidence", 2)
	v.SetDefault("agent.max_concurrent_runs", 8)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.state_ttl", 24*time.Hour)
	v.SetDefault("telemetry.metrics_enabled", true)
	v.SetDefault("telemetry.service_name", "fin-breaker")
	v.SetDefault("scheduler.interval", time.Minute)
}

// Load reads configuration from path (or the default search paths when path
// is empty) with FINBREAKER_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FINBREAKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// env + defaults are enough to run when no file is around
		if _, notFound := err.(viper.ConfigFileNotFoundError); path != "" || !notFound {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM = cfg.LLM.Normalize()
	cfg.Agent = cfg.Agent.Normalize()
	cfg.Tools = cfg.Tools.Normalize()
	cfg.Voice = cfg.Voice.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig is Load for command entry points; it panics on error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

// AutomaticEnv only applies to keys viper already knows about; secrets that
// usually arrive through the environment are bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"llm.api_key",
		"llm.base_url",
		"server.jwt_secret",
		"tools.alphavantage.api_key",
		"tools.finnhub.api_key",
		"storage.redis.host",
		"storage.redis.port",
		"storage.redis.password",
		"storage.postgres.url",
		"telemetry.otlp_endpoint",
	} {
		_ = v.BindEnv(key)
	}
}
