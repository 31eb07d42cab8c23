package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for WebStalk. Loading it from YAML/env
// and validating it are outside this module's scope; callers assemble a
// Config (starting from DefaultConfig) and hand it to the engine.
type Config struct {
	Engine      EngineConfig      `mapstructure:"engine"       yaml:"engine"`
	Fetcher     FetcherConfig     `mapstructure:"fetcher"      yaml:"fetcher"`
	RetryPolicy RetryPolicyConfig `mapstructure:"retry_policy" yaml:"retry_policy"`
	Proxy       ProxyConfig       `mapstructure:"proxy"        yaml:"proxy"`
	Parser      ParserConfig      `mapstructure:"parser"       yaml:"parser"`
	Storage     StorageConfig     `mapstructure:"storage"      yaml:"storage"`
	Logging     LoggingConfig     `mapstructure:"logging"      yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"      yaml:"metrics"`
}

// EngineConfig controls the core crawler engine.
type EngineConfig struct {
	Concurrency          int           `mapstructure:"concurrency"            yaml:"concurrency"`
	MaxDepth             int           `mapstructure:"max_depth"              yaml:"max_depth"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"        yaml:"request_timeout"`
	PolitenessDelay      time.Duration `mapstructure:"politeness_delay"       yaml:"politeness_delay"`
	RespectRobotsTxt     bool          `mapstructure:"respect_robots_txt"     yaml:"respect_robots_txt"`
	CheckpointInterval   time.Duration `mapstructure:"checkpoint_interval"    yaml:"checkpoint_interval"`
	ResumeFromCheckpoint bool          `mapstructure:"resume_from_checkpoint" yaml:"resume_from_checkpoint"`
	UserAgents           []string      `mapstructure:"user_agents"            yaml:"user_agents"`
	AllowedDomains       []string      `mapstructure:"allowed_domains"        yaml:"allowed_domains"`
	DisallowedDomains    []string      `mapstructure:"disallowed_domains"     yaml:"disallowed_domains"`
	AllowedURLPatterns   []string      `mapstructure:"allowed_url_patterns"   yaml:"allowed_url_patterns"`
	BlockedPatterns      []string      `mapstructure:"blocked_patterns"       yaml:"blocked_patterns"`
	MaxRequests          int           `mapstructure:"max_requests"           yaml:"max_requests"`
	MemoryLimitMB        int           `mapstructure:"memory_limit_mb"        yaml:"memory_limit_mb"`
	MaxQueueSize         int           `mapstructure:"max_queue_size"         yaml:"max_queue_size"`
}

// RetryPolicyConfig controls backoff between retry attempts.
type RetryPolicyConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"        yaml:"max_retries"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"      yaml:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"          yaml:"max_delay"`
}

// FetcherConfig controls the request fetcher.
type FetcherConfig struct {
	FollowRedirects        bool          `mapstructure:"follow_redirects"         yaml:"follow_redirects"`
	MaxRedirects           int           `mapstructure:"max_redirects"            yaml:"max_redirects"`
	MaxBodySize            int64         `mapstructure:"max_body_size"            yaml:"max_body_size"`
	TLSInsecure            bool          `mapstructure:"tls_insecure"             yaml:"tls_insecure"`
	IdleConnTimeout        time.Duration `mapstructure:"idle_conn_timeout"        yaml:"idle_conn_timeout"`
	MaxIdleConns           int           `mapstructure:"max_idle_conns"           yaml:"max_idle_conns"`
	EnableAntiBotDetection bool          `mapstructure:"enable_anti_bot_detection" yaml:"enable_anti_bot_detection"`
	RequestsPerSecond      float64       `mapstructure:"requests_per_second"      yaml:"requests_per_second"`
}

// ProxyConfig controls proxy rotation.
type ProxyConfig struct {
	Enabled             bool     `mapstructure:"enabled"               yaml:"enabled"`
	Rotation            string   `mapstructure:"rotation"              yaml:"rotation"` // round_robin, random, least_used, health_score
	URLs                []string `mapstructure:"urls"                  yaml:"urls"`
	HealthCheck         bool     `mapstructure:"health_check"          yaml:"health_check"`
	RotateOnFail        bool     `mapstructure:"rotate_on_fail"        yaml:"rotate_on_fail"`
	TestIntervalMinutes int      `mapstructure:"test_interval_minutes" yaml:"test_interval_minutes"`
}

// ParserConfig controls the parser.
type ParserConfig struct {
	Rules []ParseRule `mapstructure:"rules" yaml:"rules"`
}

// ParseRule defines a single extraction rule consumed by the optional
// RuleExtractor, on top of the structural extractors that always run.
type ParseRule struct {
	Name      string `mapstructure:"name"      yaml:"name"`
	Selector  string `mapstructure:"selector"  yaml:"selector"`
	Type      string `mapstructure:"type"      yaml:"type"` // css, xpath, regex
	Attribute string `mapstructure:"attribute" yaml:"attribute"`
	Pattern   string `mapstructure:"pattern"   yaml:"pattern"`
}

// StorageConfig controls output/storage.
type StorageConfig struct {
	Type       string `mapstructure:"type"        yaml:"type"` // json, jsonl, csv, mongo, sqlite
	OutputPath string `mapstructure:"output_path" yaml:"output_path"`
	BatchSize  int    `mapstructure:"batch_size"  yaml:"batch_size"`
	DSN        string `mapstructure:"dsn"         yaml:"dsn"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	EnableMetrics        bool   `mapstructure:"enable_metrics"          yaml:"enable_metrics"`
	Port                 int    `mapstructure:"port"                    yaml:"port"`
	Path                 string `mapstructure:"path"                    yaml:"path"`
	MetricsIntervalSeconds int  `mapstructure:"metrics_interval_seconds" yaml:"metrics_interval_seconds"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Concurrency:        10,
			MaxDepth:           5,
			RequestTimeout:     30 * time.Second,
			PolitenessDelay:    1 * time.Second,
			RespectRobotsTxt:   true,
			CheckpointInterval: 60 * time.Second,
			MemoryLimitMB:      1024,
			MaxQueueSize:       500_000,
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			},
		},
		RetryPolicy: RetryPolicyConfig{
			MaxRetries:        3,
			InitialDelay:      2 * time.Second,
			BackoffMultiplier: 2.0,
			MaxDelay:          60 * time.Second,
		},
		Fetcher: FetcherConfig{
			FollowRedirects:   true,
			MaxRedirects:      10,
			MaxBodySize:       10 * 1024 * 1024, // 10MB
			IdleConnTimeout:   90 * time.Second,
			MaxIdleConns:      100,
			RequestsPerSecond: 2.0,
		},
		Proxy: ProxyConfig{
			Enabled:             false,
			Rotation:            "round_robin",
			HealthCheck:         true,
			RotateOnFail:        true,
			TestIntervalMinutes: 10,
		},
		Storage: StorageConfig{
			Type:       "json",
			OutputPath: "./output",
			BatchSize:  100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			EnableMetrics:          false,
			Port:                   9090,
			Path:                   "/metrics",
			MetricsIntervalSeconds: 15,
		},
	}
}
