package models

// MConfig Structure
type MConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "console" or "json"

	MemoryLimitPercent int `yaml:"memory_limit_percent"` // runtime soft limit as a share of RAM

	Server    MServerConfig    `yaml:"server"`
	Liveness  MLivenessConfig  `yaml:"liveness"`
	Publisher MPublisherConfig `yaml:"publisher"`
	Trading   MTradingConfig   `yaml:"trading"`
	Brokerage MBrokerageConfig `yaml:"brokerage"`
	Market    MMarketConfig    `yaml:"market"`
	News      MNewsConfig      `yaml:"news"`
	Network   MNetworkConfig   `yaml:"network"`
	Storage   MStorageConfig   `yaml:"storage"`
	Redis     MRedisConfig     `yaml:"redis"`
	Grpc      MGrpcConfig      `yaml:"grpc"`
	Client    MClientConfig    `yaml:"client"`
}

type MServerConfig struct {
	Host                  string   `yaml:"host"`
	Port                  int      `yaml:"port"`
	Path                  string   `yaml:"path"`
	MaxMessageBytes       int64    `yaml:"max_message_bytes"`
	MaxConnections        int      `yaml:"max_connections"`
	EnforceMaxConnections bool     `yaml:"enforce_max_connections"`
	SendBufferSize        int      `yaml:"send_buffer_size"`
	EventQueueSize        int      `yaml:"event_queue_size"`
	WriteTimeoutSeconds   int      `yaml:"write_timeout_seconds"`
	AllowedOrigins        []string `yaml:"allowed_origins"`
}

type MLivenessConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

type MPublisherConfig struct {
	PortfolioIntervalSeconds int     `yaml:"portfolio_interval_seconds"`
	MarketIntervalSeconds    int     `yaml:"market_interval_seconds"`
	NewsIntervalSeconds      int     `yaml:"news_interval_seconds"`
	PortfolioThreshold       float64 `yaml:"portfolio_threshold"` // relative, 0.001 = 0.1%
	MarketThreshold          float64 `yaml:"market_threshold"`    // relative, 0.0005 = 0.05%
	HistorySize              int     `yaml:"history_size"`
}

type MTradingConfig struct {
	ExecutionTimeoutSeconds int     `yaml:"execution_timeout_seconds"`
	ActionsPerSecond        float64 `yaml:"actions_per_second"`
	ActionBurst             int     `yaml:"action_burst"`
}

type MBrokerageConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type MMarketConfig struct {
	ChartURL        string   `yaml:"chart_url"`
	ReferenceSymbol string   `yaml:"reference_symbol"`
	Symbols         []string `yaml:"symbols"`
	MarketHoursOnly bool     `yaml:"market_hours_only"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
}

type MNewsConfig struct {
	FeedURL string `yaml:"feed_url"`
	APIKey  string `yaml:"api_key"`
	Limit   int    `yaml:"limit"`
}

type MNetworkConfig struct {
	RequestTimeout int    `yaml:"timeout"`
	MaxRetries     int    `yaml:"retries"`
	UserAgent      string `yaml:"user_agent"`
}

type MStorageConfig struct {
	Enabled            bool   `yaml:"enabled"`
	DBType             string `yaml:"db_type"`
	DBPath             string `yaml:"db_path"`
	DBConnectionString string `yaml:"db_connection_string"`
	RetentionDays      int    `yaml:"retention_days"`
}

type MRedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type MGrpcConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type MClientConfig struct {
	URL              string   `yaml:"url"`
	BaseDelayMillis  int      `yaml:"base_delay_ms"`
	MaxAttempts      int      `yaml:"max_attempts"`
	KeepAliveSeconds int      `yaml:"keepalive_seconds"`
	Channels         []string `yaml:"channels"`
}
