package config

import (
	"fmt"
	"os"
	"strings"

	"trading-hub/src/helpers"
	"trading-hub/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, configError(fmt.Sprintf("failed to read config file '%s'", configPath), err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from raw YAML, filling unset fields with defaults.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, configError("failed to parse config from YAML", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, configError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{MConfig: &models.MConfig{}}
	c.ApplyDefaults()
	return c
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills zero values with the production defaults.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "trading-hub"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
	if c.MemoryLimitPercent == 0 {
		c.MemoryLimitPercent = 75
	}

	s := &c.Server
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.Port == 0 {
		s.Port = 8765
	}
	if s.Path == "" {
		s.Path = "/ws"
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = 16 * 1024
	}
	if s.MaxConnections == 0 {
		s.MaxConnections = 1000
	}
	if s.SendBufferSize == 0 {
		s.SendBufferSize = 256
	}
	if s.EventQueueSize == 0 {
		s.EventQueueSize = 256
	}
	if s.WriteTimeoutSeconds == 0 {
		s.WriteTimeoutSeconds = 10
	}

	if c.Liveness.IntervalSeconds == 0 {
		c.Liveness.IntervalSeconds = 30
	}

	p := &c.Publisher
	if p.PortfolioIntervalSeconds == 0 {
		p.PortfolioIntervalSeconds = 30
	}
	if p.MarketIntervalSeconds == 0 {
		p.MarketIntervalSeconds = 15
	}
	if p.NewsIntervalSeconds == 0 {
		p.NewsIntervalSeconds = 300
	}
	if p.PortfolioThreshold == 0 {
		p.PortfolioThreshold = 0.001
	}
	if p.MarketThreshold == 0 {
		p.MarketThreshold = 0.0005
	}
	if p.HistorySize == 0 {
		p.HistorySize = 500
	}

	t := &c.Trading
	if t.ExecutionTimeoutSeconds == 0 {
		t.ExecutionTimeoutSeconds = 30
	}
	if t.ActionsPerSecond == 0 {
		t.ActionsPerSecond = 2
	}
	if t.ActionBurst == 0 {
		t.ActionBurst = 5
	}

	if c.Market.ChartURL == "" {
		c.Market.ChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"
	}
	if c.Market.ReferenceSymbol == "" {
		c.Market.ReferenceSymbol = "^GSPC"
	}
	if c.Market.MaxConcurrent == 0 {
		c.Market.MaxConcurrent = 4
	}
	if c.News.Limit == 0 {
		c.News.Limit = 20
	}

	n := &c.Network
	if n.RequestTimeout == 0 {
		n.RequestTimeout = 10
	}
	if n.UserAgent == "" {
		n.UserAgent = "trading-hub/1.0"
	}

	st := &c.Storage
	if st.DBType == "" {
		st.DBType = "sqlite"
	}
	if st.DBPath == "" {
		st.DBPath = "trading-hub.db"
	}
	if st.RetentionDays == 0 {
		st.RetentionDays = 7
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "trading-hub:broadcast"
	}

	if c.Grpc.Host == "" {
		c.Grpc.Host = "127.0.0.1"
	}
	if c.Grpc.Port == 0 {
		c.Grpc.Port = 50051
	}

	cl := &c.Client
	if cl.URL == "" {
		cl.URL = fmt.Sprintf("ws://127.0.0.1:%d%s", s.Port, s.Path)
	}
	if cl.BaseDelayMillis == 0 {
		cl.BaseDelayMillis = 1000
	}
	if cl.MaxAttempts == 0 {
		cl.MaxAttempts = 5
	}
	if cl.KeepAliveSeconds == 0 {
		cl.KeepAliveSeconds = 25
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	if c.MemoryLimitPercent < 0 || c.MemoryLimitPercent > 100 {
		return fmt.Errorf("memory limit percent must be between 0 and 100")
	}

	// Validate Server configuration
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Server.Port <= 1024 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("websocket path must start with '/': %q", c.Server.Path)
	}
	if c.Server.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message size must be greater than 0")
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}

	if c.Liveness.IntervalSeconds <= 0 {
		return fmt.Errorf("liveness interval must be greater than 0")
	}

	// Validate Publisher configuration
	p := c.Publisher
	if p.PortfolioIntervalSeconds <= 0 || p.MarketIntervalSeconds <= 0 || p.NewsIntervalSeconds <= 0 {
		return fmt.Errorf("publisher intervals must be greater than 0")
	}
	if p.PortfolioThreshold < 0 || p.MarketThreshold < 0 {
		return fmt.Errorf("change thresholds cannot be negative")
	}

	if c.Trading.ExecutionTimeoutSeconds <= 0 {
		return fmt.Errorf("execution timeout must be greater than 0")
	}
	if c.Trading.ActionsPerSecond < 0 || c.Trading.ActionBurst < 0 {
		return fmt.Errorf("action rate limits cannot be negative")
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Validate Storage configuration
	if c.Storage.Enabled {
		switch c.Storage.DBType {
		case "sqlite":
			if c.Storage.DBPath == "" {
				return fmt.Errorf("database path cannot be empty for sqlite")
			}
		case "postgres":
			if c.Storage.DBConnectionString == "" {
				return fmt.Errorf("database connection string cannot be empty for postgres")
			}
		default:
			return fmt.Errorf("unsupported database type: %s", c.Storage.DBType)
		}
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty when redis is enabled")
	}

	if c.Grpc.Enabled && (c.Grpc.Port <= 0 || c.Grpc.Port > 65535) {
		return fmt.Errorf("invalid grpc port number: %d", c.Grpc.Port)
	}

	if c.Client.MaxAttempts <= 0 {
		return fmt.Errorf("client max attempts must be greater than 0")
	}
	if c.Client.BaseDelayMillis <= 0 {
		return fmt.Errorf("client base delay must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return configError("failed to marshal config to YAML", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return configError(fmt.Sprintf("failed to write config to file '%s'", configPath), err)
	}

	return nil
}

// -----------------------------------------------------------------------------

func configError(msg string, cause error) error {
	return &helpers.ConfigurationError{TradingHubError: helpers.TradingHubError{Message: msg, Cause: cause}}
}
