package config

import (
	"fmt"
	"os"
	"strings"

	"flow-observer/src/helpers"
	"flow-observer/src/models"
	"flow-observer/src/utils"

	"github.com/joho/godotenv"
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
	// 1. Load .env next to the working directory if present
	_ = godotenv.Load()

	// 2. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	return Parse(data)
}

// -----------------------------------------------------------------------------

// Parse builds a validated Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyEnv()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, helpers.NewConfigurationError("config validation failed", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyEnv() {
	if v := os.Getenv("OBSERVER_DB_PATH"); v != "" {
		c.Storage.DBPath = v
	}
	if v := os.Getenv("OBSERVER_PG_DSN"); v != "" {
		c.Storage.DBConnectionString = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "flow-observer"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = c.Host
	}

	// Storage
	if c.Storage.SnapshotStore == "" {
		c.Storage.SnapshotStore = "sqlite"
	}
	if c.Storage.WriteQueueSize <= 0 {
		c.Storage.WriteQueueSize = utils.DefaultWriteQueueSize
	}

	// Network
	if c.Network.RequestTimeout <= 0 {
		c.Network.RequestTimeout = int(utils.DefaultRequestTimeout.Seconds())
	}
	if c.Network.MaxRetries <= 0 {
		c.Network.MaxRetries = 3
	}
	if c.Network.RestBaseURL == "" {
		c.Network.RestBaseURL = utils.DefaultRestBaseURL
	}
	if c.Network.WsBaseURL == "" {
		c.Network.WsBaseURL = utils.DefaultWsBaseURL
	}
	if c.Network.RequestsPerSecond <= 0 {
		c.Network.RequestsPerSecond = 5
	}
	if c.Network.BackoffMinMs <= 0 {
		c.Network.BackoffMinMs = 1000
	}
	if c.Network.BackoffMaxMs <= 0 {
		c.Network.BackoffMaxMs = 60000
	}

	// Engines
	c.Cvd.Symbols = normalizeSymbols(c.Cvd.Symbols)
	if c.Cvd.StalenessSeconds <= 0 {
		c.Cvd.StalenessSeconds = int(utils.DefaultStalenessInterval.Seconds())
	}
	if c.Cvd.RetentionDays <= 0 {
		c.Cvd.RetentionDays = utils.DefaultRetentionDays
	}

	c.Heatmap.Symbols = normalizeSymbols(c.Heatmap.Symbols)
	if c.Heatmap.SnapshotIntervalSeconds <= 0 {
		c.Heatmap.SnapshotIntervalSeconds = int(utils.DefaultSnapshotInterval.Seconds())
	}
	if c.Heatmap.MaxLevels <= 0 {
		c.Heatmap.MaxLevels = utils.DefaultMaxLevels
	}
	if c.Heatmap.SnapshotLevels <= 0 {
		c.Heatmap.SnapshotLevels = utils.DefaultSnapshotLevels
	}
	if c.Heatmap.RetentionHours <= 0 {
		c.Heatmap.RetentionHours = int(utils.DefaultSnapshotRetention.Hours())
	}

	if c.Liquidation.TopN <= 0 {
		c.Liquidation.TopN = utils.DefaultTopN
	}
	if c.Liquidation.RefreshMinutes <= 0 {
		c.Liquidation.RefreshMinutes = int(utils.DefaultRankingRefresh.Minutes())
	}
	if c.Liquidation.QuoteAsset == "" {
		c.Liquidation.QuoteAsset = utils.DefaultQuoteAsset
	}
	c.Liquidation.QuoteAsset = strings.ToUpper(c.Liquidation.QuoteAsset)
	if c.Liquidation.RetentionDays <= 0 {
		c.Liquidation.RetentionDays = utils.DefaultRetentionDays
	}

	// Cache / Query
	if c.Cache.Capacity <= 0 {
		c.Cache.Capacity = utils.DefaultCacheCapacity
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = int(utils.DefaultCacheTTL.Seconds())
	}
	if c.Query.DefaultLimit <= 0 {
		c.Query.DefaultLimit = utils.DefaultQueryLimit
	}
	if c.Query.MaxLimit <= 0 {
		c.Query.MaxLimit = utils.DefaultQueryMaxLimit
	}
	if c.Query.DefaultBins <= 0 {
		c.Query.DefaultBins = utils.DefaultBins
	}
	if c.Query.MaxBins <= 0 {
		c.Query.MaxBins = utils.DefaultMaxBins
	}
	if c.Query.IntegritySample <= 0 {
		c.Query.IntegritySample = utils.DefaultIntegritySample
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535 || c.GrpcPort == c.Port) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Storage
	if c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	switch c.Storage.SnapshotStore {
	case "sqlite":
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("db_connection_string is required for the postgres snapshot store")
		}
	default:
		return fmt.Errorf("unknown snapshot store %q (expected sqlite or postgres)", c.Storage.SnapshotStore)
	}

	// Engines
	if !c.Cvd.Enabled && !c.Heatmap.Enabled && !c.Liquidation.Enabled {
		return fmt.Errorf("at least one engine must be enabled")
	}
	if c.Cvd.Enabled && len(c.Cvd.Symbols) == 0 {
		return fmt.Errorf("cvd engine enabled without symbols")
	}
	if c.Heatmap.Enabled && len(c.Heatmap.Symbols) == 0 {
		return fmt.Errorf("heatmap engine enabled without symbols")
	}
	if c.Heatmap.SnapshotLevels > c.Heatmap.MaxLevels {
		return fmt.Errorf("snapshot_levels (%d) cannot exceed max_levels (%d)", c.Heatmap.SnapshotLevels, c.Heatmap.MaxLevels)
	}

	if c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("default_limit (%d) cannot exceed max_limit (%d)", c.Query.DefaultLimit, c.Query.MaxLimit)
	}
	if c.Query.DefaultBins > c.Query.MaxBins {
		return fmt.Errorf("default_bins (%d) cannot exceed max_bins (%d)", c.Query.DefaultBins, c.Query.MaxBins)
	}

	return nil
}

// -----------------------------------------------------------------------------

// AllSymbols returns the union of statically configured engine symbols.
func (c *Config) AllSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{c.Cvd.Symbols, c.Heatmap.Symbols} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// -----------------------------------------------------------------------------

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
