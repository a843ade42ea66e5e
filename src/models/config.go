package models

// MConfig Structure
type MConfig struct {
	Name          string             `yaml:"name"`
	Host          string             `yaml:"host"`
	Port          int                `yaml:"port"`
	LogLevel      string             `yaml:"log_level"`
	LogFormat     string             `yaml:"log_format"`
	LogFile       string             `yaml:"log_file"`
	LogMaxAgeDays int                `yaml:"log_max_age_days"`
	GrpcHost      string             `yaml:"grpc_host"`
	GrpcPort      int                `yaml:"grpc_port"`
	Storage       MStorageConfig     `yaml:"storage"`
	Network       MNetworkConfig     `yaml:"network"`
	Cvd           MCvdConfig         `yaml:"cvd"`
	Heatmap       MHeatmapConfig     `yaml:"heatmap"`
	Liquidation   MLiquidationConfig `yaml:"liquidation"`
	Cache         MCacheConfig       `yaml:"cache"`
	Query         MQueryConfig       `yaml:"query"`
}

type MStorageConfig struct {
	DBPath             string `yaml:"db_path"`
	SnapshotStore      string `yaml:"snapshot_store"` // "sqlite" or "postgres"
	DBConnectionString string `yaml:"db_connection_string"`
	WriteQueueSize     int    `yaml:"write_queue_size"`
}

type MNetworkConfig struct {
	RequestTimeout    int     `yaml:"timeout"` // seconds
	MaxRetries        int     `yaml:"retries"`
	RestBaseURL       string  `yaml:"rest_base_url"`
	WsBaseURL         string  `yaml:"ws_base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BackoffMinMs      int     `yaml:"backoff_min_ms"`
	BackoffMaxMs      int     `yaml:"backoff_max_ms"`
}

type MCvdConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Symbols          []string `yaml:"symbols"`
	StalenessSeconds int      `yaml:"staleness_seconds"`
	RetentionDays    int      `yaml:"retention_days"`
}

type MHeatmapConfig struct {
	Enabled                 bool     `yaml:"enabled"`
	Symbols                 []string `yaml:"symbols"`
	SnapshotIntervalSeconds int      `yaml:"snapshot_interval_seconds"`
	MaxLevels               int      `yaml:"max_levels"`      // replica bound per side
	SnapshotLevels          int      `yaml:"snapshot_levels"` // levels captured per side
	RetentionHours          int      `yaml:"retention_hours"`
}

type MLiquidationConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TopN           int    `yaml:"top_n"`
	RefreshMinutes int    `yaml:"refresh_minutes"`
	QuoteAsset     string `yaml:"quote_asset"`
	RetentionDays  int    `yaml:"retention_days"`
}

type MCacheConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLSeconds int `yaml:"ttl_seconds"`
}

type MQueryConfig struct {
	DefaultLimit    int `yaml:"default_limit"`
	MaxLimit        int `yaml:"max_limit"`
	DefaultBins     int `yaml:"default_bins"`
	MaxBins         int `yaml:"max_bins"`
	IntegritySample int `yaml:"integrity_sample"`
}
