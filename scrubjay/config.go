package scrubjay

import (
	"log/slog"
	"time"
)

const (
	DefaultDatabase     = "scrubjay.sqlite3"
	DefaultDatabaseType = dbTypeSQLite

	DefaultLogLevel          = slog.LevelInfo
	DefaultDatabaseLogLevel  = slog.LevelInfo
	DefaultDiscordLogLevel   = slog.LevelWarn
	DefaultDiscordgoLogLevel = slog.LevelWarn
	DefaultAPILogLevel       = slog.LevelInfo

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultStartupTimeout        = 30 * time.Second
	DefaultShutdownTimeout       = 60 * time.Second

	// DefaultDispatchInterval is how often each dispatcher wakes to
	// collect and send undelivered items.
	DefaultDispatchInterval = time.Minute

	// DefaultDispatchLookback bounds the undelivered query to items
	// ingested recently. The delivery ledger does the real dedup work;
	// the lookback only keeps the query cheap.
	DefaultDispatchLookback = 24 * time.Hour

	// DefaultConfirmedWindow is how far back a reviewed+valid report
	// may be and still mark its species/location bucket confirmed.
	DefaultConfirmedWindow = 7 * 24 * time.Hour

	// DefaultRetentionDays is how long delivery ledger rows are kept
	// before pruning.
	DefaultRetentionDays = 30

	DefaultPruneInterval     = 24 * time.Hour
	DefaultEBirdPollInterval = 10 * time.Minute
	DefaultFeedPollInterval  = 15 * time.Minute

	DefaultEBirdRequestsPerSecond = 1.0

	DefaultAPIListen         = "127.0.0.1:8610"
	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordCustomStatus = "Watching for rare birds"
)

type Config struct {
	// Database is the database DSN (filename for sqlite)
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseType is the type of database to use (sqlite or postgres)
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration after which a query is logged as slow
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds database creation and Discord connection at boot
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Discord  *DiscordConfig  `yaml:"discord" mapstructure:"discord" json:"discord"`
	EBird    *EBirdConfig    `yaml:"ebird" mapstructure:"ebird" json:"ebird"`
	Feeds    *FeedsConfig    `yaml:"feeds" mapstructure:"feeds" json:"feeds"`
	Dispatch *DispatchConfig `yaml:"dispatch" mapstructure:"dispatch" json:"dispatch"`
	API      *APIConfig      `yaml:"api" mapstructure:"api" json:"api"`
}

type DiscordConfig struct {
	// Token is the Discord bot token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// ApplicationID is the Discord application ID, for command registration
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildID, when set, registers commands guild-scoped instead of globally
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CustomStatus is shown as the bot's status text
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// DiscordGoLogLevel sets the log level for the discordgo library itself
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`
}

type EBirdConfig struct {
	// Token is the eBird API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL overrides the eBird API base URL (tests)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`

	// Regions are the region codes to poll for notable observations
	Regions []string `yaml:"regions" mapstructure:"regions" json:"regions" binding:"required,min=1"`

	// PollInterval is how often regions are re-fetched
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" json:"poll_interval"`

	// RequestsPerSecond paces API calls across all regions
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second" json:"requests_per_second"`
}

type FeedsConfig struct {
	// Sources are the RSS/Atom feeds available for subscription
	Sources []FeedSourceConfig `yaml:"sources" mapstructure:"sources" json:"sources"`

	// PollInterval is how often sources are re-fetched
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" json:"poll_interval"`
}

type DispatchConfig struct {
	// Interval is how often each dispatcher runs a cycle
	Interval time.Duration `yaml:"interval" mapstructure:"interval" json:"interval"`

	// Lookback bounds the undelivered query to recently ingested items
	Lookback time.Duration `yaml:"lookback" mapstructure:"lookback" json:"lookback"`

	// ConfirmedWindow is the recency window for the confirmed flag
	ConfirmedWindow time.Duration `yaml:"confirmed_window" mapstructure:"confirmed_window" json:"confirmed_window"`

	// RetentionDays is how long delivery records are kept
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" json:"retention_days"`

	// PruneInterval is how often old delivery records are pruned
	PruneInterval time.Duration `yaml:"prune_interval" mapstructure:"prune_interval" json:"prune_interval"`

	// BootstrapTimeout bounds how long dispatchers wait for the
	// startup reconciliation
	BootstrapTimeout time.Duration `yaml:"bootstrap_timeout" mapstructure:"bootstrap_timeout" json:"bootstrap_timeout"`
}

type APIConfig struct {
	// Enabled toggles the status HTTP server
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Listen is the address to listen on
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true,hostname|filepath"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseType:          DefaultDatabaseType,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		EBird: &EBirdConfig{
			PollInterval:      DefaultEBirdPollInterval,
			RequestsPerSecond: DefaultEBirdRequestsPerSecond,
		},
		Feeds: &FeedsConfig{
			PollInterval: DefaultFeedPollInterval,
		},
		Dispatch: &DispatchConfig{
			Interval:         DefaultDispatchInterval,
			Lookback:         DefaultDispatchLookback,
			ConfirmedWindow:  DefaultConfirmedWindow,
			RetentionDays:    DefaultRetentionDays,
			PruneInterval:    DefaultPruneInterval,
			BootstrapTimeout: DefaultBootstrapTimeout,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			LogLevel:          apiLogLevel,
			ReadTimeout:       DefaultReadTimeout,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
		},
	}
}
