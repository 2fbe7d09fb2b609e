// Package config loads and validates the node configuration from
// defaults, environment variables, and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// OfficeHoursConfig controls the market-hours schedule that picks the
// worker cycle interval.
type OfficeHoursConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Timezone     string `yaml:"timezone" json:"timezone" validate:"required"`
	StartHour    int    `yaml:"start_hour" json:"start_hour" validate:"min=0,max=23"`
	EndHour      int    `yaml:"end_hour" json:"end_hour" validate:"min=0,max=24"`
	WeekdaysOnly bool   `yaml:"weekdays_only" json:"weekdays_only"`
}

// Config is the full node configuration. A non-empty CoreNetworkURL puts
// the node in follower mode; otherwise it runs the core fetch worker.
type Config struct {
	NodeName    string `yaml:"node_name" json:"node_name" validate:"required"`
	Port        int    `yaml:"port" json:"port" validate:"min=1,max=65535"`
	Environment string `yaml:"environment" json:"environment" validate:"required"`
	LogLevel    string `yaml:"log_level" json:"log_level"`

	PrimaryToken   string `yaml:"primary_token" json:"-" validate:"required"`
	SecondaryToken string `yaml:"secondary_token" json:"-" validate:"required"`

	InternalPeers  []string `yaml:"internal_peers" json:"internal_peers" validate:"dive,url"`
	PublicPeers    []string `yaml:"public_peers" json:"public_peers" validate:"dive,url"`
	CoreNetworkURL string   `yaml:"core_network_url" json:"core_network_url" validate:"omitempty,url"`

	CoreWorkerInterval      time.Duration `yaml:"-" json:"core_worker_interval"`
	CoreWorkerQuietInterval time.Duration `yaml:"-" json:"core_worker_quiet_interval"`
	PublicRefreshInterval   time.Duration `yaml:"-" json:"public_refresh_interval"`

	UpstreamBaseURL   string `yaml:"upstream_base_url" json:"upstream_base_url" validate:"required,url"`
	UpstreamRateLimit int    `yaml:"upstream_rate_limit" json:"upstream_rate_limit" validate:"min=1"`

	TickerGroupFile string `yaml:"ticker_group_file" json:"ticker_group_file" validate:"required"`

	OfficeHours OfficeHoursConfig `yaml:"office_hours" json:"office_hours"`

	// BuildDate and GitCommit are stamped into the image at build time and
	// surfaced on /health.
	BuildDate string `yaml:"-" json:"build_date,omitempty"`
	GitCommit string `yaml:"-" json:"git_commit,omitempty"`
}

// IsFollower reports whether the node pulls from a core node instead of
// fetching upstream itself.
func (c *Config) IsFollower() bool { return c.CoreNetworkURL != "" }

// IsProduction gates public-peer fan-out and the debug time override.
func (c *Config) IsProduction() bool { return c.Environment == "production" }

// Load builds the configuration: defaults first, then environment
// variables, then the optional YAML file named by CONFIG_FILE, then
// validation. Missing files are an error only when explicitly configured.
func Load() (*Config, error) {
	cfg := &Config{
		NodeName:                "aipriceaction-proxy",
		Port:                    8888,
		Environment:             "development",
		LogLevel:                "info",
		PublicPeers:             []string{"https://api.aipriceaction.com"},
		CoreWorkerInterval:      30 * time.Second,
		CoreWorkerQuietInterval: 300 * time.Second,
		PublicRefreshInterval:   300 * time.Second,
		UpstreamBaseURL:         "https://trading.vietcap.com.vn/api/",
		UpstreamRateLimit:       30,
		TickerGroupFile:         "ticker_group.json",
		OfficeHours: OfficeHoursConfig{
			Enabled:      true,
			Timezone:     "Asia/Ho_Chi_Minh",
			StartHour:    9,
			EndHour:      16,
			WeekdaysOnly: true,
		},
	}

	applyEnv(cfg)

	if err := applyFile(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("NODE_NAME"); v != "" {
		cfg.NodeName = v
	}
	if port, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Port = port
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PRIMARY_TOKEN"); v != "" {
		cfg.PrimaryToken = v
	}
	if v := os.Getenv("SECONDARY_TOKEN"); v != "" {
		cfg.SecondaryToken = v
	}
	if v, ok := os.LookupEnv("INTERNAL_PEER_URLS"); ok {
		cfg.InternalPeers = splitURLList(v)
	}
	if v, ok := os.LookupEnv("PUBLIC_PEER_URLS"); ok {
		cfg.PublicPeers = splitURLList(v)
	}
	if v := os.Getenv("CORE_NETWORK_URL"); v != "" {
		cfg.CoreNetworkURL = strings.TrimRight(v, "/")
	}
	if secs, err := strconv.Atoi(os.Getenv("CORE_WORKER_INTERVAL")); err == nil {
		cfg.CoreWorkerInterval = time.Duration(secs) * time.Second
	}
	if secs, err := strconv.Atoi(os.Getenv("CORE_WORKER_QUIET_INTERVAL")); err == nil {
		cfg.CoreWorkerQuietInterval = time.Duration(secs) * time.Second
	}
	if secs, err := strconv.Atoi(os.Getenv("PUBLIC_REFRESH_INTERVAL")); err == nil {
		cfg.PublicRefreshInterval = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}
	if n, err := strconv.Atoi(os.Getenv("UPSTREAM_RATE_LIMIT")); err == nil {
		cfg.UpstreamRateLimit = n
	}
	if v := os.Getenv("TICKER_GROUP_FILE"); v != "" {
		cfg.TickerGroupFile = v
	}
	if v := os.Getenv("OFFICE_HOURS_ENABLED"); v != "" {
		cfg.OfficeHours.Enabled = v == "true" || v == "1"
	}
	cfg.BuildDate = os.Getenv("BUILD_DATE")
	cfg.GitCommit = os.Getenv("GIT_COMMIT")
}

func applyFile(cfg *Config) error {
	v := viper.New()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/priceproxy")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && os.Getenv("CONFIG_FILE") == "" {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if v.IsSet("node_name") {
		cfg.NodeName = v.GetString("node_name")
	}
	if v.IsSet("port") {
		cfg.Port = v.GetInt("port")
	}
	if v.IsSet("environment") {
		cfg.Environment = v.GetString("environment")
	}
	if v.IsSet("log_level") {
		cfg.LogLevel = v.GetString("log_level")
	}
	if v.IsSet("tokens.primary") {
		cfg.PrimaryToken = v.GetString("tokens.primary")
	}
	if v.IsSet("tokens.secondary") {
		cfg.SecondaryToken = v.GetString("tokens.secondary")
	}
	if v.IsSet("internal_peers") {
		cfg.InternalPeers = v.GetStringSlice("internal_peers")
	}
	if v.IsSet("public_peers") {
		cfg.PublicPeers = v.GetStringSlice("public_peers")
	}
	if v.IsSet("core_network_url") {
		cfg.CoreNetworkURL = strings.TrimRight(v.GetString("core_network_url"), "/")
	}
	if v.IsSet("core_worker_interval_secs") {
		cfg.CoreWorkerInterval = time.Duration(v.GetInt("core_worker_interval_secs")) * time.Second
	}
	if v.IsSet("core_worker_quiet_interval_secs") {
		cfg.CoreWorkerQuietInterval = time.Duration(v.GetInt("core_worker_quiet_interval_secs")) * time.Second
	}
	if v.IsSet("public_refresh_interval_secs") {
		cfg.PublicRefreshInterval = time.Duration(v.GetInt("public_refresh_interval_secs")) * time.Second
	}
	if v.IsSet("upstream.base_url") {
		cfg.UpstreamBaseURL = v.GetString("upstream.base_url")
	}
	if v.IsSet("upstream.rate_limit_per_minute") {
		cfg.UpstreamRateLimit = v.GetInt("upstream.rate_limit_per_minute")
	}
	if v.IsSet("ticker_group_file") {
		cfg.TickerGroupFile = v.GetString("ticker_group_file")
	}
	if v.IsSet("office_hours.enabled") {
		cfg.OfficeHours.Enabled = v.GetBool("office_hours.enabled")
	}
	if v.IsSet("office_hours.timezone") {
		cfg.OfficeHours.Timezone = v.GetString("office_hours.timezone")
	}
	if v.IsSet("office_hours.start_hour") {
		cfg.OfficeHours.StartHour = v.GetInt("office_hours.start_hour")
	}
	if v.IsSet("office_hours.end_hour") {
		cfg.OfficeHours.EndHour = v.GetInt("office_hours.end_hour")
	}
	if v.IsSet("office_hours.weekdays_only") {
		cfg.OfficeHours.WeekdaysOnly = v.GetBool("office_hours.weekdays_only")
	}
	return nil
}

// Validate checks the assembled configuration. Startup is the only place
// configuration errors are allowed to surface.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.CoreWorkerInterval <= 0 || c.CoreWorkerQuietInterval <= 0 || c.PublicRefreshInterval <= 0 {
		return fmt.Errorf("invalid configuration: worker intervals must be positive")
	}
	if c.OfficeHours.StartHour >= c.OfficeHours.EndHour {
		return fmt.Errorf("invalid configuration: office hours start %d is not before end %d",
			c.OfficeHours.StartHour, c.OfficeHours.EndHour)
	}
	return nil
}

func splitURLList(raw string) []string {
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}
