package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/i474232898/hydro-data-aggregation/internal/common"
)

// AppConfig is the process configuration read from .env, HYDRO_* environment
// variables and an optional hydro.toml.
type AppConfig struct {
	Port        string
	HTTPTimeout time.Duration

	Query    QueryConfig
	Paths    PathConfig
	USBR     USBRConfig
	USGS     USGSConfig
	Aquarius AquariusConfig
	SQL      SQLConfig
	Watch    WatchConfig

	// In-memory store retention for watch results.
	StoreMaxHistory int           // max results kept per quick-look (0 = unlimited)
	StoreMaxAge     time.Duration // max age of results (0 = unlimited)

	Log LogConfig
}

type QueryConfig struct {
	Timeout      time.Duration
	MaxDBThreads int
	Internal     bool
	HistorySize  int
}

type PathConfig struct {
	Catalog    string
	QuickLooks string
	UserConfig string
}

type USBRConfig struct {
	BaseURL string
}

type USGSConfig struct {
	BaseURL string
}

type AquariusConfig struct {
	BaseURL    string
	Username   string
	CAFile     string
	QueryLimit int
	MaxThreads int
	TokenTTL   time.Duration
}

// SQLConfig enables the warehouse adapter when Driver is set. The DSN is
// read from the keystore, never from configuration.
type SQLConfig struct {
	Driver       string
	Placeholder  string
	MaxOpenConns int
}

func (c SQLConfig) Enabled() bool {
	return c.Driver != ""
}

type WatchConfig struct {
	QuickLooks []string
	Interval   time.Duration
	Window     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HYDRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("hydro")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.hydro/")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Port:        v.GetString("server.port"),
		HTTPTimeout: v.GetDuration("server.http_timeout"),
		Query: QueryConfig{
			Timeout:      v.GetDuration("query.timeout"),
			MaxDBThreads: v.GetInt("query.max_db_threads"),
			Internal:     v.GetBool("query.internal"),
			HistorySize:  v.GetInt("query.history_size"),
		},
		Paths: PathConfig{
			Catalog:    v.GetString("paths.catalog"),
			QuickLooks: v.GetString("paths.quicklooks"),
			UserConfig: v.GetString("paths.user_config"),
		},
		USBR: USBRConfig{BaseURL: v.GetString("usbr.base_url")},
		USGS: USGSConfig{BaseURL: v.GetString("usgs.base_url")},
		Aquarius: AquariusConfig{
			BaseURL:    v.GetString("aquarius.base_url"),
			Username:   v.GetString("aquarius.username"),
			CAFile:     v.GetString("aquarius.ca_file"),
			QueryLimit: v.GetInt("aquarius.query_limit"),
			MaxThreads: v.GetInt("aquarius.max_threads"),
			TokenTTL:   v.GetDuration("aquarius.token_ttl"),
		},
		SQL: SQLConfig{
			Driver:       v.GetString("sql.driver"),
			Placeholder:  v.GetString("sql.placeholder"),
			MaxOpenConns: v.GetInt("sql.max_open_conns"),
		},
		Watch: WatchConfig{
			QuickLooks: common.SplitList(v.GetString("watch.quicklooks")),
			Interval:   v.GetDuration("watch.interval"),
			Window:     v.GetDuration("watch.window"),
		},
		StoreMaxHistory: v.GetInt("store.max_history"),
		StoreMaxAge:     v.GetDuration("store.max_age"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if cfg.Query.MaxDBThreads <= 0 {
		return nil, fmt.Errorf("invalid HYDRO_QUERY_MAX_DB_THREADS: %d", cfg.Query.MaxDBThreads)
	}
	if cfg.Aquarius.MaxThreads <= 0 {
		return nil, fmt.Errorf("invalid HYDRO_AQUARIUS_MAX_THREADS: %d", cfg.Aquarius.MaxThreads)
	}
	if cfg.Query.Timeout <= 0 {
		return nil, fmt.Errorf("invalid HYDRO_QUERY_TIMEOUT: %s", cfg.Query.Timeout)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.http_timeout", "60s")

	v.SetDefault("query.timeout", "600s")
	v.SetDefault("query.max_db_threads", 3)
	v.SetDefault("query.internal", false)
	v.SetDefault("query.history_size", 100)

	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".hydro")
	v.SetDefault("paths.catalog", filepath.Join(base, "dataDictionary.csv"))
	v.SetDefault("paths.quicklooks", filepath.Join(base, "quicklooks"))
	v.SetDefault("paths.user_config", filepath.Join(base, "config.json"))

	v.SetDefault("usbr.base_url", "https://www.usbr.gov/pn-bin/hdb/hdb.pl")
	v.SetDefault("usgs.base_url", "https://waterservices.usgs.gov/nwis")

	v.SetDefault("aquarius.base_url", "")
	v.SetDefault("aquarius.username", "")
	v.SetDefault("aquarius.ca_file", "")
	v.SetDefault("aquarius.query_limit", 50000)
	v.SetDefault("aquarius.max_threads", 10)
	v.SetDefault("aquarius.token_ttl", "20m")

	v.SetDefault("sql.driver", "")
	v.SetDefault("sql.placeholder", "")
	v.SetDefault("sql.max_open_conns", 4)

	v.SetDefault("watch.quicklooks", "")
	v.SetDefault("watch.interval", "15m")
	v.SetDefault("watch.window", "24h")

	v.SetDefault("store.max_history", 96) // roughly 24h at 15-minute intervals
	v.SetDefault("store.max_age", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
