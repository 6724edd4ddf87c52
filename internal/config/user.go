package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Hour timestamp conventions.
const (
	HourBOP = "BOP"
	HourEOP = "EOP"
)

// UserConfig holds the per-user options persisted as JSON next to the
// quick-looks.
type UserConfig struct {
	UTCOffset           string `mapstructure:"utcOffset" json:"utcOffset"`
	RetroMode           bool   `mapstructure:"retroMode" json:"retroMode"`
	QAQC                bool   `mapstructure:"qaqc" json:"qaqc"`
	RawData             bool   `mapstructure:"rawData" json:"rawData"`
	PeriodOffset        bool   `mapstructure:"periodOffset" json:"periodOffset"`
	DebugMode           bool   `mapstructure:"debugMode" json:"debugMode"`
	HourTimestampMethod string `mapstructure:"hourTimestampMethod" json:"hourTimestampMethod"`
}

// DefaultUserConfig is used when no file exists.
func DefaultUserConfig() UserConfig {
	return UserConfig{
		QAQC:                true,
		HourTimestampMethod: HourBOP,
	}
}

// PeriodOffsetEnabled reports whether hourly USBR values use the
// end-of-period convention. hourTimestampMethod=EOP is a synonym for
// periodOffset.
func (u UserConfig) PeriodOffsetEnabled() bool {
	return u.PeriodOffset || strings.EqualFold(u.HourTimestampMethod, HourEOP)
}

// LoadUserConfig reads the JSON user configuration at path. A missing file
// yields the defaults; keys absent from the file keep their default value.
func LoadUserConfig(path string) (UserConfig, error) {
	cfg := DefaultUserConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to stat user config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("utcOffset", cfg.UTCOffset)
	v.SetDefault("qaqc", cfg.QAQC)
	v.SetDefault("hourTimestampMethod", cfg.HourTimestampMethod)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("failed to read user config: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode user config: %w", err)
	}

	cfg.HourTimestampMethod = strings.ToUpper(strings.TrimSpace(cfg.HourTimestampMethod))
	if cfg.HourTimestampMethod != HourBOP && cfg.HourTimestampMethod != HourEOP {
		return cfg, fmt.Errorf("invalid hourTimestampMethod %q", cfg.HourTimestampMethod)
	}
	return cfg, nil
}
