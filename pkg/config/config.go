// Package config loads the daemon configuration from systerfun.yaml, the
// environment and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

const (
	ConfigName = "systerfun"
	EnvPrefix  = "SYSTER"
)

// Config holds the emulator's runtime settings.
type Config struct {
	Debug              bool          `mapstructure:"debug"`
	EEPROMPath         string        `mapstructure:"eeprom_path"`
	SerialPort         string        `mapstructure:"serial_port"`
	BaudRate           int           `mapstructure:"baud_rate"`
	ListenAddress      string        `mapstructure:"listen_address"`
	APIListenAddress   string        `mapstructure:"api_listen_address"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	LogDB              string        `mapstructure:"log_db"`
	ManagementPassword string        `mapstructure:"management_password"`
	ImageCompression   string        `mapstructure:"image_compression"`
	ImagePassphrase    string        `mapstructure:"image_passphrase"`
}

func DefaultConfig() *Config {
	return &Config{
		EEPROMPath:       "eeprom.db",
		BaudRate:         115200,
		ListenAddress:    "",
		APIListenAddress: "127.0.0.1:7781",
		ReadTimeout:      0,
		LogDB:            "systerfun.db",
		ImageCompression: "zstd",
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("debug", d.Debug)
	v.SetDefault("eeprom_path", d.EEPROMPath)
	v.SetDefault("serial_port", d.SerialPort)
	v.SetDefault("baud_rate", d.BaudRate)
	v.SetDefault("listen_address", d.ListenAddress)
	v.SetDefault("api_listen_address", d.APIListenAddress)
	v.SetDefault("read_timeout", d.ReadTimeout)
	v.SetDefault("log_db", d.LogDB)
	v.SetDefault("management_password", d.ManagementPassword)
	v.SetDefault("image_compression", d.ImageCompression)
	v.SetDefault("image_passphrase", d.ImagePassphrase)
}

// LoadConfig reads the configuration. An explicit path must exist; without
// one the usual locations are searched and a missing file is not an error.
// Environment variables prefixed with SYSTER_ override the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/systerfun/")
		v.AddConfigPath("$HOME/.systerfun")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *Config) Validate() error {
	if c.EEPROMPath == "" {
		return errors.New("config: eeprom_path is required")
	}
	if c.SerialPort != "" && c.BaudRate <= 0 {
		return fmt.Errorf("config: invalid baud_rate %d", c.BaudRate)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("config: negative read_timeout %s", c.ReadTimeout)
	}
	switch c.ImageCompression {
	case "zstd", "gzip", "none":
	default:
		return fmt.Errorf("config: unknown image_compression %q", c.ImageCompression)
	}
	return nil
}

// HasHost reports whether at least one host link is configured.
func (c *Config) HasHost() bool {
	return c.SerialPort != "" || c.ListenAddress != ""
}

// Hostname is used in the startup banner.
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
