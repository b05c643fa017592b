package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "SMART_TRAINER"

	HeartRateSourceBLE = "ble"
	HeartRateSourceANT = "ant"
)

var ErrInvalidConfig = errors.New("invalid config")

type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type BluetoothConfig struct {
	ScanTimeout    time.Duration
	ConnectTimeout time.Duration
}

type TrainerConfig struct {
	DeriveCadence       bool
	WheelCircumferenceM float64
}

type ANTConfig struct {
	VID uint16
	PID uint16
}

type OSCConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// Config is the resolved application configuration.
// Precedence is flags, then SMART_TRAINER_* environment variables, then the config file, then defaults.
type Config struct {
	Mock            bool
	Log             LogConfig
	Bluetooth       BluetoothConfig
	PollInterval    time.Duration
	Trainer         TrainerConfig
	HeartRateSource string
	ANT             ANTConfig
	OSC             OSCConfig

	// ConfigFile is the file that was read, empty when none was found
	ConfigFile string
}

// DefaultDir is where the config file and the log file live unless overridden
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".smart-trainer")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mock", false)
	v.SetDefault("log.file", filepath.Join(DefaultDir(), "smart-trainer.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("bluetooth.scan_timeout", 10*time.Second)
	v.SetDefault("bluetooth.connect_timeout", 15*time.Second)
	v.SetDefault("sensor.poll_interval", time.Second)
	v.SetDefault("trainer.derive_cadence", true)
	v.SetDefault("trainer.wheel_circumference_m", 2.105)
	v.SetDefault("heart_rate.source", HeartRateSourceBLE)
	v.SetDefault("ant.vid", 0x0fcf)
	v.SetDefault("ant.pid", 0x1009)
	v.SetDefault("osc.enabled", false)
	v.SetDefault("osc.host", "127.0.0.1")
	v.SetDefault("osc.port", 9000)
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("smart-trainer", pflag.ContinueOnError)
	flags.String("config", "", "path to a config file (default ~/.smart-trainer/config.yaml)")
	flags.Bool("mock", false, "use simulated sensors instead of the radios")
	flags.String("log-file", "", "log file path")
	flags.Duration("scan-timeout", 10*time.Second, "how long a device discovery scans")
	flags.Duration("poll-interval", time.Second, "sensor read interval")
	flags.String("heart-rate-source", HeartRateSourceBLE, "heart rate source: ble or ant")
	flags.Bool("osc", false, "forward metrics over OSC")
	flags.String("osc-host", "127.0.0.1", "OSC target host")
	flags.Int("osc-port", 9000, "OSC target port")
	return flags
}

var flagKeys = map[string]string{
	"mock":              "mock",
	"log-file":          "log.file",
	"scan-timeout":      "bluetooth.scan_timeout",
	"poll-interval":     "sensor.poll_interval",
	"heart-rate-source": "heart_rate.source",
	"osc":               "osc.enabled",
	"osc-host":          "osc.host",
	"osc-port":          "osc.port",
}

// Load parses args (without the program name) and resolves the configuration
func Load(args []string) (Config, error) {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for flagName, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flagName)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	configFile, _ := flags.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{
		Mock: v.GetBool("mock"),
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
		Bluetooth: BluetoothConfig{
			ScanTimeout:    v.GetDuration("bluetooth.scan_timeout"),
			ConnectTimeout: v.GetDuration("bluetooth.connect_timeout"),
		},
		PollInterval: v.GetDuration("sensor.poll_interval"),
		Trainer: TrainerConfig{
			DeriveCadence:       v.GetBool("trainer.derive_cadence"),
			WheelCircumferenceM: v.GetFloat64("trainer.wheel_circumference_m"),
		},
		HeartRateSource: strings.ToLower(v.GetString("heart_rate.source")),
		ANT: ANTConfig{
			VID: uint16(v.GetUint("ant.vid")),
			PID: uint16(v.GetUint("ant.pid")),
		},
		OSC: OSCConfig{
			Enabled: v.GetBool("osc.enabled"),
			Host:    v.GetString("osc.host"),
			Port:    v.GetInt("osc.port"),
		},
		ConfigFile: v.ConfigFileUsed(),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.HeartRateSource {
	case HeartRateSourceBLE, HeartRateSourceANT:
	default:
		return fmt.Errorf("heart_rate.source %q: %w", c.HeartRateSource, ErrInvalidConfig)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("sensor.poll_interval %v: %w", c.PollInterval, ErrInvalidConfig)
	}
	if c.Bluetooth.ScanTimeout <= 0 {
		return fmt.Errorf("bluetooth.scan_timeout %v: %w", c.Bluetooth.ScanTimeout, ErrInvalidConfig)
	}
	if c.Trainer.WheelCircumferenceM <= 0 {
		return fmt.Errorf("trainer.wheel_circumference_m %v: %w", c.Trainer.WheelCircumferenceM, ErrInvalidConfig)
	}
	if c.OSC.Enabled && (c.OSC.Port <= 0 || c.OSC.Port > 65535) {
		return fmt.Errorf("osc.port %d: %w", c.OSC.Port, ErrInvalidConfig)
	}
	return nil
}
