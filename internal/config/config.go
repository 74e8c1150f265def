// Package config loads the pirage configuration.
//
// Values are resolved in order: built-in defaults, the YAML file, then
// PIRAGE_* environment variables. Command-line flags are applied by main.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/pirage/internal/channel"
	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/thermal"
)

// Config is the root configuration.
type Config struct {
	Garage   GarageConfig   `yaml:"garage"`
	GPIO     GPIOConfig     `yaml:"gpio"`
	HTTP     HTTPConfig     `yaml:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Store    StoreConfig    `yaml:"store"`
	Thermal  ThermalConfig  `yaml:"thermal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GarageConfig holds the controller delays.
type GarageConfig struct {
	CloseDelay   time.Duration `yaml:"close_delay"`
	CloseWarning time.Duration `yaml:"close_warning"`
	NotifyDelay  time.Duration `yaml:"notify_delay"`
	MotionDelay  time.Duration `yaml:"motion_delay"`
}

// GPIOConfig holds the chip, BCM pin numbers and timings.
type GPIOConfig struct {
	Chip     string        `yaml:"chip"`
	PinPIR   int           `yaml:"pin_pir"`
	PinMag   int           `yaml:"pin_mag"`
	PinRelay int           `yaml:"pin_relay"`
	Poll     time.Duration `yaml:"poll"`
	Debounce time.Duration `yaml:"debounce"`
	Pulse    time.Duration `yaml:"pulse"`
}

// HTTPConfig configures the web server and live stream.
//
// An empty Addr disables the server. StreamKind and StreamCapacity select the
// channel each live subscriber reads from.
type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	StatusPush     time.Duration `yaml:"status_push"`
	StreamKind     string        `yaml:"stream_kind"`
	StreamCapacity int           `yaml:"stream_capacity"`
}

// MQTTConfig configures the MQTT push sink.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Topic       string `yaml:"topic"`
	TopicSystem string `yaml:"topic_system"`
	Buffer      int    `yaml:"buffer"`
}

// InfluxDBConfig configures event history.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// StoreConfig configures state persistence. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ThermalConfig configures the CPU temperature reader.
type ThermalConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string     `yaml:"level"`  // debug, info, warn, error
	Format string     `yaml:"format"` // json, text
	Output string     `yaml:"output"` // stdout, stderr, file
	File   FileConfig `yaml:"file"`
}

// FileConfig configures rotating file output.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the built-in configuration.
func Default() *Config {
	g := garage.DefaultConfig()
	return &Config{
		Garage: GarageConfig{
			CloseDelay:   g.CloseDelay,
			CloseWarning: g.CloseWarning,
			NotifyDelay:  g.NotifyDelay,
			MotionDelay:  g.MotionDelay,
		},
		GPIO: GPIOConfig{
			Chip:     gpio.DefaultChip,
			PinPIR:   gpio.DefaultPinPIR,
			PinMag:   gpio.DefaultPinMag,
			PinRelay: gpio.DefaultPinRelay,
			Poll:     100 * time.Millisecond,
			Pulse:    gpio.DefaultPulse,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			StatusPush:     time.Second,
			StreamKind:     string(channel.KindConflated),
			StreamCapacity: 1,
		},
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "pirage",
			Topic:       "home/garage/pirage/events",
			TopicSystem: "home/garage/pirage/system",
			Buffer:      100,
		},
		InfluxDB: InfluxDBConfig{
			URL:    "http://localhost:8086",
			Bucket: "pirage",
		},
		Store: StoreConfig{
			Path: "/var/lib/pirage/state.db",
		},
		Thermal: ThermalConfig{
			Path: thermal.DefaultPath,
			TTL:  thermal.DefaultTTL,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File: FileConfig{
				Path:       "/var/log/pirage/pirage.log",
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
	}
}

// Load reads path (if non-empty), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies PIRAGE_SECTION_KEY variables.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PIRAGE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("PIRAGE_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("PIRAGE_MQTT_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PIRAGE_MQTT_ENABLED: %w", err)
		}
		cfg.MQTT.Enabled = b
	}
	if v := os.Getenv("PIRAGE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("PIRAGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("PIRAGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("PIRAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Garage.CloseDelay <= 0 {
		errs = append(errs, "garage.close_delay must be positive")
	}
	if c.Garage.CloseWarning < 0 {
		errs = append(errs, "garage.close_warning must not be negative")
	}
	if c.Garage.NotifyDelay <= 0 {
		errs = append(errs, "garage.notify_delay must be positive")
	}
	if c.Garage.MotionDelay < 0 {
		errs = append(errs, "garage.motion_delay must not be negative")
	}

	if c.GPIO.Poll <= 0 {
		errs = append(errs, "gpio.poll must be positive")
	}
	if c.GPIO.Debounce < 0 {
		errs = append(errs, "gpio.debounce must not be negative")
	}
	if c.GPIO.Pulse <= 0 {
		errs = append(errs, "gpio.pulse must be positive")
	}
	pins := map[int]string{}
	for _, p := range []struct {
		name string
		pin  int
	}{{"pin_pir", c.GPIO.PinPIR}, {"pin_mag", c.GPIO.PinMag}, {"pin_relay", c.GPIO.PinRelay}} {
		if p.pin < 0 {
			errs = append(errs, fmt.Sprintf("gpio.%s must not be negative", p.name))
			continue
		}
		if other, ok := pins[p.pin]; ok {
			errs = append(errs, fmt.Sprintf("gpio.%s duplicates gpio.%s", p.name, other))
		}
		pins[p.pin] = p.name
	}

	if c.HTTP.StatusPush <= 0 {
		errs = append(errs, "http.status_push must be positive")
	}
	switch channel.Kind(c.HTTP.StreamKind) {
	case channel.KindBuffered, channel.KindConflated, channel.KindRendezvous:
	default:
		errs = append(errs, fmt.Sprintf("http.stream_kind %q must be buffered, conflated or rendezvous", c.HTTP.StreamKind))
	}
	if c.HTTP.StreamCapacity < 0 {
		errs = append(errs, "http.stream_capacity must not be negative")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Logging.File.Path == "" {
			errs = append(errs, "logging.file.path is required when logging.output is file")
		}
	default:
		errs = append(errs, fmt.Sprintf("logging.output %q must be stdout, stderr or file", c.Logging.Output))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// GarageSettings converts the garage section for the controller.
func (c *Config) GarageSettings() garage.Config {
	return garage.Config{
		CloseDelay:   c.Garage.CloseDelay,
		CloseWarning: c.Garage.CloseWarning,
		NotifyDelay:  c.Garage.NotifyDelay,
		MotionDelay:  c.Garage.MotionDelay,
	}
}
