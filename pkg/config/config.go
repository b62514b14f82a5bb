package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the node configuration. It is loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Debug   DebugConfig   `yaml:"debug"`
	Board   BoardConfig   `yaml:"board"`
	ADC     ADCConfig     `yaml:"adc"`
	Loop    LoopConfig    `yaml:"loop"`
	WiFi    WiFiConfig    `yaml:"wifi"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// DebugConfig controls the diagnostic output channel.
type DebugConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Port     string `yaml:"port"`      // Serial port for debug output, empty = stdout
	BaudRate int    `yaml:"baud_rate"` // Serial data rate for the debug port
}

// BoardConfig contains the link to the board.
type BoardConfig struct {
	Port     string     `yaml:"port"`
	BaudRate int        `yaml:"baud_rate"`
	Mock     MockConfig `yaml:"mock"`
}

// ADCConfig selects the analog input. Resolution and the pixel pin are fixed
// in the firmware.
type ADCConfig struct {
	Channel int `yaml:"channel"` // A0 = 0
}

// LoopConfig contains control loop timing.
type LoopConfig struct {
	Interval time.Duration `yaml:"interval"` // Delay between ticks
	Settle   time.Duration `yaml:"settle"`   // Delay after the band color update
}

// WiFiConfig contains station mode settings.
type WiFiConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SSID          string        `yaml:"ssid"`
	Password      string        `yaml:"password"`
	Hostname      string        `yaml:"hostname"`
	Interface     string        `yaml:"interface"`      // Host wireless interface
	Manage        bool          `yaml:"manage"`         // Drive association through nmcli
	RetryInterval time.Duration `yaml:"retry_interval"` // Status poll interval while connecting
	MaxAttempts   int           `yaml:"max_attempts"`   // 0 = poll until connected
	Backoff       string        `yaml:"backoff"`        // constant or exponential
	RetryForever  bool          `yaml:"retry_forever"`  // Repeat Connect rounds until the link is up
}

// MQTTConfig contains the optional message queue client settings.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"`
	ClientID        string        `yaml:"client_id"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	Subscribe       []string      `yaml:"subscribe"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`

	ReconnectInterval time.Duration `yaml:"reconnect_interval"` // Max delay between background reconnects
}

// HTTPConfig contains the status and metrics endpoint settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // Empty disables the endpoint
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level   string            `yaml:"level"`
	Format  string            `yaml:"format"`
	Modules map[string]string `yaml:"modules"`
	Journal bool              `yaml:"journal"` // Also log to the systemd journal when available
}

// MockConfig contains mock board configuration.
type MockConfig struct {
	Pattern string        `yaml:"pattern"` // constant, sweep or script
	Value   int           `yaml:"value"`   // Value for the constant pattern
	Step    int           `yaml:"step"`    // Increment per read for the sweep pattern
	Script  []int         `yaml:"script"`  // Values replayed in order for the script pattern
	Latency time.Duration `yaml:"latency"` // Simulated conversion time
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Debug: DebugConfig{
			Enabled:  true,
			BaudRate: 115200,
		},
		Board: BoardConfig{
			Port:     "/dev/ttyUSB0",
			BaudRate: 115200,
			Mock: MockConfig{
				Pattern: "sweep",
				Step:    15,
				Latency: time.Millisecond,
			},
		},
		ADC: ADCConfig{
			Channel: 0,
		},
		Loop: LoopConfig{
			Interval: 2000 * time.Millisecond,
			Settle:   10 * time.Millisecond,
		},
		WiFi: WiFiConfig{
			Enabled:       false,
			SSID:          "YOUR_SSID",
			Password:      "YOUR_PASSWORD",
			Hostname:      "d1node",
			Interface:     "wlan0",
			RetryInterval: 1000 * time.Millisecond,
			MaxAttempts:   30,
			Backoff:       "constant",
			RetryForever:  true,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Broker:          "tcp://localhost:1883",
			TopicPrefix:     "d1node",
			PublishInterval: 5 * time.Second,
			ConnectTimeout:  5 * time.Second,
			MaxRetries:      5,
			BreakerFailures: 3,
			BreakerTimeout:  30 * time.Second,

			ReconnectInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the node cannot run with.
func (c *Config) Validate() error {
	if c.ADC.Channel < 0 {
		return fmt.Errorf("invalid adc channel %d", c.ADC.Channel)
	}
	if c.Loop.Interval < 0 || c.Loop.Settle < 0 {
		return fmt.Errorf("loop delays must not be negative")
	}
	if c.WiFi.MaxAttempts < 0 {
		return fmt.Errorf("wifi max_attempts must not be negative")
	}
	switch c.WiFi.Backoff {
	case "constant", "exponential":
	default:
		return fmt.Errorf("unknown wifi backoff %q", c.WiFi.Backoff)
	}
	switch c.Board.Mock.Pattern {
	case "constant", "sweep", "script":
	default:
		return fmt.Errorf("unknown mock pattern %q", c.Board.Mock.Pattern)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Debug.BaudRate == 0 {
		c.Debug.BaudRate = def.Debug.BaudRate
	}

	if c.Board.Port == "" {
		c.Board.Port = def.Board.Port
	}
	if c.Board.BaudRate == 0 {
		c.Board.BaudRate = def.Board.BaudRate
	}
	if c.Board.Mock.Pattern == "" {
		c.Board.Mock.Pattern = def.Board.Mock.Pattern
	}
	if c.Board.Mock.Step == 0 {
		c.Board.Mock.Step = def.Board.Mock.Step
	}

	if c.Loop.Interval == 0 {
		c.Loop.Interval = def.Loop.Interval
	}

	if c.WiFi.Hostname == "" {
		c.WiFi.Hostname = def.WiFi.Hostname
	}
	if c.WiFi.Interface == "" {
		c.WiFi.Interface = def.WiFi.Interface
	}
	if c.WiFi.RetryInterval == 0 {
		c.WiFi.RetryInterval = def.WiFi.RetryInterval
	}
	if c.WiFi.Backoff == "" {
		c.WiFi.Backoff = def.WiFi.Backoff
	}

	if c.MQTT.Broker == "" {
		c.MQTT.Broker = def.MQTT.Broker
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = def.MQTT.TopicPrefix
	}
	if c.MQTT.PublishInterval == 0 {
		c.MQTT.PublishInterval = def.MQTT.PublishInterval
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = def.MQTT.ConnectTimeout
	}
	if c.MQTT.MaxRetries == 0 {
		c.MQTT.MaxRetries = def.MQTT.MaxRetries
	}
	if c.MQTT.BreakerFailures == 0 {
		c.MQTT.BreakerFailures = def.MQTT.BreakerFailures
	}
	if c.MQTT.BreakerTimeout == 0 {
		c.MQTT.BreakerTimeout = def.MQTT.BreakerTimeout
	}
	if c.MQTT.ReconnectInterval == 0 {
		c.MQTT.ReconnectInterval = def.MQTT.ReconnectInterval
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
}
