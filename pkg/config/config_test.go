package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.True(t, cfg.Debug.Enabled)
	assert.Equal(t, 115200, cfg.Debug.BaudRate)
	assert.Equal(t, 115200, cfg.Board.BaudRate)
	assert.Equal(t, 0, cfg.ADC.Channel)
	assert.Equal(t, time.Minute, cfg.MQTT.ReconnectInterval)
	assert.Equal(t, 2000*time.Millisecond, cfg.Loop.Interval)
	assert.Equal(t, 10*time.Millisecond, cfg.Loop.Settle)
	assert.Equal(t, time.Second, cfg.WiFi.RetryInterval)
	assert.Equal(t, "constant", cfg.WiFi.Backoff)
	assert.Equal(t, "YOUR_SSID", cfg.WiFi.SSID)
	assert.False(t, cfg.MQTT.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Board.Port)
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "test_config_*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoad_ValidYAML(t *testing.T) {
	name := writeTemp(t, `
debug:
  enabled: false

board:
  port: "/dev/ttyACM0"
  mock:
    pattern: script
    script: [15, 55, 300]

adc:
  channel: 2

loop:
  interval: 500ms
  settle: 20ms

wifi:
  enabled: true
  ssid: "lab"
  password: "secret"
  hostname: "bench-1"
  retry_interval: 250ms
  max_attempts: 4
  backoff: exponential
  retry_forever: false

mqtt:
  enabled: true
  broker: "tcp://broker:1883"
  subscribe: ["d1node/cmd/#"]
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.False(t, cfg.Debug.Enabled)
	assert.Equal(t, "/dev/ttyACM0", cfg.Board.Port)
	assert.Equal(t, "script", cfg.Board.Mock.Pattern)
	assert.Equal(t, []int{15, 55, 300}, cfg.Board.Mock.Script)
	assert.Equal(t, 2, cfg.ADC.Channel)
	assert.Equal(t, 500*time.Millisecond, cfg.Loop.Interval)
	assert.Equal(t, 20*time.Millisecond, cfg.Loop.Settle)
	assert.True(t, cfg.WiFi.Enabled)
	assert.Equal(t, "lab", cfg.WiFi.SSID)
	assert.Equal(t, "bench-1", cfg.WiFi.Hostname)
	assert.Equal(t, 250*time.Millisecond, cfg.WiFi.RetryInterval)
	assert.Equal(t, 4, cfg.WiFi.MaxAttempts)
	assert.Equal(t, "exponential", cfg.WiFi.Backoff)
	assert.False(t, cfg.WiFi.RetryForever)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, []string{"d1node/cmd/#"}, cfg.MQTT.Subscribe)
}

func TestLoad_InvalidYAML(t *testing.T) {
	name := writeTemp(t, "invalid: yaml: content: [")

	cfg, err := Load(name)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	name := writeTemp(t, `
board:
  port: "/dev/ttyACM0"
`)

	cfg, err := Load(name)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Board.Port)
	assert.Equal(t, 2000*time.Millisecond, cfg.Loop.Interval) // default
	assert.Equal(t, "d1node", cfg.WiFi.Hostname)              // default
	assert.True(t, cfg.Debug.Enabled)                         // default
}

func TestLoad_ZeroValuesFallBackToDefaults(t *testing.T) {
	name := writeTemp(t, `
loop:
  interval: 0s
wifi:
  retry_interval: 0s
  backoff: ""
`)

	cfg, err := Load(name)
	require.NoError(t, err)
	assert.Equal(t, 2000*time.Millisecond, cfg.Loop.Interval)
	assert.Equal(t, time.Second, cfg.WiFi.RetryInterval)
	assert.Equal(t, "constant", cfg.WiFi.Backoff)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"negative channel", "adc:\n  channel: -1\n"},
		{"unknown backoff", "wifi:\n  backoff: linear\n"},
		{"negative attempts", "wifi:\n  max_attempts: -3\n"},
		{"unknown mock pattern", "board:\n  mock:\n    pattern: noise\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeTemp(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Board.Port = "/dev/ttyUSB1"
	cfg.Loop.Interval = 750 * time.Millisecond
	cfg.WiFi.Hostname = "porch"

	tmpfile, err := os.CreateTemp("", "test_save_*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	err = cfg.Save(tmpfile.Name())
	require.NoError(t, err)

	loaded, err := Load(tmpfile.Name())
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", loaded.Board.Port)
	assert.Equal(t, 750*time.Millisecond, loaded.Loop.Interval)
	assert.Equal(t, "porch", loaded.WiFi.Hostname)
}

func TestSave_FirmwareSettingsStayOut(t *testing.T) {
	name := writeTemp(t, "")
	require.NoError(t, Default().Save(name))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "led:")
	assert.NotContains(t, string(data), "  max:")

	// Files written before the pixel settings moved to the firmware still load.
	cfg, err := Load(writeTemp(t, "led:\n  pin: D4\n  count: 1\nadc:\n  channel: 0\n  max: 1023\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.ADC.Channel)
}
