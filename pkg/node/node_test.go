package node

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itohio/d1node/pkg/board"
	"github.com/itohio/d1node/pkg/config"
	"github.com/itohio/d1node/pkg/debuglog"
	"github.com/itohio/d1node/pkg/events"
	"github.com/itohio/d1node/pkg/indicator"
	"github.com/itohio/d1node/pkg/mqtt"
	"github.com/itohio/d1node/pkg/wifi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nodeAddr = netip.AddrFrom4([4]byte{192, 168, 1, 42})

type harness struct {
	cfg     *config.Config
	board   *board.Mock
	station *wifi.Mock
	debug   *bytes.Buffer
	node    *Node
	sleeps  []time.Duration
	mu      sync.Mutex
}

// newHarness builds a node over a scripted board. The loop sleeps are
// recorded instead of slept.
func newHarness(t *testing.T, script []int, tweak func(cfg *config.Config), links ...wifi.Status) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Board.Mock = config.MockConfig{Pattern: "script", Script: script}
	cfg.WiFi.SSID = "lab"
	cfg.WiFi.RetryInterval = time.Millisecond
	if tweak != nil {
		tweak(cfg)
	}

	h := &harness{
		cfg:     cfg,
		board:   board.NewMock(&cfg.Board.Mock),
		station: wifi.NewMock(nodeAddr, links...),
		debug:   &bytes.Buffer{},
	}

	n, err := New(Options{
		Config:  cfg,
		Board:   h.board,
		Station: h.station,
		Debug:   debuglog.New(h.debug, cfg.Debug.Enabled),
	})
	require.NoError(t, err)
	n.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	t.Cleanup(func() { _ = n.Close() })

	h.node = n
	return h
}

func (h *harness) recordedSleeps() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func enableWiFi(cfg *config.Config) {
	cfg.WiFi.Enabled = true
	cfg.WiFi.MaxAttempts = 3
	cfg.WiFi.RetryForever = false
}

func TestNew_Validation(t *testing.T) {
	cfg := config.Default()

	_, err := New(Options{Board: board.NewMock(nil)})
	assert.Error(t, err)

	_, err = New(Options{Config: cfg})
	assert.Error(t, err)

	cfg.WiFi.Enabled = true
	_, err = New(Options{Config: cfg, Board: board.NewMock(nil)})
	assert.Error(t, err)

	n, err := New(Options{Config: config.Default(), Board: board.NewMock(nil)})
	require.NoError(t, err)
	assert.Nil(t, n.Supervisor())
	assert.Equal(t, LinkDisabled, n.Snapshot().Link)
	assert.Equal(t, wifi.Unset, n.Snapshot().Address)
	require.NoError(t, n.Close())
}

func TestSetup_Banners(t *testing.T) {
	h := newHarness(t, []int{15}, nil)

	require.NoError(t, h.node.Setup(context.Background()))

	assert.True(t, h.board.IsConnected())
	assert.Equal(t, indicator.Black.RGBA(), h.board.Displayed(), "LED is off after setup")
	assert.Equal(t, "\r\n"+SerialReady+"\r\n"+SetupComplete+"\r\n", h.debug.String())
	assert.Zero(t, h.station.Polls(), "no Wi-Fi activity when disabled")
}

func TestSetup_DebugDisabled(t *testing.T) {
	h := newHarness(t, []int{15}, func(cfg *config.Config) { cfg.Debug.Enabled = false })

	require.NoError(t, h.node.Setup(context.Background()))
	require.NoError(t, h.node.Tick(context.Background()))

	assert.Empty(t, h.debug.String())
}

func TestTick_BandColors(t *testing.T) {
	tests := []struct {
		value int
		band  string
		color indicator.Color
	}{
		{0, "low", indicator.Green},
		{15, "low", indicator.Green},
		{20, "low", indicator.Green},
		{21, "mid", indicator.Blue},
		{55, "mid", indicator.Blue},
		{100, "mid", indicator.Blue},
		{101, "high", indicator.Red},
		{300, "high", indicator.Red},
		{1023, "high", indicator.Red},
	}

	for _, tt := range tests {
		t.Run(tt.band, func(t *testing.T) {
			h := newHarness(t, []int{tt.value}, nil)
			require.NoError(t, h.node.Setup(context.Background()))
			h.debug.Reset()

			require.NoError(t, h.node.Tick(context.Background()))

			assert.Equal(t, tt.color.RGBA(), h.board.Displayed())
			st := h.node.Snapshot()
			assert.Equal(t, tt.value, st.Value)
			assert.Equal(t, tt.band, st.Band)
			assert.Equal(t, tt.color.String(), st.Color)
			assert.Equal(t, LinkDisabled, st.Link)
			assert.Contains(t, h.debug.String(), "ADC value: ")
		})
	}
}

func TestTick_Sequence(t *testing.T) {
	h := newHarness(t, []int{15, 55, 300}, nil)
	require.NoError(t, h.node.Setup(context.Background()))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.node.Tick(context.Background()))
	}

	shown := h.board.Shown()
	require.Len(t, shown, 4)
	assert.Equal(t, indicator.Black.RGBA(), shown[0])
	assert.Equal(t, indicator.Green.RGBA(), shown[1])
	assert.Equal(t, indicator.Blue.RGBA(), shown[2])
	assert.Equal(t, indicator.Red.RGBA(), shown[3])

	assert.Equal(t, uint64(3), h.node.Snapshot().Ticks)
	assert.Equal(t, 3, h.board.Reads(), "exactly one read per tick")

	settle := h.cfg.Loop.Settle
	assert.Equal(t, []time.Duration{settle, settle, settle}, h.recordedSleeps())
}

func TestTick_HeartbeatOverridesBandColor(t *testing.T) {
	h := newHarness(t, []int{55, 300}, enableWiFi, wifi.Connected)
	require.NoError(t, h.node.Setup(context.Background()))
	assert.Contains(t, h.debug.String(), "IP address: 192.168.1.42")

	before := len(h.board.Shown())
	require.NoError(t, h.node.Tick(context.Background()))

	shown := h.board.Shown()[before:]
	assert.Equal(t, []indicator.Color{indicator.Blue, indicator.Green}, asColors(shown),
		"band color first, then the heartbeat")

	st := h.node.Snapshot()
	assert.Equal(t, "mid", st.Band)
	assert.Equal(t, "green", st.Color)
	assert.Equal(t, "connected", st.Link)
	assert.Equal(t, "192.168.1.42", st.Address)
}

func TestTick_HeartbeatLinkDown(t *testing.T) {
	h := newHarness(t, []int{15}, enableWiFi, wifi.Connected)
	require.NoError(t, h.node.Setup(context.Background()))

	h.station.SetScript(wifi.Disconnected)
	require.NoError(t, h.node.Tick(context.Background()))

	assert.Equal(t, indicator.Red.RGBA(), h.board.Displayed())
	st := h.node.Snapshot()
	assert.Equal(t, "low", st.Band)
	assert.Equal(t, "disconnected", st.Link)
	assert.Equal(t, wifi.Unset, st.Address)

	_, _, begins := h.station.Joined()
	assert.Equal(t, 1, begins, "the loop never re-runs Connect")
}

func TestTick_ReadFailureContinues(t *testing.T) {
	h := newHarness(t, []int{15}, enableWiFi, wifi.Connected)
	require.NoError(t, h.node.Setup(context.Background()))
	require.NoError(t, h.board.Close())

	polls := h.station.Polls()
	require.NoError(t, h.node.Tick(context.Background()))

	st := h.node.Snapshot()
	assert.NotEmpty(t, st.Error)
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, polls+1, h.station.Polls(), "heartbeat still runs")
	assert.Equal(t, indicator.Green, h.node.Indicator().Current())
}

func TestTick_Cancelled(t *testing.T) {
	h := newHarness(t, []int{15}, nil)
	require.NoError(t, h.node.Setup(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.node.Tick(ctx), context.Canceled)
}

func TestSetup_WiFiGivesUp(t *testing.T) {
	h := newHarness(t, []int{15}, enableWiFi, wifi.Disconnected)

	require.NoError(t, h.node.Setup(context.Background()))

	assert.Equal(t, 3, h.station.Polls())
	assert.Equal(t, indicator.Red.RGBA(), h.board.Displayed())
	assert.Equal(t, "disconnected", h.node.Snapshot().Link)
	assert.Contains(t, h.debug.String(), "Connecting to lab...")
	assert.True(t, strings.HasSuffix(h.debug.String(), SetupComplete+"\r\n"))
}

func TestSetup_WiFiRetryForever(t *testing.T) {
	h := newHarness(t, []int{15}, func(cfg *config.Config) {
		enableWiFi(cfg)
		cfg.WiFi.MaxAttempts = 2
		cfg.WiFi.RetryForever = true
	}, wifi.Disconnected, wifi.Disconnected, wifi.Disconnected, wifi.Connected)

	require.NoError(t, h.node.Setup(context.Background()))

	_, hostname, begins := h.station.Joined()
	assert.Equal(t, 2, begins, "second round joins")
	assert.Equal(t, "d1node", hostname)
	assert.Equal(t, "connected", h.node.Snapshot().Link)
	assert.Equal(t, "192.168.1.42", h.node.Snapshot().Address)
}

func TestSetup_WiFiCancelled(t *testing.T) {
	h := newHarness(t, []int{15}, func(cfg *config.Config) {
		enableWiFi(cfg)
		cfg.WiFi.MaxAttempts = 0
	}, wifi.Disconnected)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := h.node.Setup(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, h.debug.String(), SetupComplete)
}

func TestTick_PublishesEvents(t *testing.T) {
	h := newHarness(t, []int{300}, enableWiFi, wifi.Connecting, wifi.Connected)

	ticks := make(chan events.TickEvent, 1)
	links := make(chan events.LinkStateEvent, 4)
	defer h.node.Bus().Subscribe(func(e events.TickEvent) { ticks <- e })()
	defer h.node.Bus().Subscribe(func(e events.LinkStateEvent) { links <- e })()

	require.NoError(t, h.node.Setup(context.Background()))
	require.NoError(t, h.node.Tick(context.Background()))

	select {
	case e := <-ticks:
		assert.Equal(t, uint64(1), e.Seq)
		assert.Equal(t, 300, e.Value)
		assert.Equal(t, "high", e.Band)
		assert.Equal(t, "green", e.Color)
		assert.Equal(t, "connected", e.Link)
		assert.Empty(t, e.Error)
	case <-time.After(time.Second):
		t.Fatal("tick event not delivered")
	}

	select {
	case e := <-links:
		assert.Equal(t, "connected", e.State)
		assert.Equal(t, "192.168.1.42", e.Address)
		assert.Equal(t, 2, e.Polls)
	case <-time.After(time.Second):
		t.Fatal("link event not delivered")
	}
}

type fakeClient struct {
	mqtt.Noop
	mu         sync.Mutex
	connectErr error
	connected  bool
	topics     []string
	published  map[string]int
	callback   mqtt.Handler
	closed     bool
}

func (c *fakeClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return c.connectErr
}

func (c *fakeClient) Subscribe(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeClient) SetCallback(h mqtt.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = h
}

func (c *fakeClient) Publish(topic string, _ []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[topic]++
	return nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) publishes(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[topic]
}

func TestSetup_MQTT(t *testing.T) {
	cfg := config.Default()
	cfg.Board.Mock = config.MockConfig{Pattern: "constant", Value: 55}
	cfg.MQTT.Enabled = true
	cfg.MQTT.Subscribe = []string{"d1node/cmd/#"}
	cfg.MQTT.PublishInterval = time.Nanosecond
	cfg.Loop.Settle = 0

	client := &fakeClient{published: make(map[string]int)}
	n, err := New(Options{Config: cfg, Board: board.NewMock(&cfg.Board.Mock), MQTT: client})
	require.NoError(t, err)

	require.NoError(t, n.Setup(context.Background()))
	assert.True(t, client.connected)
	assert.Equal(t, []string{"d1node/cmd/#"}, client.topics)
	require.NotNil(t, client.callback)
	assert.NotPanics(t, func() { client.callback("d1node/cmd/ping", []byte("1")) })

	require.NoError(t, n.Tick(context.Background()))
	assert.Eventually(t, func() bool {
		return client.publishes("d1node/d1node/sample") == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, n.Close())
	assert.True(t, client.closed)
}

func TestSetup_MQTTUnavailable(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Enabled = true

	client := &fakeClient{published: make(map[string]int), connectErr: errors.New("refused")}
	n, err := New(Options{Config: cfg, Board: board.NewMock(nil), MQTT: client})
	require.NoError(t, err)
	defer n.Close()

	assert.NoError(t, n.Setup(context.Background()), "broker outage is not fatal")
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t, []int{15, 55}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h.node.sleep = func(ctx context.Context, d time.Duration) error {
		if h.node.Snapshot().Ticks >= 3 {
			cancel()
		}
		return ctx.Err()
	}

	err := h.node.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(3), h.node.Snapshot().Ticks)
}

func TestRun_Interval(t *testing.T) {
	h := newHarness(t, []int{15}, func(cfg *config.Config) {
		cfg.Loop.Interval = 20 * time.Millisecond
		cfg.Loop.Settle = time.Millisecond
	})
	h.node.sleep = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()

	err := h.node.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ticks := h.node.Snapshot().Ticks
	assert.GreaterOrEqual(t, ticks, uint64(3))
	assert.LessOrEqual(t, ticks, uint64(7))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func asColors(shown []color.RGBA) []indicator.Color {
	out := make([]indicator.Color, len(shown))
	for i, c := range shown {
		out[i] = indicator.Color(c)
	}
	return out
}
