package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"robotcontrol/internal/adapters"
	"robotcontrol/internal/clock"
	"robotcontrol/internal/plugins/robotdriver"
	"robotcontrol/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type message struct {
	topic   string
	payload []byte
}

// fakePublisher records what would have gone to the broker
type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	closed   bool
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func setup(t *testing.T) (*plugin.Registry, *fakePublisher, *Plugin, *clock.MockClock) {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewMockClock(time.Unix(0, 0))
	registry := plugin.NewRegistry(logger)

	driver := robotdriver.New("", adapters.NewFactory(clk, logger), "unitree_go2", "192.168.123.161", nil, logger)
	require.NoError(t, registry.Register(driver))

	pub := &fakePublisher{}
	p := New(Config{Driver: robotdriver.Kind, Interval: time.Second}, registry, pub, clk, logger)
	require.NoError(t, registry.Register(p))
	return registry, pub, p, clk
}

func TestPlugin_DependsOnDriver(t *testing.T) {
	registry := plugin.NewRegistry(zap.NewNop())
	p := New(Config{Driver: "robot_driver"}, registry, &fakePublisher{}, clock.NewMockClock(time.Unix(0, 0)), zap.NewNop())

	err := registry.Register(p)
	assert.True(t, errors.Is(err, plugin.ErrUnmetDependency))
	assert.Equal(t, []string{"robot_driver"}, p.Metadata().Dependencies)
}

func TestPlugin_PublishOnce(t *testing.T) {
	registry, pub, p, _ := setup(t)

	assert.Error(t, p.PublishOnce(), "not initialized")

	require.NoError(t, registry.InitializeAll(context.Background()))
	require.NoError(t, p.PublishOnce())

	require.Equal(t, 1, pub.count())
	msg := pub.messages[0]
	assert.Equal(t, "robotcontrol/unitree_go2/state", msg.topic)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(msg.payload, &snap))
	assert.Equal(t, "unitree_go2", snap.Code)
	assert.True(t, snap.Connected)
	assert.Len(t, snap.State.JointPositions, 12)

	pub.err = errors.New("broker down")
	assert.ErrorContains(t, p.PublishOnce(), "broker down")
	assert.Equal(t, int64(1), p.Status()["published"])
}

func TestPlugin_TickerLoop(t *testing.T) {
	registry, pub, p, clk := setup(t)
	require.NoError(t, registry.InitializeAll(context.Background()))
	require.NoError(t, registry.StartAll())
	assert.Equal(t, true, p.Status()["running"])

	for i := 1; i <= 3; i++ {
		require.Eventually(t, func() bool { return clk.Pending() > 0 }, time.Second, time.Millisecond)
		clk.Advance(time.Second)
		want := i
		require.Eventually(t, func() bool { return pub.count() == want }, time.Second, time.Millisecond)
	}

	require.NoError(t, registry.ShutdownAll())
	assert.Equal(t, false, p.Status()["running"])
	assert.True(t, pub.closed)
}

func TestConstructor(t *testing.T) {
	registry := plugin.NewRegistry(zap.NewNop())
	pctx := plugin.NewContext(zap.NewNop(), registry, nil, nil, nil)

	_, err := Constructor(pctx, map[string]any{})
	assert.ErrorContains(t, err, "broker is required")

	p, err := Constructor(pctx, map[string]any{"broker": "tcp://localhost:1883", "interval": 2, "topic_prefix": "lab"})
	require.NoError(t, err)
	tp := p.(*Plugin)
	assert.Equal(t, 2*time.Second, tp.cfg.Interval)
	assert.Equal(t, "lab/g1/state", tp.Topic("g1"))
}
