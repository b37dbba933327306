// Package telemetry publishes periodic robot state snapshots over MQTT.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/plugin"
	"robotcontrol/pkg/robot"
)

const (
	Kind    = "telemetry"
	Version = "1.0.0"

	DefaultInterval    = 5 * time.Second
	DefaultTopicPrefix = "robotcontrol"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
	Close()
}

// AdapterSource is implemented by robot driver plugins.
type AdapterSource interface {
	Adapter() robot.Adapter
}

// Snapshot is the JSON document published on <prefix>/<code>/state.
type Snapshot struct {
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Connected bool        `json:"connected"`
	State     robot.State `json:"state"`
}

// Config selects the driver plugin, broker and cadence.
type Config struct {
	Name        string
	Driver      string
	Broker      string
	ClientID    string
	TopicPrefix string
	Interval    time.Duration
}

// Plugin samples the driver's adapter on every tick and publishes a Snapshot.
type Plugin struct {
	cfg      Config
	registry *plugin.Registry
	clock    clock.Clock
	logger   *zap.Logger

	// newPublisher is called by Initialize when no publisher was injected.
	newPublisher func() (Publisher, error)

	mu        sync.Mutex
	publisher Publisher
	source    AdapterSource
	cancel    context.CancelFunc
	done      chan struct{}
	published atomic.Int64
}

// New creates a telemetry plugin. A nil publisher means an MQTT client is
// connected to cfg.Broker during Initialize.
func New(cfg Config, registry *plugin.Registry, publisher Publisher, clk clock.Clock, logger *zap.Logger) *Plugin {
	if cfg.Name == "" {
		cfg.Name = Kind
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Plugin{
		cfg:       cfg,
		registry:  registry,
		clock:     clk,
		logger:    logger.Named("telemetry"),
		publisher: publisher,
	}
	p.newPublisher = func() (Publisher, error) {
		return NewMQTTPublisher(cfg.Broker, cfg.ClientID, p.logger)
	}
	return p
}

// Constructor builds the plugin from manifest config keys name, driver,
// broker, client_id, topic_prefix and interval (seconds).
func Constructor(pctx *plugin.Context, config map[string]any) (plugin.Plugin, error) {
	opts := robot.Options(config)
	cfg := Config{
		Name:        opts.String("name", ""),
		Driver:      opts.String("driver", "robot_driver"),
		Broker:      opts.String("broker", ""),
		ClientID:    opts.String("client_id", "robotcontrol-telemetry"),
		TopicPrefix: opts.String("topic_prefix", DefaultTopicPrefix),
		Interval:    time.Duration(opts.Float("interval", DefaultInterval.Seconds()) * float64(time.Second)),
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%s: broker is required", Kind)
	}
	clk := pctx.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return New(cfg, pctx.Registry, nil, clk, pctx.Logger), nil
}

// Metadata declares a dependency on the configured driver plugin.
func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:         p.cfg.Name,
		Version:      Version,
		Author:       "robotcontrol",
		Description:  "Publishes robot state snapshots to MQTT",
		Type:         plugin.TypeUtility,
		Dependencies: []string{p.cfg.Driver},
	}
}

// Initialize resolves the driver plugin and connects the publisher.
func (p *Plugin) Initialize(context.Context) error {
	dep, ok := p.registry.Get(p.cfg.Driver, "")
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrUnmetDependency, p.cfg.Driver)
	}
	source, ok := dep.(AdapterSource)
	if !ok {
		return fmt.Errorf("plugin %s does not provide a robot adapter", p.cfg.Driver)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
	if p.publisher == nil {
		pub, err := p.newPublisher()
		if err != nil {
			return err
		}
		p.publisher = pub
	}
	return nil
}

// Start launches the publishing loop.
func (p *Plugin) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)

	p.logger.Info("Telemetry started",
		zap.String("driver", p.cfg.Driver),
		zap.Duration("interval", p.cfg.Interval))
	return nil
}

func (p *Plugin) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.clock.After(p.cfg.Interval):
			if err := p.PublishOnce(); err != nil {
				p.logger.Warn("Failed to publish telemetry", zap.Error(err))
			}
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// Shutdown closes the publisher.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publisher != nil {
		p.publisher.Close()
		p.publisher = nil
	}
	p.source = nil
	return nil
}

// Topic returns the state topic for a robot code.
func (p *Plugin) Topic(code string) string {
	return fmt.Sprintf("%s/%s/state", p.cfg.TopicPrefix, code)
}

// PublishOnce samples the adapter and publishes one snapshot.
func (p *Plugin) PublishOnce() error {
	p.mu.Lock()
	source, publisher := p.source, p.publisher
	p.mu.Unlock()
	if source == nil || publisher == nil {
		return fmt.Errorf("telemetry not initialized")
	}

	adapter := source.Adapter()
	if adapter == nil {
		return fmt.Errorf("driver %s has no adapter", p.cfg.Driver)
	}
	info := adapter.Info()
	payload, err := json.Marshal(Snapshot{
		Code:      info.Code,
		Name:      info.Name,
		Connected: info.Connected,
		State:     adapter.State(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := publisher.Publish(p.Topic(info.Code), payload); err != nil {
		return err
	}
	p.published.Add(1)
	return nil
}

// Status reports the loop state and how many snapshots were published.
func (p *Plugin) Status() map[string]any {
	p.mu.Lock()
	running := p.cancel != nil
	p.mu.Unlock()
	return map[string]any{
		"driver":    p.cfg.Driver,
		"broker":    p.cfg.Broker,
		"running":   running,
		"published": p.published.Load(),
	}
}

// MQTTPublisher publishes with QoS 1 through a paho client.
type MQTTPublisher struct {
	client mqtt.Client
	logger *zap.Logger
}

// NewMQTTPublisher connects to broker, e.g. tcp://localhost:1883.
func NewMQTTPublisher(broker, clientID string, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	logger.Info("Connected to MQTT broker", zap.String("broker", broker))
	return &MQTTPublisher{client: client, logger: logger}, nil
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (m *MQTTPublisher) Publish(topic string, payload []byte) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := m.client.Publish(topic, 1, false, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects, allowing one second for in-flight messages.
func (m *MQTTPublisher) Close() {
	m.client.Disconnect(1000)
}
