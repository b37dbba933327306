// Package robotdriver exposes a factory-created robot adapter as a robot-type
// plugin so its connection follows the plugin lifecycle.
package robotdriver

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"robotcontrol/pkg/plugin"
	"robotcontrol/pkg/robot"
)

// Kind is the catalog name of this plugin.
const Kind = "robot_driver"

// Version is reported in the plugin metadata.
const Version = "1.0.0"

// Plugin owns one adapter. Initialize creates and connects it, Shutdown
// disconnects it.
type Plugin struct {
	name    string
	code    string
	ip      string
	options robot.Options
	factory *robot.Factory
	logger  *zap.Logger

	mu      sync.RWMutex
	adapter robot.Adapter
}

// New creates a plugin for the robot registered as code.
func New(name string, factory *robot.Factory, code, ip string, options robot.Options, logger *zap.Logger) *Plugin {
	if name == "" {
		name = Kind
	}
	return &Plugin{
		name:    name,
		code:    code,
		ip:      ip,
		options: options,
		factory: factory,
		logger:  logger.Named("robotdriver").With(zap.String("robot", code)),
	}
}

// Constructor builds the plugin from manifest config keys name, code, ip and
// options.
func Constructor(pctx *plugin.Context, config map[string]any) (plugin.Plugin, error) {
	cfg := robot.Options(config)
	code := cfg.String("code", "")
	if code == "" {
		return nil, fmt.Errorf("%s: code is required", Kind)
	}
	if pctx.Factory == nil {
		return nil, fmt.Errorf("%s: no robot factory", Kind)
	}
	var opts robot.Options
	if nested, ok := config["options"].(map[string]any); ok {
		opts = robot.Options(nested)
	}
	return New(cfg.String("name", ""), pctx.Factory, code, cfg.String("ip", ""), opts, pctx.Logger), nil
}

// Metadata declares a robot plugin compatible with its robot code.
func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:             p.name,
		Version:          Version,
		Author:           "robotcontrol",
		Description:      fmt.Sprintf("Robot driver for %s", p.code),
		Type:             plugin.TypeRobot,
		CompatibleRobots: []string{p.code},
	}
}

// Initialize creates the adapter and connects it.
func (p *Plugin) Initialize(ctx context.Context) error {
	adapter, err := p.factory.Create(p.code, p.ip, p.options)
	if err != nil {
		return err
	}
	if err := adapter.Connect(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.adapter = adapter
	p.mu.Unlock()

	info := adapter.Info()
	p.logger.Info("Robot connected", zap.String("name", info.Name), zap.String("ip", info.IP))
	return nil
}

// Start is a no-op; the adapter is live once connected.
func (p *Plugin) Start() error {
	return nil
}

// Stop halts any motion in progress.
func (p *Plugin) Stop() error {
	adapter := p.Adapter()
	if adapter == nil {
		return nil
	}
	if r := adapter.Stop(); !r.Success {
		return fmt.Errorf("stop %s: %s", p.code, r.Message)
	}
	return nil
}

// Shutdown disconnects the adapter.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	adapter := p.adapter
	p.adapter = nil
	p.mu.Unlock()

	if adapter != nil {
		adapter.Disconnect()
		p.logger.Info("Robot disconnected")
	}
	return nil
}

// Adapter returns the connected adapter, or nil before Initialize.
func (p *Plugin) Adapter() robot.Adapter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.adapter
}

// Status reports the adapter identity, connection and health.
func (p *Plugin) Status() map[string]any {
	adapter := p.Adapter()
	if adapter == nil {
		return map[string]any{"code": p.code, "connected": false}
	}
	info := adapter.Info()
	state := adapter.State()
	return map[string]any{
		"code":      info.Code,
		"name":      info.Name,
		"ip":        info.IP,
		"connected": info.Connected,
		"battery":   state.Battery,
		"position":  state.Position,
	}
}
