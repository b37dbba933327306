package plugin

import (
	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"
)

// Context provides dependencies to plugin constructors.
// It wraps the core services needed by plugins in a single struct
// for cleaner constructor signatures.
type Context struct {
	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// Registry lets a plugin look up the plugins it depends on.
	Registry *Registry

	// Factory creates robot adapters by code.
	Factory *robot.Factory

	// Clock drives periodic work so tests can control time.
	Clock clock.Clock

	// Configs holds persisted per-plugin configuration. May be nil.
	Configs ConfigStore
}

// NewContext creates a new plugin context with all required dependencies.
func NewContext(logger *zap.Logger, registry *Registry, factory *robot.Factory, clk clock.Clock, configs ConfigStore) *Context {
	return &Context{
		Logger:   logger,
		Registry: registry,
		Factory:  factory,
		Clock:    clk,
		Configs:  configs,
	}
}

// Constructor builds a plugin from its merged configuration.
type Constructor func(ctx *Context, config map[string]any) (Plugin, error)

// Catalog is the compiled-in set of plugin kinds that manifests may name.
type Catalog map[string]Constructor
