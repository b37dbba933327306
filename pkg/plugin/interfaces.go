// Package plugin provides the plugin contract and the lifecycle registry for
// robot drivers, sensors and auxiliary modules. Plugins are constructed from
// a compiled-in Catalog, registered under "name@version" and driven through
// Registered -> Initialized -> Running by the Registry.
package plugin

import (
	"context"
	"errors"
)

// Type tags what a plugin provides.
type Type string

const (
	TypeRobot      Type = "robot"
	TypeSensor     Type = "sensor"
	TypeSLAM       Type = "slam"
	TypeNavigation Type = "navigation"
	TypePerception Type = "perception"
	TypeUtility    Type = "utility"
)

// Metadata describes a plugin. Name and Version together form its identity.
type Metadata struct {
	Name              string   `json:"name" yaml:"name"`
	Version           string   `json:"version" yaml:"version"`
	Author            string   `json:"author" yaml:"author"`
	Description       string   `json:"description" yaml:"description"`
	Type              Type     `json:"type" yaml:"type"`
	Dependencies      []string `json:"dependencies,omitempty" yaml:"dependencies"`
	CompatibleRobots  []string `json:"compatible_robots,omitempty" yaml:"compatible_robots"`
	CompatibleSensors []string `json:"compatible_sensors,omitempty" yaml:"compatible_sensors"`
}

// Key returns the registry identity "name@version".
func (m Metadata) Key() string {
	return m.Name + "@" + m.Version
}

// Plugin is the contract every registered module implements.
type Plugin interface {
	// Metadata is read once at registration time and cached by the registry.
	Metadata() Metadata

	// Initialize acquires resources (connections, devices, files).
	Initialize(ctx context.Context) error

	// Start begins background work. Only called on an initialized plugin.
	Start() error

	// Stop ends background work; the plugin stays initialized.
	Stop() error

	// Shutdown releases everything Initialize acquired.
	Shutdown() error

	// Status reports plugin specific runtime information.
	Status() map[string]any
}

// State is the lifecycle position of a registered plugin.
type State int

const (
	StateRegistered State = iota
	StateInitialized
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrAlreadyRegistered is returned when the name@version key is taken.
	ErrAlreadyRegistered = errors.New("plugin already registered")

	// ErrUnmetDependency is returned when a declared dependency is neither a
	// registered plugin nor provided by the host.
	ErrUnmetDependency = errors.New("unmet plugin dependency")

	// ErrNotRegistered is returned for lookups of unknown plugins.
	ErrNotRegistered = errors.New("plugin not registered")

	// ErrInvalidTransition is returned for lifecycle calls the current state
	// does not allow, e.g. starting a plugin that was never initialized.
	ErrInvalidTransition = errors.New("invalid plugin state transition")
)

// Event names a lifecycle transition for hooks.
type Event string

const (
	EventInitialize Event = "initialize"
	EventStart      Event = "start"
	EventStop       Event = "stop"
	EventShutdown   Event = "shutdown"
)

// Hook is called after a plugin completed a lifecycle transition.
type Hook func(event Event, meta Metadata)
