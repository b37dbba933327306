package robot

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownRobot is returned by Factory.Create for an unregistered code.
var ErrUnknownRobot = errors.New("unknown robot")

// Options carries driver specific construction settings.
type Options map[string]any

// String returns the option as a string, or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns the option as a float64, or def.
func (o Options) Float(key string, def float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns the option as a bool, or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Strings returns a list option, or def. YAML decodes lists as []any, so
// both forms are accepted.
func (o Options) Strings(key string, def []string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return def
}

// Constructor creates an adapter bound to ip.
type Constructor func(ip string, opts Options) (Adapter, error)

// Factory maps robot codes to driver constructors. A zero Factory is not
// usable; call NewFactory.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register binds code to constructor. A later registration for the same code
// replaces the earlier one.
func (f *Factory) Register(code string, constructor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[code] = constructor
}

// Create instantiates the driver registered for code. The returned adapter is
// not connected yet.
func (f *Factory) Create(code, ip string, opts Options) (Adapter, error) {
	f.mu.RLock()
	constructor, ok := f.constructors[code]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s. Available: [%s]", ErrUnknownRobot, code, strings.Join(f.ListSupported(), ", "))
	}
	if opts == nil {
		opts = Options{}
	}

	adapter, err := constructor(ip, opts)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", code, err)
	}
	return adapter, nil
}

// ListSupported returns every registered code in sorted order.
func (f *Factory) ListSupported() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	codes := make([]string, 0, len(f.constructors))
	for code := range f.constructors {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
