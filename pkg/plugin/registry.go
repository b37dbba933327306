package plugin

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type entry struct {
	plugin Plugin
	meta   Metadata
	state  State
}

type firedEvent struct {
	event Event
	meta  Metadata
}

// Registry owns registered plugins and their lifecycle state.
//
// mu guards the maps and is never held while plugin code runs, so plugins
// may look each other up from inside Initialize or Start. lifecycleMu
// serializes transitions. Hooks run after lifecycleMu is released, so a hook
// may call back into Start, Stop or Unregister.
type Registry struct {
	logger *zap.Logger

	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	provided map[string]bool
	hooks    []Hook
	pending  []firedEvent
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("plugins"),
		entries:  make(map[string]*entry),
		order:    make([]string, 0),
		provided: make(map[string]bool),
	}
}

// Provide marks name as a dependency satisfied by the host process rather
// than by another plugin.
func (r *Registry) Provide(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.provided[name] = true
	}
}

// OnEvent adds a hook called after every successful transition.
func (r *Registry) OnEvent(hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Register adds p under its name@version key. It fails without side effects
// if the key is taken or a dependency cannot be resolved.
func (r *Registry) Register(p Plugin) error {
	var meta Metadata
	if err := call(func() error { meta = p.Metadata(); return nil }); err != nil {
		r.logger.Error("Failed to read plugin metadata", zap.Error(err))
		return fmt.Errorf("register plugin: %w", err)
	}
	key := meta.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists {
		r.logger.Warn("Plugin already registered", zap.String("plugin", key))
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}
	for _, dep := range meta.Dependencies {
		if !r.resolvableLocked(dep) {
			r.logger.Error("Plugin has unmet dependency",
				zap.String("plugin", key),
				zap.String("dependency", dep))
			return fmt.Errorf("%w: %s requires %s", ErrUnmetDependency, key, dep)
		}
	}

	r.entries[key] = &entry{plugin: p, meta: meta, state: StateRegistered}
	r.order = append(r.order, key)
	r.logger.Info("Registered plugin", zap.String("plugin", key), zap.String("type", string(meta.Type)))
	return nil
}

func (r *Registry) resolvableLocked(dep string) bool {
	if r.provided[dep] {
		return true
	}
	if _, ok := r.entries[dep]; ok {
		return true
	}
	return r.findLocked(dep, "") != ""
}

// findLocked resolves name and optional version to a key. Without a version
// the earliest registered plugin of that name wins; a name containing '@'
// is treated as a full key.
func (r *Registry) findLocked(name, version string) string {
	if version != "" {
		name = name + "@" + version
	}
	if strings.Contains(name, "@") {
		if _, ok := r.entries[name]; ok {
			return name
		}
		return ""
	}
	for _, key := range r.order {
		if r.entries[key].meta.Name == name {
			return key
		}
	}
	return ""
}

func (r *Registry) lookup(name, version string) (string, *entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key := r.findLocked(name, version)
	if key == "" {
		if version != "" {
			name = name + "@" + version
		}
		return "", nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return key, r.entries[key], nil
}

// Unregister removes a plugin in any state. A running plugin is stopped
// first and an initialized one shut down next; the entry is removed even if
// either call fails.
func (r *Registry) Unregister(name, version string) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	key, e, err := r.lookup(name, version)
	if err != nil {
		return err
	}

	var errs error
	if r.stateOf(e) == StateRunning {
		errs = multierr.Append(errs, r.stop(key, e))
	}
	if r.stateOf(e) == StateInitialized {
		errs = multierr.Append(errs, r.shutdown(key, e))
	}

	r.mu.Lock()
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("Unregistered plugin", zap.String("plugin", key))
	return errs
}

// Get returns the plugin registered as name (and version, when given).
func (r *Registry) Get(name, version string) (Plugin, bool) {
	_, e, err := r.lookup(name, version)
	if err != nil {
		return nil, false
	}
	return e.plugin, true
}

// Metadata returns the metadata cached at registration.
func (r *Registry) Metadata(name, version string) (Metadata, bool) {
	_, e, err := r.lookup(name, version)
	if err != nil {
		return Metadata{}, false
	}
	return e.meta, true
}

// State returns the lifecycle state of a plugin.
func (r *Registry) State(name, version string) (State, bool) {
	_, e, err := r.lookup(name, version)
	if err != nil {
		return 0, false
	}
	return r.stateOf(e), true
}

// Info is one row of ListPlugins.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Type        Type   `json:"type"`
	Author      string `json:"author"`
	Description string `json:"description"`
	State       State  `json:"state"`
}

// ListPlugins returns registered plugins in registration order, filtered to
// the given types when any are passed.
func (r *Registry) ListPlugins(types ...Type) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.order))
	for _, key := range r.order {
		e := r.entries[key]
		if len(types) > 0 && !containsType(types, e.meta.Type) {
			continue
		}
		result = append(result, Info{
			Name:        e.meta.Name,
			Version:     e.meta.Version,
			Type:        e.meta.Type,
			Author:      e.meta.Author,
			Description: e.meta.Description,
			State:       e.state,
		})
	}
	return result
}

func containsType(types []Type, t Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Initialize moves one plugin from Registered to Initialized.
func (r *Registry) Initialize(ctx context.Context, name, version string) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	key, e, err := r.lookup(name, version)
	if err != nil {
		return err
	}
	if s := r.stateOf(e); s != StateRegistered {
		return fmt.Errorf("%w: initialize %s while %s", ErrInvalidTransition, key, s)
	}
	return r.initialize(ctx, key, e)
}

// Start moves one plugin from Initialized to Running. Starting a running
// plugin is a no-op.
func (r *Registry) Start(name, version string) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	key, e, err := r.lookup(name, version)
	if err != nil {
		return err
	}
	return r.start(key, e)
}

// Stop moves a running plugin back to Initialized. Other states are left alone.
func (r *Registry) Stop(name, version string) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	key, e, err := r.lookup(name, version)
	if err != nil {
		return err
	}
	if r.stateOf(e) != StateRunning {
		return nil
	}
	return r.stop(key, e)
}

// Shutdown moves a plugin back to Registered, stopping it first if running.
func (r *Registry) Shutdown(name, version string) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	key, e, err := r.lookup(name, version)
	if err != nil {
		return err
	}
	if r.stateOf(e) == StateRunning {
		if err := r.stop(key, e); err != nil {
			return err
		}
	}
	if r.stateOf(e) != StateInitialized {
		return nil
	}
	return r.shutdown(key, e)
}

// InitializeAll initializes every registered plugin in registration order.
// It stops at the first failure; no later plugin is initialized.
func (r *Registry) InitializeAll(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	for _, item := range r.snapshot() {
		if r.stateOf(item.entry) != StateRegistered {
			continue
		}
		if err := r.initialize(ctx, item.key, item.entry); err != nil {
			return err
		}
	}
	return nil
}

// StartAll starts every initialized plugin, continuing past failures.
func (r *Registry) StartAll() error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	var errs error
	for _, item := range r.snapshot() {
		errs = multierr.Append(errs, r.start(item.key, item.entry))
	}
	return errs
}

// StopAll stops every running plugin, continuing past failures.
func (r *Registry) StopAll() error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	var errs error
	for _, item := range r.snapshot() {
		if r.stateOf(item.entry) == StateRunning {
			errs = multierr.Append(errs, r.stop(item.key, item.entry))
		}
	}
	return errs
}

// ShutdownAll shuts down every initialized plugin, stopping running ones
// first, and continues past failures.
func (r *Registry) ShutdownAll() error {
	r.lifecycleMu.Lock()
	defer r.unlockLifecycle()

	var errs error
	for _, item := range r.snapshot() {
		if r.stateOf(item.entry) == StateRunning {
			errs = multierr.Append(errs, r.stop(item.key, item.entry))
		}
		if r.stateOf(item.entry) == StateInitialized {
			errs = multierr.Append(errs, r.shutdown(item.key, item.entry))
		}
	}
	return errs
}

type keyedEntry struct {
	key   string
	entry *entry
}

func (r *Registry) snapshot() []keyedEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]keyedEntry, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, keyedEntry{key: key, entry: r.entries[key]})
	}
	return out
}

func (r *Registry) stateOf(e *entry) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return e.state
}

// unlockLifecycle releases lifecycleMu and then runs the hooks for every
// transition queued while it was held.
func (r *Registry) unlockLifecycle() {
	r.lifecycleMu.Unlock()

	r.mu.Lock()
	events := r.pending
	r.pending = nil
	hooks := make([]Hook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.Unlock()

	for _, ev := range events {
		for _, hook := range hooks {
			hook(ev.event, ev.meta)
		}
	}
}

func (r *Registry) initialize(ctx context.Context, key string, e *entry) error {
	if err := call(func() error { return e.plugin.Initialize(ctx) }); err != nil {
		r.logger.Error("Failed to initialize plugin", zap.String("plugin", key), zap.Error(err))
		return fmt.Errorf("initialize %s: %w", key, err)
	}
	r.transition(e, StateInitialized, EventInitialize, nil)
	r.logger.Info("Initialized plugin", zap.String("plugin", key))
	return nil
}

func (r *Registry) start(key string, e *entry) error {
	switch r.stateOf(e) {
	case StateRunning:
		r.logger.Warn("Plugin already running", zap.String("plugin", key))
		return nil
	case StateRegistered:
		return fmt.Errorf("%w: start %s before initialize", ErrInvalidTransition, key)
	}
	if err := call(e.plugin.Start); err != nil {
		r.logger.Error("Failed to start plugin", zap.String("plugin", key), zap.Error(err))
		return fmt.Errorf("start %s: %w", key, err)
	}
	r.transition(e, StateRunning, EventStart, nil)
	r.logger.Info("Started plugin", zap.String("plugin", key))
	return nil
}

func (r *Registry) stop(key string, e *entry) error {
	err := call(e.plugin.Stop)
	r.transition(e, StateInitialized, EventStop, err)
	if err != nil {
		r.logger.Error("Error stopping plugin", zap.String("plugin", key), zap.Error(err))
		return fmt.Errorf("stop %s: %w", key, err)
	}
	r.logger.Info("Stopped plugin", zap.String("plugin", key))
	return nil
}

func (r *Registry) shutdown(key string, e *entry) error {
	err := call(e.plugin.Shutdown)
	r.transition(e, StateRegistered, EventShutdown, err)
	if err != nil {
		r.logger.Error("Error shutting down plugin", zap.String("plugin", key), zap.Error(err))
		return fmt.Errorf("shutdown %s: %w", key, err)
	}
	r.logger.Info("Shut down plugin", zap.String("plugin", key))
	return nil
}

// transition records the new state. A failed stop or shutdown still moves
// the plugin down so teardown can continue, but hooks only see successes.
func (r *Registry) transition(e *entry, s State, event Event, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.state = s
	if err == nil {
		r.pending = append(r.pending, firedEvent{event: event, meta: e.meta})
	}
}

// call runs a plugin lifecycle method and turns a panic into an error.
func call(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
