package plugin

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Manifest is the content of a plugin_*.yaml file. Kind selects a Catalog
// constructor; Config is passed to it after merging with stored config.
type Manifest struct {
	Kind     string         `yaml:"kind"`
	Name     string         `yaml:"name"`
	Disabled bool           `yaml:"disabled"`
	Config   map[string]any `yaml:"config"`
}

// DefaultSearchPaths returns the directories scanned when none are configured:
// ./plugins, <executable dir>/plugins, /usr/share/robotcontrol/plugins and
// ~/.robotcontrol/plugins.
func DefaultSearchPaths() []string {
	paths := []string{"plugins"}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "plugins"))
	}
	paths = append(paths, "/usr/share/robotcontrol/plugins")
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".robotcontrol", "plugins"))
	}
	return paths
}

// IsManifest reports whether a file name follows the plugin_*.yaml convention.
func IsManifest(name string) bool {
	ext := filepath.Ext(name)
	return strings.HasPrefix(name, "plugin_") && (ext == ".yaml" || ext == ".yml")
}

// LoadManifest parses one manifest file.
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if m.Kind == "" {
		return m, fmt.Errorf("manifest %s: kind is required", path)
	}
	return m, nil
}

// DiscoverPlugins walks paths for plugin manifests, builds each named kind
// from catalog and registers it. Missing directories are skipped. A bad
// manifest is logged and does not stop the walk. It returns how many plugins
// were registered.
func (r *Registry) DiscoverPlugins(pctx *Context, catalog Catalog, paths []string) (int, error) {
	if len(paths) == 0 {
		paths = DefaultSearchPaths()
	}

	var manifests []string
	for _, root := range paths {
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			continue
		}
		r.logger.Info("Searching for plugins", zap.String("path", root))
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && IsManifest(d.Name()) {
				manifests = append(manifests, path)
			}
			return nil
		})
	}

	var errs error
	registered := 0
	for _, path := range manifests {
		ok, err := r.loadManifest(pctx, catalog, path)
		if err != nil {
			r.logger.Error("Error loading plugin manifest", zap.String("path", path), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			registered++
		}
	}
	return registered, errs
}

func (r *Registry) loadManifest(pctx *Context, catalog Catalog, path string) (bool, error) {
	m, err := LoadManifest(path)
	if err != nil {
		return false, err
	}
	if m.Disabled {
		r.logger.Info("Skipping disabled plugin", zap.String("path", path))
		return false, nil
	}
	constructor, ok := catalog[m.Kind]
	if !ok {
		return false, fmt.Errorf("manifest %s: unknown plugin kind %q", path, m.Kind)
	}

	config := map[string]any{}
	name := m.Name
	if name == "" {
		name = m.Kind
	}
	if pctx != nil && pctx.Configs != nil {
		stored, err := pctx.Configs.Load(context.Background(), name)
		if err != nil {
			return false, fmt.Errorf("load stored config for %s: %w", name, err)
		}
		for k, v := range stored {
			config[k] = v
		}
	}
	for k, v := range m.Config {
		config[k] = v
	}
	if _, set := config["name"]; !set && m.Name != "" {
		config["name"] = m.Name
	}

	p, err := constructor(pctx, config)
	if err != nil {
		return false, fmt.Errorf("construct %s: %w", m.Kind, err)
	}
	if err := r.Register(p); err != nil {
		return false, err
	}
	r.logger.Info("Auto-discovered plugin", zap.String("plugin", p.Metadata().Key()), zap.String("path", path))
	return true, nil
}
