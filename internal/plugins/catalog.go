// Package plugins lists the plugin kinds compiled into robotcontrol.
// Manifests found during discovery can only name kinds from this catalog.
package plugins

import (
	"robotcontrol/internal/plugins/depthcam"
	"robotcontrol/internal/plugins/robotdriver"
	"robotcontrol/internal/plugins/telemetry"
	"robotcontrol/pkg/plugin"
)

// Catalog returns the compiled-in constructor manifest.
func Catalog() plugin.Catalog {
	return plugin.Catalog{
		robotdriver.Kind: robotdriver.Constructor,
		depthcam.Kind:    depthcam.Constructor,
		telemetry.Kind:   telemetry.Constructor,
	}
}

// WithDefaults returns a copy of catalog whose constructor for kind fills
// keys missing from a manifest's config from defaults. Other kinds are
// unchanged.
func WithDefaults(catalog plugin.Catalog, kind string, defaults map[string]any) plugin.Catalog {
	out := make(plugin.Catalog, len(catalog))
	for k, c := range catalog {
		out[k] = c
	}
	base, ok := catalog[kind]
	if !ok {
		return out
	}
	out[kind] = func(pctx *plugin.Context, config map[string]any) (plugin.Plugin, error) {
		merged := make(map[string]any, len(defaults)+len(config))
		for k, v := range defaults {
			if v != nil && v != "" {
				merged[k] = v
			}
		}
		for k, v := range config {
			merged[k] = v
		}
		return base(pctx, merged)
	}
	return out
}
