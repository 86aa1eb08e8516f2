// Package config loads listener configuration (spec.md §6.5) and
// orchestrates the listeners it describes (spec.md §4.9, §2 component 11).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v10"
)

// ListenerConfig is one entry of the listener configuration file (spec.md
// §6.5): `{ listen, serverCertificates, requireClientCertificate }`.
type ListenerConfig struct {
	Listen                   string            `json:"listen"`
	ServerCertificates       map[string]string `json:"serverCertificates"`
	RequireClientCertificate bool              `json:"requireClientCertificate"`

	// ScratchRoot overrides the per-request scratch directory parent
	// (spec.md §6.5, "Per-request scratch directory"); it is not part of
	// the persisted JSON schema but may be supplied via environment
	// overlay for deployment-specific paths.
	ScratchRoot string `json:"-" env:"GEMINI_SCRATCH_ROOT" envDefault:""`
}

// Load reads a JSON array of ListenerConfig from path, then applies an
// environment-variable overlay to each entry via caarlos0/env (ambient
// stack; mirrors xsdhy-clothing's config.ParseConfig pattern).
func Load(path string) ([]ListenerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var configs []ListenerConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	for i := range configs {
		if err := env.Parse(&configs[i]); err != nil {
			return nil, fmt.Errorf("config: failed to apply environment overlay: %w", err)
		}
	}

	return configs, nil
}
