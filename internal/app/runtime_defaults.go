package app

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ApplyRuntimeDefaults fills in identity values that must exist before the
// daemon starts but should not be hardcoded in a shipped config. It returns
// a map describing which keys were generated so callers can log the event
// without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)

	if strings.TrimSpace(cfg.Sync.DeviceID) == "" {
		cfg.Sync.DeviceID = uuid.NewString()
		generated["sync.device_id"] = true
	}

	// The probe target defaults to the sync backend itself.
	if strings.TrimSpace(cfg.Network.ProbeURL) == "" && strings.TrimSpace(cfg.Sync.BaseURL) != "" {
		cfg.Network.ProbeURL = strings.TrimRight(cfg.Sync.BaseURL, "/") + "/healthz"
		generated["network.probe_url"] = true
	}

	return generated, nil
}
