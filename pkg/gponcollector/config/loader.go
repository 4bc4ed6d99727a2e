// Package config provides YAML configuration loading for the GPON Collector.
//
// It reads two directory trees (driven by environment variables) and produces
// a LoadedConfig value that is used by the rest of the application.
//
//	INPUT_GPON_DEVICE_DEFINITIONS_DIRECTORY_PATH → Devices map
//	INPUT_GPON_DEFAULTS_DIRECTORY_PATH           → DeviceDefault
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ─────────────────────────────────────────────────────────────────────────────
// Paths
// ─────────────────────────────────────────────────────────────────────────────

// Paths holds the directory locations for every configuration tree.
type Paths struct {
	Devices  string // INPUT_GPON_DEVICE_DEFINITIONS_DIRECTORY_PATH
	Defaults string // INPUT_GPON_DEFAULTS_DIRECTORY_PATH
}

// PathsFromEnv reads each path from its environment variable, falling back to
// the documented default when the variable is unset or empty.
func PathsFromEnv() Paths {
	return Paths{
		Devices:  envOr("INPUT_GPON_DEVICE_DEFINITIONS_DIRECTORY_PATH", "/etc/gpon_collector/devices"),
		Defaults: envOr("INPUT_GPON_DEFAULTS_DIRECTORY_PATH", "/etc/gpon_collector/defaults"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ─────────────────────────────────────────────────────────────────────────────
// LoadedConfig
// ─────────────────────────────────────────────────────────────────────────────

// LoadedConfig is the fully parsed representation of all configuration trees.
type LoadedConfig struct {
	// Devices maps hostname → resolved DeviceConfig (defaults merged in).
	Devices map[string]DeviceConfig

	// DeviceDefault is the merged global device default.
	DeviceDefault DeviceDefaults
}

// ─────────────────────────────────────────────────────────────────────────────
// Load
// ─────────────────────────────────────────────────────────────────────────────

// Load reads all configuration directories specified by paths and returns a
// fully resolved LoadedConfig. Errors from individual files are accumulated
// and returned together so that operators see all problems at once.
//
// If a directory does not exist, that section is skipped silently (the
// corresponding map will be empty). This allows partial deployments.
func Load(paths Paths, logger *slog.Logger) (*LoadedConfig, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	var errs []string

	defaults, err := loadDefaults(paths.Defaults, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	devices, err := loadDevices(paths.Devices, defaults, logger)
	if err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}

	return &LoadedConfig{
		Devices:       devices,
		DeviceDefault: defaults,
	}, nil
}

// loadDefaults merges every defaults YAML file in dir, later files winning
// field-by-field for scalar values.
func loadDefaults(dir string, logger *slog.Logger) (DeviceDefaults, error) {
	var merged DeviceDefaults

	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("config: defaults directory missing — using fallbacks", "dir", dir)
			return merged, nil
		}
		return merged, fmt.Errorf("defaults %s: %w", dir, err)
	}

	var errs []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		var d DeviceDefaults
		if err := yaml.Unmarshal(data, &d); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		merged = mergeDefaults(merged, d)
	}
	if len(errs) > 0 {
		return merged, fmt.Errorf("defaults: %s", strings.Join(errs, "; "))
	}
	return merged, nil
}

// loadDevices parses every device YAML file in dir. Each file holds a map of
// hostname → device entry; entries are resolved against defaults.
func loadDevices(dir string, defaults DeviceDefaults, logger *slog.Logger) (map[string]DeviceConfig, error) {
	devices := make(map[string]DeviceConfig)

	files, err := yamlFiles(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("config: device directory missing — no devices to poll", "dir", dir)
			return devices, nil
		}
		return nil, fmt.Errorf("devices %s: %w", dir, err)
	}

	var errs []string
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		entries := make(map[string]rawDeviceEntry)
		if err := yaml.Unmarshal(data, &entries); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		for hostname, entry := range entries {
			cfg := entry.resolve(defaults)
			if err := validateDevice(hostname, cfg); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", f, err))
				continue
			}
			if _, dup := devices[hostname]; dup {
				errs = append(errs, fmt.Sprintf("%s: duplicate device %q", f, hostname))
				continue
			}
			devices[hostname] = cfg
		}
	}
	if len(errs) > 0 {
		return devices, fmt.Errorf("devices: %s", strings.Join(errs, "; "))
	}

	logger.Info("config: devices loaded", "count", len(devices))
	return devices, nil
}

// validateDevice rejects entries that cannot produce a working session.
func validateDevice(hostname string, cfg DeviceConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("device %q: host is required", hostname)
	}
	if cfg.Username == "" {
		return fmt.Errorf("device %q: username is required", hostname)
	}
	if cfg.PromptPattern != PromptDisabled {
		if _, err := regexp.Compile(cfg.PromptPattern); err != nil {
			return fmt.Errorf("device %q: prompt_pattern: %w", hostname, err)
		}
	}
	return nil
}

// yamlFiles lists the .yml/.yaml files directly under dir, sorted by name.
func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

func mergeDefaults(base, next DeviceDefaults) DeviceDefaults {
	out := base
	if next.Port > 0 {
		out.Port = next.Port
	}
	if next.PollInterval > 0 {
		out.PollInterval = next.PollInterval
	}
	if next.ConnectTimeoutMs > 0 {
		out.ConnectTimeoutMs = next.ConnectTimeoutMs
	}
	if next.BannerSettleMs > 0 {
		out.BannerSettleMs = next.BannerSettleMs
	}
	if next.BannerReadMs > 0 {
		out.BannerReadMs = next.BannerReadMs
	}
	if next.CommandSettleMs > 0 {
		out.CommandSettleMs = next.CommandSettleMs
	}
	if next.CaptureWindowMs > 0 {
		out.CaptureWindowMs = next.CaptureWindowMs
	}
	if next.MaxCaptureBytes > 0 {
		out.MaxCaptureBytes = next.MaxCaptureBytes
	}
	if next.PromptPattern != "" {
		out.PromptPattern = next.PromptPattern
	}
	if len(next.HostKeyAlgorithms) > 0 {
		out.HostKeyAlgorithms = next.HostKeyAlgorithms
	}
	if len(next.Ciphers) > 0 {
		out.Ciphers = next.Ciphers
	}
	return out
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
