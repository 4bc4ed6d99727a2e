package config

import "time"

// Hard-coded fallbacks applied during resolution when neither the device
// entry nor the defaults file sets a value. The timing constants are the
// reference deployment's empirical settle/drain values.
const (
	fallbackPort             = 22
	fallbackPollInterval     = 30
	fallbackConnectTimeoutMs = 10_000
	fallbackBannerSettleMs   = 1_000
	fallbackBannerReadMs     = 500
	fallbackCommandSettleMs  = 2_500
	fallbackCaptureWindowMs  = 4_000
	fallbackMaxCaptureBytes  = 1 << 20

	// DefaultPromptPattern matches the trailing shell prompt of the stock
	// firmware, enabling early exit from the capture window. Set
	// prompt_pattern to "none" in YAML to force pure fixed-delay capture.
	DefaultPromptPattern = `[>#$] ?$`

	// PromptDisabled is the sentinel that turns prompt detection off.
	PromptDisabled = "none"
)

// The stock firmware offers only this legacy negotiation set; a client using
// modern defaults fails the handshake.
var (
	fallbackHostKeyAlgorithms = []string{"ssh-rsa"}
	fallbackCiphers           = []string{
		"aes128-ctr", "aes192-ctr", "aes256-ctr",
		"aes128-cbc", "aes192-cbc", "aes256-cbc",
	}
)

// DeviceConfig is the fully-resolved configuration for a single monitored
// gateway. Optional fields that are zero-valued in the YAML are filled from
// the defaults tree and then from hard-coded fallbacks during resolution.
type DeviceConfig struct {
	// Host is the management address of the gateway.
	Host string

	// Port is the SSH port (default 22).
	Port int

	// Username / Password form the fixed credential set. No other
	// authentication methods are negotiated.
	Username string
	Password string

	// PollInterval is the polling interval in seconds (default 30).
	PollInterval int

	// ConnectTimeoutMs bounds the TCP dial plus SSH handshake (default 10000).
	ConnectTimeoutMs int

	// BannerSettleMs is the wait after connect before the banner drain
	// (default 1000).
	BannerSettleMs int

	// BannerReadMs is the banner drain read timeout (default 500).
	BannerReadMs int

	// CommandSettleMs is the wait after sending each command (default 2500).
	CommandSettleMs int

	// CaptureWindowMs bounds the per-command output drain (default 4000).
	CaptureWindowMs int

	// MaxCaptureBytes caps one command's capture (default 1 MiB).
	MaxCaptureBytes int

	// PromptPattern is the regular expression that ends a capture early when
	// it matches the captured tail. "none" disables early exit.
	PromptPattern string

	// HostKeyAlgorithms is the host-key allow-list (default ["ssh-rsa"]).
	HostKeyAlgorithms []string

	// Ciphers is the cipher allow-list (default aes-ctr + aes-cbc families).
	Ciphers []string
}

// ConnectTimeout returns the dial/handshake bound as a Duration.
func (c DeviceConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// BannerSettle returns the post-connect settle delay.
func (c DeviceConfig) BannerSettle() time.Duration {
	return time.Duration(c.BannerSettleMs) * time.Millisecond
}

// BannerRead returns the banner drain read timeout.
func (c DeviceConfig) BannerRead() time.Duration {
	return time.Duration(c.BannerReadMs) * time.Millisecond
}

// CommandSettle returns the per-command settle delay.
func (c DeviceConfig) CommandSettle() time.Duration {
	return time.Duration(c.CommandSettleMs) * time.Millisecond
}

// CaptureWindow returns the per-command capture bound.
func (c DeviceConfig) CaptureWindow() time.Duration {
	return time.Duration(c.CaptureWindowMs) * time.Millisecond
}

// Interval returns the poll interval as a Duration.
func (c DeviceConfig) Interval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// DeviceDefaults carries the merged global device defaults loaded from the
// defaults tree. Field semantics match DeviceConfig.
type DeviceDefaults struct {
	Port              int      `yaml:"port"`
	PollInterval      int      `yaml:"poll_interval"`
	ConnectTimeoutMs  int      `yaml:"connect_timeout_ms"`
	BannerSettleMs    int      `yaml:"banner_settle_ms"`
	BannerReadMs      int      `yaml:"banner_read_ms"`
	CommandSettleMs   int      `yaml:"command_settle_ms"`
	CaptureWindowMs   int      `yaml:"capture_window_ms"`
	MaxCaptureBytes   int      `yaml:"max_capture_bytes"`
	PromptPattern     string   `yaml:"prompt_pattern"`
	HostKeyAlgorithms []string `yaml:"host_key_algorithms"`
	Ciphers           []string `yaml:"ciphers"`
}

// rawDeviceEntry is the intermediate YAML-decoded form of a single device.
// It maps 1-to-1 with the device YAML schema; zero-valued fields inherit from
// DeviceDefaults and then from the hard-coded fallbacks.
type rawDeviceEntry struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
	PollInterval      int      `yaml:"poll_interval"`
	ConnectTimeoutMs  int      `yaml:"connect_timeout_ms"`
	BannerSettleMs    int      `yaml:"banner_settle_ms"`
	BannerReadMs      int      `yaml:"banner_read_ms"`
	CommandSettleMs   int      `yaml:"command_settle_ms"`
	CaptureWindowMs   int      `yaml:"capture_window_ms"`
	MaxCaptureBytes   int      `yaml:"max_capture_bytes"`
	PromptPattern     string   `yaml:"prompt_pattern"`
	HostKeyAlgorithms []string `yaml:"host_key_algorithms"`
	Ciphers           []string `yaml:"ciphers"`
}

// resolve merges a raw entry with defaults and fallbacks into a DeviceConfig.
func (e rawDeviceEntry) resolve(d DeviceDefaults) DeviceConfig {
	cfg := DeviceConfig{
		Host:              e.Host,
		Port:              pick(e.Port, d.Port, fallbackPort),
		Username:          e.Username,
		Password:          e.Password,
		PollInterval:      pick(e.PollInterval, d.PollInterval, fallbackPollInterval),
		ConnectTimeoutMs:  pick(e.ConnectTimeoutMs, d.ConnectTimeoutMs, fallbackConnectTimeoutMs),
		BannerSettleMs:    pick(e.BannerSettleMs, d.BannerSettleMs, fallbackBannerSettleMs),
		BannerReadMs:      pick(e.BannerReadMs, d.BannerReadMs, fallbackBannerReadMs),
		CommandSettleMs:   pick(e.CommandSettleMs, d.CommandSettleMs, fallbackCommandSettleMs),
		CaptureWindowMs:   pick(e.CaptureWindowMs, d.CaptureWindowMs, fallbackCaptureWindowMs),
		MaxCaptureBytes:   pick(e.MaxCaptureBytes, d.MaxCaptureBytes, fallbackMaxCaptureBytes),
		PromptPattern:     pickStr(e.PromptPattern, d.PromptPattern, DefaultPromptPattern),
		HostKeyAlgorithms: pickList(e.HostKeyAlgorithms, d.HostKeyAlgorithms, fallbackHostKeyAlgorithms),
		Ciphers:           pickList(e.Ciphers, d.Ciphers, fallbackCiphers),
	}
	return cfg
}

func pick(v, def, fallback int) int {
	if v > 0 {
		return v
	}
	if def > 0 {
		return def
	}
	return fallback
}

func pickStr(v, def, fallback string) string {
	if v != "" {
		return v
	}
	if def != "" {
		return def
	}
	return fallback
}

func pickList(v, def, fallback []string) []string {
	if len(v) > 0 {
		return v
	}
	if len(def) > 0 {
		return def
	}
	return fallback
}
