package network

// Config holds the knobs for the unreliable virtual-time network (spec §6).
// JSON-tagged so scenarios can load it from a file the same way the
// teacher's config.Config loads node settings.
type Config struct {
	BaseDelayMs                int     `json:"base_delay_ms"`
	JitterMs                   int     `json:"jitter_ms"`
	DropRate                   float64 `json:"drop_rate"`
	DuplicateRate              float64 `json:"duplicate_rate"`
	MaxInflightPerSender       int     `json:"max_inflight_per_sender"`
	MaxInflightPerLink         int     `json:"max_inflight_per_link"`
	MaxBytesInflightPerLink    int     `json:"max_bytes_inflight_per_link"`
	AutoBlockInflightThreshold int     `json:"auto_block_inflight_threshold"`
	AutoBlockDurationMs        int64   `json:"auto_block_duration_ms"`
	LinkBandwidthBytesPerMs    int     `json:"link_bandwidth_bytes_per_ms"`
	RateWindowMs               int64   `json:"rate_window_ms"`
	MaxMsgsPerLinkPerWindow    int     `json:"max_msgs_per_link_per_window"` // 0 → unset
}

// LinkProfile overrides a subset of Config's per-link knobs (spec §6's
// per-link profile file). A field overrides the global Config only when its
// Has* flag is set; otherwise the global value applies.
type LinkProfile struct {
	BaseDelayMs         int
	JitterMs            int
	BandwidthBytesPerMs int
	DropRate            float64
	HasBaseDelay        bool
	HasJitter           bool
	HasBandwidth        bool
	HasDropRate         bool
}

// DefaultConfig returns the same defaults as original_source's NetworkConfig
// dataclass, so a zero-configured scenario behaves identically to the
// reference implementation.
func DefaultConfig() Config {
	return Config{
		BaseDelayMs:                50,
		JitterMs:                   100,
		DropRate:                   0.0,
		DuplicateRate:              0.0,
		MaxInflightPerSender:       64,
		MaxInflightPerLink:         32,
		MaxBytesInflightPerLink:    1_000_000,
		AutoBlockInflightThreshold: 128,
		AutoBlockDurationMs:        5000,
		LinkBandwidthBytesPerMs:    50,
		RateWindowMs:               1000,
		MaxMsgsPerLinkPerWindow:    0,
	}
}
