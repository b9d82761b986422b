// Package config holds msgnet's load-time tunables: frame limits, TLS
// material paths, and dispatch concurrency. It is loaded from a JSON file
// via jsoniter.
package config

import (
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TLS holds the filesystem paths to certificate material. Parsing these
// into a *tls.Config is msgnet/certutil's job, not this package's.
type TLS struct {
	CertFile   string `json:"cert_file"`
	KeyFile    string `json:"key_file"`
	CAFile     string `json:"ca_file,omitempty"`
	ServerName string `json:"server_name,omitempty"`
}

// Frame holds the per-peer framing limits a Server or Client will apply to
// every peer it creates.
type Frame struct {
	BlockBytes    int `json:"block_bytes"`
	MaxFrameBytes int `json:"max_frame_bytes"`
}

// Dispatch holds concurrency knobs for handler execution.
type Dispatch struct {
	MaxConcurrent int64 `json:"max_concurrent,omitempty"`
}

// Config is the top-level on-disk shape: one Server or Client section plus
// the shared Frame/Dispatch/TLS blocks.
type Config struct {
	Address  string   `json:"address"`
	TLS      TLS      `json:"tls"`
	Frame    Frame    `json:"frame"`
	Dispatch Dispatch `json:"dispatch"`
}

// Default returns a Config with msgnet's package-level defaults filled in,
// everything else zero-valued for the caller (or Load) to populate.
func Default() Config {
	return Config{
		Frame: Frame{
			BlockBytes:    8 * 1024,
			MaxFrameBytes: 1 << 20,
		},
	}
}

// Load reads and parses a Config from path, starting from Default() so a
// partial file only needs to specify what it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
