// Package config loads and hot-reloads the operator-facing tunables a
// netplay session runs with: delay_frames, compression level, FEC
// redundancy, the ICE server list, and bind hints. Values come from a
// YAML file merged over built-in defaults, mirroring the teacher's
// user/project merge pattern but with one file instead of two, since
// this is a deployed relay/host config rather than a per-user setting.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ICEServer is one STUN/TURN entry, mirroring webrtc.ICEServer's shape
// without importing pion here so this package stays dependency-light.
type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

// Tunables is the merged, validated configuration a Session is built
// from.
type Tunables struct {
	DelayFrames        int64       `yaml:"delay_frames"`
	ZstdCompressLevel  int         `yaml:"zstd_compress_level"`
	FECRedundantBlocks int         `yaml:"fec_redundant_blocks"`
	FrameRate          float64     `yaml:"frame_rate"`
	ICEServers         []ICEServer `yaml:"ice_servers"`
	BindAddr           string      `yaml:"bind_addr"`
	SignalingURL       string      `yaml:"signaling_url"`
}

func defaults() Tunables {
	return Tunables{
		DelayFrames:        2,
		ZstdCompressLevel:  3,
		FECRedundantBlocks: 4,
		FrameRate:          60,
		BindAddr:           "0.0.0.0:0",
	}
}

// Manager owns the on-disk tunables file and the merged value derived
// from it.
type Manager struct {
	path   string
	merged Tunables
}

// NewManager builds a Manager seeded with built-in defaults; call Load
// to read path and merge it over them.
func NewManager(path string) *Manager {
	return &Manager{path: path, merged: defaults()}
}

// Load reads the YAML file at m.path and merges it over the current
// defaults. A missing file is not an error: the Manager keeps running
// on defaults alone.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", m.path, err)
	}

	merged := defaults()
	if err := yaml.Unmarshal(data, &merged); err != nil {
		return fmt.Errorf("config: parse %s: %w", m.path, err)
	}
	if err := validate(merged); err != nil {
		return fmt.Errorf("config: %s: %w", m.path, err)
	}
	m.merged = merged
	return nil
}

// Get returns the current merged tunables.
func (m *Manager) Get() Tunables {
	return m.merged
}

func validate(t Tunables) error {
	if t.DelayFrames < 0 {
		return fmt.Errorf("delay_frames must be >= 0, got %d", t.DelayFrames)
	}
	if t.FrameRate <= 0 {
		return fmt.Errorf("frame_rate must be > 0, got %g", t.FrameRate)
	}
	if t.ZstdCompressLevel < 1 {
		return fmt.Errorf("zstd_compress_level must be >= 1, got %d", t.ZstdCompressLevel)
	}
	if t.FECRedundantBlocks < 0 {
		return fmt.Errorf("fec_redundant_blocks must be >= 0, got %d", t.FECRedundantBlocks)
	}
	return nil
}
