package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netplayd.yaml")
	yamlBody := "delay_frames: 4\nice_servers:\n  - urls: [\"stun:stun.example.com:3478\"]\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr := NewManager(path)
	if err := mgr.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	got := mgr.Get()
	if got.DelayFrames != 4 {
		t.Fatalf("delay_frames = %d, want 4", got.DelayFrames)
	}
	if got.ZstdCompressLevel != defaults().ZstdCompressLevel {
		t.Fatalf("zstd_compress_level should fall back to default, got %d", got.ZstdCompressLevel)
	}
	if len(got.ICEServers) != 1 || got.ICEServers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("ice_servers not merged: %+v", got.ICEServers)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err := mgr.Load(); err != nil {
		t.Fatalf("load of missing file should not error: %v", err)
	}
	got, want := mgr.Get(), defaults()
	if got.DelayFrames != want.DelayFrames || got.FrameRate != want.FrameRate || len(got.ICEServers) != 0 {
		t.Fatalf("expected defaults unchanged, got %+v", got)
	}
}

func TestLoadRejectsInvalidTunables(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netplayd.yaml")
	if err := os.WriteFile(path, []byte("delay_frames: -1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr := NewManager(path)
	if err := mgr.Load(); err == nil {
		t.Fatal("expected negative delay_frames to be rejected")
	}
}
