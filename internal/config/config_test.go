package config

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	SetDir(t.TempDir())
	defer SetDir("")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Vm.MaxCycles != 32000 {
		t.Fatalf("MaxCycles = %d, want default 32000", cfg.Vm.MaxCycles)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	SetDir(dir)
	defer SetDir("")

	cfg := Default()
	cfg.Vm.MaxCycles = 5000
	cfg.Device.ImagePath = "flash.img"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if got := Path(); got != filepath.Join(dir, "sapphire.toml") {
		t.Fatalf("Path = %s", got)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Vm.MaxCycles != 5000 {
		t.Fatalf("MaxCycles = %d, want 5000", loaded.Vm.MaxCycles)
	}
	if loaded.Device.ImagePath != "flash.img" {
		t.Fatalf("ImagePath = %q", loaded.Device.ImagePath)
	}
}
