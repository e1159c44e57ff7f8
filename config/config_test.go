package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv(DataDirEnv, tempDir)

	firstCfg, firstPath, err := LoadOrCreate("")
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceID == "" {
		t.Fatalf("expected non-empty device ID")
	}
	if firstCfg.PortMode != PortModeAutomatic {
		t.Fatalf("expected default port mode %q, got %q", PortModeAutomatic, firstCfg.PortMode)
	}
	if firstCfg.ListenPort != 0 {
		t.Fatalf("expected automatic mode listen port 0, got %d", firstCfg.ListenPort)
	}
	if firstCfg.BlockSize != DefaultBlockSize {
		t.Fatalf("expected block size %d, got %d", DefaultBlockSize, firstCfg.BlockSize)
	}
	if firstCfg.IOTimeout() != 2*time.Second {
		t.Fatalf("expected 2s io timeout, got %s", firstCfg.IOTimeout())
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}
	for _, dir := range []string{firstCfg.FilesDir, firstCfg.CatalogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
	}

	secondCfg, secondPath, err := LoadOrCreate("")
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}

	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceID != firstCfg.DeviceID {
		t.Fatalf("expected stable device ID, got %q then %q", firstCfg.DeviceID, secondCfg.DeviceID)
	}
	if secondCfg.FilesDir != firstCfg.FilesDir {
		t.Fatalf("expected stable files dir, got %q then %q", firstCfg.FilesDir, secondCfg.FilesDir)
	}
}

func TestLoadOrCreateHonoursExplicitDataDir(t *testing.T) {
	t.Setenv(DataDirEnv, filepath.Join(t.TempDir(), "ignored"))
	explicit := t.TempDir()

	_, cfgPath, err := LoadOrCreate(explicit)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfgPath != ConfigPath(explicit) {
		t.Fatalf("expected config under %q, got %q", explicit, cfgPath)
	}
}

func TestLoadOrCreateNormalizesLegacyPortModeFromExistingPort(t *testing.T) {
	tempDir := t.TempDir()

	cfgPath := ConfigPath(tempDir)
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &DeviceConfig{
		DeviceID:   "legacy-device",
		DeviceName: "Legacy",
		ListenPort: 9999,
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate(tempDir)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.PortMode != PortModeFixed {
		t.Fatalf("expected legacy config to normalize to fixed mode, got %q", cfg.PortMode)
	}
	if cfg.ListenPort != 9999 {
		t.Fatalf("expected legacy fixed listen port to be retained, got %d", cfg.ListenPort)
	}
	if cfg.DeviceID != "legacy-device" {
		t.Fatalf("expected device ID to be retained, got %q", cfg.DeviceID)
	}
	if cfg.FilesDir != filepath.Join(tempDir, "files") {
		t.Fatalf("expected files dir to be filled in, got %q", cfg.FilesDir)
	}

	reloaded, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if reloaded.BlockSize != DefaultBlockSize || reloaded.IOTimeoutMS != DefaultIOTimeoutMS {
		t.Fatalf("expected normalized defaults to be persisted, got %+v", reloaded)
	}
}

func TestNormalizeDefaultsRepairsOutOfRangeValues(t *testing.T) {
	dataDir := t.TempDir()
	cfg := &DeviceConfig{
		DeviceID:    "id",
		DeviceName:  "name",
		PortMode:    PortModeFixed,
		ListenPort:  70000,
		BlockSize:   -5,
		IOTimeoutMS: 0,
		FilesDir:    "/srv/files",
		CatalogDir:  "/srv/catalog",
	}

	if !normalizeDefaults(cfg, dataDir) {
		t.Fatalf("expected normalizeDefaults to report changes")
	}
	if cfg.ListenPort != 0 || cfg.PortMode != PortModeAutomatic {
		t.Fatalf("expected invalid port to fall back to automatic, got %d/%q", cfg.ListenPort, cfg.PortMode)
	}
	if cfg.BlockSize != DefaultBlockSize {
		t.Fatalf("expected default block size, got %d", cfg.BlockSize)
	}
	if cfg.IOTimeoutMS != DefaultIOTimeoutMS {
		t.Fatalf("expected default io timeout, got %d", cfg.IOTimeoutMS)
	}
	if cfg.FilesDir != "/srv/files" {
		t.Fatalf("expected explicit files dir to be kept, got %q", cfg.FilesDir)
	}

	if normalizeDefaults(cfg, dataDir) {
		t.Fatalf("expected second normalize pass to be a no-op")
	}
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, _, err := LoadOrCreate(filepath.Dir(path)); err == nil {
		t.Fatalf("expected LoadOrCreate to surface parse error")
	}
}
