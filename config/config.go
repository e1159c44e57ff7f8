package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "filenet"
	// DataDirEnv overrides the data directory when set.
	DataDirEnv = "FILENET_DATA_DIR"
	// DefaultListenPort is the TCP port used in fixed mode when none is configured.
	DefaultListenPort = 7878
	// DefaultBlockSize is the transfer block size in bytes.
	DefaultBlockSize = 60 * 1024
	// DefaultIOTimeoutMS is the per-frame read/write timeout.
	DefaultIOTimeoutMS = 2000
	// PortModeAutomatic lets the OS pick the listening port at launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed uses the configured listening port value.
	PortModeFixed = "fixed"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"

	maxBlockSize = 8 * 1024 * 1024
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID    string `json:"device_id"`
	DeviceName  string `json:"device_name"`
	PortMode    string `json:"port_mode"`
	ListenPort  int    `json:"listen_port"`
	BlockSize   int    `json:"block_size"`
	IOTimeoutMS int    `json:"io_timeout_ms"`
	FilesDir    string `json:"files_dir"`
	CatalogDir  string `json:"catalog_dir"`
}

// IOTimeout returns the configured frame timeout.
func (c *DeviceConfig) IOTimeout() time.Duration {
	return time.Duration(c.IOTimeoutMS) * time.Millisecond
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If FILENET_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "files"),
		filepath.Join(dataDir, "catalog"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist under dataDir, then
// returns both. An empty dataDir is resolved with ResolveDataDir.
func LoadOrCreate(dataDir string) (*DeviceConfig, string, error) {
	if dataDir == "" {
		resolved, err := ResolveDataDir()
		if err != nil {
			return nil, "", err
		}
		dataDir = resolved
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *DeviceConfig {
	return &DeviceConfig{
		DeviceID:    uuid.NewString(),
		DeviceName:  hostName(),
		PortMode:    PortModeAutomatic,
		ListenPort:  0,
		BlockSize:   DefaultBlockSize,
		IOTimeoutMS: DefaultIOTimeoutMS,
		FilesDir:    filepath.Join(dataDir, "files"),
		CatalogDir:  filepath.Join(dataDir, "catalog"),
	}
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = hostName()
		updated = true
	}

	mode := normalizePortMode(cfg.PortMode)
	if mode == "" {
		if cfg.ListenPort > 0 {
			mode = PortModeFixed
		} else {
			mode = PortModeAutomatic
		}
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}

	if cfg.PortMode == PortModeFixed && cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultListenPort
		updated = true
	}
	if cfg.ListenPort < 0 || cfg.ListenPort > 65535 {
		cfg.ListenPort = 0
		cfg.PortMode = PortModeAutomatic
		updated = true
	}

	if cfg.BlockSize <= 0 || cfg.BlockSize > maxBlockSize {
		cfg.BlockSize = DefaultBlockSize
		updated = true
	}

	if cfg.IOTimeoutMS <= 0 {
		cfg.IOTimeoutMS = DefaultIOTimeoutMS
		updated = true
	}

	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataDir, "files")
		updated = true
	}

	if cfg.CatalogDir == "" {
		cfg.CatalogDir = filepath.Join(dataDir, "catalog")
		updated = true
	}

	return updated
}

func normalizePortMode(mode string) string {
	switch mode {
	case PortModeAutomatic:
		return PortModeAutomatic
	case PortModeFixed:
		return PortModeFixed
	default:
		return ""
	}
}

func hostName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "filenet device"
}
