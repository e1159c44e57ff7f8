package cli

import (
	"fmt"
	"path/filepath"

	"filenet/catalog"
	"filenet/config"
	"filenet/storage"
)

// environment is everything a command needs from the data directory.
type environment struct {
	cfg     *config.DeviceConfig
	dataDir string
	catalog *catalog.Catalog
	store   *storage.Store
}

func openEnvironment(dataDir string) (*environment, error) {
	cfg, cfgPath, err := config.LoadOrCreate(dataDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dataDir = filepath.Dir(cfgPath)

	files, err := catalog.Open(cfg.CatalogDir, cfg.FilesDir)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	store, _, err := storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	return &environment{
		cfg:     cfg,
		dataDir: dataDir,
		catalog: files,
		store:   store,
	}, nil
}

func (e *environment) Close() error {
	return e.store.Close()
}

// catalogPath makes sure path is cataloged and returns its entry name.
func (e *environment) catalogPath(path string) (string, error) {
	entry, err := e.catalog.Link(path)
	if err != nil {
		return "", err
	}
	return entry.Name, nil
}
