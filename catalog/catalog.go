package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"filenet/crypto"
	"filenet/models"
)

// StructFileName is the catalog file kept in the structure directory.
const StructFileName = "struct.json"

// Version is the catalog format this build reads and writes.
var Version = [2]int{0, 0}

var (
	// ErrVersionMismatch indicates a struct.json written by another format version.
	ErrVersionMismatch = errors.New("catalog: version mismatch")
	// ErrDuplicateEntry indicates an entry name that is already cataloged.
	ErrDuplicateEntry = errors.New("catalog: duplicate entry")
	// ErrUnknownEntry indicates a name the catalog does not know.
	ErrUnknownEntry = errors.New("catalog: unknown entry")
	// ErrInvalidEntry indicates an entry that cannot be cataloged.
	ErrInvalidEntry = errors.New("catalog: invalid entry")
)

// Entry is one cataloged file. A linked entry points at a file elsewhere on
// disk; a copied entry lives in the storage directory under Name.
type Entry struct {
	IsFolder bool   `json:"is_folder"`
	IsLinked string `json:"is_linked,omitempty"`
	IsCopied bool   `json:"is_copied"`
	IsSynced bool   `json:"is_synced"`
	Name     string `json:"name"`
}

type structure struct {
	Version [2]int  `json:"version"`
	Files   []Entry `json:"files"`
}

// Catalog is the JSON file catalog. It lists, adds and resolves entries and
// stores received files.
type Catalog struct {
	mu         sync.Mutex
	structDir  string
	storageDir string
	entries    []Entry
}

// Open loads struct.json from structDir. A missing file yields an empty catalog.
func Open(structDir, storageDir string) (*Catalog, error) {
	for _, dir := range []string{structDir, storageDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create catalog directory %q: %w", dir, err)
		}
	}

	c := &Catalog{
		structDir:  structDir,
		storageDir: storageDir,
	}

	raw, err := os.ReadFile(c.structPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var parsed structure
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if parsed.Version != Version {
		return nil, fmt.Errorf("%w: file has %v, expected %v", ErrVersionMismatch, parsed.Version, Version)
	}

	c.entries = parsed.Files
	return c, nil
}

// StorageDir is where received files are written.
func (c *Catalog) StorageDir() string {
	return c.storageDir
}

// List returns a snapshot of the entries.
func (c *Catalog) List() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Add appends an entry and rewrites struct.json.
func (c *Catalog) Add(entry Entry) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEntry)
	}
	if entry.IsLinked == "" && !entry.IsCopied {
		return fmt.Errorf("%w: %q is neither linked nor copied", ErrInvalidEntry, entry.Name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.indexLocked(entry.Name) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateEntry, entry.Name)
	}
	c.entries = append(c.entries, entry)
	if err := c.writeLocked(); err != nil {
		c.entries = c.entries[:len(c.entries)-1]
		return err
	}
	return nil
}

// AddPath catalogs a file on disk as a linked entry named after its base name.
func (c *Catalog) AddPath(path string) (Entry, error) {
	abs, err := regularFile(path)
	if err != nil {
		return Entry{}, err
	}

	entry := Entry{Name: filepath.Base(abs), IsLinked: abs}
	if err := c.Add(entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// Link returns the entry that links path, cataloging it first if needed. A
// base name already used by another entry gets a " (n)" suffix.
func (c *Catalog) Link(path string) (Entry, error) {
	abs, err := regularFile(path)
	if err != nil {
		return Entry{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.entries {
		if entry.IsLinked == abs {
			return entry, nil
		}
	}

	entry := Entry{Name: c.freeNameLocked(filepath.Base(abs)), IsLinked: abs}
	c.entries = append(c.entries, entry)
	if err := c.writeLocked(); err != nil {
		c.entries = c.entries[:len(c.entries)-1]
		return Entry{}, err
	}
	return entry, nil
}

func regularFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q is a directory", ErrInvalidEntry, abs)
	}
	return abs, nil
}

// Manifest describes a cataloged entry for sending.
func (c *Catalog) Manifest(name string) (models.Manifest, error) {
	entry, err := c.lookup(name)
	if err != nil {
		return models.Manifest{}, err
	}

	path := c.pathOf(entry)
	info, err := os.Stat(path)
	if err != nil {
		return models.Manifest{}, fmt.Errorf("stat %q: %w", path, err)
	}
	checksum, err := crypto.FileChecksumHex(path)
	if err != nil {
		return models.Manifest{}, err
	}

	return models.Manifest{
		Name:       entry.Name,
		Size:       info.Size(),
		Checksum:   checksum,
		IsFolder:   entry.IsFolder,
		LinkedPath: entry.IsLinked,
		IsCopied:   entry.IsCopied,
		IsSynced:   entry.IsSynced,
	}, nil
}

// Resolve reads the bytes behind a manifest. A linked path wins over a
// catalog lookup by name.
func (c *Catalog) Resolve(manifest models.Manifest) ([]byte, error) {
	path := manifest.LinkedPath
	if path == "" {
		entry, err := c.lookup(manifest.Name)
		if err != nil {
			return nil, err
		}
		path = c.pathOf(entry)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}

// Save stores a received file in the storage directory under a free name,
// catalogs it as a copied entry, and returns the final path.
func (c *Catalog) Save(manifest models.Manifest, data []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := c.freeNameLocked(safeName(manifest.Name))
	finalPath := filepath.Join(c.storageDir, name)

	tmp, err := os.CreateTemp(c.storageDir, ".incoming-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("finalize %q: %w", finalPath, err)
	}

	c.entries = append(c.entries, Entry{
		Name:     name,
		IsFolder: manifest.IsFolder,
		IsCopied: true,
		IsSynced: true,
	})
	if err := c.writeLocked(); err != nil {
		logrus.WithFields(logrus.Fields{
			"name":  name,
			"error": err,
		}).Warn("Stored file but could not update catalog")
	}

	logrus.WithFields(logrus.Fields{
		"name": name,
		"path": finalPath,
		"size": len(data),
	}).Info("Stored received file")
	return finalPath, nil
}

func (c *Catalog) lookup(name string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(name)
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
	}
	return c.entries[i], nil
}

func (c *Catalog) indexLocked(name string) int {
	for i, entry := range c.entries {
		if entry.Name == name {
			return i
		}
	}
	return -1
}

func (c *Catalog) pathOf(entry Entry) string {
	if entry.IsLinked != "" {
		return entry.IsLinked
	}
	return filepath.Join(c.storageDir, entry.Name)
}

// freeNameLocked returns name, or name with a " (n)" suffix before the
// extension, so that neither the catalog nor the storage directory has it.
func (c *Catalog) freeNameLocked(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for n := 1; ; n++ {
		_, statErr := os.Stat(filepath.Join(c.storageDir, candidate))
		if c.indexLocked(candidate) < 0 && errors.Is(statErr, fs.ErrNotExist) {
			return candidate
		}
		candidate = stem + " (" + strconv.Itoa(n) + ")" + ext
	}
}

func (c *Catalog) writeLocked() error {
	files := c.entries
	if files == nil {
		files = []Entry{}
	}
	raw, err := json.MarshalIndent(structure{Version: Version, Files: files}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	raw = append(raw, '\n')
	if err := os.WriteFile(c.structPath(), raw, 0o600); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}

func (c *Catalog) structPath() string {
	return filepath.Join(c.structDir, StructFileName)
}

func safeName(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == "" {
		return "file.bin"
	}
	return base
}
