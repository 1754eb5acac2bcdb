package fetcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/snappy"

	"checkengine/internal/model"
)

// Mode is the purpose raw data is fetched for. Each mode has its own cache max age.
type Mode int

const (
	ModeChecking Mode = iota
	ModeDiscovery
	ModeInventory
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeDiscovery:
		return "discovery"
	case ModeInventory:
		return "inventory"
	default:
		return "checking"
	}
}

// MaxAge is the cache freshness per mode. Zero disables reuse in that mode.
type MaxAge struct {
	Checking  time.Duration
	Discovery time.Duration
	Inventory time.Duration
}

// For returns the max age of mode.
func (m MaxAge) For(mode Mode) time.Duration {
	switch mode {
	case ModeDiscovery:
		return m.Discovery
	case ModeInventory:
		return m.Inventory
	default:
		return m.Checking
	}
}

// FileCache stores raw source data snappy-compressed below
// <dir>/<host>/<fetcher type>_<ident>.
type FileCache struct {
	dir      string
	maxAge   MaxAge
	disabled bool // 禁用缓存
	useOnly  bool // 仅使用缓存，不访问数据源
	now      func() time.Time
}

// CacheOption configures a FileCache.
type CacheOption func(*FileCache)

// CacheDisabled turns the cache off entirely.
func CacheDisabled(disabled bool) CacheOption {
	return func(c *FileCache) { c.disabled = disabled }
}

// CacheOnly serves every fetch from the cache regardless of its age and never
// contacts the data sources.
func CacheOnly(useOnly bool) CacheOption {
	return func(c *FileCache) { c.useOnly = useOnly }
}

// NewFileCache creates a file cache.
func NewFileCache(dir string, maxAge MaxAge, opts ...CacheOption) *FileCache {
	c := &FileCache{dir: dir, maxAge: maxAge, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var cachePathReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "_")

func (c *FileCache) path(info model.SourceInfo) string {
	name := strings.ToLower(string(info.FetcherType)) + "_" + info.Ident
	return filepath.Join(c.dir, cachePathReplacer.Replace(info.HostName), cachePathReplacer.Replace(name))
}

// UseOnly reports whether data sources must not be contacted.
func (c *FileCache) UseOnly() bool {
	return c != nil && c.useOnly
}

// Get returns cached data that is fresh enough for mode.
func (c *FileCache) Get(info model.SourceInfo, mode Mode) ([]byte, bool, error) {
	if c == nil || c.disabled {
		return nil, false, nil
	}
	path := c.path(info)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to stat cache file: %w", err)
	}
	if !c.useOnly {
		maxAge := c.maxAge.For(mode)
		if maxAge <= 0 || c.now().Sub(st.ModTime()) > maxAge {
			return nil, false, nil
		}
	}

	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache file: %w", err)
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode cache file %s: %w", path, err)
	}
	return data, true, nil
}

// Put stores freshly fetched data.
func (c *FileCache) Put(info model.SourceInfo, data []byte) error {
	if c == nil || c.disabled || c.useOnly {
		return nil
	}
	path := c.path(info)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, data), 0o640); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to store cache file: %w", err)
	}
	return nil
}
