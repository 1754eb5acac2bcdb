package valuestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"checkengine/internal/model"
)

// =============================================================================
// Memory backend
// =============================================================================

// MemoryBackend keeps namespaces in memory. Used for one-shot runs and tests.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context, host model.HostName, service string) (map[string]any, error) {
	b.mu.Lock()
	raw, ok := b.data[host+"\x00"+service]
	b.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decode(raw)
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, host model.HostName, service string, values map[string]any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[host+"\x00"+service] = raw
	return nil
}

// =============================================================================
// File backend
// =============================================================================

// FileBackend stores one JSON file per namespace under <dir>/<host>/<service>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(host model.HostName, service string) string {
	return filepath.Join(b.dir, sanitize(host), sanitize(service)+".json")
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context, host model.HostName, service string) (map[string]any, error) {
	raw, err := os.ReadFile(b.path(host, service))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read value store file: %w", err)
	}
	return decode(raw)
}

// Save implements Backend. The file is replaced atomically.
func (b *FileBackend) Save(_ context.Context, host model.HostName, service string, values map[string]any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	path := b.path(host, service)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create value store directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vs-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write value store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close value store: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// =============================================================================
// SQLite backend
// =============================================================================

// valueStoreRecord is the table row of one namespace.
type valueStoreRecord struct {
	Host      string `gorm:"primaryKey"`
	Service   string `gorm:"primaryKey"`
	Data      string
	UpdatedAt time.Time
}

// TableName implements gorm's Tabler.
func (valueStoreRecord) TableName() string {
	return "value_store"
}

// SQLiteBackend stores namespaces in a SQLite database via gorm.
type SQLiteBackend struct {
	db *gorm.DB
}

// NewSQLiteBackend opens (and migrates) the database at dsn. Use ":memory:" for tests.
func NewSQLiteBackend(dsn string) (*SQLiteBackend, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open value store database: %w", err)
	}
	if err := db.AutoMigrate(&valueStoreRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate value store database: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, host model.HostName, service string) (map[string]any, error) {
	var rec valueStoreRecord
	err := b.db.WithContext(ctx).Where("host = ? AND service = ?", host, service).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query value store: %w", err)
	}
	return decode([]byte(rec.Data))
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, host model.HostName, service string, values map[string]any) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to encode values: %w", err)
	}
	rec := valueStoreRecord{Host: host, Service: service, Data: string(raw)}
	if err := b.db.WithContext(ctx).Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save value store: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (b *SQLiteBackend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func decode(raw []byte) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("failed to decode value store: %w", err)
	}
	return values, nil
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_", "\x00", "_")

func sanitize(s string) string {
	return unsafeChars.Replace(s)
}
