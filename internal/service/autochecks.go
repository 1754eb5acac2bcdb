package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"checkengine/internal/model"
)

// AutochecksStore persists discovered services, one YAML file per host.
type AutochecksStore struct {
	dir string
}

// NewAutochecksStore creates a store rooted at dir.
func NewAutochecksStore(dir string) *AutochecksStore {
	return &AutochecksStore{dir: dir}
}

func (s *AutochecksStore) path(host model.HostName) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(host)
	return filepath.Join(s.dir, name+".yaml")
}

// Load returns the discovered services of host. A host that was never discovered has none.
func (s *AutochecksStore) Load(host model.HostName) ([]model.AutocheckEntry, error) {
	data, err := os.ReadFile(s.path(host))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read autochecks of %s: %w", host, err)
	}
	var entries []model.AutocheckEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse autochecks of %s: %w", host, err)
	}
	return entries, nil
}

// Save replaces the discovered services of host. Entries are stored sorted by service ID.
func (s *AutochecksStore) Save(host model.HostName, entries []model.AutocheckEntry) error {
	sorted := append([]model.AutocheckEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID().String() < sorted[j].ID().String()
	})

	data, err := yaml.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode autochecks of %s: %w", host, err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create autochecks directory: %w", err)
	}
	tmp := s.path(host) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write autochecks of %s: %w", host, err)
	}
	if err := os.Rename(tmp, s.path(host)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to store autochecks of %s: %w", host, err)
	}
	return nil
}
