package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"checkengine/internal/model"
)

type persistedSection struct {
	CachedAt time.Time         `json:"cached_at"`
	Until    time.Time         `json:"until"`
	Rows     model.SectionRows `json:"rows"`
}

// PersistedStore keeps sections the agent marked with persist(until) so that they
// remain available while the agent does not resend them.
type PersistedStore struct {
	dir string
}

// NewPersistedStore creates a store below dir.
func NewPersistedStore(dir string) *PersistedStore {
	return &PersistedStore{dir: dir}
}

var pathReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "_")

func (s *PersistedStore) path(source model.SourceInfo) string {
	name := strings.ToLower(string(source.FetcherType)) + "_" + source.Ident + ".json"
	return filepath.Join(s.dir, pathReplacer.Replace(source.HostName), pathReplacer.Replace(name))
}

func (s *PersistedStore) load(source model.SourceInfo) (map[model.SectionName]persistedSection, error) {
	data, err := os.ReadFile(s.path(source))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[model.SectionName]persistedSection{}, nil
		}
		return nil, fmt.Errorf("failed to read persisted sections: %w", err)
	}
	stored := make(map[model.SectionName]persistedSection)
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode persisted sections: %w", err)
	}
	return stored, nil
}

func (s *PersistedStore) save(source model.SourceInfo, sections map[model.SectionName]persistedSection) error {
	path := s.path(source)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create persisted sections directory: %w", err)
	}
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("failed to encode persisted sections: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write persisted sections: %w", err)
	}
	return os.Rename(tmp, path)
}

// Update merges fresh persisted sections into the stored ones and returns the
// stored sections that are still valid (or all of them when keepOutdated is set).
func (s *PersistedStore) Update(
	source model.SourceInfo,
	fresh map[model.SectionName]persistedSection,
	now time.Time,
	keepOutdated bool,
) (map[model.SectionName]persistedSection, error) {
	stored, err := s.load(source)
	if err != nil {
		return nil, err
	}
	for name, sec := range fresh {
		stored[name] = sec
	}

	for name, sec := range stored {
		if sec.Until.Before(now) && !keepOutdated {
			delete(stored, name)
		}
	}

	if len(fresh) > 0 || len(stored) > 0 {
		if err := s.save(source, stored); err != nil {
			return stored, err
		}
	}
	return stored, nil
}

func sortedNames(m map[model.SectionName]persistedSection) []model.SectionName {
	names := make([]model.SectionName, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
