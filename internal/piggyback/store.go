// Package piggyback stores data one host reports on behalf of others.
//
// Files are laid out as <dir>/<target>/<source>. The parser writes them when agent
// output contains <<<<target>>>> blocks; the piggyback fetcher reads them back for the
// target host and the summarizer reports their age.
package piggyback

import (
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

// Entry is the piggyback data one source stored for a target.
type Entry struct {
	Meta model.PiggybackMeta
	Data []byte
}

// Store reads and writes piggyback files.
type Store struct {
	dir string
	now func() time.Time
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", "\x00", "_")

func sanitize(name string) string {
	name = unsafeChars.Replace(name)
	if name == "." || name == ".." {
		return "_"
	}
	return name
}

// Replace stores the piggyback data of source and removes what source stored
// earlier for targets that are no longer reported.
func (s *Store) Replace(source model.HostName, data map[model.HostName][]string) error {
	var errs []error
	for target, lines := range data {
		if err := s.write(source, target, lines); err != nil {
			errs = append(errs, err)
		}
	}

	targets, err := os.ReadDir(s.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to list piggyback directory: %w", err))
	}
	for _, t := range targets {
		if !t.IsDir() {
			continue
		}
		if _, reported := data[t.Name()]; reported {
			continue
		}
		path := filepath.Join(s.dir, t.Name(), sanitize(source))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove stale piggyback file: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) write(source, target model.HostName, lines []string) error {
	dir := filepath.Join(s.dir, sanitize(target))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create piggyback directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create piggyback file: %w", err)
	}
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write piggyback file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write piggyback file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, sanitize(source))); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to store piggyback file: %w", err)
	}
	return nil
}

// Read returns every piggyback entry stored for target, sorted by source. Entries
// older than maxAge are marked invalid and carry no data. A zero maxAge never expires.
func (s *Store) Read(target model.HostName, maxAge time.Duration) ([]Entry, error) {
	dir := filepath.Join(s.dir, sanitize(target))
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list piggyback data of %s: %w", target, err)
	}

	now := s.now()
	var entries []Entry
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		age := now.Sub(info.ModTime())
		entry := Entry{Meta: model.PiggybackMeta{
			Source: f.Name(),
			Target: target,
			Age:    age,
			Valid:  maxAge <= 0 || age <= maxAge,
		}}
		if entry.Meta.Valid {
			entry.Data, err = os.ReadFile(filepath.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("failed to read piggyback data of %s from %s: %w", target, f.Name(), err)
			}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Meta.Source < entries[j].Meta.Source })
	return entries, nil
}

// Meta returns the metadata of the entries stored for target.
func (s *Store) Meta(target model.HostName, maxAge time.Duration) ([]model.PiggybackMeta, error) {
	entries, err := s.Read(target, maxAge)
	if err != nil {
		return nil, err
	}
	metas := make([]model.PiggybackMeta, len(entries))
	for i, e := range entries {
		metas[i] = e.Meta
	}
	return metas, nil
}
