package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Passwords is a read-only password store keyed by password id.
type Passwords map[string]string

// LoadPasswords reads a password store file with one "id:secret" entry per line.
// Empty lines and lines starting with '#' are ignored. An empty path yields an empty store.
func LoadPasswords(path string) (Passwords, error) {
	store := make(Passwords)
	if path == "" {
		return store, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open password store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, secret, ok := strings.Cut(line, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("password store %s line %d: expected id:secret", path, lineNo)
		}
		store[id] = secret
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read password store: %w", err)
	}
	return store, nil
}

// Lookup returns the secret stored under id.
func (p Passwords) Lookup(id string) (string, bool) {
	secret, ok := p[id]
	return secret, ok
}
