package api

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds all registered plugins. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	sections    map[string]SectionPlugin
	checks      map[string]CheckPlugin
	inventories map[string]InventoryPlugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sections:    make(map[string]SectionPlugin),
		checks:      make(map[string]CheckPlugin),
		inventories: make(map[string]InventoryPlugin),
	}
}

// RegisterSection adds a section plugin.
func (r *Registry) RegisterSection(p SectionPlugin) error {
	if p.Name == "" {
		return fmt.Errorf("section plugin has no name")
	}
	if p.ParseFunction == nil {
		return fmt.Errorf("section plugin %s has no parse function", p.Name)
	}
	if p.ParsedSectionName == "" {
		p.ParsedSectionName = p.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sections[p.Name]; exists {
		return fmt.Errorf("duplicate section plugin %s", p.Name)
	}
	r.sections[p.Name] = p
	return nil
}

// RegisterCheck adds a check plugin.
func (r *Registry) RegisterCheck(p CheckPlugin) error {
	if p.Name == "" {
		return fmt.Errorf("check plugin has no name")
	}
	if p.CheckFunction == nil {
		return fmt.Errorf("check plugin %s has no check function", p.Name)
	}
	if len(p.Sections) == 0 {
		p.Sections = []string{p.Name}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.checks[p.Name]; exists {
		return fmt.Errorf("duplicate check plugin %s", p.Name)
	}
	r.checks[p.Name] = p
	return nil
}

// RegisterInventory adds an inventory plugin.
func (r *Registry) RegisterInventory(p InventoryPlugin) error {
	if p.Name == "" || p.InventoryFunction == nil {
		return fmt.Errorf("inventory plugin %q is incomplete", p.Name)
	}
	if len(p.Sections) == 0 {
		p.Sections = []string{p.Name}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inventories[p.Name]; exists {
		return fmt.Errorf("duplicate inventory plugin %s", p.Name)
	}
	r.inventories[p.Name] = p
	return nil
}

// SectionPlugin looks up a section plugin.
func (r *Registry) SectionPlugin(name string) (SectionPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sections[name]
	return p, ok
}

// CheckPlugin looks up a check plugin.
func (r *Registry) CheckPlugin(name string) (CheckPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.checks[name]
	return p, ok
}

// InventoryPlugin looks up an inventory plugin.
func (r *Registry) InventoryPlugin(name string) (InventoryPlugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.inventories[name]
	return p, ok
}

// SectionNames returns all section plugin names, sorted.
func (r *Registry) SectionNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.sections)
}

// CheckNames returns all check plugin names, sorted.
func (r *Registry) CheckNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.checks)
}

// InventoryNames returns all inventory plugin names, sorted.
func (r *Registry) InventoryNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.inventories)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RulesetMatcher returns the rule values of a ruleset that match a host, highest priority first.
type RulesetMatcher interface {
	RulesFor(host, ruleset string) []map[string]any
}

// PluginParameters merges matching rules over the defaults. Earlier rules win per key.
// A nil defaults mapping means the plugin takes no parameters and nil is returned.
func PluginParameters(host string, matcher RulesetMatcher, defaults Parameters, ruleset string) Parameters {
	if defaults == nil {
		return nil
	}
	merged := make(Parameters, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	if matcher == nil || ruleset == "" {
		return merged
	}
	rules := matcher.RulesFor(host, ruleset)
	for i := len(rules) - 1; i >= 0; i-- {
		for k, v := range rules[i] {
			merged[k] = v
		}
	}
	return merged
}
