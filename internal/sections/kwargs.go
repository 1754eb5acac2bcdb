package sections

import (
	"sort"

	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
)

// SectionKeys returns the keyword each section is passed to a plugin under:
// "section" for a single section, "section_<name>" otherwise.
func SectionKeys(names []model.ParsedSectionName) []string {
	if len(names) == 1 {
		return []string{"section"}
	}
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = "section_" + name
	}
	return keys
}

// GetSectionKwargs resolves the sections of one host key. Sections that are not
// available are nil. If none is available the result is empty.
func GetSectionKwargs(providers Providers, key model.HostKey, names []model.ParsedSectionName) api.Sections {
	provider, ok := providers[key]
	if !ok {
		return api.Sections{}
	}

	keys := SectionKeys(names)
	kwargs := make(api.Sections, len(names))
	found := false
	for i, name := range names {
		r, ok := provider.Resolve(name)
		if !ok {
			kwargs[keys[i]] = nil
			continue
		}
		kwargs[keys[i]] = r.ParsedData
		found = true
	}
	if !found {
		return api.Sections{}
	}
	return kwargs
}

// GetSectionClusterKwargs resolves the sections of every node key, shaped as
// keyword -> node name -> content. Nodes without any data are left out. If no node has
// data the result is empty.
func GetSectionClusterKwargs(providers Providers, nodeKeys []model.HostKey, names []model.ParsedSectionName) map[string]map[string]any {
	kwargs := make(map[string]map[string]any)
	found := false
	for _, key := range nodeKeys {
		for k, v := range GetSectionKwargs(providers, key, names) {
			if kwargs[k] == nil {
				kwargs[k] = make(map[string]any)
			}
			kwargs[k][key.HostName] = v
			if v != nil {
				found = true
			}
		}
	}
	if !found {
		return map[string]map[string]any{}
	}
	return kwargs
}

// CacheInfos collects the cache info of every resolved section across all providers.
func CacheInfos(providers Providers, names []model.ParsedSectionName) []model.CacheInfo {
	var infos []model.CacheInfo
	for _, key := range sortedKeys(providers) {
		for _, name := range names {
			r, ok := providers[key].Resolve(name)
			if ok && r.CacheInfo != nil {
				infos = append(infos, *r.CacheInfo)
			}
		}
	}
	return infos
}

// NodeSections returns the sections of one node out of cluster kwargs.
func NodeSections(kwargs map[string]map[string]any, node model.HostName) api.Sections {
	sections := make(api.Sections, len(kwargs))
	found := false
	for key, byNode := range kwargs {
		v, ok := byNode[node]
		if ok && v != nil {
			found = true
		}
		sections[key] = v
	}
	if !found {
		return api.Sections{}
	}
	return sections
}

func sortedKeys(providers Providers) []model.HostKey {
	keys := make([]model.HostKey, 0, len(providers))
	for k := range providers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
