// Package model provides data models for the check engine.
package model

import (
	"sort"
	"time"
)

// SectionName is the name of a raw section as it appears in fetched data.
type SectionName = string

// ParsedSectionName is the logical name plugins subscribe to.
type ParsedSectionName = string

// SectionRows is the raw content of a section: rows of columns.
type SectionRows [][]string

// CacheInfo describes the freshness of cached section data.
type CacheInfo struct {
	CachedAt time.Time     `json:"cached_at"` // 数据缓存时间
	Interval time.Duration `json:"interval"`  // 缓存刷新周期
}

// Age returns the age of the cached data relative to now.
func (c CacheInfo) Age(now time.Time) time.Duration {
	return now.Sub(c.CachedAt)
}

// MergeCacheInfo combines cache infos into the oldest timestamp and the longest interval.
// It returns nil when no cache info is given.
func MergeCacheInfo(infos []CacheInfo) *CacheInfo {
	if len(infos) == 0 {
		return nil
	}
	merged := infos[0]
	for _, ci := range infos[1:] {
		if ci.CachedAt.Before(merged.CachedAt) {
			merged.CachedAt = ci.CachedAt
		}
		if ci.Interval > merged.Interval {
			merged.Interval = ci.Interval
		}
	}
	return &merged
}

// PiggybackMeta describes one piggyback file stored for a target host.
type PiggybackMeta struct {
	Source HostName      `json:"source"` // 提供数据的源主机
	Target HostName      `json:"target"` // 数据所属主机
	Age    time.Duration `json:"age"`    // 数据年龄
	Valid  bool          `json:"valid"`  // 是否在有效期内
}

// HostSections is the parsed result of one source.
type HostSections struct {
	Sections  map[SectionName]SectionRows `json:"sections"`            // 段名 -> 行数据
	CacheInfo map[SectionName]CacheInfo   `json:"cache_info"`          // 段名 -> 缓存信息
	Piggyback map[HostName][]string       `json:"piggyback,omitempty"` // 目标主机 -> 原始行
}

// NewHostSections creates an empty HostSections.
func NewHostSections() HostSections {
	return HostSections{
		Sections:  make(map[SectionName]SectionRows),
		CacheInfo: make(map[SectionName]CacheInfo),
		Piggyback: make(map[HostName][]string),
	}
}

// AddRows appends rows to a section, creating it if needed. Existing rows are never replaced.
func (h *HostSections) AddRows(name SectionName, rows SectionRows) {
	if h.Sections == nil {
		h.Sections = make(map[SectionName]SectionRows)
	}
	h.Sections[name] = append(h.Sections[name], rows...)
}

// Extend merges other into h, row-extending sections present in both.
func (h *HostSections) Extend(other HostSections) {
	for _, name := range other.SectionNames() {
		h.AddRows(name, other.Sections[name])
	}
	if len(other.CacheInfo) > 0 && h.CacheInfo == nil {
		h.CacheInfo = make(map[SectionName]CacheInfo)
	}
	for name, ci := range other.CacheInfo {
		if existing, ok := h.CacheInfo[name]; ok {
			h.CacheInfo[name] = *MergeCacheInfo([]CacheInfo{existing, ci})
			continue
		}
		h.CacheInfo[name] = ci
	}
	if len(other.Piggyback) > 0 && h.Piggyback == nil {
		h.Piggyback = make(map[HostName][]string)
	}
	for host, lines := range other.Piggyback {
		h.Piggyback[host] = append(h.Piggyback[host], lines...)
	}
}

// SectionNames returns the section names in sorted order.
func (h HostSections) SectionNames() []SectionName {
	names := make([]SectionName, 0, len(h.Sections))
	for name := range h.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEmpty returns true if no sections were parsed.
func (h HostSections) IsEmpty() bool {
	return len(h.Sections) == 0
}

// ParseResult is the per-source outcome of parsing.
type ParseResult struct {
	Source   SourceInfo
	Sections HostSections
	Err      error
}

// IsOk returns true if parsing succeeded.
func (r ParseResult) IsOk() bool {
	return r.Err == nil
}
