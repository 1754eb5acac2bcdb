// Package model provides data models for the check engine.
package model

import (
	"strings"

	"checkengine/internal/params"
)

// CheckPluginName is the stable registry name of a check plugin.
type CheckPluginName string

// IsManagementName reports whether the plugin evaluates management board data.
func (n CheckPluginName) IsManagementName() bool {
	return strings.HasPrefix(string(n), "mgmt_")
}

// SourceType returns the source type whose sections the plugin consumes.
func (n CheckPluginName) SourceType() SourceType {
	if n.IsManagementName() {
		return SourceTypeManagement
	}
	return SourceTypeHost
}

// ServiceID identifies a service on a host independently of its description.
type ServiceID struct {
	PluginName CheckPluginName `json:"plugin_name"`
	Item       string          `json:"item,omitempty"`
}

// String returns a stable key form used for persistence.
func (id ServiceID) String() string {
	if id.Item == "" {
		return string(id.PluginName)
	}
	return string(id.PluginName) + "/" + id.Item
}

// ConfiguredService is the unit being evaluated. The core never mutates it.
type ConfiguredService struct {
	CheckPluginName CheckPluginName               `json:"check_plugin_name"`    // 检查插件名
	Item            string                        `json:"item,omitempty"`       // 检查项（无则为空）
	Description     string                        `json:"description"`          // 服务描述
	Labels          map[string]string             `json:"labels,omitempty"`     // 服务标签
	Parameters      params.TimespecificParameters `json:"-"`                    // 配置参数（可能随时间段变化）
	Discovered      map[string]any                `json:"discovered,omitempty"` // 发现时得到的参数
	IsEnforced      bool                          `json:"is_enforced"`          // 是否为强制服务
}

// ID returns the service identity.
func (s ConfiguredService) ID() ServiceID {
	return ServiceID{PluginName: s.CheckPluginName, Item: s.Item}
}

// HasItem reports whether the service is itemized.
func (s ConfiguredService) HasItem() bool {
	return s.Item != ""
}

// AutocheckEntry is a discovered service as the engine stores it.
type AutocheckEntry struct {
	CheckPluginName CheckPluginName   `json:"check_plugin_name" yaml:"check_plugin_name"`
	Item            string            `json:"item,omitempty" yaml:"item,omitempty"`
	Parameters      any               `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	ServiceLabels   map[string]string `json:"service_labels,omitempty" yaml:"service_labels,omitempty"`
}

// ID returns the service identity of the discovered entry.
func (e AutocheckEntry) ID() ServiceID {
	return ServiceID{PluginName: e.CheckPluginName, Item: e.Item}
}

// InventoryRecord is one row produced by an inventory plugin.
type InventoryRecord struct {
	Plugin     string         `json:"plugin"`                // 资产插件名
	Path       []string       `json:"path"`                  // 资产树路径
	Attributes map[string]any `json:"attributes,omitempty"`  // 属性
	KeyColumns map[string]any `json:"key_columns,omitempty"` // 表格行主键列
	IsTableRow bool           `json:"is_table_row"`          // 是否为表格行
}

// HostLabel is a label derived from section data.
type HostLabel struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Plugin string `json:"plugin"` // 产生该标签的段插件
}
