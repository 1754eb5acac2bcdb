package api

import (
	"context"
	"iter"
)

// Parameters is the plugin facing parameter mapping.
type Parameters map[string]any

// wrapperKey holds non-mapping parameters inside a Parameters mapping.
const wrapperKey = "auto-migration-wrapper-key"

// WrapParameters returns mappings unchanged and wraps everything else.
func WrapParameters(v any) Parameters {
	if m, ok := v.(map[string]any); ok {
		return Parameters(m)
	}
	if p, ok := v.(Parameters); ok {
		return p
	}
	return Parameters{wrapperKey: v}
}

// UnwrapParameters reverses WrapParameters.
func UnwrapParameters(p Parameters) any {
	if len(p) == 1 {
		if v, ok := p[wrapperKey]; ok {
			return v
		}
	}
	return map[string]any(p)
}

// ValueStore is the per-service scratch space that survives between check cycles.
type ValueStore interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Delete(key string)
	Keys() []string
}

// ServiceContext identifies the service being checked.
type ServiceContext struct {
	HostName    string
	PluginName  string
	Description string
}

// Sections maps section keyword to parsed content: "section" when the plugin subscribes
// to a single section, "section_<name>" otherwise. Missing sections have nil content.
type Sections map[string]any

// CheckRequest is the input of a check function.
type CheckRequest struct {
	Item     string
	Params   Parameters
	Sections Sections
	Store    ValueStore
	Service  ServiceContext
}

// ClusterCheckRequest is the input of a native cluster check function.
// NodeSections maps section keyword to node name to parsed content.
type ClusterCheckRequest struct {
	Item         string
	Params       Parameters
	NodeSections map[string]map[string]any
	Store        ValueStore
	Service      ServiceContext
}

// CheckFunction evaluates one service.
type CheckFunction func(ctx context.Context, req CheckRequest) CheckResult

// ClusterCheckFunction evaluates one clustered service over all its nodes.
type ClusterCheckFunction func(ctx context.Context, req ClusterCheckRequest) CheckResult

// ServiceLabel is a label attached to a discovered service.
type ServiceLabel struct {
	Name  string
	Value string
}

// DiscoveredService is yielded by discovery functions.
type DiscoveredService struct {
	Item       string
	Parameters Parameters
	Labels     []ServiceLabel
}

// DiscoveryRequest is the input of a discovery function.
type DiscoveryRequest struct {
	Params   Parameters
	Sections Sections
}

// DiscoveryFunction finds the services a host provides.
type DiscoveryFunction func(req DiscoveryRequest) iter.Seq2[DiscoveredService, error]

// HostLabelRequest is the input of a host label function.
type HostLabelRequest struct {
	Params  Parameters
	Section any
}

// HostLabelFunction derives host labels from one parsed section.
type HostLabelFunction func(req HostLabelRequest) iter.Seq[ServiceLabel]

// InventoryItem is either an attribute set or a table row under Path.
type InventoryItem struct {
	Path       []string
	Attributes map[string]any
	KeyColumns map[string]any
	IsTableRow bool
}

// InventoryRequest is the input of an inventory function.
type InventoryRequest struct {
	Params   Parameters
	Sections Sections
}

// InventoryFunction collects inventory data.
type InventoryFunction func(req InventoryRequest) iter.Seq2[InventoryItem, error]

// ParseFunction turns raw section rows into plugin specific data.
type ParseFunction func(rows [][]string) (any, error)

// SectionPlugin declares how a raw section is parsed.
type SectionPlugin struct {
	Name                       string
	ParsedSectionName          string // 默认等于 Name
	ParseFunction              ParseFunction
	Supersedes                 []string
	HostLabelFunction          HostLabelFunction
	HostLabelDefaultParameters Parameters
	HostLabelRulesetName       string
}

// CheckPlugin declares a check together with its discovery.
type CheckPlugin struct {
	Name                       string
	Sections                   []string
	ServiceName                string // 含 %s 时由 item 填充
	DiscoveryFunction          DiscoveryFunction
	DiscoveryDefaultParameters Parameters
	DiscoveryRulesetName       string
	CheckFunction              CheckFunction
	CheckDefaultParameters     Parameters // nil 表示插件不接收参数
	CheckRulesetName           string
	ClusterCheckFunction       ClusterCheckFunction
}

// InventoryPlugin declares an inventory collector.
type InventoryPlugin struct {
	Name              string
	Sections          []string
	InventoryFunction InventoryFunction
	DefaultParameters Parameters
	RulesetName       string
}
