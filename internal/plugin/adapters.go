package plugin

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"

	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
)

var (
	_ Registry[string, sections.SectionPlugin]         = (*SectionAdapter)(nil)
	_ Registry[string, HostLabelPlugin]                = (*HostLabelAdapter)(nil)
	_ Registry[model.CheckPluginName, CheckPlugin]     = (*CheckAdapter)(nil)
	_ Registry[model.CheckPluginName, DiscoveryPlugin] = (*DiscoveryAdapter)(nil)
	_ Registry[string, InventoryPlugin]                = (*InventoryAdapter)(nil)
	_ sections.SectionPlugins                          = (*SectionAdapter)(nil)
)

// =============================================================================
// Section adapter
// =============================================================================

// SectionAdapter maps section names to sections.SectionPlugin.
type SectionAdapter struct {
	registry *api.Registry
}

// NewSectionAdapter creates a section adapter.
func NewSectionAdapter(registry *api.Registry) *SectionAdapter {
	return &SectionAdapter{registry: registry}
}

// Get implements Registry.
func (a *SectionAdapter) Get(name string) (sections.SectionPlugin, bool) {
	p, ok := a.registry.SectionPlugin(name)
	if !ok {
		return sections.SectionPlugin{}, false
	}
	return sections.SectionPlugin{
		Name:              p.Name,
		ParsedSectionName: p.ParsedSectionName,
		ParseFunction:     p.ParseFunction,
		Supersedes:        append([]string(nil), p.Supersedes...),
	}, true
}

// Names implements Registry.
func (a *SectionAdapter) Names() []string {
	return a.registry.SectionNames()
}

// =============================================================================
// Host label adapter
// =============================================================================

// HostLabelPlugin derives host labels from one parsed section.
type HostLabelPlugin struct {
	Name          string
	Function      api.HostLabelFunction
	ParametersFor func(host model.HostName) api.Parameters // 按主机解析生效参数
}

// HostLabelAdapter maps section names to HostLabelPlugin.
type HostLabelAdapter struct {
	registry *api.Registry
	matcher  api.RulesetMatcher
}

// NewHostLabelAdapter creates a host label adapter. matcher may be nil.
func NewHostLabelAdapter(registry *api.Registry, matcher api.RulesetMatcher) *HostLabelAdapter {
	return &HostLabelAdapter{registry: registry, matcher: matcher}
}

// Get implements Registry. Sections without a label function yield no labels.
func (a *HostLabelAdapter) Get(name string) (HostLabelPlugin, bool) {
	p, ok := a.registry.SectionPlugin(name)
	if !ok {
		return HostLabelPlugin{}, false
	}
	fn := p.HostLabelFunction
	if fn == nil {
		fn = func(api.HostLabelRequest) iter.Seq[api.ServiceLabel] {
			return func(func(api.ServiceLabel) bool) {}
		}
	}
	defaults, ruleset := p.HostLabelDefaultParameters, p.HostLabelRulesetName
	return HostLabelPlugin{
		Name:     p.Name,
		Function: fn,
		ParametersFor: func(host model.HostName) api.Parameters {
			return api.PluginParameters(host, a.matcher, defaults, ruleset)
		},
	}, true
}

// Names implements Registry.
func (a *HostLabelAdapter) Names() []string {
	return a.registry.SectionNames()
}

// =============================================================================
// Check adapter
// =============================================================================

// ServiceEvaluator performs full single-service evaluation.
type ServiceEvaluator interface {
	Evaluate(
		ctx context.Context,
		host model.HostName,
		service model.ConfiguredService,
		plugin api.CheckPlugin,
		providers sections.Providers,
	) (model.AggregatedResult, error)
}

// CheckFunction evaluates one configured service against the providers of a cycle.
type CheckFunction func(
	ctx context.Context,
	host model.HostName,
	service model.ConfiguredService,
	providers sections.Providers,
) (model.AggregatedResult, error)

// CheckPlugin is the engine facing shape of a check plugin.
type CheckPlugin struct {
	Name                 model.CheckPluginName
	Sections             []model.ParsedSectionName
	CheckFunction        CheckFunction
	DefaultParameters    api.Parameters // nil 表示插件不接收参数
	RulesetName          string
	DiscoveryRulesetName string
}

// CheckAdapter maps plugin names to CheckPlugin with the evaluation engine bound in.
type CheckAdapter struct {
	registry  *api.Registry
	evaluator ServiceEvaluator
}

// NewCheckAdapter creates a check adapter.
func NewCheckAdapter(registry *api.Registry, evaluator ServiceEvaluator) *CheckAdapter {
	return &CheckAdapter{registry: registry, evaluator: evaluator}
}

// Get implements Registry.
func (a *CheckAdapter) Get(name model.CheckPluginName) (CheckPlugin, bool) {
	p, ok := a.registry.CheckPlugin(string(name))
	if !ok {
		return CheckPlugin{}, false
	}
	evaluator := a.evaluator
	return CheckPlugin{
		Name:              name,
		Sections:          append([]string(nil), p.Sections...),
		DefaultParameters: p.CheckDefaultParameters,
		CheckFunction: func(
			ctx context.Context,
			host model.HostName,
			service model.ConfiguredService,
			providers sections.Providers,
		) (model.AggregatedResult, error) {
			return evaluator.Evaluate(ctx, host, service, p, providers)
		},
		RulesetName:          p.CheckRulesetName,
		DiscoveryRulesetName: p.DiscoveryRulesetName,
	}, true
}

// Names implements Registry.
func (a *CheckAdapter) Names() []model.CheckPluginName {
	names := a.registry.CheckNames()
	out := make([]model.CheckPluginName, len(names))
	for i, n := range names {
		out[i] = model.CheckPluginName(n)
	}
	return out
}

// =============================================================================
// Discovery adapter
// =============================================================================

// DiscoveryFunction finds services from resolved sections.
type DiscoveryFunction func(params api.Parameters, secs api.Sections) ([]model.AutocheckEntry, error)

// DiscoveryPlugin is the engine facing shape of a plugin's discovery.
type DiscoveryPlugin struct {
	Name          model.CheckPluginName
	Sections      []model.ParsedSectionName
	ServiceName   string
	Function      DiscoveryFunction
	ParametersFor func(host model.HostName) api.Parameters
}

// DiscoveryAdapter maps plugin names to DiscoveryPlugin.
type DiscoveryAdapter struct {
	registry *api.Registry
	matcher  api.RulesetMatcher
}

// NewDiscoveryAdapter creates a discovery adapter. matcher may be nil.
func NewDiscoveryAdapter(registry *api.Registry, matcher api.RulesetMatcher) *DiscoveryAdapter {
	return &DiscoveryAdapter{registry: registry, matcher: matcher}
}

// Get implements Registry. Plugins without a discovery function discover nothing.
func (a *DiscoveryAdapter) Get(name model.CheckPluginName) (DiscoveryPlugin, bool) {
	p, ok := a.registry.CheckPlugin(string(name))
	if !ok {
		return DiscoveryPlugin{}, false
	}
	defaults, ruleset := p.DiscoveryDefaultParameters, p.DiscoveryRulesetName
	return DiscoveryPlugin{
		Name:        name,
		Sections:    append([]string(nil), p.Sections...),
		ServiceName: p.ServiceName,
		Function:    discoveryBridge(name, p.ServiceName, p.DiscoveryFunction),
		ParametersFor: func(host model.HostName) api.Parameters {
			return api.PluginParameters(host, a.matcher, defaults, ruleset)
		},
	}, true
}

// Names implements Registry.
func (a *DiscoveryAdapter) Names() []model.CheckPluginName {
	return NewCheckAdapter(a.registry, nil).Names()
}

// discoveryBridge turns discovered services into autocheck entries.
func discoveryBridge(name model.CheckPluginName, serviceName string, fn api.DiscoveryFunction) DiscoveryFunction {
	itemized := strings.Contains(serviceName, "%s")
	return func(params api.Parameters, secs api.Sections) ([]model.AutocheckEntry, error) {
		if fn == nil {
			return nil, nil
		}
		var entries []model.AutocheckEntry
		for svc, err := range fn(api.DiscoveryRequest{Params: params, Sections: secs}) {
			if err != nil {
				return entries, fmt.Errorf("discovery of %s failed: %w", name, err)
			}
			if itemized != (svc.Item != "") {
				return entries, fmt.Errorf("discovery of %s yielded item %q for service name %q", name, svc.Item, serviceName)
			}
			entry := model.AutocheckEntry{CheckPluginName: name, Item: svc.Item}
			if svc.Parameters != nil {
				entry.Parameters = api.UnwrapParameters(svc.Parameters)
			}
			if len(svc.Labels) > 0 {
				entry.ServiceLabels = make(map[string]string, len(svc.Labels))
				for _, l := range svc.Labels {
					entry.ServiceLabels[l.Name] = l.Value
				}
			}
			entries = append(entries, entry)
		}
		return entries, nil
	}
}

// ServiceDescription renders the service name template for an item.
func ServiceDescription(template, item string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, item)
	}
	return template
}

// =============================================================================
// Inventory adapter
// =============================================================================

// InventoryFunction collects inventory records from resolved sections.
type InventoryFunction func(params api.Parameters, secs api.Sections) ([]model.InventoryRecord, error)

// InventoryPlugin is the engine facing shape of an inventory plugin.
type InventoryPlugin struct {
	Name              string
	Sections          []model.ParsedSectionName
	Function          InventoryFunction
	DefaultParameters api.Parameters
	RulesetName       string
}

// InventoryAdapter maps plugin names to InventoryPlugin.
type InventoryAdapter struct {
	registry *api.Registry
}

// NewInventoryAdapter creates an inventory adapter.
func NewInventoryAdapter(registry *api.Registry) *InventoryAdapter {
	return &InventoryAdapter{registry: registry}
}

// Get implements Registry.
func (a *InventoryAdapter) Get(name string) (InventoryPlugin, bool) {
	p, ok := a.registry.InventoryPlugin(name)
	if !ok {
		return InventoryPlugin{}, false
	}
	fn := p.InventoryFunction
	return InventoryPlugin{
		Name:              p.Name,
		Sections:          append([]string(nil), p.Sections...),
		DefaultParameters: p.DefaultParameters,
		RulesetName:       p.RulesetName,
		Function: func(params api.Parameters, secs api.Sections) ([]model.InventoryRecord, error) {
			var records []model.InventoryRecord
			for item, err := range fn(api.InventoryRequest{Params: params, Sections: secs}) {
				if err != nil {
					return records, fmt.Errorf("inventory plugin %s failed: %w", name, err)
				}
				records = append(records, model.InventoryRecord{
					Plugin:     name,
					Path:       item.Path,
					Attributes: item.Attributes,
					KeyColumns: item.KeyColumns,
					IsTableRow: item.IsTableRow,
				})
			}
			sort.SliceStable(records, func(i, j int) bool {
				return strings.Join(records[i].Path, ".") < strings.Join(records[j].Path, ".")
			})
			return records, nil
		},
	}, true
}

// Names implements Registry.
func (a *InventoryAdapter) Names() []string {
	return a.registry.InventoryNames()
}
