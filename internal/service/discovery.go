package service

import (
	"context"
	"fmt"
	"sort"

	"checkengine/internal/fetcher"
	"checkengine/internal/model"
	"checkengine/internal/plugin"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
)

// DiscoveryResult is what a discovery of one host found.
type DiscoveryResult struct {
	Host       model.HostName         `json:"host"`             // 主机名
	Services   []model.AutocheckEntry `json:"services"`         // 发现的服务
	HostLabels []model.HostLabel      `json:"host_labels"`      // 主机标签
	Errors     []string               `json:"errors,omitempty"` // 插件错误
	Saved      bool                   `json:"saved"`            // 是否已写入 autochecks
}

// Discover finds the services and host labels of host. Failing plugins are recorded
// and skipped. With an autochecks store the found services replace the stored ones.
func (c *Checker) Discover(ctx context.Context, host model.HostName) (*DiscoveryResult, error) {
	if c.config.IsCluster(host) {
		return nil, fmt.Errorf("discovery of cluster %s is not supported, discover its nodes", host)
	}
	logger := c.logger.With().Str("host", host).Logger()

	providers := c.providers(ctx, host, fetcher.ModeDiscovery)
	result := &DiscoveryResult{Host: host}

	// Host labels
	for _, name := range c.plugins.HostLabels.Names() {
		p, ok := c.plugins.HostLabels.Get(name)
		if !ok {
			continue
		}
		labels, err := c.hostLabels(providers, host, p)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.HostLabels = append(result.HostLabels, labels...)
	}

	// Services
	for _, name := range c.plugins.Discovery.Names() {
		p, ok := c.plugins.Discovery.Get(name)
		if !ok {
			continue
		}
		kwargs := sections.GetSectionKwargs(providers, model.HostKey{HostName: host, SourceType: name.SourceType()}, p.Sections)
		if len(kwargs) == 0 {
			continue
		}
		entries, err := safeCall(func() ([]model.AutocheckEntry, error) {
			return p.Function(p.ParametersFor(host), kwargs)
		})
		if err != nil {
			logger.Warn().Err(err).Str("plugin", string(name)).Msg("discovery plugin failed")
			result.Errors = append(result.Errors, err.Error())
			continue // Single plugin failure does not abort
		}
		result.Services = append(result.Services, entries...)
	}

	if c.autochecks != nil && ctx.Err() == nil {
		if err := c.autochecks.Save(host, result.Services); err != nil {
			return result, err
		}
		result.Saved = true
	}

	logger.Info().
		Int("services", len(result.Services)).
		Int("host_labels", len(result.HostLabels)).
		Int("errors", len(result.Errors)).
		Msg("discovery completed")
	return result, ctx.Err()
}

func (c *Checker) hostLabels(providers sections.Providers, host model.HostName, p plugin.HostLabelPlugin) ([]model.HostLabel, error) {
	section, ok := c.plugins.Sections.Get(p.Name)
	if !ok {
		return nil, nil
	}
	var labels []model.HostLabel
	for _, sourceType := range []model.SourceType{model.SourceTypeHost, model.SourceTypeManagement} {
		provider, ok := providers[model.HostKey{HostName: host, SourceType: sourceType}]
		if !ok {
			continue
		}
		resolved, ok := provider.Resolve(section.ParsedSectionName)
		if !ok || resolved.Producer != p.Name {
			continue
		}
		found, err := safeCall(func() ([]model.HostLabel, error) {
			var out []model.HostLabel
			for l := range p.Function(api.HostLabelRequest{Params: p.ParametersFor(host), Section: resolved.ParsedData}) {
				out = append(out, model.HostLabel{Name: l.Name, Value: l.Value, Plugin: p.Name})
			}
			return out, nil
		})
		if err != nil {
			return labels, fmt.Errorf("host labels of section %s failed: %w", p.Name, err)
		}
		labels = append(labels, found...)
	}
	return labels, nil
}

// Inventory collects the inventory records of host. Failing plugins are skipped.
func (c *Checker) Inventory(ctx context.Context, host model.HostName) ([]model.InventoryRecord, error) {
	providers := c.providers(ctx, host, fetcher.ModeInventory)
	key := model.HostKey{HostName: host, SourceType: model.SourceTypeHost}

	var records []model.InventoryRecord
	for _, name := range c.plugins.Inventory.Names() {
		p, ok := c.plugins.Inventory.Get(name)
		if !ok {
			continue
		}
		kwargs := sections.GetSectionKwargs(providers, key, p.Sections)
		if len(kwargs) == 0 {
			continue
		}
		found, err := safeCall(func() ([]model.InventoryRecord, error) {
			return p.Function(api.PluginParameters(host, c.config, p.DefaultParameters, p.RulesetName), kwargs)
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("host", host).Str("plugin", name).Msg("inventory plugin failed")
			continue // Single plugin failure does not abort
		}
		records = append(records, found...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Plugin < records[j].Plugin })
	return records, ctx.Err()
}

func (c *Checker) providers(ctx context.Context, host model.HostName, mode fetcher.Mode) sections.Providers {
	fetched := c.fetcher.Fetch(ctx, host, mode)
	parsed := c.parser.Parse(fetched, nil)
	return sections.MakeProviders(parsed, c.plugins.Sections, c.logger)
}

// safeCall runs fn and turns a panic into an error.
func safeCall[T any](fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return fn()
}
