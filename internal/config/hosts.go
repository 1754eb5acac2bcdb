package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/a8m/envsubst"
	"gopkg.in/yaml.v3"

	"checkengine/internal/model"
	"checkengine/internal/params"
)

// =============================================================================
// Hosts file schema
// =============================================================================

// HostsFile is the on-disk host inventory.
type HostsFile struct {
	Timeperiods map[string]TimeperiodConfig `yaml:"timeperiods"` // 时间段定义
	Hosts       []HostConfig                `yaml:"hosts"`       // 主机
	Clusters    []ClusterConfig             `yaml:"clusters"`    // 集群
	Rulesets    map[string][]RuleConfig     `yaml:"rulesets"`    // 规则集（先出现的规则优先）
}

// HostConfig configures one monitored host.
type HostConfig struct {
	Name             string            `yaml:"name"`              // 主机名
	Address          string            `yaml:"address"`           // IP 或可解析的地址，空则解析主机名
	Labels           map[string]string `yaml:"labels"`            // 主机标签
	Sources          []SourceConfig    `yaml:"sources"`           // 数据源，空则默认 agent
	Management       *ManagementConfig `yaml:"management"`        // 管理板卡
	OnlyFrom         []string          `yaml:"only_from"`         // agent 允许访问的地址
	ExitSpec         map[string]string `yaml:"exit_spec"`         // 数据源异常时的状态
	RequiredSections []string          `yaml:"required_sections"` // 必须出现的段
	PiggybackMaxAge  time.Duration     `yaml:"piggyback_max_age"` // 搭载数据有效期，0 使用全局配置
	Services         []ServiceConfig   `yaml:"services"`          // 强制服务
}

// SourceConfig configures one data source of a host.
type SourceConfig struct {
	Type    string `yaml:"type"`    // agent/snmp/piggyback/program/special_agent
	Ident   string `yaml:"ident"`   // 标识，special_agent 必填
	Command string `yaml:"command"` // program/special_agent 的命令行
}

// ManagementConfig configures the management board of a host.
type ManagementConfig struct {
	Protocol string `yaml:"protocol"` // snmp 或 ipmi
	Address  string `yaml:"address"`  // 管理板卡地址
	Command  string `yaml:"command"`  // ipmi 采集命令
}

// ClusterConfig configures a cluster of nodes.
type ClusterConfig struct {
	Name              string            `yaml:"name"`               // 集群名
	Nodes             []string          `yaml:"nodes"`              // 节点主机名
	Labels            map[string]string `yaml:"labels"`             // 集群标签
	ClusteredServices []string          `yaml:"clustered_services"` // 归属集群的服务描述（前缀正则）
	Mode              string            `yaml:"mode"`               // 默认集群模式
	ServiceModes      map[string]string `yaml:"service_modes"`      // 服务描述 -> 集群模式
	ExitSpec          map[string]string `yaml:"exit_spec"`
	Services          []ServiceConfig   `yaml:"services"`
}

// ServiceConfig configures one enforced service.
type ServiceConfig struct {
	Plugin       string               `yaml:"plugin"`       // 检查插件名
	Item         string               `yaml:"item"`         // 检查项
	Description  string               `yaml:"description"`  // 服务描述，空则由插件模板生成
	Labels       map[string]string    `yaml:"labels"`       // 服务标签
	Parameters   any                  `yaml:"parameters"`   // 静态参数
	Timespecific []TimespecificConfig `yaml:"timespecific"` // 随时间段变化的参数
}

// TimespecificConfig is a default value plus per time period overrides.
type TimespecificConfig struct {
	Default     any                        `yaml:"default"`
	Timeperiods []TimeperiodOverrideConfig `yaml:"timeperiods"`
}

// TimeperiodOverrideConfig is a parameter value in effect during a time period.
type TimeperiodOverrideConfig struct {
	Timeperiod string `yaml:"timeperiod"`
	Value      any    `yaml:"value"`
}

// TimeperiodConfig defines when a time period is active.
type TimeperiodConfig struct {
	Days   []string `yaml:"days"`   // mon..sun，空表示每天
	Ranges []string `yaml:"ranges"` // "08:00-18:00"，空表示全天；可跨零点
}

// RuleConfig is one rule of a ruleset.
type RuleConfig struct {
	Hosts  []string          `yaml:"hosts"`  // 主机名，"~" 开头为正则，空表示全部
	Labels map[string]string `yaml:"labels"` // 需要匹配的主机标签
	Value  map[string]any    `yaml:"value"`  // 参数
}

// =============================================================================
// Loading
// =============================================================================

// Hosts is the loaded host inventory. It answers the per-host questions of the
// fetcher, the evaluator, the summarizer and the plugin adapters.
type Hosts struct {
	hosts       map[string]*HostConfig
	clusters    map[string]*ClusterConfig
	nodeOf      map[string][]*ClusterConfig
	clustered   map[string][]*regexp.Regexp
	timeperiods map[string]timeperiod
	rulesets    map[string][]rule
	passwords   Passwords
	names       []string

	resolver func(ctx context.Context, host string) ([]string, error)
	now      func() time.Time
}

// HostsOption configures Hosts.
type HostsOption func(*Hosts)

// WithResolver replaces DNS resolution of host addresses.
func WithResolver(fn func(ctx context.Context, host string) ([]string, error)) HostsOption {
	return func(h *Hosts) {
		h.resolver = fn
	}
}

// WithClock replaces the clock used for time period evaluation.
func WithClock(now func() time.Time) HostsOption {
	return func(h *Hosts) {
		h.now = now
	}
}

// WithPasswords sets the password store used for program macros.
func WithPasswords(p Passwords) HostsOption {
	return func(h *Hosts) {
		h.passwords = p
	}
}

// LoadHosts reads the host inventory, expanding ${ENV} references.
// Literal dollar signs, as in $PASSWORD:<id>$ macros, are written as $$.
func LoadHosts(path string, opts ...HostsOption) (*Hosts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hosts file: %w", err)
	}

	data, err = envsubst.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to expand env vars in hosts file: %w", err)
	}

	var file HostsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse hosts file: %w", err)
	}

	return NewHosts(file, opts...)
}

// NewHosts validates file and builds the lookup structures.
func NewHosts(file HostsFile, opts ...HostsOption) (*Hosts, error) {
	h := &Hosts{
		hosts:       make(map[string]*HostConfig),
		clusters:    make(map[string]*ClusterConfig),
		nodeOf:      make(map[string][]*ClusterConfig),
		clustered:   make(map[string][]*regexp.Regexp),
		timeperiods: make(map[string]timeperiod),
		rulesets:    make(map[string][]rule),
		passwords:   make(Passwords),
		resolver:    net.DefaultResolver.LookupHost,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	for name, tp := range file.Timeperiods {
		parsed, err := parseTimeperiod(tp)
		if err != nil {
			return nil, fmt.Errorf("timeperiod %q: %w", name, err)
		}
		h.timeperiods[name] = parsed
	}

	for i := range file.Hosts {
		host := &file.Hosts[i]
		if host.Name == "" {
			return nil, fmt.Errorf("host at index %d has no name", i)
		}
		if _, dup := h.hosts[host.Name]; dup {
			return nil, fmt.Errorf("duplicate host %q", host.Name)
		}
		if err := h.validateHost(host); err != nil {
			return nil, fmt.Errorf("host %q: %w", host.Name, err)
		}
		h.hosts[host.Name] = host
	}

	for i := range file.Clusters {
		cluster := &file.Clusters[i]
		if cluster.Name == "" {
			return nil, fmt.Errorf("cluster at index %d has no name", i)
		}
		if _, dup := h.hosts[cluster.Name]; dup {
			return nil, fmt.Errorf("cluster %q clashes with a host of the same name", cluster.Name)
		}
		if _, dup := h.clusters[cluster.Name]; dup {
			return nil, fmt.Errorf("duplicate cluster %q", cluster.Name)
		}
		if err := h.validateCluster(cluster); err != nil {
			return nil, fmt.Errorf("cluster %q: %w", cluster.Name, err)
		}
		h.clusters[cluster.Name] = cluster
		for _, node := range cluster.Nodes {
			h.nodeOf[node] = append(h.nodeOf[node], cluster)
		}
	}

	for name, rules := range file.Rulesets {
		for i, r := range rules {
			parsed, err := parseRule(r)
			if err != nil {
				return nil, fmt.Errorf("ruleset %q rule %d: %w", name, i, err)
			}
			h.rulesets[name] = append(h.rulesets[name], parsed)
		}
	}

	for name := range h.hosts {
		h.names = append(h.names, name)
	}
	for name := range h.clusters {
		h.names = append(h.names, name)
	}
	sort.Strings(h.names)

	return h, nil
}

func (h *Hosts) validateHost(host *HostConfig) error {
	for _, src := range host.Sources {
		switch src.Type {
		case "agent", "snmp", "piggyback":
		case "program":
			if src.Command == "" {
				return fmt.Errorf("program source requires a command")
			}
		case "special_agent":
			if src.Command == "" || src.Ident == "" {
				return fmt.Errorf("special_agent source requires ident and command")
			}
		default:
			return fmt.Errorf("unknown source type %q", src.Type)
		}
	}
	if m := host.Management; m != nil {
		switch m.Protocol {
		case "snmp":
			if m.Address == "" {
				return fmt.Errorf("snmp management board requires an address")
			}
		case "ipmi":
			if m.Command == "" {
				return fmt.Errorf("ipmi management board requires a command")
			}
		default:
			return fmt.Errorf("unknown management protocol %q", m.Protocol)
		}
	}
	if _, err := parseExitSpec(host.ExitSpec); err != nil {
		return err
	}
	return h.validateServices(host.Services)
}

func (h *Hosts) validateCluster(cluster *ClusterConfig) error {
	for _, node := range cluster.Nodes {
		if _, ok := h.hosts[node]; !ok {
			return fmt.Errorf("node %q is not a configured host", node)
		}
	}
	for _, pattern := range cluster.ClusteredServices {
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return fmt.Errorf("invalid clustered service pattern %q: %w", pattern, err)
		}
		h.clustered[cluster.Name] = append(h.clustered[cluster.Name], re)
	}
	if cluster.Mode != "" && !model.ClusterMode(cluster.Mode).Valid() {
		return fmt.Errorf("invalid cluster mode %q", cluster.Mode)
	}
	for desc, mode := range cluster.ServiceModes {
		if !model.ClusterMode(mode).Valid() {
			return fmt.Errorf("invalid cluster mode %q for service %q", mode, desc)
		}
	}
	if _, err := parseExitSpec(cluster.ExitSpec); err != nil {
		return err
	}
	return h.validateServices(cluster.Services)
}

func (h *Hosts) validateServices(services []ServiceConfig) error {
	for i, svc := range services {
		if svc.Plugin == "" {
			return fmt.Errorf("service at index %d has no plugin", i)
		}
		for _, ts := range svc.Timespecific {
			for _, tp := range ts.Timeperiods {
				if _, ok := h.timeperiods[tp.Timeperiod]; !ok {
					return fmt.Errorf("service %q references unknown timeperiod %q", svc.Plugin, tp.Timeperiod)
				}
			}
		}
	}
	return nil
}

// =============================================================================
// Host and cluster queries
// =============================================================================

// HostNames returns all configured hosts and clusters in sorted order.
func (h *Hosts) HostNames() []string {
	return append([]string(nil), h.names...)
}

// Has reports whether name is a configured host or cluster.
func (h *Hosts) Has(name string) bool {
	_, isHost := h.hosts[name]
	_, isCluster := h.clusters[name]
	return isHost || isCluster
}

// IsCluster reports whether name is a cluster.
func (h *Hosts) IsCluster(name string) bool {
	_, ok := h.clusters[name]
	return ok
}

// Nodes returns the nodes of a cluster, or nil for a plain host.
func (h *Hosts) Nodes(name string) []string {
	if c, ok := h.clusters[name]; ok {
		return append([]string(nil), c.Nodes...)
	}
	return nil
}

// EffectiveHost returns the cluster a node's service is assigned to, or the node itself.
func (h *Hosts) EffectiveHost(node, description string) string {
	for _, cluster := range h.nodeOf[node] {
		for _, re := range h.clustered[cluster.Name] {
			if re.MatchString(description) {
				return cluster.Name
			}
		}
	}
	return node
}

// ClusterMode returns how a clustered service combines its nodes.
func (h *Hosts) ClusterMode(cluster, description string) model.ClusterMode {
	c, ok := h.clusters[cluster]
	if !ok {
		return model.ClusterModeNative
	}
	if mode, ok := c.ServiceModes[description]; ok {
		return model.ClusterMode(mode)
	}
	if c.Mode != "" {
		return model.ClusterMode(c.Mode)
	}
	return model.ClusterModeNative
}

// Labels returns the labels of a host or cluster.
func (h *Hosts) Labels(name string) map[string]string {
	if host, ok := h.hosts[name]; ok {
		return host.Labels
	}
	if c, ok := h.clusters[name]; ok {
		return c.Labels
	}
	return nil
}

// OnlyFrom returns the addresses the host's agent accepts connections from.
func (h *Hosts) OnlyFrom(name string) []string {
	if host, ok := h.hosts[name]; ok {
		return host.OnlyFrom
	}
	return nil
}

// Password implements the password lookup of program sources.
func (h *Hosts) Password(id string) (string, bool) {
	return h.passwords.Lookup(id)
}

// ResolveIP returns the address the host is reached at.
func (h *Hosts) ResolveIP(ctx context.Context, name string) (string, error) {
	target := name
	if host, ok := h.hosts[name]; ok && host.Address != "" {
		target = host.Address
	}
	if ip := net.ParseIP(target); ip != nil {
		return ip.String(), nil
	}
	addrs, err := h.resolver(ctx, target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("failed to resolve %s: no addresses", target)
	}
	return addrs[0], nil
}

// Sources returns the configured data sources of a host in declaration order.
func (h *Hosts) Sources(name string) []model.SourceSpec {
	host, ok := h.hosts[name]
	if !ok {
		return nil
	}

	configured := host.Sources
	if len(configured) == 0 {
		configured = []SourceConfig{{Type: "agent"}}
	}

	var specs []model.SourceSpec
	for _, src := range configured {
		spec := model.SourceSpec{SourceType: model.SourceTypeHost, Command: src.Command, Ident: src.Ident}
		switch src.Type {
		case "agent":
			spec.FetcherType = model.FetcherTypeAgent
			spec.Ident = orDefault(spec.Ident, "agent")
		case "snmp":
			spec.FetcherType = model.FetcherTypeSNMP
			spec.Ident = orDefault(spec.Ident, "snmp")
		case "piggyback":
			spec.FetcherType = model.FetcherTypePiggyback
			spec.Ident = orDefault(spec.Ident, "piggyback")
		case "program":
			spec.FetcherType = model.FetcherTypeProgram
			spec.Ident = orDefault(spec.Ident, "agent")
		case "special_agent":
			spec.FetcherType = model.FetcherTypeSpecialAgent
			spec.Ident = "special_" + spec.Ident
		}
		specs = append(specs, spec)
	}

	if m := host.Management; m != nil {
		spec := model.SourceSpec{SourceType: model.SourceTypeManagement, Address: m.Address, Command: m.Command}
		if m.Protocol == "ipmi" {
			spec.FetcherType = model.FetcherTypeIPMI
			spec.Ident = "mgmt_ipmi"
		} else {
			spec.FetcherType = model.FetcherTypeSNMP
			spec.Ident = "mgmt_snmp"
		}
		specs = append(specs, spec)
	}
	return specs
}

// IsPiggybackTarget reports whether the host expects piggyback data.
func (h *Hosts) IsPiggybackTarget(name string) bool {
	for _, spec := range h.Sources(name) {
		if spec.FetcherType == model.FetcherTypePiggyback {
			return true
		}
	}
	return false
}

// PiggybackMaxAge returns the host specific piggyback max age, 0 if unset.
func (h *Hosts) PiggybackMaxAge(name string) time.Duration {
	if host, ok := h.hosts[name]; ok {
		return host.PiggybackMaxAge
	}
	return 0
}

// RequiredSections returns the sections the host's data must contain.
func (h *Hosts) RequiredSections(name string) []string {
	if host, ok := h.hosts[name]; ok {
		return host.RequiredSections
	}
	return nil
}

// ExitSpec returns the states data source problems are reported with.
func (h *Hosts) ExitSpec(name string) model.ExitSpec {
	var raw map[string]string
	if host, ok := h.hosts[name]; ok {
		raw = host.ExitSpec
	} else if c, ok := h.clusters[name]; ok {
		raw = c.ExitSpec
	}
	spec, _ := parseExitSpec(raw)
	return spec
}

func parseExitSpec(raw map[string]string) (model.ExitSpec, error) {
	spec := model.DefaultExitSpec()
	for key, value := range raw {
		state, ok := model.ParseServiceState(value)
		if !ok {
			return spec, fmt.Errorf("exit_spec %s: invalid state %q", key, value)
		}
		switch key {
		case "connection":
			spec.Connection = state
		case "timeout":
			spec.Timeout = state
		case "exception":
			spec.Exception = state
		case "empty_output":
			spec.EmptyOutput = state
		case "missing_sections":
			spec.MissingSections = state
		default:
			return spec, fmt.Errorf("unknown exit_spec key %q", key)
		}
	}
	return spec, nil
}

// Services returns the enforced services of a host or cluster.
func (h *Hosts) Services(name string) []model.ConfiguredService {
	var configured []ServiceConfig
	if host, ok := h.hosts[name]; ok {
		configured = host.Services
	} else if c, ok := h.clusters[name]; ok {
		configured = c.Services
	}

	services := make([]model.ConfiguredService, 0, len(configured))
	for _, svc := range configured {
		services = append(services, model.ConfiguredService{
			CheckPluginName: model.CheckPluginName(svc.Plugin),
			Item:            svc.Item,
			Description:     svc.Description,
			Labels:          svc.Labels,
			Parameters:      timespecificParameters(svc),
			IsEnforced:      true,
		})
	}
	return services
}

func timespecificParameters(svc ServiceConfig) params.TimespecificParameters {
	var sets []params.TimespecificParameterSet
	for _, ts := range svc.Timespecific {
		set := params.TimespecificParameterSet{Default: params.FromAny(ts.Default)}
		for _, tp := range ts.Timeperiods {
			set.Timeperiods = append(set.Timeperiods, params.TimeperiodValue{
				Timeperiod: tp.Timeperiod,
				Value:      params.FromAny(tp.Value),
			})
		}
		sets = append(sets, set)
	}
	if svc.Parameters != nil {
		sets = append(sets, params.TimespecificParameterSet{Default: params.FromAny(svc.Parameters)})
	}
	return params.TimespecificParameters{Sets: sets}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// =============================================================================
// Rulesets
// =============================================================================

type rule struct {
	names    map[string]bool
	patterns []*regexp.Regexp
	labels   map[string]string
	value    map[string]any
}

func parseRule(r RuleConfig) (rule, error) {
	parsed := rule{names: make(map[string]bool), labels: r.Labels, value: r.Value}
	for _, h := range r.Hosts {
		if pattern, ok := strings.CutPrefix(h, "~"); ok {
			re, err := regexp.Compile("^(?:" + pattern + ")")
			if err != nil {
				return parsed, fmt.Errorf("invalid host pattern %q: %w", h, err)
			}
			parsed.patterns = append(parsed.patterns, re)
			continue
		}
		parsed.names[h] = true
	}
	return parsed, nil
}

func (r rule) matches(host string, labels map[string]string) bool {
	for k, v := range r.labels {
		if labels[k] != v {
			return false
		}
	}
	if len(r.names) == 0 && len(r.patterns) == 0 {
		return true
	}
	if r.names[host] {
		return true
	}
	for _, re := range r.patterns {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

// RulesFor returns the values of all rules of ruleset matching host, highest priority first.
func (h *Hosts) RulesFor(host, ruleset string) []map[string]any {
	labels := h.Labels(host)
	var values []map[string]any
	for _, r := range h.rulesets[ruleset] {
		if r.matches(host, labels) {
			values = append(values, r.value)
		}
	}
	return values
}

// =============================================================================
// Time periods
// =============================================================================

type timeRange struct {
	from, to time.Duration
}

type timeperiod struct {
	days   map[time.Weekday]bool
	ranges []timeRange
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseTimeperiod(cfg TimeperiodConfig) (timeperiod, error) {
	tp := timeperiod{days: make(map[time.Weekday]bool)}
	for _, d := range cfg.Days {
		wd, ok := weekdays[strings.ToLower(d)[:min(3, len(d))]]
		if !ok {
			return tp, fmt.Errorf("invalid day %q", d)
		}
		tp.days[wd] = true
	}
	for _, r := range cfg.Ranges {
		fromStr, toStr, ok := strings.Cut(r, "-")
		if !ok {
			return tp, fmt.Errorf("invalid range %q, expected HH:MM-HH:MM", r)
		}
		from, err := parseClock(fromStr)
		if err != nil {
			return tp, err
		}
		to, err := parseClock(toStr)
		if err != nil {
			return tp, err
		}
		tp.ranges = append(tp.ranges, timeRange{from: from, to: to})
	}
	return tp, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		if strings.TrimSpace(s) == "24:00" {
			return 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (tp timeperiod) active(now time.Time) bool {
	if len(tp.days) > 0 && !tp.days[now.Weekday()] {
		return false
	}
	if len(tp.ranges) == 0 {
		return true
	}
	offset := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
	for _, r := range tp.ranges {
		if r.from <= r.to {
			if offset >= r.from && offset < r.to {
				return true
			}
			continue
		}
		if offset >= r.from || offset < r.to {
			return true
		}
	}
	return false
}

// TimeperiodActive reports whether the named time period is active now.
// Unknown time periods are never active.
func (h *Hosts) TimeperiodActive(name string) bool {
	tp, ok := h.timeperiods[name]
	if !ok {
		return false
	}
	return tp.active(h.now())
}
