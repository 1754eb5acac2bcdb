package model

import (
	"sort"
	"time"
)

// SourceResult is the summarized state of one data source of a host.
type SourceResult struct {
	Source SourceInfo        `json:"source"` // 数据源
	Result ActiveCheckResult `json:"result"` // 汇总结果
	Timing Snapshot          `json:"timing"` // 采集耗时
}

// HostResult is the outcome of one check cycle for a host or cluster.
type HostResult struct {
	// 基础信息
	Hostname  string     `json:"hostname"`   // 主机名
	IP        string     `json:"ip"`         // IP 地址
	IsCluster bool       `json:"is_cluster"` // 是否为集群
	Status    HostStatus `json:"status"`     // 整体状态

	// 检查结果
	Services []AggregatedResult `json:"services"` // 服务检查结果
	Sources  []SourceResult     `json:"sources"`  // 数据源状态
	Problems []*Problem         `json:"problems"` // 非 OK 的服务

	// 时间信息
	CheckedAt time.Time     `json:"checked_at"` // 检查时间
	Duration  time.Duration `json:"duration"`   // 耗时

	// 错误信息
	Error string `json:"error,omitempty"` // 检查错误信息
}

// NewHostResult creates an empty result for hostname.
func NewHostResult(hostname string, checkedAt time.Time) *HostResult {
	return &HostResult{
		Hostname:  hostname,
		Status:    HostStatusNormal,
		Services:  make([]AggregatedResult, 0),
		Sources:   make([]SourceResult, 0),
		Problems:  make([]*Problem, 0),
		CheckedAt: checkedAt,
	}
}

// AddService records a service result. Submittable non-OK results become problems.
func (r *HostResult) AddService(res AggregatedResult) {
	r.Services = append(r.Services, res)
	if res.Result.Submittable && res.Result.State != StateOK {
		r.Problems = append(r.Problems, &Problem{
			Hostname:    r.Hostname,
			Description: res.Service.Description,
			Plugin:      string(res.Service.CheckPluginName),
			State:       res.Result.State,
			Summary:     res.Result.Summary(),
		})
	}
}

// AddSource records the summarized state of a data source.
func (r *HostResult) AddSource(res SourceResult) {
	r.Sources = append(r.Sources, res)
}

// Finalize derives the host status from services and sources.
func (r *HostResult) Finalize(endTime time.Time) {
	r.Duration = endTime.Sub(r.CheckedAt)
	if r.Error != "" {
		r.Status = HostStatusFailed
		return
	}
	states := make([]ServiceState, 0, len(r.Services)+len(r.Sources))
	for _, s := range r.Services {
		if s.Result.Submittable {
			states = append(states, s.Result.State)
		}
	}
	for _, s := range r.Sources {
		states = append(states, s.Result.State)
	}
	r.Status = StatusFromState(WorstState(states...))
}

// Problem is a service that is not OK.
type Problem struct {
	Hostname    string       `json:"hostname"`    // 主机名
	Description string       `json:"description"` // 服务描述
	Plugin      string       `json:"plugin"`      // 检查插件
	State       ServiceState `json:"state"`       // 状态
	Summary     string       `json:"summary"`     // 摘要
}

// IsCritical returns true if the problem is at critical state.
func (p *Problem) IsCritical() bool {
	return p.State == StateCrit
}

// RunSummary provides aggregated statistics about a check run.
type RunSummary struct {
	TotalHosts    int `json:"total_hosts"`    // 主机总数
	NormalHosts   int `json:"normal_hosts"`   // 正常主机数
	WarningHosts  int `json:"warning_hosts"`  // 警告主机数
	CriticalHosts int `json:"critical_hosts"` // 严重主机数
	UnknownHosts  int `json:"unknown_hosts"`  // 未知主机数
	FailedHosts   int `json:"failed_hosts"`   // 检查失败主机数
	TotalServices int `json:"total_services"` // 服务总数
	Problems      int `json:"problems"`       // 问题服务数
}

// NewRunSummary creates a summary from host results.
func NewRunSummary(hosts []*HostResult) *RunSummary {
	summary := &RunSummary{}
	for _, host := range hosts {
		if host == nil {
			continue
		}
		summary.TotalHosts++
		summary.TotalServices += len(host.Services)
		summary.Problems += len(host.Problems)
		switch host.Status {
		case HostStatusNormal:
			summary.NormalHosts++
		case HostStatusWarning:
			summary.WarningHosts++
		case HostStatusCritical:
			summary.CriticalHosts++
		case HostStatusUnknown:
			summary.UnknownHosts++
		case HostStatusFailed:
			summary.FailedHosts++
		}
	}
	return summary
}

// CheckRun is the result of checking a set of hosts.
type CheckRun struct {
	StartedAt time.Time     `json:"started_at"` // 开始时间
	Duration  time.Duration `json:"duration"`   // 耗时
	Summary   *RunSummary   `json:"summary"`    // 摘要统计
	Hosts     []*HostResult `json:"hosts"`      // 主机结果列表
	Problems  []*Problem    `json:"problems"`   // 所有问题服务
	Version   string        `json:"version,omitempty"`
}

// NewCheckRun creates an empty run started at startedAt.
func NewCheckRun(startedAt time.Time) *CheckRun {
	return &CheckRun{
		StartedAt: startedAt,
		Hosts:     make([]*HostResult, 0),
		Problems:  make([]*Problem, 0),
	}
}

// AddHost adds a host result to the run.
func (r *CheckRun) AddHost(host *HostResult) {
	if host == nil {
		return
	}
	r.Hosts = append(r.Hosts, host)
	r.Problems = append(r.Problems, host.Problems...)
}

// Finalize sorts hosts and problems and computes the summary.
func (r *CheckRun) Finalize(endTime time.Time) {
	r.Duration = endTime.Sub(r.StartedAt)
	sort.SliceStable(r.Hosts, func(i, j int) bool { return r.Hosts[i].Hostname < r.Hosts[j].Hostname })
	sort.SliceStable(r.Problems, func(i, j int) bool {
		if r.Problems[i].State != r.Problems[j].State {
			return r.Problems[i].State > r.Problems[j].State
		}
		if r.Problems[i].Hostname != r.Problems[j].Hostname {
			return r.Problems[i].Hostname < r.Problems[j].Hostname
		}
		return r.Problems[i].Description < r.Problems[j].Description
	})
	r.Summary = NewRunSummary(r.Hosts)
}

// GetHostByName finds a host result by hostname.
func (r *CheckRun) GetHostByName(hostname string) *HostResult {
	for _, host := range r.Hosts {
		if host != nil && host.Hostname == hostname {
			return host
		}
	}
	return nil
}

// HasCritical returns true if any host has critical status.
func (r *CheckRun) HasCritical() bool {
	return r.Summary != nil && r.Summary.CriticalHosts > 0
}
