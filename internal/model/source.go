// Package model provides data models for the check engine.
package model

import (
	"fmt"
	"time"
)

// HostName identifies a monitored host or cluster.
type HostName = string

// SourceType distinguishes data about the host itself from data about its management board.
type SourceType string

const (
	SourceTypeHost       SourceType = "HOST"       // 主机本身
	SourceTypeManagement SourceType = "MANAGEMENT" // 管理板卡（IPMI/iLO 等）
)

// FetcherType identifies the protocol kind of a data source.
type FetcherType string

const (
	FetcherTypeAgent        FetcherType = "AGENT"         // 拉取式 agent（HTTP）
	FetcherTypeProgram      FetcherType = "PROGRAM"       // 数据源程序
	FetcherTypeSpecialAgent FetcherType = "SPECIAL_AGENT" // 特殊 agent 程序
	FetcherTypePiggyback    FetcherType = "PIGGYBACK"     // 搭载数据
	FetcherTypeSNMP         FetcherType = "SNMP"          // SNMP
	FetcherTypeIPMI         FetcherType = "IPMI"          // 管理板卡 IPMI
	FetcherTypeNone         FetcherType = "NONE"          // 无数据源
)

// IsAgentLike reports whether raw data of this fetcher type uses the agent section format.
func (t FetcherType) IsAgentLike() bool {
	switch t {
	case FetcherTypeAgent, FetcherTypeProgram, FetcherTypeSpecialAgent, FetcherTypePiggyback, FetcherTypeIPMI:
		return true
	default:
		return false
	}
}

// SourceInfo describes one place raw data comes from. Immutable for a fetch cycle.
type SourceInfo struct {
	HostName    HostName    `json:"hostname"`     // 主机名
	IPAddress   string      `json:"ipaddress"`    // IP 地址（可能为空）
	Ident       string      `json:"ident"`        // 数据源标识（如 agent、snmp、piggyback）
	FetcherType FetcherType `json:"fetcher_type"` // 采集器类型
	SourceType  SourceType  `json:"source_type"`  // HOST 或 MANAGEMENT
}

// String returns a short human readable description used in logs.
func (s SourceInfo) String() string {
	return fmt.Sprintf("%s/%s[%s]", s.HostName, s.Ident, s.FetcherType)
}

// HostKey returns the provider key the parsed data of this source is stored under.
func (s SourceInfo) HostKey() HostKey {
	return HostKey{HostName: s.HostName, SourceType: s.SourceType}
}

// HostKey addresses the parsed data of one host (or cluster node) and source type.
type HostKey struct {
	HostName   HostName   `json:"hostname"`
	SourceType SourceType `json:"source_type"`
}

// String implements fmt.Stringer.
func (k HostKey) String() string {
	return k.HostName + "/" + string(k.SourceType)
}

// RawResult is the outcome of querying one source: Ok(bytes) or Err(cause).
type RawResult struct {
	Data []byte // 原始数据（成功时）
	Err  error  // 错误（失败时）
}

// OkRaw wraps successfully fetched bytes.
func OkRaw(data []byte) RawResult {
	return RawResult{Data: data}
}

// ErrRaw wraps a fetch failure.
func ErrRaw(err error) RawResult {
	return RawResult{Err: err}
}

// IsOk returns true if the fetch succeeded.
func (r RawResult) IsOk() bool {
	return r.Err == nil
}

// Snapshot holds the time spent fetching one source. It is for observability only.
type Snapshot struct {
	Wall   time.Duration `json:"wall"`   // 墙钟时间
	User   time.Duration `json:"user"`   // 用户态 CPU 时间
	System time.Duration `json:"system"` // 内核态 CPU 时间
}

// Add returns the sum of two snapshots.
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{Wall: s.Wall + o.Wall, User: s.User + o.User, System: s.System + o.System}
}

// FetchResult is the tuple produced by the fetcher for each source.
type FetchResult struct {
	Source SourceInfo
	Raw    RawResult
	Timing Snapshot
}
