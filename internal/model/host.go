package model

// HostStatus represents the overall health status of a host.
type HostStatus string

const (
	HostStatusNormal   HostStatus = "normal"   // 正常
	HostStatusWarning  HostStatus = "warning"  // 警告
	HostStatusCritical HostStatus = "critical" // 严重
	HostStatusUnknown  HostStatus = "unknown"  // 未知
	HostStatusFailed   HostStatus = "failed"   // 检查失败
)

// StatusFromState maps a worst service state to a host status.
func StatusFromState(s ServiceState) HostStatus {
	switch s {
	case StateOK:
		return HostStatusNormal
	case StateWarn:
		return HostStatusWarning
	case StateCrit:
		return HostStatusCritical
	default:
		return HostStatusUnknown
	}
}

// ClusterMode selects how a clustered service combines the data of its nodes.
type ClusterMode string

const (
	ClusterModeNative   ClusterMode = "native"   // 插件自带集群函数
	ClusterModeWorst    ClusterMode = "worst"    // 取最差节点
	ClusterModeBest     ClusterMode = "best"     // 取最好节点
	ClusterModeFailover ClusterMode = "failover" // 仅一个节点应有数据
)

// Valid returns true for the known cluster modes.
func (m ClusterMode) Valid() bool {
	switch m {
	case ClusterModeNative, ClusterModeWorst, ClusterModeBest, ClusterModeFailover:
		return true
	}
	return false
}

// SourceSpec is one configured data source of a host, before an IP address is known.
type SourceSpec struct {
	Ident       string      `yaml:"ident"`             // 数据源标识
	FetcherType FetcherType `yaml:"fetcher_type"`      // 采集器类型
	SourceType  SourceType  `yaml:"source_type"`       // HOST 或 MANAGEMENT
	Address     string      `yaml:"address,omitempty"` // 覆盖主机地址（管理板卡）
	Command     string      `yaml:"command,omitempty"` // 程序命令行
}

// NeedsIP reports whether the source cannot be queried without a network address.
func (s SourceSpec) NeedsIP() bool {
	switch s.FetcherType {
	case FetcherTypeAgent, FetcherTypeSNMP:
		return true
	case FetcherTypeIPMI:
		return s.Address == ""
	}
	return false
}

// ExitSpec maps classes of data source problems to the state they are reported with.
type ExitSpec struct {
	Connection      ServiceState `json:"connection"`       // 连接失败
	Timeout         ServiceState `json:"timeout"`          // 超时
	Exception       ServiceState `json:"exception"`        // 其他异常
	EmptyOutput     ServiceState `json:"empty_output"`     // 空输出
	MissingSections ServiceState `json:"missing_sections"` // 缺少必需的段
}

// DefaultExitSpec returns the states used when a host does not configure its own.
func DefaultExitSpec() ExitSpec {
	return ExitSpec{
		Connection:      StateCrit,
		Timeout:         StateCrit,
		Exception:       StateUnknown,
		EmptyOutput:     StateCrit,
		MissingSections: StateWarn,
	}
}
