package builtin

import (
	"iter"
	"strings"

	"checkengine/internal/plugin/api"
)

// agentInfo is the parsed check_mk section: "Key: value" lines of the agent header.
type agentInfo map[string]string

func parseAgentInfo(rows [][]string) (any, error) {
	info := make(agentInfo, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key, ok := strings.CutSuffix(row[0], ":")
		if !ok {
			continue
		}
		info[key] = strings.Join(row[1:], " ")
	}
	return info, nil
}

func agentSection() api.SectionPlugin {
	return api.SectionPlugin{
		Name:              "check_mk",
		ParseFunction:     parseAgentInfo,
		HostLabelFunction: agentHostLabels,
	}
}

func agentHostLabels(req api.HostLabelRequest) iter.Seq[api.ServiceLabel] {
	return func(yield func(api.ServiceLabel) bool) {
		info, _ := req.Section.(agentInfo)
		if os := info["AgentOS"]; os != "" {
			if !yield(api.ServiceLabel{Name: "cmk/os_family", Value: strings.ToLower(os)}) {
				return
			}
		}
		if version := info["Version"]; version != "" {
			yield(api.ServiceLabel{Name: "cmk/agent_version", Value: version})
		}
	}
}

func agentInventory() api.InventoryPlugin {
	return api.InventoryPlugin{
		Name:     "check_mk",
		Sections: []string{"check_mk"},
		InventoryFunction: func(req api.InventoryRequest) iter.Seq2[api.InventoryItem, error] {
			return func(yield func(api.InventoryItem, error) bool) {
				info, _ := req.Sections["section"].(agentInfo)
				attrs := make(map[string]any)
				for key, attr := range map[string]string{"Version": "version", "AgentOS": "os", "Hostname": "hostname"} {
					if v, ok := info[key]; ok {
						attrs[attr] = v
					}
				}
				if len(attrs) == 0 {
					return
				}
				yield(api.InventoryItem{Path: []string{"software", "applications", "check_mk", "agent"}, Attributes: attrs}, nil)
			}
		},
	}
}
