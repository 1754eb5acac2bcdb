package checking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"checkengine/internal/model"
	"checkengine/internal/plugin/api"
	"checkengine/internal/sections"
)

const nativeModeMissing = "This service does not implement a native cluster mode. " +
	"Please change your configuration (Clustered services) to use one of the available modes."

// nodeStores returns the value store of one cluster node.
type nodeStores func(node model.HostName) api.ValueStore

// clusterCheckFunction selects how a clustered service combines its nodes.
// nodes is the ordered list of nodes the service is evaluated on.
func clusterCheckFunction(
	mode model.ClusterMode,
	plugin api.CheckPlugin,
	nodes []model.HostName,
	stores nodeStores,
) (api.ClusterCheckFunction, error) {
	switch mode {
	case model.ClusterModeNative, "":
		if plugin.ClusterCheckFunction != nil {
			return plugin.ClusterCheckFunction, nil
		}
		return func(context.Context, api.ClusterCheckRequest) api.CheckResult {
			return api.Results(api.NewVerdict(api.StateUnknown, nativeModeMissing))
		}, nil
	case model.ClusterModeWorst:
		return selectiveCheckFunction("Worst", plugin, nodes, stores, pickWorst), nil
	case model.ClusterModeBest:
		return selectiveCheckFunction("Best", plugin, nodes, stores, pickBest), nil
	case model.ClusterModeFailover:
		return selectiveCheckFunction("Active", plugin, nodes, stores, pickFirst), nil
	}
	return nil, fmt.Errorf("unknown cluster mode %q", mode)
}

// nodeResult is what the plugin produced for one node.
type nodeResult struct {
	node     model.HostName
	outcomes []api.Outcome
	state    api.State
	active   bool // 节点产生了检查结果
}

type picker func(active []nodeResult) int

func pickWorst(active []nodeResult) int {
	selected := 0
	for i, r := range active {
		if r.state > active[selected].state {
			selected = i
		}
	}
	return selected
}

func pickBest(active []nodeResult) int {
	selected := 0
	for i, r := range active {
		if r.state < active[selected].state {
			selected = i
		}
	}
	return selected
}

func pickFirst([]nodeResult) int {
	return 0
}

// selectiveCheckFunction runs the plugin on every node with data and reports the
// node chosen by pick. The other nodes show up as notices.
func selectiveCheckFunction(
	label string,
	plugin api.CheckPlugin,
	nodes []model.HostName,
	stores nodeStores,
	pick picker,
) api.ClusterCheckFunction {
	failover := label == "Active"
	return func(ctx context.Context, req api.ClusterCheckRequest) api.CheckResult {
		return func(yield func(api.Outcome, error) bool) {
			var (
				active  []nodeResult
				ignored []string
			)
			for _, node := range nodes {
				secs := sections.NodeSections(req.NodeSections, node)
				if len(secs) == 0 {
					continue
				}
				r, reason, err := runNode(ctx, plugin, node, secs, req, stores)
				if err != nil {
					yield(nil, err)
					return
				}
				if reason != "" {
					ignored = append(ignored, fmt.Sprintf("[%s]: %s", node, reason))
				}
				if r.active {
					active = append(active, r)
				}
			}

			if len(active) == 0 {
				for _, text := range ignored {
					if !yield(api.Ignore{Reason: text}, nil) {
						return
					}
				}
				return
			}

			selected := pick(active)
			chosen := active[selected]
			if !yield(api.NewVerdict(api.StateOK, fmt.Sprintf("%s: [%s]", label, chosen.node)), nil) {
				return
			}
			if failover && len(active) > 1 {
				names := make([]string, len(active))
				for i, r := range active {
					names[i] = r.node
				}
				text := "Unexpected active nodes: " + strings.Join(names, ", ")
				if !yield(api.NewVerdict(api.StateWarn, text), nil) {
					return
				}
			}
			for _, o := range chosen.outcomes {
				if !yield(o, nil) {
					return
				}
			}
			for i, r := range active {
				if i == selected {
					continue
				}
				for _, o := range r.outcomes {
					v, ok := o.(api.Verdict)
					if !ok {
						continue
					}
					text := v.Details
					if text == "" {
						text = v.Summary
					}
					notice := fmt.Sprintf("[%s]: %s%s", r.node, text, model.ServiceState(v.State).Marker())
					if !yield(api.Notice(api.StateOK, notice), nil) {
						return
					}
				}
			}
		}
	}
}

// runNode evaluates the plugin on a single node. An ignore request of the node is
// returned as reason and leaves the node inactive.
func runNode(
	ctx context.Context,
	plugin api.CheckPlugin,
	node model.HostName,
	secs api.Sections,
	req api.ClusterCheckRequest,
	stores nodeStores,
) (nodeResult, string, error) {
	r := nodeResult{node: node}
	nodeReq := api.CheckRequest{
		Item:     req.Item,
		Params:   req.Params,
		Sections: secs,
		Service:  req.Service,
	}
	if stores != nil {
		nodeReq.Store = stores(node)
	}

	for o, err := range plugin.CheckFunction(ctx, nodeReq) {
		if err != nil {
			var ignore *api.IgnoreResultsError
			if errors.As(err, &ignore) {
				return nodeResult{node: node}, ignore.Reason, nil
			}
			return r, "", err
		}
		switch v := o.(type) {
		case api.Ignore:
			return nodeResult{node: node}, v.Reason, nil
		case api.Verdict:
			if !r.active || v.State > r.state {
				r.state = v.State
			}
			r.active = true
		}
		r.outcomes = append(r.outcomes, o)
	}
	return r, "", nil
}
