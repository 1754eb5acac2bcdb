package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"checkengine/internal/plugin/api"
	"checkengine/internal/plugins/builtin"
)

// pluginsCmd represents the plugins command.
var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "列出已注册的插件",
	Long:  "列出所有已注册的数据段插件、检查插件和资产插件，以及它们订阅的数据段和参数规则集。",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := api.NewRegistry()
		if err := builtin.Register(reg); err != nil {
			return err
		}
		return listPlugins(cmd.OutOrStdout(), reg)
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
}

// listPlugins prints every plugin of reg as aligned tables.
func listPlugins(out io.Writer, reg *api.Registry) error {
	fmt.Fprintf(out, "插件接口版本: %s\n", api.Version)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "\n数据段插件\t解析后名称\t替代")
	for _, name := range reg.SectionNames() {
		p, _ := reg.SectionPlugin(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.ParsedSectionName, dash(strings.Join(p.Supersedes, ",")))
	}

	fmt.Fprintln(tw, "\n检查插件\t服务名\t数据段\t规则集\t集群")
	for _, name := range reg.CheckNames() {
		p, _ := reg.CheckPlugin(name)
		cluster := "否"
		if p.ClusterCheckFunction != nil {
			cluster = "是"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.Name, p.ServiceName, strings.Join(p.Sections, ","), dash(p.CheckRulesetName), cluster)
	}

	fmt.Fprintln(tw, "\n资产插件\t数据段\t规则集")
	for _, name := range reg.InventoryNames() {
		p, _ := reg.InventoryPlugin(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, strings.Join(p.Sections, ","), dash(p.RulesetName))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
