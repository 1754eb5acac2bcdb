package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var dryRun bool // Do not write autochecks

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover <host>...",
	Short: "发现主机的服务和标签",
	Long: `对主机执行服务发现，输出发现的服务和主机标签（JSON），
并将发现的服务写入 autochecks 目录，供后续 check 使用。

集群不支持直接发现，请对其节点执行发现。

示例:
  checkengine discover web01 web02
  checkengine discover web01 --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().BoolVar(&dryRun, "dry-run", false, "只输出结果，不写入 autochecks")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	if dryRun {
		e.autochecks = nil
	}

	hosts, err := e.loadHosts()
	if err != nil {
		return fmt.Errorf("加载主机清单失败: %w", err)
	}
	if err := checkHostNames(hosts, args); err != nil {
		return err
	}
	checker, err := e.newChecker(hosts, checkerOptions{})
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	for _, host := range args {
		result, err := checker.Discover(ctx, host)
		if err != nil {
			return fmt.Errorf("发现 %s 失败: %w", host, err)
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}
