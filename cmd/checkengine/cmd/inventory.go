package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"checkengine/internal/model"
)

// inventoryCmd represents the inventory command.
var inventoryCmd = &cobra.Command{
	Use:   "inventory <host>...",
	Short: "采集主机的资产清单",
	Long:  "调用资产插件采集主机的软硬件信息，以 JSON 格式输出。",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInventory,
}

func init() {
	rootCmd.AddCommand(inventoryCmd)
}

// hostInventory is the JSON document printed per host.
type hostInventory struct {
	Host    string                  `json:"host"`
	Records []model.InventoryRecord `json:"records"`
}

func runInventory(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	e, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

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
		records, err := checker.Inventory(ctx, host)
		if err != nil {
			return fmt.Errorf("采集 %s 资产失败: %w", host, err)
		}
		if err := enc.Encode(hostInventory{Host: host, Records: records}); err != nil {
			return err
		}
	}
	return nil
}
