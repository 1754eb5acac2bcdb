package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"checkengine/internal/config"
	"checkengine/internal/plugin/api"
	"checkengine/internal/plugins/builtin"
)

// validateCmd represents the validate command.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "验证配置文件和主机清单",
	Long:  "加载并验证配置文件、主机清单和密码库，检查格式、必填字段、数值范围，以及强制服务引用的检查插件是否存在。",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// runValidate executes the validate command logic.
func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Load internally calls Validate
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	fmt.Fprintf(out, "✅ 配置文件验证通过: %s\n", cfgFile)

	passwords, err := config.LoadPasswords(cfg.Inventory.PasswordStore)
	if err != nil {
		return fmt.Errorf("密码库验证失败: %w", err)
	}
	hosts, err := config.LoadHosts(cfg.Inventory.HostsFile, config.WithPasswords(passwords))
	if err != nil {
		return fmt.Errorf("主机清单验证失败: %w", err)
	}

	reg := api.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return err
	}
	if err := checkServicePlugins(hosts, reg); err != nil {
		return fmt.Errorf("主机清单验证失败: %w", err)
	}
	fmt.Fprintf(out, "✅ 主机清单验证通过: %s (%d 台主机)\n", cfg.Inventory.HostsFile, len(hosts.HostNames()))
	return nil
}

// checkServicePlugins reports enforced services whose check plugin is not registered.
func checkServicePlugins(hosts *config.Hosts, reg *api.Registry) error {
	var errs config.ValidationErrors
	for _, host := range hosts.HostNames() {
		for _, svc := range hosts.Services(host) {
			if _, ok := reg.CheckPlugin(string(svc.CheckPluginName)); ok {
				continue
			}
			errs = append(errs, &config.ValidationError{
				Field:   host + ".services",
				Tag:     "plugin",
				Value:   svc.CheckPluginName,
				Message: fmt.Sprintf("unknown check plugin %q", svc.CheckPluginName),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
