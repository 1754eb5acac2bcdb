//go:build ignore
// +build ignore

// This script reads and displays the contents of an Excel check report for verification.
// Run with: go run scripts/read_excel.go [report.xlsx]
package main

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"
)

func main() {
	path := "sample_check_report.xlsx"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	defer f.Close()

	fmt.Println("📊 Sheets:", f.GetSheetList())
	fmt.Println()

	// Summary sheet
	printHeader("检查概览")
	for row := 1; row <= 14; row++ {
		a, _ := f.GetCellValue("检查概览", fmt.Sprintf("A%d", row))
		b, _ := f.GetCellValue("检查概览", fmt.Sprintf("B%d", row))
		if a != "" || b != "" {
			fmt.Printf("  %-12s %s\n", a, b)
		}
	}
	fmt.Println()

	// Host sheet
	printHeader("主机状态")
	for row := 2; row <= 20; row++ {
		hostname, _ := f.GetCellValue("主机状态", fmt.Sprintf("A%d", row))
		ip, _ := f.GetCellValue("主机状态", fmt.Sprintf("B%d", row))
		status, _ := f.GetCellValue("主机状态", fmt.Sprintf("D%d", row))
		services, _ := f.GetCellValue("主机状态", fmt.Sprintf("E%d", row))
		problems, _ := f.GetCellValue("主机状态", fmt.Sprintf("F%d", row))
		if hostname == "" {
			break
		}
		fmt.Printf("  %-16s %-14s %-6s 服务:%-4s 问题:%s\n", hostname, ip, status, services, problems)
	}
	fmt.Println()

	// Problem sheet
	printHeader("问题汇总 (按严重程度排序)")
	fmt.Println("  主机名           | 状态   | 服务               | 摘要")
	fmt.Println("  -----------------+--------+--------------------+--------")
	for row := 2; row <= 20; row++ {
		hostname, _ := f.GetCellValue("问题汇总", fmt.Sprintf("A%d", row))
		state, _ := f.GetCellValue("问题汇总", fmt.Sprintf("B%d", row))
		service, _ := f.GetCellValue("问题汇总", fmt.Sprintf("C%d", row))
		summary, _ := f.GetCellValue("问题汇总", fmt.Sprintf("E%d", row))
		if hostname == "" {
			break
		}
		fmt.Printf("  %-16s | %-6s | %-18s | %s\n", hostname, state, service, summary)
	}
	fmt.Println()
	fmt.Println("✅ Excel 报告验证完成！")
	fmt.Printf("   请用 Excel/WPS 打开 %s 查看完整样式\n", path)
}

func printHeader(title string) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Println("  " + title)
	fmt.Println("═══════════════════════════════════════")
}
