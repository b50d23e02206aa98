package commands

import (
	"fmt"
	"strings"

	"github.com/OkinawaBoss/WeatharrStation/internal/layers"
	"github.com/spf13/cobra"
)

var pagesCmd = &cobra.Command{
	Use:   "pages",
	Short: "List available pages",
	Long:  `List every built-in page and mark the ones in the configured rotation.`,
	RunE:  runPages,
}

func init() {
	rootCmd.AddCommand(pagesCmd)
}

func runPages(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	enabled := make(map[string]bool)
	for _, p := range cfg.Render.Pages {
		enabled[strings.ToLower(strings.TrimSpace(p))] = true
	}

	fmt.Printf("%-16s %s\n", "PAGE", "IN ROTATION")
	for _, name := range layers.PageNames() {
		on := len(enabled) == 0 || enabled[name]
		mark := "no"
		if on {
			mark = "yes"
		}
		fmt.Printf("%-16s %s\n", name, mark)
	}
	fmt.Printf("\nEach page shows for %.0fs\n", cfg.Render.PageSeconds)
	return nil
}
