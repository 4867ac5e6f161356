package config

import (
	"fmt"

	"github.com/ValentinKolb/sKV/cmd/util"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/spf13/cobra"
)

// ConfigCmd writes the default server configuration as YAML
var ConfigCmd = &cobra.Command{
	Use:   "config [path]",
	Short: "Write the default server configuration",
	Long: `Write the default server configuration as YAML to path (or stdout if no
path or "-" is given). The file can be edited and passed to skv serve --config.
Environment variables (SKV_*) and flags override the values of the file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "-"
		if len(args) == 1 {
			path = args[0]
		}

		if err := util.WriteYAML(path, common.DefaultServerConfig()); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		if path != "-" {
			fmt.Printf("config written to %s\n", path)
		}
		return nil
	},
}
