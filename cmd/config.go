package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/filesearch/config"
)

var configCmd = &cobra.Command{
	Use:         "config",
	Short:       "Manage the configuration file",
	Annotations: map[string]string{annotSkipSetup: "true"},
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write the default configuration",
	Annotations: map[string]string{annotSkipSetup: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "destination (default ~/.config/filesearch/filesearch.yaml)")
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
