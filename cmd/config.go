// cmd/config.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ColonelBlimp/pingfinder/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if path, _ := cmd.Flags().GetBool("path"); path {
			fmt.Fprintln(out, viper.ConfigFileUsed())
			return nil
		}

		settings, err := config.Get()
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return err
		}
		return enc.Close()
	},
}

func init() {
	configCmd.Flags().Bool("path", false, "print the config file in use")
	rootCmd.AddCommand(configCmd)
}
