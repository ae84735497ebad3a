// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/pingfinder/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio capture devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := audio.New(audio.DefaultConfig())
		defer c.Close()
		if err := c.Init(); err != nil {
			return err
		}
		infos, err := c.ListDevices()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(out, "no capture devices found")
			return nil
		}
		for i, info := range infos {
			def := ""
			if info.IsDefault != 0 {
				def = " (default)"
			}
			fmt.Fprintf(out, "[%d] %s%s\n", i, info.Name(), def)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
