// cmd/run.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/pingfinder/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Detect pings from the configured source until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Get()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		src, err := newSource(settings)
		if err != nil {
			return err
		}
		defer src.Close()

		s, err := newSession(settings, false)
		if err != nil {
			return err
		}
		defer s.Close()

		return s.runSource(ctx, src)
	},
}

func init() {
	runCmd.Flags().StringP("source", "s", config.SourceHardware, "audio source (hardware, synthetic)")
	runCmd.Flags().String("record-dir", "", "directory for raw amplitude logs")

	rootCmd.AddCommand(runCmd)
}
