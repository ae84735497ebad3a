// cmd/replay.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/pingfinder/internal/config"
	"github.com/ColonelBlimp/pingfinder/internal/recorder"
)

var replayCmd = &cobra.Command{
	Use:   "replay <amplitude log>",
	Short: "Run detection and beamforming over a recorded amplitude log",
	Long: `Replay reads an acoustics.dat file written with record_dir set and runs
the detector and beamformer over it. The log must have been recorded with
the same channel count and window settings.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Get()
		if err != nil {
			return err
		}
		// Replaying must not append to a log.
		settings.RecordDir = ""
		if !cmd.Flags().Changed("output") && settings.Output == config.OutputNone {
			settings.Output = config.OutputCSV
		}
		chunk, _ := cmd.Flags().GetInt("chunk")

		rows, err := recorder.Load(args[0], settings.NumChannels)
		if err != nil {
			return err
		}

		s, err := newSession(settings, true)
		if err != nil {
			return err
		}
		defer s.Close()

		samples := recorder.Samples(rows, s.pipeline.Step())
		glog.Infof("replaying %d samples from %s", len(samples), args[0])

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return s.runSamples(ctx, samples, chunk)
	},
}

func init() {
	replayCmd.Flags().Int("chunk", 64, "samples handed to the detector at a time")
	rootCmd.AddCommand(replayCmd)
}
