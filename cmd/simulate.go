// cmd/simulate.go
package cmd

import (
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/ColonelBlimp/pingfinder/internal/audio"
	"github.com/ColonelBlimp/pingfinder/internal/config"
	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the pipeline on a simulated pinger",
	Long: `Simulate renders a pinger at the configured bearing and range, with
surface and bottom reflections and Gaussian noise, and runs it through the
pipeline. Detections go to CSV on stdout unless another output is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Get()
		if err != nil {
			return err
		}
		settings.Source = config.SourceSynthetic
		if !cmd.Flags().Changed("output") && settings.Output == config.OutputNone {
			settings.Output = config.OutputCSV
		}
		duration, _ := cmd.Flags().GetDuration("duration")
		realtime, _ := cmd.Flags().GetBool("realtime")
		settings.Synthetic.Realtime = realtime

		scenario, err := settings.Scenario()
		if err != nil {
			return err
		}
		blocks := int64(math.Ceil(duration.Seconds() * settings.SampleRateHz / float64(settings.BlockSizeSamples)))
		glog.Infof("simulating %v (%d blocks): %s", duration, blocks, scenarioSummary(scenario))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := newSession(settings, !realtime)
		if err != nil {
			return err
		}
		defer s.Close()

		if realtime {
			src, err := newSource(settings, audio.WithMaxBlocks(blocks))
			if err != nil {
				return err
			}
			defer src.Close()
			return s.runSource(ctx, src)
		}

		g, err := sim.NewGenerator(scenario)
		if err != nil {
			return err
		}
		return s.runBlocks(ctx, blocks, func() dsp.AudioBlock {
			return g.Next(settings.BlockSizeSamples)
		})
	},
}

func init() {
	simulateCmd.Flags().Duration("duration", 10*time.Second, "simulated time to generate")
	simulateCmd.Flags().Bool("realtime", false, "pace blocks at the sample rate")
	simulateCmd.Flags().Float64("bearing", -30, "pinger bearing in degrees, clockwise from broadside")
	simulateCmd.Flags().Float64("range", 10, "horizontal range to the pinger in metres")
	simulateCmd.Flags().Float64("noise", 0.003, "standard deviation of additive noise")
	simulateCmd.Flags().Uint64("seed", 1, "noise seed")

	rootCmd.AddCommand(simulateCmd)
}
