// cmd/root.go
package cmd

import (
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/pingfinder/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "pingfinder",
	Short: "Acoustic pinger detection and bearing estimation",
	Long: `Pingfinder digitizes a hydrophone array around the pinger frequency,
detects the leading edge of each ping and estimates its bearing with a
Bartlett beamformer.`,
	SilenceUsage: true,
}

func Execute() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		glog.Flush()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set defaults for glog flags. Can be overridden via cmdline.
	_ = flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	// Global flags (override config file)
	rootCmd.PersistentFlags().IntP("device", "d", -1, "audio device index (-1 for default)")
	rootCmd.PersistentFlags().Float64P("frequency", "f", 30000, "pinger frequency in Hz")
	rootCmd.PersistentFlags().Float64P("threshold", "t", 0.05, "detection threshold on the reference channel")
	rootCmd.PersistentFlags().StringP("output", "o", "none", "detection export (none, csv, sqlite, mysql)")
	rootCmd.PersistentFlags().String("listen", "", "status API address, e.g. :8080")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")
}

// flagBindings maps config keys to the flags that override them.
var flagBindings = []struct {
	key  string
	cmd  *cobra.Command
	flag string
}{
	{"device_index", rootCmd, "device"},
	{"center_freq_hz", rootCmd, "frequency"},
	{"detection_threshold", rootCmd, "threshold"},
	{"output", rootCmd, "output"},
	{"http_listen", rootCmd, "listen"},
	{"debug", rootCmd, "debug"},
	{"source", runCmd, "source"},
	{"record_dir", runCmd, "record-dir"},
	{"synthetic.bearing_deg", simulateCmd, "bearing"},
	{"synthetic.range_m", simulateCmd, "range"},
	{"synthetic.noise_std", simulateCmd, "noise"},
	{"synthetic.seed", simulateCmd, "seed"},
}

// bindFlags binds flags to viper. It runs on every execution so bindings
// survive a viper reset.
func bindFlags() {
	for _, b := range flagBindings {
		f := b.cmd.PersistentFlags().Lookup(b.flag)
		if f == nil {
			f = b.cmd.Flags().Lookup(b.flag)
		}
		if f == nil {
			glog.Fatalf("no flag %q on %s", b.flag, b.cmd.Name())
		}
		viper.BindPFlag(b.key, f)
	}
}

func initConfig() {
	bindFlags()
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if viper.GetBool("debug") && !flagChanged("v") {
		_ = flag.Set("v", "1")
	}
	if used := viper.ConfigFileUsed(); used != "" {
		glog.V(1).Infof("using config file %s", used)
	}
}

func flagChanged(name string) bool {
	f := rootCmd.PersistentFlags().Lookup(name)
	return f != nil && f.Changed
}
