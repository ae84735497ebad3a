// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/export"
	"github.com/ColonelBlimp/pingfinder/internal/pipeline"
	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

const (
	AppName       = "pingfinder"
	ConfigType    = "yaml"
	EnvPrefix     = "PINGFINDER"
	DefaultConfig = `# Pingfinder Configuration

# Acquisition
source: "hardware"              # hardware or synthetic
device_index: -1                # -1 for default capture device
sample_rate_hz: 96000           # Raw audio sample rate in Hz
num_channels: 3                 # Hydrophone channels
block_size_samples: 4096        # Samples per channel per block
queue_depth: 16                 # Blocks buffered between capture and processing

# Narrowband digitizer
center_freq_hz: 30000           # Pinger frequency in Hz
window_width_samples: 192       # Window length, must be even
window_overlap_fraction: 0.598  # Overlap between consecutive windows [0, 1)
window_function: "nuttall3b"    # nuttall3b or nuttall4c

# Ping detection
detection_threshold: 0.05       # Magnitude on the reference channel that marks an arrival
dead_time_seconds: 0.2          # Arrivals closer than this to the previous one are ignored
reference_channel: 0            # Channel the detector watches

# Beamforming
num_beamform_snapshots: 4       # Samples averaged into the covariance
channel_positions_m: [0, 0.0185, 0.037]  # Element positions, increasing toward port
sound_speed_m_s: 1480           # Speed of sound in water
num_look_directions: 300        # Bearing grid size over [-90, 90) degrees
history_size: 0                 # Retained samples, 0 picks a size from the block size
defer_bearing: true             # Wait for trailing samples instead of emitting without bearing

# Output
stream_id: ""                   # Empty generates a random ID per run
output: "none"                  # none, csv, sqlite or mysql
sqlite_file: "pingfinder.db"
mysql:
  server: "127.0.0.1:3306"
  user: ""
  password_file: ""
  db_name: "pingfinder"
http_listen: ""                 # Status API address, e.g. ":8080", empty disables
statsd_address: ""              # DogStatsD address, e.g. "127.0.0.1:8125", empty disables
record_dir: ""                  # Directory for raw amplitude logs, empty disables
debug: false                    # Enable debug output

# Simulated pinger, used by source: synthetic and the simulate command
synthetic:
  bearing_deg: -30
  range_m: 10
  ping_interval_s: 2
  pulse_width_s: 0.004
  amplitude: 0.5
  envelope: "hann"              # hann or rect
  noise_std: 0.003
  seed: 1
  realtime: true                # Pace blocks at the sample rate
  source_depth_m: 4.5
  receiver_depth_m: 4.5
  water_depth_m: 5              # 0 disables surface and bottom reflections
  emission_offset_s: 0.05
`
)

// Sources
const (
	SourceHardware  = "hardware"
	SourceSynthetic = "synthetic"
)

// Outputs
const (
	OutputNone   = "none"
	OutputCSV    = "csv"
	OutputSQLite = "sqlite"
	OutputMySQL  = "mysql"
)

// MySQLSettings locates the MySQL exporter database.
type MySQLSettings struct {
	Server       string `mapstructure:"server" yaml:"server"`
	User         string `mapstructure:"user" yaml:"user"`
	PasswordFile string `mapstructure:"password_file" yaml:"password_file"`
	DBName       string `mapstructure:"db_name" yaml:"db_name"`
}

// SyntheticSettings describes the simulated pinger.
type SyntheticSettings struct {
	BearingDeg      float64 `mapstructure:"bearing_deg" yaml:"bearing_deg"`
	RangeM          float64 `mapstructure:"range_m" yaml:"range_m"`
	PingIntervalS   float64 `mapstructure:"ping_interval_s" yaml:"ping_interval_s"`
	PulseWidthS     float64 `mapstructure:"pulse_width_s" yaml:"pulse_width_s"`
	Amplitude       float64 `mapstructure:"amplitude" yaml:"amplitude"`
	Envelope        string  `mapstructure:"envelope" yaml:"envelope"`
	NoiseStd        float64 `mapstructure:"noise_std" yaml:"noise_std"`
	Seed            uint64  `mapstructure:"seed" yaml:"seed"`
	Realtime        bool    `mapstructure:"realtime" yaml:"realtime"`
	SourceDepthM    float64 `mapstructure:"source_depth_m" yaml:"source_depth_m"`
	ReceiverDepthM  float64 `mapstructure:"receiver_depth_m" yaml:"receiver_depth_m"`
	WaterDepthM     float64 `mapstructure:"water_depth_m" yaml:"water_depth_m"`
	EmissionOffsetS float64 `mapstructure:"emission_offset_s" yaml:"emission_offset_s"`
}

// Settings holds all application configuration
type Settings struct {
	// Acquisition
	Source           string  `mapstructure:"source" yaml:"source"`
	DeviceIndex      int     `mapstructure:"device_index" yaml:"device_index"`
	SampleRateHz     float64 `mapstructure:"sample_rate_hz" yaml:"sample_rate_hz"`
	NumChannels      int     `mapstructure:"num_channels" yaml:"num_channels"`
	BlockSizeSamples int     `mapstructure:"block_size_samples" yaml:"block_size_samples"`
	QueueDepth       int     `mapstructure:"queue_depth" yaml:"queue_depth"`

	// Narrowband digitizer
	CenterFreqHz          float64 `mapstructure:"center_freq_hz" yaml:"center_freq_hz"`
	WindowWidthSamples    int     `mapstructure:"window_width_samples" yaml:"window_width_samples"`
	WindowOverlapFraction float64 `mapstructure:"window_overlap_fraction" yaml:"window_overlap_fraction"`
	WindowFunction        string  `mapstructure:"window_function" yaml:"window_function"`

	// Ping detection
	DetectionThreshold float64 `mapstructure:"detection_threshold" yaml:"detection_threshold"`
	DeadTimeSeconds    float64 `mapstructure:"dead_time_seconds" yaml:"dead_time_seconds"`
	ReferenceChannel   int     `mapstructure:"reference_channel" yaml:"reference_channel"`

	// Beamforming
	NumBeamformSnapshots int       `mapstructure:"num_beamform_snapshots" yaml:"num_beamform_snapshots"`
	ChannelPositionsM    []float64 `mapstructure:"channel_positions_m" yaml:"channel_positions_m"`
	SoundSpeedMS         float64   `mapstructure:"sound_speed_m_s" yaml:"sound_speed_m_s"`
	NumLookDirections    int       `mapstructure:"num_look_directions" yaml:"num_look_directions"`
	HistorySize          int       `mapstructure:"history_size" yaml:"history_size"`
	DeferBearing         bool      `mapstructure:"defer_bearing" yaml:"defer_bearing"`

	// Output
	StreamID      string        `mapstructure:"stream_id" yaml:"stream_id"`
	Output        string        `mapstructure:"output" yaml:"output"`
	SQLiteFile    string        `mapstructure:"sqlite_file" yaml:"sqlite_file"`
	MySQL         MySQLSettings `mapstructure:"mysql" yaml:"mysql"`
	HTTPListen    string        `mapstructure:"http_listen" yaml:"http_listen"`
	StatsdAddress string        `mapstructure:"statsd_address" yaml:"statsd_address"`
	RecordDir     string        `mapstructure:"record_dir" yaml:"record_dir"`
	Debug         bool          `mapstructure:"debug" yaml:"debug"`

	Synthetic SyntheticSettings `mapstructure:"synthetic" yaml:"synthetic"`
}

// SetDefaults registers every default with viper.
func SetDefaults() {
	viper.SetDefault("source", SourceHardware)
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate_hz", 96000)
	viper.SetDefault("num_channels", 3)
	viper.SetDefault("block_size_samples", 4096)
	viper.SetDefault("queue_depth", 16)
	viper.SetDefault("center_freq_hz", 30000)
	viper.SetDefault("window_width_samples", 192)
	viper.SetDefault("window_overlap_fraction", 0.598)
	viper.SetDefault("window_function", "nuttall3b")
	viper.SetDefault("detection_threshold", 0.05)
	viper.SetDefault("dead_time_seconds", 0.2)
	viper.SetDefault("reference_channel", 0)
	viper.SetDefault("num_beamform_snapshots", 4)
	viper.SetDefault("channel_positions_m", []float64{0, 0.0185, 0.037})
	viper.SetDefault("sound_speed_m_s", 1480)
	viper.SetDefault("num_look_directions", 300)
	viper.SetDefault("history_size", 0)
	viper.SetDefault("defer_bearing", true)
	viper.SetDefault("stream_id", "")
	viper.SetDefault("output", OutputNone)
	viper.SetDefault("sqlite_file", "pingfinder.db")
	viper.SetDefault("mysql.server", "127.0.0.1:3306")
	viper.SetDefault("mysql.user", "")
	viper.SetDefault("mysql.password_file", "")
	viper.SetDefault("mysql.db_name", AppName)
	viper.SetDefault("http_listen", "")
	viper.SetDefault("statsd_address", "")
	viper.SetDefault("record_dir", "")
	viper.SetDefault("debug", false)

	viper.SetDefault("synthetic.bearing_deg", -30)
	viper.SetDefault("synthetic.range_m", 10)
	viper.SetDefault("synthetic.ping_interval_s", 2)
	viper.SetDefault("synthetic.pulse_width_s", 0.004)
	viper.SetDefault("synthetic.amplitude", 0.5)
	viper.SetDefault("synthetic.envelope", "hann")
	viper.SetDefault("synthetic.noise_std", 0.003)
	viper.SetDefault("synthetic.seed", 1)
	viper.SetDefault("synthetic.realtime", true)
	viper.SetDefault("synthetic.source_depth_m", 4.5)
	viper.SetDefault("synthetic.receiver_depth_m", 4.5)
	viper.SetDefault("synthetic.water_depth_m", 5)
	viper.SetDefault("synthetic.emission_offset_s", 0.05)
}

// Init initializes Viper with defaults, environment and config file.
// Config file search order: current directory, then ~/.config/pingfinder/
func Init() error {
	SetDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	// Read config file - if not found, create default in XDG config dir
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("read config: %w", err)
		}
		if err = ensureConfigExists(filepath.Join(configDir, AppName)); err != nil {
			return err
		}
		if err = viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges. Checks
// that belong to a component (window shape, beamformer geometry) are left
// to that component's constructor.
func (s *Settings) Validate() error {
	var errs []error

	// Acquisition
	switch s.Source {
	case SourceHardware, SourceSynthetic:
	default:
		errs = append(errs, fmt.Errorf("source must be one of hardware, synthetic, got %q", s.Source))
	}
	if s.SampleRateHz < 8000 || s.SampleRateHz > 384000 {
		errs = append(errs, fmt.Errorf("sample_rate_hz must be between 8000 and 384000 Hz, got %v", s.SampleRateHz))
	}
	if s.NumChannels < 1 || s.NumChannels > 32 {
		errs = append(errs, fmt.Errorf("num_channels must be between 1 and 32, got %d", s.NumChannels))
	}
	if s.BlockSizeSamples < 64 || s.BlockSizeSamples > 1<<20 {
		errs = append(errs, fmt.Errorf("block_size_samples must be between 64 and %d, got %d", 1<<20, s.BlockSizeSamples))
	}
	if s.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("queue_depth must be at least 1, got %d", s.QueueDepth))
	}

	// Narrowband digitizer
	if s.CenterFreqHz <= 0 || s.CenterFreqHz >= s.SampleRateHz/2 {
		errs = append(errs, fmt.Errorf("center_freq_hz (%v Hz) must be positive and less than Nyquist frequency (%v Hz)", s.CenterFreqHz, s.SampleRateHz/2))
	}
	if _, err := dsp.WindowByName(s.WindowFunction); err != nil {
		errs = append(errs, fmt.Errorf("window_function: %w", err))
	}

	// Ping detection
	if s.DetectionThreshold <= 0 {
		errs = append(errs, fmt.Errorf("detection_threshold must be positive, got %v", s.DetectionThreshold))
	}
	if s.DeadTimeSeconds < 0 {
		errs = append(errs, fmt.Errorf("dead_time_seconds must not be negative, got %v", s.DeadTimeSeconds))
	}
	if s.ReferenceChannel < 0 || s.ReferenceChannel >= s.NumChannels {
		errs = append(errs, fmt.Errorf("reference_channel must be between 0 and %d, got %d", s.NumChannels-1, s.ReferenceChannel))
	}

	// Beamforming
	if len(s.ChannelPositionsM) != s.NumChannels {
		errs = append(errs, fmt.Errorf("channel_positions_m must have num_channels (%d) entries, got %d", s.NumChannels, len(s.ChannelPositionsM)))
	}
	if s.NumBeamformSnapshots < 1 {
		errs = append(errs, fmt.Errorf("num_beamform_snapshots must be at least 1, got %d", s.NumBeamformSnapshots))
	}
	if s.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("history_size must not be negative, got %d", s.HistorySize))
	}

	// Output
	switch strings.ToLower(s.Output) {
	case OutputNone, OutputCSV, OutputSQLite, OutputMySQL:
	default:
		errs = append(errs, fmt.Errorf("output must be one of none, csv, sqlite, mysql, got %q", s.Output))
	}
	if strings.EqualFold(s.Output, OutputSQLite) && s.SQLiteFile == "" {
		errs = append(errs, errors.New("sqlite_file is required for sqlite output"))
	}
	if strings.EqualFold(s.Output, OutputMySQL) && (s.MySQL.Server == "" || s.MySQL.DBName == "") {
		errs = append(errs, errors.New("mysql.server and mysql.db_name are required for mysql output"))
	}

	// Synthetic
	if _, err := sim.ParseEnvelope(s.Synthetic.Envelope); err != nil {
		errs = append(errs, fmt.Errorf("synthetic.envelope: %w", err))
	}
	if s.Synthetic.BearingDeg < -90 || s.Synthetic.BearingDeg > 90 {
		errs = append(errs, fmt.Errorf("synthetic.bearing_deg must be between -90 and 90, got %v", s.Synthetic.BearingDeg))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PipelineConfig assembles the processing configuration.
func (s *Settings) PipelineConfig() (pipeline.Config, error) {
	window, err := dsp.WindowByName(s.WindowFunction)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Digitizer: dsp.DigitizerConfig{
			Spec: dsp.WindowSpec{
				CenterFreq: s.CenterFreqHz,
				SampleRate: s.SampleRateHz,
				Width:      s.WindowWidthSamples,
				Overlap:    s.WindowOverlapFraction,
			},
			Window:      window,
			NumChannels: s.NumChannels,
			BlockSize:   s.BlockSizeSamples,
		},
		Detector: dsp.DetectorConfig{
			Threshold:        s.DetectionThreshold,
			DeadTime:         s.DeadTimeSeconds,
			ReferenceChannel: s.ReferenceChannel,
		},
		Beamformer: dsp.BeamformerConfig{
			Positions:         append([]float64(nil), s.ChannelPositionsM...),
			SoundSpeed:        s.SoundSpeedMS,
			CenterFreq:        s.CenterFreqHz,
			NumLookDirections: s.NumLookDirections,
			NumSnapshots:      s.NumBeamformSnapshots,
		},
		HistorySize:  s.HistorySize,
		DeferBearing: s.DeferBearing,
	}, nil
}

// Scenario assembles the simulated pinger over the configured array.
func (s *Settings) Scenario() (sim.Scenario, error) {
	env, err := sim.ParseEnvelope(s.Synthetic.Envelope)
	if err != nil {
		return sim.Scenario{}, err
	}
	syn := s.Synthetic
	return sim.Scenario{
		CenterFreq:     s.CenterFreqHz,
		SampleRate:     s.SampleRateHz,
		Positions:      append([]float64(nil), s.ChannelPositionsM...),
		SoundSpeed:     s.SoundSpeedMS,
		Bearing:        syn.BearingDeg * math.Pi / 180,
		Range:          syn.RangeM,
		PulseWidth:     syn.PulseWidthS,
		PingInterval:   syn.PingIntervalS,
		EmissionOffset: syn.EmissionOffsetS,
		Amplitude:      syn.Amplitude,
		Envelope:       env,
		NoiseStdDev:    syn.NoiseStd,
		Seed:           syn.Seed,
		SourceDepth:    syn.SourceDepthM,
		ReceiverDepth:  syn.ReceiverDepthM,
		WaterDepth:     syn.WaterDepthM,
	}, nil
}

// MySQLConfig returns the exporter connection settings.
func (s *Settings) MySQLConfig() export.MySQLConfig {
	return export.MySQLConfig{
		Server:       s.MySQL.Server,
		User:         s.MySQL.User,
		PasswordFile: s.MySQL.PasswordFile,
		Database:     s.MySQL.DBName,
	}
}
