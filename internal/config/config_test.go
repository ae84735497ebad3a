package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
	"github.com/ColonelBlimp/pingfinder/internal/sim"
)

// isolate points the config search at an empty home directory.
func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", "")
	return tmpDir
}

func writeUserConfig(t *testing.T, home, content string) {
	t.Helper()
	configDir := filepath.Join(home, ".config", AppName)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}

func TestInit_WithDefaults(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
	}{
		{"source", "hardware"},
		{"device_index", -1},
		{"sample_rate_hz", 96000},
		{"num_channels", 3},
		{"block_size_samples", 4096},
		{"queue_depth", 16},
		{"center_freq_hz", 30000},
		{"window_width_samples", 192},
		{"window_overlap_fraction", 0.598},
		{"window_function", "nuttall3b"},
		{"detection_threshold", 0.05},
		{"dead_time_seconds", 0.2},
		{"num_beamform_snapshots", 4},
		{"sound_speed_m_s", 1480},
		{"num_look_directions", 300},
		{"defer_bearing", true},
		{"output", "none"},
		{"mysql.db_name", "pingfinder"},
		{"synthetic.envelope", "hann"},
		{"synthetic.realtime", true},
		{"debug", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got := viper.Get(tt.key)
			if got != tt.expected {
				t.Errorf("viper.Get(%q) = %v (%T), want %v", tt.key, got, got, tt.expected)
			}
		})
	}
}

func TestInit_CreatesConfigIfMissing(t *testing.T) {
	home := isolate(t)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	configPath := filepath.Join(home, ".config", AppName, "config.yaml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Errorf("Init() did not create config file at %s", configPath)
	}
}

func TestInit_ReadsLocalConfigFirst(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, "num_look_directions: 180")

	origDir, _ := os.Getwd()
	if err := os.Chdir(home); err != nil {
		t.Fatalf("failed to chdir: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Logf("failed to restore dir: %v", err)
		}
	}()

	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("num_look_directions: 360"), 0644); err != nil {
		t.Fatalf("failed to write local config: %v", err)
	}

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if got := viper.GetInt("num_look_directions"); got != 360 {
		t.Errorf("viper.GetInt(num_look_directions) = %d, want 360 (local config)", got)
	}
}

func TestInit_EnvironmentOverrides(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, DefaultConfig)
	t.Setenv("PINGFINDER_DETECTION_THRESHOLD", "0.125")
	t.Setenv("PINGFINDER_SYNTHETIC_BEARING_DEG", "12.5")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if settings.DetectionThreshold != 0.125 {
		t.Errorf("DetectionThreshold = %v, want 0.125", settings.DetectionThreshold)
	}
	if settings.Synthetic.BearingDeg != 12.5 {
		t.Errorf("Synthetic.BearingDeg = %v, want 12.5", settings.Synthetic.BearingDeg)
	}
}

func TestGet_ReturnsSettings(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, DefaultConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.DeviceIndex != -1 {
		t.Errorf("Settings.DeviceIndex = %d, want -1", settings.DeviceIndex)
	}
	if settings.SampleRateHz != 96000 {
		t.Errorf("Settings.SampleRateHz = %v, want 96000", settings.SampleRateHz)
	}
	if len(settings.ChannelPositionsM) != 3 || settings.ChannelPositionsM[1] != 0.0185 {
		t.Errorf("Settings.ChannelPositionsM = %v, want [0 0.0185 0.037]", settings.ChannelPositionsM)
	}
	if settings.MySQL.Server != "127.0.0.1:3306" {
		t.Errorf("Settings.MySQL.Server = %q", settings.MySQL.Server)
	}
	if settings.Synthetic.Seed != 1 || settings.Synthetic.WaterDepthM != 5 {
		t.Errorf("Settings.Synthetic = %+v", settings.Synthetic)
	}
}

func TestGet_CustomConfig(t *testing.T) {
	home := isolate(t)

	customConfig := `device_index: 2
sample_rate_hz: 192000
num_channels: 4
center_freq_hz: 40000
channel_positions_m: [0, 0.01, 0.02, 0.03]
reference_channel: 3
output: sqlite
sqlite_file: /tmp/pings.db
synthetic:
  envelope: rect
  realtime: false
`
	writeUserConfig(t, home, customConfig)

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	settings, err := Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if settings.DeviceIndex != 2 {
		t.Errorf("Settings.DeviceIndex = %d, want 2", settings.DeviceIndex)
	}
	if settings.NumChannels != 4 || len(settings.ChannelPositionsM) != 4 {
		t.Errorf("channels = %d positions = %v", settings.NumChannels, settings.ChannelPositionsM)
	}
	if settings.ReferenceChannel != 3 {
		t.Errorf("Settings.ReferenceChannel = %d, want 3", settings.ReferenceChannel)
	}
	if settings.Synthetic.Envelope != "rect" || settings.Synthetic.Realtime {
		t.Errorf("Settings.Synthetic = %+v", settings.Synthetic)
	}
	// Unset nested keys keep their defaults.
	if settings.Synthetic.RangeM != 10 {
		t.Errorf("Settings.Synthetic.RangeM = %v, want 10", settings.Synthetic.RangeM)
	}
}

func TestGet_InvalidSettings(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, "num_channels: 2\noutput: kafka\n")

	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	_, err := Get()
	if err == nil {
		t.Fatal("Get() should fail")
	}
	for _, want := range []string{"channel_positions_m", "output"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestInit_InvalidConfigFile(t *testing.T) {
	home := isolate(t)
	writeUserConfig(t, home, "invalid: yaml: content: [[[")

	if err := Init(); err == nil {
		t.Error("Init() should return error for invalid YAML")
	}
}

func TestEnsureConfigExists_CreatesDirectory(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "subdir", "config")

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(filepath.Join(configPath, "config.yaml"))
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != DefaultConfig {
		t.Errorf("config content does not match DefaultConfig")
	}
}

func TestEnsureConfigExists_DoesNotOverwrite(t *testing.T) {
	configPath := t.TempDir()
	configFile := filepath.Join(configPath, "config.yaml")
	existingContent := "existing: true"
	if err := os.WriteFile(configFile, []byte(existingContent), 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	if err := ensureConfigExists(configPath); err != nil {
		t.Fatalf("ensureConfigExists() error = %v", err)
	}

	content, err := os.ReadFile(configFile)
	if err != nil {
		t.Fatalf("failed to read config file: %v", err)
	}
	if string(content) != existingContent {
		t.Errorf("ensureConfigExists() overwrote existing config")
	}
}

func TestDefaultConfig_ContainsExpectedKeys(t *testing.T) {
	for _, key := range viperKeys(t) {
		leaf := key[strings.LastIndex(key, ".")+1:]
		if !strings.Contains(DefaultConfig, leaf+":") {
			t.Errorf("DefaultConfig missing key: %s", key)
		}
	}
}

func viperKeys(t *testing.T) []string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()
	return viper.AllKeys()
}

func validSettings() Settings {
	return Settings{
		Source:                SourceSynthetic,
		SampleRateHz:          96000,
		NumChannels:           3,
		BlockSizeSamples:      4096,
		QueueDepth:            4,
		CenterFreqHz:          30000,
		WindowWidthSamples:    192,
		WindowOverlapFraction: 0.598,
		DetectionThreshold:    0.05,
		DeadTimeSeconds:       0.2,
		NumBeamformSnapshots:  4,
		ChannelPositionsM:     []float64{0, 0.0185, 0.037},
		SoundSpeedMS:          1480,
		NumLookDirections:     300,
		Output:                OutputCSV,
		Synthetic: SyntheticSettings{
			BearingDeg: -30,
			RangeM:     10,
			Amplitude:  0.5,
			Envelope:   "hann",
		},
	}
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown source", func(s *Settings) { s.Source = "file" }, "source"},
		{"sample rate", func(s *Settings) { s.SampleRateHz = 1000 }, "sample_rate_hz"},
		{"nyquist", func(s *Settings) { s.CenterFreqHz = 48000 }, "Nyquist"},
		{"window function", func(s *Settings) { s.WindowFunction = "kaiser" }, "window_function"},
		{"threshold", func(s *Settings) { s.DetectionThreshold = 0 }, "detection_threshold"},
		{"dead time", func(s *Settings) { s.DeadTimeSeconds = -1 }, "dead_time_seconds"},
		{"reference channel", func(s *Settings) { s.ReferenceChannel = 3 }, "reference_channel"},
		{"positions", func(s *Settings) { s.ChannelPositionsM = s.ChannelPositionsM[:2] }, "channel_positions_m"},
		{"snapshots", func(s *Settings) { s.NumBeamformSnapshots = 0 }, "num_beamform_snapshots"},
		{"queue", func(s *Settings) { s.QueueDepth = 0 }, "queue_depth"},
		{"history", func(s *Settings) { s.HistorySize = -1 }, "history_size"},
		{"output", func(s *Settings) { s.Output = "kafka" }, "output"},
		{"sqlite file", func(s *Settings) { s.Output = OutputSQLite }, "sqlite_file"},
		{"mysql", func(s *Settings) { s.Output = OutputMySQL }, "mysql.server"},
		{"envelope", func(s *Settings) { s.Synthetic.Envelope = "gauss" }, "synthetic.envelope"},
		{"synthetic bearing", func(s *Settings) { s.Synthetic.BearingDeg = 120 }, "synthetic.bearing_deg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.modify(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSettings_PipelineConfig(t *testing.T) {
	s := validSettings()
	s.WindowFunction = "nuttall4c"
	s.DeferBearing = true

	cfg, err := s.PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig() error = %v", err)
	}
	if cfg.Digitizer.Spec.Width != 192 || cfg.Digitizer.BlockSize != 4096 || cfg.Digitizer.NumChannels != 3 {
		t.Errorf("Digitizer = %+v", cfg.Digitizer)
	}
	if cfg.Digitizer.Window[0] != dsp.Nuttall4c[0] {
		t.Errorf("Window = %v, want Nuttall4c", cfg.Digitizer.Window)
	}
	if cfg.Beamformer.CenterFreq != 30000 || cfg.Beamformer.NumSnapshots != 4 {
		t.Errorf("Beamformer = %+v", cfg.Beamformer)
	}
	if !cfg.DeferBearing || cfg.Detector.Threshold != 0.05 {
		t.Errorf("Config = %+v", cfg)
	}

	// The pipeline must not share the settings' slice.
	cfg.Beamformer.Positions[0] = 99
	if s.ChannelPositionsM[0] != 0 {
		t.Error("PipelineConfig() aliases channel_positions_m")
	}

	s.WindowFunction = "kaiser"
	if _, err := s.PipelineConfig(); !errors.Is(err, dsp.ErrConfiguration) {
		t.Errorf("PipelineConfig() error = %v, want ErrConfiguration", err)
	}
}

func TestSettings_Scenario(t *testing.T) {
	s := validSettings()
	sc, err := s.Scenario()
	if err != nil {
		t.Fatalf("Scenario() error = %v", err)
	}
	if math.Abs(sc.Bearing+math.Pi/6) > 1e-12 {
		t.Errorf("Bearing = %v, want -pi/6", sc.Bearing)
	}
	if sc.Envelope != sim.Hann || sc.CenterFreq != 30000 || sc.Range != 10 {
		t.Errorf("Scenario = %+v", sc)
	}

	s.Synthetic.Envelope = "gauss"
	if _, err := s.Scenario(); !errors.Is(err, sim.ErrUnknownEnvelope) {
		t.Errorf("Scenario() error = %v, want ErrUnknownEnvelope", err)
	}
}

func TestSettings_MySQLConfig(t *testing.T) {
	s := validSettings()
	s.MySQL = MySQLSettings{Server: "db:3306", User: "u", PasswordFile: "/pw", DBName: "pings"}
	got := s.MySQLConfig()
	if got.Server != "db:3306" || got.User != "u" || got.PasswordFile != "/pw" || got.Database != "pings" {
		t.Errorf("MySQLConfig() = %+v", got)
	}
}

func TestConstants(t *testing.T) {
	if AppName != "pingfinder" {
		t.Errorf("AppName = %q, want %q", AppName, "pingfinder")
	}
	if ConfigType != "yaml" {
		t.Errorf("ConfigType = %q, want %q", ConfigType, "yaml")
	}
}
