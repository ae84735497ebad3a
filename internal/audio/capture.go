// internal/audio/capture.go
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

var (
	ErrNotInitialized = errors.New("audio capture not initialized")
	ErrAlreadyRunning = errors.New("audio capture already running")
	ErrNotRunning     = errors.New("audio capture not running")
)

// Config holds audio capture configuration
type Config struct {
	DeviceIndex int    // -1 for default device
	SampleRate  uint32 // e.g., 96000
	Channels    uint32 // one per hydrophone
	BlockSize   uint32 // frames per emitted block
}

// DefaultConfig returns the three hydrophone, 96 kHz setup
func DefaultConfig() Config {
	return Config{
		DeviceIndex: -1,
		SampleRate:  96000,
		Channels:    3,
		BlockSize:   4096,
	}
}

// Capture reads multichannel audio from a sound card and pushes fixed size
// blocks to a Sink from the audio thread.
type Capture struct {
	config Config
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.RWMutex

	running bool
	done    chan struct{}

	blocks   atomic.Int64
	overruns atomic.Int64
}

// New creates a new audio capture instance
func New(cfg Config) *Capture {
	return &Capture{
		config: cfg,
		done:   make(chan struct{}),
	}
}

// Init initializes the audio backend
func (c *Capture) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	c.ctx = ctx

	return nil
}

// ListDevices returns available capture devices
func (c *Capture) ListDevices() ([]malgo.DeviceInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ctx == nil {
		return nil, ErrNotInitialized
	}

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}

	return infos, nil
}

// Start begins audio capture into sink
func (c *Capture) Start(ctx context.Context, sink Sink) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.mu.Unlock()

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Capture,
		SampleRate:         c.config.SampleRate,
		PeriodSizeInFrames: c.config.BlockSize,
		Capture: malgo.SubConfig{
			Format:   malgo.FormatF32,
			Channels: c.config.Channels,
		},
	}

	if c.config.DeviceIndex >= 0 {
		devices, err := c.ListDevices()
		if err != nil {
			return err
		}
		if c.config.DeviceIndex >= len(devices) {
			return fmt.Errorf("device index %d out of range (have %d devices)",
				c.config.DeviceIndex, len(devices))
		}
		deviceConfig.Capture.DeviceID = devices[c.config.DeviceIndex].ID.Pointer()
	}

	// Only the audio thread touches the framer.
	framer := NewFramer(int(c.config.Channels), int(c.config.BlockSize))
	emit := func(block dsp.AudioBlock) {
		c.blocks.Add(1)
		if !sink.Push(block) {
			c.overruns.Add(1)
		}
	}
	onRecvFrames := func(_, inputSamples []byte, _ uint32) {
		if len(inputSamples) == 0 {
			return
		}
		framer.Write(bytesToFloat32(inputSamples), emit)
	}

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecvFrames})
	if err != nil {
		return fmt.Errorf("init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start device: %w", err)
	}

	c.mu.Lock()
	c.device = device
	c.running = true
	c.done = make(chan struct{})
	c.mu.Unlock()

	glog.Infof("capturing %d channels at %d Hz in blocks of %d",
		c.config.Channels, c.config.SampleRate, c.config.BlockSize)

	go func() {
		<-ctx.Done()
		_ = c.Stop()
	}()

	return nil
}

// Stop stops audio capture
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}

	c.running = false
	close(c.done)
	return nil
}

// Done is closed when capture stops
func (c *Capture) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Close releases all audio resources
func (c *Capture) Close() error {
	if c.IsRunning() {
		_ = c.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninit context: %w", err)
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

// IsRunning returns true if capture is active
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Stats returns capture counters
func (c *Capture) Stats() SourceStats {
	return SourceStats{
		Blocks:   c.blocks.Load(),
		Overruns: c.overruns.Load(),
		Running:  c.IsRunning(),
		Backend:  c.Name(),
	}
}

// Name returns "malgo"
func (c *Capture) Name() string {
	return "malgo"
}
