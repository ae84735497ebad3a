// internal/recorder/recorder.go
package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/dsp"
)

// FileName is the amplitude log inside an episode directory.
const FileName = "acoustics.dat"

var (
	// ErrChannelMismatch indicates a sample with the wrong number of channels
	ErrChannelMismatch = errors.New("sample channel count does not match recorder")
	// ErrTruncated indicates a log whose size is not a whole number of rows
	ErrTruncated = errors.New("amplitude log truncated")
)

// Timestamp formats t as yy_jjj_HH_MM_SS_mmm (two digit year, day of year,
// milliseconds).
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.UTC().Format("06_002_15_04_05"), t.Nanosecond()/int(time.Millisecond))
}

// EpisodeName returns the directory name of an episode starting at t.
func EpisodeName(t time.Time) string {
	return "episode_" + t.UTC().Format("06_002_15_04_05")
}

// Writer appends digitized samples to an amplitude log as little-endian
// complex64 rows of one value per channel.
type Writer struct {
	mu       sync.Mutex
	file     *os.File
	buf      *bufio.Writer
	channels int
	rows     int64
	path     string
}

// Create makes a new episode directory under dir and opens its log.
func Create(dir string, channels int, start time.Time) (*Writer, error) {
	episode := filepath.Join(dir, EpisodeName(start))
	if err := os.MkdirAll(episode, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create episode directory: %w", err)
	}
	glog.Infof("episode %s started at %s", filepath.Base(episode), Timestamp(start))
	return Open(filepath.Join(episode, FileName), channels)
}

// Open appends to the log at path, creating it if needed.
func Open(path string, channels int) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to open amplitude log: %w", err)
	}
	glog.Infof("recording %d channel amplitudes to %s", channels, path)
	return &Writer{
		file:     f,
		buf:      bufio.NewWriterSize(f, 64*1024),
		channels: channels,
		path:     path,
	}, nil
}

// Record appends one row per sample.
func (w *Writer) Record(samples []dsp.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var row [8]byte
	for _, s := range samples {
		if len(s.Values) != w.channels {
			return fmt.Errorf("%w: got %d, want %d", ErrChannelMismatch, len(s.Values), w.channels)
		}
		for _, v := range s.Values {
			binary.LittleEndian.PutUint32(row[0:], math.Float32bits(float32(real(v))))
			binary.LittleEndian.PutUint32(row[4:], math.Float32bits(float32(imag(v))))
			if _, err := w.buf.Write(row[:]); err != nil {
				return err
			}
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of rows written.
func (w *Writer) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Close flushes buffered rows and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.buf.Flush(), w.file.Close())
}

// Load reads a whole amplitude log.
func Load(path string, channels int) ([][]complex64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, channels)
}

// Read decodes rows of channels complex64 values until EOF.
func Read(r io.Reader, channels int) ([][]complex64, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: channels must be positive", ErrChannelMismatch)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	rowSize := 8 * channels
	if len(data)%rowSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrTruncated, len(data), rowSize)
	}

	rows := make([][]complex64, len(data)/rowSize)
	values := make([]complex64, len(rows)*channels)
	for i := range rows {
		row := values[i*channels : (i+1)*channels : (i+1)*channels]
		for ch := range row {
			off := i*rowSize + ch*8
			re := math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			im := math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))
			row[ch] = complex(re, im)
		}
		rows[i] = row
	}
	return rows, nil
}

// Samples turns logged rows back into samples spaced step raw samples apart.
func Samples(rows [][]complex64, step int) []dsp.Sample {
	out := make([]dsp.Sample, len(rows))
	for i, row := range rows {
		values := make([]complex128, len(row))
		for ch, v := range row {
			values[ch] = complex128(v)
		}
		out[i] = dsp.Sample{Position: int64(i * step), Values: values}
	}
	return out
}
