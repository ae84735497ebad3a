// internal/export/csv.go
package export

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/golang/glog"
)

// CSV writes one line per record, flushing after each so that a tail of
// the output is always current.
type CSV struct {
	// Out defaults to os.Stdout.
	Out io.Writer
}

var csvHeader = []string{
	"StreamID",
	"DetectedUnixMilli",
	"ArrivalTime",
	"BearingDeg",
	"SnapshotStart",
	"Magnitude",
}

func (c *CSV) Write(ctx context.Context, records <-chan Record) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	w.Flush()

	for r := range records {
		if err := w.Write(csvRow(r)); err != nil {
			glog.Warningf("error while writing CSV line: %s", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			glog.Warningf("error flushing CSV: %s", err)
		}
	}
	return nil
}

func csvRow(r Record) []string {
	bearing := ""
	if r.Bearing.Valid {
		bearing = strconv.FormatFloat(r.Bearing.Degrees(), 'f', 2, 64)
	}
	return []string{
		r.StreamID,
		strconv.FormatInt(r.Detected.UnixMilli(), 10),
		strconv.FormatFloat(r.ArrivalTime, 'f', 6, 64),
		bearing,
		strconv.FormatInt(r.SnapshotStart, 10),
		strconv.FormatFloat(r.Magnitude, 'g', 6, 64),
	}
}
