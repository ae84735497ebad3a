// internal/server/server.go
package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"

	"github.com/ColonelBlimp/pingfinder/internal/export"
)

const (
	healthEndpoint     = "/healthz"
	detectionsEndpoint = "/v1/detections"
	statsEndpoint      = "/v1/stats"

	defaultLimit    = 50
	shutdownTimeout = 5 * time.Second
)

// StatsFunc returns a JSON encodable snapshot of processing counters.
type StatsFunc func() any

type detectionView struct {
	StreamID      string   `json:"stream_id"`
	Detected      string   `json:"detected"`
	ArrivalTime   float64  `json:"arrival_time"`
	BearingDeg    *float64 `json:"bearing_deg"`
	SnapshotStart int64    `json:"snapshot_start"`
	Magnitude     float64  `json:"magnitude"`
}

func viewOf(r export.Record) detectionView {
	v := detectionView{
		StreamID:      r.StreamID,
		Detected:      r.Detected.UTC().Format(time.RFC3339Nano),
		ArrivalTime:   r.ArrivalTime,
		SnapshotStart: r.SnapshotStart,
		Magnitude:     r.Magnitude,
	}
	if r.Bearing.Valid {
		deg := math.Round(r.Bearing.Degrees()*100) / 100
		v.BearingDeg = &deg
	}
	return v
}

// New builds the status API over store. stats may be nil.
func New(store *Store, stats StatsFunc) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(healthEndpoint, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET(detectionsEndpoint, func(c *gin.Context) {
		limit := defaultLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		recent := store.Recent(limit)
		views := make([]detectionView, len(recent))
		for i, rec := range recent {
			views[i] = viewOf(rec)
		}
		c.JSON(http.StatusOK, gin.H{
			"total":      store.Total(),
			"detections": views,
		})
	})

	r.GET(statsEndpoint, func(c *gin.Context) {
		if stats == nil {
			c.JSON(http.StatusOK, gin.H{})
			return
		}
		c.JSON(http.StatusOK, stats())
	})

	return r
}

// Serve runs handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("status API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
