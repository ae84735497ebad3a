// internal/export/fan.go
package export

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// fanBuffer is the per-exporter channel depth.
const fanBuffer = 64

// Fan copies every record from in to each exporter and returns once all of
// them have finished. A slow exporter blocks the others. Cancelling ctx
// stops distribution and closes the exporter channels.
func Fan(ctx context.Context, in <-chan Record, exporters ...Exporter) error {
	g, gctx := errgroup.WithContext(ctx)
	outs := make([]chan Record, len(exporters))
	for i, e := range exporters {
		outs[i] = make(chan Record, fanBuffer)
		g.Go(func() error {
			return e.Write(gctx, outs[i])
		})
	}

	g.Go(func() error {
		defer func() {
			for _, out := range outs {
				close(out)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				return nil
			case r, ok := <-in:
				if !ok {
					return nil
				}
				for _, out := range outs {
					select {
					case out <- r:
					case <-gctx.Done():
						return nil
					}
				}
			}
		}
	})
	return g.Wait()
}
