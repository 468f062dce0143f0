package metrics

import (
	"context"

	"streamcast/internal/events"
)

// Observe feeds counters from bus events until ctx is cancelled. Gauges are
// not touched here; they refresh on scrape.
func (m *Metrics) Observe(ctx context.Context, bus *events.Bus) {
	ch, unsubscribe := bus.Subscribe(128)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			switch e := evt.(type) {
			case events.FrameRendered:
				m.IncFramesRendered()
			case events.EncoderError:
				m.IncEncoderErrors(e.Fatal)
			case events.WorkerReplaced:
				m.IncWorkersReplaced()
			case events.AssetLoaded:
				m.IncAssetLoads()
			case events.SceneUpdated:
				m.IncSceneUpdates()
			}
		}
	}
}
