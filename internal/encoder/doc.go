// Package encoder wraps an external ffmpeg process that turns raw RGBA
// frames into an encoded stream. Frames enter through a bounded channel so a
// stalled encoder surfaces as backpressure at SendFrame instead of blocking
// the render path.
package encoder
