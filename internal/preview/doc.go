// Package preview broadcasts JPEG snapshots of the composed output over
// websockets so operators can watch the stream without pulling the encoded
// feed. Each client picks its own quality tier; slow clients are dropped
// rather than allowed to stall the broadcast.
package preview
