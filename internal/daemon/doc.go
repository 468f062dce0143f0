// Package daemon coordinates the long-running streamcast process and its
// system integration points.
//
// It wires the layer store, asset cache, compositor, worker pool, encoder,
// preview hub, state store, stream manager, session journal, and notification
// service into a single lifecycle with flock-based locking to prevent
// multiple instances. The daemon also owns the HTTP status API, the metrics
// endpoint, and the udev capture monitor that toggles the visual feed when
// the capture device is hotplugged.
//
// Keep orchestration logic here: pipeline behavior lives in the component
// packages while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
