package encoder

import "strings"

type severity int

const (
	severityInfo severity = iota
	severityRecoverable
	severityFatal
)

// fatalMarkers end the session: the process cannot produce output anymore.
var fatalMarkers = []string{
	"error initializing output stream",
	"unknown encoder",
	"invalid argument",
	"connection refused",
	"connection timed out",
	"broken pipe",
	"no such file or directory",
	"permission denied",
	"failed to update header",
	"error writing trailer",
	"unable to find a suitable output format",
}

// recoverableMarkers degrade quality but the stream keeps going.
var recoverableMarkers = []string{
	"past duration",
	"frame dropped",
	"dropping frame",
	"non-monotonous dts",
	"buffer underflow",
	"rtmp server sent error",
	"delay between the first packet",
	"thread message queue blocking",
	"bitrate exceeds",
}

// classifyStderr decides whether an ffmpeg diagnostic ends the session,
// degrades it, or is informational noise.
func classifyStderr(line string) severity {
	lower := strings.ToLower(line)
	for _, marker := range fatalMarkers {
		if strings.Contains(lower, marker) {
			return severityFatal
		}
	}
	for _, marker := range recoverableMarkers {
		if strings.Contains(lower, marker) {
			return severityRecoverable
		}
	}
	return severityInfo
}
