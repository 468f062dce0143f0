package preview

import (
	"encoding/json"
	"fmt"
	"time"
)

// Quality selects the scale and JPEG compression of frames sent to one
// client.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

func parseQuality(s string) (Quality, error) {
	switch Quality(s) {
	case QualityLow, QualityMedium, QualityHigh:
		return Quality(s), nil
	default:
		return "", fmt.Errorf("unknown preview quality %q", s)
	}
}

// scaleDivisor returns how much the source frame shrinks for this tier.
func (q Quality) scaleDivisor() int {
	switch q {
	case QualityLow:
		return 4
	case QualityMedium:
		return 2
	default:
		return 1
	}
}

// jpegQuality returns the JPEG encoder quality for this tier.
func (q Quality) jpegQuality(base int) int {
	switch q {
	case QualityLow:
		return base * 6 / 10
	case QualityMedium:
		return base * 8 / 10
	default:
		return base
	}
}

// Message kinds exchanged with preview clients.
const (
	kindConfig  = "config"
	kindFrame   = "frame"
	kindQuality = "quality"
	kindPing    = "ping"
	kindPong    = "pong"
)

// inbound is what clients may send: quality switches and keepalive pings.
type inbound struct {
	Kind    string `json:"kind"`
	Quality string `json:"quality,omitempty"`
}

// ConfigMessage describes the source stream to a newly connected client.
type ConfigMessage struct {
	Kind      string `json:"kind"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	FPS       int    `json:"fps"`
	IsLive    bool   `json:"is_live"`
	Timestamp int64  `json:"timestamp"`
}

// frameMessage carries one JPEG snapshot. Data is base64 in the JSON
// encoding.
type frameMessage struct {
	Kind      string  `json:"kind"`
	Data      []byte  `json:"data"`
	Quality   Quality `json:"quality"`
	Timestamp int64   `json:"timestamp"`
}

func encodeFrameMessage(data []byte, quality Quality, at time.Time) ([]byte, error) {
	return json.Marshal(frameMessage{
		Kind:      kindFrame,
		Data:      data,
		Quality:   quality,
		Timestamp: at.UnixMilli(),
	})
}

var pongMessage = []byte(`{"kind":"pong"}`)

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}
