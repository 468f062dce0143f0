// Package layers holds the canonical ordered collection of visual layers
// composited into each output frame.
//
// The Store owns the layer list exclusively: every mutation goes through it
// and readers only ever see copies, so a concurrent update can
// never corrupt an in-progress composite pass.
package layers

import (
	"time"

	"golang.org/x/text/unicode/norm"
)

// Kind discriminates the layer content union.
type Kind string

const (
	KindHost       Kind = "host"
	KindAssistant  Kind = "assistant"
	KindVisualFeed Kind = "visualFeed"
	KindOverlay    Kind = "overlay"
	KindChat       Kind = "chat"
)

// Content is the sealed union of per-kind layer payloads. Only types in this
// package implement it; the compositor switches exhaustively over them.
type Content interface {
	isContent()
}

// HostContent renders the host camera/avatar panel.
type HostContent struct {
	Source   string
	Label    string
	Speaking bool
}

// AssistantContent renders the AI assistant panel.
type AssistantContent struct {
	Source     string
	Label      string
	Expression string
}

// VisualFeedContent renders a full-bleed or positioned external feed.
type VisualFeedContent struct {
	Source  string
	Offline bool
}

// OverlayContent renders a static or generated overlay element.
type OverlayContent struct {
	Source string
	Text   string
}

// ChatMessage is a single chat line shown in a chat layer.
type ChatMessage struct {
	Author string
	Text   string
	At     time.Time
}

// ChatContent renders the rolling chat panel.
type ChatContent struct {
	Messages []ChatMessage
	MaxLines int
}

func (HostContent) isContent()       {}
func (AssistantContent) isContent()  {}
func (VisualFeedContent) isContent() {}
func (OverlayContent) isContent()    {}
func (ChatContent) isContent()       {}

// Point is a canvas position in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform positions and scales a layer on the canvas.
type Transform struct {
	Position Point   `json:"position"`
	Scale    float64 `json:"scale"`
	Rotation float64 `json:"rotation"`
	Anchor   Point   `json:"anchor"`
}

// Layer is one composited visual element. Paint order is ascending ZIndex
// with insertion order breaking ties; invisible layers are retained but
// excluded from visible snapshots.
type Layer struct {
	ID        string
	Name      string
	Kind      Kind
	ZIndex    int
	Visible   bool
	Opacity   float64
	Transform Transform
	Content   Content

	seq uint64
}

// clone returns a deep-enough copy: Content payloads are value types except
// chat messages, which get their slice copied.
func (l Layer) clone() Layer {
	cp := l
	if chat, ok := l.Content.(ChatContent); ok {
		msgs := make([]ChatMessage, len(chat.Messages))
		copy(msgs, chat.Messages)
		chat.Messages = msgs
		cp.Content = chat
	}
	return cp
}

// NormalizeChatText applies NFC normalization so rasterized chat lines render
// consistently regardless of the client's input method.
func NormalizeChatText(s string) string {
	return norm.NFC.String(s)
}
