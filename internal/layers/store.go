package layers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"streamcast/internal/events"
)

// ErrNotFound indicates a layer id or symbolic name with no matching layer.
var ErrNotFound = errors.New("layer not found")

const defaultChatLines = 12

// safeAreaMargin keeps positioned layers clear of the canvas edge, matching
// broadcast title-safe conventions.
const safeAreaMargin = 0.05

// Patch carries a shallow-merge update; nil fields are left untouched.
type Patch struct {
	ZIndex    *int
	Visible   *bool
	Opacity   *float64
	Transform *Transform
	Content   Content
}

// Store is the single mutation path for the layer list.
type Store struct {
	mu      sync.RWMutex
	layers  map[string]*Layer
	nextSeq uint64

	width  int
	height int

	bus *events.Bus
}

// NewStore creates a store for a canvas of the given dimensions. The bus may
// be nil in tests; mutations then skip notification.
func NewStore(width, height int, bus *events.Bus) *Store {
	return &Store{
		layers: make(map[string]*Layer),
		width:  width,
		height: height,
		bus:    bus,
	}
}

// Add inserts a layer and returns its assigned id.
func (s *Store) Add(layer Layer) (string, error) {
	switch layer.Kind {
	case KindHost, KindAssistant, KindVisualFeed, KindOverlay, KindChat:
	default:
		return "", fmt.Errorf("unknown layer kind %q", layer.Kind)
	}
	if layer.Content == nil {
		return "", errors.New("layer content required")
	}
	if layer.Opacity < 0 || layer.Opacity > 1 {
		return "", fmt.Errorf("opacity %v outside [0, 1]", layer.Opacity)
	}

	s.mu.Lock()
	if layer.ID == "" {
		layer.ID = uuid.NewString()
	}
	if _, exists := s.layers[layer.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("layer %s already exists", layer.ID)
	}
	if layer.Transform.Scale == 0 {
		layer.Transform.Scale = 1
	}
	layer.Transform.Position = s.clampLocked(layer.Transform.Position)
	layer.seq = s.nextSeq
	s.nextSeq++
	stored := layer.clone()
	s.layers[layer.ID] = &stored
	id := layer.ID
	s.mu.Unlock()

	s.notify(id)
	return id, nil
}

// Update shallow-merges the patch into the identified layer. Position updates
// are clamped to the canvas safe area before storage.
func (s *Store) Update(id string, patch Patch) error {
	s.mu.Lock()
	layer, ok := s.layers[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("update layer %s: %w", id, ErrNotFound)
	}
	if patch.Opacity != nil {
		if *patch.Opacity < 0 || *patch.Opacity > 1 {
			s.mu.Unlock()
			return fmt.Errorf("opacity %v outside [0, 1]", *patch.Opacity)
		}
		layer.Opacity = *patch.Opacity
	}
	if patch.ZIndex != nil {
		layer.ZIndex = *patch.ZIndex
	}
	if patch.Visible != nil {
		layer.Visible = *patch.Visible
	}
	if patch.Transform != nil {
		t := *patch.Transform
		t.Position = s.clampLocked(t.Position)
		if t.Scale == 0 {
			t.Scale = layer.Transform.Scale
		}
		layer.Transform = t
	}
	if patch.Content != nil {
		layer.Content = patch.Content
	}
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// Remove deletes a layer.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	if _, ok := s.layers[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("remove layer %s: %w", id, ErrNotFound)
	}
	delete(s.layers, id)
	s.mu.Unlock()

	s.notify(id)
	return nil
}

// SetVisibility toggles a single layer by id.
func (s *Store) SetVisibility(id string, visible bool) error {
	return s.Update(id, Patch{Visible: &visible})
}

// SetVisibilityByName resolves symbolic layer names (case-insensitive match
// on Name, falling back to Kind) and toggles every match. Returns the ids it
// changed.
func (s *Store) SetVisibilityByName(name string, visible bool) ([]string, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return nil, errors.New("layer name required")
	}

	s.mu.Lock()
	var ids []string
	for id, layer := range s.layers {
		if strings.ToLower(layer.Name) == needle || strings.ToLower(string(layer.Kind)) == needle {
			layer.Visible = visible
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil, fmt.Errorf("set visibility %q: %w", name, ErrNotFound)
	}
	for _, id := range ids {
		s.notify(id)
	}
	return ids, nil
}

// AppendChat appends a normalized message to every chat layer, trimming each
// to its configured line budget.
func (s *Store) AppendChat(author, text string) error {
	msg := ChatMessage{
		Author: strings.TrimSpace(author),
		Text:   NormalizeChatText(strings.TrimSpace(text)),
		At:     time.Now(),
	}
	if msg.Text == "" {
		return errors.New("chat text required")
	}

	s.mu.Lock()
	var ids []string
	for id, layer := range s.layers {
		chat, ok := layer.Content.(ChatContent)
		if !ok {
			continue
		}
		chat.Messages = append(chat.Messages, msg)
		max := chat.MaxLines
		if max <= 0 {
			max = defaultChatLines
		}
		if len(chat.Messages) > max {
			chat.Messages = chat.Messages[len(chat.Messages)-max:]
		}
		layer.Content = chat
		ids = append(ids, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return fmt.Errorf("append chat: no chat layer: %w", ErrNotFound)
	}
	for _, id := range ids {
		s.notify(id)
	}
	return nil
}

// Get returns a copy of one layer.
func (s *Store) Get(id string) (Layer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	layer, ok := s.layers[id]
	if !ok {
		return Layer{}, fmt.Errorf("get layer %s: %w", id, ErrNotFound)
	}
	return layer.clone(), nil
}

// Snapshot returns copies of every layer, visible or not, ordered
// ascending by ZIndex with insertion order breaking ties.
func (s *Store) Snapshot() []Layer {
	s.mu.RLock()
	out := make([]Layer, 0, len(s.layers))
	for _, layer := range s.layers {
		out = append(out, layer.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ZIndex != out[j].ZIndex {
			return out[i].ZIndex < out[j].ZIndex
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// VisibleSnapshot returns the paint-ordered subset of visible layers.
func (s *Store) VisibleSnapshot() []Layer {
	all := s.Snapshot()
	visible := all[:0]
	for _, layer := range all {
		if layer.Visible {
			visible = append(visible, layer)
		}
	}
	return visible
}

// Count reports the number of stored layers.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// UpdateDimensions records a new canvas size used for clamping.
func (s *Store) UpdateDimensions(width, height int) {
	s.mu.Lock()
	s.width = width
	s.height = height
	s.mu.Unlock()
}

func (s *Store) clampLocked(p Point) Point {
	minX := float64(s.width) * safeAreaMargin
	maxX := float64(s.width) * (1 - safeAreaMargin)
	minY := float64(s.height) * safeAreaMargin
	maxY := float64(s.height) * (1 - safeAreaMargin)
	if p.X < minX {
		p.X = minX
	}
	if p.X > maxX {
		p.X = maxX
	}
	if p.Y < minY {
		p.Y = minY
	}
	if p.Y > maxY {
		p.Y = maxY
	}
	return p
}

func (s *Store) notify(id string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.SceneUpdated{LayerID: id, At: time.Now()})
}
