// Package compositor merges visible layers and cached assets into a single
// fixed-resolution frame buffer.
//
// Compositing is best-effort: a failing layer is logged and skipped so one
// bad asset never costs the whole frame.
package compositor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"
	"strings"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"streamcast/internal/assets"
	"streamcast/internal/layers"
	"streamcast/internal/logging"
)

// background is the base canvas color painted under every scene.
var background = color.RGBA{R: 12, G: 12, B: 16, A: 255}

// offlineFill marks a visual feed whose capture source is unavailable.
var offlineFill = color.RGBA{R: 28, G: 28, B: 36, A: 255}

// AssetSource provides decoded media for layer content.
type AssetSource interface {
	Load(ctx context.Context, req assets.Request) (*image.RGBA, error)
}

// Compositor paints ordered layers onto a canvas of fixed dimensions.
type Compositor struct {
	mu     sync.Mutex
	width  int
	height int
	assets AssetSource
	logger *slog.Logger

	// Layout rects derived from dimensions; rebuilt on resize.
	quadrants map[layers.Kind]image.Rectangle
}

// New constructs a compositor for the given canvas size.
func New(width, height int, source AssetSource, logger *slog.Logger) *Compositor {
	c := &Compositor{
		width:  width,
		height: height,
		assets: source,
		logger: logging.NewComponentLogger(logger, "compositor"),
	}
	c.rebuildLayout()
	return c
}

// UpdateDimensions resizes the canvas and drops size-dependent cached state.
func (c *Compositor) UpdateDimensions(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width = width
	c.height = height
	c.rebuildLayout()
}

// Dimensions returns the current canvas size.
func (c *Compositor) Dimensions() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

func (c *Compositor) rebuildLayout() {
	w, h := c.width, c.height
	c.quadrants = map[layers.Kind]image.Rectangle{
		// Host bottom-left, assistant bottom-right quarter panels.
		layers.KindHost:      image.Rect(w/24, h-h/3-h/24, w/24+w/4, h-h/24),
		layers.KindAssistant: image.Rect(w-w/4-w/24, h-h/3-h/24, w-w/24, h-h/24),
	}
}

// RenderScene paints the provided layers bottom to top. Layers must already
// be sorted ascending by zIndex (ties by insertion order) and filtered to the
// visible set; the layer store's snapshot satisfies both.
func (c *Compositor) RenderScene(ctx context.Context, scene []layers.Layer) *image.RGBA {
	c.mu.Lock()
	width, height := c.width, c.height
	quadrants := c.quadrants
	c.mu.Unlock()

	frame := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	// Paint tiers in order: full-bleed feeds, positioned panels, overlays.
	for _, tier := range [][]layers.Kind{
		{layers.KindVisualFeed},
		{layers.KindHost, layers.KindAssistant},
		{layers.KindOverlay, layers.KindChat},
	} {
		for _, layer := range scene {
			if !tierContains(tier, layer.Kind) {
				continue
			}
			if err := c.renderLayer(ctx, frame, layer, quadrants); err != nil {
				c.logger.Warn("layer skipped",
					logging.Error(err),
					logging.String(logging.FieldLayerID, layer.ID),
					logging.String("kind", string(layer.Kind)),
				)
			}
		}
	}
	return frame
}

// SolidFrame returns a uniform frame of the configured resolution, used as a
// deterministic placeholder when the stream is not live.
func (c *Compositor) SolidFrame(fill color.Color) *image.RGBA {
	c.mu.Lock()
	width, height := c.width, c.height
	c.mu.Unlock()

	frame := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(frame, frame.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	return frame
}

func tierContains(tier []layers.Kind, kind layers.Kind) bool {
	for _, k := range tier {
		if k == kind {
			return true
		}
	}
	return false
}

// renderLayer paints one layer, converting panics from malformed content
// into errors so compositing stays best-effort.
func (c *Compositor) renderLayer(ctx context.Context, frame *image.RGBA, layer layers.Layer, quadrants map[layers.Kind]image.Rectangle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()

	if layer.Opacity <= 0 {
		return nil
	}

	switch content := layer.Content.(type) {
	case layers.VisualFeedContent:
		return c.renderVisualFeed(ctx, frame, layer, content)
	case layers.HostContent:
		return c.renderPanel(ctx, frame, layer, content.Source, content.Label, quadrants[layers.KindHost])
	case layers.AssistantContent:
		return c.renderPanel(ctx, frame, layer, content.Source, content.Label, quadrants[layers.KindAssistant])
	case layers.OverlayContent:
		return c.renderOverlay(ctx, frame, layer, content)
	case layers.ChatContent:
		return c.renderChat(frame, layer, content)
	default:
		return fmt.Errorf("unknown content type %T", layer.Content)
	}
}

func (c *Compositor) renderVisualFeed(ctx context.Context, frame *image.RGBA, layer layers.Layer, content layers.VisualFeedContent) error {
	if content.Offline || strings.TrimSpace(content.Source) == "" {
		draw.Draw(frame, frame.Bounds(), image.NewUniform(offlineFill), image.Point{}, draw.Over)
		return nil
	}
	img, err := c.assets.Load(ctx, assets.Request{Source: content.Source, Kind: assets.KindVideoFrame})
	if err != nil {
		return err
	}
	c.drawScaled(frame, frame.Bounds(), img, layer.Opacity)
	return nil
}

func (c *Compositor) renderPanel(ctx context.Context, frame *image.RGBA, layer layers.Layer, source, label string, slot image.Rectangle) error {
	var img *image.RGBA
	if strings.TrimSpace(source) != "" {
		loaded, err := c.assets.Load(ctx, assets.Request{Source: source, Kind: assets.KindImage})
		if err != nil {
			return err
		}
		img = loaded
	} else {
		loaded, err := c.assets.Load(ctx, assets.Request{
			Kind:   assets.KindOverlay,
			Source: "panel:" + string(layer.Kind),
			Text:   label,
			Width:  slot.Dx(),
			Height: slot.Dy(),
		})
		if err != nil {
			return err
		}
		img = loaded
	}
	c.drawTransformed(frame, img, layer, slot)
	return nil
}

func (c *Compositor) renderOverlay(ctx context.Context, frame *image.RGBA, layer layers.Layer, content layers.OverlayContent) error {
	req := assets.Request{Source: content.Source, Kind: assets.KindImage}
	if strings.TrimSpace(content.Source) == "" {
		req = assets.Request{Kind: assets.KindOverlay, Source: "overlay:" + layer.ID, Text: content.Text}
	}
	img, err := c.assets.Load(ctx, req)
	if err != nil {
		return err
	}
	c.drawTransformed(frame, img, layer, image.Rectangle{})
	return nil
}

func (c *Compositor) renderChat(frame *image.RGBA, layer layers.Layer, content layers.ChatContent) error {
	if len(content.Messages) == 0 {
		return nil
	}
	var sb strings.Builder
	for i, msg := range content.Messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if msg.Author != "" {
			sb.WriteString(msg.Author)
			sb.WriteString(": ")
		}
		sb.WriteString(msg.Text)
	}
	img, err := assets.RasterizeText(sb.String())
	if err != nil {
		return err
	}
	c.drawTransformed(frame, img, layer, image.Rectangle{})
	return nil
}

// drawTransformed places img according to the layer transform. When slot is
// non-empty and the transform is identity-positioned, the image fills the
// slot instead.
func (c *Compositor) drawTransformed(frame *image.RGBA, img *image.RGBA, layer layers.Layer, slot image.Rectangle) {
	t := layer.Transform
	identityPos := t.Position.X == 0 && t.Position.Y == 0

	if !slot.Empty() && identityPos && t.Rotation == 0 && (t.Scale == 0 || t.Scale == 1) {
		c.drawScaledRect(frame, slot, img, layer.Opacity)
		return
	}

	scale := t.Scale
	if scale <= 0 {
		scale = 1
	}

	if t.Rotation == 0 {
		bounds := img.Bounds()
		dstW := int(float64(bounds.Dx()) * scale)
		dstH := int(float64(bounds.Dy()) * scale)
		origin := image.Pt(
			int(t.Position.X-t.Anchor.X*float64(dstW)),
			int(t.Position.Y-t.Anchor.Y*float64(dstH)),
		)
		c.drawScaledRect(frame, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(dstW, dstH))}, img, layer.Opacity)
		return
	}

	// Rotation path: affine transform about the anchor point.
	bounds := img.Bounds()
	sin, cos := math.Sincos(t.Rotation)
	ax := t.Anchor.X * float64(bounds.Dx()) * scale
	ay := t.Anchor.Y * float64(bounds.Dy()) * scale
	m := f64.Aff3{
		scale * cos, -scale * sin, t.Position.X - ax*cos + ay*sin,
		scale * sin, scale * cos, t.Position.Y - ax*sin - ay*cos,
	}
	xdraw.ApproxBiLinear.Transform(frame, m, img, bounds, xdraw.Over, &xdraw.Options{
		SrcMask: opacityMask(layer.Opacity),
	})
}

func (c *Compositor) drawScaled(frame *image.RGBA, dst image.Rectangle, img *image.RGBA, opacity float64) {
	c.drawScaledRect(frame, dst, img, opacity)
}

func (c *Compositor) drawScaledRect(frame *image.RGBA, dst image.Rectangle, img *image.RGBA, opacity float64) {
	if dst.Empty() {
		return
	}
	src := img
	if img.Bounds().Dx() != dst.Dx() || img.Bounds().Dy() != dst.Dy() {
		scaled := image.NewRGBA(image.Rect(0, 0, dst.Dx(), dst.Dy()))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Over, nil)
		src = scaled
	}
	if opacity >= 1 {
		draw.Draw(frame, dst, src, src.Bounds().Min, draw.Over)
		return
	}
	draw.DrawMask(frame, dst, src, src.Bounds().Min, opacityMask(opacity), image.Point{}, draw.Over)
}

// opacityMask returns a uniform alpha mask for the given opacity, or nil for
// fully opaque.
func opacityMask(opacity float64) image.Image {
	if opacity >= 1 {
		return nil
	}
	if opacity < 0 {
		opacity = 0
	}
	return image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
}
