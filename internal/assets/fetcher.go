package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var commandContext = exec.CommandContext

// MediaFetcher is the production Fetcher: it decodes raster files, extracts
// video frames through an external ffmpeg process, rasterizes text, and
// composes overlay elements.
type MediaFetcher struct {
	ffmpegBinary string
}

// NewMediaFetcher constructs a fetcher using the given ffmpeg binary for
// video-frame extraction.
func NewMediaFetcher(ffmpegBinary string) *MediaFetcher {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	return &MediaFetcher{ffmpegBinary: ffmpegBinary}
}

// Fetch materializes the requested asset.
func (f *MediaFetcher) Fetch(ctx context.Context, req Request) (*image.RGBA, error) {
	switch req.Kind {
	case KindImage:
		return f.decodeImage(req.Source)
	case KindVideoFrame:
		return f.extractVideoFrame(ctx, req.Source)
	case KindText:
		return rasterizeText(req.Text)
	case KindOverlay:
		return composeOverlay(req)
	default:
		return nil, fmt.Errorf("unknown asset kind %q", req.Kind)
	}
}

func (f *MediaFetcher) decodeImage(path string) (*image.RGBA, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer file.Close()

	decoded, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return toRGBA(decoded), nil
}

// extractVideoFrame pulls a single frame from a video or stream source by
// piping one PNG out of ffmpeg.
func (f *MediaFetcher) extractVideoFrame(ctx context.Context, source string) (*image.RGBA, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("video source required")
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-i", source,
		"-frames:v", "1",
		"-f", "image2", "-c:v", "png",
		"pipe:1",
	}
	cmd := commandContext(ctx, f.ffmpegBinary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("extract frame: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("extract frame: %w", err)
	}

	decoded, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("decode extracted frame: %w", err)
	}
	return toRGBA(decoded), nil
}

// RasterizeText renders one or more lines of text onto a tight RGBA buffer.
// It backs KindText requests and is used directly for chat panels, which
// change every message and gain nothing from caching.
func RasterizeText(text string) (*image.RGBA, error) {
	return rasterizeText(text)
}

func rasterizeText(text string) (*image.RGBA, error) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil, errors.New("text required")
	}
	lines := strings.Split(text, "\n")

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()
	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}
	if width == 0 {
		width = 1
	}
	height := lineHeight * len(lines)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	drawer := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	ascent := face.Metrics().Ascent.Ceil()
	for i, line := range lines {
		drawer.Dot = fixed.P(0, ascent+i*lineHeight)
		drawer.DrawString(line)
	}
	return img, nil
}

// composeOverlay builds a translucent panel with an optional caption, used
// for badges and lower-third style elements.
func composeOverlay(req Request) (*image.RGBA, error) {
	width, height := req.Width, req.Height
	if width <= 0 {
		width = 320
	}
	if height <= 0 {
		height = 72
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	panel := color.RGBA{R: 16, G: 16, B: 24, A: 208}
	draw.Draw(img, img.Bounds(), image.NewUniform(panel), image.Point{}, draw.Src)

	// Accent strip along the left edge.
	accent := color.RGBA{R: 128, G: 72, B: 255, A: 255}
	strip := image.Rect(0, 0, 6, height)
	draw.Draw(img, strip, image.NewUniform(accent), image.Point{}, draw.Src)

	if strings.TrimSpace(req.Text) != "" {
		label, err := rasterizeText(req.Text)
		if err != nil {
			return nil, err
		}
		bounds := label.Bounds()
		offset := image.Pt(16, (height-bounds.Dy())/2)
		draw.Draw(img, bounds.Add(offset), label, bounds.Min, draw.Over)
	}
	return img, nil
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	bounds := src.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, src, bounds.Min, draw.Src)
	return rgba
}
