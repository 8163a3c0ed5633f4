// Package ocr renders document pages and turns page images, or rectangular
// zones of them, into text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
)

// RenderDPI is the resolution pages are rendered at before recognition.
// Zone rectangles are expressed in pixels at this resolution.
const RenderDPI = 300

// Hint tunes a single recognition call.
type Hint struct {
	Language string
	// SingleBlock biases the engine towards one block of text, which is
	// more accurate for short structured fields.
	SingleBlock bool
	DPI         int
}

// Line is one recognized text line with its box in image pixels.
type Line struct {
	Text string
	Box  image.Rectangle
}

type Result struct {
	Text  string
	Lines []Line
}

// Engine converts an image to text.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, hint Hint) (Result, error)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
