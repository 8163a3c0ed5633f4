package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine implements Engine with a gosseract client per call.
type TesseractEngine struct {
	clientFactory func() *gosseract.Client
}

func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, hint Hint) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	data, err := encodePNG(img)
	if err != nil {
		return Result{}, err
	}
	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(data); err != nil {
		return Result{}, fmt.Errorf("set image: %w", err)
	}
	if hint.Language != "" {
		if err := c.SetLanguage(strings.Split(hint.Language, "+")...); err != nil {
			return Result{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if hint.SingleBlock {
		if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
			return Result{}, fmt.Errorf("set page segmentation: %w", err)
		}
	}
	if hint.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(hint.DPI)); err != nil {
			return Result{}, fmt.Errorf("set dpi: %w", err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return Result{}, fmt.Errorf("recognize text: %w", err)
	}
	return Result{Text: strings.TrimSpace(text), Lines: textLines(c)}, nil
}

// textLines returns line boxes; a failure here only loses positioning.
func textLines(c *gosseract.Client) []Line {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil
	}
	lines := make([]Line, 0, len(boxes))
	for _, b := range boxes {
		t := strings.TrimSpace(b.Word)
		if t == "" {
			continue
		}
		lines = append(lines, Line{Text: t, Box: b.Box})
	}
	return lines
}
