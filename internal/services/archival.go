package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/ocr"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ConvertToArchival produces a searchable copy: every recognized line is
// placed as invisible text over the region it was read from, and the
// document is tagged with archival properties.
type ConvertToArchival struct {
	recognizer *ocr.Recognizer
	now        func() time.Time
}

func NewConvertToArchival(recognizer *ocr.Recognizer) *ConvertToArchival {
	return &ConvertToArchival{recognizer: recognizer, now: time.Now}
}

func (c *ConvertToArchival) Kind() models.Action { return models.ActionArchival }

func (c *ConvertToArchival) Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	out, err := c.Convert(ctx, job, doc, job.Language(params))
	if err != nil {
		return nil, err
	}
	doc.Path = out
	doc.Archival = true
	return []*models.Document{doc}, nil
}

// Convert writes an archival version of doc to a new file and returns its
// path. doc is not modified, so export formats can reuse it.
func (c *ConvertToArchival) Convert(ctx context.Context, job *Job, doc *models.Document, lang string) (string, error) {
	dims, err := api.PageDimsFile(doc.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read page dimensions: %w", err)
	}
	_, pages, err := c.recognizer.Open(doc.Path).FullText(ctx, lang)
	if err != nil {
		return "", err
	}

	layers := make(map[int][]*model.Watermark)
	placed := 0
	for _, p := range pages {
		if p.Err != nil || p.Page > len(dims) {
			continue
		}
		wms, err := textLayer(p, dims[p.Page-1])
		if err != nil {
			return "", fmt.Errorf("page %d: %w", p.Page, err)
		}
		if len(wms) > 0 {
			layers[p.Page] = wms
			placed += len(wms)
		}
	}

	layered := doc.Path
	if len(layers) > 0 {
		layered = job.TempPath(doc.Name, "textlayer")
		if err := api.AddWatermarksSliceMapFile(doc.Path, layered, layers, relaxedConf()); err != nil {
			return "", fmt.Errorf("failed to add text layer: %w", err)
		}
	}

	out := job.TempPath(doc.Name, "archival")
	props := map[string]string{
		"Conformance":   "searchable",
		"TextEngine":    c.recognizer.Engine().Name(),
		"TextLanguage":  lang,
		"ConvertedDate": c.now().UTC().Format(time.RFC3339),
	}
	if err := api.AddPropertiesFile(layered, out, props, relaxedConf()); err != nil {
		return "", fmt.Errorf("failed to set archival properties: %w", err)
	}
	job.Logger.Info("Archival version created.", "pages", len(pages), "textLines", placed)
	return out, nil
}

// textLayer turns the recognized lines of one page into invisible text
// stamps. Engines without line boxes get the page text as one block in the
// top left corner so the text stays searchable.
func textLayer(p ocr.PageResult, dim types.Dim) ([]*model.Watermark, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, nil
	}
	scale := pointsPerPixel(ocr.RenderDPI)
	if p.Size.X > 0 {
		// Rasterizers may deliver a size that differs slightly from 300 DPI.
		scale = dim.Width / float64(p.Size.X)
	}

	if len(p.Lines) == 0 {
		wm, err := invisibleText(p.Text, 10, "tl", 10, -10)
		if err != nil {
			return nil, err
		}
		return []*model.Watermark{wm}, nil
	}

	var out []*model.Watermark
	for _, l := range p.Lines {
		text := strings.TrimSpace(l.Text)
		if text == "" || l.Box.Empty() {
			continue
		}
		height := float64(l.Box.Dy()) * scale
		size := int(math.Max(4, math.Round(height*0.85)))
		x := float64(l.Box.Min.X) * scale
		y := dim.Height - float64(l.Box.Max.Y)*scale
		wm, err := invisibleText(text, size, "bl", x, y)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	return out, nil
}

func invisibleText(text string, size int, pos string, x, y float64) (*model.Watermark, error) {
	desc := fmt.Sprintf("font:Helvetica, points:%d, pos:%s, off:%.2f %.2f, sc:1 abs, rot:0, opacity:0, aligntext:l", size, pos, x, y)
	return api.TextWatermark(text, desc, true, false, types.POINTS)
}
