package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Rasterizer renders single pages of a PDF.
type Rasterizer interface {
	PageCount(ctx context.Context, path string) (int, error)
	Render(ctx context.Context, path string, page, dpi int) (image.Image, error)
}

func relaxedConf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func pageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("page count %s: %w", filepath.Base(path), err)
	}
	return n, nil
}

// NewRasterizer picks poppler's pdftoppm when it is installed and the
// embedded-image rasterizer otherwise. mode is auto, poppler or embedded.
func NewRasterizer(mode string) (Rasterizer, error) {
	switch mode {
	case "poppler":
		bin, err := exec.LookPath("pdftoppm")
		if err != nil {
			return nil, fmt.Errorf("pdftoppm not found: %w", err)
		}
		return &PopplerRasterizer{Binary: bin}, nil
	case "embedded":
		return &EmbeddedRasterizer{}, nil
	case "", "auto":
		if bin, err := exec.LookPath("pdftoppm"); err == nil {
			return &PopplerRasterizer{Binary: bin}, nil
		}
		return &EmbeddedRasterizer{}, nil
	}
	return nil, fmt.Errorf("unknown rasterizer %q", mode)
}

// PopplerRasterizer shells out to pdftoppm, which renders vector content and
// fonts as well as scanned images.
type PopplerRasterizer struct {
	Binary string
}

func (r *PopplerRasterizer) PageCount(_ context.Context, path string) (int, error) {
	return pageCount(path)
}

func (r *PopplerRasterizer) Render(ctx context.Context, path string, page, dpi int) (image.Image, error) {
	dir, err := os.MkdirTemp("", "render-*")
	if err != nil {
		return nil, fmt.Errorf("create render dir: %w", err)
	}
	defer os.RemoveAll(dir)

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.Binary,
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(page), "-l", strconv.Itoa(page),
		"-png", "-singlefile", path, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, bytes.TrimSpace(stderr.Bytes()))
	}
	f, err := os.Open(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("open rendered page %d: %w", page, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode rendered page %d: %w", page, err)
	}
	return img, nil
}

// EmbeddedRasterizer reconstructs a page from its largest embedded raster,
// scaled onto the page box at the requested resolution. It suits scanner
// output, where every page is a single full-page image.
type EmbeddedRasterizer struct{}

func (r *EmbeddedRasterizer) PageCount(_ context.Context, path string) (int, error) {
	return pageCount(path)
}

func (r *EmbeddedRasterizer) Render(ctx context.Context, path string, page, dpi int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("page dims: %w", err)
	}
	if page < 1 || page > len(dims) {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, len(dims))
	}
	w := int(dims[page-1].Width * float64(dpi) / 72)
	h := int(dims[page-1].Height * float64(dpi) / 72)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pages, err := api.ExtractImagesRaw(f, []string{strconv.Itoa(page)}, relaxedConf())
	if err != nil {
		return nil, fmt.Errorf("extract images page %d: %w", page, err)
	}

	var best image.Image
	for _, m := range pages {
		for _, raw := range m {
			if raw.PageNr != 0 && raw.PageNr != page {
				continue
			}
			img, _, err := image.Decode(raw)
			if err != nil {
				continue
			}
			if best == nil || area(img.Bounds()) > area(best.Bounds()) {
				best = img
			}
		}
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if best == nil {
		return canvas, nil
	}
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), best, best.Bounds(), draw.Over, nil)
	return canvas, nil
}

func area(r image.Rectangle) int { return r.Dx() * r.Dy() }
