package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// Compress optimizes the PDF structure and, when a quality is given,
// re-encodes scanned pages as JPEG. The smaller of original and result
// wins; a result with a different page count is rejected.
type Compress struct{}

func NewCompress() *Compress { return &Compress{} }

func (c *Compress) Kind() models.Action { return models.ActionCompress }

// Transform understands "quality" (1-100) and "max_dpi" (downsampling limit
// for re-encoded pages, default 200).
func (c *Compress) Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	before, err := PageCount(doc.Path)
	if err != nil {
		return nil, err
	}
	origSize, err := fileSize(doc.Path)
	if err != nil {
		return nil, err
	}

	optimized := job.TempPath(doc.Name, "optimized")
	if err := api.OptimizeFile(doc.Path, optimized, relaxedConf()); err != nil {
		return nil, fmt.Errorf("failed to optimize PDF: %w", err)
	}
	best, bestSize := doc.Path, origSize
	if size, err := fileSize(optimized); err == nil && size < bestSize {
		best, bestSize = optimized, size
	}

	if q := params.Get("quality", ""); q != "" {
		quality, err := strconv.Atoi(q)
		if err != nil || quality < 1 || quality > 100 {
			return nil, fmt.Errorf("invalid quality %q", q)
		}
		maxDPI, err := strconv.Atoi(params.Get("max_dpi", "200"))
		if err != nil || maxDPI < 36 {
			return nil, fmt.Errorf("invalid max_dpi %q", params.Get("max_dpi", ""))
		}
		reencoded := job.TempPath(doc.Name, "jpeg")
		switch err := reencodeScan(ctx, job.WorkDir, best, reencoded, quality, maxDPI); {
		case err == nil:
			if size, err := fileSize(reencoded); err == nil && size < bestSize {
				best, bestSize = reencoded, size
			}
		case err == errNotScanned:
			job.Logger.Debug("Document is not a pure scan, skipping image re-encoding.")
		default:
			job.Logger.Warn("Image re-encoding failed, keeping optimized result.", "error", err)
		}
	}

	after, err := PageCount(best)
	if err != nil {
		return nil, err
	}
	if after != before {
		return nil, fmt.Errorf("compression changed page count from %d to %d", before, after)
	}
	job.Logger.Info("Document compressed.", "originalBytes", origSize, "compressedBytes", bestSize, "kept", best != doc.Path)
	if best != doc.Path {
		doc.Path = best
	}
	return []*models.Document{doc}, nil
}

var errNotScanned = fmt.Errorf("document has pages without exactly one image")

// reencodeScan rebuilds a scanned PDF (one full-page raster per page) from
// JPEG re-encodings of its images, downsampled to at most maxDPI.
func reencodeScan(ctx context.Context, workDir, in, out string, quality, maxDPI int) error {
	dims, err := api.PageDimsFile(in)
	if err != nil {
		return err
	}
	f, err := os.Open(in)
	if err != nil {
		return err
	}
	defer f.Close()
	pages, err := api.ExtractImagesRaw(f, nil, relaxedConf())
	if err != nil {
		return err
	}
	if len(pages) != len(dims) {
		return errNotScanned
	}

	dir, err := os.MkdirTemp(workDir, "jpeg-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	var parts []string
	for i, imgs := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(imgs) != 1 {
			return errNotScanned
		}
		var data []byte
		for _, img := range imgs {
			if data, err = io.ReadAll(img); err != nil {
				return err
			}
		}
		src, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		src = downsample(src, dims[i], maxDPI)

		jpg := filepath.Join(dir, fmt.Sprintf("page_%03d.jpg", i+1))
		if err := writeJPEG(jpg, src, quality); err != nil {
			return err
		}
		imp, err := api.Import(fmt.Sprintf("dim:%.2f %.2f, pos:full", dims[i].Width, dims[i].Height), types.POINTS)
		if err != nil {
			return err
		}
		part := filepath.Join(dir, fmt.Sprintf("page_%03d.pdf", i+1))
		if err := api.ImportImagesFile([]string{jpg}, part, imp, relaxedConf()); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		parts = append(parts, part)
	}
	return api.MergeCreateFile(parts, out, false, relaxedConf())
}

func downsample(src image.Image, dim types.Dim, maxDPI int) image.Image {
	maxW := int(dim.Width / 72 * float64(maxDPI))
	b := src.Bounds()
	if maxW <= 0 || b.Dx() <= maxW {
		return src
	}
	h := b.Dy() * maxW / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxW, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
