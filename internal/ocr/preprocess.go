package ocr

import (
	"fmt"
	"image"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"golang.org/x/image/draw"
)

// Grayscale converts img to single-channel luminance.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// Crop returns the part of img covered by r, clipped to the image.
func Crop(img *image.Gray, r models.Rect) (*image.Gray, error) {
	b := img.Bounds()
	rect := image.Rect(b.Min.X+r.X, b.Min.Y+r.Y, b.Min.X+r.X+r.Width, b.Min.Y+r.Y+r.Height).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("zone %+v outside page bounds %v", r, b.Size())
	}
	return img.SubImage(rect).(*image.Gray), nil
}

// IsBlank reports whether at most ratio of the pixels are darker than the
// ink threshold.
func IsBlank(img *image.Gray, ratio float64) bool {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return true
	}
	dark := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()]
		for _, v := range row {
			if v < 128 {
				dark++
			}
		}
	}
	return float64(dark)/float64(total) <= ratio
}
