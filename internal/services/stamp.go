package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	pdfcolor "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/color"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	defaultStampFont = "Helvetica"
	defaultStampSize = 12
	lineHeight       = 1.2
	lineGap          = 0.3
	cornerRadius     = 6
	// frameDensity is the number of frame image pixels per point.
	frameDensity = 2
)

// Stamp overlays the hotfolder's stamps. Stamp lines are expressions
// resolved against the document's fields.
type Stamp struct {
	eval *expression.Evaluator
}

func NewStamp(eval *expression.Evaluator) *Stamp { return &Stamp{eval: eval} }

func (s *Stamp) Kind() models.Action { return models.ActionStamp }

// Transform stamps the ids listed in the "stamps" param, or the hotfolder's
// stamp list when the param is absent.
func (s *Stamp) Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	ids := job.Hotfolder.Stamps
	if p := params.Get("stamps", ""); p != "" {
		ids = nil
		for _, id := range strings.Split(p, ",") {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	if len(ids) == 0 {
		job.Logger.Debug("No stamps configured.")
		return []*models.Document{doc}, nil
	}
	dims, err := api.PageDimsFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page sizes: %w", err)
	}

	layers := make(map[int][]*model.Watermark)
	for _, id := range ids {
		spec, ok := job.Snapshot.Stamp(id)
		if !ok {
			return nil, fmt.Errorf("unknown stamp %q", id)
		}
		box := layoutStamp(spec, s.render(ctx, spec, doc.Fields))
		if box.blank() {
			job.Logger.Debug("Stamp resolved to empty text, skipping.", "stamp", id)
			continue
		}
		// Watermarks are built per page: pdfcpu consumes image readers.
		for _, p := range spec.SelectPages(len(dims)) {
			wms, err := box.watermarks(dims[p-1])
			if err != nil {
				return nil, fmt.Errorf("stamp %s: %w", id, err)
			}
			layers[p] = append(layers[p], wms...)
		}
	}
	if len(layers) == 0 {
		return []*models.Document{doc}, nil
	}

	out := job.TempPath(doc.Name, "stamped")
	if err := api.AddWatermarksSliceMapFile(doc.Path, out, layers, relaxedConf()); err != nil {
		return nil, fmt.Errorf("failed to apply stamps: %w", err)
	}
	job.Logger.Info("Stamps applied.", "stamps", len(ids), "pages", len(layers))
	doc.Path = out
	return []*models.Document{doc}, nil
}

// render evaluates every line. A value containing newlines becomes several
// lines sharing the style of the line it came from.
func (s *Stamp) render(ctx context.Context, spec *models.StampSpec, fields models.Fields) []stampText {
	var out []stampText
	for _, l := range spec.Lines {
		text := s.eval.Evaluate(ctx, l.Text, fields)
		for _, part := range strings.Split(text, "\n") {
			out = append(out, styledLine(l, strings.TrimRight(part, "\r")))
		}
	}
	return out
}

// stampText is one rendered line. cx and cy locate its centre relative to
// the centre of the stamp box, before rotation.
type stampText struct {
	text   string
	font   string
	size   int
	color  string
	align  models.TextAlign
	width  float64
	cx, cy float64
}

func styledLine(l models.StampLine, text string) stampText {
	name := l.Font
	if name == "" {
		name = defaultStampFont
	}
	if l.Bold {
		name = boldFont(name)
	}
	if !font.SupportedFont(name) {
		name = defaultStampFont
		if l.Bold {
			name = boldFont(name)
		}
	}
	size := int(math.Round(l.Size))
	if size <= 0 {
		size = defaultStampSize
	}
	c := l.Color
	if c == "" {
		c = "#000000"
	}
	return stampText{text: text, font: name, size: size, color: c, align: l.Align}
}

func boldFont(name string) string {
	switch {
	case strings.Contains(name, "Bold"):
		return name
	case name == "Times-Roman":
		return "Times-Bold"
	case strings.HasSuffix(name, "-Italic"):
		return strings.TrimSuffix(name, "-Italic") + "-BoldItalic"
	case strings.HasSuffix(name, "-Oblique"):
		return strings.TrimSuffix(name, "-Oblique") + "-BoldOblique"
	}
	return name + "-Bold"
}

// stampBox is a stamp laid out in points.
type stampBox struct {
	spec          *models.StampSpec
	width, height float64
	lines         []stampText
}

// layoutStamp sizes the box and stacks the lines from its top edge. Auto
// sized boxes wrap the widest line plus padding. Fixed boxes use Width and
// Height, shrinking lines that would overflow the padded width.
func layoutStamp(spec *models.StampSpec, lines []stampText) *stampBox {
	pad := max(spec.Padding, 0)
	b := &stampBox{spec: spec, lines: lines}

	var widest float64
	for i := range lines {
		lines[i].width = font.TextWidth(lines[i].text, lines[i].font, lines[i].size)
		widest = max(widest, lines[i].width)
	}
	b.width = widest + 2*pad
	fixed := !spec.IsAutoSize()
	if fixed && spec.Width > 0 {
		b.width = spec.Width
		inner := b.width - 2*pad
		for i := range lines {
			l := &lines[i]
			if l.text == "" || l.width <= inner || inner <= 0 {
				continue
			}
			l.size = max(font.Size(l.text, l.font, inner), 1)
			l.width = font.TextWidth(l.text, l.font, l.size)
		}
	}

	var content float64
	for i, l := range lines {
		content += float64(l.size) * lineHeight
		if i < len(lines)-1 {
			content += float64(l.size) * lineGap
		}
	}
	b.height = content + 2*pad
	if fixed && spec.Height > 0 {
		b.height = spec.Height
	}

	top := b.height/2 - pad
	for i := range lines {
		l := &lines[i]
		slot := float64(l.size) * lineHeight
		l.cy = top - slot/2
		top -= slot + float64(l.size)*lineGap
		switch l.align {
		case models.AlignCenter:
			l.cx = 0
		case models.AlignRight:
			l.cx = b.width/2 - pad - l.width/2
		default:
			l.cx = -b.width/2 + pad + l.width/2
		}
	}
	return b
}

func (b *stampBox) blank() bool {
	for _, l := range b.lines {
		if strings.TrimSpace(l.text) != "" {
			return false
		}
	}
	return true
}

// center returns the box centre relative to the page centre, y pointing up.
// Custom positions are the box's top left corner measured from the page's
// top left corner; anchored positions keep Margin points from the edges.
func (b *stampBox) center(page types.Dim) (float64, float64) {
	spec := b.spec
	hw, hh := page.Width/2, page.Height/2
	if spec.Position == models.PositionCustom {
		return -hw + spec.X + b.width/2, hh - spec.Y - b.height/2
	}
	pos := string(spec.Position)
	var x, y float64
	switch {
	case strings.HasSuffix(pos, "_left"):
		x = -hw + spec.Margin + b.width/2
	case strings.HasSuffix(pos, "_right"):
		x = hw - spec.Margin - b.width/2
	}
	switch {
	case strings.HasPrefix(pos, "top_"):
		y = hh - spec.Margin - b.height/2
	case strings.HasPrefix(pos, "bottom_"):
		y = -hh + spec.Margin + b.height/2
	}
	return x, y
}

func (b *stampBox) rotation() float64 {
	if b.spec.Orientation == models.OrientationVertical && b.spec.Rotation == 0 {
		return 90
	}
	return b.spec.Rotation
}

func (b *stampBox) opacity() float64 {
	if o := b.spec.Opacity; o > 0 && o <= 1 {
		return o
	}
	return 1
}

// watermarks places the box on a page: shadow, then background and border,
// then one text stamp per line, all rotated about the box centre.
func (b *stampBox) watermarks(page types.Dim) ([]*model.Watermark, error) {
	spec := b.spec
	cx, cy := b.center(page)
	rot := b.rotation()
	var out []*model.Watermark

	if spec.Shadow.Enabled {
		dx, dy := spec.Shadow.OffsetX, -spec.Shadow.OffsetY
		if dx == 0 && dy == 0 {
			dx, dy = 2, -2
		}
		shadow := spec.Shadow.Color
		if shadow == "" {
			shadow = "#808080"
		}
		fill, err := rgba(shadow)
		if err != nil {
			return nil, fmt.Errorf("shadow color: %w", err)
		}
		wm, err := b.frame(fill, color.NRGBA{}, 0, cx+dx, cy+dy, rot)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}

	if spec.Background.Enabled || spec.Border.Enabled {
		var fill, stroke color.NRGBA
		var strokeWidth float64
		if spec.Background.Enabled && spec.Background.Color != "" {
			c, err := rgba(spec.Background.Color)
			if err != nil {
				return nil, fmt.Errorf("background color: %w", err)
			}
			fill = c
		}
		if spec.Border.Enabled {
			bc := spec.Border.Color
			if bc == "" {
				bc = "#000000"
			}
			c, err := rgba(bc)
			if err != nil {
				return nil, fmt.Errorf("border color: %w", err)
			}
			stroke, strokeWidth = c, max(spec.Border.Width, 1)
		}
		wm, err := b.frame(fill, stroke, strokeWidth, cx, cy, rot)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}

	sin, cos := math.Sincos(rot * math.Pi / 180)
	for _, l := range b.lines {
		if strings.TrimSpace(l.text) == "" {
			continue
		}
		x := cx + l.cx*cos - l.cy*sin
		y := cy + l.cx*sin + l.cy*cos
		wm, err := api.TextWatermark(l.text, b.lineDescription(l, x, y, rot), true, false, types.POINTS)
		if err != nil {
			return nil, err
		}
		out = append(out, wm)
	}
	return out, nil
}

// lineDescription is the pdfcpu description of one line centred at (x, y)
// relative to the page centre.
func (b *stampBox) lineDescription(l stampText, x, y, rot float64) string {
	return strings.Join([]string{
		"font:" + l.font,
		"points:" + strconv.Itoa(l.size),
		"pos:c",
		fmt.Sprintf("off:%.2f %.2f", x, y),
		"sc:1 abs",
		fmt.Sprintf("rot:%.0f", rot),
		"fillcolor:" + l.color,
		fmt.Sprintf("opacity:%.2f", b.opacity()),
	}, ", ")
}

// frame renders the box outline as an image watermark centred at (x, y).
func (b *stampBox) frame(fill, stroke color.NRGBA, strokeWidth, x, y, rot float64) (*model.Watermark, error) {
	img := drawFrame(b.width, b.height, fill, stroke, strokeWidth, b.spec.Border.Rounded)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode stamp frame: %w", err)
	}
	desc := fmt.Sprintf("pos:c, off:%.2f %.2f, sc:%.2f abs, rot:%.0f, opacity:%.2f", x, y, 1.0/frameDensity, rot, b.opacity())
	return api.ImageWatermarkForReader(&buf, desc, true, false, types.POINTS)
}

// drawFrame paints a w by h point box: a stroke band of strokeWidth points
// along the edge and fill inside it.
func drawFrame(w, h float64, fill, stroke color.NRGBA, strokeWidth float64, rounded bool) *image.NRGBA {
	pw := max(int(math.Ceil(w*frameDensity)), 1)
	ph := max(int(math.Ceil(h*frameDensity)), 1)
	img := image.NewNRGBA(image.Rect(0, 0, pw, ph))
	var r float64
	if rounded {
		r = min(cornerRadius*frameDensity, float64(min(pw, ph))/2)
	}
	band := strokeWidth * frameDensity
	for py := 0; py < ph; py++ {
		for px := 0; px < pw; px++ {
			d := edgeDistance(float64(px)+0.5, float64(py)+0.5, float64(pw), float64(ph), r)
			switch {
			case d < 0:
			case d < band:
				img.SetNRGBA(px, py, stroke)
			default:
				img.SetNRGBA(px, py, fill)
			}
		}
	}
	return img
}

// edgeDistance is the distance from (x, y) to the edge of a w by h
// rectangle with corner radius r, negative outside it.
func edgeDistance(x, y, w, h, r float64) float64 {
	if r > 0 {
		cx := min(max(x, r), w-r)
		cy := min(max(y, r), h-r)
		if cx != x && cy != y {
			return r - math.Hypot(x-cx, y-cy)
		}
	}
	return min(x, y, w-x, h-y)
}

func rgba(s string) (color.NRGBA, error) {
	c, err := pdfcolor.ParseColor(s)
	if err != nil {
		return color.NRGBA{}, err
	}
	return color.NRGBA{
		R: uint8(math.Round(float64(c.R) * 255)),
		G: uint8(math.Round(float64(c.G) * 255)),
		B: uint8(math.Round(float64(c.B) * 255)),
		A: 255,
	}, nil
}
