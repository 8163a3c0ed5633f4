package models

// StampPosition is one of nine anchors or a custom coordinate.
type StampPosition string

const (
	PositionTopLeft      StampPosition = "top_left"
	PositionTopCenter    StampPosition = "top_center"
	PositionTopRight     StampPosition = "top_right"
	PositionMiddleLeft   StampPosition = "middle_left"
	PositionCenter       StampPosition = "center"
	PositionMiddleRight  StampPosition = "middle_right"
	PositionBottomLeft   StampPosition = "bottom_left"
	PositionBottomCenter StampPosition = "bottom_center"
	PositionBottomRight  StampPosition = "bottom_right"
	PositionCustom       StampPosition = "custom"
)

func (p *StampPosition) UnmarshalText(b []byte) error {
	v, err := ParseEnum("stamps.position", string(b), PositionTopRight,
		PositionTopLeft, PositionTopCenter, PositionTopRight,
		PositionMiddleLeft, PositionCenter, PositionMiddleRight,
		PositionBottomLeft, PositionBottomCenter, PositionBottomRight, PositionCustom)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type StampOrientation string

const (
	OrientationHorizontal StampOrientation = "horizontal"
	OrientationVertical   StampOrientation = "vertical"
)

func (o *StampOrientation) UnmarshalText(b []byte) error {
	v, err := ParseEnum("stamps.orientation", string(b), OrientationHorizontal,
		OrientationHorizontal, OrientationVertical)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// PagePolicy selects which pages receive a stamp.
type PagePolicy string

const (
	PagesFirst  PagePolicy = "first"
	PagesLast   PagePolicy = "last"
	PagesAll    PagePolicy = "all"
	PagesCustom PagePolicy = "custom"
)

func (p *PagePolicy) UnmarshalText(b []byte) error {
	v, err := ParseEnum("stamps.apply_to_pages", string(b), PagesFirst,
		PagesFirst, PagesLast, PagesAll, PagesCustom)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type TextAlign string

const (
	AlignLeft   TextAlign = "left"
	AlignCenter TextAlign = "center"
	AlignRight  TextAlign = "right"
)

func (a *TextAlign) UnmarshalText(b []byte) error {
	v, err := ParseEnum("stamps.lines.align", string(b), AlignLeft, AlignLeft, AlignCenter, AlignRight)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// StampLine is one line of stamp text; Text is an expression.
type StampLine struct {
	Text  string    `yaml:"text" json:"text"`
	Font  string    `yaml:"font,omitempty" json:"font,omitempty"`
	Size  float64   `yaml:"size,omitempty" json:"size,omitempty"`
	Color string    `yaml:"color,omitempty" json:"color,omitempty"`
	Bold  bool      `yaml:"bold,omitempty" json:"bold,omitempty"`
	Align TextAlign `yaml:"align,omitempty" json:"align,omitempty"`
}

type StampBorder struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Width   float64 `yaml:"width,omitempty" json:"width,omitempty"`
	Color   string  `yaml:"color,omitempty" json:"color,omitempty"`
	Rounded bool    `yaml:"rounded,omitempty" json:"rounded,omitempty"`
}

type StampBackground struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Color   string `yaml:"color,omitempty" json:"color,omitempty"`
}

type StampShadow struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Color   string  `yaml:"color,omitempty" json:"color,omitempty"`
	OffsetX float64 `yaml:"offset_x,omitempty" json:"offsetX,omitempty"`
	OffsetY float64 `yaml:"offset_y,omitempty" json:"offsetY,omitempty"`
}

// StampSpec is a visual decoration overlaid on output pages.
type StampSpec struct {
	ID          string           `yaml:"id" json:"id"`
	Name        string           `yaml:"name,omitempty" json:"name,omitempty"`
	Position    StampPosition    `yaml:"position" json:"position"`
	X           float64          `yaml:"x,omitempty" json:"x,omitempty"`
	Y           float64          `yaml:"y,omitempty" json:"y,omitempty"`
	Margin      float64          `yaml:"margin,omitempty" json:"margin,omitempty"`
	Orientation StampOrientation `yaml:"orientation" json:"orientation"`
	Rotation    float64          `yaml:"rotation,omitempty" json:"rotation,omitempty"`
	Opacity     float64          `yaml:"opacity,omitempty" json:"opacity,omitempty"`
	Border      StampBorder      `yaml:"border,omitempty" json:"border,omitempty"`
	Background  StampBackground  `yaml:"background,omitempty" json:"background,omitempty"`
	Shadow      StampShadow      `yaml:"shadow,omitempty" json:"shadow,omitempty"`
	Lines       []StampLine      `yaml:"lines" json:"lines"`
	Pages       PagePolicy       `yaml:"apply_to_pages" json:"applyToPages"`
	CustomPages []int            `yaml:"custom_pages,omitempty" json:"customPages,omitempty"`
	AutoSize    *bool            `yaml:"auto_size,omitempty" json:"autoSize,omitempty"`
	Width       float64          `yaml:"width,omitempty" json:"width,omitempty"`
	Height      float64          `yaml:"height,omitempty" json:"height,omitempty"`
	Padding     float64          `yaml:"padding,omitempty" json:"padding,omitempty"`
}

// SelectPages resolves the page policy against a page count. Custom pages
// outside the document are dropped.
func (s *StampSpec) SelectPages(pageCount int) []int {
	if pageCount <= 0 {
		return nil
	}
	switch s.Pages {
	case PagesLast:
		return []int{pageCount}
	case PagesAll:
		out := make([]int, pageCount)
		for i := range out {
			out[i] = i + 1
		}
		return out
	case PagesCustom:
		seen := make(map[int]bool)
		var out []int
		for _, p := range s.CustomPages {
			if p >= 1 && p <= pageCount && !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
		return out
	default:
		return []int{1}
	}
}

// IsAutoSize defaults to true when unset.
func (s *StampSpec) IsAutoSize() bool { return s.AutoSize == nil || *s.AutoSize }
