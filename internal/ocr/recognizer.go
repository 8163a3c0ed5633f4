package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Recognizer runs an Engine over rendered pages. All recognition calls share
// one weighted semaphore so CPU-bound work never exceeds the pool size,
// however many hotfolders are busy.
type Recognizer struct {
	engine Engine
	raster Rasterizer
	pool   *semaphore.Weighted
	logger *slog.Logger
}

func NewRecognizer(engine Engine, raster Rasterizer, workers int, logger *slog.Logger) *Recognizer {
	if workers < 1 {
		workers = 1
	}
	return &Recognizer{
		engine: engine,
		raster: raster,
		pool:   semaphore.NewWeighted(int64(workers)),
		logger: logger,
	}
}

func (r *Recognizer) Engine() Engine { return r.engine }

// PageResult is the recognition outcome of one page. Err is set when the
// page could not be rendered or recognized; Text is then empty.
type PageResult struct {
	Page  int
	Text  string
	Lines []Line
	Size  image.Point
	Err   error
}

// PageMarker separates pages in concatenated full text.
func PageMarker(page int) string { return fmt.Sprintf("--- Page %d ---", page) }

// JoinPages concatenates page texts in order with page markers.
func JoinPages(pages []PageResult) string {
	var sb strings.Builder
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(PageMarker(p.Page))
		sb.WriteString("\n")
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Session memoizes rendered pages of one document so that zone extraction
// and full-text recognition render each retained page once.
type Session struct {
	r      *Recognizer
	path   string
	retain map[int]bool
	logger *slog.Logger

	mu    sync.Mutex
	pages map[int]*pageEntry
	count int
}

type pageEntry struct {
	once sync.Once
	img  *image.Gray
	err  error
}

// Open starts a session for path. Pages listed in retain stay cached for
// the session's lifetime; other pages are rendered on demand and dropped.
func (r *Recognizer) Open(path string, retain ...int) *Session {
	s := &Session{
		r:      r,
		path:   path,
		retain: make(map[int]bool, len(retain)),
		logger: r.logger.With("document", path),
		pages:  make(map[int]*pageEntry),
	}
	for _, p := range retain {
		s.retain[p] = true
	}
	return s
}

// PageCount is cached after the first call.
func (s *Session) PageCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		return s.count, nil
	}
	n, err := s.r.raster.PageCount(ctx, s.path)
	if err != nil {
		return 0, err
	}
	s.count = n
	return n, nil
}

// Page renders page n (1-based) as luminance.
func (s *Session) Page(ctx context.Context, n int) (*image.Gray, error) {
	if !s.retain[n] {
		return s.render(ctx, n)
	}
	s.mu.Lock()
	e, ok := s.pages[n]
	if !ok {
		e = &pageEntry{}
		s.pages[n] = e
	}
	s.mu.Unlock()
	e.once.Do(func() { e.img, e.err = s.render(ctx, n) })
	return e.img, e.err
}

func (s *Session) render(ctx context.Context, n int) (*image.Gray, error) {
	if err := s.r.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.r.pool.Release(1)
	img, err := s.r.raster.Render(ctx, s.path, n, RenderDPI)
	if err != nil {
		return nil, err
	}
	return Grayscale(img), nil
}

func (s *Session) recognize(ctx context.Context, img image.Image, hint Hint) (Result, error) {
	if err := s.r.pool.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer s.r.pool.Release(1)
	return s.r.engine.Recognize(ctx, img, hint)
}

// FullText recognizes every page independently and returns the text joined
// in page order. A page that fails yields empty text and is logged; only an
// unreadable document (no page count) is an error.
func (s *Session) FullText(ctx context.Context, language string) (string, []PageResult, error) {
	n, err := s.PageCount(ctx)
	if err != nil {
		return "", nil, models.NewError(models.KindRecognition, "page count", err)
	}
	results := make([]PageResult, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= n; i++ {
		page := i
		g.Go(func() error {
			results[page-1] = s.recognizePage(gctx, page, language)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	return JoinPages(results), results, nil
}

func (s *Session) recognizePage(ctx context.Context, page int, language string) PageResult {
	res := PageResult{Page: page}
	img, err := s.Page(ctx, page)
	if err != nil {
		res.Err = models.NewError(models.KindRecognition, fmt.Sprintf("render page %d", page), err)
		s.logger.Warn("Page could not be rendered.", "page", page, "errorKind", models.KindRecognition, "error", err)
		return res
	}
	res.Size = img.Bounds().Size()
	out, err := s.recognize(ctx, img, Hint{Language: language, DPI: RenderDPI})
	if err != nil {
		res.Err = models.NewError(models.KindRecognition, fmt.Sprintf("recognize page %d", page), err)
		s.logger.Warn("Page could not be recognized.", "page", page, "errorKind", models.KindRecognition, "error", err)
		return res
	}
	res.Text = out.Text
	res.Lines = out.Lines
	return res
}

// Zone recognizes the text inside one zone. Any failure yields "".
func (s *Session) Zone(ctx context.Context, zone models.OCRZone, language string) string {
	logCtx := s.logger.With("zone", zone.Name, "page", zone.Page)
	if zone.Language != "" {
		language = zone.Language
	}
	img, err := s.Page(ctx, zone.Page)
	if err != nil {
		logCtx.Warn("Zone page could not be rendered.", "errorKind", models.KindRecognition, "error", err)
		return ""
	}
	crop, err := Crop(img, zone.Rect)
	if err != nil {
		logCtx.Warn("Zone could not be cropped.", "errorKind", models.KindRecognition, "error", err)
		return ""
	}
	out, err := s.recognize(ctx, crop, Hint{Language: language, SingleBlock: true, DPI: RenderDPI})
	if err != nil {
		logCtx.Warn("Zone could not be recognized.", "errorKind", models.KindRecognition, "error", err)
		return ""
	}
	return strings.TrimSpace(out.Text)
}
