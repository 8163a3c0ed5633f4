package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/ocr"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Split partitions a document into page ranges according to the "rule"
// param. Outputs keep the original page order and are named
// <base>_001.pdf, <base>_002.pdf, ...
type Split struct {
	recognizer *ocr.Recognizer
}

func NewSplit(recognizer *ocr.Recognizer) *Split {
	return &Split{recognizer: recognizer}
}

func (s *Split) Kind() models.Action { return models.ActionSplit }

// pageRange is an inclusive 1-based page range.
type pageRange struct{ from, to int }

func (r pageRange) selection() string {
	if r.from == r.to {
		return strconv.Itoa(r.from)
	}
	return fmt.Sprintf("%d-%d", r.from, r.to)
}

func (s *Split) Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	rule, err := models.ParseSplitRule(params.Get("rule", ""))
	if err != nil {
		return nil, err
	}
	n, err := PageCount(doc.Path)
	if err != nil {
		return nil, err
	}

	var ranges []pageRange
	switch rule.Mode {
	case models.SplitSeparator:
		texts, err := s.pageTexts(ctx, job, doc, params, n)
		if err != nil {
			return nil, err
		}
		marker := strings.ToLower(rule.Marker)
		ranges = separate(n, func(p int) bool { return strings.Contains(strings.ToLower(texts[p-1]), marker) })
	case models.SplitBlank:
		ratio, err := strconv.ParseFloat(params.Get("blank_ratio", "0.005"), 64)
		if err != nil || ratio < 0 || ratio >= 1 {
			return nil, fmt.Errorf("invalid blank_ratio %q", params.Get("blank_ratio", ""))
		}
		session := s.recognizer.Open(doc.Path)
		ranges = separate(n, func(p int) bool {
			img, err := session.Page(ctx, p)
			if err != nil {
				job.Logger.Warn("Page could not be rendered for blank detection, keeping it.", "page", p, "error", err)
				return false
			}
			return ocr.IsBlank(img, ratio)
		})
	default:
		ranges = chunk(n, rule.Pages)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("split rule %s left no pages", params.Get("rule", string(models.SplitPerPage)))
	}

	dir := filepath.Join(job.WorkDir, "split-"+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	out := make([]*models.Document, 0, len(ranges))
	for i, r := range ranges {
		name := fmt.Sprintf("%s_%03d", doc.Name, i+1)
		path := filepath.Join(dir, name+".pdf")
		if err := api.CollectFile(doc.Path, path, []string{r.selection()}, relaxedConf()); err != nil {
			return nil, fmt.Errorf("failed to extract pages %s: %w", r.selection(), err)
		}
		child := doc.Derive(path)
		child.SplitIndex = i + 1
		child.SplitCount = len(ranges)
		if len(doc.Pages) == n {
			child.Pages = append([]string(nil), doc.Pages[r.from-1:r.to]...)
		} else {
			child.Pages = nil
		}
		child.Fields["SplitIndex"] = strconv.Itoa(i + 1)
		child.Fields["SplitCount"] = strconv.Itoa(len(ranges))
		child.Fields["SplitName"] = name
		child.Fields["SplitPages"] = r.selection()
		out = append(out, child)
	}
	job.Logger.Info("Document split.", "rule", params.Get("rule", string(models.SplitPerPage)), "pages", n, "outputs", len(out))
	return out, nil
}

// pageTexts reuses text from an earlier recognize_text step when it covers
// every page.
func (s *Split) pageTexts(ctx context.Context, job *Job, doc *models.Document, params models.Params, n int) ([]string, error) {
	if len(doc.Pages) == n {
		return doc.Pages, nil
	}
	_, results, err := s.recognizer.Open(doc.Path).FullText(ctx, job.Language(params))
	if err != nil {
		return nil, err
	}
	texts := make([]string, n)
	for _, r := range results {
		if r.Page >= 1 && r.Page <= n {
			texts[r.Page-1] = r.Text
		}
	}
	return texts, nil
}

// chunk groups n pages into ranges of size pages each.
func chunk(n, size int) []pageRange {
	if size < 1 {
		size = 1
	}
	var out []pageRange
	for from := 1; from <= n; from += size {
		out = append(out, pageRange{from, min(from+size-1, n)})
	}
	return out
}

// separate cuts the document at every page for which isSeparator is true.
// Separator pages are dropped and empty ranges are skipped.
func separate(n int, isSeparator func(page int) bool) []pageRange {
	var out []pageRange
	start := 1
	for p := 1; p <= n; p++ {
		if !isSeparator(p) {
			continue
		}
		if p > start {
			out = append(out, pageRange{start, p - 1})
		}
		start = p + 1
	}
	if start <= n {
		out = append(out, pageRange{start, n})
	}
	return out
}
