package services

import (
	"context"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/ocr"
	"github.com/pemistahl/lingua-go"
)

// RecognizeText attaches the full recognized text and the configured zone
// texts to the document's fields. The PDF itself is left untouched.
type RecognizeText struct {
	recognizer *ocr.Recognizer
	detector   lingua.LanguageDetector
}

var detectable = []lingua.Language{
	lingua.German, lingua.English, lingua.French, lingua.Italian, lingua.Spanish, lingua.Dutch, lingua.Polish,
}

func NewRecognizeText(recognizer *ocr.Recognizer) *RecognizeText {
	return &RecognizeText{
		recognizer: recognizer,
		detector:   lingua.NewLanguageDetectorBuilder().FromLanguages(detectable...).Build(),
	}
}

func (r *RecognizeText) Kind() models.Action { return models.ActionRecognizeText }

// Transform understands the params "language" and "zones" (a comma
// separated subset of the hotfolder's zone names; all zones by default).
func (r *RecognizeText) Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	lang := job.Language(params)
	zones := selectZones(job.Hotfolder.OCRZones, params.Get("zones", ""))

	pages := make([]int, 0, len(zones))
	for _, z := range zones {
		pages = append(pages, z.Page)
	}
	session := r.recognizer.Open(doc.Path, pages...)

	text, results, err := session.FullText(ctx, lang)
	if err != nil {
		return nil, err
	}
	doc.Pages = make([]string, len(results))
	failed := 0
	for i, p := range results {
		doc.Pages[i] = p.Text
		if p.Err != nil {
			failed++
		}
	}
	doc.Fields["OCRText"] = text
	doc.Fields["OCR_FullText"] = text

	for _, z := range zones {
		v := session.Zone(ctx, z, lang)
		doc.Fields[z.Name] = v
		if !strings.HasPrefix(z.Name, "OCR_") {
			doc.Fields["OCR_"+z.Name] = v
		}
	}

	if l, ok := r.detector.DetectLanguageOf(text); ok {
		doc.Fields["DetectedLanguage"] = strings.ToLower(l.IsoCode639_3().String())
	}
	job.Logger.Info("Text recognized.", "pages", len(results), "failedPages", failed, "zones", len(zones), "engine", r.recognizer.Engine().Name())
	return []*models.Document{doc}, nil
}

func selectZones(all []models.OCRZone, names string) []models.OCRZone {
	if strings.TrimSpace(names) == "" {
		return all
	}
	want := make(map[string]bool)
	for _, n := range strings.Split(names, ",") {
		want[strings.TrimSpace(n)] = true
	}
	var out []models.OCRZone
	for _, z := range all {
		if want[z.Name] {
			out = append(out, z)
		}
	}
	return out
}
