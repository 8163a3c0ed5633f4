// Package fields assembles the export-field context of a document: built-in
// variables, sidecar metadata, recognized text and the hotfolder's field
// mappings.
package fields

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// ZoneReader recognizes the text of one OCR zone. ocr.Session implements it.
type ZoneReader interface {
	Zone(ctx context.Context, zone models.OCRZone, language string) string
}

type Builder struct {
	eval   *expression.Evaluator
	lookup Lookup
	logger *slog.Logger
}

// NewBuilder returns a Builder. lookup may be nil when no sql mappings are
// configured.
func NewBuilder(eval *expression.Evaluator, lookup Lookup, logger *slog.Logger) *Builder {
	return &Builder{eval: eval, lookup: lookup, logger: logger}
}

// Base returns the variables known before any action runs. Sidecar fields
// are exposed as <XML_Name> and, unless they would shadow a built-in
// variable, as <Name>.
func (b *Builder) Base(now time.Time, pair models.DocumentPair, h *models.HotfolderConfig, errorPath string, sidecar *Sidecar) models.Fields {
	f := expression.StandardVariables(now)
	f.Merge(expression.FileVariables(pair.PrimaryPath))
	f.Merge(expression.LevelVariables(pair.PrimaryPath, h.InputPath))
	f["FileName"] = pair.BaseName
	f["InputPath"] = h.InputPath
	f["OutputPath"] = h.OutputPath
	f["ErrorPath"] = errorPath
	f["HotfolderID"] = h.ID
	f["HotfolderName"] = h.Name
	if sidecar != nil {
		for k, v := range sidecar.Values() {
			if _, builtin := f[k]; !builtin {
				f[k] = v
			}
		}
		f.Merge(sidecar.Variables())
	}
	return f
}

// Apply evaluates the hotfolder's field mappings in order against doc's
// fields, storing each result so later mappings can reference it. A mapping
// that fails resolves to its default and is logged; it never fails the
// document.
func (b *Builder) Apply(ctx context.Context, doc *models.Document, h *models.HotfolderConfig, settings config.Settings, zones ZoneReader) {
	for _, m := range h.FieldMappings {
		v, err := b.resolve(ctx, m, doc.Fields, h, settings, zones)
		if err != nil {
			b.logger.Warn("Field mapping failed.", "field", m.FieldName, "source", m.Source, "error", err)
			v = ""
		}
		v = applyPattern(m.Pattern, v)
		if v == "" {
			v = m.Default
		}
		doc.Fields[m.FieldName] = v
	}
}

func (b *Builder) resolve(ctx context.Context, m models.FieldMapping, f models.Fields, h *models.HotfolderConfig, settings config.Settings, zones ZoneReader) (string, error) {
	switch m.Source {
	case models.SourceExpression:
		return b.eval.Evaluate(ctx, m.Expression, f), nil

	case models.SourceOCRZone:
		zone, ok := h.Zone(m.Zone)
		if !ok {
			return "", errUnknownZone(m.Zone)
		}
		text, ok := f[zone.Name]
		if !ok && zones != nil {
			lang := zone.Language
			if lang == "" {
				lang = settings.DefaultLanguage
			}
			text = zones.Zone(ctx, zone, lang)
			f[zone.Name] = text
		}
		if m.Expression == "" {
			return strings.TrimSpace(text), nil
		}
		local := f.Clone()
		local["ZONE"] = strings.TrimSpace(text)
		return b.eval.Evaluate(ctx, m.Expression, local), nil

	case models.SourceSQL:
		db, ok := settings.Databases[m.Database]
		if !ok {
			return "", errUnknownDatabase(m.Database)
		}
		if b.lookup == nil {
			return "", errNoLookup
		}
		query, args := BindQuery(m.Query, f)
		return b.lookup.Lookup(ctx, db.DSN, db.Timeout, query, args...)

	default:
		key := m.Expression
		if key == "" {
			key = m.FieldName
		}
		return f["XML_"+key], nil
	}
}

var queryPlaceholder = regexp.MustCompile(`<([^<>]+)>`)

// BindQuery turns <Field> placeholders into positional $n parameters so
// field values never become part of the SQL text. Repeated fields reuse
// their parameter.
func BindQuery(query string, f models.Fields) (string, []any) {
	var args []any
	index := map[string]int{}
	out := queryPlaceholder.ReplaceAllStringFunc(query, func(m string) string {
		name := m[1 : len(m)-1]
		n, ok := index[name]
		if !ok {
			args = append(args, f[name])
			n = len(args)
			index[name] = n
		}
		return "$" + strconv.Itoa(n)
	})
	return out, args
}

// applyPattern keeps the first capture group, or the whole match when the
// pattern has none. No match yields "".
func applyPattern(pattern, v string) string {
	if pattern == "" {
		return v
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return v
	}
	m := re.FindStringSubmatch(v)
	switch {
	case m == nil:
		return ""
	case len(m) > 1:
		return m[1]
	}
	return m[0]
}
