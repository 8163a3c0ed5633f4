package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/Lllllllleong/hotfolderflow/internal/fields"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
	"github.com/google/uuid"
)

// render produces the file delivered for cfg.Format and returns its path,
// extension and content type.
func (r *Router) render(ctx context.Context, job *services.Job, doc *models.Document, f models.Fields, cfg *models.ExportConfig) (path, ext, contentType string, err error) {
	switch cfg.Format {
	case models.FormatDocument, "":
		return doc.Path, ".pdf", "application/pdf", nil
	case models.FormatArchival:
		if doc.Archival {
			return doc.Path, ".pdf", "application/pdf", nil
		}
		if r.archival == nil {
			return "", "", "", permanent{fmt.Errorf("archival format is not available")}
		}
		lang := job.Language(cfg.Params)
		out, err := job.Rendered("archival|"+lang+"|"+doc.Path, func() (string, error) {
			return r.archival.Convert(ctx, job, doc, lang)
		})
		if err != nil {
			return "", "", "", err
		}
		return out, ".pdf", "application/pdf", nil
	case models.FormatMetadata:
		format := cfg.Params.Get("metadata_format", "json")
		data, contentType, err := Metadata(f, format)
		if err != nil {
			return "", "", "", permanent{err}
		}
		out := filepath.Join(job.WorkDir, fmt.Sprintf("%s.metadata.%s.%s", doc.Name, uuid.NewString()[:8], format))
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return "", "", "", fmt.Errorf("write metadata: %w", err)
		}
		return out, "." + format, contentType, nil
	}
	return "", "", "", permanent{fmt.Errorf("unknown format %q", cfg.Format)}
}

var xmlName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Metadata serializes the field context as json, xml or csv. Keys are
// emitted in sorted order.
func Metadata(f models.Fields, format string) ([]byte, string, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch format {
	case "json":
		data, err := json.MarshalIndent(f, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode json metadata: %w", err)
		}
		return append(data, '\n'), "application/json", nil
	case "xml":
		sc, err := fields.ParseSidecar([]byte("<Document/>"))
		if err != nil {
			return nil, "", err
		}
		for _, k := range keys {
			if xmlName.MatchString(k) {
				sc.Set(k, f[k])
			}
		}
		data, err := sc.Bytes()
		if err != nil {
			return nil, "", err
		}
		return data, "application/xml", nil
	case "csv":
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		values := make([]string, len(keys))
		for i, k := range keys {
			values[i] = f[k]
		}
		if err := w.WriteAll([][]string{keys, values}); err != nil {
			return nil, "", fmt.Errorf("encode csv metadata: %w", err)
		}
		return buf.Bytes(), "text/csv", nil
	}
	return nil, "", fmt.Errorf("unknown metadata format %q", format)
}
