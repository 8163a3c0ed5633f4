package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

func invalid(field, value, reason string) error {
	return &models.ConfigValidationError{Field: field, Value: value, Reason: reason}
}

// Normalize applies documented defaults and validates the snapshot. It
// mutates s and returns the first violation found.
func Normalize(s *Snapshot) error {
	if err := normalizeSettings(&s.Settings); err != nil {
		return err
	}

	stampIDs := make(map[string]bool, len(s.Stamps))
	for i := range s.Stamps {
		st := &s.Stamps[i]
		if err := normalizeStamp(st); err != nil {
			return err
		}
		if stampIDs[st.ID] {
			return invalid("stamps.id", st.ID, "duplicate id")
		}
		stampIDs[st.ID] = true
	}

	ids := make(map[string]bool, len(s.Hotfolders))
	for i := range s.Hotfolders {
		h := &s.Hotfolders[i]
		if err := normalizeHotfolder(h, &s.Settings, stampIDs); err != nil {
			return fmt.Errorf("hotfolder %q: %w", h.ID, err)
		}
		if ids[h.ID] {
			return invalid("hotfolders.id", h.ID, "duplicate id")
		}
		ids[h.ID] = true
	}
	return nil
}

func normalizeSettings(st *Settings) error {
	if st.DefaultLanguage == "" {
		st.DefaultLanguage = DefaultLanguage
	}
	if st.PollInterval == 0 {
		st.PollInterval = DefaultPollInterval
	}
	if st.PollInterval < 0 {
		return invalid("settings.poll_interval", st.PollInterval.String(), "must be positive")
	}
	if st.StablePolls == 0 {
		st.StablePolls = DefaultStablePolls
	}
	if st.StablePolls < 2 {
		return invalid("settings.stable_polls", strconv.Itoa(st.StablePolls), "at least two equal observations are required")
	}
	if st.SidecarWait == 0 {
		st.SidecarWait = DefaultSidecarWait
	}
	if st.QueueSize <= 0 {
		st.QueueSize = DefaultQueueSize
	}
	if st.Retry.Attempts <= 0 {
		st.Retry.Attempts = DefaultRetries
	}
	if st.Retry.Backoff <= 0 {
		st.Retry.Backoff = DefaultRetryBackoff
	}
	if st.SMTP.TLS == "" {
		st.SMTP.TLS = TLSStartTLS
	}
	if st.SMTP.Auth == "" {
		st.SMTP.Auth = AuthPlain
	}
	if st.SMTP.Port == 0 {
		switch st.SMTP.TLS {
		case TLSImplicit:
			st.SMTP.Port = 465
		case TLSNone:
			st.SMTP.Port = 25
		default:
			st.SMTP.Port = 587
		}
	}
	if st.SMTP.Auth == AuthXOAUTH2 && st.SMTP.OAuth2 == nil {
		return invalid("settings.smtp.oauth2", "", "xoauth2 authentication needs an oauth2 block")
	}
	for name, db := range st.Databases {
		if db.DSN == "" {
			return invalid("settings.databases."+name+".dsn", "", "must not be empty")
		}
	}
	return nil
}

func normalizeStamp(st *models.StampSpec) error {
	if st.ID == "" {
		return invalid("stamps.id", "", "must not be empty")
	}
	if st.Position == "" {
		st.Position = models.PositionTopRight
	}
	if st.Orientation == "" {
		st.Orientation = models.OrientationHorizontal
	}
	if st.Pages == "" {
		st.Pages = models.PagesFirst
	}
	if st.Pages == models.PagesCustom && len(st.CustomPages) == 0 {
		return invalid("stamps.custom_pages", st.ID, "custom page policy needs at least one page")
	}
	if len(st.Lines) == 0 {
		return invalid("stamps.lines", st.ID, "a stamp needs at least one line")
	}
	if st.Padding < 0 {
		return invalid("stamps.padding", st.ID, "must not be negative")
	}
	if !st.IsAutoSize() && st.Width <= 0 {
		return invalid("stamps.width", st.ID, "a fixed size stamp needs a width")
	}
	if st.Opacity < 0 || st.Opacity > 1 {
		return invalid("stamps.opacity", strconv.FormatFloat(st.Opacity, 'f', -1, 64), "must be between 0 and 1")
	}
	for i := range st.Lines {
		l := &st.Lines[i]
		if l.Align == "" {
			l.Align = models.AlignLeft
		}
		if l.Size == 0 {
			l.Size = 12
		}
		if l.Font == "" {
			l.Font = "Helvetica"
		}
		if l.Color == "" {
			l.Color = "#000000"
		}
	}
	return nil
}

func normalizeHotfolder(h *models.HotfolderConfig, st *Settings, stamps map[string]bool) error {
	if strings.TrimSpace(h.ID) == "" {
		return invalid("hotfolders.id", "", "must not be empty")
	}
	if strings.TrimSpace(h.Name) == "" {
		h.Name = h.ID
	}
	if h.InputPath == "" {
		return invalid("input_path", "", "must not be empty")
	}
	if h.OutputPath == "" {
		return invalid("output_path", "", "must not be empty")
	}
	// Sub-folders of the input folder are not watched, so only the folder
	// itself is off limits.
	for _, p := range []struct{ field, path string }{
		{"output_path", h.OutputPath},
		{"error_path", h.ErrorPath},
		{"processed_path", h.ProcessedPath},
	} {
		if p.path != "" && filepath.Clean(p.path) == filepath.Clean(h.InputPath) {
			return invalid(p.field, p.path, "must differ from input_path")
		}
	}
	if len(h.FilePatterns) == 0 {
		h.FilePatterns = []string{"*.pdf"}
	}
	for _, p := range h.FilePatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return invalid("file_patterns", p, err.Error())
		}
	}
	if h.SidecarExtension == "" {
		h.SidecarExtension = DefaultSidecarExt
	}
	if !strings.HasPrefix(h.SidecarExtension, ".") {
		h.SidecarExtension = "." + h.SidecarExtension
	}
	if h.OutputFilename == "" {
		h.OutputFilename = DefaultFilename
	}
	if h.PollInterval <= 0 {
		h.PollInterval = st.PollInterval
	}
	if h.StablePolls == 0 {
		h.StablePolls = st.StablePolls
	}
	if h.StablePolls < 2 {
		return invalid("stable_polls", strconv.Itoa(h.StablePolls), "at least two equal observations are required")
	}
	if h.SidecarWait <= 0 {
		h.SidecarWait = st.SidecarWait
	}

	if err := validateActions(h, stamps); err != nil {
		return err
	}

	zones := make(map[string]bool, len(h.OCRZones))
	for _, z := range h.OCRZones {
		if z.Name == "" {
			return invalid("ocr_zones.name", "", "must not be empty")
		}
		if zones[z.Name] {
			return invalid("ocr_zones.name", z.Name, "duplicate zone")
		}
		zones[z.Name] = true
		if z.Page < 1 {
			return invalid("ocr_zones.page", strconv.Itoa(z.Page), "pages are numbered from 1")
		}
		if z.Rect.Empty() || z.X < 0 || z.Y < 0 {
			return invalid("ocr_zones."+z.Name, fmt.Sprintf("%+v", z.Rect), "rectangle must have a non-negative origin and positive size")
		}
	}

	for i := range h.FieldMappings {
		m := &h.FieldMappings[i]
		if m.FieldName == "" {
			return invalid("xml_field_mappings.field_name", "", "must not be empty")
		}
		if m.Source == "" {
			m.Source = models.SourceSidecar
		}
		switch m.Source {
		case models.SourceExpression:
			if m.Expression == "" {
				return invalid("xml_field_mappings."+m.FieldName, "", "expression source needs an expression")
			}
		case models.SourceOCRZone:
			if !zones[m.Zone] {
				return invalid("xml_field_mappings."+m.FieldName, m.Zone, "unknown ocr zone")
			}
		case models.SourceSQL:
			if _, ok := st.Databases[m.Database]; !ok {
				return invalid("xml_field_mappings."+m.FieldName, m.Database, "unknown database")
			}
			if m.Query == "" {
				return invalid("xml_field_mappings."+m.FieldName, "", "sql source needs a query")
			}
		}
		if m.Pattern != "" {
			if _, err := regexp.Compile(m.Pattern); err != nil {
				return invalid("xml_field_mappings."+m.FieldName+".pattern", m.Pattern, err.Error())
			}
		}
	}

	exportIDs := make(map[string]bool, len(h.Exports))
	for i := range h.Exports {
		e := &h.Exports[i]
		if err := normalizeExport(e, h, st); err != nil {
			return err
		}
		if exportIDs[e.ID] {
			return invalid("exports.id", e.ID, "duplicate id")
		}
		exportIDs[e.ID] = true
	}
	return nil
}

// validateActions enforces that a kind appears at most once unless every
// occurrence carries a distinct instance name.
func validateActions(h *models.HotfolderConfig, stamps map[string]bool) error {
	byKind := make(map[models.Action][]models.ActionStep)
	keys := make(map[string]bool)
	for _, s := range h.Actions {
		byKind[s.Kind] = append(byKind[s.Kind], s)
		if keys[s.Key()] {
			return invalid("actions", s.Key(), "duplicate action step")
		}
		keys[s.Key()] = true
	}
	for kind, steps := range byKind {
		if len(steps) < 2 {
			continue
		}
		for _, s := range steps {
			if s.Instance == "" {
				return invalid("actions", string(kind), "repeated action kinds need an instance name on every occurrence (kind:name)")
			}
		}
	}
	for key := range h.ActionParams {
		if _, err := models.ParseActionStep(key); err != nil {
			return err
		}
		if !keys[key] {
			return invalid("action_params", key, "parameters for an action that is not listed")
		}
	}

	for _, s := range h.Actions {
		p := h.ParamsFor(s)
		switch s.Kind {
		case models.ActionSplit:
			if _, err := models.ParseSplitRule(p.Get("rule", "")); err != nil {
				return err
			}
		case models.ActionCompress:
			if q := p.Get("quality", ""); q != "" {
				n, err := strconv.Atoi(q)
				if err != nil || n < 1 || n > 100 {
					return invalid("action_params."+s.Key()+".quality", q, "must be an integer between 1 and 100")
				}
			}
		case models.ActionStamp:
			ids := h.Stamps
			if v := p.Get("stamps", ""); v != "" {
				ids = strings.Split(v, ",")
			}
			if len(ids) == 0 {
				return invalid("stamps", s.Key(), "stamp action without stamps")
			}
			for _, id := range ids {
				if !stamps[strings.TrimSpace(id)] {
					return invalid("stamps", id, "unknown stamp")
				}
			}
		}
	}
	for _, id := range h.Stamps {
		if !stamps[id] {
			return invalid("stamps", id, "unknown stamp")
		}
	}
	return nil
}

// normalizeExport defaults file exports to the hotfolder's output path and
// output filename expression.
func normalizeExport(e *models.ExportConfig, h *models.HotfolderConfig, st *Settings) error {
	if e.ID == "" {
		return invalid("exports.id", "", "must not be empty")
	}
	if e.Method == "" {
		e.Method = models.MethodFile
	}
	if e.Format == "" {
		e.Format = models.FormatDocument
	}
	if e.Filename == "" {
		e.Filename = h.OutputFilename
	}
	switch e.Method {
	case models.MethodFile:
		if e.Path == "" {
			e.Path = h.OutputPath
		}
	case models.MethodEmail:
		if e.Email == nil || strings.TrimSpace(e.Email.Recipient) == "" {
			return invalid("exports."+e.ID+".email", "", "email export needs a recipient")
		}
		if st.SMTP.Host == "" || st.SMTP.From == "" {
			return invalid("settings.smtp", "", "email exports need smtp host and from")
		}
	case models.MethodFTP:
		if e.Params.Get("host", "") == "" {
			return invalid("exports."+e.ID+".params.host", "", "ftp export needs a host")
		}
	case models.MethodCloud:
		if !strings.HasPrefix(e.Path, "gs://") && !strings.HasPrefix(e.Path, "s3://") {
			return invalid("exports."+e.ID+".path", e.Path, "cloud export path must start with gs:// or s3://")
		}
	}
	if e.Format == models.FormatMetadata {
		switch f := e.Params.Get("metadata_format", "json"); f {
		case "json", "xml", "csv":
		default:
			return invalid("exports."+e.ID+".params.metadata_format", f, "unknown value")
		}
	}
	return nil
}
