package models

import (
	"strings"
	"time"
)

// ExportMethod selects the transport used to deliver an export.
type ExportMethod string

const (
	MethodFile  ExportMethod = "file"
	MethodEmail ExportMethod = "email"
	MethodFTP   ExportMethod = "ftp"
	MethodCloud ExportMethod = "cloud"
)

// ParseExportMethod defaults to file.
func ParseExportMethod(s string) (ExportMethod, error) {
	return ParseEnum("exports.method", s, MethodFile, MethodFile, MethodEmail, MethodFTP, MethodCloud)
}

func (m *ExportMethod) UnmarshalText(b []byte) error {
	v, err := ParseExportMethod(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ExportFormat selects what is delivered.
type ExportFormat string

const (
	FormatDocument ExportFormat = "document"
	FormatArchival ExportFormat = "archival"
	FormatMetadata ExportFormat = "metadata"
)

// ParseExportFormat defaults to document.
func ParseExportFormat(s string) (ExportFormat, error) {
	return ParseEnum("exports.format", s, FormatDocument, FormatDocument, FormatArchival, FormatMetadata)
}

func (f *ExportFormat) UnmarshalText(b []byte) error {
	v, err := ParseExportFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// EmailConfig is the email sub-configuration of an export. Address lists are
// comma or semicolon separated and may contain expressions.
type EmailConfig struct {
	Recipient     string `yaml:"recipient" json:"recipient"`
	CC            string `yaml:"cc,omitempty" json:"cc,omitempty"`
	BCC           string `yaml:"bcc,omitempty" json:"bcc,omitempty"`
	Subject       string `yaml:"subject" json:"subject"`
	Body          string `yaml:"body" json:"body"`
	AttachSidecar bool   `yaml:"attach_sidecar,omitempty" json:"attachSidecar,omitempty"`
}

// SplitAddresses splits a recipient list into trimmed, non-empty addresses.
func SplitAddresses(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExportConfig is one export destination attached to a hotfolder.
type ExportConfig struct {
	ID      string       `yaml:"id" json:"id"`
	Name    string       `yaml:"name,omitempty" json:"name,omitempty"`
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Method  ExportMethod `yaml:"method" json:"method"`
	Format  ExportFormat `yaml:"format" json:"format"`
	// Path and Filename are expressions resolved against the field context.
	// For ftp and cloud Path is the remote directory or URL prefix.
	Path     string       `yaml:"path,omitempty" json:"path,omitempty"`
	Filename string       `yaml:"filename,omitempty" json:"filename,omitempty"`
	Params   Params       `yaml:"params,omitempty" json:"params,omitempty"`
	Email    *EmailConfig `yaml:"email,omitempty" json:"email,omitempty"`
	// Condition, when set, must evaluate to "true" for the export to run.
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// Export outcome values.
const (
	ExportSucceeded = "success"
	ExportFailed    = "failed"
	ExportSkipped   = "skipped"
)

// ExportResult is the independently recorded outcome of one destination.
type ExportResult struct {
	ExportID    string        `firestore:"exportId" json:"exportId"`
	Method      ExportMethod  `firestore:"method" json:"method"`
	Destination string        `firestore:"destination,omitempty" json:"destination,omitempty"`
	Status      string        `firestore:"status" json:"status"`
	Attempts    int           `firestore:"attempts" json:"attempts"`
	Error       string        `firestore:"error,omitempty" json:"error,omitempty"`
	Duration    time.Duration `firestore:"duration" json:"duration"`
}

func (r ExportResult) OK() bool { return r.Status != ExportFailed }
