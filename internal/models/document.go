package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Fields is the export-field context: values addressable as <Name> in
// expressions.
type Fields map[string]string

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into f, overwriting existing keys.
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}

// DocumentPair is a primary file plus its optional sidecar metadata file.
type DocumentPair struct {
	PrimaryPath string `json:"primaryPath"`
	SidecarPath string `json:"sidecarPath,omitempty"`
	BaseName    string `json:"baseName"`
}

func (p DocumentPair) HasSidecar() bool { return p.SidecarPath != "" }

// NewDocumentPair derives the base name from the primary path.
func NewDocumentPair(primary, sidecar string) DocumentPair {
	name := filepath.Base(primary)
	return DocumentPair{
		PrimaryPath: primary,
		SidecarPath: sidecar,
		BaseName:    strings.TrimSuffix(name, filepath.Ext(name)),
	}
}

// Document is the working unit passed between action executors. Path points
// at a file inside the run's scratch directory, never at the input folder.
type Document struct {
	Path   string
	Name   string // base name without extension, used for derived outputs
	Fields Fields
	// Pages holds per-page recognized text once recognize_text ran.
	Pages []string
	// Archival is set once the document carries an invisible text layer.
	Archival bool
	// SplitIndex is 1-based for split children, 0 otherwise.
	SplitIndex int
	SplitCount int
}

// Derive creates a child document for a new file, inheriting fields.
func (d *Document) Derive(path string) *Document {
	return &Document{
		Path:       path,
		Name:       d.Name,
		Fields:     d.Fields.Clone(),
		Pages:      append([]string(nil), d.Pages...),
		Archival:   d.Archival,
		SplitIndex: d.SplitIndex,
		SplitCount: d.SplitCount,
	}
}

// Processing status values recorded in the journal.
const (
	StatusReceived   = "RECEIVED"
	StatusProcessing = "PROCESSING"
	StatusExported   = "EXPORTED"
	StatusPartial    = "PARTIAL"
	StatusFailed     = "FAILED"
)

// ProcessingRecord is the journal entry for one document pair run.
type ProcessingRecord struct {
	RunID            string         `firestore:"runId" json:"runId"`
	HotfolderID      string         `firestore:"hotfolderId" json:"hotfolderId"`
	FileHash         string         `firestore:"fileHash,omitempty" json:"fileHash,omitempty"`
	OriginalFilename string         `firestore:"originalFilename,omitempty" json:"originalFilename,omitempty"`
	HasSidecar       bool           `firestore:"hasSidecar" json:"hasSidecar"`
	Status           string         `firestore:"status,omitempty" json:"status"`
	ErrorKind        ErrorKind      `firestore:"errorKind,omitempty" json:"errorKind,omitempty"`
	ErrorDetails     string         `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	PageCount        int            `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	OutputCount      int            `firestore:"outputCount,omitempty" json:"outputCount,omitempty"`
	Exports          []ExportResult `firestore:"exports,omitempty" json:"exports,omitempty"`
	CreatedAt        time.Time      `firestore:"createdAt,omitempty" json:"createdAt"`
	FinishedAt       time.Time      `firestore:"finishedAt,omitempty" json:"finishedAt,omitempty"`
}
