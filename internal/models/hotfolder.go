package models

import (
	"fmt"
	"strings"
	"time"
)

// Action is the closed set of pipeline action kinds.
type Action string

const (
	ActionRecognizeText Action = "recognize_text"
	ActionCompress      Action = "compress"
	ActionArchival      Action = "convert_to_archival"
	ActionSplit         Action = "split"
	ActionStamp         Action = "stamp"
)

var allActions = []Action{ActionRecognizeText, ActionCompress, ActionArchival, ActionSplit, ActionStamp}

// ParseAction has no default: an action must be named.
func ParseAction(s string) (Action, error) {
	return ParseEnum("action", s, "", allActions...)
}

func (a *Action) UnmarshalText(b []byte) error {
	v, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// ActionStep is one entry of a hotfolder's ordered action list. Instance is
// only needed when the same kind appears more than once; the step is then
// written as "kind:instance" and its parameters are keyed the same way.
type ActionStep struct {
	Kind     Action
	Instance string
}

func ParseActionStep(s string) (ActionStep, error) {
	kind, instance, _ := strings.Cut(strings.TrimSpace(s), ":")
	a, err := ParseAction(kind)
	if err != nil {
		return ActionStep{}, err
	}
	return ActionStep{Kind: a, Instance: strings.TrimSpace(instance)}, nil
}

// Key is the lookup key into HotfolderConfig.ActionParams.
func (s ActionStep) Key() string {
	if s.Instance == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.Instance
}

func (s ActionStep) String() string { return s.Key() }

func (s ActionStep) MarshalText() ([]byte, error) { return []byte(s.Key()), nil }

func (s *ActionStep) UnmarshalText(b []byte) error {
	v, err := ParseActionStep(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Params is the free-form parameter object of one action step.
type Params map[string]string

// Get returns the value for key or def when absent or blank.
func (p Params) Get(key, def string) string {
	if v, ok := p[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// Rect is an axis-aligned rectangle in page-pixel space at 300 DPI.
type Rect struct {
	X      int `yaml:"x" json:"x"`
	Y      int `yaml:"y" json:"y"`
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// OCRZone names a region of one page whose text becomes a field.
type OCRZone struct {
	Name     string `yaml:"name" json:"name"`
	Page     int    `yaml:"page" json:"page"`
	Rect     `yaml:",inline"`
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
}

// MappingSource selects where a field mapping takes its value from.
type MappingSource string

const (
	SourceExpression MappingSource = "expression"
	SourceOCRZone    MappingSource = "ocr_zone"
	SourceSidecar    MappingSource = "sidecar"
	SourceSQL        MappingSource = "sql"
)

func (m *MappingSource) UnmarshalText(b []byte) error {
	v, err := ParseEnum("field_mappings.source", string(b), SourceSidecar,
		SourceExpression, SourceOCRZone, SourceSidecar, SourceSQL)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// FieldMapping binds a value into a named export field. Mappings are applied
// in order, so later mappings may reference earlier ones.
type FieldMapping struct {
	FieldName  string        `yaml:"field_name" json:"fieldName"`
	Source     MappingSource `yaml:"source" json:"source"`
	Expression string        `yaml:"expression,omitempty" json:"expression,omitempty"`
	Zone       string        `yaml:"zone,omitempty" json:"zone,omitempty"`
	Database   string        `yaml:"database,omitempty" json:"database,omitempty"`
	Query      string        `yaml:"query,omitempty" json:"query,omitempty"`
	// Pattern is a regular expression applied to the resolved value; the
	// first capture group (or the whole match) replaces it.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// HotfolderConfig is one watched input folder with its pipeline.
type HotfolderConfig struct {
	ID               string            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	InputPath        string            `yaml:"input_path" json:"inputPath"`
	OutputPath       string            `yaml:"output_path" json:"outputPath"`
	ErrorPath        string            `yaml:"error_path,omitempty" json:"errorPath,omitempty"`
	ProcessedPath    string            `yaml:"processed_path,omitempty" json:"processedPath,omitempty"`
	Enabled          bool              `yaml:"enabled" json:"enabled"`
	ProcessPairs     bool              `yaml:"process_pairs" json:"processPairs"`
	SidecarExtension string            `yaml:"sidecar_extension,omitempty" json:"sidecarExtension,omitempty"`
	FilePatterns     []string          `yaml:"file_patterns,omitempty" json:"filePatterns,omitempty"`
	Actions          []ActionStep      `yaml:"actions" json:"actions"`
	ActionParams     map[string]Params `yaml:"action_params,omitempty" json:"actionParams,omitempty"`
	OCRZones         []OCRZone         `yaml:"ocr_zones,omitempty" json:"ocrZones,omitempty"`
	FieldMappings    []FieldMapping    `yaml:"xml_field_mappings,omitempty" json:"xmlFieldMappings,omitempty"`
	OutputFilename   string            `yaml:"output_filename,omitempty" json:"outputFilename,omitempty"`
	Stamps           []string          `yaml:"stamps,omitempty" json:"stamps,omitempty"`
	Exports          []ExportConfig    `yaml:"exports,omitempty" json:"exports,omitempty"`
	StablePolls      int               `yaml:"stable_polls,omitempty" json:"stablePolls,omitempty"`
	PollInterval     time.Duration     `yaml:"poll_interval,omitempty" json:"pollInterval,omitempty"`
	SidecarWait      time.Duration     `yaml:"sidecar_wait,omitempty" json:"sidecarWait,omitempty"`
}

// ParamsFor returns the parameters of a step, never nil.
func (h *HotfolderConfig) ParamsFor(step ActionStep) Params {
	if p, ok := h.ActionParams[step.Key()]; ok && p != nil {
		return p
	}
	return Params{}
}

// Zone looks up an OCR zone by name.
func (h *HotfolderConfig) Zone(name string) (OCRZone, bool) {
	for _, z := range h.OCRZones {
		if z.Name == name {
			return z, true
		}
	}
	return OCRZone{}, false
}

// HasAction reports whether kind appears in the action list.
func (h *HotfolderConfig) HasAction(kind Action) bool {
	for _, s := range h.Actions {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func (h *HotfolderConfig) String() string {
	return fmt.Sprintf("%s (%s)", h.Name, h.ID)
}
