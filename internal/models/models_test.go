package models

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseActionStep(t *testing.T) {
	tests := []struct {
		in      string
		want    ActionStep
		wantErr bool
	}{
		{in: "recognize_text", want: ActionStep{Kind: ActionRecognizeText}},
		{in: "stamp:approved", want: ActionStep{Kind: ActionStamp, Instance: "approved"}},
		{in: " split ", want: ActionStep{Kind: ActionSplit}},
		{in: "ocr", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseActionStep(tt.in)
		if tt.wantErr {
			var ce *ConfigValidationError
			if !errors.As(err, &ce) {
				t.Errorf("ParseActionStep(%q) error = %v, want ConfigValidationError", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseActionStep(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseActionStep(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestExportEnumsDefaultAndReject(t *testing.T) {
	m, err := ParseExportMethod("")
	if err != nil || m != MethodFile {
		t.Fatalf("empty method = %q, %v; want file", m, err)
	}
	if _, err := ParseExportMethod("carrier_pigeon"); err == nil {
		t.Fatal("expected unknown method to be rejected")
	}
	f, err := ParseExportFormat("")
	if err != nil || f != FormatDocument {
		t.Fatalf("empty format = %q, %v; want document", f, err)
	}
	var pos StampPosition
	if err := pos.UnmarshalText([]byte("upper_left")); err == nil {
		t.Fatal("expected unknown stamp position to be rejected")
	}
}

func TestSelectPages(t *testing.T) {
	tests := []struct {
		spec StampSpec
		n    int
		want []int
	}{
		{StampSpec{Pages: PagesFirst}, 4, []int{1}},
		{StampSpec{}, 4, []int{1}},
		{StampSpec{Pages: PagesLast}, 4, []int{4}},
		{StampSpec{Pages: PagesAll}, 3, []int{1, 2, 3}},
		{StampSpec{Pages: PagesCustom, CustomPages: []int{3, 0, 3, 9, 2}}, 4, []int{3, 2}},
		{StampSpec{Pages: PagesAll}, 0, nil},
	}
	for i, tt := range tests {
		if got := tt.spec.SelectPages(tt.n); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("case %d: SelectPages(%d) = %v, want %v", i, tt.n, got, tt.want)
		}
	}
}

func TestPipelineErrorMatchesKindSentinel(t *testing.T) {
	err := NewError(KindExport, "ftp upload", errors.New("connection refused"))
	if !errors.Is(err, ErrExportFailed) {
		t.Fatal("expected export error to match ErrExportFailed")
	}
	if errors.Is(err, ErrActionFailed) {
		t.Fatal("export error must not match ErrActionFailed")
	}
	if KindOf(err) != KindExport {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
	if KindOf(errors.New("plain")) != KindAction {
		t.Fatal("untyped errors are document scoped")
	}
}

func TestNewDocumentPair(t *testing.T) {
	p := NewDocumentPair("/in/Invoice.PDF", "/in/Invoice.xml")
	if p.BaseName != "Invoice" || !p.HasSidecar() {
		t.Fatalf("unexpected pair %+v", p)
	}
	if NewDocumentPair("/in/a.pdf", "").HasSidecar() {
		t.Fatal("pair without sidecar reports one")
	}
}

func TestParseSplitRule(t *testing.T) {
	tests := []struct {
		in      string
		want    SplitRule
		wantErr bool
	}{
		{in: "", want: SplitRule{Mode: SplitPerPage, Pages: 1}},
		{in: "per_page", want: SplitRule{Mode: SplitPerPage, Pages: 1}},
		{in: "pages:3", want: SplitRule{Mode: SplitEveryN, Pages: 3}},
		{in: "separator: NEXT DOC ", want: SplitRule{Mode: SplitSeparator, Marker: "NEXT DOC"}},
		{in: "blank", want: SplitRule{Mode: SplitBlank}},
		{in: "pages:0", wantErr: true},
		{in: "pages", wantErr: true},
		{in: "separator:", wantErr: true},
		{in: "chapters", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSplitRule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseSplitRule(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseSplitRule(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
