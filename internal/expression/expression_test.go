package expression

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/logging"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

func newTestEvaluator() *Evaluator {
	fixed := time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
	return New(nil, logging.Discard()).WithClock(func() time.Time { return fixed })
}

func TestSubstitute(t *testing.T) {
	fields := models.Fields{"FileName": "doc1", "Invoice": "INV-42"}
	tests := []struct {
		in, want string
	}{
		{"<FileName>_<Invoice>", "doc1_INV-42"},
		{"<FileName>_<Missing>", "doc1_<Missing>"},
		{"plain text", "plain text"},
		{"a < b > c", "a < b > c"},
	}
	for _, tt := range tests {
		if got := Substitute(tt.in, fields); got != tt.want {
			t.Errorf("Substitute(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	e := newTestEvaluator()
	fields := models.Fields{
		"FileName": "doc1",
		"Invoice":  "INV-42",
		"No":       "42",
		"Name":     "invoice scan",
		"Amount":   "250,5",
		"Empty":    "",
	}
	tests := []struct {
		name, expr, want string
	}{
		{"placeholders", "<FileName>_<Invoice>", "doc1_INV-42"},
		{"missing left literal", "<Missing>", "<Missing>"},
		{"format", `FORMAT(<No>, "######")`, "000042"},
		{"nested", "TOUPPER(LEFT(<Name>, 3))", "INV"},
		{"mid", `MID("abcdef", 2, 3)`, "bcd"},
		{"mid open ended", `MID("abcdef", 4)`, "def"},
		{"right", `RIGHT("abcdef", 2)`, "ef"},
		{"trim", `TRIM("  x  ")`, "x"},
		{"len", "LEN(<Invoice>)", "6"},
		{"indexof", `INDEXOF(0, "hello world", "world")`, "7"},
		{"indexof absent", `INDEXOF(0, "hello", "z")`, "0"},
		{"if numeric", `IF(<Amount>, ">", "100", "big", "small")`, "big"},
		{"if string", `IF(<Invoice>, "startswith", "INV", "yes", "no")`, "yes"},
		{"if empty", `IF(<Empty>, "isempty", "", "none", "some")`, "none"},
		{"formatdate", `FORMATDATE("yyyy-mm-dd hh:MM")`, "2024-03-05 14:07"},
		{"formatdate given", `FORMATDATE("dd.mm.yy", "2023-12-24")`, "24.12.23"},
		{"regexp match", `REGEXP.MATCH("Invoice 2024-001", "(\d{4})-(\d+)", 2)`, "001"},
		{"regexp replace", `REGEXP.REPLACE(<Name>, "\s+", "_")`, "invoice_scan"},
		{"surrounding text", `<FileName>-FORMAT(<No>, "####").pdf`, "doc1-0042.pdf"},
		{"unknown function literal", "FOO(1)", "FOO(1)"},
		{"unbalanced literal", "LEFT(abc", "LEFT(abc"},
		{"failing function empty", `pre-LEFT("abc", x)`, "pre-"},
		{"quoted comma", `TOUPPER("a,b")`, "A,B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Evaluate(context.Background(), tt.expr, fields); got != tt.want {
				t.Fatalf("Evaluate(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateBool(t *testing.T) {
	e := newTestEvaluator()
	fields := models.Fields{"Country": "DE"}
	if !e.EvaluateBool(context.Background(), `IF(<Country>, "==", "DE", "true", "false")`, fields) {
		t.Fatal("expected condition to hold")
	}
	if e.EvaluateBool(context.Background(), "<Country>", fields) {
		t.Fatal("DE must not read as true")
	}
}

type fakeCounters struct {
	values map[string]int64
	calls  int
}

func (f *fakeCounters) NextValue(_ context.Context, name string, start, step int64) (int64, error) {
	f.calls++
	v, ok := f.values[name]
	if !ok {
		v = start
	}
	f.values[name] = v + step
	return v, nil
}

func TestAutoIncrement(t *testing.T) {
	e := newTestEvaluator()
	for _, want := range []string{"100", "101", "102"} {
		if got := e.Evaluate(context.Background(), `AUTOINCREMENT("inv", 100)`, nil); got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}

	counters := &fakeCounters{values: map[string]int64{"batch": 7}}
	e = New(counters, logging.Discard())
	got := e.Evaluate(context.Background(), `FORMAT(AUTOINCREMENT("batch", 1, 5), "0000")`, nil)
	if got != "0007" {
		t.Fatalf("got %q, want 0007", got)
	}
	if counters.values["batch"] != 12 || counters.calls != 1 {
		t.Fatalf("counter not advanced: %+v", counters)
	}
}

func TestScript(t *testing.T) {
	e := newTestEvaluator()
	fields := models.Fields{"Invoice": "INV-42"}
	got := e.Evaluate(context.Background(), `SCRIPT("fields.Invoice + '-' + args[0]", "x")`, fields)
	if got != "INV-42-x" {
		t.Fatalf("got %q", got)
	}

	e.scriptTimeout = 50 * time.Millisecond
	start := time.Now()
	if got := e.Evaluate(context.Background(), `SCRIPT("while (true) {}")`, nil); got != "" {
		t.Fatalf("runaway script returned %q", got)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("script was not interrupted")
	}
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2024, time.January, 2, 9, 5, 3, 0, time.UTC)
	tests := []struct {
		mask, want string
	}{
		{"yyyymmdd", "20240102"},
		{"d.m.y", "2.1.24"},
		{"hh:MM:ss tt", "09:05:03 AM"},
		{"ddd, mmm d", "Tue, Jan 2"},
		{"dddd mmmm", "Tuesday January"},
		{"ww", "01"},
	}
	for _, tt := range tests {
		if got := FormatDate(ts, tt.mask); got != tt.want {
			t.Errorf("FormatDate(%q) = %q, want %q", tt.mask, got, tt.want)
		}
	}
}

func TestLevelVariables(t *testing.T) {
	in := filepath.Join("srv", "in")
	f := LevelVariables(filepath.Join(in, "customers", "acme", "scan.pdf"), in)
	want := map[string]string{"level0": "in", "level1": "customers", "level2": "acme", "level3": ""}
	for k, v := range want {
		if f[k] != v {
			t.Errorf("%s = %q, want %q", k, f[k], v)
		}
	}

	f = LevelVariables(filepath.Join(in, "scan.pdf"), in)
	if f["level1"] != "" {
		t.Errorf("level1 = %q for a top-level file", f["level1"])
	}
}

func TestFileVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.final.pdf")
	if err := os.WriteFile(path, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	f := FileVariables(path)
	if f["FileName"] != "report.final" || f["FileExtension"] != ".pdf" || f["FullFileName"] != "report.final.pdf" {
		t.Fatalf("unexpected name fields: %v", f)
	}
	if f["FileSize"] != "2048" {
		t.Fatalf("FileSize = %q", f["FileSize"])
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a/b\\c", "a_b_c"},
		{"  .hidden. ", "hidden"},
		{"", "export"},
		{"doc_<Missing>", "doc_<Missing>"},
		{"tab\there", "tab_here"},
		{"what?.pdf", "what_.pdf"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
