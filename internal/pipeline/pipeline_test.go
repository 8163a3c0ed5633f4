package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/export"
	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/fields"
	"github.com/Lllllllleong/hotfolderflow/internal/journal"
	"github.com/Lllllllleong/hotfolderflow/internal/logging"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
)

// tagExec appends its tag to the file content so the order of actions is
// visible in the exported file. Content "FAIL" makes it fail.
type tagExec struct {
	kind models.Action
	gate chan struct{}
	// entered is signalled before waiting on gate.
	entered chan struct{}
}

func (e *tagExec) Kind() models.Action { return e.kind }

func (e *tagExec) Transform(ctx context.Context, job *services.Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	if e.entered != nil {
		e.entered <- struct{}{}
	}
	if e.gate != nil {
		<-e.gate
	}
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, err
	}
	if string(data) == "FAIL" {
		return nil, errors.New("unreadable page")
	}
	out := job.TempPath(doc.Name, "tag")
	if err := os.WriteFile(out, append(data, "|"+params.Get("tag", string(e.kind))...), 0o644); err != nil {
		return nil, err
	}
	return []*models.Document{doc.Derive(out)}, nil
}

// splitExec cuts every document into two parts.
type splitExec struct{}

func (splitExec) Kind() models.Action { return models.ActionSplit }

func (splitExec) Transform(ctx context.Context, job *services.Job, doc *models.Document, params models.Params) ([]*models.Document, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, err
	}
	var out []*models.Document
	for i := 1; i <= 2; i++ {
		path := job.TempPath(doc.Name, fmt.Sprintf("part%d", i))
		if err := os.WriteFile(path, fmt.Appendf(data, "|part%d", i), 0o644); err != nil {
			return nil, err
		}
		child := doc.Derive(path)
		child.SplitIndex, child.SplitCount = i, 2
		child.Fields["Part"] = fmt.Sprint(i)
		out = append(out, child)
	}
	return out, nil
}

type brokenFTP struct{ calls atomic.Int32 }

func (b *brokenFTP) Method() models.ExportMethod { return models.MethodFTP }

func (b *brokenFTP) Deliver(ctx context.Context, d *export.Delivery) (string, error) {
	b.calls.Add(1)
	return "", errors.New("connection refused")
}

type env struct {
	root                       string
	in, out, errDir, processed string
	store                      *config.FileStore
	holder                     *config.Holder
	deps                       *Deps
	tag                        *tagExec
	ftp                        *brokenFTP
}

const baseConfig = `
settings:
  poll_interval: 20ms
  stable_polls: 2
  sidecar_wait: 200ms
  retry:
    attempts: 2
    backoff: 1ms
hotfolders:
  - id: invoices
    input_path: %[1]s/in
    output_path: %[1]s/out
    error_path: %[1]s/error
    enabled: true
    process_pairs: %[2]t
%[3]s
`

func newEnv(t *testing.T, pairs bool, folder string) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:      root,
		in:        filepath.Join(root, "in"),
		out:       filepath.Join(root, "out"),
		errDir:    filepath.Join(root, "error"),
		processed: filepath.Join(root, "processed"),
		tag:       &tagExec{kind: models.ActionCompress},
		ftp:       &brokenFTP{},
	}
	if err := os.MkdirAll(e.in, 0o755); err != nil {
		t.Fatal(err)
	}
	e.store = &config.FileStore{Path: filepath.Join(root, "hotfolders.yaml")}
	e.writeConfig(t, pairs, folder)
	holder, err := config.NewHolder(e.store)
	if err != nil {
		t.Fatalf("NewHolder: %v", err)
	}
	e.holder = holder

	logger := logging.Discard()
	eval := expression.New(nil, logger)
	e.deps = &Deps{
		Holder:     holder,
		Pipeline:   services.NewPipeline(e.tag, splitExec{}),
		Fields:     fields.NewBuilder(eval, nil, logger),
		Exporter:   export.NewRouter(eval, nil, export.FileTransport{}, e.ftp),
		Journal:    journal.Nop{},
		Logger:     logger,
		ScratchDir: t.TempDir(),
	}
	return e
}

func (e *env) writeConfig(t *testing.T, pairs bool, folder string) {
	t.Helper()
	folder = strings.ReplaceAll(folder, "ROOT", e.root)
	data := fmt.Sprintf(baseConfig, e.root, pairs, folder)
	if err := os.WriteFile(e.store.Path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *env) drop(t *testing.T, name, content string) models.DocumentPair {
	t.Helper()
	path := filepath.Join(e.in, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return models.NewDocumentPair(path, "")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (e *env) worker(t *testing.T) *Worker {
	t.Helper()
	h, ok := e.holder.Current().Hotfolder("invoices")
	if !ok {
		t.Fatal("hotfolder missing")
	}
	return newWorker(h, e.deps, 4)
}

func TestActionsRunInConfiguredOrder(t *testing.T) {
	e := newEnv(t, false, `    actions: ["compress:first", "compress:second"]
    action_params:
      "compress:first": {tag: first}
      "compress:second": {tag: second}`)
	pair := e.drop(t, "doc.pdf", "doc")

	rec := e.worker(t).Process(context.Background(), pair)
	if rec.Status != models.StatusExported {
		t.Fatalf("status = %s (%s)", rec.Status, rec.ErrorDetails)
	}
	if got := readFile(t, filepath.Join(e.out, "doc.pdf")); got != "doc|first|second" {
		t.Errorf("output = %q", got)
	}
	if exists(pair.PrimaryPath) {
		t.Error("source still in input folder")
	}
}

func TestSplitFansOutRemainingActions(t *testing.T) {
	e := newEnv(t, false, `    output_filename: "<FileName>_<Part>"
    actions: [split, compress]
    action_params:
      split: {rule: "pages:1"}
      compress: {tag: c}`)
	pair := e.drop(t, "doc.pdf", "doc")

	rec := e.worker(t).Process(context.Background(), pair)
	if rec.Status != models.StatusExported || rec.OutputCount != 2 || len(rec.Exports) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	for i := 1; i <= 2; i++ {
		want := fmt.Sprintf("doc|part%d|c", i)
		if got := readFile(t, filepath.Join(e.out, fmt.Sprintf("doc_%d.pdf", i))); got != want {
			t.Errorf("part %d = %q, want %q", i, got, want)
		}
	}
}

func TestFailedDocumentGoesToErrorFolder(t *testing.T) {
	e := newEnv(t, true, `    actions: [compress]`)
	pair := e.drop(t, "doc.pdf", "FAIL")
	sidecar := filepath.Join(e.in, "doc.xml")
	if err := os.WriteFile(sidecar, []byte("<Document><Fields><Customer>ACME</Customer></Fields></Document>"), 0o644); err != nil {
		t.Fatal(err)
	}
	pair.SidecarPath = sidecar

	rec := e.worker(t).Process(context.Background(), pair)
	if rec.Status != models.StatusFailed || rec.ErrorKind != models.KindAction {
		t.Fatalf("record = %+v", rec)
	}
	for _, name := range []string{"doc.pdf", "doc.xml"} {
		if !exists(filepath.Join(e.errDir, name)) {
			t.Errorf("%s not in error folder", name)
		}
	}
	report := readFile(t, filepath.Join(e.errDir, "doc.pdf.error.txt"))
	if !strings.Contains(report, string(models.KindAction)) || !strings.Contains(report, "unreadable page") {
		t.Errorf("report = %q", report)
	}
	if exists(filepath.Join(e.out, "doc.pdf")) {
		t.Error("failed document was exported")
	}
}

func TestExportsAreIndependent(t *testing.T) {
	e := newEnv(t, false, `    processed_path: ROOT/processed
    actions: [compress]
    exports:
      - id: disk
        enabled: true
      - id: remote
        enabled: true
        method: ftp
        params: {host: ftp.example.com}`)
	pair := e.drop(t, "doc.pdf", "doc")

	rec := e.worker(t).Process(context.Background(), pair)
	if rec.Status != models.StatusPartial || rec.ErrorKind != models.KindExport {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Exports) != 2 || !rec.Exports[0].OK() || rec.Exports[1].OK() {
		t.Fatalf("exports = %+v", rec.Exports)
	}
	if n := e.ftp.calls.Load(); n != 2 {
		t.Errorf("ftp attempts = %d, want 2", n)
	}
	if !exists(filepath.Join(e.out, "doc.pdf")) {
		t.Error("file export missing")
	}
	if !exists(filepath.Join(e.processed, "doc.pdf")) {
		t.Error("partially exported source not moved to processed folder")
	}
}

func TestAllExportsFailedGoesToErrorFolder(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]
    exports:
      - id: remote
        enabled: true
        method: ftp
        params: {host: ftp.example.com}`)
	pair := e.drop(t, "doc.pdf", "doc")

	rec := e.worker(t).Process(context.Background(), pair)
	if rec.Status != models.StatusFailed || rec.ErrorKind != models.KindExport {
		t.Fatalf("record = %+v", rec)
	}
	if !exists(filepath.Join(e.errDir, "doc.pdf")) || !exists(filepath.Join(e.errDir, "doc.pdf.error.txt")) {
		t.Error("source not in error folder")
	}
}

func TestDisabledExportsFallBackToOutputFolder(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]
    exports:
      - id: remote
        enabled: false
        method: ftp
        params: {host: ftp.example.com}`)
	rec := e.worker(t).Process(context.Background(), e.drop(t, "doc.pdf", "doc"))
	if rec.Status != models.StatusExported || len(rec.Exports) != 1 || rec.Exports[0].ExportID != "output" {
		t.Fatalf("record = %+v", rec)
	}
	if e.ftp.calls.Load() != 0 {
		t.Error("disabled export ran")
	}
	if !exists(filepath.Join(e.out, "doc.pdf")) {
		t.Error("default export missing")
	}
}

func TestDisabledFolderLeavesDocumentInPlace(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	w := e.worker(t)
	data := readFile(t, e.store.Path)
	data = strings.Replace(data, "    enabled: true\n", "    enabled: false\n", 1)
	if err := os.WriteFile(e.store.Path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.holder.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	pair := e.drop(t, "doc.pdf", "doc")
	if rec := w.Process(context.Background(), pair); rec != nil {
		t.Fatalf("disabled folder processed a document: %+v", rec)
	}
	if !exists(pair.PrimaryPath) {
		t.Error("document removed from input folder")
	}
}

func TestReloadDoesNotAffectDocumentInFlight(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	e.tag.gate = make(chan struct{})
	e.tag.entered = make(chan struct{}, 1)
	w := e.worker(t)
	pair := e.drop(t, "doc.pdf", "doc")

	done := make(chan *models.ProcessingRecord)
	go func() { done <- w.Process(context.Background(), pair) }()
	<-e.tag.entered

	e.writeConfig(t, false, `    output_filename: "renamed"
    actions: [compress]`)
	if _, err := e.holder.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	close(e.tag.gate)

	rec := <-done
	if rec.Status != models.StatusExported {
		t.Fatalf("record = %+v", rec)
	}
	if !exists(filepath.Join(e.out, "doc.pdf")) || exists(filepath.Join(e.out, "renamed.pdf")) {
		t.Error("document in flight picked up the new configuration")
	}

	rec = w.Process(context.Background(), e.drop(t, "next.pdf", "next"))
	if rec.Status != models.StatusExported || !exists(filepath.Join(e.out, "renamed.pdf")) {
		t.Error("next document did not use the new configuration")
	}
}

func TestFailedReloadKeepsPreviousConfiguration(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	sup := NewSupervisor(e.deps)
	before := e.holder.Current()
	if err := os.WriteFile(e.store.Path, []byte("hotfolders: [{id: broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := sup.Reload(context.Background())
	if models.KindOf(err) != models.KindConfigReload {
		t.Fatalf("Reload error = %v", err)
	}
	if e.holder.Current() != before {
		t.Error("snapshot replaced by failed reload")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSupervisorProcessesDroppedFiles(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())
	t.Cleanup(func() { sup.Stop(context.Background()) })

	e.drop(t, "a.pdf", "a")
	e.drop(t, "b.pdf", "b")
	waitFor(t, "exports", func() bool {
		return exists(filepath.Join(e.out, "a.pdf")) && exists(filepath.Join(e.out, "b.pdf"))
	})
	waitFor(t, "status", func() bool {
		st := sup.Status()
		return len(st) == 1 && st[0].Processed == 2 && st[0].State == models.WorkerIdle
	})
}

func TestSupervisorReloadDisablesFolder(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())
	t.Cleanup(func() { sup.Stop(context.Background()) })
	if ids := sup.IDs(); len(ids) != 1 {
		t.Fatalf("running = %v", ids)
	}

	data := strings.Replace(readFile(t, e.store.Path), "    enabled: true\n", "    enabled: false\n", 1)
	if err := os.WriteFile(e.store.Path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sup.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if ids := sup.IDs(); len(ids) != 0 {
		t.Fatalf("running after disable = %v", ids)
	}
	st := sup.Status()
	if len(st) != 1 || st[0].State != models.WorkerDisabled {
		t.Fatalf("status = %+v", st)
	}

	pair := e.drop(t, "late.pdf", "late")
	time.Sleep(200 * time.Millisecond)
	if !exists(pair.PrimaryPath) {
		t.Error("disabled folder picked up a document")
	}
}

func TestSupervisorRestartsFolderOnInputChange(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())
	t.Cleanup(func() { sup.Stop(context.Background()) })

	moved := filepath.Join(e.root, "in2")
	if err := os.MkdirAll(moved, 0o755); err != nil {
		t.Fatal(err)
	}
	data := strings.Replace(readFile(t, e.store.Path), e.in, moved, 1)
	if err := os.WriteFile(e.store.Path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := sup.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if err := os.WriteFile(filepath.Join(moved, "c.pdf"), []byte("c"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "export from new input folder", func() bool { return exists(filepath.Join(e.out, "c.pdf")) })
}

func TestSupervisorMissingInputFails(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	if err := os.RemoveAll(e.in); err != nil {
		t.Fatal(err)
	}
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())
	t.Cleanup(func() { sup.Stop(context.Background()) })
	waitFor(t, "failed state", func() bool {
		st := sup.Status()
		return len(st) == 1 && st[0].State == models.WorkerFailed && st[0].LastError != ""
	})
}

func TestStopFinishesDocumentInFlight(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	e.tag.gate = make(chan struct{})
	e.tag.entered = make(chan struct{}, 1)
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())

	e.drop(t, "doc.pdf", "doc")
	<-e.tag.entered

	var (
		mu      sync.Mutex
		stopErr error
		stopped bool
	)
	finished := make(chan struct{})
	go func() {
		err := sup.Stop(context.Background())
		mu.Lock()
		stopErr, stopped = err, true
		mu.Unlock()
		close(finished)
	}()
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	early := stopped
	mu.Unlock()
	if early {
		t.Fatal("Stop returned while a document was in flight")
	}
	close(e.tag.gate)
	<-finished
	if stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
	if !exists(filepath.Join(e.out, "doc.pdf")) {
		t.Error("document in flight was not finished")
	}
}

func TestStopHonoursDeadline(t *testing.T) {
	e := newEnv(t, false, `    actions: [compress]`)
	e.tag.gate = make(chan struct{})
	e.tag.entered = make(chan struct{}, 1)
	sup := NewSupervisor(e.deps)
	sup.Start(context.Background())
	t.Cleanup(func() {
		close(e.tag.gate)
		sup.Stop(context.Background())
	})

	e.drop(t, "doc.pdf", "doc")
	<-e.tag.entered
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := sup.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop = %v, want deadline exceeded", err)
	}
}
