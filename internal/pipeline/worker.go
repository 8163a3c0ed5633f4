// Package pipeline runs one worker per enabled hotfolder: documents are
// taken from the folder's queue one at a time, passed through the action
// pipeline, exported and finally moved out of the input folder.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/fields"
	"github.com/Lllllllleong/hotfolderflow/internal/journal"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/ocr"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
	"github.com/google/uuid"
)

// Exporter delivers one document to one destination. export.Router
// implements it.
type Exporter interface {
	Export(ctx context.Context, job *services.Job, doc *models.Document, f models.Fields, cfg *models.ExportConfig) models.ExportResult
}

// Deps are the collaborators shared by all workers.
type Deps struct {
	Holder   *config.Holder
	Pipeline *services.Pipeline
	// Recognizer reads OCR zones for field mappings; nil disables zone
	// mappings that were not filled by recognize_text.
	Recognizer *ocr.Recognizer
	Fields     *fields.Builder
	Exporter   Exporter
	Journal    journal.Journal
	Notifier   *journal.Notifier
	Logger     *slog.Logger
	// ScratchDir holds per-run work directories; empty means os.TempDir.
	ScratchDir string
	Now        func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Worker processes the documents of one hotfolder strictly in queue order.
type Worker struct {
	id     string
	deps   *Deps
	queue  chan models.DocumentPair
	logger *slog.Logger

	mu     sync.Mutex
	status models.WorkerStatus
}

func newWorker(h *models.HotfolderConfig, deps *Deps, queueSize int) *Worker {
	return &Worker{
		id:     h.ID,
		deps:   deps,
		queue:  make(chan models.DocumentPair, queueSize),
		logger: deps.Logger.With("hotfolder", h.ID),
		status: models.WorkerStatus{HotfolderID: h.ID, Name: h.Name, InputPath: h.InputPath, State: models.WorkerIdle, Since: deps.now()},
	}
}

func (w *Worker) Status() models.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.status
	s.Queued = len(w.queue)
	return s
}

func (w *Worker) setState(state models.WorkerState, current string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
	w.status.Current = current
	w.status.Since = w.deps.now()
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = models.WorkerFailed
	w.status.LastError = err.Error()
	w.status.Since = w.deps.now()
}

// loop pulls pairs until ctx is done. A document that was already pulled
// is finished with a context that ignores the stop signal, so shutdown
// never leaves a half-exported document behind.
func (w *Worker) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pair := <-w.queue:
			if ctx.Err() != nil {
				return nil
			}
			w.Process(context.WithoutCancel(ctx), pair)
		}
	}
}

// Process runs one pair end to end. It never returns an error: every
// failure is contained in the pair's record and its error placement.
func (w *Worker) Process(ctx context.Context, pair models.DocumentPair) *models.ProcessingRecord {
	snap := w.deps.Holder.Current()
	h, ok := snap.Hotfolder(w.id)
	if !ok || !h.Enabled {
		w.logger.Info("Hotfolder no longer enabled, leaving document in place.", "file", pair.PrimaryPath)
		return nil
	}

	runID := uuid.NewString()
	logCtx := w.logger.With("document", pair.BaseName, "runId", runID)
	w.setState(models.WorkerProcessing, pair.BaseName)
	defer w.setState(models.WorkerIdle, "")

	rec := &models.ProcessingRecord{
		RunID:            runID,
		HotfolderID:      h.ID,
		OriginalFilename: filepath.Base(pair.PrimaryPath),
		HasSidecar:       pair.HasSidecar(),
		Status:           models.StatusProcessing,
		CreatedAt:        w.deps.now(),
	}
	if hash, err := fileHash(pair.PrimaryPath); err == nil {
		rec.FileHash = hash
	} else {
		logCtx.Warn("Could not hash source file.", "error", err)
	}
	if err := w.deps.Journal.Begin(ctx, rec); err != nil {
		logCtx.Warn("Failed to record run start.", "error", err)
	}
	logCtx.Info("Processing document.", "file", pair.PrimaryPath, "hasSidecar", pair.HasSidecar())

	err := w.run(ctx, logCtx, snap, h, pair, rec)
	rec.FinishedAt = w.deps.now()
	switch {
	case err != nil:
		rec.Status = models.StatusFailed
		rec.ErrorKind = models.KindOf(err)
		rec.ErrorDetails = err.Error()
	case rec.OutputCount > 0 && exportsFailed(rec.Exports) == len(rec.Exports):
		rec.Status = models.StatusFailed
		rec.ErrorKind = models.KindExport
		rec.ErrorDetails = "all exports failed"
	case exportsFailed(rec.Exports) > 0:
		rec.Status = models.StatusPartial
		rec.ErrorKind = models.KindExport
		rec.ErrorDetails = fmt.Sprintf("%d of %d exports failed", exportsFailed(rec.Exports), len(rec.Exports))
	default:
		rec.Status = models.StatusExported
	}

	if rec.Status == models.StatusFailed {
		w.countFailure(rec.ErrorDetails)
		logCtx.Error("Document failed.", "errorKind", rec.ErrorKind, "error", rec.ErrorDetails)
		if err := placeError(snap.ErrorPathFor(h), pair, rec); err != nil {
			logCtx.Error("Failed to move document to error folder.", "error", err)
		}
	} else {
		w.countSuccess()
		if rec.Status == models.StatusPartial {
			logCtx.Warn("Document exported partially.", "errorKind", rec.ErrorKind, "error", rec.ErrorDetails)
		} else {
			logCtx.Info("Document exported.", "outputs", rec.OutputCount, "exports", len(rec.Exports))
		}
		if err := placeProcessed(h.ProcessedPath, pair); err != nil {
			logCtx.Error("Failed to remove processed document from input folder.", "error", err)
		}
	}

	if err := w.deps.Journal.Finish(ctx, rec); err != nil {
		logCtx.Warn("Failed to record run outcome.", "error", err)
	}
	if err := w.deps.Notifier.Notify(ctx, rec); err != nil {
		logCtx.Warn("Failed to send outcome notification.", "error", err)
	}
	return rec
}

// run executes actions, builds fields and attempts every export. Only
// failures before the export stage are returned; export outcomes are
// recorded in rec.
func (w *Worker) run(ctx context.Context, logCtx *slog.Logger, snap *config.Snapshot, h *models.HotfolderConfig, pair models.DocumentPair, rec *models.ProcessingRecord) error {
	workDir, err := os.MkdirTemp(w.deps.ScratchDir, "hotfolder-"+h.ID+"-")
	if err != nil {
		return models.NewError(models.KindAction, "workdir", err)
	}
	defer os.RemoveAll(workDir)

	src := filepath.Join(workDir, filepath.Base(pair.PrimaryPath))
	if err := copyFile(pair.PrimaryPath, src); err != nil {
		return models.NewError(models.KindAction, "copy source", err)
	}

	var sidecar *fields.Sidecar
	if pair.HasSidecar() {
		sidecar, err = fields.ReadSidecar(pair.SidecarPath)
		if err != nil {
			return models.NewError(models.KindAction, "sidecar", err)
		}
	}

	doc := &models.Document{
		Path:   src,
		Name:   pair.BaseName,
		Fields: w.deps.Fields.Base(w.deps.now(), pair, h, snap.ErrorPathFor(h), sidecar),
	}
	if n, err := services.PageCount(src); err == nil {
		rec.PageCount = n
	}
	job := &services.Job{Hotfolder: h, Snapshot: snap, WorkDir: workDir, Logger: logCtx}

	outputs, err := w.deps.Pipeline.Run(ctx, job, doc, h.Actions)
	if err != nil {
		return err
	}
	rec.OutputCount = len(outputs)

	exports := enabledExports(h)
	for i, out := range outputs {
		w.applyFields(ctx, out, h, snap)
		docJob := *job
		if sidecar != nil {
			path, err := writeSidecar(workDir, out, i, sidecar, h)
			if err != nil {
				logCtx.Warn("Failed to write sidecar for export.", "error", err)
			} else {
				docJob.Sidecar = path
			}
		}
		for j := range exports {
			rec.Exports = append(rec.Exports, w.deps.Exporter.Export(ctx, &docJob, out, out.Fields, &exports[j]))
		}
	}
	return nil
}

func (w *Worker) applyFields(ctx context.Context, doc *models.Document, h *models.HotfolderConfig, snap *config.Snapshot) {
	if len(h.FieldMappings) == 0 {
		return
	}
	var zones fields.ZoneReader
	if w.deps.Recognizer != nil && len(h.OCRZones) > 0 {
		pages := make([]int, 0, len(h.OCRZones))
		for _, z := range h.OCRZones {
			pages = append(pages, z.Page)
		}
		zones = w.deps.Recognizer.Open(doc.Path, pages...)
	}
	w.deps.Fields.Apply(ctx, doc, h, snap.Settings, zones)
}

// enabledExports returns the folder's enabled exports, or a single file
// export into the output folder when none is enabled.
func enabledExports(h *models.HotfolderConfig) []models.ExportConfig {
	var out []models.ExportConfig
	for _, e := range h.Exports {
		if e.Enabled {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		out = append(out, models.ExportConfig{
			ID:       "output",
			Enabled:  true,
			Method:   models.MethodFile,
			Format:   models.FormatDocument,
			Path:     h.OutputPath,
			Filename: h.OutputFilename,
		})
	}
	return out
}

// writeSidecar stores a copy of the pair's sidecar carrying the mapped
// field values of doc.
func writeSidecar(workDir string, doc *models.Document, i int, sidecar *fields.Sidecar, h *models.HotfolderConfig) (string, error) {
	data, err := sidecar.Bytes()
	if err != nil {
		return "", err
	}
	sc, err := fields.ParseSidecar(data)
	if err != nil {
		return "", err
	}
	for _, m := range h.FieldMappings {
		sc.Set(m.FieldName, doc.Fields[m.FieldName])
	}
	ext := h.SidecarExtension
	if ext == "" {
		ext = config.DefaultSidecarExt
	}
	path := filepath.Join(workDir, fmt.Sprintf("%s.%d%s", doc.Name, i, ext))
	return path, sc.WriteFile(path)
}

func exportsFailed(results []models.ExportResult) int {
	n := 0
	for _, r := range results {
		if !r.OK() {
			n++
		}
	}
	return n
}

func (w *Worker) countSuccess() {
	w.mu.Lock()
	w.status.Processed++
	w.mu.Unlock()
}

func (w *Worker) countFailure(reason string) {
	w.mu.Lock()
	w.status.Failed++
	w.status.LastError = reason
	w.mu.Unlock()
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
