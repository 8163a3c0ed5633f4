package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/google/uuid"
)

// Executor is one action kind. Transform returns the documents that replace
// doc; most executors return exactly one, split returns many.
type Executor interface {
	Kind() models.Action
	Transform(ctx context.Context, job *Job, doc *models.Document, params models.Params) ([]*models.Document, error)
}

// Job is the per-pair context shared by every executor of one run.
type Job struct {
	Hotfolder *models.HotfolderConfig
	Snapshot  *config.Snapshot
	// WorkDir is the run's scratch directory; executors write every
	// intermediate file below it.
	WorkDir string
	// Sidecar is the pair's metadata file as rewritten with the mapped
	// field values; empty for primary-only pairs.
	Sidecar string
	Logger  *slog.Logger

	// renders holds derived files by key; exports of a job run one at a time.
	renders map[string]string
}

// Rendered returns the file cached under key, calling build on first use.
// Failed builds are not cached.
func (j *Job) Rendered(key string, build func() (string, error)) (string, error) {
	if path, ok := j.renders[key]; ok {
		return path, nil
	}
	path, err := build()
	if err != nil {
		return "", err
	}
	if j.renders == nil {
		j.renders = make(map[string]string)
	}
	j.renders[key] = path
	return path, nil
}

// TempPath returns a fresh file name in the work directory.
func (j *Job) TempPath(base, tag string) string {
	return filepath.Join(j.WorkDir, fmt.Sprintf("%s.%s.%s.pdf", base, tag, uuid.NewString()[:8]))
}

// Language resolves the recognition language for params.
func (j *Job) Language(params models.Params) string {
	def := config.DefaultLanguage
	if j.Snapshot != nil && j.Snapshot.Settings.DefaultLanguage != "" {
		def = j.Snapshot.Settings.DefaultLanguage
	}
	return params.Get("language", def)
}

// Pipeline runs a hotfolder's action list over a document.
type Pipeline struct {
	executors map[models.Action]Executor
}

func NewPipeline(executors ...Executor) *Pipeline {
	p := &Pipeline{executors: make(map[models.Action]Executor, len(executors))}
	for _, e := range executors {
		p.executors[e.Kind()] = e
	}
	return p
}

// Run applies steps in order. The output of step N is the input of step
// N+1; when a step fans out, every remaining step runs once per output, and
// the outputs keep their order. The first failure aborts the whole run.
func (p *Pipeline) Run(ctx context.Context, job *Job, doc *models.Document, steps []models.ActionStep) ([]*models.Document, error) {
	docs := []*models.Document{doc}
	for _, step := range steps {
		exec, ok := p.executors[step.Kind]
		if !ok {
			return nil, models.NewError(models.KindAction, step.Key(), fmt.Errorf("no executor registered"))
		}
		params := job.Hotfolder.ParamsFor(step)
		var next []*models.Document
		for _, d := range docs {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := runStep(ctx, exec, job, d, params)
			if err != nil {
				return nil, models.NewError(models.KindAction, step.Key(), err)
			}
			next = append(next, out...)
		}
		job.Logger.Debug("Action finished.", "action", step.Key(), "documents", len(next))
		docs = next
	}
	return docs, nil
}

func runStep(ctx context.Context, exec Executor, job *Job, doc *models.Document, params models.Params) (out []*models.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			job.Logger.Error("Action panicked.", "action", exec.Kind(), "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	out, err = exec.Transform(ctx, job, doc, params)
	if err == nil && len(out) == 0 {
		err = fmt.Errorf("%s produced no documents", exec.Kind())
	}
	return out, err
}
