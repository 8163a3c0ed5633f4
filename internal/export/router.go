// Package export delivers processed documents to their configured
// destinations.
package export

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
)

// Transport moves one rendered file to a destination and returns where it
// ended up.
type Transport interface {
	Method() models.ExportMethod
	Deliver(ctx context.Context, d *Delivery) (string, error)
}

// Delivery is everything a transport needs for one attempt.
type Delivery struct {
	Config *models.ExportConfig
	// Source is the rendered local file.
	Source string
	// Dir is the resolved destination: a directory, a remote path or a
	// gs:// / s3:// prefix depending on the method.
	Dir string
	// Name is the sanitized file name including its extension.
	Name        string
	ContentType string
	Fields      models.Fields
	Sidecar     string
	Settings    *config.Settings
	// Mail is set for email exports.
	Mail *Mail
}

// Mail is an email export with every expression resolved.
type Mail struct {
	To, CC, BCC   []string
	Subject, Body string
	AttachSidecar bool
}

// ArchivalConverter produces the archival rendition of a document.
// services.ConvertToArchival implements it.
type ArchivalConverter interface {
	Convert(ctx context.Context, job *services.Job, doc *models.Document, lang string) (string, error)
}

// Router resolves an export's expressions, renders the requested format
// and hands the result to the transport for the export's method.
type Router struct {
	eval       *expression.Evaluator
	archival   ArchivalConverter
	transports map[models.ExportMethod]Transport
}

func NewRouter(eval *expression.Evaluator, archival ArchivalConverter, transports ...Transport) *Router {
	r := &Router{eval: eval, archival: archival, transports: make(map[models.ExportMethod]Transport, len(transports))}
	for _, t := range transports {
		r.transports[t.Method()] = t
	}
	return r
}

// permanent marks a failure that retrying cannot fix.
type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Export delivers doc according to cfg. The outcome is always returned as
// a result; a failed export never affects other exports of the document.
func (r *Router) Export(ctx context.Context, job *services.Job, doc *models.Document, f models.Fields, cfg *models.ExportConfig) models.ExportResult {
	start := time.Now()
	res := models.ExportResult{ExportID: cfg.ID, Method: cfg.Method}
	logger := job.Logger.With("export", cfg.ID, "method", cfg.Method, "format", cfg.Format)

	if cfg.Condition != "" && !r.eval.EvaluateBool(ctx, cfg.Condition, f) {
		logger.Info("Export condition not met, skipping.", "condition", cfg.Condition)
		res.Status = models.ExportSkipped
		return res
	}

	fail := func(err error) models.ExportResult {
		err = models.NewError(models.KindExport, cfg.ID, err)
		logger.Error("Export failed.", "attempts", res.Attempts, "errorKind", models.KindExport, "error", err)
		res.Status = models.ExportFailed
		res.Error = err.Error()
		res.Duration = time.Since(start)
		return res
	}

	tr, ok := r.transports[cfg.Method]
	if !ok {
		return fail(fmt.Errorf("no transport for method %q", cfg.Method))
	}
	d, err := r.prepare(ctx, job, doc, f, cfg)
	if err != nil {
		return fail(err)
	}

	retry := retrySettings(job.Snapshot)
	backoff := retry.Backoff
	var lastErr error
	for i := 0; i < retry.Attempts; i++ {
		res.Attempts = i + 1
		dest, err := tr.Deliver(ctx, d)
		if err == nil {
			res.Status = models.ExportSucceeded
			res.Destination = dest
			res.Duration = time.Since(start)
			logger.Info("Export delivered.", "destination", dest, "attempts", res.Attempts)
			return res
		}
		lastErr = err
		var p permanent
		if errors.As(err, &p) || i == retry.Attempts-1 {
			break
		}
		logger.Warn("Export failed, will retry.",
			"attempt", i+1,
			"maxAttempts", retry.Attempts,
			"backoff", backoff.String(),
			"error", err,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fail(fmt.Errorf("cancelled during backoff: %w", errors.Join(ctx.Err(), lastErr)))
		}
	}
	return fail(lastErr)
}

func retrySettings(s *config.Snapshot) config.RetrySettings {
	rs := config.RetrySettings{Attempts: config.DefaultRetries, Backoff: config.DefaultRetryBackoff}
	if s != nil {
		if s.Settings.Retry.Attempts > 0 {
			rs.Attempts = s.Settings.Retry.Attempts
		}
		if s.Settings.Retry.Backoff > 0 {
			rs.Backoff = s.Settings.Retry.Backoff
		}
	}
	return rs
}

// prepare renders the format and resolves the destination expressions.
func (r *Router) prepare(ctx context.Context, job *services.Job, doc *models.Document, f models.Fields, cfg *models.ExportConfig) (*Delivery, error) {
	src, ext, contentType, err := r.render(ctx, job, doc, f, cfg)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", cfg.Format, err)
	}

	nameExpr := cfg.Filename
	if nameExpr == "" {
		nameExpr = config.DefaultFilename
	}
	name := expression.SanitizeFilename(r.eval.Evaluate(ctx, nameExpr, f))
	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}

	dir := r.eval.Evaluate(ctx, cfg.Path, f)
	if cfg.Method == models.MethodFile {
		dir = expression.SanitizePath(dir)
	}

	d := &Delivery{
		Config:      cfg,
		Source:      src,
		Dir:         dir,
		Name:        name,
		ContentType: contentType,
		Fields:      f,
		Sidecar:     job.Sidecar,
	}
	if job.Snapshot != nil {
		d.Settings = &job.Snapshot.Settings
	}
	if e := cfg.Email; e != nil {
		d.Mail = &Mail{
			To:            models.SplitAddresses(r.eval.Evaluate(ctx, e.Recipient, f)),
			CC:            models.SplitAddresses(r.eval.Evaluate(ctx, e.CC, f)),
			BCC:           models.SplitAddresses(r.eval.Evaluate(ctx, e.BCC, f)),
			Subject:       r.eval.Evaluate(ctx, e.Subject, f),
			Body:          r.eval.Evaluate(ctx, e.Body, f),
			AttachSidecar: e.AttachSidecar,
		}
	}
	return d, nil
}

// numbered returns name with _n inserted before the extension; n == 0
// yields name unchanged.
func numbered(name string, n int) string {
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
}

// maxNumbered bounds the search for a free destination name.
const maxNumbered = 10000
