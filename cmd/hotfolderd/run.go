package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/control"
	"github.com/Lllllllleong/hotfolderflow/internal/export"
	"github.com/Lllllllleong/hotfolderflow/internal/expression"
	"github.com/Lllllllleong/hotfolderflow/internal/fields"
	"github.com/Lllllllleong/hotfolderflow/internal/gcp"
	"github.com/Lllllllleong/hotfolderflow/internal/journal"
	"github.com/Lllllllleong/hotfolderflow/internal/ocr"
	"github.com/Lllllllleong/hotfolderflow/internal/pipeline"
	"github.com/Lllllllleong/hotfolderflow/internal/services"
	"github.com/urfave/cli/v2"
)

func runAction(c *cli.Context, env config.Env) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	holder, err := config.NewHolder(&config.FileStore{Path: env.ConfigPath, DefaultErrorPath: env.DefaultErrorPath})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	snap := holder.Current()
	logger.Info("Configuration loaded.", "source", snap.Source, "hotfolders", len(snap.Hotfolders))

	// The sqlite journal always exists: it also stores the counters.
	state, err := journal.OpenSQLite(ctx, env.StateDB)
	if err != nil {
		return err
	}
	defer state.Close()

	var runs journal.Journal = state
	if env.Journal == "firestore" {
		client, err := gcp.NewFirestoreClient(ctx, env.ProjectID, env.FirestoreDB, env.GCSCredentialsFile)
		if err != nil {
			return err
		}
		fs := journal.NewFirestoreJournal(client, env.FirestoreColl)
		defer fs.Close()
		runs = fs
	}

	notifier, err := journal.NewNotifier(env.NotifyURL, "hotfolderflow/"+hostname())
	if err != nil {
		return err
	}

	engine, closeEngine, err := newEngine(ctx, env)
	if err != nil {
		return err
	}
	defer closeEngine()
	raster, err := ocr.NewRasterizer(env.Rasterizer)
	if err != nil {
		return err
	}
	recognizer := ocr.NewRecognizer(engine, raster, env.OCRWorkers, logger)

	eval := expression.New(state, logger)
	lookup := fields.NewSQLLookup()
	defer lookup.Close()

	archival := services.NewConvertToArchival(recognizer)
	pipe := services.NewPipeline(
		services.NewRecognizeText(recognizer),
		services.NewCompress(),
		archival,
		services.NewSplit(recognizer),
		services.NewStamp(eval),
	)

	trigger, err := gcp.NewWorkflowTrigger(ctx, env.ProjectID, env.WorkflowLocation, env.WorkflowID)
	if err != nil {
		return err
	}
	if trigger != nil {
		defer trigger.Close()
	}
	router := export.NewRouter(eval, archival,
		export.FileTransport{},
		export.NewEmailTransport(),
		export.NewFTPTransport(),
		export.NewCloudTransport(export.CloudOptions{
			GCSCredentialsFile: env.GCSCredentialsFile,
			AWSRegion:          env.AWSRegion,
			AWSAccessKey:       env.AWSAccessKey,
			AWSSecretKey:       env.AWSSecretKey,
			Trigger:            trigger,
			Logger:             logger,
		}),
	)

	sup := pipeline.NewSupervisor(&pipeline.Deps{
		Holder:     holder,
		Pipeline:   pipe,
		Recognizer: recognizer,
		Fields:     fields.NewBuilder(eval, lookup, logger),
		Exporter:   router,
		Journal:    runs,
		Notifier:   notifier,
		Logger:     logger,
	})

	ln, err := control.Listen(env.ControlAddr)
	if err != nil {
		return err
	}
	ctrl := control.NewServer(ln, sup, logger)
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrl.Serve(ctx) }()

	var status *control.StatusServer
	if env.StatusAddr != "" {
		status = control.NewStatusServer(env.StatusAddr, sup, logger)
		go func() {
			if err := status.Start(); err != nil {
				logger.Error("Status endpoint stopped.", "error", err)
			}
		}()
	}

	sup.Start(ctx)
	logger.Info("Service started.", "control", env.ControlAddr)
	<-ctx.Done()

	logger.Info("Shutting down, waiting for documents in flight.", "timeout", env.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()
	if status != nil {
		if err := status.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Status endpoint shutdown failed.", "error", err)
		}
	}
	if err := <-ctrlDone; err != nil {
		logger.Warn("Control channel stopped with error.", "error", err)
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown incomplete.", "error", err)
		return err
	}
	logger.Info("Service stopped.")
	return nil
}

func newEngine(ctx context.Context, env config.Env) (ocr.Engine, func(), error) {
	switch env.OCREngine {
	case "tesseract":
		return ocr.NewTesseractEngine(), func() {}, nil
	case "vertex":
		client, err := gcp.NewVertexClient(ctx, env.ProjectID, env.VertexRegion, "")
		if err != nil {
			return nil, nil, err
		}
		return ocr.NewVertexEngine(client), func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown HOTFOLDER_OCR_ENGINE %q (tesseract or vertex)", env.OCREngine)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
