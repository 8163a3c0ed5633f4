package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/config"
	"github.com/Lllllllleong/hotfolderflow/internal/ingest"
	"github.com/Lllllllleong/hotfolderflow/internal/journal"
	"github.com/Lllllllleong/hotfolderflow/internal/models"
	"golang.org/x/sync/errgroup"
)

// entry is one running hotfolder: its watcher and worker share a context
// and stop together.
type entry struct {
	worker *Worker
	watch  watchKey
	cancel context.CancelFunc
	done   chan struct{}
}

// watchKey holds the settings whose change requires a new watcher.
type watchKey struct {
	input        string
	patterns     string
	sidecarExt   string
	processPairs bool
	stablePolls  int
	pollInterval string
	sidecarWait  string
	queueSize    int
}

func keyOf(h *models.HotfolderConfig, queueSize int) watchKey {
	return watchKey{
		input:        h.InputPath,
		patterns:     fmt.Sprint(h.FilePatterns),
		sidecarExt:   h.SidecarExtension,
		processPairs: h.ProcessPairs,
		stablePolls:  h.StablePolls,
		pollInterval: h.PollInterval.String(),
		sidecarWait:  h.SidecarWait.String(),
		queueSize:    queueSize,
	}
}

// Supervisor owns the workers of all enabled hotfolders and applies
// configuration reloads to them.
type Supervisor struct {
	deps *Deps

	mu        sync.Mutex
	ctx       context.Context
	startedAt time.Time
	entries   map[string]*entry
	// stopped holds the final status of workers that were stopped.
	stopped map[string]models.WorkerStatus
	wg      sync.WaitGroup
}

func NewSupervisor(deps *Deps) *Supervisor {
	if deps.Journal == nil {
		deps.Journal = journal.Nop{}
	}
	return &Supervisor{
		deps:    deps,
		entries: make(map[string]*entry),
		stopped: make(map[string]models.WorkerStatus),
	}
}

// Start launches a worker for every enabled hotfolder of the current
// snapshot. A folder whose input cannot be watched fails alone.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	s.startedAt = s.deps.now()
	s.apply(s.deps.Holder.Current())
}

// Reload loads a new snapshot and reconciles the workers with it. Workers
// of removed or disabled folders stop after their current document; a
// folder whose watch settings changed is restarted once its previous
// worker has finished. On failure the previous snapshot stays active.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.deps.Holder.Reload(ctx)
	if err != nil {
		s.deps.Logger.Error("Configuration reload failed, keeping previous configuration.",
			"errorKind", models.KindConfigReload, "error", err)
		return err
	}
	if s.ctx == nil {
		return nil
	}
	s.apply(snap)
	s.deps.Logger.Info("Configuration reloaded.", "hotfolders", len(snap.Hotfolders), "source", snap.Source)
	return nil
}

// apply must be called with s.mu held.
func (s *Supervisor) apply(snap *config.Snapshot) {
	queueSize := snap.Settings.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}
	want := make(map[string]bool)
	for i := range snap.Hotfolders {
		h := &snap.Hotfolders[i]
		if !h.Enabled {
			continue
		}
		want[h.ID] = true
		key := keyOf(h, queueSize)
		old, running := s.entries[h.ID]
		if running && old.watch == key {
			continue
		}
		var after <-chan struct{}
		if running {
			old.cancel()
			after = old.done
			s.deps.Logger.Info("Restarting hotfolder after settings change.", "hotfolder", h.ID)
		}
		s.start(h, key, queueSize, after)
	}
	for id, e := range s.entries {
		if want[id] {
			continue
		}
		e.cancel()
		delete(s.entries, id)
		st := e.worker.Status()
		st.State = models.WorkerDisabled
		s.stopped[id] = st
		s.deps.Logger.Info("Hotfolder stopped.", "hotfolder", id)
	}
}

// start runs a hotfolder once after is closed, so two workers of the same
// folder never process concurrently.
func (s *Supervisor) start(h *models.HotfolderConfig, key watchKey, queueSize int, after <-chan struct{}) {
	ctx, cancel := context.WithCancel(s.ctx)
	w := newWorker(h, s.deps, queueSize)
	e := &entry{worker: w, watch: key, cancel: cancel, done: make(chan struct{})}
	s.entries[h.ID] = e
	delete(s.stopped, h.ID)

	pairer := ingest.NewPairer(ingest.OptionsFor(h), w.logger)
	watcher := ingest.NewWatcher(h.InputPath, h.PollInterval, pairer, w.logger)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(e.done)
		if after != nil {
			<-after
		}
		if ctx.Err() != nil {
			return
		}
		if err := watcher.Check(); err != nil {
			w.logger.Error("Hotfolder cannot be watched.", "error", err)
			w.fail(err)
			return
		}
		w.logger.Info("Hotfolder started.", "inputPath", h.InputPath, "actions", len(h.Actions))
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return watcher.Run(gctx, w.queue) })
		g.Go(func() error { return w.loop(gctx) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Hotfolder stopped with error.", "error", err)
			w.fail(err)
			return
		}
		if w.Status().State != models.WorkerFailed {
			w.setState(models.WorkerStopped, "")
		}
	}()
}

// Stop signals every worker and waits until in-flight documents are done
// or ctx expires.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, e := range s.entries {
		e.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers still busy at shutdown: %w", ctx.Err())
	}
}

// Status reports every configured hotfolder, sorted by id.
func (s *Supervisor) Status() []models.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.deps.Holder.Current()
	seen := make(map[string]bool)
	var out []models.WorkerStatus
	for _, e := range s.entries {
		out = append(out, e.worker.Status())
		seen[e.worker.id] = true
	}
	for i := range snap.Hotfolders {
		h := &snap.Hotfolders[i]
		if seen[h.ID] {
			continue
		}
		st, ok := s.stopped[h.ID]
		if !ok {
			st = models.WorkerStatus{HotfolderID: h.ID, Name: h.Name, InputPath: h.InputPath}
		}
		st.State = models.WorkerDisabled
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HotfolderID < out[j].HotfolderID })
	return out
}

// ServiceStatus reports the workers together with service-level times.
func (s *Supervisor) ServiceStatus() models.ServiceStatus {
	workers := s.Status()
	s.mu.Lock()
	started := s.startedAt
	s.mu.Unlock()
	return models.ServiceStatus{
		StartedAt:    started,
		ConfigLoaded: s.deps.Holder.Current().LoadedAt,
		Workers:      workers,
	}
}

// Worker returns the running worker of a hotfolder.
func (s *Supervisor) Worker(id string) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.worker, true
}

// IDs lists the running hotfolders.
func (s *Supervisor) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
