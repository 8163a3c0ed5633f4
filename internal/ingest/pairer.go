// Package ingest turns files arriving in a hotfolder into document pairs.
package ingest

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// State is the lifecycle position of a tracked primary file.
type State int

const (
	StateSeen State = iota
	StateStable
	StateAwaitingSidecar
	StateReady
)

func (s State) String() string {
	switch s {
	case StateSeen:
		return "seen"
	case StateStable:
		return "stable"
	case StateAwaitingSidecar:
		return "awaiting_sidecar"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// FileInfo is the part of a directory listing the pairer compares between
// polls.
type FileInfo struct {
	Size    int64
	ModTime time.Time
}

type Options struct {
	Patterns     []string
	SidecarExt   string
	ProcessPairs bool
	// StablePolls is the number of consecutive polls that must report the
	// same size and modification time.
	StablePolls int
	SidecarWait time.Duration
}

// OptionsFor derives pairing options from a hotfolder.
func OptionsFor(h *models.HotfolderConfig) Options {
	return Options{
		Patterns:     h.FilePatterns,
		SidecarExt:   h.SidecarExtension,
		ProcessPairs: h.ProcessPairs,
		StablePolls:  h.StablePolls,
		SidecarWait:  h.SidecarWait,
	}
}

type observation struct {
	info  FileInfo
	polls int
}

func (o *observation) observe(info FileInfo) {
	if o.polls > 0 && info == o.info {
		o.polls++
		return
	}
	o.info, o.polls = info, 1
}

type candidate struct {
	primary      string
	state        State
	file         observation
	sidecar      observation
	sidecarPath  string
	waitingSince time.Time
}

// Pairer is the pairing state machine of one hotfolder. It is driven by
// Tick with complete directory listings and is not safe for concurrent use.
type Pairer struct {
	opts     Options
	now      func() time.Time
	writable func(path string) bool
	logger   *slog.Logger

	tracked map[string]*candidate
	// emitted holds keys handed out during this watch session. An entry is
	// dropped once its primary leaves the folder.
	emitted map[string]bool
}

func NewPairer(opts Options, logger *slog.Logger) *Pairer {
	if opts.StablePolls < 1 {
		opts.StablePolls = 2
	}
	if opts.SidecarExt == "" {
		opts.SidecarExt = ".xml"
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.pdf"}
	}
	return &Pairer{
		opts:     opts,
		now:      time.Now,
		writable: openable,
		logger:   logger,
		tracked:  make(map[string]*candidate),
		emitted:  make(map[string]bool),
	}
}

// openable reports whether path can be opened for writing, which fails on
// platforms that lock files while another process writes them.
func openable(path string) bool {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Matches reports whether name matches one of the primary patterns,
// ignoring case.
func (p *Pairer) Matches(name string) bool {
	name = strings.ToLower(filepath.Base(name))
	if p.opts.ProcessPairs && strings.HasSuffix(name, strings.ToLower(p.opts.SidecarExt)) {
		return false
	}
	for _, pat := range p.opts.Patterns {
		if ok, _ := filepath.Match(strings.ToLower(pat), name); ok {
			return true
		}
	}
	return false
}

func key(path string) string {
	return strings.ToLower(strings.TrimSuffix(path, filepath.Ext(path)))
}

// Tick advances the state machine with a full listing of the folder and
// returns the pairs that became ready, ordered by primary path.
func (p *Pairer) Tick(files map[string]FileInfo) []models.DocumentPair {
	now := p.now()
	sidecars := make(map[string]string)
	present := make(map[string]bool)
	ext := strings.ToLower(p.opts.SidecarExt)
	for path := range files {
		if strings.HasSuffix(strings.ToLower(path), ext) {
			sidecars[key(path)] = path
		}
		if p.Matches(path) {
			present[key(path)] = true
		}
	}

	for k := range p.emitted {
		if !present[k] {
			delete(p.emitted, k)
		}
	}
	for k, c := range p.tracked {
		if !present[k] {
			p.logger.Debug("Tracked file disappeared before it was ready.", "file", c.primary)
			delete(p.tracked, k)
		}
	}

	var ready []models.DocumentPair
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		if !p.Matches(path) {
			continue
		}
		k := key(path)
		if p.emitted[k] {
			continue
		}
		c, ok := p.tracked[k]
		if !ok {
			c = &candidate{primary: path, state: StateSeen}
			p.tracked[k] = c
		}
		c.file.observe(files[path])
		if sc, ok := sidecars[k]; ok {
			if sc != c.sidecarPath {
				c.sidecarPath, c.sidecar = sc, observation{}
			}
			c.sidecar.observe(files[sc])
		} else {
			c.sidecarPath, c.sidecar = "", observation{}
		}

		if pair, ok := p.advance(c, now); ok {
			delete(p.tracked, k)
			p.emitted[k] = true
			ready = append(ready, pair)
		}
	}
	return ready
}

func (p *Pairer) advance(c *candidate, now time.Time) (models.DocumentPair, bool) {
	if c.state == StateSeen {
		if c.file.polls < p.opts.StablePolls || !p.writable(c.primary) {
			return models.DocumentPair{}, false
		}
		c.state = StateStable
	}
	if !p.opts.ProcessPairs {
		c.state = StateReady
		return models.NewDocumentPair(c.primary, ""), true
	}
	if c.sidecarPath != "" && c.sidecar.polls >= p.opts.StablePolls {
		c.state = StateReady
		return models.NewDocumentPair(c.primary, c.sidecarPath), true
	}
	if c.state == StateStable {
		c.state = StateAwaitingSidecar
		c.waitingSince = now
	}
	if now.Sub(c.waitingSince) >= p.opts.SidecarWait {
		c.state = StateReady
		p.logger.Warn("Sidecar did not arrive in time, continuing without it.",
			"file", c.primary, "errorKind", models.KindPairingTimeout, "wait", p.opts.SidecarWait)
		return models.NewDocumentPair(c.primary, ""), true
	}
	return models.DocumentPair{}, false
}

// Pending reports the state of every tracked primary, for status output.
func (p *Pairer) Pending() map[string]State {
	out := make(map[string]State, len(p.tracked))
	for _, c := range p.tracked {
		out[c.primary] = c.state
	}
	return out
}
