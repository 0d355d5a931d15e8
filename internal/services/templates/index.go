package templates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meme-tgbot-go/internal/middleware"
	"github.com/meme-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const loadKey = "load"

// Source produces the full template list
type Source interface {
	Load(ctx context.Context) ([]models.Template, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) ([]models.Template, error)

func (f SourceFunc) Load(ctx context.Context) ([]models.Template, error) {
	return f(ctx)
}

// State is the load state of the index
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// snapshot holds templates and the keywords derived from them. It is never mutated.
type snapshot struct {
	templates  []models.Template
	keywords   []string
	keywordSet map[string]struct{}
}

func newSnapshot(templates []models.Template) *snapshot {
	s := &snapshot{
		templates:  templates,
		keywordSet: make(map[string]struct{}),
	}
	for _, t := range templates {
		for _, k := range t.Keywords {
			s.keywords = append(s.keywords, k)
			s.keywordSet[k] = struct{}{}
		}
	}
	return s
}

var emptySnapshot = newSnapshot(nil)

// Index is a lazily loaded, refreshable template index
type Index struct {
	source      Source
	loadTimeout time.Duration
	logger      *logrus.Logger
	metrics     *middleware.Metrics

	mu         sync.RWMutex
	state      State
	snap       *snapshot
	generation uint64

	group     singleflight.Group
	refreshMu sync.Mutex
}

// NewIndex creates an unloaded index over source
func NewIndex(source Source, loadTimeout time.Duration, logger *logrus.Logger, metrics *middleware.Metrics) *Index {
	return &Index{
		source:      source,
		loadTimeout: loadTimeout,
		logger:      logger,
		metrics:     metrics,
		state:       StateUnloaded,
	}
}

// State returns the current load state
func (i *Index) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Counts returns the number of templates and keywords without triggering a load
func (i *Index) Counts() (templates, keywords int) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.snap == nil {
		return 0, 0
	}
	return len(i.snap.templates), len(i.snap.keywords)
}

func (i *Index) current(ctx context.Context) *snapshot {
	snap, _ := i.ensureLoaded(ctx)
	return snap
}

// ensureLoaded returns the ready snapshot, joining or starting the single in-flight load.
// A canceled ctx releases the caller with an empty snapshot; the load keeps going.
func (i *Index) ensureLoaded(ctx context.Context) (*snapshot, error) {
	i.mu.RLock()
	if i.state == StateReady {
		snap := i.snap
		i.mu.RUnlock()
		return snap, nil
	}
	i.mu.RUnlock()

	ch := i.group.DoChan(loadKey, func() (any, error) {
		return i.load()
	})

	select {
	case <-ctx.Done():
		return emptySnapshot, ctx.Err()
	case res := <-ch:
		return res.Val.(*snapshot), res.Err
	}
}

func (i *Index) load() (*snapshot, error) {
	i.mu.Lock()
	if i.state == StateReady {
		snap := i.snap
		i.mu.Unlock()
		return snap, nil
	}
	i.state = StateLoading
	gen := i.generation
	i.mu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), i.loadTimeout)
	templates, err := i.source.Load(ctx)
	cancel()

	snap := emptySnapshot
	switch {
	case err != nil:
		err = fmt.Errorf("failed to load templates: %w", err)
		i.logger.WithError(err).Error("Template load failed, index is empty until refresh")
	case len(templates) == 0:
		err = fmt.Errorf("template source returned no templates")
		i.logger.Error("Template source returned no templates, index is empty until refresh")
	default:
		snap = newSnapshot(templates)
		i.logger.WithFields(logrus.Fields{
			"templates": len(snap.templates),
			"keywords":  len(snap.keywords),
			"duration":  time.Since(start),
		}).Info("Templates loaded")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if gen != i.generation {
		i.logger.Debug("Discarding template load superseded by refresh")
		return snap, err
	}

	i.state = StateReady
	i.snap = snap
	i.metrics.SetTemplatesLoaded(len(snap.templates))

	return snap, err
}

// Refresh drops the current snapshot and reloads from the source.
// Refreshes are serialized; lookups during a refresh wait for the new load.
func (i *Index) Refresh(ctx context.Context) error {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()

	i.mu.Lock()
	i.generation++
	i.state = StateUnloaded
	i.snap = nil
	i.mu.Unlock()

	i.group.Forget(loadKey)

	_, err := i.ensureLoaded(ctx)
	return err
}

// FindByKeyword returns the first template whose key or keywords equal word
func (i *Index) FindByKeyword(ctx context.Context, word string) (*models.Template, bool) {
	snap := i.current(ctx)
	for idx := range snap.templates {
		if snap.templates[idx].HasKeyword(word) {
			t := snap.templates[idx]
			return &t, true
		}
	}
	return nil, false
}

// FindTriggerKeyword matches the first whitespace-delimited token of text against
// the known keywords. Only exact equality counts.
func (i *Index) FindTriggerKeyword(ctx context.Context, text string) (string, bool) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return "", false
	}

	snap := i.current(ctx)
	if _, ok := snap.keywordSet[words[0]]; ok {
		return words[0], true
	}
	return "", false
}

// KeywordExists reports whether word is a known trigger keyword
func (i *Index) KeywordExists(ctx context.Context, word string) bool {
	_, ok := i.current(ctx).keywordSet[word]
	return ok
}

// AllTemplates returns a copy of the loaded templates
func (i *Index) AllTemplates(ctx context.Context) []models.Template {
	snap := i.current(ctx)
	out := make([]models.Template, len(snap.templates))
	copy(out, snap.templates)
	return out
}

// AllKeywords returns a copy of the flattened keyword list
func (i *Index) AllKeywords(ctx context.Context) []string {
	snap := i.current(ctx)
	out := make([]string, len(snap.keywords))
	copy(out, snap.keywords)
	return out
}
