package ml

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Model owns the pipeline a serving process loaded at startup. It is
// created once by LoadModel, read concurrently for the life of the process
// and released with Close. The pipeline is never swapped: a new artifact
// on disk only takes effect after a restart.
type Model struct {
	pipeline *Pipeline
	path     string
	loadedAt time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// LoadModel reads the artifact at path. The error wraps ErrArtifactMissing
// or ErrArtifactCorrupt when the artifact cannot be served.
func LoadModel(path string, logger *zap.Logger) (*Model, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no artifact path configured", ErrArtifactMissing)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	p, err := LoadPipeline(abs)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline loaded",
		zap.String("path", abs),
		zap.Int("schema_version", p.SchemaVersion),
		zap.Int("reference_year", p.ReferenceYear),
		zap.Int("features", p.Width()),
		zap.Time("trained_at", p.TrainedAt),
	)
	return &Model{
		pipeline: p,
		path:     abs,
		loadedAt: time.Now(),
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// NewModel wraps an in-memory pipeline, mainly for tests and tools.
func NewModel(p *Pipeline, logger *zap.Logger) (*Model, error) {
	if p == nil {
		return nil, errors.New("pipeline is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{pipeline: p, loadedAt: time.Now(), logger: logger, done: make(chan struct{})}, nil
}

func (m *Model) Pipeline() *Pipeline { return m.pipeline }

func (m *Model) Path() string { return m.path }

func (m *Model) LoadedAt() time.Time { return m.loadedAt }

// Watch logs a warning whenever the artifact file is replaced or removed
// while this process keeps serving the pipeline it loaded.
func (m *Model) Watch() error {
	if m.path == "" {
		return errors.New("model was not loaded from a file")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return err
	}
	m.watcher = w
	go m.watch(w)
	return nil
}

func (m *Model) watch(w *fsnotify.Watcher) {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				m.logger.Warn("artifact changed on disk; restart to serve it",
					zap.String("path", m.path),
					zap.String("op", event.Op.String()),
					zap.Time("loaded_at", m.loadedAt),
				)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Error("artifact watcher", zap.Error(err))
		}
	}
}

// Close stops the watcher. The pipeline stays readable by requests still
// in flight.
func (m *Model) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.watcher != nil {
			err = m.watcher.Close()
		}
	})
	return err
}
