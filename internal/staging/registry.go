package staging

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/open-edge-platform/fatconfig/internal/utils/logger"
)

// Registry tracks staging files that are still on disk so they can be removed
// if the process is interrupted before a session finishes.
type Registry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{paths: map[string]struct{}{}}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry used unless an orchestrator
// is given another one.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Add records path as live.
func (r *Registry) Add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths[path] = struct{}{}
}

// Remove forgets path without touching the file.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.paths, path)
}

// Len returns the number of live paths.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

// Cleanup removes every live file. It is best effort: all files are tried and
// the errors joined.
func (r *Registry) Cleanup() error {
	r.mu.Lock()
	paths := r.paths
	r.paths = map[string]struct{}{}
	r.mu.Unlock()

	log := logger.Logger()
	var errs []error
	for p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		log.Debugf("Removed staging file %s", p)
	}
	return errors.Join(errs...)
}

// HandleSignals removes all live files when SIGINT or SIGTERM arrives and
// then exits with status 130. The returned function stops the handler.
func (r *Registry) HandleSignals() (stop func()) {
	sigs := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigs:
			log := logger.Logger()
			log.Warnf("Received %v, removing staging files", sig)
			if err := r.Cleanup(); err != nil {
				log.Errorf("Staging cleanup failed: %v", err)
			}
			logger.Sync()
			os.Exit(130)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}
