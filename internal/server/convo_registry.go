package server

import (
	"path/filepath"
	"sync"

	"github.com/kilnai/kiln/internal/convo"
)

// convoRegistry caches open *convo.LogManager handles by conversation
// id. Unlike the CLI, which owns one LogManager for its entire
// process lifetime, the HTTP server must hold the advisory lock across
// many independent requests for the same conversation, so handles are
// kept open and reused rather than Load/unlocked per request.
type convoRegistry struct {
	logsHome string

	mu   sync.Mutex
	open map[string]*convo.LogManager
}

func newConvoRegistry(logsHome string) *convoRegistry {
	return &convoRegistry{logsHome: logsHome, open: make(map[string]*convo.LogManager)}
}

func (r *convoRegistry) dir(id string) string {
	return filepath.Join(r.logsHome, id)
}

func (r *convoRegistry) get(id string) (*convo.LogManager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.open[id]
	return m, ok
}

// getOrLoad returns the cached handle for id, loading (and locking) it
// from disk on first access.
func (r *convoRegistry) getOrLoad(id string) (*convo.LogManager, error) {
	if m, ok := r.get(id); ok {
		return m, nil
	}

	m, err := convo.Load(r.dir(id), true)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.open[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.open[id] = m
	r.mu.Unlock()
	return m, nil
}

// create registers a freshly-created LogManager under id.
func (r *convoRegistry) create(id string, m *convo.LogManager) {
	r.mu.Lock()
	r.open[id] = m
	r.mu.Unlock()
}
