package playback

import (
	"log/slog"
	"sync"

	"skytour/pkg/model"
)

// Manager is the FIFO of POIs waiting to be narrated. A POI id is held at
// most once.
type Manager struct {
	mu    sync.RWMutex
	queue []*model.POI
}

// NewManager creates an empty queue.
func NewManager() *Manager {
	return &Manager{
		queue: make([]*model.POI, 0),
	}
}

// Enqueue appends p to the queue. It reports false when p is already queued.
func (m *Manager) Enqueue(p *model.POI) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(p.ID) >= 0 {
		return false
	}
	m.queue = append(m.queue, p)
	slog.Debug("PlaybackQueue: Enqueued POI", "poi", p.ID, "queue_len", len(m.queue))
	return true
}

// Pop retrieves and removes the next POI from the queue.
func (m *Manager) Pop() *model.POI {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	p := m.queue[0]
	m.queue = m.queue[1:]
	return p
}

// Remove drops the POI with id from the queue. Returns true if found.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexLocked(id)
	if i < 0 {
		return false
	}
	m.queue = append(m.queue[:i], m.queue[i+1:]...)
	return true
}

// Count returns the number of items in the queue.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

// IDs returns the queued POI ids in order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, len(m.queue))
	for i, p := range m.queue {
		ids[i] = p.ID
	}
	return ids
}

// Clear clears the queue.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = make([]*model.POI, 0)
}

func (m *Manager) indexLocked(id string) int {
	for i, p := range m.queue {
		if p.ID == id {
			return i
		}
	}
	return -1
}
