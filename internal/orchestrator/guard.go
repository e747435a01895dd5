package orchestrator

import (
	"sync"

	"github.com/vividverse/vividverse-backend/pkg/models"
)

// Guard allows at most one in-flight generation attempt per owner. The
// record store itself is last-write-wins, so the guard is the only defense
// against a double submission racing itself.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{
		inflight: make(map[string]struct{}),
	}
}

// Acquire reserves the owner's attempt slot. It returns
// models.ErrAttemptInFlight when an attempt for the owner is already
// running.
func (g *Guard) Acquire(ownerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.inflight[ownerID]; exists {
		return models.ErrAttemptInFlight
	}
	g.inflight[ownerID] = struct{}{}
	return nil
}

// Release frees the owner's attempt slot.
func (g *Guard) Release(ownerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, ownerID)
}
