package orchestrator

import (
	"errors"
	"testing"

	"github.com/vividverse/vividverse-backend/pkg/models"
)

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard()

	if err := g.Acquire("user-1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Second acquire for the same owner is rejected
	if err := g.Acquire("user-1"); !errors.Is(err, models.ErrAttemptInFlight) {
		t.Errorf("Acquire() error = %v, want ErrAttemptInFlight", err)
	}

	// Other owners are unaffected
	if err := g.Acquire("user-2"); err != nil {
		t.Errorf("Acquire() for other owner error = %v", err)
	}

	// Release frees the slot
	g.Release("user-1")
	if err := g.Acquire("user-1"); err != nil {
		t.Errorf("Acquire() after Release() error = %v", err)
	}
}

func TestGuard_ReleaseUnknownOwner(t *testing.T) {
	g := NewGuard()
	g.Release("never-acquired") // must not panic
}
