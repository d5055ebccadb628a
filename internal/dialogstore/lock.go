package dialogstore

import (
	"sync"

	"github.com/agentsmithy/agentsmithy/internal/agentserr"
)

// dialogMutex is one dialog's turn-in-flight flag.
type dialogMutex struct {
	mu     sync.Mutex
	locked bool
}

// TurnLocker enforces turn atomicity: at most one turn may be in flight per
// dialog. Unlike a checkpoint Tracker's internal mutex
// (which serializes and waits), a second incoming turn on an already-locked
// dialog is rejected immediately with a conflict-kind error rather than
// queued, so the client gets an immediate 409 instead of a silent stall.
type TurnLocker struct {
	locks sync.Map // map[string]*dialogMutex
}

// NewTurnLocker creates an empty per-dialog turn locker.
func NewTurnLocker() *TurnLocker {
	return &TurnLocker{}
}

func (l *TurnLocker) getOrCreate(dialogID string) *dialogMutex {
	if m, ok := l.locks.Load(dialogID); ok {
		return m.(*dialogMutex)
	}
	actual, _ := l.locks.LoadOrStore(dialogID, &dialogMutex{})
	return actual.(*dialogMutex)
}

// TryLock acquires the turn lock for dialogID, returning agentserr.ErrDialogLocked
// if a turn is already in flight. On success it returns a release func that
// must be called exactly once when the turn completes.
func (l *TurnLocker) TryLock(dialogID string) (release func(), err error) {
	m := l.getOrCreate(dialogID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return nil, agentserr.ErrDialogLocked.WithDialogID(dialogID)
	}
	m.locked = true
	return func() {
		m.mu.Lock()
		m.locked = false
		m.mu.Unlock()
	}, nil
}

// IsLocked reports whether a turn is currently in flight for dialogID.
func (l *TurnLocker) IsLocked(dialogID string) bool {
	m := l.getOrCreate(dialogID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}
