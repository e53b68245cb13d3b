package gpu

import "fmt"

// ThreadGuard records the OS thread that created a GPU object. GPU contexts
// are bound to one thread, so every access is checked against the owner.
//
// Callers that own a context must pin their goroutine with
// runtime.LockOSThread before creating guarded objects.
type ThreadGuard struct {
	owner int64
}

// NewThreadGuard binds a guard to the calling thread.
func NewThreadGuard() ThreadGuard {
	return ThreadGuard{owner: currentThreadID()}
}

// IsCurrent reports whether the calling thread owns the guard.
func (g ThreadGuard) IsCurrent() bool {
	return g.owner == currentThreadID()
}

// Check returns ErrWrongThread when called from a thread other than the owner.
func (g ThreadGuard) Check() error {
	if id := currentThreadID(); id != g.owner {
		return fmt.Errorf("%w (owner %d, caller %d)", ErrWrongThread, g.owner, id)
	}
	return nil
}

// Must panics when called from a thread other than the owner. Used on entry
// points that have no error return.
func (g ThreadGuard) Must() {
	if err := g.Check(); err != nil {
		panic(err)
	}
}
