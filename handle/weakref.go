package handle

import "sync"

// WeakRef is the shared control block behind a weak reference, as
// described for the handle/object layer: it survives the referent and
// prevents the revival race where a caller resolves a reference to an
// object mid-destruction. Lock and Release both take the same mutex,
// so a Lock that observes alive==true is guaranteed to have completed
// before, not concurrently with, a competing Release.
type WeakRef[T any] struct {
	mu    sync.Mutex
	alive bool
	obj   *T
}

// NewWeakRef wraps obj in a control block marked alive. The owner of
// obj calls Release exactly once, when obj is being torn down.
func NewWeakRef[T any](obj *T) *WeakRef[T] {
	return &WeakRef[T]{alive: true, obj: obj}
}

// Lock attempts to retain the referent. It returns (obj, true) if the
// referent is still alive, or (nil, false) once Release has run.
func (w *WeakRef[T]) Lock() (*T, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.alive {
		return nil, false
	}
	return w.obj, true
}

// Release marks the referent dead and drops the control block's
// pointer. Subsequent Lock calls observe alive==false atomically with
// respect to any Lock already in flight, because both hold w.mu.
func (w *WeakRef[T]) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.alive = false
	w.obj = nil
}

// Alive reports the current liveness without retaining the referent.
func (w *WeakRef[T]) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}
