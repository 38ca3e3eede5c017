package playback

import (
	"sync"
	"time"

	"github.com/ipublishingjp/selenium-ide/pkg/model"
)

// PlaybackStateEvent is delivered on every playback state transition.
type PlaybackStateEvent struct {
	State State
	Test  string
	Err   error // set on errored and aborted
	At    time.Time
}

// CommandStateEvent is delivered on every per-command transition.
type CommandStateEvent struct {
	Test    string
	Depth   int // 0 for the played test, deeper for tests invoked with run
	Index   int
	Command model.Command
	Target  string // after interpolation, once known
	Value   string
	State   CommandState
	Message string
	Err     error
	At      time.Time
}

// Listener receives events of type T.
type Listener[T any] func(T)

type subscription[T any] struct {
	id int
	fn Listener[T]
}

// Emitter delivers events synchronously to its listeners in subscription
// order. A listener that blocks holds up the run.
type Emitter[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription[T]
}

// Subscribe adds fn and returns a function that removes it.
func (e *Emitter[T]) Subscribe(fn Listener[T]) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.subs = append(e.subs, subscription[T]{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every listener with ev. Listeners subscribed during delivery
// see the next event, not this one.
func (e *Emitter[T]) Emit(ev T) {
	e.mu.Lock()
	subs := make([]subscription[T], len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Len returns the number of listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}
