package session

import (
	"context"
	"encoding/json"
	"sync"

	"go.pilab.hu/usersync/domain"
)

// Ambient is the per-session context readers consult for the resolved user.
// Only the owning Bootstrap writes the user slot; the messages and action
// slots are free-form payloads any caller may replace.
type Ambient struct {
	mu       sync.RWMutex
	user     *domain.User
	messages json.RawMessage
	action   json.RawMessage
	watchers map[uint64]chan *domain.User
	nextID   uint64
	closed   bool
	done     chan struct{}
}

// NewAmbient creates an empty ambient context.
func NewAmbient() *Ambient {
	return &Ambient{
		watchers: make(map[uint64]chan *domain.User),
		done:     make(chan struct{}),
	}
}

// ResolvedUser returns a copy of the published user, or nil when none is
// resolved.
func (a *Ambient) ResolvedUser() *domain.User {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return cloneUser(a.user)
}

// Watch subscribes to published values. The channel first carries the
// current value and then the latest value after each publish; intermediate
// values may be skipped by slow readers. It is closed when ctx is done or
// the ambient context is closed.
func (a *Ambient) Watch(ctx context.Context) <-chan *domain.User {
	ch := make(chan *domain.User, 1)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		close(ch)
		return ch
	}
	id := a.nextID
	a.nextID++
	a.watchers[id] = ch
	ch <- cloneUser(a.user)
	a.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-a.done:
			return
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		if w, ok := a.watchers[id]; ok {
			delete(a.watchers, id)
			close(w)
		}
	}()

	return ch
}

// Messages returns the messages slot.
func (a *Ambient) Messages() json.RawMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return cloneRaw(a.messages)
}

// SetMessages replaces the messages slot.
func (a *Ambient) SetMessages(v json.RawMessage) {
	a.mu.Lock()
	a.messages = cloneRaw(v)
	a.mu.Unlock()
}

// Action returns the action slot.
func (a *Ambient) Action() json.RawMessage {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return cloneRaw(a.action)
}

// SetAction replaces the action slot.
func (a *Ambient) SetAction(v json.RawMessage) {
	a.mu.Lock()
	a.action = cloneRaw(v)
	a.mu.Unlock()
}

func (a *Ambient) publish(user *domain.User) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.user = cloneUser(user)
	for _, ch := range a.watchers {
		// Latest wins: drop an unread value before sending the new one.
		select {
		case <-ch:
		default:
		}
		ch <- cloneUser(user)
	}
}

// close publishes nil and ends every subscription.
func (a *Ambient) close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	close(a.done)
	a.user = nil
	for id, ch := range a.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- nil
		close(ch)
		delete(a.watchers, id)
	}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
