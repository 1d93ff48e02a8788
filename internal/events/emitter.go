// Package events implements the per-session publish/subscribe channel that
// fans workflow progress events out to connected clients.
//
// Publishing never blocks the orchestrator: each subscriber has a buffered
// channel and a slow or absent subscriber simply misses events. Publish
// order to each live subscriber matches publish order at the emitter.
package events

import (
	"sync"

	"github.com/doculens/doculens/pkg/models"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber channel capacity.
const subscriberBuffer = 32

// Subscription is a live handle on one session's event stream.
type Subscription struct {
	// C delivers events in publish order. It is closed when the run
	// finishes or the subscription is torn down.
	C <-chan models.Event

	sessionID string
	ch        chan models.Event
}

// SessionID returns the session this subscription is attached to.
func (s *Subscription) SessionID() string { return s.sessionID }

// Emitter fans events out to zero or more subscribers per session and keeps
// a per-session backlog so late subscribers can explicitly request replay.
type Emitter struct {
	mu       sync.RWMutex
	subs     map[string][]*Subscription
	backlog  map[string][]models.Event
	finished map[string]bool
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		subs:     make(map[string][]*Subscription),
		backlog:  make(map[string][]models.Event),
		finished: make(map[string]bool),
	}
}

// Subscribe attaches a new subscriber to a session. With replay, events
// already published to the session are delivered first, in their original
// order; without it the subscriber only sees events published after this
// call. Subscribing to a finished session returns an already-closed (and,
// with replay, pre-filled) channel.
func (e *Emitter) Subscribe(sessionID string, replay bool) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	backlog := e.backlog[sessionID]
	size := subscriberBuffer
	if replay && len(backlog) > size {
		size = len(backlog)
	}
	ch := make(chan models.Event, size)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID}

	if replay {
		for _, evt := range backlog {
			ch <- evt
		}
	}

	if e.finished[sessionID] {
		close(ch)
		return sub
	}
	e.subs[sessionID] = append(e.subs[sessionID], sub)
	return sub
}

// Unsubscribe detaches a subscriber and closes its channel. Safe to call
// after the session finished.
func (e *Emitter) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subs[sub.sessionID]
	for i, s := range subs {
		if s == sub {
			e.subs[sub.sessionID] = append(subs[:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Publish appends the event to the session backlog and delivers it to every
// live subscriber. Non-blocking: a full subscriber buffer drops the event
// for that subscriber only.
func (e *Emitter) Publish(sessionID string, evt models.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished[sessionID] {
		return
	}
	e.backlog[sessionID] = append(e.backlog[sessionID], evt)

	for _, sub := range e.subs[sessionID] {
		select {
		case sub.ch <- evt:
		default:
			log.Debug().
				Str("session_id", sessionID).
				Str("agent", evt.Agent).
				Msg("Subscriber too slow, dropping event")
		}
	}
}

// Finish marks the session's stream complete: all subscriber channels are
// closed and further publishes are ignored. The backlog stays available for
// late replay subscribers until Forget is called.
func (e *Emitter) Finish(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished[sessionID] {
		return
	}
	e.finished[sessionID] = true
	for _, sub := range e.subs[sessionID] {
		close(sub.ch)
	}
	delete(e.subs, sessionID)
}

// Forget drops the session's backlog and finished marker. Callers use it to
// bound memory once a session's stream is no longer interesting.
func (e *Emitter) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.backlog, sessionID)
	delete(e.finished, sessionID)
	delete(e.subs, sessionID)
}

// Backlog returns a copy of the events published to a session so far.
func (e *Emitter) Backlog(sessionID string) []models.Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	backlog := e.backlog[sessionID]
	out := make([]models.Event, len(backlog))
	copy(out, backlog)
	return out
}
