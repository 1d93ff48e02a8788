// Package protocol implements the advisory agent-to-agent message bus.
//
// Agents use the bus to notify peers of intermediate findings (for example
// "entities-discovered") while a workflow runs. Delivery is best-effort and
// asynchronous: a full inbox drops the message rather than blocking the
// sender, because the dependency graph, not the bus, is the sole source of
// truth for execution order and completion.
package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/doculens/doculens/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultInboxSize is the per-recipient queue capacity.
const DefaultInboxSize = 16

// UnknownParticipantError reports a message addressed to or from a name that
// was never registered. This is a programming error in agent wiring.
type UnknownParticipantError struct {
	Name string
}

func (e *UnknownParticipantError) Error() string {
	return fmt.Sprintf("unknown participant: %s", e.Name)
}

// Sender is the narrow capability handed to agents.
type Sender interface {
	Send(msg models.Message) error
}

// Bus routes messages between a fixed set of participants. The participant
// set is established at construction and never changes, mirroring the
// immutable agent registry.
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]chan models.Message
	closed  bool
}

// NewBus creates a bus with one FIFO inbox per participant.
func NewBus(participants []string) *Bus {
	inboxes := make(map[string]chan models.Message, len(participants))
	for _, name := range participants {
		inboxes[name] = make(chan models.Message, DefaultInboxSize)
	}
	return &Bus{inboxes: inboxes}
}

// Send validates the sender and recipient and enqueues the message for
// asynchronous delivery. The recipient may be models.Broadcast, which
// delivers to every participant except the sender. Missing ID and Timestamp
// fields are filled in; the message is immutable after that.
//
// Delivery to a single recipient preserves send order. A full inbox drops
// the message; the bus is advisory and must never stall a workflow.
func (b *Bus) Send(msg models.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	if _, ok := b.inboxes[msg.Sender]; !ok {
		return &UnknownParticipantError{Name: msg.Sender}
	}
	if msg.Recipient != models.Broadcast {
		if _, ok := b.inboxes[msg.Recipient]; !ok {
			return &UnknownParticipantError{Name: msg.Recipient}
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if msg.Recipient == models.Broadcast {
		for name, ch := range b.inboxes {
			if name == msg.Sender {
				continue
			}
			b.deliver(ch, name, msg)
		}
		return nil
	}

	b.deliver(b.inboxes[msg.Recipient], msg.Recipient, msg)
	return nil
}

func (b *Bus) deliver(ch chan models.Message, recipient string, msg models.Message) {
	select {
	case ch <- msg:
	default:
		log.Debug().
			Str("sender", msg.Sender).
			Str("recipient", recipient).
			Str("type", msg.Type).
			Msg("Inbox full, dropping advisory message")
	}
}

// Inbox returns the receive channel for a participant. The second return is
// false for unregistered names.
func (b *Bus) Inbox(name string) (<-chan models.Message, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ch, ok := b.inboxes[name]
	return ch, ok
}

// Drain returns the messages currently queued for a participant without
// blocking. Agents call this at execution time to pick up any advisory
// notifications sent by peers that ran earlier.
func (b *Bus) Drain(name string) []models.Message {
	ch, ok := b.Inbox(name)
	if !ok {
		return nil
	}
	var msgs []models.Message
	for {
		select {
		case msg := <-ch:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// Close tears down the bus. Subsequent sends are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.inboxes {
		close(ch)
	}
}
