package protocol

import (
	"fmt"
	"testing"

	"github.com/doculens/doculens/pkg/models"
)

func newTestBus() *Bus {
	return NewBus([]string{"coordinator", "summarizer", "extractor", "visualizer"})
}

func TestSend_UnknownSender(t *testing.T) {
	b := newTestBus()

	err := b.Send(models.Message{Sender: "stranger", Recipient: "summarizer", Type: "hello"})
	if err == nil {
		t.Fatal("Send() expected error for unknown sender")
	}
	if _, ok := err.(*UnknownParticipantError); !ok {
		t.Errorf("Send() error = %T, want *UnknownParticipantError", err)
	}
}

func TestSend_UnknownRecipient(t *testing.T) {
	b := newTestBus()

	err := b.Send(models.Message{Sender: "coordinator", Recipient: "nobody", Type: "hello"})
	if _, ok := err.(*UnknownParticipantError); !ok {
		t.Errorf("Send() error = %v, want *UnknownParticipantError", err)
	}
}

func TestSend_FIFOPerRecipient(t *testing.T) {
	b := newTestBus()

	for i := 0; i < 5; i++ {
		err := b.Send(models.Message{
			Sender:    "extractor",
			Recipient: "visualizer",
			Type:      "entities-discovered",
			Payload:   map[string]any{"seq": i},
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	got := b.Drain("visualizer")
	if len(got) != 5 {
		t.Fatalf("Drain() returned %d messages, want 5", len(got))
	}
	for i, msg := range got {
		if msg.Payload["seq"] != i {
			t.Errorf("message %d has seq %v, want %d (FIFO violated)", i, msg.Payload["seq"], i)
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Errorf("message %d missing ID or Timestamp", i)
		}
	}
}

func TestSend_Broadcast(t *testing.T) {
	b := newTestBus()

	if err := b.Send(models.Message{Sender: "coordinator", Recipient: models.Broadcast, Type: "task-delegation"}); err != nil {
		t.Fatalf("Send() broadcast error = %v", err)
	}

	for _, name := range []string{"summarizer", "extractor", "visualizer"} {
		if got := b.Drain(name); len(got) != 1 {
			t.Errorf("Drain(%s) = %d messages, want 1", name, len(got))
		}
	}
	// Sender must not receive its own broadcast
	if got := b.Drain("coordinator"); len(got) != 0 {
		t.Errorf("Drain(coordinator) = %d messages, want 0", len(got))
	}
}

func TestSend_FullInboxDropsInsteadOfBlocking(t *testing.T) {
	b := newTestBus()

	// Overfill the inbox; each Send must return promptly.
	for i := 0; i < DefaultInboxSize+10; i++ {
		if err := b.Send(models.Message{
			Sender:    "coordinator",
			Recipient: "summarizer",
			Type:      fmt.Sprintf("msg-%d", i),
		}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	got := b.Drain("summarizer")
	if len(got) != DefaultInboxSize {
		t.Errorf("Drain() = %d messages, want %d (overflow dropped)", len(got), DefaultInboxSize)
	}
	// The oldest messages survive; newest were dropped.
	if got[0].Type != "msg-0" {
		t.Errorf("first message = %s, want msg-0", got[0].Type)
	}
}

func TestSend_AfterCloseIsNoop(t *testing.T) {
	b := newTestBus()
	b.Close()

	if err := b.Send(models.Message{Sender: "coordinator", Recipient: "summarizer"}); err != nil {
		t.Errorf("Send() after Close error = %v, want nil", err)
	}
}
