package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"agent-platform/internal/bus"
)

func TestRegister_DeliversNotificationsToSink(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New(log)
	defer b.Close()

	sink := NewMemorySink()
	Register(b, sink, log)

	err := b.Publish(context.Background(), bus.TopicNotificationSend, "tn-1", bus.NotificationSend{
		Code:    "escalation.opened",
		Subject: "Conversation escalated",
		Body:    "needs a human",
		Ref:     "tick-1",
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sent := sink.All(); len(sent) == 1 {
			if sent[0].TenantID != "tn-1" || sent[0].Note.Code != "escalation.opened" {
				t.Fatalf("bad delivery %+v", sent[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("notification never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
