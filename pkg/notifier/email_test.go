package notifier

import (
	"context"
	"net/smtp"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestEmailProvider_BuildsMessageAndCallsSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	p := NewEmailProvider(SMTPConfig{Addr: "smtp.example.test:587", From: "alerts@guardant.io"})
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	ev := Event{
		Type:        EventIncidentStarted,
		NestID:      uuid.New(),
		ServiceID:   uuid.New(),
		ServiceName: "api",
		Timestamp:   time.Now().UTC(),
	}

	if err := p.Deliver(context.Background(), "oncall@example.test", ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotAddr != "smtp.example.test:587" {
		t.Fatalf("got addr %q", gotAddr)
	}
	if gotFrom != "alerts@guardant.io" {
		t.Fatalf("got from %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "oncall@example.test" {
		t.Fatalf("got to %+v", gotTo)
	}
	if len(gotMsg) == 0 {
		t.Fatalf("expected non-empty message body")
	}
}

func TestEmailProvider_PropagatesSendError(t *testing.T) {
	p := NewEmailProvider(SMTPConfig{Addr: "smtp.example.test:587", From: "alerts@guardant.io"})
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return context.DeadlineExceeded
	}
	if err := p.Deliver(context.Background(), "oncall@example.test", Event{}); err == nil {
		t.Fatalf("expected error to propagate")
	}
}
