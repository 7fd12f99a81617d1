package notifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/incident"
)

func TestWebhookProvider_SignsWhenSecretPresent(t *testing.T) {
	var gotSig, gotTS string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-GuardAnt-Signature")
		gotTS = r.Header.Get("X-GuardAnt-Timestamp")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.Client(), func(ctx context.Context, nestID string) (string, error) {
		return "topsecret", nil
	})

	ev := Event{
		Type:        EventIncidentStarted,
		NestID:      uuid.New(),
		ServiceID:   uuid.New(),
		ServiceName: "api",
		Incident:    incident.Incident{Reason: "timeout"},
		Timestamp:   time.Now().UTC(),
	}

	if err := p.Deliver(context.Background(), srv.URL, ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig == "" {
		t.Fatalf("expected signature header to be set")
	}
	if gotTS == "" {
		t.Fatalf("expected timestamp header to be set")
	}
	if err := VerifySignature("topsecret", gotTS, gotSig, gotBody, time.Now().UTC()); err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
}

func TestWebhookProvider_UnsignedWhenNoSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-GuardAnt-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.Client(), func(ctx context.Context, nestID string) (string, error) {
		return "", nil
	})

	ev := Event{Type: EventIncidentResolved, NestID: uuid.New(), ServiceID: uuid.New(), ServiceName: "api", Timestamp: time.Now().UTC()}
	if err := p.Deliver(context.Background(), srv.URL, ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotSig != "" {
		t.Fatalf("expected no signature header, got %q", gotSig)
	}
}

func TestVerifySignature_RejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"x":1}`)
	ts := time.Now().Add(-10 * time.Minute).Unix()
	sig := sign("secret", ts, body)
	if err := VerifySignature("secret", strconv.FormatInt(ts, 10), sig, body, time.Now()); err == nil {
		t.Fatalf("expected stale signature to be rejected")
	}
}

func TestVerifySignature_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"x":1}`)
	ts := time.Now().Unix()
	sig := sign("secret", ts, body)
	if err := VerifySignature("secret", strconv.FormatInt(ts, 10), sig, []byte(`{"x":2}`), time.Now()); err == nil {
		t.Fatalf("expected tampered body to be rejected")
	}
}
