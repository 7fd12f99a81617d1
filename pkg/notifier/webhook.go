package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// webhookPayload is the JSON body posted to a tenant's webhook URL.
type webhookPayload struct {
	Type        EventType `json:"type"`
	NestID      string    `json:"nestId"`
	ServiceID   string    `json:"serviceId"`
	ServiceName string    `json:"serviceName"`
	Incident    any       `json:"incident"`
	Timestamp   time.Time `json:"timestamp"`
}

// SecretLookup resolves a Nest's webhook-signing secret. Returning an empty
// string is valid — the request is still sent, just unsigned — so a nest
// with no secret configured yet isn't blocked from receiving webhooks.
type SecretLookup func(ctx context.Context, nestID string) (string, error)

// WebhookProvider delivers events as signed HTTP POSTs (§4.9).
type WebhookProvider struct {
	client *http.Client
	secret SecretLookup
}

// NewWebhookProvider constructs a WebhookProvider. secret resolves the
// per-nest signing key; client is reused across deliveries for connection
// pooling.
func NewWebhookProvider(client *http.Client, secret SecretLookup) *WebhookProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookProvider{client: client, secret: secret}
}

func (p *WebhookProvider) Name() string { return "webhook" }

// Deliver POSTs the event to target, signing the body with the nest's
// webhook secret when one is configured. The signature covers
// "timestamp.body" and is carried as the bare hex HMAC in
// X-GuardAnt-Signature, with the unix-seconds timestamp it was computed
// over in a separate X-GuardAnt-Timestamp header (§6, §8.9).
func (p *WebhookProvider) Deliver(ctx context.Context, target string, ev Event) error {
	body, err := json.Marshal(webhookPayload{
		Type:        ev.Type,
		NestID:      ev.NestID.String(),
		ServiceID:   ev.ServiceID.String(),
		ServiceName: ev.ServiceName,
		Incident:    ev.Incident,
		Timestamp:   ev.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GuardAnt-Event", string(ev.Type))

	secret, err := p.secret(ctx, ev.NestID.String())
	if err != nil {
		return fmt.Errorf("resolving webhook secret: %w", err)
	}
	if secret != "" {
		ts := time.Now().UTC().Unix()
		req.Header.Set("X-GuardAnt-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-GuardAnt-Signature", sign(secret, ts, body))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook to %s: %w", target, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s responded %d", target, resp.StatusCode)
	}
	return nil
}

// sign computes the bare hex HMAC-SHA256 over "timestamp.body", the value
// carried in X-GuardAnt-Signature (§8.9). The timestamp itself travels in
// the separate X-GuardAnt-Timestamp header, not embedded in this value.
func sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// maxSignatureAge rejects stale deliveries replayed more than 5 minutes
// after signing (§4.9). Receivers are expected to apply this check on
// their end; VerifySignature applies it so our own tests and any in-process
// receiver stub use the same rule.
const maxSignatureAge = 5 * time.Minute

// VerifySignature recomputes the signature over body with secret and the
// timestamp carried in X-GuardAnt-Timestamp, checking it against the bare
// hex HMAC in X-GuardAnt-Signature and rejecting timestamps older than
// maxSignatureAge. It is the receiver-side counterpart of sign, kept here
// so an operator implementing a webhook receiver has a reference
// implementation matching this core's signing scheme exactly.
func VerifySignature(secret, timestampHeader, signatureHeader string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp header: %w", err)
	}
	age := now.Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > maxSignatureAge {
		return fmt.Errorf("signature timestamp %d outside allowed window", ts)
	}
	want := sign(secret, ts, body)
	if !hmac.Equal([]byte(want), []byte(signatureHeader)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
