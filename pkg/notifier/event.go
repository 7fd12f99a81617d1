// Package notifier implements the Notification Dispatcher (C9): consumes
// incident transition events off the broker and fans them out to every
// webhook/email/Slack target configured on the affected Service, signing
// webhook payloads and retrying failed deliveries with backoff (§4.9).
package notifier

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/incident"
)

// EventType is the fixed taxonomy of notification-worthy transitions.
type EventType string

const (
	EventIncidentStarted    EventType = "incident-started"
	EventIncidentResolved   EventType = "incident-resolved"
	EventMaintenanceStarted EventType = "maintenance-started"
	EventMaintenanceEnded   EventType = "maintenance-ended"
)

// Event is the payload the Ingestor publishes on an incident transition
// (§4.9 payload contract).
type Event struct {
	Type        EventType         `json:"type"`
	NestID      uuid.UUID         `json:"nestId"`
	ServiceID   uuid.UUID         `json:"serviceId"`
	ServiceName string            `json:"serviceName"`
	Incident    incident.Incident `json:"incident"`
	Timestamp   time.Time         `json:"timestamp"`
}

// DecodeEvent parses an Event from its JSON wire form.
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(raw, &e)
	return e, err
}
