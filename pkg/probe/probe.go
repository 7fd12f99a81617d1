// Package probe implements the Probe Engine (C1): a pure function over a
// ProbeCommand that returns a structured ProbeResult, with no I/O beyond the
// probe itself. It never retries — retry is the Scheduler's concern — and
// never panics; every executor path returns within timeoutMs+250ms.
package probe

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/guardantio/guardant/pkg/service"
)

// Status is the outcome of one probe.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// ErrorClass is the fixed taxonomy of probe failure causes.
type ErrorClass string

const (
	ErrorClassDNS        ErrorClass = "dns_error"
	ErrorClassConnect    ErrorClass = "connect_error"
	ErrorClassTLS        ErrorClass = "tls_error"
	ErrorClassTimeout    ErrorClass = "timeout"
	ErrorClassHTTPStatus ErrorClass = "http_status"
	ErrorClassValidation ErrorClass = "validation_error"
	ErrorClassInternal   ErrorClass = "internal_error"
)

// Command is the message from Scheduler to Worker that triggers one probe.
type Command struct {
	CommandID       uuid.UUID         `json:"commandId"`
	ServiceSnapshot service.Snapshot  `json:"serviceSnapshot"`
	ScheduledAt     int64             `json:"scheduledAt"` // epoch ms
	Deadline        int64             `json:"deadline"`    // epoch ms
	Attempt         int               `json:"attempt"`
}

// Result is the outcome of executing one Command.
type Result struct {
	ResultID   uuid.UUID       `json:"resultId"`
	CommandID  uuid.UUID       `json:"commandId"`
	ServiceID  uuid.UUID       `json:"serviceId"`
	NestID     uuid.UUID       `json:"nestId"`
	WorkerID   string          `json:"workerId"`
	RegionID   string          `json:"regionId"`
	StartedAt  time.Time       `json:"startedAt"`
	DurationMs int64           `json:"durationMs"`
	Status     Status          `json:"status"`
	StatusCode *int            `json:"statusCode,omitempty"`
	Message    *string         `json:"message,omitempty"`
	ErrorClass *ErrorClass     `json:"errorClass,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// msg builds a *string from a formatted message, satisfying the
// status=down-implies-message-present invariant (§3).
func msg(s string) *string { return &s }

func errClass(c ErrorClass) *ErrorClass { return &c }

func statusCode(code int) *int { return &code }
