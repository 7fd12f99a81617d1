// Package service models a monitored target owned by exactly one Nest.
// Services are created and updated by the admin API (out of scope, §1);
// the core only observes them — the Scheduler polls for changes and the
// Probe Engine reads typeConfig to execute a check.
package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the tagged-union discriminator for a Service's probe kind.
// Unknown types fail validation at write time in the admin API, never here.
type Type string

const (
	TypeWeb       Type = "web"
	TypeTCP       Type = "tcp"
	TypePing      Type = "ping"
	TypeDNS       Type = "dns"
	TypeKeyword   Type = "keyword"
	TypeHeartbeat Type = "heartbeat"
	TypeGitHub    Type = "github"
	TypePort      Type = "port"
	TypeUptimeAPI Type = "uptime-api"
)

// Valid reports whether t is one of the fixed enum values.
func (t Type) Valid() bool {
	switch t {
	case TypeWeb, TypeTCP, TypePing, TypeDNS, TypeKeyword, TypeHeartbeat, TypeGitHub, TypePort, TypeUptimeAPI:
		return true
	}
	return false
}

// Strategy is the rule converting per-region outcomes into an aggregated status.
type Strategy string

const (
	StrategyAll     Strategy = "all"
	StrategyClosest Strategy = "closest"
	StrategyAny     Strategy = "any"
	// StrategyQuorum is the prefix for "quorum(n)"; see ParseQuorum.
	StrategyQuorumPrefix = "quorum("
)

// Monitoring holds the region/strategy configuration for a Service.
type Monitoring struct {
	Regions  []string `json:"regions"`
	Strategy string   `json:"strategy"`
}

// Notifications holds the delivery targets for incident transitions.
type Notifications struct {
	Webhooks []string `json:"webhooks"`
	Emails   []string `json:"emails"`
	// SlackChannels supplements the webhook/email set with direct chat
	// delivery (§4.9 supplemental channel).
	SlackChannels []string `json:"slackChannels"`
}

// Service is a monitored target.
type Service struct {
	ID              uuid.UUID       `json:"id"`
	NestID          uuid.UUID       `json:"nestId"`
	Name            string          `json:"name"`
	Type            Type            `json:"type"`
	Target          string          `json:"target"`
	IntervalSeconds int             `json:"intervalSeconds"`
	TimeoutMs       int             `json:"timeoutMs"`
	TypeConfig      json.RawMessage `json:"typeConfig"`
	Monitoring      Monitoring      `json:"monitoring"`
	Notifications   Notifications   `json:"notifications"`
	IsActive        bool            `json:"isActive"`
	// Revision is a monotonic version of this snapshot, bumped on every
	// admin-API write; the Scheduler's change-feed polls for rows with a
	// higher revision and skips upserts whose revision it already applied.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the immutable subset of Service fields a ProbeCommand carries
// to the worker — exactly the fields the Probe Engine needs to execute.
type Snapshot struct {
	ID         uuid.UUID       `json:"id"`
	NestID     uuid.UUID       `json:"nestId"`
	Type       Type            `json:"type"`
	Target     string          `json:"target"`
	TypeConfig json.RawMessage `json:"typeConfig"`
	TimeoutMs  int             `json:"timeoutMs"`
}

// ToSnapshot extracts the immutable probe-execution fields from a Service.
func (s Service) ToSnapshot() Snapshot {
	return Snapshot{
		ID:         s.ID,
		NestID:     s.NestID,
		Type:       s.Type,
		Target:     s.Target,
		TypeConfig: s.TypeConfig,
		TimeoutMs:  s.TimeoutMs,
	}
}
