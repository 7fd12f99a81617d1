package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// WebConfig is the typeConfig shape for type=web and type=keyword.
type WebConfig struct {
	Method      string   `json:"method"`
	DegradedOn  []int    `json:"degradedOn"`
	Keyword     string   `json:"keyword"`
	CaseSens    bool     `json:"caseSensitive"`
	ShouldHave  bool     `json:"shouldContain"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// DNSConfig is the typeConfig shape for type=dns.
type DNSConfig struct {
	RecordType    string `json:"recordType"`
	ExpectedValue string `json:"expectedValue,omitempty"`
}

// HeartbeatConfig is the typeConfig shape for type=heartbeat.
type HeartbeatConfig struct {
	HeartbeatID string `json:"heartbeatId"`
	ToleranceMs int64  `json:"toleranceMs"`
}

// GitHubConfig is the typeConfig shape for type=github.
type GitHubConfig struct {
	Token string `json:"token,omitempty"`
}

// UptimeAPIConfig is the typeConfig shape for type=uptime-api.
type UptimeAPIConfig struct {
	URL           string `json:"url"`
	JSONPath      string `json:"jsonPath"`
	ExpectedValue string `json:"expectedValue"`
}

// DecodeWebConfig parses typeConfig as WebConfig, defaulting Method to HEAD.
func DecodeWebConfig(raw json.RawMessage) (WebConfig, error) {
	cfg := WebConfig{Method: "HEAD"}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return WebConfig{}, fmt.Errorf("decoding web typeConfig: %w", err)
	}
	if cfg.Method == "" {
		cfg.Method = "HEAD"
	}
	return cfg, nil
}

// DecodeDNSConfig parses typeConfig as DNSConfig, defaulting RecordType to A.
func DecodeDNSConfig(raw json.RawMessage) (DNSConfig, error) {
	cfg := DNSConfig{RecordType: "A"}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DNSConfig{}, fmt.Errorf("decoding dns typeConfig: %w", err)
	}
	if cfg.RecordType == "" {
		cfg.RecordType = "A"
	}
	return cfg, nil
}

// DecodeHeartbeatConfig parses typeConfig as HeartbeatConfig.
func DecodeHeartbeatConfig(raw json.RawMessage) (HeartbeatConfig, error) {
	var cfg HeartbeatConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return HeartbeatConfig{}, fmt.Errorf("decoding heartbeat typeConfig: %w", err)
	}
	if cfg.HeartbeatID == "" {
		return HeartbeatConfig{}, fmt.Errorf("heartbeat typeConfig missing heartbeatId")
	}
	return cfg, nil
}

// DecodeGitHubConfig parses typeConfig as GitHubConfig.
func DecodeGitHubConfig(raw json.RawMessage) (GitHubConfig, error) {
	var cfg GitHubConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GitHubConfig{}, fmt.Errorf("decoding github typeConfig: %w", err)
	}
	return cfg, nil
}

// DecodeUptimeAPIConfig parses typeConfig as UptimeAPIConfig.
func DecodeUptimeAPIConfig(raw json.RawMessage) (UptimeAPIConfig, error) {
	var cfg UptimeAPIConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return UptimeAPIConfig{}, fmt.Errorf("decoding uptime-api typeConfig: %w", err)
	}
	if cfg.URL == "" {
		return UptimeAPIConfig{}, fmt.Errorf("uptime-api typeConfig missing url")
	}
	return cfg, nil
}

// ParseQuorum extracts n from a "quorum(n)" strategy string.
// ok is false if s is not a well-formed quorum strategy.
func ParseQuorum(s string) (n int, ok bool) {
	if !strings.HasPrefix(s, StrategyQuorumPrefix) || !strings.HasSuffix(s, ")") {
		return 0, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, StrategyQuorumPrefix), ")")
	v, err := strconv.Atoi(inner)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
