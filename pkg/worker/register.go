package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// registerRequest mirrors the wire contract in §6: POST
// /api/public/workers/register.
type registerRequest struct {
	WorkerID     string       `json:"workerId"`
	OwnerEmail   string       `json:"ownerEmail"`
	RegionHint   string       `json:"regionHint"`
	Capabilities Capabilities `json:"capabilities"`
	Version      string       `json:"version"`
}

// brokerCredentials mirrors pkg/registry.BrokerCredentials on the wire; the
// worker only ever needs the fields, not the registry's own type.
type brokerCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	Status            string            `json:"status"`
	BrokerCredentials brokerCredentials `json:"brokerCredentials,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
}

// registrationClient posts self-registration to the public boundary and
// polls until the Registry approves the worker (§4.2 steps b-c).
type registrationClient struct {
	baseURL string
	client  *http.Client
}

func newRegistrationClient(baseURL string, client *http.Client) *registrationClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &registrationClient{baseURL: baseURL, client: client}
}

// attempt submits one registration POST, returning the decoded response
// regardless of whether the worker is pending or already active.
func (c *registrationClient) attempt(ctx context.Context, req registerRequest) (registerResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return registerResponse{}, fmt.Errorf("encoding registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/public/workers/register", bytes.NewReader(body))
	if err != nil {
		return registerResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return registerResponse{}, fmt.Errorf("posting registration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return registerResponse{}, fmt.Errorf("registration rejected: status %d", resp.StatusCode)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return registerResponse{}, fmt.Errorf("decoding registration response: %w", err)
	}
	return out, nil
}

// awaitApproval retries attempt on the given poll interval until the
// Registry reports the worker active, ctx is cancelled, or a registration
// is outright rejected (e.g. the worker was previously revoked).
func (c *registrationClient) awaitApproval(ctx context.Context, req registerRequest, poll time.Duration, log *slog.Logger) (registerResponse, error) {
	for {
		resp, err := c.attempt(ctx, req)
		if err != nil {
			log.Warn("worker registration attempt failed", "error", err)
		} else if resp.Status == "active" {
			return resp, nil
		} else {
			log.Info("worker registration pending approval", "status", resp.Status)
		}

		select {
		case <-ctx.Done():
			return registerResponse{}, ctx.Err()
		case <-time.After(poll):
		}
	}
}
