package registry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/guardantio/guardant/internal/audit"
	"github.com/guardantio/guardant/internal/httpserver"
	"github.com/guardantio/guardant/pkg/broker"
)

// Handler exposes the two public HTTP endpoints this core owns: worker
// self-registration and the install-script bootstrap (§6).
type Handler struct {
	registry   *Registry
	audit      *audit.Writer
	brokerAddr string
}

// NewHandler builds a Handler. auditWriter may be nil in tests that don't
// care about the fleet audit trail. brokerAddr is the address a newly
// active worker should connect to (the endpoints.broker field of §6's
// active response) — typically the same Redis address this core itself
// connects to.
func NewHandler(registry *Registry, auditWriter *audit.Writer, brokerAddr string) *Handler {
	return &Handler{registry: registry, audit: auditWriter, brokerAddr: brokerAddr}
}

// Mount wires the handler's routes onto the given public router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/workers/register", h.register)
	r.Get("/install", h.install)
}

type registerRequestBody struct {
	WorkerID     string       `json:"workerId"`
	OwnerEmail   string       `json:"ownerEmail"`
	RegionHint   string       `json:"regionHint"`
	Capabilities Capabilities `json:"capabilities"`
	Version      string       `json:"version"`
}

type registerResponseBody struct {
	Status            string            `json:"status"`
	BrokerCredentials BrokerCredentials `json:"brokerCredentials,omitempty"`
	Endpoints         map[string]string `json:"endpoints,omitempty"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var body registerRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return
	}
	if body.WorkerID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "missing_worker_id", "workerId is required")
		return
	}

	worker, err := h.registry.Register(r.Context(), RegisterRequest{
		WorkerID:     body.WorkerID,
		OwnerEmail:   body.OwnerEmail,
		RegionHint:   body.RegionHint,
		Capabilities: body.Capabilities,
		Version:      body.Version,
	})
	if err != nil {
		httpserver.RespondError(w, http.StatusConflict, "registration_rejected", err.Error())
		return
	}

	if h.audit != nil {
		h.audit.Log(audit.Entry{
			Action:     "worker.registered",
			Resource:   "worker",
			ResourceID: worker.WorkerID,
		})
	}

	// A worker re-registering after already being approved should see its
	// current status rather than being silently reset to pending.
	if worker.Status == StatusActive {
		httpserver.Respond(w, http.StatusOK, registerResponseBody{
			Status:            string(StatusActive),
			BrokerCredentials: worker.BrokerCredentials,
			Endpoints: map[string]string{
				"broker":         h.brokerAddr,
				"probeQueue":     broker.ProbeStream(worker.RegionID),
				"controlQueue":   broker.ControlStream(worker.WorkerID),
				"heartbeatQueue": broker.HeartbeatsStream,
			},
		})
		return
	}
	httpserver.Respond(w, http.StatusAccepted, registerResponseBody{Status: string(StatusPending)})
}

// installScript is the shell bootstrap served at GET /install. It is
// deliberately minimal: fetch the worker binary and write a stub config
// pointing at this core's registration endpoint. Full packaging (systemd
// unit, platform detection) is deployment tooling, not core logic.
const installScript = `#!/bin/sh
set -eu
echo "guardant: fetching worker binary"
curl -fsSL "${GUARDANT_DOWNLOAD_URL:-https://dl.guardant.io/worker/latest}" -o /usr/local/bin/guardant-worker
chmod +x /usr/local/bin/guardant-worker
mkdir -p /etc/guardant
cat > /etc/guardant/worker.env <<EOF
GUARDANT_MODE=worker
GUARDANT_WORKER_ID=${GUARDANT_WORKER_ID:-$(hostname)-$(cat /proc/sys/kernel/random/uuid)}
EOF
echo "guardant: wrote /etc/guardant/worker.env, start guardant-worker to register"
`

func (h *Handler) install(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(installScript))
}
