// Package worker implements the Worker Node (C2): a long-lived process
// that registers with the Registry, consumes ProbeCommands for its region,
// runs them through the Probe Engine, hands results to the Local Result
// Cache, and heartbeats its liveness — the steady-state loop described by
// §4.2.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/guardantio/guardant/pkg/broker"
	"github.com/guardantio/guardant/pkg/localcache"
	"github.com/guardantio/guardant/pkg/probe"
)

// maxAttempts bounds command redelivery before a worker gives up and emits
// a timeout result directly instead of probing again (§4.2 step 1).
const maxAttempts = 3

// publishStallLimit is how long sustained broker publish failure is
// tolerated before the worker self-revokes and re-registers (§4.2 Failure
// semantics, §7 Transient transport).
const publishStallLimit = 10 * time.Minute

// Capabilities describes what probe types and concurrency this worker offers.
type Capabilities struct {
	Types          []string
	MaxConcurrency int
}

// Config parameterizes one Worker Node process.
type Config struct {
	WorkerID        string
	OwnerEmail      string
	RegionOverride  string
	Capabilities    Capabilities
	Version         string
	RegistrationURL string // base URL of the public HTTP boundary (§6)

	HeartbeatInterval time.Duration
	DrainDeadline     time.Duration
	RegisterPoll      time.Duration

	CacheDir      string
	CacheCapacity int
	CacheMaxBytes int64
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.DrainDeadline <= 0 {
		c.DrainDeadline = 30 * time.Second
	}
	if c.RegisterPoll <= 0 {
		c.RegisterPoll = 5 * time.Second
	}
	if c.Capabilities.MaxConcurrency <= 0 {
		c.Capabilities.MaxConcurrency = 16
	}
	return c
}

// Worker is one Worker Node instance.
type Worker struct {
	cfg       Config
	b         *broker.Broker
	probes    *probe.Registry
	cache     *localcache.Cache
	log       *slog.Logger
	regClient *registrationClient

	mu   sync.RWMutex
	mode mode

	publishMu     sync.Mutex
	lastPublishOK time.Time
}

type mode int

const (
	modeActive mode = iota
	modeDraining
	modeRevoked
)

// errSelfRevoke signals steadyState exiting because of a revoke control
// message or sustained publish failure; Run reacts by looping back to
// registration instead of returning.
var errSelfRevoke = errors.New("worker: self-revoked, re-registering")

// New constructs a Worker. probes should already have every probe type
// executor this worker supports registered (pkg/probe.NewRegistry).
func New(cfg Config, b *broker.Broker, probes *probe.Registry, log *slog.Logger) (*Worker, error) {
	cfg = cfg.withDefaults()
	if cfg.WorkerID == "" {
		return nil, errors.New("worker: WorkerID is required")
	}

	cache, err := localcache.Open(cfg.CacheDir, cfg.CacheCapacity, cfg.CacheMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}

	return &Worker{
		cfg:       cfg,
		b:         b,
		probes:    probes,
		cache:     cache,
		log:       log,
		regClient: newRegistrationClient(cfg.RegistrationURL, &http.Client{Timeout: 10 * time.Second}),
	}, nil
}

// Run drives the full Worker Node lifecycle until ctx is cancelled:
// region detection, registration, and repeated steady-state operation
// (re-entering registration on self-revoke) per the state diagram in §4.2.
func (w *Worker) Run(ctx context.Context) error {
	region := w.cfg.RegionOverride
	if region == "" {
		detected, err := DetectRegion(ctx, nil)
		if err != nil {
			w.log.Warn("IP geolocation region detection failed, defaulting", "error", err)
			detected = "eu-west-1"
		}
		region = detected
	}
	w.log.Info("worker starting", "workerId", w.cfg.WorkerID, "region", region)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, err := w.regClient.awaitApproval(ctx, registerRequest{
			WorkerID:   w.cfg.WorkerID,
			OwnerEmail: w.cfg.OwnerEmail,
			RegionHint: region,
			Capabilities: Capabilities{
				Types:          w.cfg.Capabilities.Types,
				MaxConcurrency: w.cfg.Capabilities.MaxConcurrency,
			},
			Version: w.cfg.Version,
		}, w.cfg.RegisterPoll, w.log)
		if err != nil {
			return fmt.Errorf("registering worker: %w", err)
		}
		w.log.Info("worker approved", "workerId", w.cfg.WorkerID,
			"brokerUsername", resp.BrokerCredentials.Username, "endpoints", resp.Endpoints)

		w.setMode(modeActive)
		engine := probe.NewEngine(w.probes, w.cfg.WorkerID, region)

		err = w.steadyState(ctx, region, engine)
		if errors.Is(err, errSelfRevoke) {
			w.log.Warn("worker self-revoking after sustained publish failure, re-registering")
			continue
		}
		return err
	}
}

func (w *Worker) setMode(m mode) {
	w.mu.Lock()
	w.mode = m
	w.mu.Unlock()
}

func (w *Worker) getMode() mode {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.mode
}

// steadyState runs the probe pool, local-cache flusher, heartbeat
// publisher, and control consumer concurrently until ctx is cancelled or
// a revoke control message / publish stall forces a re-registration. The
// five loops share an errgroup.Group so a revoke from any one of them
// (via triggerRevoke, which reports errSelfRevoke) tears down the rest
// through the group's derived context — the same fan-out/fan-in shape
// used for command handling in runPool, one level up.
func (w *Worker) steadyState(parent context.Context, region string, engine *probe.Engine) error {
	g, ctx := errgroup.WithContext(parent)

	revoked := make(chan struct{})
	var revokeOnce sync.Once
	triggerRevoke := func() {
		revokeOnce.Do(func() { close(revoked) })
	}

	g.Go(func() error {
		w.runPool(ctx, region, engine)
		return nil
	})

	flusher := localcache.NewFlusher(w.cache, w.publishResult, 32)
	g.Go(func() error {
		flusher.Run(ctx)
		return nil
	})

	g.Go(func() error {
		w.runHeartbeat(ctx)
		return nil
	})

	g.Go(func() error {
		w.runControl(ctx, triggerRevoke)
		return nil
	})

	g.Go(func() error {
		w.watchPublishStall(ctx, triggerRevoke)
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-revoked:
			return errSelfRevoke
		}
	})

	w.drain(func() { _ = g.Wait() })

	if parent.Err() != nil {
		return parent.Err()
	}
	return errSelfRevoke
}

// drain bounds shutdown by drainDeadline: in-flight work gets that long to
// finish before Run proceeds regardless (§5 Cancellation & timeouts).
func (w *Worker) drain(wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(w.cfg.DrainDeadline):
		w.log.Warn("drain deadline exceeded, proceeding without waiting for all goroutines")
	}
}

func (w *Worker) publishResult(ctx context.Context, id string, result probe.Result) error {
	fields, err := encodeResult(result)
	if err != nil {
		return fmt.Errorf("encoding result %s: %w", id, err)
	}
	if _, err := w.b.Publish(ctx, broker.ResultsStream, fields); err != nil {
		return err
	}
	w.publishMu.Lock()
	w.lastPublishOK = time.Now()
	w.publishMu.Unlock()
	return nil
}

func (w *Worker) watchPublishStall(ctx context.Context, triggerRevoke func()) {
	w.publishMu.Lock()
	w.lastPublishOK = time.Now()
	w.publishMu.Unlock()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishMu.Lock()
			last := w.lastPublishOK
			w.publishMu.Unlock()
			if w.cache.Len() > 0 && time.Since(last) > publishStallLimit {
				triggerRevoke()
				return
			}
		}
	}
}
