// Package runtime composes the evaluation pipeline: embedded bus, state
// store, planner, evaluator, orchestrator, and the HTTP surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fitsignal/fitsignal-core/internal/bus"
	"github.com/fitsignal/fitsignal-core/internal/config"
	"github.com/fitsignal/fitsignal-core/internal/evaluator"
	"github.com/fitsignal/fitsignal-core/internal/evidence"
	"github.com/fitsignal/fitsignal-core/internal/ingest"
	"github.com/fitsignal/fitsignal-core/internal/natsserver"
	"github.com/fitsignal/fitsignal-core/internal/orchestrator"
	"github.com/fitsignal/fitsignal-core/internal/plan"
	"github.com/fitsignal/fitsignal-core/internal/reasoning"
	"github.com/fitsignal/fitsignal-core/internal/report"
	"github.com/fitsignal/fitsignal-core/internal/statestore"
)

type Runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	httpServer   *http.Server
	tracerClose  func(context.Context) error
	busClient    *bus.Client
	embedded     *natsserver.EmbeddedServer
	store        *statestore.Store
	orchestrator *orchestrator.Orchestrator
	ingest       *ingest.Service
	ready        atomic.Bool
	wg           sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.busClient = busClient

	store, err := statestore.Open(ctx, r.cfg.StateStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	r.store = store

	var batchEval evaluator.Evaluator
	var modelClient plan.ModelClient
	switch r.cfg.Evaluator.Mode {
	case "anthropic":
		client := evaluator.NewAnthropicClient(r.cfg.Evaluator, r.logger)
		batchEval = client
		modelClient = client
	default:
		batchEval = evaluator.NewMockEvaluator()
	}

	planner := plan.NewService(r.cfg.Planner, modelClient, r.logger)
	tracker := evidence.NewTracker(r.cfg.Pipeline.TopMatches)
	aggregator := reasoning.NewAggregator(time.Duration(r.cfg.Pipeline.GuidanceCooldownMS) * time.Millisecond)
	r.orchestrator = orchestrator.New(r.cfg.Pipeline, batchEval, store, busClient, r.logger)

	r.ingest = ingest.NewService(ctx, busClient, tracker, aggregator, r.orchestrator, planner, store, r.logger)
	if err := r.ingest.Start(); err != nil {
		return fmt.Errorf("failed to start ingest: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.HandleFunc("GET /sessions/{sessionID}/report", r.handleReport)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("evaluator", r.cfg.Evaluator.Mode),
		slog.Bool("embedded_bus", r.cfg.Bus.Embedded))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	r.ingest.Close()
	r.orchestrator.FlushAll(shutdownCtx)
	r.orchestrator.Close()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	r.busClient.Close()
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("state store close error", slog.String("error", err.Error()))
	}

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient != nil && r.busClient.Healthy() && r.ingest.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleReport exports the current session verdicts as plain text, or JSON
// with ?format=json. State falls back to the store for sessions evaluated in
// a previous run.
func (r *Runtime) handleReport(w http.ResponseWriter, req *http.Request) {
	sessionID := req.PathValue("sessionID")
	state := r.orchestrator.State(sessionID)
	if state == nil {
		state = r.loadStoredState(req.Context(), sessionID)
	}
	if state == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	sessionReport := report.Build(state, r.loadStoredPlan(req.Context(), sessionID), time.Now().UTC())
	if req.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sessionReport); err != nil {
			r.logger.Warn("report encode failed", slog.String("error", err.Error()))
		}
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(report.Render(sessionReport)))
}

func (r *Runtime) loadStoredState(ctx context.Context, sessionID string) *orchestrator.SessionState {
	payload, _, err := r.store.LoadState(ctx, sessionID, statestore.KindSessionState)
	if err != nil || len(payload) == 0 {
		return nil
	}
	var state orchestrator.SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		r.logger.Warn("decoding stored state failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		return nil
	}
	return &state
}

func (r *Runtime) loadStoredPlan(ctx context.Context, sessionID string) *plan.Plan {
	for _, key := range []string{sessionID, "global"} {
		payload, _, err := r.store.LoadState(ctx, key, statestore.KindPlan)
		if err != nil || len(payload) == 0 {
			continue
		}
		var p plan.Plan
		if err := json.Unmarshal(payload, &p); err != nil {
			continue
		}
		return &p
	}
	return nil
}
