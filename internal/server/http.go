// Package server exposes the kernel over HTTP/JSON: action submission, tick
// advancement, agent creation, lifecycle control, and the read-only query
// surface. It follows a dependency-struct-plus-lifecycle shape (a Deps
// struct, a constructor that wires routes, and a blocking Start bound to
// a context for graceful shutdown), implemented over net/http and
// encoding/json rather than grpc/grpc-gateway, since no protoc/buf
// toolchain is available here to generate .proto stubs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"marketsim/internal/kernel"
	"marketsim/internal/matching"
	"marketsim/internal/observability"
	"marketsim/internal/query"
	"marketsim/internal/world"
)

// Deps holds every dependency the HTTP handlers need.
type Deps struct {
	Kernel  *kernel.Kernel
	Query   *query.Service
	Log     zerolog.Logger
	Metrics *observability.Metrics
	Health  *observability.HealthChecker
}

// Server wraps the underlying http.Server and its mux.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// New builds a Server listening on addr with every route registered.
func New(addr string, deps Deps) *Server {
	mux := http.NewServeMux()
	h := &handlers{deps: deps}

	mux.HandleFunc("POST /v1/agents", h.createAgent)
	mux.HandleFunc("POST /v1/runs/start", h.start)
	mux.HandleFunc("POST /v1/runs/stop", h.stop)
	mux.HandleFunc("POST /v1/actions", h.submitActions)
	mux.HandleFunc("POST /v1/tick/advance", h.advanceTick)

	mux.HandleFunc("GET /v1/run", h.timed("run_status", h.runStatus))
	mux.HandleFunc("GET /v1/agents/{id}", h.timed("get_agent", h.getAgent))
	mux.HandleFunc("GET /v1/agents/{id}/orders", h.timed("open_orders", h.openOrders))
	mux.HandleFunc("GET /v1/book", h.timed("book", h.book))
	mux.HandleFunc("GET /v1/trades", h.timed("recent_trades", h.recentTrades))
	mux.HandleFunc("GET /v1/chain/verify", h.timed("verify_chain", h.verifyChain))
	mux.HandleFunc("GET /v1/events/export", h.timed("export_events", h.exportEvents))

	if deps.Health != nil {
		mux.HandleFunc("GET /healthz", deps.Health.LivenessHandler)
		mux.HandleFunc("GET /readyz", deps.Health.ReadinessHandler)
	} else {
		mux.HandleFunc("GET /healthz", h.healthz)
	}

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: mux},
		log:        deps.Log,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type handlers struct {
	deps Deps
}

// timed wraps a handler with the query-endpoint request/duration metrics,
// matching the start/Since(start) pattern used for persistence timing.
func (h *handlers) timed(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if h.deps.Metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		h.deps.Metrics.ObserveQuery(endpoint, time.Since(start))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type createAgentRequest struct {
	DisplayName string `json:"display_name"`
}

type createAgentResponse struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

func (h *handlers) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	id, key, err := h.deps.Kernel.CreateAgent(req.DisplayName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createAgentResponse{AgentID: id, APIKey: key})
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Kernel.Start(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.deps.Kernel.Status())})
}

type stopRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.deps.Kernel.Stop(req.Reason); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(h.deps.Kernel.Status())})
}

// wireAction is the wire-form shape for one submitted action, matching
// the place_limit_order/cancel_order variants; internal/ingestion/parser.go
// performs this same decode for the batch/file-driven entry point.
type wireAction struct {
	Type     string `json:"type"`
	Side     string `json:"side,omitempty"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

func (a wireAction) toAction() (kernel.Action, error) {
	switch a.Type {
	case "place_limit_order":
		return kernel.PlaceLimitOrderAction{Side: a.Side, Price: a.Price, Quantity: a.Quantity}, nil
	case "cancel_order":
		return kernel.CancelOrderAction{OrderID: a.OrderID}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", a.Type)
	}
}

type submitActionsRequest struct {
	AgentID        string       `json:"agent_id"`
	Actions        []wireAction `json:"actions"`
	IdempotencyKey string       `json:"idempotency_key"`
}

func (h *handlers) submitActions(w http.ResponseWriter, r *http.Request) {
	var req submitActionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	actions := make([]kernel.Action, 0, len(req.Actions))
	for i, wa := range req.Actions {
		act, err := wa.toAction()
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("action %d: %v", i, err))
			return
		}
		actions = append(actions, act)
	}

	result := h.deps.Kernel.SubmitActions(req.AgentID, actions, req.IdempotencyKey)
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) advanceTick(w http.ResponseWriter, r *http.Request) {
	h.deps.Kernel.AdvanceTick()
	writeJSON(w, http.StatusOK, h.deps.Query.RunStatus())
}

func (h *handlers) runStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Query.RunStatus())
}

func (h *handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, ok := h.deps.Query.Agent(id)
	if !ok {
		writeError(w, http.StatusNotFound, string(matching.ReasonInvalidAction))
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *handlers) openOrders(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	writeJSON(w, http.StatusOK, h.deps.Query.OpenOrders(id))
}

func (h *handlers) book(w http.ResponseWriter, r *http.Request) {
	depthN := 10
	resp := struct {
		Summary interface{} `json:"summary"`
		Bids    interface{} `json:"bids"`
		Asks    interface{} `json:"asks"`
	}{
		Summary: h.deps.Query.Book(),
		Bids:    h.deps.Query.Depth(world.SideBid, depthN),
		Asks:    h.deps.Query.Depth(world.SideAsk, depthN),
	}
	if h.deps.Metrics != nil {
		wd := h.deps.Kernel.World()
		h.deps.Metrics.ObserveBookDepth(wd.OpenQuantity(world.SideBid).Float64(), wd.OpenQuantity(world.SideAsk).Float64())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) recentTrades(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Query.RecentTrades(50))
}

func (h *handlers) verifyChain(w http.ResponseWriter, r *http.Request) {
	res := h.deps.Query.VerifyChain()
	if h.deps.Metrics != nil {
		h.deps.Metrics.ObserveChainVerification(res.Valid)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Query.ExportEvents())
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
