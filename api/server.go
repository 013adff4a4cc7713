package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/luca-patrignani/quota-ledger/audit"
	"github.com/luca-patrignani/quota-ledger/consensus"
	"github.com/luca-patrignani/quota-ledger/domain/allocation"
	"github.com/luca-patrignani/quota-ledger/ledger"
	"github.com/luca-patrignani/quota-ledger/orchestrator"
)

// TokenHeader carries a node's access token.
const TokenHeader = "X-Node-Token"

// Ledger is the pipeline as seen by the API. orchestrator.Pipeline
// implements it.
type Ledger interface {
	HandleCommand(ctx context.Context, line string) orchestrator.Result
	RegisterNode(id string, quota map[allocation.ResourceKind]float64) (string, error)
	RequestResource(ctx context.Context, id string, kind allocation.ResourceKind, amount float64) (orchestrator.Outcome, error)
	ReleaseResource(ctx context.Context, id string, kind allocation.ResourceKind, amount float64) (orchestrator.Outcome, error)
	ValidateChain() error
	ViewChain() []ledger.Block
	Block(index int) (ledger.Block, error)
	Node(id string) (allocation.Node, bool)
	Nodes() []allocation.Node
	PublicKey(id string) (string, error)
	History(id string) ([]ledger.Record, error)
	AuditEvents() []audit.Event
	Status() orchestrator.Status
	VerifyToken(id, token string) error
}

// Server serves a Ledger over HTTP.
type Server struct {
	ledger       Ledger
	httpServer   *http.Server
	tlsConfig    *tls.Config
	requireToken bool
	logger       *slog.Logger
}

func NewServer(l Ledger, addr string, opts ...ServerOption) *Server {
	s := &Server{
		ledger:     l,
		httpServer: &http.Server{Addr: addr},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer.Handler = s.Router()
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.handleListNodes).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.handleRegisterNode).Methods(http.MethodPost)
	r.HandleFunc("/nodes/{id}", s.handleGetNode).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/nodes/{id}/{op:allocate|release}", s.withToken(s.handleResource)).Methods(http.MethodPost)
	r.HandleFunc("/chain", s.handleChain).Methods(http.MethodGet)
	r.HandleFunc("/chain/validate", s.handleValidate).Methods(http.MethodPost)
	r.HandleFunc("/chain/{index:[0-9]+}", s.handleBlock).Methods(http.MethodGet)
	r.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	return r
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	if s.tlsConfig != nil {
		l = tls.NewListener(l, s.tlsConfig)
	}
	s.logger.Info("api listening", "address", l.Addr().String(), "tls", s.tlsConfig != nil)
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("api request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSONResponse(w, status, map[string]string{"error": msg})
}

// withToken checks the X-Node-Token header against the node in the path.
func (s *Server) withToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.requireToken {
			id := mux.Vars(r)["id"]
			if err := s.ledger.VerifyToken(id, r.Header.Get(TokenHeader)); err != nil {
				s.writeError(w, http.StatusUnauthorized, "invalid or missing "+TokenHeader)
				return
			}
		}
		next(w, r)
	}
}

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONResponse(w, http.StatusBadRequest, orchestrator.Result{Message: "Invalid JSON"})
		return
	}
	s.writeJSONResponse(w, http.StatusOK, s.ledger.HandleCommand(r.Context(), req.Command))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, s.ledger.Status())
}

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"nodes": s.ledger.Nodes()})
}

type registerRequest struct {
	NodeID string                              `json:"node_id"`
	Quotas map[allocation.ResourceKind]float64 `json:"quotas"`
}

type registerResponse struct {
	NodeID string `json:"node_id"`
	Token  string `json:"token"`
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid node format")
		return
	}
	quota := make(map[allocation.ResourceKind]float64, len(req.Quotas))
	for k, v := range req.Quotas {
		quota[allocation.ParseKind(string(k))] = v
	}
	token, err := s.ledger.RegisterNode(req.NodeID, quota)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, registerResponse{NodeID: req.NodeID, Token: token})
}

type nodeResponse struct {
	allocation.Node
	PublicKey string `json:"public_key"`
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	node, ok := s.ledger.Node(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown node "+id)
		return
	}
	key, err := s.ledger.PublicKey(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSONResponse(w, http.StatusOK, nodeResponse{Node: node, PublicKey: key})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	records, err := s.ledger.History(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"node_id": id, "records": records})
}

type resourceRequest struct {
	Kind   string  `json:"resource_type"`
	Amount float64 `json:"amount"`
}

type resourceResponse struct {
	Accepted bool                 `json:"accepted"`
	Error    string               `json:"error,omitempty"`
	Outcome  orchestrator.Outcome `json:"outcome"`
	Node     *allocation.Node     `json:"node,omitempty"`
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	op, err := allocation.ParseOp(vars["op"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req resourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid resource request format")
		return
	}
	kind := allocation.ParseKind(req.Kind)

	var out orchestrator.Outcome
	if op == allocation.OpAllocate {
		out, err = s.ledger.RequestResource(r.Context(), id, kind, req.Amount)
	} else {
		out, err = s.ledger.ReleaseResource(r.Context(), id, kind, req.Amount)
	}
	resp := resourceResponse{Accepted: err == nil, Outcome: out}
	if node, ok := s.ledger.Node(id); ok {
		resp.Node = &node
	}
	if err != nil {
		resp.Error = err.Error()
	}
	s.writeJSONResponse(w, statusFor(err), resp)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	chain := s.ledger.ViewChain()
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"length": len(chain), "chain": chain})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid block index")
		return
	}
	b, err := s.ledger.Block(index)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSONResponse(w, http.StatusOK, b)
}

type validateResponse struct {
	Valid       bool               `json:"valid"`
	Error       string             `json:"error,omitempty"`
	FailedIndex *int               `json:"failed_index,omitempty"`
	Violations  []ledger.Violation `json:"violations,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	err := s.ledger.ValidateChain()
	resp := validateResponse{Valid: err == nil}
	var ierr *ledger.IntegrityError
	if errors.As(err, &ierr) {
		resp.Error = ierr.Error()
		resp.FailedIndex = &ierr.Index
		resp.Violations = ierr.Violations
	} else if err != nil {
		resp.Error = err.Error()
	}
	s.writeJSONResponse(w, http.StatusOK, resp)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.writeJSONResponse(w, http.StatusOK, map[string]any{"events": s.ledger.AuditEvents()})
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *allocation.ValidationError
	var rerr *consensus.RejectedError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &rerr):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrSealCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
