// Package api serves the built topology graph to agent-mode consumers:
// a read-only GraphQL endpoint, health and Prometheus endpoints, and an
// optional bearer-token gate. The graph behind the schema is swapped
// atomically after each analysis run; queries in flight keep the
// generation they started on.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/logging"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/metrics"
	"github.com/zhangdailin/NVIDIA-NETWORK-HEALTH-CHECK-PLATFORM-sub001/pkg/topology"
)

// Options configures the API server
type Options struct {
	// Bind is the listen address, host optional (":8080")
	Bind string
	// JWTSecret enables bearer auth on /graphql when non-empty.
	// HS256; must be at least 32 bytes of key material.
	JWTSecret string
}

// generation is one published graph plus its run identity
type generation struct {
	graph   *topology.Graph
	runID   string
	builtAt time.Time
}

// Server owns the HTTP surface of agent mode
type Server struct {
	opts    Options
	current atomic.Pointer[generation]
	schema  graphql.Schema
	handler http.Handler
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewServer builds the schema and routes. The server starts empty;
// queries return errors until the first Publish.
func NewServer(opts Options, logger logging.Logger, m *metrics.Registry) (*Server, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if m == nil {
		m = metrics.DefaultRegistry()
	}
	if opts.JWTSecret != "" && len(opts.JWTSecret) < minSecretLength {
		return nil, ErrShortSecret
	}

	s := &Server{opts: opts, logger: logger, metrics: m}

	schema, err := buildSchema(s)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	s.schema = schema

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(
		m.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.Handle("/graphql", s.requireAuth(http.HandlerFunc(s.handleGraphQL)))
	s.handler = s.withMetrics(mux)

	return s, nil
}

// Publish swaps the served graph. Safe to call while queries run.
func (s *Server) Publish(g *topology.Graph, runID string) {
	s.current.Store(&generation{graph: g, runID: runID, builtAt: time.Now().UTC()})
	s.logger.Info("graph generation published",
		logging.RunID(runID),
		logging.Int("nodes", g.NodeCount()))
}

// Handler exposes the routed handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is canceled, then drains with a short grace
// period. A closed listener is a normal exit, not an error.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Bind,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", logging.String("addr", s.opts.Bind))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("api serve: %w", err)
	}
}

func (s *Server) generation() *generation {
	return s.current.Load()
}

type graphqlRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   any            `json:"data,omitempty"`
	Errors []graphqlError `json:"errors,omitempty"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req graphqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        r.Context(),
	})

	resp := graphqlResponse{Data: result.Data}
	if result.HasErrors() {
		resp.Errors = make([]graphqlError, len(result.Errors))
		for i, err := range result.Errors {
			resp.Errors[i] = graphqlError{Message: err.Message}
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status  string    `json:"status"`
		RunID   string    `json:"run_id,omitempty"`
		BuiltAt time.Time `json:"built_at,omitempty"`
		Nodes   int       `json:"nodes"`
	}{Status: "ok"}

	if gen := s.generation(); gen != nil {
		status.RunID = gen.runID
		status.BuiltAt = gen.builtAt
		status.Nodes = gen.graph.NodeCount()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}
