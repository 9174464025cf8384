// Package web exposes the aggregation core over HTTP: the resolved
// specification and the merged event records, as consumed by the scheduler
// frontend.
package web

import (
	"encoding/json"
	"net/http"

	"calmerge/internal/aggregate"
	"calmerge/internal/clock"
	"calmerge/internal/config"
	"calmerge/internal/convert"
	appLog "calmerge/internal/log"
	"calmerge/internal/spec"
)

// Server provides the JSON API over the aggregation core.
type Server struct {
	cfg      *config.Config
	resolver *spec.Resolver
	agg      *aggregate.Aggregator
	clk      clock.Clock
	mux      *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, resolver *spec.Resolver, agg *aggregate.Aggregator, clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.NewSystem()
	}
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		agg:      agg,
		clk:      clk,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/calendar.spec", s.handleSpec)
	s.mux.HandleFunc("/calendar.events.json", s.handleEvents)
	s.mux.HandleFunc("/", s.handleNotFound)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "no endpoint "+r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleSpec returns the effective specification for this request as a
// flat JSON mapping.
func (s *Server) handleSpec(w http.ResponseWriter, r *http.Request) {
	if done := s.corsPreflight(w, r); done {
		return
	}

	resolved, err := s.resolver.Resolve(r.Context(), r.URL.Query())
	if err != nil {
		appLog.Error("spec resolution failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// handleEvents resolves the request specification, aggregates all feeds,
// and returns the merged records. Per-feed failures come back as error
// records inside the normal payload; only specification resolution
// failures and over-limit requests abort the whole response.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if done := s.corsPreflight(w, r); done {
		return
	}

	resolved, err := s.resolver.Resolve(r.Context(), r.URL.Query())
	if err != nil {
		appLog.Error("spec resolution failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	conv := convert.NewDhtmlx(resolved.Timeshift, s.clk)
	records, err := s.agg.Aggregate(r.Context(), resolved, conv)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	appLog.Info("events aggregated", "urls", len(resolved.URLs), "records", len(records))
	writeJSON(w, http.StatusOK, records)
}

// corsPreflight sets the CORS headers the scheduler frontend needs and
// answers OPTIONS preflight requests. Reports whether the request is done.
func (s *Server) corsPreflight(w http.ResponseWriter, r *http.Request) bool {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
