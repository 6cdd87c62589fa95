// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package server is the admin/inspection HTTP surface over an
// acctpolicy.Ctx (spec.md §8): usage snapshots, on-demand validation,
// lifecycle transitions, and limit edits that trigger a pending-job
// refresh. internal/acctpolicy is a library with no owned wire format;
// this package is the one that does, patterned after the teacher's
// tests/mocks.MockSlurmServer (gorilla/mux routing) and
// pkg/streaming.WebSocketServer (the /watch/events stream).
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jrandall/slurm/internal/acctpolicy"
	"github.com/jrandall/slurm/pkg/logging"
	"github.com/jrandall/slurm/pkg/validation"
)

// Server wires an acctpolicy.Ctx up to an HTTP surface.
type Server struct {
	engine    *acctpolicy.Ctx
	validator *validation.Validator
	logger    logging.Logger

	reg    *registry
	events *eventHub

	router *mux.Router
}

// New builds a Server against engine. qosByName seeds the admin
// surface's own QOS-by-name index (internal/acctpolicy indexes
// associations by ID but has no equivalent QOS registry — nothing in
// C1-C9 needs to look a QOS up by name, only this inspection surface
// does) and may be nil.
func New(engine *acctpolicy.Ctx, logger logging.Logger, qosByName map[string]*acctpolicy.QoS) *Server {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Server{
		engine:    engine,
		validator: validation.New(),
		logger:    logger,
		reg:       newRegistry(qosByName),
		events:    newEventHub(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler so a Server can be passed straight to
// httptest.NewServer or http.ListenAndServe.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := mux.NewRouter().StrictSlash(true)

	r.HandleFunc("/associations/{id}/usage", s.handleAssociationUsage).Methods(http.MethodGet)
	r.HandleFunc("/qos/{name}/usage", s.handleQOSUsage).Methods(http.MethodGet)
	r.HandleFunc("/jobs/validate", s.handleJobValidate).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/begin", s.handleJobBegin).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/fini", s.handleJobFini).Methods(http.MethodPost)
	r.HandleFunc("/jobs/{id}/alter", s.handleJobAlter).Methods(http.MethodPost)
	r.HandleFunc("/associations/{id}/limits", s.handleAssociationLimits).Methods(http.MethodPost)
	r.HandleFunc("/qos/{name}/limits", s.handleQOSLimits).Methods(http.MethodPost)
	r.HandleFunc("/watch/events", s.events.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.router = r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
