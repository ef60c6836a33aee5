package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// setupRoutes configures all HTTP routes for the API server
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(s.loggingMiddleware)

	// Health check endpoint
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// API v1 endpoints
	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/commands/dkg", s.handleDkg).Methods(http.MethodPost)
	v1.HandleFunc("/commands/sign", s.handleSign).Methods(http.MethodPost)
	v1.HandleFunc("/rounds", s.handleRounds).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/endpoints", s.handleLedgerEndpoints).Methods(http.MethodGet)

	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return router
}
