package web

import (
	"log"
	"net/http"

	"f0oster/locmaster/events"
	"f0oster/locmaster/hierarchy"
	"f0oster/locmaster/history"
	"f0oster/locmaster/massupdate"
)

// Server handles HTTP requests for the master-data API.
type Server struct {
	engine      *hierarchy.Engine
	events      *events.Repository
	massUpdates *massupdate.Coordinator
	recorder    *history.Recorder
	mux         *http.ServeMux
	addr        string
}

// NewServer creates a new API server instance.
func NewServer(engine *hierarchy.Engine, evs *events.Repository, mus *massupdate.Coordinator, rec *history.Recorder, addr string) *Server {
	s := &Server{
		engine:      engine,
		events:      evs,
		massUpdates: mus,
		recorder:    rec,
		mux:         http.NewServeMux(),
		addr:        addr,
	}
	s.registerRoutes()
	return s
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/locations/{type}/{id}/events", s.handleGetLocationEvents)
	s.mux.HandleFunc("PUT /api/locations/{type}/{id}/events", s.handlePutLocationEvents)
	s.mux.HandleFunc("GET /api/mass-updates", s.handleListMassUpdates)
	s.mux.HandleFunc("POST /api/mass-updates", s.handleCreateMassUpdate)
	s.mux.HandleFunc("GET /api/mass-updates/{id}", s.handleGetMassUpdate)
	s.mux.HandleFunc("PUT /api/mass-updates/{id}", s.handleUpdateMassUpdate)
	s.mux.HandleFunc("DELETE /api/mass-updates/{id}", s.handleDeleteMassUpdate)
	s.mux.HandleFunc("GET /api/events/templates", s.handleEventTemplates)
	s.mux.HandleFunc("GET /api/events/upcoming", s.handleUpcomingEvents)
	s.mux.HandleFunc("GET /api/changes", s.handleSearchChanges)
	s.mux.HandleFunc("GET /api/change-summaries", s.handleSearchSummaries)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler returns the HTTP handler for use with custom servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
