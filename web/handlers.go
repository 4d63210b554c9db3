package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"f0oster/locmaster/docstore"
	"f0oster/locmaster/events"
	"f0oster/locmaster/hierarchy"
	"f0oster/locmaster/identity"
	"f0oster/locmaster/locations"
	"f0oster/locmaster/massupdate"
	"f0oster/locmaster/records"
)

// Request/response types for JSON serialization

type LocationEventsRequest struct {
	Planned   []hierarchy.EventInput `json:"planned"`
	Unplanned []hierarchy.EventInput `json:"unplanned"`
}

type MassUpdateRequest struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Filter      locations.Selection    `json:"filter"`
	Events      []massupdate.EventSpec `json:"events"`
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, docstore.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func parsePaging(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	offset = 0
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := q.Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func parseEventType(s string) (events.EventType, bool) {
	switch events.EventType(s) {
	case events.TypePlanned:
		return events.TypePlanned, true
	case events.TypeUnplanned:
		return events.TypeUnplanned, true
	case events.TypeUnplannedBulk:
		return events.TypeUnplannedBulk, true
	}
	return "", false
}

// Handlers

func (s *Server) handleGetLocationEvents(w http.ResponseWriter, r *http.Request) {
	typ, ok := locations.ParseNodeType(r.PathValue("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown node type: "+r.PathValue("type"))
		return
	}
	result, err := s.engine.GetEvents(r.Context(), typ, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePutLocationEvents(w http.ResponseWriter, r *http.Request) {
	typ, ok := locations.ParseNodeType(r.PathValue("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown node type: "+r.PathValue("type"))
		return
	}
	var req LocationEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor := identity.FromRequest(r)
	if err := s.engine.UpdateEvents(r.Context(), actor, typ, r.PathValue("id"), req.Planned, req.Unplanned); err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := s.engine.GetEvents(r.Context(), typ, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMassUpdates(w http.ResponseWriter, r *http.Request) {
	result, err := s.massUpdates.ListActive(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetMassUpdate(w http.ResponseWriter, r *http.Request) {
	result, err := s.massUpdates.GetActive(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreateMassUpdate(w http.ResponseWriter, r *http.Request) {
	var req MassUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor := identity.FromRequest(r)
	result, err := s.massUpdates.Create(r.Context(), actor, req.Title, req.Description, req.Filter, req.Events)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleUpdateMassUpdate(w http.ResponseWriter, r *http.Request) {
	var req MassUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor := identity.FromRequest(r)
	result, err := s.massUpdates.Update(r.Context(), actor, r.PathValue("id"), req.Title, req.Description, req.Filter, req.Events)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteMassUpdate(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromRequest(r)
	if err := s.massUpdates.Delete(r.Context(), actor, r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventTemplates(w http.ResponseWriter, r *http.Request) {
	excludePast := r.URL.Query().Get("excludePast") == "true"
	result, err := s.events.PlannedEventTemplates(r.Context(), excludePast)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	typ, ok := parseEventType(q.Get("type"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown event type: "+q.Get("type"))
		return
	}
	count := 10
	if c := q.Get("count"); c != "" {
		if parsed, err := strconv.Atoi(c); err == nil && parsed > 0 && parsed <= 100 {
			count = parsed
		}
	}
	result, err := s.events.NextEvents(r.Context(), typ, count)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaging(r)
	result, err := s.recorder.SearchChanges(r.Context(), q.Get("objectType"), q.Get("objectId"), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSearchSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := parsePaging(r)
	result, err := s.recorder.SearchSummaries(r.Context(), q.Get("objectType"), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
