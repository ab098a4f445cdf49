// Package httpapi exposes the offline-first document API and the sync engine
// over local HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthtrack/syncd/internal/document"
	"healthtrack/syncd/internal/offline"
	"healthtrack/syncd/internal/queue"
	"healthtrack/syncd/internal/syncer"
)

type jsonResponse map[string]any

type errorResponse struct {
	Error string `json:"error"`
}

// Documents is the offline-aware CRUD surface.
type Documents interface {
	Create(ctx context.Context, collection string, payload document.Doc) (document.Doc, error)
	Update(ctx context.Context, collection string, id string, fields document.Doc) (document.Doc, error)
	Delete(ctx context.Context, collection string, id string) error
	List(ctx context.Context, collection string) ([]document.Doc, error)
}

// Engine is the sync engine surface the API reports on and drives.
type Engine interface {
	IsOnline() bool
	Drain(ctx context.Context) (syncer.Result, error)
	Pending(ctx context.Context) ([]queue.Operation, error)
	LastResult() syncer.Result
}

type Server struct {
	docs     Documents
	engine   Engine
	gatherer prometheus.Gatherer
}

// NewServer builds the API. A nil gatherer leaves /metrics unregistered.
func NewServer(docs Documents, engine Engine, gatherer prometheus.Gatherer) *Server {
	return &Server{docs: docs, engine: engine, gatherer: gatherer}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	s.RegisterRoutes(router)
	return router
}

func (s *Server) RegisterRoutes(router *mux.Router) {
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w)
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})

	router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)

	router.HandleFunc("/sync/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/sync/drain", s.handleDrain).Methods(http.MethodPost)
	router.HandleFunc("/sync/queue", s.handleQueue).Methods(http.MethodGet)

	router.HandleFunc("/collections/{collection}", s.handleList).Methods(http.MethodGet)
	router.HandleFunc("/collections/{collection}", s.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/collections/{collection}/{id}", s.handleUpdate).Methods(http.MethodPatch)
	router.HandleFunc("/collections/{collection}/{id}", s.handleDelete).Methods(http.MethodDelete)

	if s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"online":     s.engine.IsOnline(),
		"pending":    len(pending),
		"lastResult": s.engine.LastResult(),
	})
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Drain(r.Context())
	if errors.Is(err, syncer.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{
		"online": s.engine.IsOnline(),
		"result": result,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if pending == nil {
		pending = []queue.Operation{}
	}
	writeJSON(w, http.StatusOK, jsonResponse{"operations": pending})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	records, err := s.docs.List(r.Context(), collection)
	if err != nil {
		glog.Warningf("[http]list collection=%s: %v\n", collection, err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if records == nil {
		records = []document.Doc{}
	}
	writeJSON(w, http.StatusOK, jsonResponse{"records": records})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := mux.Vars(r)["collection"]
	var payload document.Doc
	if err := decodeJSON(r, &payload); err != nil {
		glog.Infof("[http]create decode collection=%s: %v\n", collection, err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	online := s.engine.IsOnline()
	record, err := s.docs.Create(r.Context(), collection, payload)
	s.writeResult(w, online, record, err)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var fields document.Doc
	if err := decodeJSON(r, &fields); err != nil {
		glog.Infof("[http]update decode collection=%s: %v\n", vars["collection"], err)
		writeError(w, http.StatusBadRequest, err)
		return
	}
	online := s.engine.IsOnline()
	record, err := s.docs.Update(r.Context(), vars["collection"], vars["id"], fields)
	s.writeResult(w, online, record, err)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	online := s.engine.IsOnline()
	err := s.docs.Delete(r.Context(), vars["collection"], vars["id"])
	s.writeResult(w, online, document.Doc{document.IDField: vars["id"]}, err)
}

// writeResult answers 200 for a write the remote store accepted, 202 for one
// that was only queued, and 502 when the online attempt failed and the write
// was queued for retry. A write aimed at a record that only exists locally is
// refused with 409 until the record has synced.
func (s *Server) writeResult(w http.ResponseWriter, online bool, record document.Doc, err error) {
	switch {
	case errors.Is(err, offline.ErrPlaceholderID):
		writeJSON(w, http.StatusConflict, jsonResponse{"error": err.Error(), "queued": false})
	case err != nil && online:
		glog.Warningf("[http]online write failed, queued: %v\n", err)
		writeJSON(w, http.StatusBadGateway, jsonResponse{"error": err.Error(), "queued": true})
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case online:
		writeJSON(w, http.StatusOK, jsonResponse{"record": record, "queued": false})
	default:
		writeJSON(w, http.StatusAccepted, jsonResponse{"record": record, "queued": true})
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, jsonResponse{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
