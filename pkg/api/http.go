// Package api exposes the local inspection and ops surface over HTTP. It
// is a read-mostly window onto the store plus a sync trigger; the write
// path belongs to the client facade, not this server.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/client"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
	"chatsync/pkg/syncerr"
	"chatsync/pkg/utils"
)

type Server struct {
	store  *store.Store
	client *client.Client
}

func NewServer(st *store.Store, cl *client.Client) *Server {
	return &Server{store: st, client: cl}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/messages", s.handleMessages).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/participants/{user}", s.handleParticipant).Methods(http.MethodGet)
	v1.HandleFunc("/conversations/{id}/sync", s.handleSync).Methods(http.MethodPost)
	v1.HandleFunc("/ledger", s.handleLedger).Methods(http.MethodGet)
	r.Use(requestLogger)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http_request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	// Ready once the store answers a scan.
	if _, err := s.store.ListConversations(); err != nil {
		utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, _ *http.Request) {
	sums, err := s.client.ConversationSummaries()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "list conversations failed")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"conversations": sums})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.store.SnapshotMessages(id, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "snapshot failed")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.store.GetParticipant(vars["id"], vars["user"])
	if syncerr.IsNotFound(err) {
		utils.JSONError(w, http.StatusNotFound, "participant not found")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "participant lookup failed")
		return
	}
	utils.JSONWrite(w, http.StatusOK, p)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = n
	}
	applied, err := s.client.SyncConversation(r.Context(), id, since)
	if syncerr.IsTransport(err) {
		utils.JSONError(w, http.StatusBadGateway, "backend unreachable")
		return
	}
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "sync failed")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	n, err := s.store.ProcessedActionCount()
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "ledger count failed")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{"processed_actions": n})
}
