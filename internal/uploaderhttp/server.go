// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package uploaderhttp

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/equalitie/ouinet-telemetry/internal/logging"
)

// Server is a minimal ingestion endpoint matching Uploader's wire
// format, for local demos and integration tests. It does not decrypt
// anything; it just accepts and stores raw ciphertexts in memory.
type Server struct {
	router *mux.Router
	log    *logging.Logger

	mu       sync.Mutex
	received []wireRecord
	reject   bool
}

// NewServer builds a Server with its routes already registered.
func NewServer() *Server {
	s := &Server{
		router: mux.NewRouter(),
		log:    logging.WithComponent("uploaderhttp.server"),
	}
	s.router.HandleFunc("/records", s.handleUpload).Methods(http.MethodPost)
	return s
}

// Handler returns the http.Handler to mount.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReject controls whether subsequent uploads are rejected (for
// exercising the uploader's failure/backoff path in tests).
func (s *Server) SetReject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

// Received returns a copy of every record accepted so far.
func (s *Server) Received() []wireRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wireRecord, len(s.received))
	copy(out, s.received)
	return out
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var rec wireRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.log.WithError(err).Warn("malformed upload body")
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	reject := s.reject
	if !reject {
		s.received = append(s.received, rec)
	}
	s.mu.Unlock()

	if reject {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
