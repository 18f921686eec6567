package web

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/LaGGgggg/spbu-timetable-ics-calendar/internal/scheduler"
)

// Server exposes the published calendar artifact and a small operational
// surface. The reader path is stateless: it serves whatever artifact is
// currently on disk, relying on the publisher's atomic replace.
type Server struct {
	artifactPath string
	status       func() scheduler.Status
	log          *logrus.Logger
	mux          *http.ServeMux
}

func NewServer(artifactPath string, status func() scheduler.Status, log *logrus.Logger) *Server {
	s := &Server{
		artifactPath: artifactPath,
		status:       status,
		log:          log,
		mux:          http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/calendar.ics", s.handleCalendar)
	s.mux.HandleFunc("/api/status", s.handleStatus)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleCalendar serves the last published document. Until the first
// successful pass there is nothing to serve and subscribers get 404; a
// failed pass keeps serving the previous artifact unchanged.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(s.artifactPath)
	if err != nil {
		http.Error(w, "calendar not published yet", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "calendar not published yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeContent(w, r, "", info.ModTime(), f)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to write JSON response")
	}
}
