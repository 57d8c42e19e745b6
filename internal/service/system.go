package service

import (
	"net/http"
	"time"

	"github.com/AltaraLabs/mq/models"
)

// -- SYSTEM OPERATIONS --

func (s *Service) pingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, models.PingResponse{
		Status: "ok",
		Uptime: time.Since(s.startedAt).String(),
	})
}
