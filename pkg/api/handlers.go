package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pardeema/bot-attack-simulator/pkg/config"
	"github.com/pardeema/bot-attack-simulator/pkg/logging"
	"github.com/pardeema/bot-attack-simulator/pkg/runner"
)

// handleLaunch starts a run. The 202 acknowledges the launch only;
// results arrive on the event stream.
func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var cfg config.RunConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	handle, err := s.coord.Launch(r.Context(), &cfg)
	if err != nil {
		if errors.Is(err, runner.ErrRunActive) {
			writeError(w, http.StatusConflict, "a simulation is already running")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("%s attack initiated. Connect to /attack-stream for results.", cfg.Strategy),
		"runId":   handle.ID,
	})
}

// handleStop requests cooperative cancellation and acknowledges
// immediately, without waiting for the run to wind down.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.coord.Stop() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Stop requested."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "No active simulation."})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logStreamEvent(eventType string, details map[string]any) {
	s.log.Debug(logging.CategoryStream, eventType, "", details)
}
