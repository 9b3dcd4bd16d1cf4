package api

import (
	"net/http"
	"time"

	"routeplanner/internal/buildinfo"
)

func buildInfo() map[string]string { return buildinfo.Info() }

// debugInfo reports build metadata and the redacted running configuration.
func (s *Server) debugInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build":  buildInfo(),
		"time":   time.Now().UTC().Format(time.RFC3339),
		"config": s.deps.Settings,
	})
}
