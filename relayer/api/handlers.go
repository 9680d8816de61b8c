package api

import (
	"encoding/json"
	"net/http"

	"github.com/pushchain/payout-relay/relayer/txlog"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleTxLog handles GET /tx-log. An unreadable log is served as {}.
func (s *Server) handleTxLog(w http.ResponseWriter, r *http.Request) {
	entries, err := txlog.Read(s.opts.TxLogPath)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.opts.TxLogPath).Msg("relay log unavailable")
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "relay not running"})
		return
	}
	writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
