package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentpool/internal/mcp"
	"github.com/opencode-ai/agentpool/internal/permission"
)

func (s *Server) listConfirmations(w http.ResponseWriter, r *http.Request) {
	pending := s.pool.Broker().Pending()
	if agentID := r.URL.Query().Get("agent"); agentID != "" {
		filtered := pending[:0]
		for _, req := range pending {
			if req.AgentID == agentID {
				filtered = append(filtered, req)
			}
		}
		pending = filtered
	}
	writeJSON(w, http.StatusOK, pending)
}

// respondConfirmation answers a pending request with {"approved": bool, "reason": "..."}.
func (s *Server) respondConfirmation(w http.ResponseWriter, r *http.Request) {
	var res permission.ConfirmResult
	if err := decodeBody(r, &res); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.pool.Broker().Respond(chi.URLParam(r, "requestID"), res); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) mcpStatus(w http.ResponseWriter, r *http.Request) {
	if s.mcp == nil {
		writeJSON(w, http.StatusOK, []mcp.ServerStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.mcp.Status())
}
