package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencode-ai/agentpool/internal/agent"
	"github.com/opencode-ai/agentpool/internal/pool"
	"github.com/opencode-ai/agentpool/internal/session"
	"github.com/opencode-ai/agentpool/pkg/types"
)

// health reports liveness.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"agents": s.pool.Len(),
	})
}

// PresetInfo is a preset with its rendered policy summary.
type PresetInfo struct {
	*agent.Preset
	Summary string `json:"summary"`
}

func (s *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	presets := s.pool.Presets().List()
	out := make([]PresetInfo, 0, len(presets))
	for _, p := range presets {
		out = append(out, PresetInfo{Preset: p, Summary: agent.Describe(p)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPreset(w http.ResponseWriter, r *http.Request) {
	p, err := s.pool.Presets().Get(chi.URLParam(r, "name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PresetInfo{Preset: p, Summary: agent.Describe(p)})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.List())
}

// CreateAgentRequest is the body of POST /agents.
type CreateAgentRequest struct {
	ID       string `json:"id,omitempty"`
	Preset   string `json:"preset,omitempty"`
	Cwd      string `json:"cwd"`
	ParentID string `json:"parentID,omitempty"`
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if req.Cwd == "" {
		writeErr(w, types.NewValidationError("cwd", "required"))
		return
	}

	sess, err := s.pool.Create(r.Context(), pool.CreateRequest{
		ID:       req.ID,
		Preset:   req.Preset,
		Cwd:      req.Cwd,
		ParentID: req.ParentID,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Status())
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	st, err := s.pool.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) destroyAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Destroy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeErr(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.pool.Get(chi.URLParam(r, "id"))
	if !ok {
		writeErr(w, types.NewNotFound(chi.URLParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, sess.History())
}

// SendRequest is the body of POST /agents/{id}/send.
type SendRequest struct {
	Content string `json:"content"`
	// Async queues the turn and returns 202 immediately; results arrive as events.
	Async bool `json:"async,omitempty"`
}

func (s *Server) sendAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SendRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, err)
		return
	}

	if req.Async {
		if _, err := s.pool.Status(id); err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if _, err := s.pool.Send(ctx, id, req.Content); err != nil {
				s.log.Warn().Err(err).Str("agent", id).Msg("async turn failed")
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "agentID": id})
		return
	}

	// A client disconnect cancels the turn.
	res, err := s.pool.Send(r.Context(), id, req.Content)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelAgent(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.pool.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// restoreAgent rebuilds an agent from the snapshot in the body, or from the
// stored snapshot when the body is empty.
func (s *Server) restoreAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var snap session.Snapshot
	if err := decodeBody(r, &snap); err != nil {
		writeErr(w, err)
		return
	}

	var (
		sess *session.Session
		err  error
	)
	if snap.ID == "" && snap.Version == 0 {
		sess, err = s.pool.Load(r.Context(), id)
	} else {
		if snap.ID != id {
			writeErr(w, types.NewValidationError("id", "snapshot is for %q, not %q", snap.ID, id))
			return
		}
		sess, err = s.pool.Restore(r.Context(), &snap)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Status())
}

// saveAgent persists a snapshot and returns it.
func (s *Server) saveAgent(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pool.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) compactAgent(w http.ResponseWriter, r *http.Request) {
	res, err := s.pool.Compact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
