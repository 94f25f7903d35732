package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/kilnai/kiln/internal/convo"
	"github.com/kilnai/kiln/internal/message"
	"github.com/kilnai/kiln/internal/session"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	list, err := convo.ListLogs(s.cfg.LogsHome, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": list})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.convos.getOrLoad(id)
	if err != nil {
		s.writeConvoError(w, err)
		return
	}
	logSnap := m.Log()
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"workspace": logSnap.Workspace,
		"messages":  logSnap.Messages,
	})
}

type createConversationRequest struct {
	Messages  []message.Message `json:"messages"`
	Workspace string            `json:"workspace"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
	}

	m, err := convo.Create(s.convos.dir(id), req.Messages, req.Workspace)
	if err != nil {
		if errors.Is(err, convo.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already_exists", "conversation "+id+" already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	s.convos.create(id, m)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type appendMessageRequest struct {
	Role    message.Role `json:"role"`
	Content string       `json:"content"`
	Files   []string     `json:"files,omitempty"`
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req appendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	m, err := s.convos.getOrLoad(id)
	if err != nil {
		s.writeConvoError(w, err)
		return
	}

	msg := message.New(req.Role, req.Content, time.Now().UTC())
	msg.Files = req.Files
	if err := m.Append(msg); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.convos.getOrLoad(id)
	if err != nil {
		s.writeConvoError(w, err)
		return
	}

	sess := s.cfg.Sessions.Create(id, m)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": sess.ID, "state": string(sess.State())})
}

type stepRequest struct {
	SessionID   string `json:"session_id"`
	Model       string `json:"model,omitempty"`
	AutoConfirm int    `json:"auto_confirm,omitempty"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, ok := s.cfg.Sessions.Get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session_id")
		return
	}
	if req.AutoConfirm > 0 {
		sess.SetAutoConfirm(req.AutoConfirm)
	}

	if err := sess.Step(r.Context(), req.Model); err != nil {
		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusConflict, "busy", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(sess.State())})
}

type confirmRequest struct {
	SessionID string                `json:"session_id"`
	ToolID    string                `json:"tool_id"`
	Action    session.ConfirmAction `json:"action"`
	Content   string                `json:"content,omitempty"`
	Count     int                   `json:"count,omitempty"`
}

func (s *Server) handleConfirmTool(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, ok := s.cfg.Sessions.Get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session_id")
		return
	}

	if err := sess.ConfirmTool(r.Context(), req.ToolID, req.Action, req.Content, req.Count); err != nil {
		if errors.Is(err, session.ErrToolNotFound) {
			writeError(w, http.StatusNotFound, "tool_not_found", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(sess.State())})
}

type interruptRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	var req interruptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	sess, ok := s.cfg.Sessions.Get(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown session_id")
		return
	}
	if err := sess.Interrupt(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"state": string(sess.State())})
}

func (s *Server) writeConvoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convo.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, convo.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
