package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatstream/internal/domain"
	"chatstream/internal/infra/middleware"
	"chatstream/internal/usecase/streaming"
)

const (
	maxRequestBody = 1 << 20
	writeTimeout   = 5 * time.Second
	eventQueueSize = 64
)

// StartResponse is the body of a successful POST /v1/turns.
type StartResponse struct {
	SessionID      string `json:"session_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req streaming.TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h, err := s.svc.Start(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.logger.Info("turn started",
		"session_id", h.ID(),
		"conversation_id", h.ConversationID(),
		"client", clientName(r.Context()),
	)
	w.Header().Set("Location", "/v1/turns/"+h.ID())
	middleware.WriteJSON(w, http.StatusAccepted, StartResponse{
		SessionID:      h.ID(),
		ConversationID: h.ConversationID(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, s.svc.Active())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	h, ok := s.svc.Get(r.PathValue("id"))
	if !ok {
		s.writeServiceError(w, domain.ErrSessionNotFound)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Cancel(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWatch streams the snapshots of one turn as frames, oldest first,
// and closes the connection normally after the terminal snapshot. A client
// frame of type "cancel" cancels the turn.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	if id == "" {
		middleware.WriteError(w, http.StatusBadRequest, "session query parameter is required")
		return
	}
	h, ok := s.svc.Get(id)
	if !ok {
		s.writeServiceError(w, domain.ErrSessionNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer s.track(ws)()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readControl(ctx, cancel, ws, h)

	s.logger.Debug("watch started", "session_id", id, "client", clientName(r.Context()))
	for snap := range h.Subscribe(ctx) {
		payload, err := json.Marshal(snap)
		if err != nil {
			s.logger.Error("marshal snapshot failed", "session_id", id, "error", err)
			continue
		}
		if err := s.write(ctx, ws, Frame{Type: FrameTypeSnapshot, Seq: snap.Seq, Payload: payload}); err != nil {
			s.logger.Debug("watch write failed", "session_id", id, "error", err)
			return
		}
	}
	if ctx.Err() != nil {
		ws.Close(websocket.StatusGoingAway, "")
		return
	}
	ws.Close(websocket.StatusNormalClosure, "stream ended")
}

// readControl reads client frames until the connection ends.
func (s *Server) readControl(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, h *streaming.Handle) {
	defer cancel()
	for {
		var frame Frame
		if err := wsjson.Read(ctx, ws, &frame); err != nil {
			return
		}
		if frame.Type == FrameTypeCancel {
			s.logger.Info("turn cancelled by websocket client", "session_id", h.ID())
			h.Cancel()
		}
	}
}

// handleEvents forwards bus events to the client. Snapshot events are
// skipped unless snapshots=1. Events for a slow client are dropped.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		middleware.WriteError(w, http.StatusNotFound, "event stream is not available")
		return
	}
	withSnapshots := r.URL.Query().Get("snapshots") == "1"
	session := r.URL.Query().Get("session")

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns()})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := ws.CloseRead(r.Context())
	sendCh := make(chan Frame, eventQueueSize)
	unsub := s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		if event.Type == domain.EventStreamSnapshot && !withSnapshots {
			return
		}
		if session != "" && event.SessionID != session {
			return
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		select {
		case sendCh <- Frame{Type: FrameTypeEvent, Payload: payload}:
		default:
			s.logger.Warn("gateway: dropped event for slow client", "event", string(event.Type))
		}
	})
	defer unsub()
	defer s.track(ws)()

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusNormalClosure, "")
			return
		case frame := <-sendCh:
			if err := s.write(ctx, ws, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, ws *websocket.Conn, frame Frame) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, frame)
}

// writeServiceError maps service errors to HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrLimitReached):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrHistoryStore):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("gateway request failed", "error", err)
	}
	middleware.WriteJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	})
}
