package httptransport

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"turing-study/internal/conversation"
	"turing-study/internal/presence"
	"turing-study/internal/study"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SessionHandlers serve the participant-facing study flow.
type SessionHandlers struct {
	coord  *study.Coordinator
	engine *conversation.Engine
	typing *presence.Tracker
}

func NewSessionHandlers(coord *study.Coordinator, engine *conversation.Engine, typing *presence.Tracker) *SessionHandlers {
	return &SessionHandlers{coord: coord, engine: engine, typing: typing}
}

func sessionID(r *http.Request) string {
	return chi.URLParam(r, "session_id")
}

func (h *SessionHandlers) AssignRole() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.AssignRoleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.coord.AssignRole(r.Context(), req)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) Initialize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.InitializeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.coord.Initialize(r.Context(), sessionID(r), req)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) JoinWaitingRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.coord.JoinWaitingRoom(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) MatchStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.coord.MatchStatus(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

type SessionStatusResponse struct {
	SessionID          string              `json:"session_id"`
	Role               study.Role          `json:"role"`
	MatchStatus        study.MatchStatus   `json:"match_status"`
	SessionStatus      study.SessionStatus `json:"session_status"`
	MatchedSessionID   string              `json:"matched_session_id,omitempty"`
	FirstMessageSender study.Role          `json:"first_message_sender,omitempty"`
	TurnCount          int                 `json:"turn_count"`
	ProceedToChatAt    *time.Time          `json:"proceed_to_chat_at,omitempty"`
	ChatAllowed        bool                `json:"chat_allowed"`
}

// SessionStatus lets a refreshed page restore its view from the durable
// record, whatever state it is in.
func (h *SessionHandlers) SessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := h.coord.Session(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, SessionStatusResponse{
			SessionID:          s.ID,
			Role:               s.Role,
			MatchStatus:        s.MatchStatus,
			SessionStatus:      s.Status,
			MatchedSessionID:   s.MatchedSessionID,
			FirstMessageSender: s.FirstMessageSender,
			TurnCount:          s.TurnCount(),
			ProceedToChatAt:    s.ProceedToChatAt,
			ChatAllowed:        h.coord.ChatAllowed(s),
		})
	}
}

func (h *SessionHandlers) SubmitTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricTurnSubmitTotal.Add(1)
		var req conversation.TurnRequest
		if !decodeJSON(w, r, &req) {
			metricTurnSubmitErrors.Add(1)
			return
		}
		res, err := h.engine.SubmitTurn(r.Context(), sessionID(r), req)
		if err != nil {
			metricTurnSubmitErrors.Add(1)
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) PartnerMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.coord.PollPartnerMessage(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) SignalTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.typing.Signal(r.Context(), sessionID(r)); err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (h *SessionHandlers) PartnerTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typing, err := h.typing.PartnerTyping(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"is_typing": typing})
	}
}

type NetworkDelayRequest struct {
	Turn    int     `json:"turn" validate:"gte=1"`
	Seconds float64 `json:"network_delay_seconds" validate:"gte=0"`
}

func (h *SessionHandlers) NetworkDelay() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req NetworkDelayRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := h.coord.RecordNetworkDelay(r.Context(), sessionID(r), req.Turn, req.Seconds); err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (h *SessionHandlers) ConversationStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		at, err := h.coord.LogConversationStart(r.Context(), sessionID(r))
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"conversation_started_at": at})
	}
}

func (h *SessionHandlers) SubmitRating() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.RatingRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.coord.SubmitRating(r.Context(), sessionID(r), req)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) SubmitComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.CommentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := h.coord.SubmitComment(r.Context(), sessionID(r), req); err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (h *SessionHandlers) SubmitFinalComment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.FinalCommentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := h.coord.SubmitFinalComment(r.Context(), sessionID(r), req); err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

// Abandonment receives navigator.sendBeacon calls from a closing page. The
// client never reads the answer, so every outcome is a 200.
func (h *SessionHandlers) Abandonment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricBeaconTotal.Add(1)
		var req study.AbandonRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			metricBeaconErrors.Add(1)
			log.Warn().Err(err).Msg("unreadable abandonment beacon")
			writeJSON(w, map[string]any{"ok": false})
			return
		}
		if err := h.coord.ReportAbandonment(r.Context(), req); err != nil {
			metricBeaconErrors.Add(1)
			log.Warn().Err(err).Str("session_id", req.SessionID).Msg("abandonment beacon not applied")
			writeJSON(w, map[string]any{"ok": false})
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

type PartnerDroppedRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (h *SessionHandlers) PartnerDropped() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PartnerDroppedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.coord.ReportPartnerDropped(r.Context(), req.SessionID)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}

func (h *SessionHandlers) RecordTimeout() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.TimeoutRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		recorded, err := h.coord.RecordTimeout(r.Context(), req)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"recorded": recorded})
	}
}

func (h *SessionHandlers) FinalizeNoSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.FinalizeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := h.coord.FinalizeNoSession(r.Context(), req); err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	}
}

func (h *SessionHandlers) LogUIEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req study.UIEventRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.coord.LogUIEvent(r.Context(), req)
		if err != nil {
			writeStudyError(w, err)
			return
		}
		writeJSON(w, res)
	}
}
