package mcpserver

import (
	"context"
	"time"

	"turing-study/internal/study"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerStudyTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"study_status",
			mcp.WithDescription("Live sessions by role and match state, with the role counter and consistency flags"),
		),
		s.handleStudyStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"session_status",
			mcp.WithDescription("Lifecycle summary of one session"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Participant session id")),
		),
		s.handleSessionStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"researcher_data",
			mcp.WithDescription("Full stored record of a session, its partner and any dropout audit rows"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Participant session id")),
		),
		s.handleResearcherData,
	)
}

func (s *Server) handleStudyStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := s.coord.Status(ctx)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(resp), nil
}

type sessionSummary struct {
	SessionID          string              `json:"session_id"`
	Role               study.Role          `json:"role"`
	MatchStatus        study.MatchStatus   `json:"match_status"`
	SessionStatus      study.SessionStatus `json:"session_status"`
	MatchedSessionID   string              `json:"matched_session_id,omitempty"`
	TurnCount          int                 `json:"turn_count"`
	RequeueCount       int                 `json:"requeue_count"`
	CounterDecremented bool                `json:"counter_decremented"`
	Recovered          bool                `json:"recovered_from_restart"`
	TimeoutScreen      string              `json:"timeout_screen,omitempty"`
	LastUpdated        time.Time           `json:"last_updated"`
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	sess, err := s.coord.Session(ctx, id)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(sessionSummary{
		SessionID:          sess.ID,
		Role:               sess.Role,
		MatchStatus:        sess.MatchStatus,
		SessionStatus:      sess.Status,
		MatchedSessionID:   sess.MatchedSessionID,
		TurnCount:          sess.TurnCount(),
		RequeueCount:       sess.RequeueCount,
		CounterDecremented: sess.CounterDecremented,
		Recovered:          sess.RecoveredFromRestart,
		TimeoutScreen:      sess.TimeoutScreen,
		LastUpdated:        sess.LastUpdated,
	}), nil
}

func (s *Server) handleResearcherData(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	resp, err := s.coord.ResearcherData(ctx, id)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(resp), nil
}
