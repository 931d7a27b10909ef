// Package mcpserver exposes read-only study tools to researcher agents over
// MCP.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"turing-study/internal/study"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	coord *study.Coordinator

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(coord *study.Coordinator) *Server {
	mcpSrv := server.NewMCPServer(
		"turing-study",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		coord:      coord,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerStudyTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

const conversationURIPrefix = "session://"
const conversationURISuffix = "/conversation"

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			conversationURIPrefix+"{session_id}"+conversationURISuffix,
			"session_conversation",
			mcp.WithTemplateDescription("Stored conversation turns of one session"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := request.Params.URI
			if !strings.HasPrefix(raw, conversationURIPrefix) || !strings.HasSuffix(raw, conversationURISuffix) {
				return nil, nil
			}
			id := strings.TrimSuffix(strings.TrimPrefix(raw, conversationURIPrefix), conversationURISuffix)
			if id == "" {
				return nil, nil
			}
			sess, err := s.coord.Session(ctx, id)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(map[string]any{
				"session_id":   id,
				"conversation": sess.Conversation,
			})
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      raw,
					MIMEType: "application/json",
					Text:     string(payload),
				},
			}, nil
		},
	)
}
