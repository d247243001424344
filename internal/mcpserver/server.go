// Package mcpserver exposes the job-tracker tools to MCP clients.
//
// The same [tools.Dispatcher] that answers the live voice session serves
// every MCP call, so desktop agents and IDEs see identical tool names,
// schemas and replies. Two transports are offered: stdio for a client that
// spawns jobvoice as a subprocess, and streamable HTTP mounted on the API
// server.
package mcpserver

import (
	"context"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/jobvoice/internal/observe"
	"github.com/MrWong99/jobvoice/internal/tools"
)

// Implementation name announced during the MCP handshake.
const Name = "jobvoice"

// Server wraps an MCP server whose tools are backed by a dispatcher.
type Server struct {
	srv *mcpsdk.Server
}

// New registers every dispatcher tool on a fresh MCP server.
func New(d *tools.Dispatcher, version string) *Server {
	if version == "" {
		version = "dev"
	}
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: Name, Version: version}, nil)
	for _, def := range d.Definitions() {
		name := def.Name
		srv.AddTool(&mcpsdk.Tool{
			Name:        name,
			Description: def.Description,
			InputSchema: def.Parameters,
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
			res := d.Dispatch(ctx, name, req.Params.Arguments)
			if res.IsError {
				observe.Logger(ctx).Debug("mcp: tool call failed", "tool", name, "output", res.Output)
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Output}},
				IsError: res.IsError,
			}, nil
		})
	}
	return &Server{srv: srv}
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// RunStdio serves a single client over stdin/stdout until ctx ends or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}
