// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes reference rendering tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/relink/internal/eventservice"
)

const contractURI = "relink://reference-format"

// Server wraps the MCP server with relink tools.
type Server struct {
	mcp *server.MCPServer
	svc *eventservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *eventservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"relink",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_references",
		mcp.WithDescription("Resolve every nostr reference in a text and return it as HTML with "+
			"mentions, links and cards substituted. Read the reference contract first via "+
			"the get_reference_contract tool or the "+contractURI+" resource."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text or HTML containing nostr: references")),
	), s.renderReferences)

	s.mcp.AddTool(mcp.NewTool("list_references",
		mcp.WithDescription("List the references found in a text without resolving them."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text or HTML to scan")),
	), s.listReferences)

	s.mcp.AddTool(mcp.NewTool("decode_identifier",
		mcp.WithDescription("Decode an npub, nprofile, note, nevent or naddr token, or a kind:author:slug coordinate."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Identifier, with or without the nostr: scheme")),
	), s.decodeIdentifier)

	s.mcp.AddTool(mcp.NewTool("get_site_config",
		mcp.WithDescription("Return the site configuration built from a publication index."),
		mcp.WithString("address", mcp.Description("Coordinate or naddr (defaults to the configured site)")),
		mcp.WithString("theme", mcp.Description("Theme to apply")),
	), s.getSiteConfig)

	s.mcp.AddTool(mcp.NewTool("get_event",
		mcp.WithDescription("Look an event up by id, locally first and then on relays."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Event id (64 hex characters)")),
	), s.getEvent)

	s.mcp.AddTool(mcp.NewTool("search_events",
		mcp.WithDescription("Full-text search through indexed event content and titles."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchEvents)

	s.mcp.AddTool(mcp.NewTool("import_events",
		mcp.WithDescription("Import a JSON or JSON Lines event file into the archive from an http(s) URL or a base64 data URI."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/json;base64,... URI")),
		mcp.WithString("filename", mcp.Description("Archive file name ending in .json or .jsonl")),
	), s.importEvents)

	s.mcp.AddTool(mcp.NewTool("get_reference_contract",
		mcp.WithDescription("Returns the reference format contract: which tokens are recognised and how they render."),
	), s.getReferenceContract)

	// Resource: reference format contract.
	s.mcp.AddResource(
		mcp.NewResource(contractURI, "Reference Format Contract",
			mcp.WithResourceDescription("How nostr references are written in text and rendered."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readContractResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func optionalString(req mcp.CallToolRequest, name string) string {
	if v, err := req.RequireString(name); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

func (s *Server) renderReferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.Render(ctx, text)), nil
}

func (s *Server) listReferences(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.svc.References(text)), nil
}

func (s *Server) decodeIdentifier(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	token, err := req.RequireString("token")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ref, err := s.svc.Decode(token)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ref), nil
}

func (s *Server) getSiteConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cfg, err := s.svc.Site(ctx, optionalString(req, "address"), optionalString(req, "theme"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(cfg), nil
}

func (s *Server) getEvent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ev, err := s.svc.GetEvent(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ev), nil
}

func (s *Server) searchEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("no results"), nil
	}
	return jsonResult(results), nil
}

func (s *Server) getReferenceContract(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(ReferenceFormatContract), nil
}

func (s *Server) readContractResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      contractURI,
			MIMEType: "text/markdown",
			Text:     ReferenceFormatContract,
		},
	}, nil
}
