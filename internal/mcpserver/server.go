// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes zettelink's semantic tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/noteservice"
)

// LinksResourceURI addresses the last written links.json.
const LinksResourceURI = "zettelink://links"

// defaultLinkLimit caps find_links output unless the caller asks for more.
const defaultLinkLimit = 50

// Server wraps the MCP server with zettelink tools.
type Server struct {
	mcp *server.MCPServer
	svc *noteservice.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *noteservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"zettelink",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Semantic search: rank cached notes by embedding similarity to a free-text query. "+
			"Always returns the best matches, however weak."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text query")),
		mcp.WithNumber("top_k", mcp.Description("Number of results (default from config)")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("related_notes",
		mcp.WithDescription("List notes semantically related to one note, best first."),
		mcp.WithString("note", mcp.Required(), mcp.Description("Relative path (folder/note.md), path without extension, or stem")),
		mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity (default from config)")),
	), s.relatedNotes)

	s.mcp.AddTool(mcp.NewTool("find_links",
		mcp.WithDescription("Recompute the link graph between all cached notes and write links.json. "+
			"Near-duplicates above max_threshold are excluded."),
		mcp.WithNumber("threshold", mcp.Description("Minimum cosine similarity (default from config)")),
		mcp.WithNumber("max_threshold", mcp.Description("Near-duplicate cutoff (default 0.98)")),
		mcp.WithNumber("limit", mcp.Description("Maximum links returned (default 50); links.json always has all")),
	), s.findLinks)

	s.mcp.AddTool(mcp.NewTool("embed_notes",
		mcp.WithDescription("Bring the embedding cache up to date with the notes on disk. "+
			"Only new or modified notes are sent to the embedding provider."),
		mcp.WithBoolean("force", mcp.Description("Re-embed every note")),
	), s.embedNotes)

	s.mcp.AddTool(mcp.NewTool("cache_info",
		mcp.WithDescription("Describe the embedding cache: location, note count, dimensionality, model."),
	), s.cacheInfo)

	s.mcp.AddResource(
		mcp.NewResource(LinksResourceURI, "Link graph",
			mcp.WithResourceDescription("The links.json report written by the last link pass."),
			mcp.WithMIMEType("application/json"),
		),
		s.readLinksResource,
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

func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	if hint := apperr.Hint(err); hint != "" {
		msg += "\nhint: " + hint
	}
	return mcp.NewToolResultError(msg)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// optionalFloat returns the numeric argument key, or nil when the caller left it out.
func optionalFloat(req mcp.CallToolRequest, key string) *float64 {
	if _, ok := req.GetArguments()[key]; !ok {
		return nil
	}
	v := req.GetFloat(key, 0)
	return &v
}

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Search(ctx, q, int(req.GetFloat("top_k", 0)))
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(res.Report)
}

func (s *Server) relatedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rec, neighbors, err := s.svc.Related(ctx, note, optionalFloat(req, "threshold"), nil)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]any{
		"stem":      rec.Stem,
		"rel":       rec.Rel,
		"neighbors": neighbors,
	})
}

func (s *Server) findLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.svc.Links(ctx, optionalFloat(req, "threshold"), optionalFloat(req, "max_threshold"))
	if err != nil {
		return toolError(err), nil
	}
	limit := int(req.GetFloat("limit", defaultLinkLimit))
	links := res.Report.Links
	if limit > 0 && len(links) > limit {
		links = links[:limit]
	}
	return jsonResult(map[string]any{
		"threshold":   res.Report.Threshold,
		"total_notes": res.Report.TotalNotes,
		"total_links": res.Report.TotalLinks,
		"links":       links,
		"output":      res.Path,
	})
}

func (s *Server) embedNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sum, err := s.svc.Embed(ctx, req.GetBool("force", false), nil)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(sum)
}

func (s *Server) cacheInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.svc.CacheInfo(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(info)
}

func (s *Server) readLinksResource(ctx context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	res, err := s.svc.StoredLinks(ctx)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%s not found: run find_links first", res.Path)
	}
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(res.Report, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LinksResourceURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}
