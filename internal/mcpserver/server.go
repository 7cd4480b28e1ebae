// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Raido retrieval tools for LLM integration via stdio
// transport. All tools are read-only: the vault is never written.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/raido/internal/ask"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/search"
	"github.com/starford/raido/internal/vault"
)

// Server wraps the MCP server with Raido tools.
type Server struct {
	mcp         *server.MCPServer
	fs          *vault.FS
	db          *index.DB
	engine      *search.Engine
	pipeline    *ask.Pipeline
	topKDefault int
}

// New creates a new MCP server with all Raido tools registered.
func New(fs *vault.FS, db *index.DB, engine *search.Engine, pipeline *ask.Pipeline, topKDefault int) *Server {
	s := &Server{fs: fs, db: db, engine: engine, pipeline: pipeline, topKDefault: topKDefault}

	s.mcp = server.NewMCPServer(
		"Raido",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Hybrid lexical + vector search over indexed Markdown chunks."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of hits to return")),
	), s.searchNotes)

	s.mcp.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Run the ask pipeline: retrieval, link-graph expansion, "+
			"temporal re-scoring, packing, and a cited extractive answer."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Question to answer from the vault")),
		mcp.WithBoolean("graph", mcp.Description("Append bounded 1-hop link-graph neighbors")),
		mcp.WithString("temporal_mode", mcp.Description("Temporal mode: recent, month, year, all, or hybrid")),
	), s.ask)

	s.mcp.AddTool(mcp.NewTool("read_note",
		mcp.WithDescription("Read the full content of a Markdown note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
	), s.readNote)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List all notes or notes under a specific folder."),
		mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all notes that link to the specified note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the note to find backlinks for")),
	), s.getBacklinks)

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

func (s *Server) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	topK := req.GetInt("top_k", s.topKDefault)
	hits, err := s.engine.Search(ctx, query, topK, false, search.Filters{}, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(hits, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.pipeline.Ask(ctx, ask.Options{
		Query:        query,
		Graph:        req.GetBool("graph", false),
		TemporalMode: req.GetString("temporal_mode", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(res.Answer), nil
}

func (s *Server) readNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.fs.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := req.GetString("folder", "")

	infos, err := s.fs.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var paths []string
	for _, info := range infos {
		if folder != "" && !strings.HasPrefix(info.Path, strings.TrimSuffix(folder, "/")+"/") {
			continue
		}
		paths = append(paths, info.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	bl, err := s.db.Backlinks(index.Title(path))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(bl) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(strings.Join(bl, "\n")), nil
}
