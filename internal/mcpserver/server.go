// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the block knowledge base to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/blockbase/internal/apperr"
	"github.com/starford/blockbase/internal/service"
)

const linkSyntaxURI = "blockbase://link-syntax"

// Server wraps the MCP server with knowledge base tools.
type Server struct {
	mcp *server.MCPServer
	svc *service.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *service.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Blockbase",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("read_block",
		mcp.WithDescription("Read a block by vault path: its kind, text, metadata, children, links and backlinks. "+
			"An empty path reads the vault root."),
		mcp.WithString("path", mcp.Description("Relative path (e.g. folder/note.md)")),
	), s.readBlock)

	s.mcp.AddTool(mcp.NewTool("get_tree",
		mcp.WithDescription("Return the block tree under a path: folders, files and the parsed Markdown blocks of each note."),
		mcp.WithString("path", mcp.Description("Relative path, empty for the whole vault")),
		mcp.WithNumber("depth", mcp.Description("Maximum depth; omit for unlimited")),
	), s.getTree)

	s.mcp.AddTool(mcp.NewTool("get_links",
		mcp.WithDescription("List the blocks that the block at path links to."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note")),
	), s.getLinks)

	s.mcp.AddTool(mcp.NewTool("get_backlinks",
		mcp.WithDescription("Find all blocks that link to the block at path."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note")),
	), s.getBacklinks)

	s.mcp.AddTool(mcp.NewTool("list_broken_links",
		mcp.WithDescription("List link markers whose target names no block in the vault."),
	), s.listBrokenLinks)

	s.mcp.AddTool(mcp.NewTool("find_block",
		mcp.WithDescription("Resolve a link target name (title, alias, file name or path) to a block."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Name as written inside [[...]]")),
	), s.findBlock)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a new Markdown note at the specified path. "+
			"Links inside it resolve immediately. Read the link syntax first via "+
			"the get_link_syntax tool or the "+linkSyntaxURI+" resource."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path for the new note")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Markdown content")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("annotate",
		mcp.WithDescription("Append text to a note in memory only. Links in the text take effect until the note changes on disk."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path of the note")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text to append")),
	), s.annotate)

	s.mcp.AddTool(mcp.NewTool("get_link_syntax",
		mcp.WithDescription("Returns how links are written and resolved."),
	), s.getLinkSyntax)

	s.mcp.AddResource(
		mcp.NewResource(linkSyntaxURI, "Link Syntax",
			mcp.WithResourceDescription("How notes link to each other and how targets resolve."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLinkSyntaxResource,
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

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// errorResult turns a service error into a tool error the client can act on.
func errorResult(path string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	case errors.Is(err, apperr.ErrAlreadyExists):
		return mcp.NewToolResultError(fmt.Sprintf("already exists: %s", path)), nil
	case errors.Is(err, apperr.ErrInvalidPath):
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %s", path)), nil
	default:
		return mcp.NewToolResultError(err.Error()), nil
	}
}

func (s *Server) readBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	detail, err := s.svc.Block(ctx, path)
	if err != nil {
		return errorResult(path, err)
	}
	return jsonResult(detail)
}

func (s *Server) getTree(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	depth := req.GetInt("depth", -1)
	tree, err := s.svc.Tree(ctx, path, depth)
	if err != nil {
		return errorResult(path, err)
	}
	return jsonResult(tree)
}

func (s *Server) getLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	links, err := s.svc.Links(ctx, path)
	if err != nil {
		return errorResult(path, err)
	}
	if len(links) == 0 {
		return mcp.NewToolResultText("no links found"), nil
	}
	return mcp.NewToolResultText(joinRefs(links)), nil
}

func (s *Server) getBacklinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	back, err := s.svc.Backlinks(ctx, path)
	if err != nil {
		return errorResult(path, err)
	}
	if len(back) == 0 {
		return mcp.NewToolResultText("no backlinks found"), nil
	}
	return mcp.NewToolResultText(joinRefs(back)), nil
}

func (s *Server) listBrokenLinks(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	broken := s.svc.Broken(ctx)
	if len(broken) == 0 {
		return mcp.NewToolResultText("no broken links"), nil
	}
	lines := make([]string, len(broken))
	for i, b := range broken {
		lines[i] = fmt.Sprintf("%s -> [[%s]]", b.Source.Path, b.Target)
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) findBlock(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Find(ctx, name)
	if err != nil {
		return errorResult(name, err)
	}
	return jsonResult(detail)
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.CreateNote(ctx, path, []byte(content)); err != nil {
		return errorResult(path, err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) annotate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Annotate(ctx, path, text); err != nil {
		return errorResult(path, err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("annotated: %s", path)), nil
}

func (s *Server) getLinkSyntax(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LinkSyntax), nil
}

func (s *Server) readLinkSyntaxResource(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      linkSyntaxURI,
			MIMEType: "text/markdown",
			Text:     LinkSyntax,
		},
	}, nil
}

// joinRefs lists one block per line; blocks inside a note show their kind.
func joinRefs(refs []service.BlockRef) string {
	lines := make([]string, len(refs))
	for i, r := range refs {
		switch r.Kind {
		case "File", "Folder", "Document":
			lines[i] = r.Path
		default:
			lines[i] = fmt.Sprintf("%s (%s)", r.Path, r.Kind)
		}
	}
	return strings.Join(lines, "\n")
}
