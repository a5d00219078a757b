package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/blockbase/internal/factory"
	"github.com/starford/blockbase/internal/service"
	"github.com/starford/blockbase/internal/testutil"
)

func testServer(t *testing.T, files map[string]string) *Server {
	t.Helper()
	_, store := testutil.TestVault(t, files)
	f := factory.New(store,
		factory.WithLogger(testutil.Logger()),
		factory.WithFilter(func(name string, isDir bool) bool {
			return isDir || strings.HasSuffix(name, ".md")
		}))
	svc := service.New(store, f, service.WithLogger(testutil.Logger()))
	if err := svc.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(svc, "test")
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so handlers are called directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "read_block":
		result, err = srv.readBlock(ctx, req)
	case "get_tree":
		result, err = srv.getTree(ctx, req)
	case "get_links":
		result, err = srv.getLinks(ctx, req)
	case "get_backlinks":
		result, err = srv.getBacklinks(ctx, req)
	case "list_broken_links":
		result, err = srv.listBrokenLinks(ctx, req)
	case "find_block":
		result, err = srv.findBlock(ctx, req)
	case "create_note":
		result, err = srv.createNote(ctx, req)
	case "annotate":
		result, err = srv.annotate(ctx, req)
	case "get_link_syntax":
		result, err = srv.getLinkSyntax(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestCreateAndReadBlock(t *testing.T) {
	srv := testServer(t, nil)

	r := callTool(t, srv, "create_note", map[string]any{
		"path":    "test.md",
		"content": "# Test\nHello",
	})
	if text := resultText(r); text != "created: test.md" {
		t.Errorf("create result = %q", text)
	}

	r = callTool(t, srv, "read_block", map[string]any{"path": "test.md"})
	var detail service.BlockDetail
	if err := json.Unmarshal([]byte(resultText(r)), &detail); err != nil {
		t.Fatalf("read result: %v", err)
	}
	if detail.Title != "Test" || detail.Kind != "File" {
		t.Errorf("detail = %+v", detail.BlockRef)
	}

	r = callTool(t, srv, "create_note", map[string]any{"path": "test.md", "content": "again"})
	if !r.IsError {
		t.Error("expected error for duplicate note")
	}
}

func TestReadBlockMissing(t *testing.T) {
	srv := testServer(t, nil)
	r := callTool(t, srv, "read_block", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing block")
	}
	r = callTool(t, srv, "read_block", map[string]any{"path": "../up.md"})
	if !r.IsError || !strings.Contains(resultText(r), "invalid path") {
		t.Errorf("traversal result = %q", resultText(r))
	}
}

func TestLinksAndBacklinks(t *testing.T) {
	srv := testServer(t, map[string]string{
		"a.md": "links to [[b]]",
		"b.md": "# B",
	})

	r := callTool(t, srv, "get_backlinks", map[string]any{"path": "b.md"})
	if text := resultText(r); text != "a.md" {
		t.Errorf("backlinks = %q, want a.md", text)
	}
	r = callTool(t, srv, "get_links", map[string]any{"path": "a.md"})
	if text := resultText(r); text != "b.md" {
		t.Errorf("links = %q, want b.md", text)
	}
	r = callTool(t, srv, "get_links", map[string]any{"path": "b.md"})
	if text := resultText(r); text != "no links found" {
		t.Errorf("links(b) = %q", text)
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing path argument")
	}
}

func TestBrokenLinksResolveOnCreate(t *testing.T) {
	srv := testServer(t, map[string]string{"a.md": "see [[Later]]"})

	r := callTool(t, srv, "list_broken_links", nil)
	if text := resultText(r); text != "a.md -> [[Later]]" {
		t.Errorf("broken = %q", text)
	}

	callTool(t, srv, "create_note", map[string]any{"path": "later.md", "content": "# Later"})
	r = callTool(t, srv, "list_broken_links", nil)
	if text := resultText(r); text != "no broken links" {
		t.Errorf("broken after create = %q", text)
	}
}

func TestFindBlockAndTree(t *testing.T) {
	srv := testServer(t, map[string]string{"dir/n.md": "---\ntitle: Named\n---\nbody"})

	r := callTool(t, srv, "find_block", map[string]any{"name": "named"})
	if r.IsError || !strings.Contains(resultText(r), `"path": "dir/n.md"`) {
		t.Errorf("find = %q", resultText(r))
	}

	r = callTool(t, srv, "get_tree", map[string]any{"depth": 1})
	var tree service.TreeNode
	if err := json.Unmarshal([]byte(resultText(r)), &tree); err != nil {
		t.Fatal(err)
	}
	if tree.Kind != "Folder" || len(tree.Children) != 1 || len(tree.Children[0].Children) != 0 {
		t.Errorf("tree = %+v", tree)
	}
}

func TestAnnotate(t *testing.T) {
	srv := testServer(t, map[string]string{"a.md": "# A", "b.md": "# B"})

	r := callTool(t, srv, "annotate", map[string]any{"path": "a.md", "text": "see [[B]]"})
	if r.IsError {
		t.Fatalf("annotate = %q", resultText(r))
	}
	r = callTool(t, srv, "get_backlinks", map[string]any{"path": "b.md"})
	if text := resultText(r); text != "a.md (StringLeaf)" {
		t.Errorf("backlinks = %q", text)
	}
}

func TestLinkSyntax(t *testing.T) {
	srv := testServer(t, nil)
	r := callTool(t, srv, "get_link_syntax", nil)
	if !strings.Contains(resultText(r), "[[") {
		t.Error("link syntax text missing wikilink example")
	}
	contents, err := srv.readLinkSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
}
