package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/blockbase/internal/factory"
	"github.com/starford/blockbase/internal/service"
	"github.com/starford/blockbase/internal/testutil"
)

// testEnv sets up a temp vault, loaded service, and router for testing.
// An empty authToken means auth is disabled.
func testEnv(t *testing.T, authToken string, files map[string]string) (*service.Service, http.Handler) {
	t.Helper()
	return testEnvWithEvents(t, authToken != "", authToken, files, nil)
}

func testEnvWithEvents(t *testing.T, authEnabled bool, token string, files map[string]string, events http.Handler) (*service.Service, http.Handler) {
	t.Helper()
	_, store := testutil.TestVault(t, files)
	f := factory.New(store,
		factory.WithLogger(testutil.Logger()),
		factory.WithFilter(func(name string, isDir bool) bool {
			return isDir || strings.HasSuffix(name, ".md")
		}))
	svc := service.New(store, f, service.WithLogger(testutil.Logger()))
	if err := svc.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return svc, NewRouter(svc, authEnabled, token, events)
}

func do(router http.Handler, method, target string, body any, token string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		r = httptest.NewRequest(method, target, bytes.NewReader(raw))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func TestCreateAndGetNote(t *testing.T) {
	_, router := testEnv(t, "", nil)

	w := do(router, http.MethodPost, "/notes", map[string]string{"path": "hello.md", "content": "# Hello\nWorld"}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/blocks/hello.md", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var block BlockDetail
	_ = json.Unmarshal(w.Body.Bytes(), &block)
	if block.Path != "hello.md" {
		t.Errorf("path = %q", block.Path)
	}
	if block.Title != "Hello" {
		t.Errorf("title = %q, want Hello", block.Title)
	}
}

func TestCreateDuplicate(t *testing.T) {
	_, router := testEnv(t, "", nil)
	body := map[string]string{"path": "dup.md", "content": "a"}

	if w := do(router, http.MethodPost, "/notes", body, ""); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/notes", body, ""); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateNote_Validation(t *testing.T) {
	_, router := testEnv(t, "", nil)
	cases := []map[string]string{
		{"path": "", "content": "x"},
		{"path": "a.md", "content": ""},
		{"path": "../escape.md", "content": "x"},
		{"path": "/abs.md", "content": "x"},
	}
	for _, body := range cases {
		if w := do(router, http.MethodPost, "/notes", body, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", body, w.Code)
		}
	}
	r := httptest.NewRequest(http.MethodPost, "/notes", strings.NewReader("{"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON = %d, want 400", w.Code)
	}
}

func TestLinksAndBacklinks(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{
		"a.md":       "# A\n\nSee [[B]] and [[Missing]].",
		"topics/b.md": "# B",
	})

	w := do(router, http.MethodGet, "/links/a.md", nil, "")
	var links LinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &links)
	if w.Code != http.StatusOK || len(links.Links) != 1 || links.Links[0].Path != "topics/b.md" {
		t.Fatalf("links = %d %s", w.Code, w.Body.String())
	}

	// Encoded slashes are accepted.
	w = do(router, http.MethodGet, "/backlinks/topics%2Fb.md", nil, "")
	var back LinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &back)
	if w.Code != http.StatusOK || len(back.Links) != 1 || back.Links[0].Path != "a.md" {
		t.Fatalf("backlinks = %d %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodGet, "/broken", nil, "")
	var broken BrokenResponse
	_ = json.Unmarshal(w.Body.Bytes(), &broken)
	if len(broken.Broken) != 1 || broken.Broken[0].Target != "Missing" {
		t.Errorf("broken = %s", w.Body.String())
	}
}

func TestTree(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{"a.md": "# A\n\n- one\n- two"})

	w := do(router, http.MethodGet, "/tree/a.md", nil, "")
	var tree TreeNode
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if w.Code != http.StatusOK || tree.Kind != "File" || len(tree.Children) != 1 {
		t.Fatalf("tree = %d %s", w.Code, w.Body.String())
	}
	doc := tree.Children[0]
	if len(doc.Children) != 2 || doc.Children[1].Kind != "List" || len(doc.Children[1].Children) != 2 {
		t.Errorf("document = %+v", doc)
	}

	w = do(router, http.MethodGet, "/tree?depth=1", nil, "")
	_ = json.Unmarshal(w.Body.Bytes(), &tree)
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 0 {
		t.Errorf("depth-limited tree = %s", w.Body.String())
	}

	if w := do(router, http.MethodGet, "/tree?depth=x", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad depth = %d", w.Code)
	}
}

func TestFind(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{"n.md": "---\naliases: [nick]\n---\n# Name"})

	w := do(router, http.MethodGet, "/find?name=Nick", nil, "")
	var block BlockDetail
	_ = json.Unmarshal(w.Body.Bytes(), &block)
	if w.Code != http.StatusOK || block.Path != "n.md" {
		t.Errorf("find = %d %s", w.Code, w.Body.String())
	}
	if w := do(router, http.MethodGet, "/find", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing name = %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/find?name=ghost", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown name = %d", w.Code)
	}
}

func TestAnnotate(t *testing.T) {
	_, router := testEnv(t, "", map[string]string{"a.md": "# A", "b.md": "# B"})

	w := do(router, http.MethodPost, "/annotations/a.md", map[string]string{"text": "see [[B]]"}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("annotate = %d %s", w.Code, w.Body.String())
	}
	w = do(router, http.MethodGet, "/backlinks/b.md", nil, "")
	var back LinksResponse
	_ = json.Unmarshal(w.Body.Bytes(), &back)
	if len(back.Links) != 1 {
		t.Errorf("backlinks = %s", w.Body.String())
	}
	if w := do(router, http.MethodPost, "/annotations/a.md", map[string]string{"text": ""}, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty text = %d", w.Code)
	}
}

func TestGetBlock_Errors(t *testing.T) {
	_, router := testEnv(t, "", nil)
	if w := do(router, http.MethodGet, "/blocks/nonexistent.md", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing = %d, want 404", w.Code)
	}
	if w := do(router, http.MethodGet, "/blocks/..%2F..%2Fetc%2Fpasswd", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("traversal = %d, want 400", w.Code)
	}
	if w := do(router, http.MethodGet, "/blocks", nil, ""); w.Code != http.StatusOK {
		t.Errorf("vault root = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)
	w := do(router, http.MethodPost, "/notes", map[string]string{"path": "auth.md", "content": "test"}, "secret123")
	if w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)
	if w := do(router, http.MethodGet, "/broken", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123", nil)
	if w := do(router, http.MethodGet, "/broken", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	_, router := testEnv(t, "", nil)
	if w := do(router, http.MethodGet, "/broken", nil, ""); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

// streamStub writes headers and blocks until the request context is done.
var streamStub = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithEvents(t, true, "secret", nil, streamStub)
	if w := do(router, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("events no auth = %d, want 401", w.Code)
	}
}

func TestEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithEvents(t, true, "tok", nil, streamStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("events with valid token should not 401")
	}
}

func TestCreateNote_ValidationFields(t *testing.T) {
	_, router := testEnv(t, "", nil)
	w := do(router, http.MethodPost, "/notes", map[string]string{"path": "../x.md"}, "")
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body.Fields["path"] == "" || body.Fields["content"] == "" {
		t.Errorf("fields = %v", body.Fields)
	}
}

func TestEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithEvents(t, true, "tok", nil, streamStub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("events with query token should not 401")
	}

	// The query token is only honoured on the event stream.
	if w := do(router, http.MethodGet, "/broken?access_token=tok", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /broken = %d, want 401", w.Code)
	}
}
