package domselect

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func mcpSession(t *testing.T, e *Engine) *mcp.ClientSession {
	t.Helper()
	impl := &mcp.Implementation{Name: "domselect-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	e.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

// callTool calls name and decodes its JSON text into out. It fails the
// test on tool errors.
func callTool(t *testing.T, s *mcp.ClientSession, name string, args map[string]any, out any) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if res.IsError {
		t.Fatalf("%s: tool error: %s", name, text)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("%s: decode %q: %v", name, text, err)
		}
	}
}

func callToolError(t *testing.T, s *mcp.ClientSession, name string, args map[string]any) string {
	t.Helper()
	res, err := s.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if !res.IsError {
		t.Fatalf("%s: expected a tool error, got %+v", name, res.Content)
	}
	return res.Content[0].(*mcp.TextContent).Text
}

func TestMCP_ListTools(t *testing.T) {
	s := mcpSession(t, memEngine(t))
	res, err := s.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{
		"domselect_analyze":         false,
		"domselect_record_outcome":  false,
		"domselect_get_profile":     false,
		"domselect_reset_profile":   false,
		"domselect_upsert_pattern":  false,
		"domselect_record_snapshot": false,
		"domselect_stats":           false,
	}
	for _, tool := range res.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestMCP_AnalyzeAndSeed(t *testing.T) {
	e := memEngine(t)
	s := mcpSession(t, e)

	var res AnalysisResult
	callTool(t, s, "domselect_analyze", map[string]any{
		"selector": "[data-testid='submit-button']",
		"html":     loginPage,
		"url":      "https://www.example.com/login",
		"seed":     true,
	}, &res)
	if res.Recommendation != Preferred || len(res.Alternatives) == 0 {
		t.Fatalf("result: %+v", res)
	}
	seeded := e.GetProfile("example.com")
	if _, tier, ok := seeded.Find("[data-testid]"); !ok || tier != TierPreferred {
		t.Fatalf("not seeded under the url host")
	}

	callTool(t, s, "domselect_analyze", map[string]any{
		"selector":        "//button[@aria-label='Sign in']",
		"kind":            "xpath",
		"html":            loginPage,
		"no_alternatives": true,
	}, &res)
	if res.Candidate.Kind != KindXPath || len(res.Alternatives) != 0 || !res.Features.IsUniqueMatch {
		t.Fatalf("xpath result: %+v", res)
	}
}

func TestMCP_AnalyzeErrors(t *testing.T) {
	s := mcpSession(t, memEngine(t))

	if msg := callToolError(t, s, "domselect_analyze", map[string]any{"selector": "div", "kind": "regex", "html": loginPage}); !strings.Contains(msg, "unknown kind") {
		t.Errorf("unknown kind: %s", msg)
	}
	if msg := callToolError(t, s, "domselect_analyze", map[string]any{"selector": "div"}); !strings.Contains(msg, "html or url required") {
		t.Errorf("no page: %s", msg)
	}
	if msg := callToolError(t, s, "domselect_analyze", map[string]any{"selector": "div", "url": "https://example.com"}); !strings.Contains(msg, "browser") {
		t.Errorf("capture disabled: %s", msg)
	}
	if msg := callToolError(t, s, "domselect_analyze", map[string]any{"selector": "div[[[", "html": loginPage}); !strings.Contains(msg, "div[[[") {
		t.Errorf("malformed selector: %s", msg)
	}
}

func TestMCP_LearningRoundTrip(t *testing.T) {
	e := memEngine(t)
	s := mcpSession(t, e)

	var lp LearnedPattern
	for range 5 {
		callTool(t, s, "domselect_record_outcome", map[string]any{
			"domain":       "shop.example.com",
			"selector":     "#checkout",
			"found":        true,
			"unique_match": true,
		}, &lp)
	}
	if lp.Pattern != "#id" || lp.Tier != TierPreferred || lp.Observations != 5 {
		t.Fatalf("learned: %+v", lp)
	}
	callToolError(t, s, "domselect_record_outcome", map[string]any{"selector": "#x", "found": true})

	var p Profile
	callTool(t, s, "domselect_upsert_pattern", map[string]any{"domain": "shop.example.com", "pattern": "//li[n]", "tier": "antiPatterns"}, &p)
	if len(p.AntiPatterns) != 1 || len(p.Preferred) != 1 {
		t.Fatalf("after upsert: %+v", p)
	}
	callToolError(t, s, "domselect_upsert_pattern", map[string]any{"domain": "shop.example.com", "pattern": "#id", "tier": "great"})

	callTool(t, s, "domselect_get_profile", map[string]any{"domain": "https://shop.example.com/"}, &p)
	if p.Domain != "shop.example.com" || p.Len() != 2 {
		t.Fatalf("get: %+v", p)
	}

	var list struct {
		Domains []string `json:"domains"`
	}
	callTool(t, s, "domselect_get_profile", nil, &list)
	if len(list.Domains) != 1 || list.Domains[0] != "shop.example.com" {
		t.Fatalf("domains: %v", list.Domains)
	}

	callTool(t, s, "domselect_reset_profile", map[string]any{"domain": "shop.example.com"}, nil)
	reset := e.GetProfile("shop.example.com")
	if reset.Len() != 0 {
		t.Fatal("reset did not clear the profile")
	}
	callToolError(t, s, "domselect_reset_profile", map[string]any{})
}

func TestMCP_SnapshotAndStats(t *testing.T) {
	e := memEngine(t)
	s := mcpSession(t, e)

	var sr SnapshotResult
	callTool(t, s, "domselect_record_snapshot", map[string]any{"url": "https://example.com/a", "html": loginPage}, &sr)
	if sr.Domain != "example.com" || !sr.Added || sr.Held != 1 {
		t.Fatalf("snapshot: %+v", sr)
	}
	callToolError(t, s, "domselect_record_snapshot", map[string]any{})

	var st Stats
	callTool(t, s, "domselect_stats", nil, &st)
	if st.SnapshotsAdded != 1 || st.SnapshotsHeld != 1 || st.Persistent {
		t.Fatalf("stats: %+v", st)
	}
}

func TestMCP_ResetWithPurge(t *testing.T) {
	e := memEngine(t)
	s := mcpSession(t, e)

	callTool(t, s, "domselect_record_snapshot", map[string]any{"domain": "example.com", "html": loginPage}, nil)
	e.UpsertPattern("example.com", "#main", "preferred")

	var out map[string]string
	callTool(t, s, "domselect_reset_profile", map[string]any{"domain": "example.com", "purge": true}, &out)
	if out["status"] != "purged" {
		t.Fatalf("result: %v", out)
	}
	if st := e.Stats(); st.SnapshotsHeld != 0 || st.Patterns != 0 {
		t.Fatalf("stats: %+v", st)
	}
}
