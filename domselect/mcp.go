// CLAUDE:SUMMARY Registers the domselect MCP tools: analyze, record_outcome, get/reset profile, upsert_pattern, record_snapshot, stats.
package domselect

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/selres/domselect/internal/selector"
	"github.com/hazyhaar/selres/idgen"
	"github.com/hazyhaar/selres/kit"
)

// RegisterMCP registers domselect tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerAnalyzeTool(srv)
	e.registerRecordOutcomeTool(srv)
	e.registerGetProfileTool(srv)
	e.registerResetProfileTool(srv)
	e.registerUpsertPatternTool(srv)
	e.registerRecordSnapshotTool(srv)
	e.registerStatsTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

var mcpRequestIDs = idgen.Prefixed("mcp_", idgen.UUIDv7())

func (e *Engine) register(srv *mcp.Server, tool *mcp.Tool, endpoint kit.Endpoint, decode func(*mcp.CallToolRequest) (*kit.MCPDecodeResult, error)) {
	mw := kit.Chain(kit.WithRequestIDs(mcpRequestIDs), kit.Logging(e.logger, tool.Name))
	kit.RegisterMCPTool(srv, tool, mw(endpoint), decode)
}

var kindSchema = map[string]any{"type": "string", "enum": []any{"css", "xpath", "text"}, "description": "Selector language (default css)"}

// --- analyze ---

type analyzeRequest struct {
	Selector       string `json:"selector"`
	Kind           string `json:"kind,omitempty"`
	HTML           string `json:"html,omitempty"`
	URL            string `json:"url,omitempty"`
	Domain         string `json:"domain,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	NoAlternatives bool   `json:"no_alternatives,omitempty"`
	Seed           bool   `json:"seed,omitempty"`
}

func (e *Engine) registerAnalyzeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_analyze",
		Description: "Score a selector's stability on a page and propose ranked alternatives. Pass the page HTML, or a URL to capture when the browser is enabled.",
		InputSchema: inputSchema(map[string]any{
			"selector":        map[string]any{"type": "string", "description": "Selector expression"},
			"kind":            kindSchema,
			"html":            map[string]any{"type": "string", "description": "Page HTML"},
			"url":             map[string]any{"type": "string", "description": "Page URL to capture when html is omitted"},
			"domain":          map[string]any{"type": "string", "description": "Domain whose learned profile and history apply (defaults to the url host)"},
			"limit":           map[string]any{"type": "integer", "description": "Max alternatives (default 4)"},
			"no_alternatives": map[string]any{"type": "boolean", "description": "Skip alternative generation"},
			"seed":            map[string]any{"type": "boolean", "description": "Record unseen patterns of the result in the domain profile"},
		}, []string{"selector"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*analyzeRequest)
		return e.serveAnalyze(ctx, r)
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[analyzeRequest])
}

// serveAnalyze serves the MCP tool and the HTTP route.
func (e *Engine) serveAnalyze(ctx context.Context, r *analyzeRequest) (*AnalysisResult, error) {
	kind, err := selector.ParseKind(r.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	domain := r.Domain
	if domain == "" {
		domain = r.URL
	}
	html := []byte(r.HTML)
	if len(html) == 0 {
		if r.URL == "" {
			return nil, fmt.Errorf("%w: html or url required", ErrInvalidInput)
		}
		if html, err = e.Capture(ctx, r.URL); err != nil {
			return nil, err
		}
	}
	c := Candidate{Value: r.Selector, Kind: kind}
	res, err := e.AnalyzeHTML(ctx, domain, c, html, AnalyzeOptions{Limit: r.Limit, NoAlternatives: r.NoAlternatives})
	if err != nil {
		return nil, err
	}
	if r.Seed && domain != "" {
		e.Seed(domain, res)
	}
	return res, nil
}

// --- record_outcome ---

type outcomeRequest struct {
	Domain      string `json:"domain"`
	Selector    string `json:"selector"`
	Kind        string `json:"kind,omitempty"`
	Found       bool   `json:"found"`
	UniqueMatch bool   `json:"unique_match"`
}

func (r *outcomeRequest) event() (OutcomeEvent, error) {
	kind, err := selector.ParseKind(r.Kind)
	if err != nil {
		return OutcomeEvent{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if r.Domain == "" || r.Selector == "" {
		return OutcomeEvent{}, fmt.Errorf("%w: domain and selector required", ErrInvalidInput)
	}
	return OutcomeEvent{
		Domain:      r.Domain,
		Selector:    Candidate{Value: r.Selector, Kind: kind},
		Found:       r.Found,
		UniqueMatch: r.UniqueMatch,
	}, nil
}

func (e *Engine) registerRecordOutcomeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_record_outcome",
		Description: "Record whether a selector resolved (and uniquely) during a live run. Updates the domain's learned pattern scores.",
		InputSchema: inputSchema(map[string]any{
			"domain":       map[string]any{"type": "string", "description": "Domain or page URL"},
			"selector":     map[string]any{"type": "string", "description": "Selector used"},
			"kind":         kindSchema,
			"found":        map[string]any{"type": "boolean", "description": "Selector matched at least one element"},
			"unique_match": map[string]any{"type": "boolean", "description": "Selector matched exactly one element"},
		}, []string{"domain", "selector", "found"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		ev, err := req.(*outcomeRequest).event()
		if err != nil {
			return nil, err
		}
		return e.RecordOutcome(ev), nil
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[outcomeRequest])
}

// --- get_profile / reset_profile ---

type domainRequest struct {
	Domain string `json:"domain"`
	Purge  bool   `json:"purge"`
}

func (e *Engine) registerGetProfileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_get_profile",
		Description: "Get a domain's learned selector profile (preferred, fallbacks, antiPatterns). Without a domain, list known domains.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Domain or page URL"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*domainRequest)
		if r.Domain == "" {
			return map[string]any{"domains": nonNil(e.Domains())}, nil
		}
		return e.GetProfile(r.Domain), nil
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[domainRequest])
}

func (e *Engine) registerResetProfileTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_reset_profile",
		Description: "Forget everything learned on a domain. With purge, also drop its snapshot history and stored rows now.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Domain or page URL"},
			"purge":  map[string]any{"type": "boolean", "description": "Also delete snapshots and the stored profile immediately"},
		}, []string{"domain"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*domainRequest)
		if r.Domain == "" {
			return nil, fmt.Errorf("%w: domain required", ErrInvalidInput)
		}
		if r.Purge {
			if err := e.PurgeDomain(ctx, r.Domain); err != nil {
				return nil, err
			}
			return map[string]string{"domain": e.profiles.Domain(r.Domain), "status": "purged"}, nil
		}
		e.ResetProfile(r.Domain)
		return map[string]string{"domain": e.profiles.Domain(r.Domain), "status": "reset"}, nil
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[domainRequest])
}

// --- upsert_pattern ---

type upsertRequest struct {
	Domain  string `json:"domain"`
	Pattern string `json:"pattern"`
	Tier    string `json:"tier"`
}

func (e *Engine) registerUpsertPatternTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_upsert_pattern",
		Description: "Place a selector pattern in a tier of a domain profile. New patterns get the tier's seed score; known ones keep their record.",
		InputSchema: inputSchema(map[string]any{
			"domain":  map[string]any{"type": "string", "description": "Domain or page URL"},
			"pattern": map[string]any{"type": "string", "description": "Pattern template, e.g. [data-testid]"},
			"tier":    map[string]any{"type": "string", "enum": []any{"preferred", "fallbacks", "antiPatterns"}, "description": "Target tier"},
		}, []string{"domain", "pattern", "tier"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*upsertRequest)
		if r.Domain == "" {
			return nil, fmt.Errorf("%w: domain required", ErrInvalidInput)
		}
		if err := e.UpsertPattern(r.Domain, r.Pattern, r.Tier); err != nil {
			return nil, err
		}
		return e.GetProfile(r.Domain), nil
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[upsertRequest])
}

// --- record_snapshot ---

type snapshotRequest struct {
	Domain string `json:"domain,omitempty"`
	URL    string `json:"url,omitempty"`
	HTML   string `json:"html,omitempty"`
}

func (e *Engine) serveSnapshot(ctx context.Context, r *snapshotRequest) (*SnapshotResult, error) {
	if r.HTML == "" {
		if r.URL == "" {
			return nil, fmt.Errorf("%w: html or url required", ErrInvalidInput)
		}
		if r.Domain == "" {
			return e.CaptureSnapshot(ctx, r.URL)
		}
		html, err := e.Capture(ctx, r.URL)
		if err != nil {
			return nil, err
		}
		return e.RecordSnapshot(ctx, r.Domain, r.URL, html)
	}
	return e.RecordSnapshot(ctx, r.Domain, r.URL, []byte(r.HTML))
}

func (e *Engine) registerRecordSnapshotTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_record_snapshot",
		Description: "Add a page to a domain's snapshot history, used to measure how much element positions drift between visits.",
		InputSchema: inputSchema(map[string]any{
			"domain": map[string]any{"type": "string", "description": "Domain (defaults to the url host)"},
			"url":    map[string]any{"type": "string", "description": "Page URL; captured with the browser when html is omitted"},
			"html":   map[string]any{"type": "string", "description": "Page HTML"},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.serveSnapshot(ctx, req.(*snapshotRequest))
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[snapshotRequest])
}

// --- stats ---

type statsRequest struct{}

func (e *Engine) registerStatsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "domselect_stats",
		Description: "Engine counters: analyses, outcomes, domains, patterns, snapshots, flushes.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Stats(), nil
	}
	e.register(srv, tool, endpoint, kit.DecodeJSON[statsRequest])
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
