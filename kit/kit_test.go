package kit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	chained := Chain(mw("a"), mw("b"), mw("c"))(base)
	resp, err := chained(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	expected := []string{"a_before", "b_before", "c_before", "endpoint", "c_after", "b_after", "a_after"}
	if len(order) != len(expected) {
		t.Fatalf("order length: got %d, want %d", len(order), len(expected))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], v)
		}
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) {
		return nil, errFail
	}

	noop := func(next Endpoint) Endpoint { return next }
	chained := Chain(noop)(base)

	_, err := chained(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestWithRequestIDs(t *testing.T) {
	var seen []string
	base := func(ctx context.Context, _ any) (any, error) {
		seen = append(seen, GetRequestID(ctx))
		return nil, nil
	}
	ep := WithRequestIDs(func() string { return "req_gen" })(base)

	ep(context.Background(), nil)
	ep(WithRequestID(context.Background(), "req_caller"), nil)

	if len(seen) != 2 || seen[0] != "req_gen" || seen[1] != "req_caller" {
		t.Fatalf("request ids: %v", seen)
	}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	errFail := errors.New("fail")
	ep := Logging(logger, "analyze")(func(_ context.Context, req any) (any, error) {
		if req == "bad" {
			return nil, errFail
		}
		return "ok", nil
	})

	ctx := WithRequestID(context.Background(), "req_1")
	if resp, err := ep(ctx, "good"); err != nil || resp != "ok" {
		t.Fatalf("good call: %v %v", resp, err)
	}
	if _, err := ep(ctx, "bad"); !errors.Is(err, errFail) {
		t.Fatalf("bad call: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"level=DEBUG", "level=WARN", "op=analyze", "request_id=req_1", "error=fail"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestContext_Transport_Default(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "http" {
		t.Fatalf("default transport: got %q, want 'http'", v)
	}
}

func TestContext_Transport_Set(t *testing.T) {
	ctx := WithTransport(context.Background(), "mcp")
	if v := GetTransport(ctx); v != "mcp" {
		t.Fatalf("transport: got %q", v)
	}
}

func TestContext_RequestID(t *testing.T) {
	ctx := context.Background()
	if v := GetRequestID(ctx); v != "" {
		t.Fatalf("request_id default: got %q", v)
	}
	ctx = WithRequestID(ctx, "req_abc")
	if v := GetRequestID(ctx); v != "req_abc" {
		t.Fatalf("request_id: got %q", v)
	}
}

type echoRequest struct {
	Text string `json:"text"`
}

func TestRegisterMCPTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)

	var transport string
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo text back.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}},
	}, func(ctx context.Context, req any) (any, error) {
		transport = GetTransport(ctx)
		r := req.(*echoRequest)
		if r.Text == "" {
			return nil, errors.New("empty text")
		}
		return map[string]string{"echo": r.Text}, nil
	}, DecodeJSON[echoRequest])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %+v", res.Content)
	}
	if got := res.Content[0].(*mcp.TextContent).Text; got != `{"echo":"hi"}` {
		t.Fatalf("content: %s", got)
	}
	if transport != "mcp" {
		t.Errorf("transport = %q, want mcp", transport)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("endpoint error should surface as a tool error")
	}
}
