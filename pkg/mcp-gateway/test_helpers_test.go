package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ragon/ragon/engine/infra/monitoring"
	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/sse"
)

var ginModeOnce sync.Once

func ensureGinTestMode() {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.TestMode)
	})
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return logger.ContextWithLogger(t.Context(), logger.NewForTests())
}

// testTools registers an echo tool, a failing tool and a panicking tool.
func testTools(t *testing.T) *ToolRegistry {
	t.Helper()
	tools := NewToolRegistry()
	require.NoError(t, tools.Register(
		mcp.NewTool("echo",
			mcp.WithDescription("Echo the text argument"),
			mcp.WithString("text", mcp.Required()),
		),
		func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	))
	require.NoError(t, tools.Register(
		mcp.NewTool("fail", mcp.WithDescription("Always fails")),
		func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend unavailable")
		},
	))
	require.NoError(t, tools.Register(
		mcp.NewTool("explode", mcp.WithDescription("Panics")),
		func(context.Context, map[string]any) (string, error) {
			panic("boom")
		},
	))
	return tools
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

type testServer struct {
	*Server
	HTTP *httptest.Server
}

func newTestServer(t *testing.T, cfg *Config, tools *ToolRegistry) *testServer {
	t.Helper()
	ensureGinTestMode()
	if cfg == nil {
		cfg = testConfig()
	}
	mon, err := monitoring.NewService(testContext(t), nil)
	require.NoError(t, err)
	srv, err := NewServer(testContext(t), cfg, tools, mon)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router)
	t.Cleanup(func() {
		srv.Sessions().CloseAll()
		ts.Close()
		_ = mon.Shutdown(context.Background())
	})
	return &testServer{Server: srv, HTTP: ts}
}

// stream is an open client connection to the SSE endpoint.
type stream struct {
	endpoint  string
	sessionID SessionID
	decoder   *sse.Decoder
	cancel    context.CancelFunc
	body      interface{ Close() error }
}

func openStream(t *testing.T, ts *testServer) *stream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.HTTP.URL+"/sse", http.NoBody)
	require.NoError(t, err)
	resp, err := ts.HTTP.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &stream{decoder: sse.NewDecoder(resp.Body), cancel: cancel, body: resp.Body}
	t.Cleanup(s.close)

	ev := s.next(t)
	require.Equal(t, "endpoint", ev.Type)
	s.endpoint = ev.Data
	_, id, found := strings.Cut(ev.Data, "session_id=")
	require.True(t, found, "endpoint event must carry the session id")
	s.sessionID = SessionID(id)
	return s
}

func (s *stream) close() {
	s.cancel()
	_ = s.body.Close()
}

func (s *stream) next(t *testing.T) sse.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	type result struct {
		ev  sse.Event
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ev, err := s.decoder.Next(ctx)
		ch <- result{ev, err}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.ev
	case <-ctx.Done():
		t.Fatal("timed out waiting for SSE event")
		return sse.Event{}
	}
}

func post(t *testing.T, ts *testServer, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(
		context.Background(), http.MethodPost, ts.HTTP.URL+path, strings.NewReader(body),
	)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.HTTP.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func rpc(id int, method string, params string) string {
	if params == "" {
		return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, id, method)
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q,"params":%s}`, id, method, params)
}
