package mcpgateway

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestStreamHandler(t *testing.T) {
	t.Run("Should announce the message endpoint before anything else", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))

		s := openStream(t, ts)

		assert.True(t, strings.HasPrefix(s.endpoint, "/messages?session_id="))
		assert.NotEmpty(t, s.sessionID)
		assert.True(t, ts.Sessions().Exists(s.sessionID))
	})

	t.Run("Should prefix the endpoint with the configured base URL", func(t *testing.T) {
		cfg := testConfig()
		cfg.BaseURL = "https://kb.example.com/ragon/"
		ts := newTestServer(t, cfg, testTools(t))

		s := openStream(t, ts)

		assert.True(t, strings.HasPrefix(s.endpoint, "https://kb.example.com/ragon/messages?session_id="))
	})

	t.Run("Should destroy the session when the client disconnects", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		s.close()

		require.Eventually(t, func() bool { return !ts.Sessions().Exists(s.sessionID) },
			2*time.Second, 10*time.Millisecond)
		resp := post(t, ts, s.endpoint, rpc(1, "ping", ""))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Should end the stream on the shutdown sentinel", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		require.NoError(t, ts.Sessions().Enqueue(s.sessionID, ShutdownEvent()))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := s.decoder.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
		assert.Eventually(t, func() bool { return !ts.Sessions().Exists(s.sessionID) },
			time.Second, 10*time.Millisecond)
	})

	t.Run("Should keep streams of different sessions apart", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		a, b := openStream(t, ts), openStream(t, ts)
		require.NotEqual(t, a.sessionID, b.sessionID)

		require.Equal(t, http.StatusAccepted, post(t, ts, a.endpoint,
			rpc(1, "tools/call", `{"name":"echo","arguments":{"text":"for-a"}}`)).StatusCode)
		require.Equal(t, http.StatusAccepted, post(t, ts, b.endpoint,
			rpc(1, "tools/call", `{"name":"echo","arguments":{"text":"for-b"}}`)).StatusCode)

		assert.Equal(t, "for-a", gjson.Get(a.next(t).Data, "result.content.0.text").String())
		assert.Equal(t, "for-b", gjson.Get(b.next(t).Data, "result.content.0.text").String())
	})

	t.Run("Should emit heartbeat comments that clients skip", func(t *testing.T) {
		cfg := testConfig()
		cfg.HeartbeatInterval = 10 * time.Millisecond
		ts := newTestServer(t, cfg, testTools(t))
		s := openStream(t, ts)
		time.Sleep(50 * time.Millisecond)

		require.Equal(t, http.StatusAccepted, post(t, ts, s.endpoint, rpc(1, "ping", "")).StatusCode)

		ev := s.next(t)
		assert.Equal(t, "message", ev.Type)
		assert.Equal(t, int64(1), gjson.Get(ev.Data, "id").Int())
	})
}

func TestMessageHandler(t *testing.T) {
	t.Run("Should reject a missing session_id", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))

		resp := post(t, ts, "/messages", rpc(1, "ping", ""))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Should reject an unknown session_id", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))

		resp := post(t, ts, "/messages?session_id=not-a-session", rpc(1, "ping", ""))

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Should reject malformed JSON without answering on the stream", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		resp := post(t, ts, s.endpoint, `{"jsonrpc":`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, http.StatusAccepted, post(t, ts, s.endpoint, rpc(2, "ping", "")).StatusCode)

		assert.Equal(t, int64(2), gjson.Get(s.next(t).Data, "id").Int())
	})

	t.Run("Should reject JSON that is not an envelope", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		resp := post(t, ts, s.endpoint, `{"id":1,"method":"ping"}`)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("Should reject oversized bodies", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxBodyBytes = 64
		ts := newTestServer(t, cfg, testTools(t))
		s := openStream(t, ts)

		resp := post(t, ts, s.endpoint, rpc(1, "tools/call",
			`{"name":"echo","arguments":{"text":"`+strings.Repeat("x", 128)+`"}}`))

		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	})

	t.Run("Should accept and deliver responses in request order", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		for id := 1; id <= 3; id++ {
			resp := post(t, ts, s.endpoint, rpc(id, "ping", ""))
			require.Equal(t, http.StatusAccepted, resp.StatusCode)
			assert.Equal(t, int64(id), gjson.Get(s.next(t).Data, "id").Int())
		}
	})

	t.Run("Should answer 500 once dispatch can no longer be scheduled", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)
		require.NoError(t, ts.pool.Close(t.Context()))

		resp := post(t, ts, s.endpoint, rpc(1, "ping", ""))

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})

	t.Run("Should throttle a session beyond the configured rate", func(t *testing.T) {
		cfg := testConfig()
		cfg.RateLimit = "2-M"
		ts := newTestServer(t, cfg, testTools(t))
		s := openStream(t, ts)

		codes := make([]int, 0, 3)
		for id := 1; id <= 3; id++ {
			codes = append(codes, post(t, ts, s.endpoint, rpc(id, "ping", "")).StatusCode)
		}

		assert.Equal(t, []int{http.StatusAccepted, http.StatusAccepted, http.StatusTooManyRequests}, codes)
	})
}

func TestServer_Routes(t *testing.T) {
	t.Run("Should answer the liveness check", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))

		resp, err := ts.HTTP.Client().Get(ts.HTTP.URL + "/")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())
	})

	t.Run("Should report open sessions on healthz", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		openStream(t, ts)

		resp, err := ts.HTTP.Client().Get(ts.HTTP.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, "healthy", gjson.GetBytes(body, "status").String())
		assert.Equal(t, int64(1), gjson.GetBytes(body, "sessions").Int())
	})

	t.Run("Should expose gateway metrics", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)
		require.Equal(t, http.StatusAccepted, post(t, ts, s.endpoint, rpc(1, "ping", "")).StatusCode)
		s.next(t)

		resp, err := ts.HTTP.Client().Get(ts.HTTP.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Contains(t, string(body), "ragon_gateway_active_sessions")
		assert.Contains(t, string(body), "ragon_gateway_rpc_requests")
	})
}

func TestServer_Stop(t *testing.T) {
	t.Run("Should close open streams and refuse new ones", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)

		require.NoError(t, ts.Stop(context.Background()))

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := s.decoder.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)

		resp, err := ts.HTTP.Client().Get(ts.HTTP.URL + "/sse")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("Should refuse messages while draining", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		s := openStream(t, ts)
		ts.draining.Store(true)

		resp := post(t, ts, s.endpoint, rpc(1, "ping", ""))

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("Should end a stream that opens after sessions were closed", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		ts.Sessions().CloseAll()

		s := openStream(t, ts)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := s.decoder.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
		assert.Eventually(t, func() bool { return !ts.Sessions().Exists(s.sessionID) },
			2*time.Second, 10*time.Millisecond)
	})
}

func TestGateway_EndToEnd(t *testing.T) {
	t.Run("Should complete the MCP handshake with an independent client", func(t *testing.T) {
		ts := newTestServer(t, nil, testTools(t))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := client.NewSSEMCPClient(ts.HTTP.URL + "/sse")
		require.NoError(t, err)
		defer c.Close()
		require.NoError(t, c.Start(ctx))

		initRes, err := c.Initialize(ctx, mcp.InitializeRequest{
			Params: mcp.InitializeParams{
				ProtocolVersion: "2024-11-05",
				ClientInfo:      mcp.Implementation{Name: "e2e", Version: "0.0.1"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "2024-11-05", initRes.ProtocolVersion)
		assert.NotNil(t, initRes.Capabilities.Tools)

		list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		require.NoError(t, err)
		require.Len(t, list.Tools, 3)
		assert.Equal(t, "echo", list.Tools[0].Name)

		res, err := c.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "ragon"}},
		})
		require.NoError(t, err)
		assert.False(t, res.IsError)
		require.Len(t, res.Content, 1)
		text, ok := res.Content[0].(mcp.TextContent)
		require.True(t, ok)
		assert.Equal(t, "ragon", text.Text)

		failed, err := c.CallTool(ctx, mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: "fail", Arguments: map[string]any{}},
		})
		require.NoError(t, err)
		assert.True(t, failed.IsError)

		require.NoError(t, c.Ping(ctx))
	})
}
