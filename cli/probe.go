package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/ragon/ragon/engine/knowledge/kbtool"
	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/sse"
)

const (
	probeProtocolVersion = "2024-11-05"
	probeSearchID        = 3
)

func ProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run an MCP handshake and one search against a gateway",
		RunE:  handleProbeCmd,
	}
	cmd.Flags().String("url", "http://localhost:8000", "Base URL of the gateway")
	cmd.Flags().String("sse-path", "/sse", "Path of the SSE endpoint")
	cmd.Flags().String("query", "saha sorumlusu görevleri", "Query sent to search_knowledge_base")
	cmd.Flags().Duration("timeout", time.Minute, "Overall time allowed for the probe")
	return cmd
}

func handleProbeCmd(cmd *cobra.Command, _ []string) error {
	baseURL, err := cmd.Flags().GetString("url")
	if err != nil {
		return fmt.Errorf("failed to get url flag: %w", err)
	}
	ssePath, err := cmd.Flags().GetString("sse-path")
	if err != nil {
		return fmt.Errorf("failed to get sse-path flag: %w", err)
	}
	query, err := cmd.Flags().GetString("query")
	if err != nil {
		return fmt.Errorf("failed to get query flag: %w", err)
	}
	timeout, err := cmd.Flags().GetDuration("timeout")
	if err != nil {
		return fmt.Errorf("failed to get timeout flag: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	p := &Prober{
		Client:  resty.New(),
		BaseURL: baseURL,
		SSEPath: ssePath,
		Out:     cmd.OutOrStdout(),
	}
	return p.Run(ctx, query)
}

// Prober replays a minimal MCP client session: initialize, the initialized
// notification, tools/list and one tools/call, printing each response.
type Prober struct {
	Client  *resty.Client
	BaseURL string
	SSEPath string
	Out     io.Writer
}

func (p *Prober) Run(ctx context.Context, query string) error {
	log := logger.FromContext(ctx)
	streamURL := strings.TrimRight(p.BaseURL, "/") + p.SSEPath
	p.printf("Connecting to %s...\n", streamURL)

	resp, err := p.Client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream").
		Get(streamURL)
	if err != nil {
		return fmt.Errorf("opening event stream: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("opening event stream: unexpected status %d", resp.StatusCode())
	}
	decoder := sse.NewDecoder(body)

	endpoint, err := p.awaitEndpoint(ctx, decoder, streamURL)
	if err != nil {
		return err
	}
	p.printf("Received endpoint: %s\n", endpoint)

	requests := []map[string]any{
		{
			"jsonrpc": "2.0",
			"id":      1,
			"method":  "initialize",
			"params": map[string]any{
				"protocolVersion": probeProtocolVersion,
				"capabilities":    map[string]any{},
				"clientInfo":      map[string]any{"name": "ragon-probe", "version": "1.0"},
			},
		},
		{"jsonrpc": "2.0", "method": "notifications/initialized"},
		{"jsonrpc": "2.0", "id": 2, "method": "tools/list"},
		{
			"jsonrpc": "2.0",
			"id":      probeSearchID,
			"method":  "tools/call",
			"params": map[string]any{
				"name":      kbtool.ToolName,
				"arguments": map[string]any{"query": query},
			},
		},
	}
	for _, payload := range requests {
		status, err := p.post(ctx, endpoint, payload)
		if err != nil {
			return err
		}
		log.Debug("Posted probe request", "method", payload["method"], "status", status)
		if status != http.StatusAccepted && status != http.StatusOK {
			return fmt.Errorf("%s rejected with status %d", payload["method"], status)
		}
	}
	p.printf("Calling %s with query %q...\n", kbtool.ToolName, query)
	return p.awaitResponses(ctx, decoder)
}

func (p *Prober) awaitEndpoint(ctx context.Context, decoder *sse.Decoder, streamURL string) (string, error) {
	for {
		ev, err := decoder.Next(ctx)
		if err != nil {
			return "", fmt.Errorf("waiting for endpoint event: %w", err)
		}
		if ev.Type != "endpoint" {
			continue
		}
		base, err := url.Parse(streamURL)
		if err != nil {
			return "", fmt.Errorf("parsing stream url: %w", err)
		}
		ref, err := url.Parse(strings.TrimSpace(ev.Data))
		if err != nil {
			return "", fmt.Errorf("parsing endpoint %q: %w", ev.Data, err)
		}
		return base.ResolveReference(ref).String(), nil
	}
}

func (p *Prober) post(ctx context.Context, endpoint string, payload map[string]any) (int, error) {
	resp, err := p.Client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(endpoint)
	if err != nil {
		return 0, fmt.Errorf("posting %s: %w", payload["method"], err)
	}
	return resp.StatusCode(), nil
}

// awaitResponses prints responses until the search result arrives.
func (p *Prober) awaitResponses(ctx context.Context, decoder *sse.Decoder) error {
	for {
		ev, err := decoder.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed before the search result arrived")
			}
			return fmt.Errorf("reading responses: %w", err)
		}
		if ev.Type != "message" || !gjson.Valid(ev.Data) {
			continue
		}
		msg := gjson.Parse(ev.Data)
		id := msg.Get("id").Int()
		if errObj := msg.Get("error"); errObj.Exists() {
			p.printf("\n[Error] id=%d code=%d %s\n", id, errObj.Get("code").Int(), errObj.Get("message").String())
			if id == probeSearchID {
				return fmt.Errorf("search failed: %s", errObj.Get("message").String())
			}
			continue
		}
		switch id {
		case 1:
			p.printf("\n[Server] Initialization response received (%s %s, protocol %s).\n",
				msg.Get("result.serverInfo.name").String(),
				msg.Get("result.serverInfo.version").String(),
				msg.Get("result.protocolVersion").String())
		case 2:
			p.printf("\n[Server] Tools list:\n")
			msg.Get("result.tools").ForEach(func(_, tool gjson.Result) bool {
				desc, _, _ := strings.Cut(tool.Get("description").String(), "\n")
				p.printf(" - %s: %s\n", tool.Get("name").String(), desc)
				return true
			})
		case probeSearchID:
			p.printf("\n[Server] Search results:\n")
			msg.Get("result.content").ForEach(func(_, item gjson.Result) bool {
				p.printf("%s\n", prettyJSON(item.Get("text").String()))
				return true
			})
			if msg.Get("result.isError").Bool() {
				return errors.New("search returned a tool error")
			}
			return nil
		}
	}
}

func (p *Prober) printf(format string, args ...any) {
	fmt.Fprintf(p.Out, format, args...)
}

func prettyJSON(text string) string {
	if !gjson.Valid(text) {
		return text
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return text
	}
	return buf.String()
}
