package gradient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/agentpipe/internal/agent"
	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/core"
)

// completionsPath is fixed by the agent platform's API.
const completionsPath = "/api/v1/chat/completions"

const maxErrorBodyBytes = 32 << 10
const maxResponseBytes = 10 << 20 // 10 MiB

// Client relays chat completions to a hosted agent endpoint. The endpoint
// speaks the OpenAI wire format behind bearer auth at a fixed path.
type Client struct {
	client       *http.Client
	streamClient *http.Client
	baseURL      string
	token        string
	userAgent    string
}

// NewClient builds a relay client from environment configuration. The
// configured timeout bounds whole blocking calls; streaming calls apply it to
// response headers only so long streams are not cut off mid-read.
func NewClient(cfg config.AgentEnvConfig) *Client {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "agentpipe/0.1"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.TLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = timeout

	var rt http.RoundTripper = transport
	var streamRT http.RoundTripper = streamTransport
	if cfg.OTel.Enabled && cfg.OTel.CaptureBodies {
		rt = newCaptureTransport(transport, cfg.OTel.MaxBodyBytes)
		streamRT = newCaptureTransport(streamTransport, cfg.OTel.MaxBodyBytes)
	}

	return &Client{
		client:       &http.Client{Timeout: timeout, Transport: rt},
		streamClient: &http.Client{Transport: streamRT},
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.EndpointURL), "/"),
		token:        strings.TrimSpace(cfg.AccessToken),
		userAgent:    userAgent,
	}
}

// Complete relays a blocking completion. A 2xx body that is not valid JSON is
// treated as "no content" and yields the zero Completion.
func (c *Client) Complete(ctx context.Context, request agent.ChatRequest) (agent.Completion, error) {
	tracer := otel.Tracer("agentpipe/agent/gradient")
	ctx, span := tracer.Start(ctx, "agent.chat.completions")
	span.SetAttributes(
		attribute.Bool("agent.stream", false),
		attribute.Int("agent.input_messages", len(request.Messages)),
		attribute.String("request.id", core.RequestIDFromContext(ctx)),
		attribute.String("conversation.id", core.ConversationIDFromContext(ctx)),
	)
	defer span.End()

	request.Stream = false
	resp, err := c.send(ctx, c.client, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return agent.Completion{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		relayErr := &agent.RelayError{Err: fmt.Errorf("read response: %w", err)}
		span.RecordError(relayErr)
		span.SetStatus(codes.Error, relayErr.Error())
		return agent.Completion{}, relayErr
	}

	var completion agent.Completion
	if err := json.Unmarshal(body, &completion); err != nil {
		// Some deployments answer empty task results with plain text.
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Bool("agent.non_json_body", true))
		return agent.Completion{}, nil
	}

	span.SetStatus(codes.Ok, "")
	return completion, nil
}

// Stream relays a streaming completion and returns the raw protocol line
// sequence. The caller owns Close on the returned stream.
func (c *Client) Stream(ctx context.Context, request agent.ChatRequest) (*agent.LineStream, error) {
	tracer := otel.Tracer("agentpipe/agent/gradient")
	ctx, span := tracer.Start(ctx, "agent.chat.completions.stream")
	span.SetAttributes(
		attribute.Bool("agent.stream", true),
		attribute.Int("agent.input_messages", len(request.Messages)),
		attribute.String("request.id", core.RequestIDFromContext(ctx)),
		attribute.String("conversation.id", core.ConversationIDFromContext(ctx)),
	)
	defer span.End()

	request.Stream = true
	resp, err := c.send(ctx, c.streamClient, request)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return agent.NewLineStream(resp.Body), nil
}

// send performs the single relay POST. Responses with non-2xx status are
// drained into a RelayError; 2xx responses are returned with the body open.
func (c *Client) send(ctx context.Context, hc *http.Client, request agent.ChatRequest) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, agent.ErrNoEndpoint
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("agent: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, &agent.RelayError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		resp.Body.Close()
		return nil, &agent.RelayError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
