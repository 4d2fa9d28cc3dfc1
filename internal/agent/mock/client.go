package mock

import (
	"context"
	"io"
	"strings"

	"github.com/bakkerme/agentpipe/internal/agent"
)

// Client is a canned-response agent client for tests. Completions and
// StreamBodies are consumed in order; the last entry repeats.
type Client struct {
	Completions  []agent.Completion
	StreamBodies []string
	Err          error
	Calls        []agent.ChatRequest
}

func (c *Client) Complete(ctx context.Context, request agent.ChatRequest) (agent.Completion, error) {
	_ = ctx
	c.Calls = append(c.Calls, request)
	if c.Err != nil {
		return agent.Completion{}, c.Err
	}
	if len(c.Completions) == 0 {
		return agent.Completion{}, nil
	}
	completion := c.Completions[0]
	if len(c.Completions) > 1 {
		c.Completions = c.Completions[1:]
	}
	return completion, nil
}

func (c *Client) Stream(ctx context.Context, request agent.ChatRequest) (*agent.LineStream, error) {
	_ = ctx
	c.Calls = append(c.Calls, request)
	if c.Err != nil {
		return nil, c.Err
	}
	body := ""
	if len(c.StreamBodies) > 0 {
		body = c.StreamBodies[0]
		if len(c.StreamBodies) > 1 {
			c.StreamBodies = c.StreamBodies[1:]
		}
	}
	return agent.NewLineStream(io.NopCloser(strings.NewReader(body))), nil
}

// StreamBody joins chunk payloads into an SSE body ending in [DONE].
func StreamBody(payloads ...string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString("data: ")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString("data: ")
	b.WriteString(agent.StreamDone)
	b.WriteString("\n\n")
	return b.String()
}
