// Package pipe routes inbound chat completion calls: background task calls
// get a fixed system prompt and a JSON string result, chat calls are relayed
// to the agent endpoint and their responses enhanced before delivery.
package pipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/bakkerme/agentpipe/internal/agent"
	"github.com/bakkerme/agentpipe/internal/enhance"
	"github.com/bakkerme/agentpipe/internal/tasks"
)

// Request is the inbound chat completion call plus the host's extension
// fields. TaskBody, when present, carries the conversation a task call
// should summarize instead of Body's messages.
type Request struct {
	Body     agent.ChatRequest
	Task     string
	TaskBody *agent.ChatRequest
	Metadata map[string]any
	User     map[string]any
}

// Result is a tagged union: exactly one of Completion, Stream or TaskJSON is
// set.
type Result struct {
	Completion *agent.Completion
	Stream     *ChunkStream
	TaskJSON   string
}

// Pipe relays chat completions through the agent client and post-processes
// what comes back.
type Pipe struct {
	client    agent.Client
	enhancer  *enhance.Enhancer
	streaming bool
	logger    *slog.Logger
}

func New(client agent.Client, enhancer *enhance.Enhancer, streamingEnabled bool, logger *slog.Logger) *Pipe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipe{
		client:    client,
		enhancer:  enhancer,
		streaming: streamingEnabled,
		logger:    logger,
	}
}

// Run dispatches one inbound call. Task calls never surface upstream
// failures; a missing endpoint URL is a configuration error and does.
func (p *Pipe) Run(ctx context.Context, req Request) (Result, error) {
	tracer := otel.Tracer("agentpipe/pipe")
	ctx, span := tracer.Start(ctx, "pipe.run")
	defer span.End()

	task := tasks.Classify(req.Task)
	span.SetAttributes(
		attribute.String("pipe.task", string(task)),
		attribute.Bool("pipe.stream_requested", req.Body.Stream),
	)

	var res Result
	var err error
	switch task {
	case tasks.TaskUnknown:
		p.logger.Warn("unhandled task call", "task", req.Task)
		res = Result{TaskJSON: "{}"}
	case tasks.TaskTitle, tasks.TaskFollowUp:
		res, err = p.runTask(ctx, task, req)
	default:
		res, err = p.runChat(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// runTask makes one blocking upstream call with the task's system prompt
// prepended. Upstream failures degrade to the extraction fallbacks so the
// host always gets a usable result.
func (p *Pipe) runTask(ctx context.Context, task tasks.Task, req Request) (Result, error) {
	body := req.Body
	if req.TaskBody != nil {
		body = *req.TaskBody
	}

	outbound := agent.ChatRequest{
		Messages: append(
			[]agent.Message{{Role: agent.RoleSystem, Content: task.SystemPrompt()}},
			body.Messages...,
		),
		Stream:      false,
		Temperature: body.Temperature,
		MaxTokens:   body.MaxTokens,
	}

	var raw string
	completion, err := p.client.Complete(ctx, outbound)
	switch {
	case errors.Is(err, agent.ErrNoEndpoint):
		return Result{}, err
	case err != nil:
		p.logger.Warn("task call failed, using fallback", "task", string(task), "error", err)
	default:
		raw = completion.Content()
	}

	switch task {
	case tasks.TaskFollowUp:
		return Result{TaskJSON: tasks.FollowUpsResult(tasks.ExtractFollowUps(raw))}, nil
	default:
		title := tasks.ExtractTitle(raw, tasks.FallbackTitle(body.Messages))
		return Result{TaskJSON: tasks.TitleResult(title)}, nil
	}
}

// runChat relays a chat call. Streaming responses are buffered whenever the
// enhancer needs the complete text; otherwise upstream lines pass through.
func (p *Pipe) runChat(ctx context.Context, req Request) (Result, error) {
	outbound := agent.ChatRequest{
		Messages:         req.Body.Messages,
		Temperature:      req.Body.Temperature,
		MaxTokens:        req.Body.MaxTokens,
		TopP:             req.Body.TopP,
		FrequencyPenalty: req.Body.FrequencyPenalty,
		PresencePenalty:  req.Body.PresencePenalty,
	}
	firstTurn := !hasAssistantTurn(req.Body.Messages)
	userText := lastUserContent(req.Body.Messages)

	if req.Body.Stream && p.streaming {
		outbound.Stream = true
		if p.enhancer.Buffered() {
			return p.runBufferedStream(ctx, outbound, req.Body.Model, firstTurn, userText)
		}
		return p.runPassthroughStream(ctx, outbound, req.Body.Model, firstTurn)
	}

	outbound.Stream = false
	completion, err := p.client.Complete(ctx, outbound)
	if err != nil {
		return Result{}, err
	}

	enhanced := p.enhancer.Enhance(ctx, enhance.Input{
		Text:      completion.Content(),
		FirstTurn: firstTurn,
		UserText:  userText,
	})
	normalized := normalizeCompletion(completion, req.Body.Model, enhanced.Full())
	return Result{Completion: &normalized}, nil
}

// runBufferedStream drains the upstream stream completely, enhances the
// joined text and re-emits it as a synthetic chunk stream. Buffering is what
// keeps unsigned private URLs from ever reaching the client.
func (p *Pipe) runBufferedStream(ctx context.Context, outbound agent.ChatRequest, model string, firstTurn bool, userText string) (Result, error) {
	upstream, err := p.client.Stream(ctx, outbound)
	if err != nil {
		return Result{}, err
	}
	defer upstream.Close()

	var text strings.Builder
	for upstream.Scan() {
		chunk, ok := agent.DecodeChunk(upstream.Line())
		if !ok {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		text.WriteString(chunk.DeltaContent())
	}
	if err := upstream.Err(); err != nil {
		return Result{}, fmt.Errorf("pipe: read agent stream: %w", err)
	}

	enhanced := p.enhancer.Enhance(ctx, enhance.Input{
		Text:      text.String(),
		FirstTurn: firstTurn,
		UserText:  userText,
	})
	p.logger.Debug("re-emitting buffered stream", "runes", len([]rune(enhanced.Text)), "images", len(enhanced.Images))
	return Result{Stream: newSyntheticStream(syntheticPayloads(model, enhanced))}, nil
}

// runPassthroughStream forwards upstream lines without buffering, appending
// first-turn notification chunks before [DONE] when due.
func (p *Pipe) runPassthroughStream(ctx context.Context, outbound agent.ChatRequest, model string, firstTurn bool) (Result, error) {
	upstream, err := p.client.Stream(ctx, outbound)
	if err != nil {
		return Result{}, err
	}

	var trailing []string
	if p.enhancer.NotificationDue(firstTurn) {
		trailing = notificationPayloads(model, p.enhancer.NotificationMessage())
	}
	return Result{Stream: newPassthroughStream(upstream, trailing)}, nil
}

// normalizeCompletion rewrites the first choice's content with the enhanced
// text, building a whole completion when upstream answered without choices.
func normalizeCompletion(completion agent.Completion, model, content string) agent.Completion {
	if len(completion.Choices) == 0 {
		return agent.Completion{
			ID:      newCompletionID(),
			Object:  "chat.completion",
			Created: nowUnix(),
			Model:   model,
			Choices: []agent.Choice{{
				Message:      agent.Message{Role: agent.RoleAssistant, Content: content},
				FinishReason: "stop",
			}},
		}
	}
	completion.Choices[0].Message.Role = agent.RoleAssistant
	completion.Choices[0].Message.Content = content
	return completion
}

func hasAssistantTurn(messages []agent.Message) bool {
	for _, m := range messages {
		if m.Role == agent.RoleAssistant {
			return true
		}
	}
	return false
}

func lastUserContent(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == agent.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
