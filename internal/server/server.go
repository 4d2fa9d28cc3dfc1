// Package server exposes the OpenAI-compatible HTTP surface chat hosts call.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bakkerme/agentpipe/internal/agent"
	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/core"
	"github.com/bakkerme/agentpipe/internal/pipe"
)

type Server struct {
	pipe   *pipe.Pipe
	apiKey string
	logger *slog.Logger
	echo   *echo.Echo
}

// chatCompletionRequest is the inbound body: the OpenAI chat request plus
// the host's extension fields.
type chatCompletionRequest struct {
	agent.ChatRequest
	Task     string             `json:"task,omitempty"`
	TaskBody *agent.ChatRequest `json:"task_body,omitempty"`
	Metadata map[string]any     `json:"metadata,omitempty"`
	User     map[string]any     `json:"user,omitempty"`
}

type apiError struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func errorBody(message, errType string) apiError {
	return apiError{Error: apiErrorDetail{Message: message, Type: errType}}
}

func New(p *pipe.Pipe, cfg config.EnvConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	server := &Server{
		pipe:   p,
		apiKey: cfg.APIKey,
		logger: logger,
		echo:   e,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	// Enable CORS for browser-based chat frontends
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	s.echo.Use(s.requestContext)

	api := s.echo.Group("/api/v1")
	if s.apiKey != "" {
		api.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/api/v1/health"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == s.apiKey, nil
			},
			ErrorHandler: func(err error, c echo.Context) error {
				return c.JSON(http.StatusUnauthorized, errorBody("invalid or missing api key", "authentication_error"))
			},
		}))
	}
	api.GET("/health", s.handleHealth)
	api.POST("/chat/completions", s.handleChatCompletions)
}

// requestContext stamps every request with an id for log and trace
// correlation.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := uuid.NewString()
		ctx := core.WithRequestID(c.Request().Context(), id)
		ctx = core.WithLogger(ctx, s.logger.With("request_id", id))
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set("X-Request-ID", id)
		return next(c)
	}
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "agentpipe",
	})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req chatCompletionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body", "invalid_request_error"))
	}

	ctx := c.Request().Context()
	if chatID, ok := req.Metadata["chat_id"].(string); ok && chatID != "" {
		ctx = core.WithConversationID(ctx, chatID)
	}
	logger := core.LoggerFromContext(ctx)

	res, err := s.pipe.Run(ctx, pipe.Request{
		Body:     req.ChatRequest,
		Task:     req.Task,
		TaskBody: req.TaskBody,
		Metadata: req.Metadata,
		User:     req.User,
	})
	if err != nil {
		return s.writeError(c, logger, err)
	}

	switch {
	case res.Stream != nil:
		return writeStream(c, logger, res.Stream)
	case res.TaskJSON != "":
		return c.JSON(http.StatusOK, taskCompletion(req.Model, res.TaskJSON))
	default:
		return c.JSON(http.StatusOK, res.Completion)
	}
}

func (s *Server) writeError(c echo.Context, logger *slog.Logger, err error) error {
	var relayErr *agent.RelayError
	switch {
	case errors.Is(err, agent.ErrNoEndpoint):
		logger.Error("agent endpoint not configured")
		return c.JSON(http.StatusInternalServerError, errorBody(err.Error(), "configuration_error"))
	case errors.As(err, &relayErr):
		logger.Error("agent call failed", "status", relayErr.StatusCode, "error", relayErr)
		return c.JSON(http.StatusBadGateway, errorBody(relayErr.Error(), "upstream_error"))
	default:
		logger.Error("chat completion failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("internal error", "internal_error"))
	}
}

// writeStream plays a chunk stream out as server-sent events, flushing after
// every event so deltas reach the client as they are produced.
func writeStream(c echo.Context, logger *slog.Logger, stream *pipe.ChunkStream) error {
	defer stream.Close()

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	for {
		payload, ok := stream.Next()
		if !ok {
			break
		}
		if _, err := fmt.Fprintf(c.Response(), "data: %s\n\n", payload); err != nil {
			// Client went away; nothing left to deliver.
			return nil
		}
		c.Response().Flush()
	}
	if err := stream.Err(); err != nil {
		logger.Error("agent stream ended early", "error", err)
	}
	return nil
}

// taskCompletion wraps a task result string as a completion so hosts can
// read it off the normal message content field.
func taskCompletion(model, taskJSON string) agent.Completion {
	return agent.Completion{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []agent.Choice{{
			Message:      agent.Message{Role: agent.RoleAssistant, Content: taskJSON},
			FinishReason: "stop",
		}},
	}
}
