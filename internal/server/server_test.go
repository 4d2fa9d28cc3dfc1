package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bakkerme/agentpipe/internal/agent"
	"github.com/bakkerme/agentpipe/internal/agent/mock"
	"github.com/bakkerme/agentpipe/internal/config"
	"github.com/bakkerme/agentpipe/internal/enhance"
	"github.com/bakkerme/agentpipe/internal/pipe"
)

func newTestServer(t *testing.T, client agent.Client, cfg config.EnvConfig) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enhancer, err := enhance.New(cfg.Images, cfg.Chat, nil, nil, logger)
	if err != nil {
		t.Fatalf("enhance.New() error = %v", err)
	}
	p := pipe.New(client, enhancer, cfg.Chat.StreamingEnabled, logger)
	return New(p, cfg, logger)
}

func passthroughConfig() config.EnvConfig {
	return config.EnvConfig{
		Chat:   config.ChatEnvConfig{StreamingEnabled: true},
		Images: config.ImageEnvConfig{DetectionEnabled: false},
	}
}

func do(s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &mock.Client{}, passthroughConfig())

	rec := do(s, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body: %v", err)
	}
	if body["status"] != "healthy" || body["service"] != "agentpipe" {
		t.Fatalf("health body = %v", body)
	}
}

func TestChatCompletions_Blocking(t *testing.T) {
	client := &mock.Client{Completions: []agent.Completion{{
		ID:     "cmpl-1",
		Object: "chat.completion",
		Model:  "agent-llm",
		Choices: []agent.Choice{{
			Message:      agent.Message{Role: agent.RoleAssistant, Content: "Hello back."},
			FinishReason: "stop",
		}},
	}}}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"model":"agent-llm","stream":false,"messages":[{"role":"user","content":"Hello"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("X-Request-ID header missing")
	}

	var completion agent.Completion
	if err := json.Unmarshal(rec.Body.Bytes(), &completion); err != nil {
		t.Fatalf("response body: %v", err)
	}
	if completion.Content() != "Hello back." {
		t.Fatalf("content = %q, want %q", completion.Content(), "Hello back.")
	}
	if completion.ID != "cmpl-1" {
		t.Errorf("ID = %q, want upstream id", completion.ID)
	}
}

func TestChatCompletions_TaskWrappedAsCompletion(t *testing.T) {
	client := &mock.Client{Completions: []agent.Completion{{
		Choices: []agent.Choice{{Message: agent.Message{Role: agent.RoleAssistant, Content: "Trip Planning"}}},
	}}}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"model":"agent-llm","task":"title_generation","messages":[{"role":"user","content":"Plan a trip"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var completion agent.Completion
	if err := json.Unmarshal(rec.Body.Bytes(), &completion); err != nil {
		t.Fatalf("response body: %v", err)
	}
	if want := `{"title":"Trip Planning"}`; completion.Content() != want {
		t.Fatalf("content = %q, want %q", completion.Content(), want)
	}
	if completion.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", completion.Object)
	}
	if !strings.HasPrefix(completion.ID, "chatcmpl-") {
		t.Errorf("ID = %q, want chatcmpl- prefix", completion.ID)
	}
}

func TestChatCompletions_UnknownTask(t *testing.T) {
	client := &mock.Client{}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"task":"emoji_generation","messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var completion agent.Completion
	if err := json.Unmarshal(rec.Body.Bytes(), &completion); err != nil {
		t.Fatalf("response body: %v", err)
	}
	if completion.Content() != "{}" {
		t.Fatalf("content = %q, want {}", completion.Content())
	}
	if len(client.Calls) != 0 {
		t.Fatalf("upstream calls = %d, want 0", len(client.Calls))
	}
}

func TestChatCompletions_Streaming(t *testing.T) {
	payload := `{"id":"u-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`
	client := &mock.Client{StreamBodies: []string{mock.StreamBody(payload)}}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "data: "+payload+"\n\n") {
		t.Errorf("stream body missing upstream payload:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream body does not end with [DONE]:\n%s", body)
	}
}

func TestChatCompletions_UpstreamError(t *testing.T) {
	client := &mock.Client{Err: &agent.RelayError{StatusCode: 503, Body: "overloaded"}}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var apiErr apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if apiErr.Error.Type != "upstream_error" {
		t.Errorf("error type = %q, want upstream_error", apiErr.Error.Type)
	}
	if !strings.Contains(apiErr.Error.Message, "503") {
		t.Errorf("error message = %q, want upstream status in it", apiErr.Error.Message)
	}
}

func TestChatCompletions_MissingEndpoint(t *testing.T) {
	client := &mock.Client{Err: agent.ErrNoEndpoint}
	s := newTestServer(t, client, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var apiErr apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if apiErr.Error.Type != "configuration_error" {
		t.Errorf("error type = %q, want configuration_error", apiErr.Error.Type)
	}
}

func TestChatCompletions_MalformedBody(t *testing.T) {
	s := newTestServer(t, &mock.Client{}, passthroughConfig())

	rec := do(s, http.MethodPost, "/api/v1/chat/completions", `{"messages": [`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var apiErr apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if apiErr.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q, want invalid_request_error", apiErr.Error.Type)
	}
}

func TestChatCompletions_APIKey(t *testing.T) {
	completion := agent.Completion{Choices: []agent.Choice{{
		Message: agent.Message{Role: agent.RoleAssistant, Content: "ok"},
	}}}
	cfg := passthroughConfig()
	cfg.APIKey = "sekret"

	body := `{"messages":[{"role":"user","content":"hi"}]}`

	t.Run("wrong key rejected", func(t *testing.T) {
		s := newTestServer(t, &mock.Client{Completions: []agent.Completion{completion}}, cfg)
		rec := do(s, http.MethodPost, "/api/v1/chat/completions", body,
			map[string]string{"Authorization": "Bearer wrong"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		var apiErr apiError
		if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
			t.Fatalf("error body: %v", err)
		}
		if apiErr.Error.Type != "authentication_error" {
			t.Errorf("error type = %q, want authentication_error", apiErr.Error.Type)
		}
	})

	t.Run("missing key rejected", func(t *testing.T) {
		s := newTestServer(t, &mock.Client{Completions: []agent.Completion{completion}}, cfg)
		rec := do(s, http.MethodPost, "/api/v1/chat/completions", body, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("correct key accepted", func(t *testing.T) {
		s := newTestServer(t, &mock.Client{Completions: []agent.Completion{completion}}, cfg)
		rec := do(s, http.MethodPost, "/api/v1/chat/completions", body,
			map[string]string{"Authorization": "Bearer sekret"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("health needs no key", func(t *testing.T) {
		s := newTestServer(t, &mock.Client{}, cfg)
		rec := do(s, http.MethodGet, "/api/v1/health", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})
}
