// Package tasks handles the host's background task calls: recognizing the
// task discriminator, shaping the upstream prompt and extracting a usable
// result from free-form model output.
package tasks

import (
	"encoding/json"
	"strings"

	"github.com/bakkerme/agentpipe/internal/agent"
)

type Task string

const (
	// TaskNone marks an ordinary chat call.
	TaskNone Task = ""
	// TaskUnknown marks a discriminator this pipe does not handle.
	TaskUnknown Task = "unknown"

	TaskTitle    Task = "title_generation"
	TaskFollowUp Task = "follow_up_generation"
)

// Classify maps the host's task discriminator onto a known task.
func Classify(raw string) Task {
	switch raw {
	case string(TaskTitle):
		return TaskTitle
	case string(TaskFollowUp):
		return TaskFollowUp
	case "":
		return TaskNone
	default:
		return TaskUnknown
	}
}

// SystemPrompt returns the fixed instruction prepended to task calls.
func (t Task) SystemPrompt() string {
	switch t {
	case TaskTitle:
		return "Generate a brief, descriptive title for this conversation. Respond with just the title, no quotes or extra text."
	case TaskFollowUp:
		return "Generate 3-5 follow-up questions based on this conversation. Return them as a simple list, one per line."
	default:
		return ""
	}
}

// TitleResult encodes a title the way the host expects task results.
func TitleResult(title string) string {
	out, _ := json.Marshal(struct {
		Title string `json:"title"`
	}{Title: title})
	return string(out)
}

// FollowUpsResult encodes follow-up questions the way the host expects task
// results. A nil list encodes as an empty array, not null.
func FollowUpsResult(followUps []string) string {
	if followUps == nil {
		followUps = []string{}
	}
	out, _ := json.Marshal(struct {
		FollowUps []string `json:"follow_ups"`
	}{FollowUps: followUps})
	return string(out)
}

// FallbackTitle derives a title from the most recent user message when the
// model produced nothing usable. Whitespace is collapsed and the result is
// capped at 100 characters.
func FallbackTitle(messages []agent.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != agent.RoleUser {
			continue
		}
		content := strings.Join(strings.Fields(messages[i].Content), " ")
		if content == "" {
			continue
		}
		return truncateRunes(content, 100)
	}
	return "New Chat"
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
