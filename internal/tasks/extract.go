package tasks

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	numberingPattern = regexp.MustCompile(`^\d+[\.\)\-:]*\s*`)
	bulletPattern    = regexp.MustCompile(`^[\-\*•]+\s*`)
)

// ExtractTitle pulls a conversation title out of model output. JSON wins
// when present; otherwise the raw text is cleaned up and truncated. An empty
// result falls back to the caller-provided title.
func ExtractTitle(raw, fallback string) string {
	trimmed := strings.TrimSpace(raw)

	if body, ok := jsonBody(trimmed); ok {
		var parsed struct {
			Title string `json:"title"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			if title := strings.TrimSpace(parsed.Title); title != "" {
				return title
			}
		}
	}

	title := strings.Trim(trimmed, `"`)
	if runes := []rune(title); len(runes) > 100 {
		title = string(runes[:97]) + "..."
	}
	if title == "" {
		return fallback
	}
	return title
}

// ExtractFollowUps pulls follow-up questions out of model output. JSON wins
// when present; otherwise lines are cleaned of enumeration and bullets. At
// most five survive. Unusable output yields an empty list, never an error.
func ExtractFollowUps(raw string) []string {
	trimmed := strings.TrimSpace(raw)

	if body, ok := jsonBody(trimmed); ok {
		var parsed struct {
			FollowUps []string `json:"follow_ups"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.FollowUps) > 0 {
			if len(parsed.FollowUps) > 5 {
				return parsed.FollowUps[:5]
			}
			return parsed.FollowUps
		}
	}

	var followUps []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		line = numberingPattern.ReplaceAllString(line, "")
		line = bulletPattern.ReplaceAllString(line, "")
		if len([]rune(line)) <= 5 {
			continue
		}
		if strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			continue
		}
		followUps = append(followUps, line)
	}
	if len(followUps) > 5 {
		followUps = followUps[:5]
	}
	return followUps
}

// jsonBody slices the substring between the first "{" and the last "}",
// which survives models that wrap JSON in prose or code fences.
func jsonBody(raw string) ([]byte, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return []byte(raw[start : end+1]), true
}
