package tasks

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bakkerme/agentpipe/internal/agent"
)

func TestExtractTitle(t *testing.T) {
	t.Parallel()

	longTitle := strings.Repeat("a", 120)

	cases := []struct {
		name     string
		raw      string
		fallback string
		want     string
	}{
		{"plain json", `{"title": "Quarterly Report"}`, "fb", "Quarterly Report"},
		{"json wrapped in prose", "Sure! Here you go: {\"title\": \"Q3 Numbers\"} hope that helps", "fb", "Q3 Numbers"},
		{"json in code fence", "```json\n{\"title\": \"Fenced\"}\n```", "fb", "Fenced"},
		{"plain text", "Revenue discussion", "fb", "Revenue discussion"},
		{"quoted text", `"Revenue discussion"`, "fb", "Revenue discussion"},
		{"long text truncated", longTitle, "fb", strings.Repeat("a", 97) + "..."},
		{"empty falls back", "", "Budget chat", "Budget chat"},
		{"whitespace falls back", "   \n ", "Budget chat", "Budget chat"},
		{"json with empty title falls to text", `{"title": ""}`, "fb", `{"title": ""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractTitle(tc.raw, tc.fallback); got != tc.want {
				t.Fatalf("ExtractTitle(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractTitle_TruncationCountsRunes(t *testing.T) {
	t.Parallel()

	raw := strings.Repeat("é", 120)
	got := ExtractTitle(raw, "fb")
	if want := strings.Repeat("é", 97) + "..."; got != want {
		t.Fatalf("ExtractTitle rune truncation = %q, want 97 runes + ellipsis", got)
	}
}

func TestExtractFollowUps(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "json list",
			raw:  `{"follow_ups": ["What about Q4?", "Any risks to highlight?"]}`,
			want: []string{"What about Q4?", "Any risks to highlight?"},
		},
		{
			name: "json list capped at five",
			raw:  `{"follow_ups": ["q1 please?", "q2 please?", "q3 please?", "q4 please?", "q5 please?", "q6 please?"]}`,
			want: []string{"q1 please?", "q2 please?", "q3 please?", "q4 please?", "q5 please?"},
		},
		{
			name: "numbered list",
			raw:  "1. What about Q4?\n2) Any open risks?\n3- Who owns the budget?",
			want: []string{"What about Q4?", "Any open risks?", "Who owns the budget?"},
		},
		{
			name: "bulleted list",
			raw:  "- What about Q4?\n* Any open risks?\n• Who owns the budget?",
			want: []string{"What about Q4?", "Any open risks?", "Who owns the budget?"},
		},
		{
			name: "short and json-ish lines skipped",
			raw:  "ok\n{\"oops\": true}\n[noise]\nWhat changed since last quarter?",
			want: []string{"What changed since last quarter?"},
		},
		{
			name: "line list capped at five",
			raw:  "first question?\nsecond question?\nthird question?\nfourth question?\nfifth question?\nsixth question?",
			want: []string{"first question?", "second question?", "third question?", "fourth question?", "fifth question?"},
		},
		{name: "empty", raw: "", want: nil},
		{name: "only noise", raw: "ok\nno\nhm", want: nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtractFollowUps(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ExtractFollowUps(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestExtractFollowUps_MixedJSONFallsToLines(t *testing.T) {
	t.Parallel()

	// A follow_ups array holding non-strings cannot decode; the line
	// heuristic takes over.
	raw := "{\"follow_ups\": [1, 2]}\nWhat drove the variance?"
	got := ExtractFollowUps(raw)
	if len(got) != 1 || got[0] != "What drove the variance?" {
		t.Fatalf("ExtractFollowUps = %#v, want the line fallback", got)
	}
}

func TestFallbackTitle(t *testing.T) {
	t.Parallel()

	messages := []agent.Message{
		{Role: agent.RoleUser, Content: "first question"},
		{Role: agent.RoleAssistant, Content: "an answer"},
		{Role: agent.RoleUser, Content: "  what   about\n\tQ4?  "},
	}
	if got := FallbackTitle(messages); got != "what about Q4?" {
		t.Fatalf("FallbackTitle = %q, want whitespace-normalized last user message", got)
	}

	long := []agent.Message{{Role: agent.RoleUser, Content: strings.Repeat("x", 150)}}
	if got := FallbackTitle(long); got != strings.Repeat("x", 100) {
		t.Fatalf("FallbackTitle length = %d, want capped at 100", len(got))
	}

	if got := FallbackTitle(nil); got != "New Chat" {
		t.Fatalf("FallbackTitle(nil) = %q, want %q", got, "New Chat")
	}
	onlyAssistant := []agent.Message{{Role: agent.RoleAssistant, Content: "hi"}}
	if got := FallbackTitle(onlyAssistant); got != "New Chat" {
		t.Fatalf("FallbackTitle without user turns = %q, want %q", got, "New Chat")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Task
	}{
		{"", TaskNone},
		{"title_generation", TaskTitle},
		{"follow_up_generation", TaskFollowUp},
		{"emoji_generation", TaskUnknown},
		{"TITLE_GENERATION", TaskUnknown},
	}
	for _, tc := range cases {
		if got := Classify(tc.raw); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestResults(t *testing.T) {
	t.Parallel()

	if got := TitleResult("Quarterly Report"); got != `{"title":"Quarterly Report"}` {
		t.Fatalf("TitleResult = %s", got)
	}
	if got := FollowUpsResult(nil); got != `{"follow_ups":[]}` {
		t.Fatalf("FollowUpsResult(nil) = %s, want empty array", got)
	}
	if got := FollowUpsResult([]string{"a?"}); got != `{"follow_ups":["a?"]}` {
		t.Fatalf("FollowUpsResult = %s", got)
	}
}
