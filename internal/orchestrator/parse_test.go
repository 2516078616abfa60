package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTeam(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "json fence",
			text: "Spec done.\n```json\n{\"agents\": [\"dev\", \"qa\"]}\n```",
			want: []string{"dev", "qa"},
		},
		{
			name: "bare fence",
			text: "```\n{\"agents\": [\"ui_designer\"]}\n```",
			want: []string{"ui_designer"},
		},
		{
			name: "last fence wins",
			text: "Example:\n```json\n{\"agents\": [\"dev\"]}\n```\nDecision:\n```json\n{\"agents\": [\"qa\", \"critic\"]}\n```",
			want: []string{"qa", "critic"},
		},
		{
			name: "fence without selection falls through to later fence",
			text: "```go\nfunc main() {}\n```\n```json\n{\"agents\": [\"dev\"]}\n```",
			want: []string{"dev"},
		},
		{
			name: "inline object",
			text: `I choose {"agents": ["dev", "qa"]} for this one.`,
			want: []string{"dev", "qa"},
		},
		{
			name: "last inline object wins",
			text: `Format is {"agents": ["x"]}. Final: {"agents": ["critic"]}`,
			want: []string{"critic"},
		},
		{
			name: "nested selection",
			text: `{"decision": {"agents": ["dev"]}, "note": "go"}`,
			want: []string{"dev"},
		},
		{
			name: "comments and trailing commas",
			text: "```json\n{\n  // who runs\n  \"agents\": [\"dev\", \"qa\",],\n}\n```",
			want: []string{"dev", "qa"},
		},
		{
			name: "braces inside strings",
			text: `{"reason": "uses {templates}", "agents": ["ui_designer"]}`,
			want: []string{"ui_designer"},
		},
		{
			name: "stray brace and quote in prose",
			text: "I weighed {dev vs \"qa and decided. {\"agents\": [\"qa\"]}",
			want: []string{"qa"},
		},
		{
			name: "stray brace before several selections",
			text: "Options {a, b or \"c. {\"agents\": [\"dev\"]} then {\"agents\": [\"critic\"]}",
			want: []string{"critic"},
		},
		{
			name: "blank ids dropped",
			text: `{"agents": ["dev", " ", ""]}`,
			want: []string{"dev"},
		},
		{
			name: "explicit empty list",
			text: `{"agents": []}`,
			want: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTeam(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTeam_NoSelection(t *testing.T) {
	for _, text := range []string{
		"",
		"I think dev and qa should work on this.",
		`{"team": ["dev"]}`,
		"```json\n{\"agents\": [\"dev\"\n```",
		`{"agents": "dev"}`,
	} {
		_, err := ParseTeam(text)
		assert.ErrorIs(t, err, ErrNoTeam, "text %q", text)
	}
}
