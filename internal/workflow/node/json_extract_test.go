package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"summary":{"goal":"strength"}}`,
			want:  `{"summary":{"goal":"strength"}}`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"summary\":{\"goal\":\"strength\"}}\n```",
			want:  `{"summary":{"goal":"strength"}}`,
		},
		{
			name:  "leading explanation",
			input: `Here is your plan: {"summary":{"goal":"strength"}}`,
			want:  `{"summary":{"goal":"strength"}}`,
		},
		{
			name:  "trailing explanation",
			input: `{"summary":{"goal":"strength"}} Let me know if you want changes.`,
			want:  `{"summary":{"goal":"strength"}}`,
		},
		{
			name:  "array value",
			input: "```\n[{\"name\":\"squat\"}]\n```",
			want:  `[{"name":"squat"}]`,
		},
		{
			name:  "nested braces survive",
			input: `note {"a":{"b":{"c":1}}} end`,
			want:  `{"a":{"b":{"c":1}}}`,
		},
		{
			name:  "whitespace trimmed",
			input: "  \n {\"a\":1} \n ",
			want:  `{"a":1}`,
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "no json at all",
			input: "sorry, I cannot help with that",
			want:  "sorry, I cannot help with that",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSONObject(tt.input))
		})
	}
}
