package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "quoted with dot slash and padding",
			input:    "  './src/utils/helpers.ts'  ",
			expected: "src/utils/helpers.ts",
		},
		{
			name:     "double quotes",
			input:    `"src/App.tsx"`,
			expected: "src/App.tsx",
		},
		{
			name:     "backticks",
			input:    "`src/index.css`",
			expected: "src/index.css",
		},
		{
			name:     "backslashes normalized",
			input:    `src\components\Button.tsx`,
			expected: "src/components/Button.tsx",
		},
		{
			name:     "nested dot slash",
			input:    "././src/main.tsx",
			expected: "src/main.tsx",
		},
		{
			name:     "already clean",
			input:    "package.json",
			expected: "package.json",
		},
		{
			name:     "empty stays empty",
			input:    "",
			expected: "",
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "",
		},
		{
			name:     "quotes wrapping whitespace wrapping path",
			input:    `" ./src/a.ts "`,
			expected: "src/a.ts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeFilePath(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, SanitizeFilePath(got), "sanitization must be idempotent")
		})
	}
}
