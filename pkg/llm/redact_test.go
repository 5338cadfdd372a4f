package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "api key query param",
			input:    "https://api.example.com/v1/models?api_key=sk-abc123",
			expected: "https://api.example.com/v1/models?api_key=REDACTED",
		},
		{
			name:     "key param mid query",
			input:    "https://example.com/path?foo=bar&key=secret&baz=1",
			expected: "https://example.com/path?foo=bar&key=REDACTED&baz=1",
		},
		{
			name:     "token param",
			input:    "https://example.com/?token=xyz",
			expected: "https://example.com/?token=REDACTED",
		},
		{
			name:     "access token param",
			input:    "https://example.com/?access_token=xyz",
			expected: "https://example.com/?access_token=REDACTED",
		},
		{
			name:     "case insensitive",
			input:    "https://example.com/?API_KEY=xyz",
			expected: "https://example.com/?API_KEY=REDACTED",
		},
		{
			name:     "multiple sensitive params",
			input:    "https://example.com/?key=a&token=b",
			expected: "https://example.com/?key=REDACTED&token=REDACTED",
		},
		{
			name:     "no sensitive params",
			input:    "https://example.com/path?page=2&limit=10",
			expected: "https://example.com/path?page=2&limit=10",
		},
		{
			name:     "no query string",
			input:    "https://example.com/path",
			expected: "https://example.com/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RedactURL(tt.input))
		})
	}
}

func TestHashAPIKey(t *testing.T) {
	h1 := HashAPIKey("sk-test-key-1")
	h2 := HashAPIKey("sk-test-key-2")

	assert.Len(t, h1, 16)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, HashAPIKey("sk-test-key-1"), "hash should be stable")
	assert.NotContains(t, h1, "sk-test", "hash must not leak the key")
}

func TestHashAPIKeyEmpty(t *testing.T) {
	assert.Empty(t, HashAPIKey(""))
}
