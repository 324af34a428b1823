package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdown(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		contains    []string
		notContains []string
	}{
		{
			name:     "emphasis",
			in:       "**bold** and _soft_",
			contains: []string{"<strong>bold</strong>", "<em>soft</em>"},
		},
		{
			name:        "script stripped",
			in:          "hello <script>alert(1)</script>",
			contains:    []string{"hello"},
			notContains: []string{"<script", "alert(1)"},
		},
		{
			name:        "javascript link dropped",
			in:          "[click](javascript:alert(1))",
			notContains: []string{"javascript:"},
		},
		{
			name:     "fenced code kept",
			in:       "```\nfmt.Println(1)\n```",
			contains: []string{"<code>", "fmt.Println(1)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Markdown(tt.in)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestThreadSlug(t *testing.T) {
	assert.Equal(t, "hello-world.42", ThreadSlug("Hello, World!", 42))
	assert.Equal(t, "thread.7", ThreadSlug("!!!", 7))
}
