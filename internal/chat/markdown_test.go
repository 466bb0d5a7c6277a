package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text is escaped", "Paris is nice. (really!)", `Paris is nice\. \(really\!\)`},
		{"emphasis", "Hello *world*", "Hello _world_"},
		{"strong", "**bold** text", "*bold* text"},
		{"strikethrough", "~~gone~~", "~gone~"},
		{"level one heading", "# Title", "📌 *Title*"},
		{"level two heading", "## Sub-title", `*Sub\-title*`},
		{"code span keeps reserved chars", "use `a_b.c`", "use `a_b.c`"},
		{"fenced code", "```go\nfmt.Println(\"a.b\")\n```", "```go\nfmt.Println(\"a.b\")\n```"},
		{"bullet list", "- one\n- two", "• one\n• two"},
		{"ordered list", "1. one\n2. two", "1\\. one\n2\\. two"},
		{"link", "[site](https://example.com/a_(b))", `[site](https://example.com/a_(b\))`},
		{"bare link", "see https://example.com", "see [🔗 https://example\\.com](https://example.com)"},
		{"blockquote", "> quoted", ">quoted"},
		{"paragraphs", "first\n\nsecond", "first\n\nsecond"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderMarkdown(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderMarkdown_InvalidUTF8(t *testing.T) {
	_, err := RenderMarkdown("bad \xff bytes")
	assert.Error(t, err)
}

func TestTryRender(t *testing.T) {
	r := TryRender("Gemini", "**Paris**")
	assert.Equal(t, ModeMarkdownV2, r.ParseMode)
	assert.Equal(t, "*Gemini*:\n*Paris*", r.Text)
	assert.Equal(t, "Gemini:\n**Paris**", r.Fallback)
}

func TestTryRender_FallsBackToRawText(t *testing.T) {
	r := TryRender("Gemini", "bad \xff")
	assert.Empty(t, r.ParseMode)
	assert.Equal(t, "Gemini:\nbad \xff", r.Text)
}

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `a\_b\*c\[d\]\\`, EscapeMarkdown(`a_b*c[d]\`))
}

func TestPlaceholder(t *testing.T) {
	p := Placeholder("Chat_GPT")
	assert.Equal(t, `*Chat\_GPT* is _thinking_ \.\.\.`, p.Text)
	assert.Equal(t, ModeMarkdownV2, p.ParseMode)
}

func TestLinkMessage(t *testing.T) {
	r := LinkMessage("Answers", "https://telegra.ph/Answer-it-05-01", "")
	assert.Equal(t, "🔗 [Answers](https://telegra.ph/Answer-it-05-01)", r.Text)
	assert.Equal(t, ModeMarkdownV2, r.ParseMode)

	r = LinkMessage("Answers", "https://telegra.ph/x", "Both say **Paris**.")
	assert.Equal(t, "🔗 [Answers](https://telegra.ph/x)\n\nBoth say *Paris*\\.", r.Text)
	assert.Contains(t, r.Fallback, "Both say **Paris**.")
}

func TestCodeBlock(t *testing.T) {
	assert.Equal(t, "```\nx := `a\\\\b`\n```", CodeBlock("x := `a\\b`"))
}
