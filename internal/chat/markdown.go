package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// ModeMarkdownV2 is the transport parse mode produced by RenderMarkdown
const ModeMarkdownV2 = "MarkdownV2"

const (
	headingSymbol = "📌"
	linkSymbol    = "🔗"
	imageSymbol   = "🖼"
)

var errInvalidUTF8 = errors.New("text is not valid UTF-8")

var mdParser = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Rendered is a chat message body together with the plain text to send when the transport rejects it
type Rendered struct {
	Text      string
	ParseMode string
	Fallback  string
}

// RawText returns an unformatted body
func RawText(s string) Rendered {
	return Rendered{Text: s}
}

// TryRender renders an answer attributed to who. When the markdown cannot be
// converted the raw text is returned instead.
func TryRender(who, text string) Rendered {
	return tryRender(who, "", text)
}

func tryRender(who, label, text string) Rendered {
	plain := who + label + ":\n" + text
	body, err := RenderMarkdown(text)
	if err != nil {
		return RawText(plain)
	}
	header := "*" + EscapeMarkdown(who) + "*"
	if label != "" {
		header += EscapeMarkdown(label)
	}
	return Rendered{
		Text:      header + ":\n" + body,
		ParseMode: ModeMarkdownV2,
		Fallback:  plain,
	}
}

// Placeholder is the progress message posted before a provider answers
func Placeholder(who string) Rendered {
	return Rendered{
		Text:      "*" + EscapeMarkdown(who) + "* is _thinking_ \\.\\.\\.",
		ParseMode: ModeMarkdownV2,
		Fallback:  who + " is thinking ...",
	}
}

// LinkMessage is a message holding only a link to url, optionally followed by a
// markdown note such as a summary.
func LinkMessage(label, url, note string) Rendered {
	text := fmt.Sprintf("%s [%s](%s)", linkSymbol, EscapeMarkdown(label), escapeURL(url))
	fallback := fmt.Sprintf("%s %s: %s", linkSymbol, label, url)
	if note == "" {
		return Rendered{Text: text, ParseMode: ModeMarkdownV2, Fallback: fallback}
	}
	fallback += "\n\n" + note
	body, err := RenderMarkdown(note)
	if err != nil {
		return RawText(fallback)
	}
	return Rendered{Text: text + "\n\n" + body, ParseMode: ModeMarkdownV2, Fallback: fallback}
}

const reservedChars = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdown escapes every character reserved by the MarkdownV2 dialect
func EscapeMarkdown(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(reservedChars, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CodeBlock wraps s in a MarkdownV2 pre block
func CodeBlock(s string) string {
	return "```\n" + escapeCode(s) + "\n```"
}

func escapeCode(s string) string {
	return strings.NewReplacer("\\", "\\\\", "`", "\\`").Replace(s)
}

func escapeURL(s string) string {
	return strings.NewReplacer("\\", "\\\\", ")", "\\)").Replace(s)
}

// RenderMarkdown converts common markdown into the MarkdownV2 dialect
func RenderMarkdown(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", errInvalidUTF8
	}
	source := []byte(text)
	doc := mdParser.Parser().Parse(gmtext.NewReader(source))

	r := &mdRenderer{source: source}
	if err := r.blocks(doc, ""); err != nil {
		return "", err
	}
	return strings.TrimRight(r.sb.String(), "\n"), nil
}

type mdRenderer struct {
	source []byte
	sb     strings.Builder
}

// blocks renders the block children of n, each line prefixed with indent
func (r *mdRenderer) blocks(n ast.Node, indent string) error {
	first := true
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if !first {
			r.sb.WriteString("\n")
			if _, tight := n.(*ast.ListItem); !tight {
				r.sb.WriteString("\n")
			}
		}
		first = false
		if err := r.block(c, indent); err != nil {
			return err
		}
	}
	return nil
}

func (r *mdRenderer) block(n ast.Node, indent string) error {
	switch node := n.(type) {
	case *ast.Heading:
		body, err := r.inlines(node)
		if err != nil {
			return err
		}
		r.sb.WriteString(indent)
		if node.Level == 1 {
			r.sb.WriteString(headingSymbol + " ")
		}
		r.sb.WriteString("*" + body + "*")
	case *ast.Paragraph, *ast.TextBlock:
		body, err := r.inlines(node)
		if err != nil {
			return err
		}
		r.sb.WriteString(indentLines(body, indent))
	case *ast.FencedCodeBlock:
		r.sb.WriteString(indent + "```" + escapeCode(string(node.Language(r.source))) + "\n")
		r.sb.WriteString(escapeCode(r.lines(node)))
		r.sb.WriteString("```")
	case *ast.CodeBlock:
		r.sb.WriteString(indent + "```\n" + escapeCode(r.lines(node)) + "```")
	case *ast.HTMLBlock:
		r.sb.WriteString(indentLines(EscapeMarkdown(strings.TrimRight(r.lines(node), "\n")), indent))
	case *ast.ThematicBreak:
		r.sb.WriteString(indent + "————————")
	case *ast.Blockquote:
		inner := &mdRenderer{source: r.source}
		if err := inner.blocks(node, ""); err != nil {
			return err
		}
		r.sb.WriteString(indentLines(inner.sb.String(), indent+">"))
	case *ast.List:
		return r.list(node, indent)
	case *east.Table:
		return r.table(node, indent)
	default:
		if n.Type() == ast.TypeInline {
			body, err := r.inline(n)
			if err != nil {
				return err
			}
			r.sb.WriteString(indent + body)
			return nil
		}
		return r.blocks(n, indent)
	}
	return nil
}

func (r *mdRenderer) list(node *ast.List, indent string) error {
	num := node.Start
	if num == 0 {
		num = 1
	}
	first := true
	for item := node.FirstChild(); item != nil; item = item.NextSibling() {
		if !first {
			r.sb.WriteString("\n")
		}
		first = false
		marker := "• "
		if node.IsOrdered() {
			marker = EscapeMarkdown(strconv.Itoa(num)+".") + " "
			num++
		}
		inner := &mdRenderer{source: r.source}
		if err := inner.blocks(item, ""); err != nil {
			return err
		}
		lines := strings.Split(inner.sb.String(), "\n")
		pad := strings.Repeat(" ", utf8.RuneCountInString(marker))
		for i, line := range lines {
			if i > 0 {
				r.sb.WriteString("\n" + indent + pad + line)
				continue
			}
			r.sb.WriteString(indent + marker + line)
		}
	}
	return nil
}

func (r *mdRenderer) table(node *east.Table, indent string) error {
	first := true
	for row := node.FirstChild(); row != nil; row = row.NextSibling() {
		if !first {
			r.sb.WriteString("\n")
		}
		first = false
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			body, err := r.inlines(cell)
			if err != nil {
				return err
			}
			if _, header := row.(*east.TableHeader); header {
				body = "*" + body + "*"
			}
			cells = append(cells, body)
		}
		r.sb.WriteString(indent + strings.Join(cells, " \\| "))
	}
	return nil
}

func (r *mdRenderer) lines(n ast.Node) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(r.source))
	}
	return sb.String()
}

func (r *mdRenderer) inlines(n ast.Node) (string, error) {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		s, err := r.inline(c)
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	return sb.String(), nil
}

func (r *mdRenderer) inline(n ast.Node) (string, error) {
	switch node := n.(type) {
	case *ast.Text:
		s := EscapeMarkdown(string(node.Segment.Value(r.source)))
		if node.SoftLineBreak() || node.HardLineBreak() {
			s += "\n"
		}
		return s, nil
	case *ast.String:
		return EscapeMarkdown(string(node.Value)), nil
	case *ast.CodeSpan:
		return "`" + escapeCode(r.plain(node)) + "`", nil
	case *ast.Emphasis:
		body, err := r.inlines(node)
		if err != nil {
			return "", err
		}
		if node.Level >= 2 {
			return "*" + body + "*", nil
		}
		return "_" + body + "_", nil
	case *east.Strikethrough:
		body, err := r.inlines(node)
		if err != nil {
			return "", err
		}
		return "~" + body + "~", nil
	case *ast.Link:
		body, err := r.inlines(node)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%s](%s)", body, escapeURL(string(node.Destination))), nil
	case *ast.AutoLink:
		url := string(node.URL(r.source))
		label := string(node.Label(r.source))
		return fmt.Sprintf("[%s %s](%s)", linkSymbol, EscapeMarkdown(label), escapeURL(url)), nil
	case *ast.Image:
		return fmt.Sprintf("[%s %s](%s)", imageSymbol, EscapeMarkdown(r.plain(node)), escapeURL(string(node.Destination))), nil
	case *ast.RawHTML:
		var sb strings.Builder
		for i := 0; i < node.Segments.Len(); i++ {
			seg := node.Segments.At(i)
			sb.Write(seg.Value(r.source))
		}
		return EscapeMarkdown(sb.String()), nil
	case *east.TaskCheckBox:
		if node.IsChecked {
			return "☑ ", nil
		}
		return "☐ ", nil
	default:
		return r.inlines(n)
	}
}

// plain returns the unescaped text content of n
func (r *mdRenderer) plain(n ast.Node) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch node := c.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(r.source))
		case *ast.String:
			sb.Write(node.Value)
		default:
			sb.WriteString(r.plain(c))
		}
	}
	return sb.String()
}

func indentLines(s, indent string) string {
	if indent == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
