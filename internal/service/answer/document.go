package answer

import (
	"strings"
	"unicode/utf8"
)

// Section headers that are not provider names
const (
	QuestionSection = "Question"
	SummarySection  = "Summary"
)

const truncatedNotice = "\n\n[...truncated...]"

// Section is one titled part of the composed document
type Section struct {
	Provider string
	Markdown string
}

// ComposeDocument builds the answers document: the question when it is at most
// questionMax runes, then one section per provider in the given order.
func ComposeDocument(question string, sections []Section, questionMax int) string {
	var sb strings.Builder
	question = strings.TrimSpace(question)
	if question != "" && (questionMax <= 0 || utf8.RuneCountInString(question) <= questionMax) {
		writeSection(&sb, QuestionSection, question)
	}
	for _, s := range sections {
		writeSection(&sb, s.Provider, s.Markdown)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// PrependSummary places a summary section before the rest of the document
func PrependSummary(document, summary string) string {
	var sb strings.Builder
	writeSection(&sb, SummarySection, summary)
	sb.WriteString(document)
	return sb.String()
}

func writeSection(sb *strings.Builder, title, body string) {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("## ")
	sb.WriteString(title)
	sb.WriteString("\n\n")
	sb.WriteString(demoteHeadings(strings.TrimSpace(body)))
	sb.WriteString("\n")
}

// demoteHeadings adds one level to every "##"-or-deeper heading of a body so
// that no body line can read as a section header. promoteHeadings reverses it.
func demoteHeadings(body string) string {
	return shiftHeadings(body, func(line string) string { return "#" + line })
}

func promoteHeadings(body string) string {
	return shiftHeadings(body, func(line string) string {
		if strings.HasPrefix(line, "###") {
			return line[1:]
		}
		return line
	})
}

func shiftHeadings(body string, shift func(string) string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if isDeepHeading(line) {
			lines[i] = shift(line)
		}
	}
	return strings.Join(lines, "\n")
}

// isDeepHeading reports whether line opens with two or more '#' followed by a space
func isDeepHeading(line string) bool {
	hashes := len(line) - len(strings.TrimLeft(line, "#"))
	return hashes >= 2 && len(line) > hashes && line[hashes] == ' '
}

// ParseDocument splits a composed document back into sections. Only headers
// naming the question, the summary or one of names start a section, and
// headings that composing demoted inside bodies are restored.
func ParseDocument(document string, names []string) []Section {
	known := map[string]bool{QuestionSection: true, SummarySection: true}
	for _, n := range names {
		known[n] = true
	}

	var sections []Section
	var current *Section
	var body []string
	flush := func() {
		if current != nil {
			current.Markdown = promoteHeadings(strings.TrimSpace(strings.Join(body, "\n")))
			sections = append(sections, *current)
		}
		body = nil
	}

	for _, line := range strings.Split(document, "\n") {
		if title, ok := strings.CutPrefix(line, "## "); ok && known[strings.TrimSpace(title)] {
			flush()
			current = &Section{Provider: strings.TrimSpace(title)}
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// TruncateDocument cuts document to at most maxBytes, keeping valid UTF-8
func TruncateDocument(document string, maxBytes int) string {
	if maxBytes <= 0 || len(document) <= maxBytes {
		return document
	}
	cut := maxBytes - len(truncatedNotice)
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(document[cut]) {
		cut--
	}
	return document[:cut] + truncatedNotice
}
