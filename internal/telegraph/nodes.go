package telegraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxContentBytes is the largest serialized content accepted by telegra.ph
const MaxContentBytes = 65536

// Node is a telegra.ph DOM node: either a string or an element
type Node any

// Element is a telegra.ph DOM element
type Element struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

var allowedTags = map[string]bool{
	"a": true, "aside": true, "b": true, "blockquote": true, "br": true,
	"code": true, "em": true, "figcaption": true, "figure": true,
	"h3": true, "h4": true, "hr": true, "i": true, "img": true, "li": true,
	"ol": true, "p": true, "pre": true, "s": true, "strong": true,
	"u": true, "ul": true,
}

var mdConverter = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownToNodes converts markdown into telegra.ph content nodes
func MarkdownToNodes(markdown string) ([]Node, error) {
	var buf bytes.Buffer
	if err := mdConverter.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}
	return HTMLToNodes(buf.String())
}

// HTMLToNodes converts an HTML fragment into telegra.ph content nodes
func HTMLToNodes(fragment string) ([]Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	var nodes []Node
	for _, n := range parsed {
		nodes = append(nodes, convert(n)...)
	}
	return nodes, nil
}

func convert(n *html.Node) []Node {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" && strings.Contains(n.Data, "\n") {
			return nil
		}
		return []Node{n.Data}
	case html.ElementNode:
	default:
		return nil
	}

	var children []Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, convert(c)...)
	}

	tag := n.Data
	switch tag {
	case "h1":
		tag = "h3"
	case "h2":
		tag = "h4"
	case "h3", "h4", "h5", "h6":
		return []Node{Element{Tag: "p", Children: []Node{Element{Tag: "strong", Children: children}}}}
	case "del":
		tag = "s"
	case "table", "thead", "tbody", "tr":
		return children
	case "th", "td":
		return append(children, " | ")
	}
	if !allowedTags[tag] {
		return children
	}

	el := Element{Tag: tag, Children: children}
	for _, a := range n.Attr {
		if a.Key == "href" || a.Key == "src" {
			if el.Attrs == nil {
				el.Attrs = map[string]string{}
			}
			el.Attrs[a.Key] = a.Val
		}
	}
	return []Node{el}
}

// FitContent serializes nodes, dropping trailing nodes until the result fits the content limit
func FitContent(nodes []Node, limit int) (string, error) {
	for {
		data, err := json.Marshal(nodes)
		if err != nil {
			return "", fmt.Errorf("failed to encode content: %w", err)
		}
		if len(data) <= limit {
			return string(data), nil
		}
		if len(nodes) <= 1 {
			return fitSingle(nodes, limit)
		}
		nodes = nodes[:len(nodes)-1]
	}
}

// fitSingle flattens an oversized single node into clipped text
func fitSingle(nodes []Node, limit int) (string, error) {
	var text string
	if len(nodes) == 1 {
		text = plainText(nodes[0])
	}
	for {
		data, err := json.Marshal([]Node{Element{Tag: "p", Children: []Node{text}}})
		if err != nil {
			return "", fmt.Errorf("failed to encode content: %w", err)
		}
		if len(data) <= limit || text == "" {
			return string(data), nil
		}
		over := len(data) - limit
		cut := len(text) - over
		if cut < 0 {
			cut = 0
		}
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func plainText(n Node) string {
	switch v := n.(type) {
	case string:
		return v
	case Element:
		var sb strings.Builder
		for _, c := range v.Children {
			sb.WriteString(plainText(c))
		}
		return sb.String()
	}
	return ""
}
