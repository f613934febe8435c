// Package doctext converts encoded bill documents into plain text suitable
// for use as AI prompt context.
//
// Bill texts arrive as base64 payloads whose format depends on the state:
// most are HTML, some are PDF. Input is capped at MaxInputLen characters so
// an oversized document cannot blow up the prompt.
package doctext

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxInputLen caps how much of a document is considered for conversion.
const MaxInputLen = 20000

// FromBase64 decodes a base64 document and extracts its plain text. The mime
// type selects the extraction strategy; content sniffing covers callers that
// no longer know the mime (stored documents keep only the payload). Unknown
// types are treated as plain text.
func FromBase64(doc, mimeType string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(doc)
	if err != nil {
		return "", fmt.Errorf("decoding document: %w", err)
	}

	switch {
	case strings.Contains(mimeType, "pdf") || looksLikePDF(raw):
		return pdfToText(raw)
	case strings.Contains(mimeType, "html") || looksLikeHTML(raw):
		return htmlToText(truncate(raw))
	default:
		return strings.TrimSpace(string(truncate(raw))), nil
	}
}

func truncate(raw []byte) []byte {
	if len(raw) > MaxInputLen {
		return raw[:MaxInputLen]
	}
	return raw
}

func looksLikePDF(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("%PDF"))
}

func looksLikeHTML(raw []byte) bool {
	head := raw
	if len(head) > 256 {
		head = head[:256]
	}
	lower := bytes.ToLower(head)
	return bytes.Contains(lower, []byte("<html")) || bytes.Contains(lower, []byte("<!doctype html"))
}

// htmlToText walks the parsed document and collects text nodes, skipping
// script and style subtrees and inserting line breaks after block elements.
func htmlToText(raw []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) && b.Len() > 0 {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return strings.TrimSpace(b.String()), nil
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article", "table":
		return true
	}
	return false
}

func pdfToText(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("parsing pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	text, err := io.ReadAll(io.LimitReader(plain, MaxInputLen))
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(text)), nil
}
