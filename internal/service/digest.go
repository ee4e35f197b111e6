package service

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const digestSystemPrompt = "You summarise chapters of a novel-in-progress for its author. " +
	"Be faithful to the text, never invent events, and keep names exactly as written."

const maxHighlights = 8

// BuildDigestPrompt renders the digest request for one document. The reply format it asks for is
// what ParseDigest reads back.
func BuildDigestPrompt(title, text string, truncated bool) string {
	var b strings.Builder
	b.WriteString("Write a digest of the document below.\n\n")
	b.WriteString("Reply in exactly this format:\n")
	b.WriteString("Summary: <one or two sentences>\n")
	b.WriteString("Highlights:\n")
	b.WriteString("- <key event, reveal or change>\n")
	b.WriteString("- <up to ")
	b.WriteString(strconv.Itoa(maxHighlights))
	b.WriteString(" bullets in total>\n\n")
	if title = strings.TrimSpace(title); title != "" {
		b.WriteString("Title: ")
		b.WriteString(title)
		b.WriteString("\n")
	}
	if truncated {
		b.WriteString("Note: only the beginning of the document is included.\n")
	}
	b.WriteString("---\n")
	b.WriteString(text)
	b.WriteString("\n---\n")
	return b.String()
}

// ParsedDigest is the structured form of a digest reply.
type ParsedDigest struct {
	Summary    string
	Highlights []string
}

// ParseDigest reads a "Summary:" line and the "Highlights:" bullets. Replies that ignore the format
// fall back to the first non-bullet line as the summary; bullets are collected wherever they appear.
func ParseDigest(reply string) ParsedDigest {
	var (
		out          ParsedDigest
		firstLine    string
		inHighlights bool
	)
	for _, raw := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if rest, ok := cutLabel(line, "summary:"); ok {
			if out.Summary == "" {
				out.Summary = rest
			}
			inHighlights = false
			continue
		}
		if rest, ok := cutLabel(line, "highlights:"); ok {
			inHighlights = true
			if rest != "" {
				out.Highlights = appendHighlight(out.Highlights, rest)
			}
			continue
		}
		if item, ok := bullet(line); ok {
			out.Highlights = appendHighlight(out.Highlights, item)
			continue
		}
		if inHighlights {
			out.Highlights = appendHighlight(out.Highlights, line)
			continue
		}
		if firstLine == "" {
			firstLine = line
		}
	}
	if out.Summary == "" {
		out.Summary = firstLine
	}
	if out.Highlights == nil {
		out.Highlights = []string{}
	}
	return out
}

func cutLabel(line, label string) (string, bool) {
	l := strings.TrimLeft(line, "*#_ ")
	if len(l) < len(label) || !strings.EqualFold(l[:len(label)], label) {
		return "", false
	}
	return strings.TrimSpace(strings.Trim(l[len(label):], "*_ ")), true
}

func bullet(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	// Numbered bullets: "1. text" or "1) text".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i+1 < len(line) && (line[i] == '.' || line[i] == ')') && line[i+1] == ' ' {
		return strings.TrimSpace(line[i+2:]), true
	}
	return "", false
}

func appendHighlight(list []string, item string) []string {
	if item == "" || len(list) >= maxHighlights {
		return list
	}
	return append(list, item)
}

// truncateHead keeps the first limit runes of text.
func truncateHead(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	return string([]rune(text)[:limit]), true
}
