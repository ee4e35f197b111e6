// Package chunking splits content into bounded, paragraph-respecting chunks and hashes
// them for change detection.
package chunking

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Sophanos/saga-sub015/internal/domain/model"
)

// DefaultMaxChars is the chunk size cap used when callers pass a non-positive limit.
const DefaultMaxChars = 1200

const paragraphSep = "\n\n"

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// Normalize converts line endings to \n and trims surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// Paragraphs splits normalized text on blank lines, dropping empty paragraphs.
func Paragraphs(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	raw := blankLine.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ChunkText groups paragraphs greedily into chunks of at most maxChars characters.
// A paragraph longer than maxChars is flushed on its own as fixed-size slices.
// Lengths are measured in runes so multi-byte text is never split mid-character.
// The output depends only on text and maxChars.
func ChunkText(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var (
		chunks []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen > 0 {
			chunks = append(chunks, buf.String())
			buf.Reset()
			bufLen = 0
		}
	}

	for _, p := range Paragraphs(text) {
		pLen := utf8.RuneCountInString(p)
		if pLen > maxChars {
			flush()
			chunks = append(chunks, hardSplit(p, maxChars)...)
			continue
		}

		next := pLen
		if bufLen > 0 {
			next += bufLen + len(paragraphSep)
		}
		if next > maxChars {
			flush()
			next = pLen
		}
		if bufLen > 0 {
			buf.WriteString(paragraphSep)
		}
		buf.WriteString(p)
		bufLen = next
	}
	flush()
	return chunks
}

func hardSplit(p string, maxChars int) []string {
	runes := []rune(p)
	out := make([]string, 0, len(runes)/maxChars+1)
	for start := 0; start < len(runes); start += maxChars {
		end := min(start+maxChars, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// HashChunk is the 32-bit FNV-1a hash used to detect changed chunks. Not for security.
func HashChunk(text string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return h.Sum32()
}

// HashText returns the hex SHA-256 of text, used as the job-level content hash.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Build chunks text and hashes every chunk.
func Build(text string, maxChars int) []model.Chunk {
	parts := ChunkText(text, maxChars)
	out := make([]model.Chunk, len(parts))
	for i, p := range parts {
		out[i] = model.Chunk{Index: i, Text: p, Hash: HashChunk(p)}
	}
	return out
}

// Preview returns at most n runes of text, with an ellipsis when shortened.
func Preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return strings.TrimSpace(string(r[:n])) + "…"
}

// Diff returns the chunks whose hash differs from stored, or whose index is not stored.
func Diff(chunks []model.Chunk, stored map[int]uint32) []model.Chunk {
	changed := make([]model.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if h, ok := stored[c.Index]; ok && h == c.Hash {
			continue
		}
		changed = append(changed, c)
	}
	return changed
}
