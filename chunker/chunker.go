// Package chunker splits legal text into overlapping, sentence-aligned
// chunks and maps typed STJ records into a canonical text form.
package chunker

import (
	"strings"
	"unicode"
)

// Default chunking parameters, in characters.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Chunk is one piece of a chunked text. Index is the 0-based position
// within the parent text; indices are contiguous from 0.
type Chunk struct {
	Text     string            `json:"text"`
	Index    int               `json:"index"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChunkText normalizes text and splits it into chunks of at most
// chunkSize characters (plus at most one sentence of slack), with a
// character overlap between consecutive chunks. Every chunk carries a
// shallow copy of metadata. Returns nil for empty input.
func ChunkText(text string, metadata map[string]string, chunkSize, overlap int) []Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = DefaultOverlap
		if overlap >= chunkSize {
			overlap = chunkSize / 4
		}
	}

	normalized := normalizeWhitespace(text)
	if normalized == "" {
		return nil
	}

	// Fast path: the whole text fits in a single chunk.
	if len(normalized) <= chunkSize {
		return []Chunk{{Text: normalized, Index: 0, Metadata: copyMeta(metadata)}}
	}

	sentences := splitSentences(normalized)

	var chunks []Chunk
	var current strings.Builder

	emit := func() {
		t := strings.TrimSpace(current.String())
		if t == "" {
			return
		}
		chunks = append(chunks, Chunk{
			Text:     t,
			Index:    len(chunks),
			Metadata: copyMeta(metadata),
		})
	}

	for _, sent := range sentences {
		if current.Len() > 0 && current.Len()+1+len(sent) > chunkSize {
			emit()
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sent)
	}
	emit()

	return chunks
}

// normalizeWhitespace collapses all whitespace runs to single spaces and
// trims the result.
func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences splits normalized text at legal sentence boundaries:
// after '.', '!', '?' or ';' followed by whitespace, when the next
// character is an uppercase letter (including accented Portuguese
// capitals), a digit, or a quote.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if !isTerminator(runes[i]) {
			continue
		}
		if i+2 < len(runes) && runes[i+1] == ' ' && startsSentence(runes[i+2]) {
			s := strings.TrimSpace(cur.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
			i++ // consume the separating space
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == ';'
}

// startsSentence reports whether a rune can open a new sentence.
func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r) ||
		r == '"' || r == '\'' || r == '“' || r == '‘'
}

// overlapTail returns the trailing suffix of text whose length is just
// at or above overlap characters, built by re-including whitespace-
// delimited words from the end.
func overlapTail(text string, overlap int) string {
	if overlap <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var length int
	start := len(words)
	for start > 0 && length < overlap {
		start--
		length += len(words[start])
		if start < len(words)-1 {
			length++ // the joining space
		}
	}
	return strings.Join(words[start:], " ")
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
