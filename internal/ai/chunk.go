package ai

import (
	"strings"
	"unicode"
)

// ChunkConfig defines how long reports are split into prompt windows.
type ChunkConfig struct {
	// Threshold: only chunk if the report exceeds this length
	Threshold int
	// TargetSize: ideal window size
	TargetSize int
	// MaxSize: maximum window size (larger paragraphs split at sentences)
	MaxSize int
	// Overlap: character overlap carried between adjacent windows
	Overlap int
}

// DefaultChunkConfig returns window sizes that fit comfortably in a single
// model call, with enough overlap that an indicator mentioned at a window
// boundary appears in both windows.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		Threshold:  12000,
		TargetSize: 8000,
		MaxSize:    10000,
		Overlap:    400,
	}
}

// SplitReport splits converted markdown into prompt windows at paragraph
// boundaries, falling back to sentence boundaries for oversized paragraphs.
// Reports under the threshold come back as a single window.
func SplitReport(markdown string, config ChunkConfig) []string {
	if len(markdown) <= config.Threshold {
		return []string{markdown}
	}
	return applyOverlap(splitParagraphs(markdown, config), config.Overlap)
}

func splitParagraphs(content string, config ChunkConfig) []string {
	paragraphs := strings.Split(content, "\n\n")

	var windows []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			windows = append(windows, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if current.Len()+len(para) > config.MaxSize {
			flush()
		}

		// A single paragraph over the limit splits at sentences.
		if len(para) > config.MaxSize {
			windows = append(windows, splitSentences(para, config)...)
			continue
		}

		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	return windows
}

func splitSentences(text string, config ChunkConfig) []string {
	var windows []string
	var current strings.Builder

	for _, sentence := range sentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}

		if current.Len()+len(sentence) > config.TargetSize && current.Len() > 0 {
			windows = append(windows, strings.TrimSpace(current.String()))
			current.Reset()
		}

		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		windows = append(windows, strings.TrimSpace(current.String()))
	}

	return windows
}

func sentences(text string) []string {
	var out []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				// Skip likely abbreviations like "No." or "Dr."
				if i > 1 && unicode.IsUpper(runes[i-1]) {
					continue
				}
				out = append(out, current.String())
				current.Reset()
			}
		}
	}

	if current.Len() > 0 {
		out = append(out, current.String())
	}

	return out
}

// applyOverlap prefixes each window with the tail of its predecessor, cut at
// a word boundary.
func applyOverlap(windows []string, overlap int) []string {
	if overlap <= 0 || len(windows) <= 1 {
		return windows
	}

	result := make([]string, len(windows))
	copy(result, windows)

	for i := 1; i < len(result); i++ {
		prev := result[i-1]
		if len(prev) <= overlap {
			continue
		}
		tail := prev[len(prev)-overlap:]
		if spaceIdx := strings.LastIndex(tail, " "); spaceIdx > 0 {
			tail = tail[spaceIdx+1:]
		}
		result[i] = tail + " " + result[i]
	}

	return result
}
