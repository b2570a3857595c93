// Package stixifier turns uploaded documents into STIX bundles: convert to
// markdown, extract indicators, bundle, persist to the graph store and
// archive the source as PDF.
package stixifier

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Converter turns one input format into markdown.
type Converter interface {
	// Convert reads the file at path and returns its markdown rendering.
	Convert(path string) (string, error)
}

// converters maps processing modes to their converter. Binary formats
// (pdf, word, powerpoint, image) need an external converter registered via
// RegisterConverter before files in those modes can be processed.
var converters = map[string]Converter{
	"txt":          passthroughConverter{},
	"md":           passthroughConverter{},
	"csv":          csvConverter{},
	"html":         htmlConverter{article: false},
	"html_article": htmlConverter{article: true},
}

// RegisterConverter installs a converter for a processing mode, replacing
// any built-in.
func RegisterConverter(mode string, c Converter) {
	converters[mode] = c
}

// ConverterFor returns the converter registered for a mode.
func ConverterFor(mode string) (Converter, error) {
	c, ok := converters[mode]
	if !ok {
		return nil, fmt.Errorf("no converter registered for mode %q", mode)
	}
	return c, nil
}

// passthroughConverter serves formats that already are (or read as) markdown.
type passthroughConverter struct{}

func (passthroughConverter) Convert(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return string(b), nil
}

// csvConverter renders a delimited file as a markdown table.
type csvConverter struct{}

func (csvConverter) Convert(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	sep := ","
	if strings.HasSuffix(path, ".tsv") {
		sep = "\t"
	}

	var sb strings.Builder
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	for i, line := range lines {
		cells := strings.Split(line, sep)
		sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", len(cells)) + "\n")
		}
	}
	return sb.String(), nil
}

var (
	scriptStylePattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	articlePattern     = regexp.MustCompile(`(?is)<article[^>]*>(.*?)</article>`)
	headingPattern     = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	breakPattern       = regexp.MustCompile(`(?i)<(br|/p|/div|/li|/tr)[^>]*>`)
	tagPattern         = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRunPattern    = regexp.MustCompile(`\n{3,}`)
)

// htmlConverter strips markup down to markdown text. In article mode only
// the <article> element is kept, dropping navigation and boilerplate.
type htmlConverter struct {
	article bool
}

func (c htmlConverter) Convert(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	html := string(b)

	if c.article {
		if m := articlePattern.FindStringSubmatch(html); m != nil {
			html = m[1]
		}
	}

	html = scriptStylePattern.ReplaceAllString(html, "")
	html = headingPattern.ReplaceAllStringFunc(html, func(h string) string {
		m := headingPattern.FindStringSubmatch(h)
		level := int(m[1][0] - '0')
		return "\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(tagPattern.ReplaceAllString(m[2], "")) + "\n"
	})
	html = breakPattern.ReplaceAllString(html, "\n")
	html = tagPattern.ReplaceAllString(html, "")

	text := strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ",
	).Replace(html)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	text = blankRunPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(text) + "\n", nil
}

var dataImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(data:image/([a-z]+);base64,([A-Za-z0-9+/=\s]+?)\)`)

// ExtractedImage is one embedded image pulled out of converted markdown.
type ExtractedImage struct {
	Name string
	Path string
}

// ExtractImages writes embedded data-URI images out to dir and rewrites the
// markdown to reference them by filename. Inline image data would otherwise
// pollute extraction and blow up the stored markdown.
func ExtractImages(markdown, dir string) (string, []ExtractedImage, error) {
	var images []ExtractedImage
	var firstErr error

	idx := 0
	out := dataImagePattern.ReplaceAllStringFunc(markdown, func(match string) string {
		m := dataImagePattern.FindStringSubmatch(match)
		alt, format := m[1], m[2]
		data, err := base64.StdEncoding.DecodeString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == ' ' {
				return -1
			}
			return r
		}, m[3]))
		if err != nil {
			// Undecodable inline data is dropped rather than kept.
			return fmt.Sprintf("![%s](invalid-image)", alt)
		}

		idx++
		name := fmt.Sprintf("image-%d.%s", idx, format)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("write image %s: %w", name, err)
			}
			return match
		}
		images = append(images, ExtractedImage{Name: name, Path: path})
		return fmt.Sprintf("![%s](%s)", alt, name)
	})

	return out, images, firstErr
}
