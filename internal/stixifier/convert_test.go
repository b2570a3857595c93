package stixifier

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConverterForUnknownMode(t *testing.T) {
	_, err := ConverterFor("docx-without-converter")
	assert.Error(t, err)
}

func TestPassthroughConverter(t *testing.T) {
	path := writeTemp(t, "report.md", "# Report\n\nindicator: 10.0.0.1\n")

	c, err := ConverterFor("md")
	require.NoError(t, err)
	out, err := c.Convert(path)
	require.NoError(t, err)
	assert.Equal(t, "# Report\n\nindicator: 10.0.0.1\n", out)
}

func TestCSVConverter(t *testing.T) {
	path := writeTemp(t, "iocs.csv", "type,value\nipv4,10.0.0.1\n")

	c, err := ConverterFor("csv")
	require.NoError(t, err)
	out, err := c.Convert(path)
	require.NoError(t, err)
	assert.Contains(t, out, "| type | value |")
	assert.Contains(t, out, "| --- | --- |")
	assert.Contains(t, out, "| ipv4 | 10.0.0.1 |")
}

func TestHTMLConverter(t *testing.T) {
	html := `<html><head><style>body { color: red }</style>
<script>alert("x")</script></head>
<body><h1>Threat Report</h1><p>C2 at evil.example.com &amp; 10.0.0.1</p></body></html>`
	path := writeTemp(t, "report.html", html)

	c, err := ConverterFor("html")
	require.NoError(t, err)
	out, err := c.Convert(path)
	require.NoError(t, err)

	assert.Contains(t, out, "# Threat Report")
	assert.Contains(t, out, "C2 at evil.example.com & 10.0.0.1")
	assert.NotContains(t, out, "alert")
	assert.NotContains(t, out, "color: red")
}

func TestHTMLArticleConverter(t *testing.T) {
	html := `<html><body><nav>Home | About</nav>
<article><h2>Analysis</h2><p>payload content</p></article>
<footer>Copyright</footer></body></html>`
	path := writeTemp(t, "post.html", html)

	c, err := ConverterFor("html_article")
	require.NoError(t, err)
	out, err := c.Convert(path)
	require.NoError(t, err)

	assert.Contains(t, out, "## Analysis")
	assert.Contains(t, out, "payload content")
	assert.NotContains(t, out, "Home | About")
	assert.NotContains(t, out, "Copyright")
}

func TestExtractImages(t *testing.T) {
	dir := t.TempDir()
	png := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	markdown := "before\n![diagram](data:image/png;base64," + png + ")\nafter\n"

	out, images, err := ExtractImages(markdown, dir)
	require.NoError(t, err)
	require.Len(t, images, 1)

	assert.Equal(t, "image-1.png", images[0].Name)
	assert.Contains(t, out, "![diagram](image-1.png)")
	assert.NotContains(t, out, "base64")

	data, err := os.ReadFile(images[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "fake png bytes", string(data))
}

func TestExtractImagesNoImages(t *testing.T) {
	out, images, err := ExtractImages("plain text", t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, "plain text", out)
}
