// Package ai wraps the language model used for report summaries, incident
// classification and relationship suggestion. Extraction itself is
// pattern-based; the model only ever adds optional enrichment on top.
package ai

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/stixify/stixify/internal/config"
)

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	provider  string
	modelName string
}

// NewModel creates an LLM model based on configuration.
func NewModel(cfg config.Config) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.AIProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.AIModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.AIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.AIModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", cfg.AIProvider)
	}

	return &Model{
		llm:       model,
		provider:  cfg.AIProvider,
		modelName: cfg.AIModel,
	}, nil
}

// Provider returns "provider:model" for provenance on generated summaries.
func (m *Model) Provider() string {
	return m.provider + ":" + m.modelName
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	return response.Choices[0].Content, nil
}

// TranscribeImage asks the model for the text visible in an image, so
// indicators that only appear in screenshots and figures still reach
// extraction. Returns "" when the image carries no text.
func (m *Model) TranscribeImage(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(imagePath))
	if mimeType == "" {
		mimeType = "image/png"
	}

	messages := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.BinaryPart(mimeType, data),
				llms.TextPart(`Transcribe all text visible in this image. Output only the transcribed text, or "none" if the image contains no text.`),
			},
		},
	}

	response, err := m.llm.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("transcribe image: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}

	out := strings.TrimSpace(response.Choices[0].Content)
	if strings.EqualFold(out, "none") {
		return "", nil
	}
	return out, nil
}

// Summarize produces a short analyst summary of a converted report. Long
// reports are summarized window by window, then the partial summaries are
// condensed in a final pass.
func (m *Model) Summarize(ctx context.Context, markdown string) (string, error) {
	systemPrompt := `You are a threat intelligence analyst. Summarize the report below in at most three paragraphs.
Focus on the actors, malware, infrastructure and victims described. Use ONLY information from the report.`

	windows := SplitReport(markdown, DefaultChunkConfig())
	if len(windows) == 1 {
		return m.GenerateWithSystem(ctx, systemPrompt, summarizePrompt(windows[0]))
	}

	partials := make([]string, 0, len(windows))
	for _, window := range windows {
		partial, err := m.GenerateWithSystem(ctx, systemPrompt, summarizePrompt(window))
		if err != nil {
			return "", err
		}
		partials = append(partials, partial)
	}

	combined := `You are a threat intelligence analyst. The sections below each summarize part of one report.
Merge them into a single summary of at most three paragraphs. Use ONLY information from the sections.`
	return m.GenerateWithSystem(ctx, combined, summarizePrompt(strings.Join(partials, "\n\n")))
}

func summarizePrompt(text string) string {
	return fmt.Sprintf(`Report:
%s

Summary:`, text)
}

// IncidentClassification is the model's verdict on whether a report
// describes a real security incident.
type IncidentClassification struct {
	DescribesIncident bool
	Summary           string
	Classification    string
}

// ClassifyIncident asks whether the report describes a security incident.
func (m *Model) ClassifyIncident(ctx context.Context, markdown string) (*IncidentClassification, error) {
	systemPrompt := `You are a threat intelligence analyst. Decide whether the report below describes a security incident.

Output format (three lines, nothing else):
INCIDENT|yes or no
SUMMARY|one sentence summary of the incident, or "none"
CLASSIFICATION|one of: apt_group, malware, ransomware, phishing, vulnerability, data_leak, other, none`

	// Incident verdicts come from the leading window; the opening of a
	// report carries the incident framing.
	userPrompt := fmt.Sprintf(`Report:
%s

Verdict:`, SplitReport(markdown, DefaultChunkConfig())[0])

	out, err := m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	return parseIncidentClassification(out), nil
}

func parseIncidentClassification(out string) *IncidentClassification {
	c := &IncidentClassification{Classification: "none"}
	for _, line := range strings.Split(out, "\n") {
		field, value, ok := strings.Cut(strings.TrimSpace(line), "|")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(field)) {
		case "INCIDENT":
			c.DescribesIncident = strings.EqualFold(value, "yes")
		case "SUMMARY":
			if !strings.EqualFold(value, "none") {
				c.Summary = value
			}
		case "CLASSIFICATION":
			if value != "" {
				c.Classification = strings.ToLower(value)
			}
		}
	}
	return c
}

// Relation is one model-suggested relationship between two extracted values.
type Relation struct {
	Source string
	Target string
	Type   string
}

// allowedRelationTypes bounds what the model may emit; anything else is
// coerced to related-to.
var allowedRelationTypes = map[string]bool{
	"related-to":        true,
	"uses":              true,
	"targets":           true,
	"indicates":         true,
	"communicates-with": true,
	"delivers":          true,
	"hosts":             true,
	"attributed-to":     true,
}

// ExtractRelationships asks the model to relate the extracted values to each
// other based on the report text. Only relations between values that were
// actually extracted are kept.
func (m *Model) ExtractRelationships(ctx context.Context, markdown string, values []string) ([]Relation, error) {
	if len(values) < 2 {
		return nil, nil
	}

	systemPrompt := `You are a threat intelligence analyst. Relate the extracted indicators to each other using the report text.

Output format (one per line, nothing else):
RELATION|source value|target value|relation type

Relation types: related-to, uses, targets, indicates, communicates-with, delivers, hosts, attributed-to
Only use values from the provided list. Only output relations the report supports.`

	userPrompt := fmt.Sprintf(`Report:
%s

Extracted values:
%s

Relations:`, markdown, strings.Join(values, "\n"))

	out, err := m.GenerateWithSystem(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	return parseRelations(out, values), nil
}

func parseRelations(out string, values []string) []Relation {
	known := make(map[string]bool, len(values))
	for _, v := range values {
		known[v] = true
	}

	var relations []Relation
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) != 4 || strings.TrimSpace(parts[0]) != "RELATION" {
			continue
		}
		source := strings.TrimSpace(parts[1])
		target := strings.TrimSpace(parts[2])
		relType := strings.ToLower(strings.TrimSpace(parts[3]))
		if !known[source] || !known[target] || source == target {
			continue
		}
		if !allowedRelationTypes[relType] {
			relType = "related-to"
		}
		relations = append(relations, Relation{Source: source, Target: target, Type: relType})
	}
	return relations
}
