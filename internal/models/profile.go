package models

import (
	"time"

	"github.com/google/uuid"
)

// Relationship-derivation modes.
const (
	RelationshipModeStandard = "standard"
	RelationshipModeAI       = "ai"
)

// AliasRule rewrites a value to its canonical form before extraction runs.
type AliasRule struct {
	Value string `json:"value" yaml:"value"`
	Alias string `json:"alias" yaml:"alias"`
}

// Profile is an immutable extraction configuration. Files reference a
// Profile by id; a Profile is never embedded or mutated after creation.
type Profile struct {
	ID   uuid.UUID `json:"id" yaml:"id"`
	Name string    `json:"name" yaml:"name"`

	// Extractions selects extractor slugs to run.
	Extractions []string `json:"extractions" yaml:"extractions"`
	// Whitelists holds known-benign values that extractions must skip.
	Whitelists []string `json:"whitelists" yaml:"whitelists"`
	// Aliases are applied to the input text before extraction.
	Aliases []AliasRule `json:"aliases" yaml:"aliases"`

	RelationshipMode     string `json:"relationship_mode" yaml:"relationship_mode"`
	ExtractTextFromImage bool   `json:"extract_text_from_image" yaml:"extract_text_from_image"`
	DefangObservables    bool   `json:"defang_observables" yaml:"defang_observables"`
	AISummary            bool   `json:"ai_summary" yaml:"ai_summary"`

	Created time.Time `json:"created" yaml:"created"`
}
