package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stixify/stixify/internal/models"
	"github.com/stixify/stixify/internal/stixifier"
)

var (
	profileFromFile    string
	profileExtractions []string
	profileWhitelists  []string
	profileAliases     []string
	profileRelMode     string
	profileAISummary   bool
	profileNoDefang    bool
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage extraction profiles",
	Long: `Profiles decide what gets extracted from uploaded documents and how.

A profile selects the extractors to run, values to whitelist, aliases to
normalize, and whether relationships come from the standard related-to
linking or from the AI model.`,
}

var profileCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a profile",
	Long: `Create a profile from flags, or from a YAML definition:

  stixify profile create ioc-sweep -e ipv4,domain,url
  stixify profile create --from-file profile.yaml

A name argument overrides the name in the YAML file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProfileCreate,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List profiles",
	RunE:  runProfileList,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

var profileExtractorsCmd = &cobra.Command{
	Use:   "extractors",
	Short: "List available extractors",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, slug := range stixifier.ExtractorSlugs() {
			fmt.Println(slug)
		}
		return nil
	},
}

func init() {
	profileCreateCmd.Flags().StringVarP(&profileFromFile, "from-file", "f", "", "YAML profile definition")
	profileCreateCmd.Flags().StringSliceVarP(&profileExtractions, "extractions", "e", nil, "extractor slugs to run (see 'profile extractors')")
	profileCreateCmd.Flags().StringSliceVarP(&profileWhitelists, "whitelist", "w", nil, "values to never extract")
	profileCreateCmd.Flags().StringSliceVarP(&profileAliases, "alias", "a", nil, "alias rules as value=canonical")
	profileCreateCmd.Flags().StringVar(&profileRelMode, "relationship-mode", "", "standard or ai (default standard)")
	profileCreateCmd.Flags().BoolVar(&profileAISummary, "ai-summary", false, "generate AI summaries and incident classification")
	profileCreateCmd.Flags().BoolVar(&profileNoDefang, "no-defang", false, "skip refanging defanged indicators")

	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	profileCmd.AddCommand(profileExtractorsCmd)
}

func runProfileCreate(cmd *cobra.Command, args []string) error {
	profile, err := buildProfile(args)
	if err != nil {
		return err
	}

	if profile.Name == "" {
		return fmt.Errorf("profile name required")
	}
	if len(profile.Extractions) == 0 {
		return fmt.Errorf("at least one extraction required")
	}
	for _, slug := range profile.Extractions {
		if !stixifier.KnownExtractor(slug) {
			return fmt.Errorf("unknown extractor %q", slug)
		}
	}
	if profile.RelationshipMode != models.RelationshipModeStandard &&
		profile.RelationshipMode != models.RelationshipModeAI {
		return fmt.Errorf("relationship-mode must be %q or %q",
			models.RelationshipModeStandard, models.RelationshipModeAI)
	}

	if err := db.CreateProfile(context.Background(), profile); err != nil {
		return err
	}

	fmt.Printf("Created profile %s (%s)\n", profile.Name, profile.ID)
	return nil
}

func buildProfile(args []string) (*models.Profile, error) {
	profile := &models.Profile{
		RelationshipMode:  models.RelationshipModeStandard,
		DefangObservables: true,
	}

	if profileFromFile != "" {
		raw, err := os.ReadFile(profileFromFile)
		if err != nil {
			return nil, fmt.Errorf("read profile definition: %w", err)
		}
		if err := yaml.Unmarshal(raw, profile); err != nil {
			return nil, fmt.Errorf("parse profile definition: %w", err)
		}
		profile.ID = uuid.Nil // assigned on create
	}

	// Flags layer over the file definition.
	if len(args) == 1 {
		profile.Name = args[0]
	}
	if len(profileExtractions) > 0 {
		profile.Extractions = profileExtractions
	}
	if len(profileWhitelists) > 0 {
		profile.Whitelists = profileWhitelists
	}
	if profileRelMode != "" {
		profile.RelationshipMode = profileRelMode
	}
	if profileAISummary {
		profile.AISummary = true
	}
	if profileNoDefang {
		profile.DefangObservables = false
	}

	for _, raw := range profileAliases {
		value, alias, ok := strings.Cut(raw, "=")
		if !ok || value == "" || alias == "" {
			return nil, fmt.Errorf("invalid alias rule %q, want value=canonical", raw)
		}
		profile.Aliases = append(profile.Aliases, models.AliasRule{Value: value, Alias: alias})
	}

	return profile, nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	profiles, err := db.ListProfiles(context.Background())
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found.")
		return nil
	}

	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(profiles)
	}

	fmt.Printf("Profiles (%d):\n\n", len(profiles))
	for _, p := range profiles {
		fmt.Printf("- %s [%s]\n", p.Name, p.ID)
		if verbose {
			fmt.Printf("  Extractions: %s\n", strings.Join(p.Extractions, ", "))
			fmt.Printf("  Relationships: %s, AI summary: %v\n", p.RelationshipMode, p.AISummary)
		}
	}
	return nil
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid profile id: %w", err)
	}
	if err := db.DeleteProfile(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %s\n", id)
	return nil
}
