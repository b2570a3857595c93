package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/models"
)

var (
	uploadProfileID  string
	uploadName       string
	uploadMode       string
	uploadTLP        string
	uploadConfidence int
	uploadLabels     []string
	uploadIdentity   string
	uploadDetach     bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a document for processing",
	Long: `Upload a document and process it into STIX objects.

The document is converted to markdown, indicators are extracted per the
selected profile, and the resulting bundle is written to the graph store
under a report derived from the upload.

Examples:
  stixify upload report.pdf --profile <id> --mode pdf --tlp clear
  stixify upload post.html --profile <id> --mode html_article --tlp amber --labels apt,phishing`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadProfileID, "profile", "p", "", "profile id to extract with")
	uploadCmd.Flags().StringVarP(&uploadName, "name", "n", "", "report name (defaults to the filename)")
	uploadCmd.Flags().StringVarP(&uploadMode, "mode", "m", "", "processing mode (defaults from the file extension)")
	uploadCmd.Flags().StringVar(&uploadTLP, "tlp", models.TLPRed, "TLP level: clear, green, amber, amber+strict, red")
	uploadCmd.Flags().IntVar(&uploadConfidence, "confidence", 0, "report confidence 0-100")
	uploadCmd.Flags().StringSliceVarP(&uploadLabels, "labels", "l", nil, "report labels")
	uploadCmd.Flags().StringVar(&uploadIdentity, "identity", "", "path to a STIX identity JSON file")
	uploadCmd.Flags().BoolVar(&uploadDetach, "detach", false, "submit and exit without waiting")
	_ = uploadCmd.MarkFlagRequired("profile")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	path := args[0]

	profileID, err := uuid.Parse(uploadProfileID)
	if err != nil {
		return fmt.Errorf("invalid profile id: %w", err)
	}
	profile, err := db.GetProfile(ctx, profileID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	mode := uploadMode
	if mode == "" {
		mode = modeFromExtension(path)
		if mode == "" {
			return fmt.Errorf("cannot infer mode from %q, pass --mode", filepath.Base(path))
		}
	}
	if !models.ValidTLP(uploadTLP) {
		return fmt.Errorf("invalid tlp level %q", uploadTLP)
	}
	if uploadConfidence < 0 || uploadConfidence > 100 {
		return fmt.Errorf("confidence must be between 0 and 100")
	}

	var identity models.Object
	if uploadIdentity != "" {
		raw, err := os.ReadFile(uploadIdentity)
		if err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
		if err := json.Unmarshal(raw, &identity); err != nil {
			return fmt.Errorf("parse identity: %w", err)
		}
		if identity.Type() != "identity" || identity.ID() == "" {
			return fmt.Errorf("identity file must hold a STIX identity object")
		}
	}

	name := uploadName
	if name == "" {
		name = filepath.Base(path)
	}

	file := &models.File{
		Name:       name,
		Mode:       mode,
		Mimetype:   mime.TypeByExtension(filepath.Ext(path)),
		Filename:   filepath.Base(path),
		ProfileID:  profile.ID,
		Identity:   identity,
		TLPLevel:   uploadTLP,
		Confidence: uploadConfidence,
		Labels:     uploadLabels,
	}
	if err := db.CreateFile(ctx, file); err != nil {
		return err
	}

	// Only spin up the model when the profile actually uses it.
	var enricher *ai.Model
	if profile.AISummary || profile.RelationshipMode == models.RelationshipModeAI {
		if enricher, err = getModel(); err != nil {
			return err
		}
	}

	orchestrator := newOrchestrator(enricher)
	if err := orchestrator.Start(ctx); err != nil {
		return err
	}
	defer orchestrator.Stop()

	job, err := orchestrator.Submit(ctx, file, content)
	if err != nil {
		// The record is useless without a job; take it back out.
		_ = db.DeleteFile(ctx, file.ID)
		return err
	}

	fmt.Printf("Report: %s\nJob:    %s\n\n", file.ReportID(), job.ID)
	if uploadDetach {
		return nil
	}
	return RunJobProgress(orchestrator, job)
}

// modeFromExtension picks the default mode for a file extension.
func modeFromExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	ext = ext[1:]
	for _, mode := range []string{"txt", "md", "html", "csv", "pdf", "word", "powerpoint", "image"} {
		for _, allowed := range models.ModeExtensions[mode] {
			if ext == allowed {
				return mode
			}
		}
	}
	return ""
}
