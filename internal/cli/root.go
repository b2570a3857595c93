// Package cli provides the command-line interface for stixify.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/config"
	"github.com/stixify/stixify/internal/graph"
	"github.com/stixify/stixify/internal/jobs"
	"github.com/stixify/stixify/internal/stixifier"
	"github.com/stixify/stixify/internal/store"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	asJSON  bool

	// Global config and clients
	cfg         config.Config
	logger      *slog.Logger
	logCleanup  func() error
	graphClient *graph.Client
	db          *store.Store

	// Lazy-initialized AI model
	model *ai.Model
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stixify",
	Short: "Turn documents into STIX threat intelligence",
	Long: `Stixify ingests documents (reports, blog posts, advisories), converts
them to markdown, extracts indicators of compromise, and stores the
resulting STIX objects in a versioned graph database.

Every upload becomes a STIX Report; extracted values become observables
and domain objects linked to it.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip connections for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)

		var err error
		db, err = store.Open(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("open control database: %w", err)
		}

		ctx := context.Background()
		graphClient, err = graph.NewClient(ctx, graph.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to graph store: %w", err)
		}
		if err := graphClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize graph schema: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if graphClient != nil {
			if err := graphClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close graph store: %v\n", err)
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// getModel lazily initializes the AI model. Commands that only need
// pattern extraction never touch it.
func getModel() (*ai.Model, error) {
	if model == nil {
		var err error
		model, err = ai.NewModel(cfg)
		if err != nil {
			return nil, fmt.Errorf("init AI model: %w", err)
		}
	}
	return model, nil
}

// newOrchestrator wires a worker pool over the open clients.
func newOrchestrator(enricher *ai.Model) *jobs.Orchestrator {
	var e stixifier.Enricher
	if enricher != nil {
		e = enricher
	}
	return jobs.New(db, graphClient, e, logger, jobs.Options{
		Workers:     cfg.Workers,
		Delay:       cfg.JobDelay,
		StaleJobAge: cfg.StaleJobAge,
		DataDir:     cfg.DataDir,
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(objectsCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(profileCmd)
}
