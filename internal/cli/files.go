package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage uploaded files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded files",
	RunE:  runFilesList,
}

var filesDeleteCmd = &cobra.Command{
	Use:   "delete <file-id>",
	Short: "Delete a file and its report",
	Long: `Delete an uploaded file: its record, stored upload and artifacts, and
every graph object ingested under its report.`,
	Args: cobra.ExactArgs(1),
	RunE: runFilesDelete,
}

func init() {
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesDeleteCmd)
}

func runFilesList(cmd *cobra.Command, args []string) error {
	files, err := db.ListFiles(context.Background())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No files found.")
		return nil
	}

	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(files)
	}

	fmt.Printf("Files (%d):\n\n", len(files))
	for _, f := range files {
		fmt.Printf("- %s  %s [%s]\n", f.ID, f.Name, f.Mode)
		if verbose {
			fmt.Printf("  Report: %s, TLP: %s\n", f.ReportID(), f.TLPLevel)
		}
	}
	return nil
}

func runFilesDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid file id: %w", err)
	}

	if err := newOrchestrator(nil).DeleteFile(context.Background(), id); err != nil {
		return err
	}
	fmt.Printf("Deleted file %s and its report\n", id)
	return nil
}
