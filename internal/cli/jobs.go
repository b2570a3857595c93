package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [id]",
	Short: "List jobs or show one job",
	Long: `Without arguments, lists every processing job newest first.
With a job id, shows that job's state and error, if any.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		job, err := db.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(job)
		}
		fmt.Printf("Job:     %s\nFile:    %s\nState:   %s\n", job.ID, job.FileID, job.State)
		if job.Error != "" {
			fmt.Printf("Error:   %s\n", job.Error)
		}
		fmt.Printf("Started: %s\n", job.RunDatetime.Format("2006-01-02 15:04:05"))
		if job.CompletionTime != nil {
			fmt.Printf("Ended:   %s\n", job.CompletionTime.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	jobList, err := db.ListJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobList) == 0 {
		fmt.Println("No jobs found.")
		return nil
	}
	if asJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(jobList)
	}

	fmt.Printf("Jobs (%d):\n\n", len(jobList))
	for _, job := range jobList {
		fmt.Printf("- %s [%s] file=%s\n", job.ID, job.State, job.FileID)
		if verbose && job.Error != "" {
			fmt.Printf("  %s\n", job.Error)
		}
	}
	return nil
}
