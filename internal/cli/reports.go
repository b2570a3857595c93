package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stixify/stixify/internal/graph"
	"github.com/stixify/stixify/internal/models"
)

var (
	pageNumber int
	pageSize   int
	sortKey    string
	viewerID   string

	reportName          string
	reportTLP           string
	reportLabels        []string
	reportIdentity      string
	reportConfidenceMin int
	reportConfidenceMax int
	reportCreatedAfter  string
	reportCreatedBefore string
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Query and manage ingested reports",
}

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reports",
	Long: `List the latest version of every report.

Examples:
  stixify reports list --name ransomware --tlp clear
  stixify reports list --sort name_ascending --page 2 --page-size 50`,
	RunE: runReportsList,
}

var reportsGetCmd = &cobra.Command{
	Use:   "get <report-id>",
	Short: "Show one report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsGet,
}

var reportsObjectsCmd = &cobra.Command{
	Use:   "objects <report-id>",
	Short: "List every object ingested under a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsObjects,
}

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Delete a report and everything ingested under it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportsDelete,
}

// addPageFlags wires the shared pagination/sort/visibility flags.
func addPageFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&pageNumber, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", graph.DefaultPageSize, "results per page (max 500)")
	cmd.Flags().StringVar(&sortKey, "sort", "", "sort key, e.g. created_descending")
	cmd.Flags().StringVar(&viewerID, "viewer", "", "identity id to enforce visibility for")
}

func pageParams() graph.PageParams {
	return graph.PageParams{Page: pageNumber, PageSize: pageSize}
}

func init() {
	addPageFlags(reportsListCmd)
	reportsListCmd.Flags().StringVar(&reportName, "name", "", "filter by name substring")
	reportsListCmd.Flags().StringVar(&reportTLP, "tlp", "", "filter by TLP level")
	reportsListCmd.Flags().StringSliceVar(&reportLabels, "labels", nil, "filter by labels")
	reportsListCmd.Flags().StringVar(&reportIdentity, "identity", "", "filter by creating identity id")
	reportsListCmd.Flags().IntVar(&reportConfidenceMin, "min-confidence", -1, "minimum confidence")
	reportsListCmd.Flags().IntVar(&reportConfidenceMax, "max-confidence", -1, "maximum confidence")
	reportsListCmd.Flags().StringVar(&reportCreatedAfter, "created-after", "", "earliest created timestamp, e.g. 2024-05-01T00:00:00.000Z")
	reportsListCmd.Flags().StringVar(&reportCreatedBefore, "created-before", "", "latest created timestamp")

	addPageFlags(reportsObjectsCmd)
	reportsGetCmd.Flags().StringVar(&viewerID, "viewer", "", "identity id to enforce visibility for")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsGetCmd)
	reportsCmd.AddCommand(reportsObjectsCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
}

func runReportsList(cmd *cobra.Command, args []string) error {
	filter := graph.ReportFilter{
		Name:          reportName,
		TLPLevel:      reportTLP,
		Labels:        reportLabels,
		Identity:      reportIdentity,
		CreatedAfter:  reportCreatedAfter,
		CreatedBefore: reportCreatedBefore,
		Visible:       viewerID,
		Sort:          sortKey,
	}
	if reportConfidenceMin >= 0 {
		filter.ConfidenceMin = &reportConfidenceMin
	}
	if reportConfidenceMax >= 0 {
		filter.ConfidenceMax = &reportConfidenceMax
	}

	page, err := graphClient.Reports(context.Background(), filter, pageParams())
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}

func runReportsGet(cmd *cobra.Command, args []string) error {
	report, err := graphClient.ReportByID(context.Background(), args[0], viewerID)
	if err != nil {
		return err
	}
	return printObject(cmd, report)
}

func runReportsObjects(cmd *cobra.Command, args []string) error {
	page, err := graphClient.ReportObjects(context.Background(), args[0], viewerID, sortKey, pageParams())
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}

func runReportsDelete(cmd *cobra.Command, args []string) error {
	deleted, err := graphClient.DeleteReport(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d objects under %s\n", deleted, args[0])
	return nil
}

// printPage renders a result page, as a summary list or raw JSON.
func printPage(cmd *cobra.Command, page *graph.Page) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	if page.TotalResultsCount == 0 {
		fmt.Println("No results.")
		return nil
	}

	fmt.Printf("Page %d (%d of %d results):\n\n",
		page.PageNumber, page.PageResultsCount, page.TotalResultsCount)
	for _, obj := range page.Objects {
		fmt.Printf("- %s\n", describeObject(obj))
	}
	return nil
}

func printObject(cmd *cobra.Command, obj models.Object) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(obj)
}

// describeObject renders a one-line summary for a STIX object.
func describeObject(obj models.Object) string {
	label := obj.ID()
	if name, _ := obj["name"].(string); name != "" {
		label += "  " + name
	} else if value, _ := obj["value"].(string); value != "" {
		label += "  " + value
	} else if relType, _ := obj["relationship_type"].(string); relType != "" {
		label += fmt.Sprintf("  %v -[%s]-> %v", obj["source_ref"], relType, obj["target_ref"])
	}
	return label
}
