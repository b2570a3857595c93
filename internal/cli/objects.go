package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stixify/stixify/internal/graph"
)

var (
	objectTypes []string
	scoValue    string

	sroSourceRef     string
	sroTargetRef     string
	sroSourceType    string
	sroTargetType    string
	sroRelationship  string
	objectAllVersion bool
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Query STIX objects across all reports",
}

var objectsSDOCmd = &cobra.Command{
	Use:   "sdo",
	Short: "List STIX domain objects",
	RunE:  runObjectsSDO,
}

var objectsSCOCmd = &cobra.Command{
	Use:   "sco",
	Short: "List STIX cyber observables",
	Long: `List extracted observables, optionally filtered by type and value.

Examples:
  stixify objects sco --types ipv4-addr,domain-name
  stixify objects sco --value example.com`,
	RunE: runObjectsSCO,
}

var objectsSROCmd = &cobra.Command{
	Use:   "sro",
	Short: "List STIX relationship objects",
	RunE:  runObjectsSRO,
}

var objectsGetCmd = &cobra.Command{
	Use:   "get <stix-id>",
	Short: "Fetch an object by STIX id",
	Args:  cobra.ExactArgs(1),
	RunE:  runObjectsGet,
}

func init() {
	addPageFlags(objectsSDOCmd)
	objectsSDOCmd.Flags().StringSliceVar(&objectTypes, "types", nil, "STIX types to include")
	objectsSDOCmd.Flags().StringSliceVar(&reportLabels, "labels", nil, "filter by labels")

	addPageFlags(objectsSCOCmd)
	objectsSCOCmd.Flags().StringSliceVar(&objectTypes, "types", nil, "STIX types to include")
	objectsSCOCmd.Flags().StringVar(&scoValue, "value", "", "filter by value substring")

	addPageFlags(objectsSROCmd)
	objectsSROCmd.Flags().StringVar(&sroSourceRef, "source-ref", "", "filter by source ref")
	objectsSROCmd.Flags().StringVar(&sroTargetRef, "target-ref", "", "filter by target ref")
	objectsSROCmd.Flags().StringVar(&sroSourceType, "source-type", "", "filter by source ref type")
	objectsSROCmd.Flags().StringVar(&sroTargetType, "target-type", "", "filter by target ref type")
	objectsSROCmd.Flags().StringVar(&sroRelationship, "relationship-type", "", "filter by relationship type")

	addPageFlags(objectsGetCmd)
	objectsGetCmd.Flags().BoolVar(&objectAllVersion, "versions", false, "show every stored version, newest first")

	objectsCmd.AddCommand(objectsSDOCmd)
	objectsCmd.AddCommand(objectsSCOCmd)
	objectsCmd.AddCommand(objectsSROCmd)
	objectsCmd.AddCommand(objectsGetCmd)
}

func runObjectsSDO(cmd *cobra.Command, args []string) error {
	page, err := graphClient.SDOs(context.Background(), graph.SDOFilter{
		Types:   objectTypes,
		Labels:  reportLabels,
		Visible: viewerID,
		Sort:    sortKey,
	}, pageParams())
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}

func runObjectsSCO(cmd *cobra.Command, args []string) error {
	page, err := graphClient.SCOs(context.Background(), graph.SCOFilter{
		Types:   objectTypes,
		Value:   scoValue,
		Visible: viewerID,
		Sort:    sortKey,
	}, pageParams())
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}

func runObjectsSRO(cmd *cobra.Command, args []string) error {
	page, err := graphClient.SROs(context.Background(), graph.SROFilter{
		SourceRef:        sroSourceRef,
		TargetRef:        sroTargetRef,
		SourceRefType:    sroSourceType,
		TargetRefType:    sroTargetType,
		RelationshipType: sroRelationship,
		Visible:          viewerID,
		Sort:             sortKey,
	}, pageParams())
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}

func runObjectsGet(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	var (
		page *graph.Page
		err  error
	)
	if objectAllVersion {
		page, err = graphClient.ObjectVersions(ctx, args[0], viewerID, pageParams())
	} else {
		page, err = graphClient.ObjectsByID(ctx, args[0], viewerID, pageParams())
	}
	if err != nil {
		return err
	}
	return printPage(cmd, page)
}
