package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var identityForce bool

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage creator identities",
}

var identityDeleteCmd = &cobra.Command{
	Use:   "delete <identity-id>",
	Short: "Delete an identity and everything it created",
	Long: `Delete an identity object, every object it created, and every
relationship attached to those objects, across all reports and versions.

This is the data-removal path for a departing tenant; it cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityDelete,
}

func init() {
	identityDeleteCmd.Flags().BoolVarP(&identityForce, "force", "f", false, "skip confirmation")
	identityCmd.AddCommand(identityDeleteCmd)
}

func runIdentityDelete(cmd *cobra.Command, args []string) error {
	identityID := args[0]
	if !strings.HasPrefix(identityID, "identity--") {
		return fmt.Errorf("%q is not a STIX identity id", identityID)
	}

	if !identityForce {
		fmt.Printf("Delete %s and every object it created? [y/N] ", identityID)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	deleted, err := graphClient.DeleteIdentity(ctx, identityID)
	if err != nil {
		return err
	}

	// The identity's files go too, each cascading into its own
	// report-scoped delete. That sweep also reaches objects the graph pass
	// cannot attribute, like observables without a created_by_ref.
	files, err := newOrchestrator(nil).DeleteIdentityFiles(ctx, identityID)
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d objects and %d files created by %s\n", deleted, files, identityID)
	return nil
}
