package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for store operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested object does not exist (or no
	// latest version of it does).
	ErrNotFound = errors.New("object not found")

	// ErrTransactionConflict indicates a store-level transaction conflict.
	// The bundle load is atomic, so callers may retry the whole load.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError maps known store-level query errors onto sentinel errors.
// Unknown errors pass through unchanged.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		if strings.Contains(queryErr.Message, "Transaction conflict") {
			return fmt.Errorf("%w: %s", ErrTransactionConflict, queryErr.Message)
		}
	}

	return err
}
