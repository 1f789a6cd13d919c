package member

import "dbcluster/action"

// CapNullDistinctFromEmpty is set by databases that store an empty string
// and NULL as different values.
const CapNullDistinctFromEmpty = "distinguishes_null_from_empty_string"

// Driver is the narrow view the cluster has of one backing database. Any
// returned error is treated as a failure of that database.
type Driver interface {
	// Execute applies one action. Replaying an action that is already
	// reflected in the database must not fail nor duplicate data.
	Execute(a *action.Action) error

	TableExists(table string) (bool, error)

	Capabilities() (map[string]bool, error)

	// Rows returns every row of t, used to copy a table to a new member.
	Rows(t *action.Table) ([]action.Row, error)

	Close() error
}
