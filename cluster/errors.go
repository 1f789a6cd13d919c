package cluster

import "github.com/pingcap/errors"

var (
	ErrUnableToRemoveLastDatabase = errors.New("cluster: unable to remove the last database")
	ErrNoConfigurationFound       = errors.New("cluster: no configuration found")
	ErrDatabaseNotFound           = errors.New("cluster: database not found")
	ErrDatabaseExists             = errors.New("cluster: database already in the cluster")
	ErrNoDatabases                = errors.New("cluster: no databases")
	ErrDismantled                 = errors.New("cluster: dismantled")
	ErrTableNotTracked            = errors.New("cluster: table is not tracked")
)
