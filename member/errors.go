package member

import "github.com/pingcap/errors"

var (
	ErrInvalidTransition = errors.New("member: invalid status transition")
	ErrRetired           = errors.New("member: member has left the cluster")
)
