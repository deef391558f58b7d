package kernel

import "github.com/cockroachdb/errors"

var (
	ErrBadFd   = errors.New("bad file descriptor")
	ErrNoMem   = errors.New("cannot allocate memory")
	ErrInvalid = errors.New("invalid argument")
)
