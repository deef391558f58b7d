package aspacem

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrArgumentInvalid = errors.New("argument invalid")
	ErrAddressInvalid  = errors.New("address invalid")
	ErrNoSpace         = errors.New("no suitable address space")
	ErrModelDiverged   = errors.New("kernel result diverged from segment table")
	ErrNamePoolFull    = errors.New("segment name pool full")
	ErrKindMismatch    = errors.New("segment kind mismatch")
)

// FatalError is raised after a fatal diagnostic when the configured exit
// function returns.
type FatalError struct {
	Label string
	Msg   string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Label, e.Msg)
}
