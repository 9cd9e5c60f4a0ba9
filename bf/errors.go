package bf

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Every error returned by the compiler and the engine wraps one of these.
// They in turn wrap an errdefs class, so callers outside this package can
// tell bad input (errdefs.IsInvalidArgument) from a boundary violation
// during a run (errdefs.IsOutOfRange).
var (
	ErrUnbalancedLoop       = fmt.Errorf("unbalanced loop: %w", errdefs.ErrInvalidArgument)
	ErrMalformedDump        = fmt.Errorf("malformed dump: %w", errdefs.ErrInvalidArgument)
	ErrInvalidConfiguration = fmt.Errorf("invalid configuration: %w", errdefs.ErrInvalidArgument)

	ErrValueOverflow    = fmt.Errorf("value overflow: %w", errdefs.ErrOutOfRange)
	ErrValueUnderflow   = fmt.Errorf("value underflow: %w", errdefs.ErrOutOfRange)
	ErrPointerOverflow  = fmt.Errorf("cell index overflow: %w", errdefs.ErrOutOfRange)
	ErrPointerUnderflow = fmt.Errorf("cell index underflow: %w", errdefs.ErrOutOfRange)
)
