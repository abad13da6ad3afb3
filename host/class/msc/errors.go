package msc

import "errors"

// Sentinel errors returned by the wire and transactor layers. The worker
// maps them to the coarser spec.md §7 Result classification with resultFor.
var (
	// ErrBadSignature indicates a CBW/CSW signature mismatch (spec.md §4.B step 4a).
	ErrBadSignature = errors.New("msc: bad CBW/CSW signature")

	// ErrTagMismatch indicates the CSW tag did not match the expected receive tag.
	ErrTagMismatch = errors.New("msc: CSW tag mismatch")

	// ErrPhaseError indicates the device reported CSW status 2 (phase error).
	ErrPhaseError = errors.New("msc: phase error")

	// ErrCommandFailed indicates the device reported CSW status 1 (command failed).
	ErrCommandFailed = errors.New("msc: command failed")

	// ErrResidue indicates a data phase completed with nonzero residue or a
	// short transfer, treated as an IO error per spec.md §7.
	ErrResidue = errors.New("msc: nonzero residue")

	// ErrOutOfRange indicates a block request falls outside the LUN's capacity.
	ErrOutOfRange = errors.New("msc: block range out of range")

	// ErrNotPresent indicates the transaction was drained after the device
	// was unbound (spec.md IO_NOT_PRESENT).
	ErrNotPresent = errors.New("msc: device no longer present")

	// ErrUnsupportedLayout indicates Bind found an unusable endpoint layout.
	ErrUnsupportedLayout = errors.New("msc: unsupported endpoint layout")

	// ErrInvalidCapacity indicates READ CAPACITY reported a zero block size.
	ErrInvalidCapacity = errors.New("msc: invalid capacity (zero block size)")

	// ErrUnknownOp indicates a Transaction carried an unrecognized Op.
	ErrUnknownOp = errors.New("msc: unknown transaction op")

	// ErrLUNOutOfRange indicates a CDB referenced a LUN beyond MaxLUN.
	ErrLUNOutOfRange = errors.New("msc: LUN out of range")
)

// Result is the coarse outcome of a block operation, returned to the host
// block layer via a Transaction's completion callback (spec.md §7).
type Result int

// Result values.
const (
	ResultOK Result = iota
	ResultOutOfRange
	ResultIO
	ResultInternal
	ResultIONotPresent
	ResultInvalidArgs
	ResultBadState
)

// String returns a human-readable name for the result, mirroring
// [github.com/ardnew/usbmsc/pkg.TransferStatus.String].
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultOutOfRange:
		return "out-of-range"
	case ResultIO:
		return "io"
	case ResultInternal:
		return "internal"
	case ResultIONotPresent:
		return "io-not-present"
	case ResultInvalidArgs:
		return "invalid-args"
	case ResultBadState:
		return "bad-state"
	default:
		return "unknown"
	}
}

// resultFor classifies a transact/command error per spec.md §7's table.
func resultFor(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrOutOfRange):
		return ResultOutOfRange
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrTagMismatch), errors.Is(err, ErrPhaseError):
		return ResultInternal
	case errors.Is(err, ErrCommandFailed):
		return ResultBadState
	case errors.Is(err, ErrResidue):
		return ResultIO
	case errors.Is(err, ErrNotPresent):
		return ResultIONotPresent
	case errors.Is(err, ErrUnknownOp), errors.Is(err, ErrLUNOutOfRange):
		return ResultInvalidArgs
	default:
		return ResultIO
	}
}
