package wire

import (
	"context"
	"errors"
	"fmt"

	"hwreg/ral"
)

// Status carries the error class of a failed request so errors.Is keeps working on the client.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusOutOfRange
	StatusUnconfigured
	StatusWriteVerifyMismatch
	StatusUnknownField
	StatusConfigurationConflict
	StatusCanceled
	StatusInternal
)

var statusErrors = []struct {
	status Status
	err    error
}{
	// most specific first; ErrNot* and ErrTransactionActive collapse to InvalidArgument.
	{StatusOutOfRange, ral.ErrOutOfRange},
	{StatusUnconfigured, ral.ErrUnconfigured},
	{StatusWriteVerifyMismatch, ral.ErrWriteVerifyMismatch},
	{StatusUnknownField, ral.ErrUnknownField},
	{StatusConfigurationConflict, ral.ErrConfigurationConflict},
	{StatusInvalidArgument, ral.ErrInvalidArgument},
	{StatusCanceled, context.Canceled},
	{StatusCanceled, context.DeadlineExceeded},
}

func statusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	for _, se := range statusErrors {
		if errors.Is(err, se.err) {
			return se.status
		}
	}
	return StatusInternal
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusInvalidArgument:
		return "invalid argument"
	case StatusOutOfRange:
		return "out of range"
	case StatusUnconfigured:
		return "unconfigured"
	case StatusWriteVerifyMismatch:
		return "write verify mismatch"
	case StatusUnknownField:
		return "unknown field"
	case StatusConfigurationConflict:
		return "configuration conflict"
	case StatusCanceled:
		return "canceled"
	case StatusInternal:
		return "internal"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// RemoteError is a failure reported by the far end of a transport.
type RemoteError struct {
	Status  Status
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("wire: remote %s: %s", e.Status, e.Message)
}

// Is matches the sentinel the remote status was derived from.
func (e *RemoteError) Is(target error) bool {
	if e.Status == StatusCanceled {
		return target == context.Canceled
	}
	for _, se := range statusErrors {
		if se.status == e.Status && se.err == target {
			return true
		}
	}
	return false
}
