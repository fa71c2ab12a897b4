package ral

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInvalidArgument reports malformed structural input such as a bad width or dimension list.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrOutOfRange reports a numeric value outside of a declared bound.
	ErrOutOfRange = errors.New("out of range")

	// ErrUnconfigured reports that no usable transport primitive is present in the CallbackSet.
	ErrUnconfigured = errors.New("no usable callback")

	ErrWriteVerifyMismatch   = errors.New("write verify mismatch")
	ErrUnknownField          = errors.New("unknown field")
	ErrConfigurationConflict = errors.New("configuration conflict")
)

var (
	ErrNotReadable       = fmt.Errorf("%w: not readable", ErrInvalidArgument)
	ErrNotWritable       = fmt.Errorf("%w: not writable", ErrInvalidArgument)
	ErrTransactionActive = fmt.Errorf("%w: transaction already active", ErrInvalidArgument)
)

// WriteVerifyError is returned when the read back after a verified write differs from the data
// written. The write itself has already reached the hardware.
type WriteVerifyError struct {
	Address  uint64
	Written  *big.Int
	ReadBack *big.Int
}

func (e *WriteVerifyError) Error() string {
	return fmt.Sprintf("readback 0x%X after writing 0x%X at 0x%X", e.ReadBack, e.Written, e.Address)
}

func (e *WriteVerifyError) Is(target error) bool { return target == ErrWriteVerifyMismatch }
