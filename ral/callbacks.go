package ral

import (
	"context"
	"math/big"
)

// ReadFunc reads a single word of width bits at the byte address addr.
type ReadFunc func(ctx context.Context, addr uint64, width, accessWidth uint) (*big.Int, error)

// WriteFunc writes a single word of width bits at the byte address addr.
type WriteFunc func(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error

// ReadBlockFunc reads count consecutive words of width bits starting at addr.
type ReadBlockFunc func(ctx context.Context, addr uint64, width, accessWidth uint, count int) ([]*big.Int, error)

// WriteBlockFunc writes len(data) consecutive words of width bits starting at addr.
type WriteBlockFunc func(ctx context.Context, addr uint64, width, accessWidth uint, data []*big.Int) error

// CallbackSet holds the transport primitives used to reach the hardware or a simulator.
// Any of them may be nil. Registers and memories prefer the primitive best suited to the access
// and fall back to the other one; they fail with ErrUnconfigured when neither is present.
type CallbackSet struct {
	Read       ReadFunc
	Write      WriteFunc
	ReadBlock  ReadBlockFunc
	WriteBlock WriteBlockFunc
}

func (c CallbackSet) CanRead() bool  { return c.Read != nil || c.ReadBlock != nil }
func (c CallbackSet) CanWrite() bool { return c.Write != nil || c.WriteBlock != nil }

// Empty is true when no primitive at all is configured.
func (c CallbackSet) Empty() bool { return !c.CanRead() && !c.CanWrite() }
