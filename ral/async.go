package ral

import (
	"context"
	"fmt"
	"math/big"
)

// Response carries the outcome of an asynchronous transport request.
type Response struct {
	IsWrite bool
	Address uint64
	Data    []*big.Int // the words read or written
	Err     error
}

type Completion func(rsp Response)

type ReadRequest struct {
	Address     uint64
	Width       uint
	AccessWidth uint
	Count       int
	Completion  Completion
}

type WriteRequest struct {
	Address     uint64
	Width       uint
	AccessWidth uint
	Data        []*big.Int
	Completion  Completion
}

// AsyncCallbackSet is the cooperative form of CallbackSet: each primitive submits a request and
// returns immediately, reporting the result later through the request's Completion.
// Scalar requests always have Count == 1 and len(Data) == 1.
type AsyncCallbackSet struct {
	Read       func(req ReadRequest)
	Write      func(req WriteRequest)
	ReadBlock  func(req ReadRequest)
	WriteBlock func(req WriteRequest)
}

// Blocking adapts the asynchronous primitives into a CallbackSet. Every call submits the request
// and suspends until its completion arrives or ctx is done, so the register, field and memory
// logic is shared between both scheduling modes.
func (a AsyncCallbackSet) Blocking() CallbackSet {
	var cb CallbackSet
	if a.Read != nil {
		cb.Read = func(ctx context.Context, addr uint64, width, accessWidth uint) (*big.Int, error) {
			rsp, err := await(ctx, func(c Completion) {
				a.Read(ReadRequest{Address: addr, Width: width, AccessWidth: accessWidth, Count: 1, Completion: c})
			})
			if err != nil {
				return nil, err
			}
			if len(rsp.Data) != 1 {
				return nil, fmt.Errorf("%w: read completion returned %d words", ErrInvalidArgument, len(rsp.Data))
			}
			return rsp.Data[0], nil
		}
	}
	if a.ReadBlock != nil {
		cb.ReadBlock = func(ctx context.Context, addr uint64, width, accessWidth uint, count int) ([]*big.Int, error) {
			rsp, err := await(ctx, func(c Completion) {
				a.ReadBlock(ReadRequest{Address: addr, Width: width, AccessWidth: accessWidth, Count: count, Completion: c})
			})
			if err != nil {
				return nil, err
			}
			return rsp.Data, nil
		}
	}
	if a.Write != nil {
		cb.Write = func(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error {
			_, err := await(ctx, func(c Completion) {
				a.Write(WriteRequest{Address: addr, Width: width, AccessWidth: accessWidth, Data: []*big.Int{data}, Completion: c})
			})
			return err
		}
	}
	if a.WriteBlock != nil {
		cb.WriteBlock = func(ctx context.Context, addr uint64, width, accessWidth uint, data []*big.Int) error {
			_, err := await(ctx, func(c Completion) {
				a.WriteBlock(WriteRequest{Address: addr, Width: width, AccessWidth: accessWidth, Data: data, Completion: c})
			})
			return err
		}
	}
	return cb
}

func await(ctx context.Context, submit func(c Completion)) (Response, error) {
	done := make(chan Response, 1)
	submit(func(rsp Response) {
		// only the first completion counts:
		select {
		case done <- rsp:
		default:
		}
	})

	select {
	case rsp := <-done:
		return rsp, rsp.Err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
