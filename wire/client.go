package wire

import (
	"context"
	"fmt"
	"math/big"

	"hwreg/ral"
)

// RoundTripper delivers one encoded request and returns the encoded response.
type RoundTripper interface {
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)
}

type RoundTripFunc func(ctx context.Context, payload []byte) ([]byte, error)

func (f RoundTripFunc) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

func call(ctx context.Context, rt RoundTripper, req *Request) (*Response, error) {
	payload, err := req.MarshalBinary()
	if err != nil {
		return nil, err
	}
	b, err := rt.RoundTrip(ctx, payload)
	if err != nil {
		return nil, err
	}
	var rsp Response
	if err = rsp.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	if rsp.Status != StatusOK {
		return nil, &RemoteError{Status: rsp.Status, Message: rsp.Message}
	}
	return &rsp, nil
}

// Callbacks returns a CallbackSet with all four primitives carried over rt.
func Callbacks(rt RoundTripper) ral.CallbackSet {
	return ral.CallbackSet{
		Read: func(ctx context.Context, addr uint64, width, accessWidth uint) (*big.Int, error) {
			rsp, err := call(ctx, rt, &Request{Op: OpRead, Address: addr, Width: width, AccessWidth: accessWidth, Count: 1})
			if err != nil {
				return nil, err
			}
			if len(rsp.Data) != 1 {
				return nil, fmt.Errorf("%w: read returned %d words", ErrMalformed, len(rsp.Data))
			}
			return rsp.Data[0], nil
		},
		Write: func(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error {
			_, err := call(ctx, rt, &Request{Op: OpWrite, Address: addr, Width: width, AccessWidth: accessWidth, Data: []*big.Int{data}})
			return err
		},
		ReadBlock: func(ctx context.Context, addr uint64, width, accessWidth uint, count int) ([]*big.Int, error) {
			rsp, err := call(ctx, rt, &Request{Op: OpReadBlock, Address: addr, Width: width, AccessWidth: accessWidth, Count: count})
			if err != nil {
				return nil, err
			}
			if len(rsp.Data) != count {
				return nil, fmt.Errorf("%w: block read returned %d words, expected %d", ErrMalformed, len(rsp.Data), count)
			}
			return rsp.Data, nil
		},
		WriteBlock: func(ctx context.Context, addr uint64, width, accessWidth uint, data []*big.Int) error {
			_, err := call(ctx, rt, &Request{Op: OpWriteBlock, Address: addr, Width: width, AccessWidth: accessWidth, Data: data})
			return err
		},
	}
}
