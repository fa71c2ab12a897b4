package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"go.uber.org/zap"

	"hwreg/ral"
)

// Dispatch executes req against cb. Failures are reported in the response, never returned.
func Dispatch(ctx context.Context, cb ral.CallbackSet, req *Request) *Response {
	rsp := &Response{Width: req.Width}
	var err error
	switch req.Op {
	case OpRead:
		if cb.Read == nil {
			err = fmt.Errorf("%w: no read primitive", ral.ErrUnconfigured)
			break
		}
		var v *big.Int
		if v, err = cb.Read(ctx, req.Address, req.Width, req.AccessWidth); err == nil {
			rsp.Data = []*big.Int{v}
		}
	case OpWrite:
		switch {
		case cb.Write == nil:
			err = fmt.Errorf("%w: no write primitive", ral.ErrUnconfigured)
		case len(req.Data) != 1:
			err = fmt.Errorf("%w: scalar write of %d words", ral.ErrInvalidArgument, len(req.Data))
		default:
			err = cb.Write(ctx, req.Address, req.Width, req.AccessWidth, req.Data[0])
		}
	case OpReadBlock:
		if cb.ReadBlock == nil {
			err = fmt.Errorf("%w: no block read primitive", ral.ErrUnconfigured)
			break
		}
		rsp.Data, err = cb.ReadBlock(ctx, req.Address, req.Width, req.AccessWidth, req.Count)
	case OpWriteBlock:
		if cb.WriteBlock == nil {
			err = fmt.Errorf("%w: no block write primitive", ral.ErrUnconfigured)
			break
		}
		err = cb.WriteBlock(ctx, req.Address, req.Width, req.AccessWidth, req.Data)
	default:
		err = fmt.Errorf("%w: unknown op %v", ral.ErrInvalidArgument, req.Op)
	}

	if err != nil {
		return &Response{Status: statusOf(err), Message: err.Error()}
	}
	return rsp
}

// Handle decodes a request message, dispatches it and encodes the response.
func Handle(ctx context.Context, cb ral.CallbackSet, payload []byte) []byte {
	var req Request
	var rsp *Response
	if err := req.UnmarshalBinary(payload); err != nil {
		rsp = &Response{Status: StatusInvalidArgument, Message: err.Error()}
	} else {
		rsp = Dispatch(ctx, cb, &req)
	}

	b, err := rsp.MarshalBinary()
	if err != nil {
		// the primitive returned words wider than the request width:
		rsp = &Response{Status: StatusInternal, Message: err.Error()}
		b, _ = rsp.MarshalBinary()
	}
	return b
}

// ServeStream answers framed requests on rw until the stream ends or ctx is done.
func ServeStream(ctx context.Context, rw io.ReadWriter, cb ral.CallbackSet, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := ReadFrame(rw)
		if errors.Is(err, io.EOF) {
			logger.Debug("stream closed")
			return nil
		}
		if err != nil {
			return fmt.Errorf("wire: serve: %w", err)
		}
		if err = WriteFrame(rw, Handle(ctx, cb, payload)); err != nil {
			return fmt.Errorf("wire: serve: %w", err)
		}
	}
}
