package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single framed message.
const MaxFrameSize = requestHeaderSize + MaxWords*256 + 2

func writeAll(w io.Writer, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, err := w.Write(buf[sent:])
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("wire: Write returned %d", n)
		}
		sent += n
	}
	return nil
}

func readAll(r io.Reader, buf []byte) error {
	o := 0
	for o < len(buf) {
		n, err := r.Read(buf[o:])
		o += n
		if err != nil {
			if o == len(buf) {
				return nil
			}
			if err == io.EOF && o > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		if n <= 0 {
			return fmt.Errorf("wire: Read returned %d", n)
		}
	}
	return nil
}

// WriteFrame writes payload prefixed with its big endian 32 bit length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes", ErrMalformed, len(payload))
	}
	b := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(payload)))
	copy(b[4:], payload)
	return writeAll(w, b)
}

// ReadFrame reads one length prefixed frame. It returns io.EOF only when the stream ends cleanly
// between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if err := readAll(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformed, n)
	}
	payload := make([]byte, n)
	if err := readAll(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// StreamTransport sends framed requests over a byte stream such as a serial port and waits for
// the matching framed response. Calls are serialized. When the stream is also an io.Closer, a
// context that ends during a call closes the stream, which fails the call and every later one.
type StreamTransport struct {
	mu sync.Mutex
	rw io.ReadWriter
}

func NewStreamTransport(rw io.ReadWriter) *StreamTransport {
	return &StreamTransport{rw: rw}
}

func (s *StreamTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.rw.(io.Closer); ok && ctx.Done() != nil {
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-done:
			}
		}()
	}

	if err := WriteFrame(s.rw, payload); err != nil {
		return nil, s.fail(ctx, "send", err)
	}
	rsp, err := ReadFrame(s.rw)
	if err != nil {
		return nil, s.fail(ctx, "receive", err)
	}
	return rsp, nil
}

func (s *StreamTransport) fail(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("wire: %s: %w", stage, ctxErr)
	}
	return fmt.Errorf("wire: %s: %w", stage, err)
}
