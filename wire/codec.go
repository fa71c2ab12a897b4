// Package wire carries the four transport primitives over a byte transport. A request or
// response is a single binary message; stream transports additionally length-prefix each
// message.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

type Op uint8

const (
	OpRead Op = iota + 1
	OpWrite
	OpReadBlock
	OpWriteBlock
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpReadBlock:
		return "read-block"
	case OpWriteBlock:
		return "write-block"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

func (o Op) isWrite() bool { return o == OpWrite || o == OpWriteBlock }

var (
	requestMagic  = [4]byte{'H', 'W', 'R', 'Q'}
	responseMagic = [4]byte{'H', 'W', 'R', 'S'}
)

// MaxWords bounds the number of words carried by one message.
const MaxWords = 1 << 16

var ErrMalformed = errors.New("wire: malformed message")

// Request is one transport primitive invocation.
//
//	magic[4] op[1] width[2] accessWidth[2] address[8] count[4] data[count*width/8]
//
// All integers are big endian. Data is only present for writes.
type Request struct {
	Op          Op
	Address     uint64
	Width       uint
	AccessWidth uint
	Count       int
	Data        []*big.Int
}

const requestHeaderSize = 4 + 1 + 2 + 2 + 8 + 4

func checkWidth(width uint) error {
	if width == 0 || width%8 != 0 || width > 2048 {
		return fmt.Errorf("%w: width %d", ErrMalformed, width)
	}
	return nil
}

func (r *Request) MarshalBinary() ([]byte, error) {
	if err := checkWidth(r.Width); err != nil {
		return nil, err
	}
	count := r.Count
	if r.Op.isWrite() {
		count = len(r.Data)
	}
	if count < 0 || count > MaxWords {
		return nil, fmt.Errorf("%w: word count %d", ErrMalformed, count)
	}

	wordSize := int(r.Width >> 3)
	b := make([]byte, requestHeaderSize, requestHeaderSize+len(r.Data)*wordSize)
	copy(b[0:4], requestMagic[:])
	b[4] = byte(r.Op)
	binary.BigEndian.PutUint16(b[5:7], uint16(r.Width))
	binary.BigEndian.PutUint16(b[7:9], uint16(r.AccessWidth))
	binary.BigEndian.PutUint64(b[9:17], r.Address)
	binary.BigEndian.PutUint32(b[17:21], uint32(count))

	if r.Op.isWrite() {
		var err error
		if b, err = appendWords(b, r.Data, wordSize); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (r *Request) UnmarshalBinary(b []byte) error {
	if len(b) < requestHeaderSize || [4]byte{b[0], b[1], b[2], b[3]} != requestMagic {
		return fmt.Errorf("%w: bad request header", ErrMalformed)
	}
	r.Op = Op(b[4])
	if r.Op < OpRead || r.Op > OpWriteBlock {
		return fmt.Errorf("%w: unknown op %d", ErrMalformed, b[4])
	}
	r.Width = uint(binary.BigEndian.Uint16(b[5:7]))
	r.AccessWidth = uint(binary.BigEndian.Uint16(b[7:9]))
	r.Address = binary.BigEndian.Uint64(b[9:17])
	count := binary.BigEndian.Uint32(b[17:21])
	if err := checkWidth(r.Width); err != nil {
		return err
	}
	if count > MaxWords {
		return fmt.Errorf("%w: word count %d", ErrMalformed, count)
	}
	r.Count = int(count)

	body := b[requestHeaderSize:]
	r.Data = nil
	if !r.Op.isWrite() {
		if len(body) != 0 {
			return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(body))
		}
		return nil
	}
	var err error
	r.Data, err = readWords(body, r.Count, int(r.Width>>3))
	return err
}

// Response is the outcome of a Request.
//
//	magic[4] status[1] width[2] count[4] data[count*width/8] msglen[2] msg[msglen]
type Response struct {
	Status  Status
	Width   uint
	Data    []*big.Int
	Message string
}

const responseHeaderSize = 4 + 1 + 2 + 4

func (r *Response) MarshalBinary() ([]byte, error) {
	wordSize := 0
	if len(r.Data) > 0 {
		if err := checkWidth(r.Width); err != nil {
			return nil, err
		}
		wordSize = int(r.Width >> 3)
	}
	if len(r.Data) > MaxWords {
		return nil, fmt.Errorf("%w: word count %d", ErrMalformed, len(r.Data))
	}
	msg := r.Message
	if len(msg) > 0xFFFF {
		msg = msg[:0xFFFF]
	}

	b := make([]byte, responseHeaderSize, responseHeaderSize+len(r.Data)*wordSize+2+len(msg))
	copy(b[0:4], responseMagic[:])
	b[4] = byte(r.Status)
	binary.BigEndian.PutUint16(b[5:7], uint16(r.Width))
	binary.BigEndian.PutUint32(b[7:11], uint32(len(r.Data)))

	var err error
	if b, err = appendWords(b, r.Data, wordSize); err != nil {
		return nil, err
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(msg)))
	return append(b, msg...), nil
}

func (r *Response) UnmarshalBinary(b []byte) error {
	if len(b) < responseHeaderSize+2 || [4]byte{b[0], b[1], b[2], b[3]} != responseMagic {
		return fmt.Errorf("%w: bad response header", ErrMalformed)
	}
	r.Status = Status(b[4])
	r.Width = uint(binary.BigEndian.Uint16(b[5:7]))
	count := binary.BigEndian.Uint32(b[7:11])
	if count > MaxWords {
		return fmt.Errorf("%w: word count %d", ErrMalformed, count)
	}

	body := b[responseHeaderSize:]
	r.Data = nil
	if count > 0 {
		if err := checkWidth(r.Width); err != nil {
			return err
		}
		n := int(count) * int(r.Width>>3)
		if len(body) < n {
			return fmt.Errorf("%w: short response data", ErrMalformed)
		}
		var err error
		if r.Data, err = readWords(body[:n], int(count), int(r.Width>>3)); err != nil {
			return err
		}
		body = body[n:]
	}

	if len(body) < 2 {
		return fmt.Errorf("%w: missing message length", ErrMalformed)
	}
	msgLen := int(binary.BigEndian.Uint16(body[0:2]))
	if len(body)-2 != msgLen {
		return fmt.Errorf("%w: message length %d, %d bytes left", ErrMalformed, msgLen, len(body)-2)
	}
	r.Message = string(body[2:])
	return nil
}

func appendWords(b []byte, words []*big.Int, wordSize int) ([]byte, error) {
	for i, w := range words {
		if w == nil || w.Sign() < 0 || w.BitLen() > wordSize*8 {
			return nil, fmt.Errorf("%w: word %d (%v) does not fit %d bytes", ErrMalformed, i, w, wordSize)
		}
		start := len(b)
		b = append(b, make([]byte, wordSize)...)
		w.FillBytes(b[start:])
	}
	return b, nil
}

func readWords(b []byte, count, wordSize int) ([]*big.Int, error) {
	if len(b) != count*wordSize {
		return nil, fmt.Errorf("%w: %d data bytes for %d words of %d bytes", ErrMalformed, len(b), count, wordSize)
	}
	out := make([]*big.Int, count)
	for i := range out {
		out[i] = new(big.Int).SetBytes(b[i*wordSize : (i+1)*wordSize])
	}
	return out, nil
}
