package sim

import (
	"fmt"

	"hwreg/ral"
)

// Memory is the simulated storage behind a memory range: Entries words of Width bits, all
// starting at zero.
type Memory struct {
	name  string
	width uint
	max   uint64
	words []uint64
}

func NewMemory(name string, entries uint64, width uint) (*Memory, error) {
	switch width {
	case 8, 16, 32, 64:
	default:
		return nil, fmt.Errorf("%w: sim memory %s width must be 8, 16, 32 or 64, got %d", ral.ErrInvalidArgument, name, width)
	}
	if entries == 0 {
		return nil, fmt.Errorf("%w: sim memory %s has no entries", ral.ErrInvalidArgument, name)
	}
	max := ^uint64(0)
	if width < 64 {
		max = 1<<width - 1
	}
	return &Memory{name: name, width: width, max: max, words: make([]uint64, entries)}, nil
}

func (m *Memory) Name() string    { return m.name }
func (m *Memory) Width() uint     { return m.width }
func (m *Memory) Entries() uint64 { return uint64(len(m.words)) }

// Size is the number of bytes the memory occupies.
func (m *Memory) Size() uint64 { return uint64(len(m.words)) * uint64(m.width>>3) }

// ByteOffsetToWordOffset converts a byte offset from the start of the memory into the index of
// the word containing it.
func (m *Memory) ByteOffsetToWordOffset(offset uint64) (uint64, error) {
	if offset >= m.Size() {
		return 0, fmt.Errorf("%w: byte offset 0x%X outside of sim memory %s (0x%X bytes)", ral.ErrOutOfRange, offset, m.name, m.Size())
	}
	return offset / uint64(m.width>>3), nil
}

func (m *Memory) Read(offset uint64) (uint64, error) {
	if offset >= uint64(len(m.words)) {
		return 0, fmt.Errorf("%w: word %d outside of sim memory %s", ral.ErrOutOfRange, offset, m.name)
	}
	return m.words[offset], nil
}

func (m *Memory) Write(offset uint64, data uint64) error {
	if offset >= uint64(len(m.words)) {
		return fmt.Errorf("%w: word %d outside of sim memory %s", ral.ErrOutOfRange, offset, m.name)
	}
	if data > m.max {
		return fmt.Errorf("%w: 0x%X larger than a %d bit word in sim memory %s", ral.ErrOutOfRange, data, m.width, m.name)
	}
	m.words[offset] = data
	return nil
}

// Value returns a copy of the memory contents.
func (m *Memory) Value() []uint64 {
	out := make([]uint64, len(m.words))
	copy(out, m.words)
	return out
}
