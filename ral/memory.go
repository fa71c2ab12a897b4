package ral

import (
	"context"
	"fmt"
	"math/big"
)

// MemorySpec describes an entry addressed memory.
type MemorySpec struct {
	Name    string
	Address uint64
	Entries uint64
	// Width is the word width in bits: 8, 16, 32 or 64.
	Width uint
	// AccessWidth must divide Width; zero selects Width.
	AccessWidth uint
	Access      Access
}

// Memory is a block of Entries words. It may also host registers that alias its words.
type Memory struct {
	container
	entries     uint64
	width       uint
	accessWidth uint
	access      Access
	max         uint64
}

// NewMemory creates a memory and attaches it to parent.
func NewMemory(parent *AddressMap, spec MemorySpec) (*Memory, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: memory %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	m, err := newMemory(parent, spec)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newMemory(parent Container, spec MemorySpec) (*Memory, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: memory %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	if !validAccessWidths[spec.Width] {
		return nil, fmt.Errorf("%w: memory %s width must be 8, 16, 32 or 64, got %d", ErrInvalidArgument, spec.Name, spec.Width)
	}
	if spec.Entries == 0 {
		return nil, fmt.Errorf("%w: memory %s has no entries", ErrInvalidArgument, spec.Name)
	}
	accessWidth, err := resolveAccessWidth(spec.Name, spec.Width, spec.AccessWidth)
	if err != nil {
		return nil, err
	}

	c, err := newContainer(parent, spec.Name, spec.Address, KindRegister)
	if err != nil {
		return nil, err
	}
	return &Memory{
		container:   c,
		entries:     spec.Entries,
		width:       spec.Width,
		accessWidth: accessWidth,
		access:      spec.Access,
		max:         maxValue(spec.Width).Uint64(),
	}, nil
}

func (m *Memory) Kind() Kind        { return KindMemory }
func (m *Memory) Entries() uint64   { return m.entries }
func (m *Memory) Width() uint       { return m.width }
func (m *Memory) AccessWidth() uint { return m.accessWidth }
func (m *Memory) Access() Access    { return m.access }

// MaxValue is the largest value a single word holds.
func (m *Memory) MaxValue() uint64 { return m.max }

func (m *Memory) wordSize() uint64 { return uint64(m.width >> 3) }

// Size is Entries times the word size in bytes.
func (m *Memory) Size() uint64 { return m.entries * m.wordSize() }

// AddressOf returns the byte address of an entry.
func (m *Memory) AddressOf(entry uint64) (uint64, error) {
	if entry >= m.entries {
		return 0, fmt.Errorf("%w: %s entry %d outside of %d entries", ErrOutOfRange, m.FullInstName(), entry, m.entries)
	}
	return m.address + entry*m.wordSize(), nil
}

// attach only accepts registers lying entirely inside the memory.
func (m *Memory) attach(child Node) error {
	start, end := child.Address(), child.Address()+child.Size()
	if start < m.address || end > m.address+m.Size() {
		return fmt.Errorf("%w: %s [0x%X, 0x%X) lies outside of memory %s", ErrOutOfRange, child.InstName(), start, end, m.FullInstName())
	}
	return m.container.attach(child)
}

func (m *Memory) checkExtent(start, count uint64) error {
	if start > m.entries || count > m.entries-start {
		return fmt.Errorf("%w: %s entries [%d, %d) outside of %d entries", ErrOutOfRange, m.FullInstName(), start, start+count, m.entries)
	}
	return nil
}

// Read returns count words starting at entry start. A block read is used when available,
// otherwise count scalar reads are issued in ascending order.
func (m *Memory) Read(ctx context.Context, start, count uint64) ([]uint64, error) {
	if !m.access.readable() {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, m.FullInstName())
	}
	if err := m.checkExtent(start, count); err != nil {
		return nil, err
	}

	cb := m.Callbacks()
	if !cb.CanRead() {
		return nil, fmt.Errorf("%w: %s has no read callback", ErrUnconfigured, m.FullInstName())
	}
	out := make([]uint64, 0, count)
	if count == 0 {
		return out, nil
	}

	addr := m.address + start*m.wordSize()
	if cb.ReadBlock != nil {
		words, err := cb.ReadBlock(ctx, addr, m.width, m.accessWidth, int(count))
		if err != nil {
			return nil, err
		}
		if uint64(len(words)) != count {
			return nil, fmt.Errorf("%w: %s block read returned %d words, expected %d", ErrInvalidArgument, m.FullInstName(), len(words), count)
		}
		for i, w := range words {
			v, err := m.checkWord(addr+uint64(i)*m.wordSize(), w)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}

	for i := uint64(0); i < count; i++ {
		a := addr + i*m.wordSize()
		w, err := cb.Read(ctx, a, m.width, m.accessWidth)
		if err != nil {
			return nil, err
		}
		v, err := m.checkWord(a, w)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (m *Memory) checkWord(addr uint64, w *big.Int) (uint64, error) {
	if w == nil || w.Sign() < 0 || !w.IsUint64() || w.Uint64() > m.max {
		return 0, fmt.Errorf("%w: %s read at 0x%X returned %v, larger than a %d bit word", ErrOutOfRange, m.FullInstName(), addr, w, m.width)
	}
	return w.Uint64(), nil
}

// Write stores data starting at entry start, by block write when available, otherwise one
// scalar write per word in ascending order.
func (m *Memory) Write(ctx context.Context, start uint64, data []uint64) error {
	if !m.access.writable() {
		return fmt.Errorf("%w: %s", ErrNotWritable, m.FullInstName())
	}
	count := uint64(len(data))
	if err := m.checkExtent(start, count); err != nil {
		return err
	}
	for i, v := range data {
		if v > m.max {
			return fmt.Errorf("%w: %s data[%d]=0x%X larger than a %d bit word", ErrOutOfRange, m.FullInstName(), i, v, m.width)
		}
	}

	cb := m.Callbacks()
	if !cb.CanWrite() {
		return fmt.Errorf("%w: %s has no write callback", ErrUnconfigured, m.FullInstName())
	}
	if count == 0 {
		return nil
	}

	addr := m.address + start*m.wordSize()
	words := make([]*big.Int, len(data))
	for i, v := range data {
		words[i] = new(big.Int).SetUint64(v)
	}

	if cb.WriteBlock != nil {
		return cb.WriteBlock(ctx, addr, m.width, m.accessWidth, words)
	}
	for i, w := range words {
		if err := cb.Write(ctx, addr+uint64(i)*m.wordSize(), m.width, m.accessWidth, w); err != nil {
			return err
		}
	}
	return nil
}

// NewMemoryArray creates an array of identical memories. init, when set, is called for each
// element so it can add registers.
func NewMemoryArray(parent *AddressMap, spec ArraySpec, mem MemorySpec, init func(m *Memory) error) (*Array[*Memory], error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: memory array %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	return newArray[*Memory](parent, spec, KindMemory, func(instName string, address uint64) (*Memory, error) {
		elem := mem
		elem.Name, elem.Address = instName, address
		m, err := newMemory(parent, elem)
		if err != nil {
			return nil, err
		}
		if init != nil {
			if err = init(m); err != nil {
				return nil, err
			}
		}
		return m, nil
	})
}
