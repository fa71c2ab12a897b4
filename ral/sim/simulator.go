// Package sim is an in-memory device model implementing the same transport primitives as real
// hardware, so register access code can be exercised without any physical I/O.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"hwreg/ral"
)

type memoryEntry struct {
	start  uint64
	end    uint64 // exclusive
	memory *Memory
}

func (e memoryEntry) contains(addr uint64) bool { return e.start <= addr && addr < e.end }

// Simulator maps addresses to simulated registers and memories. Addresses matching neither read
// as zero and writes to them are dropped.
//
// Hooks run while the simulator is locked and must not call back into it.
type Simulator struct {
	logger *zap.Logger

	mu        sync.Mutex
	registers map[uint64]*Register
	memories  []memoryEntry
}

func New(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		logger:    logger.Named("sim"),
		registers: make(map[uint64]*Register),
	}
}

// AddRegister places r at addr. A second register at the same address is rejected immediately;
// overlaps with memories are reported by Validate.
func (s *Simulator) AddRegister(addr uint64, r *Register) error {
	if r == nil {
		return fmt.Errorf("%w: nil sim register", ral.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, dup := s.registers[addr]; dup {
		return fmt.Errorf("%w: %s and %s both at 0x%X", ral.ErrConfigurationConflict, prev.def.Name, r.def.Name, addr)
	}
	s.registers[addr] = r
	return nil
}

// AddMemory places m at addr.
func (s *Simulator) AddMemory(addr uint64, m *Memory) error {
	if m == nil {
		return fmt.Errorf("%w: nil sim memory", ral.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories = append(s.memories, memoryEntry{start: addr, end: addr + m.Size(), memory: m})
	slices.SortFunc(s.memories, func(a, b memoryEntry) bool { return a.start < b.start })
	return nil
}

// Validate reports every overlap between memories, between registers, and between a plain
// register and a memory. A memory register may sit inside the memory it aliases.
func (s *Simulator) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	for i := 1; i < len(s.memories); i++ {
		prev, cur := s.memories[i-1], s.memories[i]
		if cur.start < prev.end {
			err = multierr.Append(err, fmt.Errorf("%w: memory %s [0x%X, 0x%X) overlaps memory %s [0x%X, 0x%X)",
				ral.ErrConfigurationConflict, cur.memory.name, cur.start, cur.end, prev.memory.name, prev.start, prev.end))
		}
	}

	addrs := maps.Keys(s.registers)
	slices.Sort(addrs)
	for i, addr := range addrs {
		r := s.registers[addr]
		end := addr + r.Size()
		if i+1 < len(addrs) && addrs[i+1] < end {
			next := s.registers[addrs[i+1]]
			err = multierr.Append(err, fmt.Errorf("%w: register %s [0x%X, 0x%X) overlaps register %s at 0x%X",
				ral.ErrConfigurationConflict, r.def.Name, addr, end, next.def.Name, addrs[i+1]))
		}
		for _, e := range s.memories {
			if addr >= e.end || end <= e.start {
				continue
			}
			if r.memory == e.memory && addr >= e.start && end <= e.end {
				continue
			}
			err = multierr.Append(err, fmt.Errorf("%w: register %s [0x%X, 0x%X) overlaps memory %s [0x%X, 0x%X)",
				ral.ErrConfigurationConflict, r.def.Name, addr, end, e.memory.name, e.start, e.end))
		}
	}
	return err
}

// Register returns the register placed exactly at addr.
func (s *Simulator) Register(addr uint64) (*Register, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registers[addr]
	return r, ok
}

// MemoryAt returns the memory whose range contains addr.
func (s *Simulator) MemoryAt(addr uint64) (*Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.memoryFor(addr)
	return e.memory, ok
}

func (s *Simulator) memoryFor(addr uint64) (memoryEntry, bool) {
	for _, e := range s.memories {
		if e.contains(addr) {
			return e, true
		}
	}
	return memoryEntry{}, false
}

// read resolves addr, registers first. s.mu must be held.
func (s *Simulator) read(addr uint64) (*big.Int, error) {
	if r, ok := s.registers[addr]; ok {
		return r.Read(), nil
	}
	if e, ok := s.memoryFor(addr); ok {
		offset, err := e.memory.ByteOffsetToWordOffset(addr - e.start)
		if err != nil {
			return nil, err
		}
		v, err := e.memory.Read(offset)
		if err != nil {
			return nil, err
		}
		return new(big.Int).SetUint64(v), nil
	}
	s.logger.Debug("read of unmapped address returns zero", zap.Uint64("address", addr))
	return new(big.Int), nil
}

// write resolves addr, registers first. s.mu must be held.
func (s *Simulator) write(addr uint64, data *big.Int) error {
	if data == nil || data.Sign() < 0 {
		return fmt.Errorf("%w: sim write of %v at 0x%X", ral.ErrOutOfRange, data, addr)
	}
	if r, ok := s.registers[addr]; ok {
		return r.Write(data)
	}
	if e, ok := s.memoryFor(addr); ok {
		offset, err := e.memory.ByteOffsetToWordOffset(addr - e.start)
		if err != nil {
			return err
		}
		if !data.IsUint64() {
			return fmt.Errorf("%w: 0x%X does not fit a word of sim memory %s", ral.ErrOutOfRange, data, e.memory.name)
		}
		return e.memory.Write(offset, data.Uint64())
	}
	s.logger.Debug("write to unmapped address dropped", zap.Uint64("address", addr))
	return nil
}

func (s *Simulator) Read(ctx context.Context, addr uint64, width, accessWidth uint) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := s.read(addr)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("read", zap.Uint64("address", addr), zap.Uint("width", width), zap.Stringer("value", v))
	return v, nil
}

func (s *Simulator) Write(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug("write", zap.Uint64("address", addr), zap.Uint("width", width), zap.Stringer("value", data))
	return s.write(addr, data)
}

// ReadBlock decomposes the block into one read per word.
func (s *Simulator) ReadBlock(ctx context.Context, addr uint64, width, accessWidth uint, count int) ([]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: negative block length %d", ral.ErrInvalidArgument, count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	step := uint64(width >> 3)
	out := make([]*big.Int, 0, count)
	for i := 0; i < count; i++ {
		v, err := s.read(addr + uint64(i)*step)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteBlock decomposes the block into one write per word.
func (s *Simulator) WriteBlock(ctx context.Context, addr uint64, width, accessWidth uint, data []*big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	step := uint64(width >> 3)
	for i, v := range data {
		if err := s.write(addr+uint64(i)*step, v); err != nil {
			return err
		}
	}
	return nil
}

// Callbacks returns the blocking transport primitives.
func (s *Simulator) Callbacks() ral.CallbackSet {
	return ral.CallbackSet{
		Read:       s.Read,
		Write:      s.Write,
		ReadBlock:  s.ReadBlock,
		WriteBlock: s.WriteBlock,
	}
}

// AsyncCallbacks returns the cooperative transport primitives. Every request completes before
// the submitting call returns.
func (s *Simulator) AsyncCallbacks() ral.AsyncCallbackSet {
	ctx := context.Background()
	complete := func(c ral.Completion, rsp ral.Response) {
		if c != nil {
			c(rsp)
		}
	}
	return ral.AsyncCallbackSet{
		Read: func(req ral.ReadRequest) {
			v, err := s.Read(ctx, req.Address, req.Width, req.AccessWidth)
			rsp := ral.Response{Address: req.Address, Err: err}
			if err == nil {
				rsp.Data = []*big.Int{v}
			}
			complete(req.Completion, rsp)
		},
		ReadBlock: func(req ral.ReadRequest) {
			vs, err := s.ReadBlock(ctx, req.Address, req.Width, req.AccessWidth, req.Count)
			complete(req.Completion, ral.Response{Address: req.Address, Data: vs, Err: err})
		},
		Write: func(req ral.WriteRequest) {
			var err error
			if len(req.Data) != 1 {
				err = fmt.Errorf("%w: scalar write of %d words", ral.ErrInvalidArgument, len(req.Data))
			} else {
				err = s.Write(ctx, req.Address, req.Width, req.AccessWidth, req.Data[0])
			}
			complete(req.Completion, ral.Response{IsWrite: true, Address: req.Address, Data: req.Data, Err: err})
		},
		WriteBlock: func(req ral.WriteRequest) {
			err := s.WriteBlock(ctx, req.Address, req.Width, req.AccessWidth, req.Data)
			complete(req.Completion, ral.Response{IsWrite: true, Address: req.Address, Data: req.Data, Err: err})
		},
	}
}
