package sim

import (
	"fmt"
	"math/big"

	"hwreg/ral"
)

// Hook is called with the current value whenever the simulated hardware is accessed.
type Hook func(value *big.Int)

// FieldDefinition is the part of a field the simulator needs to report field values to hooks.
type FieldDefinition struct {
	Name string
	Low  uint
	High uint
	MSB  uint
	LSB  uint
}

// RegisterDefinition describes a simulated register.
type RegisterDefinition struct {
	Name     string
	Width    uint
	Readable bool
	Writable bool
	Fields   []FieldDefinition
}

type storage interface {
	load() *big.Int
	store(v *big.Int) error
}

type valueStorage struct {
	v *big.Int
}

func (s *valueStorage) load() *big.Int { return new(big.Int).Set(s.v) }

func (s *valueStorage) store(v *big.Int) error {
	s.v = new(big.Int).Set(v)
	return nil
}

type memoryStorage struct {
	mem    *Memory
	offset uint64
}

func (s *memoryStorage) load() *big.Int {
	v, _ := s.mem.Read(s.offset)
	return new(big.Int).SetUint64(v)
}

func (s *memoryStorage) store(v *big.Int) error {
	if !v.IsUint64() {
		return fmt.Errorf("%w: 0x%X does not fit a word of sim memory %s", ral.ErrOutOfRange, v, s.mem.name)
	}
	return s.mem.Write(s.offset, v.Uint64())
}

// Register is a simulated register. Its value is either held by the register itself or, for a
// memory register, aliases a word of a simulated Memory.
type Register struct {
	def    RegisterDefinition
	max    *big.Int
	fields []*Field
	store  storage
	memory *Memory

	readHook  Hook
	writeHook Hook
}

func newRegister(def RegisterDefinition, store storage) (*Register, error) {
	if def.Width == 0 || def.Width%8 != 0 || def.Width > 2048 {
		return nil, fmt.Errorf("%w: sim register %s width %d", ral.ErrInvalidArgument, def.Name, def.Width)
	}
	r := &Register{
		def:   def,
		max:   new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), def.Width), big.NewInt(1)),
		store: store,
	}
	for _, fd := range def.Fields {
		f, err := newField(r, fd)
		if err != nil {
			return nil, err
		}
		r.fields = append(r.fields, f)
	}
	return r, nil
}

// NewRegister creates a register holding its own value, initially zero.
func NewRegister(def RegisterDefinition) (*Register, error) {
	return newRegister(def, &valueStorage{v: new(big.Int)})
}

// NewMemoryRegister creates a register that aliases the word of mem containing the byte at
// byteOffset.
func NewMemoryRegister(def RegisterDefinition, mem *Memory, byteOffset uint64) (*Register, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: sim memory register %s needs a memory", ral.ErrInvalidArgument, def.Name)
	}
	if def.Width != mem.width {
		return nil, fmt.Errorf("%w: sim memory register %s width %d differs from memory width %d",
			ral.ErrInvalidArgument, def.Name, def.Width, mem.width)
	}
	offset, err := mem.ByteOffsetToWordOffset(byteOffset)
	if err != nil {
		return nil, err
	}
	r, err := newRegister(def, &memoryStorage{mem: mem, offset: offset})
	if err != nil {
		return nil, err
	}
	r.memory = mem
	return r, nil
}

func (r *Register) Name() string      { return r.def.Name }
func (r *Register) Width() uint       { return r.def.Width }
func (r *Register) Size() uint64      { return uint64(r.def.Width >> 3) }
func (r *Register) Readable() bool    { return r.def.Readable }
func (r *Register) Writable() bool    { return r.def.Writable }
func (r *Register) Fields() []*Field  { return r.fields }
func (r *Register) Memory() *Memory   { return r.memory }
func (r *Register) OnRead(hook Hook)  { r.readHook = hook }
func (r *Register) OnWrite(hook Hook) { r.writeHook = hook }

// Field returns the field with the given name.
func (r *Register) Field(name string) (*Field, bool) {
	for _, f := range r.fields {
		if f.def.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Value returns the stored value without firing any hooks.
func (r *Register) Value() *big.Int { return r.store.load() }

// SetValue replaces the stored value without firing any hooks.
func (r *Register) SetValue(v *big.Int) error {
	if v == nil || v.Sign() < 0 || v.Cmp(r.max) > 0 {
		return fmt.Errorf("%w: sim register %s value %v outside of 0 to 0x%X", ral.ErrOutOfRange, r.def.Name, v, r.max)
	}
	return r.store.store(v)
}

// Read fires the read hooks and then returns the stored value, so a read hook can change what is
// read.
func (r *Register) Read() *big.Int {
	r.fireHooks(false)
	return r.store.load()
}

// Write stores data and then fires the write hooks.
func (r *Register) Write(data *big.Int) error {
	if err := r.SetValue(data); err != nil {
		return err
	}
	r.fireHooks(true)
	return nil
}

func (r *Register) fireHooks(write bool) {
	hook := r.readHook
	if write {
		hook = r.writeHook
	}
	if hook != nil {
		hook(r.store.load())
	}
	for _, f := range r.fields {
		fh := f.readHook
		if write {
			fh = f.writeHook
		}
		if fh != nil {
			fh(f.Value())
		}
	}
}

// Field is a simulated bit field. It only reports values; the storage belongs to its register.
type Field struct {
	def       FieldDefinition
	reg       *Register
	msb0      bool
	readHook  Hook
	writeHook Hook
}

func newField(reg *Register, def FieldDefinition) (*Field, error) {
	if def.Low > def.High || def.High >= reg.def.Width {
		return nil, fmt.Errorf("%w: sim field %s.%s bits [%d:%d]", ral.ErrInvalidArgument, reg.def.Name, def.Name, def.High, def.Low)
	}
	f := &Field{def: def, reg: reg}
	switch {
	case def.MSB == def.High && def.LSB == def.Low:
	case def.MSB == def.Low && def.LSB == def.High:
		f.msb0 = true
	default:
		return nil, fmt.Errorf("%w: sim field %s.%s msb/lsb do not match its bit range", ral.ErrInvalidArgument, reg.def.Name, def.Name)
	}
	return f, nil
}

func (f *Field) Name() string      { return f.def.Name }
func (f *Field) OnRead(hook Hook)  { f.readHook = hook }
func (f *Field) OnWrite(hook Hook) { f.writeHook = hook }

// Value decodes the field from the stored register value.
func (f *Field) Value() *big.Int {
	width := f.def.High - f.def.Low + 1
	v := new(big.Int).Rsh(f.reg.store.load(), f.def.Low)
	v.And(v, new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), width), big.NewInt(1)))
	if !f.msb0 {
		return v
	}
	out := new(big.Int)
	for i := 0; i < int(width); i++ {
		if v.Bit(i) != 0 {
			out.SetBit(out, int(width)-1-i, 1)
		}
	}
	return out
}
