package ral

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Access is the software access type of a register, field or memory.
type Access int

const (
	ReadWrite Access = iota
	ReadOnly
	WriteOnly
)

func (a Access) String() string {
	switch a {
	case ReadWrite:
		return "rw"
	case ReadOnly:
		return "r"
	case WriteOnly:
		return "w"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

func (a Access) readable() bool { return a == ReadWrite || a == ReadOnly }
func (a Access) writable() bool { return a == ReadWrite || a == WriteOnly }

// FieldSpec describes a bit field. MSB and LSB must match either High and Low (lsb0) or Low and
// High (msb0).
type FieldSpec struct {
	Name     string
	Low      uint
	High     uint
	MSB      uint
	LSB      uint
	Default  *big.Int // reset value, nil if none
	Volatile bool
	Access   Access
	Enum     map[string]uint64
}

// Field is a named bit range of a register.
type Field struct {
	base
	reg      Register
	readReg  ReadableRegister
	writeReg WritableRegister

	low, high uint
	msb0      bool
	width     uint
	mask      *big.Int
	inverse   *big.Int
	max       *big.Int

	defaultValue *big.Int
	volatile     bool
	readable     bool
	writable     bool
	enum         map[string]uint64
}

func newField(owner Register, regAccess Access, spec FieldSpec) (*Field, error) {
	regWidth := owner.Width()
	switch {
	case spec.Low > spec.High:
		return nil, fmt.Errorf("%w: field %q low bit %d above high bit %d", ErrInvalidArgument, spec.Name, spec.Low, spec.High)
	case spec.High >= regWidth:
		return nil, fmt.Errorf("%w: field %q high bit %d outside of %d bit register", ErrInvalidArgument, spec.Name, spec.High, regWidth)
	}

	var msb0 bool
	switch {
	case spec.MSB == spec.High && spec.LSB == spec.Low:
	case spec.MSB == spec.Low && spec.LSB == spec.High:
		msb0 = true
	default:
		return nil, fmt.Errorf("%w: field %q msb %d lsb %d match neither [%d:%d] nor [%d:%d]",
			ErrInvalidArgument, spec.Name, spec.MSB, spec.LSB, spec.High, spec.Low, spec.Low, spec.High)
	}

	readable := spec.Access.readable() && regAccess.readable()
	writable := spec.Access.writable() && regAccess.writable()
	if !readable && !writable {
		return nil, fmt.Errorf("%w: field %q is %s in a %s register", ErrInvalidArgument, spec.Name, spec.Access, regAccess)
	}

	width := spec.High - spec.Low + 1
	max := maxValue(width)
	if spec.Default != nil && !inRange(spec.Default, max) {
		return nil, fmt.Errorf("%w: field %q default %v outside of 0 to 0x%X", ErrOutOfRange, spec.Name, spec.Default, max)
	}
	for name, v := range spec.Enum {
		if !inRange(new(big.Int).SetUint64(v), max) {
			return nil, fmt.Errorf("%w: field %q enum %s=%d does not fit in %d bits", ErrOutOfRange, spec.Name, name, v, width)
		}
	}

	b, err := newBase(owner, spec.Name, nil)
	if err != nil {
		return nil, err
	}

	mask := bitmask(spec.Low, spec.High)
	f := &Field{
		base:     b,
		reg:      owner,
		low:      spec.Low,
		high:     spec.High,
		msb0:     msb0,
		width:    width,
		mask:     mask,
		inverse:  new(big.Int).Xor(maxValue(regWidth), mask),
		max:      max,
		volatile: spec.Volatile,
		readable: readable,
		writable: writable,
	}
	if spec.Default != nil {
		f.defaultValue = new(big.Int).Set(spec.Default)
	}
	if len(spec.Enum) > 0 {
		f.enum = maps.Clone(spec.Enum)
	}
	f.readReg, _ = owner.(ReadableRegister)
	f.writeReg, _ = owner.(WritableRegister)
	return f, nil
}

func (f *Field) Register() Register { return f.reg }
func (f *Field) Low() uint          { return f.low }
func (f *Field) High() uint         { return f.high }
func (f *Field) Width() uint        { return f.width }
func (f *Field) MSB0() bool         { return f.msb0 }
func (f *Field) LSB0() bool         { return !f.msb0 }
func (f *Field) Volatile() bool     { return f.volatile }
func (f *Field) Readable() bool     { return f.readable }
func (f *Field) Writable() bool     { return f.writable }

func (f *Field) MSB() uint {
	if f.msb0 {
		return f.low
	}
	return f.high
}

func (f *Field) LSB() uint {
	if f.msb0 {
		return f.high
	}
	return f.low
}

// Bitmask has the bits [low, high] set.
func (f *Field) Bitmask() *big.Int { return new(big.Int).Set(f.mask) }

// InverseBitmask has every register bit outside [low, high] set.
func (f *Field) InverseBitmask() *big.Int { return new(big.Int).Set(f.inverse) }

func (f *Field) MaxValue() *big.Int { return new(big.Int).Set(f.max) }

// Default returns the reset value or nil when the field has none.
func (f *Field) Default() *big.Int {
	if f.defaultValue == nil {
		return nil
	}
	return new(big.Int).Set(f.defaultValue)
}

// Decode extracts the field value from a full register value.
func (f *Field) Decode(regValue *big.Int) (*big.Int, error) {
	if !inRange(regValue, f.reg.MaxValue()) {
		return nil, fmt.Errorf("%w: %s register value %v outside of 0 to 0x%X", ErrOutOfRange, f.FullInstName(), regValue, f.reg.MaxValue())
	}
	v := new(big.Int).And(regValue, f.mask)
	v.Rsh(v, f.low)
	if f.msb0 {
		v = swapBitOrder(v, f.width)
	}
	return v, nil
}

// Encode positions a field value within the register, all other bits zero.
func (f *Field) Encode(value *big.Int) (*big.Int, error) {
	if !inRange(value, f.max) {
		return nil, fmt.Errorf("%w: %s value %v outside of 0 to 0x%X", ErrOutOfRange, f.FullInstName(), value, f.max)
	}
	v := new(big.Int).Set(value)
	if f.msb0 {
		v = swapBitOrder(v, f.width)
	}
	return v.Lsh(v, f.low), nil
}

func (f *Field) Read(ctx context.Context) (*big.Int, error) {
	if !f.readable || f.readReg == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, f.FullInstName())
	}
	regValue, err := f.readReg.Read(ctx)
	if err != nil {
		return nil, err
	}
	return f.Decode(regValue)
}

// Write updates the field. A field covering the whole register is written directly. Otherwise a
// read-write register is read, modified and written, while a write-only register gets every bit
// outside the field written as zero.
func (f *Field) Write(ctx context.Context, value *big.Int) error {
	if !f.writable || f.writeReg == nil {
		return fmt.Errorf("%w: %s", ErrNotWritable, f.FullInstName())
	}
	enc, err := f.Encode(value)
	if err != nil {
		return err
	}

	if f.width == f.reg.Width() || f.readReg == nil {
		return f.writeReg.Write(ctx, enc)
	}

	current, err := f.readReg.Read(ctx)
	if err != nil {
		return err
	}
	current.And(current, f.inverse)
	current.Or(current, enc)
	return f.writeReg.Write(ctx, current)
}

func (f *Field) ReadUint64(ctx context.Context) (uint64, error) {
	v, err := f.Read(ctx)
	if err != nil {
		return 0, err
	}
	return toUint64(f.FullInstName(), v)
}

func (f *Field) WriteUint64(ctx context.Context, value uint64) error {
	return f.Write(ctx, new(big.Int).SetUint64(value))
}

// EnumNames returns the declared enumeration names, sorted.
func (f *Field) EnumNames() []string {
	names := maps.Keys(f.enum)
	slices.Sort(names)
	return names
}

// ReadEnum reads the field and maps the value back to its enumeration name.
func (f *Field) ReadEnum(ctx context.Context) (string, error) {
	if f.enum == nil {
		return "", fmt.Errorf("%w: %s has no enumeration", ErrInvalidArgument, f.FullInstName())
	}
	v, err := f.Read(ctx)
	if err != nil {
		return "", err
	}
	for _, name := range f.EnumNames() {
		if new(big.Int).SetUint64(f.enum[name]).Cmp(v) == 0 {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s value 0x%X is not an enumerated value", ErrOutOfRange, f.FullInstName(), v)
}

func (f *Field) WriteEnum(ctx context.Context, name string) error {
	v, ok := f.enum[name]
	if !ok {
		return fmt.Errorf("%w: %q is not an enumerated value of %s", ErrInvalidArgument, name, f.FullInstName())
	}
	return f.WriteUint64(ctx, v)
}
