package ral

import (
	"context"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// RegisterSpec describes a register as found in the elaborated register map.
type RegisterSpec struct {
	Name    string
	Address uint64
	// Width is the register width in bits: 8, 16, 32, ... 2048.
	Width uint
	// AccessWidth is the minimum transaction granularity in bits: 8, 16, 32 or 64. It must divide
	// Width. Zero selects Width capped at 64.
	AccessWidth uint
	Fields      []FieldSpec
}

var validRegisterWidths = map[uint]bool{8: true, 16: true, 32: true, 64: true, 128: true, 256: true, 512: true, 1024: true, 2048: true}
var validAccessWidths = map[uint]bool{8: true, 16: true, 32: true, 64: true}

func resolveAccessWidth(name string, width, accessWidth uint) (uint, error) {
	if accessWidth == 0 {
		accessWidth = width
		if accessWidth > 64 {
			accessWidth = 64
		}
	}
	if !validAccessWidths[accessWidth] {
		return 0, fmt.Errorf("%w: %s access width must be 8, 16, 32 or 64, got %d", ErrInvalidArgument, name, accessWidth)
	}
	if width%accessWidth != 0 {
		return 0, fmt.Errorf("%w: %s access width %d does not divide width %d", ErrInvalidArgument, name, accessWidth, width)
	}
	return accessWidth, nil
}

// Register is the behaviour shared by every register variant.
type Register interface {
	Node
	Width() uint
	AccessWidth() uint
	MaxValue() *big.Int
	Fields() []*Field
	Field(name string) (*Field, bool)
}

// ReadableRegister is implemented by RegReadOnly and RegReadWrite.
type ReadableRegister interface {
	Register
	Read(ctx context.Context) (*big.Int, error)
	ReadUint64(ctx context.Context) (uint64, error)
	// SingleRead runs fn with the register value cached so that field reads inside fn cost no
	// further hardware access.
	SingleRead(ctx context.Context, fn func() error) error
	ReadFields(ctx context.Context) (map[string]*big.Int, error)
	ReadableFields() []*Field
}

// WritableRegister is implemented by RegWriteOnly and RegReadWrite.
type WritableRegister interface {
	Register
	Write(ctx context.Context, data *big.Int, opts ...Option) error
	WriteUint64(ctx context.Context, data uint64, opts ...Option) error
	WriteFields(ctx context.Context, values map[string]*big.Int) error
	WritableFields() []*Field
}

type options struct {
	verify    bool
	skipWrite bool
}

type Option func(o *options)

// Verify reads the register back after a write and fails with ErrWriteVerifyMismatch if the
// value differs.
func Verify() Option { return func(o *options) { o.verify = true } }

// SkipWrite suppresses the write back at the end of a read-modify-write transaction.
func SkipWrite() Option { return func(o *options) { o.skipWrite = true } }

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type baseReg struct {
	node
	width       uint
	accessWidth uint
	max         *big.Int

	fields       []*Field
	fieldsByName map[string]*Field
}

func newBaseReg(parent Container, spec RegisterSpec) (baseReg, error) {
	if parent == nil {
		return baseReg{}, fmt.Errorf("%w: register %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	if !validRegisterWidths[spec.Width] {
		return baseReg{}, fmt.Errorf("%w: %s width must be one of 8, 16, 32, 64, 128, 256, 512, 1024 or 2048, got %d",
			ErrInvalidArgument, spec.Name, spec.Width)
	}
	accessWidth, err := resolveAccessWidth(spec.Name, spec.Width, spec.AccessWidth)
	if err != nil {
		return baseReg{}, err
	}

	n, err := newNode(parent, spec.Name, spec.Address)
	if err != nil {
		return baseReg{}, err
	}

	return baseReg{
		node:         n,
		width:        spec.Width,
		accessWidth:  accessWidth,
		max:          maxValue(spec.Width),
		fieldsByName: make(map[string]*Field),
	}, nil
}

// addFields builds the fields once the owning variant exists, so each field can reach the
// variant's read and write methods.
func (r *baseReg) addFields(owner Register, regAccess Access, specs []FieldSpec) error {
	for _, fs := range specs {
		f, err := newField(owner, regAccess, fs)
		if err != nil {
			return err
		}
		if _, dup := r.fieldsByName[fs.Name]; dup {
			return fmt.Errorf("%w: %s has two fields named %q", ErrInvalidArgument, r.FullInstName(), fs.Name)
		}
		r.fieldsByName[fs.Name] = f
		r.fields = append(r.fields, f)
	}
	return nil
}

func (r *baseReg) Kind() Kind        { return KindRegister }
func (r *baseReg) Width() uint       { return r.width }
func (r *baseReg) AccessWidth() uint { return r.accessWidth }
func (r *baseReg) Size() uint64      { return uint64(r.width >> 3) }

// MaxValue is the largest unsigned value the register can hold, 2^width - 1.
func (r *baseReg) MaxValue() *big.Int { return new(big.Int).Set(r.max) }

func (r *baseReg) Fields() []*Field {
	out := make([]*Field, len(r.fields))
	copy(out, r.fields)
	return out
}

func (r *baseReg) Field(name string) (*Field, bool) {
	f, ok := r.fieldsByName[name]
	return f, ok
}

func (r *baseReg) checkValue(data *big.Int) error {
	if !inRange(data, r.max) {
		return fmt.Errorf("%w: %s data %v outside of 0 to 0x%X", ErrOutOfRange, r.FullInstName(), data, r.max)
	}
	return nil
}

// hwRead prefers the scalar read primitive and falls back to a block read of length one.
func (r *baseReg) hwRead(ctx context.Context) (*big.Int, error) {
	cb := r.Callbacks()
	switch {
	case cb.Read != nil:
		v, err := cb.Read(ctx, r.address, r.width, r.accessWidth)
		if err != nil {
			return nil, err
		}
		return r.checkRead(v)
	case cb.ReadBlock != nil:
		vs, err := cb.ReadBlock(ctx, r.address, r.width, r.accessWidth, 1)
		if err != nil {
			return nil, err
		}
		if len(vs) != 1 {
			return nil, fmt.Errorf("%w: %s block read returned %d words, expected 1", ErrInvalidArgument, r.FullInstName(), len(vs))
		}
		return r.checkRead(vs[0])
	default:
		return nil, fmt.Errorf("%w: %s has no read callback", ErrUnconfigured, r.FullInstName())
	}
}

func (r *baseReg) checkRead(v *big.Int) (*big.Int, error) {
	if !inRange(v, r.max) {
		return nil, fmt.Errorf("%w: %s read returned %v outside of 0 to 0x%X", ErrOutOfRange, r.FullInstName(), v, r.max)
	}
	return new(big.Int).Set(v), nil
}

// hwWrite prefers the scalar write primitive and falls back to a block write of length one.
func (r *baseReg) hwWrite(ctx context.Context, data *big.Int) error {
	if err := r.checkValue(data); err != nil {
		return err
	}

	r.logger.Debug("writing", zap.String("data", fmt.Sprintf("0x%X", data)), zap.String("address", fmt.Sprintf("0x%X", r.address)))

	cb := r.Callbacks()
	switch {
	case cb.Write != nil:
		return cb.Write(ctx, r.address, r.width, r.accessWidth, new(big.Int).Set(data))
	case cb.WriteBlock != nil:
		return cb.WriteBlock(ctx, r.address, r.width, r.accessWidth, []*big.Int{new(big.Int).Set(data)})
	default:
		return fmt.Errorf("%w: %s has no write callback", ErrUnconfigured, r.FullInstName())
	}
}

func (r *baseReg) readableFields() []*Field {
	var out []*Field
	for _, f := range r.fields {
		if f.Readable() {
			out = append(out, f)
		}
	}
	return out
}

func (r *baseReg) writableFields() []*Field {
	var out []*Field
	for _, f := range r.fields {
		if f.Writable() {
			out = append(out, f)
		}
	}
	return out
}

func (r *baseReg) decodeFields(value *big.Int) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int)
	for _, f := range r.readableFields() {
		v, err := f.Decode(value)
		if err != nil {
			return nil, err
		}
		out[f.InstName()] = v
	}
	return out, nil
}

func toUint64(name string, v *big.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s value 0x%X does not fit in 64 bits", ErrOutOfRange, name, v)
	}
	return v.Uint64(), nil
}

// snapshot is the transient cached value held while a transaction is open.
type snapshot struct {
	active bool
	value  *big.Int
}

func (s *snapshot) begin(v *big.Int) {
	s.active = true
	s.value = v
}

func (s *snapshot) clear() {
	s.active = false
	s.value = nil
}

// RegReadOnly is a register the software can only read.
type RegReadOnly struct {
	baseReg
	snap snapshot
}

func NewRegReadOnly(parent Container, spec RegisterSpec) (*RegReadOnly, error) {
	r, err := newRegReadOnly(parent, spec)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

func newRegReadOnly(parent Container, spec RegisterSpec) (*RegReadOnly, error) {
	b, err := newBaseReg(parent, spec)
	if err != nil {
		return nil, err
	}
	r := &RegReadOnly{baseReg: b}
	if err = r.addFields(r, ReadOnly, spec.Fields); err != nil {
		return nil, err
	}
	return r, nil
}

// Read returns the cached value inside SingleRead, otherwise reads the hardware.
func (r *RegReadOnly) Read(ctx context.Context) (*big.Int, error) {
	if r.snap.active {
		return new(big.Int).Set(r.snap.value), nil
	}
	return r.hwRead(ctx)
}

func (r *RegReadOnly) ReadUint64(ctx context.Context) (uint64, error) {
	v, err := r.Read(ctx)
	if err != nil {
		return 0, err
	}
	return toUint64(r.FullInstName(), v)
}

// BeginRead performs one hardware read and caches it until the returned transaction ends.
func (r *RegReadOnly) BeginRead(ctx context.Context) (*Txn, error) {
	if r.snap.active {
		return nil, fmt.Errorf("%w: %s", ErrTransactionActive, r.FullInstName())
	}
	v, err := r.hwRead(ctx)
	if err != nil {
		return nil, err
	}
	r.snap.begin(v)
	return &Txn{logger: r.logger, end: func(context.Context, bool) error {
		r.snap.clear()
		return nil
	}}, nil
}

func (r *RegReadOnly) SingleRead(ctx context.Context, fn func() error) error {
	txn, err := r.BeginRead(ctx)
	if err != nil {
		return err
	}
	return txn.run(ctx, fn)
}

// ReadFields reads the register once and decodes every readable field.
func (r *RegReadOnly) ReadFields(ctx context.Context) (map[string]*big.Int, error) {
	v, err := r.Read(ctx)
	if err != nil {
		return nil, err
	}
	return r.decodeFields(v)
}

func (r *RegReadOnly) ReadableFields() []*Field { return r.readableFields() }

// RegWriteOnly is a register the software can only write.
type RegWriteOnly struct {
	baseReg
}

func NewRegWriteOnly(parent Container, spec RegisterSpec) (*RegWriteOnly, error) {
	r, err := newRegWriteOnly(parent, spec)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

func newRegWriteOnly(parent Container, spec RegisterSpec) (*RegWriteOnly, error) {
	b, err := newBaseReg(parent, spec)
	if err != nil {
		return nil, err
	}
	r := &RegWriteOnly{baseReg: b}
	if err = r.addFields(r, WriteOnly, spec.Fields); err != nil {
		return nil, err
	}
	return r, nil
}

// Write writes data to the hardware. Verify is not available since the register can not be
// read back.
func (r *RegWriteOnly) Write(ctx context.Context, data *big.Int, opts ...Option) error {
	if collectOptions(opts).verify {
		return fmt.Errorf("%w: %s can not be verified", ErrNotReadable, r.FullInstName())
	}
	return r.hwWrite(ctx, data)
}

func (r *RegWriteOnly) WriteUint64(ctx context.Context, data uint64, opts ...Option) error {
	return r.Write(ctx, new(big.Int).SetUint64(data), opts...)
}

// WriteFields composes the named field values into a single write. Fields that are not named
// are written as zero since there is no prior state to preserve.
func (r *RegWriteOnly) WriteFields(ctx context.Context, values map[string]*big.Int) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: %s no field values given", ErrInvalidArgument, r.FullInstName())
	}
	reg := new(big.Int)
	for name, v := range values {
		f, ok := r.fieldsByName[name]
		if !ok {
			return fmt.Errorf("%w: %q is not a field of %s", ErrUnknownField, name, r.FullInstName())
		}
		enc, err := f.Encode(v)
		if err != nil {
			return err
		}
		reg.Or(reg, enc)
	}
	return r.hwWrite(ctx, reg)
}

func (r *RegWriteOnly) WritableFields() []*Field { return r.writableFields() }

// RegReadWrite is a register the software can read and write. It supports read-modify-write
// transactions that cost exactly one hardware read and at most one hardware write.
type RegReadWrite struct {
	baseReg
	snap snapshot
}

func NewRegReadWrite(parent Container, spec RegisterSpec) (*RegReadWrite, error) {
	r, err := newRegReadWrite(parent, spec)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(r); err != nil {
		return nil, err
	}
	return r, nil
}

func newRegReadWrite(parent Container, spec RegisterSpec) (*RegReadWrite, error) {
	b, err := newBaseReg(parent, spec)
	if err != nil {
		return nil, err
	}
	r := &RegReadWrite{baseReg: b}
	if err = r.addFields(r, ReadWrite, spec.Fields); err != nil {
		return nil, err
	}
	return r, nil
}

// Read returns the cached value inside a transaction, otherwise reads the hardware.
func (r *RegReadWrite) Read(ctx context.Context) (*big.Int, error) {
	if r.snap.active {
		return new(big.Int).Set(r.snap.value), nil
	}
	return r.hwRead(ctx)
}

func (r *RegReadWrite) ReadUint64(ctx context.Context) (uint64, error) {
	v, err := r.Read(ctx)
	if err != nil {
		return 0, err
	}
	return toUint64(r.FullInstName(), v)
}

// Write updates only the cached value inside a transaction. Outside one it writes the hardware
// and, with Verify, reads the value back.
func (r *RegReadWrite) Write(ctx context.Context, data *big.Int, opts ...Option) error {
	if err := r.checkValue(data); err != nil {
		return err
	}
	if r.snap.active {
		r.snap.value = new(big.Int).Set(data)
		return nil
	}

	if err := r.hwWrite(ctx, data); err != nil {
		return err
	}
	if !collectOptions(opts).verify {
		return nil
	}

	readBack, err := r.hwRead(ctx)
	if err != nil {
		return err
	}
	if readBack.Cmp(data) != 0 {
		return &WriteVerifyError{Address: r.address, Written: new(big.Int).Set(data), ReadBack: readBack}
	}
	return nil
}

func (r *RegReadWrite) WriteUint64(ctx context.Context, data uint64, opts ...Option) error {
	return r.Write(ctx, new(big.Int).SetUint64(data), opts...)
}

// BeginReadModifyWrite reads the register once and caches the value. Field reads and writes
// operate on the cache until the transaction ends; Commit writes the final value back once
// (unless SkipWrite was given), Abort discards it.
func (r *RegReadWrite) BeginReadModifyWrite(ctx context.Context, opts ...Option) (*Txn, error) {
	if r.snap.active {
		return nil, fmt.Errorf("%w: %s", ErrTransactionActive, r.FullInstName())
	}
	o := collectOptions(opts)

	v, err := r.hwRead(ctx)
	if err != nil {
		return nil, err
	}
	r.snap.begin(v)
	r.logger.Debug("read-modify-write begin")

	return &Txn{logger: r.logger, end: func(ctx context.Context, commit bool) error {
		final := r.snap.value
		r.snap.clear()
		if !commit || o.skipWrite {
			return nil
		}
		if o.verify {
			return r.Write(ctx, final, Verify())
		}
		return r.Write(ctx, final)
	}}, nil
}

// SingleReadModifyWrite runs fn inside a read-modify-write transaction. When fn fails (or
// panics) nothing is written back.
func (r *RegReadWrite) SingleReadModifyWrite(ctx context.Context, fn func() error, opts ...Option) error {
	txn, err := r.BeginReadModifyWrite(ctx, opts...)
	if err != nil {
		return err
	}
	return txn.run(ctx, fn)
}

// BeginRead caches a single read without ever writing back.
func (r *RegReadWrite) BeginRead(ctx context.Context) (*Txn, error) {
	return r.BeginReadModifyWrite(ctx, SkipWrite())
}

func (r *RegReadWrite) SingleRead(ctx context.Context, fn func() error) error {
	return r.SingleReadModifyWrite(ctx, fn, SkipWrite())
}

// ReadFields reads the register once and decodes every readable field.
func (r *RegReadWrite) ReadFields(ctx context.Context) (map[string]*big.Int, error) {
	var out map[string]*big.Int
	err := r.SingleRead(ctx, func() (err error) {
		out, err = r.decodeFields(r.snap.value)
		return
	})
	return out, err
}

// WriteFields updates the named fields in one read-modify-write transaction.
func (r *RegReadWrite) WriteFields(ctx context.Context, values map[string]*big.Int) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: %s no field values given", ErrInvalidArgument, r.FullInstName())
	}
	return r.SingleReadModifyWrite(ctx, func() error {
		for name, v := range values {
			f, ok := r.fieldsByName[name]
			if !ok {
				return fmt.Errorf("%w: %q is not a field of %s", ErrUnknownField, name, r.FullInstName())
			}
			if err := f.Write(ctx, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RegReadWrite) ReadableFields() []*Field { return r.readableFields() }
func (r *RegReadWrite) WritableFields() []*Field { return r.writableFields() }

// InTransaction reports whether a transaction is currently open on the register.
func (r *RegReadWrite) InTransaction() bool { return r.snap.active }

func registerFactory[T Register](parent Container, reg RegisterSpec, build func(Container, RegisterSpec) (T, error)) elementFactory[T] {
	return func(instName string, address uint64) (T, error) {
		elem := reg
		elem.Name, elem.Address = instName, address
		return build(parent, elem)
	}
}

// NewRegReadOnlyArray creates an array of identical read-only registers. The Name and Address of
// reg are replaced per element.
func NewRegReadOnlyArray(parent Container, spec ArraySpec, reg RegisterSpec) (*Array[*RegReadOnly], error) {
	return newArray(parent, spec, KindRegister, registerFactory(parent, reg, newRegReadOnly))
}

func NewRegWriteOnlyArray(parent Container, spec ArraySpec, reg RegisterSpec) (*Array[*RegWriteOnly], error) {
	return newArray(parent, spec, KindRegister, registerFactory(parent, reg, newRegWriteOnly))
}

func NewRegReadWriteArray(parent Container, spec ArraySpec, reg RegisterSpec) (*Array[*RegReadWrite], error) {
	return newArray(parent, spec, KindRegister, registerFactory(parent, reg, newRegReadWrite))
}
