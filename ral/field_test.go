package ral

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

var testFields = []FieldSpec{
	{Name: "lo", Low: 0, High: 3, MSB: 3, LSB: 0},
	{Name: "mid", Low: 4, High: 7, MSB: 7, LSB: 4, Access: ReadOnly},
	{Name: "rev", Low: 8, High: 11, MSB: 8, LSB: 11},
	{Name: "bit", Low: 31, High: 31, MSB: 31, LSB: 31, Default: big.NewInt(1)},
	{Name: "mode", Low: 12, High: 13, MSB: 13, LSB: 12, Enum: map[string]uint64{"off": 0, "slow": 1, "fast": 3}},
}

func newTestReg(t *testing.T, bus *testBus) *RegReadWrite {
	t.Helper()
	top := newTestMap(t, bus.callbacks(true, false))
	r, err := NewRegReadWrite(top, RegisterSpec{Name: "ctrl", Address: 0x10, Width: 32, Fields: testFields})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestField_CodecInverse(t *testing.T) {
	r := newTestReg(t, newTestBus())

	for _, f := range r.Fields() {
		max := f.MaxValue().Uint64()
		for v := uint64(0); v <= max; v++ {
			enc, err := f.Encode(big64(v))
			if err != nil {
				t.Fatal(err)
			}
			// other bits set must not leak into the decoded value:
			combined := new(big.Int).Or(enc, f.InverseBitmask())
			dec, err := f.Decode(combined)
			if err != nil {
				t.Fatal(err)
			}
			if actual, expected := dec.Uint64(), v; actual != expected {
				t.Errorf("%s: decode(encode(%d)) = %d", f.InstName(), expected, actual)
			}
		}
	}
}

func TestField_BitOrder(t *testing.T) {
	r := newTestReg(t, newTestBus())

	rev, _ := r.Field("rev")
	if !rev.MSB0() || rev.LSB0() {
		t.Fatal("rev should be msb0")
	}
	enc, err := rev.Encode(big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := enc.Uint64(), uint64(0x800); actual != expected {
		t.Errorf("msb0 encode mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	if actual, expected := rev.MSB(), uint(8); actual != expected {
		t.Errorf("msb mismatch, actual = %d, expected = %d", actual, expected)
	}

	lo, _ := r.Field("lo")
	enc, err = lo.Encode(big.NewInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := enc.Uint64(), uint64(0x1); actual != expected {
		t.Errorf("lsb0 encode mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	if actual, expected := lo.Bitmask().Uint64(), uint64(0xF); actual != expected {
		t.Errorf("bitmask mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	if actual, expected := lo.InverseBitmask().Uint64(), uint64(0xFFFF_FFF0); actual != expected {
		t.Errorf("inverse bitmask mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
}

func TestField_Bounds(t *testing.T) {
	r := newTestReg(t, newTestBus())
	lo, _ := r.Field("lo")

	if _, err := lo.Encode(big.NewInt(16)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := lo.Encode(big.NewInt(-1)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if _, err := lo.Decode(new(big.Int).Lsh(big.NewInt(1), 32)); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestField_InvalidSpec(t *testing.T) {
	tests := []struct {
		name   string
		access Access
		field  FieldSpec
	}{
		{name: "low above high", field: FieldSpec{Name: "f", Low: 4, High: 3, MSB: 3, LSB: 4}},
		{name: "beyond register", field: FieldSpec{Name: "f", Low: 30, High: 32, MSB: 32, LSB: 30}},
		{name: "msb lsb mismatch", field: FieldSpec{Name: "f", Low: 0, High: 3, MSB: 2, LSB: 0}},
		{name: "write only in read only", access: ReadOnly, field: FieldSpec{Name: "f", Low: 0, High: 3, MSB: 3, LSB: 0, Access: WriteOnly}},
		{name: "default too large", field: FieldSpec{Name: "f", Low: 0, High: 3, MSB: 3, LSB: 0, Default: big.NewInt(16)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top := newTestMap(t, CallbackSet{})
			spec := RegisterSpec{Name: "r", Width: 32, Fields: []FieldSpec{tt.field}}
			var err error
			if tt.access == ReadOnly {
				_, err = NewRegReadOnly(top, spec)
			} else {
				_, err = NewRegReadWrite(top, spec)
			}
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrInvalidArgument) && !errors.Is(err, ErrOutOfRange) {
				t.Errorf("unexpected error class: %v", err)
			}
		})
	}
}

func TestField_ReadWrite(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	bus.set(0x10, 0xFFFF_0000)
	r := newTestReg(t, bus)

	lo, _ := r.Field("lo")
	if err := lo.WriteUint64(ctx, 0xA); err != nil {
		t.Fatal(err)
	}
	if actual, expected := bus.get(0x10).Uint64(), uint64(0xFFFF_000A); actual != expected {
		t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	if actual, expected := bus.reads, 1; actual != expected {
		t.Errorf("read count mismatch, actual = %d, expected = %d", actual, expected)
	}

	v, err := lo.ReadUint64(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := v, uint64(0xA); actual != expected {
		t.Errorf("field value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}

	mid, _ := r.Field("mid")
	if mid.Writable() {
		t.Error("read only field reported writable")
	}
	if err = mid.WriteUint64(ctx, 1); !errors.Is(err, ErrNotWritable) {
		t.Errorf("expected ErrNotWritable, got %v", err)
	}

	bit, _ := r.Field("bit")
	if actual, expected := bit.Default().Uint64(), uint64(1); actual != expected {
		t.Errorf("default mismatch, actual = %d, expected = %d", actual, expected)
	}
	if lo.Default() != nil {
		t.Error("lo should have no default")
	}
}

func TestField_Enum(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	r := newTestReg(t, bus)
	mode, _ := r.Field("mode")

	if err := mode.WriteEnum(ctx, "fast"); err != nil {
		t.Fatal(err)
	}
	if actual, expected := bus.get(0x10).Uint64(), uint64(0x3000); actual != expected {
		t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	name, err := mode.ReadEnum(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := name, "fast"; actual != expected {
		t.Errorf("enum mismatch, actual = %q, expected = %q", actual, expected)
	}

	bus.set(0x10, 0x2000)
	if _, err = mode.ReadEnum(ctx); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
	if err = mode.WriteEnum(ctx, "turbo"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if actual, expected := len(mode.EnumNames()), 3; actual != expected {
		t.Errorf("enum name count mismatch, actual = %d, expected = %d", actual, expected)
	}
}
