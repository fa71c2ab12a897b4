package ral

import (
	"context"
	"errors"
	"math/big"
	"testing"
)

func TestRegister_Validation(t *testing.T) {
	top := newTestMap(t, CallbackSet{})
	tests := []struct {
		name string
		spec RegisterSpec
	}{
		{name: "width", spec: RegisterSpec{Name: "a", Width: 24}},
		{name: "access width", spec: RegisterSpec{Name: "b", Width: 32, AccessWidth: 12}},
		{name: "access wider than register", spec: RegisterSpec{Name: "c", Width: 16, AccessWidth: 32}},
		{name: "empty name", spec: RegisterSpec{Width: 32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegReadWrite(top, tt.spec); !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	r, err := NewRegReadWrite(top, RegisterSpec{Name: "wide", Width: 128})
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := r.AccessWidth(), uint(64); actual != expected {
		t.Errorf("default access width mismatch, actual = %d, expected = %d", actual, expected)
	}
	if actual, expected := r.Size(), uint64(16); actual != expected {
		t.Errorf("size mismatch, actual = %d, expected = %d", actual, expected)
	}
	if _, err = NewRegReadWrite(top, RegisterSpec{Name: "wide", Width: 32}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("duplicate name: expected ErrInvalidArgument, got %v", err)
	}
}

func TestRegister_ReadWrite(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		scalar bool
		block  bool
		verify func(t *testing.T, r *RegReadWrite, bus *testBus)
	}{
		{
			name:   "scalar preferred",
			scalar: true,
			block:  true,
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				if err := r.WriteUint64(ctx, 0x1234); err != nil {
					t.Fatal(err)
				}
				v, err := r.ReadUint64(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if actual, expected := v, uint64(0x1234); actual != expected {
					t.Errorf("read mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
				if bus.reads != 1 || bus.writes != 1 || bus.blockReads != 0 || bus.blockWrites != 0 {
					t.Errorf("unexpected primitive use: %+v", *bus)
				}
			},
		},
		{
			name:  "block of one",
			block: true,
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				if err := r.WriteUint64(ctx, 0x55); err != nil {
					t.Fatal(err)
				}
				v, err := r.ReadUint64(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if actual, expected := v, uint64(0x55); actual != expected {
					t.Errorf("read mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
				if bus.blockReads != 1 || bus.blockWrites != 1 {
					t.Errorf("unexpected primitive use: %+v", *bus)
				}
			},
		},
		{
			name: "unconfigured",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				if _, err := r.Read(ctx); !errors.Is(err, ErrUnconfigured) {
					t.Errorf("expected ErrUnconfigured, got %v", err)
				}
				if err := r.WriteUint64(ctx, 1); !errors.Is(err, ErrUnconfigured) {
					t.Errorf("expected ErrUnconfigured, got %v", err)
				}
			},
		},
		{
			name:   "out of range",
			scalar: true,
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				if err := r.Write(ctx, new(big.Int).Lsh(big.NewInt(1), 32)); !errors.Is(err, ErrOutOfRange) {
					t.Errorf("expected ErrOutOfRange, got %v", err)
				}
				if err := r.Write(ctx, big.NewInt(-1)); !errors.Is(err, ErrOutOfRange) {
					t.Errorf("expected ErrOutOfRange, got %v", err)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
			},
		},
		{
			name:   "verify",
			scalar: true,
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				if err := r.WriteUint64(ctx, 7, Verify()); err != nil {
					t.Fatal(err)
				}
				if bus.reads != 1 || bus.writes != 1 {
					t.Errorf("unexpected primitive use: %+v", *bus)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus()
			top := newTestMap(t, bus.callbacks(tt.scalar, tt.block))
			r, err := NewRegReadWrite(top, RegisterSpec{Name: "r", Address: 0x20, Width: 32})
			if err != nil {
				t.Fatal(err)
			}
			tt.verify(t, r, bus)
		})
	}
}

func TestRegister_VerifyMismatch(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	cb := bus.callbacks(true, false)
	cb.Write = func(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error {
		// the hardware corrupts the value before it can be read back:
		return bus.write(ctx, addr, width, accessWidth, new(big.Int).Add(data, big.NewInt(1)))
	}
	top := newTestMap(t, cb)
	r, err := NewRegReadWrite(top, RegisterSpec{Name: "r", Address: 0x8, Width: 8})
	if err != nil {
		t.Fatal(err)
	}

	err = r.WriteUint64(ctx, 5, Verify())
	if !errors.Is(err, ErrWriteVerifyMismatch) {
		t.Fatalf("expected ErrWriteVerifyMismatch, got %v", err)
	}
	var verr *WriteVerifyError
	if !errors.As(err, &verr) {
		t.Fatalf("expected a *WriteVerifyError, got %T", err)
	}
	if verr.Written.Int64() != 5 || verr.ReadBack.Int64() != 6 || verr.Address != 0x8 {
		t.Errorf("unexpected verify error: %v", verr)
	}
}

func TestRegister_Transaction(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		verify func(t *testing.T, r *RegReadWrite, bus *testBus)
	}{
		{
			name: "one read one write",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				err := r.WriteFields(ctx, map[string]*big.Int{"lo": big.NewInt(3), "rev": big.NewInt(5)})
				if err != nil {
					t.Fatal(err)
				}
				if bus.reads != 1 || bus.writes != 1 {
					t.Errorf("unexpected primitive use: reads = %d, writes = %d", bus.reads, bus.writes)
				}
				// rev is msb0: 0b0101 lands as 0b1010.
				if actual, expected := bus.get(0x10).Uint64(), uint64(0xFFFF_0A03); actual != expected {
					t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
				if r.InTransaction() {
					t.Error("transaction still open")
				}
			},
		},
		{
			name: "fields inside scope",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				lo, _ := r.Field("lo")
				mode, _ := r.Field("mode")
				err := r.SingleReadModifyWrite(ctx, func() error {
					for i := uint64(0); i < 4; i++ {
						if err := lo.WriteUint64(ctx, i); err != nil {
							return err
						}
					}
					if err := mode.WriteEnum(ctx, "slow"); err != nil {
						return err
					}
					v, err := lo.ReadUint64(ctx)
					if err != nil {
						return err
					}
					if v != 3 {
						t.Errorf("cached read mismatch, actual = %d, expected = 3", v)
					}
					return nil
				})
				if err != nil {
					t.Fatal(err)
				}
				if bus.reads != 1 || bus.writes != 1 {
					t.Errorf("unexpected primitive use: reads = %d, writes = %d", bus.reads, bus.writes)
				}
				if actual, expected := bus.get(0x10).Uint64(), uint64(0xFFFF_1003); actual != expected {
					t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
			},
		},
		{
			name: "failed body writes nothing",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				lo, _ := r.Field("lo")
				boom := errors.New("boom")
				err := r.SingleReadModifyWrite(ctx, func() error {
					if err := lo.WriteUint64(ctx, 1); err != nil {
						return err
					}
					return boom
				})
				if !errors.Is(err, boom) {
					t.Errorf("expected body error, got %v", err)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if r.InTransaction() {
					t.Error("transaction still open")
				}
			},
		},
		{
			name: "panicking body writes nothing",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				func() {
					defer func() {
						if recover() == nil {
							t.Error("expected the panic to propagate")
						}
					}()
					_ = r.SingleReadModifyWrite(ctx, func() error {
						if err := r.WriteUint64(ctx, 0); err != nil {
							return err
						}
						panic("boom")
					})
				}()
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if r.InTransaction() {
					t.Error("transaction still open")
				}
			},
		},
		{
			name: "unknown field",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				err := r.WriteFields(ctx, map[string]*big.Int{"nope": big.NewInt(1)})
				if !errors.Is(err, ErrUnknownField) {
					t.Errorf("expected ErrUnknownField, got %v", err)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if err = r.WriteFields(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
			},
		},
		{
			name: "guard",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				txn, err := r.BeginReadModifyWrite(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if _, err = r.BeginReadModifyWrite(ctx); !errors.Is(err, ErrTransactionActive) {
					t.Errorf("expected ErrTransactionActive, got %v", err)
				}
				if err = r.WriteUint64(ctx, 0x42); err != nil {
					t.Fatal(err)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write before commit, count = %d", actual)
				}
				if err = txn.Commit(ctx); err != nil {
					t.Fatal(err)
				}
				txn.Abort()
				if err = txn.Commit(ctx); !errors.Is(err, ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument on second commit, got %v", err)
				}
				if actual, expected := bus.get(0x10).Uint64(), uint64(0x42); actual != expected {
					t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
				if bus.reads != 1 || bus.writes != 1 {
					t.Errorf("unexpected primitive use: reads = %d, writes = %d", bus.reads, bus.writes)
				}
			},
		},
		{
			name: "skip write",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				err := r.SingleReadModifyWrite(ctx, func() error {
					return r.WriteUint64(ctx, 0)
				}, SkipWrite())
				if err != nil {
					t.Fatal(err)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
			},
		},
		{
			name: "read fields",
			verify: func(t *testing.T, r *RegReadWrite, bus *testBus) {
				values, err := r.ReadFields(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if actual, expected := bus.reads, 1; actual != expected {
					t.Errorf("read count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if actual, expected := len(values), len(testFields); actual != expected {
					t.Errorf("field count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if actual, expected := values["bit"].Uint64(), uint64(1); actual != expected {
					t.Errorf("bit mismatch, actual = %d, expected = %d", actual, expected)
				}
				if actual, expected := bus.writes, 0; actual != expected {
					t.Errorf("write count mismatch, actual = %d, expected = %d", actual, expected)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus()
			bus.set(0x10, 0xFFFF_0000)
			r := newTestReg(t, bus)
			tt.verify(t, r, bus)
		})
	}
}

func TestRegReadOnly(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	bus.set(0x4, 0x00AB)
	top := newTestMap(t, bus.callbacks(true, false))
	r, err := NewRegReadOnly(top, RegisterSpec{Name: "status", Address: 0x4, Width: 16, Fields: []FieldSpec{
		{Name: "lo", Low: 0, High: 3, MSB: 3, LSB: 0},
		{Name: "hi", Low: 4, High: 7, MSB: 7, LSB: 4},
	}})
	if err != nil {
		t.Fatal(err)
	}

	lo, _ := r.Field("lo")
	hi, _ := r.Field("hi")
	err = r.SingleRead(ctx, func() error {
		a, err := lo.ReadUint64(ctx)
		if err != nil {
			return err
		}
		b, err := hi.ReadUint64(ctx)
		if err != nil {
			return err
		}
		if a != 0xB || b != 0xA {
			t.Errorf("field mismatch, lo = 0x%X hi = 0x%X", a, b)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := bus.reads, 1; actual != expected {
		t.Errorf("read count mismatch, actual = %d, expected = %d", actual, expected)
	}
	if lo.Writable() {
		t.Error("field of a read only register reported writable")
	}
	if err = lo.WriteUint64(ctx, 1); !errors.Is(err, ErrNotWritable) {
		t.Errorf("expected ErrNotWritable, got %v", err)
	}
	if _, ok := Node(r).(WritableRegister); ok {
		t.Error("read only register is writable")
	}
}

func TestRegWriteOnly(t *testing.T) {
	ctx := context.Background()
	bus := newTestBus()
	bus.set(0x4, 0xFFFF)
	top := newTestMap(t, bus.callbacks(true, false))
	r, err := NewRegWriteOnly(top, RegisterSpec{Name: "cmd", Address: 0x4, Width: 16, Fields: []FieldSpec{
		{Name: "op", Low: 0, High: 3, MSB: 3, LSB: 0},
		{Name: "arg", Low: 4, High: 7, MSB: 7, LSB: 4},
	}})
	if err != nil {
		t.Fatal(err)
	}

	op, _ := r.Field("op")
	if err = op.WriteUint64(ctx, 0x3); err != nil {
		t.Fatal(err)
	}
	// bits outside the field are zero filled:
	if actual, expected := bus.get(0x4).Uint64(), uint64(0x3); actual != expected {
		t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	if actual, expected := bus.reads, 0; actual != expected {
		t.Errorf("read count mismatch, actual = %d, expected = %d", actual, expected)
	}

	if err = r.WriteFields(ctx, map[string]*big.Int{"arg": big.NewInt(2)}); err != nil {
		t.Fatal(err)
	}
	if actual, expected := bus.get(0x4).Uint64(), uint64(0x20); actual != expected {
		t.Errorf("register value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}

	if err = r.WriteUint64(ctx, 1, Verify()); !errors.Is(err, ErrNotReadable) {
		t.Errorf("expected ErrNotReadable, got %v", err)
	}
	if _, err = op.Read(ctx); !errors.Is(err, ErrNotReadable) {
		t.Errorf("expected ErrNotReadable, got %v", err)
	}
	if actual, expected := len(r.WritableFields()), 2; actual != expected {
		t.Errorf("writable field count mismatch, actual = %d, expected = %d", actual, expected)
	}
}
