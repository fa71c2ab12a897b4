package sim

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"hwreg/ral"
)

func newTestSim(t *testing.T) (*Simulator, *Register, *Memory) {
	t.Helper()
	s := New(zaptest.NewLogger(t))

	r, err := NewRegister(RegisterDefinition{Name: "ctrl", Width: 32, Readable: true, Writable: true, Fields: []FieldDefinition{
		{Name: "en", Low: 0, High: 0, MSB: 0, LSB: 0},
		{Name: "rev", Low: 4, High: 7, MSB: 4, LSB: 7},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.AddRegister(0x10, r); err != nil {
		t.Fatal(err)
	}

	m, err := NewMemory("buf", 16, 32)
	if err != nil {
		t.Fatal(err)
	}
	if err = s.AddMemory(0x1000, m); err != nil {
		t.Fatal(err)
	}
	if err = s.Validate(); err != nil {
		t.Fatal(err)
	}
	return s, r, m
}

func TestSimulator_RoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, width := range []uint{8, 16, 32, 64, 128, 2048} {
		s := New(zaptest.NewLogger(t))
		sr, err := NewRegister(RegisterDefinition{Name: "r", Width: width, Readable: true, Writable: true})
		if err != nil {
			t.Fatal(err)
		}
		if err = s.AddRegister(0x40, sr); err != nil {
			t.Fatal(err)
		}

		top, err := ral.NewAddressMap(s.Callbacks(), "top", 0, zaptest.NewLogger(t))
		if err != nil {
			t.Fatal(err)
		}
		r, err := ral.NewRegReadWrite(top, ral.RegisterSpec{Name: "r", Address: 0x40, Width: width})
		if err != nil {
			t.Fatal(err)
		}

		max := r.MaxValue()
		half := new(big.Int).Rsh(max, 1)
		for _, v := range []*big.Int{big.NewInt(0), big.NewInt(1), half, max} {
			if err = r.Write(ctx, v); err != nil {
				t.Fatal(err)
			}
			got, err := r.Read(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got.Cmp(v) != 0 {
				t.Errorf("width %d: read 0x%X after writing 0x%X", width, got, v)
			}
		}
	}
}

func TestSimulator_VerifyFailure(t *testing.T) {
	ctx := context.Background()
	s, sr, _ := newTestSim(t)

	sr.OnWrite(func(value *big.Int) {
		if value.Int64() == 5 {
			_ = sr.SetValue(big.NewInt(6))
		}
	})

	top, err := ral.NewAddressMap(s.Callbacks(), "top", 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	r, err := ral.NewRegReadWrite(top, ral.RegisterSpec{Name: "ctrl", Address: 0x10, Width: 32})
	if err != nil {
		t.Fatal(err)
	}

	if err = r.WriteUint64(ctx, 5, ral.Verify()); !errors.Is(err, ral.ErrWriteVerifyMismatch) {
		t.Errorf("expected ErrWriteVerifyMismatch, got %v", err)
	}
	if err = r.WriteUint64(ctx, 7, ral.Verify()); err != nil {
		t.Errorf("unexpected verify failure: %v", err)
	}
}

func TestSimulator_Hooks(t *testing.T) {
	ctx := context.Background()
	s, sr, _ := newTestSim(t)

	var regWrites []uint64
	var revReads []uint64
	sr.OnWrite(func(value *big.Int) { regWrites = append(regWrites, value.Uint64()) })
	rev, ok := sr.Field("rev")
	if !ok {
		t.Fatal("rev missing")
	}
	rev.OnRead(func(value *big.Int) { revReads = append(revReads, value.Uint64()) })

	if err := s.Write(ctx, 0x10, 32, 32, big.NewInt(0x11)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(ctx, 0x10, 32, 32); err != nil {
		t.Fatal(err)
	}
	if actual, expected := len(regWrites), 1; actual != expected {
		t.Fatalf("write hook count mismatch, actual = %d, expected = %d", actual, expected)
	}
	if actual, expected := regWrites[0], uint64(0x11); actual != expected {
		t.Errorf("write hook value mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
	}
	// rev is msb0 over bits [4:7]: 0b0001 reads as 0b1000.
	if actual, expected := revReads, []uint64{0x8}; len(actual) != 1 || actual[0] != expected[0] {
		t.Errorf("field hook mismatch, actual = %v, expected = %v", actual, expected)
	}

	// side channel access fires no hooks:
	if err := sr.SetValue(big.NewInt(3)); err != nil {
		t.Fatal(err)
	}
	if actual, expected := sr.Value().Uint64(), uint64(3); actual != expected {
		t.Errorf("value mismatch, actual = %d, expected = %d", actual, expected)
	}
	if actual, expected := len(regWrites), 1; actual != expected {
		t.Errorf("write hook count mismatch, actual = %d, expected = %d", actual, expected)
	}
}

func TestSimulator_UnmappedLogged(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core))

	if _, err := s.Read(ctx, 0x500, 32, 32); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, 0x504, 32, 32, big.NewInt(1)); err != nil {
		t.Fatal(err)
	}

	entries := logs.FilterMessage("read of unmapped address returns zero").FilterField(zap.Uint64("address", 0x500)).All()
	if actual, expected := len(entries), 1; actual != expected {
		t.Fatalf("read log count mismatch, actual = %d, expected = %d", actual, expected)
	}
	if actual, expected := entries[0].Level, zapcore.DebugLevel; actual != expected {
		t.Errorf("level mismatch, actual = %v, expected = %v", actual, expected)
	}
	if actual, expected := logs.FilterMessage("write to unmapped address dropped").FilterField(zap.Uint64("address", 0x504)).Len(), 1; actual != expected {
		t.Errorf("write log count mismatch, actual = %d, expected = %d", actual, expected)
	}
}

func TestSimulator_Resolve(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		verify func(t *testing.T, s *Simulator, m *Memory)
	}{
		{
			name: "unmapped reads zero",
			verify: func(t *testing.T, s *Simulator, m *Memory) {
				if err := s.Write(ctx, 0x500, 32, 32, big.NewInt(9)); err != nil {
					t.Fatal(err)
				}
				v, err := s.Read(ctx, 0x500, 32, 32)
				if err != nil {
					t.Fatal(err)
				}
				if v.Sign() != 0 {
					t.Errorf("expected zero, got 0x%X", v)
				}
			},
		},
		{
			name: "memory word offset",
			verify: func(t *testing.T, s *Simulator, m *Memory) {
				if err := s.Write(ctx, 0x1008, 32, 32, big.NewInt(0xAA)); err != nil {
					t.Fatal(err)
				}
				if actual, expected := m.Value()[2], uint64(0xAA); actual != expected {
					t.Errorf("word mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
			},
		},
		{
			name: "block decomposed",
			verify: func(t *testing.T, s *Simulator, m *Memory) {
				data := []*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
				if err := s.WriteBlock(ctx, 0x103C-8, 32, 32, data); err != nil {
					t.Fatal(err)
				}
				vs, err := s.ReadBlock(ctx, 0x1034, 32, 32, 4)
				if err != nil {
					t.Fatal(err)
				}
				// the fourth word is past the end of the memory:
				for i, expected := range []int64{1, 2, 3, 0} {
					if actual := vs[i].Int64(); actual != expected {
						t.Errorf("word %d mismatch, actual = %d, expected = %d", i, actual, expected)
					}
				}
			},
		},
		{
			name: "memory register takes priority",
			verify: func(t *testing.T, s *Simulator, m *Memory) {
				var hits int
				mr, err := NewMemoryRegister(RegisterDefinition{Name: "head", Width: 32, Readable: true, Writable: true}, m, 4)
				if err != nil {
					t.Fatal(err)
				}
				mr.OnRead(func(*big.Int) { hits++ })
				if err = s.AddRegister(0x1004, mr); err != nil {
					t.Fatal(err)
				}
				if err = s.Validate(); err != nil {
					t.Fatalf("memory register should not conflict with its memory: %v", err)
				}
				if err = s.Write(ctx, 0x1004, 32, 32, big.NewInt(0x77)); err != nil {
					t.Fatal(err)
				}
				if _, err = s.Read(ctx, 0x1004, 32, 32); err != nil {
					t.Fatal(err)
				}
				if actual, expected := hits, 1; actual != expected {
					t.Errorf("register hook count mismatch, actual = %d, expected = %d", actual, expected)
				}
				if actual, expected := m.Value()[1], uint64(0x77); actual != expected {
					t.Errorf("aliased word mismatch, actual = 0x%X, expected = 0x%X", actual, expected)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, m := newTestSim(t)
			tt.verify(t, s, m)
		})
	}
}

func TestSimulator_Conflicts(t *testing.T) {
	s, _, _ := newTestSim(t)

	other, _ := NewMemory("other", 4, 32)
	if err := s.AddMemory(0x1030, other); err != nil {
		t.Fatal(err)
	}
	plain, _ := NewRegister(RegisterDefinition{Name: "plain", Width: 32})
	if err := s.AddRegister(0x1000, plain); err != nil {
		t.Fatal(err)
	}
	wide, _ := NewRegister(RegisterDefinition{Name: "wide", Width: 64})
	if err := s.AddRegister(0x0C, wide); err != nil {
		t.Fatal(err)
	}

	err := s.Validate()
	if !errors.Is(err, ral.ErrConfigurationConflict) {
		t.Fatalf("expected ErrConfigurationConflict, got %v", err)
	}
	if actual, expected := len(multierr.Errors(err)), 3; actual != expected {
		t.Errorf("conflict count mismatch, actual = %d, expected = %d: %v", actual, expected, err)
	}

	dup, _ := NewRegister(RegisterDefinition{Name: "dup", Width: 32})
	if err = s.AddRegister(0x10, dup); !errors.Is(err, ral.ErrConfigurationConflict) {
		t.Errorf("expected ErrConfigurationConflict, got %v", err)
	}
}

func TestSimulator_Async(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestSim(t)

	top, err := ral.NewAddressMap(s.AsyncCallbacks().Blocking(), "top", 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	r, err := ral.NewRegReadWrite(top, ral.RegisterSpec{Name: "ctrl", Address: 0x10, Width: 32, Fields: []ral.FieldSpec{
		{Name: "en", Low: 0, High: 0, MSB: 0, LSB: 0},
	}})
	if err != nil {
		t.Fatal(err)
	}
	m, err := ral.NewMemory(top, ral.MemorySpec{Name: "buf", Address: 0x1000, Entries: 16, Width: 32})
	if err != nil {
		t.Fatal(err)
	}

	en, _ := r.Field("en")
	if err = en.WriteUint64(ctx, 1); err != nil {
		t.Fatal(err)
	}
	v, err := r.ReadUint64(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := v, uint64(1); actual != expected {
		t.Errorf("register mismatch, actual = %d, expected = %d", actual, expected)
	}

	if err = m.Write(ctx, 14, []uint64{5, 6}); err != nil {
		t.Fatal(err)
	}
	words, err := m.Read(ctx, 13, 3)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != 0 || words[1] != 5 || words[2] != 6 {
		t.Errorf("memory mismatch: %v", words)
	}
}
