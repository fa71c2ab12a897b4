package ral

import (
	"context"
	"math/big"
	"testing"

	"go.uber.org/zap/zaptest"
)

// testBus is a word store counting every primitive call made against it.
type testBus struct {
	words map[uint64]*big.Int

	reads, writes           int
	blockReads, blockWrites int
	accessed                []uint64
}

func newTestBus() *testBus {
	return &testBus{words: make(map[uint64]*big.Int)}
}

func (b *testBus) get(addr uint64) *big.Int {
	if v, ok := b.words[addr]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *testBus) set(addr uint64, v uint64) { b.words[addr] = new(big.Int).SetUint64(v) }

func (b *testBus) read(_ context.Context, addr uint64, _, _ uint) (*big.Int, error) {
	b.reads++
	b.accessed = append(b.accessed, addr)
	return b.get(addr), nil
}

func (b *testBus) write(_ context.Context, addr uint64, _, _ uint, data *big.Int) error {
	b.writes++
	b.accessed = append(b.accessed, addr)
	b.words[addr] = new(big.Int).Set(data)
	return nil
}

func (b *testBus) readBlock(_ context.Context, addr uint64, width, _ uint, count int) ([]*big.Int, error) {
	b.blockReads++
	out := make([]*big.Int, count)
	for i := range out {
		out[i] = b.get(addr + uint64(i)*uint64(width>>3))
	}
	return out, nil
}

func (b *testBus) writeBlock(_ context.Context, addr uint64, width, _ uint, data []*big.Int) error {
	b.blockWrites++
	for i, v := range data {
		b.words[addr+uint64(i)*uint64(width>>3)] = new(big.Int).Set(v)
	}
	return nil
}

func (b *testBus) callbacks(scalar, block bool) CallbackSet {
	var cb CallbackSet
	if scalar {
		cb.Read, cb.Write = b.read, b.write
	}
	if block {
		cb.ReadBlock, cb.WriteBlock = b.readBlock, b.writeBlock
	}
	return cb
}

func newTestMap(t *testing.T, cb CallbackSet) *AddressMap {
	t.Helper()
	m, err := NewAddressMap(cb, "top", 0, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func big64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
