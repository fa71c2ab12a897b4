//go:build unix

// Package mmap reaches registers through a memory mapped file, typically /dev/mem or a UIO
// device. Registers are composed of single access width sized loads and stores in host byte
// order, lowest address first.
package mmap

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"hwreg/bus"
	"hwreg/ral"
	"hwreg/util"
	"hwreg/util/env"
)

const driverName = "mmap"

type Driver struct{}

func (d *Driver) Description() string {
	return "memory mapped file; target is path?offset=&size=&base= (offset page aligned, base is the bus address of the first mapped byte)"
}

type target struct {
	path   string
	offset uint64
	size   uint64
	base   uint64
}

func parseTarget(s string) (t target, err error) {
	path, query, _ := strings.Cut(s, "?")
	if path == "" {
		return t, fmt.Errorf("%w: mmap: missing path", ral.ErrInvalidArgument)
	}
	t.path = path

	values, err := url.ParseQuery(query)
	if err != nil {
		return t, fmt.Errorf("%w: mmap: %v", ral.ErrInvalidArgument, err)
	}
	for key, dst := range map[string]*uint64{"offset": &t.offset, "size": &t.size, "base": &t.base} {
		v := values.Get(key)
		if v == "" {
			continue
		}
		if *dst, err = strconv.ParseUint(v, 0, 64); err != nil {
			return t, fmt.Errorf("%w: mmap: bad %s %q", ral.ErrInvalidArgument, key, v)
		}
	}
	return t, nil
}

func (d *Driver) Open(ctx context.Context, s string, logger *zap.Logger) (bus.Conn, error) {
	t, err := parseTarget(s)
	if err != nil {
		return nil, err
	}
	if t.offset%uint64(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("%w: mmap: offset 0x%X is not page aligned", ral.ErrInvalidArgument, t.offset)
	}

	f, err := os.OpenFile(t.path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: failed to open %s: %w", t.path, err)
	}
	defer f.Close()

	if t.size == 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if fi.Size() <= int64(t.offset) {
			return nil, fmt.Errorf("%w: mmap: no size given and %s has nothing past the offset", ral.ErrInvalidArgument, t.path)
		}
		t.size = uint64(fi.Size()) - t.offset
	}

	mem, err := unix.Mmap(int(f.Fd()), int64(t.offset), int(t.size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: failed to map %s: %w", t.path, err)
	}
	logger.Info("mapped",
		zap.String("path", t.path),
		zap.Uint64("offset", t.offset),
		zap.Uint64("size", t.size),
		zap.Uint64("base", t.base),
	)
	return &Region{base: t.base, mem: mem}, nil
}

// Region is a mapped window of the bus starting at bus address base.
type Region struct {
	base uint64
	mem  []byte

	// onAccess, when set, sees the mapping offset of every load and store in issue order.
	onAccess func(write bool, off uint64, accessWidth uint)
}

func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	return err
}

// offset translates a bus address range into the mapping.
func (r *Region) offset(addr uint64, width, accessWidth uint) (uint64, error) {
	if r.mem == nil {
		return 0, fmt.Errorf("%w: mmap: region is closed", ral.ErrUnconfigured)
	}
	switch accessWidth {
	case 8, 16, 32, 64:
	default:
		return 0, fmt.Errorf("%w: mmap: access width %d", ral.ErrInvalidArgument, accessWidth)
	}
	if width == 0 || width%accessWidth != 0 {
		return 0, fmt.Errorf("%w: mmap: width %d is not a multiple of access width %d", ral.ErrInvalidArgument, width, accessWidth)
	}
	if addr%uint64(accessWidth>>3) != 0 {
		return 0, fmt.Errorf("%w: mmap: address 0x%X is not aligned to %d bits", ral.ErrInvalidArgument, addr, accessWidth)
	}
	n := uint64(width >> 3)
	if addr < r.base || addr-r.base+n > uint64(len(r.mem)) {
		return 0, fmt.Errorf("%w: mmap: [0x%X, 0x%X) outside of the mapped window", ral.ErrOutOfRange, addr, addr+n)
	}
	return addr - r.base, nil
}

// load performs exactly one accessWidth sized load. off is aligned to accessWidth and the
// mapping is page aligned, so the pointer is naturally aligned for the atomic forms.
func (r *Region) load(off uint64, accessWidth uint) uint64 {
	if r.onAccess != nil {
		r.onAccess(false, off, accessWidth)
	}
	p := unsafe.Pointer(&r.mem[off])
	switch accessWidth {
	case 8:
		return uint64(*(*uint8)(p))
	case 16:
		return uint64(*(*uint16)(p))
	case 32:
		return uint64(atomic.LoadUint32((*uint32)(p)))
	default:
		return atomic.LoadUint64((*uint64)(p))
	}
}

// store performs exactly one accessWidth sized store.
func (r *Region) store(off uint64, accessWidth uint, v uint64) {
	if r.onAccess != nil {
		r.onAccess(true, off, accessWidth)
	}
	p := unsafe.Pointer(&r.mem[off])
	switch accessWidth {
	case 8:
		*(*uint8)(p) = uint8(v)
	case 16:
		*(*uint16)(p) = uint16(v)
	case 32:
		atomic.StoreUint32((*uint32)(p), uint32(v))
	default:
		atomic.StoreUint64((*uint64)(p), v)
	}
}

func (r *Region) Read(ctx context.Context, addr uint64, width, accessWidth uint) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	off, err := r.offset(addr, width, accessWidth)
	if err != nil {
		return nil, err
	}
	v := new(big.Int)
	word := new(big.Int)
	step := uint64(accessWidth >> 3)
	for i := uint(0); i < width/accessWidth; i++ {
		word.SetUint64(r.load(off+uint64(i)*step, accessWidth))
		v.Or(v, word.Lsh(word, i*accessWidth))
	}
	return v, nil
}

func (r *Region) Write(ctx context.Context, addr uint64, width, accessWidth uint, data *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := r.offset(addr, width, accessWidth)
	if err != nil {
		return err
	}
	if data.Sign() < 0 || data.BitLen() > int(width) {
		return fmt.Errorf("%w: mmap: 0x%X does not fit in %d bits", ral.ErrOutOfRange, data, width)
	}
	mask := new(big.Int).SetUint64(^uint64(0) >> (64 - accessWidth))
	v := new(big.Int).Set(data)
	step := uint64(accessWidth >> 3)
	for i := uint64(0); i < uint64(width/accessWidth); i++ {
		r.store(off+i*step, accessWidth, new(big.Int).And(v, mask).Uint64())
		v.Rsh(v, accessWidth)
	}
	return nil
}

func (r *Region) Callbacks() ral.CallbackSet {
	return ral.CallbackSet{Read: r.Read, Write: r.Write}
}

func init() {
	if util.IsTruthy(env.GetOrDefault("HWREG_MMAP_DISABLE", "0")) {
		return
	}
	bus.Register(driverName, &Driver{})
}
