package ral

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// ArraySpec describes a fixed-dimension array of homogeneous nodes.
type ArraySpec struct {
	Name       string
	Address    uint64
	Stride     uint64 // bytes between consecutive elements
	Dimensions []int
}

// Selector picks indices along one axis of an array: either an Index or a Range.
type Selector interface {
	indices(dim int) ([]int, error)
}

// Index selects a single position along an axis.
type Index int

func (i Index) indices(dim int) ([]int, error) {
	if i < 0 || int(i) >= dim {
		return nil, fmt.Errorf("%w: index %d outside of dimension %d", ErrOutOfRange, int(i), dim)
	}
	return []int{int(i)}, nil
}

// Range selects [Start, Stop) with the given Step along an axis. Negative Start or Stop count
// back from the end of the axis and both are clamped to the axis; a zero Step means 1. A
// negative Step walks from Start down to, but excluding, Stop. The selected positions are the
// same either way and views always keep row-major order.
type Range struct {
	Start, Stop, Step int
}

// Span selects [start, stop) along an axis.
func Span(start, stop int) Range { return Range{Start: start, Stop: stop, Step: 1} }

// All selects every position along an axis.
func All() Range { return Range{Start: 0, Stop: math.MaxInt, Step: 1} }

func (r Range) indices(dim int) ([]int, error) {
	step := r.Step
	if step == 0 {
		step = 1
	}

	// lower and upper bound the clamped positions: [0, dim] walking up, [-1, dim-1] walking down.
	lower, upper := 0, dim
	if step < 0 {
		lower, upper = -1, dim-1
	}
	clamp := func(v int) int {
		if v < 0 {
			v += dim
		}
		if v < lower {
			return lower
		}
		if v > upper {
			return upper
		}
		return v
	}

	var out []int
	start, stop := clamp(r.Start), clamp(r.Stop)
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, i)
		}
	}
	return out, nil
}

// ArrayItem pairs an element with its multi-index.
type ArrayItem[T Node] struct {
	Index []int
	Elem  T
}

// Array is a fixed-dimension collection of nodes. Slicing returns a view that shares the
// elements and the address metadata of the array it came from.
type Array[T Node] struct {
	base
	address    uint64
	stride     uint64
	dimensions []int
	kind       Kind

	items  []ArrayItem[T] // row-major
	lookup map[string]int
}

type elementFactory[T Node] func(instName string, address uint64) (T, error)

func newArray[T Node](parent Container, spec ArraySpec, kind Kind, factory elementFactory[T]) (*Array[T], error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: array %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	if len(spec.Dimensions) == 0 {
		return nil, fmt.Errorf("%w: array %q has no dimensions", ErrInvalidArgument, spec.Name)
	}
	for _, d := range spec.Dimensions {
		if d <= 0 {
			return nil, fmt.Errorf("%w: array %q dimension %d must be positive", ErrInvalidArgument, spec.Name, d)
		}
	}
	if spec.Stride == 0 {
		return nil, fmt.Errorf("%w: array %q stride must be positive", ErrInvalidArgument, spec.Name)
	}

	b, err := newBase(parent, spec.Name, nil)
	if err != nil {
		return nil, err
	}

	a := &Array[T]{
		base:       b,
		address:    spec.Address,
		stride:     spec.Stride,
		dimensions: slices.Clone(spec.Dimensions),
		kind:       kind,
		lookup:     make(map[string]int),
	}

	err = forEachIndex(a.dimensions, func(index []int) error {
		addr := a.elementAddress(index)
		elem, err := factory(elementName(spec.Name, index), addr)
		if err != nil {
			return err
		}
		a.insert(ArrayItem[T]{Index: slices.Clone(index), Elem: elem})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err = parent.attach(a); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array[T]) insert(item ArrayItem[T]) {
	a.lookup[indexKey(item.Index)] = len(a.items)
	a.items = append(a.items, item)
}

// view builds a new array over the same address space holding only the items for which keep
// returns true.
func (a *Array[T]) view(keep func(index []int) bool) *Array[T] {
	v := &Array[T]{
		base:       a.base,
		address:    a.address,
		stride:     a.stride,
		dimensions: a.dimensions,
		kind:       a.kind,
		lookup:     make(map[string]int),
	}
	for _, item := range a.items {
		if keep(item.Index) {
			v.insert(item)
		}
	}
	return v
}

func forEachIndex(dimensions []int, fn func(index []int) error) error {
	index := make([]int, len(dimensions))
	total := 1
	for _, d := range dimensions {
		total *= d
	}
	for n := 0; n < total; n++ {
		// last axis varies fastest:
		rem := n
		for axis := len(dimensions) - 1; axis >= 0; axis-- {
			index[axis] = rem % dimensions[axis]
			rem /= dimensions[axis]
		}
		if err := fn(index); err != nil {
			return err
		}
	}
	return nil
}

func indexKey(index []int) string {
	parts := make([]string, len(index))
	for i, v := range index {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func elementName(name string, index []int) string {
	var sb strings.Builder
	sb.WriteString(name)
	for _, v := range index {
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(v))
		sb.WriteByte(']')
	}
	return sb.String()
}

// elementAddress is base + sum(i_j * stride * prod(dim_m for m > j)); index must be valid.
func (a *Array[T]) elementAddress(index []int) uint64 {
	addr := a.address
	for j, i := range index {
		span := a.stride
		for _, d := range a.dimensions[j+1:] {
			span *= uint64(d)
		}
		addr += uint64(i) * span
	}
	return addr
}

func (a *Array[T]) checkIndex(index []int) error {
	if len(index) != len(a.dimensions) {
		return fmt.Errorf("%w: %d indices given for a %d dimensional array", ErrInvalidArgument, len(index), len(a.dimensions))
	}
	for axis, i := range index {
		if i < 0 || i >= a.dimensions[axis] {
			return fmt.Errorf("%w: index %d outside of dimension %d (axis %d)", ErrOutOfRange, i, a.dimensions[axis], axis)
		}
	}
	return nil
}

// ElementAddress computes the address of the element at the given multi-index.
func (a *Array[T]) ElementAddress(index ...int) (uint64, error) {
	if err := a.checkIndex(index); err != nil {
		return 0, err
	}
	return a.elementAddress(index), nil
}

// Elem returns the element at the given multi-index.
func (a *Array[T]) Elem(index ...int) (T, error) {
	var zero T
	if err := a.checkIndex(index); err != nil {
		return zero, err
	}
	pos, ok := a.lookup[indexKey(index)]
	if !ok {
		return zero, fmt.Errorf("%w: index [%s] not in array %s", ErrOutOfRange, indexKey(index), a.FullInstName())
	}
	return a.items[pos].Elem, nil
}

// Slice returns a view restricted to the selected indices, one Selector per axis. Scalar and
// range selectors may be mixed.
func (a *Array[T]) Slice(sel ...Selector) (*Array[T], error) {
	if len(sel) != len(a.dimensions) {
		return nil, fmt.Errorf("%w: %d selectors given for a %d dimensional array", ErrInvalidArgument, len(sel), len(a.dimensions))
	}

	valid := make([]map[int]bool, len(sel))
	for axis, s := range sel {
		if s == nil {
			return nil, fmt.Errorf("%w: nil selector on axis %d", ErrInvalidArgument, axis)
		}
		indices, err := s.indices(a.dimensions[axis])
		if err != nil {
			return nil, err
		}
		valid[axis] = make(map[int]bool, len(indices))
		for _, i := range indices {
			valid[axis][i] = true
		}
	}

	return a.view(func(index []int) bool {
		for axis, i := range index {
			if !valid[axis][i] {
				return false
			}
		}
		return true
	}), nil
}

func (a *Array[T]) Len() int { return len(a.items) }

// Elements returns the elements in row-major order.
func (a *Array[T]) Elements() []T {
	out := make([]T, len(a.items))
	for i, item := range a.items {
		out[i] = item.Elem
	}
	return out
}

// Items returns the elements with their indices in row-major order.
func (a *Array[T]) Items() []ArrayItem[T] {
	out := make([]ArrayItem[T], len(a.items))
	copy(out, a.items)
	return out
}

func (a *Array[T]) nodes() []Node {
	out := make([]Node, len(a.items))
	for i, item := range a.items {
		out[i] = item.Elem
	}
	return out
}

func (a *Array[T]) Dimensions() []int      { return slices.Clone(a.dimensions) }
func (a *Array[T]) Stride() uint64         { return a.stride }
func (a *Array[T]) Address() uint64        { return a.address }
func (a *Array[T]) Kind() Kind             { return KindArray }
func (a *Array[T]) ElementKind() Kind      { return a.kind }
func (a *Array[T]) Callbacks() CallbackSet { return a.parentCallbacks() }

// Size is the address span of the full array, independent of any slicing.
func (a *Array[T]) Size() uint64 {
	n := uint64(1)
	for _, d := range a.dimensions {
		n *= uint64(d)
	}
	return n * a.stride
}
