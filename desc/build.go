package desc

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hwreg/ral"
	"hwreg/ral/sim"
)

func (n *Node) access() ral.Access {
	a, _ := ParseAccess(n.Access)
	return a
}

func (n *Node) arraySpec(addr uint64) ral.ArraySpec {
	return ral.ArraySpec{Name: n.Name, Address: addr, Stride: n.stride(), Dimensions: n.Dimensions}
}

func (f Field) spec() ral.FieldSpec {
	access, _ := ParseAccess(f.Access)
	fs := ral.FieldSpec{
		Name:     f.Name,
		Low:      f.Low,
		High:     f.High,
		MSB:      f.High,
		LSB:      f.Low,
		Volatile: f.Volatile,
		Access:   access,
	}
	if f.MSB0 {
		fs.MSB, fs.LSB = f.Low, f.High
	}
	if f.Default != nil {
		fs.Default = new(big.Int).SetUint64(uint64(*f.Default))
	}
	if len(f.Enum) > 0 {
		fs.Enum = make(map[string]uint64, len(f.Enum))
		for name, v := range f.Enum {
			fs.Enum[name] = uint64(v)
		}
	}
	return fs
}

func (n *Node) registerSpec(addr uint64) ral.RegisterSpec {
	spec := ral.RegisterSpec{Name: n.Name, Address: addr, Width: n.Width, AccessWidth: n.AccessWidth}
	for _, f := range n.Fields {
		spec.Fields = append(spec.Fields, f.spec())
	}
	return spec
}

func (n *Node) memorySpec(addr uint64) ral.MemorySpec {
	return ral.MemorySpec{
		Name:        n.Name,
		Address:     addr,
		Entries:     uint64(n.Entries),
		Width:       n.Width,
		AccessWidth: n.AccessWidth,
		Access:      n.access(),
	}
}

// Build instantiates the ral hierarchy described by root on top of cb. The root offset is the
// absolute base address; every other offset is relative to its parent.
func Build(root *Node, cb ral.CallbackSet, logger *zap.Logger) (*ral.AddressMap, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	top, err := ral.NewAddressMap(cb, root.Name, uint64(root.Offset), logger)
	if err != nil {
		return nil, err
	}
	if err = buildChildren(top, top.Address(), root.Children); err != nil {
		return nil, err
	}
	return top, nil
}

func buildChildren(parent ral.Container, base uint64, children []*Node) error {
	for _, c := range children {
		if err := buildNode(parent, base+uint64(c.Offset), c); err != nil {
			return fmt.Errorf("%s: %w", parent.FullInstName(), err)
		}
	}
	return nil
}

func buildNode(parent ral.Container, addr uint64, n *Node) (err error) {
	array := len(n.Dimensions) > 0

	switch n.Type {
	case TypeAddrMap:
		pm, ok := parent.(*ral.AddressMap)
		if !ok {
			return invalid(n.Name, "addrmap below %s", parent.Kind())
		}
		if array {
			_, err = ral.NewAddressMapArray(pm, n.arraySpec(addr), func(m *ral.AddressMap) error {
				return buildChildren(m, m.Address(), n.Children)
			})
			return err
		}
		m, err := ral.NewChildAddressMap(pm, n.Name, addr)
		if err != nil {
			return err
		}
		return buildChildren(m, addr, n.Children)

	case TypeRegFile:
		if array {
			_, err = ral.NewRegFileArray(parent, n.arraySpec(addr), func(rf *ral.RegFile) error {
				return buildChildren(rf, rf.Address(), n.Children)
			})
			return err
		}
		rf, err := ral.NewRegFile(parent, n.Name, addr)
		if err != nil {
			return err
		}
		return buildChildren(rf, addr, n.Children)

	case TypeMem:
		pm, ok := parent.(*ral.AddressMap)
		if !ok {
			return invalid(n.Name, "mem below %s", parent.Kind())
		}
		if array {
			_, err = ral.NewMemoryArray(pm, n.arraySpec(addr), n.memorySpec(addr), func(m *ral.Memory) error {
				return buildChildren(m, m.Address(), n.Children)
			})
			return err
		}
		m, err := ral.NewMemory(pm, n.memorySpec(addr))
		if err != nil {
			return err
		}
		return buildChildren(m, addr, n.Children)

	case TypeReg:
		return buildRegister(parent, addr, n)
	}
	return invalid(n.Name, "unknown type %q", n.Type)
}

func buildRegister(parent ral.Container, addr uint64, n *Node) (err error) {
	spec := n.registerSpec(addr)
	if len(n.Dimensions) > 0 {
		as := n.arraySpec(addr)
		switch n.access() {
		case ral.ReadOnly:
			_, err = ral.NewRegReadOnlyArray(parent, as, spec)
		case ral.WriteOnly:
			_, err = ral.NewRegWriteOnlyArray(parent, as, spec)
		default:
			_, err = ral.NewRegReadWriteArray(parent, as, spec)
		}
		return
	}

	switch n.access() {
	case ral.ReadOnly:
		_, err = ral.NewRegReadOnly(parent, spec)
	case ral.WriteOnly:
		_, err = ral.NewRegWriteOnly(parent, spec)
	default:
		_, err = ral.NewRegReadWrite(parent, spec)
	}
	return
}

// BuildSimulator creates a simulator holding a register for every register element and a memory
// for every memory element of root. Registers placed inside a memory alias its words. The
// result has been validated for overlaps.
func BuildSimulator(root *Node, logger *zap.Logger) (*sim.Simulator, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	s := sim.New(logger)
	b := simBuilder{s: s}
	if err := b.children(root.Name, uint64(root.Offset), root.Children, nil, 0); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type simBuilder struct {
	s *sim.Simulator
}

func (b simBuilder) children(path string, base uint64, children []*Node, mem *sim.Memory, memBase uint64) error {
	for _, c := range children {
		if err := b.node(path+"."+c.Name, base+uint64(c.Offset), c, mem, memBase); err != nil {
			return err
		}
	}
	return nil
}

func (b simBuilder) node(path string, addr uint64, n *Node, mem *sim.Memory, memBase uint64) error {
	return forEachElement(n, addr, path, func(name string, addr uint64) error {
		switch n.Type {
		case TypeAddrMap, TypeRegFile:
			return b.children(name, addr, n.Children, mem, memBase)

		case TypeMem:
			m, err := sim.NewMemory(name, uint64(n.Entries), n.Width)
			if err != nil {
				return err
			}
			if err = b.s.AddMemory(addr, m); err != nil {
				return err
			}
			return b.children(name, addr, n.Children, m, addr)

		case TypeReg:
			access := n.access()
			def := sim.RegisterDefinition{
				Name:     name,
				Width:    n.Width,
				Readable: access != ral.WriteOnly,
				Writable: access != ral.ReadOnly,
			}
			for _, f := range n.Fields {
				fs := f.spec()
				def.Fields = append(def.Fields, sim.FieldDefinition{Name: fs.Name, Low: fs.Low, High: fs.High, MSB: fs.MSB, LSB: fs.LSB})
			}

			var r *sim.Register
			var err error
			if mem != nil {
				r, err = sim.NewMemoryRegister(def, mem, addr-memBase)
			} else {
				r, err = sim.NewRegister(def)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return b.s.AddRegister(addr, r)
		}
		return invalid(name, "unknown type %q", n.Type)
	})
}

// forEachElement calls fn once for a plain node and once per element, last axis fastest, for an
// array.
func forEachElement(n *Node, addr uint64, path string, fn func(name string, addr uint64) error) error {
	if len(n.Dimensions) == 0 {
		return fn(path, addr)
	}

	total := 1
	for _, d := range n.Dimensions {
		total *= d
	}
	stride := n.stride()
	index := make([]int, len(n.Dimensions))
	for linear := 0; linear < total; linear++ {
		rem := linear
		for axis := len(n.Dimensions) - 1; axis >= 0; axis-- {
			index[axis] = rem % n.Dimensions[axis]
			rem /= n.Dimensions[axis]
		}
		if err := fn(path+indexSuffix(index), addr+uint64(linear)*stride); err != nil {
			return err
		}
	}
	return nil
}

func indexSuffix(index []int) string {
	var sb strings.Builder
	for _, i := range index {
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte(']')
	}
	return sb.String()
}
