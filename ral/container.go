package ral

import (
	"fmt"

	"go.uber.org/zap"
)

// Container is a node that owns named children: address maps, register files and memories.
type Container interface {
	Node
	// Child returns a direct child by its declared name.
	Child(name string) (Node, bool)
	// Children returns the direct children in declaration order.
	Children() []Node

	attach(child Node) error
}

// arrayed is implemented by Array so containers can check what an array holds.
type arrayed interface {
	ElementKind() Kind
	nodes() []Node
}

type container struct {
	node
	children []Node
	byName   map[string]Node
	allowed  []Kind
}

func newContainer(parent Node, instName string, address uint64, allowed ...Kind) (container, error) {
	n, err := newNode(parent, instName, address)
	if err != nil {
		return container{}, err
	}
	return container{node: n, byName: make(map[string]Node), allowed: allowed}, nil
}

func (c *container) attach(child Node) error {
	kind := child.Kind()
	if a, ok := child.(arrayed); ok {
		kind = a.ElementKind()
	}

	allowed := false
	for _, k := range c.allowed {
		if k == kind {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s can not hold a %s (%s)", ErrInvalidArgument, c.FullInstName(), kind, child.InstName())
	}

	if _, dup := c.byName[child.InstName()]; dup {
		return fmt.Errorf("%w: %s already has a child named %q", ErrInvalidArgument, c.FullInstName(), child.InstName())
	}
	c.byName[child.InstName()] = child
	c.children = append(c.children, child)
	return nil
}

func (c *container) Child(name string) (Node, bool) {
	child, ok := c.byName[name]
	return child, ok
}

func (c *container) Children() []Node {
	out := make([]Node, len(c.children))
	copy(out, c.children)
	return out
}

// Size spans from the container address to the end of its furthest child.
func (c *container) Size() uint64 {
	var end uint64
	for _, child := range c.children {
		if e := child.Address() + child.Size(); e > end {
			end = e
		}
	}
	if end <= c.address {
		return 0
	}
	return end - c.address
}

// collect returns the children matching pred; with unroll set arrays contribute their elements
// instead of themselves.
func (c *container) collect(unroll bool, pred func(n Node) bool) []Node {
	var out []Node
	for _, child := range c.children {
		a, isArray := child.(arrayed)
		if !isArray {
			if pred(child) {
				out = append(out, child)
			}
			continue
		}

		elems := a.nodes()
		if len(elems) == 0 || !pred(elems[0]) {
			continue
		}
		if unroll {
			out = append(out, elems...)
		} else {
			out = append(out, child)
		}
	}
	return out
}

func isSection(n Node) bool {
	return n.Kind() == KindAddressMap || n.Kind() == KindRegFile
}

func isReadableRegister(n Node) bool {
	_, ok := n.(ReadableRegister)
	return ok
}

func isWritableRegister(n Node) bool {
	_, ok := n.(WritableRegister)
	return ok
}

// Sections returns the address map and register file children.
func (c *container) Sections(unroll bool) []Node { return c.collect(unroll, isSection) }

func (c *container) ReadableRegisters(unroll bool) []Node {
	return c.collect(unroll, isReadableRegister)
}

func (c *container) WritableRegisters(unroll bool) []Node {
	return c.collect(unroll, isWritableRegister)
}

// AddressMap is a root or nested container owning a contiguous address region. Only the root
// address map holds a CallbackSet; everything below it uses the root's.
type AddressMap struct {
	container
	callbacks CallbackSet
	root      bool
}

// NewAddressMap creates the root of a hierarchy.
func NewAddressMap(callbacks CallbackSet, instName string, address uint64, logger *zap.Logger) (*AddressMap, error) {
	b, err := newBase(nil, instName, logger)
	if err != nil {
		return nil, err
	}
	return &AddressMap{
		container: container{
			node:    node{base: b, address: address},
			byName:  make(map[string]Node),
			allowed: addressMapChildren,
		},
		callbacks: callbacks,
		root:      true,
	}, nil
}

var addressMapChildren = []Kind{KindAddressMap, KindRegFile, KindMemory, KindRegister}

// NewChildAddressMap creates a nested address map and attaches it to parent.
func NewChildAddressMap(parent *AddressMap, instName string, address uint64) (*AddressMap, error) {
	m, err := newChildAddressMap(parent, instName, address)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(m); err != nil {
		return nil, err
	}
	return m, nil
}

func newChildAddressMap(parent Container, instName string, address uint64) (*AddressMap, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: nested address map %q needs a parent", ErrInvalidArgument, instName)
	}
	c, err := newContainer(parent, instName, address, addressMapChildren...)
	if err != nil {
		return nil, err
	}
	return &AddressMap{container: c}, nil
}

func (m *AddressMap) Kind() Kind { return KindAddressMap }

func (m *AddressMap) Callbacks() CallbackSet {
	if m.root {
		return m.callbacks
	}
	return m.parentCallbacks()
}

// Memories returns the memory children.
func (m *AddressMap) Memories(unroll bool) []Node {
	return m.collect(unroll, func(n Node) bool { return n.Kind() == KindMemory })
}

// RegFile groups registers and nested register files; it has no storage of its own.
type RegFile struct {
	container
}

var regFileChildren = []Kind{KindRegFile, KindRegister}

// NewRegFile creates a register file below an address map or another register file.
func NewRegFile(parent Container, instName string, address uint64) (*RegFile, error) {
	rf, err := newRegFile(parent, instName, address)
	if err != nil {
		return nil, err
	}
	if err = parent.attach(rf); err != nil {
		return nil, err
	}
	return rf, nil
}

func newRegFile(parent Container, instName string, address uint64) (*RegFile, error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: register file %q needs a parent", ErrInvalidArgument, instName)
	}
	c, err := newContainer(parent, instName, address, regFileChildren...)
	if err != nil {
		return nil, err
	}
	return &RegFile{container: c}, nil
}

func (rf *RegFile) Kind() Kind { return KindRegFile }

// NewAddressMapArray creates an array of nested address maps. init, when set, populates each
// element.
func NewAddressMapArray(parent *AddressMap, spec ArraySpec, init func(m *AddressMap) error) (*Array[*AddressMap], error) {
	if parent == nil {
		return nil, fmt.Errorf("%w: address map array %q needs a parent", ErrInvalidArgument, spec.Name)
	}
	return newArray[*AddressMap](parent, spec, KindAddressMap, func(instName string, address uint64) (*AddressMap, error) {
		m, err := newChildAddressMap(parent, instName, address)
		if err != nil {
			return nil, err
		}
		if init != nil {
			if err = init(m); err != nil {
				return nil, err
			}
		}
		return m, nil
	})
}

// NewRegFileArray creates an array of register files. init, when set, populates each element.
func NewRegFileArray(parent Container, spec ArraySpec, init func(rf *RegFile) error) (*Array[*RegFile], error) {
	return newArray[*RegFile](parent, spec, KindRegFile, func(instName string, address uint64) (*RegFile, error) {
		rf, err := newRegFile(parent, instName, address)
		if err != nil {
			return nil, err
		}
		if init != nil {
			if err = init(rf); err != nil {
				return nil, err
			}
		}
		return rf, nil
	})
}
