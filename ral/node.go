package ral

import (
	"fmt"

	"go.uber.org/zap"
)

type Kind int

const (
	KindAddressMap Kind = iota
	KindRegFile
	KindMemory
	KindRegister
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindAddressMap:
		return "addrmap"
	case KindRegFile:
		return "regfile"
	case KindMemory:
		return "mem"
	case KindRegister:
		return "reg"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Node is anything in the hierarchy that occupies address space.
type Node interface {
	// InstName is the name of the instance within its parent.
	InstName() string
	// FullInstName is the dotted hierarchical name from the root address map.
	FullInstName() string
	Address() uint64
	// Size is the number of bytes of address space the node occupies.
	Size() uint64
	// Parent is nil only for the root address map.
	Parent() Node
	Kind() Kind
	Callbacks() CallbackSet
	Logger() *zap.Logger
}

// base is shared by nodes and fields. The parent reference is a non-owning back reference and
// never changes after construction.
type base struct {
	logger   *zap.Logger
	instName string
	parent   Node
}

func newBase(parent Node, instName string, logger *zap.Logger) (base, error) {
	if instName == "" {
		return base{}, fmt.Errorf("%w: instance name must not be empty", ErrInvalidArgument)
	}

	if logger == nil {
		if parent != nil {
			logger = parent.Logger()
		} else {
			logger = zap.NewNop()
		}
	}

	b := base{
		logger:   logger.Named(instName),
		instName: instName,
		parent:   parent,
	}
	b.logger.Debug("creating instance")
	return b, nil
}

func (b *base) InstName() string    { return b.instName }
func (b *base) Parent() Node        { return b.parent }
func (b *base) Logger() *zap.Logger { return b.logger }

func (b *base) FullInstName() string {
	if b.parent != nil {
		return b.parent.FullInstName() + "." + b.instName
	}
	return b.instName
}

// parentCallbacks walks up to the owning address map.
func (b *base) parentCallbacks() CallbackSet {
	if b.parent == nil {
		return CallbackSet{}
	}
	return b.parent.Callbacks()
}

type node struct {
	base
	address uint64
}

func newNode(parent Node, instName string, address uint64) (node, error) {
	b, err := newBase(parent, instName, nil)
	if err != nil {
		return node{}, err
	}
	return node{base: b, address: address}, nil
}

func (n *node) Address() uint64        { return n.address }
func (n *node) Callbacks() CallbackSet { return n.parentCallbacks() }
