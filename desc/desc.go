// Package desc holds the elaborated register map description: the already resolved tree of
// address maps, register files, registers, fields and memories with their offsets, widths,
// dimensions and access types. Descriptions load from YAML or JSON and build either a ral
// hierarchy or a matching simulator.
package desc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"hwreg/ral"
)

// Integer is an unsigned value written in decimal, 0x hexadecimal or 0b binary, with optional _
// digit separators.
type Integer uint64

func parseInteger(s string) (uint64, error) {
	v := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
	switch {
	case strings.HasPrefix(v, "0x"):
		return strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	case strings.HasPrefix(v, "0b"):
		return strconv.ParseUint(strings.TrimPrefix(v, "0b"), 2, 64)
	default:
		return strconv.ParseUint(v, 10, 64)
	}
}

func (i *Integer) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected an integer", value.Line)
	}
	v, err := parseInteger(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*i = Integer(v)
	return nil
}

func (i *Integer) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := parseInteger(s)
	if err != nil {
		return err
	}
	*i = Integer(v)
	return nil
}

type Type string

const (
	TypeAddrMap Type = "addrmap"
	TypeRegFile Type = "regfile"
	TypeReg     Type = "reg"
	TypeMem     Type = "mem"
)

// Node is one element of the description tree. Offset is relative to the parent; for an
// element of an array it is the offset of element zero.
type Node struct {
	Type   Type    `yaml:"type" json:"type"`
	Name   string  `yaml:"name" json:"name"`
	Offset Integer `yaml:"offset" json:"offset"`

	// Dimensions makes the node an array. Stride defaults to the size of one element.
	Dimensions []int   `yaml:"dimensions,omitempty" json:"dimensions,omitempty"`
	Stride     Integer `yaml:"stride,omitempty" json:"stride,omitempty"`

	// reg and mem only:
	Width       uint   `yaml:"width,omitempty" json:"width,omitempty"`
	AccessWidth uint   `yaml:"accessWidth,omitempty" json:"accessWidth,omitempty"`
	Access      string `yaml:"access,omitempty" json:"access,omitempty"`

	// mem only:
	Entries Integer `yaml:"entries,omitempty" json:"entries,omitempty"`

	// reg only:
	Fields []Field `yaml:"fields,omitempty" json:"fields,omitempty"`

	Children []*Node `yaml:"children,omitempty" json:"children,omitempty"`
}

type Field struct {
	Name     string             `yaml:"name" json:"name"`
	Low      uint               `yaml:"low" json:"low"`
	High     uint               `yaml:"high" json:"high"`
	MSB0     bool               `yaml:"msb0,omitempty" json:"msb0,omitempty"`
	Access   string             `yaml:"access,omitempty" json:"access,omitempty"`
	Default  *Integer           `yaml:"default,omitempty" json:"default,omitempty"`
	Volatile bool               `yaml:"volatile,omitempty" json:"volatile,omitempty"`
	Enum     map[string]Integer `yaml:"enum,omitempty" json:"enum,omitempty"`
}

// ParseAccess maps rw, r and w (and the ro, wo, read-write, read-only, write-only spellings) to
// an Access. The empty string is read-write.
func ParseAccess(s string) (ral.Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rw", "read-write":
		return ral.ReadWrite, nil
	case "r", "ro", "read-only":
		return ral.ReadOnly, nil
	case "w", "wo", "write-only":
		return ral.WriteOnly, nil
	default:
		return ral.ReadWrite, fmt.Errorf("%w: unknown access %q", ral.ErrInvalidArgument, s)
	}
}

// Load reads a description file. Files ending in .json are JSON, anything else is YAML.
func Load(path string) (*Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(b)
	}
	return ParseYAML(b)
}

func ParseYAML(b []byte) (*Node, error) {
	root := &Node{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(root); err != nil {
		return nil, fmt.Errorf("desc: %w", err)
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	return root, nil
}

func ParseJSON(b []byte) (*Node, error) {
	root := &Node{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(root); err != nil {
		return nil, fmt.Errorf("desc: %w", err)
	}
	if err := Validate(root); err != nil {
		return nil, err
	}
	return root, nil
}

var allowedChildren = map[Type][]Type{
	TypeAddrMap: {TypeAddrMap, TypeRegFile, TypeReg, TypeMem},
	TypeRegFile: {TypeRegFile, TypeReg},
	TypeMem:     {TypeReg},
	TypeReg:     nil,
}

func invalid(path string, format string, args ...any) error {
	return fmt.Errorf("%w: desc: %s: %s", ral.ErrInvalidArgument, path, fmt.Sprintf(format, args...))
}

// Validate checks the structural rules the builders rely on: the root is an address map, node
// kinds nest legally, sibling names are unique, and registers inside a memory have the
// memory's width. Width rules of ral itself are left to the builders.
func Validate(root *Node) error {
	if root == nil {
		return invalid("", "empty description")
	}
	if root.Type != TypeAddrMap {
		return invalid(root.Name, "root must be an addrmap, got %q", root.Type)
	}
	if len(root.Dimensions) > 0 {
		return invalid(root.Name, "root can not be an array")
	}
	return validate(root, root.Name, nil)
}

func validate(n *Node, path string, parent *Node) error {
	if n.Name == "" {
		return invalid(path, "node without a name")
	}
	allowed, ok := allowedChildren[n.Type]
	if !ok {
		return invalid(path, "unknown type %q", n.Type)
	}
	for _, d := range n.Dimensions {
		if d <= 0 {
			return invalid(path, "dimension %d must be positive", d)
		}
	}
	if _, err := ParseAccess(n.Access); err != nil {
		return invalid(path, "unknown access %q", n.Access)
	}

	switch n.Type {
	case TypeReg:
		if n.Width == 0 {
			return invalid(path, "register without a width")
		}
		if parent != nil && parent.Type == TypeMem && n.Width != parent.Width {
			return invalid(path, "register width %d differs from memory width %d", n.Width, parent.Width)
		}
		if len(n.Children) > 0 {
			return invalid(path, "registers have fields, not children")
		}
		names := make(map[string]bool, len(n.Fields))
		for _, f := range n.Fields {
			if f.Name == "" {
				return invalid(path, "field without a name")
			}
			if names[f.Name] {
				return invalid(path+"."+f.Name, "duplicate field")
			}
			names[f.Name] = true
			if _, err := ParseAccess(f.Access); err != nil {
				return invalid(path+"."+f.Name, "unknown access %q", f.Access)
			}
		}
	case TypeMem:
		if n.Width == 0 {
			return invalid(path, "memory without a width")
		}
		if n.Entries == 0 {
			return invalid(path, "memory without entries")
		}
	}
	if n.Type != TypeReg && len(n.Fields) > 0 {
		return invalid(path, "only registers have fields")
	}

	names := make(map[string]bool, len(n.Children))
	for _, c := range n.Children {
		if c == nil {
			return invalid(path, "empty child")
		}
		cpath := path + "." + c.Name
		if names[c.Name] {
			return invalid(cpath, "duplicate name")
		}
		names[c.Name] = true
		if !typeIn(c.Type, allowed) {
			return invalid(cpath, "%s can not be placed in %s", c.Type, n.Type)
		}
		if err := validate(c, cpath, n); err != nil {
			return err
		}
	}
	return nil
}

func typeIn(t Type, list []Type) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

// ElementSize is the number of bytes one element of n spans: the register or memory size, or
// for containers the furthest end of any child.
func (n *Node) ElementSize() uint64 {
	switch n.Type {
	case TypeReg:
		return uint64(n.Width >> 3)
	case TypeMem:
		return uint64(n.Entries) * uint64(n.Width>>3)
	}
	var end uint64
	for _, c := range n.Children {
		if e := uint64(c.Offset) + c.Size(); e > end {
			end = e
		}
	}
	return end
}

// Size is the number of bytes n spans including all array elements.
func (n *Node) Size() uint64 {
	count := uint64(1)
	for _, d := range n.Dimensions {
		count *= uint64(d)
	}
	if count == 0 {
		return 0
	}
	return n.stride()*(count-1) + n.ElementSize()
}

func (n *Node) stride() uint64 {
	if n.Stride != 0 {
		return uint64(n.Stride)
	}
	return n.ElementSize()
}
