package classfile

import (
	"fmt"
	"math"
)

// maxPoolIndex is the largest usable constant pool index; constant_pool_count
// is a u2 and equals the last index plus one.
const maxPoolIndex = math.MaxUint16 - 1

type poolKey struct {
	tag  uint8
	text string
	a, b uint16
	i    int32
}

// PoolBuilder accumulates constant pool entries for a class being assembled.
// It is append-only: equal entries are deduplicated and keep their first index.
type PoolBuilder struct {
	entries []ConstantPoolEntry // 1-indexed; entries[0] is nil
	index   map[poolKey]uint16
}

// NewPoolBuilder creates an empty pool.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{
		entries: []ConstantPoolEntry{nil},
		index:   make(map[poolKey]uint16),
	}
}

func (p *PoolBuilder) add(key poolKey, entry ConstantPoolEntry) (uint16, error) {
	if idx, ok := p.index[key]; ok {
		return idx, nil
	}
	if len(p.entries) > maxPoolIndex {
		return 0, fmt.Errorf("%w: constant pool is full (%d entries)", ErrAssemblyOverflow, len(p.entries)-1)
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, entry)
	p.index[key] = idx
	return idx, nil
}

// AddUtf8 adds a CONSTANT_Utf8 entry.
func (p *PoolBuilder) AddUtf8(s string) (uint16, error) {
	if len(s) > math.MaxUint16 {
		return 0, fmt.Errorf("%w: Utf8 constant of %d bytes", ErrAssemblyOverflow, len(s))
	}
	return p.add(poolKey{tag: TagUtf8, text: s}, &ConstantUtf8{Value: s})
}

// AddInteger adds a CONSTANT_Integer entry.
func (p *PoolBuilder) AddInteger(v int32) (uint16, error) {
	return p.add(poolKey{tag: TagInteger, i: v}, &ConstantInteger{Value: v})
}

// AddClass adds a CONSTANT_Class entry (and its name).
func (p *PoolBuilder) AddClass(name string) (uint16, error) {
	nameIdx, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	return p.add(poolKey{tag: TagClass, a: nameIdx}, &ConstantClass{NameIndex: nameIdx})
}

// AddString adds a CONSTANT_String entry.
func (p *PoolBuilder) AddString(s string) (uint16, error) {
	utf, err := p.AddUtf8(s)
	if err != nil {
		return 0, err
	}
	return p.add(poolKey{tag: TagString, a: utf}, &ConstantString{StringIndex: utf})
}

// AddNameAndType adds a CONSTANT_NameAndType entry.
func (p *PoolBuilder) AddNameAndType(name, descriptor string) (uint16, error) {
	n, err := p.AddUtf8(name)
	if err != nil {
		return 0, err
	}
	d, err := p.AddUtf8(descriptor)
	if err != nil {
		return 0, err
	}
	return p.add(poolKey{tag: TagNameAndType, a: n, b: d}, &ConstantNameAndType{NameIndex: n, DescriptorIndex: d})
}

func (p *PoolBuilder) addMember(tag uint8, class, name, descriptor string) (uint16, error) {
	c, err := p.AddClass(class)
	if err != nil {
		return 0, err
	}
	nat, err := p.AddNameAndType(name, descriptor)
	if err != nil {
		return 0, err
	}
	return p.add(poolKey{tag: tag, a: c, b: nat}, pairEntry(tag, c, nat))
}

// AddFieldRef adds a CONSTANT_Fieldref entry.
func (p *PoolBuilder) AddFieldRef(class, name, descriptor string) (uint16, error) {
	return p.addMember(TagFieldref, class, name, descriptor)
}

// AddMethodRef adds a CONSTANT_Methodref entry.
func (p *PoolBuilder) AddMethodRef(class, name, descriptor string) (uint16, error) {
	return p.addMember(TagMethodref, class, name, descriptor)
}

// AddInterfaceMethodRef adds a CONSTANT_InterfaceMethodref entry.
func (p *PoolBuilder) AddInterfaceMethodRef(class, name, descriptor string) (uint16, error) {
	return p.addMember(TagInterfaceMethodref, class, name, descriptor)
}

// Len returns the number of entries (constant_pool_count - 1).
func (p *PoolBuilder) Len() int {
	return len(p.entries) - 1
}

// Entries returns the pool in the 1-indexed form produced by the parser.
func (p *PoolBuilder) Entries() []ConstantPoolEntry {
	out := make([]ConstantPoolEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// WriteTo serializes constant_pool_count followed by every entry.
func (p *PoolBuilder) WriteTo(w *Writer) {
	w.U16(uint16(len(p.entries)))
	for _, e := range p.entries[1:] {
		w.U8(e.Tag())
		switch c := e.(type) {
		case *ConstantUtf8:
			w.U16(uint16(len(c.Value)))
			w.Write([]byte(c.Value))
		case *ConstantInteger:
			w.U32(uint32(c.Value))
		case *ConstantClass:
			w.U16(c.NameIndex)
		case *ConstantString:
			w.U16(c.StringIndex)
		case *ConstantNameAndType:
			w.U16(c.NameIndex)
			w.U16(c.DescriptorIndex)
		case *ConstantFieldref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		case *ConstantMethodref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		case *ConstantInterfaceMethodref:
			w.U16(c.ClassIndex)
			w.U16(c.NameAndTypeIndex)
		}
	}
}
