package classfile

import (
	"fmt"
	"strings"
)

// Kind is the type code of a descriptor. It is derived once when a
// descriptor is parsed and drives every box/unbox and load/store decision.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBoolean
	KindByte
	KindChar
	KindShort
	KindInt
	KindLong
	KindFloat
	KindDouble
	KindReference
)

var kindLetters = [...]byte{
	KindVoid:    'V',
	KindBoolean: 'Z',
	KindByte:    'B',
	KindChar:    'C',
	KindShort:   'S',
	KindInt:     'I',
	KindLong:    'J',
	KindFloat:   'F',
	KindDouble:  'D',
}

var kindNames = [...]string{
	KindVoid:      "void",
	KindBoolean:   "boolean",
	KindByte:      "byte",
	KindChar:      "char",
	KindShort:     "short",
	KindInt:       "int",
	KindLong:      "long",
	KindFloat:     "float",
	KindDouble:    "double",
	KindReference: "reference",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Wide reports whether values of this kind take two local/stack slots.
func (k Kind) Wide() bool { return k == KindLong || k == KindDouble }

// Slots is the number of local-variable or operand-stack slots a value uses.
func (k Kind) Slots() int {
	switch {
	case k == KindVoid:
		return 0
	case k.Wide():
		return 2
	default:
		return 1
	}
}

// Primitive reports whether k is one of the eight primitive value kinds.
func (k Kind) Primitive() bool { return k != KindVoid && k != KindReference }

// KindOf maps a single descriptor letter to its Kind.
func KindOf(c byte) (Kind, bool) {
	switch c {
	case 'L', '[':
		return KindReference, true
	}
	for k, l := range kindLetters {
		if l == c {
			return Kind(k), true
		}
	}
	return 0, false
}

// FieldType is one parsed type descriptor. Array types have Kind
// KindReference and a non-nil Elem; class types carry ClassName.
type FieldType struct {
	Kind      Kind
	ClassName string
	Elem      *FieldType
}

// IsArray reports whether the type is an array type.
func (t FieldType) IsArray() bool { return t.Elem != nil }

// Descriptor re-serializes the type.
func (t FieldType) Descriptor() string {
	var sb strings.Builder
	t.appendTo(&sb)
	return sb.String()
}

func (t FieldType) appendTo(sb *strings.Builder) {
	switch {
	case t.Elem != nil:
		sb.WriteByte('[')
		t.Elem.appendTo(sb)
	case t.Kind == KindReference:
		sb.WriteByte('L')
		sb.WriteString(t.ClassName)
		sb.WriteByte(';')
	default:
		sb.WriteByte(kindLetters[t.Kind])
	}
}

// InternalName returns the name used by CONSTANT_Class for checkcast and
// anewarray: the class name for L types, the full descriptor for arrays.
func (t FieldType) InternalName() string {
	if t.Elem != nil {
		return t.Descriptor()
	}
	return t.ClassName
}

// MethodDescriptor is a parsed "(P...)R" signature.
type MethodDescriptor struct {
	Params []FieldType
	Return FieldType
}

// String re-serializes the descriptor.
func (d MethodDescriptor) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for _, p := range d.Params {
		p.appendTo(&sb)
	}
	sb.WriteByte(')')
	d.Return.appendTo(&sb)
	return sb.String()
}

// ArgSlots is the local-variable footprint of the parameters, not counting
// the receiver.
func (d MethodDescriptor) ArgSlots() int {
	n := 0
	for _, p := range d.Params {
		n += p.Kind.Slots()
	}
	return n
}

// ParseFieldType parses a complete field descriptor.
func ParseFieldType(s string) (FieldType, error) {
	t, next, err := parseType(s, 0, false)
	if err != nil {
		return FieldType{}, err
	}
	if next != len(s) {
		return FieldType{}, fmt.Errorf("%w: trailing bytes in %q", ErrMalformedSignature, s)
	}
	return t, nil
}

// ParseMethodDescriptor parses a complete method descriptor.
func ParseMethodDescriptor(s string) (MethodDescriptor, error) {
	if len(s) == 0 || s[0] != '(' {
		return MethodDescriptor{}, fmt.Errorf("%w: %q does not start with '('", ErrMalformedSignature, s)
	}
	var d MethodDescriptor
	i := 1
	for {
		if i >= len(s) {
			return MethodDescriptor{}, fmt.Errorf("%w: missing ')' in %q", ErrMalformedSignature, s)
		}
		if s[i] == ')' {
			i++
			break
		}
		p, next, err := parseType(s, i, false)
		if err != nil {
			return MethodDescriptor{}, err
		}
		d.Params = append(d.Params, p)
		i = next
	}
	ret, next, err := parseType(s, i, true)
	if err != nil {
		return MethodDescriptor{}, err
	}
	if next != len(s) {
		return MethodDescriptor{}, fmt.Errorf("%w: trailing bytes in %q", ErrMalformedSignature, s)
	}
	d.Return = ret
	return d, nil
}

func parseType(s string, i int, allowVoid bool) (FieldType, int, error) {
	if i >= len(s) {
		return FieldType{}, i, fmt.Errorf("%w: unexpected end of %q", ErrMalformedSignature, s)
	}
	switch c := s[i]; c {
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return FieldType{}, i, fmt.Errorf("%w: unterminated class reference in %q", ErrMalformedSignature, s)
		}
		name := s[i+1 : i+end]
		if name == "" || strings.ContainsAny(name, ".[()") {
			return FieldType{}, i, fmt.Errorf("%w: bad class name %q in %q", ErrMalformedSignature, name, s)
		}
		return FieldType{Kind: KindReference, ClassName: name}, i + end + 1, nil
	case '[':
		elem, next, err := parseType(s, i+1, false)
		if err != nil {
			return FieldType{}, i, err
		}
		return FieldType{Kind: KindReference, Elem: &elem}, next, nil
	case 'V':
		if !allowVoid {
			return FieldType{}, i, fmt.Errorf("%w: void outside return position in %q", ErrMalformedSignature, s)
		}
		return FieldType{Kind: KindVoid}, i + 1, nil
	default:
		k, ok := KindOf(c)
		if !ok || k == KindReference {
			return FieldType{}, i, fmt.Errorf("%w: invalid type descriptor char '%c' in %q", ErrMalformedSignature, c, s)
		}
		return FieldType{Kind: k}, i + 1, nil
	}
}
