package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/native"
)

// Box converts a primitive value of kind k into its wrapper object.
// References are returned unchanged.
func Box(v Value, k classfile.Kind) Value {
	switch k {
	case classfile.KindBoolean:
		return RefValue(native.BooleanValueOf(v.Int != 0))
	case classfile.KindByte:
		return RefValue(native.ByteValueOf(int8(v.Int)))
	case classfile.KindChar:
		return RefValue(native.CharacterValueOf(uint16(v.Int)))
	case classfile.KindShort:
		return RefValue(native.ShortValueOf(int16(v.Int)))
	case classfile.KindInt:
		return RefValue(native.IntegerValueOf(v.Int))
	case classfile.KindLong:
		return RefValue(native.LongValueOf(v.Long))
	case classfile.KindFloat:
		return RefValue(native.FloatValueOf(v.Float))
	case classfile.KindDouble:
		return RefValue(native.DoubleValueOf(v.Double))
	default:
		return v
	}
}

// Unbox extracts the primitive of kind k from its wrapper. The wrapper must
// be exactly the one for k; null and any other object are rejected.
func Unbox(v Value, k classfile.Kind) (Value, error) {
	if v.IsNull() {
		return Value{}, fmt.Errorf("%w: null cannot be unboxed as %s", ErrIllegalArgument, k)
	}
	switch b := v.Ref.(type) {
	case *native.NativeBoolean:
		if k == classfile.KindBoolean {
			if b.Value {
				return IntValue(1), nil
			}
			return IntValue(0), nil
		}
	case *native.NativeByte:
		if k == classfile.KindByte {
			return IntValue(int32(b.Value)), nil
		}
	case *native.NativeCharacter:
		if k == classfile.KindChar {
			return IntValue(int32(b.Value)), nil
		}
	case *native.NativeShort:
		if k == classfile.KindShort {
			return IntValue(int32(b.Value)), nil
		}
	case *native.NativeInteger:
		if k == classfile.KindInt {
			return IntValue(b.Value), nil
		}
	case *native.NativeLong:
		if k == classfile.KindLong {
			return LongValue(b.Value), nil
		}
	case *native.NativeFloat:
		if k == classfile.KindFloat {
			return FloatValue(b.Value), nil
		}
	case *native.NativeDouble:
		if k == classfile.KindDouble {
			return DoubleValue(b.Value), nil
		}
	}
	return Value{}, fmt.Errorf("%w: %s cannot be unboxed as %s", ErrIllegalArgument, classNameOf(v.Ref), k)
}

// stackType is the Value type that carries a primitive of kind k.
func stackType(k classfile.Kind) ValueType {
	switch k {
	case classfile.KindLong:
		return TypeLong
	case classfile.KindFloat:
		return TypeFloat
	case classfile.KindDouble:
		return TypeDouble
	default:
		return TypeInt
	}
}

// boxPrimitive boxes a value according to its own runtime type.
func boxPrimitive(v Value) Value {
	switch v.Type {
	case TypeInt:
		return Box(v, classfile.KindInt)
	case TypeLong:
		return Box(v, classfile.KindLong)
	case TypeFloat:
		return Box(v, classfile.KindFloat)
	case TypeDouble:
		return Box(v, classfile.KindDouble)
	default:
		return v
	}
}

// f2i converts with Java's saturating semantics.
func f2i(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(f)
	}
}

// f2l converts with Java's saturating semantics.
func f2l(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}

// javaString renders a reference the way String.valueOf(Object) does.
func (vm *VM) javaString(v Value) string {
	if v.IsNull() {
		return "null"
	}
	switch r := v.Ref.(type) {
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	}
	name := strings.ReplaceAll(classNameOf(v.Ref), "/", ".")
	return fmt.Sprintf("%s@%x", name, vm.identityHash(v.Ref))
}

// identityHash returns a stable per-VM hash for a reference. Strings hash
// by content as java.lang.String does.
func (vm *VM) identityHash(ref interface{}) int32 {
	if s, ok := ref.(string); ok {
		var h int32
		for _, c := range s {
			h = 31*h + int32(c)
		}
		return h
	}
	if !isComparable(ref) {
		return 0
	}
	if h, ok := vm.hashes[ref]; ok {
		return h
	}
	vm.nextHash++
	vm.hashes[ref] = vm.nextHash
	return vm.nextHash
}
