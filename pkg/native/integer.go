package native

import "strconv"

// NativeByte represents a java.lang.Byte.
type NativeByte struct {
	Value int8
}

// ByteValueOf creates a NativeByte (boxing).
func ByteValueOf(v int8) *NativeByte {
	return &NativeByte{Value: v}
}

func (b *NativeByte) ClassName() string { return "java/lang/Byte" }
func (b *NativeByte) String() string    { return strconv.Itoa(int(b.Value)) }

// NativeShort represents a java.lang.Short.
type NativeShort struct {
	Value int16
}

// ShortValueOf creates a NativeShort (boxing).
func ShortValueOf(v int16) *NativeShort {
	return &NativeShort{Value: v}
}

func (s *NativeShort) ClassName() string { return "java/lang/Short" }
func (s *NativeShort) String() string    { return strconv.Itoa(int(s.Value)) }

// NativeInteger represents a java.lang.Integer.
type NativeInteger struct {
	Value int32
}

// IntegerValueOf creates a NativeInteger (boxing).
func IntegerValueOf(v int32) *NativeInteger {
	return &NativeInteger{Value: v}
}

// IntegerIntValue returns the int32 value of a NativeInteger (unboxing).
func IntegerIntValue(ni *NativeInteger) int32 {
	return ni.Value
}

func (i *NativeInteger) ClassName() string { return "java/lang/Integer" }
func (i *NativeInteger) String() string    { return strconv.Itoa(int(i.Value)) }

// NativeLong represents a java.lang.Long.
type NativeLong struct {
	Value int64
}

// LongValueOf creates a NativeLong (boxing).
func LongValueOf(v int64) *NativeLong {
	return &NativeLong{Value: v}
}

func (l *NativeLong) ClassName() string { return "java/lang/Long" }
func (l *NativeLong) String() string    { return strconv.FormatInt(l.Value, 10) }
