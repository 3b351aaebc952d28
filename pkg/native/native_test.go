package native

import (
	"bytes"
	"math"
	"testing"
)

func TestNativeInteger(t *testing.T) {
	t.Run("valueOf and intValue roundtrip", func(t *testing.T) {
		boxed := IntegerValueOf(42)
		got := IntegerIntValue(boxed)
		if got != 42 {
			t.Errorf("intValue(valueOf(42)): got %d, want 42", got)
		}
	})

	t.Run("valueOf preserves value", func(t *testing.T) {
		boxed := IntegerValueOf(-100)
		got := IntegerIntValue(boxed)
		if got != -100 {
			t.Errorf("intValue(valueOf(-100)): got %d, want -100", got)
		}
	})

	t.Run("different values are distinct", func(t *testing.T) {
		a := IntegerValueOf(10)
		b := IntegerValueOf(20)

		if IntegerIntValue(a) == IntegerIntValue(b) {
			t.Errorf("valueOf(10) and valueOf(20) should be different")
		}
	})
}

func TestBoxClassNames(t *testing.T) {
	tests := []struct {
		box  Box
		want string
	}{
		{BooleanValueOf(true), "java/lang/Boolean"},
		{ByteValueOf(1), "java/lang/Byte"},
		{CharacterValueOf('a'), "java/lang/Character"},
		{ShortValueOf(1), "java/lang/Short"},
		{IntegerValueOf(1), "java/lang/Integer"},
		{LongValueOf(1), "java/lang/Long"},
		{FloatValueOf(1), "java/lang/Float"},
		{DoubleValueOf(1), "java/lang/Double"},
		{&PrintStream{}, "java/io/PrintStream"},
	}
	for _, tt := range tests {
		if got := tt.box.ClassName(); got != tt.want {
			t.Errorf("%T: got %q, want %q", tt.box, got, tt.want)
		}
	}
}

func TestBoxString(t *testing.T) {
	tests := []struct {
		name string
		box  interface{ String() string }
		want string
	}{
		{"true", BooleanValueOf(true), "true"},
		{"char", CharacterValueOf('Z'), "Z"},
		{"negative byte", ByteValueOf(-3), "-3"},
		{"long", LongValueOf(1 << 40), "1099511627776"},
		// Java の Float.toString は整数値でも "2.0" を返す
		{"whole float", FloatValueOf(2), "2.0"},
		{"fractional double", DoubleValueOf(0.25), "0.25"},
		{"nan", DoubleValueOf(math.NaN()), "NaN"},
		{"negative infinity", FloatValueOf(float32(math.Inf(-1))), "-Infinity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.box.String(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintStream(t *testing.T) {
	var buf bytes.Buffer
	ps := &PrintStream{Writer: &buf}
	ps.Println("hello")
	ps.Println(IntegerValueOf(7))
	ps.Println()
	if got, want := buf.String(), "hello\n7\n\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
