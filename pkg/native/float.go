package native

import (
	"math"
	"strconv"
	"strings"
)

// NativeFloat represents a java.lang.Float.
type NativeFloat struct {
	Value float32
}

// FloatValueOf creates a NativeFloat (boxing).
func FloatValueOf(v float32) *NativeFloat {
	return &NativeFloat{Value: v}
}

func (f *NativeFloat) ClassName() string { return "java/lang/Float" }
func (f *NativeFloat) String() string    { return FormatFloat(float64(f.Value), 32) }

// NativeDouble represents a java.lang.Double.
type NativeDouble struct {
	Value float64
}

// DoubleValueOf creates a NativeDouble (boxing).
func DoubleValueOf(v float64) *NativeDouble {
	return &NativeDouble{Value: v}
}

func (d *NativeDouble) ClassName() string { return "java/lang/Double" }
func (d *NativeDouble) String() string    { return FormatFloat(d.Value, 64) }

// FormatFloat renders a float the way Float.toString / Double.toString do
// for ordinary magnitudes: always with a fractional part.
func FormatFloat(v float64, bits int) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(v, 'f', -1, bits)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
