package vm

import (
	"reflect"
	"strings"

	"github.com/daimatz/jvmproxy/pkg/native"
)

// JObject represents a JVM object instance.
type JObject struct {
	ClassName string
	Fields    map[string]Value
}

// JArray represents a JVM array. ClassName is the array descriptor,
// e.g. "[Ljava/lang/Object;" or "[I".
type JArray struct {
	ClassName string
	Elements  []Value
}

// classNameOf returns the runtime class name of a reference.
func classNameOf(ref interface{}) string {
	switch r := ref.(type) {
	case *JObject:
		return r.ClassName
	case *JArray:
		if r.ClassName == "" {
			return "[Ljava/lang/Object;"
		}
		return r.ClassName
	case native.Box:
		return r.ClassName()
	case string:
		return "java/lang/String"
	case *Method:
		return "java/lang/reflect/Method"
	case InvocationHandler:
		return "java/lang/reflect/InvocationHandler"
	case nil:
		return ""
	default:
		return "java/lang/Object"
	}
}

// arrayElementClass returns the element class named by an array class
// name, or "" when the elements are primitive.
func arrayElementClass(arrayClass string) string {
	elem := strings.TrimPrefix(arrayClass, "[")
	switch {
	case strings.HasPrefix(elem, "["):
		return elem
	case strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";"):
		return elem[1 : len(elem)-1]
	default:
		return ""
	}
}

// isComparable reports whether ref can be used with == and as a map key.
// Go handlers built from funcs cannot.
func isComparable(ref interface{}) bool {
	return ref == nil || reflect.TypeOf(ref).Comparable()
}

// sameRef is reference equality for acmp and Object.equals.
func sameRef(a, b interface{}) bool {
	if !isComparable(a) || !isComparable(b) {
		return false
	}
	return a == b
}
