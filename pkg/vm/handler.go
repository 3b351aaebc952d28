package vm

import "errors"

// InvocationHandler receives every call made on a proxy instance. args are
// boxed; a primitive result may be returned unboxed and is boxed for the
// caller. Returning an error that wraps a *JavaException throws it into the
// guest; any other error aborts execution as a *HandlerError.
type InvocationHandler interface {
	Invoke(proxy Value, m *Method, args []Value) (Value, error)
}

// HandlerFunc adapts a plain function to InvocationHandler.
type HandlerFunc func(proxy Value, m *Method, args []Value) (Value, error)

func (f HandlerFunc) Invoke(proxy Value, m *Method, args []Value) (Value, error) {
	return f(proxy, m, args)
}

const (
	invocationHandlerClass = "java/lang/reflect/InvocationHandler"
	invokeDescriptor       = "(Ljava/lang/Object;Ljava/lang/reflect/Method;[Ljava/lang/Object;)Ljava/lang/Object;"
)

// invokeHandler is the native body of InvocationHandler.invoke when the
// receiver is a Go handler.
func (vm *VM) invokeHandler(this Value, args []Value) (Value, error) {
	h, ok := this.Ref.(InvocationHandler)
	if !ok {
		return Value{}, throwf("java/lang/AbstractMethodError", "%s does not implement %s", classNameOf(this.Ref), invocationHandlerClass)
	}
	m, _ := args[1].Ref.(*Method)
	var boxed []Value
	if arr, ok := args[2].Ref.(*JArray); ok {
		boxed = arr.Elements
	}
	log.Debug("Dispatching to handler", "method", m)

	ret, err := h.Invoke(args[0], m, boxed)
	if err != nil {
		var exc *JavaException
		if errors.As(err, &exc) {
			return Value{}, exc
		}
		return Value{}, &HandlerError{Method: m, Err: err}
	}
	return boxReturn(ret, m), nil
}

// boxReturn boxes an unboxed handler result by the declared return kind of
// m, so an int returned for a boolean method becomes a Boolean. A value whose
// runtime type does not fit the kind is boxed by that type and fails the
// caller's checkcast.
func boxReturn(v Value, m *Method) Value {
	if m != nil && m.Return.Kind.Primitive() && v.Type == stackType(m.Return.Kind) {
		return Box(v, m.Return.Kind)
	}
	return boxPrimitive(v)
}
