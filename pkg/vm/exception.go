package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalArgument reports a reflective call whose receiver or
	// arguments do not match the member.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrArgumentCount reports a call with the wrong number of arguments.
	ErrArgumentCount = errors.New("wrong number of arguments")

	// ErrNoSuchMember reports a failed method, field or constructor lookup.
	ErrNoSuchMember = errors.New("no such member")

	// ErrClassNotFound reports a class no loader can supply.
	ErrClassNotFound = errors.New("class not found")

	// ErrDuplicateClass reports a second definition of an already defined name.
	ErrDuplicateClass = errors.New("duplicate class definition")
)

// JavaException represents a JVM exception being thrown.
type JavaException struct {
	Object *JObject
}

func (e *JavaException) Error() string {
	if msg, ok := e.Message(); ok {
		return fmt.Sprintf("JavaException: %s: %s", e.Object.ClassName, msg)
	}
	return fmt.Sprintf("JavaException: %s", e.Object.ClassName)
}

// Message returns the detail message, if one was set.
func (e *JavaException) Message() (string, bool) {
	msg, ok := e.Object.Fields["message"].Ref.(string)
	return msg, ok
}

func NewJavaException(className string) *JavaException {
	return &JavaException{
		Object: &JObject{
			ClassName: className,
			Fields:    make(map[string]Value),
		},
	}
}

// throwf creates an exception carrying a formatted detail message.
func throwf(className, format string, args ...interface{}) *JavaException {
	e := NewJavaException(className)
	e.Object.Fields["message"] = RefValue(fmt.Sprintf(format, args...))
	return e
}

// HandlerError wraps a Go error returned by an InvocationHandler. It is not
// catchable by guest code.
type HandlerError struct {
	Method *Method
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("invocation handler failed for %s: %v", e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
