package vm

import (
	"unicode/utf16"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/native"
)

// NativeMethod implements a method in Go. this is null for static methods.
type NativeMethod func(vm *VM, this Value, args []Value) (Value, error)

// NativeMethodRegistry maps "class.name(descriptor)" qualifiers to Go
// implementations.
type NativeMethodRegistry map[string]NativeMethod

// RegisterNative adds or replaces a native method.
func (r NativeMethodRegistry) RegisterNative(qualifier string, fn NativeMethod) {
	r[qualifier] = fn
}

// FindNative looks up a native method.
func (r NativeMethodRegistry) FindNative(qualifier string) (NativeMethod, bool) {
	fn, found := r[qualifier]
	return fn, found
}

func qualifier(class, name, descriptor string) string {
	return class + "." + name + descriptor
}

// defaultNatives returns a registry holding every built-in native method.
func defaultNatives() NativeMethodRegistry {
	r := make(NativeMethodRegistry)
	registerJavaLangObject(r)
	registerJavaLangString(r)
	registerJavaLangThrowable(r)
	registerBoxes(r)
	registerJavaLangReflect(r)
	registerJavaIO(r)
	return r
}

func registerJavaLangObject(r NativeMethodRegistry) {
	r.RegisterNative("java/lang/Object.<init>()V", func(vm *VM, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})
	r.RegisterNative("java/lang/Object.hashCode()I", func(vm *VM, this Value, args []Value) (Value, error) {
		return IntValue(vm.identityHash(this.Ref)), nil
	})
	r.RegisterNative("java/lang/Object.equals(Ljava/lang/Object;)Z", func(vm *VM, this Value, args []Value) (Value, error) {
		if sameRef(this.Ref, args[0].Ref) {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
	r.RegisterNative("java/lang/Object.toString()Ljava/lang/String;", func(vm *VM, this Value, args []Value) (Value, error) {
		return RefValue(vm.javaString(this)), nil
	})
}

func registerJavaLangString(r NativeMethodRegistry) {
	r.RegisterNative("java/lang/String.length()I", func(vm *VM, this Value, args []Value) (Value, error) {
		return IntValue(int32(len(utf16.Encode([]rune(this.Ref.(string)))))), nil
	})
	r.RegisterNative("java/lang/String.equals(Ljava/lang/Object;)Z", func(vm *VM, this Value, args []Value) (Value, error) {
		if s, ok := args[0].Ref.(string); ok && s == this.Ref.(string) {
			return IntValue(1), nil
		}
		return IntValue(0), nil
	})
}

func registerJavaLangThrowable(r NativeMethodRegistry) {
	r.RegisterNative("java/lang/Throwable.<init>()V", func(vm *VM, this Value, args []Value) (Value, error) {
		return Value{}, nil
	})
	r.RegisterNative("java/lang/Throwable.<init>(Ljava/lang/String;)V", func(vm *VM, this Value, args []Value) (Value, error) {
		if obj, ok := this.Ref.(*JObject); ok {
			obj.Fields["message"] = args[0]
		}
		return Value{}, nil
	})
	r.RegisterNative("java/lang/Throwable.getMessage()Ljava/lang/String;", func(vm *VM, this Value, args []Value) (Value, error) {
		if obj, ok := this.Ref.(*JObject); ok {
			if msg, ok := obj.Fields["message"]; ok {
				return msg, nil
			}
		}
		return NullValue(), nil
	})
}

// registerBoxes wires valueOf and the xxxValue accessors of every wrapper
// class from the classfile.Wrappers table.
func registerBoxes(r NativeMethodRegistry) {
	for kind, w := range classfile.Wrappers {
		r.RegisterNative(qualifier(w.ClassName, "valueOf", w.ValueOf), func(vm *VM, this Value, args []Value) (Value, error) {
			return Box(args[0], kind), nil
		})
		r.RegisterNative(qualifier(w.ClassName, w.Unbox, w.UnboxDesc), func(vm *VM, this Value, args []Value) (Value, error) {
			v, err := Unbox(this, kind)
			if err != nil {
				return Value{}, throwf("java/lang/ClassCastException", "%s cannot be unboxed as %s", classNameOf(this.Ref), kind)
			}
			return v, nil
		})
	}
	// Calls through the abstract Number type.
	r.RegisterNative("java/lang/Number.intValue()I", func(vm *VM, this Value, args []Value) (Value, error) {
		switch b := this.Ref.(type) {
		case *native.NativeByte:
			return IntValue(int32(b.Value)), nil
		case *native.NativeShort:
			return IntValue(int32(b.Value)), nil
		case *native.NativeInteger:
			return IntValue(b.Value), nil
		case *native.NativeLong:
			return IntValue(int32(b.Value)), nil
		case *native.NativeFloat:
			return IntValue(f2i(float64(b.Value))), nil
		case *native.NativeDouble:
			return IntValue(f2i(b.Value)), nil
		}
		return Value{}, throwf("java/lang/ClassCastException", "%s is not a Number", classNameOf(this.Ref))
	})
}

func registerJavaLangReflect(r NativeMethodRegistry) {
	r.RegisterNative("java/lang/reflect/Method.<init>(Ljava/lang/Object;I)V", func(vm *VM, this Value, args []Value) (Value, error) {
		m, ok := this.Ref.(*Method)
		if !ok {
			return Value{}, throwf("java/lang/ClassCastException", "%s is not a Method", classNameOf(this.Ref))
		}
		resolved, err := vm.methodAtSlot(args[0], int(args[1].Int))
		if err != nil {
			return Value{}, err
		}
		*m = *resolved
		return Value{}, nil
	})
	r.RegisterNative("java/lang/reflect/Method.getName()Ljava/lang/String;", func(vm *VM, this Value, args []Value) (Value, error) {
		return RefValue(this.Ref.(*Method).Name), nil
	})
	r.RegisterNative(qualifier(invocationHandlerClass, "invoke", invokeDescriptor), func(vm *VM, this Value, args []Value) (Value, error) {
		return vm.invokeHandler(this, args)
	})
}

func registerJavaIO(r NativeMethodRegistry) {
	for _, desc := range []string{
		"()V", "(I)V", "(J)V", "(F)V", "(D)V", "(Z)V", "(C)V",
		"(Ljava/lang/String;)V", "(Ljava/lang/Object;)V",
	} {
		d, _ := classfile.ParseMethodDescriptor(desc)
		r.RegisterNative(qualifier("java/io/PrintStream", "println", desc), func(vm *VM, this Value, args []Value) (Value, error) {
			ps, ok := this.Ref.(*native.PrintStream)
			if !ok {
				return Value{}, throwf("java/lang/ClassCastException", "println receiver is %s", classNameOf(this.Ref))
			}
			if len(args) == 0 {
				ps.Println()
				return Value{}, nil
			}
			ps.Println(vm.formatArg(args[0], d.Params[0].Kind))
			return Value{}, nil
		})
	}
}

// formatArg renders a println argument the way Java's String.valueOf does.
func (vm *VM) formatArg(v Value, k classfile.Kind) string {
	switch k {
	case classfile.KindBoolean:
		return native.BooleanValueOf(v.Int != 0).String()
	case classfile.KindChar:
		return native.CharacterValueOf(uint16(v.Int)).String()
	case classfile.KindReference:
		return vm.javaString(v)
	default:
		return vm.javaString(Box(v, k))
	}
}
