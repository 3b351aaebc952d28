package vm

import (
	"fmt"
	"io"
	"os"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/native"
)

// maxFrameDepth is the maximum number of nested method calls.
const maxFrameDepth = 1024

// VM is the virtual machine that executes Java bytecode. Classes may be
// defined from several goroutines, but execution is single-threaded.
type VM struct {
	Stdout io.Writer

	memory  *MemoryClassLoader
	loader  ClassLoader
	classes cmap.ConcurrentMap
	natives NativeMethodRegistry

	frameDepth int
	hashes     map[interface{}]int32
	nextHash   int32
}

// NewVM creates a VM. Classes defined at run time shadow those of parent,
// which may be nil.
func NewVM(parent ClassLoader) *VM {
	mem := NewMemoryClassLoader(parent)
	return &VM{
		Stdout:  os.Stdout,
		memory:  mem,
		loader:  mem,
		classes: cmap.New(),
		natives: defaultNatives(),
		hashes:  make(map[interface{}]int32),
	}
}

// RegisterNative installs a Go implementation for a method, replacing any
// bytecode body. The qualifier has the form "pkg/Class.name(desc)".
func (vm *VM) RegisterNative(qualifier string, fn NativeMethod) {
	vm.natives.RegisterNative(qualifier, fn)
}

// DefineClass parses a class file, registers it and links it.
func (vm *VM) DefineClass(data []byte) (*Class, error) {
	cf, err := vm.memory.Define(data)
	if err != nil {
		return nil, err
	}
	name, _ := cf.ClassName()
	c, err := vm.ResolveClass(name)
	if err != nil {
		return nil, fmt.Errorf("defining %s: %w", name, err)
	}
	log.Debug("Defined class", "class", name, "methods", len(cf.Methods), "bytes", len(data))
	return c, nil
}

// IsDefined reports whether name was defined through DefineClass.
func (vm *VM) IsDefined(name string) bool {
	return vm.memory.Defined(name)
}

// LoadClass returns the linked class for name.
func (vm *VM) LoadClass(name string) (*Class, error) {
	return vm.ResolveClass(name)
}

// NewObject allocates an instance of className and runs the constructor
// with the given descriptor. Arguments use the raw (unboxed) representation.
func (vm *VM) NewObject(className, ctorDesc string, args ...Value) (Value, error) {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return Value{}, err
	}
	if err := checkArgCount(ctorDesc, args); err != nil {
		return Value{}, err
	}
	if c.IsInterface() || c.Flags&classfile.AccAbstract != 0 {
		return Value{}, fmt.Errorf("%w: %s cannot be instantiated", ErrIllegalArgument, className)
	}
	if err := vm.initClass(c); err != nil {
		return Value{}, err
	}
	obj, err := vm.allocate(c)
	if err != nil {
		return Value{}, err
	}
	if _, err := vm.callSpecial(c, obj, "<init>", ctorDesc, args); err != nil {
		return Value{}, err
	}
	return obj, nil
}

// InvokeVirtual calls an instance method with virtual dispatch on the
// receiver. Arguments and result use the raw representation.
func (vm *VM) InvokeVirtual(obj Value, name, descriptor string, args ...Value) (Value, error) {
	if err := checkArgCount(descriptor, args); err != nil {
		return Value{}, err
	}
	return vm.callVirtual(obj, name, descriptor, args)
}

// InvokeStatic calls a static method.
func (vm *VM) InvokeStatic(className, name, descriptor string, args ...Value) (Value, error) {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return Value{}, err
	}
	if err := checkArgCount(descriptor, args); err != nil {
		return Value{}, err
	}
	return vm.callStatic(c, name, descriptor, args)
}

func checkArgCount(descriptor string, args []Value) error {
	d, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return err
	}
	if len(d.Params) != len(args) {
		return fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgumentCount, descriptor, len(d.Params), len(args))
	}
	return nil
}

// Execute finds and executes the main method of the class.
func (vm *VM) Execute(className string) error {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return err
	}
	method := c.declaredMethod("main", "([Ljava/lang/String;)V")
	if method == nil {
		return fmt.Errorf("main method not found in %s", className)
	}
	if method.Code == nil {
		return fmt.Errorf("main method has no Code attribute")
	}
	if err := vm.initClass(c); err != nil {
		return err
	}

	// main(String[] args) with null args
	_, err = vm.executeMethod(c, method, []Value{NullValue()})
	return err
}

// executeMethod executes a method with the given arguments and returns its
// return value. For instance methods args[0] is the receiver.
func (vm *VM) executeMethod(class *Class, method *classfile.MethodInfo, args []Value) (Value, error) {
	if method.Code == nil {
		if method.IsAbstract() {
			return Value{}, throwf("java/lang/AbstractMethodError", "%s.%s%s", class.Name, method.Name, method.Descriptor)
		}
		return Value{}, fmt.Errorf("method %s.%s has no Code attribute", class.Name, method.Name)
	}

	vm.frameDepth++
	defer func() { vm.frameDepth-- }()
	if vm.frameDepth > maxFrameDepth {
		return Value{}, throwf("java/lang/StackOverflowError", "frame depth exceeded %d", maxFrameDepth)
	}

	frame := NewFrame(method.Code.MaxLocals, method.Code.MaxStack, method.Code.Code, class)
	frame.Method = method

	// Set arguments into local variables. long and double take two slots.
	slot := 0
	for _, arg := range args {
		frame.SetLocal(slot, arg)
		slot++
		if arg.Wide() {
			slot++
		}
	}

	// Execution loop
	for frame.PC < len(frame.Code) {
		pc := frame.PC
		opcode := frame.Code[pc]
		frame.PC++

		retVal, hasReturn, err := vm.executeInstruction(frame, opcode)
		if err != nil {
			exc, ok := err.(*JavaException)
			if !ok {
				return Value{}, err
			}
			handlerPC, found, err := vm.findHandler(frame, pc, exc)
			if err != nil {
				return Value{}, err
			}
			if !found {
				return Value{}, exc
			}
			log.Debug("Caught exception", "class", exc.Object.ClassName, "method", method.Name, "pc", pc, "handler", handlerPC)
			frame.ClearStack()
			frame.Push(RefValue(exc.Object))
			frame.PC = handlerPC
			continue
		}
		if hasReturn {
			return retVal, nil
		}
	}

	// Fell off the end of the method (implicit return for void methods)
	return Value{}, nil
}

// findHandler searches the exception table for the first entry covering pc
// whose catch type matches the thrown class.
func (vm *VM) findHandler(frame *Frame, pc int, exc *JavaException) (int, bool, error) {
	for _, h := range frame.Method.Code.ExceptionHandlers {
		if pc < int(h.StartPC) || pc >= int(h.EndPC) {
			continue
		}
		if h.CatchType != 0 {
			catchName, err := classfile.GetClassName(frame.Pool(), h.CatchType)
			if err != nil {
				return 0, false, fmt.Errorf("exception table: %w", err)
			}
			if !vm.isInstanceOf(exc.Object.ClassName, catchName) {
				continue
			}
		}
		return int(h.HandlerPC), true, nil
	}
	return 0, false, nil
}

// callTarget is a resolved method body: bytecode or a native.
type callTarget struct {
	class  *Class
	method *classfile.MethodInfo
	native NativeMethod
}

// findMethod walks c and its superclasses, preferring a registered native
// at each level, then falls back to default methods of superinterfaces.
func (vm *VM) findMethod(c *Class, name, descriptor string) (callTarget, bool) {
	for k := c; k != nil; k = k.Super {
		if fn, ok := vm.natives.FindNative(qualifier(k.Name, name, descriptor)); ok {
			return callTarget{class: k, native: fn}, true
		}
		if m := k.declaredMethod(name, descriptor); m != nil && !m.IsAbstract() {
			return callTarget{class: k, method: m}, true
		}
	}
	if owner, m := c.lookupMethod(name, descriptor); m != nil && !m.IsAbstract() {
		return callTarget{class: owner, method: m}, true
	}
	for _, iface := range c.Interfaces {
		if fn, ok := vm.natives.FindNative(qualifier(iface.Name, name, descriptor)); ok {
			return callTarget{class: iface, native: fn}, true
		}
	}
	return callTarget{}, false
}

func (vm *VM) call(t callTarget, this Value, hasThis bool, args []Value) (Value, error) {
	if t.native != nil {
		return t.native(vm, this, args)
	}
	if hasThis {
		args = append([]Value{this}, args...)
	}
	return vm.executeMethod(t.class, t.method, args)
}

// missingMethod builds the error for a failed dispatch.
func missingMethod(c *Class, name, descriptor string) error {
	if _, m := c.lookupMethod(name, descriptor); m != nil {
		return throwf("java/lang/AbstractMethodError", "%s.%s%s", c.Name, name, descriptor)
	}
	return throwf("java/lang/NoSuchMethodError", "%s.%s%s", c.Name, name, descriptor)
}

// runtimeClass resolves the class an object reference dispatches on.
// Arrays dispatch as java/lang/Object.
func (vm *VM) runtimeClass(ref interface{}) (*Class, error) {
	name := classNameOf(ref)
	if name == "" || name[0] == '[' {
		name = "java/lang/Object"
	}
	return vm.ResolveClass(name)
}

func (vm *VM) callVirtual(obj Value, name, descriptor string, args []Value) (Value, error) {
	if obj.IsNull() {
		return Value{}, throwf("java/lang/NullPointerException", "invoking %s%s on null", name, descriptor)
	}
	c, err := vm.runtimeClass(obj.Ref)
	if err != nil {
		return Value{}, err
	}
	t, ok := vm.findMethod(c, name, descriptor)
	if !ok {
		return Value{}, missingMethod(c, name, descriptor)
	}
	return vm.call(t, obj, true, args)
}

// callSpecial invokes without virtual dispatch, starting the search at c.
func (vm *VM) callSpecial(c *Class, obj Value, name, descriptor string, args []Value) (Value, error) {
	if obj.IsNull() {
		return Value{}, throwf("java/lang/NullPointerException", "invoking %s%s on null", name, descriptor)
	}
	t, ok := vm.findMethod(c, name, descriptor)
	if !ok {
		return Value{}, missingMethod(c, name, descriptor)
	}
	return vm.call(t, obj, true, args)
}

func (vm *VM) callStatic(c *Class, name, descriptor string, args []Value) (Value, error) {
	if err := vm.initClass(c); err != nil {
		return Value{}, err
	}
	t, ok := vm.findMethod(c, name, descriptor)
	if !ok {
		return Value{}, missingMethod(c, name, descriptor)
	}
	return vm.call(t, NullValue(), false, args)
}

// executeLdc handles the ldc instruction.
func (vm *VM) executeLdc(frame *Frame, index uint16) (Value, bool, error) {
	pool := frame.Pool()
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, false, fmt.Errorf("ldc: invalid constant pool index %d", index)
	}

	entry := pool[index]
	switch c := entry.(type) {
	case *classfile.ConstantInteger:
		frame.Push(IntValue(c.Value))
	case *classfile.ConstantFloat:
		frame.Push(FloatValue(c.Value))
	case *classfile.ConstantString:
		str, err := classfile.GetUtf8(pool, c.StringIndex)
		if err != nil {
			return Value{}, false, fmt.Errorf("ldc: resolving string: %w", err)
		}
		frame.Push(RefValue(str))
	default:
		return Value{}, false, fmt.Errorf("ldc: unsupported constant pool entry type at index %d (tag=%d)", index, entry.Tag())
	}

	return Value{}, false, nil
}

// executeLdc2W handles the ldc2_w instruction.
func (vm *VM) executeLdc2W(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()
	pool := frame.Pool()
	if int(index) >= len(pool) || pool[index] == nil {
		return Value{}, false, fmt.Errorf("ldc2_w: invalid constant pool index %d", index)
	}
	switch c := pool[index].(type) {
	case *classfile.ConstantLong:
		frame.Push(LongValue(c.Value))
	case *classfile.ConstantDouble:
		frame.Push(DoubleValue(c.Value))
	default:
		return Value{}, false, fmt.Errorf("ldc2_w: unsupported type at index %d", index)
	}
	return Value{}, false, nil
}

// staticOwner resolves and initializes the class declaring a static field.
func (vm *VM) staticOwner(fieldRef *classfile.FieldRefInfo) (*Class, error) {
	c, err := vm.ResolveClass(fieldRef.ClassName)
	if err != nil {
		return nil, err
	}
	owner, f := c.lookupField(fieldRef.FieldName)
	if f == nil || !f.IsStatic() {
		return nil, throwf("java/lang/NoSuchFieldError", "%s.%s", fieldRef.ClassName, fieldRef.FieldName)
	}
	if err := vm.initClass(owner); err != nil {
		return nil, err
	}
	return owner, nil
}

// executeGetstatic handles the getstatic instruction.
func (vm *VM) executeGetstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	fieldRef, err := classfile.ResolveFieldref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getstatic: %w", err)
	}

	// Handle java/lang/System.out
	if fieldRef.ClassName == "java/lang/System" && fieldRef.FieldName == "out" {
		frame.Push(RefValue(&native.PrintStream{Writer: vm.Stdout}))
		return Value{}, false, nil
	}

	owner, err := vm.staticOwner(fieldRef)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(owner.statics[fieldRef.FieldName])
	return Value{}, false, nil
}

// executePutstatic handles the putstatic instruction.
func (vm *VM) executePutstatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	fieldRef, err := classfile.ResolveFieldref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putstatic: %w", err)
	}
	value := frame.Pop()
	owner, err := vm.staticOwner(fieldRef)
	if err != nil {
		return Value{}, false, err
	}
	owner.statics[fieldRef.FieldName] = value
	return Value{}, false, nil
}

// executeGetfield handles the getfield instruction.
func (vm *VM) executeGetfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	fieldRef, err := classfile.ResolveFieldref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("getfield: %w", err)
	}

	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, throwf("java/lang/NullPointerException", "getfield %s on null", fieldRef.FieldName)
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("getfield: receiver is %s, not an object with fields", classNameOf(objectRef.Ref))
	}

	val, exists := obj.Fields[fieldRef.FieldName]
	if !exists {
		t, err := classfile.ParseFieldType(fieldRef.Descriptor)
		if err != nil {
			return Value{}, false, fmt.Errorf("getfield: %w", err)
		}
		val = zeroValue(t.Kind)
	}
	frame.Push(val)
	return Value{}, false, nil
}

// executePutfield handles the putfield instruction.
func (vm *VM) executePutfield(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	fieldRef, err := classfile.ResolveFieldref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("putfield: %w", err)
	}

	value := frame.Pop()
	objectRef := frame.Pop()
	if objectRef.IsNull() {
		return Value{}, false, throwf("java/lang/NullPointerException", "putfield %s on null", fieldRef.FieldName)
	}
	obj, ok := objectRef.Ref.(*JObject)
	if !ok {
		return Value{}, false, fmt.Errorf("putfield: receiver is %s, not an object with fields", classNameOf(objectRef.Ref))
	}

	obj.Fields[fieldRef.FieldName] = value
	return Value{}, false, nil
}

// popArgs pops the arguments of descriptor off the operand stack.
func popArgs(frame *Frame, descriptor string) ([]Value, classfile.MethodDescriptor, error) {
	d, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, d, err
	}
	args := make([]Value, len(d.Params))
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}
	return args, d, nil
}

func pushResult(frame *Frame, d classfile.MethodDescriptor, v Value) {
	if d.Return.Kind != classfile.KindVoid {
		frame.Push(v)
	}
}

// executeInvokevirtual handles invokevirtual and invokeinterface.
func (vm *VM) executeInvokevirtual(frame *Frame, iface bool) (Value, bool, error) {
	index := frame.ReadU16()
	op := "invokevirtual"
	resolve := classfile.ResolveMethodref
	if iface {
		op = "invokeinterface"
		resolve = classfile.ResolveInterfaceMethodref
		frame.ReadU8() // count
		frame.ReadU8() // always zero
	}

	methodRef, err := resolve(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("%s: %w", op, err)
	}
	args, d, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("%s: %w", op, err)
	}
	objectRef := frame.Pop()

	retVal, err := vm.callVirtual(objectRef, methodRef.MethodName, methodRef.Descriptor, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, d, retVal)
	return Value{}, false, nil
}

// executeInvokespecial handles the invokespecial instruction.
func (vm *VM) executeInvokespecial(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	methodRef, err := classfile.ResolveMethodref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	args, d, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokespecial: %w", err)
	}
	objectRef := frame.Pop() // this

	c, err := vm.ResolveClass(methodRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	retVal, err := vm.callSpecial(c, objectRef, methodRef.MethodName, methodRef.Descriptor, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, d, retVal)
	return Value{}, false, nil
}

// executeInvokestatic handles the invokestatic instruction.
func (vm *VM) executeInvokestatic(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	methodRef, err := classfile.ResolveMethodref(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}
	args, d, err := popArgs(frame, methodRef.Descriptor)
	if err != nil {
		return Value{}, false, fmt.Errorf("invokestatic: %w", err)
	}

	c, err := vm.ResolveClass(methodRef.ClassName)
	if err != nil {
		return Value{}, false, err
	}
	retVal, err := vm.callStatic(c, methodRef.MethodName, methodRef.Descriptor, args)
	if err != nil {
		return Value{}, false, err
	}
	pushResult(frame, d, retVal)
	return Value{}, false, nil
}

// executeNew handles the new instruction.
func (vm *VM) executeNew(frame *Frame) (Value, bool, error) {
	index := frame.ReadU16()

	className, err := classfile.GetClassName(frame.Pool(), index)
	if err != nil {
		return Value{}, false, fmt.Errorf("new: %w", err)
	}
	c, err := vm.ResolveClass(className)
	if err != nil {
		return Value{}, false, err
	}
	if c.IsInterface() || c.Flags&classfile.AccAbstract != 0 {
		return Value{}, false, throwf("java/lang/InstantiationError", "%s", className)
	}
	if err := vm.initClass(c); err != nil {
		return Value{}, false, err
	}
	obj, err := vm.allocate(c)
	if err != nil {
		return Value{}, false, err
	}
	frame.Push(obj)
	return Value{}, false, nil
}
