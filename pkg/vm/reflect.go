package vm

import (
	"fmt"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

// Method is a reflective handle on a method. Its descriptor is parsed once
// when the handle is created.
type Method struct {
	Class      *Class
	Name       string
	Descriptor string
	Flags      uint16
	Params     []classfile.FieldType
	Return     classfile.FieldType

	info *classfile.MethodInfo
}

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Flags&classfile.AccStatic != 0 }

func (m *Method) String() string {
	if m == nil || m.Class == nil {
		return "<unresolved method>"
	}
	return m.Class.Name + "." + m.Name + m.Descriptor
}

// Field is a reflective handle on a field.
type Field struct {
	Class      *Class
	Name       string
	Descriptor string
	Flags      uint16
	Type       classfile.FieldType
}

// IsStatic reports whether the field is static.
func (f *Field) IsStatic() bool { return f.Flags&classfile.AccStatic != 0 }

func (f *Field) String() string {
	return f.Class.Name + "." + f.Name + ":" + f.Descriptor
}

// Constructor is a reflective handle on an <init> method.
type Constructor struct {
	Class      *Class
	Descriptor string
	Flags      uint16
	Params     []classfile.FieldType

	info *classfile.MethodInfo
}

func (c *Constructor) String() string {
	return c.Class.Name + ".<init>" + c.Descriptor
}

func newMethod(owner *Class, info *classfile.MethodInfo) (*Method, error) {
	d, err := classfile.ParseMethodDescriptor(info.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", owner.Name, info.Name, err)
	}
	return &Method{
		Class:      owner,
		Name:       info.Name,
		Descriptor: info.Descriptor,
		Flags:      info.AccessFlags,
		Params:     d.Params,
		Return:     d.Return,
		info:       info,
	}, nil
}

// GetMethod looks up a method on class or its supertypes.
func (vm *VM) GetMethod(className, name, descriptor string) (*Method, error) {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return nil, err
	}
	owner, info := c.lookupMethod(name, descriptor)
	if info == nil {
		return nil, fmt.Errorf("%w: method %s.%s%s", ErrNoSuchMember, className, name, descriptor)
	}
	return newMethod(owner, info)
}

// GetField looks up a field on class or its supertypes.
func (vm *VM) GetField(className, name string) (*Field, error) {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return nil, err
	}
	owner, info := c.lookupField(name)
	if info == nil {
		return nil, fmt.Errorf("%w: field %s.%s", ErrNoSuchMember, className, name)
	}
	t, err := classfile.ParseFieldType(info.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("field %s.%s: %w", owner.Name, name, err)
	}
	return &Field{
		Class:      owner,
		Name:       info.Name,
		Descriptor: info.Descriptor,
		Flags:      info.AccessFlags,
		Type:       t,
	}, nil
}

// GetConstructor looks up a constructor declared by class itself.
func (vm *VM) GetConstructor(className, descriptor string) (*Constructor, error) {
	c, err := vm.ResolveClass(className)
	if err != nil {
		return nil, err
	}
	info := c.declaredMethod("<init>", descriptor)
	if info == nil {
		return nil, fmt.Errorf("%w: constructor %s.<init>%s", ErrNoSuchMember, className, descriptor)
	}
	d, err := classfile.ParseMethodDescriptor(descriptor)
	if err != nil {
		return nil, fmt.Errorf("constructor %s: %w", className, err)
	}
	return &Constructor{
		Class:      c,
		Descriptor: descriptor,
		Flags:      info.AccessFlags,
		Params:     d.Params,
		info:       info,
	}, nil
}

// checkReceiver enforces the static/instance precondition shared by every
// reflective operation.
func (vm *VM) checkReceiver(static bool, owner *Class, instance Value, member string) error {
	if static {
		if !instance.IsNull() {
			return fmt.Errorf("%w: %s is static but an instance was given", ErrIllegalArgument, member)
		}
		return nil
	}
	if instance.IsNull() {
		return fmt.Errorf("%w: %s needs an instance", ErrIllegalArgument, member)
	}
	if got := classNameOf(instance.Ref); !vm.isInstanceOf(got, owner.Name) {
		return fmt.Errorf("%w: %s is not an instance of %s", ErrIllegalArgument, got, owner.Name)
	}
	return nil
}

// Get reads a field. Primitive values come back boxed.
func (vm *VM) Get(f *Field, instance Value) (Value, error) {
	if err := vm.checkReceiver(f.IsStatic(), f.Class, instance, f.String()); err != nil {
		return Value{}, err
	}
	var v Value
	if f.IsStatic() {
		if err := vm.initClass(f.Class); err != nil {
			return Value{}, err
		}
		v = f.Class.statics[f.Name]
	} else {
		obj, ok := instance.Ref.(*JObject)
		if !ok {
			return Value{}, fmt.Errorf("%w: %s has no fields", ErrIllegalArgument, classNameOf(instance.Ref))
		}
		var exists bool
		if v, exists = obj.Fields[f.Name]; !exists {
			v = zeroValue(f.Type.Kind)
		}
	}
	return Box(v, f.Type.Kind), nil
}

// Set writes a field. Primitive fields take their wrapper object.
func (vm *VM) Set(f *Field, instance Value, value Value) error {
	if err := vm.checkReceiver(f.IsStatic(), f.Class, instance, f.String()); err != nil {
		return err
	}
	v, err := vm.coerce(value, f.Type)
	if err != nil {
		return fmt.Errorf("setting %s: %w", f, err)
	}
	if f.IsStatic() {
		if err := vm.initClass(f.Class); err != nil {
			return err
		}
		f.Class.statics[f.Name] = v
		return nil
	}
	obj, ok := instance.Ref.(*JObject)
	if !ok {
		return fmt.Errorf("%w: %s has no fields", ErrIllegalArgument, classNameOf(instance.Ref))
	}
	obj.Fields[f.Name] = v
	return nil
}

// coerce converts a boxed argument into the representation of type t.
func (vm *VM) coerce(v Value, t classfile.FieldType) (Value, error) {
	if t.Kind.Primitive() {
		return Unbox(v, t.Kind)
	}
	if v.IsNull() {
		return NullValue(), nil
	}
	if v.Type != TypeRef {
		return Value{}, fmt.Errorf("%w: %s given for %s", ErrIllegalArgument, v, t.Descriptor())
	}
	if got := classNameOf(v.Ref); !vm.isInstanceOf(got, t.InternalName()) {
		return Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrIllegalArgument, got, t.Descriptor())
	}
	return v, nil
}

func (vm *VM) coerceArgs(params []classfile.FieldType, args []Value, member string) ([]Value, error) {
	if len(args) != len(params) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrArgumentCount, member, len(params), len(args))
	}
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := vm.coerce(a, params[i])
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", member, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Invoke calls m reflectively. Arguments are boxed objects; the result is
// boxed, or null for void methods. Instance methods dispatch virtually on
// the receiver's class.
func (vm *VM) Invoke(m *Method, instance Value, args ...Value) (Value, error) {
	if err := vm.checkReceiver(m.IsStatic(), m.Class, instance, m.String()); err != nil {
		return Value{}, err
	}
	raw, err := vm.coerceArgs(m.Params, args, m.String())
	if err != nil {
		return Value{}, err
	}
	var ret Value
	if m.IsStatic() {
		ret, err = vm.callStatic(m.Class, m.Name, m.Descriptor, raw)
	} else {
		ret, err = vm.callVirtual(instance, m.Name, m.Descriptor, raw)
	}
	if err != nil {
		return Value{}, fmt.Errorf("invoking %s: %w", m, err)
	}
	if m.Return.Kind == classfile.KindVoid {
		return NullValue(), nil
	}
	return Box(ret, m.Return.Kind), nil
}

// NewInstance allocates an object of the constructor's class and runs it.
func (vm *VM) NewInstance(c *Constructor, args ...Value) (Value, error) {
	raw, err := vm.coerceArgs(c.Params, args, c.String())
	if err != nil {
		return Value{}, err
	}
	if c.Class.IsInterface() || c.Class.Flags&classfile.AccAbstract != 0 {
		return Value{}, fmt.Errorf("%w: %s cannot be instantiated", ErrIllegalArgument, c.Class.Name)
	}
	if err := vm.initClass(c.Class); err != nil {
		return Value{}, err
	}
	obj, err := vm.allocate(c.Class)
	if err != nil {
		return Value{}, err
	}
	if _, err := vm.executeMethod(c.Class, c.info, append([]Value{obj}, raw...)); err != nil {
		return Value{}, fmt.Errorf("constructing %s: %w", c.Class.Name, err)
	}
	return obj, nil
}

// methodAtSlot resolves the method at index slot of the receiver's class
// method table. For a proxy this yields the interface method it forwards.
func (vm *VM) methodAtSlot(receiver Value, slot int) (*Method, error) {
	if receiver.IsNull() {
		return nil, NewJavaException("java/lang/NullPointerException")
	}
	c, err := vm.ResolveClass(classNameOf(receiver.Ref))
	if err != nil {
		return nil, err
	}
	if c.File == nil || slot < 0 || slot >= len(c.File.Methods) {
		return nil, throwf("java/lang/IndexOutOfBoundsException", "method slot %d of %s", slot, c.Name)
	}
	info := &c.File.Methods[slot]
	for _, iface := range c.Interfaces {
		if owner, im := iface.lookupMethod(info.Name, info.Descriptor); im != nil {
			return newMethod(owner, im)
		}
	}
	return newMethod(c, info)
}
