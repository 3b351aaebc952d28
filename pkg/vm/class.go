package vm

import (
	"fmt"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

// Class is a loaded and linked class. Built-in classes have no File; their
// behaviour lives entirely in the native registry.
type Class struct {
	Name       string
	File       *classfile.ClassFile
	Super      *Class
	Interfaces []*Class
	Flags      uint16

	statics     map[string]Value
	initialized bool
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool {
	return c.Flags&classfile.AccInterface != 0
}

// declaredMethod returns the method declared directly by c.
func (c *Class) declaredMethod(name, descriptor string) *classfile.MethodInfo {
	if c.File == nil {
		return nil
	}
	return c.File.FindMethod(name, descriptor)
}

// lookupMethod searches c, its superclasses and then its superinterfaces.
// Abstract declarations are returned only when nothing concrete exists.
func (c *Class) lookupMethod(name, descriptor string) (*Class, *classfile.MethodInfo) {
	var abstractOwner *Class
	var abstract *classfile.MethodInfo
	for k := c; k != nil; k = k.Super {
		if m := k.declaredMethod(name, descriptor); m != nil {
			if !m.IsAbstract() {
				return k, m
			}
			if abstract == nil {
				abstractOwner, abstract = k, m
			}
		}
	}
	for k := c; k != nil; k = k.Super {
		for _, iface := range k.Interfaces {
			if owner, m := iface.lookupMethod(name, descriptor); m != nil {
				if !m.IsAbstract() {
					return owner, m
				}
				if abstract == nil {
					abstractOwner, abstract = owner, m
				}
			}
		}
	}
	return abstractOwner, abstract
}

// lookupField finds the class declaring the named field.
func (c *Class) lookupField(name string) (*Class, *classfile.FieldInfo) {
	for k := c; k != nil; k = k.Super {
		if k.File != nil {
			if f := k.File.FindField(name); f != nil {
				return k, f
			}
		}
		for _, iface := range k.Interfaces {
			if owner, f := iface.lookupField(name); f != nil {
				return owner, f
			}
		}
	}
	return nil, nil
}

// isSubclassOf reports whether c is, extends or implements target.
func (c *Class) isSubclassOf(target string) bool {
	for k := c; k != nil; k = k.Super {
		if k.Name == target {
			return true
		}
		for _, iface := range k.Interfaces {
			if iface.isSubclassOf(target) {
				return true
			}
		}
	}
	return false
}

// builtinSupers lists classes the VM provides without a class file, mapped
// to their superclass.
var builtinSupers = map[string]string{
	"java/lang/Object":                    "",
	"java/lang/String":                    "java/lang/Object",
	"java/lang/Number":                    "java/lang/Object",
	"java/lang/Boolean":                   "java/lang/Object",
	"java/lang/Character":                 "java/lang/Object",
	"java/lang/Byte":                      "java/lang/Number",
	"java/lang/Short":                     "java/lang/Number",
	"java/lang/Integer":                   "java/lang/Number",
	"java/lang/Long":                      "java/lang/Number",
	"java/lang/Float":                     "java/lang/Number",
	"java/lang/Double":                    "java/lang/Number",
	"java/lang/System":                    "java/lang/Object",
	"java/io/PrintStream":                 "java/lang/Object",
	"java/lang/reflect/Method":            "java/lang/Object",
	"java/lang/reflect/InvocationHandler": "java/lang/Object",

	"java/lang/Throwable":                            "java/lang/Object",
	"java/lang/Exception":                            "java/lang/Throwable",
	"java/lang/Error":                                "java/lang/Throwable",
	"java/lang/RuntimeException":                     "java/lang/Exception",
	"java/lang/NullPointerException":                 "java/lang/RuntimeException",
	"java/lang/ClassCastException":                   "java/lang/RuntimeException",
	"java/lang/ArithmeticException":                  "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":             "java/lang/RuntimeException",
	"java/lang/IllegalStateException":                "java/lang/RuntimeException",
	"java/lang/UnsupportedOperationException":        "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":            "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":       "java/lang/IndexOutOfBoundsException",
	"java/lang/NegativeArraySizeException":           "java/lang/RuntimeException",
	"java/lang/reflect/UndeclaredThrowableException": "java/lang/RuntimeException",
	"java/lang/StackOverflowError":                   "java/lang/Error",
	"java/lang/NoSuchMethodError":                    "java/lang/Error",
	"java/lang/NoSuchFieldError":                     "java/lang/Error",
	"java/lang/AbstractMethodError":                  "java/lang/Error",
	"java/lang/InstantiationError":                   "java/lang/Error",
}

var builtinInterfaces = map[string]bool{
	"java/lang/reflect/InvocationHandler": true,
}

// ResolveClass returns the linked class for name, loading and linking it
// (and its supertypes) on first use.
func (vm *VM) ResolveClass(name string) (*Class, error) {
	if c, ok := vm.classes.Get(name); ok {
		return c.(*Class), nil
	}

	var c *Class
	if super, ok := builtinSupers[name]; ok {
		c = &Class{Name: name, Flags: classfile.AccPublic, statics: make(map[string]Value)}
		if builtinInterfaces[name] {
			c.Flags |= classfile.AccInterface | classfile.AccAbstract
		}
		if super != "" {
			s, err := vm.ResolveClass(super)
			if err != nil {
				return nil, err
			}
			c.Super = s
		}
	} else {
		cf, err := vm.loader.LoadClass(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrClassNotFound, name, err)
		}
		if c, err = vm.link(name, cf); err != nil {
			return nil, err
		}
	}

	if !vm.classes.SetIfAbsent(name, c) {
		existing, _ := vm.classes.Get(name)
		return existing.(*Class), nil
	}
	return c, nil
}

func (vm *VM) link(name string, cf *classfile.ClassFile) (*Class, error) {
	c := &Class{
		Name:    name,
		File:    cf,
		Flags:   cf.AccessFlags,
		statics: make(map[string]Value),
	}
	if superName := cf.SuperClassName(); superName != "" {
		s, err := vm.ResolveClass(superName)
		if err != nil {
			return nil, fmt.Errorf("linking %s: %w", name, err)
		}
		c.Super = s
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil {
		return nil, fmt.Errorf("linking %s: %w", name, err)
	}
	for _, in := range ifaces {
		iface, err := vm.ResolveClass(in)
		if err != nil {
			return nil, fmt.Errorf("linking %s: %w", name, err)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}
	for _, f := range cf.Fields {
		if !f.IsStatic() {
			continue
		}
		t, err := classfile.ParseFieldType(f.Descriptor)
		if err != nil {
			return nil, fmt.Errorf("linking %s.%s: %w", name, f.Name, err)
		}
		c.statics[f.Name] = zeroValue(t.Kind)
	}
	return c, nil
}

// initClass runs static initialization once, superclass first.
func (vm *VM) initClass(c *Class) error {
	if c.initialized {
		return nil
	}
	c.initialized = true
	if c.Super != nil {
		if err := vm.initClass(c.Super); err != nil {
			return err
		}
	}
	clinit := c.declaredMethod("<clinit>", "()V")
	if clinit == nil {
		return nil
	}
	log.Debug("Initializing class", "class", c.Name)
	_, err := vm.executeMethod(c, clinit, nil)
	return err
}

// isInstanceOf reports whether an object of runtime class className can be
// assigned to target.
func (vm *VM) isInstanceOf(className, target string) bool {
	if className == target || target == "java/lang/Object" {
		return true
	}
	if className == "" {
		return false
	}
	if className[0] == '[' {
		if target[0] != '[' {
			return false
		}
		from, to := arrayElementClass(className), arrayElementClass(target)
		if from == "" || to == "" {
			return false
		}
		return vm.isInstanceOf(from, to)
	}
	c, err := vm.ResolveClass(className)
	if err != nil {
		return false
	}
	return c.isSubclassOf(target)
}

// allocate creates an uninitialized instance with every instance field set
// to its default value.
func (vm *VM) allocate(c *Class) (Value, error) {
	if alloc, ok := allocators[c.Name]; ok {
		return RefValue(alloc()), nil
	}
	obj := &JObject{ClassName: c.Name, Fields: make(map[string]Value)}
	for k := c; k != nil; k = k.Super {
		if k.File == nil {
			continue
		}
		for _, f := range k.File.Fields {
			if f.IsStatic() {
				continue
			}
			if _, shadowed := obj.Fields[f.Name]; shadowed {
				continue
			}
			t, err := classfile.ParseFieldType(f.Descriptor)
			if err != nil {
				return Value{}, fmt.Errorf("allocating %s: %w", c.Name, err)
			}
			obj.Fields[f.Name] = zeroValue(t.Kind)
		}
	}
	return RefValue(obj), nil
}

// allocators create the Go-side representation for built-in classes whose
// instances are not plain objects.
var allocators = map[string]func() interface{}{
	"java/lang/reflect/Method": func() interface{} { return &Method{} },
}
