package proxy

import (
	"github.com/pkg/errors"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

const (
	handlerClass      = "java/lang/reflect/InvocationHandler"
	handlerDescriptor = "Ljava/lang/reflect/InvocationHandler;"
	handlerField      = "h"
	methodClass       = "java/lang/reflect/Method"
	methodInit        = "(Ljava/lang/Object;I)V"
	invokeDescriptor  = "(Ljava/lang/Object;Ljava/lang/reflect/Method;[Ljava/lang/Object;)Ljava/lang/Object;"
	objectClass       = "java/lang/Object"

	// CtorDescriptor is the descriptor of every proxy constructor.
	CtorDescriptor = "(" + handlerDescriptor + ")V"
)

// ErrNotAnInterface reports a proxy request naming a class.
var ErrNotAnInterface = errors.New("not an interface")

// MethodEntry is one row of a generated class's method table.
type MethodEntry struct {
	Signature
	Slot int
}

// GeneratedClass is the output of one Generate call.
type GeneratedClass struct {
	Name       string
	Interfaces []string
	Methods    []MethodEntry // slot order; slot 0 is the constructor
	Bytes      []byte
}

// Generator synthesizes proxy class files.
type Generator struct {
	Names NameAllocator
}

// NewGenerator returns a generator that names classes with names. A nil
// allocator numbers classes with DefaultPrefix.
func NewGenerator(names NameAllocator) *Generator {
	if names == nil {
		names = NewCounterNames(DefaultPrefix)
	}
	return &Generator{Names: names}
}

type forwarded struct {
	sig  Signature
	desc classfile.MethodDescriptor
}

// collect gathers the methods of views in order, dropping repeats. Every
// descriptor is parsed before anything is emitted.
func collect(views []MethodTableView) ([]string, []forwarded, error) {
	if len(views) == 0 {
		return nil, nil, errors.New("proxy needs at least one interface")
	}
	var (
		ifaces  []string
		methods []forwarded
		seen    = make(map[Signature]bool)
		named   = make(map[string]bool)
	)
	for _, v := range views {
		if !v.IsInterface() {
			return nil, nil, errors.Wrap(ErrNotAnInterface, v.ClassName())
		}
		if named[v.ClassName()] {
			continue
		}
		named[v.ClassName()] = true
		ifaces = append(ifaces, v.ClassName())
		for _, sig := range v.Methods() {
			if seen[sig] {
				continue
			}
			seen[sig] = true
			d, err := classfile.ParseMethodDescriptor(sig.Descriptor)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "%s.%s", v.ClassName(), sig.Name)
			}
			methods = append(methods, forwarded{sig: sig, desc: d})
		}
	}
	return ifaces, methods, nil
}

// Generate builds a proxy class implementing every view. Each interface
// method forwards to the InvocationHandler stored by the constructor.
func (g *Generator) Generate(views ...MethodTableView) (*GeneratedClass, error) {
	ifaces, methods, err := collect(views)
	if err != nil {
		return nil, err
	}
	name := g.Names.Next()
	if err := ValidateClassName(name); err != nil {
		return nil, err
	}
	pool := classfile.NewPoolBuilder()

	spec := classfile.ClassSpec{
		AccessFlags: classfile.AccPublic | classfile.AccFinal | classfile.AccSuper,
		ThisClass:   name,
		SuperClass:  objectClass,
		Interfaces:  ifaces,
		Fields: []classfile.FieldSpec{{
			AccessFlags: classfile.AccPrivate | classfile.AccFinal,
			Name:        handlerField,
			Descriptor:  handlerDescriptor,
		}},
	}
	gc := &GeneratedClass{Name: name, Interfaces: ifaces}

	ctor, err := emitConstructor(pool, name)
	if err != nil {
		return nil, errors.Wrapf(err, "%s constructor", name)
	}
	spec.Methods = append(spec.Methods, classfile.MethodSpec{
		AccessFlags: classfile.AccPublic,
		Name:        "<init>",
		Descriptor:  CtorDescriptor,
		Code:        ctor,
	})
	gc.Methods = append(gc.Methods, MethodEntry{Signature: Signature{"<init>", CtorDescriptor}, Slot: 0})

	for _, m := range methods {
		slot := len(spec.Methods)
		code, err := emitForwarder(pool, name, slot, m.desc)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s", name, m.sig)
		}
		spec.Methods = append(spec.Methods, classfile.MethodSpec{
			AccessFlags: classfile.AccPublic | classfile.AccFinal,
			Name:        m.sig.Name,
			Descriptor:  m.sig.Descriptor,
			Code:        code,
		})
		gc.Methods = append(gc.Methods, MethodEntry{Signature: m.sig, Slot: slot})
	}

	gc.Bytes, err = classfile.Assemble(pool, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "assembling %s", name)
	}
	log.Debug("Generated proxy class", "name", name, "interfaces", len(ifaces), "methods", len(methods), "size", len(gc.Bytes))
	return gc, nil
}

// emitConstructor: super(); this.h = h.
func emitConstructor(pool *classfile.PoolBuilder, name string) (*classfile.CodeAttribute, error) {
	b := classfile.NewCodeBuilder(pool, 2)
	b.Load(classfile.KindReference, 0)
	b.InvokeSpecial(objectClass, "<init>", "()V")
	b.Load(classfile.KindReference, 0)
	b.Load(classfile.KindReference, 1)
	b.PutField(name, handlerField, handlerDescriptor)
	b.Return(classfile.KindVoid)
	return b.Build()
}

// emitForwarder emits the body of the method at slot:
//
//	return (R) h.invoke(this, new Method(this, slot), new Object[]{box(a0), ...});
func emitForwarder(pool *classfile.PoolBuilder, name string, slot int, d classfile.MethodDescriptor) (*classfile.CodeAttribute, error) {
	b := classfile.NewCodeBuilder(pool, d.ArgSlots()+1)

	b.Load(classfile.KindReference, 0)
	b.GetField(name, handlerField, handlerDescriptor)

	b.Load(classfile.KindReference, 0)
	b.New(methodClass)
	b.Op(classfile.OpDup, 1)
	b.Load(classfile.KindReference, 0)
	b.LdcInt(int32(slot))
	b.InvokeSpecial(methodClass, "<init>", methodInit)

	b.PushInt(int32(len(d.Params)))
	b.ANewArray(objectClass)
	local := 1
	for i, p := range d.Params {
		b.Op(classfile.OpDup, 1)
		b.PushInt(int32(i))
		b.Load(p.Kind, local)
		emitBox(b, p.Kind)
		b.Op(classfile.OpAastore, -3)
		local += p.Kind.Slots()
	}

	b.InvokeInterface(handlerClass, "invoke", invokeDescriptor)
	emitReturn(b, d.Return)
	return b.Build()
}

// emitBox converts the primitive on top of the stack to its wrapper.
func emitBox(b *classfile.CodeBuilder, k classfile.Kind) {
	w, ok := classfile.Wrappers[k]
	if !ok {
		return
	}
	b.InvokeStatic(w.ClassName, "valueOf", w.ValueOf)
}

// emitReturn converts the handler's Object result to t and returns it.
func emitReturn(b *classfile.CodeBuilder, t classfile.FieldType) {
	switch {
	case t.Kind == classfile.KindVoid:
		b.Op(classfile.OpPop, -1)
	case t.Kind == classfile.KindReference:
		if name := t.InternalName(); name != objectClass {
			b.CheckCast(name)
		}
	default:
		w := classfile.Wrappers[t.Kind]
		b.CheckCast(w.ClassName)
		b.InvokeVirtual(w.ClassName, w.Unbox, w.UnboxDesc)
	}
	b.Return(t.Kind)
}
