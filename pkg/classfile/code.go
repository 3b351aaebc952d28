package classfile

import (
	"fmt"
	"math"
)

// maxCodeLength is the JVM limit on code_length for a single method.
const maxCodeLength = math.MaxUint16

// Label is a branch target inside a CodeBuilder.
type Label struct {
	pc    int
	bound bool
}

type fixup struct {
	label  *Label
	opPC   int // pc of the branch opcode
	offset int // position of the 16-bit offset operand
}

type pendingHandler struct {
	start, end, handler *Label
	catchType           string
}

// CodeBuilder emits bytecode for one method. It tracks the operand stack
// depth in JVM slots (long and double count two) and the highest local
// slot touched, so max_stack and max_locals come out of emission itself.
// The first error is sticky and returned by Build.
type CodeBuilder struct {
	pool      *PoolBuilder
	code      []byte
	stack     int
	maxStack  int
	maxLocals int
	fixups    []fixup
	handlers  []pendingHandler
	err       error
}

// NewCodeBuilder starts a method body whose parameters (including the
// receiver) occupy the first locals slots.
func NewCodeBuilder(pool *PoolBuilder, locals int) *CodeBuilder {
	return &CodeBuilder{pool: pool, maxLocals: locals}
}

// Err returns the first emission error.
func (b *CodeBuilder) Err() error { return b.err }

// Stack returns the current operand stack depth in slots.
func (b *CodeBuilder) Stack() int { return b.stack }

// PC returns the offset of the next emitted byte.
func (b *CodeBuilder) PC() int { return len(b.code) }

func (b *CodeBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *CodeBuilder) adjust(delta int) {
	b.stack += delta
	if b.stack < 0 {
		b.fail(fmt.Errorf("operand stack underflow at pc %d", len(b.code)))
		b.stack = 0
	}
	if b.stack > b.maxStack {
		b.maxStack = b.stack
	}
}

func (b *CodeBuilder) touchLocal(idx int, k Kind) {
	if end := idx + k.Slots(); end > b.maxLocals {
		b.maxLocals = end
	}
}

func (b *CodeBuilder) u16(v uint16) {
	b.code = append(b.code, byte(v>>8), byte(v))
}

// Op emits a single opcode with an explicit stack effect.
func (b *CodeBuilder) Op(op byte, delta int) {
	b.code = append(b.code, op)
	b.adjust(delta)
}

// PushInt pushes an int constant with the shortest encoding.
func (b *CodeBuilder) PushInt(v int32) {
	switch {
	case v >= -1 && v <= 5:
		b.Op(byte(OpIconst0+v), 1)
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.Op(OpBipush, 1)
		b.code = append(b.code, byte(int8(v)))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b.Op(OpSipush, 1)
		b.u16(uint16(int16(v)))
	default:
		b.LdcInt(v)
	}
}

// LdcInt loads an int through a CONSTANT_Integer entry, using ldc_w when the
// index does not fit a byte.
func (b *CodeBuilder) LdcInt(v int32) {
	idx, err := b.pool.AddInteger(v)
	if err != nil {
		b.fail(err)
		return
	}
	b.ldc(idx)
}

// LdcString loads a string constant.
func (b *CodeBuilder) LdcString(s string) {
	idx, err := b.pool.AddString(s)
	if err != nil {
		b.fail(err)
		return
	}
	b.ldc(idx)
}

func (b *CodeBuilder) ldc(idx uint16) {
	if idx <= math.MaxUint8 {
		b.Op(OpLdc, 1)
		b.code = append(b.code, byte(idx))
		return
	}
	b.Op(OpLdcW, 1)
	b.u16(idx)
}

// localOp emits the short form (xload_0..3) when possible.
func (b *CodeBuilder) localOp(base, short byte, idx int, delta int) {
	switch {
	case idx < 0 || idx > math.MaxUint8:
		b.fail(fmt.Errorf("%w: local index %d", ErrAssemblyOverflow, idx))
	case idx <= 3:
		b.Op(short+byte(idx), delta)
	default:
		b.Op(base, delta)
		b.code = append(b.code, byte(idx))
	}
}

var (
	loadShort  = map[byte]byte{OpIload: OpIload0, OpLload: OpLload0, OpFload: OpFload0, OpDload: OpDload0, OpAload: OpAload0}
	storeShort = map[byte]byte{OpIstore: OpIstore0, OpLstore: OpLstore0, OpFstore: OpFstore0, OpDstore: OpDstore0, OpAstore: OpAstore0}
)

// Load pushes local idx of kind k.
func (b *CodeBuilder) Load(k Kind, idx int) {
	op, ok := loadOps[k]
	if !ok {
		b.fail(fmt.Errorf("load: no instruction for %s", k))
		return
	}
	b.touchLocal(idx, k)
	b.localOp(op, loadShort[op], idx, k.Slots())
}

// Store pops into local idx of kind k.
func (b *CodeBuilder) Store(k Kind, idx int) {
	op, ok := storeOps[k]
	if !ok {
		b.fail(fmt.Errorf("store: no instruction for %s", k))
		return
	}
	b.touchLocal(idx, k)
	b.localOp(op, storeShort[op], idx, -k.Slots())
}

// Return emits the return instruction for kind k.
func (b *CodeBuilder) Return(k Kind) {
	b.Op(returnOps[k], -k.Slots())
}

// member emits op with a u2 pool operand. Operands are popped before the
// result is pushed, so underflow is caught even when the net effect is positive.
func (b *CodeBuilder) member(op byte, idx uint16, err error, pop, push int) {
	if err != nil {
		b.fail(err)
		return
	}
	b.Op(op, -pop)
	b.adjust(push)
	b.u16(idx)
}

func (b *CodeBuilder) fieldSlots(descriptor string) int {
	t, err := ParseFieldType(descriptor)
	if err != nil {
		b.fail(err)
		return 0
	}
	return t.Kind.Slots()
}

// GetField emits getfield.
func (b *CodeBuilder) GetField(class, name, descriptor string) {
	idx, err := b.pool.AddFieldRef(class, name, descriptor)
	b.member(OpGetfield, idx, err, 1, b.fieldSlots(descriptor))
}

// PutField emits putfield.
func (b *CodeBuilder) PutField(class, name, descriptor string) {
	idx, err := b.pool.AddFieldRef(class, name, descriptor)
	b.member(OpPutfield, idx, err, b.fieldSlots(descriptor)+1, 0)
}

// GetStatic emits getstatic.
func (b *CodeBuilder) GetStatic(class, name, descriptor string) {
	idx, err := b.pool.AddFieldRef(class, name, descriptor)
	b.member(OpGetstatic, idx, err, 0, b.fieldSlots(descriptor))
}

// PutStatic emits putstatic.
func (b *CodeBuilder) PutStatic(class, name, descriptor string) {
	idx, err := b.pool.AddFieldRef(class, name, descriptor)
	b.member(OpPutstatic, idx, err, b.fieldSlots(descriptor), 0)
}

// invoke emits one of the invoke instructions. The pool index is resolved
// with addRef; the descriptor gives the operand and result slot counts.
func (b *CodeBuilder) invoke(op byte, addRef func(class, name, descriptor string) (uint16, error), class, name, descriptor string, receiver bool) (MethodDescriptor, bool) {
	d, err := ParseMethodDescriptor(descriptor)
	if err != nil {
		b.fail(err)
		return d, false
	}
	pop := d.ArgSlots()
	if receiver {
		pop++
	}
	idx, err := addRef(class, name, descriptor)
	b.member(op, idx, err, pop, d.Return.Kind.Slots())
	return d, err == nil
}

// InvokeVirtual emits invokevirtual.
func (b *CodeBuilder) InvokeVirtual(class, name, descriptor string) {
	b.invoke(OpInvokevirtual, b.pool.AddMethodRef, class, name, descriptor, true)
}

// InvokeSpecial emits invokespecial.
func (b *CodeBuilder) InvokeSpecial(class, name, descriptor string) {
	b.invoke(OpInvokespecial, b.pool.AddMethodRef, class, name, descriptor, true)
}

// InvokeStatic emits invokestatic.
func (b *CodeBuilder) InvokeStatic(class, name, descriptor string) {
	b.invoke(OpInvokestatic, b.pool.AddMethodRef, class, name, descriptor, false)
}

// InvokeInterface emits invokeinterface with its count operand.
func (b *CodeBuilder) InvokeInterface(class, name, descriptor string) {
	if d, ok := b.invoke(OpInvokeinterface, b.pool.AddInterfaceMethodRef, class, name, descriptor, true); ok {
		b.code = append(b.code, byte(d.ArgSlots()+1), 0)
	}
}

func (b *CodeBuilder) classOp(op byte, class string, pop int) {
	idx, err := b.pool.AddClass(class)
	b.member(op, idx, err, pop, 1)
}

// New emits new.
func (b *CodeBuilder) New(class string) { b.classOp(OpNew, class, 0) }

// ANewArray emits anewarray; the count is already on the stack.
func (b *CodeBuilder) ANewArray(class string) { b.classOp(OpAnewarray, class, 1) }

// CheckCast emits checkcast.
func (b *CodeBuilder) CheckCast(class string) { b.classOp(OpCheckcast, class, 1) }

// InstanceOf emits instanceof.
func (b *CodeBuilder) InstanceOf(class string) { b.classOp(OpInstanceof, class, 1) }

// NewLabel creates an unbound label.
func (b *CodeBuilder) NewLabel() *Label { return &Label{} }

// Bind places l at the current pc.
func (b *CodeBuilder) Bind(l *Label) {
	l.pc = len(b.code)
	l.bound = true
}

// BindHandler places an exception handler entry point: the operand stack
// holds exactly the thrown reference.
func (b *CodeBuilder) BindHandler(l *Label) {
	b.Bind(l)
	b.stack = 0
	b.adjust(1)
}

// Branch emits a 16-bit branch. delta is the stack effect of the opcode.
func (b *CodeBuilder) Branch(op byte, l *Label, delta int) {
	opPC := len(b.code)
	b.Op(op, delta)
	b.fixups = append(b.fixups, fixup{label: l, opPC: opPC, offset: len(b.code)})
	b.u16(0)
}

// Catch registers an exception table entry covering [start, end).
// An empty catchType catches everything.
func (b *CodeBuilder) Catch(start, end, handler *Label, catchType string) {
	b.handlers = append(b.handlers, pendingHandler{start: start, end: end, handler: handler, catchType: catchType})
}

// Build resolves branches and returns the finished Code attribute.
func (b *CodeBuilder) Build() (*CodeAttribute, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.code) > maxCodeLength {
		return nil, fmt.Errorf("%w: code length %d", ErrAssemblyOverflow, len(b.code))
	}
	if b.maxStack > math.MaxUint16 || b.maxLocals > math.MaxUint16 {
		return nil, fmt.Errorf("%w: max_stack %d, max_locals %d", ErrAssemblyOverflow, b.maxStack, b.maxLocals)
	}
	for _, f := range b.fixups {
		if !f.label.bound {
			return nil, fmt.Errorf("branch at pc %d targets an unbound label", f.opPC)
		}
		off := f.label.pc - f.opPC
		if off < math.MinInt16 || off > math.MaxInt16 {
			return nil, fmt.Errorf("%w: branch offset %d", ErrAssemblyOverflow, off)
		}
		b.code[f.offset] = byte(uint16(int16(off)) >> 8)
		b.code[f.offset+1] = byte(uint16(int16(off)))
	}
	var table []ExceptionHandler
	for _, h := range b.handlers {
		if !h.start.bound || !h.end.bound || !h.handler.bound {
			return nil, fmt.Errorf("exception handler uses an unbound label")
		}
		var catchIdx uint16
		if h.catchType != "" {
			idx, err := b.pool.AddClass(h.catchType)
			if err != nil {
				return nil, err
			}
			catchIdx = idx
		}
		table = append(table, ExceptionHandler{
			StartPC:   uint16(h.start.pc),
			EndPC:     uint16(h.end.pc),
			HandlerPC: uint16(h.handler.pc),
			CatchType: catchIdx,
		})
	}
	return &CodeAttribute{
		MaxStack:          uint16(b.maxStack),
		MaxLocals:         uint16(b.maxLocals),
		Code:              b.code,
		ExceptionHandlers: table,
	}, nil
}
