package vm

import (
	"fmt"
	"math"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

// Array type codes of the newarray instruction.
var newarrayTypes = map[uint8]struct {
	className string
	zero      Value
}{
	4:  {"[Z", IntValue(0)},
	5:  {"[C", IntValue(0)},
	6:  {"[F", FloatValue(0)},
	7:  {"[D", DoubleValue(0)},
	8:  {"[B", IntValue(0)},
	9:  {"[S", IntValue(0)},
	10: {"[I", IntValue(0)},
	11: {"[J", LongValue(0)},
}

// executeInstruction executes a single bytecode instruction.
// Returns (returnValue, hasReturn, error).
func (vm *VM) executeInstruction(frame *Frame, opcode byte) (Value, bool, error) {
	switch {
	// xload_<n>: iload_0 .. aload_3, four per kind
	case opcode >= classfile.OpIload0 && opcode <= classfile.OpAload3:
		frame.Push(frame.GetLocal(int(opcode-classfile.OpIload0) % 4))
		return Value{}, false, nil

	// xstore_<n>: istore_0 .. astore_3
	case opcode >= classfile.OpIstore0 && opcode <= classfile.OpAstore3:
		frame.SetLocal(int(opcode-classfile.OpIstore0)%4, frame.Pop())
		return Value{}, false, nil
	}

	switch opcode {
	case classfile.OpNop:
		// do nothing

	// --- Constant load instructions ---
	case classfile.OpAconstNull:
		frame.Push(NullValue())

	case classfile.OpIconstM1, classfile.OpIconst0, classfile.OpIconst1, classfile.OpIconst2,
		classfile.OpIconst3, classfile.OpIconst4, classfile.OpIconst5:
		frame.Push(IntValue(int32(opcode) - classfile.OpIconst0))

	case classfile.OpLconst0:
		frame.Push(LongValue(0))
	case classfile.OpLconst1:
		frame.Push(LongValue(1))

	case classfile.OpFconst0:
		frame.Push(FloatValue(0.0))
	case classfile.OpFconst1:
		frame.Push(FloatValue(1.0))
	case classfile.OpFconst2:
		frame.Push(FloatValue(2.0))

	case classfile.OpDconst0:
		frame.Push(DoubleValue(0.0))
	case classfile.OpDconst1:
		frame.Push(DoubleValue(1.0))

	case classfile.OpBipush:
		val := frame.ReadI8()
		frame.Push(IntValue(int32(val)))

	case classfile.OpSipush:
		val := frame.ReadI16()
		frame.Push(IntValue(int32(val)))

	case classfile.OpLdc:
		index := frame.ReadU8()
		return vm.executeLdc(frame, uint16(index))

	case classfile.OpLdcW:
		index := frame.ReadU16()
		return vm.executeLdc(frame, index)

	case classfile.OpLdc2W:
		return vm.executeLdc2W(frame)

	// --- Local variable load/store with an explicit index ---
	case classfile.OpIload, classfile.OpLload, classfile.OpFload, classfile.OpDload, classfile.OpAload:
		index := frame.ReadU8()
		frame.Push(frame.GetLocal(int(index)))

	case classfile.OpIstore, classfile.OpLstore, classfile.OpFstore, classfile.OpDstore, classfile.OpAstore:
		index := frame.ReadU8()
		frame.SetLocal(int(index), frame.Pop())

	// --- Array load ---
	case classfile.OpIaload, classfile.OpLaload, classfile.OpFaload, classfile.OpDaload,
		classfile.OpAaload, classfile.OpBaload, classfile.OpCaload, classfile.OpSaload:
		index := frame.Pop().Int
		arr, err := arrayRef(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(arr.Elements[index])

	// --- Array store ---
	case classfile.OpIastore, classfile.OpLastore, classfile.OpFastore, classfile.OpDastore,
		classfile.OpAastore, classfile.OpBastore, classfile.OpCastore, classfile.OpSastore:
		value := frame.Pop()
		index := frame.Pop().Int
		arr, err := arrayRef(frame.Pop(), index)
		if err != nil {
			return Value{}, false, err
		}
		switch opcode {
		case classfile.OpBastore:
			value = IntValue(int32(int8(value.Int)))
		case classfile.OpCastore:
			value = IntValue(int32(uint16(value.Int)))
		case classfile.OpSastore:
			value = IntValue(int32(int16(value.Int)))
		}
		arr.Elements[index] = value

	// --- Stack manipulation ---
	case classfile.OpPop:
		frame.Pop()

	case classfile.OpPop2:
		if v := frame.Pop(); !v.Wide() {
			frame.Pop()
		}

	case classfile.OpDup:
		v := frame.Peek()
		frame.Push(v)

	case classfile.OpDupX1:
		v1 := frame.Pop()
		v2 := frame.Pop()
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDupX2:
		v1 := frame.Pop()
		v2 := frame.Pop()
		if v2.Wide() {
			frame.Push(v1)
			frame.Push(v2)
			frame.Push(v1)
			break
		}
		v3 := frame.Pop()
		frame.Push(v1)
		frame.Push(v3)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpDup2:
		v1 := frame.Pop()
		if v1.Wide() {
			frame.Push(v1)
			frame.Push(v1)
			break
		}
		v2 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)
		frame.Push(v2)
		frame.Push(v1)

	case classfile.OpSwap:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(v2)
		frame.Push(v1)

	// --- int arithmetic ---
	case classfile.OpIadd, classfile.OpIsub, classfile.OpImul, classfile.OpIdiv, classfile.OpIrem,
		classfile.OpIshl, classfile.OpIshr, classfile.OpIushr, classfile.OpIand, classfile.OpIor, classfile.OpIxor:
		v2 := frame.Pop().Int
		v1 := frame.Pop().Int
		r, err := intOp(opcode, v1, v2)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(IntValue(r))

	case classfile.OpIneg:
		v := frame.Pop()
		frame.Push(IntValue(-v.Int))

	// --- long arithmetic ---
	case classfile.OpLadd, classfile.OpLsub, classfile.OpLmul, classfile.OpLdiv, classfile.OpLrem,
		classfile.OpLand, classfile.OpLor, classfile.OpLxor:
		v2 := frame.Pop().Long
		v1 := frame.Pop().Long
		r, err := longOp(opcode, v1, v2)
		if err != nil {
			return Value{}, false, err
		}
		frame.Push(LongValue(r))

	// Shift distances are ints even for long shifts.
	case classfile.OpLshl:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(LongValue(v1.Long << (uint(v2.Int) & 0x3f)))

	case classfile.OpLshr:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(LongValue(v1.Long >> (uint(v2.Int) & 0x3f)))

	case classfile.OpLushr:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(LongValue(int64(uint64(v1.Long) >> (uint(v2.Int) & 0x3f))))

	case classfile.OpLneg:
		v := frame.Pop()
		frame.Push(LongValue(-v.Long))

	// --- float and double arithmetic ---
	case classfile.OpFadd, classfile.OpFsub, classfile.OpFmul, classfile.OpFdiv, classfile.OpFrem:
		v2 := frame.Pop().Float
		v1 := frame.Pop().Float
		frame.Push(FloatValue(float32(floatOp(opcode-classfile.OpFadd, float64(v1), float64(v2)))))

	case classfile.OpDadd, classfile.OpDsub, classfile.OpDmul, classfile.OpDdiv, classfile.OpDrem:
		v2 := frame.Pop().Double
		v1 := frame.Pop().Double
		frame.Push(DoubleValue(floatOp(opcode-classfile.OpDadd, v1, v2)))

	case classfile.OpFneg:
		v := frame.Pop()
		frame.Push(FloatValue(-v.Float))

	case classfile.OpDneg:
		v := frame.Pop()
		frame.Push(DoubleValue(-v.Double))

	case classfile.OpIinc:
		index := frame.ReadU8()
		constVal := frame.ReadI8()
		local := frame.GetLocal(int(index))
		frame.SetLocal(int(index), IntValue(local.Int+int32(constVal)))

	// --- Type conversions ---
	case classfile.OpI2l:
		frame.Push(LongValue(int64(frame.Pop().Int)))
	case classfile.OpI2f:
		frame.Push(FloatValue(float32(frame.Pop().Int)))
	case classfile.OpI2d:
		frame.Push(DoubleValue(float64(frame.Pop().Int)))
	case classfile.OpL2i:
		frame.Push(IntValue(int32(frame.Pop().Long)))
	case classfile.OpL2f:
		frame.Push(FloatValue(float32(frame.Pop().Long)))
	case classfile.OpL2d:
		frame.Push(DoubleValue(float64(frame.Pop().Long)))
	case classfile.OpF2i:
		frame.Push(IntValue(f2i(float64(frame.Pop().Float))))
	case classfile.OpF2l:
		frame.Push(LongValue(f2l(float64(frame.Pop().Float))))
	case classfile.OpF2d:
		frame.Push(DoubleValue(float64(frame.Pop().Float)))
	case classfile.OpD2i:
		frame.Push(IntValue(f2i(frame.Pop().Double)))
	case classfile.OpD2l:
		frame.Push(LongValue(f2l(frame.Pop().Double)))
	case classfile.OpD2f:
		frame.Push(FloatValue(float32(frame.Pop().Double)))
	case classfile.OpI2b:
		frame.Push(IntValue(int32(int8(frame.Pop().Int))))
	case classfile.OpI2c:
		frame.Push(IntValue(int32(uint16(frame.Pop().Int))))
	case classfile.OpI2s:
		frame.Push(IntValue(int32(int16(frame.Pop().Int))))

	// --- Comparisons ---
	case classfile.OpLcmp:
		v2 := frame.Pop()
		v1 := frame.Pop()
		if v1.Long > v2.Long {
			frame.Push(IntValue(1))
		} else if v1.Long < v2.Long {
			frame.Push(IntValue(-1))
		} else {
			frame.Push(IntValue(0))
		}

	case classfile.OpFcmpl, classfile.OpFcmpg:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(IntValue(compareFloat(float64(v1.Float), float64(v2.Float), opcode == classfile.OpFcmpg)))

	case classfile.OpDcmpl, classfile.OpDcmpg:
		v2 := frame.Pop()
		v1 := frame.Pop()
		frame.Push(IntValue(compareFloat(v1.Double, v2.Double, opcode == classfile.OpDcmpg)))

	// --- Comparison and branch ---
	case classfile.OpIfeq:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v == 0 })
	case classfile.OpIfne:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v != 0 })
	case classfile.OpIflt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v < 0 })
	case classfile.OpIfge:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v >= 0 })
	case classfile.OpIfgt:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v > 0 })
	case classfile.OpIfle:
		return vm.executeBranchUnary(frame, func(v int32) bool { return v <= 0 })

	case classfile.OpIfIcmpeq:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 == v2 })
	case classfile.OpIfIcmpne:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 != v2 })
	case classfile.OpIfIcmplt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 < v2 })
	case classfile.OpIfIcmpge:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 >= v2 })
	case classfile.OpIfIcmpgt:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 > v2 })
	case classfile.OpIfIcmple:
		return vm.executeBranchBinary(frame, func(v1, v2 int32) bool { return v1 <= v2 })

	case classfile.OpIfAcmpeq, classfile.OpIfAcmpne:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		v2 := frame.Pop()
		v1 := frame.Pop()
		eq := v1.IsNull() && v2.IsNull() || !v1.IsNull() && !v2.IsNull() && sameRef(v1.Ref, v2.Ref)
		if eq == (opcode == classfile.OpIfAcmpeq) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpIfnull, classfile.OpIfnonnull:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		if frame.Pop().IsNull() == (opcode == classfile.OpIfnull) {
			frame.PC = branchPC + int(offset)
		}

	case classfile.OpGoto:
		branchPC := frame.PC - 1
		offset := frame.ReadI16()
		frame.PC = branchPC + int(offset)

	case classfile.OpGotoW:
		branchPC := frame.PC - 1
		offset := frame.ReadI32()
		frame.PC = branchPC + int(offset)

	case classfile.OpTableswitch:
		// PC of the tableswitch opcode
		opcodePC := frame.PC - 1
		// Padding to align to 4-byte boundary
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		low := frame.ReadI32()
		high := frame.ReadI32()
		numOffsets := int(high - low + 1)
		offsets := make([]int32, numOffsets)
		for i := 0; i < numOffsets; i++ {
			offsets[i] = frame.ReadI32()
		}
		index := frame.Pop().Int
		if index >= low && index <= high {
			frame.PC = opcodePC + int(offsets[index-low])
		} else {
			frame.PC = opcodePC + int(defaultOffset)
		}

	case classfile.OpLookupswitch:
		opcodePC := frame.PC - 1
		for frame.PC%4 != 0 {
			frame.PC++
		}
		defaultOffset := frame.ReadI32()
		npairs := frame.ReadI32()
		key := frame.Pop().Int
		target := opcodePC + int(defaultOffset)
		for i := int32(0); i < npairs; i++ {
			matchVal := frame.ReadI32()
			offset := frame.ReadI32()
			if key == matchVal {
				target = opcodePC + int(offset)
			}
		}
		frame.PC = target

	// --- Return ---
	case classfile.OpIreturn, classfile.OpLreturn, classfile.OpFreturn, classfile.OpDreturn, classfile.OpAreturn:
		return frame.Pop(), true, nil

	case classfile.OpReturn:
		return Value{}, true, nil

	// --- Method invocation and field access ---
	case classfile.OpGetstatic:
		return vm.executeGetstatic(frame)

	case classfile.OpPutstatic:
		return vm.executePutstatic(frame)

	case classfile.OpGetfield:
		return vm.executeGetfield(frame)

	case classfile.OpPutfield:
		return vm.executePutfield(frame)

	case classfile.OpInvokevirtual:
		return vm.executeInvokevirtual(frame, false)

	case classfile.OpInvokeinterface:
		return vm.executeInvokevirtual(frame, true)

	case classfile.OpInvokespecial:
		return vm.executeInvokespecial(frame)

	case classfile.OpInvokestatic:
		return vm.executeInvokestatic(frame)

	case classfile.OpNew:
		return vm.executeNew(frame)

	case classfile.OpNewarray:
		atype := frame.ReadU8()
		t, ok := newarrayTypes[atype]
		if !ok {
			return Value{}, false, fmt.Errorf("newarray: unknown array type %d", atype)
		}
		count := frame.Pop().Int
		if count < 0 {
			return Value{}, false, throwf("java/lang/NegativeArraySizeException", "%d", count)
		}
		elements := make([]Value, count)
		for i := range elements {
			elements[i] = t.zero
		}
		frame.Push(RefValue(&JArray{ClassName: t.className, Elements: elements}))

	case classfile.OpAnewarray:
		index := frame.ReadU16()
		elemClass, err := classfile.GetClassName(frame.Pool(), index)
		if err != nil {
			return Value{}, false, fmt.Errorf("anewarray: %w", err)
		}
		count := frame.Pop().Int
		if count < 0 {
			return Value{}, false, throwf("java/lang/NegativeArraySizeException", "%d", count)
		}
		elements := make([]Value, count)
		for i := range elements {
			elements[i] = NullValue()
		}
		frame.Push(RefValue(&JArray{ClassName: arrayClassOf(elemClass), Elements: elements}))

	case classfile.OpArraylength:
		arrRef := frame.Pop()
		if arrRef.IsNull() {
			return Value{}, false, NewJavaException("java/lang/NullPointerException")
		}
		arr, ok := arrRef.Ref.(*JArray)
		if !ok {
			return Value{}, false, fmt.Errorf("arraylength: reference is not an array")
		}
		frame.Push(IntValue(int32(len(arr.Elements))))

	case classfile.OpAthrow:
		excRef := frame.Pop()
		if excRef.IsNull() {
			return Value{}, false, NewJavaException("java/lang/NullPointerException")
		}
		if obj, ok := excRef.Ref.(*JObject); ok {
			return Value{}, false, &JavaException{Object: obj}
		}
		return Value{}, false, fmt.Errorf("athrow: %s is not throwable", classNameOf(excRef.Ref))

	case classfile.OpCheckcast:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Pool(), index)
		if err != nil {
			return Value{}, false, fmt.Errorf("checkcast: %w", err)
		}
		val := frame.Peek()
		if !val.IsNull() {
			if got := classNameOf(val.Ref); !vm.isInstanceOf(got, className) {
				return Value{}, false, throwf("java/lang/ClassCastException", "%s cannot be cast to %s", got, className)
			}
		}

	case classfile.OpInstanceof:
		index := frame.ReadU16()
		className, err := classfile.GetClassName(frame.Pool(), index)
		if err != nil {
			return Value{}, false, fmt.Errorf("instanceof: %w", err)
		}
		ref := frame.Pop()
		if !ref.IsNull() && vm.isInstanceOf(classNameOf(ref.Ref), className) {
			frame.Push(IntValue(1))
		} else {
			frame.Push(IntValue(0))
		}

	default:
		return Value{}, false, fmt.Errorf("unknown opcode: 0x%02X at PC=%d", opcode, frame.PC-1)
	}

	return Value{}, false, nil
}

// arrayRef checks an array access and returns the array.
func arrayRef(ref Value, index int32) (*JArray, error) {
	if ref.IsNull() {
		return nil, NewJavaException("java/lang/NullPointerException")
	}
	arr, ok := ref.Ref.(*JArray)
	if !ok {
		return nil, fmt.Errorf("array access: %s is not an array", classNameOf(ref.Ref))
	}
	if index < 0 || int(index) >= len(arr.Elements) {
		return nil, throwf("java/lang/ArrayIndexOutOfBoundsException", "Index %d out of bounds for length %d", index, len(arr.Elements))
	}
	return arr, nil
}

// arrayClassOf returns the class name of an array whose elements are of
// class elem.
func arrayClassOf(elem string) string {
	if elem[0] == '[' {
		return "[" + elem
	}
	return "[L" + elem + ";"
}

func intOp(opcode byte, v1, v2 int32) (int32, error) {
	switch opcode {
	case classfile.OpIadd:
		return v1 + v2, nil
	case classfile.OpIsub:
		return v1 - v2, nil
	case classfile.OpImul:
		return v1 * v2, nil
	case classfile.OpIdiv, classfile.OpIrem:
		if v2 == 0 {
			return 0, throwf("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == classfile.OpIdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case classfile.OpIshl:
		return v1 << (uint(v2) & 0x1f), nil
	case classfile.OpIshr:
		return v1 >> (uint(v2) & 0x1f), nil
	case classfile.OpIushr:
		return int32(uint32(v1) >> (uint(v2) & 0x1f)), nil
	case classfile.OpIand:
		return v1 & v2, nil
	case classfile.OpIor:
		return v1 | v2, nil
	default: // ixor
		return v1 ^ v2, nil
	}
}

func longOp(opcode byte, v1, v2 int64) (int64, error) {
	switch opcode {
	case classfile.OpLadd:
		return v1 + v2, nil
	case classfile.OpLsub:
		return v1 - v2, nil
	case classfile.OpLmul:
		return v1 * v2, nil
	case classfile.OpLdiv, classfile.OpLrem:
		if v2 == 0 {
			return 0, throwf("java/lang/ArithmeticException", "/ by zero")
		}
		if opcode == classfile.OpLdiv {
			return v1 / v2, nil
		}
		return v1 % v2, nil
	case classfile.OpLand:
		return v1 & v2, nil
	case classfile.OpLor:
		return v1 | v2, nil
	default: // lxor
		return v1 ^ v2, nil
	}
}

// floatOp applies add, sub, mul, div or rem, selected by the opcode's
// distance from the family's add instruction in steps of four.
func floatOp(rel byte, v1, v2 float64) float64 {
	switch rel / 4 {
	case 0:
		return v1 + v2
	case 1:
		return v1 - v2
	case 2:
		return v1 * v2
	case 3:
		return v1 / v2
	default:
		return math.Mod(v1, v2)
	}
}

// compareFloat implements fcmp/dcmp. NaN yields 1 for the g variants and
// -1 for the l variants.
func compareFloat(v1, v2 float64, nanIsGreater bool) int32 {
	switch {
	case math.IsNaN(v1) || math.IsNaN(v2):
		if nanIsGreater {
			return 1
		}
		return -1
	case v1 > v2:
		return 1
	case v1 < v2:
		return -1
	default:
		return 0
	}
}

// executeBranchUnary handles unary branch instructions (ifeq, ifne, etc.)
func (vm *VM) executeBranchUnary(frame *Frame, cond func(int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	val := frame.Pop()
	if cond(val.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}

// executeBranchBinary handles binary branch instructions (if_icmpeq, etc.)
func (vm *VM) executeBranchBinary(frame *Frame, cond func(int32, int32) bool) (Value, bool, error) {
	branchPC := frame.PC - 1 // PC of the branch instruction
	offset := frame.ReadI16()
	v2 := frame.Pop()
	v1 := frame.Pop()
	if cond(v1.Int, v2.Int) {
		frame.PC = branchPC + int(offset)
	}
	return Value{}, false, nil
}
