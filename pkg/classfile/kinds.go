package classfile

// Wrapper describes the boxed form of a primitive kind.
type Wrapper struct {
	ClassName string // e.g. java/lang/Integer
	ValueOf   string // descriptor of the static valueOf factory
	Unbox     string // name of the instance unboxing method
	UnboxDesc string // descriptor of the unboxing method
}

// Wrappers maps each primitive kind to its wrapper class. Both the proxy
// emitter and the interpreter's natives are driven by this table.
var Wrappers = map[Kind]Wrapper{
	KindBoolean: {"java/lang/Boolean", "(Z)Ljava/lang/Boolean;", "booleanValue", "()Z"},
	KindByte:    {"java/lang/Byte", "(B)Ljava/lang/Byte;", "byteValue", "()B"},
	KindChar:    {"java/lang/Character", "(C)Ljava/lang/Character;", "charValue", "()C"},
	KindShort:   {"java/lang/Short", "(S)Ljava/lang/Short;", "shortValue", "()S"},
	KindInt:     {"java/lang/Integer", "(I)Ljava/lang/Integer;", "intValue", "()I"},
	KindLong:    {"java/lang/Long", "(J)Ljava/lang/Long;", "longValue", "()J"},
	KindFloat:   {"java/lang/Float", "(F)Ljava/lang/Float;", "floatValue", "()F"},
	KindDouble:  {"java/lang/Double", "(D)Ljava/lang/Double;", "doubleValue", "()D"},
}

// WrapperKind returns the primitive kind boxed by className.
func WrapperKind(className string) (Kind, bool) {
	for k, w := range Wrappers {
		if w.ClassName == className {
			return k, true
		}
	}
	return 0, false
}

// Per-kind opcode families. Boolean, byte, char and short use the int
// instructions on the operand stack.
var (
	loadOps = map[Kind]byte{
		KindBoolean: OpIload, KindByte: OpIload, KindChar: OpIload, KindShort: OpIload, KindInt: OpIload,
		KindLong: OpLload, KindFloat: OpFload, KindDouble: OpDload, KindReference: OpAload,
	}
	storeOps = map[Kind]byte{
		KindBoolean: OpIstore, KindByte: OpIstore, KindChar: OpIstore, KindShort: OpIstore, KindInt: OpIstore,
		KindLong: OpLstore, KindFloat: OpFstore, KindDouble: OpDstore, KindReference: OpAstore,
	}
	returnOps = map[Kind]byte{
		KindVoid:    OpReturn,
		KindBoolean: OpIreturn, KindByte: OpIreturn, KindChar: OpIreturn, KindShort: OpIreturn, KindInt: OpIreturn,
		KindLong: OpLreturn, KindFloat: OpFreturn, KindDouble: OpDreturn, KindReference: OpAreturn,
	}
)
