package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

const (
	kInt    = classfile.KindInt
	kLong   = classfile.KindLong
	kDouble = classfile.KindDouble
	kRef    = classfile.KindReference
	kVoid   = classfile.KindVoid
)

// runMain defines the classes, executes main of the last one, and returns
// the captured stdout output.
func runMain(t *testing.T, specs ...testClassSpec) string {
	t.Helper()

	var buf bytes.Buffer
	v := newTestVM(t)
	v.Stdout = &buf
	define(t, v, specs...)

	if err := v.Execute(specs[len(specs)-1].name); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	return buf.String()
}

func TestHello(t *testing.T) {
	got := runMain(t, testClassSpec{
		name: "Hello",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			printInt(b, func() { b.PushInt(42) })
		})},
	})
	want := "42\n"
	if got != want {
		t.Errorf("Hello output:\ngot  %q\nwant %q", got, want)
	}
}

func TestPrintString(t *testing.T) {
	got := runMain(t, testClassSpec{
		name: "PrintString",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			b.GetStatic("java/lang/System", "out", "Ljava/io/PrintStream;")
			b.LdcString("Hello, World!")
			b.InvokeVirtual("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
		})},
	})
	want := "Hello, World!\n"
	if got != want {
		t.Errorf("PrintString output:\ngot  %q\nwant %q", got, want)
	}
}

func TestAdd(t *testing.T) {
	add := testMethod{
		flags: classfile.AccPublic | classfile.AccStatic, name: "add", desc: "(II)I", locals: 2,
		emit: func(b *classfile.CodeBuilder) {
			b.Load(kInt, 0)
			b.Load(kInt, 1)
			b.Op(classfile.OpIadd, -1)
			b.Return(kInt)
		},
	}
	got := runMain(t, testClassSpec{
		name: "Add",
		methods: []testMethod{add, mainMethod(1, func(b *classfile.CodeBuilder) {
			printInt(b, func() {
				b.PushInt(3)
				b.PushInt(4)
				b.InvokeStatic("Add", "add", "(II)I")
			})
		})},
	})
	want := "7\n"
	if got != want {
		t.Errorf("Add output:\ngot  %q\nwant %q", got, want)
	}
}

func TestFib(t *testing.T) {
	// static int fib(int n) { return n < 2 ? n : fib(n-1) + fib(n-2); }
	fib := testMethod{
		flags: classfile.AccPublic | classfile.AccStatic, name: "fib", desc: "(I)I", locals: 1,
		emit: func(b *classfile.CodeBuilder) {
			recurse := b.NewLabel()
			b.Load(kInt, 0)
			b.PushInt(2)
			b.Branch(classfile.OpIfIcmpge, recurse, -2)
			b.Load(kInt, 0)
			b.Return(kInt)
			b.Bind(recurse)
			b.Load(kInt, 0)
			b.PushInt(1)
			b.Op(classfile.OpIsub, -1)
			b.InvokeStatic("Fib", "fib", "(I)I")
			b.Load(kInt, 0)
			b.PushInt(2)
			b.Op(classfile.OpIsub, -1)
			b.InvokeStatic("Fib", "fib", "(I)I")
			b.Op(classfile.OpIadd, -1)
			b.Return(kInt)
		},
	}
	got := runMain(t, testClassSpec{
		name: "Fib",
		methods: []testMethod{fib, mainMethod(1, func(b *classfile.CodeBuilder) {
			printInt(b, func() {
				b.PushInt(11)
				b.InvokeStatic("Fib", "fib", "(I)I")
			})
		})},
	})
	want := "89\n"
	if got != want {
		t.Errorf("Fib output:\ngot  %q\nwant %q", got, want)
	}
}

// valueMethod returns a method int value() { return n; }.
func valueMethod(n int32) testMethod {
	return testMethod{
		flags: classfile.AccPublic, name: "value", desc: "()I", locals: 1,
		emit: func(b *classfile.CodeBuilder) {
			b.PushInt(n)
			b.Return(kInt)
		},
	}
}

func TestInheritance(t *testing.T) {
	base := testClassSpec{name: "Base", methods: []testMethod{ctor("java/lang/Object"), valueMethod(1)}}
	derived := testClassSpec{name: "Derived", super: "Base", methods: []testMethod{ctor("Base"), valueMethod(2)}}
	main := testClassSpec{
		name: "Inheritance",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			for _, class := range []string{"Base", "Derived"} {
				printInt(b, func() {
					b.New(class)
					b.Op(classfile.OpDup, 1)
					b.InvokeSpecial(class, "<init>", "()V")
					// Static type is Base; dispatch picks the override.
					b.InvokeVirtual("Base", "value", "()I")
				})
			}
		})},
	}
	got := runMain(t, base, derived, main)
	want := "1\n2\n"
	if got != want {
		t.Errorf("Inheritance output:\ngot  %q\nwant %q", got, want)
	}
}

func shapeClasses() []testClassSpec {
	shape := testClassSpec{
		name:  "Shape",
		flags: classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract,
		methods: []testMethod{
			{flags: classfile.AccPublic | classfile.AccAbstract, name: "area", desc: "()I"},
		},
	}
	square := testClassSpec{
		name:       "Square",
		interfaces: []string{"Shape"},
		fields:     []classfile.FieldSpec{{AccessFlags: classfile.AccPrivate, Name: "side", Descriptor: "I"}},
		methods: []testMethod{
			{
				flags: classfile.AccPublic, name: "<init>", desc: "(I)V", locals: 2,
				emit: func(b *classfile.CodeBuilder) {
					b.Load(kRef, 0)
					b.InvokeSpecial("java/lang/Object", "<init>", "()V")
					b.Load(kRef, 0)
					b.Load(kInt, 1)
					b.PutField("Square", "side", "I")
					b.Return(kVoid)
				},
			},
			{
				flags: classfile.AccPublic, name: "area", desc: "()I", locals: 1,
				emit: func(b *classfile.CodeBuilder) {
					b.Load(kRef, 0)
					b.GetField("Square", "side", "I")
					b.Load(kRef, 0)
					b.GetField("Square", "side", "I")
					b.Op(classfile.OpImul, -1)
					b.Return(kInt)
				},
			},
		},
	}
	return []testClassSpec{shape, square}
}

func TestInterface(t *testing.T) {
	main := testClassSpec{
		name: "InterfaceMain",
		methods: []testMethod{mainMethod(2, func(b *classfile.CodeBuilder) {
			b.New("Square")
			b.Op(classfile.OpDup, 1)
			b.PushInt(3)
			b.InvokeSpecial("Square", "<init>", "(I)V")
			b.Store(kRef, 1)
			printInt(b, func() {
				b.Load(kRef, 1)
				b.InvokeInterface("Shape", "area", "()I")
			})
			b.Load(kRef, 1)
			b.InstanceOf("Shape")
			b.Store(kInt, 1)
			printInt(b, func() { b.Load(kInt, 1) })
		})},
	}
	got := runMain(t, append(shapeClasses(), main)...)
	want := "9\n1\n"
	if got != want {
		t.Errorf("Interface output:\ngot  %q\nwant %q", got, want)
	}
}

func TestTryCatch(t *testing.T) {
	// static int div(int a, int b) {
	//   try { return a / b; } catch (ArithmeticException e) { return -1; }
	// }
	div := testMethod{
		flags: classfile.AccPublic | classfile.AccStatic, name: "div", desc: "(II)I", locals: 2,
		emit: func(b *classfile.CodeBuilder) {
			start, end, handler := b.NewLabel(), b.NewLabel(), b.NewLabel()
			b.Bind(start)
			b.Load(kInt, 0)
			b.Load(kInt, 1)
			b.Op(classfile.OpIdiv, -1)
			b.Return(kInt)
			b.Bind(end)
			b.BindHandler(handler)
			b.Op(classfile.OpPop, -1)
			b.PushInt(-1)
			b.Return(kInt)
			b.Catch(start, end, handler, "java/lang/ArithmeticException")
		},
	}
	got := runMain(t, testClassSpec{
		name: "TryCatch",
		methods: []testMethod{div, mainMethod(1, func(b *classfile.CodeBuilder) {
			for _, args := range [][2]int32{{10, 2}, {1, 0}, {0, 7}} {
				printInt(b, func() {
					b.PushInt(args[0])
					b.PushInt(args[1])
					b.InvokeStatic("TryCatch", "div", "(II)I")
				})
			}
		})},
	})
	want := "5\n-1\n0\n"
	if got != want {
		t.Errorf("TryCatch output:\ngot  %q\nwant %q", got, want)
	}
}

func TestUserExceptionCaughtBySuperclass(t *testing.T) {
	myException := testClassSpec{
		name:  "MyException",
		super: "java/lang/RuntimeException",
		methods: []testMethod{{
			flags: classfile.AccPublic, name: "<init>", desc: "(Ljava/lang/String;)V", locals: 2,
			emit: func(b *classfile.CodeBuilder) {
				b.Load(kRef, 0)
				b.Load(kRef, 1)
				b.InvokeSpecial("java/lang/RuntimeException", "<init>", "(Ljava/lang/String;)V")
				b.Return(kVoid)
			},
		}},
	}
	main := testClassSpec{
		name: "Thrower",
		methods: []testMethod{mainMethod(2, func(b *classfile.CodeBuilder) {
			start, end, handler, done := b.NewLabel(), b.NewLabel(), b.NewLabel(), b.NewLabel()
			b.Bind(start)
			b.New("MyException")
			b.Op(classfile.OpDup, 1)
			b.LdcString("boom")
			b.InvokeSpecial("MyException", "<init>", "(Ljava/lang/String;)V")
			b.Op(classfile.OpAthrow, -1)
			b.Bind(end)
			b.BindHandler(handler)
			b.Store(kRef, 1)
			b.GetStatic("java/lang/System", "out", "Ljava/io/PrintStream;")
			b.Load(kRef, 1)
			b.InvokeVirtual("java/lang/Throwable", "getMessage", "()Ljava/lang/String;")
			b.InvokeVirtual("java/io/PrintStream", "println", "(Ljava/lang/String;)V")
			b.Bind(done)
			b.Catch(start, end, handler, "java/lang/RuntimeException")
		})},
	}
	got := runMain(t, myException, main)
	if got != "boom\n" {
		t.Errorf("output: got %q, want %q", got, "boom\n")
	}
}

func TestUncaughtException(t *testing.T) {
	v := newTestVM(t)
	define(t, v, testClassSpec{
		name: "Uncaught",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			b.New("java/lang/IllegalStateException")
			b.Op(classfile.OpDup, 1)
			b.InvokeSpecial("java/lang/IllegalStateException", "<init>", "()V")
			b.Op(classfile.OpAthrow, -1)
		})},
	})

	err := v.Execute("Uncaught")
	var exc *JavaException
	if !errors.As(err, &exc) {
		t.Fatalf("expected JavaException, got %v", err)
	}
	if exc.Object.ClassName != "java/lang/IllegalStateException" {
		t.Errorf("exception class: got %q", exc.Object.ClassName)
	}
}

func TestStaticInitializer(t *testing.T) {
	// class Counter { static int count; static { count = 40; }
	//   static int next() { return ++count; } }
	counter := testClassSpec{
		name:   "Counter",
		fields: []classfile.FieldSpec{{AccessFlags: classfile.AccStatic, Name: "count", Descriptor: "I"}},
		methods: []testMethod{
			{
				flags: classfile.AccStatic, name: "<clinit>", desc: "()V",
				emit: func(b *classfile.CodeBuilder) {
					b.PushInt(40)
					b.PutStatic("Counter", "count", "I")
					b.Return(kVoid)
				},
			},
			{
				flags: classfile.AccStatic, name: "next", desc: "()I",
				emit: func(b *classfile.CodeBuilder) {
					b.GetStatic("Counter", "count", "I")
					b.PushInt(1)
					b.Op(classfile.OpIadd, -1)
					b.Op(classfile.OpDup, 1)
					b.PutStatic("Counter", "count", "I")
					b.Return(kInt)
				},
			},
		},
	}
	main := testClassSpec{
		name: "StaticMain",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			for i := 0; i < 2; i++ {
				printInt(b, func() { b.InvokeStatic("Counter", "next", "()I") })
			}
		})},
	}
	got := runMain(t, counter, main)
	want := "41\n42\n"
	if got != want {
		t.Errorf("static output:\ngot  %q\nwant %q", got, want)
	}
}

func TestPrintlnOverloads(t *testing.T) {
	got := runMain(t, testClassSpec{
		name: "Printer",
		methods: []testMethod{mainMethod(1, func(b *classfile.CodeBuilder) {
			out := func(push func(), desc string) {
				b.GetStatic("java/lang/System", "out", "Ljava/io/PrintStream;")
				push()
				b.InvokeVirtual("java/io/PrintStream", "println", desc)
			}
			out(func() { b.PushInt(1) }, "(Z)V")
			out(func() { b.PushInt('A') }, "(C)V")
			out(func() { b.PushInt(7); b.Op(classfile.OpI2l, 1) }, "(J)V")
			out(func() {
				b.PushInt(7)
				b.Op(classfile.OpI2d, 1)
				b.PushInt(2)
				b.Op(classfile.OpI2d, 1)
				b.Op(classfile.OpDdiv, -2)
			}, "(D)V")
			out(func() { b.PushInt(5); b.InvokeStatic("java/lang/Integer", "valueOf", "(I)Ljava/lang/Integer;") }, "(Ljava/lang/Object;)V")
			out(func() { b.Op(classfile.OpAconstNull, 1) }, "(Ljava/lang/Object;)V")
			out(func() {}, "()V")
		})},
	})
	want := "true\nA\n7\n3.5\n5\nnull\n\n"
	if got != want {
		t.Errorf("println output:\ngot  %q\nwant %q", got, want)
	}
}

func TestWideArguments(t *testing.T) {
	v := newTestVM(t)
	define(t, v, testClassSpec{
		name: "Wide",
		methods: []testMethod{
			{
				// static double avg(long a, double b): a in slots 0-1, b in 2-3
				flags: classfile.AccStatic, name: "avg", desc: "(JD)D",
				emit: func(b *classfile.CodeBuilder) {
					b.Load(kLong, 0)
					b.Op(classfile.OpL2d, 0)
					b.Load(kDouble, 2)
					b.Op(classfile.OpDadd, -2)
					b.PushInt(2)
					b.Op(classfile.OpI2d, 1)
					b.Op(classfile.OpDdiv, -2)
					b.Return(kDouble)
				},
			},
			{
				flags: classfile.AccStatic, name: "mul", desc: "(JIJ)J",
				emit: func(b *classfile.CodeBuilder) {
					b.Load(kLong, 0)
					b.Load(kInt, 2)
					b.Op(classfile.OpI2l, 1)
					b.Op(classfile.OpLmul, -2)
					b.Load(kLong, 3)
					b.Op(classfile.OpLmul, -2)
					b.Return(kLong)
				},
			},
		},
	})

	got, err := v.InvokeStatic("Wide", "avg", "(JD)D", LongValue(3), DoubleValue(4))
	if err != nil {
		t.Fatalf("avg: %v", err)
	}
	if got.Type != TypeDouble || got.Double != 3.5 {
		t.Errorf("avg(3, 4.0): got %s, want double(3.5)", got)
	}

	got, err = v.InvokeStatic("Wide", "mul", "(JIJ)J", LongValue(1<<33), IntValue(3), LongValue(5))
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if got.Long != 15<<33 {
		t.Errorf("mul: got %s\n%s", got, spew.Sdump(got))
	}
}

func TestObjectAPI(t *testing.T) {
	v := newTestVM(t)
	define(t, v, shapeClasses()...)

	obj, err := v.NewObject("Square", "(I)V", IntValue(5))
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	area, err := v.InvokeVirtual(obj, "area", "()I")
	if err != nil {
		t.Fatalf("InvokeVirtual: %v", err)
	}
	if area.Int != 25 {
		t.Errorf("area: got %d, want 25", area.Int)
	}

	t.Run("wrong argument count", func(t *testing.T) {
		_, err := v.InvokeVirtual(obj, "area", "()I", IntValue(1))
		if !errors.Is(err, ErrArgumentCount) {
			t.Errorf("expected ErrArgumentCount, got %v", err)
		}
	})

	t.Run("interface cannot be instantiated", func(t *testing.T) {
		if _, err := v.NewObject("Shape", "()V"); !errors.Is(err, ErrIllegalArgument) {
			t.Errorf("expected ErrIllegalArgument, got %v", err)
		}
	})

	t.Run("null receiver", func(t *testing.T) {
		_, err := v.InvokeVirtual(NullValue(), "area", "()I")
		var exc *JavaException
		if !errors.As(err, &exc) || exc.Object.ClassName != "java/lang/NullPointerException" {
			t.Errorf("expected NullPointerException, got %v", err)
		}
	})

	t.Run("duplicate definition", func(t *testing.T) {
		_, err := v.DefineClass(assemble(t, shapeClasses()[1]))
		if !errors.Is(err, ErrDuplicateClass) {
			t.Errorf("expected ErrDuplicateClass, got %v", err)
		}
	})
}

func TestStackOverflow(t *testing.T) {
	v := newTestVM(t)
	define(t, v, testClassSpec{
		name: "Recur",
		methods: []testMethod{{
			flags: classfile.AccStatic, name: "loop", desc: "()V",
			emit: func(b *classfile.CodeBuilder) {
				b.InvokeStatic("Recur", "loop", "()V")
				b.Return(kVoid)
			},
		}},
	})

	_, err := v.InvokeStatic("Recur", "loop", "()V")
	var exc *JavaException
	if !errors.As(err, &exc) || exc.Object.ClassName != "java/lang/StackOverflowError" {
		t.Fatalf("expected StackOverflowError, got %v", err)
	}
	if v.frameDepth != 0 {
		t.Errorf("frame depth not unwound: %d", v.frameDepth)
	}
}
