package proxy

import (
	"errors"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/native"
	"github.com/daimatz/jvmproxy/pkg/vm"
)

func calculatorView() *View {
	return &View{Name: calculator.name, Interface: true, Sigs: calculator.methods}
}

func TestAddEndToEnd(t *testing.T) {
	h := handlerOf(func(m *vm.Method, args []vm.Value) (vm.Value, error) {
		a := args[0].Ref.(*native.NativeInteger).Value
		b := args[1].Ref.(*native.NativeInteger).Value
		return vm.Box(vm.IntValue(a+b), classfile.KindInt), nil
	})
	host, obj := newCalculator(t, h)

	got, err := host.InvokeVirtual(obj, "add", "(II)I", vm.IntValue(3), vm.IntValue(4))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if got.Type != vm.TypeInt || got.Int != 7 {
		t.Errorf("add(3, 4): got %s, want int(7)", got)
	}
}

func TestForwardedCall(t *testing.T) {
	var (
		gotMethod *vm.Method
		gotArgs   []vm.Value
	)
	h := handlerOf(func(m *vm.Method, args []vm.Value) (vm.Value, error) {
		gotMethod, gotArgs = m, args
		switch m.Name {
		case "mix":
			return vm.Box(vm.DoubleValue(1.5), classfile.KindDouble), nil
		case "name":
			return vm.RefValue("calc"), nil
		case "reset":
			return vm.RefValue("ignored"), nil
		}
		return vm.NullValue(), nil
	})
	host, obj := newCalculator(t, h)

	t.Run("wide arguments are boxed in order", func(t *testing.T) {
		got, err := host.InvokeVirtual(obj, "mix", "(IJDLjava/lang/Object;)D",
			vm.IntValue(1), vm.LongValue(1<<40), vm.DoubleValue(2.5), vm.RefValue("four"))
		if err != nil {
			t.Fatalf("mix: %v", err)
		}
		if got.Double != 1.5 {
			t.Errorf("result: got %s, want double(1.5)", got)
		}
		if len(gotArgs) != 4 {
			t.Fatalf("args: got %d, want 4\n%s", len(gotArgs), spew.Sdump(gotArgs))
		}
		i, iok := gotArgs[0].Ref.(*native.NativeInteger)
		l, lok := gotArgs[1].Ref.(*native.NativeLong)
		d, dok := gotArgs[2].Ref.(*native.NativeDouble)
		if !iok || !lok || !dok || i.Value != 1 || l.Value != 1<<40 || d.Value != 2.5 || gotArgs[3].Ref != "four" {
			t.Errorf("boxed args:\n%s", spew.Sdump(gotArgs))
		}
		if gotMethod.Class.Name != calculator.name || gotMethod.Name != "mix" {
			t.Errorf("method: got %s", gotMethod)
		}
	})

	t.Run("reference return", func(t *testing.T) {
		got, err := host.InvokeVirtual(obj, "name", "()Ljava/lang/String;")
		if err != nil {
			t.Fatal(err)
		}
		if got.Ref != "calc" {
			t.Errorf("name: got %s", got)
		}
		if len(gotArgs) != 0 {
			t.Errorf("zero-argument call passed %d args", len(gotArgs))
		}
	})

	t.Run("void discards result", func(t *testing.T) {
		if _, err := host.InvokeVirtual(obj, "reset", "()V"); err != nil {
			t.Fatal(err)
		}
		if gotMethod.Name != "reset" {
			t.Errorf("method: got %s", gotMethod)
		}
	})
}

func TestNarrowPrimitivesForwarded(t *testing.T) {
	var gotArgs []vm.Value
	h := handlerOf(func(m *vm.Method, args []vm.Value) (vm.Value, error) {
		gotArgs = args
		switch m.Name {
		case "narrow":
			// unboxed int for a boolean method
			return vm.IntValue(1), nil
		case "octet":
			return vm.Box(vm.IntValue(-3), classfile.KindByte), nil
		case "letter":
			return vm.IntValue('q'), nil
		case "small":
			return vm.Box(vm.IntValue(-1234), classfile.KindShort), nil
		case "ratio":
			return vm.FloatValue(2.5), nil
		case "total":
			return vm.Box(vm.LongValue(1<<40), classfile.KindLong), nil
		}
		return vm.NullValue(), nil
	})
	host, obj := newCalculator(t, h)

	t.Run("arguments are boxed by kind", func(t *testing.T) {
		got, err := host.InvokeVirtual(obj, "narrow", "(ZBCSF)Z",
			vm.IntValue(1), vm.IntValue(-3), vm.IntValue('q'), vm.IntValue(1234), vm.FloatValue(2.5))
		if err != nil {
			t.Fatalf("narrow: %v", err)
		}
		if got.Type != vm.TypeInt || got.Int != 1 {
			t.Errorf("result: got %s, want int(1)", got)
		}
		if len(gotArgs) != 5 {
			t.Fatalf("args: got %d, want 5\n%s", len(gotArgs), spew.Sdump(gotArgs))
		}
		z, zok := gotArgs[0].Ref.(*native.NativeBoolean)
		b, bok := gotArgs[1].Ref.(*native.NativeByte)
		c, cok := gotArgs[2].Ref.(*native.NativeCharacter)
		sh, sok := gotArgs[3].Ref.(*native.NativeShort)
		f, fok := gotArgs[4].Ref.(*native.NativeFloat)
		if !zok || !bok || !cok || !sok || !fok {
			t.Fatalf("box types:\n%s", spew.Sdump(gotArgs))
		}
		if !z.Value || b.Value != -3 || c.Value != 'q' || sh.Value != 1234 || f.Value != 2.5 {
			t.Errorf("boxed values:\n%s", spew.Sdump(gotArgs))
		}
	})

	returns := []struct {
		name, desc string
		want       vm.Value
	}{
		{"octet", "()B", vm.IntValue(-3)},
		{"letter", "()C", vm.IntValue('q')},
		{"small", "()S", vm.IntValue(-1234)},
		{"ratio", "()F", vm.FloatValue(2.5)},
		{"total", "()J", vm.LongValue(1 << 40)},
	}
	for _, tt := range returns {
		t.Run("returns "+tt.name+tt.desc, func(t *testing.T) {
			got, err := host.InvokeVirtual(obj, tt.name, tt.desc)
			if err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestHandlerFailureSurfaces(t *testing.T) {
	boom := errors.New("handler exploded")
	h := handlerOf(func(*vm.Method, []vm.Value) (vm.Value, error) { return vm.Value{}, boom })
	host, obj := newCalculator(t, h)

	got, err := host.InvokeVirtual(obj, "add", "(II)I", vm.IntValue(1), vm.IntValue(2))
	if err == nil {
		t.Fatalf("expected failure, got %s", got)
	}
	var herr *vm.HandlerError
	if !errors.As(err, &herr) || !errors.Is(err, boom) {
		t.Errorf("expected *vm.HandlerError wrapping the handler error, got %v", err)
	}
}

func TestResultConversionFailures(t *testing.T) {
	tests := []struct {
		name   string
		method string
		desc   string
		result vm.Value
		exc    string
	}{
		{"null for int", "add", "(II)I", vm.NullValue(), "java/lang/NullPointerException"},
		{"Long for int", "add", "(II)I", vm.Box(vm.LongValue(1), classfile.KindLong), "java/lang/ClassCastException"},
		{"Integer for String", "name", "()Ljava/lang/String;", vm.Box(vm.IntValue(1), classfile.KindInt), "java/lang/ClassCastException"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlerOf(func(*vm.Method, []vm.Value) (vm.Value, error) { return tt.result, nil })
			host, obj := newCalculator(t, h)
			var args []vm.Value
			if tt.method == "add" {
				args = []vm.Value{vm.IntValue(1), vm.IntValue(2)}
			}
			_, err := host.InvokeVirtual(obj, tt.method, tt.desc, args...)
			var exc *vm.JavaException
			if !errors.As(err, &exc) || exc.Object.ClassName != tt.exc {
				t.Errorf("got %v, want %s", err, tt.exc)
			}
		})
	}
}

func TestDistinctNamesSameTable(t *testing.T) {
	g := NewGenerator(NewCounterNames("Gen$"))
	first, err := g.Generate(calculatorView())
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Generate(calculatorView())
	if err != nil {
		t.Fatal(err)
	}
	if first.Name != "Gen$0" || second.Name != "Gen$1" {
		t.Errorf("names: got %q and %q", first.Name, second.Name)
	}
	if !reflect.DeepEqual(first.Methods, second.Methods) {
		t.Errorf("method tables differ:\n%s\n%s", spew.Sdump(first.Methods), spew.Sdump(second.Methods))
	}
}

func TestSlotStability(t *testing.T) {
	gc, err := NewGenerator(nil).Generate(calculatorView())
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.ParseBytes(gc.Bytes)
	if err != nil {
		t.Fatalf("parsing generated class: %v", err)
	}
	if len(cf.Methods) != len(calculator.methods)+1 {
		t.Fatalf("method count: got %d, want %d", len(cf.Methods), len(calculator.methods)+1)
	}
	for _, m := range gc.Methods {
		if got := cf.MethodSlot(m.Name, m.Descriptor); got != m.Slot {
			t.Errorf("%s: parsed slot %d, generated slot %d", m.Signature, got, m.Slot)
		}
	}

	// Every call reaches the handler with the method it was made on.
	var names []string
	h := handlerOf(func(m *vm.Method, _ []vm.Value) (vm.Value, error) {
		names = append(names, m.Name+m.Descriptor)
		switch m.Return.Kind {
		case classfile.KindInt:
			return vm.IntValue(0), nil
		case classfile.KindDouble:
			return vm.DoubleValue(0), nil
		}
		return vm.NullValue(), nil
	})
	host, obj := newCalculator(t, h)
	calls := []struct {
		name, desc string
		args       []vm.Value
	}{
		{"reset", "()V", nil},
		{"add", "(II)I", []vm.Value{vm.IntValue(0), vm.IntValue(0)}},
		{"name", "()Ljava/lang/String;", nil},
	}
	for _, c := range calls {
		if _, err := host.InvokeVirtual(obj, c.name, c.desc, c.args...); err != nil {
			t.Fatalf("%s%s: %v", c.name, c.desc, err)
		}
	}
	want := []string{"reset()V", "add(II)I", "name()Ljava/lang/String;"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("dispatched methods: got %v, want %v", names, want)
	}
}

func TestLocalFootprint(t *testing.T) {
	view := &View{Name: "Wide", Interface: true, Sigs: []Signature{
		{"none", "()V"},
		{"ints", "(IZC)V"},
		{"wide", "(JD)V"},
		{"mixed", "(JILjava/lang/String;D[J)V"},
	}}
	gc, err := NewGenerator(nil).Generate(view)
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.ParseBytes(gc.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]uint16{
		"<init>": 2,
		"none":   1,
		"ints":   4,
		"wide":   5,
		"mixed":  8,
	}
	for _, m := range cf.Methods {
		if m.Code == nil {
			t.Fatalf("%s has no code", m.Name)
		}
		if m.Code.MaxLocals != want[m.Name] {
			t.Errorf("%s: max_locals %d, want %d", m.Name, m.Code.MaxLocals, want[m.Name])
		}
	}
}

func TestGenerateRejects(t *testing.T) {
	t.Run("class instead of interface", func(t *testing.T) {
		_, err := NewGenerator(nil).Generate(calculatorView(), &View{Name: "java/lang/String"})
		if !errors.Is(err, ErrNotAnInterface) {
			t.Errorf("got %v, want ErrNotAnInterface", err)
		}
	})

	t.Run("no interfaces", func(t *testing.T) {
		if _, err := NewGenerator(nil).Generate(); err == nil {
			t.Error("expected error for empty interface list")
		}
	})

	t.Run("allocated name not a class name", func(t *testing.T) {
		gc, err := NewGenerator(NewCounterNames("a.b;C")).Generate(calculatorView())
		if !errors.Is(err, ErrInvalidClassName) {
			t.Fatalf("got %v, want ErrInvalidClassName", err)
		}
		if gc != nil {
			t.Error("class returned for an invalid name")
		}
	})

	t.Run("malformed descriptor", func(t *testing.T) {
		names := NewCounterNames("P")
		g := NewGenerator(names)
		bad := &View{Name: "Bad", Interface: true, Sigs: []Signature{
			{"ok", "()V"},
			{"broken", "(Ljava/lang/String)V"},
		}}
		gc, err := g.Generate(bad)
		if !errors.Is(err, classfile.ErrMalformedSignature) {
			t.Fatalf("got %v, want ErrMalformedSignature", err)
		}
		if gc != nil {
			t.Error("partial class returned")
		}
		if got := names.Next(); got != "P0" {
			t.Errorf("failed generation consumed a name: next is %q", got)
		}
	})
}

func TestDuplicateMethodsMerged(t *testing.T) {
	a := &View{Name: "A", Interface: true, Sigs: []Signature{{"run", "()V"}, {"size", "()I"}}}
	b := &View{Name: "B", Interface: true, Sigs: []Signature{{"run", "()V"}, {"size", "()J"}}}
	gc, err := NewGenerator(nil).Generate(a, b, a)
	if err != nil {
		t.Fatal(err)
	}
	want := []MethodEntry{
		{Signature{"<init>", CtorDescriptor}, 0},
		{Signature{"run", "()V"}, 1},
		{Signature{"size", "()I"}, 2},
		{Signature{"size", "()J"}, 3},
	}
	if !reflect.DeepEqual(gc.Methods, want) {
		t.Errorf("methods:\n%s", spew.Sdump(gc.Methods))
	}
	if !reflect.DeepEqual(gc.Interfaces, []string{"A", "B"}) {
		t.Errorf("interfaces: got %v", gc.Interfaces)
	}
}

func TestGeneratedClassShape(t *testing.T) {
	gc, err := NewGenerator(nil).Generate(calculatorView())
	if err != nil {
		t.Fatal(err)
	}
	cf, err := classfile.ParseBytes(gc.Bytes)
	if err != nil {
		t.Fatal(err)
	}
	if cf.MajorVersion != classfile.MajorVersion {
		t.Errorf("major version: got %d", cf.MajorVersion)
	}
	if cf.AccessFlags&classfile.AccFinal == 0 || cf.IsInterface() {
		t.Errorf("access flags: 0x%04X", cf.AccessFlags)
	}
	if super := cf.SuperClassName(); super != "java/lang/Object" {
		t.Errorf("super: got %q", super)
	}
	ifaces, err := cf.InterfaceNames()
	if err != nil || !reflect.DeepEqual(ifaces, []string{calculator.name}) {
		t.Errorf("interfaces: got %v, %v", ifaces, err)
	}
	h := cf.FindField("h")
	if h == nil || h.Descriptor != "Ljava/lang/reflect/InvocationHandler;" {
		t.Errorf("handler field: got %+v", h)
	}
}
