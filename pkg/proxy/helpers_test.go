package proxy

import (
	"io"
	"os"
	"testing"

	"github.com/inconshreveable/log15"

	"github.com/daimatz/jvmproxy/pkg/classfile"
	"github.com/daimatz/jvmproxy/pkg/vm"
)

// TestMain keeps debug records out of test output.
func TestMain(m *testing.M) {
	log15.Root().SetHandler(log15.LvlFilterHandler(log15.LvlWarn, log15.StreamHandler(os.Stderr, log15.TerminalFormat())))
	os.Exit(m.Run())
}

// captureLogs routes every record to the returned slice until the test ends.
func captureLogs(t *testing.T) *[]*log15.Record {
	t.Helper()
	var records []*log15.Record
	prev := log15.Root().GetHandler()
	log15.Root().SetHandler(log15.FuncHandler(func(r *log15.Record) error {
		records = append(records, r)
		return nil
	}))
	t.Cleanup(func() { log15.Root().SetHandler(prev) })
	return &records
}

// hasRecord reports whether records holds msg logged under module.
func hasRecord(records []*log15.Record, module, msg string) bool {
	for _, r := range records {
		if r.Msg != msg {
			continue
		}
		for i := 0; i+1 < len(r.Ctx); i += 2 {
			if r.Ctx[i] == "module" && r.Ctx[i+1] == module {
				return true
			}
		}
	}
	return false
}

// iface describes a test interface.
type iface struct {
	name    string
	supers  []string
	methods []Signature
	statics []Signature // static methods with an empty body
}

// assembleInterface builds the class file of an interface.
func assembleInterface(t *testing.T, spec iface) []byte {
	t.Helper()
	pool := classfile.NewPoolBuilder()
	cs := classfile.ClassSpec{
		AccessFlags: classfile.AccPublic | classfile.AccInterface | classfile.AccAbstract,
		ThisClass:   spec.name,
		SuperClass:  "java/lang/Object",
		Interfaces:  spec.supers,
	}
	for _, m := range spec.methods {
		cs.Methods = append(cs.Methods, classfile.MethodSpec{
			AccessFlags: classfile.AccPublic | classfile.AccAbstract,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
		})
	}
	for _, m := range spec.statics {
		b := classfile.NewCodeBuilder(pool, 0)
		b.Return(classfile.KindVoid)
		code, err := b.Build()
		if err != nil {
			t.Fatal(err)
		}
		cs.Methods = append(cs.Methods, classfile.MethodSpec{
			AccessFlags: classfile.AccStatic,
			Name:        m.Name,
			Descriptor:  m.Descriptor,
			Code:        code,
		})
	}
	data, err := classfile.Assemble(pool, cs)
	if err != nil {
		t.Fatalf("assembling %s: %v", spec.name, err)
	}
	return data
}

// newHost returns a VM with the interfaces defined, supertypes first.
func newHost(t *testing.T, ifaces ...iface) *vm.VM {
	t.Helper()
	host := vm.NewVM(nil)
	host.Stdout = io.Discard
	for _, i := range ifaces {
		if _, err := host.DefineClass(assembleInterface(t, i)); err != nil {
			t.Fatalf("defining %s: %v", i.name, err)
		}
	}
	return host
}

var calculator = iface{
	name: "com/example/Calculator",
	methods: []Signature{
		{"add", "(II)I"},
		{"mix", "(IJDLjava/lang/Object;)D"},
		{"name", "()Ljava/lang/String;"},
		{"reset", "()V"},
		{"narrow", "(ZBCSF)Z"},
		{"octet", "()B"},
		{"letter", "()C"},
		{"small", "()S"},
		{"ratio", "()F"},
		{"total", "()J"},
	},
}

// handlerOf adapts a function that ignores the proxy argument.
func handlerOf(fn func(m *vm.Method, args []vm.Value) (vm.Value, error)) vm.InvocationHandler {
	return vm.HandlerFunc(func(_ vm.Value, m *vm.Method, args []vm.Value) (vm.Value, error) {
		return fn(m, args)
	})
}

// newCalculator defines Calculator and returns a proxy instance for h.
func newCalculator(t *testing.T, h vm.InvocationHandler) (*vm.VM, vm.Value) {
	t.Helper()
	host := newHost(t, calculator)
	f := NewFactory(host, nil, 0)
	obj, err := f.NewProxyInstance([]string{calculator.name}, h)
	if err != nil {
		t.Fatalf("NewProxyInstance: %v", err)
	}
	return host, obj
}
