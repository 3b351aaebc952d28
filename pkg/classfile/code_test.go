package classfile

import (
	"bytes"
	"errors"
	"testing"
)

func TestPushInt(t *testing.T) {
	tests := []struct {
		v    int32
		want []byte
	}{
		{-1, []byte{OpIconstM1}},
		{0, []byte{OpIconst0}},
		{5, []byte{OpIconst5}},
		{6, []byte{OpBipush, 0x06}},
		{-128, []byte{OpBipush, 0x80}},
		{127, []byte{OpBipush, 0x7F}},
		{128, []byte{OpSipush, 0x00, 0x80}},
		{-32768, []byte{OpSipush, 0x80, 0x00}},
		{32767, []byte{OpSipush, 0x7F, 0xFF}},
		{32768, []byte{OpLdc, 0x01}}, // 空のプールなので Integer は #1
	}
	for _, tt := range tests {
		b := NewCodeBuilder(NewPoolBuilder(), 0)
		b.PushInt(tt.v)
		if !bytes.Equal(b.code, tt.want) {
			t.Errorf("PushInt(%d): got % x, want % x", tt.v, b.code, tt.want)
		}
		if b.Stack() != 1 {
			t.Errorf("PushInt(%d): stack %d, want 1", tt.v, b.Stack())
		}
	}
}

func TestLdcWideIndex(t *testing.T) {
	pool := NewPoolBuilder()
	for i := 0; i < 300; i++ {
		pool.AddInteger(int32(1_000_000 + i))
	}
	b := NewCodeBuilder(pool, 0)
	b.LdcInt(1_000_000) // index 1
	b.LdcInt(1_000_299) // index 300
	want := []byte{
		OpLdc, 0x01,
		OpLdcW, 0x01, 0x2C,
	}
	if !bytes.Equal(b.code, want) {
		t.Errorf("got % x, want % x", b.code, want)
	}
}

func TestLoadStoreForms(t *testing.T) {
	b := NewCodeBuilder(NewPoolBuilder(), 0)
	b.Load(KindInt, 0)
	b.Load(KindLong, 1)
	b.Load(KindReference, 3)
	b.Load(KindDouble, 4)
	b.Load(KindFloat, 300)
	b.Store(KindFloat, 6)
	b.Store(KindDouble, 7)
	want := []byte{
		OpIload0,
		OpLload0 + 1,
		OpAload0 + 3,
		OpDload, 0x04,
	}
	if !bytes.Equal(b.code[:len(want)], want) {
		t.Errorf("got % x, want prefix % x", b.code, want)
	}
	if !errors.Is(b.Err(), ErrAssemblyOverflow) {
		t.Errorf("local 300: got %v, want ErrAssemblyOverflow", b.Err())
	}
}

func TestStackTracking(t *testing.T) {
	pool := NewPoolBuilder()
	b := NewCodeBuilder(pool, 1)
	b.Load(KindReference, 0)           // 1
	b.GetField("C", "x", "J")          // 3
	b.InvokeVirtual("C", "f", "(JI)D") // needs 4 slots
	if b.Err() == nil {
		t.Fatal("expected underflow error")
	}

	b = NewCodeBuilder(pool, 3)
	b.Load(KindReference, 0)
	b.Load(KindLong, 1)
	b.PushInt(7)
	b.InvokeVirtual("C", "f", "(JI)D")
	if b.Stack() != 2 {
		t.Errorf("after invokevirtual: stack %d, want 2", b.Stack())
	}
	b.Return(KindDouble)
	code, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if code.MaxStack != 4 {
		t.Errorf("MaxStack: got %d, want 4", code.MaxStack)
	}
	if code.MaxLocals != 3 {
		t.Errorf("MaxLocals: got %d, want 3", code.MaxLocals)
	}
}

func TestInvokeInterfaceCount(t *testing.T) {
	pool := NewPoolBuilder()
	b := NewCodeBuilder(pool, 4)
	b.Load(KindReference, 0)
	b.Load(KindInt, 1)
	b.Load(KindLong, 2)
	b.InvokeInterface("I", "m", "(IJ)V")
	code, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	n := len(code.Code)
	// count = receiver + int + long(2) = 4, then a zero byte
	if code.Code[n-5] != OpInvokeinterface || code.Code[n-2] != 4 || code.Code[n-1] != 0 {
		t.Errorf("invokeinterface encoding: % x", code.Code[n-5:])
	}
}

func TestBranchBackpatch(t *testing.T) {
	b := NewCodeBuilder(NewPoolBuilder(), 1)
	done := b.NewLabel()
	b.Load(KindInt, 0)         // pc 0
	b.Branch(OpIfeq, done, -1) // pc 1
	b.PushInt(1)               // pc 4
	b.Return(KindInt)          // pc 5
	b.Bind(done)               // pc 6
	b.PushInt(0)
	b.Return(KindInt)
	code, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		OpIload0,
		OpIfeq, 0x00, 0x05, // 1 + 5 = 6
		OpIconst1,
		OpIreturn,
		OpIconst0,
		OpIreturn,
	}
	if !bytes.Equal(code.Code, want) {
		t.Errorf("got % x, want % x", code.Code, want)
	}
}

func TestBuildUnboundLabel(t *testing.T) {
	b := NewCodeBuilder(NewPoolBuilder(), 0)
	b.Branch(OpGoto, b.NewLabel(), 0)
	if _, err := b.Build(); err == nil {
		t.Error("expected error for unbound label")
	}
}

func TestBuildMalformedDescriptor(t *testing.T) {
	b := NewCodeBuilder(NewPoolBuilder(), 0)
	b.InvokeStatic("C", "m", "(II")
	if _, err := b.Build(); !errors.Is(err, ErrMalformedSignature) {
		t.Errorf("got %v, want ErrMalformedSignature", err)
	}
}
