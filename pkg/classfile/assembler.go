package classfile

import (
	"fmt"
	"math"
)

// MajorVersion is the class file version emitted by Assemble (Java 5).
const MajorVersion = 49

// FieldSpec declares a field of an assembled class.
type FieldSpec struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
}

// MethodSpec declares a method. Code is nil for abstract and native methods.
type MethodSpec struct {
	AccessFlags uint16
	Name        string
	Descriptor  string
	Code        *CodeAttribute
}

// ClassSpec is everything needed to serialize one class.
type ClassSpec struct {
	AccessFlags uint16
	ThisClass   string
	SuperClass  string // "" only for java/lang/Object
	Interfaces  []string
	Fields      []FieldSpec
	Methods     []MethodSpec
}

// Assemble serializes spec into class file bytes, adding whatever constants
// it needs to pool. The pool may already hold entries referenced from code.
func Assemble(pool *PoolBuilder, spec ClassSpec) ([]byte, error) {
	w := NewWriter()
	if err := WriteClass(w, pool, spec); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// WriteClass writes the class file for spec to w. All constants are
// interned before the pool is written, since the pool precedes the body.
func WriteClass(w *Writer, pool *PoolBuilder, spec ClassSpec) error {
	if len(spec.Interfaces) > math.MaxUint16 || len(spec.Fields) > math.MaxUint16 || len(spec.Methods) > math.MaxUint16 {
		return fmt.Errorf("%w: %d interfaces, %d fields, %d methods",
			ErrAssemblyOverflow, len(spec.Interfaces), len(spec.Fields), len(spec.Methods))
	}

	body := NewWriter()
	thisIdx, err := pool.AddClass(spec.ThisClass)
	if err != nil {
		return err
	}
	var superIdx uint16
	if spec.SuperClass != "" {
		if superIdx, err = pool.AddClass(spec.SuperClass); err != nil {
			return err
		}
	}
	body.U16(spec.AccessFlags)
	body.U16(thisIdx)
	body.U16(superIdx)

	body.U16(uint16(len(spec.Interfaces)))
	for _, iface := range spec.Interfaces {
		idx, err := pool.AddClass(iface)
		if err != nil {
			return err
		}
		body.U16(idx)
	}

	body.U16(uint16(len(spec.Fields)))
	for _, f := range spec.Fields {
		if err := writeMember(body, pool, f.AccessFlags, f.Name, f.Descriptor); err != nil {
			return err
		}
		body.U16(0) // attributes_count
	}

	body.U16(uint16(len(spec.Methods)))
	for _, m := range spec.Methods {
		if err := writeMember(body, pool, m.AccessFlags, m.Name, m.Descriptor); err != nil {
			return err
		}
		if m.Code == nil {
			body.U16(0)
			continue
		}
		body.U16(1)
		if err := writeCode(body, pool, m.Code); err != nil {
			return fmt.Errorf("method %s%s: %w", m.Name, m.Descriptor, err)
		}
	}
	body.U16(0) // class attributes_count

	w.U32(classMagic)
	w.U16(0)
	w.U16(MajorVersion)
	pool.WriteTo(w)
	w.Write(body.Bytes())
	return nil
}

func writeMember(w *Writer, pool *PoolBuilder, flags uint16, name, descriptor string) error {
	n, err := pool.AddUtf8(name)
	if err != nil {
		return err
	}
	d, err := pool.AddUtf8(descriptor)
	if err != nil {
		return err
	}
	w.U16(flags)
	w.U16(n)
	w.U16(d)
	return nil
}

func writeCode(w *Writer, pool *PoolBuilder, code *CodeAttribute) error {
	if len(code.Code) == 0 {
		return fmt.Errorf("empty code attribute")
	}
	if len(code.Code) > maxCodeLength {
		return fmt.Errorf("%w: code length %d", ErrAssemblyOverflow, len(code.Code))
	}
	if len(code.ExceptionHandlers) > math.MaxUint16 {
		return fmt.Errorf("%w: %d exception handlers", ErrAssemblyOverflow, len(code.ExceptionHandlers))
	}
	nameIdx, err := pool.AddUtf8("Code")
	if err != nil {
		return err
	}
	w.U16(nameIdx)
	length := w.Reserve32()
	w.U16(code.MaxStack)
	w.U16(code.MaxLocals)
	codeLen := w.Reserve32()
	w.Write(code.Code)
	if err := w.CommitLength(codeLen); err != nil {
		return err
	}
	w.U16(uint16(len(code.ExceptionHandlers)))
	for _, h := range code.ExceptionHandlers {
		w.U16(h.StartPC)
		w.U16(h.EndPC)
		w.U16(h.HandlerPC)
		w.U16(h.CatchType)
	}
	w.U16(0) // Code attributes_count
	return w.CommitLength(length)
}
