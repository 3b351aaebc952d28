package proxy

import (
	"github.com/pkg/errors"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

// Signature is one method a proxy has to implement.
type Signature struct {
	Name       string
	Descriptor string
}

func (s Signature) String() string { return s.Name + s.Descriptor }

// MethodTableView is the ordered method table of a type, as far as proxy
// generation needs to know it. The generator relies on nothing else.
type MethodTableView interface {
	ClassName() string
	IsInterface() bool
	Methods() []Signature
	Interfaces() []string
}

// View is a MethodTableView given as plain data.
type View struct {
	Name      string
	Interface bool
	Sigs      []Signature
	Supers    []string
}

func (v *View) ClassName() string    { return v.Name }
func (v *View) IsInterface() bool    { return v.Interface }
func (v *View) Methods() []Signature { return v.Sigs }
func (v *View) Interfaces() []string { return v.Supers }

// ClassView reads the method table of a parsed class file. Static methods
// and <clinit> are left out, since a proxy cannot implement them.
func ClassView(cf *classfile.ClassFile) (*View, error) {
	name, err := cf.ClassName()
	if err != nil {
		return nil, errors.Wrap(err, "reading class name")
	}
	supers, err := cf.InterfaceNames()
	if err != nil {
		return nil, errors.Wrapf(err, "reading interfaces of %s", name)
	}
	v := &View{Name: name, Interface: cf.IsInterface(), Supers: supers}
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.IsStatic() || m.Name == "<clinit>" {
			continue
		}
		v.Sigs = append(v.Sigs, Signature{Name: m.Name, Descriptor: m.Descriptor})
	}
	return v, nil
}
