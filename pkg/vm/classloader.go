package vm

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	cmap "github.com/orcaman/concurrent-map"

	"github.com/daimatz/jvmproxy/pkg/classfile"
)

// ClassLoader loads .class files by class name.
type ClassLoader interface {
	LoadClass(name string) (*classfile.ClassFile, error)
}

// JmodClassLoader loads classes from a JDK jmod file.
type JmodClassLoader struct {
	JmodPath string
	Cache    cmap.ConcurrentMap

	mu    sync.Mutex
	files map[string]*zip.File
}

// NewJmodClassLoader creates a new JmodClassLoader.
func NewJmodClassLoader(jmodPath string) *JmodClassLoader {
	return &JmodClassLoader{
		JmodPath: jmodPath,
		Cache:    cmap.New(),
	}
}

func (cl *JmodClassLoader) ensureIndex() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.files != nil {
		return nil
	}

	data, err := os.ReadFile(cl.JmodPath)
	if err != nil {
		return fmt.Errorf("jmod: reading %s: %w", cl.JmodPath, err)
	}
	if len(data) < 4 {
		return fmt.Errorf("jmod: %s is too short", cl.JmodPath)
	}

	zipData := data[4:] // Skip "JM\x01\x00" header
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return fmt.Errorf("jmod: opening zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	cl.files = files
	log.Debug("Indexed jmod", "path", cl.JmodPath, "entries", len(files))
	return nil
}

func (cl *JmodClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache.Get(name); ok {
		return cf.(*classfile.ClassFile), nil
	}

	if err := cl.ensureIndex(); err != nil {
		return nil, err
	}

	target := "classes/" + name + ".class"
	file, ok := cl.files[target]
	if !ok {
		return nil, fmt.Errorf("jmod: class %s not found in %s", name, cl.JmodPath)
	}
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("jmod: opening %s: %w", target, err)
	}
	defer rc.Close()

	cf, err := classfile.Parse(rc)
	if err != nil {
		return nil, fmt.Errorf("jmod: parsing %s: %w", name, err)
	}
	cl.Cache.SetIfAbsent(name, cf)
	return cf, nil
}

// UserClassLoader loads user classes from the classpath, delegating to the parent first.
type UserClassLoader struct {
	ClassPath string
	Parent    ClassLoader
	Cache     cmap.ConcurrentMap
}

// NewUserClassLoader creates a new UserClassLoader. parent may be nil.
func NewUserClassLoader(classPath string, parent ClassLoader) *UserClassLoader {
	return &UserClassLoader{
		ClassPath: classPath,
		Parent:    parent,
		Cache:     cmap.New(),
	}
}

func (cl *UserClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.Cache.Get(name); ok {
		return cf.(*classfile.ClassFile), nil
	}
	if cl.Parent != nil {
		if cf, err := cl.Parent.LoadClass(name); err == nil {
			return cf, nil
		}
	}
	path := filepath.Join(cl.ClassPath, filepath.FromSlash(name)+".class")
	cf, err := classfile.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("user: class %s not found: %w", name, err)
	}
	cl.Cache.SetIfAbsent(name, cf)
	return cf, nil
}

// MemoryClassLoader holds classes defined from bytes at run time. Defined
// classes shadow the parent; a name can be defined only once.
type MemoryClassLoader struct {
	Parent  ClassLoader
	classes cmap.ConcurrentMap
}

// NewMemoryClassLoader creates an empty loader. parent may be nil.
func NewMemoryClassLoader(parent ClassLoader) *MemoryClassLoader {
	return &MemoryClassLoader{
		Parent:  parent,
		classes: cmap.New(),
	}
}

// Define parses data and registers the class under its own name.
func (cl *MemoryClassLoader) Define(data []byte) (*classfile.ClassFile, error) {
	cf, err := classfile.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("memory: parsing class: %w", err)
	}
	name, err := cf.ClassName()
	if err != nil {
		return nil, fmt.Errorf("memory: resolving class name: %w", err)
	}
	if !cl.classes.SetIfAbsent(name, cf) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, name)
	}
	return cf, nil
}

// Defined reports whether name was defined through this loader.
func (cl *MemoryClassLoader) Defined(name string) bool {
	return cl.classes.Has(name)
}

// Names returns the names of every defined class.
func (cl *MemoryClassLoader) Names() []string {
	return cl.classes.Keys()
}

func (cl *MemoryClassLoader) LoadClass(name string) (*classfile.ClassFile, error) {
	if cf, ok := cl.classes.Get(name); ok {
		return cf.(*classfile.ClassFile), nil
	}
	if cl.Parent == nil {
		return nil, fmt.Errorf("memory: class %s not defined", name)
	}
	return cl.Parent.LoadClass(name)
}
