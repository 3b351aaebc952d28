package proxy

import (
	"strings"

	lru "github.com/hashicorp/golang-lru"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/daimatz/jvmproxy/pkg/vm"
)

// DefaultCacheSize bounds the number of interface sets whose proxy class is
// remembered by a Factory.
const DefaultCacheSize = 64

// Factory generates proxy classes on demand and defines them in a host VM.
// Each distinct ordered interface list yields one class while it stays in
// the cache; concurrent requests for the same list share one generation.
type Factory struct {
	Host      *vm.VM
	Generator *Generator

	cache   *lru.Cache
	group   singleflight.Group
	proxies cmap.ConcurrentMap
}

// NewFactory creates a factory over host. A nil generator numbers classes
// with DefaultPrefix; cacheSize <= 0 means DefaultCacheSize.
func NewFactory(host *vm.VM, gen *Generator, cacheSize int) *Factory {
	if gen == nil {
		gen = NewGenerator(nil)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New(cacheSize)
	return &Factory{
		Host:      host,
		Generator: gen,
		cache:     cache,
		proxies:   cmap.New(),
	}
}

// ProxyClass returns the proxy class implementing the named interfaces,
// generating and defining it on first use.
func (f *Factory) ProxyClass(names ...string) (*GeneratedClass, error) {
	key := strings.Join(names, ",")
	if gc, ok := f.cache.Get(key); ok {
		return gc.(*GeneratedClass), nil
	}
	v, err, shared := f.group.Do(key, func() (interface{}, error) {
		if gc, ok := f.cache.Get(key); ok {
			return gc, nil
		}
		views, err := f.views(names)
		if err != nil {
			return nil, err
		}
		gc, err := f.Generator.Generate(views...)
		if err != nil {
			return nil, err
		}
		if _, err := f.Host.DefineClass(gc.Bytes); err != nil {
			return nil, errors.Wrapf(err, "defining %s", gc.Name)
		}
		f.proxies.Set(gc.Name, gc)
		f.cache.Add(key, gc)
		log.Info("Defined proxy class", "name", gc.Name, "interfaces", key)
		return gc, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("Shared proxy generation", "interfaces", key)
	}
	return v.(*GeneratedClass), nil
}

// views resolves each interface and its superinterfaces depth first.
func (f *Factory) views(names []string) ([]MethodTableView, error) {
	var (
		out  []MethodTableView
		seen = make(map[string]bool)
	)
	var visit func(name string) error
	visit = func(name string) error {
		if seen[name] {
			return nil
		}
		seen[name] = true
		c, err := f.Host.ResolveClass(name)
		if err != nil {
			return errors.Wrapf(err, "resolving %s", name)
		}
		if !c.IsInterface() {
			return errors.Wrap(ErrNotAnInterface, name)
		}
		if c.File == nil {
			return errors.Errorf("%s is built in and cannot be proxied", name)
		}
		view, err := ClassView(c.File)
		if err != nil {
			return err
		}
		out = append(out, view)
		for _, super := range view.Interfaces() {
			if err := visit(super); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NewProxyInstance creates an instance of the proxy class for names whose
// every method call goes to h.
func (f *Factory) NewProxyInstance(names []string, h vm.InvocationHandler) (vm.Value, error) {
	if h == nil {
		return vm.Value{}, errors.Wrap(vm.ErrIllegalArgument, "nil invocation handler")
	}
	gc, err := f.ProxyClass(names...)
	if err != nil {
		return vm.Value{}, err
	}
	obj, err := f.Host.NewObject(gc.Name, CtorDescriptor, vm.RefValue(h))
	if err != nil {
		return vm.Value{}, errors.Wrapf(err, "instantiating %s", gc.Name)
	}
	return obj, nil
}

// IsProxyClass reports whether name was generated by this factory.
func (f *Factory) IsProxyClass(name string) bool {
	return f.proxies.Has(name)
}

// Lookup returns a class generated by this factory.
func (f *Factory) Lookup(name string) (*GeneratedClass, bool) {
	gc, ok := f.proxies.Get(name)
	if !ok {
		return nil, false
	}
	return gc.(*GeneratedClass), true
}
