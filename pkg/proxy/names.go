package proxy

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// DefaultPrefix starts every generated class name unless configured otherwise.
const DefaultPrefix = "$Proxy"

// ErrInvalidClassName reports a name the class file format cannot carry.
var ErrInvalidClassName = errors.New("invalid class name")

// ValidateClassName checks that name is a binary class name in internal
// form: slash-separated non-empty segments without '.', ';' or '['.
func ValidateClassName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidClassName, "empty name")
	}
	if i := strings.IndexAny(name, ".;["); i >= 0 {
		return errors.Wrapf(ErrInvalidClassName, "%q contains %q", name, name[i])
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return errors.Wrapf(ErrInvalidClassName, "%q has an empty package segment", name)
		}
	}
	return nil
}

// NameAllocator hands out class names that are unique for its lifetime.
type NameAllocator interface {
	Next() string
}

type counterNames struct {
	prefix string
	n      atomic.Uint64
}

// NewCounterNames numbers names from zero: prefix+"0", prefix+"1", ...
// It is safe for concurrent use.
func NewCounterNames(prefix string) NameAllocator {
	return &counterNames{prefix: prefix}
}

func (c *counterNames) Next() string {
	return c.prefix + strconv.FormatUint(c.n.Add(1)-1, 10)
}
