package classfile

import "errors"

var (
	// ErrMalformedSignature reports a type or method descriptor that does not parse.
	ErrMalformedSignature = errors.New("malformed signature")

	// ErrAssemblyOverflow reports a value that does not fit the class file format
	// (constant pool index, code length, stack or local counts).
	ErrAssemblyOverflow = errors.New("class file limit exceeded")
)
