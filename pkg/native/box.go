package native

// Box is implemented by every native stand-in for a JDK object.
type Box interface {
	ClassName() string
}

// NativeBoolean represents a java.lang.Boolean.
type NativeBoolean struct {
	Value bool
}

// BooleanValueOf creates a NativeBoolean (boxing).
func BooleanValueOf(v bool) *NativeBoolean {
	return &NativeBoolean{Value: v}
}

func (b *NativeBoolean) ClassName() string { return "java/lang/Boolean" }

func (b *NativeBoolean) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}

// NativeCharacter represents a java.lang.Character.
type NativeCharacter struct {
	Value uint16
}

// CharacterValueOf creates a NativeCharacter (boxing).
func CharacterValueOf(v uint16) *NativeCharacter {
	return &NativeCharacter{Value: v}
}

func (c *NativeCharacter) ClassName() string { return "java/lang/Character" }
func (c *NativeCharacter) String() string    { return string(rune(c.Value)) }
