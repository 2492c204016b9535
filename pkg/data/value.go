package data

// Class names of the scalar value objects.
const (
	ClassBoolean = "data::Boolean"
	ClassInteger = "data::Integer"
	ClassFloat   = "data::Float"
	ClassString  = "data::String"
)

// Value is an object holding a single scalar.
type Value[T any] struct {
	*Base

	value T
}

// Scalar value objects.
type (
	Boolean = Value[bool]
	Integer = Value[int64]
	Float   = Value[float64]
	String  = Value[string]
)

// NewValue creates a value object of the given class.
func NewValue[T any](classname string, v T) *Value[T] {
	return &Value[T]{Base: NewBase(classname), value: v}
}

// NewBoolean creates a Boolean.
func NewBoolean(v bool) *Boolean { return NewValue(ClassBoolean, v) }

// NewInteger creates an Integer.
func NewInteger(v int64) *Integer { return NewValue(ClassInteger, v) }

// NewFloat creates a Float.
func NewFloat(v float64) *Float { return NewValue(ClassFloat, v) }

// NewString creates a String.
func NewString(v string) *String { return NewValue(ClassString, v) }

// Get returns the value.
func (v *Value[T]) Get() T {
	v.RLock()
	defer v.RUnlock()
	return v.value
}

// Set replaces the value.
func (v *Value[T]) Set(x T) {
	v.Lock()
	v.value = x
	v.Unlock()
}

// Properties returns the single "value" scalar.
func (v *Value[T]) Properties() []Property {
	return []Property{Scalar("value", v.value)}
}
