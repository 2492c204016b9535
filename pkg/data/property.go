package data

// Kind discriminates the variants of a Property.
type Kind int

const (
	// KindScalar is a plain value.
	KindScalar Kind = iota
	// KindObject references another managed object.
	KindObject
	// KindBuffer references a raw memory buffer.
	KindBuffer
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindObject:
		return "object"
	case KindBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Property is one enumerable field of an object. Exactly one of Value,
// Object and Buffer is meaningful, depending on Kind.
type Property struct {
	Name   string
	Kind   Kind
	Value  any
	Object Object
	Buffer *Buffer
}

// Scalar returns a scalar property.
func Scalar(name string, v any) Property {
	return Property{Name: name, Kind: KindScalar, Value: v}
}

// ObjectRef returns a property referencing obj. A nil object yields a nil
// scalar so that visitors never see a nil reference.
func ObjectRef(name string, obj Object) Property {
	if obj == nil {
		return Scalar(name, nil)
	}
	return Property{Name: name, Kind: KindObject, Object: obj}
}

// BufferRef returns a property referencing buf.
func BufferRef(name string, buf *Buffer) Property {
	if buf == nil {
		return Scalar(name, nil)
	}
	return Property{Name: name, Kind: KindBuffer, Buffer: buf}
}
