package registry

import (
	"reflect"
	"runtime"
	"unsafe"
	"weak"
)

// ref refers to the value behind an interface without keeping it alive when
// that value is a pointer. Other values have no lifetime of their own and
// are held as they are.
type ref[I any] struct {
	typ    reflect.Type
	ptr    weak.Pointer[byte]
	strong I
}

// target returns the allocation v points to, if any.
func target(v any) (*byte, reflect.Type, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Type().Elem().Size() == 0 {
		return nil, nil, false
	}
	return (*byte)(rv.UnsafePointer()), rv.Type(), true
}

func makeRef[I any](v I) ref[I] {
	p, typ, ok := target(v)
	if !ok {
		return ref[I]{strong: v}
	}
	return ref[I]{typ: typ, ptr: weak.Make(p)}
}

// get returns the referenced value, or false once it has been collected.
func (r ref[I]) get() (I, bool) {
	var zero I
	if r.typ == nil {
		return r.strong, true
	}
	p := r.ptr.Value()
	if p == nil {
		return zero, false
	}
	v, ok := reflect.NewAt(r.typ.Elem(), unsafe.Pointer(p)).Interface().(I)
	return v, ok
}

func (r ref[I]) alive() bool {
	return r.typ == nil || r.ptr.Value() != nil
}

// onCollected arranges for fn(arg) to run once v has been collected. Values
// held strongly are never collected and get a zero Cleanup. arg must not
// reference v.
func onCollected[I, A any](v I, fn func(A), arg A) runtime.Cleanup {
	p, _, ok := target(v)
	if !ok {
		return runtime.Cleanup{}
	}
	return runtime.AddCleanup(p, fn, arg)
}
