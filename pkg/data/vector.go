package data

import (
	"strconv"

	"github.com/IRCAD/sight-sub083/pkg/com"
)

// ClassVector is the class name of Vector.
const ClassVector = "data::Vector"

// Vector holds an ordered list of child objects.
type Vector struct {
	*Base

	children []Object
	added    *com.Signal[[]Object]
	removed  *com.Signal[[]Object]
}

// NewVector creates an empty vector.
func NewVector() *Vector {
	v := &Vector{Base: NewBase(ClassVector)}
	v.added = com.AddSignal[[]Object](v.Signals(), SignalAddedObjects)
	v.removed = com.AddSignal[[]Object](v.Signals(), SignalRemovedObjects)
	return v
}

// AddedObjects returns the "added_objects" signal.
func (v *Vector) AddedObjects() *com.Signal[[]Object] { return v.added }

// RemovedObjects returns the "removed_objects" signal.
func (v *Vector) RemovedObjects() *com.Signal[[]Object] { return v.removed }

// Append adds objects at the end. Nil objects are ignored.
func (v *Vector) Append(objs ...Object) {
	v.Lock()
	defer v.Unlock()
	for _, obj := range objs {
		if obj != nil {
			v.children = append(v.children, obj)
		}
	}
}

// At returns the child at index i.
func (v *Vector) At(i int) (Object, bool) {
	v.RLock()
	defer v.RUnlock()
	if i < 0 || i >= len(v.children) {
		return nil, false
	}
	return v.children[i], true
}

// RemoveAt deletes the child at index i and returns it.
func (v *Vector) RemoveAt(i int) (Object, bool) {
	v.Lock()
	defer v.Unlock()
	if i < 0 || i >= len(v.children) {
		return nil, false
	}
	obj := v.children[i]
	v.children = append(v.children[:i], v.children[i+1:]...)
	return obj, true
}

// Len returns the number of children.
func (v *Vector) Len() int {
	v.RLock()
	defer v.RUnlock()
	return len(v.children)
}

// Properties lists the children in order, named by index.
func (v *Vector) Properties() []Property {
	props := make([]Property, len(v.children))
	for i, obj := range v.children {
		props[i] = ObjectRef(strconv.Itoa(i), obj)
	}
	return props
}
