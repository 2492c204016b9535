package data

import (
	"sort"

	"github.com/IRCAD/sight-sub083/pkg/com"
)

// ClassComposite is the class name of Composite.
const ClassComposite = "data::Composite"

// Composite holds named child objects.
type Composite struct {
	*Base

	children map[string]Object
	added    *com.Signal[map[string]Object]
	removed  *com.Signal[map[string]Object]
}

// NewComposite creates an empty composite.
func NewComposite() *Composite {
	c := &Composite{
		Base:     NewBase(ClassComposite),
		children: make(map[string]Object),
	}
	c.added = com.AddSignal[map[string]Object](c.Signals(), SignalAddedObjects)
	c.removed = com.AddSignal[map[string]Object](c.Signals(), SignalRemovedObjects)
	return c
}

// AddedObjects returns the "added_objects" signal.
func (c *Composite) AddedObjects() *com.Signal[map[string]Object] { return c.added }

// RemovedObjects returns the "removed_objects" signal.
func (c *Composite) RemovedObjects() *com.Signal[map[string]Object] { return c.removed }

// Set stores obj under key and returns the object it replaced, if any.
func (c *Composite) Set(key string, obj Object) Object {
	c.Lock()
	defer c.Unlock()
	old := c.children[key]
	if obj == nil {
		delete(c.children, key)
	} else {
		c.children[key] = obj
	}
	return old
}

// Get returns the child stored under key.
func (c *Composite) Get(key string) (Object, bool) {
	c.RLock()
	defer c.RUnlock()
	obj, ok := c.children[key]
	return obj, ok
}

// Remove deletes the child stored under key and returns it.
func (c *Composite) Remove(key string) (Object, bool) {
	c.Lock()
	defer c.Unlock()
	obj, ok := c.children[key]
	delete(c.children, key)
	return obj, ok
}

// Keys returns the sorted child keys.
func (c *Composite) Keys() []string {
	c.RLock()
	defer c.RUnlock()
	return c.sortedKeys()
}

// Len returns the number of children.
func (c *Composite) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.children)
}

func (c *Composite) sortedKeys() []string {
	keys := make([]string, 0, len(c.children))
	for k := range c.children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Properties lists the children in key order.
func (c *Composite) Properties() []Property {
	keys := c.sortedKeys()
	props := make([]Property, 0, len(keys))
	for _, k := range keys {
		props = append(props, ObjectRef(k, c.children[k]))
	}
	return props
}
