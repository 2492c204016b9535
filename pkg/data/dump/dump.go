// Package dump renders and compares object graphs while they are held under
// a recursive read lock.
package dump

import (
	"bytes"
	"context"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/lock"
)

// Snapshot returns a JSON-ready tree of root. Objects reached a second time,
// shared sub-objects and back references alike, are rendered as
// {"$ref": id}.
func Snapshot(root data.Object) (map[string]any, error) {
	return SnapshotContext(context.Background(), root)
}

// SnapshotContext is Snapshot with a cancellable lock acquisition.
func SnapshotContext(ctx context.Context, root data.Object) (map[string]any, error) {
	if root == nil {
		return nil, fmt.Errorf("dump: nil root")
	}
	l, err := lock.NewRecursiveContext(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("dump: lock %s: %w", root.ID(), err)
	}
	defer l.Release()

	return render(root, make(map[string]bool)), nil
}

func render(obj data.Object, seen map[string]bool) map[string]any {
	if seen[obj.ID()] {
		return map[string]any{"$ref": obj.ID()}
	}
	seen[obj.ID()] = true

	props := make(map[string]any)
	for _, p := range obj.Properties() {
		switch p.Kind {
		case data.KindObject:
			props[p.Name] = render(p.Object, seen)
		case data.KindBuffer:
			props[p.Name] = renderBuffer(p.Buffer)
		default:
			props[p.Name] = p.Value
		}
	}
	return map[string]any{
		"id":         obj.ID(),
		"class":      obj.Classname(),
		"properties": props,
	}
}

func renderBuffer(b *data.Buffer) map[string]any {
	raw := b.Data()
	return map[string]any{
		"id":     b.ID(),
		"size":   len(raw),
		"human":  humanize.IBytes(uint64(len(raw))),
		"xxhash": fmt.Sprintf("%016x", xxhash.Sum64(raw)),
	}
}

// Equal locks both graphs and reports whether they have the same structure
// and content. Identities are ignored.
func Equal(a, b data.Object) (bool, error) {
	if a == nil || b == nil {
		return a == nil && b == nil, nil
	}
	l, err := lock.NewRecursiveAll(context.Background(), a, b)
	if err != nil {
		return false, err
	}
	defer l.Release()

	return equal(a, b, make(map[[2]string]bool)), nil
}

func equal(a, b data.Object, visited map[[2]string]bool) bool {
	pair := [2]string{a.ID(), b.ID()}
	if visited[pair] {
		return true
	}
	visited[pair] = true

	if a.Classname() != b.Classname() {
		return false
	}
	pa, pb := a.Properties(), b.Properties()
	if len(pa) != len(pb) {
		return false
	}
	for i := range pa {
		x, y := pa[i], pb[i]
		if x.Name != y.Name || x.Kind != y.Kind {
			return false
		}
		switch x.Kind {
		case data.KindObject:
			if !equal(x.Object, y.Object, visited) {
				return false
			}
		case data.KindBuffer:
			if x.Buffer != y.Buffer && !bytes.Equal(x.Buffer.Data(), y.Buffer.Data()) {
				return false
			}
		default:
			if !reflect.DeepEqual(x.Value, y.Value) {
				return false
			}
		}
	}
	return true
}
