package condition

import "iter"

// Entry is one step of a Condition Tree walk.
type Entry struct {
	KeyPrefix string // dotted path to Parent
	Key       string // this node's name fragment
	FullKey   string // dotted path including Key
	Node      *Node
	Parent    *Node
	Depth     int
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// Preorder walks the tree root-first, parent before children.
func (t *Tree) Preorder() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		var walk func(prefix string, key string, n, parent *Node, depth int) bool
		walk = func(prefix, key string, n, parent *Node, depth int) bool {
			full := join(prefix, key)
			if depth > 0 {
				if !yield(Entry{KeyPrefix: prefix, Key: key, FullKey: full, Node: n, Parent: parent, Depth: depth}) {
					return false
				}
			}
			for k, c := range n.children {
				if !walk(full, k, c, n, depth+1) {
					return false
				}
			}
			return true
		}
		walk("", "", t.root, nil, 0)
	}
}

// Postorder walks the tree children before parent.
func (t *Tree) Postorder() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		var walk func(prefix string, key string, n, parent *Node, depth int) bool
		walk = func(prefix, key string, n, parent *Node, depth int) bool {
			full := join(prefix, key)
			for k, c := range n.children {
				if !walk(full, k, c, n, depth+1) {
					return false
				}
			}
			if depth > 0 {
				if !yield(Entry{KeyPrefix: prefix, Key: key, FullKey: full, Node: n, Parent: parent, Depth: depth}) {
					return false
				}
			}
			return true
		}
		walk("", "", t.root, nil, 0)
	}
}

// Leaves walks only nodes with no children.
func (t *Tree) Leaves() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for e := range t.Preorder() {
			if len(e.Node.children) == 0 {
				if !yield(e) {
					return
				}
			}
		}
	}
}
