package model

// Node is an immutable entry in the switch configuration tree.
//
// Nodes are never modified once they are reachable from a published
// SwitchState. Updates go through With* methods that return a fresh node,
// so any number of goroutines may read a node without locking.
type Node interface {
	// ForEachChild calls fn for every node owned by this one, stopping at
	// the first error. Leaf nodes never call fn.
	ForEachChild(fn func(Node) error) error
}

// Walk visits n and, depth-first, every node it owns.
func Walk(n Node, fn func(Node) error) error {
	if n == nil {
		return nil
	}
	if err := fn(n); err != nil {
		return err
	}
	return n.ForEachChild(func(child Node) error {
		return Walk(child, fn)
	})
}
