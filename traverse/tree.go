// Package traverse runs caller-supplied visit functions over every node of
// a tree in parallel, scheduling the nodes on a work-stealing queue.
//
// The package supports two orders. Postorder (bottom-up) guarantees every
// node runs after all of its children: leaves are seeded as the initial
// work units and each completed node decrements its parent's pending-child
// counter, with the worker that takes the counter to zero forking the
// parent. Preorder (top-down) is the dual: the root is seeded and each
// node forks its children after its own visit.
//
// Both orders give the usual fork-join visibility guarantee: a node's
// visit observes all memory written by the visits it depends on (children
// in postorder, ancestors in preorder), so per-node results can be plain
// values indexed by NodeID with no extra locking.
package traverse

import (
	"fmt"
	"sync/atomic"
)

// NodeID indexes a node in a Tree. IDs are dense, assigned in creation
// order starting at 0, and remain valid for the lifetime of the tree.
type NodeID int32

// None marks the absence of a node (the root's parent, a leaf's first
// child).
const None NodeID = -1

type node struct {
	parent      NodeID
	firstChild  NodeID
	lastChild   NodeID
	nextSibling NodeID
	childCount  int32

	// childrenRemaining counts children not yet visited in the current
	// bottom-up pass. The only field workers mutate; everything else is
	// frozen while a pass runs.
	childrenRemaining atomic.Int32
}

// Tree is an arena of nodes linked by indices instead of pointers, so
// node references can cross worker boundaries freely and the whole
// structure stays in one allocation.
//
// Building (AddRoot, AddChild) is single-threaded. A built tree can be
// traversed any number of times; traversal mutates only the per-node
// pending-child counters.
type Tree struct {
	nodes []node
	root  NodeID
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{root: None}
}

// AddRoot creates the root node. Calling it twice panics.
func (t *Tree) AddRoot() NodeID {
	if t.root != None {
		panic("Tree: AddRoot called twice")
	}
	id := t.alloc(None)
	t.root = id
	return id
}

// AddChild creates a new node as the last child of parent.
func (t *Tree) AddChild(parent NodeID) NodeID {
	t.mustBeValid(parent, "AddChild")

	id := t.alloc(parent)
	p := &t.nodes[parent]
	if p.firstChild == None {
		p.firstChild = id
	} else {
		t.nodes[p.lastChild].nextSibling = id
	}
	p.lastChild = id
	p.childCount++
	p.childrenRemaining.Store(p.childCount)
	return id
}

func (t *Tree) alloc(parent NodeID) NodeID {
	t.nodes = append(t.nodes, node{
		parent:      parent,
		firstChild:  None,
		lastChild:   None,
		nextSibling: None,
	})
	return NodeID(len(t.nodes) - 1)
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Root returns the root node, or None for an empty tree.
func (t *Tree) Root() NodeID {
	return t.root
}

// Parent returns the parent of id, or None for the root.
func (t *Tree) Parent(id NodeID) NodeID {
	t.mustBeValid(id, "Parent")
	return t.nodes[id].parent
}

// ChildCount returns the number of children of id.
func (t *Tree) ChildCount(id NodeID) int {
	t.mustBeValid(id, "ChildCount")
	return int(t.nodes[id].childCount)
}

// Children returns the children of id in insertion order.
func (t *Tree) Children(id NodeID) []NodeID {
	t.mustBeValid(id, "Children")

	n := t.nodes[id].childCount
	if n == 0 {
		return nil
	}
	out := make([]NodeID, 0, n)
	for c := t.nodes[id].firstChild; c != None; c = t.nodes[c].nextSibling {
		out = append(out, c)
	}
	return out
}

// Leaves returns every node without children, in ID order. These are the
// starting units of a bottom-up pass; in a single-node tree that is the
// root itself.
func (t *Tree) Leaves() []NodeID {
	var out []NodeID
	for i := range t.nodes {
		if t.nodes[i].childCount == 0 {
			out = append(out, NodeID(i))
		}
	}
	return out
}

// resetCounters re-arms every pending-child counter for a fresh bottom-up
// pass. Visits reset their own node's counter as they complete, which
// keeps a clean pass self-restoring, but an aborted pass leaves a mix of
// spent and unspent counters behind; the walk here heals that.
func (t *Tree) resetCounters() {
	for i := range t.nodes {
		t.nodes[i].childrenRemaining.Store(t.nodes[i].childCount)
	}
}

func (t *Tree) mustBeValid(id NodeID, op string) {
	if id < 0 || int(id) >= len(t.nodes) {
		panic(fmt.Sprintf("Tree: %s: invalid node %d", op, id))
	}
}
