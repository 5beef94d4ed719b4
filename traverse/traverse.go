package traverse

import (
	"fmt"

	"github.com/parwork/go-work-queue/core"
)

// VisitFunc is the per-node computation of a pass. worker is the index of
// the executing queue worker, usable for lock-free per-worker scratch
// state (see core.Proxy.WorkerID).
//
// A visit must not touch the tree structure; it may freely write to
// caller-owned per-node state following the package's visibility rules.
type VisitFunc func(id NodeID, worker int)

// Callbacks bundles the visit functions of a Traverser. Postorder is
// required for RunPostorder, Preorder for RunPreorder; either may be nil
// if the corresponding order is never run.
type Callbacks struct {
	Postorder VisitFunc
	Preorder  VisitFunc
}

// passContext is the queue-wide data shared by all units of a pass.
type passContext struct {
	tree *Tree
	cb   Callbacks
}

// Traverser binds a tree and its callbacks to a work queue. The same
// Traverser runs any number of passes, in either order, reusing the same
// workers and deques; Shutdown releases them.
//
// Like the queue it wraps, a Traverser is owned by one goroutine: passes
// do not overlap and the tree must not be mutated while one runs.
type Traverser struct {
	tree  *Tree
	cb    Callbacks
	queue *core.WorkQueue[passContext, NodeID]

	// countersDirty marks that an aborted bottom-up pass left a mix of
	// spent and unspent pending-child counters. The next bottom-up pass
	// heals them before seeding; clean passes restore their own counters
	// and need no walk.
	countersDirty bool
}

// NewTraverser creates a traverser with default queue configuration.
func NewTraverser(name string, threadCount int, tree *Tree, cb Callbacks) *Traverser {
	return NewTraverserWithConfig(name, threadCount, tree, cb, core.DefaultConfig())
}

// NewTraverserWithConfig creates a traverser with the given queue
// configuration. Panics if tree is nil or both callbacks are nil.
func NewTraverserWithConfig(name string, threadCount int, tree *Tree, cb Callbacks, config *core.Config) *Traverser {
	if tree == nil {
		panic("Traverser: tree must not be nil")
	}
	if cb.Postorder == nil && cb.Preorder == nil {
		panic("Traverser: at least one callback must be set")
	}

	queue := core.NewWorkQueueWithConfig[passContext, NodeID](
		name, threadCount, passContext{tree: tree, cb: cb}, config)
	return &Traverser{tree: tree, cb: cb, queue: queue}
}

// RunPostorder visits every node bottom-up: a node runs only after all of
// its children ran. Blocks until the pass completed. A panicking visit
// aborts the pass the way a panicking unit aborts a queue run; the
// traverser stays usable afterwards.
func (tr *Traverser) RunPostorder() error {
	if tr.cb.Postorder == nil {
		panic("Traverser: RunPostorder without a Postorder callback")
	}
	if tr.tree.root == None {
		return nil
	}

	if tr.countersDirty {
		tr.tree.resetCounters()
		tr.countersDirty = false
	}
	for _, leaf := range tr.tree.Leaves() {
		tr.queue.Push(core.WorkUnit[passContext, NodeID]{Body: postorderBody, Data: leaf})
	}
	if err := tr.queue.Run(); err != nil {
		tr.countersDirty = true
		return err
	}
	return nil
}

// RunPreorder visits every node top-down: a node runs only after its
// parent ran. Blocks until the pass completed.
func (tr *Traverser) RunPreorder() error {
	if tr.cb.Preorder == nil {
		panic("Traverser: RunPreorder without a Preorder callback")
	}
	if tr.tree.root == None {
		return nil
	}

	tr.queue.Push(core.WorkUnit[passContext, NodeID]{Body: preorderBody, Data: tr.tree.root})
	return tr.queue.Run()
}

// Shutdown terminates the underlying queue's workers. The traverser may
// not be used afterwards.
func (tr *Traverser) Shutdown() {
	tr.queue.Shutdown()
}

// Tree returns the traversed tree.
func (tr *Traverser) Tree() *Tree {
	return tr.tree
}

// Queue exposes the underlying work queue for stats, metrics polling,
// and tuning inspection.
func (tr *Traverser) Queue() *core.WorkQueue[passContext, NodeID] {
	return tr.queue
}

// postorderBody visits one node of a bottom-up pass and schedules the
// parent when this node was its last pending child.
func postorderBody(id NodeID, proxy *core.Proxy[passContext, NodeID]) {
	pc := proxy.Context()
	tree := pc.tree

	pc.cb.Postorder(id, proxy.WorkerID())

	// Re-arm this node's own counter now that it completed, leaving the
	// tree ready for the next pass.
	n := &tree.nodes[id]
	n.childrenRemaining.Store(n.childCount)

	parent := n.parent
	if parent == None {
		// The root ends the pass; nothing above it to schedule.
		return
	}

	remaining := tree.nodes[parent].childrenRemaining.Add(-1)
	switch {
	case remaining == 0:
		// Exactly one child takes the counter from 1 to 0, so the parent
		// is forked exactly once, by whichever worker got there last.
		proxy.Fork(core.WorkUnit[passContext, NodeID]{Body: postorderBody, Data: parent})
	case remaining < 0:
		panic(fmt.Sprintf("traverse: pending-child counter underflow at node %d", parent))
	}
}

// preorderBody visits one node of a top-down pass and forks its children.
func preorderBody(id NodeID, proxy *core.Proxy[passContext, NodeID]) {
	pc := proxy.Context()
	tree := pc.tree

	pc.cb.Preorder(id, proxy.WorkerID())

	for c := tree.nodes[id].firstChild; c != None; c = tree.nodes[c].nextSibling {
		proxy.Fork(core.WorkUnit[passContext, NodeID]{Body: preorderBody, Data: c})
	}
}
