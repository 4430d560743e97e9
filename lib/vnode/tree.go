// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/objectfs/lib/clock"
)

// syntheticIDs feeds identifiers for directory entries whose node has
// no materialized host entry. Process-wide so a synthesized identifier
// never collides with another synthesized identifier, even across
// trees. Values start high to stay clear of host-entry identifier
// ranges.
var syntheticIDs atomic.Uint64

func init() { syntheticIDs.Store(1 << 48) }

func nextSyntheticID() uint64 { return syntheticIDs.Add(1) }

// Tree owns an arena of nodes forming one virtual namespace. All
// operations go through the Tree; there is no package-level tree
// state.
//
// Lock ordering: renameMu, then a directory's mu, then arenaMu. The
// arena lock is a leaf and is never held across callbacks.
type Tree struct {
	clk clock.Clock

	// renameMu is the single tree-wide rename serialization point.
	// Held exclusively for the duration of one rename's
	// lookup-plus-move so no lookup can observe a half-moved node.
	renameMu sync.Mutex

	arenaMu sync.RWMutex
	nodes   map[ID]*Node
	nextID  atomic.Uint64

	root *Node
}

// New creates an empty tree containing only the root node. The clock
// stamps node modification times; pass clock.Real() outside tests.
func New(clk clock.Clock) *Tree {
	if clk == nil {
		clk = clock.Real()
	}
	t := &Tree{
		clk:   clk,
		nodes: make(map[ID]*Node),
	}
	t.root = t.newNode("", nil, fs.ModeDir|0o755, Root)
	return t
}

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

// newNode allocates a node in the arena with one reference, not yet
// linked to any parent.
func (t *Tree) newNode(name string, element any, mode fs.FileMode, variant Variant) *Node {
	n := &Node{
		tree:    t,
		id:      ID(t.nextID.Add(1)),
		variant: variant,
		element: element,
		mode:    mode,
		mtime:   t.clk.Now(),
	}
	n.name.Store(&name)
	n.refs.Store(1)

	t.arenaMu.Lock()
	t.nodes[n.id] = n
	t.arenaMu.Unlock()
	return n
}

// node resolves an arena handle. Returns nil for the zero handle and
// for handles whose node has been freed.
func (t *Tree) node(id ID) *Node {
	if id == 0 {
		return nil
	}
	t.arenaMu.RLock()
	n := t.nodes[id]
	t.arenaMu.RUnlock()
	return n
}

// free removes a node from the arena once its reference count reaches
// zero. Called from Node.Release.
func (t *Tree) free(n *Node) {
	t.arenaMu.Lock()
	delete(t.nodes, n.id)
	t.arenaMu.Unlock()
}

// Parent returns the directory currently containing n, or nil if n is
// the root or has been detached.
func (t *Tree) Parent(n *Node) *Node {
	return t.node(ID(n.parent.Load()))
}

// Create allocates a new node named name under parent. The new node
// becomes the head of parent's child list, so enumeration yields
// most-recently-created entries first. The returned node is owned by
// the parent list; callers that retain it beyond removal must Acquire
// their own reference.
//
// Returns fs.ErrInvalid if parent cannot hold children or the variant
// is not creatable, and fs.ErrExist if a live bound child of parent
// already has the name.
func (t *Tree) Create(parent *Node, name string, element any, mode fs.FileMode, variant Variant) (*Node, error) {
	if parent == nil || (parent.variant != Directory && parent.variant != Root) {
		return nil, fmt.Errorf("create %q: parent is not a directory: %w", name, fs.ErrInvalid)
	}
	if name == "" || !(variant == Directory || variant.lazy()) {
		return nil, fmt.Errorf("create %q (%s): %w", name, variant, fs.ErrInvalid)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	if t.existsLocked(parent, name) {
		return nil, fmt.Errorf("create %q: %w", name, fs.ErrExist)
	}
	n := t.newNode(name, element, mode, variant)
	t.spliceHead(parent, n)
	return n, nil
}

// Exists reports whether parent has a live bound child with the given
// name. Linear scan of the child list; fan-out is expected to be
// modest.
func (t *Tree) Exists(parent *Node, name string) bool {
	parent.mu.Lock()
	defer parent.mu.Unlock()
	return t.existsLocked(parent, name)
}

func (t *Tree) existsLocked(parent *Node, name string) bool {
	return t.findLocked(parent, name) != nil
}

// Find returns the live bound child of parent with the given name, or
// nil. The caller must ensure the child outlives its use, typically by
// acquiring a reference before the surrounding operation can race with
// removal.
func (t *Tree) Find(parent *Node, name string) *Node {
	if parent == nil || (parent.variant != Directory && parent.variant != Root) {
		return nil
	}
	parent.mu.Lock()
	defer parent.mu.Unlock()
	return t.findLocked(parent, name)
}

func (t *Tree) findLocked(parent *Node, name string) *Node {
	for id := parent.childHead; id != 0; {
		child := t.node(id)
		if child == nil {
			break
		}
		if child.bound() && child.Name() == name {
			return child
		}
		id = child.next
	}
	return nil
}

// Children returns a snapshot of dir's live bound children, head
// first. The snapshot does not hold references; callers coordinating
// removal must ensure no other remover races them.
func (t *Tree) Children(dir *Node) []*Node {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	var children []*Node
	for id := dir.childHead; id != 0; {
		child := t.node(id)
		if child == nil {
			break
		}
		if child.bound() {
			children = append(children, child)
		}
		id = child.next
	}
	return children
}

// Remove detaches n from its parent's child list and drops the list's
// reference. Idempotent: removing an already-detached node is a no-op.
// The node's memory is reclaimed only when the last reference is
// released, which may be later and on another goroutine.
func (t *Tree) Remove(n *Node) {
	if n == nil || n.variant == Root {
		return
	}
	parent := t.Parent(n)
	if parent == nil {
		return
	}
	parent.mu.Lock()
	if n.detached.Load() {
		parent.mu.Unlock()
		return
	}
	t.unlink(parent, n)
	n.detached.Store(true)
	n.parent.Store(0)
	parent.mu.Unlock()

	n.Release()
}

// Rename changes n's name in place under its current parent.
//
// Returns fs.ErrInvalid when newName equals the current name, when n
// is the root, or when n has no parent; fs.ErrExist when newName is
// already taken under the parent. The tree-wide rename lock is held
// across the lookup-plus-move so concurrent lookups observe either
// the old or the new name, never neither.
func (t *Tree) Rename(n *Node, newName string) error {
	if n.variant == Root {
		return fmt.Errorf("rename root: %w", fs.ErrInvalid)
	}
	if newName == "" || newName == n.Name() {
		return fmt.Errorf("rename %q to %q: %w", n.Name(), newName, fs.ErrInvalid)
	}

	t.renameMu.Lock()
	defer t.renameMu.Unlock()

	parent := t.Parent(n)
	if parent == nil {
		return fmt.Errorf("rename %q: node has no parent: %w", n.Name(), fs.ErrInvalid)
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()
	if t.existsLocked(parent, newName) {
		return fmt.Errorf("rename %q to %q: %w", n.Name(), newName, fs.ErrExist)
	}
	n.name.Store(&newName)
	return nil
}

// EntryEvicted is called by the host entry-cache collaborator when the
// host entry bound to n is destroyed. It clears the materialization
// binding and drops the reference held on the node's behalf.
// Idempotent: a second eviction of the same binding is a no-op.
func (t *Tree) EntryEvicted(n *Node) {
	if n.entry.Swap(0) != 0 {
		n.Release()
	}
}

// Clock returns the time source the tree stamps modification times
// with.
func (t *Tree) Clock() clock.Clock { return t.clk }

// Child-list splicing. All helpers require the directory's mu.

// spliceHead links n as the first entry of dir's child list.
func (t *Tree) spliceHead(dir *Node, n *Node) {
	n.prev = 0
	n.next = dir.childHead
	if head := t.node(dir.childHead); head != nil {
		head.prev = n.id
	}
	dir.childHead = n.id
	n.parent.Store(uint64(dir.id))
}

// spliceAfter links n immediately after pos in dir's child list. A nil
// pos links n at the head.
func (t *Tree) spliceAfter(dir *Node, pos, n *Node) {
	if pos == nil {
		t.spliceHead(dir, n)
		return
	}
	n.prev = pos.id
	n.next = pos.next
	if after := t.node(pos.next); after != nil {
		after.prev = n.id
	}
	pos.next = n.id
	n.parent.Store(uint64(dir.id))
}

// unlink removes n from dir's child list and clears its sibling
// links. The parent link is left for the caller: Remove zeroes it,
// cursor repositioning re-splices immediately.
func (t *Tree) unlink(dir *Node, n *Node) {
	if prev := t.node(n.prev); prev != nil {
		prev.next = n.next
	} else if dir.childHead == n.id {
		dir.childHead = n.next
	}
	if next := t.node(n.next); next != nil {
		next.prev = n.prev
	}
	n.prev, n.next = 0, 0
}
