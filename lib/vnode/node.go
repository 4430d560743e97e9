// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"
)

// ID is a stable arena handle for a node. The zero value means "no
// node". Handles are never reused within the lifetime of a Tree, so a
// stale handle resolves to nothing rather than to a recycled node.
type ID uint64

// Variant classifies a node. It is fixed at creation and never changes
// for the lifetime of the node.
type Variant int

const (
	// Invalid is the zero Variant. No live node carries it.
	Invalid Variant = iota

	// Root is the tree root. There is exactly one per Tree, it has
	// no parent, and it is never removed.
	Root

	// Directory nodes hold children and are materialized eagerly at
	// creation time.
	Directory

	// Attribute nodes expose a show/store callback pair through a
	// page-sized pseudo-file. Materialized lazily on first lookup.
	Attribute

	// BinAttribute nodes expose raw byte-range callbacks with a
	// declared size. Materialized lazily on first lookup.
	BinAttribute

	// Symlink nodes resolve to a target path. Materialized lazily
	// on first lookup.
	Symlink

	// cursor marks a transient enumeration position inside a
	// directory's child list. Cursors are not namespace entries:
	// they are invisible to lookup and listing output.
	cursor
)

func (v Variant) String() string {
	switch v {
	case Root:
		return "root"
	case Directory:
		return "directory"
	case Attribute:
		return "attribute"
	case BinAttribute:
		return "bin-attribute"
	case Symlink:
		return "symlink"
	case cursor:
		return "cursor"
	}
	return "invalid"
}

// lazy reports whether the variant is materialized on first lookup
// rather than eagerly at creation.
func (v Variant) lazy() bool {
	return v == Attribute || v == BinAttribute || v == Symlink
}

// Node is a virtual namespace entry. Nodes are created through
// Tree.Create and addressed by stable handles; the parent link and the
// sibling links are handles into the owning Tree's arena, never owning
// pointers.
//
// A node's child list (directories and the root) is guarded by that
// node's own mu. The parent, prev, and next links of a child are part
// of the parent's list and are guarded by the parent's mu.
type Node struct {
	tree    *Tree
	id      ID
	variant Variant
	element any

	// name is read during lookups under the parent's mu and
	// replaced by Rename under the rename lock plus the parent's
	// mu. It is an atomic pointer so that diagnostic reads outside
	// either lock are race-free.
	name atomic.Pointer[string]

	// mode holds the creation-time mode bits. A chmod override, if
	// any, is stored separately so the variant-derived type bits
	// stay immutable.
	mode fs.FileMode

	refs  atomic.Int64
	event atomic.Uint64

	// parent is the handle of the containing directory, zero once
	// detached. Atomic so Tree.Parent needs no lock.
	parent atomic.Uint64

	// entry is the identifier of the materialized host entry, zero
	// while unbound.
	entry atomic.Uint64

	detached atomic.Bool

	// mu guards childHead and the sibling links of every child.
	mu        sync.Mutex
	childHead ID

	// prev and next are sibling links, guarded by the parent's mu.
	prev, next ID

	// attrMu guards the chmod override and the modification time.
	attrMu      sync.Mutex
	override    fs.FileMode
	hasOverride bool
	mtime       time.Time

	// waitMu guards waitCh, the close-and-renew broadcast channel
	// for change notification on this node's owning element.
	waitMu sync.Mutex
	waitCh chan struct{}
}

// ID returns the node's arena handle.
func (n *Node) ID() ID { return n.id }

// Variant returns the node's variant.
func (n *Node) Variant() Variant { return n.variant }

// Element returns the opaque owning element recorded at creation.
func (n *Node) Element() any { return n.element }

// Name returns the node's current name. The name changes only through
// Tree.Rename.
func (n *Node) Name() string { return *n.name.Load() }

// Mode returns the node's mode bits, honoring a chmod override for the
// permission bits. The variant-derived type bits are immutable.
func (n *Node) Mode() fs.FileMode {
	n.attrMu.Lock()
	defer n.attrMu.Unlock()
	if n.hasOverride {
		return n.mode&^fs.ModePerm | n.override&fs.ModePerm
	}
	return n.mode
}

// SetPerm persists a permission-bit override on the node. Type bits in
// mode are ignored.
func (n *Node) SetPerm(mode fs.FileMode) {
	n.attrMu.Lock()
	defer n.attrMu.Unlock()
	n.override = mode & fs.ModePerm
	n.hasOverride = true
}

// ModTime returns the node's modification time.
func (n *Node) ModTime() time.Time {
	n.attrMu.Lock()
	defer n.attrMu.Unlock()
	return n.mtime
}

// Touch updates the node's modification time.
func (n *Node) Touch(now time.Time) {
	n.attrMu.Lock()
	defer n.attrMu.Unlock()
	n.mtime = now
}

// EventCount returns the node's monotonic change counter. Attribute
// handles snapshot this at fill time and compare it later to detect
// staleness.
func (n *Node) EventCount() uint64 { return n.event.Load() }

// BumpEvent increments the node's change counter.
func (n *Node) BumpEvent() { n.event.Add(1) }

// Entry returns the identifier of the materialized host entry, or zero
// while the node is unbound.
func (n *Node) Entry() uint64 { return n.entry.Load() }

// ChangeSignal returns a channel that is closed the next time
// WakeWaiters runs on this node. Callers re-fetch the channel after
// each wakeup.
func (n *Node) ChangeSignal() <-chan struct{} {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	if n.waitCh == nil {
		n.waitCh = make(chan struct{})
	}
	return n.waitCh
}

// WakeWaiters wakes every goroutine blocked on ChangeSignal by closing
// the current broadcast channel and installing a fresh one.
func (n *Node) WakeWaiters() {
	n.waitMu.Lock()
	defer n.waitMu.Unlock()
	if n.waitCh != nil {
		close(n.waitCh)
		n.waitCh = nil
	}
}

// Acquire takes an additional reference on the node. Every Acquire
// must be paired with a Release.
func (n *Node) Acquire() {
	if n.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("vnode: Acquire on dead node %d (%s %q)", n.id, n.variant, n.Name()))
	}
}

// Release drops one reference. When the count reaches zero the node is
// freed from the arena; this is non-blocking and may run on any
// goroutine. A node may only reach zero after it has been detached
// from its parent list.
func (n *Node) Release() {
	count := n.refs.Add(-1)
	switch {
	case count > 0:
		return
	case count < 0:
		panic(fmt.Sprintf("vnode: Release underflow on node %d (%s)", n.id, n.variant))
	}
	if !n.detached.Load() && n.variant != Root {
		panic(fmt.Sprintf("vnode: node %d (%s %q) reached zero references while attached", n.id, n.variant, n.Name()))
	}
	n.tree.free(n)
}

// bound reports whether the node is a real namespace entry rather
// than an enumeration cursor.
func (n *Node) bound() bool { return n.variant != cursor }
