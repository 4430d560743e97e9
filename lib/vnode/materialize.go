// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"fmt"
	"io/fs"
)

// BindFunc creates a host-visible entry for a node during
// materialization and returns the entry's identifier, which must be
// nonzero. The node's variant, mode, and element carry everything a
// variant-specific initializer needs: the declared size of a binary
// attribute, the page-sized virtual size of an attribute, or the
// resolved target of a symlink.
type BindFunc func(n *Node) (uint64, error)

// Materialize binds the lazily-materialized child of dir named name to
// a host entry. Directories are materialized eagerly at creation and
// are never found here; only attributes, binary attributes, and
// symlinks take this path, on their first lookup.
//
// The scan and the bind run under dir's child-list lock, so a
// concurrent create or remove of the same name observes a consistent
// list. On success the tree holds a reference on the node on behalf of
// the binding; EntryEvicted drops it.
//
// Returns fs.ErrNotExist when no unbound lazy child matches.
func (t *Tree) Materialize(dir *Node, name string, bind BindFunc) (*Node, error) {
	if dir == nil || (dir.variant != Directory && dir.variant != Root) {
		return nil, fmt.Errorf("materialize %q: not a directory: %w", name, fs.ErrInvalid)
	}

	dir.mu.Lock()
	defer dir.mu.Unlock()

	for id := dir.childHead; id != 0; {
		child := t.node(id)
		if child == nil {
			break
		}
		id = child.next

		if !child.variant.lazy() || child.Name() != name {
			continue
		}
		if child.Entry() != 0 {
			// Already bound; first lookup won the race.
			return child, nil
		}

		entry, err := bind(child)
		if err != nil {
			return nil, fmt.Errorf("materialize %q (%s): %w", name, child.variant, err)
		}
		if entry == 0 {
			panic(fmt.Sprintf("vnode: bind returned zero entry identifier for %q", name))
		}
		child.Acquire()
		child.entry.Store(entry)
		return child, nil
	}

	return nil, fmt.Errorf("materialize %q: %w", name, fs.ErrNotExist)
}

// Bind records an eager materialization binding for n, used for
// directories, which get a host entry synchronously at creation rather
// than on first lookup. The tree takes a reference on behalf of the
// binding, dropped by EntryEvicted. Binding an already-bound node is a
// caller bug and panics.
func (t *Tree) Bind(n *Node, entry uint64) {
	if entry == 0 {
		panic(fmt.Sprintf("vnode: Bind with zero entry identifier for %q", n.Name()))
	}
	n.Acquire()
	if n.entry.Swap(entry) != 0 {
		panic(fmt.Sprintf("vnode: node %q already bound", n.Name()))
	}
}
