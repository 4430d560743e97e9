// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vnode implements the virtual node tree behind an in-memory
// pseudo-filesystem namespace: directories, attribute files, binary
// attributes, and symlinks, with no backing storage device.
//
// # Reference model
//
// Nodes live in an arena owned by a Tree and are addressed by stable
// handles; parent and sibling links are handles, never owning
// pointers. Each node carries an atomic reference count. Removal
// detaches a node from its parent's child list immediately and is
// idempotent; memory is reclaimed only when the last reference is
// released, which may happen later and on any goroutine. The root is
// created with the Tree and is never removed.
//
// # Locking
//
// Each directory's child list is guarded by that directory's own
// mutex; every create, remove, cursor splice, and
// lookup-for-materialization on the list holds it. Rename additionally
// takes the single tree-wide rename lock for the duration of its
// lookup-plus-move, so a concurrent lookup observes the node under its
// old name or its new name, never neither. Lock order is the rename
// lock, then a directory mutex, then the arena lock; the arena lock is
// a leaf.
//
// # Materialization
//
// Directories are bound to host-visible entries eagerly at creation by
// the caller. Attributes, binary attributes, and symlinks are bound
// lazily: Tree.Materialize finds the unbound child on first lookup and
// invokes the collaborator's bind callback. Tree.EntryEvicted is the
// explicit eviction hook for the host entry-cache layer; nothing here
// depends on finalizer ordering.
//
// # Enumeration
//
// A Cursor records one open directory handle's position by splicing a
// transient marker into the child list. Emitted entries are stable
// under concurrent mutation: insertions ahead of the cursor affect
// only entries not yet reached, and insertions behind it are never
// revisited. New children are created at the head of the list, so
// listings run most-recently-created-first.
package vnode
