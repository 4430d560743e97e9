// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"fmt"
	"io/fs"
)

// DirEntry is one element of a directory listing.
type DirEntry struct {
	Name string

	// Variant is the type tag of the entry, derived from the
	// child's variant. The synthetic "." and ".." entries report
	// Directory.
	Variant Variant

	// Ino identifies the entry. Nodes with a materialized host
	// entry report its identifier; for unmaterialized nodes a
	// process-wide unique value is synthesized, which is not stable
	// across successive listings of a never-opened child.
	Ino uint64
}

// Cursor iterates over a directory's children for one open directory
// handle. The cursor is an unbound marker spliced into the child list
// to record position: entries already emitted are unaffected by later
// insertions ahead of the cursor, and entries inserted behind it are
// not revisited. Cursors are invisible to lookups and to other
// cursors' output.
//
// A Cursor serves a single handle and is not safe for concurrent use.
type Cursor struct {
	tree   *Tree
	dir    *Node
	marker *Node
	pos    int64
	closed bool
}

// OpenCursor allocates a cursor over dir and splices its marker into
// dir's child list. The caller must Close the cursor when the handle
// is released.
func (t *Tree) OpenCursor(dir *Node) (*Cursor, error) {
	if dir == nil || (dir.variant != Directory && dir.variant != Root) {
		return nil, fmt.Errorf("open cursor: not a directory: %w", fs.ErrInvalid)
	}
	marker := t.newNode("", nil, 0, cursor)
	dir.mu.Lock()
	t.spliceHead(dir, marker)
	dir.mu.Unlock()
	return &Cursor{tree: t, dir: dir, marker: marker}, nil
}

// Next emits the entry at the cursor's current position and advances.
// Position 0 is the synthetic self entry, position 1 the synthetic
// parent entry; subsequent positions walk the sibling list from the
// marker, skipping cursors. Returns false at the end of the directory.
func (c *Cursor) Next() (DirEntry, bool) {
	if c.closed {
		return DirEntry{}, false
	}
	switch c.pos {
	case 0:
		c.pos++
		return DirEntry{Name: ".", Variant: Directory, Ino: identifier(c.dir)}, true
	case 1:
		parent := c.tree.Parent(c.dir)
		if parent == nil {
			parent = c.dir
		}
		c.pos++
		return DirEntry{Name: "..", Variant: Directory, Ino: identifier(parent)}, true
	}

	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	if c.pos == 2 {
		// First real entry: rewind the marker to the list head.
		c.tree.unlink(c.dir, c.marker)
		c.tree.spliceHead(c.dir, c.marker)
	}

	for id := c.marker.next; id != 0; {
		n := c.tree.node(id)
		if n == nil {
			break
		}
		id = n.next
		if !n.bound() {
			continue
		}
		entry := DirEntry{Name: n.Name(), Variant: n.variant, Ino: identifier(n)}
		c.tree.unlink(c.dir, c.marker)
		c.tree.spliceAfter(c.dir, n, c.marker)
		c.pos++
		return entry, true
	}
	return DirEntry{}, false
}

// Seek relocates the cursor to an absolute position, re-walking the
// child list from the head and counting only bound entries. Positions
// 0 and 1 address the synthetic entries. A negative offset is rejected
// with fs.ErrInvalid.
func (c *Cursor) Seek(offset int64) error {
	if offset < 0 {
		return fmt.Errorf("seek to %d: %w", offset, fs.ErrInvalid)
	}
	if c.closed {
		return fs.ErrClosed
	}

	c.dir.mu.Lock()
	defer c.dir.mu.Unlock()

	c.pos = offset
	if offset < 2 {
		// The marker is rewound when the walk restarts at
		// position 2.
		return nil
	}

	c.tree.unlink(c.dir, c.marker)
	remaining := offset - 2
	var after *Node
	for id := c.dir.childHead; id != 0; {
		n := c.tree.node(id)
		if n == nil || remaining == 0 {
			break
		}
		if n.bound() {
			remaining--
		}
		after = n
		id = n.next
	}
	c.tree.spliceAfter(c.dir, after, c.marker)
	return nil
}

// Close removes the marker from the directory and frees it. The
// cursor is unusable afterwards. Idempotent.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.dir.mu.Lock()
	c.tree.unlink(c.dir, c.marker)
	c.marker.detached.Store(true)
	c.dir.mu.Unlock()
	c.marker.Release()
}

// identifier resolves the listing identifier for a node.
func identifier(n *Node) uint64 {
	if entry := n.Entry(); entry != 0 {
		return entry
	}
	return nextSyntheticID()
}
