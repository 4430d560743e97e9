// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attrio

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sync"

	"github.com/bureau-foundation/objectfs/lib/vnode"
)

// PageSize is the staging capacity of one attribute handle. A show
// callback must return at most this many bytes, and a store receives
// at most this many; attribute values are whole values that fit one
// page.
const PageSize = 4096

// Ops is the callback pair backing one attribute. Either callback may
// be nil, which removes the corresponding capability: opening for read
// requires Show, opening for write requires Store.
type Ops struct {
	// Show produces the attribute's current value, at most PageSize
	// bytes. Returning more is a provider contract breach and
	// panics rather than truncating.
	Show func() ([]byte, error)

	// Store consumes a complete new value.
	Store func(data []byte) error
}

// Access selects the capabilities requested when opening a handle.
type Access uint8

const (
	// Read requests read access; the attribute must have a Show
	// callback and readable mode bits.
	Read Access = 1 << iota
	// Write requests write access; the attribute must have a Store
	// callback and writable mode bits.
	Write
)

// Buffer is the per-open-handle staging state for one attribute. Each
// open allocates its own Buffer: two concurrent opens of the same node
// never share staged content or fill state. All methods on one Buffer
// are serialized by its own lock; independent handles never block each
// other.
type Buffer struct {
	node  *vnode.Node
	owner *vnode.Node
	ops   Ops
	acc   Access

	mu        sync.Mutex
	page      []byte
	count     int
	needsFill bool
	event     uint64
	closed    bool
}

// Open verifies the requested access against the attribute's
// capabilities and mode bits and allocates a fresh handle with
// needs-fill set. References on the node and its owning directory are
// held until Close.
//
// Returns fs.ErrPermission when a requested capability has no callback
// or the mode bits deny it.
func Open(tree *vnode.Tree, node *vnode.Node, ops Ops, access Access) (*Buffer, error) {
	if node.Variant() != vnode.Attribute {
		return nil, fmt.Errorf("open %q: not an attribute: %w", node.Name(), fs.ErrInvalid)
	}
	if access == 0 {
		return nil, fmt.Errorf("open %q: no access requested: %w", node.Name(), fs.ErrInvalid)
	}
	mode := node.Mode()
	if access&Read != 0 && (ops.Show == nil || mode.Perm()&0o444 == 0) {
		return nil, fmt.Errorf("open %q for read: %w", node.Name(), fs.ErrPermission)
	}
	if access&Write != 0 && (ops.Store == nil || mode.Perm()&0o222 == 0) {
		return nil, fmt.Errorf("open %q for write: %w", node.Name(), fs.ErrPermission)
	}
	owner := tree.Parent(node)
	if owner == nil {
		return nil, fmt.Errorf("open %q: detached attribute: %w", node.Name(), fs.ErrNotExist)
	}

	node.Acquire()
	owner.Acquire()
	return &Buffer{
		node:      node,
		owner:     owner,
		ops:       ops,
		acc:       access,
		needsFill: true,
	}, nil
}

// ReadAt copies a sub-range of the staged value into p. On the first
// read of a session the show callback is invoked exactly once to stage
// the value and capture the node's event counter; subsequent reads
// only copy, until the handle goes stale and forces a re-fill. Returns
// io.EOF once off reaches the staged length.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	if b.acc&Read == 0 {
		return 0, fmt.Errorf("read: handle not open for read: %w", fs.ErrPermission)
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, fs.ErrInvalid)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fs.ErrClosed
	}
	if b.needsFill {
		if err := b.fill(); err != nil {
			return 0, err
		}
	}
	if off >= int64(b.count) {
		return 0, io.EOF
	}
	return copy(p, b.page[off:b.count]), nil
}

// fill stages the attribute value. The event counter is captured
// before the show callback runs so a change racing the fill marks the
// handle stale rather than being lost.
//
// Precondition: b.mu held.
func (b *Buffer) fill() error {
	b.event = b.node.EventCount()
	value, err := b.ops.Show()
	if err != nil {
		return fmt.Errorf("show %q: %w", b.node.Name(), err)
	}
	if len(value) > PageSize {
		panic(fmt.Sprintf("attrio: show for %q returned %d bytes, page is %d",
			b.node.Name(), len(value), PageSize))
	}
	if b.page == nil {
		b.page = make([]byte, PageSize)
	}
	b.count = copy(b.page, value)
	b.needsFill = false
	return nil
}

// WriteAt stages at most one page of p and synchronously invokes the
// store callback with the staged value. Bytes beyond the page capacity
// are discarded: callers must submit a complete value per write, and
// the offset is ignored (whole-value semantics). The handle's
// needs-fill flag is set so the next read re-invokes show rather than
// echoing the written bytes.
//
// Returns the staged length.
func (b *Buffer) WriteAt(p []byte, _ int64) (int, error) {
	if b.acc&Write == 0 {
		return 0, fmt.Errorf("write: handle not open for write: %w", fs.ErrPermission)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, fs.ErrClosed
	}
	if b.page == nil {
		b.page = make([]byte, PageSize)
	}
	staged := copy(b.page, p)
	b.needsFill = true
	if err := b.ops.Store(b.page[:staged]); err != nil {
		return 0, fmt.Errorf("store %q: %w", b.node.Name(), err)
	}
	return staged, nil
}

// Stale reports whether the node's event counter has moved past the
// handle's snapshot. A stale handle has needs-fill forced, so the next
// read re-invokes show.
func (b *Buffer) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if b.node.EventCount() != b.event {
		b.needsFill = true
		return true
	}
	return false
}

// WaitChanged blocks until the handle goes stale, the handle is
// closed, or ctx is done. This is the only suspension point in the
// protocol; every waiter is woken by a Notify on the owning element
// and re-checks staleness. Returns fs.ErrClosed once the handle is
// closed: Close wakes the owner's queue, so a wait racing a close
// observes it instead of blocking until cancellation.
func (b *Buffer) WaitChanged(ctx context.Context) error {
	for {
		// Fetch the signal channel before checking state so a
		// wakeup between the check and the wait is not lost.
		signal := b.owner.ChangeSignal()

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return fs.ErrClosed
		}
		stale := b.node.EventCount() != b.event
		if stale {
			b.needsFill = true
		}
		b.mu.Unlock()
		if stale {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
		}
	}
}

// Close releases the staged page and the references taken at Open.
// Waiters blocked in WaitChanged are woken and return fs.ErrClosed;
// other handles on the same owner re-check staleness and sleep again.
// Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.page = nil
	b.mu.Unlock()

	b.owner.WakeWaiters()
	b.node.Release()
	b.owner.Release()
	return nil
}
