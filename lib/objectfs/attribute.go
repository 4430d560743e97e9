// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectfs

import "io/fs"

// Attribute describes one pseudo-file exposing get/set semantics
// through a show/store callback pair. Values are whole values of at
// most one page (attrio.PageSize).
type Attribute struct {
	// Name is the entry name under the owner's directory.
	Name string

	// Mode supplies the permission bits. Zero selects a default
	// derived from which callbacks are present: 0644 for
	// read/write, 0444 for read-only, 0200 for write-only.
	Mode fs.FileMode

	// Show produces the current value. Nil removes the read
	// capability.
	Show func() ([]byte, error)

	// Store consumes a complete new value. Nil removes the write
	// capability.
	Store func(data []byte) error
}

// effectiveMode resolves the attribute's permission bits.
func (a *Attribute) effectiveMode() fs.FileMode {
	if perm := a.Mode.Perm(); perm != 0 {
		return perm
	}
	switch {
	case a.Show != nil && a.Store != nil:
		return 0o644
	case a.Store != nil:
		return 0o200
	default:
		return 0o444
	}
}

// BinAttribute describes a binary pseudo-file with a declared size and
// offset-based I/O callbacks. Binary attributes bypass the staging
// buffer: reads and writes go straight to the callbacks.
type BinAttribute struct {
	// Name is the entry name under the owner's directory.
	Name string

	// Mode supplies the permission bits; zero defaults like
	// Attribute.Mode, keyed on ReadAt/WriteAt.
	Mode fs.FileMode

	// Size is the declared byte size reported for the entry.
	Size int64

	// ReadAt fills p from the value at off. Nil removes the read
	// capability.
	ReadAt func(p []byte, off int64) (int, error)

	// WriteAt stores p into the value at off. Nil removes the
	// write capability.
	WriteAt func(p []byte, off int64) (int, error)
}

func (b *BinAttribute) effectiveMode() fs.FileMode {
	if perm := b.Mode.Perm(); perm != 0 {
		return perm
	}
	switch {
	case b.ReadAt != nil && b.WriteAt != nil:
		return 0o644
	case b.WriteAt != nil:
		return 0o200
	default:
		return 0o444
	}
}

// Group is a named set of attributes added and removed together. A
// non-empty Name places the set under a subdirectory of the owner's
// directory.
type Group struct {
	Name       string
	Attributes []Attribute
}

// Link is the element recorded on a symlink node. Target is the
// relative path from the link's directory to the target owner's
// directory, resolved once at creation.
type Link struct {
	Target string
}
