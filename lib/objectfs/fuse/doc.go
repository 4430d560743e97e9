// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuse serves an objectfs namespace through a FUSE mount.
//
// The mount doubles as the namespace's entry cache: every materialized
// node corresponds to a kernel-visible inode, and the node's stable ID
// is used directly as the inode number. Directories get their inodes
// eagerly when the namespace creates them; attributes, binary
// attributes, and symlinks get theirs lazily, on the first Lookup that
// names them.
//
// # Lookup and Enumeration
//
// Lookup first consults the inode table, then falls back to lazy
// materialization in the node tree. Readdir streams entries from a
// tree cursor, so listings stay coherent while entries are created and
// removed mid-enumeration: every entry that exists for the whole scan
// appears exactly once.
//
// # Attribute I/O
//
// Attribute files are opened in direct-I/O mode because their reported
// size (one page) is virtual. Each open handle owns an independent
// staging buffer; the first read fills it from the provider's show
// callback and later reads serve from the snapshot. Writes hand the
// complete value to the store callback. Binary attributes bypass the
// staging buffer and forward offset ranges to their callbacks.
//
// # Mutation
//
// The mount is a projection: files and directories cannot be created
// or removed through the kernel. Namespace mutation happens through
// the objectfs API, and the adapter keeps the kernel's view in sync by
// adding, moving, and forgetting inodes as the namespace changes.
package fuse
