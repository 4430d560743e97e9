// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package objectfs exposes a hierarchy of in-memory owner objects as a
// virtual read/write pseudo-filesystem namespace: one directory per
// owner, attribute files backed by show/store callbacks, binary
// attributes with declared sizes, and symlinks between owner
// directories. There is no backing storage device and no on-disk
// format.
//
// The owning-object layer drives the namespace through a Namespace
// value: CreateDirectory and RemoveDirectory manage owner directories,
// AddAttribute/AddBinAttribute/AddGroup populate them, CreateSymlink
// links owners together, and Notify signals attribute changes to
// pollers. The host file-serving side consumes the namespace through
// the vnode tree (lookup, enumeration, materialization) and
// OpenAttribute; the FUSE adapter in the fuse subpackage is the
// production host. An EntryCache collaborator bridges the two: the
// namespace asks it to bind and unbind host-visible entries, and it
// reports evictions back to the tree.
//
// Expected conditions — duplicate names, missing targets, permission
// mismatches at open — are returned as wrapped io/fs sentinel errors,
// never logged. Removal is idempotent throughout. Notify is
// best-effort and swallows unresolved paths by design.
package objectfs
