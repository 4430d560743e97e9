// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package attrio implements the attribute I/O protocol: a
// per-open-handle staging buffer of one page that drives an
// attribute's show and store callbacks.
//
// Reads stage the value through show exactly once per session and then
// serve sub-ranges from the staged page; a write stages at most one
// page, hands the complete value to store, and forces the next read to
// re-fill — show and store are independent paths, so a read after a
// write reflects what the provider reports, not the written bytes
// verbatim.
//
// Handles are independent: concurrent opens of the same attribute get
// separate buffers with separate fill state. The only blocking
// operation is WaitChanged, which suspends until a Notify on the
// owning element advances the node's event counter past the handle's
// snapshot; it honors context cancellation and deadlines.
package attrio
