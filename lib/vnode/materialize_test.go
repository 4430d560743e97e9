// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestMaterializeBindsOnce(t *testing.T) {
	tree := newTestTree()
	attr := mustCreate(t, tree, tree.Root(), "state", Attribute)

	binds := 0
	bind := func(n *Node) (uint64, error) {
		binds++
		return 7, nil
	}

	first, err := tree.Materialize(tree.Root(), "state", bind)
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if first != attr {
		t.Fatalf("Materialize = %v, want the created node", first)
	}
	if got := attr.Entry(); got != 7 {
		t.Fatalf("Entry = %d, want 7", got)
	}

	// The second lookup finds the existing binding; no second bind.
	second, err := tree.Materialize(tree.Root(), "state", bind)
	if err != nil {
		t.Fatalf("Materialize again: %v", err)
	}
	if second != attr {
		t.Fatalf("Materialize again = %v, want the same node", second)
	}
	if binds != 1 {
		t.Fatalf("bind calls = %d, want 1", binds)
	}
}

func TestMaterializeMiss(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "devices", Directory)

	bind := func(n *Node) (uint64, error) { return 1, nil }

	// Unknown names miss, and so do directories: they are bound
	// eagerly at creation and never take the lazy path.
	for _, name := range []string{"missing", "devices"} {
		if _, err := tree.Materialize(tree.Root(), name, bind); !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("Materialize %q: err = %v, want fs.ErrNotExist", name, err)
		}
	}
}

func TestMaterializeBindFailure(t *testing.T) {
	tree := newTestTree()
	attr := mustCreate(t, tree, tree.Root(), "state", Attribute)

	bindErr := fmt.Errorf("host entry table full")
	_, err := tree.Materialize(tree.Root(), "state", func(n *Node) (uint64, error) {
		return 0, bindErr
	})
	if !errors.Is(err, bindErr) {
		t.Fatalf("Materialize: err = %v, want wrapped bind error", err)
	}
	if attr.Entry() != 0 {
		t.Fatal("failed bind left the node bound")
	}

	// A later lookup retries the bind.
	if _, err := tree.Materialize(tree.Root(), "state", func(n *Node) (uint64, error) {
		return 9, nil
	}); err != nil {
		t.Fatalf("Materialize retry: %v", err)
	}
	if got := attr.Entry(); got != 9 {
		t.Fatalf("Entry = %d, want 9", got)
	}
}

func TestMaterializeZeroEntryPanics(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "state", Attribute)

	defer func() {
		if recover() == nil {
			t.Fatal("zero entry identifier did not panic")
		}
	}()
	tree.Materialize(tree.Root(), "state", func(n *Node) (uint64, error) {
		return 0, nil
	})
}

func TestEntryEvicted(t *testing.T) {
	tree := newTestTree()
	attr := mustCreate(t, tree, tree.Root(), "state", Attribute)

	if _, err := tree.Materialize(tree.Root(), "state", func(n *Node) (uint64, error) {
		return 3, nil
	}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	tree.EntryEvicted(attr)
	if attr.Entry() != 0 {
		t.Fatal("eviction left the binding in place")
	}

	// A second eviction of the same binding must not double-release.
	tree.EntryEvicted(attr)

	if tree.node(attr.ID()) == nil {
		t.Fatal("attached node was freed by eviction")
	}
}

// TestRemoveThenEvictFrees exercises the full lazy lifecycle: the
// binding's reference keeps a removed node alive until the host entry
// is destroyed.
func TestRemoveThenEvictFrees(t *testing.T) {
	tree := newTestTree()
	attr := mustCreate(t, tree, tree.Root(), "state", Attribute)

	if _, err := tree.Materialize(tree.Root(), "state", func(n *Node) (uint64, error) {
		return 3, nil
	}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	tree.Remove(attr)
	if tree.node(attr.ID()) == nil {
		t.Fatal("bound node freed before eviction")
	}

	tree.EntryEvicted(attr)
	if tree.node(attr.ID()) != nil {
		t.Fatal("node still in arena after remove and eviction")
	}
}

func TestBindEager(t *testing.T) {
	tree := newTestTree()
	dir := mustCreate(t, tree, tree.Root(), "devices", Directory)

	tree.Bind(dir, 11)
	if got := dir.Entry(); got != 11 {
		t.Fatalf("Entry = %d, want 11", got)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("double bind did not panic")
		}
	}()
	tree.Bind(dir, 12)
}
