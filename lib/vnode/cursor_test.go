// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vnode

import (
	"errors"
	"io/fs"
	"testing"
)

// collect drains the cursor and returns the emitted names in order.
func collect(t *testing.T, c *Cursor) []string {
	t.Helper()
	var names []string
	for {
		entry, ok := c.Next()
		if !ok {
			return names
		}
		names = append(names, entry.Name)
	}
}

func wantNames(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entries = %v, want %v", got, want)
		}
	}
}

func TestCursorFullListing(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "a", Attribute)
	mustCreate(t, tree, tree.Root(), "b", Directory)
	mustCreate(t, tree, tree.Root(), "c", Symlink)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	wantNames(t, collect(t, c), []string{".", "..", "c", "b", "a"})

	// The directory is exhausted; further calls keep reporting done.
	if _, ok := c.Next(); ok {
		t.Fatal("Next after exhaustion = true")
	}
}

func TestCursorOnNonDirectory(t *testing.T) {
	tree := newTestTree()
	attr := mustCreate(t, tree, tree.Root(), "state", Attribute)

	if _, err := tree.OpenCursor(attr); !errors.Is(err, fs.ErrInvalid) {
		t.Fatalf("OpenCursor on attribute: err = %v, want fs.ErrInvalid", err)
	}
}

func TestCursorSeekRewind(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "a", Attribute)
	mustCreate(t, tree, tree.Root(), "b", Attribute)
	mustCreate(t, tree, tree.Root(), "c", Attribute)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	collect(t, c)

	// Rewind to the first real entry and re-scan.
	if err := c.Seek(2); err != nil {
		t.Fatalf("Seek(2): %v", err)
	}
	wantNames(t, collect(t, c), []string{"c", "b", "a"})

	// Seek into the middle of the list.
	if err := c.Seek(3); err != nil {
		t.Fatalf("Seek(3): %v", err)
	}
	wantNames(t, collect(t, c), []string{"b", "a"})

	// Full rewind replays the synthetic entries too.
	if err := c.Seek(0); err != nil {
		t.Fatalf("Seek(0): %v", err)
	}
	wantNames(t, collect(t, c), []string{".", "..", "c", "b", "a"})
}

func TestCursorSeekNegative(t *testing.T) {
	tree := newTestTree()
	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	if err := c.Seek(-1); !errors.Is(err, fs.ErrInvalid) {
		t.Fatalf("Seek(-1): err = %v, want fs.ErrInvalid", err)
	}
}

func TestCursorSeekPastEnd(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "a", Attribute)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	if err := c.Seek(100); err != nil {
		t.Fatalf("Seek(100): %v", err)
	}
	if _, ok := c.Next(); ok {
		t.Fatal("Next after seek past end = true")
	}
}

// TestCursorResumeAfterMutation checks the mid-scan coherence rules:
// entries removed after being emitted are not revisited, entries
// removed before being reached are skipped, and a paused cursor
// resumes from its recorded position.
func TestCursorResumeAfterMutation(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "a", Attribute)
	b := mustCreate(t, tree, tree.Root(), "b", Attribute)
	mustCreate(t, tree, tree.Root(), "c", Attribute)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	// Emit ".", "..", and the first real entry.
	for i := 0; i < 3; i++ {
		if _, ok := c.Next(); !ok {
			t.Fatalf("Next #%d = done", i)
		}
	}

	// Mutate on both sides of the cursor: a new entry lands at the
	// head (already passed), and the next pending entry goes away.
	mustCreate(t, tree, tree.Root(), "d", Attribute)
	tree.Remove(b)

	wantNames(t, collect(t, c), []string{"a"})
}

// TestCursorSurvivesEveryEntryRemoved empties the directory out from
// under a paused cursor.
func TestCursorSurvivesEveryEntryRemoved(t *testing.T) {
	tree := newTestTree()
	a := mustCreate(t, tree, tree.Root(), "a", Attribute)
	b := mustCreate(t, tree, tree.Root(), "b", Attribute)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, ok := c.Next(); !ok {
			t.Fatalf("Next #%d = done", i)
		}
	}

	tree.Remove(a)
	tree.Remove(b)

	if entry, ok := c.Next(); ok {
		t.Fatalf("Next after emptying = %q, want done", entry.Name)
	}
}

// TestCursorsInvisible checks that an open cursor's marker never
// appears in lookups, listings, or another cursor's output.
func TestCursorsInvisible(t *testing.T) {
	tree := newTestTree()
	mustCreate(t, tree, tree.Root(), "a", Attribute)

	first, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer first.Close()

	second, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer second.Close()

	wantNames(t, collect(t, second), []string{".", "..", "a"})
	wantNames(t, collect(t, first), []string{".", "..", "a"})

	if got := len(tree.Children(tree.Root())); got != 1 {
		t.Fatalf("Children sees %d entries, want 1", got)
	}
	if tree.Find(tree.Root(), "") != nil {
		t.Fatal("lookup resolved a cursor marker")
	}
}

func TestCursorCloseIdempotent(t *testing.T) {
	tree := newTestTree()
	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	c.Close()
	c.Close()

	if _, ok := c.Next(); ok {
		t.Fatal("Next on closed cursor = true")
	}
	if err := c.Seek(0); !errors.Is(err, fs.ErrClosed) {
		t.Fatalf("Seek on closed cursor: err = %v, want fs.ErrClosed", err)
	}
}

func TestCursorIdentifiers(t *testing.T) {
	tree := newTestTree()
	bound := mustCreate(t, tree, tree.Root(), "bound", Attribute)
	mustCreate(t, tree, tree.Root(), "loose", Attribute)
	tree.Bind(bound, 42)

	c, err := tree.OpenCursor(tree.Root())
	if err != nil {
		t.Fatalf("OpenCursor: %v", err)
	}
	defer c.Close()

	seen := make(map[string]uint64)
	for {
		entry, ok := c.Next()
		if !ok {
			break
		}
		seen[entry.Name] = entry.Ino
	}

	if got := seen["bound"]; got != 42 {
		t.Fatalf("bound entry identifier = %d, want 42", got)
	}
	// Unmaterialized entries synthesize an identifier outside the
	// host-entry range.
	if got := seen["loose"]; got < 1<<48 {
		t.Fatalf("synthetic identifier = %d, want >= 2^48", got)
	}
}
