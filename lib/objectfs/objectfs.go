// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package objectfs

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/objectfs/lib/attrio"
	"github.com/bureau-foundation/objectfs/lib/clock"
	"github.com/bureau-foundation/objectfs/lib/vnode"
)

// Owner is an element of the caller's object hierarchy that owns one
// directory in the namespace. Owners must be comparable (pointer types
// are typical); the namespace keys its owner-to-directory binding on
// them.
type Owner interface {
	// ObjectName is the directory name under the parent.
	ObjectName() string

	// ObjectParent is the owner of the containing directory, or nil
	// for a top-level object that lives under the root.
	ObjectParent() Owner
}

// EntryCache is the host name-resolution/entry-cache collaborator. The
// namespace calls BindEntry synchronously when a directory is created
// and through lazy materialization on first lookup of other variants;
// UnbindEntry when an entry's node is removed.
//
// Implementations must call Tree.EntryEvicted once the host entry for
// the node is gone, releasing the reference the tree holds on the
// binding's behalf.
type EntryCache interface {
	// BindEntry creates a host-visible entry for node and returns
	// its nonzero identifier.
	BindEntry(node *vnode.Node) (uint64, error)

	// UnbindEntry drops the host entry for node.
	UnbindEntry(node *vnode.Node)

	// RenameEntry reflects a rename of node on the host entry.
	RenameEntry(node *vnode.Node, oldName, newName string)
}

// Options configures a Namespace.
type Options struct {
	// Cache is the host entry-cache collaborator. Nil selects an
	// in-memory cache suitable for serving the namespace without a
	// host mount; a real cache (the FUSE adapter) can still be
	// attached with SetEntryCache while the namespace is empty.
	Cache EntryCache

	// Clock stamps attribute modification times. Nil defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives diagnostic messages. Nil selects a no-op
	// logger.
	Logger *slog.Logger
}

// Namespace binds a hierarchy of owner objects to a virtual node tree
// and exposes the operations the owning-object layer consumes.
type Namespace struct {
	tree   *vnode.Tree
	logger *slog.Logger

	mu         sync.Mutex
	cache      EntryCache
	cacheFixed bool
	dirs       map[Owner]*vnode.Node
	groups     map[groupKey]*vnode.Node
}

type groupKey struct {
	owner Owner
	name  string
}

// New creates an empty namespace.
func New(options Options) *Namespace {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	ns := &Namespace{
		tree:   vnode.New(options.Clock),
		logger: options.Logger,
		dirs:   make(map[Owner]*vnode.Node),
		groups: make(map[groupKey]*vnode.Node),
	}
	if options.Cache != nil {
		ns.cache = options.Cache
		ns.cacheFixed = true
	} else {
		ns.cache = &memCache{tree: ns.tree}
	}
	return ns
}

// SetEntryCache attaches the host entry-cache collaborator. Must run
// before any directory is created; a namespace built over one cache
// cannot be re-homed.
func (ns *Namespace) SetEntryCache(cache EntryCache) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.cacheFixed {
		return fmt.Errorf("objectfs: entry cache already attached")
	}
	if len(ns.dirs) > 0 {
		return fmt.Errorf("objectfs: entry cache must attach before directories exist")
	}
	ns.cache = cache
	ns.cacheFixed = true
	return nil
}

// Tree returns the underlying virtual node tree. Host adapters use it
// for lookups, enumeration, and eviction callbacks.
func (ns *Namespace) Tree() *vnode.Tree { return ns.tree }

// CreateDirectory creates and eagerly materializes the directory for
// owner. The parent owner's directory must already exist.
func (ns *Namespace) CreateDirectory(owner Owner) error {
	name := owner.ObjectName()
	if name == "" {
		return fmt.Errorf("create directory: empty object name: %w", fs.ErrInvalid)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if _, ok := ns.dirs[owner]; ok {
		return fmt.Errorf("create directory %q: owner already bound: %w", name, fs.ErrExist)
	}
	parent := ns.tree.Root()
	if po := owner.ObjectParent(); po != nil {
		parent = ns.dirs[po]
		if parent == nil {
			return fmt.Errorf("create directory %q: parent has no directory: %w", name, fs.ErrNotExist)
		}
	}

	node, err := ns.tree.Create(parent, name, owner, fs.ModeDir|0o755, vnode.Directory)
	if err != nil {
		return err
	}
	entry, err := ns.cache.BindEntry(node)
	if err != nil {
		// No partial state survives a failed materialization.
		ns.tree.Remove(node)
		return fmt.Errorf("create directory %q: bind entry: %w", name, err)
	}
	ns.tree.Bind(node, entry)

	node.Acquire()
	ns.dirs[owner] = node
	return nil
}

// RemoveDirectory removes owner's directory together with its
// attributes, symlinks, and group subdirectories. Directories of
// child owners must be removed first. Idempotent: removing an unbound
// owner is a no-op.
func (ns *Namespace) RemoveDirectory(owner Owner) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	node := ns.dirs[owner]
	if node == nil {
		return
	}
	delete(ns.dirs, owner)

	for key, sub := range ns.groups {
		if key.owner != owner {
			continue
		}
		delete(ns.groups, key)
		for _, child := range ns.tree.Children(sub) {
			ns.removeNode(child)
		}
		ns.removeNode(sub)
	}
	for _, child := range ns.tree.Children(node) {
		ns.removeNode(child)
	}
	ns.removeNode(node)
	node.Release()
}

// RenameDirectory renames owner's directory in place. Fails with
// fs.ErrInvalid for a no-op rename, fs.ErrExist when the name is
// taken, and fs.ErrNotExist when owner has no directory.
func (ns *Namespace) RenameDirectory(owner Owner, newName string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	node := ns.dirs[owner]
	if node == nil {
		return fmt.Errorf("rename directory to %q: owner not bound: %w", newName, fs.ErrNotExist)
	}
	oldName := node.Name()
	if err := ns.tree.Rename(node, newName); err != nil {
		return err
	}
	ns.cache.RenameEntry(node, oldName, newName)
	return nil
}

// AddAttribute registers an attribute file under owner's directory.
// The node is created unbound and materializes on first lookup.
func (ns *Namespace) AddAttribute(owner Owner, attr Attribute) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return fmt.Errorf("add attribute %q: owner not bound: %w", attr.Name, fs.ErrNotExist)
	}
	return ns.addAttributeNode(dir, attr)
}

func (ns *Namespace) addAttributeNode(dir *vnode.Node, attr Attribute) error {
	if attr.Name == "" {
		return fmt.Errorf("add attribute: empty name: %w", fs.ErrInvalid)
	}
	element := &attr
	_, err := ns.tree.Create(dir, attr.Name, element, element.effectiveMode(), vnode.Attribute)
	return err
}

// AddBinAttribute registers a binary attribute under owner's
// directory.
func (ns *Namespace) AddBinAttribute(owner Owner, battr BinAttribute) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return fmt.Errorf("add bin attribute %q: owner not bound: %w", battr.Name, fs.ErrNotExist)
	}
	if battr.Name == "" {
		return fmt.Errorf("add bin attribute: empty name: %w", fs.ErrInvalid)
	}
	element := &battr
	_, err := ns.tree.Create(dir, battr.Name, element, element.effectiveMode(), vnode.BinAttribute)
	return err
}

// RemoveAttribute removes the named attribute from owner's directory.
// Idempotent: a missing name is a no-op.
func (ns *Namespace) RemoveAttribute(owner Owner, name string) {
	ns.removeNamed(owner, name)
}

// RemoveSymlink removes the named symlink from owner's directory.
// Idempotent.
func (ns *Namespace) RemoveSymlink(owner Owner, name string) {
	ns.removeNamed(owner, name)
}

func (ns *Namespace) removeNamed(owner Owner, name string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return
	}
	if n := ns.tree.Find(dir, name); n != nil && n.Variant() != vnode.Directory {
		ns.removeNode(n)
	}
}

// removeNode detaches a node and drops its host entry, if any.
// Requires ns.mu.
func (ns *Namespace) removeNode(n *vnode.Node) {
	ns.tree.Remove(n)
	if n.Entry() != 0 {
		ns.cache.UnbindEntry(n)
	}
}

// CreateSymlink creates a symlink named name under owner's directory
// pointing at target's directory. The target path is resolved once,
// relative to the link's directory.
func (ns *Namespace) CreateSymlink(owner Owner, target Owner, name string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return fmt.Errorf("create symlink %q: owner not bound: %w", name, fs.ErrNotExist)
	}
	if ns.dirs[target] == nil {
		return fmt.Errorf("create symlink %q: target not bound: %w", name, fs.ErrNotExist)
	}

	link := &Link{Target: relativePath(owner, target)}
	_, err := ns.tree.Create(dir, name, link, fs.ModeSymlink|0o777, vnode.Symlink)
	return err
}

// relativePath builds the path from owner's directory to target's
// directory: one ".." per component of owner's path, then target's
// path from the root.
func relativePath(owner, target Owner) string {
	var up, down []string
	for o := owner; o != nil; o = o.ObjectParent() {
		up = append(up, "..")
	}
	for o := target; o != nil; o = o.ObjectParent() {
		down = append([]string{o.ObjectName()}, down...)
	}
	return strings.Join(append(up, down...), "/")
}

// Notify reports that the attribute addressed by owner plus subpath
// changed: its node's event counter is incremented and the waiters on
// its containing directory are woken. Handles wait on the directory
// that directly holds the attribute, so a group subpath wakes the
// group subdirectory's queue, not the owner's top directory.
// Best-effort by design — an unresolved path is silently ignored.
func (ns *Namespace) Notify(owner Owner, subpath ...string) {
	ns.mu.Lock()
	root := ns.dirs[owner]
	ns.mu.Unlock()
	if root == nil {
		return
	}
	node := root
	for _, name := range subpath {
		node = ns.tree.Find(node, name)
		if node == nil {
			return
		}
	}
	node.BumpEvent()
	wake := root
	if node != root {
		if parent := ns.tree.Parent(node); parent != nil {
			wake = parent
		}
	}
	wake.WakeWaiters()
}

// Touch updates the modification time of the named attribute so
// mtime-watching pollers observe a change. Returns fs.ErrNotExist when
// the attribute is missing.
func (ns *Namespace) Touch(owner Owner, name string) error {
	n, err := ns.findAttr(owner, name)
	if err != nil {
		return err
	}
	n.Touch(ns.tree.Clock().Now())
	return nil
}

// Chmod persists a permission-bit override on the named attribute.
// Type bits are immutable and ignored. Returns fs.ErrNotExist when the
// attribute is missing.
func (ns *Namespace) Chmod(owner Owner, name string, mode fs.FileMode) error {
	n, err := ns.findAttr(owner, name)
	if err != nil {
		return err
	}
	n.SetPerm(mode)
	return nil
}

func (ns *Namespace) findAttr(owner Owner, name string) (*vnode.Node, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return nil, fmt.Errorf("attribute %q: owner not bound: %w", name, fs.ErrNotExist)
	}
	n := ns.tree.Find(dir, name)
	if n == nil {
		return nil, fmt.Errorf("attribute %q: %w", name, fs.ErrNotExist)
	}
	return n, nil
}

// AddGroup registers a set of attributes under owner's directory,
// under a subdirectory when the group is named. On failure every
// attribute already added is unwound; no partial group survives.
func (ns *Namespace) AddGroup(owner Owner, g Group) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return fmt.Errorf("add group %q: owner not bound: %w", g.Name, fs.ErrNotExist)
	}

	parent := dir
	var sub *vnode.Node
	if g.Name != "" {
		node, err := ns.tree.Create(dir, g.Name, owner, fs.ModeDir|0o755, vnode.Directory)
		if err != nil {
			return err
		}
		entry, err := ns.cache.BindEntry(node)
		if err != nil {
			ns.tree.Remove(node)
			return fmt.Errorf("add group %q: bind entry: %w", g.Name, err)
		}
		ns.tree.Bind(node, entry)
		ns.groups[groupKey{owner, g.Name}] = node
		sub = node
		parent = node
	}

	for i, attr := range g.Attributes {
		if err := ns.addAttributeNode(parent, attr); err != nil {
			for _, added := range g.Attributes[:i] {
				if n := ns.tree.Find(parent, added.Name); n != nil {
					ns.removeNode(n)
				}
			}
			if sub != nil {
				delete(ns.groups, groupKey{owner, g.Name})
				ns.removeNode(sub)
			}
			return err
		}
	}
	return nil
}

// RemoveGroup removes the attributes of g, and its subdirectory when
// the group is named. Idempotent.
func (ns *Namespace) RemoveGroup(owner Owner, g Group) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	dir := ns.dirs[owner]
	if dir == nil {
		return
	}
	parent := dir
	var sub *vnode.Node
	if g.Name != "" {
		sub = ns.groups[groupKey{owner, g.Name}]
		if sub == nil {
			return
		}
		parent = sub
	}
	for _, attr := range g.Attributes {
		if n := ns.tree.Find(parent, attr.Name); n != nil && n.Variant() != vnode.Directory {
			ns.removeNode(n)
		}
	}
	if sub != nil {
		delete(ns.groups, groupKey{owner, g.Name})
		ns.removeNode(sub)
	}
}

// OpenAttribute opens an I/O handle on an attribute node, checking the
// requested access against the attribute's callbacks and mode bits.
// Host adapters call this from their open path.
func (ns *Namespace) OpenAttribute(n *vnode.Node, access attrio.Access) (*attrio.Buffer, error) {
	attr, ok := n.Element().(*Attribute)
	if !ok {
		return nil, fmt.Errorf("open %q: not an attribute node: %w", n.Name(), fs.ErrInvalid)
	}
	return attrio.Open(ns.tree, n, attrio.Ops{Show: attr.Show, Store: attr.Store}, access)
}

// memCache is the default in-process entry cache: identifiers come
// from a counter and eviction happens synchronously.
type memCache struct {
	tree   *vnode.Tree
	nextID atomic.Uint64
}

func (m *memCache) BindEntry(node *vnode.Node) (uint64, error) {
	return m.nextID.Add(1), nil
}

func (m *memCache) UnbindEntry(node *vnode.Node) {
	m.tree.EntryEvicted(node)
}

func (m *memCache) RenameEntry(node *vnode.Node, oldName, newName string) {}
