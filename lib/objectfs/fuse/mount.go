// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/objectfs/lib/attrio"
	"github.com/bureau-foundation/objectfs/lib/objectfs"
	"github.com/bureau-foundation/objectfs/lib/vnode"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the namespace is mounted.
	Mountpoint string

	// Namespace is the object namespace to serve. The mount
	// attaches itself as the namespace's entry cache, so the
	// namespace must not contain directories yet.
	Namespace *objectfs.Namespace

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a logger that
	// only reports errors is used.
	Logger *slog.Logger
}

// Mount serves the namespace at the configured mountpoint, creating
// the mountpoint directory if needed. The caller must call Unmount on
// the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Namespace == nil {
		return nil, fmt.Errorf("namespace is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	m := &mount{
		ns:     options.Namespace,
		tree:   options.Namespace.Tree(),
		logger: options.Logger,
		inodes: make(map[vnode.ID]*gofuse.Inode),
	}
	if err := options.Namespace.SetEntryCache(m); err != nil {
		return nil, fmt.Errorf("attaching entry cache: %w", err)
	}

	root := &dirNode{mount: m, vn: m.tree.Root()}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "objectfs",
			Name:       "objectfs",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("object namespace mounted", "mountpoint", options.Mountpoint)
	return server, nil
}

// mount is the shared adapter state. It implements
// objectfs.EntryCache: the kernel-visible inode table is the host
// entry cache, and inode numbers are the entry identifiers.
type mount struct {
	ns     *objectfs.Namespace
	tree   *vnode.Tree
	logger *slog.Logger

	mu     sync.Mutex
	inodes map[vnode.ID]*gofuse.Inode
}

func (m *mount) register(id vnode.ID, inode *gofuse.Inode) {
	m.mu.Lock()
	m.inodes[id] = inode
	m.mu.Unlock()
}

func (m *mount) inode(id vnode.ID) *gofuse.Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inodes[id]
}

func (m *mount) take(id vnode.ID) *gofuse.Inode {
	m.mu.Lock()
	defer m.mu.Unlock()
	inode := m.inodes[id]
	delete(m.inodes, id)
	return inode
}

// BindEntry implements objectfs.EntryCache. Called synchronously for
// directory creation and from lazy materialization for the other
// variants; either way the parent directory's inode already exists.
func (m *mount) BindEntry(n *vnode.Node) (uint64, error) {
	parent := m.tree.Parent(n)
	if parent == nil {
		return 0, fmt.Errorf("bind %q: no parent", n.Name())
	}
	parentInode := m.inode(parent.ID())
	if parentInode == nil {
		return 0, fmt.Errorf("bind %q: parent has no inode", n.Name())
	}
	return m.bindUnder(parentInode, n)
}

func (m *mount) bindUnder(parentInode *gofuse.Inode, n *vnode.Node) (uint64, error) {
	var embedder gofuse.InodeEmbedder
	switch n.Variant() {
	case vnode.Directory:
		embedder = &dirNode{mount: m, vn: n}
	case vnode.Attribute:
		embedder = &attrNode{mount: m, vn: n}
	case vnode.BinAttribute:
		embedder = &binNode{mount: m, vn: n}
	case vnode.Symlink:
		embedder = &linkNode{mount: m, vn: n}
	default:
		return 0, fmt.Errorf("bind %q: unsupported variant %s", n.Name(), n.Variant())
	}

	ino := uint64(n.ID())
	child := parentInode.NewPersistentInode(context.Background(), embedder, gofuse.StableAttr{
		Mode: typeBits(n.Variant()),
		Ino:  ino,
	})
	parentInode.AddChild(n.Name(), child, true)
	m.register(n.ID(), child)
	return ino, nil
}

// UnbindEntry implements objectfs.EntryCache. The kernel's entry
// cache is invalidated so the removal is visible before the entry
// timeout expires.
func (m *mount) UnbindEntry(n *vnode.Node) {
	if inode := m.take(n.ID()); inode != nil {
		if name, parent := inode.Parent(); parent != nil {
			parent.RmChild(name)
			parent.NotifyEntry(name)
		}
		inode.ForgetPersistent()
	}
	m.tree.EntryEvicted(n)
}

// RenameEntry implements objectfs.EntryCache.
func (m *mount) RenameEntry(n *vnode.Node, oldName, newName string) {
	if inode := m.inode(n.ID()); inode != nil {
		if _, parent := inode.Parent(); parent != nil {
			parent.MvChild(oldName, parent, newName, true)
			parent.NotifyEntry(oldName)
		}
	}
}

// vnoder lets the generic lookup path recover the vnode behind any of
// the adapter's inode types.
type vnoder interface {
	vnodeNode() *vnode.Node
}

// dirNode serves a directory (or the root) of the namespace.
type dirNode struct {
	gofuse.Inode
	mount *mount
	vn    *vnode.Node
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeOnAdder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) vnodeNode() *vnode.Node { return d.vn }

// OnAdd registers the inode so it can serve as a parent for later
// bindings. For the root this is the only registration point; child
// directories are also registered by bindUnder.
func (d *dirNode) OnAdd(ctx context.Context) {
	d.mount.register(d.vn.ID(), &d.Inode)
}

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	// Eagerly materialized children (directories) and previously
	// materialized entries are already in the inode table.
	if child := d.Inode.GetChild(name); child != nil {
		if v, ok := child.Operations().(vnoder); ok {
			fillEntry(v.vnodeNode(), out)
		}
		return child, 0
	}

	node, err := d.mount.tree.Materialize(d.vn, name, func(n *vnode.Node) (uint64, error) {
		return d.mount.bindUnder(&d.Inode, n)
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, syscall.ENOENT
		}
		d.mount.logger.Error("materialization failed", "name", name, "error", err)
		return nil, errnoOf(err)
	}

	child := d.mount.inode(node.ID())
	if child == nil {
		return nil, syscall.EIO
	}
	fillEntry(node, out)
	return child, 0
}

func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	cursor, err := d.mount.tree.OpenCursor(d.vn)
	if err != nil {
		return nil, errnoOf(err)
	}
	return &cursorStream{cursor: cursor}, 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | uint32(d.vn.Mode().Perm())
	modTime := d.vn.ModTime()
	out.SetTimes(nil, &modTime, nil)
	return 0
}

// cursorStream adapts a vnode.Cursor to the go-fuse directory stream.
// The cursor's synthetic "." and ".." entries pass straight through.
type cursorStream struct {
	cursor  *vnode.Cursor
	pending *vnode.DirEntry
}

func (s *cursorStream) HasNext() bool {
	if s.pending != nil {
		return true
	}
	entry, ok := s.cursor.Next()
	if !ok {
		return false
	}
	s.pending = &entry
	return true
}

func (s *cursorStream) Next() (fuse.DirEntry, syscall.Errno) {
	if !s.HasNext() {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := *s.pending
	s.pending = nil
	return fuse.DirEntry{
		Name: entry.Name,
		Mode: typeBits(entry.Variant),
		Ino:  entry.Ino,
	}, 0
}

func (s *cursorStream) Close() {
	s.cursor.Close()
}

// attrNode serves one attribute file. Every open allocates an
// independent staging buffer; handles never share fill state.
type attrNode struct {
	gofuse.Inode
	mount *mount
	vn    *vnode.Node
}

var _ gofuse.InodeEmbedder = (*attrNode)(nil)
var _ gofuse.NodeGetattrer = (*attrNode)(nil)
var _ gofuse.NodeSetattrer = (*attrNode)(nil)
var _ gofuse.NodeOpener = (*attrNode)(nil)

func (a *attrNode) vnodeNode() *vnode.Node { return a.vn }

func (a *attrNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(a.vn, &out.Attr)
	return 0
}

// Setattr accepts truncation (O_TRUNC during open-for-write is
// meaningless for whole-value attributes) and persists chmod as a
// permission override on the node.
func (a *attrNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if mode, ok := in.GetMode(); ok {
		a.vn.SetPerm(fs.FileMode(mode).Perm())
	}
	fillAttr(a.vn, &out.Attr)
	return 0
}

func (a *attrNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	var access attrio.Access
	switch flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		access = attrio.Read
	case syscall.O_WRONLY:
		access = attrio.Write
	case syscall.O_RDWR:
		access = attrio.Read | attrio.Write
	}
	buffer, err := a.mount.ns.OpenAttribute(a.vn, access)
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	// Direct I/O: the file size is virtual, so reads must reach the
	// staging buffer instead of a zero-padded page cache.
	return &attrHandle{mount: a.mount, buffer: buffer}, fuse.FOPEN_DIRECT_IO, 0
}

// attrHandle is one open handle's staging buffer.
type attrHandle struct {
	mount  *mount
	buffer *attrio.Buffer
}

var _ gofuse.FileReader = (*attrHandle)(nil)
var _ gofuse.FileWriter = (*attrHandle)(nil)
var _ gofuse.FileReleaser = (*attrHandle)(nil)

func (h *attrHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.buffer.ReadAt(dest, off)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fuse.ReadResultData(dest[:0]), 0
		}
		h.mount.logger.Error("attribute read failed", "error", err)
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *attrHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.buffer.WriteAt(data, off)
	if err != nil {
		h.mount.logger.Error("attribute write failed", "error", err)
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

func (h *attrHandle) Release(ctx context.Context) syscall.Errno {
	h.buffer.Close()
	return 0
}

// binNode serves a binary attribute: offset-based callback I/O with a
// declared size, no staging buffer.
type binNode struct {
	gofuse.Inode
	mount *mount
	vn    *vnode.Node
}

var _ gofuse.InodeEmbedder = (*binNode)(nil)
var _ gofuse.NodeGetattrer = (*binNode)(nil)
var _ gofuse.NodeOpener = (*binNode)(nil)
var _ gofuse.NodeReader = (*binNode)(nil)
var _ gofuse.NodeWriter = (*binNode)(nil)

func (b *binNode) vnodeNode() *vnode.Node { return b.vn }

func (b *binNode) element() *objectfs.BinAttribute {
	return b.vn.Element().(*objectfs.BinAttribute)
}

func (b *binNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(b.vn, &out.Attr)
	return 0
}

func (b *binNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	battr := b.element()
	accessMode := flags & syscall.O_ACCMODE
	if (accessMode == syscall.O_RDONLY || accessMode == syscall.O_RDWR) && battr.ReadAt == nil {
		return nil, 0, syscall.EACCES
	}
	if (accessMode == syscall.O_WRONLY || accessMode == syscall.O_RDWR) && battr.WriteAt == nil {
		return nil, 0, syscall.EACCES
	}
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (b *binNode) Read(ctx context.Context, f gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	battr := b.element()
	if off >= battr.Size {
		return fuse.ReadResultData(dest[:0]), 0
	}
	if max := battr.Size - off; int64(len(dest)) > max {
		dest = dest[:max]
	}
	n, err := battr.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		b.mount.logger.Error("bin attribute read failed", "name", b.vn.Name(), "error", err)
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (b *binNode) Write(ctx context.Context, f gofuse.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := b.element().WriteAt(data, off)
	if err != nil {
		b.mount.logger.Error("bin attribute write failed", "name", b.vn.Name(), "error", err)
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

// linkNode serves a symlink whose target was resolved at creation.
type linkNode struct {
	gofuse.Inode
	mount *mount
	vn    *vnode.Node
}

var _ gofuse.InodeEmbedder = (*linkNode)(nil)
var _ gofuse.NodeReadlinker = (*linkNode)(nil)

func (l *linkNode) vnodeNode() *vnode.Node { return l.vn }

func (l *linkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	link, ok := l.vn.Element().(*objectfs.Link)
	if !ok {
		return nil, syscall.EINVAL
	}
	return []byte(link.Target), 0
}

// typeBits maps a variant to the stat type bits of its host entry.
func typeBits(v vnode.Variant) uint32 {
	switch v {
	case vnode.Root, vnode.Directory:
		return syscall.S_IFDIR
	case vnode.Symlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// fillEntry populates lookup output from a node.
func fillEntry(n *vnode.Node, out *fuse.EntryOut) {
	fillAttr(n, &out.Attr)
}

// fillAttr populates stat output from a node. Attribute files report
// the page-sized virtual size; binary attributes their declared size;
// symlinks the target length.
func fillAttr(n *vnode.Node, out *fuse.Attr) {
	out.Mode = typeBits(n.Variant()) | uint32(n.Mode().Perm())
	switch n.Variant() {
	case vnode.Attribute:
		out.Size = attrio.PageSize
	case vnode.BinAttribute:
		if battr, ok := n.Element().(*objectfs.BinAttribute); ok {
			out.Size = uint64(battr.Size)
		}
	case vnode.Symlink:
		if link, ok := n.Element().(*objectfs.Link); ok {
			out.Size = uint64(len(link.Target))
		}
	}
	modTime := n.ModTime()
	out.SetTimes(nil, &modTime, nil)
}

// errnoOf maps the package error taxonomy onto errnos.
func errnoOf(err error) syscall.Errno {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, fs.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, fs.ErrInvalid):
		return syscall.EINVAL
	case errors.Is(err, fs.ErrClosed):
		return syscall.EBADF
	default:
		return syscall.EIO
	}
}
