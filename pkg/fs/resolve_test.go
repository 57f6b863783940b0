package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
)

func TestResolveBasics(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	a, err := f.Mkdir(0, 0, root, "a")
	require.NoError(t, err)
	b, err := f.Mkdir(0, 0, a, "b")
	require.NoError(t, err)
	fid, err := f.CreateFile(0, 0, b, "f")
	require.NoError(t, err)

	cases := map[string]int{
		"":          a, // empty path resolves to cwd
		".":         a,
		"/":         root,
		"/a":        a,
		"/a/b":      b,
		"/a/b/f":    fid,
		"b":         b,
		"b/f":       fid,
		"..":        root,
		"../a/b":    b,
		"./b/./f":   fid,
		"//a//b//f": fid,
	}

	for path, want := range cases {
		got, err := f.Resolve(a, path)
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, want, got, "path %q", path)
	}

	_, err = f.Resolve(a, "missing")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))

	// A non-terminal component that is a file fails the walk.
	_, err = f.Resolve(root, "/a/b/f/x")
	assert.Equal(t, fserr.WrongType, fserr.KindOf(err))
}

func TestSymlinkResolution(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	a, err := f.Mkdir(0, 0, root, "a")
	require.NoError(t, err)
	fid, err := f.CreateFile(0, 0, a, "f")
	require.NoError(t, err)

	lid, err := f.CreateSymbolicLink(0, 0, root, "link", "/a")
	require.NoError(t, err)

	ino := f.Manager().Inode(lid)
	require.NotNil(t, ino)
	assert.Equal(t, disk.TypeSymlink, ino.Type)
	assert.Equal(t, uint16(disk.DefaultSymlinkPerm), ino.Permissions)
	assert.Equal(t, int64(2), ino.Size)

	// Terminal symlink: lstat semantics return the link itself.
	got, err := f.Resolve(root, "/link")
	require.NoError(t, err)
	assert.Equal(t, lid, got)

	// Follow-through when the link is not the final component.
	got, err = f.Resolve(root, "/link/f")
	require.NoError(t, err)
	assert.Equal(t, fid, got)

	// Explicit follow of a terminal symlink.
	got, err = f.ResolveFollow(root, "/link")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	// Relative targets resolve from the directory holding the link.
	_, err = f.CreateSymbolicLink(0, 0, a, "rel", "f")
	require.NoError(t, err)
	got, err = f.ResolveFollow(root, "/a/rel")
	require.NoError(t, err)
	assert.Equal(t, fid, got)
}

func TestDanglingSymlink(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	// Creating a symlink to a non-existent path succeeds.
	lid, err := f.CreateSymbolicLink(0, 0, root, "dangling", "/no/such/path")
	require.NoError(t, err)

	// Resolving at it returns the link's own inode.
	got, err := f.Resolve(root, "/dangling")
	require.NoError(t, err)
	assert.Equal(t, lid, got)

	// Resolving through it fails with NotFound.
	_, err = f.Resolve(root, "/dangling/x")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))

	target, err := f.ReadLink(lid)
	require.NoError(t, err)
	assert.Equal(t, "/no/such/path", target)
}

func TestSymlinkLoopIsBounded(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	lid, err := f.CreateSymbolicLink(0, 0, root, "loop", "/loop")
	require.NoError(t, err)

	// Terminal: the symlink inode itself.
	got, err := f.Resolve(root, "/loop")
	require.NoError(t, err)
	assert.Equal(t, lid, got)

	// Walking through it must terminate with a depth failure, not hang.
	_, err = f.Resolve(root, "/loop/x")
	require.Error(t, err)
	assert.Equal(t, fserr.Limit, fserr.KindOf(err))

	_, err = f.ResolveFollow(root, "/loop")
	require.Error(t, err)
	assert.Equal(t, fserr.Limit, fserr.KindOf(err))

	// Mutually recursive links as well.
	_, err = f.CreateSymbolicLink(0, 0, root, "ping", "/pong")
	require.NoError(t, err)
	_, err = f.CreateSymbolicLink(0, 0, root, "pong", "/ping")
	require.NoError(t, err)
	_, err = f.Resolve(root, "/ping/x")
	assert.Equal(t, fserr.Limit, fserr.KindOf(err))
}

func TestDeleteSymlinkFreesTargetBlock(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	freeBefore := f.Manager().Superblock().FreeBlocks

	_, err := f.CreateSymbolicLink(0, 0, root, "s", "/somewhere")
	require.NoError(t, err)
	assert.Equal(t, freeBefore-1, f.Manager().Superblock().FreeBlocks)

	require.NoError(t, f.DeleteFile(0, 0, root, "s"))
	assert.Equal(t, freeBefore, f.Manager().Superblock().FreeBlocks)
}

func TestResolveParent(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	a, err := f.Mkdir(0, 0, root, "a")
	require.NoError(t, err)

	parent, base, err := f.ResolveParent(root, "/a/newfile")
	require.NoError(t, err)
	assert.Equal(t, a, parent)
	assert.Equal(t, "newfile", base)

	parent, base, err = f.ResolveParent(a, "plain")
	require.NoError(t, err)
	assert.Equal(t, a, parent)
	assert.Equal(t, "plain", base)

	parent, base, err = f.ResolveParent(a, "/top")
	require.NoError(t, err)
	assert.Equal(t, root, parent)
	assert.Equal(t, "top", base)

	_, _, err = f.ResolveParent(root, "/")
	assert.Error(t, err)

	_, _, err = f.ResolveParent(root, "/ghost/child")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))
}
