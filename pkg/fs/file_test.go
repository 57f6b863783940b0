package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/simfs/pkg/auth"
	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

func newTestSystem(t *testing.T, inodes, blocks, blockSize int) (*FS, *auth.Authenticator, *auth.Session) {

	log := &elog.CLI{DisableTTY: true}

	dm := disk.NewManager(log)
	require.NoError(t, dm.Format(inodes, blocks, blockSize))

	a := auth.NewAuthenticator(log)
	sess, err := a.Login("root", "root", dm.Superblock().RootInode)
	require.NoError(t, err)

	return New(dm, log), a, sess
}

func rootOf(f *FS) int {
	return f.Manager().Superblock().RootInode
}

func TestCreateAndDeleteFile(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	id, err := f.CreateFile(0, 0, root, "a")
	require.NoError(t, err)

	ino := f.Manager().Inode(id)
	require.NotNil(t, ino)
	assert.Equal(t, disk.TypeFile, ino.Type)
	assert.Equal(t, uint16(disk.DefaultFilePerm), ino.Permissions)
	assert.Equal(t, 1, ino.LinkCount)
	assert.Equal(t, int64(0), ino.Size)
	assert.Equal(t, 0, ino.BlocksCount)

	_, err = f.CreateFile(0, 0, root, "a")
	assert.Equal(t, fserr.AlreadyExists, fserr.KindOf(err))

	require.NoError(t, f.DeleteFile(0, 0, root, "a"))
	assert.True(t, f.Manager().InodeIsFree(id))

	err = f.DeleteFile(0, 0, root, "a")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))
}

func TestDeleteRefusesDirectories(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	_, err := f.Mkdir(0, 0, root, "d")
	require.NoError(t, err)

	err = f.DeleteFile(0, 0, root, "d")
	assert.Equal(t, fserr.WrongType, fserr.KindOf(err))
}

func TestGrowAndTruncateWrite(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	_, err := f.CreateFile(0, 0, root, "a")
	require.NoError(t, err)

	fd, err := f.Open(sess, "/a", "w")
	require.NoError(t, err)
	n, err := f.Write(sess, fd, bytes.Repeat([]byte{'X'}, 300))
	require.NoError(t, err)
	assert.Equal(t, 300, n)
	require.NoError(t, f.Close(sess, fd))

	ino, err := f.Stat(sess.CWD(), "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(300), ino.Size)
	assert.Equal(t, 3, ino.BlocksCount)

	fd, err = f.Open(sess, "/a", "r")
	require.NoError(t, err)
	data, err := f.Read(sess, fd, 500)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'X'}, 300), data)

	// EOF yields an empty result with success.
	data, err = f.Read(sess, fd, 10)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, f.Close(sess, fd))

	freeBefore := f.Manager().Superblock().FreeBlocks

	fd, err = f.Open(sess, "/a", "w")
	require.NoError(t, err)
	n, err = f.Write(sess, fd, bytes.Repeat([]byte{'Y'}, 50))
	require.NoError(t, err)
	assert.Equal(t, 50, n)
	require.NoError(t, f.Close(sess, fd))

	ino, err = f.Stat(sess.CWD(), "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(50), ino.Size)
	assert.Equal(t, 1, ino.BlocksCount)

	// Two blocks returned to the free bitmap.
	assert.Equal(t, freeBefore+2, f.Manager().Superblock().FreeBlocks)

	fd, err = f.Open(sess, "/a", "r")
	require.NoError(t, err)
	data, err = f.Read(sess, fd, 500)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'Y'}, 50), data)
	require.NoError(t, f.Close(sess, fd))
}

func TestWriteCrossingBlockBoundary(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)

	fd, err := f.Open(sess, "/a", "w")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, bytes.Repeat([]byte{'A'}, 200))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	// Overwrite a range straddling the first block boundary.
	fd, err = f.Open(sess, "/a", "r+")
	require.NoError(t, err)
	_, err = f.Read(sess, fd, 100)
	require.NoError(t, err)
	_, err = f.Write(sess, fd, bytes.Repeat([]byte{'B'}, 56))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	// A write finishing short of the old size truncates to the final
	// offset.
	ino, err := f.Stat(sess.CWD(), "/a")
	require.NoError(t, err)
	assert.Equal(t, int64(156), ino.Size)

	fd, err = f.Open(sess, "/a", "r")
	require.NoError(t, err)
	data, err := f.Read(sess, fd, 500)
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	want := append(bytes.Repeat([]byte{'A'}, 100), bytes.Repeat([]byte{'B'}, 56)...)
	assert.Equal(t, want, data)
}

func TestAppendMode(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)

	fd, err := f.Open(sess, "/log", "w")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("hello "))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	fd, err = f.Open(sess, "/log", "a")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	fd, err = f.Open(sess, "/log", "r")
	require.NoError(t, err)
	data, err := f.Read(sess, fd, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestPartialWriteOnFullDisk(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 16, 128)

	fd, err := f.Open(sess, "/big", "w")
	require.NoError(t, err)

	// 16 blocks total, root holds one; at most 15 blocks of payload can
	// ever be stored, so writing 16 blocks worth must stop short.
	n, err := f.Write(sess, fd, bytes.Repeat([]byte{'Z'}, 16*128))
	require.Error(t, err)
	assert.Equal(t, fserr.NoSpace, fserr.KindOf(err))
	assert.True(t, n > 0 && n < 16*128)

	ino, serr := f.Stat(sess.CWD(), "/big")
	require.NoError(t, serr)
	assert.Equal(t, int64(n), ino.Size)

	// The committed prefix remains readable.
	require.NoError(t, f.Close(sess, fd))
	fd, err = f.Open(sess, "/big", "r")
	require.NoError(t, err)
	data, err := f.Read(sess, fd, 16*128)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'Z'}, n), data)
}

func TestOpenModes(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)

	_, err := f.Open(sess, "/missing", "r")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))

	_, err = f.Open(sess, "/missing", "r+")
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))

	_, err = f.Open(sess, "/", "r")
	assert.Equal(t, fserr.WrongType, fserr.KindOf(err))

	_, err = f.Open(sess, "/x", "bogus")
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))

	// Write mode creates missing files.
	fd, err := f.Open(sess, "/created", "w")
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))
	_, err = f.Stat(sess.CWD(), "/created")
	assert.NoError(t, err)

	// Reads rejected on a write-only descriptor, and vice versa.
	fd, err = f.Open(sess, "/created", "w")
	require.NoError(t, err)
	_, err = f.Read(sess, fd, 1)
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))
	require.NoError(t, f.Close(sess, fd))

	fd, err = f.Open(sess, "/created", "r")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("x"))
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))

	_, err = f.Read(sess, fd, -1)
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))
	require.NoError(t, f.Close(sess, fd))

	err = f.Close(sess, 99)
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))
}

func TestHardLinkLifecycle(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	id, err := f.CreateFile(0, 0, root, "f")
	require.NoError(t, err)

	fd, err := f.Open(sess, "/f", "w")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	require.NoError(t, f.CreateHardLink(0, 0, root, "g", id))

	ino := f.Manager().Inode(id)
	assert.Equal(t, 2, ino.LinkCount)

	// Deleting one of several links keeps the inode alive.
	require.NoError(t, f.DeleteFile(0, 0, root, "f"))
	assert.False(t, f.Manager().InodeIsFree(id))
	assert.Equal(t, 1, ino.LinkCount)

	fd, err = f.Open(sess, "/g", "r")
	require.NoError(t, err)
	data, err := f.Read(sess, fd, 100)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	require.NoError(t, f.Close(sess, fd))

	// Deleting the last link frees the inode and its blocks.
	freeBefore := f.Manager().Superblock().FreeBlocks
	require.NoError(t, f.DeleteFile(0, 0, root, "g"))
	assert.True(t, f.Manager().InodeIsFree(id))
	assert.Equal(t, freeBefore+1, f.Manager().Superblock().FreeBlocks)
}

func TestHardLinkRestoresCountOnDelete(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	id, err := f.CreateFile(0, 0, root, "t")
	require.NoError(t, err)

	before := f.Manager().Inode(id).LinkCount
	require.NoError(t, f.CreateHardLink(0, 0, root, "l", id))
	require.NoError(t, f.DeleteFile(0, 0, root, "l"))
	assert.Equal(t, before, f.Manager().Inode(id).LinkCount)
}

func TestHardLinkRefusesDirectories(t *testing.T) {

	f, _, _ := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)

	id, err := f.Mkdir(0, 0, root, "d")
	require.NoError(t, err)

	err = f.CreateHardLink(0, 0, root, "dlink", id)
	assert.Equal(t, fserr.WrongType, fserr.KindOf(err))
}

func TestPersistenceRoundTripThroughOps(t *testing.T) {

	f, _, sess := newTestSystem(t, 64, 64, 128)
	root := rootOf(f)
	log := &elog.CLI{DisableTTY: true}

	fd, err := f.Open(sess, "/a", "w")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	_, err = f.Mkdir(0, 0, root, "sub")
	require.NoError(t, err)

	fd, err = f.Open(sess, "/sub/b", "w")
	require.NoError(t, err)
	_, err = f.Write(sess, fd, []byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Close(sess, fd))

	var img bytes.Buffer
	require.NoError(t, f.Manager().Encode(&img))

	dm := disk.NewManager(log)
	require.NoError(t, dm.Decode(bytes.NewReader(img.Bytes())))
	assert.True(t, disk.Equal(f.Manager(), dm))

	f2 := New(dm, log)
	a2 := auth.NewAuthenticator(log)
	sess2, err := a2.Login("root", "root", dm.Superblock().RootInode)
	require.NoError(t, err)

	details, err := f2.List(dm.Superblock().RootInode)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, d := range details {
		names[d.Name] = true
	}
	for _, want := range []string{".", "..", "a", "sub"} {
		assert.True(t, names[want], "missing '%s' after reload", want)
	}

	fd, err = f2.Open(sess2, "/a", "r")
	require.NoError(t, err)
	data, err := f2.Read(sess2, fd, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	require.NoError(t, f2.Close(sess2, fd))

	fd, err = f2.Open(sess2, "/sub/b", "r")
	require.NoError(t, err)
	data, err = f2.Read(sess2, fd, 100)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
	require.NoError(t, f2.Close(sess2, fd))
}
