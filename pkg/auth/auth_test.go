package auth

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

func newAuth() *Authenticator {
	return NewAuthenticator(&elog.CLI{DisableTTY: true})
}

func TestDefaultUsers(t *testing.T) {

	a := newAuth()

	root := a.User("root")
	require.NotNil(t, root)
	assert.Equal(t, 0, root.UID)
	assert.True(t, root.Admin)
	// Passwords are stored hashed, never in the clear.
	assert.NotContains(t, string(root.PasswordHash), "root")

	guest := a.User("guest")
	require.NotNil(t, guest)
	assert.Equal(t, 1000, guest.UID)
}

func TestLoginLogout(t *testing.T) {

	a := newAuth()

	sess, err := a.Login("root", "root", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sess.UID())
	assert.Equal(t, 0, sess.CWD())

	// One session at a time.
	_, err = a.Login("guest", "guest", 0)
	assert.Equal(t, fserr.AlreadyExists, fserr.KindOf(err))

	require.NoError(t, a.Logout())
	assert.Nil(t, a.Session())

	err = a.Logout()
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))
}

func TestLoginFailures(t *testing.T) {

	a := newAuth()

	_, err := a.Login("nobody", "pw", 0)
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))

	_, err = a.Login("root", "wrong", 0)
	assert.Equal(t, fserr.PermissionDenied, fserr.KindOf(err))
	assert.Nil(t, a.Session())
}

func TestHomeInodeFallback(t *testing.T) {

	a := newAuth()

	user, err := a.CreateUser("dev", "pw", 0, false)
	require.NoError(t, err)

	// No home set: cwd falls back to the root inode id.
	sess, err := a.Login("dev", "pw", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, sess.CWD())
	require.NoError(t, a.Logout())

	user.HomeInode = 12
	sess, err = a.Login("dev", "pw", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, sess.CWD())
}

func TestCreateUserUIDs(t *testing.T) {

	a := newAuth()

	// guest already holds 1000.
	u1, err := a.CreateUser("alice", "pw", 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1001, u1.UID)

	u2, err := a.CreateUser("bob", "pw", 5, true)
	require.NoError(t, err)
	assert.Equal(t, 1002, u2.UID)
	assert.Equal(t, 5, u2.GroupID)
	assert.True(t, u2.Admin)

	_, err = a.CreateUser("alice", "pw", 0, false)
	assert.Equal(t, fserr.AlreadyExists, fserr.KindOf(err))

	_, err = a.CreateUser("", "pw", 0, false)
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))

	for _, u := range []*User{u1, u2} {
		assert.NotEqual(t, disk.RootUID, u.UID)
		assert.GreaterOrEqual(t, u.UID, FirstUserUID)
	}
}

func TestFDAllocationIsMinimumFree(t *testing.T) {

	a := newAuth()
	sess, err := a.Login("root", "root", 0)
	require.NoError(t, err)

	entry := func() *disk.OpenFileEntry {
		ino := disk.NewInode(1, disk.TypeFile, 0, disk.DefaultFilePerm)
		return disk.NewOpenFileEntry(ino, disk.ModeRead)
	}

	fd0 := sess.AllocateFD(entry())
	fd1 := sess.AllocateFD(entry())
	fd2 := sess.AllocateFD(entry())
	assert.Equal(t, []int{0, 1, 2}, []int{fd0, fd1, fd2})

	require.True(t, sess.ReleaseFD(fd1))
	assert.Equal(t, 1, sess.AllocateFD(entry()))
	assert.Equal(t, 3, sess.AllocateFD(entry()))

	assert.False(t, sess.ReleaseFD(99))
	assert.Nil(t, sess.File(99))
}

func TestLogoutDiscardsFDs(t *testing.T) {

	a := newAuth()
	sess, err := a.Login("root", "root", 0)
	require.NoError(t, err)

	ino := disk.NewInode(1, disk.TypeFile, 0, disk.DefaultFilePerm)
	sess.AllocateFD(disk.NewOpenFileEntry(ino, disk.ModeRead))
	require.Len(t, sess.FDs(), 1)

	require.NoError(t, a.Logout())

	sess2, err := a.Login("root", "root", 0)
	require.NoError(t, err)
	assert.Empty(t, sess2.FDs())
}

func TestAppendModeOffset(t *testing.T) {

	ino := disk.NewInode(1, disk.TypeFile, 0, disk.DefaultFilePerm)
	ino.Size = 42

	assert.Equal(t, int64(0), disk.NewOpenFileEntry(ino, disk.ModeRead).Offset)
	assert.Equal(t, int64(0), disk.NewOpenFileEntry(ino, disk.ModeWrite).Offset)
	assert.Equal(t, int64(42), disk.NewOpenFileEntry(ino, disk.ModeAppend).Offset)
	assert.Equal(t, int64(0), disk.NewOpenFileEntry(ino, disk.ModeReadWrite).Offset)
}
