package perm

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

func testInode(mode uint16, uid, gid int) *disk.Inode {
	ino := disk.NewInode(5, disk.TypeFile, uid, mode)
	ino.GroupID = gid
	return ino
}

func TestCheckTriads(t *testing.T) {

	ino := testInode(0o640, 100, 50)

	// Owner triad.
	assert.True(t, Check(ino, 100, 0, Read))
	assert.True(t, Check(ino, 100, 0, Write))
	assert.False(t, Check(ino, 100, 0, Execute))

	// Group triad.
	assert.True(t, Check(ino, 200, 50, Read))
	assert.False(t, Check(ino, 200, 50, Write))

	// Other triad.
	assert.False(t, Check(ino, 200, 99, Read))
	assert.False(t, Check(ino, 200, 99, Write))

	// Root bypasses everything.
	assert.True(t, Check(ino, 0, 0, Write))
	assert.True(t, Check(ino, 0, 0, Execute))
}

func TestDeleteMapsToWrite(t *testing.T) {

	ino := testInode(0o200, 100, 50)
	assert.True(t, Check(ino, 100, 0, Delete))

	ino = testInode(0o400, 100, 50)
	assert.False(t, Check(ino, 100, 0, Delete))
}

func newPermManager(t *testing.T) (*disk.Manager, int) {

	m := disk.NewManager(&elog.CLI{DisableTTY: true})
	require.NoError(t, m.Format(16, 32, 128))

	id, ok := m.AllocateInode()
	require.True(t, ok)
	ino := disk.NewInode(id, disk.TypeFile, 100, disk.DefaultFilePerm)
	require.NoError(t, m.SetInode(id, ino))
	return m, id
}

func TestChmod(t *testing.T) {

	m, id := newPermManager(t)

	require.NoError(t, Chmod(m, 100, id, 0o600))
	assert.Equal(t, uint16(0o600), m.Inode(id).Permissions)

	require.NoError(t, Chmod(m, 0, id, 0o755))
	assert.Equal(t, uint16(0o755), m.Inode(id).Permissions)

	err := Chmod(m, 200, id, 0o777)
	assert.Equal(t, fserr.PermissionDenied, fserr.KindOf(err))

	err = Chmod(m, 100, id, 0o1777)
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))

	err = Chmod(m, 0, 99, 0o600)
	assert.Equal(t, fserr.NotFound, fserr.KindOf(err))
}

func TestChownRootOnly(t *testing.T) {

	m, id := newPermManager(t)

	err := Chown(m, 100, id, 200, -1)
	assert.Equal(t, fserr.PermissionDenied, fserr.KindOf(err))

	require.NoError(t, Chown(m, 0, id, 200, -1))
	assert.Equal(t, 200, m.Inode(id).OwnerUID)

	require.NoError(t, Chown(m, 0, id, 300, 7))
	assert.Equal(t, 300, m.Inode(id).OwnerUID)
	assert.Equal(t, 7, m.Inode(id).GroupID)
}

func TestChgrp(t *testing.T) {

	m, id := newPermManager(t)

	require.NoError(t, Chgrp(m, 100, id, 9))
	assert.Equal(t, 9, m.Inode(id).GroupID)

	err := Chgrp(m, 200, id, 10)
	assert.Equal(t, fserr.PermissionDenied, fserr.KindOf(err))

	err = Chgrp(m, 0, id, -5)
	assert.Equal(t, fserr.InvalidArgument, fserr.KindOf(err))
}

func TestStringForm(t *testing.T) {

	assert.Equal(t, "rwxr-xr-x", String(0o755))
	assert.Equal(t, "rw-r--r--", String(0o644))
	assert.Equal(t, "---------", String(0))
	assert.Equal(t, "rwxrwxrwx", String(0o777))
}

func TestParse(t *testing.T) {

	cases := map[string]uint16{
		"755":       0o755,
		"0644":      0o644,
		"rwxr-xr-x": 0o755,
		"rw-r--r--": 0o644,
		"---------": 0,
	}
	for in, want := range cases {
		got, err := Parse(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	for _, bad := range []string{"", "999", "rwxrwxrw", "rwxrwxrwzz", "wr-r--r--", "abc"} {
		_, err := Parse(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseStringRoundTrip(t *testing.T) {
	for mode := uint16(0); mode <= 0o777; mode++ {
		got, err := Parse(String(mode))
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
}
