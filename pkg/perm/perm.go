package perm

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strconv"
	"time"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
)

// Op is one of the access checks that can be made against an inode.
type Op int

const (
	Read Op = iota
	Write
	Execute
	// Delete maps onto the write bit of the target. The write check on
	// the containing directory is the caller's responsibility.
	Delete
)

const (
	bitRead    = 0b100
	bitWrite   = 0b010
	bitExecute = 0b001
)

func (op Op) bit() uint16 {
	switch op {
	case Read:
		return bitRead
	case Execute:
		return bitExecute
	default:
		return bitWrite
	}
}

// Check applies the owner/group/other triads against an inode. uid 0 always
// passes. Group membership is simplified to a single gid per user: the group
// triad applies iff the caller's gid equals the inode's group id.
func Check(ino *disk.Inode, uid, gid int, op Op) bool {

	if uid == disk.RootUID {
		return true
	}

	var triad uint16
	switch {
	case ino.OwnerUID == uid:
		triad = (ino.Permissions >> 6) & 0b111
	case ino.GroupID == gid:
		triad = (ino.Permissions >> 3) & 0b111
	default:
		triad = ino.Permissions & 0b111
	}

	return triad&op.bit() != 0
}

// Chmod replaces an inode's permission bits. Only the owner or uid 0 may do
// so, and the new bits must fit in the nine-bit field.
func Chmod(m *disk.Manager, uid, inodeID int, mode uint16) error {

	ino := m.Inode(inodeID)
	if ino == nil {
		return fserr.Errorf(fserr.NotFound, "inode %d not found", inodeID)
	}

	if uid != disk.RootUID && uid != ino.OwnerUID {
		return fserr.New(fserr.PermissionDenied, "only the owner or root may change permissions")
	}
	if mode > 0o777 {
		return fserr.Errorf(fserr.InvalidArgument, "permission bits %#o out of range", mode)
	}

	ino.Permissions = mode
	ino.Ctime = time.Now().Unix()
	return nil
}

// Chown changes an inode's owner, and optionally its group when newGID is
// non-negative. Restricted to uid 0.
func Chown(m *disk.Manager, uid, inodeID, newUID, newGID int) error {

	ino := m.Inode(inodeID)
	if ino == nil {
		return fserr.Errorf(fserr.NotFound, "inode %d not found", inodeID)
	}

	if uid != disk.RootUID {
		return fserr.New(fserr.PermissionDenied, "only root may change ownership")
	}
	if newUID < 0 {
		return fserr.New(fserr.InvalidArgument, "owner uid cannot be negative")
	}

	ino.OwnerUID = newUID
	if newGID >= 0 {
		ino.GroupID = newGID
	}
	ino.Ctime = time.Now().Unix()
	return nil
}

// Chgrp changes an inode's group. Allowed for the owner or uid 0.
func Chgrp(m *disk.Manager, uid, inodeID, newGID int) error {

	ino := m.Inode(inodeID)
	if ino == nil {
		return fserr.Errorf(fserr.NotFound, "inode %d not found", inodeID)
	}

	if uid != disk.RootUID && uid != ino.OwnerUID {
		return fserr.New(fserr.PermissionDenied, "only the owner or root may change the group")
	}
	if newGID < 0 {
		return fserr.New(fserr.InvalidArgument, "group id cannot be negative")
	}

	ino.GroupID = newGID
	ino.Ctime = time.Now().Unix()
	return nil
}

// String renders nine permission bits in the conventional "rwxr-xr-x" form.
func String(mode uint16) string {

	triads := [3]uint16{(mode >> 6) & 0b111, (mode >> 3) & 0b111, mode & 0b111}
	out := make([]byte, 0, 9)

	for _, t := range triads {
		if t&bitRead != 0 {
			out = append(out, 'r')
		} else {
			out = append(out, '-')
		}
		if t&bitWrite != 0 {
			out = append(out, 'w')
		} else {
			out = append(out, '-')
		}
		if t&bitExecute != 0 {
			out = append(out, 'x')
		} else {
			out = append(out, '-')
		}
	}

	return string(out)
}

// Parse accepts either an octal literal ("644", "0755") or the nine
// character symbolic form ("rw-r--r--") and returns the bits.
func Parse(s string) (uint16, error) {

	if len(s) == 9 {
		var mode uint16
		for i, c := range s {
			var bit uint16
			switch c {
			case 'r':
				bit = bitRead
			case 'w':
				bit = bitWrite
			case 'x':
				bit = bitExecute
			case '-':
				continue
			default:
				return 0, fserr.Errorf(fserr.InvalidArgument, "invalid permission string '%s'", s)
			}
			want := []byte{'r', 'w', 'x'}[i%3]
			if byte(c) != want {
				return 0, fserr.Errorf(fserr.InvalidArgument, "invalid permission string '%s'", s)
			}
			mode |= bit << uint(6-3*(i/3))
		}
		return mode, nil
	}

	v, err := strconv.ParseUint(s, 8, 16)
	if err != nil || v > 0o777 {
		return 0, fserr.Errorf(fserr.InvalidArgument, "invalid permission value '%s'", s)
	}
	return uint16(v), nil
}
