package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"time"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
	"github.com/vorteil/simfs/pkg/perm"
)

// CreateHardLink adds another directory entry for an existing file inode and
// increments its link count. Hard links to directories are never allowed.
func (f *FS) CreateHardLink(uid, gid, parentID int, linkName string, targetID int) error {

	if err := validateName(linkName); err != nil {
		return err
	}

	parent, err := f.directory(parentID)
	if err != nil {
		return err
	}
	if !perm.Check(parent, uid, gid, perm.Write) {
		return fserr.Errorf(fserr.PermissionDenied, "cannot write to directory (inode %d)", parentID)
	}

	target := f.dm.Inode(targetID)
	if target == nil {
		return fserr.Errorf(fserr.NotFound, "inode %d not found", targetID)
	}
	if target.Type != disk.TypeFile {
		return fserr.Errorf(fserr.WrongType, "hard links may only reference regular files")
	}

	entries, err := f.ReadEntries(parentID)
	if err != nil {
		return err
	}
	if findEntry(entries, linkName) >= 0 {
		return fserr.Errorf(fserr.AlreadyExists, "'%s' already exists", linkName)
	}

	entries = append(entries, disk.DirectoryEntry{Name: linkName, Inode: targetID, Hardlink: true})
	if err = f.WriteEntries(parentID, entries); err != nil {
		return err
	}

	target.LinkCount++
	target.Ctime = time.Now().Unix()
	parent.Touch()

	return nil
}

// CreateSymbolicLink creates a SYMBOLIC_LINK inode whose data block stores
// the target path string. The target need not resolve to anything; dangling
// links are legitimate.
func (f *FS) CreateSymbolicLink(uid, gid, parentID int, linkName, target string) (int, error) {

	if err := validateName(linkName); err != nil {
		return -1, err
	}

	parent, err := f.directory(parentID)
	if err != nil {
		return -1, err
	}
	if !perm.Check(parent, uid, gid, perm.Write) {
		return -1, fserr.Errorf(fserr.PermissionDenied, "cannot write to directory (inode %d)", parentID)
	}

	entries, err := f.ReadEntries(parentID)
	if err != nil {
		return -1, err
	}
	if findEntry(entries, linkName) >= 0 {
		return -1, fserr.Errorf(fserr.AlreadyExists, "'%s' already exists", linkName)
	}

	if len(target) > f.dm.Superblock().BlockSize {
		return -1, fserr.Errorf(fserr.Limit, "symbolic link target exceeds one block (%d bytes)",
			f.dm.Superblock().BlockSize)
	}

	id, ok := f.dm.AllocateInode()
	if !ok {
		return -1, fserr.New(fserr.NoSpace, "no free inodes")
	}

	ino := disk.NewInode(id, disk.TypeSymlink, uid, disk.DefaultSymlinkPerm)
	ino.GroupID = gid

	if len(target) > 0 {
		blockID, ok := f.dm.AllocateBlock()
		if !ok {
			f.dm.FreeInode(id)
			return -1, fserr.New(fserr.NoSpace, "no free data blocks")
		}
		if err = f.dm.WriteBlock(blockID, []byte(target)); err != nil {
			f.dm.FreeBlock(blockID)
			f.dm.FreeInode(id)
			return -1, err
		}
		ino.Direct = append(ino.Direct, blockID)
		ino.BlocksCount = 1
		ino.Size = int64(len(target))
	}

	if err = f.dm.SetInode(id, ino); err != nil {
		if ino.BlocksCount > 0 {
			f.dm.FreeBlock(ino.Direct[0])
		}
		f.dm.FreeInode(id)
		return -1, err
	}

	entries = append(entries, disk.DirectoryEntry{Name: linkName, Inode: id})
	if err = f.WriteEntries(parentID, entries); err != nil {
		if ino.BlocksCount > 0 {
			f.dm.FreeBlock(ino.Direct[0])
		}
		f.dm.FreeInode(id)
		return -1, err
	}

	parent.Touch()

	f.log.Debugf("symbolic link '%s' -> '%s' created (inode %d)", linkName, target, id)
	return id, nil
}

// ReadLink returns the target path string stored in a symlink's data block.
func (f *FS) ReadLink(inodeID int) (string, error) {

	ino := f.dm.Inode(inodeID)
	if ino == nil {
		return "", fserr.Errorf(fserr.NotFound, "inode %d not found", inodeID)
	}
	if ino.Type != disk.TypeSymlink {
		return "", fserr.Errorf(fserr.WrongType, "inode %d is not a symbolic link", inodeID)
	}

	if ino.Size == 0 || len(ino.Direct) == 0 {
		return "", nil
	}

	data, err := f.dm.ReadBlock(ino.Direct[0])
	if err != nil {
		return "", err
	}

	return string(data[:ino.Size]), nil
}
