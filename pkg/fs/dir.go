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

// Mkdir creates an empty directory under the parent. The new directory gets
// one data block holding its "." and ".." entries and a link count of two.
// Any allocation already made is rolled back if a later step fails.
func (f *FS) Mkdir(uid, gid, parentID int, name string) (int, error) {

	if err := validateName(name); err != nil {
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
	if findEntry(entries, name) >= 0 {
		return -1, fserr.Errorf(fserr.AlreadyExists, "'%s' already exists", name)
	}

	id, ok := f.dm.AllocateInode()
	if !ok {
		return -1, fserr.New(fserr.NoSpace, "no free inodes")
	}

	blockID, ok := f.dm.AllocateBlock()
	if !ok {
		f.dm.FreeInode(id)
		return -1, fserr.New(fserr.NoSpace, "no free data blocks")
	}

	dir := disk.NewInode(id, disk.TypeDirectory, uid, disk.DefaultDirPerm)
	dir.GroupID = gid
	dir.LinkCount = 2 // "." plus the entry in the parent
	dir.Direct = append(dir.Direct, blockID)
	dir.BlocksCount = 1
	if err = f.dm.SetInode(id, dir); err != nil {
		f.dm.FreeBlock(blockID)
		f.dm.FreeInode(id)
		return -1, err
	}

	err = f.WriteEntries(id, []disk.DirectoryEntry{
		{Name: ".", Inode: id},
		{Name: "..", Inode: parentID},
	})
	if err != nil {
		f.dm.FreeBlock(blockID)
		f.dm.FreeInode(id)
		return -1, err
	}

	entries = append(entries, disk.DirectoryEntry{Name: name, Inode: id})
	if err = f.WriteEntries(parentID, entries); err != nil {
		f.dm.FreeBlock(blockID)
		f.dm.FreeInode(id)
		return -1, err
	}

	parent.LinkCount++ // the new directory's ".." refers to the parent
	parent.Touch()

	f.log.Debugf("directory '%s' created (inode %d)", name, id)
	return id, nil
}

// Rmdir removes an empty directory. Directories still holding entries other
// than "." and ".." are refused; RemoveAll offers the recursive variant.
func (f *FS) Rmdir(uid, gid, parentID int, name string) error {

	if name == "" || name == "." || name == ".." {
		return fserr.Errorf(fserr.InvalidArgument, "cannot remove '%s'", name)
	}

	parent, err := f.directory(parentID)
	if err != nil {
		return err
	}
	if !perm.Check(parent, uid, gid, perm.Write) {
		return fserr.Errorf(fserr.PermissionDenied, "cannot write to directory (inode %d)", parentID)
	}

	entries, err := f.ReadEntries(parentID)
	if err != nil {
		return err
	}
	idx := findEntry(entries, name)
	if idx < 0 {
		return fserr.Errorf(fserr.NotFound, "'%s' not found", name)
	}

	targetID := entries[idx].Inode
	target := f.dm.Inode(targetID)
	if target == nil {
		f.log.Warnf("dangling entry '%s' (inode %d); removing entry", name, targetID)
		entries = append(entries[:idx], entries[idx+1:]...)
		_ = f.WriteEntries(parentID, entries)
		return fserr.Errorf(fserr.Corrupt, "entry '%s' referenced missing inode %d", name, targetID)
	}

	if target.Type != disk.TypeDirectory {
		return fserr.Errorf(fserr.WrongType, "'%s' is not a directory", name)
	}
	if !perm.Check(target, uid, gid, perm.Delete) {
		return fserr.Errorf(fserr.PermissionDenied, "cannot delete '%s'", name)
	}

	children, err := f.ReadEntries(targetID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Name != "." && child.Name != ".." {
			return fserr.Errorf(fserr.InvalidArgument, "directory '%s' is not empty", name)
		}
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	if err = f.WriteEntries(parentID, entries); err != nil {
		return err
	}

	parent.LinkCount-- // the removed directory's ".." no longer refers here
	parent.Touch()

	if err = f.dm.FreeFileBlocks(target); err != nil {
		return err
	}
	f.dm.FreeInode(targetID)

	f.log.Debugf("directory '%s' removed (inode %d)", name, targetID)
	return nil
}

// RemoveAll removes a name and, when it refers to a directory, everything
// beneath it. Files are unlinked with hard-link semantics; directories are
// emptied depth-first and then removed.
func (f *FS) RemoveAll(uid, gid, parentID int, name string) error {

	if name == "" || name == "." || name == ".." {
		return fserr.Errorf(fserr.InvalidArgument, "cannot remove '%s'", name)
	}

	entries, err := f.ReadEntries(parentID)
	if err != nil {
		return err
	}
	idx := findEntry(entries, name)
	if idx < 0 {
		return fserr.Errorf(fserr.NotFound, "'%s' not found", name)
	}

	target := f.dm.Inode(entries[idx].Inode)
	if target == nil || target.Type != disk.TypeDirectory {
		return f.DeleteFile(uid, gid, parentID, name)
	}

	children, err := f.ReadEntries(target.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Name == "." || child.Name == ".." {
			continue
		}
		if err = f.RemoveAll(uid, gid, target.ID, child.Name); err != nil {
			return err
		}
	}

	return f.Rmdir(uid, gid, parentID, name)
}

// Rename changes an entry's name in place. Renaming a name onto itself is a
// no-op; renaming onto an existing sibling is refused.
func (f *FS) Rename(uid, gid, parentID int, oldName, newName string) error {

	if err := validateName(newName); err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	parent, err := f.directory(parentID)
	if err != nil {
		return err
	}
	if !perm.Check(parent, uid, gid, perm.Write) {
		return fserr.Errorf(fserr.PermissionDenied, "cannot write to directory (inode %d)", parentID)
	}

	entries, err := f.ReadEntries(parentID)
	if err != nil {
		return err
	}
	if findEntry(entries, newName) >= 0 {
		return fserr.Errorf(fserr.AlreadyExists, "'%s' already exists", newName)
	}
	idx := findEntry(entries, oldName)
	if idx < 0 {
		return fserr.Errorf(fserr.NotFound, "'%s' not found", oldName)
	}

	entries[idx].Name = newName
	if err = f.WriteEntries(parentID, entries); err != nil {
		// The on-disk payload is unchanged on failure; nothing to
		// restore.
		return err
	}

	if target := f.dm.Inode(entries[idx].Inode); target != nil {
		target.Ctime = time.Now().Unix()
	}

	return nil
}

// ChangeDirectory resolves a path (following symlinks) and confirms it is a
// directory the user may enter, returning the new working directory inode.
func (f *FS) ChangeDirectory(uid, gid, cwd int, path string) (int, error) {

	id, err := f.ResolveFollow(cwd, path)
	if err != nil {
		return -1, err
	}

	dir, err := f.directory(id)
	if err != nil {
		return -1, err
	}
	if !perm.Check(dir, uid, gid, perm.Execute) {
		return -1, fserr.Errorf(fserr.PermissionDenied, "cannot enter directory (inode %d)", id)
	}

	return id, nil
}
