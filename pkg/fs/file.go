package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"time"

	"github.com/vorteil/simfs/pkg/auth"
	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
	"github.com/vorteil/simfs/pkg/perm"
)

// CreateFile creates an empty regular file under the parent. No data block
// is allocated until the first write.
func (f *FS) CreateFile(uid, gid, parentID int, name string) (int, error) {

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

	ino := disk.NewInode(id, disk.TypeFile, uid, disk.DefaultFilePerm)
	ino.GroupID = gid
	if err = f.dm.SetInode(id, ino); err != nil {
		f.dm.FreeInode(id)
		return -1, err
	}

	entries = append(entries, disk.DirectoryEntry{Name: name, Inode: id})
	if err = f.WriteEntries(parentID, entries); err != nil {
		f.dm.FreeInode(id)
		return -1, err
	}

	parent.Touch()

	f.log.Debugf("file '%s' created (inode %d)", name, id)
	return id, nil
}

// DeleteFile unlinks a name with hard-link semantics: the link count is
// decremented and the inode and its blocks are freed only when the count
// reaches zero. Directories are refused.
func (f *FS) DeleteFile(uid, gid, parentID int, name string) error {

	if name == "" || name == "." || name == ".." {
		return fserr.Errorf(fserr.InvalidArgument, "cannot delete '%s'", name)
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

	if target.Type == disk.TypeDirectory {
		return fserr.Errorf(fserr.WrongType, "'%s' is a directory; use rmdir", name)
	}
	if !perm.Check(target, uid, gid, perm.Delete) {
		return fserr.Errorf(fserr.PermissionDenied, "cannot delete '%s'", name)
	}

	target.LinkCount--
	if target.LinkCount <= 0 {
		if err = f.dm.FreeFileBlocks(target); err != nil {
			return err
		}
		target.Size = 0
		f.dm.FreeInode(targetID)
	} else {
		target.Ctime = time.Now().Unix()
	}

	entries = append(entries[:idx], entries[idx+1:]...)
	if err = f.WriteEntries(parentID, entries); err != nil {
		return fserr.Wrap(fserr.Internal, err, "resources freed but parent directory update failed")
	}

	parent.Touch()
	return nil
}

// Open resolves a path into an open file descriptor on the session. Write
// and append modes create the file if the path does not resolve; write mode
// truncates an existing file. Opening a directory fails.
func (f *FS) Open(sess *auth.Session, path, modeStr string) (int, error) {

	mode, err := disk.ParseOpenMode(modeStr)
	if err != nil {
		return -1, err
	}

	uid := sess.UID()
	gid := sess.GID()

	var ino *disk.Inode

	id, err := f.ResolveFollow(sess.CWD(), path)
	if err == nil {
		ino = f.dm.Inode(id)
		if ino == nil {
			return -1, fserr.Errorf(fserr.Corrupt, "resolved inode %d missing from table", id)
		}
		if ino.Type == disk.TypeDirectory {
			return -1, fserr.Errorf(fserr.WrongType, "'%s' is a directory", path)
		}
	} else {
		if mode == disk.ModeRead || mode == disk.ModeReadWrite {
			return -1, err
		}
		if !fserr.Is(err, fserr.NotFound) {
			return -1, err
		}

		parentID, base, perr := f.ResolveParent(sess.CWD(), path)
		if perr != nil {
			return -1, fserr.Errorf(fserr.NotFound, "parent directory of '%s' not found", path)
		}
		id, err = f.CreateFile(uid, gid, parentID, base)
		if err != nil {
			return -1, err
		}
		ino = f.dm.Inode(id)
		f.log.Debugf("file '%s' created during open", path)
	}

	if mode.Readable() && !perm.Check(ino, uid, gid, perm.Read) {
		return -1, fserr.Errorf(fserr.PermissionDenied, "cannot read '%s'", path)
	}
	if mode.Writable() && !perm.Check(ino, uid, gid, perm.Write) {
		return -1, fserr.Errorf(fserr.PermissionDenied, "cannot write '%s'", path)
	}

	if mode == disk.ModeWrite && (ino.Size > 0 || ino.BlocksCount > 0) {
		f.log.Debugf("truncating '%s' (inode %d) on open", path, id)
		if err = f.dm.FreeFileBlocks(ino); err != nil {
			return -1, err
		}
		ino.Size = 0
		ino.Touch()
	}

	fd := sess.AllocateFD(disk.NewOpenFileEntry(ino, mode))
	ino.Atime = time.Now().Unix()

	return fd, nil
}

// Close releases a file descriptor. Writes are immediate, so there is
// nothing to flush.
func (f *FS) Close(sess *auth.Session, fd int) error {
	if !sess.ReleaseFD(fd) {
		return fserr.Errorf(fserr.NotFound, "invalid file descriptor %d", fd)
	}
	return nil
}

// Read returns up to n bytes from the descriptor's current offset. Reading
// at or beyond the end of the file yields an empty slice and no error.
func (f *FS) Read(sess *auth.Session, fd int, n int) ([]byte, error) {

	entry := sess.File(fd)
	if entry == nil {
		return nil, fserr.Errorf(fserr.NotFound, "invalid file descriptor %d", fd)
	}
	if !entry.Mode.Readable() {
		return nil, fserr.Errorf(fserr.InvalidArgument,
			"descriptor %d not open for reading (mode %s)", fd, entry.Mode)
	}
	if n < 0 {
		return nil, fserr.New(fserr.InvalidArgument, "read length cannot be negative")
	}
	if n == 0 {
		return []byte{}, nil
	}

	ino := entry.Inode
	blockSize := int64(f.dm.Superblock().BlockSize)

	if entry.Offset >= ino.Size {
		return []byte{}, nil
	}

	remaining := ino.Size - entry.Offset
	if int64(n) < remaining {
		remaining = int64(n)
	}

	indices, err := f.dm.FileBlockIndices(ino)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, remaining)
	offset := entry.Offset

	for int64(len(out)) < remaining {

		logical := offset / blockSize
		within := offset % blockSize

		if logical >= int64(len(indices)) {
			f.log.Warnf("read beyond allocated blocks for inode %d (size %d, offset %d)",
				ino.ID, ino.Size, offset)
			break
		}

		data, err := f.dm.ReadBlock(indices[logical])
		if err != nil {
			return nil, err
		}

		chunk := blockSize - within
		if chunk > remaining-int64(len(out)) {
			chunk = remaining - int64(len(out))
		}

		out = append(out, data[within:within+chunk]...)
		offset += chunk
	}

	entry.Offset = offset
	ino.Atime = time.Now().Unix()

	return out, nil
}

// Write stores bytes at the descriptor's current offset, growing the block
// map as needed. On success the file's size becomes the final offset, and
// blocks past the new size are returned to the free bitmap, so a shorter
// rewrite from offset zero acts as save-and-truncate. If the disk fills
// mid-write, the bytes already written are committed and their count is
// returned alongside a NoSpace error.
func (f *FS) Write(sess *auth.Session, fd int, content []byte) (int, error) {

	entry := sess.File(fd)
	if entry == nil {
		return 0, fserr.Errorf(fserr.NotFound, "invalid file descriptor %d", fd)
	}
	if !entry.Mode.Writable() {
		return 0, fserr.Errorf(fserr.InvalidArgument,
			"descriptor %d not open for writing (mode %s)", fd, entry.Mode)
	}

	ino := entry.Inode
	blockSize := int64(f.dm.Superblock().BlockSize)

	indices, err := f.dm.FileBlockIndices(ino)
	if err != nil {
		return 0, err
	}

	offset := entry.Offset
	written := 0

	commit := func() {
		ino.Size = offset
		entry.Offset = offset
		ino.Touch()
	}

	for written < len(content) {

		logical := offset / blockSize
		within := offset % blockSize

		var blockID int
		var data []byte

		if logical < int64(len(indices)) {
			blockID = indices[logical]
			data, err = f.dm.ReadBlock(blockID)
			if err != nil {
				return written, err
			}
		} else {
			if logical != int64(len(indices)) {
				return written, fserr.Errorf(fserr.Internal,
					"non-contiguous logical write on inode %d", ino.ID)
			}
			added, aerr := f.dm.AllocateFileBlocks(ino, 1)
			if aerr != nil {
				// Disk full: commit what was written and report
				// the partial count.
				commit()
				return written, aerr
			}
			blockID = added[0]
			indices = append(indices, blockID)
			data = make([]byte, blockSize)
		}

		chunk := int(blockSize - within)
		if chunk > len(content)-written {
			chunk = len(content) - written
		}

		copy(data[within:], content[written:written+chunk])
		if err = f.dm.WriteBlock(blockID, data); err != nil {
			commit()
			return written, err
		}

		offset += int64(chunk)
		written += chunk
	}

	required := int((offset + blockSize - 1) / blockSize)
	if required < ino.BlocksCount {
		if err = f.dm.TruncateFileBlocks(ino, required); err != nil {
			return written, err
		}
	}

	commit()
	return written, nil
}

// Stat resolves a path without following a terminal symlink and returns its
// inode.
func (f *FS) Stat(cwd int, path string) (*disk.Inode, error) {

	id, err := f.Resolve(cwd, path)
	if err != nil {
		return nil, err
	}

	ino := f.dm.Inode(id)
	if ino == nil {
		return nil, fserr.Errorf(fserr.Corrupt, "resolved inode %d missing from table", id)
	}
	return ino, nil
}
