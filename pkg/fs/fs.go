package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"
	"time"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

// FS implements the directory and file layers on top of a disk manager. It
// holds no state of its own beyond the references it is constructed with, so
// a fresh FS over a loaded manager behaves identically to the one that wrote
// it.
type FS struct {
	dm  *disk.Manager
	log elog.Logger
}

// New returns an FS over the given manager.
func New(dm *disk.Manager, log elog.Logger) *FS {
	return &FS{dm: dm, log: log}
}

// Manager exposes the underlying disk manager.
func (f *FS) Manager() *disk.Manager {
	return f.dm
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fserr.Errorf(fserr.InvalidArgument, "invalid name '%s'", name)
	}
	if strings.Contains(name, "/") {
		return fserr.Errorf(fserr.InvalidArgument, "name '%s' cannot contain '/'", name)
	}
	if len(name) > disk.MaxNameLen {
		return fserr.Errorf(fserr.Limit, "name exceeds %d bytes", disk.MaxNameLen)
	}
	return nil
}

// directory fetches an inode and confirms it is a directory.
func (f *FS) directory(id int) (*disk.Inode, error) {
	ino := f.dm.Inode(id)
	if ino == nil {
		return nil, fserr.Errorf(fserr.NotFound, "directory (inode %d) not found", id)
	}
	if ino.Type != disk.TypeDirectory {
		return nil, fserr.Errorf(fserr.WrongType, "inode %d is not a directory", id)
	}
	return ino, nil
}

// ReadEntries loads and decodes the entry list from a directory's first data
// block. A directory with no payload block decodes as an empty list.
func (f *FS) ReadEntries(dirID int) ([]disk.DirectoryEntry, error) {

	dir, err := f.directory(dirID)
	if err != nil {
		return nil, err
	}

	if len(dir.Direct) == 0 {
		f.log.Warnf("directory inode %d has no data blocks", dirID)
		return nil, nil
	}

	data, err := f.dm.ReadBlock(dir.Direct[0])
	if err != nil {
		return nil, err
	}

	return disk.DecodeEntries(data)
}

// WriteEntries encodes the entry list into the directory's first data block
// and updates the directory's size and timestamps. Entry lists that encode
// beyond a single block are rejected; multi-block directories are a known
// limitation.
func (f *FS) WriteEntries(dirID int, entries []disk.DirectoryEntry) error {

	dir, err := f.directory(dirID)
	if err != nil {
		return err
	}

	if len(dir.Direct) == 0 {
		return fserr.Errorf(fserr.Internal, "directory inode %d has no data block to write", dirID)
	}

	payload, err := disk.EncodeEntries(entries, f.dm.Superblock().BlockSize)
	if err != nil {
		return err
	}

	if err = f.dm.WriteBlock(dir.Direct[0], payload); err != nil {
		return err
	}

	dir.Size = int64(len(entries))
	dir.Touch()
	return nil
}

// EntryDetail is the listing record returned by List, one per directory
// entry.
type EntryDetail struct {
	Name        string
	Inode       int
	Type        disk.FileType
	Size        int64
	Permissions uint16
	Mtime       int64
	LinkCount   int
	OwnerUID    int
	Hardlink    bool
}

// List returns detail records for every entry in a directory and updates the
// directory's access time. Entries whose inode is missing are skipped with a
// warning.
func (f *FS) List(dirID int) ([]EntryDetail, error) {

	dir, err := f.directory(dirID)
	if err != nil {
		return nil, err
	}

	entries, err := f.ReadEntries(dirID)
	if err != nil {
		return nil, err
	}

	details := make([]EntryDetail, 0, len(entries))
	for _, entry := range entries {
		ino := f.dm.Inode(entry.Inode)
		if ino == nil {
			f.log.Warnf("skipping dangling entry '%s' (inode %d) in directory %d",
				entry.Name, entry.Inode, dirID)
			continue
		}
		details = append(details, EntryDetail{
			Name:        entry.Name,
			Inode:       entry.Inode,
			Type:        ino.Type,
			Size:        ino.Size,
			Permissions: ino.Permissions,
			Mtime:       ino.Mtime,
			LinkCount:   ino.LinkCount,
			OwnerUID:    ino.OwnerUID,
			Hardlink:    entry.Hardlink,
		})
	}

	dir.Atime = time.Now().Unix()
	return details, nil
}

func findEntry(entries []disk.DirectoryEntry, name string) int {
	for i := range entries {
		if entries[i].Name == name {
			return i
		}
	}
	return -1
}
