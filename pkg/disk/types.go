package disk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vorteil/simfs/pkg/fserr"
)

// Default geometry for a freshly formatted disk.
const (
	DefaultNumInodes = 1024
	DefaultNumBlocks = 4096
	DefaultBlockSize = 512
)

const (
	// Magic is the superblock signature: the ASCII letters "SIMFS" read as
	// a big-endian number.
	Magic = 0x53494D4653

	// RootUID owns the root directory and bypasses permission checks.
	RootUID = 0

	// MaxDirectBlocks is the number of block ids stored directly on an
	// inode before the map spills into indirect blocks.
	MaxDirectBlocks = 12

	// MaxNameLen is the longest directory entry name, in bytes.
	MaxNameLen = 255
)

// Default permission bits by inode type.
const (
	DefaultDirPerm     = 0o755
	DefaultFilePerm    = 0o644
	DefaultSymlinkPerm = 0o777
)

// FileType discriminates the three kinds of inode.
type FileType uint8

const (
	TypeFile FileType = iota + 1
	TypeDirectory
	TypeSymlink
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "FILE"
	case TypeDirectory:
		return "DIRECTORY"
	case TypeSymlink:
		return "SYMBOLIC_LINK"
	}
	return "UNKNOWN"
}

// OpenMode is the mode a file descriptor was opened with.
type OpenMode uint8

const (
	ModeRead OpenMode = iota + 1
	ModeWrite
	ModeAppend
	ModeReadWrite
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "READ"
	case ModeWrite:
		return "WRITE"
	case ModeAppend:
		return "APPEND"
	case ModeReadWrite:
		return "READ_WRITE"
	}
	return "UNKNOWN"
}

// Readable reports whether reads are allowed in this mode.
func (m OpenMode) Readable() bool {
	return m == ModeRead || m == ModeReadWrite
}

// Writable reports whether writes are allowed in this mode.
func (m OpenMode) Writable() bool {
	return m == ModeWrite || m == ModeAppend || m == ModeReadWrite
}

// ParseOpenMode converts the conventional mode strings "r", "w", "a" and "r+"
// into an OpenMode.
func ParseOpenMode(s string) (OpenMode, error) {
	switch strings.ToLower(s) {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "a":
		return ModeAppend, nil
	case "r+":
		return ModeReadWrite, nil
	}
	return 0, fserr.Errorf(fserr.InvalidArgument, "invalid open mode '%s' (supported: r, w, a, r+)", s)
}

// Inode is the metadata record for one file, directory or symbolic link. The
// block map is held as integer ids into the disk manager's block store; an
// Indirect or DoubleIndirect value of -1 means no such meta-block exists.
type Inode struct {
	ID               int
	Type             FileType
	Size             int64 // bytes for files and symlinks, entry count for directories
	BlocksCount      int
	Direct           []int
	Indirect         int
	DoubleIndirect   int
	OwnerUID         int
	GroupID          int
	Permissions      uint16
	Atime            int64
	Mtime            int64
	Ctime            int64
	LinkCount        int
	Encrypted        bool
	Compressed       bool
	CompressionLevel int
}

// NewInode returns an inode with fresh timestamps and a link count of one.
func NewInode(id int, typ FileType, uid int, perm uint16) *Inode {
	now := time.Now().Unix()
	return &Inode{
		ID:             id,
		Type:           typ,
		Indirect:       -1,
		DoubleIndirect: -1,
		OwnerUID:       uid,
		Permissions:    perm,
		Atime:          now,
		Mtime:          now,
		Ctime:          now,
		LinkCount:      1,
	}
}

// Touch sets all three timestamps to now.
func (ino *Inode) Touch() {
	now := time.Now().Unix()
	ino.Atime = now
	ino.Mtime = now
	ino.Ctime = now
}

// DirectoryEntry binds a name to an inode within a directory's payload.
type DirectoryEntry struct {
	Name     string
	Inode    int
	Hardlink bool
}

// OpenFileEntry is one row of a session's open-file table. It holds a
// back-reference to the inode for quick access to size and mode; it must not
// outlive the disk manager that owns the inode.
type OpenFileEntry struct {
	InodeID int
	Mode    OpenMode
	Offset  int64
	Inode   *Inode
}

// NewOpenFileEntry constructs the table row. Append mode starts the cursor at
// the end of the file; every other mode starts it at zero.
func NewOpenFileEntry(ino *Inode, mode OpenMode) *OpenFileEntry {
	e := &OpenFileEntry{
		InodeID: ino.ID,
		Mode:    mode,
		Inode:   ino,
	}
	if mode == ModeAppend {
		e.Offset = ino.Size
	}
	return e
}

// Superblock is the filesystem-wide header produced by format.
type Superblock struct {
	Magic       uint64
	TotalBlocks int
	TotalInodes int
	BlockSize   int
	FreeBlocks  int
	FreeInodes  int
	RootInode   int
	UUID        uuid.UUID
}
