package disk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"encoding/binary"

	"github.com/vorteil/simfs/pkg/fserr"
)

// Directory payloads are a hand-rolled fixed-layout encoding rather than a
// general-purpose serializer, so that loading a disk image can never execute
// anything. The payload is a uint16 entry count followed by one record per
// entry:
//
//	inode   uint32
//	reclen  uint16  (record length including padding)
//	namelen uint8
//	flags   uint8   (bit 0: hardlink)
//	name    namelen bytes of UTF-8
//	padding to a 4-byte record boundary
const (
	dentryHeaderLen     = 8
	dentryNameAlignment = 4
	dentryFlagHardlink  = 0x1
)

type dentry struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint8
	Flags   uint8
}

func align(n, alignment int64) int64 {
	n += alignment - 1
	n &^= alignment - 1
	return n
}

func dentryLen(name string) int {
	return dentryHeaderLen + int(align(int64(len(name)), dentryNameAlignment))
}

// EncodeEntries serialises a directory entry list. The encoded payload must
// fit within a single data block of the given size; a Limit error reports the
// overflow so callers can reject the mutation that caused it.
func EncodeEntries(entries []DirectoryEntry, blockSize int) ([]byte, error) {

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, uint16(len(entries)))

	for _, entry := range entries {

		if len(entry.Name) > MaxNameLen {
			return nil, fserr.Errorf(fserr.Limit, "entry name exceeds %d bytes", MaxNameLen)
		}

		l := dentryLen(entry.Name)
		var flags uint8
		if entry.Hardlink {
			flags |= dentryFlagHardlink
		}

		_ = binary.Write(buf, binary.LittleEndian, &dentry{
			Inode:   uint32(entry.Inode),
			RecLen:  uint16(l),
			NameLen: uint8(len(entry.Name)),
			Flags:   flags,
		})
		buf.WriteString(entry.Name)
		buf.Write(make([]byte, l-dentryHeaderLen-len(entry.Name)))
	}

	if buf.Len() > blockSize {
		return nil, fserr.Errorf(fserr.Limit,
			"directory entries exceed single block size (%d > %d)", buf.Len(), blockSize)
	}

	return buf.Bytes(), nil
}

// DecodeEntries parses a directory payload previously produced by
// EncodeEntries. A zeroed block decodes as an empty list.
func DecodeEntries(data []byte) ([]DirectoryEntry, error) {

	rdr := bytes.NewReader(data)

	var count uint16
	if err := binary.Read(rdr, binary.LittleEndian, &count); err != nil {
		return nil, fserr.Wrap(fserr.Corrupt, err, "directory payload truncated")
	}

	entries := make([]DirectoryEntry, 0, count)
	for i := 0; i < int(count); i++ {

		var d dentry
		if err := binary.Read(rdr, binary.LittleEndian, &d); err != nil {
			return nil, fserr.Wrap(fserr.Corrupt, err, "directory record truncated")
		}
		if int(d.RecLen) < dentryHeaderLen+int(d.NameLen) {
			return nil, fserr.Errorf(fserr.Corrupt, "directory record %d has impossible length", i)
		}

		rec := make([]byte, int(d.RecLen)-dentryHeaderLen)
		if _, err := rdr.Read(rec); err != nil {
			return nil, fserr.Wrap(fserr.Corrupt, err, "directory record truncated")
		}

		entries = append(entries, DirectoryEntry{
			Name:     string(rec[:d.NameLen]),
			Inode:    int(d.Inode),
			Hardlink: d.Flags&dentryFlagHardlink != 0,
		})
	}

	return entries, nil
}
