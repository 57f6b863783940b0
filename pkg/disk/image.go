package disk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

// DefaultImagePath is the conventional name of the disk image file.
const DefaultImagePath = "simulated_disk.img"

// ErrNoImage is returned by Load when no image file exists at the given
// path. Callers respond by formatting a fresh disk.
var ErrNoImage = fserr.New(fserr.NotFound, "no disk image")

var imageMagic = [4]byte{'S', 'I', 'M', 'G'}

const imageVersion = 1

type imageHeader struct {
	Magic     [4]byte
	Version   uint16
	Formatted uint8
	HasSuper  uint8
}

type imageSuperblock struct {
	Magic       uint64
	TotalBlocks uint32
	TotalInodes uint32
	BlockSize   uint32
	FreeBlocks  uint32
	FreeInodes  uint32
	RootInode   int32
	UUID        [16]byte
}

// Inode type bits for the persisted Mode field.
const (
	imageTypeFile    = 0x8000
	imageTypeDir     = 0x4000
	imageTypeSymlink = 0xA000
	imageTypeMask    = 0xF000
)

const (
	imageFlagEncrypted  = 0x1
	imageFlagCompressed = 0x2
)

// imageInode is the fixed-width on-disk form of an inode. Block references
// are biased by one so that zero marks an empty slot.
type imageInode struct {
	Mode   uint16
	Flags  uint8
	Level  uint8
	UID    int32
	GID    int32
	Links  int32
	Blocks int32
	Size   int64
	Atime  int64
	Mtime  int64
	Ctime  int64
	Direct [MaxDirectBlocks]int32
	Single int32
	Double int32
}

func packInode(ino *Inode) *imageInode {

	rec := &imageInode{
		Flags:  0,
		Level:  uint8(ino.CompressionLevel),
		UID:    int32(ino.OwnerUID),
		GID:    int32(ino.GroupID),
		Links:  int32(ino.LinkCount),
		Blocks: int32(ino.BlocksCount),
		Size:   ino.Size,
		Atime:  ino.Atime,
		Mtime:  ino.Mtime,
		Ctime:  ino.Ctime,
		Single: int32(ino.Indirect + 1),
		Double: int32(ino.DoubleIndirect + 1),
	}

	switch ino.Type {
	case TypeDirectory:
		rec.Mode = imageTypeDir
	case TypeSymlink:
		rec.Mode = imageTypeSymlink
	default:
		rec.Mode = imageTypeFile
	}
	rec.Mode |= ino.Permissions & 0o777

	if ino.Encrypted {
		rec.Flags |= imageFlagEncrypted
	}
	if ino.Compressed {
		rec.Flags |= imageFlagCompressed
	}

	for i, id := range ino.Direct {
		rec.Direct[i] = int32(id + 1)
	}

	return rec
}

func unpackInode(id int, rec *imageInode) (*Inode, error) {

	ino := &Inode{
		ID:               id,
		Size:             rec.Size,
		BlocksCount:      int(rec.Blocks),
		Indirect:         int(rec.Single) - 1,
		DoubleIndirect:   int(rec.Double) - 1,
		OwnerUID:         int(rec.UID),
		GroupID:          int(rec.GID),
		Permissions:      rec.Mode & 0o777,
		Atime:            rec.Atime,
		Mtime:            rec.Mtime,
		Ctime:            rec.Ctime,
		LinkCount:        int(rec.Links),
		Encrypted:        rec.Flags&imageFlagEncrypted != 0,
		Compressed:       rec.Flags&imageFlagCompressed != 0,
		CompressionLevel: int(rec.Level),
	}

	switch rec.Mode & imageTypeMask {
	case imageTypeDir:
		ino.Type = TypeDirectory
	case imageTypeSymlink:
		ino.Type = TypeSymlink
	case imageTypeFile:
		ino.Type = TypeFile
	default:
		return nil, fserr.Errorf(fserr.Corrupt, "inode %d has unknown type bits %#x", id, rec.Mode&imageTypeMask)
	}

	for _, v := range rec.Direct {
		if v == 0 {
			break
		}
		ino.Direct = append(ino.Direct, int(v-1))
	}

	return ino, nil
}

func packBitmap(bits []bool) []byte {
	data := make([]byte, (len(bits)+7)/8)
	for i, free := range bits {
		if free {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return data
}

func unpackBitmap(data []byte, n int) []bool {
	bits := make([]bool, n)
	for i := range bits {
		bits[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return bits
}

// Encode serialises the manager's complete state as a stable byte stream.
func (m *Manager) Encode(w io.Writer) error {

	hdr := &imageHeader{Magic: imageMagic, Version: imageVersion}
	if m.formatted {
		hdr.Formatted = 1
	}
	if m.super != nil {
		hdr.HasSuper = 1
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return err
	}

	if m.super == nil {
		return nil
	}

	sb := &imageSuperblock{
		Magic:       m.super.Magic,
		TotalBlocks: uint32(m.super.TotalBlocks),
		TotalInodes: uint32(m.super.TotalInodes),
		BlockSize:   uint32(m.super.BlockSize),
		FreeBlocks:  uint32(m.super.FreeBlocks),
		FreeInodes:  uint32(m.super.FreeInodes),
		RootInode:   int32(m.super.RootInode),
		UUID:        [16]byte(m.super.UUID),
	}
	if err := binary.Write(w, binary.LittleEndian, sb); err != nil {
		return err
	}

	if _, err := w.Write(packBitmap(m.inodeBitmap)); err != nil {
		return err
	}
	if _, err := w.Write(packBitmap(m.blockBitmap)); err != nil {
		return err
	}

	for _, ino := range m.inodes {
		if ino == nil {
			if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
				return err
			}
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, packInode(ino)); err != nil {
			return err
		}
	}

	for _, block := range m.blocks {
		if _, err := w.Write(block); err != nil {
			return err
		}
	}

	return nil
}

// Decode restores a manager's state from a stream produced by Encode.
func (m *Manager) Decode(r io.Reader) error {

	hdr := new(imageHeader)
	if err := binary.Read(r, binary.LittleEndian, hdr); err != nil {
		return fserr.Wrap(fserr.Corrupt, err, "image header unreadable")
	}
	if hdr.Magic != imageMagic {
		return fserr.New(fserr.Corrupt, "image file does not carry a valid signature")
	}
	if hdr.Version != imageVersion {
		return fserr.Errorf(fserr.Corrupt, "unsupported image version %d", hdr.Version)
	}

	formatted := hdr.Formatted == 1

	if hdr.HasSuper == 0 {
		if formatted {
			m.log.Warnf("image marked formatted but carries no superblock; treating as unformatted")
		}
		m.super = nil
		m.inodeBitmap = nil
		m.blockBitmap = nil
		m.inodes = nil
		m.blocks = nil
		m.formatted = false
		return nil
	}

	sb := new(imageSuperblock)
	if err := binary.Read(r, binary.LittleEndian, sb); err != nil {
		return fserr.Wrap(fserr.Corrupt, err, "superblock unreadable")
	}
	if sb.Magic != Magic {
		return fserr.Errorf(fserr.Corrupt, "superblock magic %#x does not match %#x", sb.Magic, uint64(Magic))
	}

	if !formatted {
		m.log.Warnf("image carries a superblock but was marked unformatted; treating as formatted")
		formatted = true
	}

	m.super = &Superblock{
		Magic:       sb.Magic,
		TotalBlocks: int(sb.TotalBlocks),
		TotalInodes: int(sb.TotalInodes),
		BlockSize:   int(sb.BlockSize),
		FreeBlocks:  int(sb.FreeBlocks),
		FreeInodes:  int(sb.FreeInodes),
		RootInode:   int(sb.RootInode),
		UUID:        uuid.UUID(sb.UUID),
	}

	data := make([]byte, (m.super.TotalInodes+7)/8)
	if _, err := io.ReadFull(r, data); err != nil {
		return fserr.Wrap(fserr.Corrupt, err, "inode bitmap unreadable")
	}
	m.inodeBitmap = unpackBitmap(data, m.super.TotalInodes)

	data = make([]byte, (m.super.TotalBlocks+7)/8)
	if _, err := io.ReadFull(r, data); err != nil {
		return fserr.Wrap(fserr.Corrupt, err, "block bitmap unreadable")
	}
	m.blockBitmap = unpackBitmap(data, m.super.TotalBlocks)

	m.inodes = make([]*Inode, m.super.TotalInodes)
	for i := range m.inodes {
		var present uint8
		if err := binary.Read(r, binary.LittleEndian, &present); err != nil {
			return fserr.Wrap(fserr.Corrupt, err, "inode table unreadable")
		}
		if present == 0 {
			continue
		}
		rec := new(imageInode)
		if err := binary.Read(r, binary.LittleEndian, rec); err != nil {
			return fserr.Wrap(fserr.Corrupt, err, "inode record unreadable")
		}
		ino, err := unpackInode(i, rec)
		if err != nil {
			return err
		}
		m.inodes[i] = ino
	}

	m.blocks = make([][]byte, m.super.TotalBlocks)
	for i := range m.blocks {
		m.blocks[i] = make([]byte, m.super.BlockSize)
		if _, err := io.ReadFull(r, m.blocks[i]); err != nil {
			return fserr.Wrap(fserr.Corrupt, err, "block store unreadable")
		}
	}

	m.formatted = formatted
	return nil
}

// Save writes the manager's state to an image file at path.
func Save(m *Manager, path string, log elog.View) error {

	if !m.IsFormatted() {
		log.Warnf("saving a disk that has not been formatted")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "could not create disk image '%s'", path)
	}
	defer f.Close()

	progress := log.NewProgress("Saving disk image", "%", 1)
	defer func() {
		progress.Finish(err == nil)
	}()

	w := bufio.NewWriter(f)
	if err = m.Encode(w); err != nil {
		return errors.Wrapf(err, "could not serialise disk image '%s'", path)
	}
	if err = w.Flush(); err != nil {
		return errors.Wrapf(err, "could not flush disk image '%s'", path)
	}
	progress.Increment(1)

	log.Debugf("disk image saved to %s", path)
	return nil
}

// Load reads an image file into a fresh manager. A missing file yields
// ErrNoImage so the caller can choose to format instead.
func Load(path string, log elog.View) (*Manager, error) {

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoImage
		}
		return nil, errors.Wrapf(err, "could not open disk image '%s'", path)
	}
	defer f.Close()

	m := NewManager(log)
	if err = m.Decode(bufio.NewReader(f)); err != nil {
		return nil, err
	}

	log.Debugf("disk image loaded from %s", path)
	return m, nil
}

// Equal reports whether two managers hold bit-identical state. It is used to
// verify the save/load round-trip.
func Equal(a, b *Manager) bool {
	var x, y bytes.Buffer
	if err := a.Encode(&x); err != nil {
		return false
	}
	if err := b.Encode(&y); err != nil {
		return false
	}
	return bytes.Equal(x.Bytes(), y.Bytes())
}
