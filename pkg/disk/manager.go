package disk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"github.com/google/uuid"

	"github.com/vorteil/simfs/pkg/elog"
	"github.com/vorteil/simfs/pkg/fserr"
)

// Manager owns every piece of on-disk state: the superblock, the inode table,
// the block store, and the two free bitmaps. All other layers reference
// storage through integer ids handed out here; nothing else allocates or
// frees.
type Manager struct {
	log elog.Logger

	super       *Superblock
	inodeBitmap []bool // true = free
	blockBitmap []bool // true = free
	inodes      []*Inode
	blocks      [][]byte

	formatted bool
}

// NewManager returns an unformatted manager. Format must succeed before any
// other operation is meaningful.
func NewManager(log elog.Logger) *Manager {
	return &Manager{log: log}
}

func (m *Manager) initStorage(numInodes, numBlocks, blockSize int) {

	m.super = &Superblock{
		Magic:       Magic,
		TotalBlocks: numBlocks,
		TotalInodes: numInodes,
		BlockSize:   blockSize,
		FreeBlocks:  numBlocks,
		FreeInodes:  numInodes,
		RootInode:   -1,
	}

	m.inodeBitmap = make([]bool, numInodes)
	m.blockBitmap = make([]bool, numBlocks)
	for i := range m.inodeBitmap {
		m.inodeBitmap[i] = true
	}
	for i := range m.blockBitmap {
		m.blockBitmap[i] = true
	}

	m.inodes = make([]*Inode, numInodes)
	m.blocks = make([][]byte, numBlocks)
	for i := range m.blocks {
		m.blocks[i] = make([]byte, blockSize)
	}

	m.formatted = false
}

// Format reinitialises all storage and creates the root directory. Formatting
// an already-formatted manager discards everything and yields a fresh state.
func (m *Manager) Format(numInodes, numBlocks, blockSize int) error {

	if numInodes <= 0 || numBlocks <= 0 || blockSize <= 0 {
		return fserr.Errorf(fserr.InvalidArgument,
			"invalid geometry: %d inodes, %d blocks, %dB block size", numInodes, numBlocks, blockSize)
	}

	m.log.Debugf("formatting disk: %d inodes, %d blocks, %dB block size", numInodes, numBlocks, blockSize)
	m.initStorage(numInodes, numBlocks, blockSize)

	rootID, ok := m.AllocateInode()
	if !ok {
		return fserr.New(fserr.NoSpace, "could not allocate inode for root directory")
	}

	root := NewInode(rootID, TypeDirectory, RootUID, DefaultDirPerm)
	root.LinkCount = 2 // "." plus the parent back-reference, which for root is itself

	blockID, ok := m.AllocateBlock()
	if !ok {
		m.FreeInode(rootID)
		return fserr.New(fserr.NoSpace, "could not allocate data block for root directory")
	}

	payload, err := EncodeEntries([]DirectoryEntry{
		{Name: ".", Inode: rootID},
		{Name: "..", Inode: rootID},
	}, blockSize)
	if err != nil {
		m.FreeBlock(blockID)
		m.FreeInode(rootID)
		return err
	}

	if err = m.WriteBlock(blockID, payload); err != nil {
		m.FreeBlock(blockID)
		m.FreeInode(rootID)
		return err
	}

	root.Direct = append(root.Direct, blockID)
	root.BlocksCount = 1
	root.Size = 2
	m.inodes[rootID] = root

	m.super.RootInode = rootID
	m.super.UUID = uuid.New()
	m.formatted = true

	m.log.Debugf("disk formatted, root inode %d", rootID)
	return nil
}

// AllocateInode claims the lowest free inode slot. The caller is responsible
// for constructing the Inode and storing it with SetInode. A false return
// means the table is exhausted.
func (m *Manager) AllocateInode() (int, bool) {
	if m.super == nil || m.super.FreeInodes == 0 {
		return 0, false
	}
	for id, free := range m.inodeBitmap {
		if free {
			m.inodeBitmap[id] = false
			m.super.FreeInodes--
			return id, true
		}
	}
	return 0, false
}

// FreeInode releases an inode slot and clears the table entry. Freeing an
// already-free inode is logged as a warning rather than treated as fatal.
func (m *Manager) FreeInode(id int) {
	if m.super == nil || id < 0 || id >= m.super.TotalInodes {
		m.log.Errorf("invalid inode id %d to free", id)
		return
	}
	if !m.inodeBitmap[id] {
		m.inodeBitmap[id] = true
		m.super.FreeInodes++
		m.inodes[id] = nil
	} else {
		m.log.Warnf("inode %d was already free", id)
	}
}

// AllocateBlock claims the lowest free data block.
func (m *Manager) AllocateBlock() (int, bool) {
	if m.super == nil || m.super.FreeBlocks == 0 {
		return 0, false
	}
	for id, free := range m.blockBitmap {
		if free {
			m.blockBitmap[id] = false
			m.super.FreeBlocks--
			return id, true
		}
	}
	return 0, false
}

// FreeBlock releases a data block.
func (m *Manager) FreeBlock(id int) {
	if m.super == nil || id < 0 || id >= m.super.TotalBlocks {
		m.log.Errorf("invalid block id %d to free", id)
		return
	}
	if !m.blockBitmap[id] {
		m.blockBitmap[id] = true
		m.super.FreeBlocks++
	} else {
		m.log.Warnf("data block %d was already free", id)
	}
}

// ReadBlock returns a copy of the block's contents, always exactly one block
// in length.
func (m *Manager) ReadBlock(id int) ([]byte, error) {
	if m.super == nil || id < 0 || id >= m.super.TotalBlocks {
		return nil, fserr.Errorf(fserr.Internal, "block id %d out of bounds", id)
	}
	data := make([]byte, m.super.BlockSize)
	copy(data, m.blocks[id])
	return data, nil
}

// WriteBlock stores data into a block, zero-padding short writes out to the
// block size. Writes larger than a block are a programmer error.
func (m *Manager) WriteBlock(id int, data []byte) error {
	if m.super == nil || id < 0 || id >= m.super.TotalBlocks {
		return fserr.Errorf(fserr.Internal, "block id %d out of bounds", id)
	}
	if len(data) > m.super.BlockSize {
		return fserr.Errorf(fserr.Internal, "write of %d bytes exceeds block size %d", len(data), m.super.BlockSize)
	}
	block := make([]byte, m.super.BlockSize)
	copy(block, data)
	m.blocks[id] = block
	return nil
}

// Inode returns the inode stored at id, or nil if the slot is empty or the id
// is out of range.
func (m *Manager) Inode(id int) *Inode {
	if !m.formatted || m.super == nil || id < 0 || id >= m.super.TotalInodes {
		return nil
	}
	return m.inodes[id]
}

// SetInode stores an inode into its table slot.
func (m *Manager) SetInode(id int, ino *Inode) error {
	if m.super == nil || id < 0 || id >= m.super.TotalInodes {
		return fserr.Errorf(fserr.Internal, "inode id %d out of bounds", id)
	}
	m.inodes[id] = ino
	return nil
}

// Superblock returns the current superblock, or nil before format.
func (m *Manager) Superblock() *Superblock {
	return m.super
}

// IsFormatted reports whether Format has completed successfully.
func (m *Manager) IsFormatted() bool {
	return m.formatted
}

// InodeIsFree reports the bitmap state for an inode slot.
func (m *Manager) InodeIsFree(id int) bool {
	return m.super != nil && id >= 0 && id < m.super.TotalInodes && m.inodeBitmap[id]
}

// BlockIsFree reports the bitmap state for a data block.
func (m *Manager) BlockIsFree(id int) bool {
	return m.super != nil && id >= 0 && id < m.super.TotalBlocks && m.blockBitmap[id]
}
