package disk

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"

	"github.com/vorteil/simfs/pkg/fserr"
)

// Meta-blocks (indirect and double-indirect) hold little-endian uint32 block
// references. References are stored biased by one so that zero always means
// an empty slot, which keeps FileBlockIndices a pure function of the inode
// and the block store.

func (m *Manager) refsPerBlock() int {
	return m.super.BlockSize / 4
}

func (m *Manager) readRefs(blockID int) ([]int, error) {

	data, err := m.ReadBlock(blockID)
	if err != nil {
		return nil, err
	}

	refs := make([]int, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		v := binary.LittleEndian.Uint32(data[i : i+4])
		if v == 0 {
			break
		}
		refs = append(refs, int(v-1))
	}
	return refs, nil
}

func (m *Manager) writeRefs(blockID int, refs []int) error {

	data := make([]byte, m.super.BlockSize)
	for i, ref := range refs {
		binary.LittleEndian.PutUint32(data[i*4:i*4+4], uint32(ref+1))
	}
	return m.WriteBlock(blockID, data)
}

// FileBlockIndices returns the ordered physical block ids reachable through
// the inode's direct, indirect, and double-indirect maps.
func (m *Manager) FileBlockIndices(ino *Inode) ([]int, error) {

	indices := make([]int, 0, ino.BlocksCount)
	indices = append(indices, ino.Direct...)

	if ino.Indirect >= 0 {
		refs, err := m.readRefs(ino.Indirect)
		if err != nil {
			return nil, err
		}
		indices = append(indices, refs...)
	}

	if ino.DoubleIndirect >= 0 {
		inner, err := m.readRefs(ino.DoubleIndirect)
		if err != nil {
			return nil, err
		}
		for _, meta := range inner {
			refs, err := m.readRefs(meta)
			if err != nil {
				return nil, err
			}
			indices = append(indices, refs...)
		}
	}

	return indices, nil
}

// maxFileBlocks is the capacity of the full map at the current block size.
func (m *Manager) maxFileBlocks() int {
	rpb := m.refsPerBlock()
	return MaxDirectBlocks + rpb + rpb*rpb
}

// AllocateFileBlocks grows the inode's block map by n data blocks, consuming
// direct slots first, then the single indirect block, then the double
// indirect tree, allocating meta-blocks lazily. On failure every block
// claimed by this call is released and the inode is untouched, so a caller
// performing a multi-resource mutation can treat it as a single allocation.
func (m *Manager) AllocateFileBlocks(ino *Inode, n int) ([]int, error) {

	if n <= 0 {
		return nil, nil
	}

	saved := struct {
		direct         int
		indirect       int
		doubleIndirect int
		blocksCount    int
	}{len(ino.Direct), ino.Indirect, ino.DoubleIndirect, ino.BlocksCount}

	rpb := m.refsPerBlock()

	var claimed []int
	allocate := func() (int, bool) {
		id, ok := m.AllocateBlock()
		if ok {
			claimed = append(claimed, id)
		}
		return id, ok
	}

	trimRefs := func(meta, tail int) {
		refs, err := m.readRefs(meta)
		if err == nil && tail < len(refs) {
			_ = m.writeRefs(meta, refs[:tail])
		}
	}

	rollback := func() {
		for i := len(claimed) - 1; i >= 0; i-- {
			m.FreeBlock(claimed[i])
		}
		ino.Direct = ino.Direct[:saved.direct]
		ino.Indirect = saved.indirect
		ino.DoubleIndirect = saved.doubleIndirect
		ino.BlocksCount = saved.blocksCount

		// Surviving meta-blocks must not keep references appended by
		// this call.
		if ino.Indirect >= 0 {
			tail := saved.blocksCount - MaxDirectBlocks
			if tail > rpb {
				tail = rpb
			}
			if tail >= 0 {
				trimRefs(ino.Indirect, tail)
			}
		}
		if ino.DoubleIndirect >= 0 {
			keepDouble := saved.blocksCount - MaxDirectBlocks - rpb
			keepInner := (keepDouble + rpb - 1) / rpb
			trimRefs(ino.DoubleIndirect, keepInner)
			if keepInner > 0 {
				inner, err := m.readRefs(ino.DoubleIndirect)
				if err == nil && len(inner) >= keepInner {
					trimRefs(inner[keepInner-1], keepDouble-(keepInner-1)*rpb)
				}
			}
		}
	}

	var added []int

	for i := 0; i < n; i++ {

		idx := ino.BlocksCount
		if idx >= m.maxFileBlocks() {
			rollback()
			return nil, fserr.Errorf(fserr.Limit, "file block map full (%d blocks)", m.maxFileBlocks())
		}

		id, ok := allocate()
		if !ok {
			rollback()
			return nil, fserr.New(fserr.NoSpace, "no free data blocks")
		}

		switch {
		case idx < MaxDirectBlocks:
			ino.Direct = append(ino.Direct, id)

		case idx < MaxDirectBlocks+rpb:
			if ino.Indirect < 0 {
				meta, ok := allocate()
				if !ok {
					rollback()
					return nil, fserr.New(fserr.NoSpace, "no free data blocks for indirect block")
				}
				if err := m.writeRefs(meta, nil); err != nil {
					rollback()
					return nil, err
				}
				ino.Indirect = meta
			}
			refs, err := m.readRefs(ino.Indirect)
			if err != nil {
				rollback()
				return nil, err
			}
			refs = append(refs, id)
			if err = m.writeRefs(ino.Indirect, refs); err != nil {
				rollback()
				return nil, err
			}

		default:
			if ino.DoubleIndirect < 0 {
				meta, ok := allocate()
				if !ok {
					rollback()
					return nil, fserr.New(fserr.NoSpace, "no free data blocks for double indirect block")
				}
				if err := m.writeRefs(meta, nil); err != nil {
					rollback()
					return nil, err
				}
				ino.DoubleIndirect = meta
			}

			slot := (idx - MaxDirectBlocks - rpb) % rpb
			inner, err := m.readRefs(ino.DoubleIndirect)
			if err != nil {
				rollback()
				return nil, err
			}

			if slot == 0 {
				meta, ok := allocate()
				if !ok {
					rollback()
					return nil, fserr.New(fserr.NoSpace, "no free data blocks for indirect block")
				}
				if err = m.writeRefs(meta, nil); err != nil {
					rollback()
					return nil, err
				}
				inner = append(inner, meta)
				if err = m.writeRefs(ino.DoubleIndirect, inner); err != nil {
					rollback()
					return nil, err
				}
			}

			meta := inner[len(inner)-1]
			refs, err := m.readRefs(meta)
			if err != nil {
				rollback()
				return nil, err
			}
			refs = append(refs, id)
			if err = m.writeRefs(meta, refs); err != nil {
				rollback()
				return nil, err
			}
		}

		ino.BlocksCount++
		added = append(added, id)
	}

	return added, nil
}

// FreeFileBlocks releases every data block reachable through the inode's
// map, then the meta-blocks in the inverse of their allocation order, and
// clears the map.
func (m *Manager) FreeFileBlocks(ino *Inode) error {

	indices, err := m.FileBlockIndices(ino)
	if err != nil {
		return err
	}
	for _, id := range indices {
		m.FreeBlock(id)
	}

	if ino.DoubleIndirect >= 0 {
		inner, err := m.readRefs(ino.DoubleIndirect)
		if err != nil {
			return err
		}
		for i := len(inner) - 1; i >= 0; i-- {
			m.FreeBlock(inner[i])
		}
		m.FreeBlock(ino.DoubleIndirect)
	}

	if ino.Indirect >= 0 {
		m.FreeBlock(ino.Indirect)
	}

	ino.Direct = nil
	ino.Indirect = -1
	ino.DoubleIndirect = -1
	ino.BlocksCount = 0
	return nil
}

// TruncateFileBlocks shrinks the inode's map to keep blocks, freeing the
// tail data blocks and any meta-blocks that become empty.
func (m *Manager) TruncateFileBlocks(ino *Inode, keep int) error {

	if keep < 0 {
		return fserr.Errorf(fserr.Internal, "cannot truncate to %d blocks", keep)
	}
	if keep >= ino.BlocksCount {
		return nil
	}
	if keep == 0 {
		return m.FreeFileBlocks(ino)
	}

	indices, err := m.FileBlockIndices(ino)
	if err != nil {
		return err
	}
	for _, id := range indices[keep:] {
		m.FreeBlock(id)
	}

	rpb := m.refsPerBlock()

	if ino.DoubleIndirect >= 0 {
		inner, err := m.readRefs(ino.DoubleIndirect)
		if err != nil {
			return err
		}
		keepDouble := 0
		if keep > MaxDirectBlocks+rpb {
			keepDouble = keep - MaxDirectBlocks - rpb
		}
		keepInner := (keepDouble + rpb - 1) / rpb
		for i := len(inner) - 1; i >= keepInner; i-- {
			m.FreeBlock(inner[i])
		}
		if keepInner == 0 {
			m.FreeBlock(ino.DoubleIndirect)
			ino.DoubleIndirect = -1
		} else {
			if err = m.writeRefs(ino.DoubleIndirect, inner[:keepInner]); err != nil {
				return err
			}
			tail := keepDouble - (keepInner-1)*rpb
			refs, err := m.readRefs(inner[keepInner-1])
			if err != nil {
				return err
			}
			if tail < len(refs) {
				if err = m.writeRefs(inner[keepInner-1], refs[:tail]); err != nil {
					return err
				}
			}
		}
	}

	if ino.Indirect >= 0 {
		if keep <= MaxDirectBlocks {
			m.FreeBlock(ino.Indirect)
			ino.Indirect = -1
		} else {
			tail := keep - MaxDirectBlocks
			refs, err := m.readRefs(ino.Indirect)
			if err != nil {
				return err
			}
			if tail < len(refs) {
				if err = m.writeRefs(ino.Indirect, refs[:tail]); err != nil {
					return err
				}
			}
		}
	}

	if keep < len(ino.Direct) {
		ino.Direct = ino.Direct[:keep]
	}

	ino.BlocksCount = keep
	return nil
}
