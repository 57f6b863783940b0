package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"io/ioutil"

	"github.com/klauspost/compress/flate"
	"github.com/thanhpk/randstr"
	"golang.org/x/crypto/pbkdf2"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
)

// Key derivation parameters for the encrypt transform. The salt is stored as
// a prefix of the ciphertext so the password alone is enough to decrypt.
const (
	kdfIterations = 4096
	kdfSaltLen    = 16
	kdfKeyLen     = 32
)

func (f *FS) transformTarget(uid, inodeID int) (*disk.Inode, error) {

	ino := f.dm.Inode(inodeID)
	if ino == nil {
		return nil, fserr.Errorf(fserr.NotFound, "inode %d not found", inodeID)
	}
	if ino.Type != disk.TypeFile {
		return nil, fserr.Errorf(fserr.WrongType, "inode %d is not a regular file", inodeID)
	}
	if uid != disk.RootUID && uid != ino.OwnerUID {
		return nil, fserr.New(fserr.PermissionDenied, "only the owner or root may transform a file")
	}
	return ino, nil
}

// readAll returns the file's full contents.
func (f *FS) readAll(ino *disk.Inode) ([]byte, error) {

	indices, err := f.dm.FileBlockIndices(ino)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, ino.Size)
	for _, id := range indices {
		data, err := f.dm.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}

	if int64(len(out)) > ino.Size {
		out = out[:ino.Size]
	}

	return out, nil
}

// rewriteAll replaces the file's contents wholesale. If the replacement
// cannot be allocated the original contents are restored, so the transform
// either applies completely or not at all.
func (f *FS) rewriteAll(ino *disk.Inode, content []byte) error {

	original, err := f.readAll(ino)
	if err != nil {
		return err
	}

	if err = f.dm.FreeFileBlocks(ino); err != nil {
		return err
	}

	write := func(data []byte) error {
		blockSize := f.dm.Superblock().BlockSize
		needed := (len(data) + blockSize - 1) / blockSize
		indices, err := f.dm.AllocateFileBlocks(ino, needed)
		if err != nil {
			return err
		}
		for i, id := range indices {
			lo := i * blockSize
			hi := lo + blockSize
			if hi > len(data) {
				hi = len(data)
			}
			if werr := f.dm.WriteBlock(id, data[lo:hi]); werr != nil {
				return werr
			}
		}
		ino.Size = int64(len(data))
		return nil
	}

	if err = write(content); err != nil {
		// Restoring the original must succeed: its blocks were just
		// returned to the bitmap.
		if rerr := write(original); rerr != nil {
			return fserr.Wrap(fserr.Internal, rerr, "could not restore file after failed rewrite")
		}
		return err
	}

	ino.Touch()
	return nil
}

// Encrypt replaces the file's contents with an AES-256-GCM sealing under a
// key derived from the password via salted PBKDF2. Only the owner or uid 0
// may encrypt, and a file cannot be encrypted twice.
func (f *FS) Encrypt(uid, inodeID int, password string) error {

	ino, err := f.transformTarget(uid, inodeID)
	if err != nil {
		return err
	}
	if ino.Encrypted {
		return fserr.Errorf(fserr.AlreadyExists, "inode %d is already encrypted", inodeID)
	}

	plaintext, err := f.readAll(ino)
	if err != nil {
		return err
	}

	salt := randstr.Bytes(kdfSaltLen)
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fserr.Wrap(fserr.Internal, err, "could not initialise cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fserr.Wrap(fserr.Internal, err, "could not initialise cipher")
	}

	nonce := randstr.Bytes(gcm.NonceSize())
	sealed := gcm.Seal(nil, nonce, plaintext, nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)

	if err = f.rewriteAll(ino, payload); err != nil {
		return err
	}

	ino.Encrypted = true
	return nil
}

// Decrypt reverses Encrypt, restoring the original contents and clearing
// the flag. A wrong password fails authentication and leaves the file
// untouched.
func (f *FS) Decrypt(uid, inodeID int, password string) error {

	ino, err := f.transformTarget(uid, inodeID)
	if err != nil {
		return err
	}
	if !ino.Encrypted {
		return fserr.Errorf(fserr.InvalidArgument, "inode %d is not encrypted", inodeID)
	}

	payload, err := f.readAll(ino)
	if err != nil {
		return err
	}

	if len(payload) < kdfSaltLen {
		return fserr.Errorf(fserr.Corrupt, "encrypted payload too short on inode %d", inodeID)
	}

	salt := payload[:kdfSaltLen]
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fserr.Wrap(fserr.Internal, err, "could not initialise cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fserr.Wrap(fserr.Internal, err, "could not initialise cipher")
	}

	if len(payload) < kdfSaltLen+gcm.NonceSize() {
		return fserr.Errorf(fserr.Corrupt, "encrypted payload too short on inode %d", inodeID)
	}
	nonce := payload[kdfSaltLen : kdfSaltLen+gcm.NonceSize()]
	sealed := payload[kdfSaltLen+gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return fserr.New(fserr.PermissionDenied, "decryption failed: wrong password or corrupt data")
	}

	if err = f.rewriteAll(ino, plaintext); err != nil {
		return err
	}

	ino.Encrypted = false
	return nil
}

// Compress deflates the file's contents in place at the given level (1-9)
// and sets the compressed flag.
func (f *FS) Compress(uid, inodeID, level int) error {

	ino, err := f.transformTarget(uid, inodeID)
	if err != nil {
		return err
	}
	if ino.Compressed {
		return fserr.Errorf(fserr.AlreadyExists, "inode %d is already compressed", inodeID)
	}
	if level < flate.BestSpeed || level > flate.BestCompression {
		return fserr.Errorf(fserr.InvalidArgument, "compression level %d out of range (1-9)", level)
	}

	plaintext, err := f.readAll(ino)
	if err != nil {
		return err
	}

	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return fserr.Wrap(fserr.Internal, err, "could not initialise compressor")
	}
	if _, err = w.Write(plaintext); err != nil {
		return fserr.Wrap(fserr.Internal, err, "compression failed")
	}
	if err = w.Close(); err != nil {
		return fserr.Wrap(fserr.Internal, err, "compression failed")
	}

	if err = f.rewriteAll(ino, buf.Bytes()); err != nil {
		return err
	}

	ino.Compressed = true
	ino.CompressionLevel = level
	return nil
}

// Decompress inflates the file's contents in place and clears the flag.
func (f *FS) Decompress(uid, inodeID int) error {

	ino, err := f.transformTarget(uid, inodeID)
	if err != nil {
		return err
	}
	if !ino.Compressed {
		return fserr.Errorf(fserr.InvalidArgument, "inode %d is not compressed", inodeID)
	}

	payload, err := f.readAll(ino)
	if err != nil {
		return err
	}

	r := flate.NewReader(bytes.NewReader(payload))
	plaintext, err := ioutil.ReadAll(r)
	if err != nil {
		return fserr.Wrap(fserr.Corrupt, err, "decompression failed")
	}
	_ = r.Close()

	if err = f.rewriteAll(ino, plaintext); err != nil {
		return err
	}

	ino.Compressed = false
	ino.CompressionLevel = 0
	return nil
}
