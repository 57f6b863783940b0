package fserr

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the filesystem core can report. Operations
// return these rather than raising so that callers (shell, GUI) can map them
// onto their own reporting without string matching.
type Kind int

const (
	// Unknown is the zero Kind. It is never returned deliberately.
	Unknown Kind = iota

	// InvalidArgument covers bad names, unknown open modes, out-of-range
	// permission bits, negative read lengths, and similar caller mistakes.
	InvalidArgument

	// NotFound covers missing paths, inodes, file descriptors and users.
	NotFound

	// AlreadyExists covers sibling name collisions, duplicate usernames,
	// and re-applying an encrypt/compress transform.
	AlreadyExists

	// WrongType is returned when an operation is applied to the wrong kind
	// of inode: rm on a directory, rmdir on a file, hard-link to a
	// directory.
	WrongType

	// PermissionDenied is returned when the rwx check fails.
	PermissionDenied

	// NoSpace is returned when the inode bitmap or the data block bitmap
	// is exhausted.
	NoSpace

	// Corrupt covers dangling directory entries, bitmap/table
	// disagreement, and unreadable disk images.
	Corrupt

	// Limit covers exceeded design bounds: symlink depth, directory
	// payload larger than one block, over-long filenames.
	Limit

	// Internal flags a programmer bug, such as an out-of-bounds block id
	// or a non-contiguous logical write.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid argument"
	case NotFound:
		return "not found"
	case AlreadyExists:
		return "already exists"
	case WrongType:
		return "wrong type"
	case PermissionDenied:
		return "permission denied"
	case NoSpace:
		return "no space"
	case Corrupt:
		return "corrupt"
	case Limit:
		return "limit exceeded"
	case Internal:
		return "internal error"
	}
	return "unknown"
}

// Error carries a Kind alongside a human-readable message suitable for
// surfacing directly in a UI.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error of the given kind with a fixed message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Errorf returns an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, x ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, x...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error, or Unknown if the error was not
// produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether the error carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
