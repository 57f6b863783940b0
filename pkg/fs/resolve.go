package fs

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"strings"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fserr"
)

// SymlinkMaxDepth bounds the number of symbolic link expansions a single
// path walk may perform. Exceeding it fails the walk; this is the loop
// guard.
const SymlinkMaxDepth = 40

// Resolve walks a path from cwd (or from the root, for absolute paths) and
// returns the inode id it lands on. Symbolic links encountered before the
// final component are followed; a symlink as the final component is returned
// as itself, so callers wanting follow-through semantics re-resolve.
func (f *FS) Resolve(cwd int, path string) (int, error) {
	return f.resolve(cwd, path, 0, false)
}

// ResolveFollow resolves a path with follow-through semantics: a symlink as
// the final component is expanded too, under the same depth bound.
func (f *FS) ResolveFollow(cwd int, path string) (int, error) {
	return f.resolve(cwd, path, 0, true)
}

func (f *FS) resolve(cwd int, path string, depth int, follow bool) (int, error) {

	if depth > SymlinkMaxDepth {
		return -1, fserr.Errorf(fserr.Limit, "too many levels of symbolic links (max %d)", SymlinkMaxDepth)
	}

	root := f.dm.Superblock().RootInode

	current := cwd
	if strings.HasPrefix(path, "/") {
		current = root
	}

	components := splitPath(path)

	for i, component := range components {

		if _, err := f.directory(current); err != nil {
			return -1, err
		}

		if component == "." {
			continue
		}

		entries, err := f.ReadEntries(current)
		if err != nil {
			return -1, err
		}

		idx := findEntry(entries, component)
		if idx < 0 {
			return -1, fserr.Errorf(fserr.NotFound, "'%s' not found", component)
		}

		target := entries[idx].Inode
		ino := f.dm.Inode(target)
		if ino == nil {
			return -1, fserr.Errorf(fserr.Corrupt, "entry '%s' references missing inode %d", component, target)
		}

		last := i == len(components)-1

		if ino.Type == disk.TypeSymlink && (!last || follow) {
			linkTarget, err := f.ReadLink(target)
			if err != nil {
				return -1, err
			}
			if linkTarget == "" {
				return -1, fserr.New(fserr.NotFound, "symbolic link has no target")
			}
			rest := strings.Join(components[i+1:], "/")
			if rest != "" {
				linkTarget += "/" + rest
			}
			// Relative targets resolve from the directory holding
			// the link.
			return f.resolve(current, linkTarget, depth+1, follow)
		}

		current = target
	}

	return current, nil
}

// ResolveParent splits a path into its final component and the directory
// containing it, resolving the latter. It is the lookup used when creating
// something at a path.
func (f *FS) ResolveParent(cwd int, path string) (int, string, error) {

	components := splitPath(path)
	if len(components) == 0 {
		return -1, "", fserr.Errorf(fserr.InvalidArgument, "path '%s' has no final component", path)
	}

	base := components[len(components)-1]

	parentPath := strings.Join(components[:len(components)-1], "/")
	if strings.HasPrefix(path, "/") {
		parentPath = "/" + parentPath
	}
	if parentPath == "" {
		parentPath = "."
	}

	parent, err := f.Resolve(cwd, parentPath)
	if err != nil {
		return -1, "", err
	}

	return parent, base, nil
}

// PathOf reconstructs the absolute path of a directory inode by walking ".."
// entries up to the root. The walk is bounded by the inode count to survive
// a corrupted parent chain.
func (f *FS) PathOf(inodeID int) (string, error) {

	root := f.dm.Superblock().RootInode
	if inodeID == root {
		return "/", nil
	}

	var segments []string
	current := inodeID

	for steps := 0; current != root; steps++ {
		if steps >= f.dm.Superblock().TotalInodes {
			return "", fserr.New(fserr.Corrupt, "parent chain does not terminate at the root")
		}

		entries, err := f.ReadEntries(current)
		if err != nil {
			return "", err
		}
		idx := findEntry(entries, "..")
		if idx < 0 {
			return "", fserr.Errorf(fserr.Corrupt, "directory inode %d has no '..' entry", current)
		}
		parent := entries[idx].Inode

		parentEntries, err := f.ReadEntries(parent)
		if err != nil {
			return "", err
		}
		name := ""
		for _, entry := range parentEntries {
			if entry.Inode == current && entry.Name != "." && entry.Name != ".." {
				name = entry.Name
				break
			}
		}
		if name == "" {
			return "", fserr.Errorf(fserr.Corrupt, "inode %d not present in its parent (inode %d)", current, parent)
		}

		segments = append([]string{name}, segments...)
		current = parent
	}

	return "/" + strings.Join(segments, "/"), nil
}

func splitPath(path string) []string {
	var components []string
	for _, component := range strings.Split(path, "/") {
		if component != "" {
			components = append(components, component)
		}
	}
	return components
}
