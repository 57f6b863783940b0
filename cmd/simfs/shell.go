/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/sisatech/tablewriter"

	"github.com/vorteil/simfs/pkg/disk"
	"github.com/vorteil/simfs/pkg/fs"
	"github.com/vorteil/simfs/pkg/fserr"
	"github.com/vorteil/simfs/pkg/perm"
)

// repl runs the interactive dev shell. It is a thin veneer over the core
// API; nothing here mutates state except through the fs, perm, auth and
// disk packages.
func (sys *System) repl(in io.Reader, out io.Writer) error {

	fmt.Fprintf(out, "simfs %s interactive shell. Type 'help' for commands.\n", release)

	parser := shellwords.NewParser()
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(out, sys.prompt())

		if !scanner.Scan() {
			return scanner.Err()
		}

		args, err := parser.Parse(scanner.Text())
		if err != nil {
			log.Errorf("parse error: %v", err)
			continue
		}
		if len(args) == 0 {
			continue
		}

		if args[0] == "exit" || args[0] == "quit" {
			return nil
		}

		if err = sys.dispatch(out, args); err != nil {
			log.Errorf("%v", err)
		}
	}
}

func (sys *System) prompt() string {

	sess := sys.auth.Session()
	if sess == nil {
		return "simfs> "
	}

	path, err := sys.fs.PathOf(sess.CWD())
	if err != nil {
		path = "?"
	}
	return fmt.Sprintf("%s@simfs:%s$ ", sess.User().Username, path)
}

func (sys *System) dispatch(out io.Writer, args []string) error {

	cmd := args[0]
	args = args[1:]

	switch cmd {
	case "help":
		return sys.cmdHelp(out)
	case "login":
		return sys.cmdLogin(args)
	case "logout":
		return sys.auth.Logout()
	case "useradd":
		return sys.cmdUseradd(args)
	case "format":
		return sys.dm.Format(geometry())
	case "save":
		return sys.save()
	case "load":
		return sys.load()
	}

	sess := sys.auth.Session()
	if sess == nil {
		return fserr.New(fserr.PermissionDenied, "not logged in (try: login root root)")
	}

	switch cmd {
	case "ls":
		return sys.cmdLs(out, args)
	case "cd":
		return sys.cmdCd(args)
	case "pwd":
		path, err := sys.fs.PathOf(sess.CWD())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
		return nil
	case "mkdir":
		return sys.withParent(args, 1, func(parent int, name string) error {
			_, err := sys.fs.Mkdir(sess.UID(), sess.GID(), parent, name)
			return err
		})
	case "rmdir":
		return sys.withParent(args, 1, func(parent int, name string) error {
			return sys.fs.Rmdir(sess.UID(), sess.GID(), parent, name)
		})
	case "touch":
		return sys.withParent(args, 1, func(parent int, name string) error {
			_, err := sys.fs.CreateFile(sess.UID(), sess.GID(), parent, name)
			return err
		})
	case "rm":
		if len(args) > 0 && args[0] == "-r" {
			return sys.withParent(args[1:], 1, func(parent int, name string) error {
				return sys.fs.RemoveAll(sess.UID(), sess.GID(), parent, name)
			})
		}
		return sys.withParent(args, 1, func(parent int, name string) error {
			return sys.fs.DeleteFile(sess.UID(), sess.GID(), parent, name)
		})
	case "mv":
		if len(args) != 2 {
			return usage("mv <path> <new-name>")
		}
		return sys.withParent(args[:1], 1, func(parent int, name string) error {
			return sys.fs.Rename(sess.UID(), sess.GID(), parent, name, args[1])
		})
	case "ln":
		return sys.cmdLn(args)
	case "open":
		return sys.cmdOpen(out, args)
	case "close":
		fd, err := fdArg(args)
		if err != nil {
			return err
		}
		return sys.fs.Close(sess, fd)
	case "read":
		return sys.cmdRead(out, args)
	case "write":
		return sys.cmdWrite(out, args)
	case "cat":
		return sys.cmdCat(out, args)
	case "fds", "oft":
		return sys.cmdFds(out)
	case "stat":
		return sys.cmdStat(out, args)
	case "chmod":
		return sys.cmdChmod(args)
	case "chown":
		return sys.cmdChown(args)
	case "chgrp":
		return sys.cmdChgrp(args)
	case "encrypt":
		return sys.cmdTransform(args, "encrypt")
	case "decrypt":
		return sys.cmdTransform(args, "decrypt")
	case "compress":
		return sys.cmdTransform(args, "compress")
	case "decompress":
		return sys.cmdTransform(args, "decompress")
	}

	return fserr.Errorf(fserr.InvalidArgument, "unknown command '%s' (try 'help')", cmd)
}

func usage(s string) error {
	return fserr.Errorf(fserr.InvalidArgument, "usage: %s", s)
}

func fdArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, usage("<fd> ...")
	}
	fd, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fserr.Errorf(fserr.InvalidArgument, "invalid file descriptor '%s'", args[0])
	}
	return fd, nil
}

// withParent resolves the parent directory of a path argument and hands the
// final component to fn.
func (sys *System) withParent(args []string, n int, fn func(parent int, name string) error) error {
	if len(args) != n {
		return usage("<path>")
	}
	parent, base, err := sys.fs.ResolveParent(sys.auth.Session().CWD(), args[0])
	if err != nil {
		return err
	}
	return fn(parent, base)
}

func (sys *System) cmdHelp(out io.Writer) error {
	fmt.Fprint(out, `commands:
  login <user> <password>      logout
  useradd <name> <password> [gid]
  mkdir <path>    rmdir <path>    rm [-r] <path>    mv <path> <new-name>
  ls [path]       cd <path>       pwd               stat <path>
  touch <path>    cat <path>      ln [-s] <target> <link>
  open <path> <r|w|a|r+>   close <fd>   read <fd> <n>   write <fd> <text>
  fds             chmod <mode> <path>   chown <uid> [gid] <path>   chgrp <gid> <path>
  encrypt <path> <password>    decrypt <path> <password>
  compress <path> [level]      decompress <path>
  format          save            load              exit
`)
	return nil
}

func (sys *System) cmdLogin(args []string) error {
	if len(args) != 2 {
		return usage("login <user> <password>")
	}
	_, err := sys.auth.Login(args[0], args[1], sys.dm.Superblock().RootInode)
	return err
}

func (sys *System) cmdUseradd(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usage("useradd <name> <password> [gid]")
	}
	gid := 0
	if len(args) == 3 {
		v, err := strconv.Atoi(args[2])
		if err != nil {
			return fserr.Errorf(fserr.InvalidArgument, "invalid gid '%s'", args[2])
		}
		gid = v
	}
	user, err := sys.auth.CreateUser(args[0], args[1], gid, false)
	if err != nil {
		return err
	}
	log.Printf("user '%s' created with uid %d", user.Username, user.UID)
	return nil
}

func (sys *System) cmdLs(out io.Writer, args []string) error {

	sess := sys.auth.Session()

	target := sess.CWD()
	if len(args) == 1 {
		id, err := sys.fs.ResolveFollow(sess.CWD(), args[0])
		if err != nil {
			return err
		}
		target = id
	}

	details, err := sys.fs.List(target)
	if err != nil {
		return err
	}

	sort.Slice(details, func(i, j int) bool {
		return details[i].Name < details[j].Name
	})

	table := tablewriter.NewWriter(out)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetColumnSeparator("")

	for _, d := range details {
		t := "-"
		switch d.Type {
		case disk.TypeDirectory:
			t = "d"
		case disk.TypeSymlink:
			t = "l"
		}
		table.Append([]string{
			t + perm.String(d.Permissions),
			strconv.Itoa(d.LinkCount),
			strconv.Itoa(d.OwnerUID),
			strconv.FormatInt(d.Size, 10),
			time.Unix(d.Mtime, 0).Format("Jan _2 15:04"),
			d.Name,
		})
	}

	table.Render()
	return nil
}

func (sys *System) cmdCd(args []string) error {
	if len(args) != 1 {
		return usage("cd <path>")
	}
	sess := sys.auth.Session()
	id, err := sys.fs.ChangeDirectory(sess.UID(), sess.GID(), sess.CWD(), args[0])
	if err != nil {
		return err
	}
	sess.SetCWD(id)
	return nil
}

func (sys *System) cmdLn(args []string) error {

	sess := sys.auth.Session()

	symbolic := false
	if len(args) > 0 && args[0] == "-s" {
		symbolic = true
		args = args[1:]
	}
	if len(args) != 2 {
		return usage("ln [-s] <target> <link>")
	}

	parent, base, err := sys.fs.ResolveParent(sess.CWD(), args[1])
	if err != nil {
		return err
	}

	if symbolic {
		_, err = sys.fs.CreateSymbolicLink(sess.UID(), sess.GID(), parent, base, args[0])
		return err
	}

	targetID, err := sys.fs.ResolveFollow(sess.CWD(), args[0])
	if err != nil {
		return err
	}
	return sys.fs.CreateHardLink(sess.UID(), sess.GID(), parent, base, targetID)
}

func (sys *System) cmdOpen(out io.Writer, args []string) error {
	if len(args) != 2 {
		return usage("open <path> <r|w|a|r+>")
	}
	fd, err := sys.fs.Open(sys.auth.Session(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "fd %d\n", fd)
	return nil
}

func (sys *System) cmdRead(out io.Writer, args []string) error {
	if len(args) != 2 {
		return usage("read <fd> <n>")
	}
	fd, err := fdArg(args)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return fserr.Errorf(fserr.InvalidArgument, "invalid length '%s'", args[1])
	}
	data, err := sys.fs.Read(sys.auth.Session(), fd, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", string(data))
	return nil
}

func (sys *System) cmdWrite(out io.Writer, args []string) error {
	if len(args) < 2 {
		return usage("write <fd> <text>")
	}
	fd, err := fdArg(args)
	if err != nil {
		return err
	}
	n, err := sys.fs.Write(sys.auth.Session(), fd, []byte(strings.Join(args[1:], " ")))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d bytes written\n", n)
	return nil
}

func (sys *System) cmdCat(out io.Writer, args []string) error {

	if len(args) != 1 {
		return usage("cat <path>")
	}

	sess := sys.auth.Session()
	fd, err := sys.fs.Open(sess, args[0], "r")
	if err != nil {
		return err
	}
	defer sys.fs.Close(sess, fd)

	for {
		data, err := sys.fs.Read(sess, fd, 4096)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			break
		}
		fmt.Fprint(out, string(data))
	}
	fmt.Fprintln(out)
	return nil
}

func (sys *System) cmdFds(out io.Writer) error {

	sess := sys.auth.Session()
	fds := sess.FDs()
	sort.Ints(fds)

	for _, fd := range fds {
		entry := sess.File(fd)
		fmt.Fprintf(out, "fd %d: inode %d mode %s offset %d size %d\n",
			fd, entry.InodeID, entry.Mode, entry.Offset, entry.Inode.Size)
	}
	return nil
}

func (sys *System) cmdStat(out io.Writer, args []string) error {

	if len(args) != 1 {
		return usage("stat <path>")
	}

	ino, err := sys.fs.Stat(sys.auth.Session().CWD(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "inode %d: %s %s uid %d gid %d size %d blocks %d links %d\n",
		ino.ID, ino.Type, perm.String(ino.Permissions), ino.OwnerUID, ino.GroupID,
		ino.Size, ino.BlocksCount, ino.LinkCount)
	fmt.Fprintf(out, "atime %s mtime %s ctime %s\n",
		time.Unix(ino.Atime, 0).Format(time.RFC3339),
		time.Unix(ino.Mtime, 0).Format(time.RFC3339),
		time.Unix(ino.Ctime, 0).Format(time.RFC3339))
	if ino.Encrypted {
		fmt.Fprintln(out, "encrypted")
	}
	if ino.Compressed {
		fmt.Fprintf(out, "compressed (level %d)\n", ino.CompressionLevel)
	}
	return nil
}

func (sys *System) cmdChmod(args []string) error {
	if len(args) != 2 {
		return usage("chmod <mode> <path>")
	}
	mode, err := perm.Parse(args[0])
	if err != nil {
		return err
	}
	sess := sys.auth.Session()
	id, err := sys.fs.ResolveFollow(sess.CWD(), args[1])
	if err != nil {
		return err
	}
	return perm.Chmod(sys.dm, sess.UID(), id, mode)
}

func (sys *System) cmdChown(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return usage("chown <uid> [gid] <path>")
	}
	uid, err := strconv.Atoi(args[0])
	if err != nil {
		return fserr.Errorf(fserr.InvalidArgument, "invalid uid '%s'", args[0])
	}
	gid := -1
	path := args[1]
	if len(args) == 3 {
		gid, err = strconv.Atoi(args[1])
		if err != nil {
			return fserr.Errorf(fserr.InvalidArgument, "invalid gid '%s'", args[1])
		}
		path = args[2]
	}
	sess := sys.auth.Session()
	id, err := sys.fs.ResolveFollow(sess.CWD(), path)
	if err != nil {
		return err
	}
	return perm.Chown(sys.dm, sess.UID(), id, uid, gid)
}

func (sys *System) cmdChgrp(args []string) error {
	if len(args) != 2 {
		return usage("chgrp <gid> <path>")
	}
	gid, err := strconv.Atoi(args[0])
	if err != nil {
		return fserr.Errorf(fserr.InvalidArgument, "invalid gid '%s'", args[0])
	}
	sess := sys.auth.Session()
	id, err := sys.fs.ResolveFollow(sess.CWD(), args[1])
	if err != nil {
		return err
	}
	return perm.Chgrp(sys.dm, sess.UID(), id, gid)
}

func (sys *System) cmdTransform(args []string, op string) error {

	sess := sys.auth.Session()

	var path string
	switch op {
	case "encrypt", "decrypt":
		if len(args) != 2 {
			return usage(op + " <path> <password>")
		}
		path = args[0]
	case "compress":
		if len(args) < 1 || len(args) > 2 {
			return usage("compress <path> [level]")
		}
		path = args[0]
	default:
		if len(args) != 1 {
			return usage("decompress <path>")
		}
		path = args[0]
	}

	id, err := sys.fs.ResolveFollow(sess.CWD(), path)
	if err != nil {
		return err
	}

	switch op {
	case "encrypt":
		return sys.fs.Encrypt(sess.UID(), id, args[1])
	case "decrypt":
		return sys.fs.Decrypt(sess.UID(), id, args[1])
	case "compress":
		level := 6
		if len(args) == 2 {
			level, err = strconv.Atoi(args[1])
			if err != nil {
				return fserr.Errorf(fserr.InvalidArgument, "invalid level '%s'", args[1])
			}
		}
		return sys.fs.Compress(sess.UID(), id, level)
	default:
		return sys.fs.Decompress(sess.UID(), id)
	}
}

func (sys *System) save() error {
	if err := os.MkdirAll(filepath.Dir(sys.image), 0755); err != nil {
		return err
	}
	return disk.Save(sys.dm, sys.image, log)
}

func (sys *System) load() error {

	dm, err := disk.Load(sys.image, log)
	if err != nil {
		return err
	}

	if sys.auth.Session() != nil {
		_ = sys.auth.Logout()
	}

	sys.dm = dm
	sys.fs = fs.New(dm, log)
	return nil
}
